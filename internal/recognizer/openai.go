package recognizer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/skypro1111/greenvoice-service/internal/audio"
	"github.com/skypro1111/greenvoice-service/internal/metrics"
)

// OpenAIConfig configures the OpenAI-compatible backend
type OpenAIConfig struct {
	APIKey   string
	BaseURL  string
	Model    string
	Language string
	Timeout  time.Duration
}

// OpenAI transcribes through the /audio/transcriptions endpoint of an
// OpenAI-compatible server.
type OpenAI struct {
	client    *openai.Client
	model     string
	language  string
	logger    *slog.Logger
	metrics   *metrics.Metrics
	reachable atomic.Bool
}

// NewOpenAI creates the OpenAI-compatible backend
func NewOpenAI(cfg OpenAIConfig, logger *slog.Logger, m *metrics.Metrics) (*OpenAI, error) {
	if cfg.APIKey == "" && cfg.BaseURL == "" {
		return nil, fmt.Errorf("either an API key or a base URL is required")
	}

	if cfg.Model == "" {
		cfg.Model = openai.Whisper1
	}

	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}

	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}
	clientConfig.HTTPClient = &http.Client{Timeout: cfg.Timeout}

	o := &OpenAI{
		client:   openai.NewClientWithConfig(clientConfig),
		model:    cfg.Model,
		language: cfg.Language,
		logger:   logger,
		metrics:  m,
	}
	o.reachable.Store(true)
	return o, nil
}

// Loaded reports whether the server answered the last request
func (o *OpenAI) Loaded() bool {
	return o.reachable.Load()
}

// Transcribe implements Transcriber
func (o *OpenAI) Transcribe(ctx context.Context, in audio.Processed) (string, error) {
	wav, err := encodeRequestAudio(in)
	if err != nil {
		return "", err
	}

	start := time.Now()
	o.metrics.RecordRecognitionRequest()

	resp, err := o.client.CreateTranscription(ctx, openai.AudioRequest{
		Model:    o.model,
		FilePath: "audio.wav",
		Reader:   bytes.NewReader(wav),
		Language: o.language,
		Format:   openai.AudioResponseFormatJSON,
	})
	if err != nil {
		o.metrics.RecordRecognitionFailure(time.Since(start).Seconds())

		var apiErr *openai.APIError
		var reqErr *openai.RequestError
		if errors.As(err, &apiErr) || errors.As(err, &reqErr) {
			o.reachable.Store(true)
		} else if ctx.Err() == nil {
			o.reachable.Store(false)
		}

		o.logger.Warn("OpenAI transcription failed",
			slog.String("model", o.model),
			slog.String("error", err.Error()),
		)
		return "", classify("recognizer.openai", err)
	}

	o.reachable.Store(true)
	o.metrics.RecordRecognitionSuccess(time.Since(start).Seconds())
	o.logger.Debug("OpenAI transcription received",
		slog.String("model", o.model),
		slog.Int("text_length", len(resp.Text)),
		slog.Duration("duration", time.Since(start)),
	)

	return strings.TrimSpace(resp.Text), nil
}
