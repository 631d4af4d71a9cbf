package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/skypro1111/greenvoice-service/internal/apperror"
	"github.com/skypro1111/greenvoice-service/internal/audio"
	"github.com/skypro1111/greenvoice-service/internal/metrics"
	"github.com/skypro1111/greenvoice-service/internal/tempres"
)

// Source is the input of a decode: the blob and, when the caller already wrote it
// to disk, the path of that copy.
type Source struct {
	Blob audio.Blob
	Path string
}

// Strategy is one way of decoding a blob into canonical audio
type Strategy interface {
	Name() string
	Decode(ctx context.Context, src Source) (audio.Decoded, error)
}

// Attempt records the outcome of one strategy
type Attempt struct {
	Strategy string
	Duration time.Duration
	Err      error
}

// ExhaustedError is returned (wrapped in an apperror.KindDecode) when no strategy succeeded
type ExhaustedError struct {
	Attempts []Attempt
}

func (e *ExhaustedError) Error() string {
	if len(e.Attempts) == 0 {
		return "no decode strategies configured"
	}
	last := e.Attempts[len(e.Attempts)-1]
	return fmt.Sprintf("all %d decode strategies failed; last (%s): %v", len(e.Attempts), last.Strategy, last.Err)
}

// Unwrap returns the last underlying failure
func (e *ExhaustedError) Unwrap() error {
	if len(e.Attempts) == 0 {
		return nil
	}
	return e.Attempts[len(e.Attempts)-1].Err
}

// TimedOut reports whether any strategy ran out of time
func (e *ExhaustedError) TimedOut() bool {
	for _, a := range e.Attempts {
		if a.Err == nil {
			continue
		}
		if apperror.KindOf(a.Err) == apperror.KindTimeout || errors.Is(a.Err, context.DeadlineExceeded) {
			return true
		}
	}
	return false
}

// Summary lists every attempt on one line
func (e *ExhaustedError) Summary() string {
	parts := make([]string, 0, len(e.Attempts))
	for _, a := range e.Attempts {
		parts = append(parts, fmt.Sprintf("%s: %v", a.Strategy, a.Err))
	}
	return strings.Join(parts, "; ")
}

// Config contains decode chain configuration
type Config struct {
	FFmpegPath    string
	FFmpegTimeout time.Duration
}

// Pipeline runs decode strategies in priority order
type Pipeline struct {
	strategies []Strategy
	logger     *slog.Logger
	metrics    *metrics.Metrics
}

// NewPipeline creates a pipeline that tries strategies in the given order
func NewPipeline(logger *slog.Logger, m *metrics.Metrics, strategies ...Strategy) *Pipeline {
	return &Pipeline{
		strategies: strategies,
		logger:     logger,
		metrics:    m,
	}
}

// NewDefaultPipeline creates the standard chain: WAV, ffmpeg, Ogg Vorbis
func NewDefaultPipeline(cfg Config, temp *tempres.Manager, logger *slog.Logger, m *metrics.Metrics) *Pipeline {
	return NewPipeline(logger, m,
		NewWAVStrategy(),
		NewFFmpegStrategy(cfg.FFmpegPath, cfg.FFmpegTimeout, temp, logger),
		NewOggVorbisStrategy(),
	)
}

// Strategies returns the strategy names in evaluation order
func (p *Pipeline) Strategies() []string {
	names := make([]string, len(p.strategies))
	for i, s := range p.strategies {
		names[i] = s.Name()
	}
	return names
}

// Decode tries each strategy until one yields non-empty 16 kHz mono audio
func (p *Pipeline) Decode(ctx context.Context, src Source) (audio.Decoded, error) {
	start := time.Now()
	attempts := make([]Attempt, 0, len(p.strategies))

	for _, strategy := range p.strategies {
		if err := ctx.Err(); err != nil {
			attempts = append(attempts, Attempt{Strategy: strategy.Name(), Err: err})
			break
		}

		attemptStart := time.Now()
		decoded, err := p.attempt(ctx, strategy, src)
		attempt := Attempt{Strategy: strategy.Name(), Duration: time.Since(attemptStart), Err: err}
		attempts = append(attempts, attempt)
		p.metrics.RecordDecodeAttempt(strategy.Name(), err == nil)

		if err != nil {
			p.logger.Debug("Decode strategy failed",
				slog.String("strategy", strategy.Name()),
				slog.String("format", string(src.Blob.Format)),
				slog.Int("bytes", len(src.Blob.Data)),
				slog.Duration("duration", attempt.Duration),
				slog.String("error", err.Error()),
			)
			continue
		}

		p.metrics.RecordDecode(true, time.Since(start).Seconds(), decoded.Duration().Seconds())
		p.logger.Info("Audio decoded",
			slog.String("strategy", strategy.Name()),
			slog.String("format", string(src.Blob.Format)),
			slog.Int("samples", len(decoded.Samples)),
			slog.Duration("audio_duration", decoded.Duration()),
			slog.Int("attempts", len(attempts)),
		)
		return decoded, nil
	}

	exhausted := &ExhaustedError{Attempts: attempts}
	p.metrics.RecordDecode(false, time.Since(start).Seconds(), 0)
	p.logger.Warn("All decode strategies failed",
		slog.String("format", string(src.Blob.Format)),
		slog.Int("bytes", len(src.Blob.Data)),
		slog.String("attempts", exhausted.Summary()),
	)

	if exhausted.TimedOut() {
		return audio.Decoded{}, apperror.Timeout("ingest.decode", exhausted)
	}
	return audio.Decoded{}, apperror.Decode("ingest.decode", exhausted)
}

// attempt runs one strategy, converting panics from decoder libraries into errors
// and enforcing the canonical output format.
func (p *Pipeline) attempt(ctx context.Context, strategy Strategy, src Source) (decoded audio.Decoded, err error) {
	defer func() {
		if r := recover(); r != nil {
			decoded = audio.Decoded{}
			err = fmt.Errorf("decoder panic: %v", r)
		}
	}()

	decoded, err = strategy.Decode(ctx, src)
	if err != nil {
		return audio.Decoded{}, err
	}

	if !decoded.IsCanonical() {
		return audio.Decoded{}, fmt.Errorf("decoder produced %d Hz / %d channels, want %d Hz mono",
			decoded.SampleRate, decoded.Channels, audio.CanonicalSampleRate)
	}

	if len(decoded.Samples) == 0 {
		return audio.Decoded{}, fmt.Errorf("decoder produced no samples")
	}

	return decoded, nil
}
