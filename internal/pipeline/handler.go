package pipeline

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/skypro1111/greenvoice-service/internal/apperror"
	"github.com/skypro1111/greenvoice-service/internal/audio"
	"github.com/skypro1111/greenvoice-service/internal/ingest"
	"github.com/skypro1111/greenvoice-service/internal/metrics"
	"github.com/skypro1111/greenvoice-service/internal/recognizer"
	"github.com/skypro1111/greenvoice-service/internal/tempres"
)

// Flow labels used in logs and metrics
const (
	FlowUpload    = "upload"
	FlowRecording = "recording"
)

// Decoder turns an upload into canonical audio
type Decoder interface {
	Decode(ctx context.Context, src ingest.Source) (audio.Decoded, error)
}

// Processor cleans canonical audio
type Processor interface {
	Process(in audio.Decoded) audio.Processed
}

// UploadRequest is an uploaded clip. Exactly one of AudioBase64 and Raw carries
// the payload; AudioBase64 may be a data URL.
type UploadRequest struct {
	AudioBase64 *string
	Raw         []byte
	Format      string
}

// Config contains handler configuration
type Config struct {
	RecognizerTimeout time.Duration
	MaxAudioBytes     int
}

// Handler runs the upload and live-recording flows
type Handler struct {
	config     Config
	decoder    Decoder
	processor  Processor
	recognizer recognizer.Transcriber
	temp       *tempres.Manager
	logger     *slog.Logger
	metrics    *metrics.Metrics
}

// NewHandler creates a request handler
func NewHandler(config Config, decoder Decoder, processor Processor, rec recognizer.Transcriber, temp *tempres.Manager, logger *slog.Logger, m *metrics.Metrics) *Handler {
	return &Handler{
		config:     config,
		decoder:    decoder,
		processor:  processor,
		recognizer: rec,
		temp:       temp,
		logger:     logger,
		metrics:    m,
	}
}

// ModelLoaded reports whether the recognizer is ready
func (h *Handler) ModelLoaded() bool {
	return recognizer.IsLoaded(h.recognizer)
}

// HandleUpload transcribes an uploaded clip
func (h *Handler) HandleUpload(ctx context.Context, req UploadRequest) Result {
	start := time.Now()

	blob, err := h.validate(req)
	if err != nil {
		return h.finish(FlowUpload, start, failed(StatusInvalidInput, err))
	}

	staged, err := h.temp.AcquireWith("upload", blob.Format.Extension(), blob.Data)
	if err != nil {
		return h.finish(FlowUpload, start, failed(StatusDecodeFailed, apperror.Decode("pipeline.stage", err)))
	}
	defer staged.Release()

	decoded, err := h.decoder.Decode(ctx, ingest.Source{Blob: blob, Path: staged.Path()})
	if err != nil {
		if apperror.KindOf(err) == apperror.KindTimeout {
			return h.finish(FlowUpload, start, failed(StatusTimeout, err))
		}
		if apperror.KindOf(err) != apperror.KindDecode {
			err = apperror.Decode("pipeline.decode", err)
		}
		return h.finish(FlowUpload, start, failed(StatusDecodeFailed, err))
	}

	return h.finish(FlowUpload, start, h.transcribe(ctx, decoded))
}

// HandleRecording transcribes the audio returned by a stopped capture session
func (h *Handler) HandleRecording(ctx context.Context, decoded audio.Decoded) Result {
	start := time.Now()

	if decoded.Empty || len(decoded.Samples) == 0 {
		return h.finish(FlowRecording, start, Result{Text: MessageNoRecorded, Status: StatusOK})
	}

	return h.finish(FlowRecording, start, h.transcribe(ctx, decoded))
}

// transcribe runs preprocessing and recognition on canonical audio
func (h *Handler) transcribe(ctx context.Context, decoded audio.Decoded) Result {
	processed := h.processor.Process(decoded)
	if processed.Silent {
		return Result{Text: MessageTooQuiet, Status: StatusSilent}
	}

	if h.config.RecognizerTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.config.RecognizerTimeout)
		defer cancel()
	}

	text, err := h.recognizer.Transcribe(ctx, processed)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || apperror.KindOf(err) == apperror.KindTimeout {
			if apperror.KindOf(err) != apperror.KindTimeout {
				err = apperror.Timeout("pipeline.transcribe", err)
			}
			return failed(StatusTimeout, err)
		}
		if apperror.KindOf(err) != apperror.KindModel {
			err = apperror.Model("pipeline.transcribe", err)
		}
		return failed(StatusModelFailed, err)
	}

	text = strings.TrimSpace(text)
	if text == "" {
		text = MessageNoSpeech
	}
	return Result{Text: text, Status: StatusOK}
}

func (h *Handler) finish(flow string, start time.Time, r Result) Result {
	h.metrics.RecordResult(flow, string(r.Status))

	attrs := []any{
		slog.String("flow", flow),
		slog.String("status", string(r.Status)),
		slog.Duration("duration", time.Since(start)),
	}

	switch {
	case r.Succeeded():
		h.logger.Info("Transcription finished", append(attrs, slog.Int("text_length", len(r.Text)))...)
	case r.Status == StatusInvalidInput:
		h.logger.Info("Rejected transcription request", append(attrs, slog.String("error", r.Err.Error()))...)
	default:
		h.logger.Error("Transcription failed", append(attrs, slog.String("error", r.Err.Error()))...)
	}
	return r
}

// validate checks the payload and returns the blob to decode. An empty payload
// is well-formed and left to the decoder.
func (h *Handler) validate(req UploadRequest) (audio.Blob, error) {
	format, err := audio.ParseFormat(req.Format)
	if err != nil {
		return audio.Blob{}, apperror.Input("pipeline.validate", err)
	}

	var data []byte
	switch {
	case req.AudioBase64 != nil:
		encoded := strings.TrimSpace(*req.AudioBase64)
		if mime, payload, ok := splitDataURL(encoded); ok {
			encoded = payload
			if format == audio.FormatUnknown {
				format = formatFromMIME(mime)
			}
		}
		data, err = base64.StdEncoding.DecodeString(encoded)
		if err != nil {
			return audio.Blob{}, apperror.Input("pipeline.validate", fmt.Errorf("audio is not valid base64: %w", err))
		}
	case req.Raw != nil:
		data = req.Raw
	default:
		return audio.Blob{}, apperror.Input("pipeline.validate", fmt.Errorf("missing audio payload"))
	}

	if h.config.MaxAudioBytes > 0 && len(data) > h.config.MaxAudioBytes {
		return audio.Blob{}, apperror.Input("pipeline.validate",
			fmt.Errorf("audio payload of %d bytes exceeds limit of %d", len(data), h.config.MaxAudioBytes))
	}

	return audio.NewBlob(data, format), nil
}

// splitDataURL splits "data:audio/webm;codecs=opus;base64,AAAA" into its media type and payload
func splitDataURL(s string) (mime, payload string, ok bool) {
	if !strings.HasPrefix(s, "data:") {
		return "", "", false
	}
	header, payload, found := strings.Cut(s[len("data:"):], ",")
	if !found || !strings.HasSuffix(header, ";base64") {
		return "", "", false
	}
	mime, _, _ = strings.Cut(header, ";")
	return mime, payload, true
}

func formatFromMIME(mime string) audio.Format {
	switch strings.ToLower(mime) {
	case "audio/wav", "audio/wave", "audio/x-wav":
		return audio.FormatWAV
	case "audio/webm", "video/webm":
		return audio.FormatWebM
	case "audio/ogg":
		return audio.FormatOgg
	default:
		return audio.FormatUnknown
	}
}
