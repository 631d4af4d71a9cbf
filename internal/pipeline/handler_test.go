package pipeline

import (
	"context"
	"encoding/base64"
	"errors"
	"io"
	"log/slog"
	"math"
	"math/rand"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/skypro1111/greenvoice-service/internal/apperror"
	"github.com/skypro1111/greenvoice-service/internal/audio"
	"github.com/skypro1111/greenvoice-service/internal/ingest"
	"github.com/skypro1111/greenvoice-service/internal/metrics"
	"github.com/skypro1111/greenvoice-service/internal/preprocess"
	"github.com/skypro1111/greenvoice-service/internal/recognizer"
	"github.com/skypro1111/greenvoice-service/internal/tempres"
)

type countingRecognizer struct {
	calls int32
	text  string
	err   error
	delay time.Duration
	last  audio.Processed
}

func (c *countingRecognizer) Transcribe(ctx context.Context, in audio.Processed) (string, error) {
	atomic.AddInt32(&c.calls, 1)
	c.last = in
	if c.delay > 0 {
		select {
		case <-time.After(c.delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	return c.text, c.err
}

type fixture struct {
	handler *Handler
	rec     *countingRecognizer
	temp    *tempres.Manager
	metrics *metrics.Metrics
}

func newFixture(t *testing.T, rec *countingRecognizer, cfg Config) *fixture {
	t.Helper()
	return newFixtureWithDecoder(t, rec, cfg, ingest.Config{FFmpegPath: "/nonexistent/ffmpeg"})
}

func newFixtureWithDecoder(t *testing.T, rec *countingRecognizer, cfg Config, decodeCfg ingest.Config) *fixture {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	m := metrics.NewMetrics()

	temp, err := tempres.NewManager(t.TempDir(), logger, m.RecordTempFileReleaseFailure)
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}

	decoder := ingest.NewDefaultPipeline(decodeCfg, temp, logger, m)
	stage := preprocess.NewStage(preprocess.Config{SilenceThreshold: 0.01}, preprocess.NewSpectralReducer(preprocess.DefaultNoiseConfig()), logger, m)

	return &fixture{
		handler: NewHandler(cfg, decoder, stage, recognizer.Guard(rec, false), temp, logger, m),
		rec:     rec,
		temp:    temp,
		metrics: m,
	}
}

func (f *fixture) assertNoTempFiles(t *testing.T) {
	t.Helper()
	entries, err := os.ReadDir(f.temp.Dir())
	if err != nil {
		t.Fatalf("ReadDir failed: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("Expected no temp files, found %d", len(entries))
	}
	if f.temp.Live() != 0 {
		t.Errorf("Expected no live temp resources, got %d", f.temp.Live())
	}
}

func wavTone(t *testing.T, seconds, amp float64) []byte {
	t.Helper()
	n := int(seconds * 16000)
	samples := make([]float32, n)
	for i := range samples {
		samples[i] = float32(amp * math.Sin(2*math.Pi*440*float64(i)/16000))
	}
	data, err := audio.EncodeWAV(samples, 16000, 1)
	if err != nil {
		t.Fatalf("EncodeWAV failed: %v", err)
	}
	return data
}

func b64(data []byte) *string {
	s := base64.StdEncoding.EncodeToString(data)
	return &s
}

func TestUploadWAVTranscribed(t *testing.T) {
	f := newFixture(t, &countingRecognizer{text: " hello world "}, Config{})

	result := f.handler.HandleUpload(context.Background(), UploadRequest{
		AudioBase64: b64(wavTone(t, 2, 0.5)),
		Format:      "wav",
	})

	if result.Status != StatusOK {
		t.Fatalf("Expected ok, got %s (%s)", result.Status, result.Diagnostic)
	}

	if result.Text != "hello world" {
		t.Errorf("Expected 'hello world', got %q", result.Text)
	}

	if f.rec.calls != 1 {
		t.Errorf("Expected 1 recognizer call, got %d", f.rec.calls)
	}

	if peak := audio.Peak(f.rec.last.Samples); peak != 1.0 {
		t.Errorf("Expected recognizer input peak 1.0, got %f", peak)
	}

	if len(f.rec.last.Samples) != 32000 {
		t.Errorf("Expected 32000 samples, got %d", len(f.rec.last.Samples))
	}

	if got := testutil.ToFloat64(f.metrics.Results.WithLabelValues(FlowUpload, string(StatusOK))); got != 1 {
		t.Errorf("Expected 1 ok result, got %f", got)
	}

	f.assertNoTempFiles(t)
}

func TestUploadEmptyWebMDecodeFailed(t *testing.T) {
	f := newFixture(t, &countingRecognizer{text: "never"}, Config{})

	result := f.handler.HandleUpload(context.Background(), UploadRequest{
		AudioBase64: b64(nil),
		Format:      "webm",
	})

	if result.Status != StatusDecodeFailed {
		t.Fatalf("Expected decode_failed, got %s", result.Status)
	}

	if f.rec.calls != 0 {
		t.Errorf("Expected recognizer not to be called, got %d calls", f.rec.calls)
	}

	if apperror.KindOf(result.Err) != apperror.KindDecode {
		t.Errorf("Expected KindDecode, got %s", apperror.KindOf(result.Err))
	}

	if result.HTTPStatus() != 500 {
		t.Errorf("Expected HTTP 500, got %d", result.HTTPStatus())
	}

	if !strings.HasPrefix(result.Diagnostic, "could not decode audio") {
		t.Errorf("Unexpected diagnostic %q", result.Diagnostic)
	}

	f.assertNoTempFiles(t)
}

func TestUploadSilentSkipsRecognizer(t *testing.T) {
	f := newFixture(t, &countingRecognizer{text: "never"}, Config{})

	silence, err := audio.EncodeWAV(make([]float32, 16000), 16000, 1)
	if err != nil {
		t.Fatalf("EncodeWAV failed: %v", err)
	}

	result := f.handler.HandleUpload(context.Background(), UploadRequest{Raw: silence, Format: "wav"})

	if result.Status != StatusSilent {
		t.Fatalf("Expected silent, got %s", result.Status)
	}

	if result.Text != MessageTooQuiet {
		t.Errorf("Unexpected text %q", result.Text)
	}

	if !result.Succeeded() || result.HTTPStatus() != 200 {
		t.Error("Expected silent to be a successful result")
	}

	if f.rec.calls != 0 {
		t.Errorf("Expected recognizer not to be called, got %d calls", f.rec.calls)
	}

	f.assertNoTempFiles(t)
}

func TestUploadModelFailure(t *testing.T) {
	rec := &countingRecognizer{err: errors.New("CUDA out of memory\nTraceback (most recent call last):\n  File \"model.py\", line 1")}
	f := newFixture(t, rec, Config{})

	result := f.handler.HandleUpload(context.Background(), UploadRequest{
		AudioBase64: b64(wavTone(t, 1, 0.5)),
		Format:      "wav",
	})

	if result.Status != StatusModelFailed {
		t.Fatalf("Expected model_failed, got %s", result.Status)
	}

	if strings.Contains(result.Diagnostic, "Traceback") {
		t.Errorf("Diagnostic leaks stack trace: %q", result.Diagnostic)
	}

	if !strings.Contains(result.Diagnostic, "CUDA out of memory") {
		t.Errorf("Expected diagnostic to carry the error, got %q", result.Diagnostic)
	}

	f.assertNoTempFiles(t)
}

func TestUploadRecognizerTimeout(t *testing.T) {
	rec := &countingRecognizer{text: "late", delay: time.Second}
	f := newFixture(t, rec, Config{RecognizerTimeout: 20 * time.Millisecond})

	result := f.handler.HandleUpload(context.Background(), UploadRequest{
		AudioBase64: b64(wavTone(t, 1, 0.5)),
		Format:      "wav",
	})

	if result.Status != StatusTimeout {
		t.Fatalf("Expected timeout, got %s", result.Status)
	}

	if result.HTTPStatus() != 504 {
		t.Errorf("Expected HTTP 504, got %d", result.HTTPStatus())
	}

	f.assertNoTempFiles(t)
}

func TestUploadEmptyTranscription(t *testing.T) {
	f := newFixture(t, &countingRecognizer{text: "   "}, Config{})

	result := f.handler.HandleUpload(context.Background(), UploadRequest{Raw: wavTone(t, 1, 0.5), Format: "wav"})

	if result.Status != StatusOK || result.Text != MessageNoSpeech {
		t.Errorf("Expected ok with %q, got %s %q", MessageNoSpeech, result.Status, result.Text)
	}
}

func TestUploadInvalidInput(t *testing.T) {
	bad := "%%% not base64 %%%"

	tests := []struct {
		name string
		req  UploadRequest
	}{
		{"missing payload", UploadRequest{Format: "wav"}},
		{"malformed base64", UploadRequest{AudioBase64: &bad, Format: "wav"}},
		{"unsupported format", UploadRequest{Raw: []byte{1, 2, 3}, Format: "mp3"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, &countingRecognizer{}, Config{})

			result := f.handler.HandleUpload(context.Background(), tt.req)
			if result.Status != StatusInvalidInput {
				t.Fatalf("Expected invalid_input, got %s", result.Status)
			}

			if result.HTTPStatus() != 400 {
				t.Errorf("Expected HTTP 400, got %d", result.HTTPStatus())
			}

			if f.rec.calls != 0 {
				t.Errorf("Expected no recognizer calls, got %d", f.rec.calls)
			}

			if created, _ := f.temp.Stats(); created != 0 {
				t.Errorf("Expected no temp files to be created, got %d", created)
			}
		})
	}
}

func TestUploadSizeLimit(t *testing.T) {
	f := newFixture(t, &countingRecognizer{}, Config{MaxAudioBytes: 10})

	result := f.handler.HandleUpload(context.Background(), UploadRequest{Raw: make([]byte, 11), Format: "wav"})
	if result.Status != StatusInvalidInput {
		t.Errorf("Expected invalid_input, got %s", result.Status)
	}
}

func TestUploadDataURL(t *testing.T) {
	f := newFixture(t, &countingRecognizer{text: "from data url"}, Config{})

	payload := "data:audio/wav;base64," + base64.StdEncoding.EncodeToString(wavTone(t, 1, 0.5))
	result := f.handler.HandleUpload(context.Background(), UploadRequest{AudioBase64: &payload})

	if result.Status != StatusOK || result.Text != "from data url" {
		t.Errorf("Expected ok transcription, got %s %q (%s)", result.Status, result.Text, result.Diagnostic)
	}
}

func TestHandleRecording(t *testing.T) {
	t.Run("empty", func(t *testing.T) {
		f := newFixture(t, &countingRecognizer{text: "never"}, Config{})

		result := f.handler.HandleRecording(context.Background(), audio.Decoded{SampleRate: 16000, Channels: 1, Empty: true})
		if result.Status != StatusOK || result.Text != MessageNoRecorded {
			t.Errorf("Expected ok with %q, got %s %q", MessageNoRecorded, result.Status, result.Text)
		}

		if f.rec.calls != 0 {
			t.Errorf("Expected no recognizer calls, got %d", f.rec.calls)
		}
	})

	t.Run("speech", func(t *testing.T) {
		f := newFixture(t, &countingRecognizer{text: "live words"}, Config{})

		samples := make([]float32, 8000)
		for i := range samples {
			samples[i] = float32(0.3 * math.Sin(2*math.Pi*300*float64(i)/16000))
		}

		result := f.handler.HandleRecording(context.Background(), audio.Decoded{Samples: samples, SampleRate: 16000, Channels: 1})
		if result.Status != StatusOK || result.Text != "live words" {
			t.Errorf("Expected ok transcription, got %s %q", result.Status, result.Text)
		}

		if got := testutil.ToFloat64(f.metrics.Results.WithLabelValues(FlowRecording, string(StatusOK))); got != 1 {
			t.Errorf("Expected 1 recording result, got %f", got)
		}
	})
}

func TestSplitDataURL(t *testing.T) {
	mime, payload, ok := splitDataURL("data:audio/webm;codecs=opus;base64,AAAA")
	if !ok || mime != "audio/webm" || payload != "AAAA" {
		t.Errorf("Unexpected split: %q %q %v", mime, payload, ok)
	}

	if _, _, ok := splitDataURL("AAAA"); ok {
		t.Error("Expected plain base64 not to be treated as data URL")
	}
}

func TestUploadNoiseOnlyIsSilent(t *testing.T) {
	f := newFixture(t, &countingRecognizer{text: "never"}, Config{})

	rng := rand.New(rand.NewSource(11))
	noise := make([]float32, 32000)
	for i := range noise {
		noise[i] = float32(0.03 * (2*rng.Float64() - 1))
	}
	data, err := audio.EncodeWAV(noise, 16000, 1)
	if err != nil {
		t.Fatalf("EncodeWAV failed: %v", err)
	}

	result := f.handler.HandleUpload(context.Background(), UploadRequest{Raw: data, Format: "wav"})

	if result.Status != StatusSilent {
		t.Fatalf("Expected silent, got %s (%s)", result.Status, result.Diagnostic)
	}

	if f.rec.calls != 0 {
		t.Errorf("Expected recognizer not to be called, got %d calls", f.rec.calls)
	}

	f.assertNoTempFiles(t)
}

func TestUploadFFmpegTimeout(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("shell script stand-in for ffmpeg")
	}

	script := filepath.Join(t.TempDir(), "ffmpeg")
	if err := os.WriteFile(script, []byte("#!/bin/sh\nsleep 5\n"), 0o755); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	f := newFixtureWithDecoder(t, &countingRecognizer{text: "never"}, Config{}, ingest.Config{
		FFmpegPath:    script,
		FFmpegTimeout: 200 * time.Millisecond,
	})

	start := time.Now()
	result := f.handler.HandleUpload(context.Background(), UploadRequest{
		AudioBase64: b64([]byte("not really webm")),
		Format:      "webm",
	})
	elapsed := time.Since(start)

	if result.Status != StatusTimeout {
		t.Fatalf("Expected timeout, got %s (%s)", result.Status, result.Diagnostic)
	}

	if apperror.KindOf(result.Err) != apperror.KindTimeout {
		t.Errorf("Expected KindTimeout, got %s", apperror.KindOf(result.Err))
	}

	if result.HTTPStatus() != 504 {
		t.Errorf("Expected HTTP 504, got %d", result.HTTPStatus())
	}

	if elapsed > 4*time.Second {
		t.Errorf("Expected the ffmpeg timeout to bound the call, took %s", elapsed)
	}

	if f.rec.calls != 0 {
		t.Errorf("Expected recognizer not to be called, got %d calls", f.rec.calls)
	}

	f.assertNoTempFiles(t)
}
