package recognizer

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/skypro1111/greenvoice-service/internal/apperror"
	"github.com/skypro1111/greenvoice-service/internal/audio"
	"github.com/skypro1111/greenvoice-service/internal/metrics"
)

func newTestClient(t *testing.T, endpoint string, retries int) (*Client, *metrics.Metrics) {
	t.Helper()
	m := metrics.NewMetrics()
	c, err := NewClient(Config{
		Endpoint:    endpoint,
		APIKey:      "secret",
		Language:    "en",
		Timeout:     5 * time.Second,
		MaxRetries:  retries,
		BackoffBase: time.Millisecond,
	}, testLogger(), m)
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	return c, m
}

func TestClientTranscribeSuccess(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer secret" {
			t.Errorf("Unexpected Authorization header %q", r.Header.Get("Authorization"))
		}

		file, _, err := r.FormFile("file")
		if err != nil {
			t.Errorf("Missing file part: %v", err)
			http.Error(w, "no file", http.StatusBadRequest)
			return
		}
		defer file.Close()

		buf, err := io.ReadAll(file)
		if err != nil {
			t.Errorf("Failed to read upload: %v", err)
		}

		info, err := audio.GetWAVInfo(buf)
		if err != nil {
			t.Errorf("Upload is not a WAV file: %v", err)
		} else if info.SampleRate != 16000 || info.Channels != 1 {
			t.Errorf("Expected 16 kHz mono upload, got %d Hz / %d ch", info.SampleRate, info.Channels)
		}

		if r.FormValue("language") != "en" {
			t.Errorf("Expected language=en, got %q", r.FormValue("language"))
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(Response{Text: "  hello world \n"})
	}))
	defer server.Close()

	c, m := newTestClient(t, server.URL, 0)

	text, err := c.Transcribe(context.Background(), processedTone(0.5))
	if err != nil {
		t.Fatalf("Transcribe failed: %v", err)
	}

	if text != "hello world" {
		t.Errorf("Expected trimmed text, got %q", text)
	}

	stats := c.GetStats()
	if stats.TotalRequests != 1 || stats.SuccessRequests != 1 {
		t.Errorf("Unexpected stats: %+v", stats)
	}

	if got := testutil.ToFloat64(m.RecognitionSuccesses); got != 1 {
		t.Errorf("Expected 1 success, got %f", got)
	}
}

func TestClientRetriesServerErrors(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			http.Error(w, "busy", http.StatusServiceUnavailable)
			return
		}
		json.NewEncoder(w).Encode(Response{Text: "third time"})
	}))
	defer server.Close()

	c, m := newTestClient(t, server.URL, 3)

	text, err := c.Transcribe(context.Background(), processedTone(0.2))
	if err != nil {
		t.Fatalf("Transcribe failed: %v", err)
	}

	if text != "third time" {
		t.Errorf("Unexpected text %q", text)
	}

	if calls != 3 {
		t.Errorf("Expected 3 calls, got %d", calls)
	}

	if got := testutil.ToFloat64(m.RecognitionRetries); got != 2 {
		t.Errorf("Expected 2 retries, got %f", got)
	}
}

func TestClientDoesNotRetryClientErrors(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		http.Error(w, "Traceback (most recent call last):\n  File \"model.py\"", http.StatusBadRequest)
	}))
	defer server.Close()

	c, _ := newTestClient(t, server.URL, 3)

	_, err := c.Transcribe(context.Background(), processedTone(0.2))
	if err == nil {
		t.Fatal("Expected error")
	}

	if calls != 1 {
		t.Errorf("Expected a single call, got %d", calls)
	}

	if kind := apperror.KindOf(err); kind != apperror.KindModel {
		t.Errorf("Expected KindModel, got %s", kind)
	}

	if c.GetStats().FailedRequests != 1 {
		t.Errorf("Expected 1 failed request, got %+v", c.GetStats())
	}
}

func TestClientDeadline(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-time.After(2 * time.Second):
		case <-r.Context().Done():
		}
	}))
	defer server.Close()

	c, _ := newTestClient(t, server.URL, 0)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := c.Transcribe(ctx, processedTone(0.2))
	if kind := apperror.KindOf(err); kind != apperror.KindTimeout {
		t.Errorf("Expected KindTimeout, got %s (%v)", kind, err)
	}
}

func TestClientUnreachableEndpoint(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	url := server.URL
	server.Close()

	c, _ := newTestClient(t, url, 0)

	if _, err := c.Transcribe(context.Background(), processedTone(0.2)); err == nil {
		t.Fatal("Expected error for closed endpoint")
	}

	if c.Loaded() {
		t.Error("Expected Loaded=false after transport failure")
	}
}

func TestClientRejectsEmptyAudio(t *testing.T) {
	c, _ := newTestClient(t, "http://127.0.0.1:1", 0)

	_, err := c.Transcribe(context.Background(), audio.Processed{})
	if kind := apperror.KindOf(err); kind != apperror.KindInput {
		t.Errorf("Expected KindInput, got %s", kind)
	}
}

func TestNewClientRequiresEndpoint(t *testing.T) {
	if _, err := NewClient(Config{}, testLogger(), metrics.NewMetrics()); err == nil {
		t.Error("Expected error for empty endpoint")
	}
}
