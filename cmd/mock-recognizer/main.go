// Command mock-recognizer is a stand-in recognition endpoint for local runs.
// It accepts the multipart upload the recognizer client sends and answers
// with a canned transcript.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/skypro1111/greenvoice-service/internal/audio"
	"github.com/skypro1111/greenvoice-service/internal/recognizer"
)

const maxUploadBytes = 32 << 20

type mockServer struct {
	text   string
	delay  time.Duration
	logger *slog.Logger
}

func (s *mockServer) transcribe(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		http.Error(w, "Error parsing form", http.StatusBadRequest)
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		http.Error(w, "Error getting audio file", http.StatusBadRequest)
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		http.Error(w, "Error reading audio file", http.StatusInternalServerError)
		return
	}

	info, err := audio.GetWAVInfo(data)
	if err != nil {
		s.logger.Warn("Rejected upload", slog.String("error", err.Error()))
		http.Error(w, "Invalid WAV payload", http.StatusBadRequest)
		return
	}

	language := r.FormValue("language")
	if language == "" {
		language = "en"
	}

	s.logger.Info("Transcription request received",
		slog.String("request_id", r.FormValue("request_id")),
		slog.String("filename", header.Filename),
		slog.Int("bytes", len(data)),
		slog.Uint64("sample_rate", uint64(info.SampleRate)),
		slog.Float64("duration", info.Duration),
		slog.String("model", r.FormValue("model")),
		slog.String("language", language),
	)

	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-r.Context().Done():
			return
		}
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(recognizer.Response{
		Text:     s.text,
		Language: language,
		Duration: info.Duration,
	}); err != nil {
		s.logger.Error("Failed to write response", slog.String("error", err.Error()))
	}
}

func main() {
	port := flag.Int("port", 8081, "Port to listen on")
	text := flag.String("text", "This is a test transcription.", "Transcript returned for every request")
	delay := flag.Duration("delay", 200*time.Millisecond, "Simulated processing time")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stdout, nil)).With(slog.String("service", "mock-recognizer"))

	s := &mockServer{text: *text, delay: *delay, logger: logger}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Post("/transcribe", s.transcribe)

	addr := fmt.Sprintf(":%d", *port)
	logger.Info("Mock recognizer listening", slog.String("endpoint", "http://localhost"+addr+"/transcribe"))

	if err := http.ListenAndServe(addr, r); err != nil {
		logger.Error("Server failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
