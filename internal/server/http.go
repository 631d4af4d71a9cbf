package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/google/uuid"

	"github.com/skypro1111/greenvoice-service/internal/apperror"
	"github.com/skypro1111/greenvoice-service/internal/audio"
	"github.com/skypro1111/greenvoice-service/internal/capture"
	"github.com/skypro1111/greenvoice-service/internal/metrics"
	"github.com/skypro1111/greenvoice-service/internal/pipeline"
)

// Transcriber runs the transcription flows
type Transcriber interface {
	HandleUpload(ctx context.Context, req pipeline.UploadRequest) pipeline.Result
	HandleRecording(ctx context.Context, decoded audio.Decoded) pipeline.Result
	ModelLoaded() bool
}

// Recorder controls the live recording session
type Recorder interface {
	Start() error
	Stop() (audio.Decoded, error)
	Recording() bool
	Status() capture.Status
}

// HTTPServerConfig contains HTTP server configuration
type HTTPServerConfig struct {
	Address      string
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	MaxBodyBytes int64
}

// HTTPServer provides the transcription API
type HTTPServer struct {
	server      *http.Server
	router      chi.Router
	config      HTTPServerConfig
	transcriber Transcriber
	recorder    Recorder
	logger      *slog.Logger
	metrics     *metrics.Metrics
	startTime   time.Time
}

// TranscribeRequest is the JSON body of POST /transcribe
type TranscribeRequest struct {
	Audio  *string `json:"audio"`
	Format string  `json:"format"`
}

// TranscribeResponse is returned for successful transcriptions
type TranscribeResponse struct {
	Transcription string    `json:"transcription"`
	Status        string    `json:"status"`
	Outcome       string    `json:"outcome"`
	Timestamp     time.Time `json:"timestamp"`
}

// RecordingResponse is returned by the recording endpoints
type RecordingResponse struct {
	Status        string    `json:"status"`
	Transcription *string   `json:"transcription,omitempty"`
	Outcome       string    `json:"outcome,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
}

// ErrorResponse is returned for failed requests
type ErrorResponse struct {
	Error string `json:"error"`
}

// NewHTTPServer creates a new HTTP API server
func NewHTTPServer(cfg HTTPServerConfig, transcriber Transcriber, recorder Recorder, logger *slog.Logger, m *metrics.Metrics) *HTTPServer {
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = 30 * time.Second
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 120 * time.Second
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 25 << 20
	}

	h := &HTTPServer{
		config:      cfg,
		transcriber: transcriber,
		recorder:    recorder,
		logger:      logger,
		metrics:     m,
		startTime:   time.Now(),
	}

	h.router = h.setupRoutes()

	h.server = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Address, cfg.Port),
		Handler:      h.router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	return h
}

// Handler returns the root HTTP handler
func (h *HTTPServer) Handler() http.Handler {
	return h.router
}

// setupRoutes configures HTTP API routes
func (h *HTTPServer) setupRoutes() chi.Router {
	r := chi.NewRouter()

	r.Use(h.withRequestID)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:     []string{"*"},
		AllowedMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:     []string{"*"},
		ExposedHeaders:     []string{"X-Request-ID"},
		OptionsPassthrough: true,
		MaxAge:             300,
	}))
	r.Use(preflight)
	r.Use(h.withMetrics)

	// Prometheus metrics endpoint
	r.Method(http.MethodGet, "/metrics", h.metrics.Handler())

	api := func(r chi.Router) {
		r.Use(noCache)
		r.Get("/health", h.handleHealth)
		r.Post("/transcribe", h.handleTranscribe)
		r.Post("/start_recording", h.handleStartRecording)
		r.Post("/stop_recording", h.handleStopRecording)
		r.Get("/recording_status", h.handleRecordingStatus)
	}

	r.Group(api)
	r.Route("/api", api)

	return r
}

// preflight answers every OPTIONS request with 200 and no body. CORS headers
// are already set by the cors middleware.
func preflight(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func noCache(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
		w.Header().Set("Pragma", "no-cache")
		w.Header().Set("Expires", "0")
		next.ServeHTTP(w, r)
	})
}

type requestIDKey struct{}

// withRequestID propagates or assigns the X-Request-ID header
func (h *HTTPServer) withRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), requestIDKey{}, id)))
	})
}

func requestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

// withMetrics records metrics and an access log line for each request
func (h *HTTPServer) withMetrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		startTime := time.Now()

		ww := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(ww, r)

		endpoint := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			endpoint = rctx.RoutePattern()
		}

		duration := time.Since(startTime)
		h.metrics.RecordHTTPRequest(r.Method, endpoint, strconv.Itoa(ww.statusCode), duration.Seconds())

		if ww.statusCode >= 400 {
			errorType := "client_error"
			if ww.statusCode >= 500 {
				errorType = "server_error"
			}
			h.metrics.RecordHTTPError(r.Method, endpoint, errorType)
		}

		h.logger.Debug("HTTP request",
			slog.String("request_id", requestID(r.Context())),
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", ww.statusCode),
			slog.Duration("duration", duration),
		)
	})
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Start starts the HTTP server
func (h *HTTPServer) Start() error {
	h.logger.Info("Starting HTTP API server",
		slog.String("address", h.server.Addr),
	)

	go func() {
		if err := h.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			h.logger.Error("HTTP server error", slog.String("error", err.Error()))
		}
	}()

	return nil
}

// Stop gracefully stops the HTTP server
func (h *HTTPServer) Stop(ctx context.Context) error {
	h.logger.Info("Stopping HTTP API server...")

	return h.server.Shutdown(ctx)
}

// handleHealth implements GET /health
func (h *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	health := map[string]interface{}{
		"status":       "healthy",
		"model_loaded": h.transcriber.ModelLoaded(),
		"recording":    h.recorder.Recording(),
		"uptime":       time.Since(h.startTime).Round(time.Second).String(),
		"timestamp":    time.Now().UTC(),
	}

	writeJSON(w, http.StatusOK, health)
}

// handleRecordingStatus implements GET /recording_status
func (h *HTTPServer) handleRecordingStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.recorder.Status())
}

// handleTranscribe implements POST /transcribe
func (h *HTTPServer) handleTranscribe(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.config.MaxBodyBytes)

	req, err := h.parseUpload(r)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, fmt.Sprintf("request body exceeds %d bytes", tooLarge.Limit))
			return
		}
		writeError(w, http.StatusBadRequest, apperror.ClientMessage(apperror.Input("server.parse", err)))
		return
	}

	result := h.transcriber.HandleUpload(r.Context(), req)
	if !result.Succeeded() {
		writeError(w, result.HTTPStatus(), result.Diagnostic)
		return
	}

	writeJSON(w, http.StatusOK, TranscribeResponse{
		Transcription: result.Text,
		Status:        "success",
		Outcome:       string(result.Status),
		Timestamp:     time.Now().UTC(),
	})
}

// parseUpload accepts a JSON body {audio, format}, a multipart form with an
// audio file part, or a raw audio body.
func (h *HTTPServer) parseUpload(r *http.Request) (pipeline.UploadRequest, error) {
	mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil {
		mediaType = "application/json"
	}

	switch {
	case mediaType == "multipart/form-data":
		if err := r.ParseMultipartForm(h.config.MaxBodyBytes); err != nil {
			return pipeline.UploadRequest{}, fmt.Errorf("invalid multipart form: %w", err)
		}

		file, header, err := r.FormFile("audio")
		if err != nil {
			file, header, err = r.FormFile("file")
		}
		if err != nil {
			return pipeline.UploadRequest{}, fmt.Errorf("missing audio file part")
		}
		defer file.Close()

		data, err := io.ReadAll(file)
		if err != nil {
			return pipeline.UploadRequest{}, fmt.Errorf("failed to read audio file: %w", err)
		}

		format := r.FormValue("format")
		if format == "" {
			format = strings.TrimPrefix(strings.ToLower(filepath.Ext(header.Filename)), ".")
		}
		return pipeline.UploadRequest{Raw: data, Format: format}, nil

	case strings.HasPrefix(mediaType, "audio/"):
		data, err := io.ReadAll(r.Body)
		if err != nil {
			return pipeline.UploadRequest{}, fmt.Errorf("failed to read body: %w", err)
		}
		format := r.URL.Query().Get("format")
		if format == "" {
			format = formatFromMediaType(mediaType)
		}
		return pipeline.UploadRequest{Raw: data, Format: format}, nil

	default:
		var body TranscribeRequest
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			return pipeline.UploadRequest{}, fmt.Errorf("invalid JSON body: %w", err)
		}
		return pipeline.UploadRequest{AudioBase64: body.Audio, Format: body.Format}, nil
	}
}

func formatFromMediaType(mediaType string) string {
	switch mediaType {
	case "audio/wav", "audio/wave", "audio/x-wav":
		return string(audio.FormatWAV)
	case "audio/webm":
		return string(audio.FormatWebM)
	case "audio/ogg":
		return string(audio.FormatOgg)
	default:
		return ""
	}
}

// handleStartRecording implements POST /start_recording
func (h *HTTPServer) handleStartRecording(w http.ResponseWriter, r *http.Request) {
	if err := h.recorder.Start(); err != nil {
		h.logger.Error("Failed to start recording",
			slog.String("request_id", requestID(r.Context())),
			slog.String("error", err.Error()),
		)
		writeError(w, apperror.KindOf(err).HTTPStatus(), apperror.ClientMessage(err))
		return
	}

	writeJSON(w, http.StatusOK, RecordingResponse{
		Status:    "recording_started",
		Timestamp: time.Now().UTC(),
	})
}

// handleStopRecording implements POST /stop_recording
func (h *HTTPServer) handleStopRecording(w http.ResponseWriter, r *http.Request) {
	decoded, err := h.recorder.Stop()
	if err != nil {
		h.logger.Error("Failed to stop recording",
			slog.String("request_id", requestID(r.Context())),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, apperror.ClientMessage(err))
		return
	}

	result := h.transcriber.HandleRecording(r.Context(), decoded)
	if !result.Succeeded() {
		writeError(w, result.HTTPStatus(), result.Diagnostic)
		return
	}

	text := result.Text
	writeJSON(w, http.StatusOK, RecordingResponse{
		Status:        "recording_stopped",
		Transcription: &text,
		Outcome:       string(result.Status),
		Timestamp:     time.Now().UTC(),
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	if message == "" {
		message = http.StatusText(status)
	}
	writeJSON(w, status, ErrorResponse{Error: message})
}
