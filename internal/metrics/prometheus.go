package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics contains all Prometheus metrics for the transcription service
type Metrics struct {
	registry *prometheus.Registry

	// Ingestion metrics
	DecodeAttempts  *prometheus.CounterVec
	DecodeFailures  prometheus.Counter
	DecodeDuration  prometheus.Histogram
	DecodedDuration prometheus.Histogram

	// Preprocessing metrics
	SilentInputs            prometheus.Counter
	NoiseReductionFallbacks prometheus.Counter
	PreprocessDuration      prometheus.Histogram

	// Capture metrics
	RecordingSessions prometheus.Counter
	ChunksCaptured    prometheus.Counter
	ChunksDropped     prometheus.Counter
	Recording         prometheus.Gauge

	// Recognition metrics
	RecognitionRequests  prometheus.Counter
	RecognitionSuccesses prometheus.Counter
	RecognitionFailures  prometheus.Counter
	RecognitionDuration  prometheus.Histogram
	RecognitionRetries   prometheus.Counter

	// Request outcome metrics
	Results *prometheus.CounterVec

	// Temp file metrics
	TempFilesCreated        prometheus.Counter
	TempFileReleaseFailures prometheus.Counter

	// HTTP API metrics
	HTTPRequests        *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPErrors          *prometheus.CounterVec
}

// NewMetrics creates all metrics in a dedicated registry
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,

		DecodeAttempts: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "greenvoice_decode_attempts_total",
			Help: "Decode strategy attempts by strategy and result",
		}, []string{"strategy", "result"}),
		DecodeFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "greenvoice_decode_failures_total",
			Help: "Uploads for which every decode strategy failed",
		}),
		DecodeDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "greenvoice_decode_duration_seconds",
			Help:    "Time spent decoding uploads",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 14), // 1ms to ~8s
		}),
		DecodedDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "greenvoice_decoded_audio_seconds",
			Help:    "Length of successfully decoded audio",
			Buckets: prometheus.ExponentialBuckets(0.25, 2, 10), // 250ms to ~2 minutes
		}),

		SilentInputs: factory.NewCounter(prometheus.CounterOpts{
			Name: "greenvoice_silent_inputs_total",
			Help: "Inputs rejected by the silence gate",
		}),
		NoiseReductionFallbacks: factory.NewCounter(prometheus.CounterOpts{
			Name: "greenvoice_noise_reduction_fallbacks_total",
			Help: "Noise reduction failures that fell back to the original signal",
		}),
		PreprocessDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "greenvoice_preprocess_duration_seconds",
			Help:    "Time spent in noise reduction and normalization",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12),
		}),

		RecordingSessions: factory.NewCounter(prometheus.CounterOpts{
			Name: "greenvoice_recording_sessions_total",
			Help: "Recording sessions started",
		}),
		ChunksCaptured: factory.NewCounter(prometheus.CounterOpts{
			Name: "greenvoice_capture_chunks_total",
			Help: "Capture chunks queued",
		}),
		ChunksDropped: factory.NewCounter(prometheus.CounterOpts{
			Name: "greenvoice_capture_chunks_dropped_total",
			Help: "Capture chunks dropped because the queue was full",
		}),
		Recording: factory.NewGauge(prometheus.GaugeOpts{
			Name: "greenvoice_recording",
			Help: "1 while a recording session is active",
		}),

		RecognitionRequests: factory.NewCounter(prometheus.CounterOpts{
			Name: "greenvoice_recognition_requests_total",
			Help: "Total number of recognition calls",
		}),
		RecognitionSuccesses: factory.NewCounter(prometheus.CounterOpts{
			Name: "greenvoice_recognition_successes_total",
			Help: "Total number of successful recognition calls",
		}),
		RecognitionFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "greenvoice_recognition_failures_total",
			Help: "Total number of failed recognition calls",
		}),
		RecognitionDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "greenvoice_recognition_duration_seconds",
			Help:    "Duration of recognition calls",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 10), // 100ms to ~2 minutes
		}),
		RecognitionRetries: factory.NewCounter(prometheus.CounterOpts{
			Name: "greenvoice_recognition_retries_total",
			Help: "Total number of recognition request retries",
		}),

		Results: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "greenvoice_transcription_results_total",
			Help: "Transcription results by flow and status",
		}, []string{"flow", "status"}),

		TempFilesCreated: factory.NewCounter(prometheus.CounterOpts{
			Name: "greenvoice_temp_files_created_total",
			Help: "Temporary files created for uploads",
		}),
		TempFileReleaseFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "greenvoice_temp_file_release_failures_total",
			Help: "Temporary files that could not be deleted",
		}),

		HTTPRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "greenvoice_http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "endpoint", "status_code"}),
		HTTPRequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "greenvoice_http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "endpoint"}),
		HTTPErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "greenvoice_http_errors_total",
			Help: "Total number of HTTP errors",
		}, []string{"method", "endpoint", "error_type"}),
	}
}

// Handler returns the exposition handler for this registry
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry returns the underlying registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// RecordDecodeAttempt records the outcome of one decode strategy
func (m *Metrics) RecordDecodeAttempt(strategy string, ok bool) {
	result := "failure"
	if ok {
		result = "success"
	}
	m.DecodeAttempts.WithLabelValues(strategy, result).Inc()
}

// RecordDecode records a finished decode of an upload
func (m *Metrics) RecordDecode(ok bool, durationSeconds, audioSeconds float64) {
	m.DecodeDuration.Observe(durationSeconds)
	if !ok {
		m.DecodeFailures.Inc()
		return
	}
	m.DecodedDuration.Observe(audioSeconds)
}

// RecordPreprocess records a preprocessing pass
func (m *Metrics) RecordPreprocess(silent, noiseFallback bool, durationSeconds float64) {
	m.PreprocessDuration.Observe(durationSeconds)
	if silent {
		m.SilentInputs.Inc()
	}
	if noiseFallback {
		m.NoiseReductionFallbacks.Inc()
	}
}

// RecordRecordingStarted marks the start of a recording session
func (m *Metrics) RecordRecordingStarted() {
	m.RecordingSessions.Inc()
	m.Recording.Set(1)
}

// RecordRecordingStopped clears the recording gauge
func (m *Metrics) RecordRecordingStopped() {
	m.Recording.Set(0)
}

// RecordChunk records a capture chunk that was queued or dropped
func (m *Metrics) RecordChunk(dropped bool) {
	if dropped {
		m.ChunksDropped.Inc()
		return
	}
	m.ChunksCaptured.Inc()
}

// RecordRecognitionRequest increments recognition requests counter
func (m *Metrics) RecordRecognitionRequest() {
	m.RecognitionRequests.Inc()
}

// RecordRecognitionSuccess records a successful recognition call
func (m *Metrics) RecordRecognitionSuccess(durationSeconds float64) {
	m.RecognitionSuccesses.Inc()
	m.RecognitionDuration.Observe(durationSeconds)
}

// RecordRecognitionFailure records a failed recognition call
func (m *Metrics) RecordRecognitionFailure(durationSeconds float64) {
	m.RecognitionFailures.Inc()
	m.RecognitionDuration.Observe(durationSeconds)
}

// RecordRecognitionRetry increments the retry counter
func (m *Metrics) RecordRecognitionRetry() {
	m.RecognitionRetries.Inc()
}

// RecordResult records the final status of a request
func (m *Metrics) RecordResult(flow, status string) {
	m.Results.WithLabelValues(flow, status).Inc()
}

// RecordTempFileCreated increments the temp file counter
func (m *Metrics) RecordTempFileCreated() {
	m.TempFilesCreated.Inc()
}

// RecordTempFileReleaseFailure increments the temp file deletion failure counter
func (m *Metrics) RecordTempFileReleaseFailure() {
	m.TempFileReleaseFailures.Inc()
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, endpoint, statusCode string, durationSeconds float64) {
	m.HTTPRequests.WithLabelValues(method, endpoint, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(durationSeconds)
}

// RecordHTTPError records an HTTP error
func (m *Metrics) RecordHTTPError(method, endpoint, errorType string) {
	m.HTTPErrors.WithLabelValues(method, endpoint, errorType).Inc()
}
