package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/skypro1111/greenvoice-service/internal/capture"
	"github.com/skypro1111/greenvoice-service/internal/config"
	"github.com/skypro1111/greenvoice-service/internal/ingest"
	"github.com/skypro1111/greenvoice-service/internal/metrics"
	"github.com/skypro1111/greenvoice-service/internal/pipeline"
	"github.com/skypro1111/greenvoice-service/internal/preprocess"
	"github.com/skypro1111/greenvoice-service/internal/recognizer"
	"github.com/skypro1111/greenvoice-service/internal/server"
	"github.com/skypro1111/greenvoice-service/internal/tempres"
)

const (
	defaultConfigPath = "configs/config.yaml"
	serviceName       = "greenvoice-service"
	serviceVersion    = "1.0.0"
)

func main() {
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	envFile := flag.String("env", ".env", "Optional .env file with overrides")
	flag.Parse()

	if err := config.LoadEnvFiles(*envFile); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load environment file: %v\n", err)
		os.Exit(1)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger := initLogger(cfg.Logging)

	logger.Info("Service starting",
		slog.String("service", serviceName),
		slog.String("version", serviceVersion),
		slog.String("config_path", *configPath),
	)

	// Log configuration summary (without sensitive data)
	logger.Info("Configuration loaded",
		slog.String("http_address", cfg.HTTP.Addr()),
		slog.Float64("silence_threshold", float64(cfg.Audio.SilenceThreshold)),
		slog.Bool("noise_reduction", cfg.Audio.NoiseReduction.Enabled),
		slog.String("ffmpeg_path", cfg.Ingestion.FFmpegPath),
		slog.Bool("capture_enabled", cfg.Capture.Enabled),
		slog.String("recognizer_backend", cfg.Recognizer.Backend),
		slog.String("recognizer_endpoint", cfg.Recognizer.Endpoint),
		slog.Bool("recognizer_concurrent_safe", cfg.Recognizer.ConcurrentSafe),
		slog.String("log_level", cfg.Logging.Level),
	)

	appMetrics := metrics.NewMetrics()

	temp, err := tempres.NewManager(cfg.Ingestion.TempDir, logger, appMetrics.RecordTempFileReleaseFailure)
	if err != nil {
		logger.Error("Failed to create temp file manager", slog.String("error", err.Error()))
		os.Exit(1)
	}

	decoder := ingest.NewDefaultPipeline(ingest.Config{
		FFmpegPath:    cfg.Ingestion.FFmpegPath,
		FFmpegTimeout: cfg.Ingestion.GetFFmpegTimeout(),
	}, temp, logger, appMetrics)

	if !ingest.NewFFmpegStrategy(cfg.Ingestion.FFmpegPath, 0, temp, logger).Available() {
		logger.Warn("ffmpeg not found, transcode fallback will fail",
			slog.String("ffmpeg_path", cfg.Ingestion.FFmpegPath),
		)
	}

	var reducer preprocess.NoiseReducer
	if nr := cfg.Audio.NoiseReduction; nr.Enabled {
		reducer = preprocess.NewSpectralReducer(preprocess.NoiseConfig{
			FrameSize:       nr.FrameSize,
			HopSize:         nr.HopSize,
			NoisePercentile: nr.NoisePercentile,
			OverSubtraction: nr.OverSubtraction,
			SpectralFloor:   nr.SpectralFloor,
		})
	}
	stage := preprocess.NewStage(preprocess.Config{SilenceThreshold: cfg.Audio.SilenceThreshold}, reducer, logger, appMetrics)

	backend, closeBackend, err := newRecognizer(cfg.Recognizer, logger, appMetrics)
	if err != nil {
		logger.Error("Failed to create recognizer", slog.String("error", err.Error()))
		os.Exit(1)
	}
	rec := recognizer.Guard(backend, cfg.Recognizer.ConcurrentSafe)

	handler := pipeline.NewHandler(pipeline.Config{
		RecognizerTimeout: cfg.Recognizer.GetTimeoutDuration(),
		MaxAudioBytes:     int(cfg.HTTP.MaxBodyBytes),
	}, decoder, stage, rec, temp, logger, appMetrics)

	var device capture.Device = capture.NoDevice{Reason: "live capture disabled in configuration"}
	if cfg.Capture.Enabled {
		device = newCaptureDevice(logger)
	}
	backpressure, err := capture.ParseBackpressure(cfg.Capture.Backpressure)
	if err != nil {
		logger.Error("Invalid capture configuration", slog.String("error", err.Error()))
		os.Exit(1)
	}
	recorder := capture.NewService(capture.Config{
		SampleRate:      cfg.Capture.SampleRate,
		FramesPerBuffer: cfg.Capture.FramesPerBuffer,
		QueueCapacity:   cfg.Capture.QueueCapacity,
		Backpressure:    backpressure,
	}, device, logger, appMetrics)

	httpServer := server.NewHTTPServer(server.HTTPServerConfig{
		Address:      cfg.HTTP.Address,
		Port:         cfg.HTTP.Port,
		ReadTimeout:  cfg.HTTP.GetReadTimeout(),
		WriteTimeout: cfg.HTTP.GetWriteTimeout(),
		MaxBodyBytes: cfg.HTTP.MaxBodyBytes,
	}, handler, recorder, logger, appMetrics)

	if err := httpServer.Start(); err != nil {
		logger.Error("Failed to start HTTP server", slog.String("error", err.Error()))
		os.Exit(1)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	logger.Info("Service started successfully, waiting for signals...",
		slog.String("http_address", cfg.HTTP.Addr()),
	)

	sig := <-sigChan
	logger.Info("Received shutdown signal", slog.String("signal", sig.String()))

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.HTTP.GetShutdownTimeout())
	defer shutdownCancel()

	if err := httpServer.Stop(shutdownCtx); err != nil {
		logger.Error("Error stopping HTTP server", slog.String("error", err.Error()))
	}

	if err := recorder.Close(); err != nil {
		logger.Error("Error releasing capture device", slog.String("error", err.Error()))
	}

	closeBackend()

	created, released := temp.Stats()
	logger.Info("Final temp file statistics",
		slog.Uint64("created", created),
		slog.Uint64("released", released),
		slog.Int64("live", temp.Live()),
	)

	logger.Info("Service stopped")
}

// newRecognizer builds the configured recognition backend and its cleanup
func newRecognizer(cfg config.RecognizerConfig, logger *slog.Logger, m *metrics.Metrics) (recognizer.Transcriber, func(), error) {
	switch cfg.Backend {
	case "openai":
		o, err := recognizer.NewOpenAI(recognizer.OpenAIConfig{
			APIKey:   cfg.APIKey,
			BaseURL:  cfg.Endpoint,
			Model:    cfg.Model,
			Language: cfg.Language,
			Timeout:  cfg.GetTimeoutDuration(),
		}, logger, m)
		if err != nil {
			return nil, nil, err
		}
		return o, func() {}, nil
	default:
		c, err := recognizer.NewClient(recognizer.Config{
			Endpoint:      cfg.Endpoint,
			APIKey:        cfg.APIKey,
			Model:         cfg.Model,
			Language:      cfg.Language,
			Timeout:       cfg.GetTimeoutDuration(),
			MaxRetries:    cfg.MaxRetries,
			MaxConcurrent: cfg.MaxConcurrent,
		}, logger, m)
		if err != nil {
			return nil, nil, err
		}
		return c, func() {
			stats := c.GetStats()
			logger.Info("Final recognizer statistics",
				slog.Uint64("total_requests", stats.TotalRequests),
				slog.Uint64("success_requests", stats.SuccessRequests),
				slog.Uint64("failed_requests", stats.FailedRequests),
				slog.Uint64("total_retries", stats.TotalRetries),
				slog.Duration("avg_response_time", stats.AvgResponseTime),
			)
			c.Close()
		}, nil
	}
}

// initLogger creates and configures the structured logger based on configuration
func initLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: level == slog.LevelDebug, // Add source info for debug level
	}

	var output *os.File
	switch cfg.Output {
	case "stderr":
		output = os.Stderr
	case "stdout", "":
		output = os.Stdout
	default:
		// Assume it's a file path
		file, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to open log file %s: %v, falling back to stdout\n", cfg.Output, err)
			output = os.Stdout
		} else {
			output = file
		}
	}

	var handler slog.Handler
	switch cfg.Format {
	case "json":
		handler = slog.NewJSONHandler(output, opts)
	default:
		handler = slog.NewTextHandler(output, opts)
	}

	return slog.New(handler).With(slog.String("service", serviceName))
}
