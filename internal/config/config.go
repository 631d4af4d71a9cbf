package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Environment variables that override file values
const (
	EnvRecognizerAPIKey   = "GREENVOICE_RECOGNIZER_API_KEY"
	EnvRecognizerEndpoint = "GREENVOICE_RECOGNIZER_ENDPOINT"
	EnvHTTPPort           = "GREENVOICE_HTTP_PORT"
	EnvLogLevel           = "GREENVOICE_LOG_LEVEL"
)

// Config represents the complete service configuration
type Config struct {
	HTTP       HTTPConfig       `yaml:"http"`
	Audio      AudioConfig      `yaml:"audio"`
	Ingestion  IngestionConfig  `yaml:"ingestion"`
	Capture    CaptureConfig    `yaml:"capture"`
	Recognizer RecognizerConfig `yaml:"recognizer"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// HTTPConfig contains HTTP API server configuration
type HTTPConfig struct {
	Address         string `yaml:"address"`
	Port            int    `yaml:"port"`
	ReadTimeout     int    `yaml:"read_timeout"`     // seconds
	WriteTimeout    int    `yaml:"write_timeout"`    // seconds
	ShutdownTimeout int    `yaml:"shutdown_timeout"` // seconds
	MaxBodyBytes    int64  `yaml:"max_body_bytes"`
}

// AudioConfig contains canonical format and preprocessing parameters
type AudioConfig struct {
	SilenceThreshold float32              `yaml:"silence_threshold"`
	NoiseReduction   NoiseReductionConfig `yaml:"noise_reduction"`
}

// NoiseReductionConfig contains spectral subtraction parameters
type NoiseReductionConfig struct {
	Enabled         bool    `yaml:"enabled"`
	FrameSize       int     `yaml:"frame_size"` // samples
	HopSize         int     `yaml:"hop_size"`   // samples
	NoisePercentile float64 `yaml:"noise_percentile"`
	OverSubtraction float64 `yaml:"over_subtraction"`
	SpectralFloor   float64 `yaml:"spectral_floor"`
}

// IngestionConfig contains upload decoding configuration
type IngestionConfig struct {
	FFmpegPath    string `yaml:"ffmpeg_path"`
	FFmpegTimeout int    `yaml:"ffmpeg_timeout"` // seconds
	TempDir       string `yaml:"temp_dir"`
}

// CaptureConfig contains live recording configuration
type CaptureConfig struct {
	Enabled         bool   `yaml:"enabled"`
	SampleRate      int    `yaml:"sample_rate"`
	FramesPerBuffer int    `yaml:"frames_per_buffer"`
	QueueCapacity   int    `yaml:"queue_capacity"`
	Backpressure    string `yaml:"backpressure"`
}

// RecognizerConfig contains speech recognition backend configuration
type RecognizerConfig struct {
	Backend        string `yaml:"backend"` // "http" or "openai"
	Endpoint       string `yaml:"endpoint"`
	APIKey         string `yaml:"api_key"`
	Model          string `yaml:"model"`
	Language       string `yaml:"language"`
	Timeout        int    `yaml:"timeout"` // seconds
	MaxRetries     int    `yaml:"max_retries"`
	MaxConcurrent  int    `yaml:"max_concurrent"`
	ConcurrentSafe bool   `yaml:"concurrent_safe"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Default returns the configuration used for keys absent from the file
func Default() Config {
	return Config{
		HTTP: HTTPConfig{
			Address:         "0.0.0.0",
			Port:            8000,
			ReadTimeout:     30,
			WriteTimeout:    120,
			ShutdownTimeout: 10,
			MaxBodyBytes:    25 << 20,
		},
		Audio: AudioConfig{
			SilenceThreshold: 0.01,
			NoiseReduction: NoiseReductionConfig{
				Enabled:         true,
				FrameSize:       512,
				HopSize:         128,
				NoisePercentile: 0.1,
				OverSubtraction: 2.0,
				SpectralFloor:   0.02,
			},
		},
		Ingestion: IngestionConfig{
			FFmpegPath:    "ffmpeg",
			FFmpegTimeout: 30,
		},
		Capture: CaptureConfig{
			Enabled:         true,
			SampleRate:      16000,
			FramesPerBuffer: 1024,
			QueueCapacity:   1024,
			Backpressure:    "drop",
		},
		Recognizer: RecognizerConfig{
			Backend:       "http",
			Endpoint:      "http://localhost:8081/transcribe",
			Timeout:       60,
			MaxRetries:    2,
			MaxConcurrent: 1,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			Output: "stdout",
		},
	}
}

// Load reads the configuration file, applies environment overrides and validates the result
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	config := Default()
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	if err := config.ApplyEnv(os.LookupEnv); err != nil {
		return nil, fmt.Errorf("environment override failed: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

// LoadEnvFiles loads variables from .env files into the process environment.
// Missing files are skipped; variables already set are not overwritten.
func LoadEnvFiles(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}

	for _, file := range files {
		if _, err := os.Stat(file); errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err := godotenv.Load(file); err != nil {
			return fmt.Errorf("failed to load %s: %w", file, err)
		}
	}
	return nil
}

// ApplyEnv overrides values from the environment through lookup
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	if v, ok := lookup(EnvRecognizerAPIKey); ok {
		c.Recognizer.APIKey = v
	}

	if v, ok := lookup(EnvRecognizerEndpoint); ok && v != "" {
		c.Recognizer.Endpoint = v
	}

	if v, ok := lookup(EnvHTTPPort); ok && v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s must be an integer, got %q", EnvHTTPPort, v)
		}
		c.HTTP.Port = port
	}

	if v, ok := lookup(EnvLogLevel); ok && v != "" {
		c.Logging.Level = v
	}

	return nil
}

// Validate performs comprehensive validation of the configuration
func (c *Config) Validate() error {
	if err := c.HTTP.Validate(); err != nil {
		return fmt.Errorf("http config: %w", err)
	}

	if err := c.Audio.Validate(); err != nil {
		return fmt.Errorf("audio config: %w", err)
	}

	if err := c.Ingestion.Validate(); err != nil {
		return fmt.Errorf("ingestion config: %w", err)
	}

	if err := c.Capture.Validate(); err != nil {
		return fmt.Errorf("capture config: %w", err)
	}

	if err := c.Recognizer.Validate(); err != nil {
		return fmt.Errorf("recognizer config: %w", err)
	}

	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging config: %w", err)
	}

	return nil
}

// Validate validates HTTP configuration
func (h *HTTPConfig) Validate() error {
	if h.Port < 1 || h.Port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535, got %d", h.Port)
	}

	if h.Address == "" {
		return fmt.Errorf("address cannot be empty")
	}

	if h.ReadTimeout < 1 || h.WriteTimeout < 1 {
		return fmt.Errorf("read_timeout and write_timeout must be at least 1 second, got %d and %d",
			h.ReadTimeout, h.WriteTimeout)
	}

	if h.ShutdownTimeout < 0 {
		return fmt.Errorf("shutdown_timeout cannot be negative, got %d", h.ShutdownTimeout)
	}

	if h.MaxBodyBytes < 1024 {
		return fmt.Errorf("max_body_bytes must be at least 1024, got %d", h.MaxBodyBytes)
	}

	return nil
}

// Validate validates audio configuration
func (a *AudioConfig) Validate() error {
	if a.SilenceThreshold <= 0 || a.SilenceThreshold >= 1 {
		return fmt.Errorf("silence_threshold must be between 0 and 1 (exclusive), got %f", a.SilenceThreshold)
	}

	if err := a.NoiseReduction.Validate(); err != nil {
		return fmt.Errorf("noise_reduction: %w", err)
	}

	return nil
}

// Validate validates noise reduction configuration
func (n *NoiseReductionConfig) Validate() error {
	if !n.Enabled {
		return nil
	}

	if n.FrameSize < 64 || n.FrameSize&(n.FrameSize-1) != 0 {
		return fmt.Errorf("frame_size must be a power of two of at least 64, got %d", n.FrameSize)
	}

	if n.HopSize < 1 || n.HopSize > n.FrameSize/2 {
		return fmt.Errorf("hop_size must be between 1 and frame_size/2, got %d", n.HopSize)
	}

	if n.NoisePercentile <= 0 || n.NoisePercentile > 1 {
		return fmt.Errorf("noise_percentile must be in (0, 1], got %f", n.NoisePercentile)
	}

	if n.OverSubtraction <= 0 {
		return fmt.Errorf("over_subtraction must be positive, got %f", n.OverSubtraction)
	}

	if n.SpectralFloor <= 0 || n.SpectralFloor > 1 {
		return fmt.Errorf("spectral_floor must be in (0, 1], got %f", n.SpectralFloor)
	}

	return nil
}

// Validate validates ingestion configuration
func (i *IngestionConfig) Validate() error {
	if i.FFmpegPath == "" {
		return fmt.Errorf("ffmpeg_path cannot be empty")
	}

	if i.FFmpegTimeout < 1 {
		return fmt.Errorf("ffmpeg_timeout must be at least 1 second, got %d", i.FFmpegTimeout)
	}

	if i.TempDir != "" {
		info, err := os.Stat(i.TempDir)
		if err != nil {
			return fmt.Errorf("temp_dir %s: %w", i.TempDir, err)
		}
		if !info.IsDir() {
			return fmt.Errorf("temp_dir %s is not a directory", i.TempDir)
		}
	}

	return nil
}

// Validate validates capture configuration
func (c *CaptureConfig) Validate() error {
	if !c.Enabled {
		return nil
	}

	if c.SampleRate < 8000 || c.SampleRate > 192000 {
		return fmt.Errorf("sample_rate must be between 8000 and 192000 Hz, got %d", c.SampleRate)
	}

	if c.FramesPerBuffer < 64 {
		return fmt.Errorf("frames_per_buffer must be at least 64, got %d", c.FramesPerBuffer)
	}

	if c.QueueCapacity < 1 {
		return fmt.Errorf("queue_capacity must be at least 1, got %d", c.QueueCapacity)
	}

	validPolicies := map[string]bool{"drop": true, "block": true}
	if !validPolicies[c.Backpressure] {
		return fmt.Errorf("backpressure must be 'drop' or 'block', got '%s'", c.Backpressure)
	}

	return nil
}

// Validate validates recognizer configuration
func (r *RecognizerConfig) Validate() error {
	switch r.Backend {
	case "http":
		if r.Endpoint == "" {
			return fmt.Errorf("endpoint cannot be empty for the http backend")
		}
	case "openai":
		if r.APIKey == "" && r.Endpoint == "" {
			return fmt.Errorf("api_key or endpoint is required for the openai backend")
		}
	default:
		return fmt.Errorf("backend must be 'http' or 'openai', got '%s'", r.Backend)
	}

	if r.Timeout < 1 {
		return fmt.Errorf("timeout must be at least 1 second, got %d", r.Timeout)
	}

	if r.MaxRetries < 0 {
		return fmt.Errorf("max_retries cannot be negative, got %d", r.MaxRetries)
	}

	if r.MaxConcurrent < 1 {
		return fmt.Errorf("max_concurrent must be at least 1, got %d", r.MaxConcurrent)
	}

	return nil
}

// Validate validates logging configuration
func (l *LoggingConfig) Validate() error {
	validLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLevels[l.Level] {
		return fmt.Errorf("level must be one of [debug, info, warn, error], got '%s'", l.Level)
	}

	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[l.Format] {
		return fmt.Errorf("format must be 'json' or 'text', got '%s'", l.Format)
	}

	return nil
}

// GetReadTimeout returns the read timeout as a time.Duration
func (h *HTTPConfig) GetReadTimeout() time.Duration {
	return time.Duration(h.ReadTimeout) * time.Second
}

// GetWriteTimeout returns the write timeout as a time.Duration
func (h *HTTPConfig) GetWriteTimeout() time.Duration {
	return time.Duration(h.WriteTimeout) * time.Second
}

// GetShutdownTimeout returns the graceful shutdown timeout as a time.Duration
func (h *HTTPConfig) GetShutdownTimeout() time.Duration {
	return time.Duration(h.ShutdownTimeout) * time.Second
}

// Addr returns the listen address
func (h *HTTPConfig) Addr() string {
	return fmt.Sprintf("%s:%d", h.Address, h.Port)
}

// GetFFmpegTimeout returns the transcode timeout as a time.Duration
func (i *IngestionConfig) GetFFmpegTimeout() time.Duration {
	return time.Duration(i.FFmpegTimeout) * time.Second
}

// GetTimeoutDuration returns the recognition timeout as a time.Duration
func (r *RecognizerConfig) GetTimeoutDuration() time.Duration {
	return time.Duration(r.Timeout) * time.Second
}
