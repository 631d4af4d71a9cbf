package preprocess

import (
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/skypro1111/greenvoice-service/internal/audio"
	"github.com/skypro1111/greenvoice-service/internal/metrics"
)

// DefaultSilenceThreshold is the peak amplitude below which input counts as silence
const DefaultSilenceThreshold = 0.01

// collapsedPeak is the peak below which a noise-reduced signal is treated as destroyed
const collapsedPeak = 1e-6

// NoiseReducer removes stationary background noise from mono samples
type NoiseReducer interface {
	Reduce(samples []float32, sampleRate int) ([]float32, error)
}

// Config contains preprocessing configuration
type Config struct {
	SilenceThreshold float32
}

// Stage applies noise reduction, the silence gate and normalization
type Stage struct {
	threshold float32
	reducer   NoiseReducer
	logger    *slog.Logger
	metrics   *metrics.Metrics
}

// NewStage creates a preprocessing stage. A nil reducer disables noise reduction.
func NewStage(cfg Config, reducer NoiseReducer, logger *slog.Logger, m *metrics.Metrics) *Stage {
	threshold := cfg.SilenceThreshold
	if threshold <= 0 {
		threshold = DefaultSilenceThreshold
	}
	return &Stage{
		threshold: threshold,
		reducer:   reducer,
		logger:    logger,
		metrics:   m,
	}
}

// Process returns the cleaned audio. Noise reduction runs first and the silence
// gate applies to its output. It never fails: noise reduction problems fall back
// to the unreduced signal.
func (s *Stage) Process(in audio.Decoded) audio.Processed {
	start := time.Now()
	inputPeak := audio.Peak(in.Samples)

	samples := in.Samples
	reduced := false
	fallback := false

	if s.reducer != nil && inputPeak > 0 {
		out, err := s.reduce(in.Samples, in.SampleRate)
		if err != nil {
			fallback = true
			s.logger.Warn("Noise reduction failed, using original signal",
				slog.Int("samples", len(in.Samples)),
				slog.String("error", err.Error()),
			)
		} else {
			samples = out
			reduced = true
		}
	}

	peak := audio.Peak(samples)
	if peak == 0 || peak < s.threshold {
		s.metrics.RecordPreprocess(true, fallback, time.Since(start).Seconds())
		s.logger.Info("Audio below silence threshold",
			slog.Float64("input_peak", float64(inputPeak)),
			slog.Float64("peak", float64(peak)),
			slog.Float64("threshold", float64(s.threshold)),
			slog.Bool("noise_reduced", reduced),
		)
		return audio.Processed{
			Samples:      samples,
			SampleRate:   in.SampleRate,
			Peak:         peak,
			Silent:       true,
			NoiseReduced: reduced,
		}
	}

	out := normalize(samples)

	s.metrics.RecordPreprocess(false, fallback, time.Since(start).Seconds())
	s.logger.Debug("Audio preprocessed",
		slog.Int("samples", len(out)),
		slog.Float64("input_peak", float64(inputPeak)),
		slog.Float64("peak", float64(peak)),
		slog.Bool("noise_reduced", reduced),
		slog.Duration("duration", time.Since(start)),
	)

	return audio.Processed{
		Samples:      out,
		SampleRate:   in.SampleRate,
		Peak:         peak,
		NoiseReduced: reduced,
	}
}

// reduce runs the reducer and checks that its output is usable
func (s *Stage) reduce(samples []float32, sampleRate int) (out []float32, err error) {
	defer func() {
		if r := recover(); r != nil {
			out = nil
			err = fmt.Errorf("noise reducer panic: %v", r)
		}
	}()

	out, err = s.reducer.Reduce(samples, sampleRate)
	if err != nil {
		return nil, err
	}

	if len(out) != len(samples) {
		return nil, fmt.Errorf("noise reducer returned %d samples, want %d", len(out), len(samples))
	}

	for _, v := range out {
		if math.IsNaN(float64(v)) || math.IsInf(float64(v), 0) {
			return nil, fmt.Errorf("noise reducer produced non-finite samples")
		}
	}

	if audio.Peak(out) < collapsedPeak {
		return nil, fmt.Errorf("noise reducer removed the whole signal")
	}

	return out, nil
}

// normalize scales samples so the peak magnitude is exactly 1.0
func normalize(samples []float32) []float32 {
	out := make([]float32, len(samples))
	peak := audio.Peak(samples)
	if peak == 0 {
		return out
	}

	for i, v := range samples {
		n := v / peak
		if n > 1 {
			n = 1
		} else if n < -1 {
			n = -1
		}
		out[i] = n
	}
	return out
}
