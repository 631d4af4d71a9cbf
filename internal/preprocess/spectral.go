package preprocess

import (
	"errors"
	"math"
	"math/cmplx"
	"sort"

	"gonum.org/v1/gonum/dsp/fourier"
)

// NoiseConfig tunes spectral subtraction
type NoiseConfig struct {
	FrameSize       int
	HopSize         int
	NoisePercentile float64
	OverSubtraction float64
	SpectralFloor   float64
}

// DefaultNoiseConfig returns the settings used when none are configured
func DefaultNoiseConfig() NoiseConfig {
	return NoiseConfig{
		FrameSize:       512,
		HopSize:         128,
		NoisePercentile: 0.1,
		OverSubtraction: 2.0,
		SpectralFloor:   0.02,
	}
}

// stationaryRatio is the quiet-to-median frame energy ratio above which the
// signal has no distinguishable noise floor and is left untouched
const stationaryRatio = 0.99

// ErrTooShort is returned for input shorter than one analysis frame
var ErrTooShort = errors.New("input shorter than one analysis frame")

// SpectralReducer implements NoiseReducer with short-time spectral subtraction.
// The noise spectrum is the mean magnitude of the quietest frames.
type SpectralReducer struct {
	cfg    NoiseConfig
	window []float64
}

// NewSpectralReducer creates a reducer; zero fields take their defaults
func NewSpectralReducer(cfg NoiseConfig) *SpectralReducer {
	def := DefaultNoiseConfig()
	if cfg.FrameSize <= 0 {
		cfg.FrameSize = def.FrameSize
	}
	if cfg.HopSize <= 0 || cfg.HopSize > cfg.FrameSize {
		cfg.HopSize = cfg.FrameSize / 4
	}
	if cfg.NoisePercentile <= 0 || cfg.NoisePercentile > 1 {
		cfg.NoisePercentile = def.NoisePercentile
	}
	if cfg.OverSubtraction <= 0 {
		cfg.OverSubtraction = def.OverSubtraction
	}
	if cfg.SpectralFloor <= 0 || cfg.SpectralFloor > 1 {
		cfg.SpectralFloor = def.SpectralFloor
	}

	window := make([]float64, cfg.FrameSize)
	for i := range window {
		window[i] = 0.5 - 0.5*math.Cos(2*math.Pi*float64(i)/float64(cfg.FrameSize))
	}

	return &SpectralReducer{cfg: cfg, window: window}
}

// Reduce implements NoiseReducer
func (r *SpectralReducer) Reduce(samples []float32, _ int) ([]float32, error) {
	n := r.cfg.FrameSize
	hop := r.cfg.HopSize
	if len(samples) < n {
		return nil, ErrTooShort
	}

	// pad so every input sample is covered by the same number of frames
	front := n - hop
	total := front + len(samples) + front
	if rem := (total - n) % hop; rem != 0 {
		total += hop - rem
	}
	padded := make([]float64, total)
	for i, v := range samples {
		padded[front+i] = float64(v)
	}

	numFrames := (total-n)/hop + 1
	fft := fourier.NewFFT(n)
	frame := make([]float64, n)
	spectra := make([][]complex128, numFrames)
	energy := make([]float64, numFrames)

	for f := 0; f < numFrames; f++ {
		start := f * hop
		for i := 0; i < n; i++ {
			frame[i] = padded[start+i] * r.window[i]
		}
		coeff := fft.Coefficients(nil, frame)
		spectra[f] = coeff
		for _, c := range coeff {
			m := cmplx.Abs(c)
			energy[f] += m * m
		}
	}

	noise := r.noiseProfile(spectra, energy, front, len(samples))
	if noise == nil {
		return append([]float32(nil), samples...), nil
	}

	out := make([]float64, total)
	norm := make([]float64, total)
	for f, coeff := range spectra {
		for k, c := range coeff {
			mag := cmplx.Abs(c)
			if mag == 0 {
				continue
			}
			cleaned := math.Max(mag-r.cfg.OverSubtraction*noise[k], r.cfg.SpectralFloor*mag)
			coeff[k] = c * complex(cleaned/mag, 0)
		}

		seq := fft.Sequence(nil, coeff)
		start := f * hop
		for i := 0; i < n; i++ {
			w := r.window[i]
			out[start+i] += seq[i] / float64(n) * w
			norm[start+i] += w * w
		}
	}

	result := make([]float32, len(samples))
	for i := range result {
		if d := norm[front+i]; d > 1e-8 {
			result[i] = float32(out[front+i] / d)
		}
	}
	return result, nil
}

// noiseProfile averages the magnitude spectra of the quietest frames that lie fully
// inside the original signal. It returns nil when every frame carries the same
// energy, as for a steady tone, since the quietest frames are then the signal itself.
func (r *SpectralReducer) noiseProfile(spectra [][]complex128, energy []float64, front, length int) []float64 {
	n := r.cfg.FrameSize
	hop := r.cfg.HopSize

	candidates := make([]int, 0, len(spectra))
	for f := range spectra {
		start := f * hop
		if start >= front && start+n <= front+length {
			candidates = append(candidates, f)
		}
	}
	if len(candidates) == 0 {
		for f := range spectra {
			candidates = append(candidates, f)
		}
	}

	sort.SliceStable(candidates, func(a, b int) bool {
		return energy[candidates[a]] < energy[candidates[b]]
	})

	count := int(math.Ceil(r.cfg.NoisePercentile * float64(len(candidates))))
	if count < 1 {
		count = 1
	}

	var quiet float64
	for _, f := range candidates[:count] {
		quiet += energy[f]
	}
	quiet /= float64(count)
	median := energy[candidates[len(candidates)/2]]
	if median <= 0 || quiet >= stationaryRatio*median {
		return nil
	}

	bins := n/2 + 1
	profile := make([]float64, bins)
	for _, f := range candidates[:count] {
		for k, c := range spectra[f] {
			profile[k] += cmplx.Abs(c)
		}
	}
	for k := range profile {
		profile[k] /= float64(count)
	}
	return profile
}
