package audio

import (
	"fmt"
	"math"
)

// FloatToPCM16 converts float samples in [-1, 1] to 16-bit PCM, clipping out-of-range values
func FloatToPCM16(samples []float32) []int16 {
	out := make([]int16, len(samples))
	for i, s := range samples {
		v := float64(s) * 32767
		if v > 32767 {
			v = 32767
		} else if v < -32768 {
			v = -32768
		}
		out[i] = int16(math.Round(v))
	}
	return out
}

// IntToFloat converts signed integer PCM of the given bit depth to floats in [-1, 1].
// 8-bit PCM is unsigned in WAV files and is re-centred around zero.
func IntToFloat(data []int, bitDepth int) ([]float32, error) {
	if bitDepth < 8 || bitDepth > 32 {
		return nil, fmt.Errorf("unsupported bit depth %d", bitDepth)
	}

	out := make([]float32, len(data))
	if bitDepth == 8 {
		for i, v := range data {
			out[i] = float32(v-128) / 128
		}
		return out, nil
	}

	scale := float64(int64(1) << uint(bitDepth-1))
	for i, v := range data {
		out[i] = float32(float64(v) / scale)
	}
	return out, nil
}

// Mixdown averages interleaved channels into a mono signal
func Mixdown(samples []float32, channels int) ([]float32, error) {
	if channels <= 0 {
		return nil, fmt.Errorf("channel count must be positive, got %d", channels)
	}
	if channels == 1 {
		return samples, nil
	}

	frames := len(samples) / channels
	mono := make([]float32, frames)
	for i := 0; i < frames; i++ {
		var sum float32
		for c := 0; c < channels; c++ {
			sum += samples[i*channels+c]
		}
		mono[i] = sum / float32(channels)
	}
	return mono, nil
}

// Resample converts a mono signal between sample rates using linear interpolation.
// Returns the input unchanged when the rates already match.
func Resample(samples []float32, fromRate, toRate int) ([]float32, error) {
	if fromRate <= 0 || toRate <= 0 {
		return nil, fmt.Errorf("sample rates must be positive, got %d -> %d", fromRate, toRate)
	}
	if fromRate == toRate || len(samples) == 0 {
		return samples, nil
	}

	ratio := float64(fromRate) / float64(toRate)
	outLen := int(math.Round(float64(len(samples)) / ratio))
	if outLen == 0 {
		outLen = 1
	}

	out := make([]float32, outLen)
	last := len(samples) - 1
	for i := range out {
		pos := float64(i) * ratio
		idx := int(pos)
		if idx >= last {
			out[i] = samples[last]
			continue
		}
		frac := float32(pos - float64(idx))
		out[i] = samples[idx]*(1-frac) + samples[idx+1]*frac
	}
	return out, nil
}

// Canonicalize mixes interleaved audio down to mono and resamples it to 16 kHz
func Canonicalize(samples []float32, sampleRate, channels int) (Decoded, error) {
	mono, err := Mixdown(samples, channels)
	if err != nil {
		return Decoded{}, err
	}

	resampled, err := Resample(mono, sampleRate, CanonicalSampleRate)
	if err != nil {
		return Decoded{}, err
	}

	return Decoded{
		Samples:    resampled,
		SampleRate: CanonicalSampleRate,
		Channels:   CanonicalChannels,
	}, nil
}

// Peak returns the largest absolute sample value
func Peak(samples []float32) float32 {
	var peak float32
	for _, s := range samples {
		if s < 0 {
			s = -s
		}
		if s > peak {
			peak = s
		}
	}
	return peak
}
