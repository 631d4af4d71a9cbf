package audio

import (
	"fmt"
	"strings"
	"time"
)

const (
	// CanonicalSampleRate is the only sample rate allowed to leave the ingestion pipeline
	CanonicalSampleRate = 16000
	// CanonicalChannels is the only channel count allowed to leave the ingestion pipeline
	CanonicalChannels = 1
)

// Format is the declared container/codec tag of an uploaded blob
type Format string

const (
	FormatUnknown Format = ""
	FormatWAV     Format = "wav"
	FormatWebM    Format = "webm"
	FormatOgg     Format = "ogg"
)

// ParseFormat maps a client supplied format tag to a Format.
// An empty tag is accepted and yields FormatUnknown.
func ParseFormat(tag string) (Format, error) {
	switch Format(strings.ToLower(strings.TrimSpace(tag))) {
	case FormatUnknown:
		return FormatUnknown, nil
	case FormatWAV:
		return FormatWAV, nil
	case FormatWebM:
		return FormatWebM, nil
	case FormatOgg:
		return FormatOgg, nil
	default:
		return FormatUnknown, fmt.Errorf("unsupported audio format %q (expected wav, webm or ogg)", tag)
	}
}

// Extension returns the file extension used when the blob is written to disk
func (f Format) Extension() string {
	if f == FormatUnknown {
		return ".bin"
	}
	return "." + string(f)
}

// Blob is an encoded audio payload as received from a client.
// Data must not be modified after the blob is constructed.
type Blob struct {
	Data   []byte
	Format Format
}

// NewBlob copies data so the blob stays immutable even if the caller reuses its buffer
func NewBlob(data []byte, format Format) Blob {
	cp := make([]byte, len(data))
	copy(cp, data)
	return Blob{Data: cp, Format: format}
}

// Decoded is canonical PCM: float samples in [-1, 1]
type Decoded struct {
	Samples    []float32
	SampleRate int
	Channels   int

	// Empty is set when a capture session produced no audio at all
	Empty bool
}

// IsCanonical reports whether the audio is 16 kHz mono
func (d Decoded) IsCanonical() bool {
	return d.SampleRate == CanonicalSampleRate && d.Channels == CanonicalChannels
}

// Duration returns the playback length of the samples
func (d Decoded) Duration() time.Duration {
	if d.SampleRate <= 0 || d.Channels <= 0 {
		return 0
	}
	frames := len(d.Samples) / d.Channels
	return time.Duration(float64(frames) / float64(d.SampleRate) * float64(time.Second))
}

// Processed is decoded audio after noise reduction and peak normalization
type Processed struct {
	Samples    []float32
	SampleRate int

	// Peak is the peak amplitude of the input before normalization
	Peak float32

	// Silent marks input whose peak was below the silence threshold;
	// Samples are left untouched in that case.
	Silent bool

	// NoiseReduced is false when noise reduction was disabled or fell back to the original signal
	NoiseReduced bool
}

// Chunk is one block of samples delivered by the capture driver
type Chunk struct {
	Seq        uint64
	CapturedAt time.Time
	Samples    []float32
}
