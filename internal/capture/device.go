package capture

import (
	"errors"
	"fmt"
)

// StreamConfig describes the input stream requested from a device
type StreamConfig struct {
	SampleRate      int
	Channels        int
	FramesPerBuffer int
}

// Device opens input streams. onChunk is called from the driver thread with a
// buffer that is only valid for the duration of the call.
type Device interface {
	Open(cfg StreamConfig, onChunk func(samples []float32)) (Stream, error)
}

// Stream is an open input stream
type Stream interface {
	Start() error
	Stop() error
	Close() error
}

// ErrNoDevice is returned by NoDevice
var ErrNoDevice = errors.New("no audio input device configured")

// NoDevice is used when live capture is disabled or unavailable
type NoDevice struct {
	Reason string
}

// Open implements Device
func (d NoDevice) Open(StreamConfig, func([]float32)) (Stream, error) {
	if d.Reason != "" {
		return nil, fmt.Errorf("%w: %s", ErrNoDevice, d.Reason)
	}
	return nil, ErrNoDevice
}
