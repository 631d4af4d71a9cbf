//go:build portaudio

// Package microphone provides a capture.Device backed by the system default input
// device through PortAudio. It requires cgo and the PortAudio library, and is only
// built with the portaudio build tag.
package microphone

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/gordonklaus/portaudio"

	"github.com/skypro1111/greenvoice-service/internal/capture"
)

// Device opens mono float32 input streams on the default input device
type Device struct {
	logger *slog.Logger

	mu          sync.Mutex
	initialized bool
}

// New creates a PortAudio device. PortAudio itself is initialized on first Open.
func New(logger *slog.Logger) *Device {
	return &Device{logger: logger}
}

func (d *Device) init() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.initialized {
		return nil
	}
	if err := portaudio.Initialize(); err != nil {
		return fmt.Errorf("portaudio init failed: %w", err)
	}
	d.initialized = true
	return nil
}

// Open implements capture.Device
func (d *Device) Open(cfg capture.StreamConfig, onChunk func([]float32)) (capture.Stream, error) {
	if err := d.init(); err != nil {
		return nil, err
	}

	input, err := portaudio.DefaultInputDevice()
	if err != nil {
		return nil, fmt.Errorf("no default input device: %w", err)
	}

	params := portaudio.LowLatencyParameters(input, nil)
	params.Input.Channels = cfg.Channels
	params.SampleRate = float64(cfg.SampleRate)
	params.FramesPerBuffer = cfg.FramesPerBuffer

	stream, err := portaudio.OpenStream(params, func(in []float32) {
		onChunk(in)
	})
	if err != nil {
		return nil, fmt.Errorf("open stream failed: %w", err)
	}

	d.logger.Debug("Opened input stream",
		slog.String("device", input.Name),
		slog.Int("sample_rate", cfg.SampleRate),
		slog.Int("frames_per_buffer", cfg.FramesPerBuffer),
	)

	return stream, nil
}

// Close terminates PortAudio
func (d *Device) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.initialized {
		return nil
	}
	d.initialized = false
	return portaudio.Terminate()
}
