//go:build portaudio

package main

import (
	"log/slog"

	"github.com/skypro1111/greenvoice-service/internal/capture"
	"github.com/skypro1111/greenvoice-service/internal/capture/microphone"
)

func newCaptureDevice(logger *slog.Logger) capture.Device {
	return microphone.New(logger)
}
