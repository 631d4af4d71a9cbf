//go:build !portaudio

package main

import (
	"log/slog"

	"github.com/skypro1111/greenvoice-service/internal/capture"
)

func newCaptureDevice(logger *slog.Logger) capture.Device {
	logger.Warn("Built without the portaudio tag, live recording is unavailable")
	return capture.NoDevice{Reason: "binary built without microphone support (rebuild with -tags portaudio)"}
}
