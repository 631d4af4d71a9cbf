package ingest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/go-audio/wav"

	"github.com/skypro1111/greenvoice-service/internal/audio"
)

const (
	wavFormatPCM        = 1
	wavFormatExtensible = 0xFFFE
)

// WAVStrategy decodes RIFF/WAVE PCM of any common bit depth, channel count and rate
type WAVStrategy struct{}

// NewWAVStrategy creates the direct decode strategy
func NewWAVStrategy() *WAVStrategy {
	return &WAVStrategy{}
}

// Name implements Strategy
func (s *WAVStrategy) Name() string { return "wav" }

// Decode implements Strategy
func (s *WAVStrategy) Decode(_ context.Context, src Source) (audio.Decoded, error) {
	return decodeWAV(src.Blob.Data)
}

// decodeWAV decodes a WAV file held in memory and canonicalizes it
func decodeWAV(data []byte) (audio.Decoded, error) {
	if len(data) == 0 {
		return audio.Decoded{}, fmt.Errorf("empty input")
	}

	decoder := wav.NewDecoder(bytes.NewReader(data))
	if !decoder.IsValidFile() {
		return audio.Decoded{}, fmt.Errorf("not a valid WAV file")
	}

	if decoder.WavAudioFormat != wavFormatPCM && decoder.WavAudioFormat != wavFormatExtensible {
		return audio.Decoded{}, fmt.Errorf("unsupported WAV encoding %d (only integer PCM)", decoder.WavAudioFormat)
	}

	buf, err := decoder.FullPCMBuffer()
	if err != nil && !errors.Is(err, io.EOF) {
		return audio.Decoded{}, fmt.Errorf("failed to read PCM data: %w", err)
	}

	if buf == nil || len(buf.Data) == 0 {
		return audio.Decoded{}, fmt.Errorf("WAV file contains no samples")
	}

	samples, err := audio.IntToFloat(buf.Data, int(decoder.BitDepth))
	if err != nil {
		return audio.Decoded{}, err
	}

	return audio.Canonicalize(samples, int(decoder.SampleRate), int(decoder.NumChans))
}
