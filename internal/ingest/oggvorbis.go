package ingest

import (
	"bytes"
	"context"
	"fmt"

	"github.com/jfreymuth/oggvorbis"

	"github.com/skypro1111/greenvoice-service/internal/audio"
)

// OggVorbisStrategy decodes Ogg Vorbis with a pure Go decoder and resamples the
// result to the canonical rate.
type OggVorbisStrategy struct{}

// NewOggVorbisStrategy creates the secondary decode strategy
func NewOggVorbisStrategy() *OggVorbisStrategy {
	return &OggVorbisStrategy{}
}

// Name implements Strategy
func (s *OggVorbisStrategy) Name() string { return "oggvorbis" }

// Decode implements Strategy
func (s *OggVorbisStrategy) Decode(_ context.Context, src Source) (audio.Decoded, error) {
	if len(src.Blob.Data) == 0 {
		return audio.Decoded{}, fmt.Errorf("empty input")
	}

	samples, format, err := oggvorbis.ReadAll(bytes.NewReader(src.Blob.Data))
	if err != nil {
		return audio.Decoded{}, fmt.Errorf("ogg vorbis: %w", err)
	}

	if format == nil || format.SampleRate <= 0 || format.Channels <= 0 {
		return audio.Decoded{}, fmt.Errorf("ogg vorbis: missing stream format")
	}

	return audio.Canonicalize(samples, format.SampleRate, format.Channels)
}
