package recognizer

import (
	"context"
	"errors"
	"fmt"

	"github.com/skypro1111/greenvoice-service/internal/apperror"
	"github.com/skypro1111/greenvoice-service/internal/audio"
)

// Transcriber turns preprocessed audio into text
type Transcriber interface {
	Transcribe(ctx context.Context, in audio.Processed) (string, error)
}

// TranscriberFunc adapts a function to Transcriber
type TranscriberFunc func(ctx context.Context, in audio.Processed) (string, error)

// Transcribe implements Transcriber
func (f TranscriberFunc) Transcribe(ctx context.Context, in audio.Processed) (string, error) {
	return f(ctx, in)
}

// Loader is implemented by backends that can report model readiness
type Loader interface {
	Loaded() bool
}

// IsLoaded reports readiness of t; backends without a notion of readiness are always ready
func IsLoaded(t Transcriber) bool {
	if l, ok := t.(Loader); ok {
		return l.Loaded()
	}
	return t != nil
}

// Guard returns t unchanged when it is safe for concurrent use, otherwise a
// Transcriber that admits one call at a time.
func Guard(t Transcriber, concurrentSafe bool) Transcriber {
	if concurrentSafe {
		return t
	}
	return &guarded{inner: t, lock: make(chan struct{}, 1)}
}

type guarded struct {
	inner Transcriber
	lock  chan struct{}
}

func (g *guarded) Transcribe(ctx context.Context, in audio.Processed) (string, error) {
	select {
	case g.lock <- struct{}{}:
		defer func() { <-g.lock }()
	case <-ctx.Done():
		return "", classify("recognizer.guard", ctx.Err())
	}
	return g.inner.Transcribe(ctx, in)
}

func (g *guarded) Loaded() bool {
	return IsLoaded(g.inner)
}

// encodeRequestAudio renders processed audio as a 16-bit mono WAV file
func encodeRequestAudio(in audio.Processed) ([]byte, error) {
	if len(in.Samples) == 0 {
		return nil, apperror.Input("recognizer.encode", fmt.Errorf("no samples to transcribe"))
	}
	rate := in.SampleRate
	if rate <= 0 {
		rate = audio.CanonicalSampleRate
	}
	return audio.EncodeWAV(in.Samples, rate, audio.CanonicalChannels)
}

// classify wraps a backend failure in the matching error kind
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	if apperror.KindOf(err) != apperror.KindUnknown {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return apperror.Timeout(op, err)
	}
	return apperror.Model(op, err)
}
