package capture

import (
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/skypro1111/greenvoice-service/internal/apperror"
	"github.com/skypro1111/greenvoice-service/internal/audio"
	"github.com/skypro1111/greenvoice-service/internal/metrics"
)

// State is the lifecycle state of the recording session
type State int

const (
	StateIdle State = iota
	StateRecording
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRecording:
		return "recording"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// MarshalText encodes the state by name
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Backpressure selects what the driver callback does when the queue is full
type Backpressure string

const (
	// BackpressureDrop discards the newest chunk
	BackpressureDrop Backpressure = "drop"
	// BackpressureBlock waits for space until the session ends
	BackpressureBlock Backpressure = "block"
)

// ParseBackpressure parses a policy name; empty means drop
func ParseBackpressure(s string) (Backpressure, error) {
	switch Backpressure(strings.ToLower(strings.TrimSpace(s))) {
	case "", BackpressureDrop:
		return BackpressureDrop, nil
	case BackpressureBlock:
		return BackpressureBlock, nil
	default:
		return "", fmt.Errorf("unknown backpressure policy %q (want drop or block)", s)
	}
}

// Config contains capture configuration
type Config struct {
	SampleRate      int
	FramesPerBuffer int
	QueueCapacity   int
	Backpressure    Backpressure
}

// session holds the queue of one recording. A new session is created on every
// Start so callbacks that outlive their session cannot write into the next one.
type session struct {
	id        string
	queue     chan audio.Chunk
	done      chan struct{}
	recording atomic.Bool
	seq       atomic.Uint64
	dropped   atomic.Uint64
	startedAt time.Time
}

func newSession(capacity int) *session {
	s := &session{
		id:        uuid.NewString(),
		queue:     make(chan audio.Chunk, capacity),
		done:      make(chan struct{}),
		startedAt: time.Now(),
	}
	s.recording.Store(true)
	return s
}

func (s *session) end() {
	s.recording.Store(false)
	close(s.done)
}

// Service owns the recording session and the device stream
type Service struct {
	config  Config
	device  Device
	logger  *slog.Logger
	metrics *metrics.Metrics

	current atomic.Pointer[session]

	mu     sync.Mutex
	state  State
	stream Stream
}

// NewService creates a capture service in the Idle state
func NewService(config Config, device Device, logger *slog.Logger, m *metrics.Metrics) *Service {
	if config.SampleRate <= 0 {
		config.SampleRate = audio.CanonicalSampleRate
	}
	if config.FramesPerBuffer <= 0 {
		config.FramesPerBuffer = 1024
	}
	if config.QueueCapacity <= 0 {
		config.QueueCapacity = 1024
	}
	if config.Backpressure == "" {
		config.Backpressure = BackpressureDrop
	}
	if device == nil {
		device = NoDevice{}
	}

	return &Service{
		config:  config,
		device:  device,
		logger:  logger,
		metrics: m,
		state:   StateIdle,
	}
}

// State returns the current lifecycle state
func (s *Service) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Recording reports whether a session is active
func (s *Service) Recording() bool {
	return s.State() == StateRecording
}

// Status is a snapshot of the capture service
type Status struct {
	State     State     `json:"state"`
	SessionID string    `json:"session_id,omitempty"`
	Queued    int       `json:"queued_chunks"`
	Dropped   uint64    `json:"dropped_chunks"`
	StartedAt time.Time `json:"started_at,omitempty"`
}

// Status returns the current state and the counters of the active session
func (s *Service) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := Status{State: s.state}
	if sess := s.current.Load(); sess != nil && s.state == StateRecording {
		st.SessionID = sess.id
		st.Queued = len(sess.queue)
		st.Dropped = sess.dropped.Load()
		st.StartedAt = sess.startedAt
	}
	return st
}

// Start begins a recording session. Calling Start while recording discards what
// was captured so far and keeps the stream running.
func (s *Service) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateRecording {
		next := newSession(s.config.QueueCapacity)
		if prev := s.current.Swap(next); prev != nil {
			prev.end()
		}
		s.logger.Info("Recording restarted, buffer reset", slog.String("session_id", next.id))
		return nil
	}

	sess := newSession(s.config.QueueCapacity)
	s.current.Store(sess)

	stream, err := s.device.Open(StreamConfig{
		SampleRate:      s.config.SampleRate,
		Channels:        audio.CanonicalChannels,
		FramesPerBuffer: s.config.FramesPerBuffer,
	}, s.onSamples)
	if err != nil {
		s.abort(sess)
		return apperror.Device("capture.open", err)
	}

	if err := stream.Start(); err != nil {
		if closeErr := stream.Close(); closeErr != nil {
			s.logger.Warn("Failed to close stream after start failure", slog.String("error", closeErr.Error()))
		}
		s.abort(sess)
		return apperror.Device("capture.start", err)
	}

	s.stream = stream
	s.state = StateRecording
	s.metrics.RecordRecordingStarted()

	s.logger.Info("Recording started",
		slog.String("session_id", sess.id),
		slog.Int("sample_rate", s.config.SampleRate),
		slog.Int("queue_capacity", s.config.QueueCapacity),
		slog.String("backpressure", string(s.config.Backpressure)),
	)
	return nil
}

func (s *Service) abort(sess *session) {
	s.current.CompareAndSwap(sess, nil)
	sess.end()
}

// Stop ends the session and returns everything captured, in order, as 16 kHz mono.
// When no session is active it returns an empty result.
func (s *Service) Stop() (audio.Decoded, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	empty := audio.Decoded{SampleRate: audio.CanonicalSampleRate, Channels: audio.CanonicalChannels, Empty: true}

	if s.state != StateRecording {
		return empty, nil
	}

	sess := s.current.Swap(nil)
	if sess != nil {
		sess.end()
	}

	if s.stream != nil {
		if err := s.stream.Stop(); err != nil {
			s.logger.Warn("Failed to stop input stream", slog.String("error", err.Error()))
		}
		if err := s.stream.Close(); err != nil {
			s.logger.Warn("Failed to close input stream", slog.String("error", err.Error()))
		}
		s.stream = nil
	}

	s.state = StateStopped
	s.metrics.RecordRecordingStopped()

	if sess == nil {
		return empty, nil
	}

	buffer := audio.NewBuffer(s.config.SampleRate)
	s.drain(sess, buffer)

	stats := buffer.GetStats()
	s.logger.Info("Recording stopped",
		slog.String("session_id", sess.id),
		slog.Uint64("chunks", stats.TotalChunks),
		slog.Uint64("dropped_chunks", sess.dropped.Load()),
		slog.Int("samples", stats.Samples),
		slog.Duration("elapsed", time.Since(sess.startedAt)),
		slog.Time("first_chunk_at", buffer.GetFirstChunkTime()),
		slog.Time("last_chunk_at", buffer.GetLastUpdate()),
	)

	decoded := buffer.Decoded()
	if decoded.Empty {
		return empty, nil
	}

	if decoded.SampleRate != audio.CanonicalSampleRate {
		resampled, err := audio.Resample(decoded.Samples, decoded.SampleRate, audio.CanonicalSampleRate)
		if err != nil {
			return empty, fmt.Errorf("failed to resample recording: %w", err)
		}
		decoded.Samples = resampled
		decoded.SampleRate = audio.CanonicalSampleRate
	}

	return decoded, nil
}

// drain moves queued chunks into buffer without blocking
func (s *Service) drain(sess *session, buffer *audio.Buffer) {
	for {
		select {
		case chunk := <-sess.queue:
			if err := buffer.Add(chunk); err != nil {
				s.logger.Warn("Discarding chunk", slog.String("error", err.Error()))
			}
		default:
			return
		}
	}
}

// Close stops an active session and releases the device
func (s *Service) Close() error {
	if _, err := s.Stop(); err != nil {
		s.logger.Warn("Failed to stop recording on close", slog.String("error", err.Error()))
	}
	if c, ok := s.device.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// onSamples is the driver callback
func (s *Service) onSamples(samples []float32) {
	sess := s.current.Load()
	if sess == nil || !sess.recording.Load() || len(samples) == 0 {
		return
	}

	chunk := audio.Chunk{
		Seq:        sess.seq.Add(1),
		CapturedAt: time.Now(),
		Samples:    append([]float32(nil), samples...),
	}

	if s.config.Backpressure == BackpressureBlock {
		select {
		case sess.queue <- chunk:
			s.metrics.RecordChunk(false)
		case <-sess.done:
		}
		return
	}

	select {
	case sess.queue <- chunk:
		s.metrics.RecordChunk(false)
	default:
		sess.dropped.Add(1)
		s.metrics.RecordChunk(true)
	}
}
