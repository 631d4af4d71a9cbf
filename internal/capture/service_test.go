package capture

import (
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/skypro1111/greenvoice-service/internal/apperror"
	"github.com/skypro1111/greenvoice-service/internal/metrics"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeDevice records the callback so tests can play the driver thread
type fakeDevice struct {
	mu       sync.Mutex
	openErr  error
	startErr error
	stopErr  error
	callback func([]float32)
	opened   int
	streams  []*fakeStream
}

type fakeStream struct {
	startErr error
	stopErr  error
	started  bool
	stopped  bool
	closed   bool
}

func (s *fakeStream) Start() error { s.started = true; return s.startErr }
func (s *fakeStream) Stop() error  { s.stopped = true; return s.stopErr }
func (s *fakeStream) Close() error { s.closed = true; return nil }

func (d *fakeDevice) Open(cfg StreamConfig, onChunk func([]float32)) (Stream, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.openErr != nil {
		return nil, d.openErr
	}
	d.opened++
	d.callback = onChunk
	s := &fakeStream{startErr: d.startErr, stopErr: d.stopErr}
	d.streams = append(d.streams, s)
	return s, nil
}

func (d *fakeDevice) push(samples ...float32) {
	d.mu.Lock()
	cb := d.callback
	d.mu.Unlock()
	if cb != nil {
		cb(samples)
	}
}

func newTestService(device Device, cfg Config) (*Service, *metrics.Metrics) {
	m := metrics.NewMetrics()
	if cfg.SampleRate == 0 {
		cfg.SampleRate = 16000
	}
	return NewService(cfg, device, testLogger(), m), m
}

func TestStopWithoutStartReturnsEmpty(t *testing.T) {
	svc, _ := newTestService(&fakeDevice{}, Config{})

	out, err := svc.Stop()
	if err != nil {
		t.Fatalf("Stop failed: %v", err)
	}

	if !out.Empty || len(out.Samples) != 0 {
		t.Errorf("Expected empty result, got %+v", out)
	}

	if svc.State() != StateIdle {
		t.Errorf("Expected Idle, got %s", svc.State())
	}
}

func TestRecordingPreservesChunkOrder(t *testing.T) {
	dev := &fakeDevice{}
	svc, m := newTestService(dev, Config{})

	if err := svc.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	if !svc.Recording() {
		t.Fatal("Expected Recording state")
	}

	if got := testutil.ToFloat64(m.Recording); got != 1 {
		t.Errorf("Expected recording gauge 1, got %f", got)
	}

	dev.push(0.1, 0.2)
	dev.push(0.3)
	dev.push(0.4, 0.5, 0.6)

	out, err := svc.Stop()
	if err != nil {
		t.Fatalf("Stop failed: %v", err)
	}

	want := []float32{0.1, 0.2, 0.3, 0.4, 0.5, 0.6}
	if len(out.Samples) != len(want) {
		t.Fatalf("Expected %d samples, got %d", len(want), len(out.Samples))
	}
	for i := range want {
		if out.Samples[i] != want[i] {
			t.Errorf("Sample %d: expected %f, got %f", i, want[i], out.Samples[i])
		}
	}

	if !out.IsCanonical() || out.Empty {
		t.Errorf("Expected canonical non-empty result, got %+v", out)
	}

	s := dev.streams[0]
	if !s.started || !s.stopped || !s.closed {
		t.Errorf("Expected stream started, stopped and closed: %+v", s)
	}

	if svc.State() != StateStopped {
		t.Errorf("Expected Stopped, got %s", svc.State())
	}
}

func TestChunksAfterStopAreDiscarded(t *testing.T) {
	dev := &fakeDevice{}
	svc, _ := newTestService(dev, Config{})

	if err := svc.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	dev.push(0.1)

	if _, err := svc.Stop(); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}

	// driver delivers a late buffer
	dev.push(0.9)

	if err := svc.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	dev.push(0.2)

	out, err := svc.Stop()
	if err != nil {
		t.Fatalf("Stop failed: %v", err)
	}

	if len(out.Samples) != 1 || out.Samples[0] != 0.2 {
		t.Errorf("Expected only the second session's sample, got %v", out.Samples)
	}
}

func TestStopWithNoChunksIsEmpty(t *testing.T) {
	svc, _ := newTestService(&fakeDevice{}, Config{})

	if err := svc.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	out, err := svc.Stop()
	if err != nil {
		t.Fatalf("Stop failed: %v", err)
	}

	if !out.Empty {
		t.Error("Expected empty result")
	}
}

func TestStartDeviceFailureStaysIdle(t *testing.T) {
	tests := []struct {
		name string
		dev  *fakeDevice
	}{
		{"open", &fakeDevice{openErr: errors.New("no microphone")}},
		{"start", &fakeDevice{startErr: errors.New("device busy")}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, _ := newTestService(tt.dev, Config{})

			err := svc.Start()
			if kind := apperror.KindOf(err); kind != apperror.KindDevice {
				t.Fatalf("Expected KindDevice, got %s (%v)", kind, err)
			}

			if svc.State() != StateIdle {
				t.Errorf("Expected Idle after failure, got %s", svc.State())
			}

			if len(tt.dev.streams) > 0 && !tt.dev.streams[0].closed {
				t.Error("Expected failed stream to be closed")
			}

			tt.dev.push(0.5)
			out, _ := svc.Stop()
			if !out.Empty {
				t.Error("Expected empty result after failed start")
			}
		})
	}
}

func TestNoDevice(t *testing.T) {
	svc, _ := newTestService(NoDevice{Reason: "capture disabled"}, Config{})

	err := svc.Start()
	if !errors.Is(err, ErrNoDevice) {
		t.Errorf("Expected ErrNoDevice, got %v", err)
	}

	if apperror.KindOf(err) != apperror.KindDevice {
		t.Errorf("Expected KindDevice, got %s", apperror.KindOf(err))
	}
}

func TestRestartWhileRecordingResetsBuffer(t *testing.T) {
	dev := &fakeDevice{}
	svc, _ := newTestService(dev, Config{})

	if err := svc.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	dev.push(0.1, 0.1)

	if err := svc.Start(); err != nil {
		t.Fatalf("Restart failed: %v", err)
	}
	dev.push(0.7)

	if dev.opened != 1 {
		t.Errorf("Expected stream to be kept, opened %d times", dev.opened)
	}

	out, err := svc.Stop()
	if err != nil {
		t.Fatalf("Stop failed: %v", err)
	}

	if len(out.Samples) != 1 || out.Samples[0] != 0.7 {
		t.Errorf("Expected only post-restart samples, got %v", out.Samples)
	}
}

func TestDropPolicyWhenQueueFull(t *testing.T) {
	dev := &fakeDevice{}
	svc, m := newTestService(dev, Config{QueueCapacity: 2, Backpressure: BackpressureDrop})

	if err := svc.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	dev.push(0.1)
	dev.push(0.2)
	dev.push(0.3)
	dev.push(0.4)

	out, err := svc.Stop()
	if err != nil {
		t.Fatalf("Stop failed: %v", err)
	}

	if len(out.Samples) != 2 || out.Samples[0] != 0.1 || out.Samples[1] != 0.2 {
		t.Errorf("Expected the two oldest chunks, got %v", out.Samples)
	}

	if got := testutil.ToFloat64(m.ChunksDropped); got != 2 {
		t.Errorf("Expected 2 dropped chunks, got %f", got)
	}
}

func TestBlockPolicyReleasedByStop(t *testing.T) {
	dev := &fakeDevice{}
	svc, _ := newTestService(dev, Config{QueueCapacity: 1, Backpressure: BackpressureBlock})

	if err := svc.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	dev.push(0.1)

	blocked := make(chan struct{})
	go func() {
		dev.push(0.2)
		close(blocked)
	}()

	out, err := svc.Stop()
	if err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	<-blocked

	if len(out.Samples) == 0 || out.Samples[0] != 0.1 {
		t.Errorf("Expected first chunk to be kept, got %v", out.Samples)
	}
}

func TestStopResamplesDeviceRate(t *testing.T) {
	dev := &fakeDevice{}
	svc, _ := newTestService(dev, Config{SampleRate: 48000})

	if err := svc.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	dev.push(make([]float32, 4800)...)

	out, err := svc.Stop()
	if err != nil {
		t.Fatalf("Stop failed: %v", err)
	}

	if out.SampleRate != 16000 {
		t.Errorf("Expected 16000 Hz, got %d", out.SampleRate)
	}

	if len(out.Samples) != 1600 {
		t.Errorf("Expected 1600 samples, got %d", len(out.Samples))
	}
}

func TestStopLogsStreamErrors(t *testing.T) {
	dev := &fakeDevice{stopErr: errors.New("device unplugged")}
	svc, _ := newTestService(dev, Config{})

	if err := svc.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	dev.push(0.3)

	out, err := svc.Stop()
	if err != nil {
		t.Fatalf("Expected stream stop error to be logged only, got %v", err)
	}

	if len(out.Samples) != 1 {
		t.Errorf("Expected captured sample to survive, got %v", out.Samples)
	}
}

func TestParseBackpressure(t *testing.T) {
	tests := []struct {
		in      string
		want    Backpressure
		wantErr bool
	}{
		{"", BackpressureDrop, false},
		{"drop", BackpressureDrop, false},
		{" BLOCK ", BackpressureBlock, false},
		{"spill", "", true},
	}

	for _, tt := range tests {
		got, err := ParseBackpressure(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseBackpressure(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
		}
		if got != tt.want {
			t.Errorf("ParseBackpressure(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestStatusReportsActiveSession(t *testing.T) {
	dev := &fakeDevice{}
	svc, _ := newTestService(dev, Config{QueueCapacity: 1, Backpressure: BackpressureDrop})

	if st := svc.Status(); st.State != StateIdle || st.SessionID != "" {
		t.Fatalf("Expected idle status without session, got %+v", st)
	}

	if err := svc.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	dev.push(0.1)
	dev.push(0.2)

	st := svc.Status()
	if st.State != StateRecording {
		t.Errorf("Expected recording state, got %s", st.State)
	}
	if st.SessionID == "" {
		t.Error("Expected a session id while recording")
	}
	if st.Queued != 1 || st.Dropped != 1 {
		t.Errorf("Expected 1 queued and 1 dropped chunk, got %d and %d", st.Queued, st.Dropped)
	}

	if _, err := svc.Stop(); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if st := svc.Status(); st.State != StateStopped || st.Queued != 0 {
		t.Errorf("Expected stopped status after Stop, got %+v", st)
	}
}
