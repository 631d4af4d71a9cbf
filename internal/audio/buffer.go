package audio

import (
	"fmt"
	"sync"
	"time"
)

// Buffer accumulates capture chunks in arrival order and tracks sequence gaps
// left by chunks that were dropped before reaching it.
type Buffer struct {
	sampleRate int

	samples []float32

	// Sequence tracking
	started bool
	lastSeq uint64

	// Gap tracking
	totalChunks uint64
	lostChunks  uint64

	firstChunkAt time.Time
	lastUpdate   time.Time

	mu sync.RWMutex
}

// BufferStats represents buffer statistics for monitoring
type BufferStats struct {
	TotalChunks uint64  `json:"total_chunks"`
	LostChunks  uint64  `json:"lost_chunks"`
	LossRate    float64 `json:"loss_rate"`
	Samples     int     `json:"samples"`
	LastSeq     uint64  `json:"last_sequence"`
}

// NewBuffer creates an empty buffer for audio captured at sampleRate
func NewBuffer(sampleRate int) *Buffer {
	return &Buffer{
		sampleRate: sampleRate,
		samples:    make([]float32, 0, sampleRate*2), // Pre-allocate for 2 seconds
	}
}

// Add appends a chunk. Chunks must arrive with strictly increasing sequence numbers;
// a skipped sequence number is counted as a lost chunk.
func (b *Buffer) Add(chunk Chunk) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.started && chunk.Seq <= b.lastSeq {
		return fmt.Errorf("chunk out of order: seq=%d, lastSeq=%d", chunk.Seq, b.lastSeq)
	}

	if b.started && chunk.Seq > b.lastSeq+1 {
		b.lostChunks += chunk.Seq - b.lastSeq - 1
	}

	if !b.started {
		b.started = true
		b.firstChunkAt = chunk.CapturedAt
	}

	b.samples = append(b.samples, chunk.Samples...)
	b.lastSeq = chunk.Seq
	b.totalChunks++
	b.lastUpdate = time.Now()

	return nil
}

// Samples returns a copy of the concatenated samples
func (b *Buffer) Samples() []float32 {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]float32, len(b.samples))
	copy(out, b.samples)
	return out
}

// Decoded returns the buffer content as mono audio at the capture rate
func (b *Buffer) Decoded() Decoded {
	samples := b.Samples()
	return Decoded{
		Samples:    samples,
		SampleRate: b.sampleRate,
		Channels:   1,
		Empty:      len(samples) == 0,
	}
}

// GetStats returns current buffer statistics
func (b *Buffer) GetStats() BufferStats {
	b.mu.RLock()
	defer b.mu.RUnlock()

	lossRate := float64(0)
	if seen := b.totalChunks + b.lostChunks; seen > 0 {
		lossRate = float64(b.lostChunks) / float64(seen) * 100
	}

	return BufferStats{
		TotalChunks: b.totalChunks,
		LostChunks:  b.lostChunks,
		LossRate:    lossRate,
		Samples:     len(b.samples),
		LastSeq:     b.lastSeq,
	}
}

// GetFirstChunkTime returns the capture time of the first chunk
func (b *Buffer) GetFirstChunkTime() time.Time {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.firstChunkAt
}

// GetLastUpdate returns the time of the last buffer update
func (b *Buffer) GetLastUpdate() time.Time {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.lastUpdate
}
