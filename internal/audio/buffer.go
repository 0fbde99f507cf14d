package audio

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// RetentionPolicy decides what stays in the buffer after a segment is extracted
type RetentionPolicy string

const (
	// RetainFIFO copies the oldest samples and removes exactly that many from the head
	RetainFIFO RetentionPolicy = "fifo"

	// RetainWindow copies the most recent samples and empties the buffer
	RetainWindow RetentionPolicy = "window"
)

// OverflowPolicy decides what happens when an append would exceed the capacity
type OverflowPolicy string

const (
	// OverflowDropOldest discards samples from the head to make room
	OverflowDropOldest OverflowPolicy = "drop_oldest"

	// OverflowBlock stalls the producer until the consumer makes room
	OverflowBlock OverflowPolicy = "block"
)

// BufferConfig configures a SampleBuffer
type BufferConfig struct {
	SampleRate int
	Retention  RetentionPolicy
	Capacity   int // Maximum samples held, 0 means unbounded
	Overflow   OverflowPolicy
}

// SampleBuffer is an ordered container of normalized samples shared by one
// producer and one consumer. Every access happens under mu; cond is
// broadcast on every append and extraction.
type SampleBuffer struct {
	config BufferConfig

	mu      sync.Mutex
	cond    *sync.Cond
	samples []float32

	// offset is the absolute stream index of samples[0]
	offset uint64

	appended   uint64
	dropped    uint64
	extracted  uint64
	segments   uint64
	lastAppend time.Time
}

// BufferStats represents buffer statistics for monitoring
type BufferStats struct {
	Size             int       `json:"size_samples"`
	Capacity         int       `json:"capacity_samples"`
	Retention        string    `json:"retention"`
	SamplesAppended  uint64    `json:"samples_appended"`
	SamplesDropped   uint64    `json:"samples_dropped"`
	SamplesExtracted uint64    `json:"samples_extracted"`
	Segments         uint64    `json:"segments"`
	LastAppend       time.Time `json:"last_append"`
}

// NewSampleBuffer creates a new sample buffer
func NewSampleBuffer(cfg BufferConfig) *SampleBuffer {
	if cfg.Retention == "" {
		cfg.Retention = RetainFIFO
	}
	if cfg.Overflow == "" {
		cfg.Overflow = OverflowDropOldest
	}

	b := &SampleBuffer{
		config:  cfg,
		samples: make([]float32, 0, cfg.SampleRate*2), // Pre-allocate for 2 seconds
	}
	b.cond = sync.NewCond(&b.mu)
	return b
}

// Append adds samples at the tail. With the block overflow policy it waits
// for room until ctx is done, returning the context error in that case.
func (b *SampleBuffer) Append(ctx context.Context, samples []float32) error {
	if len(samples) == 0 {
		return nil
	}

	if b.config.Capacity > 0 && b.config.Overflow == OverflowBlock {
		stop := context.AfterFunc(ctx, b.broadcast)
		defer stop()
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if c := b.config.Capacity; c > 0 {
		if len(samples) > c {
			// A single append larger than the whole buffer keeps only its tail
			b.dropped += uint64(len(samples) - c)
			samples = samples[len(samples)-c:]
		}

		switch b.config.Overflow {
		case OverflowBlock:
			for len(b.samples)+len(samples) > c {
				if err := ctx.Err(); err != nil {
					return err
				}
				b.cond.Wait()
			}
		default:
			if excess := len(b.samples) + len(samples) - c; excess > 0 {
				b.discardLocked(excess)
				b.dropped += uint64(excess)
			}
		}
	}

	b.samples = append(b.samples, samples...)
	b.appended += uint64(len(samples))
	b.lastAppend = time.Now()
	b.cond.Broadcast()

	return nil
}

// WaitSegment blocks until at least n samples are buffered, then extracts a
// segment according to the retention policy. It returns the context error
// without extracting anything if ctx is done first.
func (b *SampleBuffer) WaitSegment(ctx context.Context, n int) (*Segment, error) {
	if n <= 0 {
		return nil, fmt.Errorf("segment length must be positive, got %d", n)
	}

	if c := b.config.Capacity; c > 0 && n > c {
		return nil, fmt.Errorf("segment of %d samples exceeds buffer capacity %d", n, c)
	}

	stop := context.AfterFunc(ctx, b.broadcast)
	defer stop()

	b.mu.Lock()
	defer b.mu.Unlock()

	for len(b.samples) < n {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		b.cond.Wait()
	}

	return b.extractLocked(n), nil
}

// TryExtract extracts a segment of n samples if enough are buffered
func (b *SampleBuffer) TryExtract(n int) (*Segment, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if n <= 0 || len(b.samples) < n {
		return nil, false
	}
	return b.extractLocked(n), true
}

// extractLocked copies n samples out of the buffer and applies the retention policy
func (b *SampleBuffer) extractLocked(n int) *Segment {
	out := make([]float32, n)
	var offset uint64

	switch b.config.Retention {
	case RetainWindow:
		start := len(b.samples) - n
		copy(out, b.samples[start:])
		offset = b.offset + uint64(start)
		b.discardLocked(len(b.samples))
	default:
		copy(out, b.samples[:n])
		offset = b.offset
		b.discardLocked(n)
	}

	b.extracted += uint64(n)
	b.segments++

	// Wake a producer waiting for room
	b.cond.Broadcast()

	return &Segment{
		Samples:    out,
		SampleRate: b.config.SampleRate,
		Offset:     offset,
		CapturedAt: time.Now(),
	}
}

// discardLocked removes n samples from the head, shifting the remainder down
// so the backing array does not grow without bound.
func (b *SampleBuffer) discardLocked(n int) {
	if n >= len(b.samples) {
		b.offset += uint64(len(b.samples))
		b.samples = b.samples[:0]
		return
	}

	remaining := copy(b.samples, b.samples[n:])
	b.samples = b.samples[:remaining]
	b.offset += uint64(n)
}

func (b *SampleBuffer) broadcast() {
	b.mu.Lock()
	b.cond.Broadcast()
	b.mu.Unlock()
}

// Reset discards all buffered samples
func (b *SampleBuffer) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.discardLocked(len(b.samples))
	b.cond.Broadcast()
}

// Size returns the current number of samples in the buffer
func (b *SampleBuffer) Size() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.samples)
}

// SampleRate returns the configured sample rate
func (b *SampleBuffer) SampleRate() int {
	return b.config.SampleRate
}

// Dropped returns the number of samples discarded by the overflow policy
func (b *SampleBuffer) Dropped() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dropped
}

// GetStats returns current buffer statistics
func (b *SampleBuffer) GetStats() BufferStats {
	b.mu.Lock()
	defer b.mu.Unlock()

	return BufferStats{
		Size:             len(b.samples),
		Capacity:         b.config.Capacity,
		Retention:        string(b.config.Retention),
		SamplesAppended:  b.appended,
		SamplesDropped:   b.dropped,
		SamplesExtracted: b.extracted,
		Segments:         b.segments,
		LastAppend:       b.lastAppend,
	}
}
