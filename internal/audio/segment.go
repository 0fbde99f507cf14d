package audio

import (
	"fmt"
	"time"
)

// Segment is a fixed-length run of samples handed to the consumer.
// It is owned by the caller once returned and never modified by the buffer.
type Segment struct {
	Samples    []float32
	SampleRate int
	Offset     uint64 // Stream index of the first sample
	CapturedAt time.Time
}

// SamplesFor returns the number of samples in the given duration
func SamplesFor(sampleRate int, d time.Duration) int {
	return int(int64(sampleRate) * int64(d) / int64(time.Second))
}

// Len returns the number of samples
func (s *Segment) Len() int {
	return len(s.Samples)
}

// Duration returns the audio duration of the segment
func (s *Segment) Duration() time.Duration {
	if s.SampleRate <= 0 {
		return 0
	}
	return time.Duration(len(s.Samples)) * time.Second / time.Duration(s.SampleRate)
}

// End returns the stream index one past the last sample
func (s *Segment) End() uint64 {
	return s.Offset + uint64(len(s.Samples))
}

// String returns a human-readable representation of the segment
func (s *Segment) String() string {
	return fmt.Sprintf("Segment{Offset:%d, Samples:%d, Duration:%s}", s.Offset, len(s.Samples), s.Duration())
}
