package vad

import (
	"fmt"
	"math"
	"sync"
	"time"
)

// Detector decides whether a block of samples contains voice
type Detector struct {
	threshold  float32 // RMS level in [0, 1]
	windowSize int     // samples per window

	// Statistics
	totalSegments uint64
	voiceSegments uint64
	totalWindows  uint64
	voiceWindows  uint64
	lastProcessed time.Time

	mu sync.RWMutex
}

// Result represents the outcome of analysing one segment
type Result struct {
	RMS          float32 `json:"rms"`           // RMS of the whole segment
	Peak         float32 `json:"peak"`          // Largest absolute sample
	VoiceWindows int     `json:"voice_windows"` // Windows at or above the threshold
	TotalWindows int     `json:"total_windows"`
	HasVoice     bool    `json:"has_voice"`
}

// DetectorStats represents detector statistics
type DetectorStats struct {
	Threshold       float32   `json:"threshold"`
	WindowSize      int       `json:"window_size"`
	TotalSegments   uint64    `json:"total_segments"`
	VoiceSegments   uint64    `json:"voice_segments"`
	TotalWindows    uint64    `json:"total_windows"`
	VoiceWindows    uint64    `json:"voice_windows"`
	VoicePercentage float64   `json:"voice_percentage"`
	LastProcessed   time.Time `json:"last_processed"`
}

// NewDetector creates a detector. A threshold of 0 marks every non-empty
// segment as voice.
func NewDetector(threshold float32, windowSize int) (*Detector, error) {
	if threshold < 0 || threshold > 1 {
		return nil, fmt.Errorf("threshold must be between 0 and 1, got %f", threshold)
	}

	if windowSize <= 0 {
		return nil, fmt.Errorf("window size must be positive, got %d", windowSize)
	}

	return &Detector{
		threshold:  threshold,
		windowSize: windowSize,
	}, nil
}

// Process analyses samples window by window. A trailing partial window
// counts as a window of its own.
func (d *Detector) Process(samples []float32) Result {
	var result Result
	if len(samples) == 0 {
		return result
	}

	var total float64
	for start := 0; start < len(samples); start += d.windowSize {
		end := min(start+d.windowSize, len(samples))

		var energy float64
		for _, s := range samples[start:end] {
			v := float64(s)
			energy += v * v
			if a := float32(math.Abs(v)); a > result.Peak {
				result.Peak = a
			}
		}
		total += energy

		result.TotalWindows++
		if float32(math.Sqrt(energy/float64(end-start))) >= d.threshold {
			result.VoiceWindows++
		}
	}

	result.RMS = float32(math.Sqrt(total / float64(len(samples))))
	result.HasVoice = result.VoiceWindows > 0

	d.mu.Lock()
	defer d.mu.Unlock()

	d.totalSegments++
	if result.HasVoice {
		d.voiceSegments++
	}
	d.totalWindows += uint64(result.TotalWindows)
	d.voiceWindows += uint64(result.VoiceWindows)
	d.lastProcessed = time.Now()

	return result
}

// GetStats returns current detector statistics
func (d *Detector) GetStats() DetectorStats {
	d.mu.RLock()
	defer d.mu.RUnlock()

	voicePercentage := float64(0)
	if d.totalWindows > 0 {
		voicePercentage = float64(d.voiceWindows) / float64(d.totalWindows) * 100
	}

	return DetectorStats{
		Threshold:       d.threshold,
		WindowSize:      d.windowSize,
		TotalSegments:   d.totalSegments,
		VoiceSegments:   d.voiceSegments,
		TotalWindows:    d.totalWindows,
		VoiceWindows:    d.voiceWindows,
		VoicePercentage: voicePercentage,
		LastProcessed:   d.lastProcessed,
	}
}

// Threshold returns the voice threshold
func (d *Detector) Threshold() float32 {
	return d.threshold
}
