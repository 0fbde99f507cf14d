package vad

import (
	"math"
	"testing"
)

func constant(n int, v float32) []float32 {
	samples := make([]float32, n)
	for i := range samples {
		samples[i] = v
	}
	return samples
}

func TestNewDetectorValidation(t *testing.T) {
	tests := []struct {
		name       string
		threshold  float32
		windowSize int
		expectErr  bool
	}{
		{"valid parameters", 0.02, 320, false},
		{"zero threshold", 0, 320, false},
		{"threshold too low", -0.1, 320, true},
		{"threshold too high", 1.1, 320, true},
		{"zero window size", 0.02, 0, true},
		{"negative window size", 0.02, -1, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewDetector(tt.threshold, tt.windowSize)
			if tt.expectErr && err == nil {
				t.Error("Expected error but got none")
			}
			if !tt.expectErr && err != nil {
				t.Errorf("Expected no error but got: %v", err)
			}
		})
	}
}

func TestDetectorSilence(t *testing.T) {
	d, err := NewDetector(0.01, 100)
	if err != nil {
		t.Fatalf("Failed to create detector: %v", err)
	}

	result := d.Process(make([]float32, 1000))

	if result.HasVoice {
		t.Error("Expected silence to have no voice")
	}
	if result.TotalWindows != 10 {
		t.Errorf("Expected 10 windows, got %d", result.TotalWindows)
	}
	if result.VoiceWindows != 0 {
		t.Errorf("Expected 0 voice windows, got %d", result.VoiceWindows)
	}
	if result.RMS != 0 || result.Peak != 0 {
		t.Errorf("Expected zero levels, got rms=%f peak=%f", result.RMS, result.Peak)
	}
}

func TestDetectorVoice(t *testing.T) {
	d, err := NewDetector(0.1, 100)
	if err != nil {
		t.Fatalf("Failed to create detector: %v", err)
	}

	// One loud window among quiet ones
	samples := make([]float32, 500)
	copy(samples[200:300], constant(100, -0.5))

	result := d.Process(samples)

	if !result.HasVoice {
		t.Error("Expected voice to be detected")
	}
	if result.VoiceWindows != 1 {
		t.Errorf("Expected 1 voice window, got %d", result.VoiceWindows)
	}
	if result.Peak != 0.5 {
		t.Errorf("Expected peak 0.5, got %f", result.Peak)
	}

	expectedRMS := math.Sqrt(100 * 0.25 / 500)
	if math.Abs(float64(result.RMS)-expectedRMS) > 1e-6 {
		t.Errorf("Expected RMS %f, got %f", expectedRMS, result.RMS)
	}
}

func TestDetectorPartialWindow(t *testing.T) {
	d, err := NewDetector(0.1, 100)
	if err != nil {
		t.Fatalf("Failed to create detector: %v", err)
	}

	samples := append(make([]float32, 100), constant(30, 0.3)...)
	result := d.Process(samples)

	if result.TotalWindows != 2 {
		t.Errorf("Expected 2 windows, got %d", result.TotalWindows)
	}
	if result.VoiceWindows != 1 {
		t.Errorf("Expected trailing window to count as voice, got %d voice windows", result.VoiceWindows)
	}
}

func TestDetectorZeroThreshold(t *testing.T) {
	d, err := NewDetector(0, 100)
	if err != nil {
		t.Fatalf("Failed to create detector: %v", err)
	}

	if !d.Process(make([]float32, 50)).HasVoice {
		t.Error("Expected zero threshold to pass every non-empty segment")
	}
	if d.Process(nil).HasVoice {
		t.Error("Expected empty input to have no voice")
	}
}

func TestDetectorStats(t *testing.T) {
	d, err := NewDetector(0.1, 100)
	if err != nil {
		t.Fatalf("Failed to create detector: %v", err)
	}

	d.Process(make([]float32, 200))
	d.Process(constant(200, 0.5))

	stats := d.GetStats()
	if stats.TotalSegments != 2 {
		t.Errorf("Expected 2 segments, got %d", stats.TotalSegments)
	}
	if stats.VoiceSegments != 1 {
		t.Errorf("Expected 1 voice segment, got %d", stats.VoiceSegments)
	}
	if stats.TotalWindows != 4 || stats.VoiceWindows != 2 {
		t.Errorf("Expected 2/4 voice windows, got %d/%d", stats.VoiceWindows, stats.TotalWindows)
	}
	if stats.VoicePercentage != 50 {
		t.Errorf("Expected 50%% voice, got %f", stats.VoicePercentage)
	}
	if stats.LastProcessed.IsZero() {
		t.Error("Expected last processed time to be set")
	}
}
