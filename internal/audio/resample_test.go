package audio

import (
	"math"
	"testing"
)

func sine(n, rate int, freq float64) []float32 {
	out := make([]float32, n)
	for i := range out {
		out[i] = float32(0.5 * math.Sin(2*math.Pi*freq*float64(i)/float64(rate)))
	}
	return out
}

func TestResampleSameRate(t *testing.T) {
	seg := &Segment{Samples: sine(160, 16000, 440), SampleRate: 16000, Offset: 32}

	out, err := Resample(seg, 16000)
	if err != nil {
		t.Fatalf("Resample failed: %v", err)
	}

	if out != seg {
		t.Error("Expected segment at the target rate to be returned unchanged")
	}
}

func TestResampleInvalidRate(t *testing.T) {
	seg := &Segment{Samples: sine(160, 16000, 440), SampleRate: 16000}

	if _, err := Resample(seg, 0); err == nil {
		t.Error("Expected error for zero sample rate")
	}
}

func TestResampleDownsample(t *testing.T) {
	seg := &Segment{Samples: sine(16000, 16000, 440), SampleRate: 16000, Offset: 48000}

	out, err := Resample(seg, 8000)
	if err != nil {
		t.Fatalf("Resample failed: %v", err)
	}

	if out.SampleRate != 8000 {
		t.Errorf("Expected sample rate 8000, got %d", out.SampleRate)
	}
	if out.Offset != seg.Offset {
		t.Errorf("Expected offset %d, got %d", seg.Offset, out.Offset)
	}
	if out.Len() == 0 || out.Len() > 8000+64 {
		t.Errorf("Expected about 8000 samples, got %d", out.Len())
	}

	for i, s := range out.Samples {
		if s < -1 || s > 1 {
			t.Fatalf("Sample %d out of range: %f", i, s)
		}
	}
}
