package audio

import (
	"fmt"

	resampling "github.com/tphakala/go-audio-resampling"
)

// Resample converts seg to the given sample rate. A segment already at that
// rate is returned unchanged. Offset keeps counting source-rate samples.
func Resample(seg *Segment, rate int) (*Segment, error) {
	if rate <= 0 {
		return nil, fmt.Errorf("sample rate must be positive, got %d", rate)
	}

	if seg.SampleRate == rate || len(seg.Samples) == 0 {
		return seg, nil
	}

	r, err := resampling.New(&resampling.Config{
		InputRate:  float64(seg.SampleRate),
		OutputRate: float64(rate),
		Channels:   1,
		Quality:    resampling.QualitySpec{Preset: resampling.QualityHigh},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create resampler: %w", err)
	}

	input := make([]float64, len(seg.Samples))
	for i, s := range seg.Samples {
		input[i] = float64(s)
	}

	output, err := r.Process(input)
	if err != nil {
		return nil, fmt.Errorf("resample error: %w", err)
	}

	samples := make([]float32, len(output))
	for i, s := range output {
		samples[i] = float32(max(-1.0, min(1.0, s)))
	}

	return &Segment{
		Samples:    samples,
		SampleRate: rate,
		Offset:     seg.Offset,
		CapturedAt: seg.CapturedAt,
	}, nil
}
