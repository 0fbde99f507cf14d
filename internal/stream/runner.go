package stream

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/skypro1111/mic-capture-service/internal/audio"
	"github.com/skypro1111/mic-capture-service/internal/capture"
	"github.com/skypro1111/mic-capture-service/internal/transcription"
	"github.com/skypro1111/mic-capture-service/internal/vad"
)

// Source hands out fixed-length segments. *capture.Controller satisfies it.
type Source interface {
	WaitForSegment(ctx context.Context, duration time.Duration) (*audio.Segment, error)
	ShutdownRequested() bool
}

// Sink persists segments and transcripts. *storage.SegmentWriter satisfies it.
type Sink interface {
	SaveSegment(ctx context.Context, segment *audio.Segment, index int) error
	SaveText(ctx context.Context, text string, index int) error
}

// Config contains runner configuration
type Config struct {
	SegmentDuration time.Duration
	StartIndex      int
	Detector        *vad.Detector // Silent segments skip transcription, nil disables the check
}

// Runner is the single consumer of captured audio. For every segment it
// saves the WAV, optionally transcribes it and saves the text, under an
// index that increases by one per segment.
type Runner struct {
	source      Source
	sink        Sink
	transcriber transcription.Transcriber
	logger      *slog.Logger
	config      Config

	mu                    sync.RWMutex
	nextIndex             int
	segmentsProcessed     uint64
	saveFailures          uint64
	transcribed           uint64
	transcriptionFailures uint64
	silentSkipped         uint64
	stalls                uint64
	lastSegment           time.Time
}

// RunnerStats represents runner statistics for monitoring
type RunnerStats struct {
	NextIndex             int                `json:"next_index"`
	SegmentsProcessed     uint64             `json:"segments_processed"`
	SaveFailures          uint64             `json:"save_failures"`
	Transcribed           uint64             `json:"transcribed"`
	TranscriptionFailures uint64             `json:"transcription_failures"`
	SilentSkipped         uint64             `json:"silent_skipped"`
	Stalls                uint64             `json:"stalls"`
	LastSegment           time.Time          `json:"last_segment"`
	Silence               *vad.DetectorStats `json:"silence,omitempty"`
}

// NewRunner creates a runner. transcriber may be nil, in which case only
// audio is saved.
func NewRunner(config Config, source Source, sink Sink, transcriber transcription.Transcriber, logger *slog.Logger) (*Runner, error) {
	if config.SegmentDuration <= 0 {
		return nil, fmt.Errorf("segment duration must be positive, got %s", config.SegmentDuration)
	}

	if config.StartIndex < 0 {
		return nil, fmt.Errorf("start index cannot be negative, got %d", config.StartIndex)
	}

	return &Runner{
		source:      source,
		sink:        sink,
		transcriber: transcriber,
		logger:      logger,
		config:      config,
		nextIndex:   config.StartIndex,
	}, nil
}

// Run consumes segments until the source stops, shutdown is requested or
// ctx is done. A stalled wait is logged and retried. Save and
// transcription failures are logged and never end the loop.
func (r *Runner) Run(ctx context.Context) error {
	r.logger.Info("Segment runner started",
		slog.Duration("segment_duration", r.config.SegmentDuration),
		slog.Bool("transcription", r.transcriber != nil),
	)

	for {
		if ctx.Err() != nil || r.source.ShutdownRequested() {
			r.logger.Info("Segment runner stopping")
			return nil
		}

		segment, err := r.source.WaitForSegment(ctx, r.config.SegmentDuration)
		switch {
		case err == nil:
		case errors.Is(err, capture.ErrStalled):
			r.mu.Lock()
			r.stalls++
			r.mu.Unlock()
			r.logger.Warn("No audio from device within the maximum wait")
			continue
		case errors.Is(err, capture.ErrStopped):
			r.logger.Info("Capture stopped, segment runner exiting")
			return nil
		case ctx.Err() != nil:
			return nil
		default:
			return fmt.Errorf("failed to wait for segment: %w", err)
		}

		r.process(ctx, segment, r.takeIndex())
	}
}

// takeIndex returns the current index and advances it
func (r *Runner) takeIndex() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	index := r.nextIndex
	r.nextIndex++
	return index
}

// process saves one segment and its transcript
func (r *Runner) process(ctx context.Context, segment *audio.Segment, index int) {
	r.logger.Debug("Processing segment",
		slog.Int("index", index),
		slog.Uint64("offset", segment.Offset),
		slog.Duration("duration", segment.Duration()),
	)

	saveErr := r.sink.SaveSegment(ctx, segment, index)

	transcribe := r.transcriber != nil
	silent := false
	if transcribe && r.config.Detector != nil {
		result := r.config.Detector.Process(segment.Samples)
		if !result.HasVoice {
			silent = true
			transcribe = false
			r.logger.Debug("Skipping transcription of silent segment",
				slog.Int("index", index),
				slog.Float64("rms", float64(result.RMS)),
			)
		}
	}

	var transcribeErr error
	if transcribe {
		var text string
		text, transcribeErr = r.transcriber.Transcribe(ctx, segment, index)
		if transcribeErr != nil {
			r.logger.Error("Failed to transcribe segment",
				slog.Int("index", index),
				slog.String("error", transcribeErr.Error()),
			)
		} else if err := r.sink.SaveText(ctx, cleanTranscript(text), index); err != nil {
			saveErr = errors.Join(saveErr, err)
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.segmentsProcessed++
	r.lastSegment = time.Now()
	if saveErr != nil {
		r.saveFailures++
	}
	if silent {
		r.silentSkipped++
	}
	if transcribe {
		if transcribeErr != nil {
			r.transcriptionFailures++
		} else {
			r.transcribed++
		}
	}
}

// GetStats returns current runner statistics
func (r *Runner) GetStats() RunnerStats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stats := RunnerStats{
		NextIndex:             r.nextIndex,
		SegmentsProcessed:     r.segmentsProcessed,
		SaveFailures:          r.saveFailures,
		Transcribed:           r.transcribed,
		TranscriptionFailures: r.transcriptionFailures,
		SilentSkipped:         r.silentSkipped,
		Stalls:                r.stalls,
		LastSegment:           r.lastSegment,
	}

	if r.config.Detector != nil {
		silence := r.config.Detector.GetStats()
		stats.Silence = &silence
	}

	return stats
}
