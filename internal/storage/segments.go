package storage

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/skypro1111/mic-capture-service/internal/audio"
	"github.com/skypro1111/mic-capture-service/internal/metrics"
)

const (
	kindAudio = "audio"
	kindText  = "text"
)

// AudioName returns the file name of the index-th segment
func AudioName(index int) string {
	return fmt.Sprintf("audio_input_%d.wav", index)
}

// TextName returns the file name of the index-th transcript
func TextName(index int) string {
	return fmt.Sprintf("text_output_%d.txt", index)
}

// SegmentWriter saves segments as float WAV files and transcripts as text
// files into a FileStore. Failures are logged and returned; they never
// affect capture.
type SegmentWriter struct {
	store   FileStore
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// NewSegmentWriter creates a writer on top of store
func NewSegmentWriter(store FileStore, logger *slog.Logger, m *metrics.Metrics) *SegmentWriter {
	return &SegmentWriter{
		store:   store,
		logger:  logger,
		metrics: m,
	}
}

// SaveSegment writes seg as audio_input_<index>.wav
func (w *SegmentWriter) SaveSegment(ctx context.Context, seg *audio.Segment, index int) error {
	name := AudioName(index)
	start := time.Now()

	data, err := audio.EncodeFloatWAV(seg.Samples, seg.SampleRate)
	if err == nil {
		err = w.store.Put(ctx, name, data, "audio/wav")
	}

	w.metrics.RecordSave(kindAudio, time.Since(start).Seconds(), err)

	if err != nil {
		w.logger.Error("Failed to save segment",
			slog.String("file", name),
			slog.Int("index", index),
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("failed to save %s: %w", name, err)
	}

	w.logger.Info("Segment saved",
		slog.String("file", name),
		slog.String("location", w.store.Location()),
		slog.Int("samples", seg.Len()),
		slog.Int("bytes", len(data)),
		slog.Uint64("offset", seg.Offset),
	)

	return nil
}

// SaveText writes text as text_output_<index>.txt
func (w *SegmentWriter) SaveText(ctx context.Context, text string, index int) error {
	name := TextName(index)
	start := time.Now()

	err := w.store.Put(ctx, name, []byte(text), "text/plain; charset=utf-8")

	w.metrics.RecordSave(kindText, time.Since(start).Seconds(), err)

	if err != nil {
		w.logger.Error("Failed to save text",
			slog.String("file", name),
			slog.Int("index", index),
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("failed to save %s: %w", name, err)
	}

	w.logger.Debug("Text saved",
		slog.String("file", name),
		slog.Int("bytes", len(text)),
	)

	return nil
}

// NextIndex returns the first index at or after start whose audio file is
// not in the store yet, so a restarted service does not overwrite earlier
// segments.
func (w *SegmentWriter) NextIndex(ctx context.Context, start int) (int, error) {
	for index := start; ; index++ {
		exists, err := w.store.Exists(ctx, AudioName(index))
		if err != nil {
			return 0, fmt.Errorf("failed to check %s: %w", AudioName(index), err)
		}
		if !exists {
			return index, nil
		}
	}
}

// Location describes where outputs are written
func (w *SegmentWriter) Location() string {
	return w.store.Location()
}
