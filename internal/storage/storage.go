// Package storage persists captured segments and transcripts.
//
// A FileStore abstracts the backend (a local directory or an S3-compatible
// bucket). SegmentWriter names and encodes the outputs of the capture loop:
// audio_input_<n>.wav and text_output_<n>.txt.
package storage

import (
	"context"
)

// FileStore is a minimal interface for file-oriented storage.
//
// Paths are forward-slash separated and relative to the store root.
// Implementations must be safe for concurrent use.
type FileStore interface {
	// Put writes data to the named file, replacing any existing content.
	// Parent directories are created automatically.
	Put(ctx context.Context, path string, data []byte, contentType string) error

	// Exists reports whether the named file exists.
	Exists(ctx context.Context, path string) (bool, error)

	// Location describes where files end up, for logging.
	Location() string
}
