// Package vad provides energy-based voice activity detection over captured
// segments. Each segment is split into fixed windows whose RMS level is
// compared against a threshold, so silent segments can be kept out of the
// transcription path.
package vad
