// Package transcription uploads captured segments to an external
// speech-to-text HTTP service. Recognition itself happens elsewhere;
// this package only encodes the segment, posts it as multipart form data
// and retries transient failures with exponential backoff.
package transcription
