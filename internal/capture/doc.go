// Package capture owns the link to the remote microphone.
//
// A Controller opens a UDP socket, greets the device with the handshake
// payload and runs a single ingestion goroutine that decodes PCM16 datagrams
// into the shared audio.SampleBuffer. The consumer side obtains fixed-length
// segments through WaitForSegment.
//
// Lifecycle: Idle -> Starting -> Running -> Stopping -> Idle. Start and Stop
// are called from normal control flow. Cleanup only requests shutdown and is
// safe to call from a signal-handling goroutine; the join happens in the
// next Stop or Close, after which the controller may be started again.
package capture
