package capture

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/skypro1111/mic-capture-service/internal/audio"
	"github.com/skypro1111/mic-capture-service/internal/metrics"
	"github.com/skypro1111/mic-capture-service/internal/protocol"
)

const testSampleRate = 16000

// fakeDevice plays the microphone: it waits for the handshake and streams
// PCM16 datagrams back to whoever sent it.
type fakeDevice struct {
	t    *testing.T
	conn *net.UDPConn
}

func newFakeDevice(t *testing.T) *fakeDevice {
	t.Helper()

	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Fatalf("Failed to create fake device: %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	return &fakeDevice{t: t, conn: conn}
}

func (d *fakeDevice) Address() string {
	return d.conn.LocalAddr().String()
}

// waitHandshake returns the address of the client that greeted the device
func (d *fakeDevice) waitHandshake() *net.UDPAddr {
	d.t.Helper()

	d.conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 64)
	n, addr, err := d.conn.ReadFromUDP(buf)
	if err != nil {
		d.t.Fatalf("Fake device did not receive handshake: %v", err)
	}

	if string(buf[:n]) != protocol.Handshake {
		d.t.Fatalf("Expected handshake %q, got %q", protocol.Handshake, string(buf[:n]))
	}

	return addr
}

func (d *fakeDevice) send(to *net.UDPAddr, payload []byte) {
	d.t.Helper()

	if _, err := d.conn.WriteToUDP(payload, to); err != nil {
		d.t.Fatalf("Fake device failed to send: %v", err)
	}
}

func pcmRamp(start, n int) []int16 {
	out := make([]int16, n)
	for i := range out {
		out[i] = int16(start + i)
	}
	return out
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestController(t *testing.T, peer string, opts Options) *Controller {
	t.Helper()

	opts.PeerAddress = peer
	if opts.LocalAddress == "" {
		opts.LocalAddress = "127.0.0.1:0"
	}
	if opts.ReceiveTimeout == 0 {
		opts.ReceiveTimeout = 100 * time.Millisecond
	}
	if opts.RetryBackoff == 0 {
		opts.RetryBackoff = 10 * time.Millisecond
	}

	buffer := audio.NewSampleBuffer(audio.BufferConfig{SampleRate: testSampleRate})
	c := NewController(opts, buffer, testLogger(), metrics.NewMetrics(prometheus.NewRegistry()))
	t.Cleanup(func() { c.Close() })

	return c
}

func TestStartSendsHandshakeAndReceivesAudio(t *testing.T) {
	device := newFakeDevice(t)
	c := newTestController(t, device.Address(), Options{})

	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	if !c.IsRunning() {
		t.Fatal("Expected controller to be running after Start")
	}

	client := device.waitHandshake()

	// First datagram carries the leading zero pair, which must be dropped
	first := append([]int16{0, 0}, pcmRamp(1, 160)...)
	device.send(client, protocol.EncodePCM16(first))
	device.send(client, protocol.EncodePCM16(pcmRamp(161, 160)))

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	// 20ms at 16kHz is 320 samples
	segment, err := c.WaitForSegment(ctx, 20*time.Millisecond)
	if err != nil {
		t.Fatalf("WaitForSegment failed: %v", err)
	}

	if segment.Len() != 320 {
		t.Fatalf("Expected 320 samples, got %d", segment.Len())
	}

	for i, s := range segment.Samples {
		expected := float32(i+1) / protocol.PCMScale
		if s != expected {
			t.Fatalf("Sample %d: expected %v, got %v", i, expected, s)
		}
	}

	stats := c.Statistics()
	if stats.DatagramsReceived != 2 {
		t.Errorf("Expected 2 datagrams, got %d", stats.DatagramsReceived)
	}
	if stats.SamplesReceived != 320 {
		t.Errorf("Expected 320 samples received, got %d", stats.SamplesReceived)
	}
	if stats.State != "running" {
		t.Errorf("Expected state running, got %s", stats.State)
	}
	if stats.SessionID == "" {
		t.Error("Expected a session id")
	}
}

func TestMalformedDatagramIgnored(t *testing.T) {
	device := newFakeDevice(t)
	c := newTestController(t, device.Address(), Options{})

	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	client := device.waitHandshake()

	device.send(client, []byte{0x01, 0x02, 0x03})
	device.send(client, protocol.EncodePCM16(pcmRamp(1, 160)))

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	segment, err := c.WaitForSegment(ctx, 10*time.Millisecond)
	if err != nil {
		t.Fatalf("WaitForSegment failed: %v", err)
	}

	if segment.Samples[0] != 1/protocol.PCMScale {
		t.Errorf("Expected first sample from the valid datagram, got %v", segment.Samples[0])
	}

	stats := c.Statistics()
	if stats.MalformedDatagrams != 1 {
		t.Errorf("Expected 1 malformed datagram, got %d", stats.MalformedDatagrams)
	}
	if !c.IsRunning() {
		t.Error("Malformed datagram should not stop the session")
	}
}

func TestStartWhenRunningIsNoop(t *testing.T) {
	device := newFakeDevice(t)
	c := newTestController(t, device.Address(), Options{})

	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	id := c.Statistics().SessionID

	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Second Start failed: %v", err)
	}

	if c.Statistics().SessionID != id {
		t.Error("Second Start should not create a new session")
	}
	if c.Statistics().Sessions != 1 {
		t.Errorf("Expected 1 session, got %d", c.Statistics().Sessions)
	}
}

func TestStopTwice(t *testing.T) {
	device := newFakeDevice(t)
	c := newTestController(t, device.Address(), Options{})

	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	if err := c.Stop(); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}

	if c.IsRunning() {
		t.Error("Expected controller to be stopped")
	}
	if c.State() != StateIdle {
		t.Errorf("Expected state idle, got %s", c.State())
	}

	if err := c.Stop(); !errors.Is(err, ErrNotRunning) {
		t.Errorf("Expected ErrNotRunning on second Stop, got %v", err)
	}
}

func TestStopWithoutStart(t *testing.T) {
	c := newTestController(t, "127.0.0.1:5001", Options{})

	if err := c.Stop(); !errors.Is(err, ErrNotRunning) {
		t.Errorf("Expected ErrNotRunning, got %v", err)
	}
}

func TestStopDoesNotWaitForReceiveTimeout(t *testing.T) {
	device := newFakeDevice(t)
	c := newTestController(t, device.Address(), Options{ReceiveTimeout: 10 * time.Second})

	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	device.waitHandshake()

	// Let the loop block in a read
	time.Sleep(50 * time.Millisecond)

	start := time.Now()
	if err := c.Stop(); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}

	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("Expected Stop to return promptly, took %s", elapsed)
	}
}

func TestRestartCreatesNewSession(t *testing.T) {
	device := newFakeDevice(t)
	c := newTestController(t, device.Address(), Options{})

	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	device.waitHandshake()
	first := c.Statistics().SessionID

	if err := c.Stop(); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}

	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Restart failed: %v", err)
	}
	client := device.waitHandshake()

	if c.Statistics().SessionID == first {
		t.Error("Expected a new session id after restart")
	}

	device.send(client, protocol.EncodePCM16(pcmRamp(1, 160)))

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	if _, err := c.WaitForSegment(ctx, 10*time.Millisecond); err != nil {
		t.Fatalf("WaitForSegment after restart failed: %v", err)
	}
}

func TestStartFailsWithInvalidPeer(t *testing.T) {
	c := newTestController(t, "127.0.0.1:99999", Options{})

	if err := c.Start(context.Background()); err == nil {
		t.Fatal("Expected Start to fail with an invalid peer address")
	}

	if c.IsRunning() {
		t.Error("Controller should not be running after a failed Start")
	}
	if c.State() != StateIdle {
		t.Errorf("Expected state idle, got %s", c.State())
	}
	if err := c.Stop(); !errors.Is(err, ErrNotRunning) {
		t.Errorf("Expected ErrNotRunning after failed Start, got %v", err)
	}
}

func TestCleanupDoesNotBlock(t *testing.T) {
	device := newFakeDevice(t)
	c := newTestController(t, device.Address(), Options{ReceiveTimeout: 10 * time.Second})

	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	device.waitHandshake()

	done := make(chan struct{})
	go func() {
		c.Cleanup()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(100 * time.Millisecond):
		t.Fatal("Cleanup blocked")
	}

	if c.IsRunning() {
		t.Error("Expected IsRunning to be false after Cleanup")
	}
	if !c.ShutdownRequested() {
		t.Error("Expected ShutdownRequested after Cleanup")
	}
	if c.State() != StateStopping {
		t.Errorf("Expected state stopping after Cleanup, got %s", c.State())
	}
	if got := c.Statistics().State; got != "stopping" {
		t.Errorf("Expected statistics state stopping, got %s", got)
	}

	if _, err := c.WaitForSegment(context.Background(), time.Second); !errors.Is(err, ErrStopped) {
		t.Errorf("Expected ErrStopped after Cleanup, got %v", err)
	}

	// Start is refused until the session is joined
	if err := c.Start(context.Background()); !errors.Is(err, ErrShutdownRequested) {
		t.Errorf("Expected ErrShutdownRequested, got %v", err)
	}

	if err := c.Stop(); err != nil {
		t.Errorf("Expected Stop to join the cancelled session, got %v", err)
	}
	if c.ShutdownRequested() {
		t.Error("Expected ShutdownRequested to clear after Stop")
	}
	if c.State() != StateIdle {
		t.Errorf("Expected state idle after Stop, got %s", c.State())
	}
}

func TestCleanupThenRestart(t *testing.T) {
	device := newFakeDevice(t)
	c := newTestController(t, device.Address(), Options{})

	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	device.waitHandshake()
	first := c.Statistics().SessionID

	c.Cleanup()
	if err := c.Stop(); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}

	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Restart after Cleanup failed: %v", err)
	}
	client := device.waitHandshake()

	if !c.IsRunning() {
		t.Error("Expected controller to be running after restart")
	}
	if c.Statistics().SessionID == first {
		t.Error("Expected a new session id after restart")
	}

	device.send(client, protocol.EncodePCM16(pcmRamp(1, 160)))

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	if _, err := c.WaitForSegment(ctx, 10*time.Millisecond); err != nil {
		t.Fatalf("WaitForSegment after restart failed: %v", err)
	}
}

func TestCleanupThenClose(t *testing.T) {
	device := newFakeDevice(t)
	c := newTestController(t, device.Address(), Options{})

	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	device.waitHandshake()

	c.Cleanup()
	if err := c.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start after Close failed: %v", err)
	}
	device.waitHandshake()
}

func TestCleanupBeforeStart(t *testing.T) {
	device := newFakeDevice(t)
	c := newTestController(t, device.Address(), Options{})

	c.Cleanup()

	if err := c.Start(context.Background()); !errors.Is(err, ErrShutdownRequested) {
		t.Errorf("Expected ErrShutdownRequested, got %v", err)
	}
	if c.State() != StateIdle {
		t.Errorf("Expected state idle, got %s", c.State())
	}

	// Stop with no session acknowledges the request
	if err := c.Stop(); !errors.Is(err, ErrNotRunning) {
		t.Errorf("Expected ErrNotRunning, got %v", err)
	}
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start after acknowledged Cleanup failed: %v", err)
	}
	device.waitHandshake()
}

func TestResetOnStart(t *testing.T) {
	tests := []struct {
		name     string
		reset    bool
		expected int
	}{
		{name: "backlog kept", reset: false, expected: 160},
		{name: "backlog discarded", reset: true, expected: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			device := newFakeDevice(t)
			c := newTestController(t, device.Address(), Options{ResetOnStart: tt.reset})

			if err := c.Start(context.Background()); err != nil {
				t.Fatalf("Start failed: %v", err)
			}
			client := device.waitHandshake()
			device.send(client, protocol.EncodePCM16(pcmRamp(1, 160)))

			deadline := time.Now().Add(2 * time.Second)
			for c.Buffer().Size() < 160 && time.Now().Before(deadline) {
				time.Sleep(5 * time.Millisecond)
			}
			if c.Buffer().Size() != 160 {
				t.Fatalf("Expected 160 buffered samples, got %d", c.Buffer().Size())
			}

			if err := c.Stop(); err != nil {
				t.Fatalf("Stop failed: %v", err)
			}
			if err := c.Start(context.Background()); err != nil {
				t.Fatalf("Restart failed: %v", err)
			}
			device.waitHandshake()

			if got := c.Buffer().Size(); got != tt.expected {
				t.Errorf("Expected %d buffered samples after restart, got %d", tt.expected, got)
			}
		})
	}
}

func TestWaitForSegmentReturnsStoppedOnStop(t *testing.T) {
	device := newFakeDevice(t)
	c := newTestController(t, device.Address(), Options{})

	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	errCh := make(chan error, 1)
	go func() {
		_, err := c.WaitForSegment(context.Background(), time.Second)
		errCh <- err
	}()

	time.Sleep(50 * time.Millisecond)
	if err := c.Stop(); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}

	select {
	case err := <-errCh:
		if !errors.Is(err, ErrStopped) {
			t.Errorf("Expected ErrStopped, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("WaitForSegment did not return after Stop")
	}
}

func TestWaitForSegmentWhenIdle(t *testing.T) {
	c := newTestController(t, "127.0.0.1:5001", Options{})

	if _, err := c.WaitForSegment(context.Background(), time.Second); !errors.Is(err, ErrStopped) {
		t.Errorf("Expected ErrStopped when idle, got %v", err)
	}
}

func TestWaitForSegmentStalls(t *testing.T) {
	device := newFakeDevice(t)
	c := newTestController(t, device.Address(), Options{MaxWait: 100 * time.Millisecond})

	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	_, err := c.WaitForSegment(context.Background(), 50*time.Millisecond)
	if !errors.Is(err, ErrStalled) {
		t.Fatalf("Expected ErrStalled, got %v", err)
	}

	if !c.IsRunning() {
		t.Error("A stall should not stop the session")
	}
}

func TestWaitForSegmentCallerCancel(t *testing.T) {
	device := newFakeDevice(t)
	c := newTestController(t, device.Address(), Options{})

	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := c.WaitForSegment(ctx, time.Second)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Expected context.DeadlineExceeded, got %v", err)
	}
}

func TestCloseReleasesSession(t *testing.T) {
	device := newFakeDevice(t)
	c := newTestController(t, device.Address(), Options{})

	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	if err := c.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	if c.IsRunning() {
		t.Error("Expected controller to be stopped after Close")
	}
	if err := c.Close(); err != nil {
		t.Errorf("Expected second Close to succeed, got %v", err)
	}
}

func TestStateString(t *testing.T) {
	tests := []struct {
		state    State
		expected string
	}{
		{StateIdle, "idle"},
		{StateStarting, "starting"},
		{StateRunning, "running"},
		{StateStopping, "stopping"},
		{State(9), "unknown(9)"},
	}

	for _, tt := range tests {
		if tt.state.String() != tt.expected {
			t.Errorf("Expected %s, got %s", tt.expected, tt.state.String())
		}
	}
}
