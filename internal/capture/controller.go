package capture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/skypro1111/mic-capture-service/internal/audio"
	"github.com/skypro1111/mic-capture-service/internal/metrics"
	"github.com/skypro1111/mic-capture-service/internal/protocol"
)

var (
	// ErrNotRunning is returned by Stop when no session is active
	ErrNotRunning = errors.New("capture is not running")

	// ErrStopped is returned by WaitForSegment when the session ends before a segment is complete
	ErrStopped = errors.New("capture stopped")

	// ErrStalled is returned by WaitForSegment when the maximum wait elapses
	ErrStalled = errors.New("no complete segment within the maximum wait")

	// ErrShutdownRequested is returned by Start once Cleanup has been called
	ErrShutdownRequested = errors.New("shutdown requested")
)

// State is the lifecycle state of a Controller
type State int32

const (
	StateIdle State = iota
	StateStarting
	StateRunning
	StateStopping
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	default:
		return fmt.Sprintf("unknown(%d)", int32(s))
	}
}

// Options configures a Controller
type Options struct {
	PeerAddress    string        // host:port of the microphone
	LocalAddress   string        // local bind address, ":0" when empty
	ReceiveTimeout time.Duration // deadline for each read
	RetryBackoff   time.Duration // pause after a transport error
	ReadBufferSize int           // bytes per read
	MaxWait        time.Duration // upper bound for WaitForSegment, 0 disables it
	ResetOnStart   bool          // discard samples queued by an earlier session
}

// session is one Start..Stop cycle
type session struct {
	id        string
	conn      *net.UDPConn
	peer      *net.UDPAddr
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	startedAt time.Time
}

// Controller manages capture sessions against a single microphone
type Controller struct {
	opts    Options
	buffer  *audio.SampleBuffer
	logger  *slog.Logger
	metrics *metrics.Metrics

	// mu serializes Start, Stop and Close
	mu       sync.Mutex
	state    atomic.Int32
	sess     atomic.Pointer[session]
	shutdown atomic.Bool

	sessions      atomic.Uint64
	datagrams     atomic.Uint64
	malformed     atomic.Uint64
	samples       atomic.Uint64
	receiveErrors atomic.Uint64
}

// Statistics is a snapshot of the controller for monitoring
type Statistics struct {
	State              string            `json:"state"`
	SessionID          string            `json:"session_id,omitempty"`
	Peer               string            `json:"peer,omitempty"`
	LocalAddress       string            `json:"local_address,omitempty"`
	UptimeSeconds      float64           `json:"uptime_seconds"`
	Sessions           uint64            `json:"sessions"`
	DatagramsReceived  uint64            `json:"datagrams_received"`
	MalformedDatagrams uint64            `json:"malformed_datagrams"`
	SamplesReceived    uint64            `json:"samples_received"`
	ReceiveErrors      uint64            `json:"receive_errors"`
	ShutdownRequested  bool              `json:"shutdown_requested"`
	Buffer             audio.BufferStats `json:"buffer"`
}

// NewController creates a controller that feeds buffer. The buffer outlives
// sessions: a restart keeps whatever samples are still queued.
func NewController(opts Options, buffer *audio.SampleBuffer, logger *slog.Logger, m *metrics.Metrics) *Controller {
	if opts.LocalAddress == "" {
		opts.LocalAddress = ":0"
	}
	if opts.ReceiveTimeout <= 0 {
		opts.ReceiveTimeout = time.Second
	}
	if opts.RetryBackoff < 0 {
		opts.RetryBackoff = 0
	}
	if opts.ReadBufferSize <= 0 {
		opts.ReadBufferSize = protocol.MaxDatagramSize
	}

	return &Controller{
		opts:    opts,
		buffer:  buffer,
		logger:  logger,
		metrics: m,
	}
}

// Start opens the socket, sends the handshake and launches ingestion.
// It returns nil without side effects if a session is already running.
// On failure the controller stays idle. ctx bounds the session lifetime.
// While a Cleanup request is pending, that is until the next Stop or Close
// joins the session, Start returns ErrShutdownRequested.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.shutdown.Load() {
		return ErrShutdownRequested
	}

	if sess := c.sess.Load(); sess != nil {
		if sess.ctx.Err() == nil {
			return nil
		}
		// Cancelled but never joined
		c.stopLocked(sess)
	}

	c.setState(StateStarting)

	sess, err := c.open(ctx)
	if err != nil {
		c.setState(StateIdle)
		c.metrics.RecordSessionFailed()
		c.logger.Error("Failed to start capture",
			slog.String("peer", c.opts.PeerAddress),
			slog.String("error", err.Error()),
		)
		return err
	}

	if c.opts.ResetOnStart {
		if n := c.buffer.Size(); n > 0 {
			c.buffer.Reset()
			c.logger.Info("Discarded samples from previous session", slog.Int("samples", n))
		}
	}

	c.sess.Store(sess)
	c.sessions.Add(1)

	sess.wg.Add(1)
	go c.receiveLoop(sess)

	c.setState(StateRunning)
	c.metrics.RecordSessionStarted()

	// Cleanup may have run before the session was published
	if c.shutdown.Load() {
		sess.cancel()
		c.setState(StateStopping)
		c.logger.Info("Shutdown requested during start", slog.String("session_id", sess.id))
		return ErrShutdownRequested
	}

	c.logger.Info("Capture started",
		slog.String("session_id", sess.id),
		slog.String("peer", sess.peer.String()),
		slog.String("local_address", sess.conn.LocalAddr().String()),
	)

	return nil
}

// open creates the socket and performs the handshake
func (c *Controller) open(ctx context.Context) (*session, error) {
	peer, err := net.ResolveUDPAddr("udp", c.opts.PeerAddress)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve device address: %w", err)
	}

	local, err := net.ResolveUDPAddr("udp", c.opts.LocalAddress)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve local address: %w", err)
	}

	conn, err := net.ListenUDP("udp", local)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on UDP: %w", err)
	}

	if _, err := conn.WriteToUDP([]byte(protocol.Handshake), peer); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to send handshake: %w", err)
	}

	sessCtx, cancel := context.WithCancel(ctx)

	return &session{
		id:        uuid.NewString(),
		conn:      conn,
		peer:      peer,
		ctx:       sessCtx,
		cancel:    cancel,
		startedAt: time.Now(),
	}, nil
}

// Stop ends the current session and waits for ingestion to exit.
// It returns ErrNotRunning when there is nothing to stop.
func (c *Controller) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	sess := c.sess.Load()
	if sess == nil {
		c.shutdown.Store(false)
		return ErrNotRunning
	}

	c.stopLocked(sess)
	return nil
}

// stopLocked tears down sess. Closing the socket unblocks a pending read
// so the join does not wait for the receive deadline.
func (c *Controller) stopLocked(sess *session) {
	c.setState(StateStopping)

	sess.cancel()
	if err := sess.conn.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		c.logger.Warn("Error closing UDP connection", slog.String("error", err.Error()))
	}
	sess.wg.Wait()

	c.sess.Store(nil)
	c.setState(StateIdle)

	// The pending Cleanup request is served
	c.shutdown.Store(false)

	uptime := time.Since(sess.startedAt)
	c.metrics.RecordSessionStopped(uptime.Seconds())

	c.logger.Info("Capture stopped",
		slog.String("session_id", sess.id),
		slog.Duration("uptime", uptime),
		slog.Uint64("datagrams_received", c.datagrams.Load()),
		slog.Uint64("malformed_datagrams", c.malformed.Load()),
	)
}

// Cleanup requests shutdown without blocking. It cancels the running
// session, which wakes any WaitForSegment caller, and marks the controller
// as shutting down until the next Stop or Close joins the session. After
// that the controller can be started again. Safe to call from any goroutine.
func (c *Controller) Cleanup() {
	c.shutdown.Store(true)
	if sess := c.sess.Load(); sess != nil {
		sess.cancel()
		c.state.CompareAndSwap(int32(StateRunning), int32(StateStopping))
	}
}

// Close stops a running session and releases the socket
func (c *Controller) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if sess := c.sess.Load(); sess != nil {
		c.stopLocked(sess)
	}
	return nil
}

// ShutdownRequested reports whether a Cleanup request is pending
func (c *Controller) ShutdownRequested() bool {
	return c.shutdown.Load()
}

// IsRunning reports whether a session is active and not cancelled
func (c *Controller) IsRunning() bool {
	sess := c.sess.Load()
	return sess != nil && sess.ctx.Err() == nil && c.State() == StateRunning
}

// State returns the current lifecycle state
func (c *Controller) State() State {
	return State(c.state.Load())
}

func (c *Controller) setState(s State) {
	c.state.Store(int32(s))
}

// Buffer returns the sample buffer fed by this controller
func (c *Controller) Buffer() *audio.SampleBuffer {
	return c.buffer
}

// WaitForSegment blocks until sampleRate × duration samples are available
// and returns them as a segment. It returns ErrStopped if the session ends
// first, ErrStalled if the maximum wait elapses, or ctx's error. No partial
// segment is ever returned.
func (c *Controller) WaitForSegment(ctx context.Context, duration time.Duration) (*audio.Segment, error) {
	required := audio.SamplesFor(c.buffer.SampleRate(), duration)

	sess := c.sess.Load()
	if sess == nil || sess.ctx.Err() != nil {
		return nil, ErrStopped
	}

	waitCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	stop := context.AfterFunc(sess.ctx, cancel)
	defer stop()

	if c.opts.MaxWait > 0 {
		var timeoutCancel context.CancelFunc
		waitCtx, timeoutCancel = context.WithTimeout(waitCtx, c.opts.MaxWait)
		defer timeoutCancel()
	}

	started := time.Now()
	segment, err := c.buffer.WaitSegment(waitCtx, required)
	if err != nil {
		switch {
		case ctx.Err() != nil:
			return nil, ctx.Err()
		case sess.ctx.Err() != nil:
			return nil, ErrStopped
		case errors.Is(err, context.DeadlineExceeded):
			c.metrics.RecordStall()
			c.logger.Warn("Segment wait stalled",
				slog.String("session_id", sess.id),
				slog.Duration("max_wait", c.opts.MaxWait),
				slog.Int("buffered_samples", c.buffer.Size()),
				slog.Int("required_samples", required),
			)
			return nil, ErrStalled
		default:
			return nil, fmt.Errorf("failed to wait for segment: %w", err)
		}
	}

	c.metrics.RecordSegment(time.Since(started).Seconds())
	c.metrics.SetBufferedSamples(c.buffer.Size())

	return segment, nil
}

// Statistics returns a snapshot of the controller
func (c *Controller) Statistics() Statistics {
	stats := Statistics{
		State:              c.State().String(),
		Sessions:           c.sessions.Load(),
		DatagramsReceived:  c.datagrams.Load(),
		MalformedDatagrams: c.malformed.Load(),
		SamplesReceived:    c.samples.Load(),
		ReceiveErrors:      c.receiveErrors.Load(),
		ShutdownRequested:  c.shutdown.Load(),
		Buffer:             c.buffer.GetStats(),
	}

	if sess := c.sess.Load(); sess != nil {
		stats.SessionID = sess.id
		stats.Peer = sess.peer.String()
		stats.LocalAddress = sess.conn.LocalAddr().String()
		stats.UptimeSeconds = time.Since(sess.startedAt).Seconds()
	}

	return stats
}
