package capture

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"time"

	"github.com/skypro1111/mic-capture-service/internal/protocol"
)

// receiveLoop is the ingestion goroutine of a session
func (c *Controller) receiveLoop(sess *session) {
	defer sess.wg.Done()

	buffer := make([]byte, c.opts.ReadBufferSize)

	for {
		if sess.ctx.Err() != nil {
			c.logger.Debug("Receive loop stopping", slog.String("session_id", sess.id))
			return
		}

		// The deadline bounds each read; Stop closes the socket to end it early
		if err := sess.conn.SetReadDeadline(time.Now().Add(c.opts.ReceiveTimeout)); err != nil {
			if sess.ctx.Err() != nil {
				return
			}
			c.logger.Error("Failed to set read deadline", slog.String("error", err.Error()))
			if !sleepContext(sess.ctx, c.opts.RetryBackoff) {
				return
			}
			continue
		}

		n, remoteAddr, err := sess.conn.ReadFromUDP(buffer)
		if err != nil {
			if sess.ctx.Err() != nil {
				return
			}

			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}

			c.receiveErrors.Add(1)
			c.metrics.RecordReceiveError()
			c.logger.Error("Failed to read UDP datagram",
				slog.String("session_id", sess.id),
				slog.String("error", err.Error()),
			)

			if errors.Is(err, net.ErrClosed) {
				// Nothing more will arrive on this socket
				return
			}

			if !sleepContext(sess.ctx, c.opts.RetryBackoff) {
				return
			}
			continue
		}

		c.handleDatagram(sess, buffer[:n], remoteAddr)
	}
}

// handleDatagram decodes one datagram and appends its samples
func (c *Controller) handleDatagram(sess *session, data []byte, remoteAddr *net.UDPAddr) {
	c.datagrams.Add(1)

	datagram, err := protocol.DecodeDatagram(data)
	if err != nil {
		c.malformed.Add(1)
		c.metrics.RecordMalformedDatagram()
		c.logger.Debug("Ignoring malformed datagram",
			slog.String("remote_addr", remoteAddr.String()),
			slog.Int("size", len(data)),
			slog.String("error", err.Error()),
		)
		return
	}

	droppedBefore := c.buffer.Dropped()

	// Blocks under the block overflow policy until the consumer makes room
	if err := c.buffer.Append(sess.ctx, datagram.Samples); err != nil {
		return
	}

	c.samples.Add(uint64(len(datagram.Samples)))
	c.metrics.RecordDatagram(len(datagram.Samples))
	c.metrics.RecordDroppedSamples(c.buffer.Dropped() - droppedBefore)
	c.metrics.SetBufferedSamples(c.buffer.Size())
}

// sleepContext waits for d or until ctx is done. It reports whether the full
// duration elapsed.
func sleepContext(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
