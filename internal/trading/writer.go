package trading

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"time"

	"derivquoter/internal/wire"
)

// OutboundWriter owns the single write side of the trading connection. It
// drains an unbounded FIFO of application frames and, whenever the
// connection has been idle for two-thirds of the negotiated heartbeat
// period, sends a
// bare Sequence frame to keep the session alive. Grounded on the teacher's
// pingLoop (internal/exchange/ws.go), generalized from a fixed ticker into
// an idle-timeout check since this protocol's heartbeat is negotiated at
// Establish time rather than fixed at compile time.
type OutboundWriter struct {
	conn   io.Writer
	logger *slog.Logger

	heartbeat      time.Duration
	heartbeatFrame []byte

	mu       sync.Mutex
	queue    [][]byte
	lastSend time.Time
	wake     chan struct{}
}

// NewOutboundWriter builds a writer that sends a bare Sequence frame,
// 8-byte body filled with 0xFF, whenever the wait for a queued message
// times out.
func NewOutboundWriter(conn io.Writer, heartbeat time.Duration, logger *slog.Logger) *OutboundWriter {
	frame := make([]byte, headerSize+8)
	wire.PutUint16(frame, 0, 8)
	wire.PutUint16(frame, 2, msgSequence)
	copy(frame[4:8], schemaHeader[:])
	for i := headerSize; i < len(frame); i++ {
		frame[i] = 0xFF
	}

	return &OutboundWriter{
		conn:           conn,
		logger:         logger.With("component", "outbound_writer"),
		heartbeat:      heartbeat,
		heartbeatFrame: frame,
		lastSend:       time.Now(),
		wake:           make(chan struct{}, 1),
	}
}

// Enqueue appends frame to the send queue and wakes the writer loop.
func (w *OutboundWriter) Enqueue(frame []byte) {
	w.mu.Lock()
	w.queue = append(w.queue, frame)
	w.mu.Unlock()

	select {
	case w.wake <- struct{}{}:
	default:
	}
}

// Run drains the queue and injects heartbeats until ctx is cancelled or a
// write fails. Each iteration waits for a queued message for two-thirds of
// the heartbeat period minus time elapsed since the last send; if that
// wait times out, it sends the pre-built sequence frame instead. On stop
// it returns immediately without draining whatever is still queued.
func (w *OutboundWriter) Run(ctx context.Context) error {
	for {
		w.mu.Lock()
		elapsed := time.Since(w.lastSend)
		w.mu.Unlock()

		timeout := (2*w.heartbeat/3 - elapsed)
		if timeout < 0 {
			timeout = 0
		}
		timer := time.NewTimer(timeout)

		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-w.wake:
			timer.Stop()
			if err := w.drain(); err != nil {
				return err
			}
		case <-timer.C:
			if err := w.write(w.heartbeatFrame); err != nil {
				return err
			}
		}
	}
}

func (w *OutboundWriter) drain() error {
	for {
		w.mu.Lock()
		if len(w.queue) == 0 {
			w.mu.Unlock()
			return nil
		}
		frame := w.queue[0]
		w.queue = w.queue[1:]
		w.mu.Unlock()

		if err := w.write(frame); err != nil {
			return err
		}
	}
}

func (w *OutboundWriter) write(frame []byte) error {
	if _, err := w.conn.Write(frame); err != nil {
		return err
	}
	w.mu.Lock()
	w.lastSend = time.Now()
	w.mu.Unlock()
	return nil
}
