package trading

import (
	"context"
	"io"
	"log/slog"

	"derivquoter/internal/wire"
)

// FrameListener receives one decoded frame. With a single listener the
// read buffer itself is handed over; with more than one, each listener
// receives its own independent copy. In both cases the listener may
// retain what it receives.
type FrameListener func(frame []byte)

// FramedReader blocks on conn, parsing length-prefixed frames and handing
// each one to every registered listener. It is grounded on the teacher's
// WSFeed read loop (internal/exchange/ws.go connectAndRead) but replaces
// gorilla/websocket's message framing with the agent's own 2-byte
// length-prefixed binary envelope, since the trading gate is a raw TCP
// socket, not a WebSocket endpoint.
type FramedReader struct {
	conn      io.Reader
	logger    *slog.Logger
	listeners []FrameListener
}

// NewFramedReader builds a reader that dispatches every frame to each of
// listeners in turn.
func NewFramedReader(conn io.Reader, logger *slog.Logger, listeners ...FrameListener) *FramedReader {
	return &FramedReader{
		conn:      conn,
		logger:    logger.With("component", "framed_reader"),
		listeners: listeners,
	}
}

// Run reads frames until ctx is cancelled or the connection errors. It
// exits quietly (nil error) on cancellation; any other read failure is
// returned so the caller can trigger a reconnect or shutdown.
func (r *FramedReader) Run(ctx context.Context) error {
	header := make([]byte, headerSize)
	for {
		if ctx.Err() != nil {
			return nil
		}

		if _, err := io.ReadFull(r.conn, header); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}

		bodyLen := wire.Uint16(header, 0)
		frame := make([]byte, headerSize+int(bodyLen))
		copy(frame, header)
		if bodyLen > 0 {
			if _, err := io.ReadFull(r.conn, frame[headerSize:]); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				return err
			}
		}

		r.deliver(frame)
	}
}

func (r *FramedReader) deliver(frame []byte) {
	if len(r.listeners) == 1 {
		r.listeners[0](frame)
		return
	}
	for _, l := range r.listeners {
		cp := make([]byte, len(frame))
		copy(cp, frame)
		l(cp)
	}
}
