// Package bookfeed maintains a local mirror of one instrument's order
// book from a JSON-over-WebSocket snapshot+delta push feed, and delivers
// fixed-depth top-of-book snapshots to a listener on every update.
//
// Grounded on the teacher's WSFeed (internal/exchange/ws.go): connect,
// subscribe, periodic ping, dispatch-by-envelope read loop. Unlike the
// teacher's feed, this one does not auto-reconnect — the agent's
// Non-goals rule that out, so a failed connection is surfaced to the
// caller instead of retried with backoff.
package bookfeed

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"derivquoter/pkg/price"
)

const (
	pingInterval = 14 * time.Second
	writeTimeout = 10 * time.Second
)

// Listener receives the current top-of-book after every applied update
// for the instrument (whether or not the top levels moved): bids first,
// asks second, each a fixed-length, depth-padded slice.
type Listener func(bids, asks []*Entry)

// Observer owns one WebSocket connection to the book feed for a single
// instrument.
type Observer struct {
	instrument price.InstrumentID
	depth      int
	logger     *slog.Logger

	mu       sync.Mutex
	bids     *ladder
	asks     *ladder
	listener Listener
}

// New creates an observer for instrument, extracting the top depth levels
// per side on every update.
func New(instrument price.InstrumentID, depth int, logger *slog.Logger) *Observer {
	return &Observer{
		instrument: instrument,
		depth:      depth,
		logger:     logger.With("component", "book_observer"),
		bids:       newLadder(true),
		asks:       newLadder(false),
	}
}

// SetListener installs the callback invoked after every book update. A
// nil listener (the default) means updates are computed but not
// delivered.
func (o *Observer) SetListener(l Listener) {
	o.mu.Lock()
	o.listener = l
	o.mu.Unlock()
}

// Run dials wsURL, subscribes to the orderbook channel, and processes
// messages until ctx is cancelled or the connection errors. It does not
// reconnect; the caller decides whether and how to retry.
func (o *Observer) Run(ctx context.Context, wsURL string) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return fmt.Errorf("book feed: dial: %w", err)
	}
	defer conn.Close()

	if err := o.subscribe(conn); err != nil {
		return fmt.Errorf("book feed: subscribe: %w", err)
	}

	pingCtx, cancelPing := context.WithCancel(ctx)
	defer cancelPing()
	go o.pingLoop(pingCtx, conn)

	o.logger.Info("book feed connected", "instrument", o.instrument)

	for {
		if ctx.Err() != nil {
			return nil
		}
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("book feed: read: %w", err)
		}
		o.handleMessage(data)
	}
}

func (o *Observer) subscribe(conn *websocket.Conn) error {
	req := subscribeRequest{
		Method: 1,
		Params: subscribeParams{Channel: "orderbook", ID: 1},
	}
	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return conn.WriteJSON(req)
}

func (o *Observer) pingLoop(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout)); err != nil {
				o.logger.Warn("book feed ping failed", "error", err)
				return
			}
		}
	}
}

// handleMessage applies one inbound push to the ladders and then hands the
// listener a fresh top-of-book snapshot, without comparing it to the
// previous one. The entire
// mutation (and reading the listener reference) happens under lock; the
// listener itself is always invoked outside the lock.
func (o *Observer) handleMessage(data []byte) {
	var env inboundEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		o.logger.Debug("ignoring non-json book feed message", "error", err)
		return
	}
	if env.ID != nil {
		// Acknowledgement of our subscription request, not book data.
		return
	}
	if env.Result == nil || env.Result.Channel != "orderbook" {
		return
	}

	key := strconv.Itoa(int(o.instrument))
	book, ok := env.Result.Data.Value[key]
	if !ok {
		return
	}

	var bidsOut, asksOut []*Entry
	var listener Listener

	o.mu.Lock()
	if env.Result.Data.IsSnapshot {
		o.bids.reset()
		o.asks.reset()
	}
	for _, e := range book.Bids {
		o.bids.apply(price.FromMantissaExponent(e.Price.Mantissa, e.Price.Exponent), price.Quantity(e.Size))
	}
	for _, e := range book.Asks {
		o.asks.apply(price.FromMantissaExponent(e.Price.Mantissa, e.Price.Exponent), price.Quantity(e.Size))
	}
	bidsOut = o.bids.topN(o.depth, o.instrument, price.Buy)
	asksOut = o.asks.topN(o.depth, o.instrument, price.Sell)
	listener = o.listener
	o.mu.Unlock()

	if listener != nil {
		listener(bidsOut, asksOut)
	}
}
