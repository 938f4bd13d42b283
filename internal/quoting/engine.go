// Package quoting implements the single-writer strategy loop that
// reconciles desired quotes against live orders: it recomputes a target
// bid/ask around the observed market mid, dispatches new or replacement
// orders subject to a sliding-window send-rate limit, and reacts to
// execution reports, rejects, and session termination without losing
// ordering.
//
// Grounded on the teacher's strategy.Maker (internal/strategy/maker.go)
// for the overall shape — a per-market state struct driven by a select
// loop reacting to inbound events — generalized from Avellaneda-Stoikov
// continuous repricing into this protocol's mid-plus-interest-minus-skew
// formula, and from Polymarket's multi-order reconciliation into the
// "exactly one bid, one ask" single-pair model.
package quoting

import (
	"context"
	"log/slog"
	"math"
	"strconv"
	"sync"
	"sync/atomic"

	"derivquoter/internal/bookfeed"
	"derivquoter/internal/flood"
	"derivquoter/internal/statusapi"
	"derivquoter/internal/trading"
	"derivquoter/pkg/price"
)

// Reject reason codes that are fatal on a new-order reject (§8 scenario 6).
const (
	rejectUnknownInstrument = 2
	rejectUnknownAccount    = 3
	rejectDuplicateReqID    = 13
)

// Reject reason code for an expected "order no longer exists" replace race.
const rejectOrderGone = 4

// Engine is the single-writer quoting strategy for one instrument. All
// state mutation happens inside Run's task loop; every external entry
// point (the trading.Handler and bookfeed.Listener methods) only ever
// enqueues a closure instead of touching engine fields directly.
type Engine struct {
	cfg     Config
	channel *trading.Channel
	flood   *flood.Tracker
	logger  *slog.Logger
	now     func() int64
	exit    func(code int)
	metrics *statusapi.Metrics // optional; nil-checked at every call site

	tasks chan func()

	shutdownOnce sync.Once
	shuttingDown atomic.Bool
	lastReqID    atomic.Uint64

	// positionGauge mirrors position for cross-goroutine reads (the
	// status server's /status and /metrics handlers), since position
	// itself is engine-exclusive and unsafe to read off the executor.
	positionGauge atomic.Int32

	// Everything below is touched only from inside the task executor.
	position   int32
	marketBid  price.Price
	marketAsk  price.Price
	liveBid    liveOrder
	liveAsk    liveOrder
	desiredBid desiredQuote
	desiredAsk desiredQuote
	bidReqID   uint64
	askReqID   uint64
	revision   bool
	unlockTime int64
}

// New builds an engine. now (a nanosecond clock) and exit (the process
// exit hook) are injected so tests don't actually terminate the process
// or depend on real time. Neither has a default: both are used as given
// and must be non-nil.
func New(cfg Config, channel *trading.Channel, logger *slog.Logger, now func() int64, exit func(code int)) *Engine {
	e := &Engine{
		cfg:      cfg,
		channel:  channel,
		flood:    flood.New(cfg.FloodLimit, cfg.FloodPeriod.Nanoseconds()),
		logger:   logger.With("component", "quoting_engine"),
		now:      now,
		exit:     exit,
		tasks:    make(chan func(), 1024),
		position: cfg.InitialPosition,
	}
	e.positionGauge.Store(cfg.InitialPosition)
	return e
}

// Position, LastReqID and ShuttingDown are safe to call from any
// goroutine — they satisfy the status server's StatusProvider interface
// without touching any executor-exclusive field directly.
func (e *Engine) Position() int32    { return e.positionGauge.Load() }
func (e *Engine) LastReqID() uint64  { return e.lastReqID.Load() }
func (e *Engine) ShuttingDown() bool { return e.shuttingDown.Load() }

// SetMetrics wires a status server's Metrics into the engine. Called
// once after construction; every update site nil-checks it so metrics
// stay optional.
func (e *Engine) SetMetrics(m *statusapi.Metrics) {
	e.metrics = m
	m.Position.Set(float64(e.positionGauge.Load()))
}

// SetChannel wires the trading channel into the engine after
// construction. The engine must exist before the channel, since the
// channel needs the engine as its trading.Handler — so the engine is
// built with a nil channel and this closes the loop once the channel is
// dialed and established.
func (e *Engine) SetChannel(channel *trading.Channel) { e.channel = channel }

// Run drains the task queue until ctx is cancelled.
func (e *Engine) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case task := <-e.tasks:
			task()
		}
	}
}

func (e *Engine) enqueue(fn func()) {
	if e.shuttingDown.Load() {
		return
	}
	select {
	case e.tasks <- fn:
	default:
		e.logger.Warn("quoting engine task queue full, dropping task")
	}
}

// OnBookUpdate is the bookfeed.Listener entry point.
func (e *Engine) OnBookUpdate(bids, asks []*bookfeed.Entry) {
	e.enqueue(func() { e.handleBookUpdate(bids, asks) })
}

func (e *Engine) handleBookUpdate(bids, asks []*bookfeed.Entry) {
	bid := stripSelf(bids, e.liveBid)
	ask := stripSelf(asks, e.liveAsk)
	if bid == e.marketBid && ask == e.marketAsk {
		return
	}
	e.marketBid = bid
	e.marketAsk = ask
	e.replaceOrders()
}

// stripSelf returns the best price on one side of the book, skipping the
// agent's own resting order if it is the top entry (§4.7 "Book update
// callback"). Returns 0 (no market) if the ladder is empty.
func stripSelf(levels []*bookfeed.Entry, live liveOrder) price.Price {
	if len(levels) == 0 || levels[0] == nil {
		return 0
	}
	top := levels[0]
	if live.amount > 0 && top.Price == live.price && top.Amount <= live.amount {
		if len(levels) > 1 && levels[1] != nil {
			return levels[1].Price
		}
		return 0
	}
	return top.Price
}

// replaceOrders recomputes the desired quote from the current market and
// position, then either dispatches immediately or marks a dispatch as
// pending for when the in-flight requests land.
func (e *Engine) replaceOrders() {
	if e.marketBid == 0 || e.marketAsk == 0 {
		return
	}

	mid := int64(price.Mid(e.marketBid, e.marketAsk))
	adj := e.cfg.Shift * int64(e.position)

	bidPrice := clampPrice(mid - e.cfg.Interest - adj)
	askPrice := clampPrice(mid + e.cfg.Interest - adj)

	bidAmount := minQty(e.cfg.StandardVolume, price.Quantity(e.cfg.MaxPosition-e.position))
	if bidAmount < 0 {
		bidAmount = 0
	}
	askAmount := minQty(e.cfg.StandardVolume, price.Quantity(e.position+e.cfg.MaxPosition))
	if askAmount < 0 {
		askAmount = 0
	}

	e.desiredBid = desiredQuote{price: price.RoundToTick(bidPrice, e.cfg.Increment), amount: bidAmount}
	e.desiredAsk = desiredQuote{price: price.RoundToTick(askPrice, e.cfg.Increment), amount: askAmount}

	if e.bidReqID == 0 && e.askReqID == 0 && e.now() >= e.unlockTime {
		e.dispatch()
	} else {
		e.revision = true
	}
}

func clampPrice(v int64) price.Price {
	if v < 0 {
		return 0
	}
	return price.Price(v)
}

// dispatch sends, for each side with a non-zero desired amount, a replace
// of the live order (if that side has one) or a new order, subject to the
// flood tracker admitting the whole batch up front.
func (e *Engine) dispatch() {
	if e.shuttingDown.Load() {
		return
	}

	needed := 0
	if e.desiredBid.amount > 0 {
		needed++
	}
	if e.desiredAsk.amount > 0 {
		needed++
	}
	if needed == 0 {
		return
	}
	available := e.flood.Available(e.now())
	if e.metrics != nil {
		e.metrics.FloodAvailable.Set(float64(available))
	}
	if available < needed {
		return
	}

	if e.desiredBid.amount > 0 {
		e.flood.Add(e.now())
		e.bidReqID = e.sendSide(price.Buy, e.liveBid, e.desiredBid)
	}
	if e.desiredAsk.amount > 0 {
		e.flood.Add(e.now())
		e.askReqID = e.sendSide(price.Sell, e.liveAsk, e.desiredAsk)
	}
	e.revision = false
}

func (e *Engine) sendSide(side price.Side, live liveOrder, desired desiredQuote) uint64 {
	var reqID uint64
	var requestType string
	if live.amount > 0 {
		reqID = e.channel.SendOrderReplace(live.orderID, desired.price, desired.amount)
		requestType = "replace"
	} else {
		reqID = e.channel.SendNewOrderSingle(e.cfg.Account, e.cfg.Instrument, desired.price, desired.amount, side)
		requestType = "new_order"
	}
	if e.metrics != nil {
		e.metrics.RequestsSent.WithLabelValues(requestType).Inc()
	}
	e.trackLastReqID(reqID)
	return reqID
}

func (e *Engine) trackLastReqID(id uint64) {
	for {
		cur := e.lastReqID.Load()
		if id <= cur {
			return
		}
		if e.lastReqID.CompareAndSwap(cur, id) {
			return
		}
	}
}

// maybeDispatchPending re-fires dispatch once both sides are idle and a
// revision is waiting, without re-checking the flood penalty clock —
// matching the spec's "dispatch will re-trigger when the last in-flight
// request lands" (the clock is only re-checked by replaceOrders itself).
func (e *Engine) maybeDispatchPending() {
	if e.bidReqID == 0 && e.askReqID == 0 && e.revision {
		e.dispatch()
	}
}

func (e *Engine) installOrder(side price.Side, orderID int64, p price.Price, amount price.Quantity) {
	switch side {
	case price.Buy:
		e.liveBid = liveOrder{orderID: orderID, price: p, amount: amount}
		e.bidReqID = 0
	case price.Sell:
		e.liveAsk = liveOrder{orderID: orderID, price: p, amount: amount}
		e.askReqID = 0
	}
	e.maybeDispatchPending()
}

// OnNewOrderSingleReport is the trading.Handler entry point.
func (e *Engine) OnNewOrderSingleReport(reqID uint64, orderID int64, p price.Price, size price.Quantity, side price.Side, ts int64) {
	e.enqueue(func() { e.installOrder(side, orderID, p, size) })
}

// OnOrderReplaceReport is the trading.Handler entry point. Unlike the new
// order report, it carries no side field, so the side is inferred from
// which request id it correlates to.
func (e *Engine) OnOrderReplaceReport(reqID uint64, newOrderID int64, p price.Price, size price.Quantity, oldOrderID int64, ts int64) {
	e.enqueue(func() {
		switch reqID {
		case e.bidReqID:
			e.installOrder(price.Buy, newOrderID, p, size)
		case e.askReqID:
			e.installOrder(price.Sell, newOrderID, p, size)
		default:
			e.logger.Warn("replace report for unknown request", "req_id", reqID)
		}
	})
}

// OnExecutionReport is the trading.Handler entry point.
func (e *Engine) OnExecutionReport(orderID int64, p price.Price, filled price.Quantity, remaining price.Quantity, ts int64) {
	e.enqueue(func() { e.handleExecutionReport(orderID, filled, remaining) })
}

func (e *Engine) handleExecutionReport(orderID int64, filled, remaining price.Quantity) {
	var side price.Side
	switch orderID {
	case e.liveBid.orderID:
		side = price.Buy
		e.liveBid.amount = remaining
	case e.liveAsk.orderID:
		side = price.Sell
		e.liveAsk.amount = remaining
	default:
		e.logger.Warn("execution report for unknown order", "order_id", orderID)
		return
	}

	if side == price.Buy {
		e.position += int32(filled)
	} else {
		e.position -= int32(filled)
	}
	e.positionGauge.Store(e.position)
	if e.metrics != nil {
		e.metrics.Position.Set(float64(e.position))
	}

	if remaining == 0 {
		e.replaceOrders()
	}
}

// OnNewOrderReject is the trading.Handler entry point.
func (e *Engine) OnNewOrderReject(reqID uint64, reason int32) {
	e.enqueue(func() { e.handleNewOrderReject(reqID, reason) })
}

func (e *Engine) handleNewOrderReject(reqID uint64, reason int32) {
	e.recordReject(reason)
	e.clearReqID(reqID)
	if reason == rejectUnknownInstrument || reason == rejectUnknownAccount || reason == rejectDuplicateReqID {
		e.logger.Error("fatal new order reject, shutting down", "reason", reason)
		e.Shutdown()
		e.exit(1)
	}
}

func (e *Engine) recordReject(reason int32) {
	if e.metrics != nil {
		e.metrics.RejectsByReason.WithLabelValues(strconv.Itoa(int(reason))).Inc()
	}
}

func (e *Engine) clearReqID(reqID uint64) {
	switch reqID {
	case e.bidReqID:
		e.bidReqID = 0
	case e.askReqID:
		e.askReqID = 0
	default:
		return
	}
	e.maybeDispatchPending()
}

// OnOrderReplaceReject is the trading.Handler entry point.
func (e *Engine) OnOrderReplaceReject(reqID uint64, reason int32) {
	e.enqueue(func() { e.handleOrderReplaceReject(reqID, reason) })
}

func (e *Engine) handleOrderReplaceReject(reqID uint64, reason int32) {
	e.recordReject(reason)
	var side price.Side
	switch reqID {
	case e.bidReqID:
		side = price.Buy
		e.bidReqID = 0
	case e.askReqID:
		side = price.Sell
		e.askReqID = 0
	default:
		e.logger.Warn("replace reject for unknown request", "req_id", reqID)
		return
	}
	if reason != rejectOrderGone {
		e.logger.Warn("unexpected replace reject reason", "reason", reason)
	}

	desired := e.desiredBid
	if side == price.Sell {
		desired = e.desiredAsk
	}
	if desired.amount == 0 {
		return
	}
	if e.now() < e.unlockTime {
		return
	}
	if e.flood.Available(e.now()) < 1 {
		return
	}

	e.flood.Add(e.now())
	if side == price.Buy {
		e.liveBid.amount = 0
		e.bidReqID = e.channel.SendNewOrderSingle(e.cfg.Account, e.cfg.Instrument, desired.price, desired.amount, price.Buy)
		e.trackLastReqID(e.bidReqID)
	} else {
		e.liveAsk.amount = 0
		e.askReqID = e.channel.SendNewOrderSingle(e.cfg.Account, e.cfg.Instrument, desired.price, desired.amount, price.Sell)
		e.trackLastReqID(e.askReqID)
	}
}

// OnFloodReject is the trading.Handler entry point.
func (e *Engine) OnFloodReject(reqID uint64, timeoutNs int64) {
	e.enqueue(func() { e.handleFloodReject(reqID, timeoutNs) })
}

func (e *Engine) handleFloodReject(reqID uint64, timeoutNs int64) {
	e.unlockTime = e.now() + timeoutNs
	switch reqID {
	case e.bidReqID:
		e.bidReqID = 0
	case e.askReqID:
		e.askReqID = 0
	}
	// Deliberately no re-send here: the next book update or
	// execution report re-evaluates once the window clears.
}

// OnMessageReject is the trading.Handler entry point.
func (e *Engine) OnMessageReject(reqID uint64, field int32, reason int32) {
	e.enqueue(func() {
		e.logger.Warn("message rejected", "req_id", reqID, "field", field, "reason", reason)
	})
}

// OnSequenceGap is the trading.Handler entry point.
func (e *Engine) OnSequenceGap(expected, got int64) {
	e.enqueue(func() {
		e.logger.Error("sequence gap, session permanently out of step", "expected", expected, "got", got)
	})
}

// OnTerminate is the trading.Handler entry point.
func (e *Engine) OnTerminate(reason int64) {
	e.enqueue(func() { e.handleTerminate(reason) })
}

func (e *Engine) handleTerminate(reason int64) {
	e.logger.Error("session terminated by exchange", "reason", reason)
	e.Shutdown()
	e.exit(1)
}

// Shutdown stops further sends, mass-cancels every live order, and
// records the last request id used — idempotent and safe to call
// concurrently with the executor, since a process-exit hook and an
// internal fatal-reject path can both race to call it.
func (e *Engine) Shutdown() {
	e.shutdownOnce.Do(func() {
		e.shuttingDown.Store(true)
		e.unlockTime = math.MaxInt64
		reqID := e.channel.SendOrderMassCancel(e.cfg.Account, e.cfg.Instrument, -1)
		if e.metrics != nil {
			e.metrics.RequestsSent.WithLabelValues("mass_cancel").Inc()
		}
		e.trackLastReqID(reqID)
		e.logger.Info("quoting engine shut down", "last_reqid", e.lastReqID.Load())
	})
}
