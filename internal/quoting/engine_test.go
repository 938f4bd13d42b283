package quoting

import (
	"context"
	"io"
	"log/slog"
	"net"
	"os"
	"testing"
	"time"

	"derivquoter/internal/bookfeed"
	"derivquoter/internal/trading"
	"derivquoter/pkg/price"
)

func testEngineLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// establishedChannel dials a net.Pipe, plays the server side of the
// handshake with the fixed scenario-1 response bytes, and leaves a
// goroutine draining every subsequent write so the writer's socket writes
// never block.
// Returns the channel and a cleanup func.
func establishedChannel(t *testing.T, handler trading.Handler) (*trading.Channel, func()) {
	t.Helper()
	client, server := net.Pipe()

	established := make(chan struct{})
	go func() {
		defer close(established)
		req := make([]byte, 24)
		io.ReadFull(server, req)
		resp := []byte{
			0x04, 0x00, 0x89, 0x13, 0x04, 0x1C, 0x02, 0x00,
			0x00, 0xCA, 0x9A, 0x3B, 0x00, 0x00, 0x00, 0x00,
			0x01, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
		}
		server.Write(resp)
	}()

	ch := trading.NewChannel(client, 1, 1, handler, testEngineLogger())
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := ch.Establish(ctx, trading.DefaultRequestedHeartbeat); err != nil {
		t.Fatalf("Establish: %v", err)
	}
	<-established

	writer := ch.NewWriter()
	writerCtx, writerCancel := context.WithCancel(context.Background())
	go writer.Run(writerCtx)
	go io.Copy(io.Discard, server)

	cleanup := func() {
		writerCancel()
		client.Close()
		server.Close()
	}
	return ch, cleanup
}

func testConfig() Config {
	return Config{
		Account:         1,
		Instrument:      price.InstrumentID(7),
		StandardVolume:  price.Quantity(10),
		InitialPosition: 0,
		MaxPosition:     50,
		Interest:        2 * price.Scale,
		Shift:           1_000_000, // 0.001 scaled, small skew per unit of position
		Increment:       price.Price(price.Scale / 10),
		FloodLimit:      2,
		FloodPeriod:     time.Second,
	}
}

// noopHandler satisfies trading.Handler for tests that exercise the
// engine's own logic directly rather than through the channel's inbound
// dispatch path (none of these tests push inbound frames through the
// channel, so the handler the channel was built with is never called).
type noopHandler struct{}

func (noopHandler) OnNewOrderSingleReport(uint64, int64, price.Price, price.Quantity, price.Side, int64) {
}
func (noopHandler) OnNewOrderReject(uint64, int32)                                           {}
func (noopHandler) OnOrderReplaceReport(uint64, int64, price.Price, price.Quantity, int64, int64) {}
func (noopHandler) OnOrderReplaceReject(uint64, int32)                                       {}
func (noopHandler) OnExecutionReport(int64, price.Price, price.Quantity, price.Quantity, int64) {}
func (noopHandler) OnTerminate(int64)                                                         {}
func (noopHandler) OnFloodReject(uint64, int64)                                               {}
func (noopHandler) OnMessageReject(uint64, int32, int32)                                      {}
func (noopHandler) OnSequenceGap(int64, int64)                                                {}

func newTestEngine(t *testing.T, cfg Config) (*Engine, func()) {
	ch, cleanup := establishedChannel(t, noopHandler{})

	now := func() int64 { return 0 }
	exit := func(code int) {}

	eng := New(cfg, ch, testEngineLogger(), now, exit)
	return eng, cleanup
}

func entries(instrument price.InstrumentID, side price.Side, levels ...[2]int64) []*bookfeed.Entry {
	out := make([]*bookfeed.Entry, len(levels))
	for i, lv := range levels {
		out[i] = &bookfeed.Entry{
			Instrument: instrument,
			Price:      price.Price(lv[0]),
			Amount:     price.Quantity(lv[1]),
			Side:       side,
		}
	}
	return out
}

func TestStripSelfSkipsOwnTopOrder(t *testing.T) {
	t.Parallel()
	levels := entries(7, price.Buy, [2]int64{100 * price.Scale, 5}, [2]int64{99 * price.Scale, 20})
	live := liveOrder{orderID: 1, price: price.Price(100 * price.Scale), amount: 5}

	got := stripSelf(levels, live)
	if got != price.Price(99*price.Scale) {
		t.Errorf("stripSelf = %d, want second level (99)", got)
	}
}

func TestStripSelfKeepsTopWhenNotOwnOrder(t *testing.T) {
	t.Parallel()
	levels := entries(7, price.Buy, [2]int64{100 * price.Scale, 5})
	live := liveOrder{orderID: 1, price: price.Price(99 * price.Scale), amount: 5}

	got := stripSelf(levels, live)
	if got != price.Price(100*price.Scale) {
		t.Errorf("stripSelf = %d, want top (100)", got)
	}
}

func TestStripSelfEmptyBookReturnsZero(t *testing.T) {
	t.Parallel()
	if got := stripSelf(nil, liveOrder{}); got != 0 {
		t.Errorf("stripSelf(nil) = %d, want 0", got)
	}
}

func TestReplaceOrdersComputesQuotesAndDispatches(t *testing.T) {
	t.Parallel()
	cfg := testConfig()
	e, cleanup := newTestEngine(t, cfg)
	defer cleanup()

	e.handleBookUpdate(
		entries(cfg.Instrument, price.Buy, [2]int64{100 * price.Scale, 5}),
		entries(cfg.Instrument, price.Sell, [2]int64{102 * price.Scale, 5}),
	)

	mid := int64(price.Mid(100*price.Scale, 102*price.Scale))
	wantBid := price.RoundToTick(price.Price(mid-cfg.Interest), cfg.Increment)
	wantAsk := price.RoundToTick(price.Price(mid+cfg.Interest), cfg.Increment)

	if e.desiredBid.price != wantBid {
		t.Errorf("desiredBid.price = %d, want %d", e.desiredBid.price, wantBid)
	}
	if e.desiredAsk.price != wantAsk {
		t.Errorf("desiredAsk.price = %d, want %d", e.desiredAsk.price, wantAsk)
	}
	if e.desiredBid.amount != cfg.StandardVolume || e.desiredAsk.amount != cfg.StandardVolume {
		t.Errorf("desired amounts = %d/%d, want %d/%d", e.desiredBid.amount, e.desiredAsk.amount, cfg.StandardVolume, cfg.StandardVolume)
	}
	if e.bidReqID == 0 || e.askReqID == 0 {
		t.Errorf("expected both sides dispatched, bidReqID=%d askReqID=%d", e.bidReqID, e.askReqID)
	}
}

func TestReplaceOrdersNoopWhenMarketUnchanged(t *testing.T) {
	t.Parallel()
	cfg := testConfig()
	e, cleanup := newTestEngine(t, cfg)
	defer cleanup()

	bids := entries(cfg.Instrument, price.Buy, [2]int64{100 * price.Scale, 5})
	asks := entries(cfg.Instrument, price.Sell, [2]int64{102 * price.Scale, 5})

	e.handleBookUpdate(bids, asks)
	firstBidReqID := e.bidReqID

	// Same top of book again: should be a no-op, not a fresh dispatch.
	e.handleBookUpdate(bids, asks)
	if e.bidReqID != firstBidReqID {
		t.Errorf("bidReqID changed on an unchanged market: %d -> %d", firstBidReqID, e.bidReqID)
	}
}

func TestFullFillTriggersRequote(t *testing.T) {
	t.Parallel()
	cfg := testConfig()
	e, cleanup := newTestEngine(t, cfg)
	defer cleanup()

	e.marketBid = price.Price(100 * price.Scale)
	e.marketAsk = price.Price(102 * price.Scale)
	e.liveBid = liveOrder{orderID: 555, price: price.Price(99 * price.Scale), amount: 10}

	e.handleExecutionReport(555, 10, 0)

	if e.position != 10 {
		t.Errorf("position after full buy fill = %d, want 10", e.position)
	}
	if e.liveBid.amount != 0 {
		t.Errorf("liveBid.amount after full fill = %d, want 0", e.liveBid.amount)
	}
	// replaceOrders ran again and should have re-dispatched given the
	// filled side is now flat and both req ids were idle.
	if e.bidReqID == 0 {
		t.Error("expected a fresh bid dispatch after the full fill requote")
	}
}

func TestFloodRejectClearsReqIDAndSuppressesResend(t *testing.T) {
	t.Parallel()
	cfg := testConfig()
	e, cleanup := newTestEngine(t, cfg)
	defer cleanup()

	e.bidReqID = 42
	e.desiredBid = desiredQuote{price: price.Price(100 * price.Scale), amount: 10}

	e.handleFloodReject(42, int64(5*time.Second))

	if e.bidReqID != 0 {
		t.Errorf("bidReqID after flood reject = %d, want 0", e.bidReqID)
	}
	if e.unlockTime == 0 {
		t.Error("unlockTime was not set after flood reject")
	}
	if e.askReqID != 0 {
		t.Errorf("unrelated askReqID mutated: %d", e.askReqID)
	}
}

func TestOrderReplaceRejectRetriesOnExpectedRace(t *testing.T) {
	t.Parallel()
	cfg := testConfig()
	e, cleanup := newTestEngine(t, cfg)
	defer cleanup()

	e.liveBid = liveOrder{orderID: 1, price: price.Price(99 * price.Scale), amount: 10}
	e.bidReqID = 77
	e.desiredBid = desiredQuote{price: price.Price(100 * price.Scale), amount: 10}
	e.unlockTime = 0 // already unlocked

	e.handleOrderReplaceReject(77, rejectOrderGone)

	if e.bidReqID == 0 || e.bidReqID == 77 {
		t.Errorf("expected a fresh resend request id, got %d", e.bidReqID)
	}
	if e.liveBid.amount != 0 {
		t.Errorf("liveBid.amount = %d, want 0 (order no longer live)", e.liveBid.amount)
	}
}

func TestOrderReplaceRejectDoesNotRetryWhenFloodWindowClosed(t *testing.T) {
	t.Parallel()
	cfg := testConfig()
	e, cleanup := newTestEngine(t, cfg)
	defer cleanup()

	e.liveBid = liveOrder{orderID: 1, price: price.Price(99 * price.Scale), amount: 10}
	e.bidReqID = 77
	e.desiredBid = desiredQuote{price: price.Price(100 * price.Scale), amount: 10}
	e.unlockTime = int64(time.Hour) // far in the future, now() defaults to 0

	e.handleOrderReplaceReject(77, rejectOrderGone)

	if e.bidReqID != 0 {
		t.Errorf("bidReqID = %d, want 0 (no resend while unlock window is closed)", e.bidReqID)
	}
}

func TestFatalNewOrderRejectShutsDownAndExits(t *testing.T) {
	t.Parallel()
	cfg := testConfig()
	e, cleanup := newTestEngine(t, cfg)
	defer cleanup()

	var exitCode int
	var exitCalled bool
	e.exit = func(code int) {
		exitCalled = true
		exitCode = code
	}

	e.bidReqID = 5
	e.handleNewOrderReject(5, rejectUnknownInstrument)

	if !exitCalled || exitCode != 1 {
		t.Errorf("exitCalled=%v exitCode=%d, want true/1", exitCalled, exitCode)
	}
	if !e.shuttingDown.Load() {
		t.Error("expected shuttingDown to be set after a fatal reject")
	}
}

func TestNonFatalNewOrderRejectDoesNotShutDown(t *testing.T) {
	t.Parallel()
	cfg := testConfig()
	e, cleanup := newTestEngine(t, cfg)
	defer cleanup()

	var exitCalled bool
	e.exit = func(code int) { exitCalled = true }

	e.bidReqID = 5
	e.handleNewOrderReject(5, 99)

	if exitCalled {
		t.Error("non-fatal reject reason should not trigger shutdown")
	}
	if e.bidReqID != 0 {
		t.Errorf("bidReqID = %d, want 0 (cleared regardless of fatality)", e.bidReqID)
	}
}

func TestMaybeDispatchPendingBypassesUnlockTime(t *testing.T) {
	t.Parallel()
	cfg := testConfig()
	e, cleanup := newTestEngine(t, cfg)
	defer cleanup()

	e.desiredBid = desiredQuote{price: price.Price(100 * price.Scale), amount: 10}
	e.revision = true
	e.unlockTime = int64(time.Hour) // in the future; now() is fixed at 0 in this engine

	e.maybeDispatchPending()

	if e.bidReqID == 0 {
		t.Error("expected dispatch to fire despite an unexpired unlockTime (success-report path bypasses the flood-penalty clock)")
	}
}

func TestReplaceOrdersHonorsUnlockTimeDirectly(t *testing.T) {
	t.Parallel()
	cfg := testConfig()
	e, cleanup := newTestEngine(t, cfg)
	defer cleanup()

	e.unlockTime = int64(time.Hour)
	e.handleBookUpdate(
		entries(cfg.Instrument, price.Buy, [2]int64{100 * price.Scale, 5}),
		entries(cfg.Instrument, price.Sell, [2]int64{102 * price.Scale, 5}),
	)

	if e.bidReqID != 0 || e.askReqID != 0 {
		t.Error("replaceOrders should not dispatch while the flood-penalty clock is unexpired")
	}
	if !e.revision {
		t.Error("expected revision pending to be set instead")
	}
}

func TestShutdownIsIdempotent(t *testing.T) {
	t.Parallel()
	cfg := testConfig()
	e, cleanup := newTestEngine(t, cfg)
	defer cleanup()

	e.Shutdown()
	first := e.lastReqID.Load()
	e.Shutdown()
	second := e.lastReqID.Load()

	if first != second {
		t.Errorf("Shutdown sent a second mass cancel: lastReqID %d -> %d", first, second)
	}
	if !e.shuttingDown.Load() {
		t.Error("expected shuttingDown to be set")
	}
}

func TestTerminateShutsDownAndExits(t *testing.T) {
	t.Parallel()
	cfg := testConfig()
	e, cleanup := newTestEngine(t, cfg)
	defer cleanup()

	var exitCalled bool
	e.exit = func(code int) { exitCalled = true }

	e.handleTerminate(7)

	if !exitCalled {
		t.Error("expected exit to be called on termination")
	}
	if !e.shuttingDown.Load() {
		t.Error("expected shuttingDown to be set on termination")
	}
}
