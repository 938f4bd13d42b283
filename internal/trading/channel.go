// Package trading implements the binary trading-gate protocol: session
// establishment, sequence-numbered application messages, and the three
// outbound request types the quoting engine issues (new order, replace,
// mass cancel).
//
// Grounded on the teacher's internal/exchange package (connection
// lifecycle, logging shape, error wrapping) with the REST/WebSocket
// transport replaced by this protocol's length-prefixed binary frames
// over a plain TCP connection.
package trading

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"

	"derivquoter/internal/wire"
	"derivquoter/pkg/price"
)

const minFrameReadLen = headerSize

// DefaultRequestedHeartbeat is the heartbeat period the agent requests at
// Establish time, fixed by the protocol at 5 seconds.
const DefaultRequestedHeartbeat = 5 * time.Second

// Channel owns one trading-gate TCP connection: the Establish handshake,
// the sequence number on inbound application messages, and outbound
// request construction. It does not own the connect/reconnect policy —
// the spec's trading channel has no auto-reconnect, unlike the teacher's
// WSFeed — so a failed or terminated Channel is discarded, not retried,
// by the caller.
type Channel struct {
	conn    net.Conn
	logger  *slog.Logger
	loginID uint32
	handler Handler

	heartbeat time.Duration
	writer    *OutboundWriter

	reqIDMu   sync.Mutex
	nextReqID uint64

	seqMu       sync.Mutex
	expectedSeq int64
}

// NewChannel wraps conn. firstReqID seeds the outbound request id counter
// (the spec's "first request id" config field, so an operator can resume
// a numbering sequence across restarts instead of always starting at 0).
func NewChannel(conn net.Conn, loginID uint32, firstReqID uint64, handler Handler, logger *slog.Logger) *Channel {
	return &Channel{
		conn:      conn,
		logger:    logger.With("component", "trading_channel"),
		loginID:   loginID,
		handler:   handler,
		nextReqID: firstReqID,
	}
}

// Establish performs the synchronous handshake: send an Establish frame,
// then read the fixed 24-byte response directly off the socket (not
// through the framed reader, which only starts once this succeeds).
func (c *Channel) Establish(ctx context.Context, requestedHeartbeat time.Duration) error {
	if dl, ok := ctx.Deadline(); ok {
		c.conn.SetDeadline(dl)
		defer c.conn.SetDeadline(time.Time{})
	}

	req := make([]byte, estFrameLen)
	wire.PutUint16(req, 0, estFrameLen-headerSize)
	wire.PutUint16(req, 2, msgEstablish)
	copy(req[4:8], schemaHeader[:])
	wire.PutUint32(req, estSchemaIDOffset, wire.Uint32(schemaHeader[:], 0))
	wire.PutInt64(req, estHeartbeatOffset, requestedHeartbeat.Nanoseconds())
	wire.PutUint32(req, estLoginIDOffset, c.loginID)

	if _, err := c.conn.Write(req); err != nil {
		return fmt.Errorf("establish: write: %w", err)
	}

	head := make([]byte, 4)
	if _, err := io.ReadFull(c.conn, head); err != nil {
		return fmt.Errorf("establish: read header: %w", err)
	}
	msgType := wire.Uint16(head, 2)
	if msgType != msgEstablished {
		return fmt.Errorf("establish: unexpected response type %d, want %d", msgType, msgEstablished)
	}

	rest := make([]byte, estRespFrameLen-4)
	if _, err := io.ReadFull(c.conn, rest); err != nil {
		return fmt.Errorf("establish: read body: %w", err)
	}
	heartbeatNs := wire.Int64(rest, estRespHeartbeatOffset-4)
	seq := wire.Int64(rest, estRespSeqOffset-4)

	c.heartbeat = time.Duration(heartbeatNs)
	c.seqMu.Lock()
	c.expectedSeq = seq
	c.seqMu.Unlock()

	c.logger.Info("trading session established",
		"heartbeat", c.heartbeat,
		"initial_seq", seq,
	)
	return nil
}

// NewReader builds the framed reader for this channel. Call only after
// Establish succeeds.
func (c *Channel) NewReader() *FramedReader {
	return NewFramedReader(c.conn, c.logger, c.dispatch)
}

// NewWriter builds the outbound writer for this channel, using the
// heartbeat negotiated during Establish. Call only after Establish
// succeeds.
func (c *Channel) NewWriter() *OutboundWriter {
	c.writer = NewOutboundWriter(c.conn, c.heartbeat, c.logger)
	return c.writer
}

// Close closes the underlying connection, unblocking the framed reader.
func (c *Channel) Close() error {
	return c.conn.Close()
}

func (c *Channel) nextRequestID() uint64 {
	c.reqIDMu.Lock()
	defer c.reqIDMu.Unlock()
	id := c.nextReqID
	c.nextReqID++
	return id
}

// SendNewOrderSingle submits a new resting limit order and returns the
// request id the response will be correlated against.
func (c *Channel) SendNewOrderSingle(account int64, instrument price.InstrumentID, p price.Price, size price.Quantity, side price.Side) uint64 {
	reqID := c.nextRequestID()

	frame := make([]byte, nosFrameLen)
	wire.PutUint16(frame, 0, nosFrameLen-headerSize)
	wire.PutUint16(frame, 2, msgNewOrderSingle)
	copy(frame[4:8], schemaHeader[:])
	wire.PutInt64(frame, reqTraceIDOffset, -1)
	wire.PutUint64(frame, reqIDOffset, reqID)
	wire.PutInt64(frame, nosAccountOffset, account)
	wire.PutInt32(frame, nosInstrumentOffset, int32(instrument))
	wire.PutUint64(frame, nosPriceOffset, uint64(p))
	wire.PutInt32(frame, nosSizeOffset, int32(size))
	frame[nosOrderTypeOffset] = 1 // limit
	frame[nosTIFOffset] = 1       // GTC
	frame[nosSideOffset] = byte(side)

	c.writer.Enqueue(frame)
	return reqID
}

// SendOrderReplace requests a price/size amendment of a live order.
func (c *Channel) SendOrderReplace(orderID int64, p price.Price, size price.Quantity) uint64 {
	reqID := c.nextRequestID()

	frame := make([]byte, replFrameLen)
	wire.PutUint16(frame, 0, replFrameLen-headerSize)
	wire.PutUint16(frame, 2, msgOrderReplace)
	copy(frame[4:8], schemaHeader[:])
	wire.PutInt64(frame, reqTraceIDOffset, -1)
	wire.PutUint64(frame, reqIDOffset, reqID)
	wire.PutInt64(frame, replOrderIDOffset, orderID)
	wire.PutUint64(frame, replPriceOffset, uint64(p))
	wire.PutInt32(frame, replSizeOffset, int32(size))
	frame[replOrderTypeOff] = 0xFF // null
	frame[replTIFOffset] = 0xFF    // null

	c.writer.Enqueue(frame)
	return reqID
}

// SendOrderMassCancel cancels every live order on one side of the book,
// or both sides when side is anything other than 1 (buy) or 2 (sell).
func (c *Channel) SendOrderMassCancel(account int64, instrument price.InstrumentID, side int8) uint64 {
	if side != 1 && side != 2 {
		side = -1
	}

	reqID := c.nextRequestID()

	frame := make([]byte, mcFrameLen)
	wire.PutUint16(frame, 0, mcFrameLen-headerSize)
	wire.PutUint16(frame, 2, msgOrderMassCancel)
	copy(frame[4:8], schemaHeader[:])
	wire.PutInt64(frame, reqTraceIDOffset, -1)
	wire.PutUint64(frame, reqIDOffset, reqID)
	wire.PutInt64(frame, mcAccountOffset, account)
	wire.PutInt32(frame, mcInstrumentOffset, int32(instrument))
	frame[mcSideOffset] = byte(side)

	c.writer.Enqueue(frame)
	return reqID
}

func (c *Channel) dispatch(frame []byte) {
	if len(frame) < minFrameReadLen {
		c.logger.Warn("short frame, dropping", "len", len(frame))
		return
	}
	msgType := wire.Uint16(frame, 2)

	if needsSequenceCheck(msgType) {
		c.checkSequence(frame)
	}

	switch msgType {
	case msgNewOrderSingleReport:
		c.dispatchNewOrderSingleReport(frame)
	case msgNewOrderReject:
		c.dispatchNewOrderReject(frame)
	case msgOrderReplaceReport:
		c.dispatchOrderReplaceReport(frame)
	case msgOrderReplaceReject:
		c.dispatchOrderReplaceReject(frame)
	case msgExecutionReport:
		c.dispatchExecutionReport(frame)
	case msgTerminate:
		c.handler.OnTerminate(wire.Int64(frame, termReasonOffset))
	case msgSequence:
		// bare heartbeat, nothing further to do
	case msgFloodReject:
		reqID := wire.Uint64(frame, floodReqIDOffset)
		timeoutNs := wire.Int64(frame, floodTimeoutNsOffset)
		c.handler.OnFloodReject(reqID, timeoutNs)
	case msgMsgReject:
		reqID := wire.Uint64(frame, rejReqIDOffset)
		field := wire.Int32(frame, rejFieldOffset)
		reason := wire.Int32(frame, rejReasonOffset)
		c.handler.OnMessageReject(reqID, field, reason)
	default:
		c.logger.Warn("unhandled inbound message type", "type", msgType)
	}
}

// checkSequence enforces §4.5's sequence discipline: the session is
// permanently out of step after the first gap, and the engine decides
// how to react. The channel only ever advances expectedSeq on a match.
func (c *Channel) checkSequence(frame []byte) {
	seq := wire.Int64(frame, seqNumberOffset)

	c.seqMu.Lock()
	expected := c.expectedSeq
	if seq == expected {
		c.expectedSeq++
	}
	c.seqMu.Unlock()

	if seq != expected {
		c.handler.OnSequenceGap(expected, seq)
	}
}

func (c *Channel) dispatchNewOrderSingleReport(frame []byte) {
	if len(frame) < nosrSideOffset+1 {
		c.logger.Warn("truncated new_order_single_report", "len", len(frame))
		return
	}
	reqID := wire.Uint64(frame, nosrReqIDOffset)
	ts := wire.Int64(frame, nosrTSOffset)
	orderID := wire.Int64(frame, nosrOrderIDOffset)
	p := price.Price(wire.Uint64(frame, nosrPriceOffset))
	size := price.Quantity(wire.Int32(frame, nosrSizeOffset))
	side := price.Side(frame[nosrSideOffset])
	c.handler.OnNewOrderSingleReport(reqID, orderID, p, size, side, ts)
}

func (c *Channel) dispatchNewOrderReject(frame []byte) {
	if len(frame) < norjReasonOffset+4 {
		c.logger.Warn("truncated new_order_reject", "len", len(frame))
		return
	}
	reqID := wire.Uint64(frame, norjReqIDOffset)
	reason := wire.Int32(frame, norjReasonOffset)
	c.handler.OnNewOrderReject(reqID, reason)
}

func (c *Channel) dispatchOrderReplaceReport(frame []byte) {
	if len(frame) < orrOldOrderIDOffset+8 {
		c.logger.Warn("truncated order_replace_report", "len", len(frame))
		return
	}
	reqID := wire.Uint64(frame, orrReqIDOffset)
	ts := wire.Int64(frame, orrTSOffset)
	newOrderID := wire.Int64(frame, orrNewOrderIDOffset)
	p := price.Price(wire.Uint64(frame, orrPriceOffset))
	size := price.Quantity(wire.Int32(frame, orrSizeOffset))
	oldOrderID := wire.Int64(frame, orrOldOrderIDOffset)
	c.handler.OnOrderReplaceReport(reqID, newOrderID, p, size, oldOrderID, ts)
}

func (c *Channel) dispatchOrderReplaceReject(frame []byte) {
	if len(frame) < orjReasonOffset+4 {
		c.logger.Warn("truncated order_replace_reject", "len", len(frame))
		return
	}
	reqID := wire.Uint64(frame, orjReqIDOffset)
	reason := wire.Int32(frame, orjReasonOffset)
	c.handler.OnOrderReplaceReject(reqID, reason)
}

func (c *Channel) dispatchExecutionReport(frame []byte) {
	if len(frame) < exrRemainingOffset+4 {
		c.logger.Warn("truncated execution_report", "len", len(frame))
		return
	}
	ts := wire.Int64(frame, exrTSOffset)
	p := price.Price(wire.Uint64(frame, exrPriceOffset))
	filled := price.Quantity(wire.Int32(frame, exrFilledOffset))
	orderID := wire.Int64(frame, exrOrderIDOffset)
	remaining := price.Quantity(wire.Int32(frame, exrRemainingOffset))
	c.handler.OnExecutionReport(orderID, p, filled, remaining, ts)
}
