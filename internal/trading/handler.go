package trading

import "derivquoter/pkg/price"

// Handler receives decoded inbound trading messages. The quoting engine
// implements this to drive its state machine off the wire; kept as a
// narrow interface rather than a raw channel of frames because the
// dispatch table already knows each message's shape and the engine should
// only ever see typed values.
type Handler interface {
	OnNewOrderSingleReport(reqID uint64, orderID int64, p price.Price, size price.Quantity, side price.Side, ts int64)
	OnNewOrderReject(reqID uint64, reason int32)
	OnOrderReplaceReport(reqID uint64, newOrderID int64, p price.Price, size price.Quantity, oldOrderID int64, ts int64)
	OnOrderReplaceReject(reqID uint64, reason int32)
	OnExecutionReport(orderID int64, p price.Price, filled price.Quantity, remaining price.Quantity, ts int64)
	OnTerminate(reason int64)
	OnFloodReject(reqID uint64, timeoutNs int64)
	OnMessageReject(reqID uint64, field int32, reason int32)
	// OnSequenceGap is called when an inbound application message's
	// sequence number does not match what the channel expected. The
	// session is permanently out of step after this; the engine decides
	// how to react (the channel itself takes no corrective action).
	OnSequenceGap(expected, got int64)
}
