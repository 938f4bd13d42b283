package trading

// Message types. Values in [5000, 5999] are session/control messages and,
// apart from the 5007 Sequence heartbeat (see noSequenceCheck), are exempt
// from application sequence numbering; everything else is an
// application-layer message whose offset-8 field is the inbound sequence
// number (for server-originated report types) once the session is
// established.
const (
	msgEstablish   uint16 = 5000 // client -> server
	msgEstablished uint16 = 5001 // server -> client, establish response
	msgTerminate   uint16 = 5003 // server -> client
	msgSequence    uint16 = 5007 // server -> client, heartbeat/keepalive
	msgFloodReject uint16 = 5008 // server -> client
	msgMsgReject   uint16 = 5009 // server -> client

	msgNewOrderSingle  uint16 = 6001 // client -> server
	msgOrderReplace    uint16 = 6003 // client -> server
	msgOrderMassCancel uint16 = 6004 // client -> server

	msgNewOrderSingleReport uint16 = 7000 // server -> client
	msgNewOrderReject       uint16 = 7001 // server -> client
	msgOrderReplaceReport   uint16 = 7004 // server -> client
	msgOrderReplaceReject   uint16 = 7005 // server -> client
	msgExecutionReport      uint16 = 7008 // server -> client
)

// schemaHeader is the constant 4-byte schema+version field every frame in
// both directions carries at offset 4.
var schemaHeader = [4]byte{0x04, 0x1C, 0x02, 0x00}

// Frame header layout, common to every frame:
//
//	offset 0: body length L, uint16 LE  (L = frame length - 8)
//	offset 2: message type, uint16 LE
//	offset 4: schema header, 4 bytes constant
//	offset 8: body, L bytes
const headerSize = 8

// Outbound request frame layouts. Every client request carries a TraceID
// (always -1, a sentinel with no present use) at offset 8 and the request
// id at offset 16.
const (
	reqTraceIDOffset = 8
	reqIDOffset      = 16

	// NewOrderSingle: type 6001, 51 bytes total.
	nosAccountOffset    = 24
	nosInstrumentOffset = 32
	nosPriceOffset      = 36
	nosSizeOffset       = 44
	nosOrderTypeOffset  = 48
	nosTIFOffset        = 49
	nosSideOffset       = 50
	nosFrameLen         = 51

	// OrderReplaceRequest: type 6003, 46 bytes total.
	replOrderIDOffset  = 24
	replPriceOffset    = 32
	replSizeOffset     = 40
	replOrderTypeOff   = 44
	replTIFOffset      = 45
	replFrameLen       = 46

	// OrderMassCancelRequest: type 6004, 37 bytes total.
	mcAccountOffset    = 24
	mcInstrumentOffset = 32
	mcSideOffset       = 36
	mcFrameLen         = 37

	// Establish request: type 5000, 24 bytes total (matches the response
	// size, §4.5 scenario 1). The spec gives exact offsets for the
	// Establish *response* only; this request layout is a design
	// decision, recorded in DESIGN.md.
	estSchemaIDOffset  = 8
	estHeartbeatOffset = 12
	estLoginIDOffset   = 20
	estFrameLen        = 24
)

// Establish response layout (§4.5 scenario 1): 24 bytes total.
//
//	offset 0-3:  length + type (must equal msgEstablished)
//	offset 4-7:  schema header
//	offset 8:    negotiated heartbeat period, int64 ns
//	offset 16:   initial expected sequence number, int64
const (
	estRespHeartbeatOffset = 8
	estRespSeqOffset       = 16
	estRespFrameLen        = 24
)

// Inbound report field offsets, relative to the start of the full frame
// buffer (which includes the 8-byte header), per §4.5's contractual table.
const (
	seqNumberOffset = 8 // application-layer inbound frames only

	nosrReqIDOffset    = 24
	nosrTSOffset       = 32
	nosrOrderIDOffset  = 52
	nosrPriceOffset    = 60
	nosrSizeOffset     = 68
	nosrSideOffset     = 74

	norjReqIDOffset  = 24
	norjReasonOffset = 32

	orrReqIDOffset       = 24
	orrTSOffset          = 32
	orrNewOrderIDOffset  = 40
	orrPriceOffset       = 48
	orrSizeOffset        = 56
	orrOldOrderIDOffset  = 60

	orjReqIDOffset  = 24
	orjReasonOffset = 32

	exrTSOffset        = 24
	exrPriceOffset     = 40
	exrFilledOffset    = 48
	exrOrderIDOffset   = 52
	exrRemainingOffset = 60

	termReasonOffset = 8

	seqMsgSeqOffset = 8

	floodReqIDOffset     = 8
	floodTimeoutNsOffset = 20

	rejReqIDOffset  = 8
	rejFieldOffset  = 16
	rejReasonOffset = 20
)

// noSequenceCheck lists the message types exempt from the sequence
// comparison (§4.5 "Sequence discipline" + the inbound dispatch table).
// Every other inbound type, including the 5007 Sequence heartbeat itself,
// carries a sequence number at offset 8 that is checked against what the
// channel expects next.
var noSequenceCheck = map[uint16]bool{
	msgEstablish:   true,
	msgEstablished: true,
	msgTerminate:   true,
	msgFloodReject: true,
	msgMsgReject:   true,
}

func needsSequenceCheck(msgType uint16) bool {
	return !noSequenceCheck[msgType]
}
