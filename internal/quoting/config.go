package quoting

import (
	"time"

	"derivquoter/pkg/price"
)

// Config is the set of strategy parameters the quoting engine needs. It
// is deliberately narrower than the process-wide configuration — the
// engine only ever sees the sub-slice relevant to its own decisions,
// mirroring the teacher's strategy.Maker taking a config.StrategyConfig
// rather than the whole application config.
type Config struct {
	Account         int64
	Instrument      price.InstrumentID
	StandardVolume  price.Quantity
	InitialPosition int32
	MaxPosition     int32

	// Interest, Shift and Increment are already scaled fixed-point
	// (×10⁹) integers by the time they reach the engine; the config
	// loader is responsible for converting operator-entered decimals.
	Interest  int64
	Shift     int64
	Increment price.Price

	FloodLimit  int
	FloodPeriod time.Duration
}
