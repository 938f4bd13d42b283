// Package price defines the fixed-point price representation shared by
// every layer of the agent — the trading channel, the book feed, and the
// quoting engine all operate exclusively on Price and never on floats.
//
// This package has no dependency on anything else in the module, mirroring
// the teacher's pkg/types: it is the common vocabulary every other package
// imports.
package price

import "fmt"

// Scale is the fixed-point denominator: every Price is an integer number
// of 10^-9 units. 1.00 is represented as 1_000_000_000.
const Scale = 1_000_000_000

// ScaleExponent is -9, the exponent Scale corresponds to. The book feed's
// {mantissa, exponent} values are normalized to this exponent.
const ScaleExponent = -9

// Price is an unsigned 64-bit integer scaled by 10^9. Every price on every
// boundary — wire frames, book levels, desired quotes — uses this
// representation; there is no floating-point price anywhere in the agent.
type Price uint64

// Quantity is a signed 32-bit integer. Semantically non-negative except
// where it represents a delta (e.g. a fill size applied against a
// position).
type Quantity int32

// InstrumentID identifies the single instrument this agent trades.
type InstrumentID int32

// Side is buy or sell, encoded on the wire as 1 or 2 respectively.
type Side uint8

const (
	Buy  Side = 1
	Sell Side = 2
)

func (s Side) String() string {
	switch s {
	case Buy:
		return "buy"
	case Sell:
		return "sell"
	default:
		return fmt.Sprintf("side(%d)", uint8(s))
	}
}

// FromMantissaExponent converts the book feed's {mantissa, exponent} form
// to the fixed-point Price representation by multiplying or dividing by
// powers of ten until the exponent reaches -9.
//
// This conversion is lossy when exponent < -9: digits past the ninth
// decimal place are truncated by integer division. The agent never widens
// to 128-bit to recover them — that loss is an accepted, documented limit
// of operating entirely in ×10^9 fixed point, not a bug to be fixed here.
func FromMantissaExponent(mantissa int64, exponent int32) Price {
	m := mantissa
	e := exponent
	for e > ScaleExponent {
		m *= 10
		e--
	}
	for e < ScaleExponent {
		m /= 10
		e++
	}
	if m < 0 {
		return 0
	}
	return Price(m)
}

// Mid computes the unsigned midpoint of a bid and ask. Division is done in
// unsigned arithmetic so that a sum large enough to overflow a signed
// int64 still divides correctly — this is a deliberate property of the
// uint64 Price type, not an oversight to "fix" with a wider type.
func Mid(bid, ask Price) Price {
	return (bid + ask) / 2
}

// RoundToTick rounds p to the nearest multiple of increment. Ties (exactly
// half a tick) round down, per the agent's tie-breaking rule.
func RoundToTick(p, increment Price) Price {
	if increment == 0 {
		return p
	}
	rem := p % increment
	floor := p - rem
	if rem*2 < increment {
		return floor
	}
	if rem*2 > increment {
		return floor + increment
	}
	// exact tie: round down
	return floor
}
