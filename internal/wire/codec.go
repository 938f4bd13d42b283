// Package wire implements the little-endian fixed-offset codec the trading
// channel's binary protocol is built on. Every multi-byte field anywhere in
// the agent — frame headers, request bodies, report fields — routes
// through these functions, so endianness discipline lives in exactly one
// place.
//
// These are pure functions operating on a caller-supplied buffer at a
// caller-supplied offset. There is no bounds-checking contract beyond what
// the language already provides: callers only ever use them against
// statically-sized message templates, so an out-of-range offset is a
// programmer error, not a runtime condition to recover from.
package wire

import "encoding/binary"

// PutUint16 writes v as little-endian at buf[off:off+2].
func PutUint16(buf []byte, off int, v uint16) {
	binary.LittleEndian.PutUint16(buf[off:], v)
}

// Uint16 reads a little-endian uint16 from buf[off:off+2].
func Uint16(buf []byte, off int) uint16 {
	return binary.LittleEndian.Uint16(buf[off:])
}

// PutUint32 writes v as little-endian at buf[off:off+4].
func PutUint32(buf []byte, off int, v uint32) {
	binary.LittleEndian.PutUint32(buf[off:], v)
}

// Uint32 reads a little-endian uint32 from buf[off:off+4].
func Uint32(buf []byte, off int) uint32 {
	return binary.LittleEndian.Uint32(buf[off:])
}

// PutUint64 writes v as little-endian at buf[off:off+8].
func PutUint64(buf []byte, off int, v uint64) {
	binary.LittleEndian.PutUint64(buf[off:], v)
}

// Uint64 reads a little-endian uint64 from buf[off:off+8].
func Uint64(buf []byte, off int) uint64 {
	return binary.LittleEndian.Uint64(buf[off:])
}

// PutInt32 writes the two's-complement little-endian encoding of v.
// Signed interpretation is the caller's concern; this is a thin wrapper
// so call sites don't sprinkle uint32(int32(...)) conversions everywhere.
func PutInt32(buf []byte, off int, v int32) {
	PutUint32(buf, off, uint32(v))
}

// Int32 reads a little-endian two's-complement int32.
func Int32(buf []byte, off int) int32 {
	return int32(Uint32(buf, off))
}

// PutInt64 writes the two's-complement little-endian encoding of v.
func PutInt64(buf []byte, off int, v int64) {
	PutUint64(buf, off, uint64(v))
}

// Int64 reads a little-endian two's-complement int64.
func Int64(buf []byte, off int) int64 {
	return int64(Uint64(buf, off))
}
