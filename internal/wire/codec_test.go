package wire

import "testing"

func TestUint16RoundTrip(t *testing.T) {
	t.Parallel()
	buf := make([]byte, 4)
	PutUint16(buf, 1, 0xBEEF)
	if got := Uint16(buf, 1); got != 0xBEEF {
		t.Errorf("Uint16 round trip = %#x, want 0xBEEF", got)
	}
}

func TestUint32RoundTrip(t *testing.T) {
	t.Parallel()
	buf := make([]byte, 8)
	var x uint32 = 0xDEADBEEF
	PutUint32(buf, 2, x)
	if got := Uint32(buf, 2); got != x {
		t.Errorf("Uint32 round trip = %#x, want %#x", got, x)
	}
}

func TestUint64RoundTrip(t *testing.T) {
	t.Parallel()
	buf := make([]byte, 16)
	var x uint64 = 0x0102030405060708
	PutUint64(buf, 3, x)
	if got := Uint64(buf, 3); got != x {
		t.Errorf("Uint64 round trip = %#x, want %#x", got, x)
	}
}

func TestInt32RoundTripNegative(t *testing.T) {
	t.Parallel()
	buf := make([]byte, 8)
	PutInt32(buf, 0, -1)
	if got := Int32(buf, 0); got != -1 {
		t.Errorf("Int32 round trip = %d, want -1", got)
	}
}

func TestInt64RoundTripNegative(t *testing.T) {
	t.Parallel()
	buf := make([]byte, 8)
	PutInt64(buf, 0, -42)
	if got := Int64(buf, 0); got != -42 {
		t.Errorf("Int64 round trip = %d, want -42", got)
	}
}

func TestLittleEndianByteOrder(t *testing.T) {
	t.Parallel()
	buf := make([]byte, 4)
	PutUint32(buf, 0, 0x00CA9A3B)
	want := []byte{0x3B, 0x9A, 0xCA, 0x00}
	for i, b := range want {
		if buf[i] != b {
			t.Errorf("byte %d = %#x, want %#x", i, buf[i], b)
		}
	}
}
