package memnorm

import (
	"fmt"
	"math/bits"
	"slices"
)

// EndiannessConverter swaps data between two byte orders. Width is the
// element size; 0 treats the whole slice as one element.
type EndiannessConverter struct {
	From  Endianness
	To    Endianness
	Width int
}

// Needed reports whether the two orders differ
func (c EndiannessConverter) Needed() bool {
	return c.From != c.To
}

// Convert reverses every Width-byte element of b in place
func (c EndiannessConverter) Convert(b []byte) error {
	if !c.Needed() {
		return nil
	}
	w := c.Width
	if w == 0 {
		w = len(b)
	}
	if w < 0 || (w > 0 && len(b)%w != 0) {
		return fmt.Errorf("memnorm: %d bytes is not a multiple of element width %d", len(b), c.Width)
	}
	for i := 0; i < len(b); i += w {
		slices.Reverse(b[i : i+w])
	}
	return nil
}

// Value converts the low width bytes of v
func (c EndiannessConverter) Value(v uint64, width int) (uint64, error) {
	if !c.Needed() {
		return v, nil
	}
	switch width {
	case 1:
		return v & 0xff, nil
	case 2:
		return uint64(bits.ReverseBytes16(uint16(v))), nil
	case 4:
		return uint64(bits.ReverseBytes32(uint32(v))), nil
	case 8:
		return bits.ReverseBytes64(v), nil
	}
	return 0, fmt.Errorf("memnorm: cannot convert a %d-byte value", width)
}

// Convert reverses b in place when from and to differ
func Convert(b []byte, from, to Endianness) error {
	return EndiannessConverter{From: from, To: to}.Convert(b)
}
