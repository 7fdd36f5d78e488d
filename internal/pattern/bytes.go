package pattern

import (
	"encoding/binary"
	"fmt"
	"strconv"
	"strings"
)

// PrefixLen is the number of leading instruction bytes the matcher looks
// at. Every catalog matcher fits in it.
const PrefixLen = 16

// ByteMatcher matches a byte prefix: b[i]&Mask[i] == Value[i]
type ByteMatcher struct {
	Mask  []byte
	Value []byte
}

// Len is the number of bytes the matcher needs
func (m ByteMatcher) Len() int {
	return len(m.Mask)
}

// FixedBits counts the mask bits, used to order matchers of equal length
func (m ByteMatcher) FixedBits() int {
	n := 0
	for _, b := range m.Mask {
		for ; b != 0; b &= b - 1 {
			n++
		}
	}
	return n
}

// Match reports whether b starts with the pattern
func (m ByteMatcher) Match(b []byte) bool {
	if len(b) < len(m.Mask) {
		return false
	}
	for i, mask := range m.Mask {
		if b[i]&mask != m.Value[i] {
			return false
		}
	}
	return true
}

func (m ByteMatcher) validate() error {
	if len(m.Mask) != len(m.Value) {
		return fmt.Errorf("mask has %d bytes, value has %d", len(m.Mask), len(m.Value))
	}
	if len(m.Mask) == 0 || len(m.Mask) > PrefixLen {
		return fmt.Errorf("matcher length %d outside 1..%d", len(m.Mask), PrefixLen)
	}
	for i := range m.Mask {
		if m.Value[i]&^m.Mask[i] != 0 {
			return fmt.Errorf("byte %d: value %#02x has bits outside mask %#02x", i, m.Value[i], m.Mask[i])
		}
	}
	return nil
}

func (m ByteMatcher) String() string {
	parts := make([]string, len(m.Mask))
	for i := range m.Mask {
		switch m.Mask[i] {
		case 0:
			parts[i] = "??"
		case 0xff:
			parts[i] = fmt.Sprintf("%02x", m.Value[i])
		default:
			parts[i] = fmt.Sprintf("%02x/%02x", m.Value[i], m.Mask[i])
		}
	}
	return strings.Join(parts, " ")
}

// hex parses a byte pattern: "48/f8 01 c0/c0 ??" where "vv/mm" is a value
// under a mask, "vv" an exact byte and "??" any byte
func hex(s string) ByteMatcher {
	var m ByteMatcher
	for _, tok := range strings.Fields(s) {
		if tok == "??" {
			m.Mask = append(m.Mask, 0)
			m.Value = append(m.Value, 0)
			continue
		}
		val, mask, hasMask := strings.Cut(tok, "/")
		v, err := strconv.ParseUint(val, 16, 8)
		if err != nil {
			panic(fmt.Sprintf("pattern: bad byte %q in %q", tok, s))
		}
		mk := uint64(0xff)
		if hasMask {
			if mk, err = strconv.ParseUint(mask, 16, 8); err != nil {
				panic(fmt.Sprintf("pattern: bad mask %q in %q", tok, s))
			}
		}
		m.Mask = append(m.Mask, byte(mk))
		m.Value = append(m.Value, byte(v&mk))
	}
	return m
}

// word matches one little-endian 32-bit instruction word
func word(mask, value uint32) ByteMatcher {
	m := ByteMatcher{Mask: make([]byte, 4), Value: make([]byte, 4)}
	binary.LittleEndian.PutUint32(m.Mask, mask)
	binary.LittleEndian.PutUint32(m.Value, value&mask)
	return m
}

// exact matches one whole 32-bit word
func exact(w uint32) ByteMatcher {
	return word(0xffffffff, w)
}

// seq concatenates matchers into an instruction sequence
func seq(ms ...ByteMatcher) ByteMatcher {
	var out ByteMatcher
	for _, m := range ms {
		out.Mask = append(out.Mask, m.Mask...)
		out.Value = append(out.Value, m.Value...)
	}
	return out
}
