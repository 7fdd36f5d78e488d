// Completion: 100% - Architecture module complete
package engine

import (
	"encoding/binary"
	"fmt"
	"strings"
)

// Architecture type
type Arch int

const (
	ArchUnknown Arch = iota
	ArchX86_64
	ArchARM64
	ArchRiscv64
)

// NumArch is the number of Arch values, including ArchUnknown.
// Per-architecture counters are indexed by Arch.
const NumArch = int(ArchRiscv64) + 1

var archNames = map[string]Arch{
	"x86_64":  ArchX86_64,
	"amd64":   ArchX86_64,
	"x86-64":  ArchX86_64,
	"aarch64": ArchARM64,
	"arm64":   ArchARM64,
	"riscv64": ArchRiscv64,
	"riscv":   ArchRiscv64,
	"rv64":    ArchRiscv64,
}

func (a Arch) String() string {
	switch a {
	case ArchX86_64:
		return "x86_64"
	case ArchARM64:
		return "aarch64"
	case ArchRiscv64:
		return "riscv64"
	default:
		return "unknown"
	}
}

// Valid reports whether a is one of the supported guest architectures
func (a Arch) Valid() bool {
	return a == ArchX86_64 || a == ArchARM64 || a == ArchRiscv64
}

// ByteOrder returns the default data byte order of the architecture.
// All three run little-endian in every configuration we emulate;
// pipelines can override this per architecture.
func (a Arch) ByteOrder() binary.ByteOrder {
	return binary.LittleEndian
}

// All returns the supported architectures in enum order
func All() []Arch {
	return []Arch{ArchX86_64, ArchARM64, ArchRiscv64}
}

// ParseArch parses an architecture string (like GOARCH values)
func ParseArch(s string) (Arch, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	if a, ok := archNames[name]; ok {
		return a, nil
	}
	if hint := Suggest(name, keys(archNames), 1); len(hint) > 0 {
		return ArchUnknown, fmt.Errorf("unsupported architecture: %s (did you mean %s?)", s, hint[0])
	}
	return ArchUnknown, fmt.Errorf("unsupported architecture: %s (supported: amd64, arm64, riscv64)", s)
}

// Pair is an ordered (source, destination) architecture pair
type Pair struct {
	From Arch
	To   Arch
}

func (p Pair) String() string {
	return fmt.Sprintf("%s->%s", p.From, p.To)
}

// ParsePair parses "x86_64->riscv64" style pair names
func ParsePair(s string) (Pair, error) {
	from, to, ok := strings.Cut(s, "->")
	if !ok {
		return Pair{}, fmt.Errorf("invalid architecture pair %q (want from->to)", s)
	}
	a, err := ParseArch(from)
	if err != nil {
		return Pair{}, err
	}
	b, err := ParseArch(to)
	if err != nil {
		return Pair{}, err
	}
	return Pair{From: a, To: b}, nil
}

func keys[V any](m map[string]V) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}
