package memnorm

import (
	"encoding/binary"
	"fmt"
	"slices"

	"golang.org/x/sys/cpu"

	"github.com/RunningShrimp/vm-sub001/internal/engine"
	"github.com/RunningShrimp/vm-sub001/internal/isa"
)

// CacheLine is the line size assumed on every supported target
const CacheLine = 64

// Endianness is the byte order of a target's memory accesses
type Endianness uint8

const (
	LittleEndian Endianness = iota
	BigEndian
)

func (e Endianness) String() string {
	if e == BigEndian {
		return "big-endian"
	}
	return "little-endian"
}

// ByteOrder returns the encoding/binary order for e
func (e Endianness) ByteOrder() binary.ByteOrder {
	if e == BigEndian {
		return binary.BigEndian
	}
	return binary.LittleEndian
}

// HostOrder is the byte order of the machine running the translator
func HostOrder() Endianness {
	if cpu.IsBigEndian {
		return BigEndian
	}
	return LittleEndian
}

// Target describes what a destination can address in a single access
type Target struct {
	Arch  engine.Arch
	Order Endianness
	// Indexed is true when base + index*scale + offset is a native form,
	// with the index scales listed in Scales
	Indexed bool
	Scales  []uint8
	// NoIndex lists registers that cannot be an index
	NoIndex []isa.Reg
	// NoRegForm lists registers the three-register ALU forms cannot name
	// (aarch64 SP); they are copied with MOV first
	NoRegForm []isa.Reg
	// Widths are the access sizes with a native load and store
	Widths []uint8
	// StrictAlign makes every misaligned access an error
	StrictAlign bool
}

var targets = map[engine.Arch]Target{
	engine.ArchX86_64: {
		Arch:    engine.ArchX86_64,
		Order:   LittleEndian,
		Indexed: true,
		Scales:  []uint8{1, 2, 4, 8},
		NoIndex: []isa.Reg{4}, // rsp
		Widths:  []uint8{1, 2, 4, 8},
	},
	engine.ArchARM64: {
		Arch:      engine.ArchARM64,
		Order:     LittleEndian,
		NoRegForm: []isa.Reg{31},
		Widths:    []uint8{1, 2, 4, 8},
	},
	engine.ArchRiscv64: {
		Arch:   engine.ArchRiscv64,
		Order:  LittleEndian,
		Widths: []uint8{1, 2, 4, 8},
	},
}

// TargetFor returns the addressing capabilities of arch
func TargetFor(arch engine.Arch) (Target, error) {
	t, ok := targets[arch]
	if !ok {
		return Target{}, fmt.Errorf("memnorm: no target description for %s", arch)
	}
	t.Scales = slices.Clone(t.Scales)
	t.NoIndex = slices.Clone(t.NoIndex)
	t.NoRegForm = slices.Clone(t.NoRegForm)
	t.Widths = slices.Clone(t.Widths)
	return t, nil
}

func (t Target) canIndex(index isa.Reg, scale uint8) bool {
	return t.Indexed && slices.Contains(t.Scales, scale) && !slices.Contains(t.NoIndex, index)
}

func (t Target) regForm(r isa.Reg) bool {
	return !slices.Contains(t.NoRegForm, r)
}

func (t Target) hasWidth(w uint8) bool {
	return slices.Contains(t.Widths, w)
}
