// Completion: 100% - Block-scoped allocator over a mapper
package regmap

import (
	"fmt"

	"github.com/RunningShrimp/vm-sub001/internal/isa"
)

// LocationKind says where a source register lives in the destination
type LocationKind uint8

const (
	InRegister LocationKind = iota // directly mapped register
	InSpill                        // fixed frame slot, loaded and stored around each use
)

func (k LocationKind) String() string {
	switch k {
	case InRegister:
		return "register"
	case InSpill:
		return "spill"
	default:
		return "invalid"
	}
}

// Location of a source register. Reg is set for InRegister, Slot for
// InSpill.
type Location struct {
	Kind LocationKind
	Reg  isa.Reg
	Slot int
}

// Offset is the slot's displacement from the frame base
func (l Location) Offset() int64 {
	return int64(l.Slot * SlotSize)
}

func (l Location) String() string {
	if l.Kind == InSpill {
		return fmt.Sprintf("slot%d", l.Slot)
	}
	return fmt.Sprintf("%s(%s)", l.Kind, l.Reg)
}

// Allocator places the registers of one translated block. It is not safe
// for concurrent use; each block gets its own.
type Allocator struct {
	m        *Mapper
	occupied []bool
	temps    []isa.Reg
	extent   int // one past the highest slot the block touched
}

// NewAllocator starts an empty block over m
func NewAllocator(m *Mapper) *Allocator {
	a := &Allocator{m: m}
	a.Reset()
	return a
}

// Reset forgets every placement, ready for the next block
func (a *Allocator) Reset() {
	a.occupied = make([]bool, a.m.dst.Count)
	a.temps = a.temps[:0]
	a.extent = 0
}

func (a *Allocator) Mapper() *Mapper {
	return a.m
}

// Reserve marks the destination of a directly mapped source register as
// taken for the whole block, so temporaries never land on it. Registers
// without a direct mapping are ignored here and reported by Resolve.
func (a *Allocator) Reserve(src isa.Reg) {
	if d, err := a.m.MapRegister(src); err == nil {
		a.occupied[d] = true
	}
}

// Resolve returns where src lives for this block. A register without a
// direct mapping lives in the frame slot its mapper fixed for it, so a
// value stored by one block is found by the next.
func (a *Allocator) Resolve(src isa.Reg) (Location, error) {
	if d, err := a.m.MapRegister(src); err == nil {
		a.occupied[d] = true
		return Location{Kind: InRegister, Reg: d}, nil
	} else if a.m.strategy == Direct || !a.m.src.Valid(src) {
		return Location{}, err
	}
	slot, err := a.m.SpillSlot(src)
	if err != nil {
		return Location{}, err
	}
	a.extent = max(a.extent, slot+1)
	return Location{Kind: InSpill, Slot: slot}, nil
}

func (a *Allocator) freeScratch() (isa.Reg, bool) {
	for _, r := range a.m.dst.Scratch {
		if !a.occupied[r] {
			return r, true
		}
	}
	return 0, false
}

// AllocateTemporary hands out a destination register that holds no
// source value, valid until Release or ReleaseTemporaries. Windowed and
// SpillBased allocate from the reserved scratch registers only.
func (a *Allocator) AllocateTemporary() (isa.Reg, error) {
	if r, ok := a.freeScratch(); ok {
		return a.take(r), nil
	}
	if a.m.strategy == Direct {
		dst := a.m.dst
		for _, r := range dst.RoleOrder() {
			if !a.occupied[r] && !dst.Special(r) && r != dst.FP {
				return a.take(r), nil
			}
		}
	}
	return 0, &MappingError{
		Source:    a.m.src.Arch,
		Dest:      a.m.dst.Arch,
		Strategy:  a.m.strategy,
		Temporary: true,
		Err:       ErrNoScratch,
	}
}

func (a *Allocator) take(r isa.Reg) isa.Reg {
	a.occupied[r] = true
	a.temps = append(a.temps, r)
	return r
}

// Release frees one temporary
func (a *Allocator) Release(r isa.Reg) {
	for i, t := range a.temps {
		if t == r {
			a.occupied[r] = false
			a.temps = append(a.temps[:i], a.temps[i+1:]...)
			return
		}
	}
}

// ReleaseTemporaries frees every temporary, at the end of an instruction
func (a *Allocator) ReleaseTemporaries() {
	for _, r := range a.temps {
		a.occupied[r] = false
	}
	a.temps = a.temps[:0]
}

// SpillSlots returns how many slots from the frame base the block
// reaches, unused slots below the highest one included
func (a *Allocator) SpillSlots() int {
	return a.extent
}

// FrameSize is the size of the spill area starting at the frame base
func (a *Allocator) FrameSize() int {
	return a.extent * SlotSize
}

// FrameBase is the destination register spill slots are addressed from
func (a *Allocator) FrameBase() isa.Reg {
	return a.m.dst.FrameBase
}
