// Completion: 100% - Register files for the three guest architectures
package regmap

import (
	"fmt"
	"slices"

	"github.com/RunningShrimp/vm-sub001/internal/engine"
	"github.com/RunningShrimp/vm-sub001/internal/isa"
)

// Class of a register file. Only general purpose registers are mapped.
type Class uint8

const (
	ClassGPR Class = iota
)

func (c Class) String() string {
	return "gpr"
}

// RegisterFile describes the general purpose registers of one
// architecture and the role each one plays in its calling convention.
// Scratch and FrameBase are reserved by the Windowed and SpillBased
// strategies and never receive a source register directly.
type RegisterFile struct {
	Arch      engine.Arch
	Count     int
	Class     Class
	SP        isa.Reg
	FP        isa.Reg
	Link      isa.Reg
	HasLink   bool
	Zero      isa.Reg
	HasZero   bool
	Args      []isa.Reg
	Temps     []isa.Reg
	Saved     []isa.Reg
	Scratch   []isa.Reg
	FrameBase isa.Reg
}

func regs(ids ...int) []isa.Reg {
	out := make([]isa.Reg, len(ids))
	for i, id := range ids {
		out[i] = isa.Reg(id)
	}
	return out
}

func span(from, to int) []isa.Reg {
	out := make([]isa.Reg, 0, to-from+1)
	for r := from; r <= to; r++ {
		out = append(out, isa.Reg(r))
	}
	return out
}

var defaultFiles = map[engine.Arch]RegisterFile{
	// rax rcx rdx rbx rsp rbp rsi rdi r8-r15
	engine.ArchX86_64: {
		Arch:      engine.ArchX86_64,
		Count:     16,
		SP:        4,
		FP:        5,
		Args:      regs(7, 6, 2, 1, 8, 9),
		Temps:     regs(0, 10, 11),
		Saved:     regs(3, 12, 13, 14, 15),
		Scratch:   regs(10, 11, 14),
		FrameBase: 15,
	},
	// x0-x30, 31 is sp in address and add/sub immediate forms
	engine.ArchARM64: {
		Arch:      engine.ArchARM64,
		Count:     32,
		SP:        31,
		FP:        29,
		Link:      30,
		HasLink:   true,
		Args:      span(0, 7),
		Temps:     span(9, 15),
		Saved:     span(19, 28),
		Scratch:   regs(15, 16, 17),
		FrameBase: 28,
	},
	// x0 zero, x1 ra, x2 sp, x8 s0/fp
	engine.ArchRiscv64: {
		Arch:      engine.ArchRiscv64,
		Count:     32,
		SP:        2,
		FP:        8,
		Link:      1,
		HasLink:   true,
		Zero:      0,
		HasZero:   true,
		Args:      span(10, 17),
		Temps:     append(span(5, 7), span(28, 31)...),
		Saved:     append(regs(9), span(18, 27)...),
		Scratch:   regs(29, 30, 31),
		FrameBase: 27,
	},
}

// DefaultFile returns the built-in register file for arch
func DefaultFile(arch engine.Arch) (RegisterFile, error) {
	f, ok := defaultFiles[arch]
	if !ok {
		return RegisterFile{}, fmt.Errorf("no register file for architecture %s", arch)
	}
	return f, nil
}

// Valid reports whether r names a register of the file
func (f RegisterFile) Valid(r isa.Reg) bool {
	return int(r) < f.Count
}

// Reserved reports whether r is kept back for scratch or spill use
func (f RegisterFile) Reserved(r isa.Reg) bool {
	return r == f.FrameBase || slices.Contains(f.Scratch, r)
}

// Special reports whether r has a fixed role that no other value may
// occupy: the stack pointer, the link register or the zero register
func (f RegisterFile) Special(r isa.Reg) bool {
	return r == f.SP || (f.HasLink && r == f.Link) || (f.HasZero && r == f.Zero)
}

// roleGroups lists the registers grouped by role. Registers are paired
// group by group; whatever is left over is appended to the last group
// in ascending order.
func (f RegisterFile) roleGroups() [][]isa.Reg {
	groups := [][]isa.Reg{{f.SP}, {f.FP}, nil, nil, f.Args, f.Temps, f.Saved}
	if f.HasLink {
		groups[2] = []isa.Reg{f.Link}
	}
	if f.HasZero {
		groups[3] = []isa.Reg{f.Zero}
	}
	seen := make([]bool, f.Count)
	for _, g := range groups {
		for _, r := range g {
			seen[r] = true
		}
	}
	var rest []isa.Reg
	for r := 0; r < f.Count; r++ {
		if !seen[r] {
			rest = append(rest, isa.Reg(r))
		}
	}
	return append(groups, rest)
}

// RoleOrder returns every register once, in role order
func (f RegisterFile) RoleOrder() []isa.Reg {
	var out []isa.Reg
	seen := make([]bool, f.Count)
	for _, g := range f.roleGroups() {
		for _, r := range g {
			if !seen[r] {
				seen[r] = true
				out = append(out, r)
			}
		}
	}
	return out
}
