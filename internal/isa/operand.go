// Completion: 100% - Operand model complete
package isa

import (
	"fmt"
	"slices"
	"strings"
)

// Reg is an architectural register number as the decoder reports it
type Reg uint8

func (r Reg) String() string {
	return fmt.Sprintf("r%d", r)
}

// OperandKind tags the Operand variant
type OperandKind uint8

const (
	KindNone OperandKind = iota
	KindRegister
	KindImmediate
	KindMemory
	KindLabel
	KindRegisterPair
	KindRegisterList
	KindVector
	KindComplex
)

func (k OperandKind) String() string {
	switch k {
	case KindRegister:
		return "register"
	case KindImmediate:
		return "immediate"
	case KindMemory:
		return "memory"
	case KindLabel:
		return "label"
	case KindRegisterPair:
		return "register-pair"
	case KindRegisterList:
		return "register-list"
	case KindVector:
		return "vector"
	case KindComplex:
		return "complex"
	default:
		return "none"
	}
}

// Memory is a base + index*scale + offset reference of Size bytes
type Memory struct {
	Base     Reg   `cbor:"1,keyasint"`
	Index    Reg   `cbor:"2,keyasint"`
	HasIndex bool  `cbor:"3,keyasint"`
	Scale    uint8 `cbor:"4,keyasint"`
	Offset   int64 `cbor:"5,keyasint"`
	Size     uint8 `cbor:"6,keyasint"`
}

// Operand is a tagged variant. Only the fields belonging to Kind are set.
type Operand struct {
	Kind  OperandKind `cbor:"1,keyasint"`
	Reg   Reg         `cbor:"2,keyasint,omitempty"`
	Imm   int64       `cbor:"3,keyasint,omitempty"`
	Mem   *Memory     `cbor:"4,keyasint,omitempty"`
	Label string      `cbor:"5,keyasint,omitempty"`
	Regs  []Reg       `cbor:"6,keyasint,omitempty"`
	Elems []Operand   `cbor:"7,keyasint,omitempty"`
	Desc  string      `cbor:"8,keyasint,omitempty"`
}

// Constructors for each operand variant

func R(r Reg) Operand { return Operand{Kind: KindRegister, Reg: r} }
func Imm(v int64) Operand { return Operand{Kind: KindImmediate, Imm: v} }
func Label(s string) Operand { return Operand{Kind: KindLabel, Label: s} }

// Mem builds [base + offset] with an access size in bytes
func Mem(base Reg, offset int64, size uint8) Operand {
	return Operand{Kind: KindMemory, Mem: &Memory{Base: base, Offset: offset, Size: size, Scale: 1}}
}

// MemIndexed builds [base + index*scale + offset]
func MemIndexed(base, index Reg, scale uint8, offset int64, size uint8) Operand {
	return Operand{Kind: KindMemory, Mem: &Memory{
		Base: base, Index: index, HasIndex: true, Scale: scale, Offset: offset, Size: size,
	}}
}

func Pair(a, b Reg) Operand { return Operand{Kind: KindRegisterPair, Regs: []Reg{a, b}} }

func RegList(regs ...Reg) Operand {
	return Operand{Kind: KindRegisterList, Regs: slices.Clone(regs)}
}

func Vec(elems ...Operand) Operand {
	return Operand{Kind: KindVector, Elems: slices.Clone(elems)}
}

func Complex(desc string) Operand { return Operand{Kind: KindComplex, Desc: desc} }

// Registers lists every register the operand references, in operand order
func (o Operand) Registers() []Reg {
	switch o.Kind {
	case KindRegister:
		return []Reg{o.Reg}
	case KindMemory:
		if o.Mem == nil {
			return nil
		}
		if o.Mem.HasIndex {
			return []Reg{o.Mem.Base, o.Mem.Index}
		}
		return []Reg{o.Mem.Base}
	case KindRegisterPair, KindRegisterList:
		return slices.Clone(o.Regs)
	case KindVector:
		var out []Reg
		for _, e := range o.Elems {
			out = append(out, e.Registers()...)
		}
		return out
	}
	return nil
}

// Equal compares two operands by value
func (o Operand) Equal(p Operand) bool {
	if o.Kind != p.Kind || o.Reg != p.Reg || o.Imm != p.Imm || o.Label != p.Label || o.Desc != p.Desc {
		return false
	}
	if (o.Mem == nil) != (p.Mem == nil) {
		return false
	}
	if o.Mem != nil && *o.Mem != *p.Mem {
		return false
	}
	if !slices.Equal(o.Regs, p.Regs) {
		return false
	}
	return slices.EqualFunc(o.Elems, p.Elems, Operand.Equal)
}

func (o Operand) String() string {
	switch o.Kind {
	case KindRegister:
		return o.Reg.String()
	case KindImmediate:
		return fmt.Sprintf("%d", o.Imm)
	case KindMemory:
		return o.Mem.String()
	case KindLabel:
		return o.Label
	case KindRegisterPair:
		return fmt.Sprintf("%s:%s", o.Regs[0], o.Regs[1])
	case KindRegisterList:
		parts := make([]string, len(o.Regs))
		for i, r := range o.Regs {
			parts[i] = r.String()
		}
		return "{" + strings.Join(parts, ", ") + "}"
	case KindVector:
		parts := make([]string, len(o.Elems))
		for i, e := range o.Elems {
			parts[i] = e.String()
		}
		return "<" + strings.Join(parts, ", ") + ">"
	case KindComplex:
		return "#" + o.Desc
	}
	return "?"
}

func (m *Memory) String() string {
	if m == nil {
		return "[?]"
	}
	var sb strings.Builder
	switch m.Size {
	case 1:
		sb.WriteString("byte ")
	case 2:
		sb.WriteString("word ")
	case 4:
		sb.WriteString("dword ")
	case 8:
		sb.WriteString("qword ")
	case 16:
		sb.WriteString("xmmword ")
	case 32:
		sb.WriteString("ymmword ")
	}
	sb.WriteString("[")
	sb.WriteString(m.Base.String())
	if m.HasIndex {
		fmt.Fprintf(&sb, " + %s*%d", m.Index, m.Scale)
	}
	if m.Offset > 0 {
		fmt.Fprintf(&sb, " + %d", m.Offset)
	} else if m.Offset < 0 {
		fmt.Fprintf(&sb, " - %d", -m.Offset)
	}
	sb.WriteString("]")
	return sb.String()
}

// KindSet is a set of operand kinds accepted at one operand position
type KindSet uint16

func Kinds(kinds ...OperandKind) KindSet {
	var s KindSet
	for _, k := range kinds {
		s |= 1 << k
	}
	return s
}

func (s KindSet) Has(k OperandKind) bool {
	return s&(1<<k) != 0
}

func (s KindSet) String() string {
	var parts []string
	for k := KindRegister; k <= KindComplex; k++ {
		if s.Has(k) {
			parts = append(parts, k.String())
		}
	}
	return strings.Join(parts, "|")
}
