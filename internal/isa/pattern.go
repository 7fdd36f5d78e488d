// Completion: 100% - Pattern model complete
package isa

import (
	"fmt"
	"slices"
	"strings"

	"github.com/RunningShrimp/vm-sub001/internal/engine"
)

// Flags describe side properties of an instruction pattern
type Flags uint16

const (
	SetsFlags Flags = 1 << iota
	ReadsFlags
	IsConditional
	IsPredicated
	IsAtomic
	IsVolatile
	IsPrivileged
	IsTerminal
)

var flagNames = []string{
	"sets_flags", "reads_flags", "conditional", "predicated",
	"atomic", "volatile", "privileged", "terminal",
}

func (f Flags) Has(g Flags) bool {
	return f&g == g
}

func (f Flags) String() string {
	if f == 0 {
		return "none"
	}
	var parts []string
	for i, name := range flagNames {
		if f&(1<<i) != 0 {
			parts = append(parts, name)
		}
	}
	return strings.Join(parts, "|")
}

// Semantics is structured metadata about what a pattern does.
// Reads and Writes are operand indices.
type Semantics struct {
	Operation      string
	Preconditions  []string
	Postconditions []string
	SideEffects    []string
	Reads          []int
	Writes         []int
}

// Pattern is the architecture-independent classification of an
// instruction. Patterns are immutable after Build and shared read-only
// between caches and goroutines.
type Pattern struct {
	Name       string
	Op         Opcode
	Subtype    Subtype
	Operands   []KindSet
	Cost       int
	Latency    int
	Throughput float64
	Archs      ArchSet
	Flags      Flags
	Semantics  Semantics
}

// Category is shorthand for p.Subtype.Category()
func (p *Pattern) Category() Category {
	return p.Subtype.Category()
}

// CompatibleWith reports whether the pattern applies to arch
func (p *Pattern) CompatibleWith(arch engine.Arch) bool {
	return p.Archs.Has(arch)
}

// IsUnanalyzed reports whether p is the generic "no catalog match" marker
// (or one of its feature-labelled variants)
func (p *Pattern) IsUnanalyzed() bool {
	return p.Subtype == Unknown
}

// Cacheable reports whether a translation containing this pattern may be
// stored and replayed
func (p *Pattern) Cacheable() bool {
	return !p.Flags.Has(IsPrivileged) && !p.Flags.Has(IsVolatile)
}

// Accepts checks that the instruction's operand kinds are the ones the
// pattern expects
func (p *Pattern) Accepts(inst Instruction) error {
	if len(inst.Operands) != len(p.Operands) {
		return fmt.Errorf("pattern %s expects %d operands, %s has %d",
			p.Name, len(p.Operands), inst.Op, len(inst.Operands))
	}
	for i, o := range inst.Operands {
		if !p.Operands[i].Has(o.Kind) {
			return fmt.Errorf("pattern %s operand %d: want %s, got %s",
				p.Name, i, p.Operands[i], o.Kind)
		}
	}
	return nil
}

// Writes reports whether operand index i is written by the pattern
func (p *Pattern) Writes(i int) bool {
	return slices.Contains(p.Semantics.Writes, i)
}

// Reads reports whether operand index i is read by the pattern
func (p *Pattern) Reads(i int) bool {
	return slices.Contains(p.Semantics.Reads, i)
}

func (p *Pattern) String() string {
	return fmt.Sprintf("%s (%s/%s, cost %d)", p.Name, p.Category(), p.Subtype, p.Cost)
}

// Builder assembles a Pattern
type Builder struct {
	p Pattern
}

// NewPattern starts a pattern with the subtype's default cost and flags
func NewPattern(name string, op Opcode, subtype Subtype) *Builder {
	cost := subtype.DefaultCost()
	return &Builder{p: Pattern{
		Name:       name,
		Op:         op,
		Subtype:    subtype,
		Cost:       cost,
		Latency:    cost,
		Throughput: 1,
		Flags:      subtype.DefaultFlags(),
		Semantics:  Semantics{Operation: name},
	}}
}

func (b *Builder) WithOperands(kinds ...KindSet) *Builder {
	b.p.Operands = slices.Clone(kinds)
	return b
}

func (b *Builder) WithFlags(f Flags) *Builder {
	b.p.Flags |= f
	return b
}

func (b *Builder) WithArchs(archs ...engine.Arch) *Builder {
	b.p.Archs = Archs(archs...)
	return b
}

func (b *Builder) WithCost(cost, latency int, throughput float64) *Builder {
	b.p.Cost = cost
	b.p.Latency = latency
	b.p.Throughput = throughput
	return b
}

func (b *Builder) Reads(idx ...int) *Builder {
	b.p.Semantics.Reads = append(b.p.Semantics.Reads, idx...)
	return b
}

func (b *Builder) Writes(idx ...int) *Builder {
	b.p.Semantics.Writes = append(b.p.Semantics.Writes, idx...)
	return b
}

func (b *Builder) Describe(pre, post, sideEffects []string) *Builder {
	b.p.Semantics.Preconditions = pre
	b.p.Semantics.Postconditions = post
	b.p.Semantics.SideEffects = sideEffects
	return b
}

// Build returns the finished pattern. The builder must not be reused.
func (b *Builder) Build() *Pattern {
	p := b.p
	return &p
}

// Unanalyzed is returned by the matcher when no catalog entry applies
var Unanalyzed = NewPattern("unanalyzed", OpUnknown, Unknown).WithCost(1, 1, 1).Build()

// UnanalyzedAs returns an unanalyzed pattern labelled with the features
// that were recognised, such as "riscv_load"
func UnanalyzedAs(name string) *Pattern {
	if name == "" || name == Unanalyzed.Name {
		return Unanalyzed
	}
	p := *Unanalyzed
	p.Name = name
	p.Semantics.Operation = name
	return &p
}
