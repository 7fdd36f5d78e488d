// Completion: 90% - Address folding, displacement materialization and byte
// swaps done; vector widths are rejected rather than split
package memnorm

import (
	"errors"
	"fmt"
	"math/bits"
	"slices"

	"github.com/RunningShrimp/vm-sub001/internal/encoding"
	"github.com/RunningShrimp/vm-sub001/internal/engine"
	"github.com/RunningShrimp/vm-sub001/internal/isa"
	"github.com/RunningShrimp/vm-sub001/internal/xlog"
)

var log = xlog.Get("memnorm")

var (
	ErrScale      = errors.New("index scale must be positive")
	ErrWidth      = errors.New("unsupported access width")
	ErrMisaligned = errors.New("misaligned access")
	ErrScratch    = errors.New("no scratch register for address computation")
	ErrNoAddress  = errors.New("memory operand has no address")
)

// Error is a memory reference the destination cannot represent
type Error struct {
	Arch   engine.Arch
	Access Access
	Err    error
}

func (e *Error) Error() string {
	return fmt.Sprintf("memnorm: %s on %s: %v", e.Access, e.Arch, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Scratch hands out temporary destination registers for address
// arithmetic. *regmap.Allocator satisfies it.
type Scratch interface {
	AllocateTemporary() (isa.Reg, error)
}

// Access is one memory reference, already in destination registers
type Access struct {
	Base     isa.Reg
	Index    isa.Reg
	HasIndex bool
	Scale    uint8
	Offset   int64
	Width    uint8
	// Alignment the access requires; 0 means natural alignment
	Alignment uint64
	Atomic    bool
	Store     bool
	// Pair touches two consecutive Width-byte slots
	Pair bool
}

// AccessOf describes a load from m, or a store to it
func AccessOf(m *isa.Memory, store bool) Access {
	return Access{
		Base:     m.Base,
		Index:    m.Index,
		HasIndex: m.HasIndex,
		Scale:    m.Scale,
		Offset:   m.Offset,
		Width:    m.Size,
		Store:    store,
	}
}

// Aligned reports whether the displacement meets the required
// alignment, assuming an aligned base register
func (a Access) Aligned() bool {
	req := a.required()
	return req <= 1 || a.Offset%int64(req) == 0
}

func (a Access) required() uint64 {
	if a.Alignment != 0 {
		return a.Alignment
	}
	return uint64(a.Width)
}

// Vector reports an access wider than a general purpose register
func (a Access) Vector() bool {
	return a.Width > 8
}

// Size is the number of bytes touched
func (a Access) Size() int {
	if a.Pair {
		return 2 * int(a.Width)
	}
	return int(a.Width)
}

func (a Access) memory() isa.Memory {
	m := isa.Memory{Base: a.Base, Scale: 1, Offset: a.Offset, Size: a.Width}
	if a.HasIndex {
		m.Index, m.HasIndex, m.Scale = a.Index, true, a.Scale
	}
	return m
}

func (a Access) String() string {
	kind := "load"
	if a.Store {
		kind = "store"
	}
	if a.Pair {
		kind += " pair"
	}
	if a.Atomic {
		kind = "atomic " + kind
	}
	m := a.memory()
	return kind + " " + m.String()
}

type Severity uint8

const (
	SeverityWarning Severity = iota
	// SeverityError is a misaligned access split across cache lines
	SeverityError
	// SeverityCritical is a misaligned atomic, which is never translated
	SeverityCritical
)

func (s Severity) String() string {
	switch s {
	case SeverityError:
		return "error"
	case SeverityCritical:
		return "critical"
	}
	return "warning"
}

// AlignmentIssue records an offset that breaks the required alignment,
// assuming the base register itself is aligned
type AlignmentIssue struct {
	Offset   int64
	Required uint64
	Actual   uint64
	Severity Severity
}

func (i AlignmentIssue) String() string {
	return fmt.Sprintf("offset %d is %d-byte aligned, %d required (%s)", i.Offset, i.Actual, i.Required, i.Severity)
}

// Plan is how one access is carried out on the destination
type Plan struct {
	// Steps compute the address into scratch registers before the access
	Steps []isa.Instruction
	// Mem is the operand the access uses after Steps
	Mem isa.Memory
	// Swap is the byte-swap width applied to each data register after a
	// load or before a store; 0 when both sides share a byte order
	Swap        uint8
	CrossesLine bool
	Issues      []AlignmentIssue
}

// Direct reports whether the access is used as is
func (p Plan) Direct() bool {
	return len(p.Steps) == 0 && p.Swap == 0
}

// Normalizer rewrites memory references of one architecture pair. It is
// immutable and safe for concurrent use.
type Normalizer struct {
	src, dst Target
	seen     *Analyzer
}

func New(src, dst Target) *Normalizer {
	return &Normalizer{src: src, dst: dst}
}

// NewFor builds a normalizer from the built-in target descriptions
func NewFor(src, dst engine.Arch) (*Normalizer, error) {
	s, err := TargetFor(src)
	if err != nil {
		return nil, err
	}
	d, err := TargetFor(dst)
	if err != nil {
		return nil, err
	}
	return New(s, d), nil
}

// WithAnalyzer returns a normalizer that records every access Rewrite
// sees in z, including the ones it then rejects
func (n *Normalizer) WithAnalyzer(z *Analyzer) *Normalizer {
	c := *n
	c.seen = z
	return &c
}

func (n *Normalizer) Source() Target { return n.src }
func (n *Normalizer) Dest() Target   { return n.dst }

// OptimizeAccessPattern plans a in a form the destination encodes
// natively. Index registers the destination cannot scale are folded into
// a scratch register, out-of-range displacements are materialized, and a
// byte-order difference adds swaps around the access. The planned access
// touches the same bytes as a on any host.
func (n *Normalizer) OptimizeAccessPattern(a Access, s Scratch) (Plan, error) {
	fail := func(err error) (Plan, error) {
		return Plan{}, &Error{Arch: n.dst.Arch, Access: a, Err: err}
	}
	if !n.dst.hasWidth(a.Width) {
		return fail(fmt.Errorf("%w: %d bytes", ErrWidth, a.Width))
	}
	if a.HasIndex && a.Scale == 0 {
		return fail(ErrScale)
	}
	issues, err := n.alignment(a)
	if err != nil {
		return fail(err)
	}

	p := Plan{Mem: a.memory(), Issues: issues, CrossesLine: crossesLine(a.Offset, a.Size())}
	if n.src.Order != n.dst.Order && a.Width > 1 {
		p.Swap = a.Width
	}
	fits := func(off int64) bool {
		if a.Pair {
			return encoding.FitsPairOffset(n.dst.Arch, a.Width, off)
		}
		return encoding.FitsOffset(n.dst.Arch, a.Width, off)
	}
	if (!a.HasIndex || n.dst.canIndex(a.Index, a.Scale)) && fits(a.Offset) {
		return p, nil
	}

	b := &steps{t: n.dst, s: s}
	addr, off, err := b.address(a, fits)
	if err != nil {
		return fail(err)
	}
	p.Steps = b.out
	p.Mem = isa.Memory{Base: addr, Scale: 1, Offset: off, Size: a.Width}
	return p, nil
}

func (n *Normalizer) alignment(a Access) ([]AlignmentIssue, error) {
	if a.Aligned() {
		return nil, nil
	}
	req := a.required()
	issue := AlignmentIssue{
		Offset:   a.Offset,
		Required: req,
		Actual:   uint64(a.Offset) & -uint64(a.Offset),
		Severity: SeverityWarning,
	}
	if crossesLine(a.Offset, a.Size()) {
		issue.Severity = SeverityError
	}
	if a.Atomic {
		issue.Severity = SeverityCritical
		return nil, fmt.Errorf("%w: %s", ErrMisaligned, issue)
	}
	if n.dst.StrictAlign {
		return nil, fmt.Errorf("%w: %s", ErrMisaligned, issue)
	}
	return []AlignmentIssue{issue}, nil
}

func crossesLine(off int64, size int) bool {
	start := off % CacheLine
	if start < 0 {
		start += CacheLine
	}
	return start+int64(size) > CacheLine
}

// Rewrite returns the destination sequence for inst: address set-up, the
// access itself and any byte swaps. Instructions without a memory operand
// come back unchanged.
func (n *Normalizer) Rewrite(inst isa.Instruction, atomic bool, s Scratch) ([]isa.Instruction, error) {
	memIdx := slices.IndexFunc(inst.Operands, func(o isa.Operand) bool { return o.Kind == isa.KindMemory })
	if memIdx < 0 {
		return []isa.Instruction{inst}, nil
	}
	m := inst.Operands[memIdx].Mem
	if m == nil {
		return nil, &Error{Arch: n.dst.Arch, Err: ErrNoAddress}
	}
	store := memIdx == 0
	a := AccessOf(m, store)
	a.Atomic = atomic
	dataIdx := -1
	if len(inst.Operands) == 2 {
		dataIdx = 1 - memIdx
		if inst.Operands[dataIdx].Kind == isa.KindRegisterPair {
			a.Pair = true
		}
	}
	if n.seen != nil {
		n.seen.Record(a)
	}

	plan, err := n.OptimizeAccessPattern(a, s)
	if err != nil {
		return nil, err
	}
	for _, issue := range plan.Issues {
		log.Debugf("%s: %s", inst, issue)
	}

	out := slices.Clone(plan.Steps)
	ops := slices.Clone(inst.Operands)
	mem := plan.Mem
	ops[memIdx] = isa.Operand{Kind: isa.KindMemory, Mem: &mem}
	if plan.Swap == 0 || dataIdx < 0 {
		return append(out, inst.WithOperands(ops...)), nil
	}

	regs := ops[dataIdx].Registers()
	swap := isa.Imm(int64(plan.Swap))
	if !store {
		out = append(out, inst.WithOperands(ops...))
		for _, r := range regs {
			out = append(out, isa.New(n.dst.Arch, isa.OpBswap, isa.R(r), isa.R(r), swap))
		}
		return out, nil
	}

	// Swap into temporaries so the stored registers keep their values
	b := &steps{t: n.dst, s: s}
	swapped := make([]isa.Reg, len(regs))
	for i, r := range regs {
		t, err := b.temp()
		if err != nil {
			return nil, &Error{Arch: n.dst.Arch, Access: a, Err: err}
		}
		out = append(out, isa.New(n.dst.Arch, isa.OpBswap, isa.R(t), isa.R(r), swap))
		swapped[i] = t
	}
	if a.Pair {
		ops[dataIdx] = isa.Pair(swapped[0], swapped[1])
	} else if len(swapped) == 1 {
		ops[dataIdx] = isa.R(swapped[0])
	}
	return append(out, inst.WithOperands(ops...)), nil
}

// steps accumulates address arithmetic on the destination
type steps struct {
	t   Target
	s   Scratch
	out []isa.Instruction
}

func (b *steps) emit(op isa.Opcode, operands ...isa.Operand) {
	b.out = append(b.out, isa.New(b.t.Arch, op, operands...))
}

func (b *steps) temp() (isa.Reg, error) {
	if b.s == nil {
		return 0, ErrScratch
	}
	r, err := b.s.AllocateTemporary()
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrScratch, err)
	}
	return r, nil
}

// operand returns r in a form the three-register ALU instructions accept,
// copying it to a temporary when needed
func (b *steps) operand(r isa.Reg) (isa.Reg, error) {
	if b.t.regForm(r) {
		return r, nil
	}
	t, err := b.temp()
	if err != nil {
		return 0, err
	}
	b.emit(isa.OpMov, isa.R(t), isa.R(r))
	return t, nil
}

// address computes base (+ index*scale) into a temporary and returns it
// with the displacement still to apply
func (b *steps) address(a Access, fits func(int64) bool) (isa.Reg, int64, error) {
	arch := b.t.Arch
	addr, err := b.temp()
	if err != nil {
		return 0, 0, err
	}
	off := a.Offset

	switch {
	case a.HasIndex:
		if err := b.scale(addr, a.Index, a.Scale); err != nil {
			return 0, 0, err
		}
		base, err := b.operand(a.Base)
		if err != nil {
			return 0, 0, err
		}
		b.emit(isa.OpAdd, isa.R(addr), isa.R(addr), isa.R(base))
	case encoding.FitsImmediate(arch, isa.OpAdd, off):
		b.emit(isa.OpAdd, isa.R(addr), isa.R(a.Base), isa.Imm(off))
		return addr, 0, nil
	case b.t.regForm(a.Base):
		b.emit(isa.OpMov, isa.R(addr), isa.Imm(off))
		b.emit(isa.OpAdd, isa.R(addr), isa.R(addr), isa.R(a.Base))
		return addr, 0, nil
	default:
		b.emit(isa.OpMov, isa.R(addr), isa.R(a.Base))
	}

	if fits(off) {
		return addr, off, nil
	}
	if encoding.FitsImmediate(arch, isa.OpAdd, off) {
		b.emit(isa.OpAdd, isa.R(addr), isa.R(addr), isa.Imm(off))
		return addr, 0, nil
	}
	k, err := b.temp()
	if err != nil {
		return 0, 0, err
	}
	b.emit(isa.OpMov, isa.R(k), isa.Imm(off))
	b.emit(isa.OpAdd, isa.R(addr), isa.R(addr), isa.R(k))
	return addr, 0, nil
}

// scale sets dst = index*scale. Powers of two shift, anything else
// multiplies.
func (b *steps) scale(dst, index isa.Reg, scale uint8) error {
	src, err := b.operand(index)
	if err != nil {
		return err
	}
	switch {
	case scale == 1:
		b.emit(isa.OpMov, isa.R(dst), isa.R(src))
	case bits.OnesCount8(scale) == 1:
		b.emit(isa.OpShl, isa.R(dst), isa.R(src), isa.Imm(int64(bits.TrailingZeros8(scale))))
	case encoding.FitsImmediate(b.t.Arch, isa.OpMul, int64(scale)):
		b.emit(isa.OpMul, isa.R(dst), isa.R(src), isa.Imm(int64(scale)))
	default:
		k, err := b.temp()
		if err != nil {
			return err
		}
		b.emit(isa.OpMov, isa.R(k), isa.Imm(int64(scale)))
		b.emit(isa.OpMul, isa.R(dst), isa.R(src), isa.R(k))
	}
	return nil
}
