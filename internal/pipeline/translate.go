package pipeline

import (
	"errors"
	"fmt"
	"slices"

	"github.com/RunningShrimp/vm-sub001/internal/encoding"
	"github.com/RunningShrimp/vm-sub001/internal/engine"
	"github.com/RunningShrimp/vm-sub001/internal/isa"
	"github.com/RunningShrimp/vm-sub001/internal/memnorm"
	"github.com/RunningShrimp/vm-sub001/internal/regmap"
)

// translator carries the state of one block through the per-instruction
// stages. It is used by a single goroutine.
type translator struct {
	p         *Pipeline
	src, dst  engine.Arch
	alloc     *regmap.Allocator
	norm      *memnorm.Normalizer
	block     *Block
	cacheable bool
}

func (p *Pipeline) newTranslator(src, dst engine.Arch) (*translator, error) {
	m, err := p.registry.Mapper(src, dst)
	if err != nil {
		return nil, &TranslationError{
			Kind: RegisterMappingFailure, Stage: StageRegisterMap,
			Source: src, Dest: dst, Position: -1, Operand: -1, Err: err,
		}
	}
	st, ok := p.targets[src]
	dt, ok2 := p.targets[dst]
	if !ok || !ok2 {
		return nil, &TranslationError{
			Kind: MemoryNormalizationFailure, Stage: StageNormalize,
			Source: src, Dest: dst, Position: -1, Operand: -1,
			Err: fmt.Errorf("no addressing description for %s->%s", src, dst),
		}
	}
	return &translator{
		p:         p,
		src:       src,
		dst:       dst,
		alloc:     regmap.NewAllocator(m),
		norm:      memnorm.New(st, dt).WithAnalyzer(&p.accesses),
		block:     &Block{Source: src, Dest: dst},
		cacheable: true,
	}, nil
}

// reserve claims the destinations of every register the block names, so
// temporaries of an early instruction never clobber a later operand
func (t *translator) reserve(insts []isa.Instruction) {
	for _, inst := range insts {
		for _, o := range inst.Operands {
			for _, r := range o.Registers() {
				t.alloc.Reserve(r)
			}
		}
	}
}

func (t *translator) fail(kind Kind, stage Stage, pos int, inst isa.Instruction, operand int, err error) error {
	return &TranslationError{
		Kind:     kind,
		Stage:    stage,
		Source:   t.src,
		Dest:     t.dst,
		Position: pos,
		Op:       inst.Op,
		Operand:  operand,
		Err:      err,
	}
}

// instruction runs one source instruction through every stage and
// appends its encoding to the block
func (t *translator) instruction(pos int, inst isa.Instruction) error {
	defer t.alloc.ReleaseTemporaries()

	if inst.Arch == engine.ArchUnknown {
		inst.Arch = t.src
	}
	pat, err := t.classify(inst)
	if err != nil {
		return t.fail(UnsupportedInstruction, StagePattern, pos, inst, -1, err)
	}
	if !pat.Cacheable() {
		t.cacheable = false
	}

	pre, mapped, post, operand, err := t.mapRegisters(pat, inst)
	if err != nil {
		return t.fail(RegisterMappingFailure, StageRegisterMap, pos, inst, operand, err)
	}

	rewritten, err := t.norm.Rewrite(mapped, pat.Flags.Has(isa.IsAtomic), t.alloc)
	if err != nil {
		return t.fail(MemoryNormalizationFailure, StageNormalize, pos, inst, memOperand(inst), err)
	}

	seq := make([]isa.Instruction, 0, len(pre)+len(rewritten)+len(post))
	seq = append(seq, pre...)
	seq = append(seq, rewritten...)
	seq = append(seq, post...)
	seq, operand, err = t.legalize(seq)
	if err != nil {
		return t.fail(EncodingFailure, StageEncode, pos, inst, operand, err)
	}

	encoded := make([]encoding.Encoded, len(seq))
	for i, d := range seq {
		enc, _, err := t.p.encodings.EncodeOrLookup(d)
		if err != nil {
			operand := -1
			var ee *encoding.Error
			if errors.As(err, &ee) && len(seq) == 1 {
				operand = ee.Operand
			}
			return t.fail(EncodingFailure, StageEncode, pos, inst, operand, err)
		}
		encoded[i] = enc
	}

	b := t.block
	b.Offsets = append(b.Offsets, len(b.Code))
	for i, enc := range encoded {
		base := len(b.Code)
		b.Code = append(b.Code, enc.Bytes...)
		for _, f := range enc.Fixups {
			f.Offset += base
			b.Fixups = append(b.Fixups, f)
		}
		b.Instructions = append(b.Instructions, seq[i])
	}
	return nil
}

func (t *translator) finish() *Block {
	t.block.SpillSlots = t.alloc.SpillSlots()
	return t.block
}

// classify finds the pattern describing inst. Bytes come from the decoder
// when present, otherwise from the source encoder.
func (t *translator) classify(inst isa.Instruction) (*isa.Pattern, error) {
	if inst.Arch != t.src {
		return nil, fmt.Errorf("instruction is for %s, block is %s", inst.Arch, t.src)
	}
	raw := inst.Raw
	if len(raw) == 0 {
		enc, _, err := t.p.encodings.EncodeOrLookup(inst)
		if err != nil {
			return nil, err
		}
		raw = enc.Bytes
	}
	pat, err := t.p.matcher.MatchOrAnalyze(t.src, raw)
	if err != nil {
		return nil, err
	}
	pat, err = t.p.resolve(pat, inst)
	if err != nil {
		return nil, err
	}
	if err := pat.Accepts(inst); err != nil {
		return nil, err
	}
	return pat, nil
}

// resolve settles the pattern to translate inst with. A pattern for a
// different opcode means the native form is an alias (riscv li for mov,
// aarch64 add with a negated immediate for sub); the opcode's own
// pattern is used then. Unanalyzed bytes are translated by opcode unless
// the pipeline is strict.
func (p *Pipeline) resolve(pat *isa.Pattern, inst isa.Instruction) (*isa.Pattern, error) {
	switch {
	case inst.Op == isa.OpUnknown:
		return nil, fmt.Errorf("no neutral opcode for %s", pat.Name)
	case pat.IsUnanalyzed():
		if p.cfg.Pipeline.Strict {
			return nil, fmt.Errorf("%s bytes are not in the catalog", pat.Name)
		}
		log.Debugf("translating unanalyzed %s as %s", pat.Name, inst.Op)
	case pat.Op == isa.OpUnknown:
		return nil, fmt.Errorf("%s has no translation", pat.Name)
	case pat.Op == inst.Op:
		return pat, nil
	}
	q, ok := p.catalog.ForOpcode(inst.Op)
	if !ok {
		return nil, fmt.Errorf("no pattern for %s", inst.Op)
	}
	return q, nil
}

type spilled struct {
	temp        isa.Reg
	off         int64
	read, write bool
}

// mapRegisters rewrites every register of inst into the destination file.
// Spilled registers are loaded into a temporary before the instruction
// when it reads them and stored back after it when it writes them.
func (t *translator) mapRegisters(pat *isa.Pattern, inst isa.Instruction) (pre []isa.Instruction, out isa.Instruction, post []isa.Instruction, operand int, err error) {
	spills := make(map[isa.Reg]*spilled)
	var order []isa.Reg
	place := func(r isa.Reg, read, write bool) (isa.Reg, error) {
		loc, err := t.alloc.Resolve(r)
		if err != nil {
			return 0, err
		}
		if loc.Kind != regmap.InSpill {
			return loc.Reg, nil
		}
		s, ok := spills[r]
		if !ok {
			tmp, err := t.alloc.AllocateTemporary()
			if err != nil {
				return 0, err
			}
			s = &spilled{temp: tmp, off: loc.Offset()}
			spills[r] = s
			order = append(order, r)
		}
		s.read = s.read || read
		s.write = s.write || write
		return s.temp, nil
	}

	ops := make([]isa.Operand, len(inst.Operands))
	for i, o := range inst.Operands {
		read, write := pat.Reads(i), pat.Writes(i)
		switch o.Kind {
		case isa.KindRegister:
			r, err := place(o.Reg, read, write)
			if err != nil {
				return nil, isa.Instruction{}, nil, i, err
			}
			ops[i] = isa.R(r)
		case isa.KindMemory:
			if o.Mem == nil {
				ops[i] = o
				continue
			}
			m := *o.Mem
			if m.Base, err = place(m.Base, true, false); err != nil {
				return nil, isa.Instruction{}, nil, i, err
			}
			if m.HasIndex {
				if m.Index, err = place(m.Index, true, false); err != nil {
					return nil, isa.Instruction{}, nil, i, err
				}
			}
			ops[i] = isa.Operand{Kind: isa.KindMemory, Mem: &m}
		case isa.KindRegisterPair, isa.KindRegisterList:
			regs := make([]isa.Reg, len(o.Regs))
			for n, r := range o.Regs {
				if regs[n], err = place(r, read, write); err != nil {
					return nil, isa.Instruction{}, nil, i, err
				}
			}
			ops[i] = isa.Operand{Kind: o.Kind, Regs: regs}
		default:
			ops[i] = o
		}
	}

	fb := t.alloc.FrameBase()
	for _, r := range order {
		s := spills[r]
		slot := isa.Mem(fb, s.off, regmap.SlotSize)
		if s.read {
			pre = append(pre, isa.New(t.dst, isa.OpLoad, isa.R(s.temp), slot))
		}
		if s.write {
			post = append(post, isa.New(t.dst, isa.OpStore, slot, isa.R(s.temp)))
		}
	}
	return pre, inst.WithArch(t.dst).WithOperands(ops...), post, -1, nil
}

// legalize moves immediates the destination cannot carry into a
// temporary register
func (t *translator) legalize(seq []isa.Instruction) ([]isa.Instruction, int, error) {
	out := make([]isa.Instruction, 0, len(seq))
	for _, d := range seq {
		if !d.Op.IsALU() {
			out = append(out, d)
			continue
		}
		for i, o := range d.Operands {
			if o.Kind != isa.KindImmediate || encoding.FitsImmediate(t.dst, d.Op, o.Imm) {
				continue
			}
			tmp, err := t.alloc.AllocateTemporary()
			if err != nil {
				return nil, i, fmt.Errorf("immediate %d does not fit %s %s: %w", o.Imm, t.dst, d.Op, err)
			}
			out = append(out, isa.New(t.dst, isa.OpMov, isa.R(tmp), isa.Imm(o.Imm)))
			ops := slices.Clone(d.Operands)
			ops[i] = isa.R(tmp)
			d = d.WithOperands(ops...)
		}
		out = append(out, d)
	}
	return out, -1, nil
}

func memOperand(inst isa.Instruction) int {
	return slices.IndexFunc(inst.Operands, func(o isa.Operand) bool { return o.Kind == isa.KindMemory })
}
