// Completion: 95% - x86_64 integer forms complete, no SSE/AVX
package encoding

import (
	"github.com/RunningShrimp/vm-sub001/internal/isa"
)

// x86-64 encoder
// Registers are numbered as in ModRM (rax=0 ... r15=15). Three-operand
// ALU forms are lowered the way a two-operand ISA needs them:
//   rd = rs1 op rs2  ->  MOV rd, rs1 ; OP rd, rs2
// with the operands swapped for commutative ops when rd == rs2, and
// NEG + ADD for subtraction in that case. Register shifts use the BMI2
// SHLX/SHRX forms so the count can live in any register.

const (
	x86RSP = 4
	x86RBP = 5
)

// Opcode bytes for the "OP r/m64, r64" forms and the /digit of the
// immediate group 1 forms (81 /digit id, 83 /digit ib)
var x86ALU = map[isa.Opcode]struct {
	rr    byte
	digit byte
}{
	isa.OpAdd: {0x01, 0},
	isa.OpOr:  {0x09, 1},
	isa.OpAnd: {0x21, 4},
	isa.OpSub: {0x29, 5},
	isa.OpXor: {0x31, 6},
}

// Operand-free instructions
var x86Fixed = map[isa.Opcode][]byte{
	isa.OpNop:     {0x90},
	isa.OpRet:     {0xC3},
	isa.OpSyscall: {0x0F, 0x05},
	isa.OpFence:   {0x0F, 0xAE, 0xF0}, // MFENCE
	isa.OpHalt:    {0xF4},
}

func rex(w bool, r, x, b uint32) byte {
	v := byte(0x40)
	if w {
		v |= 0x08
	}
	v |= byte(r>>3&1) << 2
	v |= byte(x>>3&1) << 1
	v |= byte(b >> 3 & 1)
	return v
}

func modrm(mod byte, reg, rm uint32) byte {
	return mod<<6 | byte(reg&7)<<3 | byte(rm&7)
}

func encodeX86(inst isa.Instruction) (Encoded, error) {
	if fixed, ok := x86Fixed[inst.Op]; ok {
		if err := expect(inst, 0); err != nil {
			return Encoded{}, err
		}
		return Encoded{Bytes: fixed}, nil
	}

	var e emitter
	var err error
	switch inst.Op {
	case isa.OpAdd, isa.OpSub, isa.OpMul, isa.OpAnd, isa.OpOr, isa.OpXor, isa.OpShl, isa.OpShr:
		err = x86ALUOp(&e, inst)
	case isa.OpMov:
		err = x86Mov(&e, inst)
	case isa.OpLoad:
		err = x86Load(&e, inst)
	case isa.OpStore:
		err = x86Store(&e, inst)
	case isa.OpLoadPair, isa.OpStorePair:
		err = x86Pair(&e, inst)
	case isa.OpJump, isa.OpCall:
		err = x86Branch(&e, inst)
	case isa.OpBswap:
		err = x86Bswap(&e, inst)
	default:
		err = formErr(inst, -1, "no x86_64 encoding")
	}
	if err != nil {
		return Encoded{}, err
	}
	return e.result(), nil
}

// MOV r/m64, r64
func x86MovRR(e *emitter, dst, src uint32) {
	e.bytes(rex(true, src, 0, dst), 0x89, modrm(3, src, dst))
}

// twoOp emits "dst = dst op src" for a register source
func x86TwoOp(e *emitter, op isa.Opcode, dst, src uint32) {
	switch op {
	case isa.OpMul:
		// IMUL r64, r/m64
		e.bytes(rex(true, dst, 0, src), 0x0F, 0xAF, modrm(3, dst, src))
	default:
		e.bytes(rex(true, src, 0, dst), x86ALU[op].rr, modrm(3, src, dst))
	}
}

func x86ALUOp(e *emitter, inst isa.Instruction) error {
	if err := expect(inst, 3); err != nil {
		return err
	}
	rd, err := regOperand(inst, 0)
	if err != nil {
		return err
	}
	rs1, err := regOperand(inst, 1)
	if err != nil {
		return err
	}
	src := inst.Operands[2]

	if src.Kind == isa.KindImmediate {
		return x86ALUImm(e, inst, rd, rs1, src.Imm)
	}
	rs2, err := regOperand(inst, 2)
	if err != nil {
		return err
	}

	if inst.Op == isa.OpShl || inst.Op == isa.OpShr {
		x86ShiftX(e, inst.Op, rd, rs1, rs2)
		return nil
	}

	switch {
	case rd == rs1:
		x86TwoOp(e, inst.Op, rd, rs2)
	case rd == rs2 && inst.Op.Commutative():
		x86TwoOp(e, inst.Op, rd, rs1)
	case rd == rs2 && inst.Op == isa.OpSub:
		// rd = rs1 - rd  ->  NEG rd ; ADD rd, rs1
		e.bytes(rex(true, 0, 0, rd), 0xF7, modrm(3, 3, rd))
		x86TwoOp(e, isa.OpAdd, rd, rs1)
	default:
		x86MovRR(e, rd, rs1)
		x86TwoOp(e, inst.Op, rd, rs2)
	}
	return nil
}

// SHLX/SHRX r64a, r/m64, r64b (VEX.LZ.{66,F2}.0F38.W1 F7 /r)
func x86ShiftX(e *emitter, op isa.Opcode, rd, rs, count uint32) {
	pp := byte(0x01) // 66: SHLX
	if op == isa.OpShr {
		pp = 0x03 // F2: SHRX
	}
	b1 := byte(0x02) // map 0F38
	if rd&8 == 0 {
		b1 |= 0x80
	}
	b1 |= 0x40 // no index register
	if rs&8 == 0 {
		b1 |= 0x20
	}
	b2 := byte(0x80) | byte(^count&0xF)<<3 | pp
	e.bytes(0xC4, b1, b2, 0xF7, modrm(3, rd, rs))
}

func x86ALUImm(e *emitter, inst isa.Instruction, rd, rs1 uint32, imm int64) error {
	switch inst.Op {
	case isa.OpMul:
		if !fitsInt32(imm) {
			return rangeErr(inst, 2, "immediate %d does not fit in 32 bits", imm)
		}
		// IMUL r64, r/m64, imm is natively three-operand
		if fitsInt8(imm) {
			e.bytes(rex(true, rd, 0, rs1), 0x6B, modrm(3, rd, rs1), byte(int8(imm)))
		} else {
			e.bytes(rex(true, rd, 0, rs1), 0x69, modrm(3, rd, rs1))
			e.imm32(int32(imm))
		}
		return nil
	case isa.OpShl, isa.OpShr:
		amount, err := shiftImm(inst, 2)
		if err != nil {
			return err
		}
		if rd != rs1 {
			x86MovRR(e, rd, rs1)
		}
		digit := uint32(4)
		if inst.Op == isa.OpShr {
			digit = 5
		}
		e.bytes(rex(true, 0, 0, rd), 0xC1, modrm(3, digit, rd), byte(amount))
		return nil
	}

	if !fitsInt32(imm) {
		return rangeErr(inst, 2, "immediate %d does not fit in 32 bits", imm)
	}
	if rd != rs1 {
		x86MovRR(e, rd, rs1)
	}
	digit := uint32(x86ALU[inst.Op].digit)
	if fitsInt8(imm) {
		e.bytes(rex(true, 0, 0, rd), 0x83, modrm(3, digit, rd), byte(int8(imm)))
	} else {
		e.bytes(rex(true, 0, 0, rd), 0x81, modrm(3, digit, rd))
		e.imm32(int32(imm))
	}
	return nil
}

func x86Mov(e *emitter, inst isa.Instruction) error {
	if err := expect(inst, 2); err != nil {
		return err
	}
	rd, err := regOperand(inst, 0)
	if err != nil {
		return err
	}
	if src := inst.Operands[1]; src.Kind == isa.KindImmediate {
		if fitsInt32(src.Imm) {
			// MOV r/m64, imm32 (sign-extended)
			e.bytes(rex(true, 0, 0, rd), 0xC7, modrm(3, 0, rd))
			e.imm32(int32(src.Imm))
		} else {
			// MOV r64, imm64
			e.bytes(rex(true, 0, 0, rd), 0xB8+byte(rd&7))
			e.imm64(src.Imm)
		}
		return nil
	}
	rs, err := regOperand(inst, 1)
	if err != nil {
		return err
	}
	x86MovRR(e, rd, rs)
	return nil
}

// x86MemOperand encodes ModRM (+SIB, +displacement) for reg and m,
// returning the REX.X and REX.B contributions
func x86MemOperand(inst isa.Instruction, operand int, reg uint32, m *isa.Memory, off int64) (x, b uint32, tail []byte, err error) {
	if !fitsInt32(off) {
		return 0, 0, nil, rangeErr(inst, operand, "displacement %d does not fit in 32 bits", off)
	}
	base := uint32(m.Base)
	var mod byte
	switch {
	case off == 0 && base&7 != x86RBP:
		mod = 0
	case fitsInt8(off):
		mod = 1
	default:
		mod = 2
	}

	if m.HasIndex || base&7 == x86RSP {
		index := uint32(x86RSP) // "no index"
		var ss byte
		if m.HasIndex {
			index = uint32(m.Index)
			if index == x86RSP {
				return 0, 0, nil, formErr(inst, operand, "rsp cannot be an index register")
			}
			switch m.Scale {
			case 1:
				ss = 0
			case 2:
				ss = 1
			case 4:
				ss = 2
			case 8:
				ss = 3
			default:
				return 0, 0, nil, formErr(inst, operand, "scale %d", m.Scale)
			}
		}
		tail = append(tail, modrm(mod, reg, 4), ss<<6|byte(index&7)<<3|byte(base&7))
		x = index
	} else {
		tail = append(tail, modrm(mod, reg, base))
	}
	b = base

	switch mod {
	case 1:
		tail = append(tail, byte(int8(off)))
	case 2:
		v := uint32(int32(off))
		tail = append(tail, byte(v), byte(v>>8), byte(v>>16), byte(v>>24))
	}
	return x, b, tail, nil
}

func x86LoadTo(e *emitter, inst isa.Instruction, operand int, rd uint32, m *isa.Memory, off int64) error {
	x, b, tail, err := x86MemOperand(inst, operand, rd, m, off)
	if err != nil {
		return err
	}
	switch m.Size {
	case 8:
		e.bytes(rex(true, rd, x, b), 0x8B)
	case 4:
		// 32-bit loads zero the upper half
		if r := rex(false, rd, x, b); r != 0x40 {
			e.bytes(r)
		}
		e.bytes(0x8B)
	case 2:
		e.bytes(rex(true, rd, x, b), 0x0F, 0xB7) // MOVZX r64, m16
	case 1:
		e.bytes(rex(true, rd, x, b), 0x0F, 0xB6) // MOVZX r64, m8
	}
	e.bytes(tail...)
	return nil
}

func x86StoreFrom(e *emitter, inst isa.Instruction, operand int, rs uint32, m *isa.Memory, off int64) error {
	x, b, tail, err := x86MemOperand(inst, operand, rs, m, off)
	if err != nil {
		return err
	}
	switch m.Size {
	case 8:
		e.bytes(rex(true, rs, x, b), 0x89)
	case 4:
		if r := rex(false, rs, x, b); r != 0x40 {
			e.bytes(r)
		}
		e.bytes(0x89)
	case 2:
		e.bytes(0x66)
		if r := rex(false, rs, x, b); r != 0x40 {
			e.bytes(r)
		}
		e.bytes(0x89)
	case 1:
		// An empty REX selects sil/dil/spl/bpl instead of dh/bh/ah/ch
		e.bytes(rex(false, rs, x, b), 0x88)
	}
	e.bytes(tail...)
	return nil
}

func x86Load(e *emitter, inst isa.Instruction) error {
	if err := expect(inst, 2); err != nil {
		return err
	}
	rd, err := regOperand(inst, 0)
	if err != nil {
		return err
	}
	m, err := memOperand(inst, 1)
	if err != nil {
		return err
	}
	return x86LoadTo(e, inst, 1, rd, m, m.Offset)
}

func x86Store(e *emitter, inst isa.Instruction) error {
	if err := expect(inst, 2); err != nil {
		return err
	}
	m, err := memOperand(inst, 0)
	if err != nil {
		return err
	}
	rs, err := regOperand(inst, 1)
	if err != nil {
		return err
	}
	return x86StoreFrom(e, inst, 0, rs, m, m.Offset)
}

// x86 has no pair forms; two accesses at off and off+size
func x86Pair(e *emitter, inst isa.Instruction) error {
	if err := expect(inst, 2); err != nil {
		return err
	}
	if inst.Op == isa.OpLoadPair {
		r1, r2, err := pairOperand(inst, 0)
		if err != nil {
			return err
		}
		m, err := memOperand(inst, 1)
		if err != nil {
			return err
		}
		size, err := pairSize(inst, 1, m)
		if err != nil {
			return err
		}
		q := *m
		q.Size = size
		next := m.Offset + int64(size)
		// Load the base register last so the second address is still valid
		if r1 == uint32(m.Base) || (m.HasIndex && r1 == uint32(m.Index)) {
			if err := x86LoadTo(e, inst, 1, r2, &q, next); err != nil {
				return err
			}
			return x86LoadTo(e, inst, 1, r1, &q, m.Offset)
		}
		if err := x86LoadTo(e, inst, 1, r1, &q, m.Offset); err != nil {
			return err
		}
		return x86LoadTo(e, inst, 1, r2, &q, next)
	}

	m, err := memOperand(inst, 0)
	if err != nil {
		return err
	}
	r1, r2, err := pairOperand(inst, 1)
	if err != nil {
		return err
	}
	size, err := pairSize(inst, 0, m)
	if err != nil {
		return err
	}
	q := *m
	q.Size = size
	if err := x86StoreFrom(e, inst, 0, r1, &q, m.Offset); err != nil {
		return err
	}
	return x86StoreFrom(e, inst, 0, r2, &q, m.Offset+int64(size))
}

func x86Branch(e *emitter, inst isa.Instruction) error {
	if err := expect(inst, 1); err != nil {
		return err
	}
	target := inst.Operands[0]
	switch target.Kind {
	case isa.KindLabel:
		if inst.Op == isa.OpCall {
			e.bytes(0xE8)
		} else {
			e.bytes(0xE9)
		}
		e.fixup(target.Label, FixupRel32, len(e.buf))
		e.imm32(0)
		return nil
	case isa.KindRegister:
		r, err := regOperand(inst, 0)
		if err != nil {
			return err
		}
		digit := uint32(4) // JMP r/m64
		if inst.Op == isa.OpCall {
			digit = 2 // CALL r/m64
		}
		if r&8 != 0 {
			e.bytes(rex(false, 0, 0, r))
		}
		e.bytes(0xFF, modrm(3, digit, r))
		return nil
	}
	return formErr(inst, 0, "want label or register, got %s", target.Kind)
}

func x86Bswap(e *emitter, inst isa.Instruction) error {
	if err := expect(inst, 3); err != nil {
		return err
	}
	rd, err := regOperand(inst, 0)
	if err != nil {
		return err
	}
	rs, err := regOperand(inst, 1)
	if err != nil {
		return err
	}
	width, err := swapWidth(inst)
	if err != nil {
		return err
	}
	if rd != rs {
		x86MovRR(e, rd, rs)
	}
	switch width {
	case 8:
		e.bytes(rex(true, 0, 0, rd), 0x0F, 0xC8+byte(rd&7))
	case 4:
		if rd&8 != 0 {
			e.bytes(rex(false, 0, 0, rd))
		}
		e.bytes(0x0F, 0xC8+byte(rd&7))
	case 2:
		// ROL r16, 8
		e.bytes(0x66)
		if rd&8 != 0 {
			e.bytes(rex(false, 0, 0, rd))
		}
		e.bytes(0xC1, modrm(3, 0, rd), 8)
	}
	return nil
}
