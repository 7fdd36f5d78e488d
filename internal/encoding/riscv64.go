// Completion: 95% - RV64I + M + Zbb rev8 complete, no compressed forms
package encoding

import (
	"math/bits"

	"github.com/RunningShrimp/vm-sub001/internal/isa"
)

// RISC-V64 encoder
// Fixed 32-bit little-endian words, no compressed (C) forms.

const (
	rvZero = 0
	rvRA   = 1

	rvOpLoad    = 0x03
	rvOpImm     = 0x13
	rvOpImm32   = 0x1b
	rvOpStore   = 0x23
	rvOpReg     = 0x33
	rvOpLUI     = 0x37
	rvOpJALR    = 0x67
	rvOpJAL     = 0x6f
	rvFunct7M   = 0x01
	rvFunct7Alt = 0x20
)

var rvFixed = map[isa.Opcode]uint32{
	isa.OpNop:     0x00000013, // ADDI x0, x0, 0
	isa.OpRet:     0x00008067, // JALR x0, 0(ra)
	isa.OpSyscall: 0x00000073, // ECALL
	isa.OpFence:   0x0330000f, // FENCE rw, rw
	isa.OpHalt:    0x10500073, // WFI
}

// R-type funct3/funct7 per opcode
var rvRType = map[isa.Opcode][2]uint32{
	isa.OpAdd: {0, 0},
	isa.OpSub: {0, rvFunct7Alt},
	isa.OpAnd: {7, 0},
	isa.OpOr:  {6, 0},
	isa.OpXor: {4, 0},
	isa.OpShl: {1, 0},
	isa.OpShr: {5, 0},
	isa.OpMul: {0, rvFunct7M},
}

// I-type funct3 per opcode
var rvIType = map[isa.Opcode]uint32{
	isa.OpAdd: 0,
	isa.OpAnd: 7,
	isa.OpOr:  6,
	isa.OpXor: 4,
}

// Zero-extending loads (ld has nothing to extend) and stores, by size
var (
	rvLoadFunct3  = map[uint8]uint32{1: 4, 2: 5, 4: 6, 8: 3} // lbu lhu lwu ld
	rvStoreFunct3 = map[uint8]uint32{1: 0, 2: 1, 4: 2, 8: 3} // sb sh sw sd
)

// R-type: opcode[6:0] | rd[11:7] | funct3[14:12] | rs1[19:15] | rs2[24:20] | funct7[31:25]
func rvR(opcode, funct3, funct7, rd, rs1, rs2 uint32) uint32 {
	return opcode | rd<<7 | funct3<<12 | rs1<<15 | rs2<<20 | funct7<<25
}

// I-type: opcode[6:0] | rd[11:7] | funct3[14:12] | rs1[19:15] | imm[31:20]
func rvI(opcode, funct3, rd, rs1 uint32, imm int64) uint32 {
	return opcode | rd<<7 | funct3<<12 | rs1<<15 | uint32(imm&0xfff)<<20
}

// S-type: opcode[6:0] | imm[11:7] | funct3[14:12] | rs1[19:15] | rs2[24:20] | imm[31:25]
func rvS(opcode, funct3, rs1, rs2 uint32, imm int64) uint32 {
	lo := uint32(imm & 0x1f)
	hi := uint32(imm>>5) & 0x7f
	return opcode | lo<<7 | funct3<<12 | rs1<<15 | rs2<<20 | hi<<25
}

// U-type: opcode[6:0] | rd[11:7] | imm[31:12]
func rvU(opcode, rd uint32, imm20 uint32) uint32 {
	return opcode | rd<<7 | (imm20&0xfffff)<<12
}

func signExtend12(v int64) int64 {
	return ((v & 0xfff) ^ 0x800) - 0x800
}

// rvLoadImm materializes any 64-bit constant: ADDI for 12 bits, LUI+ADDIW
// for 32 bits, otherwise the upper part recursively followed by SLLI and
// ADDI.
func rvLoadImm(e *emitter, rd uint32, v int64) {
	if fitsInt12(v) {
		e.word(rvI(rvOpImm, 0, rd, rvZero, v))
		return
	}
	if int64(int32(v)) == v {
		lo := signExtend12(v)
		hi := uint32((v+0x800)>>12) & 0xfffff
		e.word(rvU(rvOpLUI, rd, hi))
		if lo != 0 {
			e.word(rvI(rvOpImm32, 0, rd, rd, lo))
		}
		return
	}
	lo := signExtend12(v)
	hi := (v - lo) >> 12
	shift := 12 + bits.TrailingZeros64(uint64(hi))
	hi >>= shift - 12
	rvLoadImm(e, rd, hi)
	e.word(rvI(rvOpImm, 1, rd, rd, int64(shift))) // SLLI
	if lo != 0 {
		e.word(rvI(rvOpImm, 0, rd, rd, lo))
	}
}

func encodeRISCV(inst isa.Instruction) (Encoded, error) {
	var e emitter
	if w, ok := rvFixed[inst.Op]; ok {
		if err := expect(inst, 0); err != nil {
			return Encoded{}, err
		}
		e.word(w)
		return e.result(), nil
	}

	var err error
	switch inst.Op {
	case isa.OpAdd, isa.OpSub, isa.OpMul, isa.OpAnd, isa.OpOr, isa.OpXor, isa.OpShl, isa.OpShr:
		err = rvALU(&e, inst)
	case isa.OpMov:
		err = rvMov(&e, inst)
	case isa.OpLoad, isa.OpStore:
		err = rvLoadStore(&e, inst)
	case isa.OpLoadPair, isa.OpStorePair:
		err = rvPair(&e, inst)
	case isa.OpJump, isa.OpCall:
		err = rvBranch(&e, inst)
	case isa.OpBswap:
		err = rvBswap(&e, inst)
	default:
		err = formErr(inst, -1, "no riscv64 encoding")
	}
	if err != nil {
		return Encoded{}, err
	}
	return e.result(), nil
}

func rvALU(e *emitter, inst isa.Instruction) error {
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
	if src := inst.Operands[2]; src.Kind == isa.KindImmediate {
		return rvALUImm(e, inst, rd, rs1, src.Imm)
	}
	rs2, err := regOperand(inst, 2)
	if err != nil {
		return err
	}
	f := rvRType[inst.Op]
	e.word(rvR(rvOpReg, f[0], f[1], rd, rs1, rs2))
	return nil
}

func rvALUImm(e *emitter, inst isa.Instruction, rd, rs1 uint32, imm int64) error {
	switch inst.Op {
	case isa.OpShl, isa.OpShr:
		s, err := shiftImm(inst, 2)
		if err != nil {
			return err
		}
		funct3 := uint32(1) // SLLI
		if inst.Op == isa.OpShr {
			funct3 = 5 // SRLI
		}
		e.word(rvI(rvOpImm, funct3, rd, rs1, int64(s)))
		return nil
	case isa.OpSub:
		if !fitsInt12(-imm) {
			return rangeErr(inst, 2, "immediate %d does not fit imm12", imm)
		}
		e.word(rvI(rvOpImm, 0, rd, rs1, -imm))
		return nil
	case isa.OpMul:
		return rangeErr(inst, 2, "mul has no immediate form")
	}
	if !fitsInt12(imm) {
		return rangeErr(inst, 2, "immediate %d does not fit imm12", imm)
	}
	e.word(rvI(rvOpImm, rvIType[inst.Op], rd, rs1, imm))
	return nil
}

func rvMov(e *emitter, inst isa.Instruction) error {
	if err := expect(inst, 2); err != nil {
		return err
	}
	rd, err := regOperand(inst, 0)
	if err != nil {
		return err
	}
	if src := inst.Operands[1]; src.Kind == isa.KindImmediate {
		rvLoadImm(e, rd, src.Imm)
		return nil
	}
	rs, err := regOperand(inst, 1)
	if err != nil {
		return err
	}
	// MV rd, rs = ADDI rd, rs, 0
	e.word(rvI(rvOpImm, 0, rd, rs, 0))
	return nil
}

func rvAccess(e *emitter, inst isa.Instruction, operand int, load bool, reg uint32, m *isa.Memory, off int64) error {
	if m.HasIndex {
		return formErr(inst, operand, "indexed addressing must be folded first")
	}
	if !fitsInt12(off) {
		return rangeErr(inst, operand, "offset %d does not fit imm12", off)
	}
	if load {
		e.word(rvI(rvOpLoad, rvLoadFunct3[m.Size], reg, uint32(m.Base), off))
	} else {
		e.word(rvS(rvOpStore, rvStoreFunct3[m.Size], uint32(m.Base), reg, off))
	}
	return nil
}

func rvLoadStore(e *emitter, inst isa.Instruction) error {
	if err := expect(inst, 2); err != nil {
		return err
	}
	regIdx, memIdx := 0, 1
	if inst.Op == isa.OpStore {
		regIdx, memIdx = 1, 0
	}
	r, err := regOperand(inst, regIdx)
	if err != nil {
		return err
	}
	m, err := memOperand(inst, memIdx)
	if err != nil {
		return err
	}
	return rvAccess(e, inst, memIdx, inst.Op == isa.OpLoad, r, m, m.Offset)
}

func rvPair(e *emitter, inst isa.Instruction) error {
	if err := expect(inst, 2); err != nil {
		return err
	}
	pairIdx, memIdx := 0, 1
	load := inst.Op == isa.OpLoadPair
	if !load {
		pairIdx, memIdx = 1, 0
	}
	r1, r2, err := pairOperand(inst, pairIdx)
	if err != nil {
		return err
	}
	m, err := memOperand(inst, memIdx)
	if err != nil {
		return err
	}
	size, err := pairSize(inst, memIdx, m)
	if err != nil {
		return err
	}
	q := *m
	q.Size = size
	first, second := r1, r2
	firstOff, secondOff := m.Offset, m.Offset+int64(size)
	if load && r1 == uint32(m.Base) {
		first, second = r2, r1
		firstOff, secondOff = secondOff, firstOff
	}
	if err := rvAccess(e, inst, memIdx, load, first, &q, firstOff); err != nil {
		return err
	}
	return rvAccess(e, inst, memIdx, load, second, &q, secondOff)
}

func rvBranch(e *emitter, inst isa.Instruction) error {
	if err := expect(inst, 1); err != nil {
		return err
	}
	link := uint32(rvZero)
	if inst.Op == isa.OpCall {
		link = rvRA
	}
	target := inst.Operands[0]
	switch target.Kind {
	case isa.KindLabel:
		e.fixup(target.Label, FixupJAL, len(e.buf))
		e.word(rvOpJAL | link<<7)
		return nil
	case isa.KindRegister:
		rs, err := regOperand(inst, 0)
		if err != nil {
			return err
		}
		e.word(rvI(rvOpJALR, 0, link, rs, 0))
		return nil
	}
	return formErr(inst, 0, "want label or register, got %s", target.Kind)
}

func rvBswap(e *emitter, inst isa.Instruction) error {
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
	// REV8 (Zbb) reverses all eight bytes; narrower swaps shift back down
	e.word(0x6b805013 | rs<<15 | rd<<7)
	if width < 8 {
		e.word(rvI(rvOpImm, 5, rd, rd, 64-8*width)) // SRLI
	}
	return nil
}
