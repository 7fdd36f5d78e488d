// Completion: 95% - ARM64 integer forms complete, no logical immediates
package encoding

import (
	"github.com/RunningShrimp/vm-sub001/internal/isa"
)

// ARM64 encoder
// Fixed 32-bit little-endian words. Register 31 is SP when used as a
// base or in ADD/SUB (immediate) and XZR in the register-register forms,
// so SP is rejected there.

const arm64SP = 31

// Register-register data processing: base | Rm<<16 | Rn<<5 | Rd
var arm64RRR = map[isa.Opcode]uint32{
	isa.OpAdd: 0x8b000000,
	isa.OpSub: 0xcb000000,
	isa.OpAnd: 0x8a000000,
	isa.OpOr:  0xaa000000,
	isa.OpXor: 0xca000000,
	isa.OpMul: 0x9b007c00, // MADD Xd, Xn, Xm, XZR
	isa.OpShl: 0x9ac02000, // LSLV
	isa.OpShr: 0x9ac02400, // LSRV
}

var arm64Fixed = map[isa.Opcode]uint32{
	isa.OpNop:     0xd503201f,
	isa.OpRet:     0xd65f03c0, // RET X30
	isa.OpSyscall: 0xd4000001, // SVC #0
	isa.OpFence:   0xd5033bbf, // DMB ISH
	isa.OpHalt:    0xd503207f, // WFI
}

// Load/store opcode bases by access size. Loads add bit 22.
var (
	arm64LdStScaled   = map[uint8]uint32{1: 0x39000000, 2: 0x79000000, 4: 0xb9000000, 8: 0xf9000000}
	arm64LdStUnscaled = map[uint8]uint32{1: 0x38000000, 2: 0x78000000, 4: 0xb8000000, 8: 0xf8000000}
)

const arm64LoadBit = 0x00400000

func arm64AddImm(imm int64) bool {
	return (imm >= 0 && imm <= 0xfff) || (imm&0xfff == 0 && imm >= 0 && imm <= 0xfff000)
}

func arm64ScaledOffset(size uint8, off int64) bool {
	if size == 0 || off < 0 || off%int64(size) != 0 {
		return false
	}
	return off/int64(size) <= 0xfff
}

func encodeARM64(inst isa.Instruction) (Encoded, error) {
	var e emitter
	if w, ok := arm64Fixed[inst.Op]; ok {
		if err := expect(inst, 0); err != nil {
			return Encoded{}, err
		}
		e.word(w)
		return e.result(), nil
	}

	var err error
	switch inst.Op {
	case isa.OpAdd, isa.OpSub, isa.OpMul, isa.OpAnd, isa.OpOr, isa.OpXor, isa.OpShl, isa.OpShr:
		err = arm64ALU(&e, inst)
	case isa.OpMov:
		err = arm64Mov(&e, inst)
	case isa.OpLoad, isa.OpStore:
		err = arm64LoadStore(&e, inst)
	case isa.OpLoadPair, isa.OpStorePair:
		err = arm64Pair(&e, inst)
	case isa.OpJump, isa.OpCall:
		err = arm64Branch(&e, inst)
	case isa.OpBswap:
		err = arm64Bswap(&e, inst)
	default:
		err = formErr(inst, -1, "no aarch64 encoding")
	}
	if err != nil {
		return Encoded{}, err
	}
	return e.result(), nil
}

func arm64ALU(e *emitter, inst isa.Instruction) error {
	if err := expect(inst, 3); err != nil {
		return err
	}
	rd, err := regOperand(inst, 0)
	if err != nil {
		return err
	}
	rn, err := regOperand(inst, 1)
	if err != nil {
		return err
	}

	if src := inst.Operands[2]; src.Kind == isa.KindImmediate {
		return arm64ALUImm(e, inst, rd, rn, src.Imm)
	}
	rm, err := regOperand(inst, 2)
	if err != nil {
		return err
	}
	for i, r := range []uint32{rd, rn, rm} {
		if r == arm64SP {
			return formErr(inst, i, "sp is not allowed in the register form")
		}
	}
	e.word(arm64RRR[inst.Op] | rm<<16 | rn<<5 | rd)
	return nil
}

func arm64ALUImm(e *emitter, inst isa.Instruction, rd, rn uint32, imm int64) error {
	switch inst.Op {
	case isa.OpAdd, isa.OpSub:
		sub := inst.Op == isa.OpSub
		if imm < 0 {
			imm, sub = -imm, !sub
		}
		if !arm64AddImm(imm) {
			return rangeErr(inst, 2, "immediate %d does not fit imm12", imm)
		}
		w := uint32(0x91000000) // ADD Xd|SP, Xn|SP, #imm
		if sub {
			w = 0xd1000000
		}
		if imm > 0xfff {
			w |= 1 << 22 // LSL #12
			imm >>= 12
		}
		e.word(w | uint32(imm)<<10 | rn<<5 | rd)
		return nil
	case isa.OpShl, isa.OpShr:
		s, err := shiftImm(inst, 2)
		if err != nil {
			return err
		}
		if inst.Op == isa.OpShl {
			// LSL = UBFM Xd, Xn, #(-s mod 64), #(63-s)
			e.word(0xd3400000 | ((64-s)&63)<<16 | (63-s)<<10 | rn<<5 | rd)
		} else {
			// LSR = UBFM Xd, Xn, #s, #63
			e.word(0xd340fc00 | s<<16 | rn<<5 | rd)
		}
		return nil
	}
	return rangeErr(inst, 2, "%s has no immediate form here", inst.Op)
}

// arm64MovImm emits MOVN for small negative values, otherwise MOVZ
// followed by MOVK for each non-zero 16-bit chunk
func arm64MovImm(e *emitter, rd uint32, imm int64) {
	if imm < 0 && ^imm <= 0xffff {
		e.word(0x92800000 | uint32(^imm)<<5 | rd)
		return
	}
	u := uint64(imm)
	e.word(0xd2800000 | uint32(u&0xffff)<<5 | rd)
	for hw := uint32(1); hw < 4; hw++ {
		chunk := uint32(u>>(16*hw)) & 0xffff
		if chunk != 0 {
			e.word(0xf2800000 | hw<<21 | chunk<<5 | rd)
		}
	}
}

func arm64Mov(e *emitter, inst isa.Instruction) error {
	if err := expect(inst, 2); err != nil {
		return err
	}
	rd, err := regOperand(inst, 0)
	if err != nil {
		return err
	}
	if src := inst.Operands[1]; src.Kind == isa.KindImmediate {
		if rd == arm64SP {
			return formErr(inst, 0, "cannot move an immediate into sp")
		}
		arm64MovImm(e, rd, src.Imm)
		return nil
	}
	rm, err := regOperand(inst, 1)
	if err != nil {
		return err
	}
	if rd == arm64SP || rm == arm64SP {
		// MOV to/from SP is ADD Xd, Xn, #0
		e.word(0x91000000 | rm<<5 | rd)
		return nil
	}
	// ORR Xd, XZR, Xm
	e.word(0xaa0003e0 | rm<<16 | rd)
	return nil
}

func arm64Access(e *emitter, inst isa.Instruction, operand int, load bool, rt uint32, m *isa.Memory, off int64) error {
	if m.HasIndex {
		return formErr(inst, operand, "indexed addressing must be folded first")
	}
	rn := uint32(m.Base)
	var lbit uint32
	if load {
		lbit = arm64LoadBit
	}
	switch {
	case arm64ScaledOffset(m.Size, off):
		e.word(arm64LdStScaled[m.Size] | lbit | uint32(off/int64(m.Size))<<10 | rn<<5 | rt)
	case off >= -256 && off <= 255:
		// LDUR/STUR
		e.word(arm64LdStUnscaled[m.Size] | lbit | (uint32(off)&0x1ff)<<12 | rn<<5 | rt)
	default:
		return rangeErr(inst, operand, "offset %d out of range for a %d-byte access", off, m.Size)
	}
	return nil
}

func arm64LoadStore(e *emitter, inst isa.Instruction) error {
	if err := expect(inst, 2); err != nil {
		return err
	}
	regIdx, memIdx := 0, 1
	if inst.Op == isa.OpStore {
		regIdx, memIdx = 1, 0
	}
	rt, err := regOperand(inst, regIdx)
	if err != nil {
		return err
	}
	m, err := memOperand(inst, memIdx)
	if err != nil {
		return err
	}
	return arm64Access(e, inst, memIdx, inst.Op == isa.OpLoad, rt, m, m.Offset)
}

func arm64Pair(e *emitter, inst isa.Instruction) error {
	if err := expect(inst, 2); err != nil {
		return err
	}
	pairIdx, memIdx := 0, 1
	w := uint32(0x29400000) // LDP
	if inst.Op == isa.OpStorePair {
		pairIdx, memIdx = 1, 0
		w = 0x29000000 // STP
	}
	rt, rt2, err := pairOperand(inst, pairIdx)
	if err != nil {
		return err
	}
	m, err := memOperand(inst, memIdx)
	if err != nil {
		return err
	}
	if m.HasIndex {
		return formErr(inst, memIdx, "indexed addressing must be folded first")
	}
	size, err := pairSize(inst, memIdx, m)
	if err != nil {
		return err
	}
	if size == 8 {
		w |= 0x80000000 // X registers
	}
	if !FitsPairOffset(inst.Arch, size, m.Offset) {
		return rangeErr(inst, memIdx, "pair offset %d", m.Offset)
	}
	imm7 := uint32(m.Offset/int64(size)) & 0x7f
	e.word(w | imm7<<15 | rt2<<10 | uint32(m.Base)<<5 | rt)
	return nil
}

func arm64Branch(e *emitter, inst isa.Instruction) error {
	if err := expect(inst, 1); err != nil {
		return err
	}
	call := inst.Op == isa.OpCall
	target := inst.Operands[0]
	switch target.Kind {
	case isa.KindLabel:
		w := uint32(0x14000000) // B
		if call {
			w = 0x94000000 // BL
		}
		e.fixup(target.Label, FixupBranch26, len(e.buf))
		e.word(w)
		return nil
	case isa.KindRegister:
		rn, err := regOperand(inst, 0)
		if err != nil {
			return err
		}
		w := uint32(0xd61f0000) // BR
		if call {
			w = 0xd63f0000 // BLR
		}
		e.word(w | rn<<5)
		return nil
	}
	return formErr(inst, 0, "want label or register, got %s", target.Kind)
}

func arm64Bswap(e *emitter, inst isa.Instruction) error {
	if err := expect(inst, 3); err != nil {
		return err
	}
	rd, err := regOperand(inst, 0)
	if err != nil {
		return err
	}
	rn, err := regOperand(inst, 1)
	if err != nil {
		return err
	}
	width, err := swapWidth(inst)
	if err != nil {
		return err
	}
	switch width {
	case 2:
		e.word(0x5ac00400 | rn<<5 | rd) // REV16 Wd, Wn
	case 4:
		e.word(0x5ac00800 | rn<<5 | rd) // REV Wd, Wn
	case 8:
		e.word(0xdac00c00 | rn<<5 | rd) // REV Xd, Xn
	}
	return nil
}
