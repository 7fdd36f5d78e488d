// Completion: 100% - Encoder dispatch complete
package encoding

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/RunningShrimp/vm-sub001/internal/engine"
	"github.com/RunningShrimp/vm-sub001/internal/isa"
)

// Machine code encoders for the three supported targets.
// Every encoder takes an architecture-neutral isa.Instruction whose
// register numbers are already in the target's register file and
// returns the bytes for it. Branches to labels get a zero displacement
// plus a Fixup the caller patches once label addresses are known.
//
// Operand forms accepted by every target:
//
//	nop, ret, syscall, fence, halt
//	add|sub|mul|and|or|xor|shl|shr  rd, rs1, rs2|imm
//	mov   rd, rs|imm
//	load  rd, [mem]           (size 1, 2, 4 or 8; zero-extending)
//	store [mem], rs
//	ldp   rd1:rd2, [mem]
//	stp   [mem], rs1:rs2
//	jmp|call label|reg
//	bswap rd, rs, width       (width 2, 4 or 8)

// FixupKind says how a label displacement is patched
type FixupKind uint8

const (
	// FixupRel32 is a 4-byte displacement relative to the end of the field (x86_64)
	FixupRel32 FixupKind = iota + 1
	// FixupBranch26 is the imm26 word offset of B/BL (aarch64)
	FixupBranch26
	// FixupJAL is the J-type immediate of JAL (riscv64)
	FixupJAL
)

func (k FixupKind) String() string {
	switch k {
	case FixupRel32:
		return "rel32"
	case FixupBranch26:
		return "branch26"
	case FixupJAL:
		return "jal"
	default:
		return "none"
	}
}

// Fixup records a label reference inside Encoded.Bytes
type Fixup struct {
	Offset int
	Label  string
	Kind   FixupKind
}

// Encoded is the machine code for one instruction. Values handed out by
// the Cache are shared and must not be modified.
type Encoded struct {
	Bytes  []byte
	Fixups []Fixup
}

// Len returns the encoded size in bytes
func (e Encoded) Len() int {
	return len(e.Bytes)
}

var (
	// ErrUnsupportedForm means the operand shape has no encoding on the target
	ErrUnsupportedForm = errors.New("unsupported operand form")
	// ErrRange means an immediate, offset or register number is out of range
	ErrRange = errors.New("value out of range")
)

// Error describes why an instruction could not be encoded
type Error struct {
	Arch    engine.Arch
	Op      isa.Opcode
	Operand int // -1 when the failure is not tied to one operand
	Reason  string
	Err     error
}

func (e *Error) Error() string {
	if e.Operand >= 0 {
		return fmt.Sprintf("%s: cannot encode %s: operand %d: %s", e.Arch, e.Op, e.Operand, e.Reason)
	}
	return fmt.Sprintf("%s: cannot encode %s: %s", e.Arch, e.Op, e.Reason)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func formErr(inst isa.Instruction, operand int, format string, args ...any) error {
	return &Error{Arch: inst.Arch, Op: inst.Op, Operand: operand, Reason: fmt.Sprintf(format, args...), Err: ErrUnsupportedForm}
}

func rangeErr(inst isa.Instruction, operand int, format string, args ...any) error {
	return &Error{Arch: inst.Arch, Op: inst.Op, Operand: operand, Reason: fmt.Sprintf(format, args...), Err: ErrRange}
}

// Encode produces machine code for inst on inst.Arch
func Encode(inst isa.Instruction) (Encoded, error) {
	switch inst.Arch {
	case engine.ArchX86_64:
		return encodeX86(inst)
	case engine.ArchARM64:
		return encodeARM64(inst)
	case engine.ArchRiscv64:
		return encodeRISCV(inst)
	}
	return Encoded{}, &Error{Arch: inst.Arch, Op: inst.Op, Operand: -1, Reason: "no encoder for architecture", Err: ErrUnsupportedForm}
}

// RegisterCount returns the number of general purpose registers the
// encoder for arch accepts
func RegisterCount(arch engine.Arch) int {
	switch arch {
	case engine.ArchX86_64:
		return 16
	case engine.ArchARM64, engine.ArchRiscv64:
		return 32
	}
	return 0
}

// FitsImmediate reports whether op can carry imm directly on arch.
// Callers materialize other values into a register first.
func FitsImmediate(arch engine.Arch, op isa.Opcode, imm int64) bool {
	switch op {
	case isa.OpMov:
		return arch.Valid()
	case isa.OpShl, isa.OpShr:
		return arch.Valid() && imm >= 0 && imm < 64
	}
	switch arch {
	case engine.ArchX86_64:
		switch op {
		case isa.OpAdd, isa.OpSub, isa.OpAnd, isa.OpOr, isa.OpXor, isa.OpMul:
			return fitsInt32(imm)
		}
	case engine.ArchARM64:
		switch op {
		case isa.OpAdd, isa.OpSub:
			return arm64AddImm(imm) || arm64AddImm(-imm)
		}
	case engine.ArchRiscv64:
		switch op {
		case isa.OpAdd, isa.OpAnd, isa.OpOr, isa.OpXor:
			return fitsInt12(imm)
		case isa.OpSub:
			return fitsInt12(-imm)
		}
	}
	return false
}

// FitsOffset reports whether a memory access of size bytes can use off as
// its displacement without materializing it
func FitsOffset(arch engine.Arch, size uint8, off int64) bool {
	switch arch {
	case engine.ArchX86_64:
		return fitsInt32(off)
	case engine.ArchARM64:
		return arm64ScaledOffset(size, off) || (off >= -256 && off <= 255)
	case engine.ArchRiscv64:
		return fitsInt12(off)
	}
	return false
}

// FitsPairOffset is FitsOffset for ldp/stp of two size-byte registers
func FitsPairOffset(arch engine.Arch, size uint8, off int64) bool {
	if arch == engine.ArchARM64 {
		n := int64(size)
		return n > 0 && off%n == 0 && off/n >= -64 && off/n <= 63
	}
	return FitsOffset(arch, size, off) && FitsOffset(arch, size, off+int64(size))
}

func fitsInt8(v int64) bool  { return v >= -128 && v <= 127 }
func fitsInt12(v int64) bool { return v >= -2048 && v <= 2047 }
func fitsInt32(v int64) bool { return v >= -1<<31 && v <= 1<<31-1 }

// emitter accumulates the bytes and fixups of one instruction
type emitter struct {
	buf    []byte
	fixups []Fixup
}

func (e *emitter) bytes(b ...byte) {
	e.buf = append(e.buf, b...)
}

// word appends a 32-bit little-endian instruction word
func (e *emitter) word(w uint32) {
	e.buf = binary.LittleEndian.AppendUint32(e.buf, w)
}

func (e *emitter) imm32(v int32) {
	e.buf = binary.LittleEndian.AppendUint32(e.buf, uint32(v))
}

func (e *emitter) imm64(v int64) {
	e.buf = binary.LittleEndian.AppendUint64(e.buf, uint64(v))
}

func (e *emitter) fixup(label string, kind FixupKind, at int) {
	e.fixups = append(e.fixups, Fixup{Offset: at, Label: label, Kind: kind})
}

func (e *emitter) result() Encoded {
	return Encoded{Bytes: e.buf, Fixups: e.fixups}
}

// operand shape helpers shared by the encoders

func expect(inst isa.Instruction, n int) error {
	if len(inst.Operands) != n {
		return formErr(inst, -1, "want %d operands, got %d", n, len(inst.Operands))
	}
	return nil
}

func regOperand(inst isa.Instruction, i int) (uint32, error) {
	o := inst.Operands[i]
	if o.Kind != isa.KindRegister {
		return 0, formErr(inst, i, "want register, got %s", o.Kind)
	}
	if int(o.Reg) >= RegisterCount(inst.Arch) {
		return 0, rangeErr(inst, i, "register %s does not exist", o.Reg)
	}
	return uint32(o.Reg), nil
}

func memOperand(inst isa.Instruction, i int) (*isa.Memory, error) {
	o := inst.Operands[i]
	if o.Kind != isa.KindMemory || o.Mem == nil {
		return nil, formErr(inst, i, "want memory, got %s", o.Kind)
	}
	m := o.Mem
	n := RegisterCount(inst.Arch)
	if int(m.Base) >= n || (m.HasIndex && int(m.Index) >= n) {
		return nil, rangeErr(inst, i, "register in %s does not exist", m)
	}
	switch m.Size {
	case 1, 2, 4, 8:
	default:
		return nil, formErr(inst, i, "access size %d", m.Size)
	}
	return m, nil
}

func pairOperand(inst isa.Instruction, i int) (uint32, uint32, error) {
	o := inst.Operands[i]
	if o.Kind != isa.KindRegisterPair || len(o.Regs) != 2 {
		return 0, 0, formErr(inst, i, "want register pair, got %s", o.Kind)
	}
	n := RegisterCount(inst.Arch)
	if int(o.Regs[0]) >= n || int(o.Regs[1]) >= n {
		return 0, 0, rangeErr(inst, i, "register in %s does not exist", o)
	}
	return uint32(o.Regs[0]), uint32(o.Regs[1]), nil
}

// pairSize is the width of each register of a pair access; pairs move
// words or doublewords
func pairSize(inst isa.Instruction, i int, m *isa.Memory) (uint8, error) {
	if m.Size != 4 && m.Size != 8 {
		return 0, formErr(inst, i, "pair access size %d", m.Size)
	}
	return m.Size, nil
}

func swapWidth(inst isa.Instruction) (int64, error) {
	o := inst.Operands[2]
	if o.Kind != isa.KindImmediate {
		return 0, formErr(inst, 2, "want byte width, got %s", o.Kind)
	}
	switch o.Imm {
	case 2, 4, 8:
		return o.Imm, nil
	}
	return 0, rangeErr(inst, 2, "byte swap width %d", o.Imm)
}

// shiftImm validates a shift amount operand
func shiftImm(inst isa.Instruction, i int) (uint32, error) {
	v := inst.Operands[i].Imm
	if v < 0 || v > 63 {
		return 0, rangeErr(inst, i, "shift amount %d", v)
	}
	return uint32(v), nil
}
