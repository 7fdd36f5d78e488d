package isa

import (
	"fmt"
	"strings"

	"github.com/RunningShrimp/vm-sub001/internal/engine"
)

// Opcode is the architecture-neutral operation a decoded instruction
// performs. Decoders map native mnemonics onto these.
type Opcode uint16

const (
	OpUnknown Opcode = iota
	OpNop
	OpAdd
	OpSub
	OpMul
	OpAnd
	OpOr
	OpXor
	OpShl
	OpShr
	OpMov
	OpLoad
	OpStore
	OpLoadPair
	OpStorePair
	OpJump
	OpCall
	OpRet
	OpSyscall
	OpFence
	OpHalt
	OpBswap
	numOpcodes
)

var opcodeNames = [...]string{
	OpUnknown:   "unknown",
	OpNop:       "nop",
	OpAdd:       "add",
	OpSub:       "sub",
	OpMul:       "mul",
	OpAnd:       "and",
	OpOr:        "or",
	OpXor:       "xor",
	OpShl:       "shl",
	OpShr:       "shr",
	OpMov:       "mov",
	OpLoad:      "load",
	OpStore:     "store",
	OpLoadPair:  "ldp",
	OpStorePair: "stp",
	OpJump:      "jmp",
	OpCall:      "call",
	OpRet:       "ret",
	OpSyscall:   "syscall",
	OpFence:     "fence",
	OpHalt:      "halt",
	OpBswap:     "bswap",
}

func (op Opcode) String() string {
	if int(op) < len(opcodeNames) {
		return opcodeNames[op]
	}
	return fmt.Sprintf("op(%d)", uint16(op))
}

// IsALU reports whether op is a three-operand register/immediate operation
func (op Opcode) IsALU() bool {
	switch op {
	case OpAdd, OpSub, OpMul, OpAnd, OpOr, OpXor, OpShl, OpShr:
		return true
	}
	return false
}

// Commutative reports whether the two source operands may be swapped
func (op Opcode) Commutative() bool {
	switch op {
	case OpAdd, OpMul, OpAnd, OpOr, OpXor:
		return true
	}
	return false
}

// ParseOpcode accepts the names printed by String plus a few native aliases
func ParseOpcode(s string) (Opcode, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	switch name {
	case "ld", "ldr", "lw":
		return OpLoad, nil
	case "st", "sd", "str", "sw":
		return OpStore, nil
	case "b", "j", "jump":
		return OpJump, nil
	case "bl", "jal":
		return OpCall, nil
	case "svc", "ecall":
		return OpSyscall, nil
	case "hlt", "wfi":
		return OpHalt, nil
	case "lsl", "sll":
		return OpShl, nil
	case "lsr", "srl":
		return OpShr, nil
	case "orr":
		return OpOr, nil
	case "eor":
		return OpXor, nil
	case "mv", "li":
		return OpMov, nil
	}
	for op := OpNop; op < numOpcodes; op++ {
		if opcodeNames[op] == name {
			return op, nil
		}
	}
	if hint := engine.Suggest(name, opcodeNames[1:], 1); len(hint) > 0 {
		return OpUnknown, fmt.Errorf("unknown opcode %q (did you mean %s?)", s, hint[0])
	}
	return OpUnknown, fmt.Errorf("unknown opcode %q", s)
}
