// Completion: 100% - Neutral patterns for every translatable opcode
package pattern

import (
	"github.com/RunningShrimp/vm-sub001/internal/isa"
)

var (
	kReg    = isa.Kinds(isa.KindRegister)
	kRegImm = isa.Kinds(isa.KindRegister, isa.KindImmediate)
	kMem    = isa.Kinds(isa.KindMemory)
	kPair   = isa.Kinds(isa.KindRegisterPair)
	kTarget = isa.Kinds(isa.KindLabel, isa.KindRegister)
	kImm    = isa.Kinds(isa.KindImmediate)
)

func alu(op isa.Opcode, st isa.Subtype, sym string) *isa.Pattern {
	return isa.NewPattern(op.String(), op, st).
		WithOperands(kReg, kReg, kRegImm).
		Writes(0).Reads(1, 2).
		Describe(nil, []string{"rd = rs1 " + sym + " src2"}, nil).
		Build()
}

// corePatterns returns one pattern per opcode the encoders support.
// Reads and Writes list operand positions; registers inside a memory
// operand are always read.
func corePatterns() map[isa.Opcode]*isa.Pattern {
	return map[isa.Opcode]*isa.Pattern{
		isa.OpNop: isa.NewPattern("nop", isa.OpNop, isa.Nop).Build(),
		isa.OpAdd: alu(isa.OpAdd, isa.Add, "+"),
		isa.OpSub: alu(isa.OpSub, isa.Sub, "-"),
		isa.OpMul: alu(isa.OpMul, isa.Mul, "*"),
		isa.OpAnd: alu(isa.OpAnd, isa.And, "&"),
		isa.OpOr:  alu(isa.OpOr, isa.Or, "|"),
		isa.OpXor: alu(isa.OpXor, isa.Xor, "^"),
		isa.OpShl: alu(isa.OpShl, isa.Shl, "<<"),
		isa.OpShr: alu(isa.OpShr, isa.Shr, ">>"),
		isa.OpMov: isa.NewPattern("mov", isa.OpMov, isa.MoveReg).
			WithOperands(kReg, kRegImm).
			Writes(0).Reads(1).
			Describe(nil, []string{"rd = src"}, nil).
			Build(),
		isa.OpLoad: isa.NewPattern("load", isa.OpLoad, isa.Load).
			WithOperands(kReg, kMem).
			Writes(0).Reads(1).
			Describe([]string{"address mapped"}, []string{"rd = zext(mem[size])"}, nil).
			Build(),
		isa.OpStore: isa.NewPattern("store", isa.OpStore, isa.Store).
			WithOperands(kMem, kReg).
			Reads(0, 1).
			Describe([]string{"address mapped"}, nil, []string{"writes memory"}).
			Build(),
		isa.OpLoadPair: isa.NewPattern("ldp", isa.OpLoadPair, isa.LoadPair).
			WithOperands(kPair, kMem).
			Writes(0).Reads(1).
			Describe([]string{"address mapped"}, []string{"r1 = mem[0:8]", "r2 = mem[8:16]"}, nil).
			Build(),
		isa.OpStorePair: isa.NewPattern("stp", isa.OpStorePair, isa.StorePair).
			WithOperands(kMem, kPair).
			Reads(0, 1).
			Describe([]string{"address mapped"}, nil, []string{"writes memory"}).
			Build(),
		isa.OpJump: isa.NewPattern("jmp", isa.OpJump, isa.Unconditional).
			WithOperands(kTarget).
			Reads(0).
			Build(),
		isa.OpCall: isa.NewPattern("call", isa.OpCall, isa.Call).
			WithOperands(kTarget).
			Reads(0).
			Describe(nil, nil, []string{"writes return address"}).
			Build(),
		isa.OpRet: isa.NewPattern("ret", isa.OpRet, isa.Return).Build(),
		isa.OpSyscall: isa.NewPattern("syscall", isa.OpSyscall, isa.Syscall).
			Describe(nil, nil, []string{"enters the host kernel"}).
			Build(),
		isa.OpFence: isa.NewPattern("fence", isa.OpFence, isa.Barrier).
			Describe(nil, nil, []string{"orders memory accesses"}).
			Build(),
		isa.OpHalt: isa.NewPattern("halt", isa.OpHalt, isa.Halt).Build(),
		isa.OpBswap: isa.NewPattern("bswap", isa.OpBswap, isa.ByteSwap).
			WithOperands(kReg, kReg, kImm).
			Writes(0).Reads(1).
			Describe(nil, []string{"rd = reverse bytes of the low width bytes of rs"}, nil).
			Build(),
	}
}

// recognized builds a pattern the catalog can classify but the
// translator has no neutral opcode for
func recognized(name string, st isa.Subtype) *isa.Pattern {
	return isa.NewPattern(name, isa.OpUnknown, st).Build()
}
