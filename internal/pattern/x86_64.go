package pattern

import (
	"fmt"

	"github.com/RunningShrimp/vm-sub001/internal/engine"
	"github.com/RunningShrimp/vm-sub001/internal/isa"
)

// x86_64 matchers. Byte notation is "value/mask"; "48/f8" is any REX.W
// prefix and "c0/c0" a register-direct ModRM byte. The three-operand
// sequences mirror what the encoder emits (MOV rd, rs1 followed by the
// two-operand form) so translated code classifies the same way.

const (
	x86RexW   = "48/f8"
	x86Rex    = "40/f8"
	x86RR     = "c0/c0"
	x86MovRR  = x86RexW + " 89 " + x86RR
	x86Imm32  = "?? ?? ?? ??"
	x86Imm64  = x86Imm32 + " " + x86Imm32
	x86Disp8  = "??"
	x86Disp32 = x86Imm32
)

// x86Digit is a register-direct ModRM byte with a fixed /digit
func x86Digit(d int) string {
	return fmt.Sprintf("%02x/f8", 0xc0|d<<3)
}

var x86ALUForms = []struct {
	op    isa.Opcode
	rr    string
	digit int
}{
	{isa.OpAdd, "01", 0},
	{isa.OpOr, "09", 1},
	{isa.OpAnd, "21", 4},
	{isa.OpSub, "29", 5},
	{isa.OpXor, "31", 6},
}

// x86PairForms are the ModRM shapes of the two loads or stores a pair
// access becomes: [base], [base+disp8] and [base+disp32], with and
// without a SIB byte
var x86PairForms = [][2]string{
	{"00/c0", "40/c0 " + x86Disp8},
	{"40/c0 " + x86Disp8, "40/c0 " + x86Disp8},
	{"40/c0 " + x86Disp8, "80/c0 " + x86Disp32},
	{"80/c0 " + x86Disp32, "80/c0 " + x86Disp32},
	{"04/c7 ??", "44/c7 ?? " + x86Disp8},
	{"44/c7 ?? " + x86Disp8, "44/c7 ?? " + x86Disp8},
}

func x86Entries(b *builder, core map[isa.Opcode]*isa.Pattern) {
	a := engine.ArchX86_64
	for _, f := range x86ALUForms {
		p := core[f.op]
		d := x86Digit(f.digit)
		rr := x86RexW + " " + f.rr + " " + x86RR
		imm8 := x86RexW + " 83 " + d + " ??"
		imm32 := x86RexW + " 81 " + d + " " + x86Imm32
		b.add(a, p,
			hex(rr),
			hex(x86MovRR+" "+rr),
			hex(imm8),
			hex(x86MovRR+" "+imm8),
			hex(imm32),
			hex(x86MovRR+" "+imm32),
		)
	}
	// SUB rd, rs1, rd is NEG rd; ADD rd, rs1
	b.add(a, core[isa.OpSub], hex(x86RexW+" f7 d8/f8 "+x86RexW+" 01 "+x86RR))

	imul := x86RexW + " 0f af " + x86RR
	b.add(a, core[isa.OpMul],
		hex(imul),
		hex(x86MovRR+" "+imul),
		hex(x86RexW+" 6b "+x86RR+" ??"),
		hex(x86RexW+" 69 "+x86RR+" "+x86Imm32),
	)

	for _, s := range []struct {
		op    isa.Opcode
		pp    string
		digit int
	}{{isa.OpShl, "81/83", 4}, {isa.OpShr, "83/83", 5}} {
		imm := x86RexW + " c1 " + x86Digit(s.digit) + " ??"
		b.add(a, core[s.op],
			hex("c4 02/1f "+s.pp+" f7 "+x86RR), // SHLX/SHRX
			hex(imm),
			hex(x86MovRR+" "+imm),
		)
	}

	b.add(a, core[isa.OpMov],
		hex(x86MovRR),
		hex(x86RexW+" 8b "+x86RR),
		hex(x86RexW+" c7 c0/f8 "+x86Imm32),
		hex(x86RexW+" b8/f8 "+x86Imm64),
		hex("b8/f8 "+x86Imm32), // MOV r32, imm32 zero-extends
		hex("41 b8/f8 "+x86Imm32),
	)

	b.add(a, core[isa.OpLoad],
		hex(x86RexW+" 8b"),
		hex("8b"),
		hex(x86Rex+" 8b"),
		hex(x86RexW+" 0f b7"),
		hex(x86RexW+" 0f b6"),
	)
	b.add(a, core[isa.OpStore],
		hex(x86RexW+" 89"),
		hex("89"),
		hex(x86Rex+" 89"),
		hex("66 89"),
		hex("66 "+x86Rex+" 89"),
		hex("88"),
		hex(x86Rex+" 88"),
	)
	for _, f := range x86PairForms {
		b.add(a, core[isa.OpLoadPair], hex(x86RexW+" 8b "+f[0]+" "+x86RexW+" 8b "+f[1]))
		b.add(a, core[isa.OpStorePair], hex(x86RexW+" 89 "+f[0]+" "+x86RexW+" 89 "+f[1]))
	}

	b.add(a, core[isa.OpJump], hex("e9 "+x86Imm32), hex("eb ??"), hex("ff e0/f8"), hex("41 ff e0/f8"))
	b.add(a, core[isa.OpCall], hex("e8 "+x86Imm32), hex("ff d0/f8"), hex("41 ff d0/f8"))
	b.add(a, core[isa.OpRet], hex("c3"))
	b.add(a, core[isa.OpSyscall], hex("0f 05"))
	b.add(a, core[isa.OpFence], hex("0f ae f0"))
	b.add(a, core[isa.OpHalt], hex("f4"))
	b.add(a, core[isa.OpNop], hex("90"), hex("0f 1f"))

	bswap64 := x86RexW + " 0f c8/f8"
	bswap32 := []string{"0f c8/f8", "41 0f c8/f8"}
	rol16 := []string{"66 c1 " + x86RR + " 08", "66 41 c1 " + x86RR + " 08"}
	b.add(a, core[isa.OpBswap], hex(bswap64), hex(x86MovRR+" "+bswap64))
	for _, s := range append(bswap32, rol16...) {
		b.add(a, core[isa.OpBswap], hex(s), hex(x86MovRR+" "+s))
	}

	// Recognized, no neutral opcode
	mov32 := recognized("mov32", isa.MoveReg)
	b.add(a, mov32, hex("89 "+x86RR), hex(x86Rex+" 89 "+x86RR), hex("8b "+x86RR), hex(x86Rex+" 8b "+x86RR))
	b.add(a, recognized("mov16", isa.MoveReg), hex("66 89 "+x86RR))
	b.add(a, recognized("mov8", isa.MoveReg), hex(x86Rex+" 88 "+x86RR), hex("88 "+x86RR))
	b.add(a, recognized("load-rip", isa.Load), hex(x86RexW+" 8b 05/c7 "+x86Disp32))
	b.add(a, recognized("lea", isa.LoadAddress), hex(x86RexW+" 8d"))
	b.add(a, recognized("div", isa.Div), hex(x86RexW+" f7 f0/f0"))
	b.add(a, recognized("neg", isa.Neg), hex(x86RexW+" f7 d8/f8"))
	b.add(a, recognized("not", isa.Not), hex(x86RexW+" f7 d0/f8"))
	b.add(a, recognized("sar", isa.Sar), hex(x86RexW+" c1 f8/f8 ??"), hex(x86RexW+" d3 f8/f8"))
	b.add(a, recognized("cmp", isa.Cmp), hex(x86RexW+" 39"), hex(x86RexW+" 3b"), hex(x86RexW+" 83 f8/f8 ??"))
	b.add(a, recognized("test", isa.TestFlags), hex(x86RexW+" 85"), hex("85"))
	b.add(a, recognized("jcc", isa.Conditional), hex("0f 80/f0 "+x86Imm32), hex("70/f0 ??"))
	b.add(a, recognized("setcc", isa.CmpSet), hex("0f 90/f0"))
	b.add(a, recognized("cmovcc", isa.CondMove), hex(x86RexW+" 0f 40/f0"))
	b.add(a, recognized("xchg", isa.Exchange), hex(x86RexW+" 87"))
	b.add(a, recognized("lock-cmpxchg", isa.CAS), hex("f0 "+x86RexW+" 0f b1"))
	b.add(a, recognized("lock-xadd", isa.FetchAndOp), hex("f0 "+x86RexW+" 0f c1"))
	b.add(a, recognized("push", isa.Store), hex("50/f8"), hex("41 50/f8"))
	b.add(a, recognized("pop", isa.Load), hex("58/f8"), hex("41 58/f8"))
	b.add(a, recognized("int3", isa.Breakpoint), hex("cc"))
	b.add(a, recognized("ud2", isa.Undefined), hex("0f 0b"))
	b.add(a, recognized("pause", isa.Yield), hex("f3 90"))
	b.add(a, recognized("cpuid", isa.ReadSysReg), hex("0f a2"))
	b.add(a, recognized("rdtsc", isa.ReadSysReg), hex("0f 31"))
	b.add(a, recognized("clflush", isa.CacheFlush), hex("0f ae 38/f8"))
	b.add(a, recognized("invlpg", isa.TLBFlush), hex("0f 01 38/f8"))
	b.add(a, recognized("lfence", isa.Barrier), hex("0f ae e8"))
	b.add(a, recognized("sfence", isa.Barrier), hex("0f ae f8"))
	b.add(a, recognized("addsd", isa.FAdd), hex("f2 0f 58"))
	b.add(a, recognized("mulsd", isa.FMul), hex("f2 0f 59"))
	b.add(a, recognized("divsd", isa.FDiv), hex("f2 0f 5e"))
	b.add(a, recognized("sqrtsd", isa.FSqrt), hex("f2 0f 51"))
	b.add(a, recognized("cvtsi2sd", isa.IntToFloat), hex("f2 "+x86RexW+" 0f 2a"))
	b.add(a, recognized("paddd", isa.VecAdd), hex("66 0f fe"))
	b.add(a, recognized("movdqu", isa.VecLoad), hex("f3 0f 6f"))
	b.add(a, recognized("pshufd", isa.VecShuffle), hex("66 0f 70"))
	b.add(a, recognized("movsx", isa.SignExtend), hex(x86RexW+" 63"), hex(x86RexW+" 0f be"), hex(x86RexW+" 0f bf"))
}
