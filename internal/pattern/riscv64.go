package pattern

import (
	"github.com/RunningShrimp/vm-sub001/internal/engine"
	"github.com/RunningShrimp/vm-sub001/internal/isa"
)

// riscv64 matchers over 32-bit words

const (
	rvR  = 0xfe00707f // funct7 funct3 opcode
	rvI  = 0x0000707f // funct3 opcode
	rvSh = 0xfc00707f // 6-bit shamt immediates
)

func riscvEntries(b *builder, core map[isa.Opcode]*isa.Pattern) {
	a := engine.ArchRiscv64
	ld, sd := word(rvI, 0x3003), word(rvI, 0x3023)

	b.add(a, core[isa.OpNop], exact(0x00000013))
	b.add(a, core[isa.OpAdd], word(rvR, 0x00000033), word(rvI, 0x00000013))
	b.add(a, core[isa.OpSub], word(rvR, 0x40000033))
	b.add(a, core[isa.OpMul], word(rvR, 0x02000033))
	b.add(a, core[isa.OpAnd], word(rvR, 0x00007033), word(rvI, 0x00007013))
	b.add(a, core[isa.OpOr], word(rvR, 0x00006033), word(rvI, 0x00006013))
	b.add(a, core[isa.OpXor], word(rvR, 0x00004033), word(rvI, 0x00004013))
	b.add(a, core[isa.OpShl], word(rvR, 0x00001033), word(rvSh, 0x00001013))
	b.add(a, core[isa.OpShr], word(rvR, 0x00005033), word(rvSh, 0x00005013))
	b.add(a, core[isa.OpMov],
		word(0xfff0707f, 0x00000013), // MV = ADDI rd, rs, 0
		word(0x000ff07f, 0x00000013), // LI = ADDI rd, x0, imm
		word(0x0000007f, 0x00000037), // LUI, optionally followed by ADDIW/SLLI/ADDI
	)
	b.add(a, core[isa.OpLoad],
		ld,
		word(rvI, 0x4003), // lbu
		word(rvI, 0x5003), // lhu
		word(rvI, 0x6003), // lwu
	)
	b.add(a, core[isa.OpStore],
		sd,
		word(rvI, 0x0023), // sb
		word(rvI, 0x1023), // sh
		word(rvI, 0x2023), // sw
	)
	b.add(a, core[isa.OpLoadPair], seq(ld, ld))
	b.add(a, core[isa.OpStorePair], seq(sd, sd))
	b.add(a, core[isa.OpJump],
		word(0x00000fff, 0x0000006f), // JAL x0
		word(0xfff07fff, 0x00000067), // JALR x0, 0(rs)
	)
	b.add(a, core[isa.OpCall],
		word(0x00000fff, 0x000000ef), // JAL ra
		word(0xfff07fff, 0x000000e7), // JALR ra, 0(rs)
	)
	b.add(a, core[isa.OpRet], exact(0x00008067))
	b.add(a, core[isa.OpSyscall], exact(0x00000073))
	b.add(a, core[isa.OpFence], word(rvI, 0x0000000f))
	b.add(a, core[isa.OpHalt], exact(0x10500073))
	rev8 := word(0xfff0707f, 0x6b805013)
	b.add(a, core[isa.OpBswap], rev8, seq(rev8, word(rvSh, 0x00005013)))

	b.add(a, recognized("div", isa.Div), word(rvR, 0x02004033), word(rvR, 0x02005033))
	b.add(a, recognized("rem", isa.Mod), word(rvR, 0x02006033), word(rvR, 0x02007033))
	b.add(a, recognized("mulh", isa.MulHigh), word(rvR, 0x02001033), word(rvR, 0x02003033))
	b.add(a, recognized("sra", isa.Sar), word(rvR, 0x40005033), word(rvSh, 0x40005013))
	b.add(a, recognized("slt", isa.CmpSet), word(rvR, 0x00002033), word(rvR, 0x00003033), word(rvI, 0x2013), word(rvI, 0x3013))
	b.add(a, recognized("addw", isa.Add), word(rvR, 0x0000003b), word(rvI, 0x0000001b))
	b.add(a, recognized("load-signed", isa.SignExtend), word(rvI, 0x0003), word(rvI, 0x1003), word(rvI, 0x2003))
	b.add(a, recognized("auipc", isa.LoadAddress), word(0x7f, 0x17))
	b.add(a, recognized("branch", isa.CmpBranch),
		word(rvI, 0x0063), word(rvI, 0x1063), word(rvI, 0x4063),
		word(rvI, 0x5063), word(rvI, 0x6063), word(rvI, 0x7063),
	)
	b.add(a, recognized("lr", isa.LoadReserved), word(0xf9f0707f, 0x1000302f), word(0xf9f0707f, 0x1000202f))
	b.add(a, recognized("sc", isa.StoreConditional), word(0xf800707f, 0x1800302f), word(0xf800707f, 0x1800202f))
	b.add(a, recognized("amoswap", isa.Swap), word(0xf800707f, 0x0800302f))
	b.add(a, recognized("amoadd", isa.FetchAndOp), word(0xf800707f, 0x0000302f))
	b.add(a, recognized("csrr", isa.ReadSysReg), word(0x000ff07f, 0x00002073))
	b.add(a, recognized("csrw", isa.WriteSysReg), word(rvI, 0x1073), word(rvI, 0x2073), word(rvI, 0x3073))
	b.add(a, recognized("ebreak", isa.Breakpoint), exact(0x00100073))
	b.add(a, recognized("fence.i", isa.CacheFlush), exact(0x0000100f))
	b.add(a, recognized("sfence.vma", isa.TLBFlush), word(0xfe007fff, 0x12000073))
	b.add(a, recognized("unimp", isa.Undefined), exact(0xc0001073))
	b.add(a, recognized("fadd", isa.FAdd), word(0xfc00007f, 0x00000053))
	b.add(a, recognized("fsub", isa.FSub), word(0xfc00007f, 0x08000053))
	b.add(a, recognized("fmul", isa.FMul), word(0xfc00007f, 0x10000053))
	b.add(a, recognized("fdiv", isa.FDiv), word(0xfc00007f, 0x18000053))
	b.add(a, recognized("fsqrt", isa.FSqrt), word(0xfc00007f, 0x58000053))
	b.add(a, recognized("fmadd", isa.FMA), word(0x0000007f, 0x00000043))
	b.add(a, recognized("fcvt", isa.FloatToInt), word(0xfc00007f, 0xc0000053))
	b.add(a, recognized("fcvt-int", isa.IntToFloat), word(0xfc00007f, 0xd0000053))
	b.add(a, recognized("vadd", isa.VecAdd), word(0xfc00707f, 0x00000057))
	b.add(a, recognized("load-fp", isa.VecLoad), word(0x0000007f, 0x00000007))
	b.add(a, recognized("store-fp", isa.VecStore), word(0x0000007f, 0x00000027))
}
