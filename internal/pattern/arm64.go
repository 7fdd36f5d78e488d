package pattern

import (
	"github.com/RunningShrimp/vm-sub001/internal/engine"
	"github.com/RunningShrimp/vm-sub001/internal/isa"
)

// aarch64 matchers, one 32-bit word each (multi-word immediates only
// need their first word to classify)

const (
	a64RRR    = 0xffe0fc00 // opcode, Rm free, no shift, Rn/Rd free
	a64AddImm = 0xff800000 // sf op S, both shift values
	a64Branch = 0xfc000000
	a64RegBr  = 0xfffffc1f // BR/BLR/RET with Rn free
	a64LdSt   = 0x3fc00000 // unsigned offset, any size
	a64LdStU  = 0x3fe00c00 // unscaled 9-bit offset, any size
)

func arm64Entries(b *builder, core map[isa.Opcode]*isa.Pattern) {
	a := engine.ArchARM64
	b.add(a, core[isa.OpAdd], word(a64RRR, 0x8b000000), word(a64AddImm, 0x91000000))
	b.add(a, core[isa.OpSub], word(a64RRR, 0xcb000000), word(a64AddImm, 0xd1000000))
	b.add(a, core[isa.OpAnd], word(a64RRR, 0x8a000000))
	b.add(a, core[isa.OpOr], word(a64RRR, 0xaa000000))
	b.add(a, core[isa.OpXor], word(a64RRR, 0xca000000))
	b.add(a, core[isa.OpMul], word(a64RRR, 0x9b007c00))
	b.add(a, core[isa.OpShl], word(a64RRR, 0x9ac02000), word(0xffc00000, 0xd3400000))
	b.add(a, core[isa.OpShr], word(a64RRR, 0x9ac02400), word(0xffc0fc00, 0xd340fc00))
	b.add(a, core[isa.OpMov],
		word(0xffe0ffe0, 0xaa0003e0), // ORR Xd, XZR, Xm
		word(0xffffffe0, 0x910003e0), // ADD Xd, SP, #0
		word(0xfffffc1f, 0x9100001f), // ADD SP, Xn, #0
		word(0xff800000, 0xd2800000), // MOVZ
		word(0xff800000, 0x92800000), // MOVN
	)
	b.add(a, core[isa.OpLoad], word(a64LdSt, 0x39400000), word(a64LdStU, 0x38400000))
	b.add(a, core[isa.OpStore], word(a64LdSt, 0x39000000), word(a64LdStU, 0x38000000))
	b.add(a, core[isa.OpLoadPair], word(0xffc00000, 0xa9400000), word(0xffc00000, 0x29400000))
	b.add(a, core[isa.OpStorePair], word(0xffc00000, 0xa9000000), word(0xffc00000, 0x29000000))
	b.add(a, core[isa.OpJump], word(a64Branch, 0x14000000), word(a64RegBr, 0xd61f0000))
	b.add(a, core[isa.OpCall], word(a64Branch, 0x94000000), word(a64RegBr, 0xd63f0000))
	b.add(a, core[isa.OpRet], exact(0xd65f03c0))
	b.add(a, core[isa.OpSyscall], word(0xffe0001f, 0xd4000001))
	b.add(a, core[isa.OpFence], word(0xfffff0ff, 0xd50330bf))
	b.add(a, core[isa.OpHalt], exact(0xd503207f))
	b.add(a, core[isa.OpNop], exact(0xd503201f))
	b.add(a, core[isa.OpBswap],
		word(0xfffffc00, 0x5ac00400), // REV16 W
		word(0xfffffc00, 0x5ac00800), // REV W
		word(0xfffffc00, 0xdac00c00), // REV X
	)

	b.add(a, recognized("udiv", isa.Div), word(a64RRR, 0x9ac00800))
	b.add(a, recognized("sdiv", isa.Div), word(a64RRR, 0x9ac00c00))
	b.add(a, recognized("asr", isa.Sar), word(a64RRR, 0x9ac02800), word(0xffc0fc00, 0x9340fc00))
	b.add(a, recognized("umulh", isa.MulHigh), word(0xffe0fc00, 0x9bc07c00))
	b.add(a, recognized("cmp", isa.Cmp), word(0xff20001f, 0xeb00001f), word(0xff80001f, 0xf100001f))
	b.add(a, recognized("tst", isa.TestFlags), word(0xff20001f, 0xea00001f))
	b.add(a, recognized("csel", isa.CondMove), word(0xffe00c00, 0x9a800000))
	b.add(a, recognized("cset", isa.CmpSet), word(0xffff0fe0, 0x9a9f07e0))
	b.add(a, recognized("b.cond", isa.Conditional), word(0xff000010, 0x54000000))
	b.add(a, recognized("cbz", isa.CmpBranch), word(0x7f000000, 0x34000000), word(0x7f000000, 0x35000000))
	b.add(a, recognized("ret-reg", isa.Return), word(a64RegBr, 0xd65f0000))
	b.add(a, recognized("adr", isa.LoadAddress), word(0x9f000000, 0x10000000), word(0x9f000000, 0x90000000))
	b.add(a, recognized("ldrsw", isa.SignExtend), word(0xffc00000, 0xb9800000))
	b.add(a, recognized("ldxr", isa.LoadReserved), word(0xfffffc00, 0xc85f7c00))
	b.add(a, recognized("stxr", isa.StoreConditional), word(0xffe0fc00, 0xc8007c00))
	b.add(a, recognized("ldar", isa.LoadAcquire), word(0xfffffc00, 0xc8dffc00))
	b.add(a, recognized("stlr", isa.StoreRelease), word(0xfffffc00, 0xc89ffc00))
	b.add(a, recognized("cas", isa.CAS), word(0xffe0fc00, 0xc8a07c00))
	b.add(a, recognized("swp", isa.Swap), word(0xffe0fc00, 0xf8208000))
	b.add(a, recognized("ldadd", isa.FetchAndOp), word(0xffe0fc00, 0xf8200000))
	b.add(a, recognized("prfm", isa.Prefetch), word(0xffc00000, 0xf9800000))
	b.add(a, recognized("mrs", isa.ReadSysReg), word(0xfff00000, 0xd5300000))
	b.add(a, recognized("msr", isa.WriteSysReg), word(0xfff00000, 0xd5100000))
	b.add(a, recognized("dc", isa.CacheFlush), word(0xfff8f000, 0xd5087000))
	b.add(a, recognized("tlbi", isa.TLBFlush), word(0xfff8f000, 0xd5088000))
	b.add(a, recognized("isb", isa.Barrier), exact(0xd5033fdf))
	b.add(a, recognized("brk", isa.Breakpoint), word(0xffe0001f, 0xd4200000))
	b.add(a, recognized("yield", isa.Yield), exact(0xd503203f))
	b.add(a, recognized("udf", isa.Undefined), word(0xffff0000, 0x00000000))
	b.add(a, recognized("fadd", isa.FAdd), word(0xff20fc00, 0x1e202800))
	b.add(a, recognized("fsub", isa.FSub), word(0xff20fc00, 0x1e203800))
	b.add(a, recognized("fmul", isa.FMul), word(0xff20fc00, 0x1e200800))
	b.add(a, recognized("fdiv", isa.FDiv), word(0xff20fc00, 0x1e201800))
	b.add(a, recognized("fsqrt", isa.FSqrt), word(0xff3ffc00, 0x1e21c000))
	b.add(a, recognized("fmadd", isa.FMA), word(0xff208000, 0x1f000000))
	b.add(a, recognized("fcmp", isa.FloatCmp), word(0xff20fc07, 0x1e202000))
	b.add(a, recognized("scvtf", isa.IntToFloat), word(0x7f3ffc00, 0x1e220000))
	b.add(a, recognized("fcvtzs", isa.FloatToInt), word(0x7f3ffc00, 0x1e380000))
	b.add(a, recognized("vadd", isa.VecAdd), word(0xbf20fc00, 0x0e208400))
	b.add(a, recognized("vmul", isa.VecMul), word(0xbf20fc00, 0x0e209c00))
	b.add(a, recognized("ld1", isa.VecLoad), word(0xbffff000, 0x0c407000))
	b.add(a, recognized("st1", isa.VecStore), word(0xbffff000, 0x0c007000))
	b.add(a, recognized("dup", isa.VecBroadcast), word(0xbfe0fc00, 0x0e000c00))
}
