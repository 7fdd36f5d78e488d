package isa

// Category is the coarse classification of an instruction
type Category uint8

const (
	CategoryOther Category = iota
	CategoryArithmetic
	CategoryLogical
	CategoryMemory
	CategoryBranch
	CategoryVector
	CategoryConvert
	CategoryCompare
	CategorySystem
	CategoryFloatingPoint
	CategoryMove
)

func (c Category) String() string {
	switch c {
	case CategoryArithmetic:
		return "arithmetic"
	case CategoryLogical:
		return "logical"
	case CategoryMemory:
		return "memory"
	case CategoryBranch:
		return "branch"
	case CategoryVector:
		return "vector"
	case CategoryConvert:
		return "convert"
	case CategoryCompare:
		return "compare"
	case CategorySystem:
		return "system"
	case CategoryFloatingPoint:
		return "floating-point"
	case CategoryMove:
		return "move"
	default:
		return "other"
	}
}

// DefaultCost is the relative cost used when a pattern does not set one
func (c Category) DefaultCost() int {
	switch c {
	case CategoryMemory:
		return 3
	case CategoryBranch, CategoryVector, CategoryConvert:
		return 2
	case CategoryFloatingPoint:
		return 4
	case CategorySystem:
		return 10
	default:
		return 1
	}
}

// Subtype is the concrete operation within a category
type Subtype uint8

const (
	Unknown Subtype = iota
	Undefined

	// Arithmetic
	Add
	Sub
	Mul
	MulHigh
	Div
	Mod
	Neg
	Abs
	Min
	Max
	Sqrt
	Pow

	// Logical
	And
	Or
	Xor
	Not
	Shl
	Shr
	Sar
	Rol
	Ror
	BitTest
	BitField

	// Memory
	Load
	Store
	LoadAcquire
	StoreRelease
	LoadReserved
	StoreConditional
	Swap
	CAS
	FetchAndOp
	Prefetch
	CacheOp
	LoadPair
	StorePair

	// Branch
	Unconditional
	Conditional
	Indirect
	Call
	Return
	JumpTable
	TailCall
	Exception
	Interrupt

	// Vector
	VecAdd
	VecSub
	VecMul
	VecDiv
	VecLoad
	VecStore
	VecShuffle
	VecBroadcast
	VecReduce
	VecCompare
	VecBlend
	VecGather

	// Convert
	IntToFloat
	FloatToInt
	FloatToFloat
	SignExtend
	ZeroExtend
	Truncate
	ByteSwap
	BitCast

	// Compare
	Cmp
	TestFlags
	CmpSet
	CmpMove
	CmpBranch
	FloatCmp

	// System
	Syscall
	Halt
	Nop
	Barrier
	CacheFlush
	TLBFlush
	ReadSysReg
	WriteSysReg
	Breakpoint
	Yield

	// Floating point
	FAdd
	FSub
	FMul
	FDiv
	FSqrt
	FAbs
	FNeg
	FMA
	FMin
	FMax

	// Move
	MoveReg
	MoveImm
	MoveWide
	CondMove
	Exchange
	LoadAddress

	numSubtypes
)

type subtypeInfo struct {
	name     string
	category Category
}

var subtypes = [numSubtypes]subtypeInfo{
	Unknown:   {"unknown", CategoryOther},
	Undefined: {"undefined", CategoryOther},

	Add:     {"add", CategoryArithmetic},
	Sub:     {"sub", CategoryArithmetic},
	Mul:     {"mul", CategoryArithmetic},
	MulHigh: {"mulh", CategoryArithmetic},
	Div:     {"div", CategoryArithmetic},
	Mod:     {"mod", CategoryArithmetic},
	Neg:     {"neg", CategoryArithmetic},
	Abs:     {"abs", CategoryArithmetic},
	Min:     {"min", CategoryArithmetic},
	Max:     {"max", CategoryArithmetic},
	Sqrt:    {"sqrt", CategoryArithmetic},
	Pow:     {"pow", CategoryArithmetic},

	And:      {"and", CategoryLogical},
	Or:       {"or", CategoryLogical},
	Xor:      {"xor", CategoryLogical},
	Not:      {"not", CategoryLogical},
	Shl:      {"shl", CategoryLogical},
	Shr:      {"shr", CategoryLogical},
	Sar:      {"sar", CategoryLogical},
	Rol:      {"rol", CategoryLogical},
	Ror:      {"ror", CategoryLogical},
	BitTest:  {"bittest", CategoryLogical},
	BitField: {"bitfield", CategoryLogical},

	Load:             {"load", CategoryMemory},
	Store:            {"store", CategoryMemory},
	LoadAcquire:      {"load-acquire", CategoryMemory},
	StoreRelease:     {"store-release", CategoryMemory},
	LoadReserved:     {"load-reserved", CategoryMemory},
	StoreConditional: {"store-conditional", CategoryMemory},
	Swap:             {"swap", CategoryMemory},
	CAS:              {"cas", CategoryMemory},
	FetchAndOp:       {"fetch-op", CategoryMemory},
	Prefetch:         {"prefetch", CategoryMemory},
	CacheOp:          {"cache-op", CategoryMemory},
	LoadPair:         {"load-pair", CategoryMemory},
	StorePair:        {"store-pair", CategoryMemory},

	Unconditional: {"jump", CategoryBranch},
	Conditional:   {"branch-cond", CategoryBranch},
	Indirect:      {"jump-indirect", CategoryBranch},
	Call:          {"call", CategoryBranch},
	Return:        {"return", CategoryBranch},
	JumpTable:     {"jump-table", CategoryBranch},
	TailCall:      {"tail-call", CategoryBranch},
	Exception:     {"exception", CategoryBranch},
	Interrupt:     {"interrupt", CategoryBranch},

	VecAdd:       {"vadd", CategoryVector},
	VecSub:       {"vsub", CategoryVector},
	VecMul:       {"vmul", CategoryVector},
	VecDiv:       {"vdiv", CategoryVector},
	VecLoad:      {"vload", CategoryVector},
	VecStore:     {"vstore", CategoryVector},
	VecShuffle:   {"vshuffle", CategoryVector},
	VecBroadcast: {"vbroadcast", CategoryVector},
	VecReduce:    {"vreduce", CategoryVector},
	VecCompare:   {"vcmp", CategoryVector},
	VecBlend:     {"vblend", CategoryVector},
	VecGather:    {"vgather", CategoryVector},

	IntToFloat:   {"int-to-float", CategoryConvert},
	FloatToInt:   {"float-to-int", CategoryConvert},
	FloatToFloat: {"float-to-float", CategoryConvert},
	SignExtend:   {"sign-extend", CategoryConvert},
	ZeroExtend:   {"zero-extend", CategoryConvert},
	Truncate:     {"truncate", CategoryConvert},
	ByteSwap:     {"byte-swap", CategoryConvert},
	BitCast:      {"bitcast", CategoryConvert},

	Cmp:       {"cmp", CategoryCompare},
	TestFlags: {"test", CategoryCompare},
	CmpSet:    {"cmp-set", CategoryCompare},
	CmpMove:   {"cmp-move", CategoryCompare},
	CmpBranch: {"cmp-branch", CategoryCompare},
	FloatCmp:  {"fcmp", CategoryCompare},

	Syscall:     {"syscall", CategorySystem},
	Halt:        {"halt", CategorySystem},
	Nop:         {"nop", CategorySystem},
	Barrier:     {"barrier", CategorySystem},
	CacheFlush:  {"cache-flush", CategorySystem},
	TLBFlush:    {"tlb-flush", CategorySystem},
	ReadSysReg:  {"read-sysreg", CategorySystem},
	WriteSysReg: {"write-sysreg", CategorySystem},
	Breakpoint:  {"breakpoint", CategorySystem},
	Yield:       {"yield", CategorySystem},

	FAdd:  {"fadd", CategoryFloatingPoint},
	FSub:  {"fsub", CategoryFloatingPoint},
	FMul:  {"fmul", CategoryFloatingPoint},
	FDiv:  {"fdiv", CategoryFloatingPoint},
	FSqrt: {"fsqrt", CategoryFloatingPoint},
	FAbs:  {"fabs", CategoryFloatingPoint},
	FNeg:  {"fneg", CategoryFloatingPoint},
	FMA:   {"fma", CategoryFloatingPoint},
	FMin:  {"fmin", CategoryFloatingPoint},
	FMax:  {"fmax", CategoryFloatingPoint},

	MoveReg:     {"mov", CategoryMove},
	MoveImm:     {"mov-imm", CategoryMove},
	MoveWide:    {"mov-wide", CategoryMove},
	CondMove:    {"cmov", CategoryMove},
	Exchange:    {"xchg", CategoryMove},
	LoadAddress: {"lea", CategoryMove},
}

func (s Subtype) String() string {
	if s < numSubtypes {
		return subtypes[s].name
	}
	return "invalid"
}

// Category returns the category the subtype belongs to
func (s Subtype) Category() Category {
	if s < numSubtypes {
		return subtypes[s].category
	}
	return CategoryOther
}

// DefaultCost refines the category cost for the slow operations
func (s Subtype) DefaultCost() int {
	switch s {
	case Mul, MulHigh, VecMul, FMul:
		return 3
	case Div, Mod, VecDiv, FDiv:
		return 20
	case Sqrt, FSqrt, Pow:
		return 15
	case CAS, FetchAndOp, Swap:
		return 8
	}
	return s.Category().DefaultCost()
}

// DefaultFlags returns the flags a pattern of this subtype carries unless
// it overrides them
func (s Subtype) DefaultFlags() Flags {
	switch s {
	case Cmp, TestFlags, FloatCmp, BitTest:
		return SetsFlags
	case Conditional, CondMove, CmpSet:
		return ReadsFlags | IsConditional
	case CmpBranch:
		return IsConditional | IsTerminal
	case Unconditional, Indirect, Return, JumpTable, TailCall, Call:
		return IsTerminal
	case Exception, Interrupt:
		return IsTerminal | IsVolatile
	case Syscall:
		return IsTerminal | IsVolatile
	case Halt:
		return IsTerminal | IsPrivileged
	case Barrier:
		return IsVolatile
	case CacheFlush, TLBFlush, ReadSysReg, WriteSysReg:
		return IsPrivileged | IsVolatile
	case LoadAcquire, StoreRelease, LoadReserved, StoreConditional, Swap, CAS, FetchAndOp:
		return IsAtomic
	}
	return 0
}
