package memnorm

import (
	"encoding/binary"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/RunningShrimp/vm-sub001/internal/engine"
	"github.com/RunningShrimp/vm-sub001/internal/isa"
	"github.com/RunningShrimp/vm-sub001/internal/regmap"
)

var _ Scratch = (*regmap.Allocator)(nil)

type scratch struct {
	regs []isa.Reg
	n    int
}

func temps(regs ...isa.Reg) *scratch {
	return &scratch{regs: regs}
}

func (s *scratch) AllocateTemporary() (isa.Reg, error) {
	if s.n >= len(s.regs) {
		return 0, errors.New("out of temporaries")
	}
	r := s.regs[s.n]
	s.n++
	return r, nil
}

func normalizer(t *testing.T, src, dst engine.Arch) *Normalizer {
	t.Helper()
	n, err := NewFor(src, dst)
	if err != nil {
		t.Fatal(err)
	}
	return n
}

func texts(insts []isa.Instruction) []string {
	out := make([]string, len(insts))
	for i, inst := range insts {
		out[i] = inst.String()
	}
	return out
}

func access(t *testing.T, text string, store bool) Access {
	t.Helper()
	inst, err := isa.ParseInstruction(engine.ArchX86_64, "load r0, "+text)
	if err != nil {
		t.Fatal(err)
	}
	return AccessOf(inst.Operands[1].Mem, store)
}

// eval runs the address steps over regs and returns the effective
// address of the planned operand
func eval(t *testing.T, p Plan, regs map[isa.Reg]int64) int64 {
	t.Helper()
	val := func(o isa.Operand) int64 {
		if o.Kind == isa.KindImmediate {
			return o.Imm
		}
		return regs[o.Reg]
	}
	for _, s := range p.Steps {
		rd := s.Operands[0].Reg
		switch s.Op {
		case isa.OpMov:
			regs[rd] = val(s.Operands[1])
		case isa.OpAdd:
			regs[rd] = val(s.Operands[1]) + val(s.Operands[2])
		case isa.OpShl:
			regs[rd] = val(s.Operands[1]) << val(s.Operands[2])
		case isa.OpMul:
			regs[rd] = val(s.Operands[1]) * val(s.Operands[2])
		default:
			t.Fatalf("unexpected step %s", s)
		}
	}
	addr := regs[p.Mem.Base] + p.Mem.Offset
	if p.Mem.HasIndex {
		addr += regs[p.Mem.Index] * int64(p.Mem.Scale)
	}
	return addr
}

func TestNativeFormsUnchanged(t *testing.T) {
	tests := []struct {
		dst  engine.Arch
		text string
	}{
		{engine.ArchX86_64, "qword [r1 + r2*8 + 16]"},
		{engine.ArchX86_64, "byte [r4 - 1]"},
		{engine.ArchARM64, "qword [r1 + 32760]"},
		{engine.ArchARM64, "dword [r31 - 4]"},
		{engine.ArchRiscv64, "qword [r2 - 2048]"},
	}
	for _, tt := range tests {
		a := access(t, tt.text, false)
		p, err := normalizer(t, engine.ArchX86_64, tt.dst).OptimizeAccessPattern(a, nil)
		if err != nil {
			t.Errorf("%s %s: %v", tt.dst, tt.text, err)
			continue
		}
		if !p.Direct() {
			t.Errorf("%s %s: rewritten as %v", tt.dst, tt.text, texts(p.Steps))
		}
		if diff := cmp.Diff(a.memory(), p.Mem); diff != "" {
			t.Errorf("%s %s operand (-want +got):\n%s", tt.dst, tt.text, diff)
		}
	}
}

func TestAddressRewrites(t *testing.T) {
	tests := []struct {
		name  string
		dst   engine.Arch
		text  string
		steps []string
		mem   string
	}{
		{
			"rsp cannot be an index", engine.ArchX86_64, "qword [r1 + r4*8]",
			[]string{"shl r10, r4, 3", "add r10, r10, r1"}, "qword [r10]",
		},
		{
			"x86 scale 3", engine.ArchX86_64, "dword [r1 + r2*3 + 8]",
			[]string{"mul r10, r2, 3", "add r10, r10, r1"}, "dword [r10 + 8]",
		},
		{
			"aarch64 has no index form", engine.ArchARM64, "qword [r1 + r2*8 + 16]",
			[]string{"shl r10, r2, 3", "add r10, r10, r1"}, "qword [r10 + 16]",
		},
		{
			"sp base is copied first", engine.ArchARM64, "dword [r31 + r2*4]",
			[]string{"shl r10, r2, 2", "mov r11, r31", "add r10, r10, r11"}, "dword [r10]",
		},
		{
			"unscaled offset out of range", engine.ArchARM64, "qword [r1 + 1001]",
			[]string{"add r10, r1, 1001"}, "qword [r10]",
		},
		{
			"sp with a large offset", engine.ArchARM64, "qword [r31 + 100000]",
			[]string{"mov r10, r31", "mov r11, 100000", "add r10, r10, r11"}, "qword [r10]",
		},
		{
			"riscv scale 3", engine.ArchRiscv64, "qword [r1 + r2*3]",
			[]string{"mov r11, 3", "mul r10, r2, r11", "add r10, r10, r1"}, "qword [r10]",
		},
		{
			"riscv imm12 overflow", engine.ArchRiscv64, "qword [r3 + 5000]",
			[]string{"mov r10, 5000", "add r10, r10, r3"}, "qword [r10]",
		},
	}
	for _, tt := range tests {
		p, err := normalizer(t, engine.ArchX86_64, tt.dst).OptimizeAccessPattern(access(t, tt.text, false), temps(10, 11, 12))
		if err != nil {
			t.Errorf("%s: %v", tt.name, err)
			continue
		}
		if diff := cmp.Diff(tt.steps, texts(p.Steps)); diff != "" {
			t.Errorf("%s steps (-want +got):\n%s", tt.name, diff)
		}
		if got := p.Mem.String(); got != tt.mem {
			t.Errorf("%s operand = %s, want %s", tt.name, got, tt.mem)
		}
	}
}

// Every rewrite computes the address the original operand names
func TestRewritesPreserveAddress(t *testing.T) {
	forms := []string{
		"qword [r1 + r2*8 + 16]",
		"qword [r1 + r4*8 - 24]",
		"dword [r1 + r2*3 + 8]",
		"word [r1 + r2*6 - 2]",
		"qword [r1 + 1001]",
		"qword [r1 - 70000]",
		"byte [r1 + r2*1 + 5000]",
		"qword [r1 + 4886718345]",
	}
	for _, dst := range engine.All() {
		n := normalizer(t, engine.ArchX86_64, dst)
		for _, text := range forms {
			a := access(t, text, false)
			p, err := n.OptimizeAccessPattern(a, temps(20, 21, 22))
			if err != nil {
				t.Errorf("%s %s: %v", dst, text, err)
				continue
			}
			regs := map[isa.Reg]int64{1: 0x10000, 2: 7, 4: 3}
			want := regs[a.Base] + a.Offset
			if a.HasIndex {
				want += regs[a.Index] * int64(a.Scale)
			}
			if got := eval(t, p, regs); got != want {
				t.Errorf("%s %s: address %#x, want %#x (steps %v)", dst, text, got, want, texts(p.Steps))
			}
		}
	}
}

func TestNormalizationFailures(t *testing.T) {
	n := normalizer(t, engine.ArchX86_64, engine.ArchARM64)
	tests := []struct {
		name    string
		a       Access
		scratch Scratch
		want    error
	}{
		{"zero scale", Access{Base: 1, Index: 2, HasIndex: true, Scale: 0, Width: 8}, temps(10), ErrScale},
		{"width 16", Access{Base: 1, Width: 16}, temps(10), ErrWidth},
		{"width 3", Access{Base: 1, Width: 3}, temps(10), ErrWidth},
		{"misaligned atomic", Access{Base: 1, Offset: 4, Width: 8, Atomic: true}, temps(10), ErrMisaligned},
		{"no scratch", Access{Base: 1, Index: 2, HasIndex: true, Scale: 8, Width: 8}, nil, ErrScratch},
		{"scratch exhausted", Access{Base: 31, Offset: 100000, Width: 8}, temps(10), ErrScratch},
	}
	for _, tt := range tests {
		_, err := n.OptimizeAccessPattern(tt.a, tt.scratch)
		if !errors.Is(err, tt.want) {
			t.Errorf("%s: err = %v, want %v", tt.name, err, tt.want)
		}
		var nerr *Error
		if !errors.As(err, &nerr) || nerr.Arch != engine.ArchARM64 {
			t.Errorf("%s: %v is not a *Error for arm64", tt.name, err)
		}
	}
}

func TestAlignment(t *testing.T) {
	n := normalizer(t, engine.ArchARM64, engine.ArchX86_64)
	tests := []struct {
		a      Access
		issues []AlignmentIssue
		split  bool
	}{
		{Access{Base: 1, Offset: 16, Width: 8}, nil, false},
		{Access{Base: 1, Offset: 4, Width: 8}, []AlignmentIssue{{Offset: 4, Required: 8, Actual: 4}}, false},
		{Access{Base: 1, Offset: 60, Width: 8}, []AlignmentIssue{{Offset: 60, Required: 8, Actual: 4, Severity: SeverityError}}, true},
		{Access{Base: 1, Offset: 56, Width: 8, Pair: true}, nil, true},
		{Access{Base: 1, Offset: 8, Width: 4, Alignment: 16}, []AlignmentIssue{{Offset: 8, Required: 16, Actual: 8}}, false},
		{Access{Base: 1, Offset: -6, Width: 4}, []AlignmentIssue{{Offset: -6, Required: 4, Actual: 2}}, false},
		{Access{Base: 1, Offset: 3, Width: 1}, nil, false},
	}
	for _, tt := range tests {
		p, err := n.OptimizeAccessPattern(tt.a, nil)
		if err != nil {
			t.Errorf("%s: %v", tt.a, err)
			continue
		}
		if diff := cmp.Diff(tt.issues, p.Issues); diff != "" {
			t.Errorf("%s issues (-want +got):\n%s", tt.a, diff)
		}
		if p.CrossesLine != tt.split {
			t.Errorf("%s: crosses line = %v, want %v", tt.a, p.CrossesLine, tt.split)
		}
	}

	strict, _ := TargetFor(engine.ArchRiscv64)
	strict.StrictAlign = true
	src, _ := TargetFor(engine.ArchX86_64)
	_, err := New(src, strict).OptimizeAccessPattern(Access{Base: 1, Offset: 2, Width: 4}, nil)
	if !errors.Is(err, ErrMisaligned) {
		t.Errorf("strict target: err = %v", err)
	}
}

func bigEndian(t *testing.T, arch engine.Arch) Target {
	t.Helper()
	tg, err := TargetFor(arch)
	if err != nil {
		t.Fatal(err)
	}
	tg.Order = BigEndian
	return tg
}

func TestRewriteByteOrder(t *testing.T) {
	dst, _ := TargetFor(engine.ArchX86_64)
	n := New(bigEndian(t, engine.ArchARM64), dst)
	tests := []struct {
		text string
		want []string
	}{
		{"load r0, dword [r1 + 4]", []string{"load r0, dword [r1 + 4]", "bswap r0, r0, 4"}},
		{"load r0, byte [r1]", []string{"load r0, byte [r1]"}},
		{"store qword [r1], r2", []string{"bswap r10, r2, 8", "store qword [r1], r10"}},
		{"ldp r0:r2, [r1 + 16]", []string{"ldp r0:r2, qword [r1 + 16]", "bswap r0, r0, 8", "bswap r2, r2, 8"}},
		{"stp [r1], r2:r3", []string{"bswap r10, r2, 8", "bswap r11, r3, 8", "stp qword [r1], r10:r11"}},
		{"ldp r0:r2, dword [r1 + 4]", []string{"ldp r0:r2, dword [r1 + 4]", "bswap r0, r0, 4", "bswap r2, r2, 4"}},
		{"add r0, r1, r2", []string{"add r0, r1, r2"}},
	}
	for _, tt := range tests {
		inst, err := isa.ParseInstruction(engine.ArchX86_64, tt.text)
		if err != nil {
			t.Fatal(err)
		}
		out, err := n.Rewrite(inst, false, temps(10, 11))
		if err != nil {
			t.Errorf("%s: %v", tt.text, err)
			continue
		}
		if diff := cmp.Diff(tt.want, texts(out)); diff != "" {
			t.Errorf("%s (-want +got):\n%s", tt.text, diff)
		}
	}
}

// Word pairs are aligned and sized by their own width
func TestRewriteWordPair(t *testing.T) {
	n := normalizer(t, engine.ArchX86_64, engine.ArchARM64)
	inst, err := isa.ParseInstruction(engine.ArchX86_64, "ldp r0:r1, dword [r2 + 4]")
	if err != nil {
		t.Fatal(err)
	}
	out, err := n.Rewrite(inst, true, nil)
	if err != nil {
		t.Fatalf("atomic word pair at offset 4: %v", err)
	}
	if diff := cmp.Diff([]string{"ldp r0:r1, dword [r2 + 4]"}, texts(out)); diff != "" {
		t.Errorf("(-want +got):\n%s", diff)
	}

	p, err := n.OptimizeAccessPattern(Access{Base: 2, Offset: 60, Width: 4, Pair: true}, nil)
	if err != nil || !p.CrossesLine || len(p.Issues) != 0 {
		t.Errorf("word pair at 60: %+v, %v", p, err)
	}
	if _, err := n.OptimizeAccessPattern(Access{Base: 2, Offset: 256, Width: 4, Pair: true}, temps(9)); err != nil {
		t.Errorf("word pair past the ldp range: %v", err)
	}
}

func TestRewriteFoldsAndKeepsRegisters(t *testing.T) {
	n := normalizer(t, engine.ArchX86_64, engine.ArchRiscv64)
	inst, err := isa.ParseInstruction(engine.ArchRiscv64, "store dword [r10 + r11*4 + 8], r12")
	if err != nil {
		t.Fatal(err)
	}
	out, err := n.Rewrite(inst, false, temps(29))
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"shl r29, r11, 2", "add r29, r29, r10", "store dword [r29 + 8], r12"}
	if diff := cmp.Diff(want, texts(out)); diff != "" {
		t.Errorf("(-want +got):\n%s", diff)
	}
	if !inst.Operands[0].Mem.HasIndex {
		t.Error("Rewrite modified its input")
	}
}

func TestEndiannessConverter(t *testing.T) {
	b := binary.BigEndian.AppendUint32(nil, 0x11223344)
	b = binary.BigEndian.AppendUint32(b, 0x55667788)
	c := EndiannessConverter{From: BigEndian, To: LittleEndian, Width: 4}
	if err := c.Convert(b); err != nil {
		t.Fatal(err)
	}
	if got := binary.LittleEndian.Uint32(b); got != 0x11223344 {
		t.Errorf("first element = %#x", got)
	}
	if got := binary.LittleEndian.Uint32(b[4:]); got != 0x55667788 {
		t.Errorf("second element = %#x", got)
	}

	if err := c.Convert(make([]byte, 6)); err == nil {
		t.Error("6 bytes of 4-byte elements should fail")
	}
	same := []byte{1, 2, 3}
	if err := Convert(same, LittleEndian, LittleEndian); err != nil || same[0] != 1 {
		t.Errorf("same order must be a no-op, got %v %v", same, err)
	}
	if err := Convert(same, LittleEndian, BigEndian); err != nil || same[0] != 3 {
		t.Errorf("whole-slice reverse, got %v %v", same, err)
	}

	for _, tt := range []struct {
		v     uint64
		width int
		want  uint64
	}{
		{0x1122, 2, 0x2211},
		{0x11223344, 4, 0x44332211},
		{0x0102030405060708, 8, 0x0807060504030201},
		{0x1ff, 1, 0xff},
	} {
		got, err := c.Value(tt.v, tt.width)
		if err != nil || got != tt.want {
			t.Errorf("Value(%#x, %d) = %#x, %v; want %#x", tt.v, tt.width, got, err, tt.want)
		}
	}
	if _, err := c.Value(1, 3); err == nil {
		t.Error("3-byte value should fail")
	}
}

func TestHostOrder(t *testing.T) {
	want := LittleEndian
	if binary.NativeEndian.Uint16([]byte{0, 1}) == 1 {
		want = BigEndian
	}
	if got := HostOrder(); got != want {
		t.Errorf("HostOrder() = %s, want %s", got, want)
	}
	if HostOrder().ByteOrder().Uint16([]byte{1, 0}) != binary.NativeEndian.Uint16([]byte{1, 0}) {
		t.Error("ByteOrder disagrees with the native order")
	}
}

func TestTargetFor(t *testing.T) {
	for _, a := range engine.All() {
		tg, err := TargetFor(a)
		if err != nil {
			t.Fatal(err)
		}
		if tg.Arch != a || len(tg.Widths) == 0 {
			t.Errorf("%s: %+v", a, tg)
		}
	}
	if _, err := TargetFor(engine.ArchUnknown); err == nil {
		t.Error("unknown architecture should have no target")
	}
	// Callers may adjust their copy without affecting the table
	tg, _ := TargetFor(engine.ArchX86_64)
	tg.Scales[0] = 3
	again, _ := TargetFor(engine.ArchX86_64)
	if again.Scales[0] != 1 {
		t.Error("TargetFor shares its slices")
	}
}
