package encoding

import (
	"encoding/binary"
	"errors"
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/RunningShrimp/vm-sub001/internal/engine"
	"github.com/RunningShrimp/vm-sub001/internal/isa"
)

func mustParse(t *testing.T, arch engine.Arch, text string) isa.Instruction {
	t.Helper()
	inst, err := isa.ParseInstruction(arch, text)
	if err != nil {
		t.Fatalf("ParseInstruction(%q): %v", text, err)
	}
	return inst
}

func words(ws ...uint32) []byte {
	var b []byte
	for _, w := range ws {
		b = binary.LittleEndian.AppendUint32(b, w)
	}
	return b
}

func TestEncodeX86(t *testing.T) {
	tests := []struct {
		text string
		want []byte
	}{
		{"add r0, r0, r1", []byte{0x48, 0x01, 0xC8}},
		{"add r0, r1, r2", []byte{0x48, 0x89, 0xC8, 0x48, 0x01, 0xD0}},
		{"add r0, r1, r0", []byte{0x48, 0x01, 0xC8}},
		{"sub r0, r1, r0", []byte{0x48, 0xF7, 0xD8, 0x48, 0x01, 0xC8}},
		{"add r0, r0, 1", []byte{0x48, 0x83, 0xC0, 0x01}},
		{"and r0, r0, 4096", []byte{0x48, 0x81, 0xE0, 0x00, 0x10, 0x00, 0x00}},
		{"mul r0, r0, r1", []byte{0x48, 0x0F, 0xAF, 0xC1}},
		{"shl r0, r1, 3", []byte{0x48, 0x89, 0xC8, 0x48, 0xC1, 0xE0, 0x03}},
		{"mov r0, 1", []byte{0x48, 0xC7, 0xC0, 0x01, 0x00, 0x00, 0x00}},
		{"mov r0, 4886718345", []byte{0x48, 0xB8, 0x89, 0x67, 0x45, 0x23, 0x01, 0x00, 0x00, 0x00}},
		{"mov r8, r1", []byte{0x49, 0x89, 0xC8}},
		{"load r0, qword [r1 + 8]", []byte{0x48, 0x8B, 0x41, 0x08}},
		{"load r0, qword [r4]", []byte{0x48, 0x8B, 0x04, 0x24}},
		{"load r0, qword [r5]", []byte{0x48, 0x8B, 0x45, 0x00}},
		{"load r0, qword [r1 + r2*8 + 16]", []byte{0x48, 0x8B, 0x44, 0xD1, 0x10}},
		{"load r8, qword [r9]", []byte{0x4D, 0x8B, 0x01}},
		{"load r0, dword [r1]", []byte{0x8B, 0x01}},
		{"load r0, byte [r1]", []byte{0x48, 0x0F, 0xB6, 0x01}},
		{"store qword [r1 + 8], r0", []byte{0x48, 0x89, 0x41, 0x08}},
		{"store byte [r1], r6", []byte{0x40, 0x88, 0x31}},
		{"ret", []byte{0xC3}},
		{"syscall", []byte{0x0F, 0x05}},
		{"bswap r0, r0, 8", []byte{0x48, 0x0F, 0xC8}},
		{"jmp r1", []byte{0xFF, 0xE1}},
		{"ldp r0:r1, dword [r3 + 8]", []byte{0x8B, 0x43, 0x08, 0x8B, 0x4B, 0x0C}},
	}
	for _, tt := range tests {
		enc, err := Encode(mustParse(t, engine.ArchX86_64, tt.text))
		if err != nil {
			t.Errorf("%s: %v", tt.text, err)
			continue
		}
		if diff := cmp.Diff(tt.want, enc.Bytes); diff != "" {
			t.Errorf("%s bytes (-want +got):\n%s", tt.text, diff)
		}
	}
}

func TestEncodeARM64(t *testing.T) {
	tests := []struct {
		text string
		want []byte
	}{
		{"add r0, r1, r2", words(0x8b020020)},
		{"add r0, r1, 16", words(0x91004020)},
		{"sub r0, r1, -16", words(0x91004020)},
		{"sub r0, r1, 16", words(0xd1004020)},
		{"mov r0, r1", words(0xaa0103e0)},
		{"mov r29, r31", words(0x910003fd)},
		{"mov r0, 65536", words(0xd2800000, 0xf2a00020)},
		{"mov r0, -1", words(0x92800000)},
		{"load r0, qword [r1 + 8]", words(0xf9400420)},
		{"load r0, qword [r1 - 8]", words(0xf85f8020)},
		{"store dword [r1 + 4], r2", words(0xb9000422)},
		{"ldp r0:r1, [r31 + 16]", words(0xa94107e0)},
		{"ldp r0:r1, dword [r31 + 16]", words(0x294207e0)},
		{"shr r0, r1, 4", words(0xd344fc20)},
		{"shl r0, r1, 4", words(0xd37cec20)},
		{"ret", words(0xd65f03c0)},
		{"bswap r0, r1, 8", words(0xdac00c20)},
	}
	for _, tt := range tests {
		enc, err := Encode(mustParse(t, engine.ArchARM64, tt.text))
		if err != nil {
			t.Errorf("%s: %v", tt.text, err)
			continue
		}
		if diff := cmp.Diff(tt.want, enc.Bytes); diff != "" {
			t.Errorf("%s bytes (-want +got):\n%s", tt.text, diff)
		}
	}
}

func TestEncodeRISCV(t *testing.T) {
	tests := []struct {
		text string
		want []byte
	}{
		{"add r10, r11, r12", words(0x00c58533)},
		{"add r10, r11, 5", words(0x00558513)},
		{"sub r10, r11, r12", words(0x40c58533)},
		{"mul r10, r11, r12", words(0x02c58533)},
		{"mov r10, 305419896", words(0x12345537, 0x6785051b)},
		{"load r10, qword [r2 + 16]", words(0x01013503)},
		{"store qword [r2 + 8], r10", words(0x00a13423)},
		{"ret", words(0x00008067)},
		{"nop", words(0x00000013)},
		{"bswap r10, r11, 4", words(0x6b85d513, 0x02055513)},
	}
	for _, tt := range tests {
		enc, err := Encode(mustParse(t, engine.ArchRiscv64, tt.text))
		if err != nil {
			t.Errorf("%s: %v", tt.text, err)
			continue
		}
		if diff := cmp.Diff(tt.want, enc.Bytes); diff != "" {
			t.Errorf("%s bytes (-want +got):\n%s", tt.text, diff)
		}
	}
}

func TestLabelFixups(t *testing.T) {
	tests := []struct {
		arch engine.Arch
		text string
		want Fixup
		size int
	}{
		{engine.ArchX86_64, "jmp loop", Fixup{Offset: 1, Label: "loop", Kind: FixupRel32}, 5},
		{engine.ArchX86_64, "call fn", Fixup{Offset: 1, Label: "fn", Kind: FixupRel32}, 5},
		{engine.ArchARM64, "call fn", Fixup{Offset: 0, Label: "fn", Kind: FixupBranch26}, 4},
		{engine.ArchRiscv64, "jmp loop", Fixup{Offset: 0, Label: "loop", Kind: FixupJAL}, 4},
	}
	for _, tt := range tests {
		enc, err := Encode(mustParse(t, tt.arch, tt.text))
		if err != nil {
			t.Fatalf("%s/%s: %v", tt.arch, tt.text, err)
		}
		if diff := cmp.Diff([]Fixup{tt.want}, enc.Fixups); diff != "" {
			t.Errorf("%s/%s fixups (-want +got):\n%s", tt.arch, tt.text, diff)
		}
		if enc.Len() != tt.size {
			t.Errorf("%s/%s size = %d, want %d", tt.arch, tt.text, enc.Len(), tt.size)
		}
	}
}

func TestEncodeErrors(t *testing.T) {
	tests := []struct {
		arch engine.Arch
		text string
		want error
	}{
		{engine.ArchX86_64, "add r0, r1, 9999999999", ErrRange},
		{engine.ArchX86_64, "add r16, r1, r2", ErrRange},
		{engine.ArchX86_64, "load r0, qword [r1 + r4*8]", ErrUnsupportedForm},
		{engine.ArchX86_64, "load r0, qword [r1 + r2*3]", ErrUnsupportedForm},
		{engine.ArchARM64, "and r0, r1, 5", ErrRange},
		{engine.ArchARM64, "add r0, r31, r1", ErrUnsupportedForm},
		{engine.ArchARM64, "load r0, qword [r1 + r2*8]", ErrUnsupportedForm},
		{engine.ArchARM64, "load r0, qword [r1 + 100000]", ErrRange},
		{engine.ArchRiscv64, "add r1, r2, 4096", ErrRange},
		{engine.ArchRiscv64, "mul r1, r2, 3", ErrRange},
		{engine.ArchRiscv64, "ret r1", ErrUnsupportedForm},
		{engine.ArchRiscv64, "bswap r1, r2, 3", ErrRange},
	}
	for _, tt := range tests {
		_, err := Encode(mustParse(t, tt.arch, tt.text))
		if !errors.Is(err, tt.want) {
			t.Errorf("%s/%s: err = %v, want %v", tt.arch, tt.text, err, tt.want)
		}
		var encErr *Error
		if err != nil && !errors.As(err, &encErr) {
			t.Errorf("%s/%s: error is not an *Error", tt.arch, tt.text)
		}
	}
	if _, err := Encode(isa.New(engine.ArchUnknown, isa.OpNop)); err == nil {
		t.Error("unknown architecture must fail")
	}
}

func TestFitsImmediate(t *testing.T) {
	tests := []struct {
		arch engine.Arch
		op   isa.Opcode
		imm  int64
		want bool
	}{
		{engine.ArchX86_64, isa.OpAdd, math.MaxInt32, true},
		{engine.ArchX86_64, isa.OpAdd, math.MaxInt32 + 1, false},
		{engine.ArchX86_64, isa.OpMov, math.MaxInt64, true},
		{engine.ArchARM64, isa.OpAdd, 4095, true},
		{engine.ArchARM64, isa.OpSub, -4095, true},
		{engine.ArchARM64, isa.OpAdd, 4097, false},
		{engine.ArchARM64, isa.OpAdd, 4096 * 3, true},
		{engine.ArchARM64, isa.OpXor, 1, false},
		{engine.ArchRiscv64, isa.OpAdd, -2048, true},
		{engine.ArchRiscv64, isa.OpSub, -2048, false},
		{engine.ArchRiscv64, isa.OpSub, 2048, true},
		{engine.ArchRiscv64, isa.OpShl, 64, false},
		{engine.ArchRiscv64, isa.OpMul, 2, false},
	}
	for _, tt := range tests {
		if got := FitsImmediate(tt.arch, tt.op, tt.imm); got != tt.want {
			t.Errorf("FitsImmediate(%s, %s, %d) = %v, want %v", tt.arch, tt.op, tt.imm, got, tt.want)
		}
		// Whatever FitsImmediate accepts must encode
		if tt.want && tt.op != isa.OpMov {
			inst := isa.New(tt.arch, tt.op, isa.R(1), isa.R(2), isa.Imm(tt.imm))
			if _, err := Encode(inst); err != nil {
				t.Errorf("%s accepted by FitsImmediate but: %v", inst, err)
			}
		}
	}
}

// rvEval interprets the subset of RV64I rvLoadImm emits
func rvEval(t *testing.T, code []byte) int64 {
	t.Helper()
	var regs [32]int64
	for i := 0; i < len(code); i += 4 {
		w := binary.LittleEndian.Uint32(code[i:])
		rd := w >> 7 & 31
		rs1 := w >> 15 & 31
		immI := int64(int32(w) >> 20)
		switch {
		case w&0x7f == rvOpLUI:
			regs[rd] = int64(int32(w & 0xfffff000))
		case w&0x707f == rvOpImm: // ADDI
			regs[rd] = regs[rs1] + immI
		case w&0x707f == rvOpImm32: // ADDIW
			regs[rd] = int64(int32(regs[rs1] + immI))
		case w&0xfc00707f == 0x1013: // SLLI
			regs[rd] = regs[rs1] << (w >> 20 & 63)
		default:
			t.Fatalf("unexpected instruction %08x", w)
		}
		regs[0] = 0
	}
	return regs[10]
}

func TestRISCVLoadImmediate(t *testing.T) {
	values := []int64{
		0, 1, -1, 2047, -2048, 2048, -2049, 0x7ff, 0x800, 0x12345678,
		0x7fffffff, -0x80000000, 0x7ffff800, 0x80000000, 0xffffffff,
		0x123456789abcdef0, -0x123456789abcdef0, math.MaxInt64, math.MinInt64,
		0x100000000, 0xdeadbeef00, 1 << 62,
	}
	for _, v := range values {
		var e emitter
		rvLoadImm(&e, 10, v)
		if got := rvEval(t, e.buf); got != v {
			t.Errorf("li %#x produced %#x (%d instructions)", v, got, len(e.buf)/4)
		}
	}
}

func TestCacheHitsAfterFirstEncode(t *testing.T) {
	c := NewCache(16)
	inst := isa.New(engine.ArchARM64, isa.OpAdd, isa.R(0), isa.R(1), isa.R(2))

	first, hit, err := c.EncodeOrLookup(inst)
	if err != nil || hit {
		t.Fatalf("first call: hit=%v err=%v", hit, err)
	}
	second, hit, err := c.EncodeOrLookup(isa.New(engine.ArchARM64, isa.OpAdd, isa.R(0), isa.R(1), isa.R(2)))
	if err != nil || !hit {
		t.Fatalf("second call: hit=%v err=%v", hit, err)
	}
	if diff := cmp.Diff(first.Bytes, second.Bytes); diff != "" {
		t.Errorf("cached bytes differ (-first +second):\n%s", diff)
	}
	s := c.Stats()
	if s.Hits != 1 || s.Misses != 1 || c.Encodings() != 1 {
		t.Errorf("stats = %+v, encodings = %d", s.Stats, c.Encodings())
	}
	if s.ByArch[engine.ArchARM64].Entries != 1 || s.ByArch[engine.ArchARM64].Hits != 1 {
		t.Errorf("aarch64 stats = %+v", s.ByArch[engine.ArchARM64])
	}
}

func TestCacheKeyUsesFullOperandList(t *testing.T) {
	c := NewCache(16)
	a := isa.New(engine.ArchRiscv64, isa.OpAdd, isa.R(10), isa.R(11), isa.R(12))
	b := isa.New(engine.ArchRiscv64, isa.OpAdd, isa.R(10), isa.R(11), isa.R(13))
	ea, _, _ := c.EncodeOrLookup(a)
	eb, hit, _ := c.EncodeOrLookup(b)
	if hit {
		t.Error("different operands must not hit")
	}
	if cmp.Equal(ea.Bytes, eb.Bytes) {
		t.Error("different operands produced identical bytes")
	}
}

func TestCacheErrorsAreNotStored(t *testing.T) {
	c := NewCache(4)
	bad := isa.New(engine.ArchRiscv64, isa.OpMul, isa.R(1), isa.R(2), isa.Imm(3))
	for range 2 {
		if _, _, err := c.EncodeOrLookup(bad); err == nil {
			t.Fatal("expected an encoding error")
		}
	}
	if s := c.Stats(); s.Entries != 0 || s.Misses != 2 {
		t.Errorf("stats = %+v", s.Stats)
	}
}

func TestCacheInvalidateAndClear(t *testing.T) {
	c := NewCache(16)
	x := isa.New(engine.ArchX86_64, isa.OpRet)
	a := isa.New(engine.ArchARM64, isa.OpRet)
	c.EncodeOrLookup(x)
	c.EncodeOrLookup(x)
	c.EncodeOrLookup(a)
	c.EncodeOrLookup(a)

	if n := c.InvalidateArch(engine.ArchX86_64); n != 1 {
		t.Errorf("InvalidateArch removed %d, want 1", n)
	}
	s := c.Stats()
	want := map[engine.Arch]int{engine.ArchX86_64: 0, engine.ArchARM64: 1, engine.ArchRiscv64: 0}
	for arch, n := range want {
		if s.ByArch[arch].Entries != n {
			t.Errorf("%s entries = %d, want %d", arch, s.ByArch[arch].Entries, n)
		}
	}
	if s.ByArch[engine.ArchARM64].Hits != 1 || s.ByArch[engine.ArchX86_64].Hits != 0 {
		t.Errorf("per-arch hits after invalidation: %+v", s.ByArch)
	}

	c.Clear()
	s = c.Stats()
	if s.Entries != 0 || s.Hits != 0 || s.Misses != 0 || c.Encodings() != 0 {
		t.Errorf("stats after Clear = %+v", s.Stats)
	}
}
