package pattern

import (
	"encoding/binary"
	"errors"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/RunningShrimp/vm-sub001/internal/encoding"
	"github.com/RunningShrimp/vm-sub001/internal/engine"
	"github.com/RunningShrimp/vm-sub001/internal/isa"
)

func words(ws ...uint32) []byte {
	var b []byte
	for _, w := range ws {
		b = binary.LittleEndian.AppendUint32(b, w)
	}
	return b
}

func encode(t *testing.T, arch engine.Arch, text string) []byte {
	t.Helper()
	inst, err := isa.ParseInstruction(arch, text)
	if err != nil {
		t.Fatalf("ParseInstruction(%q): %v", text, err)
	}
	enc, err := encoding.Encode(inst)
	if err != nil {
		t.Fatalf("Encode(%q): %v", text, err)
	}
	return enc.Bytes
}

// Whatever the encoders emit must classify back to the opcode it came from
func TestCatalogClassifiesEncoderOutput(t *testing.T) {
	tests := map[engine.Arch][]string{
		engine.ArchX86_64: {
			"add r0, r1, r2",
			"add r0, r0, 5",
			"sub r0, r1, r0",
			"sub r3, r3, 1000",
			"xor r0, r0, r1",
			"mul r0, r1, r2",
			"mul r0, r1, 10",
			"shl r0, r1, r2",
			"shr r0, r0, 3",
			"mov r0, r1",
			"mov r0, 42",
			"mov r0, 4886718345",
			"load r0, qword [r1 + 8]",
			"load r0, byte [r1]",
			"store qword [r1 + 8], r0",
			"store byte [r1], r6",
			"ldp r0:r2, [r1 + 16]",
			"jmp loop",
			"call r1",
			"ret",
			"syscall",
			"fence",
			"halt",
			"nop",
			"bswap r0, r1, 8",
			"bswap r0, r0, 2",
		},
		engine.ArchARM64: {
			"add r0, r1, r2",
			"add r0, r1, 16",
			"sub r0, r1, 16",
			"mul r0, r1, r2",
			"shl r0, r1, 4",
			"shr r0, r1, 4",
			"mov r0, r1",
			"mov r29, r31",
			"mov r0, 65536",
			"load r0, qword [r1 + 8]",
			"store dword [r1 + 4], r2",
			"ldp r0:r1, [r31 + 16]",
			"jmp loop",
			"call r1",
			"ret",
			"syscall",
			"fence",
			"halt",
			"nop",
			"bswap r0, r1, 8",
		},
		engine.ArchRiscv64: {
			"add r10, r11, r12",
			"add r10, r11, 5",
			"sub r10, r11, r12",
			"mul r10, r11, r12",
			"and r10, r11, 3",
			"shl r10, r11, 3",
			"mov r10, r11",
			"mov r10, 100000",
			"load r10, qword [r2 + 16]",
			"store qword [r2 + 8], r10",
			"ldp r10:r11, [r2]",
			"jmp loop",
			"jmp r5",
			"call loop",
			"call r5",
			"ret",
			"syscall",
			"fence",
			"halt",
			"nop",
			"bswap r10, r11, 4",
		},
	}
	c := Default()
	for arch, lines := range tests {
		for _, text := range lines {
			inst, err := isa.ParseInstruction(arch, text)
			if err != nil {
				t.Fatalf("ParseInstruction(%q): %v", text, err)
			}
			b := encode(t, arch, text)
			p, ok := c.Match(arch, b)
			if !ok {
				t.Errorf("%s/%s: % x not in catalog", arch, text, b)
				continue
			}
			if p.Op != inst.Op {
				t.Errorf("%s/%s: classified as %s, want %s", arch, text, p.Op, inst.Op)
			}
			if !p.CompatibleWith(arch) {
				t.Errorf("%s/%s: pattern %s does not list %s", arch, text, p.Name, arch)
			}
		}
	}
}

func TestEveryOpcodeHasAPattern(t *testing.T) {
	c := Default()
	for op := isa.OpNop; op <= isa.OpBswap; op++ {
		p, ok := c.ForOpcode(op)
		if !ok {
			t.Errorf("no pattern for %s", op)
			continue
		}
		if p.Op != op {
			t.Errorf("ForOpcode(%s) = %s", op, p.Op)
		}
		for _, a := range engine.All() {
			if !p.CompatibleWith(a) {
				t.Errorf("%s has no %s entry", op, a)
			}
		}
	}
}

func TestEntriesMostSpecificFirst(t *testing.T) {
	c := Default()
	for _, a := range engine.All() {
		es := c.Entries(a)
		if len(es) == 0 || len(es) != c.Len(a) {
			t.Fatalf("%s: %d entries, Len %d", a, len(es), c.Len(a))
		}
		for i := 1; i < len(es); i++ {
			prev, cur := es[i-1].Matcher, es[i].Matcher
			if cur.Len() > prev.Len() ||
				(cur.Len() == prev.Len() && cur.FixedBits() > prev.FixedBits()) {
				t.Errorf("%s: entry %d (%s) sorts after less specific %s", a, i, cur, prev)
			}
		}
	}
}

// ORR Xd, XZR, Xm is both an OR and a MOV; the MOV form fixes more bits
func TestSpecificFormWins(t *testing.T) {
	p, ok := Default().Match(engine.ArchARM64, words(0xaa0103e0))
	if !ok || p.Op != isa.OpMov {
		t.Fatalf("ORR with XZR classified as %v", p)
	}
	p, ok = Default().Match(engine.ArchARM64, words(0xaa020020))
	if !ok || p.Op != isa.OpOr {
		t.Fatalf("ORR classified as %v", p)
	}
}

func TestRecognizedWithoutOpcode(t *testing.T) {
	tests := []struct {
		arch engine.Arch
		b    []byte
		name string
	}{
		{engine.ArchX86_64, []byte{0x48, 0x8d, 0x04, 0x24}, "lea"},
		{engine.ArchX86_64, []byte{0xcc}, "int3"},
		{engine.ArchARM64, words(0x9ac20820), "udiv"},
		{engine.ArchRiscv64, words(0x02c5c533), "div"},
	}
	for _, tt := range tests {
		p, ok := Default().Match(tt.arch, tt.b)
		if !ok {
			t.Errorf("%s % x: no match", tt.arch, tt.b)
			continue
		}
		if p.Name != tt.name || p.Op != isa.OpUnknown || p.IsUnanalyzed() {
			t.Errorf("%s % x: got %s (op %s)", tt.arch, tt.b, p.Name, p.Op)
		}
	}
}

func TestUnanalyzedFeatureLabels(t *testing.T) {
	tests := []struct {
		arch engine.Arch
		b    []byte
		want string
	}{
		{engine.ArchX86_64, []byte{0x0f, 0x58, 0xc1}, "x86_float"},
		{engine.ArchARM64, words(0x0b020020), "arm64_arith"},
		{engine.ArchRiscv64, words(0x00007003), "riscv_load"},
		{engine.ArchRiscv64, []byte{0x01, 0x00}, "riscv_compressed"},
		{engine.ArchX86_64, []byte{0x0f, 0x0d, 0x08}, isa.Unanalyzed.Name},
	}
	m := NewMatcher(nil, 16)
	for _, tt := range tests {
		p, err := m.MatchOrAnalyze(tt.arch, tt.b)
		if err != nil {
			t.Fatalf("%s % x: %v", tt.arch, tt.b, err)
		}
		if !p.IsUnanalyzed() {
			t.Errorf("%s % x: matched %s, want unanalyzed", tt.arch, tt.b, p.Name)
		}
		if p.Name != tt.want {
			t.Errorf("%s % x: label %q, want %q", tt.arch, tt.b, p.Name, tt.want)
		}
	}
}

func TestFeatures(t *testing.T) {
	tests := []struct {
		arch engine.Arch
		b    []byte
		want FeatureSet
	}{
		{engine.ArchX86_64, []byte{0x48, 0x8b, 0x01}, FeatureSet{Load: true}},
		{engine.ArchX86_64, []byte{0x48, 0x8b, 0xc1}, FeatureSet{}},
		{engine.ArchX86_64, []byte{0x89, 0x01}, FeatureSet{Store: true}},
		{engine.ArchX86_64, []byte{0x0f, 0x84, 0, 0, 0, 0}, FeatureSet{Branch: true}},
		{engine.ArchX86_64, []byte{0xc5, 0xf8, 0x77}, FeatureSet{Vector: true}},
		{engine.ArchARM64, words(0xf9400420), FeatureSet{Load: true}},
		{engine.ArchARM64, words(0xf9000420), FeatureSet{Store: true}},
		{engine.ArchARM64, words(0x54000000), FeatureSet{Branch: true}},
		{engine.ArchRiscv64, words(0x00000063), FeatureSet{Branch: true}},
		{engine.ArchRiscv64, []byte{0x13}, FeatureSet{}},
	}
	for _, tt := range tests {
		if diff := cmp.Diff(tt.want, Features(tt.arch, tt.b)); diff != "" {
			t.Errorf("%s % x (-want +got):\n%s", tt.arch, tt.b, diff)
		}
	}
}

func TestMatcherDeterministic(t *testing.T) {
	inputs := []struct {
		arch engine.Arch
		b    []byte
	}{
		{engine.ArchX86_64, []byte{0x48, 0x01, 0xc8}},
		{engine.ArchARM64, words(0x8b020020)},
		{engine.ArchRiscv64, words(0x00c58533)},
		{engine.ArchX86_64, []byte{0x0f, 0x58, 0xc1}},
	}
	cold := NewMatcher(nil, 8)
	warm := NewMatcher(nil, 8)
	for _, in := range inputs {
		if _, err := warm.MatchOrAnalyze(in.arch, in.b); err != nil {
			t.Fatal(err)
		}
	}
	for _, in := range inputs {
		a, err := cold.MatchOrAnalyze(in.arch, in.b)
		if err != nil {
			t.Fatal(err)
		}
		b, err := warm.MatchOrAnalyze(in.arch, in.b)
		if err != nil {
			t.Fatal(err)
		}
		if a != b {
			t.Errorf("%s % x: cold %s, warm %s", in.arch, in.b, a.Name, b.Name)
		}
	}
	if s := warm.Stats(); s.Hits != uint64(len(inputs)) {
		t.Errorf("warm matcher hits = %d, want %d", s.Hits, len(inputs))
	}
}

func TestMatcherCachesByPrefix(t *testing.T) {
	m := NewMatcher(nil, 8)
	// Bytes past PrefixLen do not take part in the key
	long := make([]byte, PrefixLen+8)
	copy(long, []byte{0x48, 0x01, 0xc8})
	p1, err := m.MatchOrAnalyze(engine.ArchX86_64, long)
	if err != nil {
		t.Fatal(err)
	}
	long[PrefixLen+2] = 0xff
	p2, err := m.MatchOrAnalyze(engine.ArchX86_64, long)
	if err != nil {
		t.Fatal(err)
	}
	if p1 != p2 || p1.Op != isa.OpAdd {
		t.Errorf("got %s then %s", p1.Name, p2.Name)
	}
	if m.Scans() != 1 {
		t.Errorf("scans = %d, want 1", m.Scans())
	}

	// Same bytes on another architecture is a different key
	if _, err := m.MatchOrAnalyze(engine.ArchARM64, long); err != nil {
		t.Fatal(err)
	}
	if m.Scans() != 2 {
		t.Errorf("scans = %d, want 2", m.Scans())
	}
}

func TestMatcherEviction(t *testing.T) {
	m := NewMatcher(nil, 2)
	h1 := words(0x8b020020)
	h2 := words(0xcb020020)
	h3 := words(0x9b027c20)
	for _, b := range [][]byte{h1, h2, h3} {
		if _, err := m.MatchOrAnalyze(engine.ArchARM64, b); err != nil {
			t.Fatal(err)
		}
	}
	s := m.Stats()
	if s.Entries != 2 || s.Evictions != 1 {
		t.Fatalf("after three inserts: %+v", s.Stats)
	}

	scans := m.Scans()
	for _, b := range [][]byte{h2, h3} {
		if _, err := m.MatchOrAnalyze(engine.ArchARM64, b); err != nil {
			t.Fatal(err)
		}
	}
	if m.Scans() != scans {
		t.Error("h2 and h3 should still be cached")
	}
	if _, err := m.MatchOrAnalyze(engine.ArchARM64, h1); err != nil {
		t.Fatal(err)
	}
	if m.Scans() != scans+1 {
		t.Error("h1 should have been evicted and rescanned")
	}
}

func TestMatcherInvalidateArch(t *testing.T) {
	m := NewMatcher(nil, 16)
	x86 := []byte{0x48, 0x01, 0xc8}
	arm := words(0x8b020020)
	for range 2 {
		for _, in := range []struct {
			a engine.Arch
			b []byte
		}{{engine.ArchX86_64, x86}, {engine.ArchARM64, arm}} {
			if _, err := m.MatchOrAnalyze(in.a, in.b); err != nil {
				t.Fatal(err)
			}
		}
	}
	before := m.Stats().ByArch[engine.ArchARM64]

	if n := m.InvalidateArch(engine.ArchX86_64); n != 1 {
		t.Errorf("InvalidateArch removed %d entries, want 1", n)
	}
	s := m.Stats()
	if got := s.ByArch[engine.ArchX86_64]; got.Entries != 0 || got.Hits != 0 || got.Misses != 0 {
		t.Errorf("x86_64 after invalidation: %+v", got)
	}
	if diff := cmp.Diff(before, s.ByArch[engine.ArchARM64]); diff != "" {
		t.Errorf("arm64 changed (-before +after):\n%s", diff)
	}

	m.Clear()
	if s := m.Stats(); s.Entries != 0 || s.Hits != 0 || m.Scans() != 0 {
		t.Errorf("after Clear: %+v scans %d", s.Stats, m.Scans())
	}
}

func TestMatcherErrors(t *testing.T) {
	m := NewMatcher(nil, 4)
	if _, err := m.MatchOrAnalyze(engine.ArchX86_64, nil); !errors.Is(err, ErrEmpty) {
		t.Errorf("empty input: %v", err)
	}
	if _, err := m.MatchOrAnalyze(engine.ArchUnknown, []byte{0x90}); !errors.Is(err, ErrUnsupported) {
		t.Errorf("unknown arch: %v", err)
	}
	if s := m.Stats(); s.Lookups() != 0 {
		t.Errorf("rejected calls must not count as lookups, got %d", s.Lookups())
	}
}

func TestMatcherConcurrent(t *testing.T) {
	m := NewMatcher(nil, 4)
	inputs := [][]byte{words(0x8b020020), words(0xcb020020), words(0x9b027c20), words(0xd65f03c0), words(0xd503201f)}
	const workers, rounds = 8, 200
	var wg sync.WaitGroup
	for w := range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range rounds {
				b := inputs[(w+i)%len(inputs)]
				if _, err := m.MatchOrAnalyze(engine.ArchARM64, b); err != nil {
					t.Error(err)
					return
				}
			}
		}()
	}
	wg.Wait()
	s := m.Stats()
	if s.Lookups() != workers*rounds {
		t.Errorf("hits+misses = %d, want %d", s.Lookups(), workers*rounds)
	}
	arm := s.ByArch[engine.ArchARM64]
	if arm.Hits+arm.Misses != workers*rounds {
		t.Errorf("arm64 hits+misses = %d", arm.Hits+arm.Misses)
	}
	if s.Entries > 4 {
		t.Errorf("entries %d above capacity", s.Entries)
	}
}

func TestNewCatalogRejects(t *testing.T) {
	p := isa.NewPattern("p", isa.OpAdd, isa.Add).Build()
	q := isa.NewPattern("q", isa.OpAdd, isa.Add).Build()
	tests := []struct {
		name    string
		entries []Entry
	}{
		{"unknown arch", []Entry{{Arch: engine.ArchUnknown, Matcher: exact(1), Pattern: p}}},
		{"empty matcher", []Entry{{Arch: engine.ArchARM64, Matcher: ByteMatcher{}, Pattern: p}}},
		{"too long", []Entry{{Arch: engine.ArchARM64, Matcher: seq(exact(1), exact(2), exact(3), exact(4), exact(5)), Pattern: p}}},
		{"value outside mask", []Entry{{Arch: engine.ArchARM64, Matcher: ByteMatcher{Mask: []byte{0x0f}, Value: []byte{0xf0}}, Pattern: p}}},
		{"duplicate opcode", []Entry{
			{Arch: engine.ArchARM64, Matcher: exact(1), Pattern: p},
			{Arch: engine.ArchARM64, Matcher: exact(2), Pattern: q},
		}},
	}
	for _, tt := range tests {
		if _, err := NewCatalog(tt.entries); err == nil {
			t.Errorf("%s: NewCatalog succeeded", tt.name)
		}
	}
}

func TestHexNotation(t *testing.T) {
	m := hex("48/f8 01 ??")
	want := ByteMatcher{Mask: []byte{0xf8, 0xff, 0x00}, Value: []byte{0x48, 0x01, 0x00}}
	if diff := cmp.Diff(want, m); diff != "" {
		t.Errorf("hex (-want +got):\n%s", diff)
	}
	if got := m.String(); got != "48/f8 01 ??" {
		t.Errorf("String() = %q", got)
	}
	if m.FixedBits() != 13 {
		t.Errorf("FixedBits = %d, want 13", m.FixedBits())
	}
	for _, b := range [][]byte{{0x4c, 0x01, 0x99}, {0x48, 0x01, 0x00, 0x00}} {
		if !m.Match(b) {
			t.Errorf("%s should match % x", m, b)
		}
	}
	for _, b := range [][]byte{{0x50, 0x01, 0}, {0x48, 0x01}} {
		if m.Match(b) {
			t.Errorf("%s should not match % x", m, b)
		}
	}
	defer func() {
		if recover() == nil {
			t.Error("hex should panic on a malformed byte")
		}
	}()
	hex("zz")
}
