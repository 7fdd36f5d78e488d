package memnorm

import (
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/RunningShrimp/vm-sub001/internal/engine"
	"github.com/RunningShrimp/vm-sub001/internal/isa"
)

func TestAnalyzerSummary(t *testing.T) {
	var z Analyzer
	if s := z.Summary(); s.Total != 0 || s.MostCommonSize != 0 || s.UnalignedPercent() != 0 {
		t.Errorf("empty summary = %+v", s)
	}

	z.Record(Access{Base: 1, Offset: 0x1000, Width: 4})
	z.Record(Access{Base: 1, Offset: 0x1004, Width: 8})
	z.Record(Access{Base: 1, Offset: 0x1008, Width: 4})
	z.Record(Access{Base: 1, Offset: 3, Width: 4, Atomic: true})
	z.Record(Access{Base: 1, Offset: 16, Width: 8, Pair: true})
	z.Record(Access{Base: 1, Offset: 32, Width: 16})

	s := z.Summary()
	want := AccessSummary{
		Total:          6,
		Unaligned:      2,
		Atomic:         1,
		Vector:         1,
		Sizes:          map[int]uint64{4: 3, 8: 1, 16: 2},
		MostCommonSize: 4,
	}
	if diff := cmp.Diff(want, s); diff != "" {
		t.Errorf("summary (-want +got):\n%s", diff)
	}
	if p := s.UnalignedPercent(); p < 33.3 || p > 33.4 {
		t.Errorf("unaligned %.2f%%", p)
	}
	if s.String() != "6 accesses, 33.3% unaligned, 16.7% atomic, 16.7% vector, most common 4 bytes" {
		t.Errorf("String() = %q", s)
	}

	// The snapshot does not alias the live counters
	s.Sizes[4] = 100
	if z.Summary().Sizes[4] != 3 {
		t.Error("Summary shares its size map")
	}

	z.Reset()
	if s := z.Summary(); s.Total != 0 || len(s.Sizes) != 0 {
		t.Errorf("after Reset: %+v", s)
	}
}

func TestAnalyzerTieGoesToSmallerSize(t *testing.T) {
	var z Analyzer
	z.Record(Access{Width: 8})
	z.Record(Access{Width: 2})
	if s := z.Summary(); s.MostCommonSize != 2 {
		t.Errorf("most common = %d", s.MostCommonSize)
	}
}

func TestAnalyzerConcurrentRecord(t *testing.T) {
	var z Analyzer
	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 100 {
				z.Record(Access{Width: 8})
			}
		}()
	}
	wg.Wait()
	if s := z.Summary(); s.Total != 800 || s.Sizes[8] != 800 {
		t.Errorf("summary = %+v", s)
	}
}

// Rewrite reports every access it sees, rejected ones included
func TestRewriteRecordsAccesses(t *testing.T) {
	var z Analyzer
	n := normalizer(t, engine.ArchX86_64, engine.ArchARM64).WithAnalyzer(&z)
	for _, text := range []string{
		"load r0, qword [r1 + 8]",
		"store dword [r1 + 2], r2",
		"add r0, r0, r1",
		"load r0, xmmword [r1]",
	} {
		inst, err := isa.ParseInstruction(engine.ArchX86_64, text)
		if err != nil {
			t.Fatal(err)
		}
		n.Rewrite(inst, false, temps(9, 10))
	}
	s := z.Summary()
	if s.Total != 3 || s.Unaligned != 1 || s.Vector != 1 {
		t.Errorf("summary = %+v", s)
	}
}
