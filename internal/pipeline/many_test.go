package pipeline

import (
	"context"
	"errors"
	"testing"

	"github.com/RunningShrimp/vm-sub001/internal/config"
	"github.com/RunningShrimp/vm-sub001/internal/isa"
)

func TestTranslateManyKeepsOrder(t *testing.T) {
	cfg := config.Default()
	cfg.Pipeline.Workers = 3
	p := New(cfg)

	good := parse(t, x86, mixedX86...)
	bad := parse(t, arm, "add r24, r0, r1")
	var jobs []Job
	for i := range 40 {
		switch {
		case i == 17:
			jobs = append(jobs, Job{Source: arm, Dest: x86, Instructions: bad})
		case i%2 == 0:
			jobs = append(jobs, Job{Source: x86, Dest: arm, Instructions: good})
		default:
			jobs = append(jobs, Job{Source: x86, Dest: riscv, Instructions: good[:i%len(good)+1]})
		}
	}

	results := p.TranslateMany(context.Background(), jobs)
	if len(results) != len(jobs) {
		t.Fatalf("%d results for %d jobs", len(results), len(jobs))
	}
	for i, r := range results {
		if i == 17 {
			if r.Block != nil || !errors.Is(r.Err, ErrRegisterMap) {
				t.Errorf("job 17: %+v", r)
			}
			continue
		}
		if r.Err != nil {
			t.Errorf("job %d: %v", i, r.Err)
			continue
		}
		if r.Block.Dest != jobs[i].Dest || len(r.Block.Offsets) != len(jobs[i].Instructions) {
			t.Errorf("job %d answered with another block: %s, %d offsets", i, r.Block.Dest, len(r.Block.Offsets))
		}
	}
	if got := p.CacheStatistics().Result.Lookups(); got != uint64(len(jobs)) {
		t.Errorf("result lookups = %d", got)
	}
}

func TestTranslateManyCancelled(t *testing.T) {
	p := New(nil)
	jobs := make([]Job, 10)
	for i := range jobs {
		jobs[i] = Job{Source: x86, Dest: arm, Instructions: parse(t, x86, "add r0, r0, r1")}
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	for i, r := range p.TranslateMany(ctx, jobs) {
		if r.Block != nil || !errors.Is(r.Err, context.Canceled) {
			t.Errorf("job %d: %+v", i, r)
		}
	}
	if s := p.CacheStatistics(); s.Pattern.Lookups() != 0 {
		t.Errorf("work done after cancellation: %s", s.Pattern.Stats)
	}
}

func TestTranslateManyEmpty(t *testing.T) {
	if r := New(nil).TranslateMany(context.Background(), nil); len(r) != 0 {
		t.Errorf("got %v", r)
	}
}

func TestChunksPartitionJobs(t *testing.T) {
	block := func(n int) []isa.Instruction { return make([]isa.Instruction, n) }
	for _, tc := range []struct {
		name    string
		sizes   []int
		workers int
	}{
		{"uniform", repeatSize(100, 4), 4},
		{"one worker", repeatSize(10, 1), 1},
		{"skewed", append(repeatSize(50, 1), 500, 400), 2},
		{"many small", repeatSize(1000, 1), 2},
		{"empty blocks", repeatSize(7, 0), 8},
	} {
		jobs := make([]Job, len(tc.sizes))
		for i, n := range tc.sizes {
			jobs[i].Instructions = block(n)
		}
		cs := chunks(jobs, tc.workers)
		next := 0
		for _, c := range cs {
			if c.start != next || c.end <= c.start {
				t.Fatalf("%s: chunk %+v after %d", tc.name, c, next)
			}
			if c.end-c.start > maxChunkJobs {
				t.Errorf("%s: chunk of %d jobs", tc.name, c.end-c.start)
			}
			next = c.end
		}
		if next != len(jobs) {
			t.Errorf("%s: chunks cover %d of %d jobs", tc.name, next, len(jobs))
		}
		if len(jobs) >= tc.workers*chunksPerWorker && len(cs) < tc.workers {
			t.Errorf("%s: %d chunks for %d workers", tc.name, len(cs), tc.workers)
		}
	}
	if cs := chunks(nil, 4); cs != nil {
		t.Errorf("chunks(nil) = %v", cs)
	}
}

func repeatSize(n, size int) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = size
	}
	return out
}
