package pipeline

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/RunningShrimp/vm-sub001/internal/engine"
	"github.com/RunningShrimp/vm-sub001/internal/isa"
	"github.com/RunningShrimp/vm-sub001/internal/lru"
	"github.com/RunningShrimp/vm-sub001/internal/memnorm"
)

// Totals are pipeline-wide counters
type Totals struct {
	Instructions uint64 // source instructions translated, cache hits excluded
	Blocks       uint64 // successful TranslateBlock and TranslateInstruction calls
	CachedBlocks uint64 // blocks served from the result cache
	Failures     uint64
	Time         time.Duration // spent translating, cache hits excluded
}

// AverageTime is the mean translation time per instruction
func (t Totals) AverageTime() time.Duration {
	if t.Instructions == 0 {
		return 0
	}
	return t.Time / time.Duration(t.Instructions)
}

// Statistics is a snapshot of every cache layer and the totals
type Statistics struct {
	ID       string
	Pattern  lru.LayerStats
	Encoding lru.LayerStats
	Result   lru.LayerStats
	Totals   Totals
	// Memory aggregates the source memory accesses translated, cache
	// hits excluded
	Memory memnorm.AccessSummary
}

func (s Statistics) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "pipeline %s\n", s.ID)
	fmt.Fprintf(&sb, "pattern:  %s\n", s.Pattern)
	fmt.Fprintf(&sb, "encoding: %s\n", s.Encoding)
	fmt.Fprintf(&sb, "result:   %s\n", s.Result)
	fmt.Fprintf(&sb, "memory:   %s\n", s.Memory)
	fmt.Fprintf(&sb, "%d blocks (%d cached), %d instructions, %d failures, %s per instruction",
		s.Totals.Blocks, s.Totals.CachedBlocks, s.Totals.Instructions, s.Totals.Failures, s.Totals.AverageTime())
	return sb.String()
}

// CacheStatistics returns the counters of all three cache layers. Each
// layer is read under its own lock, so the layers are individually
// consistent but not a single atomic snapshot.
func (p *Pipeline) CacheStatistics() Statistics {
	return Statistics{
		ID:       p.id.String(),
		Pattern:  p.matcher.Stats(),
		Encoding: p.encodings.Stats(),
		Result:   p.results.stats(),
		Totals: Totals{
			Instructions: p.totals.instructions.Load(),
			Blocks:       p.totals.blocks.Load(),
			CachedBlocks: p.totals.cached.Load(),
			Failures:     p.totals.failures.Load(),
			Time:         time.Duration(p.totals.nanos.Load()),
		},
		Memory: p.accesses.Summary(),
	}
}

// InvalidateArchitecture drops every entry referencing arch from all
// three caches, together with its mapping tables, and zeroes its
// per-architecture counters. Other architectures keep their entries and
// counters. It returns the number of entries dropped.
func (p *Pipeline) InvalidateArchitecture(arch engine.Arch) int {
	np := p.matcher.InvalidateArch(arch)
	ne := p.encodings.InvalidateArch(arch)
	nr := p.results.invalidate(arch)
	nm := p.registry.Invalidate(arch)
	log.Infof("pipeline %s: invalidated %s: %d pattern, %d encoding, %d result entries, %d mapping tables",
		p.id, arch, np, ne, nr, nm)
	return np + ne + nr
}

// ClearAll empties every cache and resets every counter
func (p *Pipeline) ClearAll() {
	p.matcher.Clear()
	p.encodings.Clear()
	p.results.clear()
	p.registry.Clear()
	p.totals.reset()
	p.accesses.Reset()
	log.Infof("pipeline %s: cleared", p.id)
}

// Warmup translates each instruction to every supported architecture so
// the pattern and encoding caches hold them before the first real block.
// Instructions that fail are skipped. It returns how many translations
// succeeded.
func (p *Pipeline) Warmup(ctx context.Context, insts []isa.Instruction) (int, error) {
	n := 0
	for _, inst := range insts {
		for _, dst := range engine.All() {
			if err := ctx.Err(); err != nil {
				return n, err
			}
			if _, err := p.TranslateInstruction(ctx, inst.Arch, dst, inst); err != nil {
				log.Debugf("warmup: %v", err)
				continue
			}
			n++
		}
	}
	return n, nil
}
