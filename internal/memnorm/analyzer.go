package memnorm

import (
	"fmt"
	"maps"
	"sync"
)

// AccessSummary aggregates the memory accesses an Analyzer has seen
type AccessSummary struct {
	Total     uint64
	Unaligned uint64
	Atomic    uint64
	Vector    uint64
	// Sizes counts accesses by the number of bytes they touch
	Sizes map[int]uint64
	// MostCommonSize is 0 when nothing was recorded; ties go to the
	// smaller size
	MostCommonSize int
}

func percent(n, total uint64) float64 {
	if total == 0 {
		return 0
	}
	return float64(n) / float64(total) * 100
}

func (s AccessSummary) UnalignedPercent() float64 { return percent(s.Unaligned, s.Total) }
func (s AccessSummary) AtomicPercent() float64    { return percent(s.Atomic, s.Total) }
func (s AccessSummary) VectorPercent() float64    { return percent(s.Vector, s.Total) }

func (s AccessSummary) String() string {
	if s.Total == 0 {
		return "no memory accesses"
	}
	return fmt.Sprintf("%d accesses, %.1f%% unaligned, %.1f%% atomic, %.1f%% vector, most common %d bytes",
		s.Total, s.UnalignedPercent(), s.AtomicPercent(), s.VectorPercent(), s.MostCommonSize)
}

// Analyzer counts memory accesses by alignment, atomicity, vector width
// and size. The zero value is ready to use and safe for concurrent use.
type Analyzer struct {
	mu    sync.Mutex
	sum   AccessSummary
	sizes map[int]uint64
}

// Record adds one access
func (z *Analyzer) Record(a Access) {
	z.mu.Lock()
	defer z.mu.Unlock()
	if z.sizes == nil {
		z.sizes = make(map[int]uint64)
	}
	z.sum.Total++
	if !a.Aligned() {
		z.sum.Unaligned++
	}
	if a.Atomic {
		z.sum.Atomic++
	}
	if a.Vector() {
		z.sum.Vector++
	}
	z.sizes[a.Size()]++
}

// Summary returns a snapshot of the counters
func (z *Analyzer) Summary() AccessSummary {
	z.mu.Lock()
	defer z.mu.Unlock()
	s := z.sum
	s.Sizes = maps.Clone(z.sizes)
	var best uint64
	for size, n := range z.sizes {
		if n > best || (n == best && size < s.MostCommonSize) {
			s.MostCommonSize, best = size, n
		}
	}
	return s
}

func (z *Analyzer) Reset() {
	z.mu.Lock()
	z.sum = AccessSummary{}
	z.sizes = nil
	z.mu.Unlock()
}
