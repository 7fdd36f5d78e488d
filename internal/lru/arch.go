package lru

import (
	"fmt"
	"sort"
	"strings"
	"sync/atomic"

	"github.com/RunningShrimp/vm-sub001/internal/engine"
)

// Per-architecture accounting shared by the cache layers. Every cache
// entry is tagged with one or two architectures; lookups are attributed
// to the architectures of the key they were made with.

// ArchStats is one architecture's share of a cache layer
type ArchStats struct {
	Entries int
	Hits    uint64
	Misses  uint64
}

// LayerStats combines the global counters of a layer with the
// per-architecture breakdown
type LayerStats struct {
	Stats
	ByArch map[engine.Arch]ArchStats
}

func (s LayerStats) String() string {
	var sb strings.Builder
	sb.WriteString(s.Stats.String())
	archs := make([]engine.Arch, 0, len(s.ByArch))
	for a := range s.ByArch {
		archs = append(archs, a)
	}
	sort.Slice(archs, func(i, j int) bool { return archs[i] < archs[j] })
	for _, a := range archs {
		as := s.ByArch[a]
		fmt.Fprintf(&sb, "\n  %-8s %d entries, %d hits, %d misses", a, as.Entries, as.Hits, as.Misses)
	}
	return sb.String()
}

// ArchCounters holds hit and miss counters per architecture
type ArchCounters struct {
	hits   [engine.NumArch]atomic.Uint64
	misses [engine.NumArch]atomic.Uint64
}

func (c *ArchCounters) Hit(archs ...engine.Arch) {
	for _, a := range dedup(archs) {
		if a.Valid() {
			c.hits[a].Add(1)
		}
	}
}

func (c *ArchCounters) Miss(archs ...engine.Arch) {
	for _, a := range dedup(archs) {
		if a.Valid() {
			c.misses[a].Add(1)
		}
	}
}

// Reset zeroes the counters of one architecture
func (c *ArchCounters) Reset(a engine.Arch) {
	if a.Valid() {
		c.hits[a].Store(0)
		c.misses[a].Store(0)
	}
}

func (c *ArchCounters) ResetAll() {
	for _, a := range engine.All() {
		c.Reset(a)
	}
}

// Snapshot builds the per-architecture table. entries reports how many
// live entries belong to an architecture.
func (c *ArchCounters) Snapshot(entries func(engine.Arch) int) map[engine.Arch]ArchStats {
	out := make(map[engine.Arch]ArchStats, engine.NumArch-1)
	for _, a := range engine.All() {
		out[a] = ArchStats{
			Entries: entries(a),
			Hits:    c.hits[a].Load(),
			Misses:  c.misses[a].Load(),
		}
	}
	return out
}

// A result-cache key carries the same architecture twice for
// same-architecture translation; count it once.
func dedup(archs []engine.Arch) []engine.Arch {
	if len(archs) == 2 && archs[0] == archs[1] {
		return archs[:1]
	}
	return archs
}
