// Completion: 100% - Pattern match cache complete
package pattern

import (
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/zeebo/xxh3"

	"github.com/RunningShrimp/vm-sub001/internal/engine"
	"github.com/RunningShrimp/vm-sub001/internal/isa"
	"github.com/RunningShrimp/vm-sub001/internal/lru"
	"github.com/RunningShrimp/vm-sub001/internal/xlog"
)

var log = xlog.Get("pattern")

var (
	ErrEmpty       = errors.New("empty instruction bytes")
	ErrUnsupported = errors.New("unsupported architecture")
)

type cacheKey struct {
	arch engine.Arch
	hash uint64
}

type cacheEntry struct {
	prefix  [PrefixLen]byte
	n       uint8
	pattern *isa.Pattern
}

func (e cacheEntry) same(prefix []byte) bool {
	return int(e.n) == len(prefix) && string(e.prefix[:e.n]) == string(prefix)
}

// Matcher classifies instruction bytes through the catalog, memoizing the
// result per (architecture, hash of the first PrefixLen bytes)
type Matcher struct {
	catalog *Catalog
	cache   *lru.Cache[cacheKey, cacheEntry]
	byArch  lru.ArchCounters
	scans   atomic.Uint64
}

// NewMatcher creates a matcher over catalog (nil means Default) with a
// cache of the given capacity
func NewMatcher(catalog *Catalog, capacity int) *Matcher {
	if catalog == nil {
		catalog = Default()
	}
	return &Matcher{
		catalog: catalog,
		cache:   lru.New[cacheKey, cacheEntry](capacity),
	}
}

func (m *Matcher) Catalog() *Catalog {
	return m.catalog
}

// MatchOrAnalyze returns the pattern for b. Only the first PrefixLen bytes
// are considered. A catalog miss yields the unanalyzed marker, labelled
// with the recognised features when there are any.
func (m *Matcher) MatchOrAnalyze(arch engine.Arch, b []byte) (*isa.Pattern, error) {
	if !arch.Valid() {
		return nil, fmt.Errorf("%w: %s", ErrUnsupported, arch)
	}
	if len(b) == 0 {
		return nil, ErrEmpty
	}
	prefix := b[:min(len(b), PrefixLen)]
	key := cacheKey{arch: arch, hash: xxh3.Hash(prefix)}

	e, ok, err := m.cache.GetMatch(key, func(e cacheEntry) bool { return e.same(prefix) })
	if err != nil {
		m.byArch.Miss(arch)
		return nil, err
	}
	if ok {
		m.byArch.Hit(arch)
		return e.pattern, nil
	}
	m.byArch.Miss(arch)

	m.scans.Add(1)
	p, found := m.catalog.Match(arch, prefix)
	if !found {
		p = m.catalog.Analyze(arch, prefix)
		log.Debugf("no %s pattern for % x, classified as %s", arch, prefix, p.Name)
	}
	e = cacheEntry{n: uint8(len(prefix)), pattern: p}
	copy(e.prefix[:], prefix)
	if m.cache.Put(key, e) {
		log.Debugf("pattern cache full, evicted an entry for %s", arch)
	}
	return p, nil
}

// Scans returns how many times the catalog was actually scanned
func (m *Matcher) Scans() uint64 {
	return m.scans.Load()
}

// InvalidateArch drops the entries of arch and resets its counters
func (m *Matcher) InvalidateArch(arch engine.Arch) int {
	n := m.cache.RemoveFunc(func(k cacheKey, _ cacheEntry) bool { return k.arch == arch })
	m.byArch.Reset(arch)
	return n
}

// Clear drops every entry and resets every counter
func (m *Matcher) Clear() {
	m.cache.Clear()
	m.byArch.ResetAll()
	m.scans.Store(0)
}

// Stats returns the layer counters with the per-architecture breakdown
func (m *Matcher) Stats() lru.LayerStats {
	return lru.LayerStats{
		Stats: m.cache.Stats(),
		ByArch: m.byArch.Snapshot(func(a engine.Arch) int {
			return m.cache.CountFunc(func(k cacheKey, _ cacheEntry) bool { return k.arch == a })
		}),
	}
}
