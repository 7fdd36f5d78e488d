package encoding

import (
	"sync/atomic"

	"github.com/RunningShrimp/vm-sub001/internal/engine"
	"github.com/RunningShrimp/vm-sub001/internal/isa"
	"github.com/RunningShrimp/vm-sub001/internal/lru"
	"github.com/RunningShrimp/vm-sub001/internal/xlog"
)

var log = xlog.Get("encoding")

type cached struct {
	arch engine.Arch
	enc  Encoded
}

// Cache memoizes Encode by instruction value: two instructions with the
// same architecture, opcode and operands share one entry.
type Cache struct {
	entries   *lru.Cache[string, cached]
	byArch    lru.ArchCounters
	encodings atomic.Uint64
}

// NewCache creates an encoding cache holding up to capacity entries
func NewCache(capacity int) *Cache {
	return &Cache{entries: lru.New[string, cached](capacity)}
}

// EncodeOrLookup returns the encoding of inst, from the cache when an
// equal instruction was encoded before. hit reports which path was taken.
// Concurrent misses for the same key may both encode; the last store wins
// and the values are identical.
func (c *Cache) EncodeOrLookup(inst isa.Instruction) (enc Encoded, hit bool, err error) {
	key, err := inst.Key()
	if err != nil {
		return Encoded{}, false, err
	}
	v, ok, err := c.entries.Get(key)
	if err != nil {
		c.byArch.Miss(inst.Arch)
		return Encoded{}, false, err
	}
	if ok {
		c.byArch.Hit(inst.Arch)
		return v.enc, true, nil
	}
	c.byArch.Miss(inst.Arch)

	enc, err = Encode(inst)
	if err != nil {
		return Encoded{}, false, err
	}
	c.encodings.Add(1)
	if c.entries.Put(key, cached{arch: inst.Arch, enc: enc}) {
		log.Debugf("encoding cache full, evicted an entry for %s", inst)
	}
	return enc, false, nil
}

// Encodings returns how many times the encoder actually ran
func (c *Cache) Encodings() uint64 {
	return c.encodings.Load()
}

// InvalidateArch drops every entry for arch and resets its counters
func (c *Cache) InvalidateArch(arch engine.Arch) int {
	n := c.entries.RemoveFunc(func(_ string, v cached) bool { return v.arch == arch })
	c.byArch.Reset(arch)
	return n
}

// Clear drops all entries and resets every counter
func (c *Cache) Clear() {
	c.entries.Clear()
	c.byArch.ResetAll()
	c.encodings.Store(0)
}

// Stats returns the layer counters with the per-architecture breakdown
func (c *Cache) Stats() lru.LayerStats {
	return lru.LayerStats{
		Stats: c.entries.Stats(),
		ByArch: c.byArch.Snapshot(func(a engine.Arch) int {
			return c.entries.CountFunc(func(_ string, v cached) bool { return v.arch == a })
		}),
	}
}
