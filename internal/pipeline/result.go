package pipeline

import (
	"bytes"

	"github.com/RunningShrimp/vm-sub001/internal/engine"
	"github.com/RunningShrimp/vm-sub001/internal/lru"
)

type resultKey struct {
	src, dst engine.Arch
	hash     uint64
}

type resultEntry struct {
	fingerprint []byte
	block       *Block
}

// resultCache holds whole translated blocks. A hit counts for both the
// source and the destination architecture.
type resultCache struct {
	entries *lru.Cache[resultKey, resultEntry]
	byArch  lru.ArchCounters
}

func newResultCache(capacity int) *resultCache {
	return &resultCache{entries: lru.New[resultKey, resultEntry](capacity)}
}

// lookup returns a copy of the cached block. Entries whose fingerprint
// differs from fp are hash collisions and count as misses.
func (c *resultCache) lookup(key resultKey, fp []byte) (*Block, bool, error) {
	e, ok, err := c.entries.GetMatch(key, func(e resultEntry) bool {
		return bytes.Equal(e.fingerprint, fp)
	})
	if err != nil {
		c.byArch.Miss(key.src, key.dst)
		return nil, false, err
	}
	if !ok {
		c.byArch.Miss(key.src, key.dst)
		return nil, false, nil
	}
	c.byArch.Hit(key.src, key.dst)
	b := e.block.clone()
	b.Cached = true
	return b, true, nil
}

// store keeps b under key; the last store for a key wins
func (c *resultCache) store(key resultKey, fp []byte, b *Block) bool {
	return c.entries.Put(key, resultEntry{fingerprint: fp, block: b})
}

func (c *resultCache) invalidate(arch engine.Arch) int {
	n := c.entries.RemoveFunc(func(k resultKey, _ resultEntry) bool {
		return k.src == arch || k.dst == arch
	})
	c.byArch.Reset(arch)
	return n
}

func (c *resultCache) clear() {
	c.entries.Clear()
	c.byArch.ResetAll()
}

func (c *resultCache) stats() lru.LayerStats {
	return lru.LayerStats{
		Stats: c.entries.Stats(),
		ByArch: c.byArch.Snapshot(func(a engine.Arch) int {
			return c.entries.CountFunc(func(k resultKey, _ resultEntry) bool {
				return k.src == a || k.dst == a
			})
		}),
	}
}
