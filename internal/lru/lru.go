// Completion: 100% - LRU cache complete
package lru

// Arena-backed LRU cache shared by the pattern, encoding and translation
// result caches.
//
// Entries live in a slice ("arena") and are linked by int32 indices
// instead of pointers. Lookups take the shared lock only; the promotion
// a hit implies is queued in a small touch buffer and applied the next
// time a writer holds the exclusive lock (or eagerly, when the buffer is
// half full and the lock happens to be free). With a single goroutine
// the ordering is exact LRU. Under contention a touch can be dropped when
// the buffer is full, which only weakens the recency of that one hit.

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
)

const (
	nilIndex    = -1
	touchBuffer = 256
)

// ErrInconsistent is returned when the index and the arena disagree.
// It cannot happen unless an invariant of this package is broken.
var ErrInconsistent = errors.New("lru: index and arena disagree")

type node[K comparable, V any] struct {
	key  K
	val  V
	prev int32
	next int32
	gen  uint32
	live bool
}

type touch struct {
	idx int32
	gen uint32
}

// Stats is a snapshot of cache counters
type Stats struct {
	Hits      uint64
	Misses    uint64
	Evictions uint64
	Entries   int
	Capacity  int
}

// HitRate returns hits / (hits + misses), or 0 before the first lookup
func (s Stats) HitRate() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total)
}

// Lookups is the number of Get calls counted
func (s Stats) Lookups() uint64 {
	return s.Hits + s.Misses
}

func (s Stats) String() string {
	return fmt.Sprintf("%d/%d entries, %d hits, %d misses (%.1f%%), %d evictions",
		s.Entries, s.Capacity, s.Hits, s.Misses, s.HitRate()*100, s.Evictions)
}

// Cache is a fixed-capacity LRU map safe for concurrent use
type Cache[K comparable, V any] struct {
	mu       sync.RWMutex
	capacity int
	index    map[K]int32
	nodes    []node[K, V]
	free     []int32
	head     int32 // most recently used
	tail     int32 // least recently used
	touches  chan touch

	hits      atomic.Uint64
	misses    atomic.Uint64
	evictions atomic.Uint64
}

// New creates a cache holding at most capacity entries (minimum 1)
func New[K comparable, V any](capacity int) *Cache[K, V] {
	if capacity < 1 {
		capacity = 1
	}
	return &Cache[K, V]{
		capacity: capacity,
		index:    make(map[K]int32, capacity),
		head:     nilIndex,
		tail:     nilIndex,
		touches:  make(chan touch, touchBuffer),
	}
}

// Capacity returns the maximum number of entries
func (c *Cache[K, V]) Capacity() int {
	return c.capacity
}

// Get looks up k, counting a hit or a miss and promoting the entry on a hit
func (c *Cache[K, V]) Get(k K) (V, bool, error) {
	return c.GetMatch(k, nil)
}

// GetMatch is Get for keys that only identify a value up to a collision
// (such as a hash). A stored value rejected by accept counts as a miss
// and is not promoted; the caller's Put then replaces it.
func (c *Cache[K, V]) GetMatch(k K, accept func(V) bool) (V, bool, error) {
	var zero V
	c.mu.RLock()
	idx, ok := c.index[k]
	if !ok {
		c.mu.RUnlock()
		c.misses.Add(1)
		return zero, false, nil
	}
	n := &c.nodes[idx]
	if !n.live || n.key != k {
		c.mu.RUnlock()
		c.misses.Add(1)
		return zero, false, fmt.Errorf("%w: slot %d", ErrInconsistent, idx)
	}
	v, gen := n.val, n.gen
	c.mu.RUnlock()

	if accept != nil && !accept(v) {
		c.misses.Add(1)
		return zero, false, nil
	}
	c.hits.Add(1)
	c.touch(idx, gen)
	return v, true, nil
}

// Peek looks up k without touching counters or recency
func (c *Cache[K, V]) Peek(k K) (V, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if idx, ok := c.index[k]; ok {
		return c.nodes[idx].val, true
	}
	var zero V
	return zero, false
}

func (c *Cache[K, V]) touch(idx int32, gen uint32) {
	select {
	case c.touches <- touch{idx: idx, gen: gen}:
	default:
	}
	if len(c.touches) >= touchBuffer/2 && c.mu.TryLock() {
		c.drainLocked()
		c.mu.Unlock()
	}
}

// Put inserts or overwrites k. An existing value is replaced (last write
// wins). It reports whether an entry had to be evicted.
func (c *Cache[K, V]) Put(k K, v V) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.drainLocked()

	if idx, ok := c.index[k]; ok {
		c.nodes[idx].val = v
		c.moveToFront(idx)
		return false
	}

	evicted := false
	if len(c.index) >= c.capacity {
		c.removeLocked(c.tail)
		c.evictions.Add(1)
		evicted = true
	}

	idx := c.alloc()
	n := &c.nodes[idx]
	n.key, n.val, n.live = k, v, true
	c.pushFront(idx)
	c.index[k] = idx
	return evicted
}

// Remove deletes k if present
func (c *Cache[K, V]) Remove(k K) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.drainLocked()
	idx, ok := c.index[k]
	if !ok {
		return false
	}
	c.removeLocked(idx)
	return true
}

// RemoveFunc deletes every entry for which pred returns true and returns
// the number removed
func (c *Cache[K, V]) RemoveFunc(pred func(K, V) bool) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.drainLocked()

	removed := 0
	for idx := c.head; idx != nilIndex; {
		next := c.nodes[idx].next
		if pred(c.nodes[idx].key, c.nodes[idx].val) {
			c.removeLocked(idx)
			removed++
		}
		idx = next
	}
	return removed
}

// Clear drops every entry and resets the counters
func (c *Cache[K, V]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for len(c.touches) > 0 {
		<-c.touches
	}
	c.index = make(map[K]int32, c.capacity)
	c.nodes = nil
	c.free = nil
	c.head, c.tail = nilIndex, nilIndex
	c.hits.Store(0)
	c.misses.Store(0)
	c.evictions.Store(0)
}

// CountFunc returns the number of entries for which pred returns true.
// It only takes the shared lock and does not affect recency.
func (c *Cache[K, V]) CountFunc(pred func(K, V) bool) int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	n := 0
	for k, idx := range c.index {
		if pred(k, c.nodes[idx].val) {
			n++
		}
	}
	return n
}

// Len returns the number of entries
func (c *Cache[K, V]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.index)
}

// Range calls fn for each entry from most to least recently used until fn
// returns false. fn must not call back into the cache.
func (c *Cache[K, V]) Range(fn func(K, V) bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.drainLocked()
	for idx := c.head; idx != nilIndex; idx = c.nodes[idx].next {
		if !fn(c.nodes[idx].key, c.nodes[idx].val) {
			return
		}
	}
}

// Keys returns the keys from most to least recently used
func (c *Cache[K, V]) Keys() []K {
	keys := make([]K, 0, c.Len())
	c.Range(func(k K, _ V) bool {
		keys = append(keys, k)
		return true
	})
	return keys
}

// Stats returns a snapshot of the counters
func (c *Cache[K, V]) Stats() Stats {
	return Stats{
		Hits:      c.hits.Load(),
		Misses:    c.misses.Load(),
		Evictions: c.evictions.Load(),
		Entries:   c.Len(),
		Capacity:  c.capacity,
	}
}

// drainLocked applies queued promotions in the order they happened.
// Touches whose slot was freed or reused since are skipped.
func (c *Cache[K, V]) drainLocked() {
	for {
		select {
		case t := <-c.touches:
			if int(t.idx) < len(c.nodes) {
				n := &c.nodes[t.idx]
				if n.live && n.gen == t.gen {
					c.moveToFront(t.idx)
				}
			}
		default:
			return
		}
	}
}

func (c *Cache[K, V]) alloc() int32 {
	if n := len(c.free); n > 0 {
		idx := c.free[n-1]
		c.free = c.free[:n-1]
		return idx
	}
	c.nodes = append(c.nodes, node[K, V]{prev: nilIndex, next: nilIndex})
	return int32(len(c.nodes) - 1)
}

func (c *Cache[K, V]) removeLocked(idx int32) {
	n := &c.nodes[idx]
	c.unlink(idx)
	delete(c.index, n.key)
	var zeroK K
	var zeroV V
	n.key, n.val, n.live = zeroK, zeroV, false
	n.gen++
	c.free = append(c.free, idx)
}

func (c *Cache[K, V]) pushFront(idx int32) {
	n := &c.nodes[idx]
	n.prev = nilIndex
	n.next = c.head
	if c.head != nilIndex {
		c.nodes[c.head].prev = idx
	}
	c.head = idx
	if c.tail == nilIndex {
		c.tail = idx
	}
}

func (c *Cache[K, V]) unlink(idx int32) {
	n := &c.nodes[idx]
	if n.prev != nilIndex {
		c.nodes[n.prev].next = n.next
	} else {
		c.head = n.next
	}
	if n.next != nilIndex {
		c.nodes[n.next].prev = n.prev
	} else {
		c.tail = n.prev
	}
	n.prev, n.next = nilIndex, nilIndex
}

func (c *Cache[K, V]) moveToFront(idx int32) {
	if c.head == idx {
		return
	}
	c.unlink(idx)
	c.pushFront(idx)
}
