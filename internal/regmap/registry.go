package regmap

import (
	"sync"

	"github.com/RunningShrimp/vm-sub001/internal/engine"
)

// Registry builds one Mapper per architecture pair on first use and
// hands out the same read-only table afterwards. Same-architecture pairs
// always get the Direct identity table.
type Registry struct {
	mu       sync.RWMutex
	mappers  map[engine.Pair]*Mapper
	strategy func(engine.Pair) Strategy
	opts     Options
}

// NewRegistry creates a registry. strategy picks the strategy per pair;
// nil means Direct everywhere.
func NewRegistry(strategy func(engine.Pair) Strategy, opts Options) *Registry {
	if strategy == nil {
		strategy = func(engine.Pair) Strategy { return Direct }
	}
	return &Registry{
		mappers:  make(map[engine.Pair]*Mapper),
		strategy: strategy,
		opts:     opts,
	}
}

// Mapper returns the table for src -> dst
func (r *Registry) Mapper(src, dst engine.Arch) (*Mapper, error) {
	p := engine.Pair{From: src, To: dst}
	r.mu.RLock()
	m, ok := r.mappers[p]
	r.mu.RUnlock()
	if ok {
		return m, nil
	}

	s := Direct
	if src != dst {
		s = r.strategy(p)
	}
	m, err := NewMapper(src, dst, s, r.opts)
	if err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.mappers[p]; ok {
		return existing, nil
	}
	r.mappers[p] = m
	return m, nil
}

// Invalidate drops every table involving arch. They are rebuilt on the
// next request, picking up a changed strategy.
func (r *Registry) Invalidate(arch engine.Arch) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for p := range r.mappers {
		if p.From == arch || p.To == arch {
			delete(r.mappers, p)
			n++
		}
	}
	return n
}

// Clear drops every table
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	clear(r.mappers)
}

// Len returns the number of tables built
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.mappers)
}
