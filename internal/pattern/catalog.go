// Completion: 95% - Integer, memory, branch and system forms of all three
// architectures; FP and vector forms are recognized but not translated
package pattern

import (
	"cmp"
	"fmt"
	"slices"
	"sync"

	"github.com/RunningShrimp/vm-sub001/internal/engine"
	"github.com/RunningShrimp/vm-sub001/internal/isa"
)

// Entry binds one byte matcher of one architecture to a pattern
type Entry struct {
	Arch    engine.Arch
	Matcher ByteMatcher
	Pattern *isa.Pattern
}

// Catalog is an immutable set of entries, scanned most specific first
type Catalog struct {
	rules      [engine.NumArch][]Entry
	byOp       map[isa.Opcode]*isa.Pattern
	patterns   []*isa.Pattern
	unanalyzed map[string]*isa.Pattern
}

// NewCatalog validates and orders entries. Per architecture, longer
// matchers come first, then matchers with more fixed bits; ties keep the
// given order. Each pattern's Archs is set to the architectures that
// have an entry for it.
func NewCatalog(entries []Entry) (*Catalog, error) {
	c := &Catalog{
		byOp:       make(map[isa.Opcode]*isa.Pattern),
		unanalyzed: make(map[string]*isa.Pattern),
	}
	archs := make(map[*isa.Pattern]isa.ArchSet)
	for i, e := range entries {
		if !e.Arch.Valid() {
			return nil, fmt.Errorf("entry %d (%s): unsupported architecture %s", i, e.Pattern.Name, e.Arch)
		}
		if err := e.Matcher.validate(); err != nil {
			return nil, fmt.Errorf("entry %d (%s/%s): %w", i, e.Arch, e.Pattern.Name, err)
		}
		if _, seen := archs[e.Pattern]; !seen {
			c.patterns = append(c.patterns, e.Pattern)
		}
		archs[e.Pattern] |= isa.Archs(e.Arch)
		c.rules[e.Arch] = append(c.rules[e.Arch], e)
		if e.Pattern.Op != isa.OpUnknown {
			if prev, ok := c.byOp[e.Pattern.Op]; ok && prev != e.Pattern {
				return nil, fmt.Errorf("entry %d: two patterns for %s", i, e.Pattern.Op)
			}
			c.byOp[e.Pattern.Op] = e.Pattern
		}
	}
	for p, set := range archs {
		p.Archs = set
	}
	for a := range c.rules {
		slices.SortStableFunc(c.rules[a], func(x, y Entry) int {
			if n := cmp.Compare(y.Matcher.Len(), x.Matcher.Len()); n != 0 {
				return n
			}
			return cmp.Compare(y.Matcher.FixedBits(), x.Matcher.FixedBits())
		})
	}
	for _, arch := range engine.All() {
		for _, kind := range featureKinds {
			name := featureLabel(arch, kind)
			c.unanalyzed[name] = isa.UnanalyzedAs(name)
		}
	}
	return c, nil
}

// Default returns the built-in catalog
var Default = sync.OnceValue(func() *Catalog {
	c, err := NewCatalog(builtinEntries())
	if err != nil {
		panic(fmt.Sprintf("pattern: built-in catalog: %v", err))
	}
	return c
})

// Match scans the entries of arch and returns the first that matches b
func (c *Catalog) Match(arch engine.Arch, b []byte) (*isa.Pattern, bool) {
	if !arch.Valid() {
		return nil, false
	}
	for _, e := range c.rules[arch] {
		if e.Matcher.Match(b) {
			return e.Pattern, true
		}
	}
	return nil, false
}

// Analyze returns the unanalyzed marker for b, labelled with the
// features the opcode bits show
func (c *Catalog) Analyze(arch engine.Arch, b []byte) *isa.Pattern {
	kind := Features(arch, b).Kind()
	if kind == "" {
		return isa.Unanalyzed
	}
	if p, ok := c.unanalyzed[featureLabel(arch, kind)]; ok {
		return p
	}
	return isa.Unanalyzed
}

// ForOpcode returns the pattern describing a neutral opcode
func (c *Catalog) ForOpcode(op isa.Opcode) (*isa.Pattern, bool) {
	p, ok := c.byOp[op]
	return p, ok
}

// Patterns lists every distinct pattern in first-seen order
func (c *Catalog) Patterns() []*isa.Pattern {
	return slices.Clone(c.patterns)
}

// Entries returns the ordered entries of arch
func (c *Catalog) Entries(arch engine.Arch) []Entry {
	if !arch.Valid() {
		return nil
	}
	return slices.Clone(c.rules[arch])
}

// Len returns the number of entries of arch
func (c *Catalog) Len(arch engine.Arch) int {
	if !arch.Valid() {
		return 0
	}
	return len(c.rules[arch])
}

type builder struct {
	entries []Entry
}

func (b *builder) add(arch engine.Arch, p *isa.Pattern, ms ...ByteMatcher) {
	for _, m := range ms {
		b.entries = append(b.entries, Entry{Arch: arch, Matcher: m, Pattern: p})
	}
}

func builtinEntries() []Entry {
	core := corePatterns()
	var b builder
	x86Entries(&b, core)
	arm64Entries(&b, core)
	riscvEntries(&b, core)
	return b.entries
}
