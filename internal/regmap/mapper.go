// Completion: 100% - Dense mapping tables for Direct, Windowed and SpillBased
package regmap

import (
	"errors"
	"fmt"
	"strings"

	"github.com/RunningShrimp/vm-sub001/internal/engine"
	"github.com/RunningShrimp/vm-sub001/internal/isa"
)

// Strategy selects how source registers that have no counterpart in the
// destination file are handled
type Strategy uint8

const (
	// Direct maps register to register; unmapped registers are errors
	Direct Strategy = iota
	// Windowed maps a window of registers directly and keeps the rest in
	// fixed frame slots, loaded into scratch registers around each use
	Windowed
	// SpillBased maps as many registers directly as the destination allows
	// and keeps the rest in fixed frame slots addressed from the frame base
	SpillBased
)

const (
	DefaultWindowSize = 12
	DefaultSpillSlots = 64
	// SlotSize is the size of one spill slot in bytes
	SlotSize = 8
)

var strategyNames = map[string]Strategy{
	"direct":      Direct,
	"windowed":    Windowed,
	"window":      Windowed,
	"spill":       SpillBased,
	"spillbased":  SpillBased,
	"spill-based": SpillBased,
}

func (s Strategy) String() string {
	switch s {
	case Direct:
		return "direct"
	case Windowed:
		return "windowed"
	case SpillBased:
		return "spill"
	default:
		return fmt.Sprintf("strategy(%d)", uint8(s))
	}
}

// ParseStrategy parses "direct", "windowed" or "spill"
func ParseStrategy(s string) (Strategy, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	if st, ok := strategyNames[name]; ok {
		return st, nil
	}
	if hint := engine.Suggest(name, []string{"direct", "windowed", "spill"}, 1); len(hint) > 0 {
		return Direct, fmt.Errorf("unknown mapping strategy: %s (did you mean %s?)", s, hint[0])
	}
	return Direct, fmt.Errorf("unknown mapping strategy: %s (want direct, windowed or spill)", s)
}

// Options tune the Windowed and SpillBased strategies
type Options struct {
	WindowSize int
	SpillSlots int
}

func (o Options) withDefaults() Options {
	if o.WindowSize <= 0 {
		o.WindowSize = DefaultWindowSize
	}
	if o.SpillSlots < 0 {
		o.SpillSlots = 0
	}
	return o
}

var (
	ErrNoMapping   = errors.New("no mapping for register")
	ErrNoScratch   = errors.New("no free scratch register")
	ErrNoSpillSlot = errors.New("spill slots exhausted")
)

// MappingError reports a register that could not be placed in the
// destination file
type MappingError struct {
	Source    engine.Arch
	Dest      engine.Arch
	Strategy  Strategy
	Reg       isa.Reg
	Temporary bool // no register was involved, a temporary was requested
	Err       error
}

func (e *MappingError) Error() string {
	if e.Temporary {
		return fmt.Sprintf("%s->%s (%s): temporary: %v", e.Source, e.Dest, e.Strategy, e.Err)
	}
	return fmt.Sprintf("%s->%s (%s): register %s: %v", e.Source, e.Dest, e.Strategy, e.Reg, e.Err)
}

func (e *MappingError) Unwrap() error {
	return e.Err
}

// Mapping is one entry of a mapper's table
type Mapping struct {
	Source   isa.Reg
	Dest     isa.Reg
	Strategy Strategy
}

// MapperStats summarizes a table
type MapperStats struct {
	Mapped     int // source registers with a direct destination
	Unmapped   int // source registers kept in frame slots, or failing
	Scratch    int // destination registers reserved as scratch
	SpillSlots int // frame slots assigned to unmapped registers
}

const none = -1

// Mapper is an immutable dense table from source to destination
// register ids for one (source, destination, strategy) triple
type Mapper struct {
	src      RegisterFile
	dst      RegisterFile
	strategy Strategy
	opts     Options
	table    []int16
	reverse  []int16
	slots    []int16 // fixed frame slot per unmapped source register
	homes    int
	mapped   int
}

// NewMapper builds the table for src -> dst. Registers are paired by
// role (stack pointer, frame pointer, link, zero, arguments, temporaries,
// callee-saved), then the leftovers in order. The zero register only ever
// pairs with a zero register and special destination registers never
// receive a general source register.
func NewMapper(src, dst engine.Arch, strategy Strategy, opts Options) (*Mapper, error) {
	sf, err := DefaultFile(src)
	if err != nil {
		return nil, err
	}
	df, err := DefaultFile(dst)
	if err != nil {
		return nil, err
	}
	return NewMapperFor(sf, df, strategy, opts)
}

// NewMapperFor is NewMapper with explicit register files
func NewMapperFor(src, dst RegisterFile, strategy Strategy, opts Options) (*Mapper, error) {
	if strategy > SpillBased {
		return nil, fmt.Errorf("unknown mapping strategy %d", strategy)
	}
	m := &Mapper{
		src:      src,
		dst:      dst,
		strategy: strategy,
		opts:     opts.withDefaults(),
		table:    make([]int16, src.Count),
		reverse:  make([]int16, dst.Count),
	}
	for i := range m.table {
		m.table[i] = none
	}
	for i := range m.reverse {
		m.reverse[i] = none
	}
	m.pair()
	if strategy == Windowed {
		m.applyWindow()
	}
	for _, d := range m.table {
		if d != none {
			m.mapped++
		}
	}
	if strategy != Direct {
		m.assignSlots()
	}
	return m, nil
}

// assignSlots gives every source register without a direct mapping its
// rank in role order as frame slot, up to SpillSlots. The zero register
// has no value to keep and never gets one.
func (m *Mapper) assignSlots() {
	m.slots = make([]int16, m.src.Count)
	for i := range m.slots {
		m.slots[i] = none
	}
	for _, s := range m.src.RoleOrder() {
		if m.table[s] != none || (m.src.HasZero && s == m.src.Zero) {
			continue
		}
		if m.homes >= m.opts.SpillSlots {
			return
		}
		m.slots[s] = int16(m.homes)
		m.homes++
	}
}

func (m *Mapper) eligible(r isa.Reg) bool {
	if m.reverse[r] != none {
		return false
	}
	return m.strategy == Direct || !m.dst.Reserved(r)
}

func (m *Mapper) assign(s, d isa.Reg) {
	m.table[s] = int16(d)
	m.reverse[d] = int16(s)
}

func (m *Mapper) pair() {
	sg, dg := m.src.roleGroups(), m.dst.roleGroups()
	done := make([]bool, m.src.Count)
	var leftover []isa.Reg
	for g := range sg {
		di := 0
		for _, s := range sg[g] {
			if done[s] {
				continue
			}
			done[s] = true
			for di < len(dg[g]) && !m.eligible(dg[g][di]) {
				di++
			}
			if di < len(dg[g]) {
				m.assign(s, dg[g][di])
				di++
				continue
			}
			if m.src.HasZero && s == m.src.Zero {
				continue
			}
			leftover = append(leftover, s)
		}
	}

	var free []isa.Reg
	for _, d := range m.dst.RoleOrder() {
		if m.eligible(d) && !m.dst.Special(d) {
			free = append(free, d)
		}
	}
	for i, s := range leftover {
		if i >= len(free) {
			break
		}
		m.assign(s, free[i])
	}
}

// applyWindow drops the direct mapping of every source register outside
// the first WindowSize registers in role order
func (m *Mapper) applyWindow() {
	for i, s := range m.src.RoleOrder() {
		if i < m.opts.WindowSize {
			continue
		}
		if d := m.table[s]; d != none {
			m.reverse[d] = none
			m.table[s] = none
		}
	}
}

func (m *Mapper) fail(r isa.Reg, err error) error {
	return &MappingError{Source: m.src.Arch, Dest: m.dst.Arch, Strategy: m.strategy, Reg: r, Err: err}
}

// MapRegister returns the destination register for a source register
func (m *Mapper) MapRegister(id isa.Reg) (isa.Reg, error) {
	if int(id) >= len(m.table) || m.table[id] == none {
		return 0, m.fail(id, ErrNoMapping)
	}
	return isa.Reg(m.table[id]), nil
}

// SpillSlot returns the fixed frame slot of a source register that has
// no direct mapping. The slot is the same for every block translated
// with this mapper.
func (m *Mapper) SpillSlot(id isa.Reg) (int, error) {
	if m.strategy == Direct || !m.src.Valid(id) || (m.src.HasZero && id == m.src.Zero) {
		return 0, m.fail(id, ErrNoMapping)
	}
	if m.table[id] != none {
		return 0, m.fail(id, ErrNoMapping)
	}
	if m.slots[id] == none {
		return 0, m.fail(id, ErrNoSpillSlot)
	}
	return int(m.slots[id]), nil
}

// ReverseMap returns the source register held in a destination register
func (m *Mapper) ReverseMap(dst isa.Reg) (isa.Reg, error) {
	if int(dst) >= len(m.reverse) || m.reverse[dst] == none {
		return 0, m.fail(dst, ErrNoMapping)
	}
	return isa.Reg(m.reverse[dst]), nil
}

// Mappings lists the direct entries in source register order
func (m *Mapper) Mappings() []Mapping {
	out := make([]Mapping, 0, m.mapped)
	for s, d := range m.table {
		if d != none {
			out = append(out, Mapping{Source: isa.Reg(s), Dest: isa.Reg(d), Strategy: m.strategy})
		}
	}
	return out
}

func (m *Mapper) Strategy() Strategy {
	return m.strategy
}

func (m *Mapper) Source() RegisterFile {
	return m.src
}

func (m *Mapper) Dest() RegisterFile {
	return m.dst
}

func (m *Mapper) Options() Options {
	return m.opts
}

func (m *Mapper) Stats() MapperStats {
	s := MapperStats{Mapped: m.mapped, Unmapped: len(m.table) - m.mapped}
	if m.strategy != Direct {
		s.Scratch = len(m.dst.Scratch)
	}
	s.SpillSlots = m.homes
	return s
}

func (m *Mapper) String() string {
	return fmt.Sprintf("%s->%s %s (%d/%d mapped)", m.src.Arch, m.dst.Arch, m.strategy, m.mapped, len(m.table))
}
