// Completion: 95% - Block translation with pattern, encoding and result caches
package pipeline

import (
	"context"
	"encoding/binary"
	"fmt"
	"slices"
	"sync/atomic"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/google/uuid"

	"github.com/RunningShrimp/vm-sub001/internal/config"
	"github.com/RunningShrimp/vm-sub001/internal/encoding"
	"github.com/RunningShrimp/vm-sub001/internal/engine"
	"github.com/RunningShrimp/vm-sub001/internal/isa"
	"github.com/RunningShrimp/vm-sub001/internal/memnorm"
	"github.com/RunningShrimp/vm-sub001/internal/pattern"
	"github.com/RunningShrimp/vm-sub001/internal/regmap"
	"github.com/RunningShrimp/vm-sub001/internal/xlog"
)

var log = xlog.Get("pipeline")

// Block is a translated instruction sequence
type Block struct {
	Source engine.Arch
	Dest   engine.Arch
	// Instructions are the destination instructions in emission order
	Instructions []isa.Instruction
	Code         []byte
	Fixups       []encoding.Fixup
	// Offsets[i] is where the translation of source instruction i starts in Code
	Offsets []int
	// SpillSlots is one past the highest frame slot the block touches
	SpillSlots int
	// Cached is true when the block came from the result cache
	Cached bool
}

// Len returns the code size in bytes
func (b *Block) Len() int {
	return len(b.Code)
}

func (b *Block) clone() *Block {
	c := *b
	c.Instructions = slices.Clone(b.Instructions)
	c.Code = slices.Clone(b.Code)
	c.Fixups = slices.Clone(b.Fixups)
	c.Offsets = slices.Clone(b.Offsets)
	return &c
}

// Option adjusts a pipeline at construction
type Option func(*Pipeline)

// WithCatalog replaces the built-in pattern catalog
func WithCatalog(c *pattern.Catalog) Option {
	return func(p *Pipeline) {
		p.catalog = c
	}
}

// WithTarget replaces the addressing description of one architecture
func WithTarget(t memnorm.Target) Option {
	return func(p *Pipeline) {
		p.targets[t.Arch] = t
	}
}

type totals struct {
	instructions atomic.Uint64
	blocks       atomic.Uint64
	cached       atomic.Uint64
	failures     atomic.Uint64
	nanos        atomic.Int64
}

func (t *totals) reset() {
	t.instructions.Store(0)
	t.blocks.Store(0)
	t.cached.Store(0)
	t.failures.Store(0)
	t.nanos.Store(0)
}

// Pipeline translates blocks between architectures. It owns its caches;
// two pipelines never share entries. All methods are safe for concurrent
// use.
type Pipeline struct {
	id        uuid.UUID
	cfg       config.Config
	catalog   *pattern.Catalog
	matcher   *pattern.Matcher
	encodings *encoding.Cache
	results   *resultCache
	registry  *regmap.Registry
	targets   map[engine.Arch]memnorm.Target
	totals    totals
	accesses  memnorm.Analyzer
}

// New creates a pipeline. A nil cfg uses config.Default.
func New(cfg *config.Config, opts ...Option) *Pipeline {
	if cfg == nil {
		cfg = config.Default()
	}
	p := &Pipeline{
		id:      uuid.New(),
		cfg:     *cfg.Clone(),
		targets: make(map[engine.Arch]memnorm.Target),
	}
	for _, a := range engine.All() {
		t, err := memnorm.TargetFor(a)
		if err != nil {
			continue
		}
		if p.cfg.ByteOrderFor(a) == binary.BigEndian {
			t.Order = memnorm.BigEndian
		}
		p.targets[a] = t
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.catalog == nil {
		p.catalog = pattern.Default()
	}
	p.matcher = pattern.NewMatcher(p.catalog, p.cfg.Cache.Pattern)
	p.encodings = encoding.NewCache(p.cfg.Cache.Encoding)
	p.results = newResultCache(p.cfg.Cache.Result)
	p.registry = regmap.NewRegistry(p.cfg.Strategy, p.cfg.MapperOptions())
	log.Debugf("pipeline %s: caches %d/%d/%d, %d workers", p.id,
		p.cfg.Cache.Pattern, p.cfg.Cache.Encoding, p.cfg.Cache.Result, p.cfg.WorkerCount())
	return p
}

// ID identifies the pipeline in logs and statistics
func (p *Pipeline) ID() string {
	return p.id.String()
}

// Config returns a copy of the settings the pipeline was built with
func (p *Pipeline) Config() config.Config {
	return *p.cfg.Clone()
}

// Mapper returns the register table used for src -> dst
func (p *Pipeline) Mapper(src, dst engine.Arch) (*regmap.Mapper, error) {
	return p.registry.Mapper(src, dst)
}

// TranslateBlock translates insts from src to dst. A block seen before is
// served from the result cache; otherwise every instruction goes through
// pattern matching, register mapping, memory normalization and encoding.
// Any failure fails the whole block.
func (p *Pipeline) TranslateBlock(ctx context.Context, src, dst engine.Arch, insts []isa.Instruction) (*Block, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := checkPair(src, dst); err != nil {
		return nil, err
	}
	start := time.Now()

	fp, err := isa.BlockFingerprint(insts)
	if err != nil {
		return nil, p.failed(&TranslationError{
			Kind: UnsupportedInstruction, Stage: StageCacheLookup,
			Source: src, Dest: dst, Position: -1, Operand: -1, Err: err,
		})
	}
	key := resultKey{src: src, dst: dst, hash: xxhash.Sum64(fp)}
	b, ok, err := p.results.lookup(key, fp)
	if err != nil {
		return nil, p.failed(&TranslationError{
			Kind: CacheInconsistency, Stage: StageCacheLookup,
			Source: src, Dest: dst, Position: -1, Operand: -1, Err: err,
		})
	}
	if ok {
		p.totals.blocks.Add(1)
		p.totals.cached.Add(1)
		return b, nil
	}

	t, err := p.newTranslator(src, dst)
	if err != nil {
		return nil, p.failed(err)
	}
	t.reserve(insts)
	for i, inst := range insts {
		if err := t.instruction(i, inst); err != nil {
			return nil, p.failed(err)
		}
	}
	b = t.finish()

	if t.cacheable {
		if p.results.store(key, fp, b) {
			log.Debugf("result cache full, evicted a block")
		}
	} else {
		log.Debugf("%s->%s block of %d not cached", src, dst, len(insts))
	}
	p.record(len(insts), start)
	return b.clone(), nil
}

// TranslateInstruction translates a single instruction through the
// pattern and encoding caches, bypassing the result cache
func (p *Pipeline) TranslateInstruction(ctx context.Context, src, dst engine.Arch, inst isa.Instruction) (*Block, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := checkPair(src, dst); err != nil {
		return nil, err
	}
	start := time.Now()
	t, err := p.newTranslator(src, dst)
	if err != nil {
		return nil, p.failed(err)
	}
	t.reserve([]isa.Instruction{inst})
	if err := t.instruction(0, inst); err != nil {
		return nil, p.failed(err)
	}
	p.record(1, start)
	return t.finish(), nil
}

func checkPair(src, dst engine.Arch) error {
	for _, a := range []engine.Arch{src, dst} {
		if !a.Valid() {
			return &TranslationError{
				Kind: UnsupportedInstruction, Stage: StageCacheLookup,
				Source: src, Dest: dst, Position: -1, Operand: -1,
				Err: fmt.Errorf("%w: %s", pattern.ErrUnsupported, a),
			}
		}
	}
	return nil
}

func (p *Pipeline) record(n int, start time.Time) {
	p.totals.blocks.Add(1)
	p.totals.instructions.Add(uint64(n))
	p.totals.nanos.Add(int64(time.Since(start)))
}

func (p *Pipeline) failed(err error) error {
	p.totals.failures.Add(1)
	log.Warningf("%v", err)
	return err
}
