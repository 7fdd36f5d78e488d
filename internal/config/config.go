// Package config loads translator settings: built-in defaults, then an
// optional xlate.toml file, then XLATE_* environment variables.
package config

import (
	"encoding/binary"
	"fmt"
	"maps"
	"os"
	"runtime"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/xyproto/env/v2"

	"github.com/RunningShrimp/vm-sub001/internal/engine"
	"github.com/RunningShrimp/vm-sub001/internal/regmap"
)

// Default cache capacities
const (
	DefaultPatternCache  = 10000
	DefaultEncodingCache = 10000
	DefaultResultCache   = 1000
)

// FileName is the conventional config file name
const FileName = "xlate.toml"

// Config is the complete translator configuration
type Config struct {
	Cache    CacheConfig    `toml:"cache"`
	Pipeline PipelineConfig `toml:"pipeline"`
	// Strategies maps "from->to" pairs to a strategy name
	Strategies map[string]string `toml:"strategies"`
	// ByteOrder overrides the data byte order per architecture ("big" or "little")
	ByteOrder map[string]string `toml:"byte_order"`
	Log       LogConfig         `toml:"log"`

	// Path is the file the config was read from, if any
	Path string `toml:"-"`
}

// CacheConfig holds the three cache capacities
type CacheConfig struct {
	Pattern  int `toml:"pattern"`
	Encoding int `toml:"encoding"`
	Result   int `toml:"result"`
}

// PipelineConfig holds translation settings
type PipelineConfig struct {
	Workers         int    `toml:"workers"`
	Strict          bool   `toml:"strict"`
	DefaultStrategy string `toml:"default_strategy"`
	WindowSize      int    `toml:"window_size"`
	SpillSlots      int    `toml:"spill_slots"`
}

// LogConfig holds logging settings
type LogConfig struct {
	Verbosity int `toml:"verbosity"`
}

// Default returns the built-in configuration
func Default() *Config {
	return &Config{
		Cache: CacheConfig{
			Pattern:  DefaultPatternCache,
			Encoding: DefaultEncodingCache,
			Result:   DefaultResultCache,
		},
		Pipeline: PipelineConfig{
			Workers:         runtime.GOMAXPROCS(0),
			DefaultStrategy: regmap.Direct.String(),
			WindowSize:      regmap.DefaultWindowSize,
			SpillSlots:      regmap.DefaultSpillSlots,
		},
		Strategies: map[string]string{},
		ByteOrder:  map[string]string{},
	}
}

// Load reads path on top of the defaults and applies environment
// overrides. An empty path skips the file.
func Load(path string) (*Config, error) {
	c := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("cannot read %s: %w", path, err)
		}
		if err := toml.Unmarshal(data, c); err != nil {
			return nil, fmt.Errorf("parse error in %s: %w", path, err)
		}
		c.Path = path
	}
	c.ApplyEnv()
	if err := c.Validate(); err != nil {
		if path != "" {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		return nil, err
	}
	return c, nil
}

// ApplyEnv overrides settings from XLATE_* environment variables. The
// environment is read again on every call.
func (c *Config) ApplyEnv() {
	env.Load()
	c.Cache.Pattern = env.Int("XLATE_PATTERN_CACHE", c.Cache.Pattern)
	c.Cache.Encoding = env.Int("XLATE_ENCODING_CACHE", c.Cache.Encoding)
	c.Cache.Result = env.Int("XLATE_RESULT_CACHE", c.Cache.Result)
	c.Pipeline.Workers = env.Int("XLATE_WORKERS", c.Pipeline.Workers)
	c.Pipeline.DefaultStrategy = env.Str("XLATE_STRATEGY", c.Pipeline.DefaultStrategy)
	if env.Has("XLATE_STRICT") {
		c.Pipeline.Strict = env.Bool("XLATE_STRICT")
	}
	c.Log.Verbosity = env.Int("XLATE_VERBOSITY", c.Log.Verbosity)
}

// Validate rejects settings the pipeline cannot run with
func (c *Config) Validate() error {
	if c.Cache.Pattern <= 0 {
		return fmt.Errorf("pattern cache capacity must be positive, got %d", c.Cache.Pattern)
	}
	if c.Cache.Encoding <= 0 {
		return fmt.Errorf("encoding cache capacity must be positive, got %d", c.Cache.Encoding)
	}
	if c.Cache.Result <= 0 {
		return fmt.Errorf("result cache capacity must be positive, got %d", c.Cache.Result)
	}
	if c.Pipeline.Workers < 0 {
		return fmt.Errorf("worker count cannot be negative, got %d", c.Pipeline.Workers)
	}
	if c.Pipeline.WindowSize < 0 || c.Pipeline.SpillSlots < 0 {
		return fmt.Errorf("window size and spill slots cannot be negative")
	}
	if _, err := regmap.ParseStrategy(c.Pipeline.DefaultStrategy); err != nil {
		return fmt.Errorf("default strategy: %w", err)
	}
	for name, strategy := range c.Strategies {
		if _, err := engine.ParsePair(name); err != nil {
			return fmt.Errorf("strategies: %w", err)
		}
		if _, err := regmap.ParseStrategy(strategy); err != nil {
			return fmt.Errorf("strategies.%q: %w", name, err)
		}
	}
	for name, order := range c.ByteOrder {
		if _, err := engine.ParseArch(name); err != nil {
			return fmt.Errorf("byte_order: %w", err)
		}
		if _, err := parseOrder(order); err != nil {
			return fmt.Errorf("byte_order.%s: %w", name, err)
		}
	}
	return nil
}

// Clone returns a deep copy, maps included
func (c *Config) Clone() *Config {
	d := *c
	d.Strategies = maps.Clone(c.Strategies)
	d.ByteOrder = maps.Clone(c.ByteOrder)
	return &d
}

// WorkerCount returns the worker pool size, GOMAXPROCS when unset
func (c *Config) WorkerCount() int {
	if c.Pipeline.Workers > 0 {
		return c.Pipeline.Workers
	}
	return runtime.GOMAXPROCS(0)
}

// Strategy returns the mapping strategy for a pair, falling back to the
// default strategy
func (c *Config) Strategy(p engine.Pair) regmap.Strategy {
	for name, strategy := range c.Strategies {
		q, err := engine.ParsePair(name)
		if err != nil || q != p {
			continue
		}
		if s, err := regmap.ParseStrategy(strategy); err == nil {
			return s
		}
	}
	s, err := regmap.ParseStrategy(c.Pipeline.DefaultStrategy)
	if err != nil {
		return regmap.Direct
	}
	return s
}

// SetStrategy records a strategy for one pair
func (c *Config) SetStrategy(p engine.Pair, s regmap.Strategy) {
	if c.Strategies == nil {
		c.Strategies = map[string]string{}
	}
	c.Strategies[p.String()] = s.String()
}

// ByteOrderFor returns the data byte order of arch, honouring overrides
func (c *Config) ByteOrderFor(arch engine.Arch) binary.ByteOrder {
	for name, order := range c.ByteOrder {
		a, err := engine.ParseArch(name)
		if err != nil || a != arch {
			continue
		}
		if bo, err := parseOrder(order); err == nil {
			return bo
		}
	}
	return arch.ByteOrder()
}

// MapperOptions returns the register mapper sizing options
func (c *Config) MapperOptions() regmap.Options {
	return regmap.Options{
		WindowSize: c.Pipeline.WindowSize,
		SpillSlots: c.Pipeline.SpillSlots,
	}
}

func parseOrder(s string) (binary.ByteOrder, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "little", "le", "little-endian":
		return binary.LittleEndian, nil
	case "big", "be", "big-endian":
		return binary.BigEndian, nil
	}
	return nil, fmt.Errorf("unknown byte order %q (want big or little)", s)
}
