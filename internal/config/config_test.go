package config

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/RunningShrimp/vm-sub001/internal/engine"
	"github.com/RunningShrimp/vm-sub001/internal/regmap"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), FileName)
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestDefaults(t *testing.T) {
	c := Default()
	want := CacheConfig{Pattern: 10000, Encoding: 10000, Result: 1000}
	if diff := cmp.Diff(want, c.Cache); diff != "" {
		t.Errorf("default capacities (-want +got):\n%s", diff)
	}
	if err := c.Validate(); err != nil {
		t.Errorf("defaults must validate: %v", err)
	}
	if c.WorkerCount() < 1 {
		t.Errorf("worker count = %d", c.WorkerCount())
	}
}

func TestLoadFile(t *testing.T) {
	path := writeConfig(t, `
[cache]
pattern = 2
result = 50

[pipeline]
workers = 3
strict = true
default_strategy = "spill"

[strategies]
"x86_64->riscv64" = "windowed"

[byte_order]
riscv64 = "big"
`)
	c, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	want := CacheConfig{Pattern: 2, Encoding: DefaultEncodingCache, Result: 50}
	if diff := cmp.Diff(want, c.Cache); diff != "" {
		t.Errorf("capacities (-want +got):\n%s", diff)
	}
	if c.WorkerCount() != 3 || !c.Pipeline.Strict {
		t.Errorf("pipeline = %+v", c.Pipeline)
	}
	if got := c.Strategy(engine.Pair{From: engine.ArchX86_64, To: engine.ArchRiscv64}); got != regmap.Windowed {
		t.Errorf("x86_64->riscv64 strategy = %v, want windowed", got)
	}
	if got := c.Strategy(engine.Pair{From: engine.ArchARM64, To: engine.ArchX86_64}); got != regmap.SpillBased {
		t.Errorf("fallback strategy = %v, want spill", got)
	}
	if c.ByteOrderFor(engine.ArchRiscv64) != binary.BigEndian {
		t.Error("riscv64 byte order override ignored")
	}
	if c.ByteOrderFor(engine.ArchX86_64) != binary.LittleEndian {
		t.Error("x86_64 should stay little endian")
	}
	if c.Path != path {
		t.Errorf("Path = %q", c.Path)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("XLATE_PATTERN_CACHE", "7")
	t.Setenv("XLATE_WORKERS", "5")
	t.Setenv("XLATE_STRICT", "true")
	t.Setenv("XLATE_STRATEGY", "windowed")

	path := writeConfig(t, "[cache]\npattern = 100\n")
	c, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if c.Cache.Pattern != 7 {
		t.Errorf("env must win over the file: pattern = %d", c.Cache.Pattern)
	}
	if c.WorkerCount() != 5 || !c.Pipeline.Strict || c.Pipeline.DefaultStrategy != "windowed" {
		t.Errorf("pipeline = %+v", c.Pipeline)
	}
}

// Variables set after an earlier Load still apply
func TestEnvReadOnEveryLoad(t *testing.T) {
	if _, err := Load(""); err != nil {
		t.Fatal(err)
	}
	t.Setenv("XLATE_RESULT_CACHE", "42")
	c, err := Load("")
	if err != nil {
		t.Fatal(err)
	}
	if c.Cache.Result != 42 {
		t.Errorf("result cache = %d, want 42", c.Cache.Result)
	}
}

func TestCloneCopiesMaps(t *testing.T) {
	c := Default()
	c.SetStrategy(engine.Pair{From: engine.ArchARM64, To: engine.ArchX86_64}, regmap.SpillBased)
	c.ByteOrder["riscv64"] = "big"

	d := c.Clone()
	c.SetStrategy(engine.Pair{From: engine.ArchARM64, To: engine.ArchX86_64}, regmap.Windowed)
	c.ByteOrder["riscv64"] = "little"

	want := map[string]string{"aarch64->x86_64": "spill"}
	if diff := cmp.Diff(want, d.Strategies); diff != "" {
		t.Errorf("clone strategies (-want +got):\n%s", diff)
	}
	if d.ByteOrder["riscv64"] != "big" {
		t.Errorf("clone byte order = %v", d.ByteOrder)
	}
}

func TestValidateErrors(t *testing.T) {
	tests := []struct {
		name   string
		body   string
		errHas string
	}{
		{"zero capacity", "[cache]\nencoding = 0\n", "encoding cache"},
		{"negative result", "[cache]\nresult = -1\n", "result cache"},
		{"bad strategy", "[strategies]\n\"x86_64->arm64\" = \"fancy\"\n", "fancy"},
		{"bad pair", "[strategies]\n\"x86_64\" = \"direct\"\n", "pair"},
		{"bad order", "[byte_order]\narm64 = \"middle\"\n", "middle"},
		{"bad arch", "[byte_order]\nmips = \"big\"\n", "mips"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.body))
			if err == nil {
				t.Fatal("expected an error")
			}
			if !strings.Contains(err.Error(), tt.errHas) {
				t.Errorf("error %q should mention %q", err, tt.errHas)
			}
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.toml"))
	if err == nil || !strings.Contains(err.Error(), "cannot read") {
		t.Errorf("err = %v", err)
	}
}

func TestLoadParseError(t *testing.T) {
	_, err := Load(writeConfig(t, "[cache\n"))
	if err == nil || !strings.Contains(err.Error(), "parse error") {
		t.Errorf("err = %v", err)
	}
}

func TestSetStrategy(t *testing.T) {
	c := Default()
	p := engine.Pair{From: engine.ArchRiscv64, To: engine.ArchX86_64}
	c.SetStrategy(p, regmap.SpillBased)
	if c.Strategy(p) != regmap.SpillBased {
		t.Errorf("Strategy = %v", c.Strategy(p))
	}
	if err := c.Validate(); err != nil {
		t.Error(err)
	}
}
