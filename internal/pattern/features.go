package pattern

import (
	"encoding/binary"

	"github.com/RunningShrimp/vm-sub001/internal/engine"
)

// FeatureSet is what the opcode bits of an unmatched instruction reveal
type FeatureSet struct {
	Load       bool
	Store      bool
	Branch     bool
	Arith      bool
	Vector     bool
	Float      bool
	Compressed bool
}

// featureKinds in the order Kind picks them
var featureKinds = []string{"vector", "float", "load", "store", "branch", "arith", "compressed"}

// Kind returns the most specific feature name, or "" when nothing was
// recognised
func (f FeatureSet) Kind() string {
	for i, set := range []bool{f.Vector, f.Float, f.Load, f.Store, f.Branch, f.Arith, f.Compressed} {
		if set {
			return featureKinds[i]
		}
	}
	return ""
}

func featurePrefix(arch engine.Arch) string {
	switch arch {
	case engine.ArchX86_64:
		return "x86"
	case engine.ArchARM64:
		return "arm64"
	case engine.ArchRiscv64:
		return "riscv"
	}
	return arch.String()
}

func featureLabel(arch engine.Arch, kind string) string {
	return featurePrefix(arch) + "_" + kind
}

// Features extracts coarse features from the leading instruction bytes
func Features(arch engine.Arch, b []byte) FeatureSet {
	switch arch {
	case engine.ArchX86_64:
		return x86Features(b)
	case engine.ArchARM64:
		return arm64Features(b)
	case engine.ArchRiscv64:
		return riscvFeatures(b)
	}
	return FeatureSet{}
}

func riscvFeatures(b []byte) FeatureSet {
	var f FeatureSet
	if len(b) < 2 {
		return f
	}
	if b[0]&3 != 3 {
		f.Compressed = true
		return f
	}
	if len(b) < 4 {
		return f
	}
	switch b[0] & 0x7f {
	case 0x03:
		f.Load = true
	case 0x23:
		f.Store = true
	case 0x63, 0x6f, 0x67:
		f.Branch = true
	case 0x13, 0x1b, 0x33, 0x3b, 0x37, 0x17:
		f.Arith = true
	case 0x57:
		f.Vector = true
	case 0x07, 0x27, 0x43, 0x47, 0x4b, 0x4f, 0x53:
		f.Float = true
	}
	return f
}

func arm64Features(b []byte) FeatureSet {
	var f FeatureSet
	if len(b) < 4 {
		return f
	}
	w := binary.LittleEndian.Uint32(b)
	op0 := w >> 25 & 0xf
	switch {
	case op0&0x5 == 0x4: // x1x0: loads and stores
		if w>>26&1 == 1 {
			f.Vector = true
		} else if w>>22&1 == 1 {
			f.Load = true
		} else {
			f.Store = true
		}
	case op0&0xe == 0x8: // 100x: data processing, immediate
		f.Arith = true
	case op0&0xe == 0xa: // 101x: branches, exceptions, system
		f.Branch = true
	case op0&0x7 == 0x5: // x101: data processing, register
		f.Arith = true
	case op0&0x7 == 0x7: // x111: SIMD and floating point
		if w>>28&1 == 1 {
			f.Float = true
		} else {
			f.Vector = true
		}
	}
	return f
}

func x86Features(b []byte) FeatureSet {
	var f FeatureSet
	i := 0
	for i < len(b) && x86Prefix(b[i]) {
		i++
	}
	if i >= len(b) {
		return f
	}
	op := b[i]
	modrmReg := func() (reg byte, mod byte, ok bool) {
		if i+1 >= len(b) {
			return 0, 0, false
		}
		return b[i+1] >> 3 & 7, b[i+1] >> 6, true
	}

	switch {
	case op == 0x0f:
		if i+1 >= len(b) {
			return f
		}
		op2 := b[i+1]
		switch {
		case op2 >= 0x80 && op2 <= 0x8f:
			f.Branch = true
		case op2 == 0xb6 || op2 == 0xb7 || op2 == 0xbe || op2 == 0xbf:
			f.Load = true
		case op2 >= 0x10 && op2 <= 0x17, op2 >= 0x28 && op2 <= 0x2f, op2 >= 0x50 && op2 <= 0x5f:
			f.Float = true
		case op2 >= 0x60 && op2 <= 0x7f, op2 >= 0xd0:
			f.Vector = true
		case op2 == 0xaf, op2 >= 0x40 && op2 <= 0x4f:
			f.Arith = true
		}
	case op == 0xc4 || op == 0xc5 || op == 0x62:
		f.Vector = true
	case op >= 0xd8 && op <= 0xdf:
		f.Float = true
	case op == 0x8a || op == 0x8b || op == 0xa0 || op == 0xa1:
		if _, mod, ok := modrmReg(); op >= 0xa0 || (ok && mod != 3) {
			f.Load = true
		}
	case op == 0x88 || op == 0x89 || op == 0xa2 || op == 0xa3:
		if _, mod, ok := modrmReg(); op >= 0xa2 || (ok && mod != 3) {
			f.Store = true
		}
	case op >= 0x70 && op <= 0x7f, op == 0xe8, op == 0xe9, op == 0xeb, op == 0xc2, op == 0xc3, op >= 0xe0 && op <= 0xe3:
		f.Branch = true
	case op == 0xff:
		if reg, _, ok := modrmReg(); ok && reg >= 2 && reg <= 5 {
			f.Branch = true
		}
	case op < 0x40 && op&7 < 6, op == 0x69, op == 0x6b, op >= 0x80 && op <= 0x83,
		op == 0xc0, op == 0xc1, op >= 0xd0 && op <= 0xd3, op == 0xf6, op == 0xf7:
		f.Arith = true
	}
	return f
}

// x86Prefix reports legacy prefixes and REX
func x86Prefix(b byte) bool {
	switch b {
	case 0x26, 0x2e, 0x36, 0x3e, 0x64, 0x65, 0x66, 0x67, 0xf0, 0xf2, 0xf3:
		return true
	}
	return b&0xf0 == 0x40
}
