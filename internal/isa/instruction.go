// Completion: 100% - Instruction model complete
package isa

import (
	"fmt"
	"slices"
	"strings"

	"github.com/fxamacker/cbor/v2"

	"github.com/RunningShrimp/vm-sub001/internal/engine"
)

// Instruction is one decoded guest instruction. It is treated as an
// immutable value: the With* helpers return modified copies.
type Instruction struct {
	Arch     engine.Arch
	Op       Opcode
	Operands []Operand
	// Raw holds the guest bytes when the decoder supplied them
	Raw []byte
}

// New builds an instruction without raw bytes
func New(arch engine.Arch, op Opcode, operands ...Operand) Instruction {
	return Instruction{Arch: arch, Op: op, Operands: slices.Clone(operands)}
}

// WithOperands returns a copy of i with a new operand list
func (i Instruction) WithOperands(operands ...Operand) Instruction {
	i.Operands = slices.Clone(operands)
	return i
}

// WithArch returns a copy of i retargeted to arch. Raw bytes belong to the
// original architecture and are dropped.
func (i Instruction) WithArch(arch engine.Arch) Instruction {
	i.Arch = arch
	i.Raw = nil
	i.Operands = slices.Clone(i.Operands)
	return i
}

// WithOp returns a copy of i with a different opcode
func (i Instruction) WithOp(op Opcode) Instruction {
	i.Op = op
	i.Operands = slices.Clone(i.Operands)
	return i
}

// Equal compares architecture, opcode and operands by value
func (i Instruction) Equal(j Instruction) bool {
	return i.Arch == j.Arch && i.Op == j.Op && slices.EqualFunc(i.Operands, j.Operands, Operand.Equal)
}

func (i Instruction) String() string {
	if len(i.Operands) == 0 {
		return i.Op.String()
	}
	parts := make([]string, len(i.Operands))
	for n, o := range i.Operands {
		parts[n] = o.String()
	}
	return i.Op.String() + " " + strings.Join(parts, ", ")
}

// ArchSet is a set of architectures. The empty set means "all".
type ArchSet uint8

func Archs(archs ...engine.Arch) ArchSet {
	var s ArchSet
	for _, a := range archs {
		s |= 1 << uint(a)
	}
	return s
}

func (s ArchSet) Has(a engine.Arch) bool {
	return s == 0 || s&(1<<uint(a)) != 0
}

func (s ArchSet) String() string {
	if s == 0 {
		return "any"
	}
	var parts []string
	for _, a := range engine.All() {
		if s&(1<<uint(a)) != 0 {
			parts = append(parts, a.String())
		}
	}
	return strings.Join(parts, ",")
}

var keyEncMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("isa: cbor canonical mode: %v", err))
	}
	keyEncMode = em
}

type valueKey struct {
	_        struct{} `cbor:",toarray"`
	Arch     engine.Arch
	Op       Opcode
	Operands []Operand
}

type blockKey struct {
	_        struct{} `cbor:",toarray"`
	Arch     engine.Arch
	Op       Opcode
	Operands []Operand
	Raw      []byte
}

// Key returns the canonical encoding of (arch, opcode, operands).
// Two instructions have the same key exactly when Equal reports true.
func (i Instruction) Key() (string, error) {
	ops := i.Operands
	if len(ops) == 0 {
		ops = nil
	}
	b, err := keyEncMode.Marshal(valueKey{Arch: i.Arch, Op: i.Op, Operands: ops})
	if err != nil {
		return "", fmt.Errorf("cannot encode key for %s: %w", i, err)
	}
	return string(b), nil
}

// BlockFingerprint returns the canonical encoding of a whole instruction
// sequence, raw bytes included.
func BlockFingerprint(insts []Instruction) ([]byte, error) {
	keys := make([]blockKey, len(insts))
	for n, i := range insts {
		keys[n] = blockKey{Arch: i.Arch, Op: i.Op, Operands: i.Operands, Raw: i.Raw}
	}
	b, err := keyEncMode.Marshal(keys)
	if err != nil {
		return nil, fmt.Errorf("cannot fingerprint block of %d instructions: %w", len(insts), err)
	}
	return b, nil
}
