// Completion: 100% - Translation error taxonomy complete
package pipeline

import (
	"errors"
	"fmt"
	"strings"

	"github.com/RunningShrimp/vm-sub001/internal/engine"
	"github.com/RunningShrimp/vm-sub001/internal/isa"
)

// Kind classifies a translation failure
type Kind int

const (
	UnsupportedInstruction Kind = iota
	RegisterMappingFailure
	MemoryNormalizationFailure
	EncodingFailure
	CacheInconsistency
)

func (k Kind) String() string {
	switch k {
	case UnsupportedInstruction:
		return "unsupported instruction"
	case RegisterMappingFailure:
		return "register mapping failure"
	case MemoryNormalizationFailure:
		return "memory normalization failure"
	case EncodingFailure:
		return "encoding failure"
	case CacheInconsistency:
		return "cache inconsistency"
	default:
		return "unknown"
	}
}

// Sentinels matching every TranslationError of a kind with errors.Is
var (
	ErrUnsupported   = &kindError{UnsupportedInstruction}
	ErrRegisterMap   = &kindError{RegisterMappingFailure}
	ErrNormalization = &kindError{MemoryNormalizationFailure}
	ErrEncoding      = &kindError{EncodingFailure}
	ErrInconsistent  = &kindError{CacheInconsistency}
)

type kindError struct {
	kind Kind
}

func (e *kindError) Error() string {
	return e.kind.String()
}

// Stage is the pipeline step a block was in when it failed
type Stage int

const (
	StageCacheLookup Stage = iota
	StagePattern
	StageRegisterMap
	StageNormalize
	StageEncode
	StageAssemble
	StageCacheStore
)

var stageNames = [...]string{
	StageCacheLookup: "cache-lookup",
	StagePattern:     "pattern",
	StageRegisterMap: "register-map",
	StageNormalize:   "normalize",
	StageEncode:      "encode",
	StageAssemble:    "assemble",
	StageCacheStore:  "cache-store",
}

func (s Stage) String() string {
	if s >= 0 && int(s) < len(stageNames) {
		return stageNames[s]
	}
	return "unknown"
}

// TranslationError reports why a block could not be translated. Position
// is the index of the failing instruction in the block, -1 when the
// failure is not tied to one; Operand is -1 when no operand is involved.
type TranslationError struct {
	Kind     Kind
	Stage    Stage
	Source   engine.Arch
	Dest     engine.Arch
	Position int
	Op       isa.Opcode
	Operand  int
	Err      error
}

func (e *TranslationError) Error() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s->%s: %s", e.Source, e.Dest, e.Kind)
	if e.Position >= 0 {
		fmt.Fprintf(&sb, " at instruction %d (%s)", e.Position, e.Op)
	}
	if e.Operand >= 0 {
		fmt.Fprintf(&sb, " operand %d", e.Operand)
	}
	if e.Err != nil {
		sb.WriteString(": ")
		sb.WriteString(e.Err.Error())
	}
	return sb.String()
}

func (e *TranslationError) Unwrap() error {
	return e.Err
}

// Is matches the kind sentinels, so errors.Is(err, ErrEncoding) holds for
// every encoding failure
func (e *TranslationError) Is(target error) bool {
	k, ok := target.(*kindError)
	return ok && k.kind == e.Kind
}

// Format returns a multi-line description for terminal output
func (e *TranslationError) Format(useColor bool) string {
	var sb strings.Builder

	if useColor {
		sb.WriteString("\033[1;31m")
	}
	sb.WriteString("error: ")
	if useColor {
		sb.WriteString("\033[0m")
	}
	sb.WriteString(e.Kind.String())
	sb.WriteString("\n")

	if useColor {
		sb.WriteString("\033[1;34m")
	}
	fmt.Fprintf(&sb, "  --> %s->%s, stage %s", e.Source, e.Dest, e.Stage)
	if e.Position >= 0 {
		fmt.Fprintf(&sb, ", instruction %d", e.Position)
	}
	if useColor {
		sb.WriteString("\033[0m")
	}
	sb.WriteString("\n")

	if e.Position >= 0 {
		fmt.Fprintf(&sb, "   | %s", e.Op)
		if e.Operand >= 0 {
			fmt.Fprintf(&sb, " (operand %d)", e.Operand)
		}
		sb.WriteString("\n")
	}

	if e.Err != nil {
		if useColor {
			sb.WriteString("\033[1;36m")
		}
		sb.WriteString("   note: ")
		if useColor {
			sb.WriteString("\033[0m")
		}
		sb.WriteString(e.Err.Error())
		sb.WriteString("\n")
	}
	return sb.String()
}

// KindOf returns the kind of a translation error, false for other errors
func KindOf(err error) (Kind, bool) {
	var te *TranslationError
	if errors.As(err, &te) {
		return te.Kind, true
	}
	return 0, false
}
