package main

import (
	"fmt"
	"strings"

	"github.com/RunningShrimp/vm-sub001/internal/engine"
	"github.com/RunningShrimp/vm-sub001/internal/isa"
)

// sourceBlock is a run of program lines translated as one block
type sourceBlock struct {
	Label string
	Lines []string
	Insts []isa.Instruction
}

// Name returns the label, or "#i" for unlabeled blocks
func (b sourceBlock) Name(i int) string {
	if b.Label != "" {
		return b.Label
	}
	return fmt.Sprintf("#%d", i)
}

func stripComment(line string) string {
	if i := strings.Index(line, "//"); i >= 0 {
		line = line[:i]
	}
	if i := strings.IndexByte(line, '#'); i >= 0 {
		line = line[:i]
	}
	return strings.TrimSpace(line)
}

// isLabel reports whether line is a label definition such as "loop:"
func isLabel(line string) (string, bool) {
	name, ok := strings.CutSuffix(line, ":")
	if !ok || name == "" || strings.ContainsAny(name, " \t,[]") {
		return "", false
	}
	return name, true
}

// parseProgram splits text into blocks. A label line or a blank line
// ends the current block.
func parseProgram(arch engine.Arch, text string) ([]sourceBlock, error) {
	var blocks []sourceBlock
	var cur sourceBlock
	flush := func() {
		if len(cur.Insts) > 0 {
			blocks = append(blocks, cur)
		}
		cur = sourceBlock{}
	}

	for n, raw := range strings.Split(text, "\n") {
		if strings.TrimSpace(raw) == "" {
			flush()
			continue
		}
		line := stripComment(raw)
		if line == "" {
			continue
		}
		if name, ok := isLabel(line); ok {
			flush()
			cur.Label = name
			continue
		}
		inst, err := isa.ParseInstruction(arch, line)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", n+1, err)
		}
		cur.Lines = append(cur.Lines, line)
		cur.Insts = append(cur.Insts, inst)
	}
	flush()
	return blocks, nil
}
