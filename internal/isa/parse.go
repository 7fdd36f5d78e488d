package isa

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/RunningShrimp/vm-sub001/internal/engine"
)

// ParseInstruction reads the textual form printed by Instruction.String:
//
//	add r0, r1, r2
//	load r3, qword [r1 + r2*8 + 16]
//	jmp loop
func ParseInstruction(arch engine.Arch, line string) (Instruction, error) {
	line = strings.TrimSpace(line)
	if line == "" {
		return Instruction{}, fmt.Errorf("empty instruction")
	}
	mnemonic, rest, _ := strings.Cut(line, " ")
	op, err := ParseOpcode(mnemonic)
	if err != nil {
		return Instruction{}, err
	}
	var operands []Operand
	for _, field := range splitOperands(rest) {
		o, err := parseOperand(field)
		if err != nil {
			return Instruction{}, fmt.Errorf("%s: %w", line, err)
		}
		operands = append(operands, o)
	}
	return New(arch, op, operands...), nil
}

// splitOperands splits on commas outside brackets
func splitOperands(s string) []string {
	var out []string
	depth := 0
	start := 0
	for i, ch := range s {
		switch ch {
		case '[', '{', '<':
			depth++
		case ']', '}', '>':
			depth--
		case ',':
			if depth == 0 {
				out = append(out, strings.TrimSpace(s[start:i]))
				start = i + 1
			}
		}
	}
	if tail := strings.TrimSpace(s[start:]); tail != "" {
		out = append(out, tail)
	}
	return out
}

func parseReg(s string) (Reg, error) {
	s = strings.TrimSpace(s)
	if len(s) < 2 || (s[0] != 'r' && s[0] != 'x') {
		return 0, fmt.Errorf("invalid register %q", s)
	}
	n, err := strconv.ParseUint(s[1:], 10, 8)
	if err != nil {
		return 0, fmt.Errorf("invalid register %q", s)
	}
	return Reg(n), nil
}

var sizePrefixes = map[string]uint8{"byte": 1, "word": 2, "dword": 4, "qword": 8, "xmmword": 16, "ymmword": 32}

func parseOperand(s string) (Operand, error) {
	switch {
	case strings.HasPrefix(s, "{") && strings.HasSuffix(s, "}"):
		var regs []Reg
		for _, f := range splitOperands(s[1 : len(s)-1]) {
			r, err := parseReg(f)
			if err != nil {
				return Operand{}, err
			}
			regs = append(regs, r)
		}
		return RegList(regs...), nil
	case strings.HasPrefix(s, "<") && strings.HasSuffix(s, ">"):
		var elems []Operand
		for _, f := range splitOperands(s[1 : len(s)-1]) {
			e, err := parseOperand(f)
			if err != nil {
				return Operand{}, err
			}
			elems = append(elems, e)
		}
		return Vec(elems...), nil
	case strings.HasPrefix(s, "#"):
		return Complex(s[1:]), nil
	case strings.Contains(s, "["):
		return parseMemory(s)
	case strings.Contains(s, ":"):
		a, b, _ := strings.Cut(s, ":")
		ra, err := parseReg(a)
		if err != nil {
			return Operand{}, err
		}
		rb, err := parseReg(b)
		if err != nil {
			return Operand{}, err
		}
		return Pair(ra, rb), nil
	}
	if v, err := strconv.ParseInt(s, 0, 64); err == nil {
		return Imm(v), nil
	}
	if r, err := parseReg(s); err == nil {
		return R(r), nil
	}
	return Label(s), nil
}

func parseMemory(s string) (Operand, error) {
	size := uint8(8)
	prefix, body, _ := strings.Cut(s, "[")
	if p := strings.TrimSpace(prefix); p != "" {
		sz, ok := sizePrefixes[p]
		if !ok {
			return Operand{}, fmt.Errorf("unknown size prefix %q", p)
		}
		size = sz
	}
	body = strings.TrimSuffix(strings.TrimSpace(body), "]")
	body = strings.ReplaceAll(body, "-", "+-")

	m := Memory{Scale: 1, Size: size}
	haveBase := false
	for _, term := range strings.Split(body, "+") {
		term = strings.ReplaceAll(strings.TrimSpace(term), " ", "")
		if term == "" {
			continue
		}
		if reg, scale, ok := strings.Cut(term, "*"); ok {
			r, err := parseReg(reg)
			if err != nil {
				return Operand{}, err
			}
			sc, err := strconv.ParseUint(scale, 10, 8)
			if err != nil {
				return Operand{}, fmt.Errorf("invalid scale %q", scale)
			}
			m.Index, m.Scale, m.HasIndex = r, uint8(sc), true
			continue
		}
		if v, err := strconv.ParseInt(term, 0, 64); err == nil {
			m.Offset += v
			continue
		}
		r, err := parseReg(term)
		if err != nil {
			return Operand{}, err
		}
		if !haveBase {
			m.Base, haveBase = r, true
		} else {
			m.Index, m.HasIndex = r, true
		}
	}
	if !haveBase {
		return Operand{}, fmt.Errorf("memory operand %q has no base register", s)
	}
	return Operand{Kind: KindMemory, Mem: &m}, nil
}
