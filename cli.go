// Completion: 90% - Subcommand CLI for translating programs
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/xyproto/env/v2"

	"github.com/RunningShrimp/vm-sub001/internal/config"
	"github.com/RunningShrimp/vm-sub001/internal/engine"
	"github.com/RunningShrimp/vm-sub001/internal/pipeline"
)

// cli.go - command-line interface for xlate
//
// - xlate translate [file...] (default: translate files, -c code or stdin)
// - xlate bench [file...]     (translate -repeat times, print timings)
// - xlate watch <file...>    (retranslate whenever a file changes)
// - xlate mapping             (print the register table for -from/-to)
// - xlate help

// CommandContext holds the execution context for a CLI command
type CommandContext struct {
	Args    []string
	Config  *config.Config
	From    engine.Arch
	To      engine.Arch
	Repeat  int
	Code    string
	Stats   bool
	Metrics string
	Verbose bool
	Out     io.Writer
	In      io.Reader
}

// RunCLI dispatches on the first argument
func RunCLI(ctx *CommandContext) error {
	if len(ctx.Args) == 0 {
		return cmdTranslate(ctx, nil)
	}
	switch ctx.Args[0] {
	case "translate", "t":
		return cmdTranslate(ctx, ctx.Args[1:])
	case "bench":
		return cmdBench(ctx, ctx.Args[1:])
	case "watch":
		return cmdWatch(ctx, ctx.Args[1:])
	case "mapping", "map":
		return cmdMapping(ctx)
	case "help", "-h", "--help":
		return cmdHelp(ctx)
	}
	// Bare file names are shorthand for translate
	return cmdTranslate(ctx, ctx.Args)
}

// readSources returns the program text: -c code, the named files, or stdin
func readSources(ctx *CommandContext, files []string) (string, error) {
	if ctx.Code != "" {
		return strings.ReplaceAll(ctx.Code, ";", "\n"), nil
	}
	if len(files) == 0 || (len(files) == 1 && files[0] == "-") {
		data, err := io.ReadAll(ctx.In)
		if err != nil {
			return "", fmt.Errorf("cannot read stdin: %w", err)
		}
		return string(data), nil
	}
	var sb strings.Builder
	for _, f := range files {
		data, err := os.ReadFile(f)
		if err != nil {
			return "", fmt.Errorf("cannot read %s: %w", f, err)
		}
		sb.Write(data)
		sb.WriteString("\n\n")
	}
	return sb.String(), nil
}

func loadProgram(ctx *CommandContext, files []string) ([]sourceBlock, error) {
	text, err := readSources(ctx, files)
	if err != nil {
		return nil, err
	}
	blocks, err := parseProgram(ctx.From, text)
	if err != nil {
		return nil, err
	}
	if len(blocks) == 0 {
		return nil, errors.New("no instructions to translate")
	}
	return blocks, nil
}

func jobsFor(ctx *CommandContext, blocks []sourceBlock) []pipeline.Job {
	jobs := make([]pipeline.Job, len(blocks))
	for i, b := range blocks {
		jobs[i] = pipeline.Job{Source: ctx.From, Dest: ctx.To, Instructions: b.Insts}
	}
	return jobs
}

func cmdTranslate(ctx *CommandContext, files []string) error {
	p := pipeline.New(ctx.Config)
	if err := translateProgram(ctx, p, files); err != nil {
		return err
	}
	if ctx.Stats {
		fmt.Fprintln(ctx.Out)
		fmt.Fprintln(ctx.Out, p.CacheStatistics())
	}
	return nil
}

// translateProgram loads the program, translates it ctx.Repeat times on p
// and writes the listing of the last round
func translateProgram(ctx *CommandContext, p *pipeline.Pipeline, files []string) error {
	blocks, err := loadProgram(ctx, files)
	if err != nil {
		return err
	}
	jobs := jobsFor(ctx, blocks)

	var results []pipeline.Result
	for range max(1, ctx.Repeat) {
		results = p.TranslateMany(context.Background(), jobs)
	}
	for i, r := range results {
		if r.Err != nil {
			return fmt.Errorf("block %s: %w", blocks[i].Name(i), r.Err)
		}
		writeListing(ctx.Out, blocks[i], i, r.Block)
	}
	return nil
}

func cmdBench(ctx *CommandContext, files []string) error {
	blocks, err := loadProgram(ctx, files)
	if err != nil {
		return err
	}
	p := pipeline.New(ctx.Config)
	jobs := jobsFor(ctx, blocks)

	var cold time.Duration
	start := time.Now()
	for n := range ctx.Repeat {
		for i, r := range p.TranslateMany(context.Background(), jobs) {
			if r.Err != nil {
				return fmt.Errorf("block %s: %w", blocks[i].Name(i), r.Err)
			}
		}
		if n == 0 {
			cold = time.Since(start)
		}
	}
	total := time.Since(start)

	fmt.Fprintf(ctx.Out, "%d blocks %s -> %s, %d rounds\n", len(blocks), ctx.From, ctx.To, ctx.Repeat)
	fmt.Fprintf(ctx.Out, "first round %s, total %s\n", cold, total)
	if ctx.Repeat > 1 {
		fmt.Fprintf(ctx.Out, "warm rounds %s each\n", (total-cold)/time.Duration(ctx.Repeat-1))
	}
	fmt.Fprintln(ctx.Out, p.CacheStatistics())
	return nil
}

func cmdMapping(ctx *CommandContext) error {
	m, err := pipeline.New(ctx.Config).Mapper(ctx.From, ctx.To)
	if err != nil {
		return err
	}
	fmt.Fprintln(ctx.Out, m)
	for _, e := range m.Mappings() {
		fmt.Fprintf(ctx.Out, "  %-4s -> %s\n", e.Source, e.Dest)
	}
	st := m.Stats()
	if st.Unmapped > 0 {
		fmt.Fprintf(ctx.Out, "%d unmapped, %d scratch, %d spill slots\n", st.Unmapped, st.Scratch, st.SpillSlots)
	}
	return nil
}

func cmdHelp(ctx *CommandContext) error {
	fmt.Fprintf(ctx.Out, `%s - translate instruction blocks between architectures

Usage:
  xlate [flags] translate [file...]   translate files, -c code or stdin
  xlate [flags] bench [file...]       translate -repeat times and report timings
  xlate [flags] watch <file>...       retranslate whenever a file changes
  xlate [flags] mapping               print the register table for -from/-to
  xlate help

Programs have one instruction per line, for example
  loop:
    add r0, r0, r1
    load r2, qword [r1 + r3*8 + 16]
    jmp loop
A label or a blank line starts a new block. # and // start comments.

Flags must come before the command; run with -h to list them.
`, versionString)
	return nil
}

func writeListing(w io.Writer, src sourceBlock, i int, b *pipeline.Block) {
	fmt.Fprintf(w, "%s: %d instructions, %d bytes (%s -> %s)\n", src.Name(i), len(src.Insts), b.Len(), b.Source, b.Dest)
	for n, line := range src.Lines {
		start := b.Offsets[n]
		end := b.Len()
		if n+1 < len(b.Offsets) {
			end = b.Offsets[n+1]
		}
		fmt.Fprintf(w, "  %04x  %-32s %s\n", start, fmt.Sprintf("% x", b.Code[start:end]), line)
	}
	for _, f := range b.Fixups {
		fmt.Fprintf(w, "  fixup %04x %s (%s)\n", f.Offset, f.Label, f.Kind)
	}
	if b.SpillSlots > 0 {
		fmt.Fprintf(w, "  %d spill slots\n", b.SpillSlots)
	}
}

// formatError renders translation errors with context, others as one line
func formatError(err error) string {
	var te *pipeline.TranslationError
	if errors.As(err, &te) {
		useColor := !env.Has("NO_COLOR") && env.Str("TERM", "dumb") != "dumb"
		return fmt.Sprintf("%v\n%s", err, te.Format(useColor))
	}
	return fmt.Sprintf("Error: %v\n", err)
}
