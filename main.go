// Completion: 95% - CLI interface complete, all flags working
package main

import (
	"flag"
	"fmt"
	"os"

	_ "github.com/tliron/commonlog/simple"

	"github.com/RunningShrimp/vm-sub001/internal/config"
	"github.com/RunningShrimp/vm-sub001/internal/engine"
	"github.com/RunningShrimp/vm-sub001/internal/regmap"
	"github.com/RunningShrimp/vm-sub001/internal/xlog"
)

// Translates instruction blocks between x86_64, aarch64 and riscv64

const versionString = "xlate 0.9.0"

func main() {
	// NOTE: Go's flag package stops parsing at the first non-flag argument
	// So flags must come BEFORE the command: xlate -from arm64 translate prog.s
	var configFlag = flag.String("config", "", "configuration file (default: ./"+config.FileName+" when present)")
	var fromFlag = flag.String("from", "amd64", "source architecture (amd64, arm64, riscv64)")
	var toFlag = flag.String("to", "arm64", "destination architecture (amd64, arm64, riscv64)")
	var strategyFlag = flag.String("strategy", "", "register mapping strategy for this pair (direct, windowed, spill)")
	var repeatFlag = flag.Int("repeat", 1, "translate the program this many times")
	var codeFlag = flag.String("c", "", "translate instructions from the command line, separated by ';'")
	var verbose = flag.Int("v", 0, "log verbosity (1 info, 2 debug)")
	var statsFlag = flag.Bool("stats", false, "print cache statistics after translating")
	var metricsFlag = flag.String("metrics", "", "serve Prometheus metrics on this address while watching (e.g. :9100)")
	var version = flag.Bool("version", false, "print version information and exit")
	flag.Parse()

	if *version {
		fmt.Println(versionString)
		os.Exit(0)
	}

	path := *configFlag
	if path == "" {
		if _, err := os.Stat(config.FileName); err == nil {
			path = config.FileName
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	verbosity := cfg.Log.Verbosity
	flag.Visit(func(f *flag.Flag) {
		if f.Name == "v" {
			verbosity = *verbose
		}
	})
	xlog.Configure(verbosity)

	from, err := engine.ParseArch(*fromFlag)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: invalid -from: %v\n", err)
		os.Exit(1)
	}
	to, err := engine.ParseArch(*toFlag)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: invalid -to: %v\n", err)
		os.Exit(1)
	}
	if *strategyFlag != "" {
		s, err := regmap.ParseStrategy(*strategyFlag)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		cfg.SetStrategy(engine.Pair{From: from, To: to}, s)
	}
	if *repeatFlag < 1 {
		fmt.Fprintf(os.Stderr, "Error: -repeat must be at least 1, got %d\n", *repeatFlag)
		os.Exit(1)
	}

	ctx := &CommandContext{
		Args:    flag.Args(),
		Config:  cfg,
		From:    from,
		To:      to,
		Repeat:  *repeatFlag,
		Code:    *codeFlag,
		Stats:   *statsFlag,
		Metrics: *metricsFlag,
		Verbose: verbosity > 0,
		Out:     os.Stdout,
		In:      os.Stdin,
	}
	if err := RunCLI(ctx); err != nil {
		fmt.Fprint(os.Stderr, formatError(err))
		os.Exit(1)
	}
}
