// Command pcc compiles a Pipit pipeline description into a scheduled
// C++ translation unit, or reports any of the compiler's intermediate
// artifacts via --emit.
//
// Usage:
//
//	pcc <source.pdl> --actor-meta <manifest.json> --emit cpp
//	pcc --emit manifest -I include/ --actor-path actors/ > actors.json
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	flag "github.com/spf13/pflag"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/pipit-lang/pcc/internal/diag"
	"github.com/pipit-lang/pcc/internal/passmetrics"
	"github.com/pipit-lang/pcc/internal/projectcfg"
)

// Version information, set via -ldflags at build time.
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	fs := flag.NewFlagSet("pcc", flag.ContinueOnError)

	actorMeta := fs.String("actor-meta", "", "path to a manifest produced by --emit manifest")
	includeDirs := fs.StringArray("I", nil, "include directory for actor header probing (repeatable)")
	actorPaths := fs.StringArray("actor-path", nil, "actor header to include in the probe, in overlay order (repeatable)")
	emit := fs.String("emit", "", "stage to emit: ast, manifest, build-info, graph, graph-dot, schedule, timing-chart, cpp, exe")
	output := fs.StringP("output", "o", "", "output path (defaults to stdout for non-binary stages)")
	cc := fs.String("cc", "", "C++ compiler driver to invoke (default: c++)")
	diagFormat := fs.String("diagnostic-format", "human", "diagnostic rendering: human or json")
	metricsAddr := fs.String("metrics-addr", "", "HTTP listen address for Prometheus metrics (empty to disable)")
	cacheDir := fs.String("cache-dir", "", "directory for memoizing pass artifacts between runs (empty to disable)")
	noColor := fs.Bool("no-color", false, "disable ANSI color in human diagnostic output")
	showVersion := fs.Bool("version", false, "show version and exit")
	debug := fs.Bool("debug", false, "emit debug-level pass/registry/schedule events to stderr")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, `pcc - Pipit compiler

Usage:
  pcc [source.pdl] [options]

Compiles a .pdl pipeline description to a scheduled C++ translation
unit. The positional source argument is read from stdin if omitted or
given as "-"; it is not required for --emit manifest.

Options:
`)
		fs.PrintDefaults()
		fmt.Fprintf(os.Stderr, `
Examples:
  pcc --emit manifest -I include/ --actor-path actors/dsp.hpp > actors.json
  pcc pipeline.pdl --actor-meta actors.json --emit cpp -o pipeline.cpp
  pcc pipeline.pdl --actor-meta actors.json --emit exe --cc clang++ -o pipeline
`)
	}

	if err := fs.Parse(args); err != nil {
		if err == flag.ErrHelp {
			return diag.ExitOK
		}
		return diag.ExitUsage
	}

	if *showVersion {
		fmt.Printf("pcc version %s\n", version)
		fmt.Printf("commit: %s\n", commit)
		fmt.Printf("built: %s\n", date)
		return diag.ExitOK
	}

	cfg, err := projectcfg.LoadFromDir(".")
	if err != nil {
		fmt.Fprintf(os.Stderr, "pcc: %v\n", err)
		return diag.ExitEnvironment
	}

	emitStage := *emit
	if emitStage == "" {
		emitStage = cfg.Emit.Default
	}

	logLevel := slog.LevelInfo
	if *debug {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))

	opts := Options{
		SourcePath:    fs.Arg(0),
		ActorMetaPath: projectcfg.MergeFlag(*actorMeta, cfg.Registry.ActorMetaPath),
		IncludeDirs:   projectcfg.MergeStringSlice(*includeDirs, cfg.Registry.IncludeDirs),
		ActorPaths:    projectcfg.MergeStringSlice(*actorPaths, cfg.Registry.ActorPaths),
		Emit:          emitStage,
		OutputPath:    *output,
		CC:            projectcfg.MergeFlag(*cc, cfg.Cpp.Compiler),
		DiagnosticFmt: diag.Format(*diagFormat),
		CacheDir:      *cacheDir,
		NoColor:       *noColor,
		Logger:        logger,
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if *metricsAddr != "" {
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.Handler())
			srv := &http.Server{Addr: *metricsAddr, Handler: mux}
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				fmt.Fprintf(os.Stderr, "pcc: metrics server: %v\n", err)
			}
		}()

		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
		go func() {
			<-sigChan
			cancel()
		}()
	}

	recorder := passmetrics.NewRecorder()
	CompilerVersion = version

	return Run(ctx, opts, os.Stdout, os.Stderr, recorder)
}
