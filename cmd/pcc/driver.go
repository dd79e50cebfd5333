package main

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/pipit-lang/pcc/internal/diag"
	"github.com/pipit-lang/pcc/internal/manifestcache"
	"github.com/pipit-lang/pcc/internal/passmetrics"
	"github.com/pipit-lang/pcc/pkg/analyze"
	"github.com/pipit-lang/pcc/pkg/astpdl"
	"github.com/pipit-lang/pcc/pkg/codegen"
	"github.com/pipit-lang/pcc/pkg/graph"
	"github.com/pipit-lang/pcc/pkg/hir"
	"github.com/pipit-lang/pcc/pkg/lir"
	"github.com/pipit-lang/pcc/pkg/parser"
	"github.com/pipit-lang/pcc/pkg/passmgr"
	"github.com/pipit-lang/pcc/pkg/registry"
	"github.com/pipit-lang/pcc/pkg/resolve"
	"github.com/pipit-lang/pcc/pkg/schedule"
	"github.com/pipit-lang/pcc/pkg/token"
	"github.com/pipit-lang/pcc/pkg/types"
)

// CompilerVersion is set via -ldflags at build time, the same pattern
// the teacher CLI uses for its own version/commit/date trio.
var CompilerVersion = "dev"

// Pass IDs for the compiler's own pipeline. These are internal wiring,
// distinct from the `--emit` stage names a user types on the CLI (one
// `--emit` target maps to exactly one of these IDs via stageTarget).
const (
	passAST      passmgr.ID = "ast"
	passResolved passmgr.ID = "resolved"
	passHIR      passmgr.ID = "hir"
	passTyped    passmgr.ID = "typed"
	passGraph    passmgr.ID = "graph"
	passAnalyzed passmgr.ID = "analyzed"
	passSchedule passmgr.ID = "schedule"
	passLIR      passmgr.ID = "lir"
	passCpp      passmgr.ID = "cpp"
)

// stageTarget maps a `--emit` flag value to the pass ID that produces
// it. "manifest" and "build-info" are not compiled pipeline stages —
// they're handled before the pass manager ever runs: manifest needs no
// source input at all, and build-info needs only the source bytes and
// the registry fingerprint.
var stageTarget = map[string]passmgr.ID{
	"ast":          passAST,
	"graph":        passGraph,
	"graph-dot":    passGraph,
	"schedule":     passSchedule,
	"timing-chart": passLIR,
	"cpp":          passCpp,
	"exe":          passCpp,
}

// typedArtifact bundles hir.Build's output with types.Infer's — graph.Build
// needs both, and the pass graph only has one output slot per pass.
type typedArtifact struct {
	prog  *hir.Program
	tinfo *types.Info
}

// Options carries every flag the driver needs, already parsed and
// defaulted by main.go.
type Options struct {
	SourcePath    string
	ActorMetaPath string
	IncludeDirs   []string
	ActorPaths    []string
	Emit          string
	OutputPath    string
	CC            string
	DiagnosticFmt diag.Format
	CacheDir      string
	NoColor       bool
	Logger        *slog.Logger
}

// stageError carries the diag.Bag a failing pass accumulated, so Run's
// caller can render it the same way regardless of which pass failed.
type stageError struct {
	stage string
	bag   *diag.Bag
}

func (e *stageError) Error() string {
	return fmt.Sprintf("%s: %d diagnostic(s)", e.stage, e.bag.Len())
}

// Run executes the compilation requested by opts and returns the
// process exit code. It never calls os.Exit itself so main.go stays
// the single place that terminates the process.
func Run(ctx context.Context, opts Options, stdout, stderr *os.File, recorder *passmetrics.Recorder) int {
	if opts.Emit == "manifest" {
		return runManifestStage(opts, stdout, stderr)
	}

	src, err := readSource(opts.SourcePath)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return diag.ExitEnvironment
	}
	sourceHash := hashBytes(src)

	reg, regFingerprint, bag := loadRegistryForStage(ctx, opts)
	if bag.HasErrors() {
		renderAndRecord(bag, opts, stderr, recorder)
		return diag.ExitCode(bag)
	}

	if opts.Emit == "build-info" {
		return runBuildInfoStage(opts, stdout, sourceHash, regFingerprint)
	}

	m := passmgr.New()
	pc := passmgr.NewContext()
	if opts.Logger != nil {
		pc.SetLogger(opts.Logger)
	}
	pc.Extra["source"] = src
	pc.Extra["sourcePath"] = opts.SourcePath
	pc.Extra["registry"] = reg
	pc.Extra["sourceHash"] = sourceHash
	pc.Extra["registryFingerprint"] = regFingerprint

	registerPipelinePasses(m)

	target, ok := stageTarget[opts.Emit]
	if !ok {
		fmt.Fprintf(stderr, "pcc: unknown --emit stage %q\n", opts.Emit)
		return diag.ExitUsage
	}

	var cache passmgr.Cache
	if opts.CacheDir != "" {
		if store, err := manifestcache.Open(opts.CacheDir); err == nil {
			cache = store
		}
	}

	artifact, err := m.Run(pc, target, cache, recorder)
	if err != nil {
		var se *stageError
		if errors.As(err, &se) {
			renderAndRecord(se.bag, opts, stderr, recorder)
			return diag.ExitCode(se.bag)
		}
		fmt.Fprintln(stderr, err)
		return diag.ExitEnvironment
	}

	return renderStage(opts, stdout, stderr, artifact)
}

func readSource(path string) ([]byte, error) {
	if path == "" || path == "-" {
		data, err := io.ReadAll(os.Stdin)
		if err != nil {
			return nil, fmt.Errorf("pcc: read stdin: %w", err)
		}
		return data, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("pcc: read %s: %w", path, err)
	}
	return data, nil
}

func hashBytes(b []byte) string {
	h := sha256.Sum256(b)
	return hex.EncodeToString(h[:])
}

func loadRegistryForStage(ctx context.Context, opts Options) (*registry.Registry, string, *diag.Bag) {
	if opts.ActorMetaPath != "" {
		reg, bag := registry.LoadManifest(opts.ActorMetaPath)
		if bag.HasErrors() {
			return nil, "", bag
		}
		fp, err := reg.Fingerprint()
		if err != nil {
			bag.Add(diag.New("X0803", token.Span{}, "compute registry fingerprint: %v", err))
			return nil, "", bag
		}
		return reg, fp, bag
	}

	if isCompilationStage(opts.Emit) {
		var bag diag.Bag
		bag.Add(diag.New("E0700", token.Span{}, "no actor metadata manifest supplied").
			WithHint("pass --actor-meta <path to a manifest built by --emit manifest>"))
		return nil, "", &bag
	}

	return registry.New(), "", &diag.Bag{}
}

func isCompilationStage(emit string) bool {
	switch emit {
	case "manifest", "ast", "build-info":
		return false
	default:
		return true
	}
}

func registerPipelinePasses(m *passmgr.Manager) {
	m.Register(&passmgr.Pass{
		ID: passAST,
		Run: func(c *passmgr.Context) (any, error) {
			src := c.Extra["source"].([]byte)
			prog, bag := parser.Parse(c.Extra["sourcePath"].(string), string(src))
			if bag.HasErrors() {
				return nil, &stageError{stage: "parse", bag: bag}
			}
			return prog, nil
		},
	})
	m.Register(&passmgr.Pass{
		ID:     passResolved,
		Inputs: []passmgr.ID{passAST},
		Run: func(c *passmgr.Context) (any, error) {
			ast, _ := c.Get(passAST)
			res, bag := resolve.Resolve(ast.(*astpdl.Program))
			if bag.HasErrors() {
				return nil, &stageError{stage: "resolve", bag: bag}
			}
			return res, nil
		},
	})
	m.Register(&passmgr.Pass{
		ID:     passHIR,
		Inputs: []passmgr.ID{passResolved},
		Run: func(c *passmgr.Context) (any, error) {
			res, _ := c.Get(passResolved)
			h, bag := hir.Build(res.(*resolve.Result))
			if bag.HasErrors() {
				return nil, &stageError{stage: "hir", bag: bag}
			}
			return h, nil
		},
	})
	m.Register(&passmgr.Pass{
		ID:     passTyped,
		Inputs: []passmgr.ID{passHIR},
		Run: func(c *passmgr.Context) (any, error) {
			h, _ := c.Get(passHIR)
			reg := c.Extra["registry"].(*registry.Registry)
			hp, tinfo, bag := types.Infer(h.(*hir.Program), reg)
			if bag.HasErrors() {
				return nil, &stageError{stage: "types", bag: bag}
			}
			return typedArtifact{prog: hp, tinfo: tinfo}, nil
		},
	})
	m.Register(&passmgr.Pass{
		ID:     passGraph,
		Inputs: []passmgr.ID{passTyped},
		Run: func(c *passmgr.Context) (any, error) {
			ta, _ := c.Get(passTyped)
			t := ta.(typedArtifact)
			reg := c.Extra["registry"].(*registry.Registry)
			g, bag := graph.Build(t.prog, reg, t.tinfo)
			if bag.HasErrors() {
				return nil, &stageError{stage: "graph", bag: bag}
			}
			return g, nil
		},
	})
	m.Register(&passmgr.Pass{
		ID:     passAnalyzed,
		Inputs: []passmgr.ID{passGraph},
		Run: func(c *passmgr.Context) (any, error) {
			g, _ := c.Get(passGraph)
			reg := c.Extra["registry"].(*registry.Registry)
			ar, bag := analyze.Analyze(g.(*graph.Program), reg)
			if bag.HasErrors() {
				return nil, &stageError{stage: "analyze", bag: bag}
			}
			return ar, nil
		},
	})
	m.Register(&passmgr.Pass{
		ID:     passSchedule,
		Inputs: []passmgr.ID{passGraph, passAnalyzed},
		Run: func(c *passmgr.Context) (any, error) {
			g, _ := c.Get(passGraph)
			ar, _ := c.Get(passAnalyzed)
			sr, bag := schedule.ScheduleWithLogger(g.(*graph.Program), ar.(*analyze.Result), c.Logger)
			if bag.HasErrors() {
				return nil, &stageError{stage: "schedule", bag: bag}
			}
			return sr, nil
		},
	})
	m.Register(&passmgr.Pass{
		ID:     passLIR,
		Inputs: []passmgr.ID{passHIR, passGraph, passAnalyzed, passSchedule},
		Run: func(c *passmgr.Context) (any, error) {
			h, _ := c.Get(passHIR)
			g, _ := c.Get(passGraph)
			ar, _ := c.Get(passAnalyzed)
			sr, _ := c.Get(passSchedule)
			reg := c.Extra["registry"].(*registry.Registry)
			lp, bag := lir.Build(h.(*hir.Program), g.(*graph.Program), ar.(*analyze.Result), sr.(*schedule.Result), reg)
			if bag.HasErrors() {
				return nil, &stageError{stage: "lir", bag: bag}
			}
			return lp, nil
		},
	})
	m.Register(&passmgr.Pass{
		ID:     passCpp,
		Inputs: []passmgr.ID{passLIR},
		Key: func(c *passmgr.Context) string {
			return passmgr.InvalidationKey(registry.ManifestSchemaVersion, CompilerVersion,
				c.Extra["registryFingerprint"].(string), c.Extra["sourceHash"].(string))
		},
		Run: func(c *passmgr.Context) (any, error) {
			lp, _ := c.Get(passLIR)
			out, err := codegen.Generate(lp.(*lir.Program), codegen.Options{
				SourceHash:          c.Extra["sourceHash"].(string),
				RegistryFingerprint: c.Extra["registryFingerprint"].(string),
				CompilerVersion:     CompilerVersion,
			})
			if err != nil {
				return nil, err
			}
			return out, nil
		},
		Encode: func(v any) ([]byte, error) { return v.([]byte), nil },
		Decode: func(data []byte) (any, error) { return data, nil },
	})
}

func renderAndRecord(bag *diag.Bag, opts Options, w *os.File, recorder *passmetrics.Recorder) {
	_ = diag.Render(w, bag, opts.DiagnosticFmt, opts.NoColor)
	if recorder != nil {
		passmetrics.RecordDiagnostics(bag)
	}
}

func runManifestStage(opts Options, stdout, stderr *os.File) int {
	cfg := registry.ProbeConfig{
		CC:           opts.CC,
		IncludeRoots: opts.IncludeDirs,
		ActorPaths:   opts.ActorPaths,
		Timeout:      60 * time.Second,
		Logger:       opts.Logger,
	}
	reg, bag := registry.BuildManifest(context.Background(), cfg)
	if bag.HasErrors() {
		_ = diag.Render(stderr, bag, opts.DiagnosticFmt, opts.NoColor)
		return diag.ExitCode(bag)
	}
	data, err := reg.DisplayJSON()
	if err != nil {
		fmt.Fprintf(stderr, "pcc: serialize manifest: %v\n", err)
		return diag.ExitEnvironment
	}
	return writeOutput(opts, stdout, data)
}

func runBuildInfoStage(opts Options, stdout *os.File, sourceHash, regFingerprint string) int {
	info := buildInfoJSON{
		SourceHash:            sourceHash,
		RegistryFingerprint:   regFingerprint,
		ManifestSchemaVersion: registry.ManifestSchemaVersion,
		CompilerVersion:       CompilerVersion,
	}
	data, err := marshalIndent(info)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return diag.ExitEnvironment
	}
	return writeOutput(opts, stdout, data)
}

type buildInfoJSON struct {
	SourceHash            string `json:"source_hash"`
	RegistryFingerprint   string `json:"registry_fingerprint"`
	ManifestSchemaVersion int    `json:"manifest_schema_version"`
	CompilerVersion       string `json:"compiler_version"`
}
