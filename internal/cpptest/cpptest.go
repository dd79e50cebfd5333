// Package cpptest provides shared fixture and golden-file helpers for
// tests exercising the compiler pipeline end to end, the way
// internal/testing's SetupTestBackend/InsertTestFunction helpers let
// ingestion tests seed a backend in one call instead of repeating setup
// boilerplate in every test file.
package cpptest

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/pipit-lang/pcc/pkg/analyze"
	"github.com/pipit-lang/pcc/pkg/codegen"
	"github.com/pipit-lang/pcc/pkg/graph"
	"github.com/pipit-lang/pcc/pkg/hir"
	"github.com/pipit-lang/pcc/pkg/lir"
	"github.com/pipit-lang/pcc/pkg/parser"
	"github.com/pipit-lang/pcc/pkg/registry"
	"github.com/pipit-lang/pcc/pkg/resolve"
	"github.com/pipit-lang/pcc/pkg/schedule"
	"github.com/pipit-lang/pcc/pkg/types"
)

// BasicRegistry returns a small actor registry covering the handful of
// shapes most pipeline tests need (a source, a sink, and one in-place
// transform), so a test that doesn't care about actor
// metadata specifics doesn't have to build one from scratch.
//
// Example:
//
//	reg := cpptest.BasicRegistry()
//	prog := cpptest.CompileToLIR(t, "task t {\n  input() | sink()\n}\n", reg)
func BasicRegistry() *registry.Registry {
	reg := registry.New()
	reg.Put(registry.ActorMeta{Name: "input", Ports: []registry.Port{{Dir: registry.Out, Type: "float"}}})
	reg.Put(registry.ActorMeta{Name: "sink", Ports: []registry.Port{{Dir: registry.In, Type: "float"}}})
	reg.Put(registry.ActorMeta{Name: "gain", Ports: []registry.Port{
		{Dir: registry.In, Type: "float"}, {Dir: registry.Out, Type: "float"},
	}})
	return reg
}

// CompileToLIR runs src through every pass from lexing to LIR
// construction, failing the test immediately (reporting the stage name
// and its diagnostic count) at whichever stage first reports one. It exists
// so an integration test can say what program it wants compiled
// without repeating the nine-stage pipeline call sequence inline.
func CompileToLIR(t *testing.T, src string, reg *registry.Registry) *lir.Program {
	t.Helper()

	prog, bag := parser.Parse("t.pdl", src)
	requireClean(t, "parse", bag)
	res, rbag := resolve.Resolve(prog)
	requireClean(t, "resolve", rbag)
	h, hbag := hir.Build(res)
	requireClean(t, "hir", hbag)
	h, tinfo, tbag := types.Infer(h, reg)
	requireClean(t, "types", tbag)
	g, gbag := graph.Build(h, reg, tinfo)
	requireClean(t, "graph", gbag)
	ar, abag := analyze.Analyze(g, reg)
	requireClean(t, "analyze", abag)
	sr, sbag := schedule.Schedule(g, ar)
	requireClean(t, "schedule", sbag)
	lp, lbag := lir.Build(h, g, ar, sr, reg)
	requireClean(t, "lir", lbag)
	return lp
}

// CompileToCpp runs CompileToLIR and then codegen.Generate, returning
// the emitted translation unit as a string.
func CompileToCpp(t *testing.T, src string, reg *registry.Registry, opts codegen.Options) string {
	t.Helper()
	lp := CompileToLIR(t, src, reg)
	out, err := codegen.Generate(lp, opts)
	if err != nil {
		t.Fatalf("codegen.Generate: %v", err)
	}
	return string(out)
}

// requireClean is written against an inline Len() int interface rather
// than importing internal/diag by name, since every pass in this
// pipeline already returns the same *diag.Bag and all this needs is
// its length.
func requireClean(t *testing.T, stage string, bag interface{ Len() int }) {
	t.Helper()
	if bag.Len() != 0 {
		t.Fatalf("%s: expected no diagnostics, got %d", stage, bag.Len())
	}
}

// GoldenPath resolves name under testdata/golden relative to the
// calling test's package directory.
func GoldenPath(name string) string {
	return filepath.Join("testdata", "golden", name)
}

// AssertGolden compares got against the golden file at path, byte for
// byte. Set PCC_UPDATE_GOLDEN=1 to (re)write the golden file from got
// instead of comparing — the same opt-in regeneration convention as
// the teacher's fixture-seeding helpers, adapted from "insert known
// data" to "compare against known data."
func AssertGolden(t *testing.T, path string, got []byte) {
	t.Helper()

	if os.Getenv("PCC_UPDATE_GOLDEN") != "" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatalf("mkdir golden dir: %v", err)
		}
		if err := os.WriteFile(path, got, 0o644); err != nil {
			t.Fatalf("write golden file: %v", err)
		}
		return
	}

	want, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read golden file %s: %v (run with PCC_UPDATE_GOLDEN=1 to create it)", path, err)
	}
	if string(want) != string(got) {
		t.Fatalf("output does not match golden file %s\n--- want ---\n%s\n--- got ---\n%s", path, want, got)
	}
}
