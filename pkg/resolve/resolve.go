// Package resolve performs name resolution over a parsed PDL program
// (§4.2 -> §4.4): it indexes top-level declarations, checks every
// identifier reference — clock names, constants, parameters, defines,
// shared-buffer reads, tap references, modal default labels — against
// the scope it is used in, and allocates a stable CallId for every call
// site so later passes can refer to a call without holding onto an AST
// pointer or a source span.
//
// Tap uniqueness is deliberately NOT checked here: §4.6 assigns that
// check to the graph-building phase, since a tap only becomes ill-formed
// once it is known to have more than one declaration feeding the same
// graph node, which this package cannot see in isolation.
package resolve

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/pipit-lang/pcc/internal/diag"
	"github.com/pipit-lang/pcc/pkg/astpdl"
	"github.com/pipit-lang/pcc/pkg/token"
)

// CallID is a stable, deterministic identifier for one call-site in the
// source, used as the join key for every later pass instead of an AST
// pointer or a source span.
type CallID string

// GenerateCallID hashes (file, name, span) into a CallID, mirroring the
// teacher's GenerateFunctionID: the hash excludes nothing that would
// collide two distinct call sites, and excludes nothing stable (there is
// no signature to exclude here — a call site's identity is exactly its
// location and the name written there).
func GenerateCallID(name string, span token.Span) CallID {
	idStr := fmt.Sprintf("%s|%s|%d|%d|%d|%d", span.File, name, span.Line, span.Col, span.EndLine, span.EndCol)
	sum := sha256.Sum256([]byte(idStr))
	return CallID("call:" + hex.EncodeToString(sum[:]))
}

// Symbols is the top-level symbol table: one entry per clock, constant,
// parameter and define declared anywhere in the program. Declaring the
// same name twice at this level is a fatal N0102.
type Symbols struct {
	Clocks  map[string]*astpdl.ClockDecl
	Consts  map[string]*astpdl.ConstDecl
	Params  map[string]*astpdl.ParamDecl
	Defines map[string]*astpdl.DefineDecl
	Sets    map[string]*astpdl.SetDecl
}

// Result is the output of Resolve: the unchanged AST, its top-level
// symbol table, the stable CallID assigned to every ActorCall, the set
// of declared shared-buffer names, per-task tap-declaration sets, and the
// compiler-wide settings the program's `set` block requested.
type Result struct {
	Program      *astpdl.Program
	Symbols      *Symbols
	CallIDs      map[*astpdl.ActorCall]CallID
	BufferWrites map[string]*astpdl.BufferWrite
	TaskTaps     map[string]map[string]*astpdl.TapDecl
	Settings     CompilerSettings
}

// DefaultTickRateHz is the tick rate a program gets when it declares no
// `set tick_rate ...` directive, and the fallback a malformed clock
// frequency falls back to.
const DefaultTickRateHz = 1.0

// SpinSetting is the resolved form of `set timer_spin ...`: either a
// fixed wait expressed in nanoseconds, or the adaptive policy the
// runtime falls back to when the directive is absent or unrecognized.
type SpinSetting struct {
	Adaptive   bool
	FixedNanos int64
}

// CompilerSettings is the typed result of resolving a program's `set`
// block (§4.2's tick_rate/timer_spin/overrun_policy keys), built once by
// Resolve rather than re-read from the raw Symbols.Sets map at every
// downstream call site.
type CompilerSettings struct {
	TickRateHz    float64
	Spin          SpinSetting
	OverrunPolicy string
}

// resolveSettings builds a CompilerSettings from the `set` directives
// collected into syms.Sets, applying the same defaults lir previously
// hard-coded: tick_rate 1.0, timer_spin adaptive, overrun_policy
// "fail_fast" (the only policy the runtime implements today; the setting
// still round-trips through codegen's descriptor tables verbatim).
func resolveSettings(syms *Symbols) CompilerSettings {
	settings := CompilerSettings{TickRateHz: DefaultTickRateHz, Spin: SpinSetting{Adaptive: true}, OverrunPolicy: "fail_fast"}

	if s, ok := syms.Sets["tick_rate"]; ok && s.Value != nil {
		switch v := s.Value.Value.(type) {
		case float64:
			settings.TickRateHz = v
		case int64:
			settings.TickRateHz = float64(v)
		}
	}

	if s, ok := syms.Sets["timer_spin"]; ok && s.Value != nil {
		switch v := s.Value.Value.(type) {
		case float64:
			settings.Spin = SpinSetting{FixedNanos: int64(v)}
		case int64:
			settings.Spin = SpinSetting{FixedNanos: v}
		default:
			// "auto" (a bare identifier literal) or anything else
			// unrecognized selects the adaptive policy.
			settings.Spin = SpinSetting{Adaptive: true}
		}
	}

	if s, ok := syms.Sets["overrun_policy"]; ok && s.Value != nil {
		if v, ok := s.Value.Value.(string); ok && v != "" {
			settings.OverrunPolicy = v
		}
	}

	return settings
}

// Resolve performs name resolution over prog, returning the Result and
// any diagnostics. Resolve never mutates the AST; it only reads it and
// builds side tables.
func Resolve(prog *astpdl.Program) (*Result, *diag.Bag) {
	var bag diag.Bag
	syms := &Symbols{
		Clocks:  map[string]*astpdl.ClockDecl{},
		Consts:  map[string]*astpdl.ConstDecl{},
		Params:  map[string]*astpdl.ParamDecl{},
		Defines: map[string]*astpdl.DefineDecl{},
		Sets:    map[string]*astpdl.SetDecl{},
	}

	for _, d := range prog.Decls {
		switch decl := d.(type) {
		case *astpdl.ClockDecl:
			addSymbol(&bag, syms.Clocks, decl.Name, decl, decl.Span, "clock")
		case *astpdl.ConstDecl:
			addSymbol(&bag, syms.Consts, decl.Name, decl, decl.Span, "const")
		case *astpdl.ParamDecl:
			addSymbol(&bag, syms.Params, decl.Name, decl, decl.Span, "param")
		case *astpdl.DefineDecl:
			addSymbol(&bag, syms.Defines, decl.Name, decl, decl.Span, "define")
		case *astpdl.SetDecl:
			switch decl.Key {
			case "tick_rate", "timer_spin", "overrun_policy":
				addSymbol(&bag, syms.Sets, decl.Key, decl, decl.Span, "set")
			default:
				bag.Add(diag.New("N0107", decl.Span, "unknown `set` key %q", decl.Key).
					WithHint("recognized keys: tick_rate, timer_spin, overrun_policy"))
			}
		}
	}

	res := &Result{
		Program:      prog,
		Symbols:      syms,
		CallIDs:      map[*astpdl.ActorCall]CallID{},
		BufferWrites: map[string]*astpdl.BufferWrite{},
		TaskTaps:     map[string]map[string]*astpdl.TapDecl{},
		Settings:     resolveSettings(syms),
	}

	// Buffer writes are program-wide: a task's pipe can write a buffer
	// another task later reads, so the whole program's writes must be
	// collected before any read is checked.
	for _, task := range prog.Tasks {
		forEachStage(task, func(s astpdl.Stage) {
			if w, ok := s.(*astpdl.BufferWrite); ok {
				if _, dup := res.BufferWrites[w.Name]; dup {
					bag.Add(diag.New("N0106", w.Span, "shared buffer %q written more than once", w.Name).
						WithHint("each shared buffer name may only appear once as a write target"))
					return
				}
				res.BufferWrites[w.Name] = w
			}
		})
	}

	// Define bodies are resolved against a scope of exactly their own
	// parameters plus the global consts/params: defines have no task,
	// hence no clock, tap, or buffer scope of their own.
	for _, d := range syms.Defines {
		params := map[string]bool{}
		for _, p := range d.Params {
			params[p] = true
		}
		allocateCallIDs(d.Body, res.CallIDs)
		resolveIdentsInPipe(&bag, d.Body, params, syms, nil)
	}

	for _, task := range prog.Tasks {
		if task.Clock != "" {
			if _, ok := syms.Clocks[task.Clock]; !ok {
				bag.Add(diag.New("N0104", task.Span, "task %q references undeclared clock %q", task.Name, task.Clock).
					WithHint("declare it with `clock %s = <freq>` before this task", task.Clock))
			}
		}

		taps := map[string]*astpdl.TapDecl{}
		forEachStage(task, func(s astpdl.Stage) {
			if t, ok := s.(*astpdl.TapDecl); ok {
				taps[t.Name] = t
			}
		})
		res.TaskTaps[task.Name] = taps

		if task.Control != nil {
			allocateCallIDs(task.Control, res.CallIDs)
			resolveIdentsInPipe(&bag, task.Control, nil, syms, taps)
		}
		for _, p := range task.Pipes {
			allocateCallIDs(p, res.CallIDs)
			resolveIdentsInPipe(&bag, p, nil, syms, taps)
		}
		if task.Modal != nil {
			resolveModal(&bag, task.Modal, syms, taps, res.CallIDs)
		}

		forEachStage(task, func(s astpdl.Stage) {
			if r, ok := s.(*astpdl.BufferRead); ok {
				if _, ok := res.BufferWrites[r.Name]; !ok {
					bag.Add(diag.New("N0103", r.Span, "read of shared buffer %q with no matching write", r.Name).
						WithHint("a `... -> %s` stage must write this buffer somewhere in the program", r.Name))
				}
			}
		})
	}

	return res, &bag
}

func resolveModal(bag *diag.Bag, m *astpdl.ModalBlock, syms *Symbols, taps map[string]*astpdl.TapDecl, ids map[*astpdl.ActorCall]CallID) {
	names := map[string]bool{}
	for _, c := range m.Modes {
		names[c.Name] = true
		allocateCallIDs(c.Body, ids)
		resolveIdentsInPipe(bag, c.Body, nil, syms, taps)
	}
	if m.Default != "" && !names[m.Default] {
		bag.Add(diag.New("N0105", m.Span, "modal default %q does not match any case", m.Default).
			WithHint("default must name one of: the case labels declared above"))
	}
}

// addSymbol inserts name -> decl into table, or emits N0102 if name is
// already present (redeclaration at the same top-level scope).
func addSymbol[T any](bag *diag.Bag, table map[string]T, name string, decl T, span token.Span, kind string) {
	if _, dup := table[name]; dup {
		bag.Add(diag.New("N0102", span, "%s %q redeclared", kind, name).
			WithHint("remove or rename one of the two declarations"))
		return
	}
	table[name] = decl
}

// forEachStage visits every stage in every pipe a task owns: control,
// each top-level pipe, and every modal case body.
func forEachStage(task *astpdl.Task, fn func(astpdl.Stage)) {
	if task.Control != nil {
		for _, s := range task.Control.Stages {
			fn(s)
		}
	}
	for _, p := range task.Pipes {
		for _, s := range p.Stages {
			fn(s)
		}
	}
	if task.Modal != nil {
		for _, c := range task.Modal.Modes {
			for _, s := range c.Body.Stages {
				fn(s)
			}
		}
	}
}

// allocateCallIDs assigns a stable CallID to every ActorCall stage in p.
func allocateCallIDs(p *astpdl.Pipe, ids map[*astpdl.ActorCall]CallID) {
	for _, s := range p.Stages {
		if call, ok := s.(*astpdl.ActorCall); ok {
			ids[call] = GenerateCallID(call.Name, call.Span)
		}
	}
}

// resolveIdentsInPipe checks every Arg.Ident used by a call or Bind arg
// in p against the available scope: localParams first (a define's own
// formal parameters), then taps (nil inside a define body), then global
// consts/params. It also checks each TapRef stage against taps, which
// holds every TapDecl in the task, so a reference may come before its
// declaration. Fork and Probe names are not checked.
func resolveIdentsInPipe(bag *diag.Bag, p *astpdl.Pipe, localParams map[string]bool, syms *Symbols, taps map[string]*astpdl.TapDecl) {
	for _, s := range p.Stages {
		switch stage := s.(type) {
		case *astpdl.ActorCall:
			for _, a := range stage.Args {
				checkIdentArg(bag, a, localParams, syms, taps)
			}
		case *astpdl.Bind:
			for _, a := range stage.Args {
				checkIdentArg(bag, a, localParams, syms, taps)
			}
		case *astpdl.TapRef:
			if taps != nil {
				if _, ok := taps[stage.Name]; !ok {
					bag.Add(diag.New("N0101", stage.Span, "undeclared tap %q", stage.Name).
						WithHint("a `:%s =` stage must appear in this task to declare the tap", stage.Name))
				}
			}
		}
	}
}

func checkIdentArg(bag *diag.Bag, a astpdl.Arg, localParams map[string]bool, syms *Symbols, taps map[string]*astpdl.TapDecl) {
	if a.Ident == "" {
		return
	}
	if localParams != nil && localParams[a.Ident] {
		return
	}
	if taps != nil {
		if _, ok := taps[a.Ident]; ok {
			return
		}
	}
	if _, ok := syms.Consts[a.Ident]; ok {
		return
	}
	if _, ok := syms.Params[a.Ident]; ok {
		return
	}
	bag.Add(diag.New("N0101", a.Span, "undeclared identifier %q", a.Ident).
		WithHint("expected a const, param, or tap name visible at this point"))
}
