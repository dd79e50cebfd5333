// Package hir lowers a resolved PDL program into HIR: every `define`
// call is inlined by structural substitution of its formal parameters,
// producing a flat set of tasks whose pipes contain only ActorCall,
// Fork, Probe, tap, buffer, and bind stages — no DefineDecl references
// remain. Each inlined call site gets a fresh CallID carrying the
// origin call chain, so a later diagnostic pointing at an inlined actor
// can still explain which `define` expansion produced it.
package hir

import (
	"fmt"

	"github.com/pipit-lang/pcc/internal/diag"
	"github.com/pipit-lang/pcc/pkg/astpdl"
	"github.com/pipit-lang/pcc/pkg/resolve"
	"github.com/pipit-lang/pcc/pkg/token"
)

// Origin records the inlining chain that produced a call: Define is the
// name of the `define` expanded to create it, and Of is the CallID of
// the call site that invoked it (which may itself carry an Origin, for
// nested defines).
type Origin struct {
	Define string
	Of     resolve.CallID
}

// Call is one fully-inlined HIR call site. The types pass may insert
// additional synthetic Calls into a Pipe's Stages to perform a safe
// widening; those carry WidenFrom/WidenTo (both non-empty) instead of
// Args/Shape, and their Name is a human-readable cast label rather than
// an actor name the registry knows about.
type Call struct {
	ID       resolve.CallID
	Name     string
	TypeArgs []astpdl.TypeArg
	Args     []astpdl.Arg
	Shape    *astpdl.Shape
	Span     token.Span
	Origin   *Origin // nil for calls written directly in a task

	WidenFrom string
	WidenTo   string
}

// IsWiden reports whether c is a compiler-synthesized widening cast
// rather than a call to a registry actor.
func (c *Call) IsWiden() bool { return c.WidenFrom != "" }

// Stage is one HIR pipe stage. Exactly one field is non-nil.
type Stage struct {
	Call        *Call
	Fork        *astpdl.Fork
	Probe       *astpdl.Probe
	TapDecl     *astpdl.TapDecl
	TapRef      *astpdl.TapRef
	BufferWrite *astpdl.BufferWrite
	BufferRead  *astpdl.BufferRead
	Bind        *astpdl.Bind
}

// Pipe is a flat HIR stage sequence.
type Pipe struct {
	Stages []Stage
}

// ModalCase is one HIR modal-switch case.
type ModalCase struct {
	Name string
	Body Pipe
}

// Modal is an HIR modal-switch block.
type Modal struct {
	Cases   []ModalCase
	Default string
}

// Task is one flattened top-level HIR task. Tasks never nest and never
// reference a define after this package has run.
type Task struct {
	Name    string
	Clock   string
	Control *Pipe
	Pipes   []Pipe
	Modal   *Modal
}

// Program is the HIR program: the flat task list plus everything
// resolve.Result already computed (symbol table, buffer writes,
// compiler settings) that later passes still need.
type Program struct {
	Tasks    []Task
	Symbols  *resolve.Symbols
	Settings resolve.CompilerSettings
}

const maxInlineDepth = 32

// Build inlines every define reference in res and returns the flat HIR
// program. A define that (directly or transitively) calls itself is
// rejected with a fatal diagnostic rather than inlined forever.
func Build(res *resolve.Result) (*Program, *diag.Bag) {
	var bag diag.Bag
	b := &builder{res: res, bag: &bag}

	prog := &Program{Symbols: res.Symbols, Settings: res.Settings}
	for _, t := range res.Program.Tasks {
		hirTask := Task{Name: t.Name, Clock: t.Clock}
		path := resolve.CallID("task:" + t.Name)
		if t.Control != nil {
			p := b.inlinePipe(t.Control, nil, path+":control", 0)
			hirTask.Control = &p
		}
		for i, p := range t.Pipes {
			hirTask.Pipes = append(hirTask.Pipes, b.inlinePipe(p, nil, resolve.CallID(fmt.Sprintf("%s:pipe%d", path, i)), 0))
		}
		if t.Modal != nil {
			m := &Modal{Default: t.Modal.Default}
			for _, c := range t.Modal.Modes {
				m.Cases = append(m.Cases, ModalCase{Name: c.Name, Body: b.inlinePipe(c.Body, nil, resolve.CallID(fmt.Sprintf("%s:modal:%s", path, c.Name)), 0)})
			}
			hirTask.Modal = m
		}
		prog.Tasks = append(prog.Tasks, hirTask)
	}
	return prog, &bag
}

type builder struct {
	res *resolve.Result
	bag *diag.Bag
}

// inlinePipe walks one pipe's stages, expanding every ActorCall whose
// name resolves to a define. subst is the substitution map in effect
// (formal parameter name -> actual Arg) when inlining nested inside
// another define's body; it is nil at the top level. path uniquely
// identifies this expansion's position in the inlining tree (the
// originating task/pipe, and every define-call crossed to reach here),
// so two expansions of the same define body never derive the same
// CallID for their inlined calls.
func (b *builder) inlinePipe(p *astpdl.Pipe, subst map[string]astpdl.Arg, path resolve.CallID, depth int) Pipe {
	var out Pipe
	for _, s := range p.Stages {
		switch stage := s.(type) {
		case *astpdl.ActorCall:
			if def, ok := b.res.Symbols.Defines[stage.Name]; ok {
				out.Stages = append(out.Stages, b.inlineDefine(stage, def, subst, path, depth)...)
				continue
			}
			out.Stages = append(out.Stages, Stage{Call: b.directCall(stage, subst)})
		case *astpdl.Fork:
			out.Stages = append(out.Stages, Stage{Fork: stage})
		case *astpdl.Probe:
			out.Stages = append(out.Stages, Stage{Probe: stage})
		case *astpdl.TapDecl:
			out.Stages = append(out.Stages, Stage{TapDecl: stage})
		case *astpdl.TapRef:
			out.Stages = append(out.Stages, Stage{TapRef: stage})
		case *astpdl.BufferWrite:
			out.Stages = append(out.Stages, Stage{BufferWrite: stage})
		case *astpdl.BufferRead:
			out.Stages = append(out.Stages, Stage{BufferRead: stage})
		case *astpdl.Bind:
			out.Stages = append(out.Stages, Stage{Bind: substituteBind(stage, subst)})
		}
	}
	return out
}

// directCall builds a Call for an ActorCall that isn't a define
// reference, substituting any formal-parameter identifiers in its Args
// first (it may sit inside an already-inlined define body).
func (b *builder) directCall(call *astpdl.ActorCall, subst map[string]astpdl.Arg) *Call {
	return &Call{
		ID:       b.res.CallIDs[call],
		Name:     call.Name,
		TypeArgs: call.TypeArgs,
		Args:     substituteArgs(call.Args, subst),
		Shape:    call.Shape,
		Span:     call.Span,
	}
}

// inlineDefine expands one call to a define: it builds a fresh
// substitution mapping the define's formal parameters to call's actual
// arguments (resolved through the caller's own substitution, so nested
// defines compose), then inlines the define's body with that mapping,
// tagging every resulting call with an Origin.
func (b *builder) inlineDefine(call *astpdl.ActorCall, def *astpdl.DefineDecl, callerSubst map[string]astpdl.Arg, path resolve.CallID, depth int) []Stage {
	if depth >= maxInlineDepth {
		b.bag.Add(diag.New("N0201", call.Span, "define %q exceeds maximum inlining depth (%d) — likely a recursive define", def.Name, maxInlineDepth).
			WithHint("defines may not call themselves, directly or transitively"))
		return nil
	}
	if len(call.Args) != len(def.Params) {
		b.bag.Add(diag.New("N0202", call.Span, "define %q expects %d argument(s), got %d", def.Name, len(def.Params), len(call.Args)))
		return nil
	}

	subst := make(map[string]astpdl.Arg, len(def.Params))
	actuals := substituteArgs(call.Args, callerSubst)
	for i, p := range def.Params {
		subst[p] = actuals[i]
	}

	// callPath extends path with this specific expansion: the define's
	// name and the calling site's own span. Two different call sites
	// invoking the same define, or one call site invoking it from two
	// different outer expansions, always produce distinct callPaths.
	callPath := resolve.CallID(fmt.Sprintf("%s>%s@%s", path, def.Name, call.Span))
	origin := &Origin{Define: def.Name, Of: b.res.CallIDs[call]}
	inlined := b.inlinePipe(def.Body, subst, callPath, depth+1)
	for i := range inlined.Stages {
		if inlined.Stages[i].Call != nil && inlined.Stages[i].Call.Origin == nil {
			inlined.Stages[i].Call.Origin = origin
			// The define body's call nodes are a single shared static
			// AST subtree reused at every call site, so the CallID
			// Resolve assigned them is the same regardless of which
			// expansion this is. Re-derive it from callPath plus the
			// call's own name/span so every expansion gets a distinct,
			// deterministic ID.
			inlined.Stages[i].Call.ID = resolve.GenerateCallID(
				fmt.Sprintf("%s::%s", callPath, inlined.Stages[i].Call.Name), inlined.Stages[i].Call.Span)
		}
	}
	return inlined.Stages
}

// substituteArgs replaces every Arg whose Ident names a formal parameter
// in subst with the corresponding actual argument; arguments that are
// literals, or whose Ident isn't in subst (a global const/param or tap
// name), pass through unchanged.
func substituteArgs(args []astpdl.Arg, subst map[string]astpdl.Arg) []astpdl.Arg {
	if len(subst) == 0 {
		return args
	}
	out := make([]astpdl.Arg, len(args))
	for i, a := range args {
		if a.Ident != "" {
			if actual, ok := subst[a.Ident]; ok {
				out[i] = actual
				continue
			}
		}
		out[i] = a
	}
	return out
}

func substituteBind(bind *astpdl.Bind, subst map[string]astpdl.Arg) *astpdl.Bind {
	if len(subst) == 0 {
		return bind
	}
	cp := *bind
	cp.Args = substituteArgs(bind.Args, subst)
	return &cp
}
