// Package types performs two-pass type inference and monomorphization
// over an HIR program (§4.5): for every call it resolves a concrete
// instantiation of any template parameters, inserts a synthetic
// widening cast wherever an upstream wire type is strictly narrower than
// a downstream concrete port on the same numeric chain, and finally
// checks the five-obligation lowering certificate before handing the
// typed program to the graph builder.
package types

import (
	"fmt"

	"github.com/pipit-lang/pcc/internal/diag"
	"github.com/pipit-lang/pcc/pkg/hir"
	"github.com/pipit-lang/pcc/pkg/registry"
	"github.com/pipit-lang/pcc/pkg/resolve"
)

// Concrete is one concrete scalar type name, as it appears in a
// registry Port.Type once any template parameter has been resolved.
type Concrete string

// realChain and complexChain are the two independent total orders safe
// widening may cross (§4.5). Index position is widening rank: lower
// index widens into higher index, never the reverse.
var (
	realChain    = []Concrete{"int8", "int16", "int32", "float", "double"}
	complexChain = []Concrete{"cfloat", "cdouble"}
)

func chainRank(t Concrete) (chain int, rank int, ok bool) {
	for i, c := range realChain {
		if c == t {
			return 0, i, true
		}
	}
	for i, c := range complexChain {
		if c == t {
			return 1, i, true
		}
	}
	return 0, 0, false
}

// CanWiden reports whether a value of type from may be implicitly
// widened to type to: both must sit on the same chain, and from must be
// strictly earlier in it.
func CanWiden(from, to Concrete) bool {
	if from == to {
		return false
	}
	cf, rf, ok1 := chainRank(from)
	ct, rt, ok2 := chainRank(to)
	return ok1 && ok2 && cf == ct && rf < rt
}

// PortTypes records the concrete input and output scalar type of one
// call, after substitution. A call with no input port (a source actor)
// has an empty In; one with no output port (a sink) has an empty Out.
type PortTypes struct {
	In  Concrete
	Out Concrete
}

// Info is the result of Infer: every call's resolved template
// substitution and concrete port types, keyed by CallID (including the
// CallIDs of synthetic widening casts Infer inserts).
type Info struct {
	Substitutions map[resolve.CallID]map[string]Concrete
	Ports         map[resolve.CallID]PortTypes
}

// Infer runs type inference over prog, mutating it in place to insert
// synthetic widening-cast Calls, and returns the resolved Info alongside
// any diagnostics. prog is the same *hir.Program the caller passed in;
// Infer returns it again only for call-site convenience.
func Infer(prog *hir.Program, reg *registry.Registry) (*hir.Program, *Info, *diag.Bag) {
	var bag diag.Bag
	info := &Info{
		Substitutions: map[resolve.CallID]map[string]Concrete{},
		Ports:         map[resolve.CallID]PortTypes{},
	}
	inf := &inferer{reg: reg, info: info, bag: &bag}

	for ti := range prog.Tasks {
		t := &prog.Tasks[ti]
		taps := map[string]Concrete{}
		if t.Control != nil {
			inf.inferPipe(t.Control, taps)
		}
		for pi := range t.Pipes {
			inf.inferPipe(&t.Pipes[pi], taps)
		}
		if t.Modal != nil {
			for ci := range t.Modal.Cases {
				inf.inferPipe(&t.Modal.Cases[ci].Body, taps)
			}
		}
	}

	if !bag.HasErrors() {
		certify(prog, reg, info, &bag)
	}
	return prog, info, &bag
}

type inferer struct {
	reg  *registry.Registry
	info *Info
	bag  *diag.Bag
}

// inferPipe walks one pipe in source order, threading the concrete type
// of the "current wire" — the output of the previous stage — through
// each call, inserting widening casts as needed. taps is shared across
// every pipe in a task so a value tapped in one pipe resolves correctly
// when referenced in another (the feedback-loop case).
func (inf *inferer) inferPipe(p *hir.Pipe, taps map[string]Concrete) {
	var cur Concrete
	haveCur := false

	var newStages []hir.Stage
	for _, s := range p.Stages {
		switch {
		case s.Call != nil:
			call := s.Call
			meta, ok := inf.reg.Lookup(call.Name)
			if !ok {
				// Unknown actor names are reported by the graph phase,
				// which has the authoritative registry-contract error
				// code; types silently passes the call through so one
				// problem doesn't cascade into misleading type errors.
				newStages = append(newStages, s)
				haveCur = false
				continue
			}

			subst, inType, outType := inf.instantiate(call, meta, cur, haveCur)
			if len(subst) > 0 {
				inf.info.Substitutions[call.ID] = subst
			}

			if haveCur && inType != "" && cur != inType {
				if CanWiden(cur, inType) {
					widen := makeWiden(call, cur, inType)
					inf.info.Ports[widen.ID] = PortTypes{In: cur, Out: inType}
					newStages = append(newStages, hir.Stage{Call: widen})
				} else {
					inf.bag.Add(diag.New("T0301", call.Span,
						"actor %q expects input type %s but upstream produces %s", call.Name, inType, cur).
						WithHint("insert an explicit conversion actor, or widen the upstream constant/param type"))
				}
			}

			inf.info.Ports[call.ID] = PortTypes{In: inType, Out: outType}
			newStages = append(newStages, s)
			cur, haveCur = outType, outType != ""

		case s.TapDecl != nil:
			if haveCur {
				taps[s.TapDecl.Name] = cur
			}
			newStages = append(newStages, s)

		case s.TapRef != nil:
			if t, ok := taps[s.TapRef.Name]; ok {
				cur, haveCur = t, true
			}
			newStages = append(newStages, s)

		default:
			// Fork, Probe, BufferWrite, BufferRead, Bind: pure dataflow
			// passthrough for typing purposes — the wire type in effect
			// before the stage is still in effect after it.
			newStages = append(newStages, s)
		}
	}
	p.Stages = newStages
}

// instantiate resolves call's template substitution (if any) and
// returns the concrete input/output port types after substitution.
// Precedence for resolving a template parameter: an explicit type
// argument on the call site, then the upstream wire type unified
// against the input port's declared type parameter.
func (inf *inferer) instantiate(call *hir.Call, meta registry.ActorMeta, cur Concrete, haveCur bool) (map[string]Concrete, Concrete, Concrete) {
	subst := map[string]Concrete{}
	if len(meta.TemplateParams) > 0 {
		if len(call.TypeArgs) > 0 {
			for i, ta := range call.TypeArgs {
				if i < len(meta.TemplateParams) {
					subst[meta.TemplateParams[i]] = Concrete(ta.Name)
				}
			}
		} else if haveCur {
			for _, port := range meta.Ports {
				if port.Dir == registry.In && isTemplateParam(meta, port.Type) {
					subst[port.Type] = cur
				}
			}
		}
		for _, p := range meta.TemplateParams {
			if _, ok := subst[p]; !ok {
				inf.bag.Add(diag.New("T0302", call.Span,
					"actor %q template parameter %q cannot be inferred", call.Name, p).
					WithHint("pass an explicit type argument, e.g. %s<%s>(...)", call.Name, p))
			}
		}
	}

	var in, out Concrete
	for _, port := range meta.Ports {
		t := Concrete(port.Type)
		if resolved, ok := subst[port.Type]; ok {
			t = resolved
		}
		if port.Dir == registry.In && in == "" {
			in = t
		}
		if port.Dir == registry.Out && out == "" {
			out = t
		}
	}
	return subst, in, out
}

func isTemplateParam(meta registry.ActorMeta, name string) bool {
	for _, p := range meta.TemplateParams {
		if p == name {
			return true
		}
	}
	return false
}

func makeWiden(before *hir.Call, from, to Concrete) *hir.Call {
	// before.Span is the consuming call's own source span, which is
	// unique per call site, so it alone is enough to make this widen's
	// CallID distinct from every other widen the same compile inserts.
	id := resolve.GenerateCallID(fmt.Sprintf("__widen:%s->%s", from, to), before.Span)
	return &hir.Call{
		ID:        id,
		Name:      fmt.Sprintf("widen_%s_to_%s", from, to),
		Span:      before.Span,
		WidenFrom: string(from),
		WidenTo:   string(to),
	}
}

// certify checks the five lowering-certificate obligations (§4.5) over
// the already-inferred program. Obligation L1 (exactly one
// instantiation per call) and L3 (identical port types across an edge)
// hold by construction of Infer — certify re-derives them independently
// from info rather than trusting that construction, so a bug in Infer's
// bookkeeping is still caught here instead of silently producing a
// miscompiled program.
func certify(prog *hir.Program, reg *registry.Registry, info *Info, bag *diag.Bag) {
	for _, t := range prog.Tasks {
		pipes := make([]hir.Pipe, 0, len(t.Pipes)+2)
		pipes = append(pipes, t.Pipes...)
		if t.Control != nil {
			pipes = append(pipes, *t.Control)
		}
		if t.Modal != nil {
			for _, c := range t.Modal.Cases {
				pipes = append(pipes, c.Body)
			}
		}
		for _, p := range pipes {
			certifyPipe(p, reg, info, bag)
		}
	}
}

func certifyPipe(p hir.Pipe, reg *registry.Registry, info *Info, bag *diag.Bag) {
	var prevOut Concrete
	havePrev := false
	for _, s := range p.Stages {
		if s.Call == nil {
			havePrev = false
			continue
		}
		call := s.Call
		ports, ok := info.Ports[call.ID]
		if !ok {
			havePrev = false
			continue
		}

		if call.IsWiden() {
			if !CanWiden(Concrete(call.WidenFrom), Concrete(call.WidenTo)) {
				bag.Add(diag.New("T0303", call.Span,
					"internal: synthesized widening %s -> %s is not a valid widening", call.WidenFrom, call.WidenTo))
			}
		} else if meta, ok := reg.Lookup(call.Name); ok {
			if sub := info.Substitutions[call.ID]; len(meta.TemplateParams) > 0 && len(sub) != len(meta.TemplateParams) {
				bag.Add(diag.New("T0304", call.Span,
					"internal: actor %q has an incomplete template substitution", call.Name))
			}
			checkShapeDims(call, meta, bag)
		}

		if havePrev && ports.In != "" && prevOut != ports.In {
			bag.Add(diag.New("T0305", call.Span,
				"internal: edge type mismatch feeding %q (%s into %s)", call.Name, prevOut, ports.In))
		}
		if ports.Out != "" {
			prevOut, havePrev = ports.Out, true
		} else {
			havePrev = false
		}
	}
}

// checkShapeDims enforces L4 and the literal half of L5: any shape
// dimension written as an explicit source literal must be positive, and
// any symbolic dimension that names a known actor parameter must bind
// to a compile-time parameter, never a runtime one. Symbolic dimensions
// that don't name a parameter (ordinary shape variables unified during
// Analyze) are left for the analyze phase, which is the first pass with
// enough context to know what they resolved to.
func checkShapeDims(call *hir.Call, meta registry.ActorMeta, bag *diag.Bag) {
	if call.Shape == nil {
		return
	}
	paramKind := map[string]registry.ParamKind{}
	for _, p := range meta.Params {
		paramKind[p.Name] = p.Kind
	}
	for _, d := range call.Shape.Dims {
		if d.Symbol != "" {
			if kind, ok := paramKind[d.Symbol]; ok && kind == registry.ParamRuntime {
				bag.Add(diag.New("T0306", call.Shape.Span,
					"actor %q shape dimension %q is bound to runtime parameter %q", call.Name, d.Symbol, d.Symbol).
					WithHint("array dimensions must be fixed at compile time"))
			}
			continue
		}
		if d.Const <= 0 {
			bag.Add(diag.New("T0307", call.Shape.Span, "actor %q has non-positive shape dimension %d", call.Name, d.Const))
		}
	}
}
