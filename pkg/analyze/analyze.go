// Package analyze solves the SDF balance equations over a task's
// multigraph (§4.6): it computes the repetition vector, propagates
// symbolic shape dimensions to concrete values, persists the
// authoritative per-node port rates later passes lower from, and
// validates that every feedback edge carries enough initial tokens to
// avoid deadlock.
package analyze

import (
	"math/big"
	"sort"

	"github.com/pipit-lang/pcc/internal/diag"
	"github.com/pipit-lang/pcc/pkg/graph"
	"github.com/pipit-lang/pcc/pkg/registry"
	"github.com/pipit-lang/pcc/pkg/resolve"
)

// NodeRate is the authoritative per-firing produce/consume rate of one
// node, after shape propagation: Produce is the element count on its
// output port per firing, Consume the element count on its input port.
// A node with no input (a source) has Consume 0; a node with no output
// (a sink) has Produce 0.
type NodeRate struct {
	Produce int
	Consume int
}

// TaskResult is the analysis output for one task.
type TaskResult struct {
	Repetition map[resolve.CallID]int
	Rates      map[resolve.CallID]NodeRate
	Bindings   map[string]int // symbolic shape dimension -> the concrete value it unified with
}

// Result is the analysis output for every task in a program.
type Result struct {
	Tasks map[string]*TaskResult
}

// Analyze runs balance-equation solving and shape propagation over
// every task in g.
func Analyze(g *graph.Program, reg *registry.Registry) (*Result, *diag.Bag) {
	var bag diag.Bag
	out := &Result{Tasks: map[string]*TaskResult{}}

	names := make([]string, 0, len(g.Tasks))
	for name := range g.Tasks {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		t := g.Tasks[name]
		tr := analyzeTask(t, reg, &bag)
		out.Tasks[name] = tr
	}
	return out, &bag
}

func analyzeTask(t *graph.Task, reg *registry.Registry, bag *diag.Bag) *TaskResult {
	bindings := map[string]int{}
	rates := map[resolve.CallID]NodeRate{}

	for _, id := range t.Order {
		n := t.Nodes[id]
		rates[id] = nodeRate(n, reg, bindings, bag)
	}

	rep := solveBalance(t, rates, bag)
	checkFeedbackTokens(t, rates, rep, bag)

	return &TaskResult{Repetition: rep, Rates: rates, Bindings: bindings}
}

// nodeRate computes one node's produce/consume rate from its registry
// port shapes (for actor nodes) or the fixed 1:1 passthrough rate (for
// fork, probe, buffer, and bind nodes, which don't have their own
// per-firing geometry). A symbolic shape dimension binds to the first
// concrete value it unifies with, shared across the whole task via
// bindings — the same rule the call-site shape annotation (when
// present) and any other actor's matching symbol both feed into.
func nodeRate(n *graph.Node, reg *registry.Registry, bindings map[string]int, bag *diag.Bag) NodeRate {
	if n.Kind != graph.NodeActor {
		return NodeRate{Produce: 1, Consume: 1}
	}

	meta, ok := reg.Lookup(n.Name)
	if !ok {
		// Unknown actor name: already reported during type inference;
		// assume 1:1 so downstream balance solving doesn't cascade into
		// an unrelated diagnostic storm.
		return NodeRate{Produce: 1, Consume: 1}
	}

	var callShape *[]int
	if n.Call != nil && n.Call.Shape != nil {
		resolved := make([]int, len(n.Call.Shape.Dims))
		for i, d := range n.Call.Shape.Dims {
			resolved[i] = d.Const
		}
		callShape = &resolved
	}

	var rate NodeRate
	for _, port := range meta.Ports {
		dims, ok := resolveShape(port.Shape, callShape, bindings)
		product := 1
		for _, d := range dims {
			product *= d
		}
		if !ok {
			bag.Add(diag.New("R0501", n.Span,
				"actor %q has a shape dimension that never binds to a concrete value", n.Name))
			continue
		}
		switch port.Dir {
		case registry.In:
			rate.Consume = product
		case registry.Out:
			rate.Produce = product
		}
	}
	return rate
}

// resolveShape resolves dims to concrete integers, preferring an
// explicit call-site shape annotation (by position) over the registry's
// declared dims, and unifying any remaining symbolic dimension against
// the shared bindings table.
func resolveShape(dims []registry.Dim, callShape *[]int, bindings map[string]int) ([]int, bool) {
	out := make([]int, len(dims))
	ok := true
	for i, d := range dims {
		switch {
		case callShape != nil && i < len(*callShape):
			v := (*callShape)[i]
			out[i] = v
			if d.Symbol != "" {
				if existing, bound := bindings[d.Symbol]; bound && existing != v {
					ok = false
					continue
				}
				bindings[d.Symbol] = v
			}
		case d.Symbol != "":
			v, bound := bindings[d.Symbol]
			if !bound {
				ok = false
				continue
			}
			out[i] = v
		default:
			out[i] = d.Const
		}
	}
	return out, ok
}

// solveBalance finds the unique minimum positive integer repetition
// vector per connected component: seed one node at repetition 1,
// propagate the exact rational ratio rep(v) = rep(u)*produce(u)/consume(v)
// along every edge by BFS, then scale the whole component by the LCM of
// every rational's denominator so every repetition is a positive
// integer. A node reached by two different paths with conflicting
// ratios means the graph cannot be balanced.
func solveBalance(t *graph.Task, rates map[resolve.CallID]NodeRate, bag *diag.Bag) map[resolve.CallID]int {
	adj := map[resolve.CallID][]graph.Edge{}
	for _, e := range t.Edges {
		adj[e.From] = append(adj[e.From], e)
		adj[e.To] = append(adj[e.To], graph.Edge{From: e.To, To: e.From, Feedback: e.Feedback, TapName: e.TapName})
	}

	ratio := map[resolve.CallID]*big.Rat{}
	unbalanced := false

	for _, start := range t.Order {
		if ratio[start] != nil {
			continue
		}
		ratio[start] = big.NewRat(1, 1)
		queue := []resolve.CallID{start}
		for len(queue) > 0 {
			cur := queue[0]
			queue = queue[1:]
			for _, e := range adj[cur] {
				r := rateFor(e, cur, rates)
				if r == nil {
					continue
				}
				want := new(big.Rat).Mul(ratio[cur], r)
				target := otherEnd(e, cur)
				if existing, seen := ratio[target]; seen {
					if existing.Cmp(want) != 0 {
						unbalanced = true
					}
					continue
				}
				ratio[target] = want
				queue = append(queue, target)
			}
		}
	}

	if unbalanced {
		if len(t.Order) > 0 {
			bag.Add(diag.New("R0502", t.Nodes[t.Order[0]].Span,
				"task %q has an unbalanceable dataflow graph: no integer repetition vector satisfies every edge's rate", t.Name))
		}
		return map[resolve.CallID]int{}
	}

	lcm := big.NewInt(1)
	for _, id := range t.Order {
		r := ratio[id]
		if r == nil {
			continue
		}
		lcm = lcmInt(lcm, r.Denom())
	}

	rep := make(map[resolve.CallID]int, len(t.Order))
	for _, id := range t.Order {
		r := ratio[id]
		if r == nil {
			rep[id] = 1
			continue
		}
		scaled := new(big.Int).Mul(r.Num(), new(big.Int).Div(lcm, r.Denom()))
		rep[id] = int(scaled.Int64())
	}
	return rep
}

// rateFor returns the ratio applied when propagating from 'from' across
// e: the edge direction (u->v, reading produce(u)/consume(v)) is fixed
// regardless of which side the BFS walk started from, since adj stores
// both the forward and the synthetic reverse edge.
func rateFor(e graph.Edge, from resolve.CallID, rates map[resolve.CallID]NodeRate) *big.Rat {
	u, v := e.From, e.To
	pu := rates[u].Produce
	cv := rates[v].Consume
	if pu <= 0 || cv <= 0 {
		return nil
	}
	if from == u {
		// rep(v) = rep(u) * pu / cv
		return big.NewRat(int64(pu), int64(cv))
	}
	// from == v: rep(u) = rep(v) * cv / pu
	return big.NewRat(int64(cv), int64(pu))
}

func otherEnd(e graph.Edge, from resolve.CallID) resolve.CallID {
	if from == e.From {
		return e.To
	}
	return e.From
}

func lcmInt(a, b *big.Int) *big.Int {
	if b.Sign() == 0 {
		return new(big.Int).Set(a)
	}
	g := new(big.Int).GCD(nil, nil, new(big.Int).Abs(a), new(big.Int).Abs(b))
	return new(big.Int).Div(new(big.Int).Mul(a, b), g)
}

// checkFeedbackTokens enforces §4.6: a feedback edge must carry initial
// tokens equal to a positive multiple of the consumer's per-firing
// consumption, or the cycle deadlocks on the first schedule iteration.
func checkFeedbackTokens(t *graph.Task, rates map[resolve.CallID]NodeRate, rep map[resolve.CallID]int, bag *diag.Bag) {
	for _, e := range t.Edges {
		if !e.Feedback {
			continue
		}
		consume := rates[e.To].Consume
		if consume <= 0 {
			continue
		}
		if e.InitTokens <= 0 || e.InitTokens%consume != 0 {
			span := t.Nodes[e.To].Span
			bag.Add(diag.New("R0503", span,
				"feedback tap %q into %q needs initial tokens that are a positive multiple of %d, got %d",
				e.TapName, t.Nodes[e.To].Name, consume, e.InitTokens).
				WithHint("declare the feedback source's initial value so it produces at least one full firing's worth of tokens"))
		}
	}
}
