// Package graph builds one directed multigraph per task from a typed
// HIR program (§4.6): actors, forks and probes become nodes; pipe
// adjacency and tap references become edges. A tap referenced before
// its declaration is valid only as a feedback edge — the builder holds
// it in a pending list and resolves it once the matching declaration is
// seen, checking that exactly one declaration exists for that name.
package graph

import (
	"github.com/pipit-lang/pcc/internal/diag"
	"github.com/pipit-lang/pcc/pkg/astpdl"
	"github.com/pipit-lang/pcc/pkg/hir"
	"github.com/pipit-lang/pcc/pkg/registry"
	"github.com/pipit-lang/pcc/pkg/resolve"
	"github.com/pipit-lang/pcc/pkg/token"
	"github.com/pipit-lang/pcc/pkg/types"
)

// NodeKind distinguishes the dataflow role a Node plays.
type NodeKind int

const (
	NodeActor NodeKind = iota
	NodeFork
	NodeProbe
	NodeBufferOut // writes a shared inter-task buffer
	NodeBufferIn  // reads a shared inter-task buffer
	NodeBind      // transport sink/source at a bind stage
)

// Node is one vertex of a task's SDF multigraph.
type Node struct {
	ID       resolve.CallID
	Kind     NodeKind
	Name     string // actor name, buffer name, or bind transport
	Span     token.Span
	Call     *hir.Call     // non-nil only for NodeActor (includes synthetic widens)
	Bind     *astpdl.Bind  // non-nil only for NodeBind
	Shape    *registry.ActorMeta
	Feedback bool // true if this node has at least one incoming feedback edge
}

// Edge is one directed dataflow edge. Feedback is true for an edge
// whose source appears later in pipe order than its target (a tap
// reference used before its declaration) — these edges are cut for
// topological sort and kept for the balance equations (§4.6, §4.7).
type Edge struct {
	From, To   resolve.CallID
	Feedback   bool
	TapName    string // non-empty if this edge crosses a tap
	InitTokens int    // initial feedback tokens, 0 for non-feedback edges
}

// Task is one task's built SDF multigraph.
type Task struct {
	Name  string
	Clock string
	Nodes map[resolve.CallID]*Node
	Order []resolve.CallID // node IDs in first-seen (source) order
	Edges []Edge
}

// Program is the set of per-task graphs built from an hir.Program.
type Program struct {
	Tasks map[string]*Task
}

// pendingTap is an edge waiting on a TapDecl that hasn't been seen yet:
// From is the node that read the tap (e.g. an actor argument referring
// to it), TapName is the name being waited on.
type pendingTap struct {
	from    resolve.CallID
	tapName string
	span    token.Span
}

// Build constructs one Task graph per hir.Task.
func Build(prog *hir.Program, reg *registry.Registry, tinfo *types.Info) (*Program, *diag.Bag) {
	var bag diag.Bag
	out := &Program{Tasks: map[string]*Task{}}

	for _, t := range prog.Tasks {
		g := &Task{Name: t.Name, Clock: t.Clock, Nodes: map[resolve.CallID]*Node{}}
		b := &taskBuilder{task: g, reg: reg, bag: &bag, tapDecls: map[string]resolve.CallID{}, declSpans: map[string]token.Span{}}

		pipes := append([]hir.Pipe{}, t.Pipes...)
		if t.Control != nil {
			pipes = append(pipes, *t.Control)
		}
		if t.Modal != nil {
			for _, c := range t.Modal.Cases {
				pipes = append(pipes, c.Body)
			}
		}
		for _, p := range pipes {
			b.buildPipe(p)
		}
		b.resolvePending()
		for _, e := range g.Edges {
			if e.Feedback {
				if n := g.Nodes[e.To]; n != nil {
					n.Feedback = true
				}
			}
		}

		out.Tasks[t.Name] = g
	}
	return out, &bag
}

type taskBuilder struct {
	task      *Task
	reg       *registry.Registry
	bag       *diag.Bag
	tapDecls  map[string]resolve.CallID // tap name -> declaring node ID
	declSpans map[string]token.Span     // tap name -> span of its first declaration
	pending   []pendingTap
}

func (b *taskBuilder) addNode(n *Node) {
	if _, exists := b.task.Nodes[n.ID]; exists {
		return
	}
	b.task.Nodes[n.ID] = n
	b.task.Order = append(b.task.Order, n.ID)
}

func (b *taskBuilder) addEdge(e Edge) {
	b.task.Edges = append(b.task.Edges, e)
}

// buildPipe walks one pipe's stages in order, creating a node per stage
// and a forward edge from each stage to the next. TapDecl and TapRef
// don't create nodes of their own: a TapDecl marks "the previous node's
// output is also reachable under this name," and a TapRef creates an
// edge from whichever node declared that name to prev, the last node
// this pipe built — or, if the declaration hasn't been seen yet (the
// feedback case), a pendingTap that becomes a feedback edge once it is.
func (b *taskBuilder) buildPipe(p hir.Pipe) {
	var prev resolve.CallID
	havePrev := false

	for _, s := range p.Stages {
		switch {
		case s.Call != nil:
			meta, _ := b.reg.Lookup(s.Call.Name)
			node := &Node{ID: s.Call.ID, Kind: NodeActor, Name: s.Call.Name, Span: s.Call.Span, Call: s.Call}
			if meta.Name != "" {
				m := meta
				node.Shape = &m
			}
			b.addNode(node)
			if havePrev {
				b.addEdge(Edge{From: prev, To: node.ID})
			}

			// A call's Args may themselves reference a tap by name
			// (e.g. `add(:fb)`): every such argument is a second
			// incoming edge into this node, resolved the same way as a
			// bare TapRef stage.
			for _, a := range s.Call.Args {
				if a.Ident == "" {
					continue
				}
				b.linkTap(a.Ident, node.ID, s.Call.Span)
			}

			prev, havePrev = node.ID, true

		case s.Fork != nil:
			id := resolve.GenerateCallID("fork:"+s.Fork.Name, s.Fork.Span)
			b.addNode(&Node{ID: id, Kind: NodeFork, Name: s.Fork.Name, Span: s.Fork.Span})
			if havePrev {
				b.addEdge(Edge{From: prev, To: id})
			}
			prev, havePrev = id, true

		case s.Probe != nil:
			id := resolve.GenerateCallID("probe:"+s.Probe.Name, s.Probe.Span)
			b.addNode(&Node{ID: id, Kind: NodeProbe, Name: s.Probe.Name, Span: s.Probe.Span})
			if havePrev {
				b.addEdge(Edge{From: prev, To: id})
			}
			prev, havePrev = id, true

		case s.TapDecl != nil:
			// §4.6: a tap may be declared at most once per task. resolve
			// only checks that a referenced tap exists somewhere in the
			// task; deciding "somewhere" means "exactly one place" is
			// this package's job, since only here is every pipe's
			// declarations visible at once.
			if first, dup := b.declSpans[s.TapDecl.Name]; dup {
				b.bag.Add(diag.New("G0402", s.TapDecl.Span,
					"tap %q is declared more than once in task %q", s.TapDecl.Name, b.task.Name).
					WithHint("first declared at %s", first))
			} else {
				b.declSpans[s.TapDecl.Name] = s.TapDecl.Span
			}
			if havePrev {
				b.tapDecls[s.TapDecl.Name] = prev
			}
			// Resolve any reads of this tap seen earlier in this or a
			// prior pipe, now that its declaration is known.
			b.resolvePendingFor(s.TapDecl.Name)

		case s.TapRef != nil:
			// A bare tap reference isn't a node of its own: it resolves
			// to an edge from whatever node declared the name into
			// whatever consumed the reference (prev, the last node this
			// pipe built).
			if src, ok := b.tapDecls[s.TapRef.Name]; ok {
				b.addEdge(Edge{From: src, To: prev, TapName: s.TapRef.Name})
			} else {
				b.pending = append(b.pending, pendingTap{from: prev, tapName: s.TapRef.Name, span: s.TapRef.Span})
			}

		case s.BufferWrite != nil:
			id := resolve.GenerateCallID("bufout:"+s.BufferWrite.Name, s.BufferWrite.Span)
			b.addNode(&Node{ID: id, Kind: NodeBufferOut, Name: s.BufferWrite.Name, Span: s.BufferWrite.Span})
			if havePrev {
				b.addEdge(Edge{From: prev, To: id})
			}
			prev, havePrev = id, false

		case s.BufferRead != nil:
			id := resolve.GenerateCallID("bufin:"+s.BufferRead.Name, s.BufferRead.Span)
			b.addNode(&Node{ID: id, Kind: NodeBufferIn, Name: s.BufferRead.Name, Span: s.BufferRead.Span})
			prev, havePrev = id, true

		case s.Bind != nil:
			id := resolve.GenerateCallID("bind:"+s.Bind.Transport, s.Bind.Span)
			b.addNode(&Node{ID: id, Kind: NodeBind, Name: s.Bind.Transport, Span: s.Bind.Span, Bind: s.Bind})
			if havePrev {
				b.addEdge(Edge{From: prev, To: id})
			}
			prev, havePrev = id, false
		}
	}
}

// linkTap resolves an argument-position tap reference the same way a
// bare TapRef stage is resolved.
func (b *taskBuilder) linkTap(name string, to resolve.CallID, span token.Span) {
	if src, ok := b.tapDecls[name]; ok {
		b.addEdge(Edge{From: src, To: to, TapName: name})
		return
	}
	b.pending = append(b.pending, pendingTap{from: to, tapName: name, span: span})
}

// initTokens reads a feedback source's initial token count off a
// `delay(n, initial_value, ...)` node declaring the tap: its first
// argument is the literal count of tokens the loop starts with. A
// feedback source that isn't a delay call (or isn't a literal-first-arg
// call at all) contributes 0, which analyze then reports as a deadlock.
func (b *taskBuilder) initTokens(src resolve.CallID) int {
	n, ok := b.task.Nodes[src]
	if !ok || n.Call == nil || len(n.Call.Args) == 0 {
		return 0
	}
	arg := n.Call.Args[0]
	if arg.Literal == nil {
		return 0
	}
	switch v := arg.Literal.Value.(type) {
	case float64:
		return int(v)
	case int64:
		return int(v)
	default:
		return 0
	}
}

func (b *taskBuilder) resolvePendingFor(name string) {
	src, ok := b.tapDecls[name]
	if !ok {
		return
	}
	kept := b.pending[:0]
	for _, p := range b.pending {
		if p.tapName == name {
			b.addEdge(Edge{From: src, To: p.from, Feedback: true, TapName: name, InitTokens: b.initTokens(src)})
			continue
		}
		kept = append(kept, p)
	}
	b.pending = kept
}

// resolvePending is called once every pipe in the task has been built:
// any tap reference still waiting never found a matching declaration
// anywhere in the task, which is a fatal graph-phase error.
func (b *taskBuilder) resolvePending() {
	for _, p := range b.pending {
		b.bag.Add(diag.New("G0401", p.span, "tap %q is never declared in task %q", p.tapName, b.task.Name))
	}
}
