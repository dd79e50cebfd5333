// Package schedule orders each task's SDF multigraph into a concrete
// firing sequence (§4.6): a topological sort that treats feedback edges
// as cut (they carry initial tokens, so they impose no ordering
// constraint), ties broken by node ID for determinism, followed by
// same-repetition fusion of contiguous single-degree runs into fusion
// groups, and finally edge-buffer sizing from the authoritative port
// rates analyze computed.
package schedule

import (
	"log/slog"
	"sort"

	"github.com/pipit-lang/pcc/internal/diag"
	"github.com/pipit-lang/pcc/pkg/analyze"
	"github.com/pipit-lang/pcc/pkg/graph"
	"github.com/pipit-lang/pcc/pkg/resolve"
)

// Buffer is one intra-task edge buffer's sizing.
type Buffer struct {
	From, To   resolve.CallID
	Slots      int
	InitTokens int
	Feedback   bool
}

// FusionGroup is a contiguous run of same-repetition nodes scheduled as
// a single outer loop (§4.6 conditions a-d).
type FusionGroup struct {
	Members    []resolve.CallID
	Repetition int
}

// TaskSchedule is the scheduling output for one task.
type TaskSchedule struct {
	Order   []resolve.CallID // topological firing order, feedback edges cut
	Fusions []FusionGroup    // members listed in Order-relative sequence
	Buffers []Buffer
}

// Result is the scheduling output for every task.
type Result struct {
	Tasks map[string]*TaskSchedule
}

// Schedule orders and fuses every task in g using ar's balance-equation
// results.
func Schedule(g *graph.Program, ar *analyze.Result) (*Result, *diag.Bag) {
	return ScheduleWithLogger(g, ar, nil)
}

// ScheduleWithLogger is Schedule with an explicit logger for the
// schedule.fuse.group event emitted as each task's fusion groups are
// formed. A nil logger disables the event entirely, same as Schedule.
func ScheduleWithLogger(g *graph.Program, ar *analyze.Result, logger *slog.Logger) (*Result, *diag.Bag) {
	var bag diag.Bag
	out := &Result{Tasks: map[string]*TaskSchedule{}}

	names := make([]string, 0, len(g.Tasks))
	for name := range g.Tasks {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		t := g.Tasks[name]
		tr := ar.Tasks[name]
		order, ok := topoSort(t, &bag)
		if !ok {
			continue
		}
		fusions := fuse(t, order, tr)
		if logger != nil {
			for _, fg := range fusions {
				logger.Debug("schedule.fuse.group", "task", name, "members", len(fg.Members), "repetition", fg.Repetition)
			}
		}
		buffers := sizeBuffers(t, tr)
		out.Tasks[name] = &TaskSchedule{Order: order, Fusions: fusions, Buffers: buffers}
	}
	return out, &bag
}

// topoSort runs Kahn's algorithm over t's non-feedback edges, breaking
// ties by node ID (a total order since CallID is a hex string) so two
// compiles of the same program always produce the same order.
func topoSort(t *graph.Task, bag *diag.Bag) ([]resolve.CallID, bool) {
	indegree := map[resolve.CallID]int{}
	adj := map[resolve.CallID][]resolve.CallID{}
	for _, id := range t.Order {
		indegree[id] = 0
	}
	for _, e := range t.Edges {
		if e.Feedback {
			continue
		}
		adj[e.From] = append(adj[e.From], e.To)
		indegree[e.To]++
	}

	var ready []resolve.CallID
	for _, id := range t.Order {
		if indegree[id] == 0 {
			ready = append(ready, id)
		}
	}
	sort.Slice(ready, func(i, j int) bool { return ready[i] < ready[j] })

	var order []resolve.CallID
	for len(ready) > 0 {
		sort.Slice(ready, func(i, j int) bool { return ready[i] < ready[j] })
		n := ready[0]
		ready = ready[1:]
		order = append(order, n)
		for _, next := range adj[n] {
			indegree[next]--
			if indegree[next] == 0 {
				ready = append(ready, next)
			}
		}
	}

	if len(order) != len(t.Order) {
		span := t.Nodes[t.Order[0]].Span
		bag.Add(diag.New("G0403", span,
			"task %q has a dataflow cycle not cut by a feedback tap", t.Name).
			WithHint("a cycle must pass through at least one forward tap reference"))
		return nil, false
	}
	return order, true
}

// fuse groups contiguous runs of nodes in schedule order that share a
// repetition > 1, are linked one-to-one (no fan-out/fan-in inside the
// run), and never touch a tap. Fork and Probe nodes (dataflow
// passthroughs) are held to the same one-to-one rule as actors, and a
// node at either end of a tap edge, feedback or not, never joins a run.
func fuse(t *graph.Task, order []resolve.CallID, tr *analyze.TaskResult) []FusionGroup {
	if tr == nil {
		return nil
	}
	outdeg := map[resolve.CallID]int{}
	indeg := map[resolve.CallID]int{}
	touchesTap := map[resolve.CallID]bool{}
	for _, e := range t.Edges {
		outdeg[e.From]++
		indeg[e.To]++
		if e.Feedback || e.TapName != "" {
			touchesTap[e.From] = true
			touchesTap[e.To] = true
		}
	}

	var groups []FusionGroup
	var cur []resolve.CallID
	curRep := 0

	flush := func() {
		if len(cur) > 1 {
			groups = append(groups, FusionGroup{Members: append([]resolve.CallID{}, cur...), Repetition: curRep})
		}
		cur = nil
		curRep = 0
	}

	for _, id := range order {
		n := t.Nodes[id]
		rep := tr.Repetition[id]
		eligible := rep > 1 && !touchesTap[id] && (n.Kind == graph.NodeActor || n.Kind == graph.NodeFork || n.Kind == graph.NodeProbe)

		if eligible && len(cur) > 0 && rep == curRep {
			// Joining an in-progress run: the run's last member must
			// have exactly one outgoing edge (into id) and id must have
			// exactly one incoming edge (from it), so the fused step
			// never silently drops a fan-out consumer or fan-in
			// producer sitting on either side of this link.
			last := cur[len(cur)-1]
			if outdeg[last] == 1 && indeg[id] == 1 {
				cur = append(cur, id)
				continue
			}
		}
		flush()
		if eligible {
			cur = []resolve.CallID{id}
			curRep = rep
		}
	}
	flush()
	return groups
}

// sizeBuffers computes each intra-task edge's buffer slot count from the
// authoritative port rates: max(produce, consume) per firing times the
// consuming side's repetition, with feedback edges keeping their
// explicit initial-token count.
func sizeBuffers(t *graph.Task, tr *analyze.TaskResult) []Buffer {
	if tr == nil {
		return nil
	}
	buffers := make([]Buffer, 0, len(t.Edges))
	for _, e := range t.Edges {
		produce := tr.Rates[e.From].Produce
		consume := tr.Rates[e.To].Consume
		rep := tr.Repetition[e.To]
		slots := produce
		if consume > slots {
			slots = consume
		}
		slots *= rep
		if slots < 1 {
			slots = 1
		}
		buffers = append(buffers, Buffer{
			From: e.From, To: e.To, Slots: slots,
			InitTokens: e.InitTokens, Feedback: e.Feedback,
		})
	}
	sort.Slice(buffers, func(i, j int) bool {
		if buffers[i].From != buffers[j].From {
			return buffers[i].From < buffers[j].From
		}
		return buffers[i].To < buffers[j].To
	})
	return buffers
}
