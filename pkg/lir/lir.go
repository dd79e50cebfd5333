// Package lir builds the fully resolved low-level IR a syntax-directed
// C++ emitter consumes (§4.7): every value codegen needs — param
// globals, constant spans, buffer memory kinds, per-firing argument
// lists, task clock/spin/fusion structure, modal dispatch tables, probe
// and bind descriptors — is pre-resolved here so codegen itself never has
// to look anything up or make a decision. Every collection is sorted
// deterministically before it reaches Program, mirroring the
// entity-table pattern pkg/ingestion uses to assemble an IngestionResult
// from several unordered passes (sorted slices keyed by a stable ID).
package lir

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/pipit-lang/pcc/internal/diag"
	"github.com/pipit-lang/pcc/pkg/analyze"
	"github.com/pipit-lang/pcc/pkg/astpdl"
	"github.com/pipit-lang/pcc/pkg/graph"
	"github.com/pipit-lang/pcc/pkg/hir"
	"github.com/pipit-lang/pcc/pkg/registry"
	"github.com/pipit-lang/pcc/pkg/resolve"
	"github.com/pipit-lang/pcc/pkg/schedule"
	"github.com/pipit-lang/pcc/pkg/token"
)

// MemoryKind tags how an edge buffer is realized.
type MemoryKind int

const (
	// Local is an ordinary intra-task buffer: private heap storage, one
	// writer, one reader, both in the same thread.
	Local MemoryKind = iota
	// Alias is a zero-copy passthrough for a fork or probe: the node
	// contributes no storage of its own, just a second name for its
	// predecessor's buffer.
	Alias
	// Shared is an inter-task single-writer ring buffer with per-reader
	// cursors.
	Shared
)

func (k MemoryKind) String() string {
	switch k {
	case Alias:
		return "alias"
	case Shared:
		return "shared"
	default:
		return "local"
	}
}

// ArgKind distinguishes the tagged variants of a lowered call argument.
type ArgKind int

const (
	ArgLiteral ArgKind = iota
	ArgParamRef
	ArgConstScalar
	ArgConstSpan
	ArgConstArrayLen
	ArgDimValue
)

// Arg is one lowered, tagged actor-firing argument. Exactly the fields
// relevant to Kind are meaningful; the rest are zero.
type Arg struct {
	Kind       ArgKind
	Literal    any    // ArgLiteral: the resolved scalar value
	ParamName  string // ArgParamRef: the global Param this reads
	ConstName  string // ArgConstScalar / ArgConstSpan / ArgConstArrayLen: the Const this names
	SpanLength int    // ArgConstSpan: element count
	DimValue   int    // ArgDimValue: the resolved positive integer
}

// Param is one compile-time or runtime-settable program global.
type Param struct {
	Name    string
	Type    string
	Default any
	Runtime bool   // true if rebindable via the runtime control plane
	CLIFlag string // e.g. "--param.gain"
	Atomic  bool   // acquire/release storage required; equals Runtime
}

// Const is a named immutable value. Every const carries its literal in
// Value; there is no separate field for array consts.
type Const struct {
	Name  string
	Value any
}

// Call is one actor firing, fully lowered: its tagged argument list and
// the resolved shape dimensions needed at each port.
type Call struct {
	ID   resolve.CallID
	Name string
	Args []Arg
}

// Buffer is one lowered intra-task edge.
type Buffer struct {
	From, To   resolve.CallID
	Kind       MemoryKind
	Slots      int
	InitTokens int
	Feedback   bool
}

// SharedBuffer is one inter-task ring buffer: one writer task, one or
// more reader tasks. A single reader marks SPSC true, selecting the
// zero-scan specialization downstream.
type SharedBuffer struct {
	Name      string
	WriteTask string
	Slots     int
	Readers   []string
	SPSC      bool
}

// SpinPolicy is a task's deadline-wait strategy: either a fixed
// busy-wait window in nanoseconds, or the adaptive EWMA-tracked sentinel
// (§5).
type SpinPolicy struct {
	Adaptive   bool
	FixedNanos int64
}

// FusionGroup mirrors schedule.FusionGroup: a contiguous run fired as a
// single outer loop.
type FusionGroup struct {
	Members    []resolve.CallID
	Repetition int
}

// ModalDispatch is a modal task's control-process entry and switched
// case table, keyed by the control pipe's output. The initial mode is
// whatever the first runtime control emission selects — Default is kept
// only to drive the lowering-time warning §9 requires, never as a
// runtime fallback.
type ModalDispatch struct {
	ControlOrder []resolve.CallID
	Cases        []ModalDispatchCase
	Default      string
}

// ModalDispatchCase is one case arm's lowered pipe.
type ModalDispatchCase struct {
	Name  string
	Order []resolve.CallID
	Calls map[resolve.CallID]Call
}

// ProbeDescriptor is one lowered probe tap: a named read-only window onto
// an already-buffered edge, sized from the buffer it aliases.
type ProbeDescriptor struct {
	Name  string
	Slots int
}

// BindDescriptor is one lowered transport connection.
type BindDescriptor struct {
	StableID  string
	Direction string // "in" or "out", from the bind node's position in its pipe
	Chain     []string
	Transport string
	Params    []Arg
}

// Task is one task's fully lowered structure.
type Task struct {
	Name    string
	ClockHz float64
	KFactor int
	Spin    SpinPolicy
	Order   []resolve.CallID
	Calls   map[resolve.CallID]Call
	Fusions []FusionGroup
	Buffers []Buffer
	Probes  []ProbeDescriptor
	Modal   *ModalDispatch
	Binds   []BindDescriptor
}

// Program is the complete lowered IR for every task in a compilation.
type Program struct {
	Params        []Param
	Consts        []Const
	Tasks         []Task
	SharedBuffers []SharedBuffer
	OverrunPolicy string // from `set overrun_policy ...`; "fail_fast" if unset
}

const defaultTickRate = resolve.DefaultTickRateHz

// Build lowers hir/graph/analyze/schedule results into the complete LIR.
func Build(h *hir.Program, g *graph.Program, ar *analyze.Result, sr *schedule.Result, reg *registry.Registry) (*Program, *diag.Bag) {
	var bag diag.Bag
	out := &Program{}

	out.Params = lowerParams(h.Symbols)
	out.Consts = lowerConsts(h.Symbols)
	out.OverrunPolicy = h.Settings.OverrunPolicy

	tickRate := h.Settings.TickRateHz
	spin := SpinPolicy{Adaptive: h.Settings.Spin.Adaptive, FixedNanos: h.Settings.Spin.FixedNanos}

	// Shared (inter-task) buffers are keyed by name across the whole
	// program: a NodeBufferOut in one task and every NodeBufferIn
	// reading the same name in any task share one SharedBuffer entry.
	sharedReaders := map[string][]string{}
	sharedWriter := map[string]string{}
	sharedSlots := map[string]int{}

	names := make([]string, 0, len(h.Tasks))
	taskByName := map[string]*hir.Task{}
	for i := range h.Tasks {
		names = append(names, h.Tasks[i].Name)
		taskByName[h.Tasks[i].Name] = &h.Tasks[i]
	}
	sort.Strings(names)

	for _, name := range names {
		t := taskByName[name]
		gt := g.Tasks[name]
		tr := ar.Tasks[name]
		st := sr.Tasks[name]
		if gt == nil || tr == nil || st == nil {
			continue
		}

		lt := Task{Name: name}
		lt.ClockHz = clockHz(h.Symbols, t.Clock)
		lt.KFactor = kFactor(lt.ClockHz, tickRate)
		lt.Spin = spin
		lt.Order = append([]resolve.CallID{}, st.Order...)
		lt.Calls = lowerCalls(gt, h.Symbols, tr, reg, &bag)
		lt.Fusions = lowerFusions(st.Fusions)
		lt.Buffers = lowerBuffers(gt, st.Buffers)
		lt.Probes = lowerProbes(gt, lt.Buffers)
		lt.Binds = lowerBinds(gt, h.Symbols)

		if t.Modal != nil {
			lt.Modal = lowerModal(t, gt, lt.Calls, &bag)
		}

		bufSlots := map[resolve.CallID]int{}
		for _, b := range lt.Buffers {
			bufSlots[b.To] = b.Slots
		}
		for _, n := range gt.Nodes {
			switch n.Kind {
			case graph.NodeBufferOut:
				sharedWriter[n.Name] = name
				if s := bufSlots[n.ID]; s > sharedSlots[n.Name] {
					sharedSlots[n.Name] = s
				}
			case graph.NodeBufferIn:
				sharedReaders[n.Name] = append(sharedReaders[n.Name], name)
			}
		}

		out.Tasks = append(out.Tasks, lt)
	}

	bufNames := make([]string, 0, len(sharedWriter))
	for n := range sharedWriter {
		bufNames = append(bufNames, n)
	}
	sort.Strings(bufNames)
	for _, n := range bufNames {
		readers := append([]string{}, sharedReaders[n]...)
		sort.Strings(readers)
		slots := sharedSlots[n]
		if slots < 1 {
			slots = 1
		}
		out.SharedBuffers = append(out.SharedBuffers, SharedBuffer{
			Name: n, WriteTask: sharedWriter[n], Slots: slots,
			Readers: readers, SPSC: len(readers) == 1,
		})
	}

	return out, &bag
}

func lowerParams(syms *resolve.Symbols) []Param {
	names := make([]string, 0, len(syms.Params))
	for n := range syms.Params {
		names = append(names, n)
	}
	sort.Strings(names)
	out := make([]Param, 0, len(names))
	for _, n := range names {
		p := syms.Params[n]
		var def any
		if p.Default != nil {
			def = p.Default.Value
		}
		out = append(out, Param{
			Name: n, Type: p.Type, Default: def,
			Runtime: true, Atomic: true, CLIFlag: "--param." + n,
		})
	}
	return out
}

func lowerConsts(syms *resolve.Symbols) []Const {
	names := make([]string, 0, len(syms.Consts))
	for n := range syms.Consts {
		names = append(names, n)
	}
	sort.Strings(names)
	out := make([]Const, 0, len(names))
	for _, n := range names {
		c := syms.Consts[n]
		var v any
		if c.Value != nil {
			v = c.Value.Value
		}
		out = append(out, Const{Name: n, Value: v})
	}
	return out
}

func clockHz(syms *resolve.Symbols, clockName string) float64 {
	if clockName == "" {
		return defaultTickRate
	}
	c, ok := syms.Clocks[clockName]
	if !ok || c.Freq == nil {
		return defaultTickRate
	}
	switch v := c.Freq.Value.(type) {
	case float64:
		return v
	case int64:
		return float64(v)
	default:
		return defaultTickRate
	}
}

// kFactor is ceil(clock / tick_rate): how many base scheduler ticks this
// task's clock fires within, rounded up so a task never fires less often
// than its declared rate demands.
func kFactor(clockHz, tickRate float64) int {
	if tickRate <= 0 {
		return 1
	}
	k := int(math.Ceil(clockHz / tickRate))
	if k < 1 {
		k = 1
	}
	return k
}

func lowerCalls(gt *graph.Task, syms *resolve.Symbols, tr *analyze.TaskResult, reg *registry.Registry, bag *diag.Bag) map[resolve.CallID]Call {
	out := map[resolve.CallID]Call{}
	for _, id := range gt.Order {
		n := gt.Nodes[id]
		if n.Kind != graph.NodeActor || n.Call == nil {
			continue
		}
		args := make([]Arg, 0, len(n.Call.Args))
		for _, a := range n.Call.Args {
			args = append(args, lowerArg(a, syms))
		}
		args = append(args, dimArgs(n, reg, tr)...)
		out[id] = Call{ID: id, Name: n.Call.Name, Args: args}
	}
	return out
}

// lowerArg tags one source-level argument. A bare identifier is a
// runtime param reference, a compile-time const reference, or — if
// neither — a tap name already represented structurally by a graph
// edge, in which case it contributes no value argument here.
func lowerArg(a astpdl.Arg, syms *resolve.Symbols) Arg {
	if a.Ident != "" {
		if _, ok := syms.Params[a.Ident]; ok {
			return Arg{Kind: ArgParamRef, ParamName: a.Ident}
		}
		if c, ok := syms.Consts[a.Ident]; ok {
			if arr, ok := c.Value.Value.([]float64); ok {
				return Arg{Kind: ArgConstSpan, ConstName: a.Ident, SpanLength: len(arr)}
			}
			return Arg{Kind: ArgConstScalar, ConstName: a.Ident}
		}
		// A tap name: the value arrives over the feedback buffer edge,
		// not as a firing argument.
		return Arg{}
	}
	if a.Literal != nil {
		return Arg{Kind: ArgLiteral, Literal: a.Literal.Value}
	}
	return Arg{}
}

// dimArgs appends one ArgDimValue per symbolic shape dimension this
// node's ports declare, resolved against the task's finalized bindings
// — the same table Analyze unified every other node's symbol against.
func dimArgs(n *graph.Node, reg *registry.Registry, tr *analyze.TaskResult) []Arg {
	if n.Shape == nil || tr == nil {
		return nil
	}
	var out []Arg
	seen := map[string]bool{}
	for _, port := range n.Shape.Ports {
		for _, d := range port.Shape {
			if d.Symbol == "" || seen[d.Symbol] {
				continue
			}
			seen[d.Symbol] = true
			if v, ok := tr.Bindings[d.Symbol]; ok {
				out = append(out, Arg{Kind: ArgDimValue, DimValue: v})
			}
		}
	}
	return out
}

func lowerFusions(fusions []schedule.FusionGroup) []FusionGroup {
	out := make([]FusionGroup, 0, len(fusions))
	for _, f := range fusions {
		out = append(out, FusionGroup{Members: append([]resolve.CallID{}, f.Members...), Repetition: f.Repetition})
	}
	return out
}

func lowerBuffers(gt *graph.Task, buffers []schedule.Buffer) []Buffer {
	out := make([]Buffer, 0, len(buffers))
	for _, b := range buffers {
		out = append(out, Buffer{
			From: b.From, To: b.To, Slots: b.Slots,
			InitTokens: b.InitTokens, Feedback: b.Feedback,
			Kind: bufferKind(gt, b),
		})
	}
	return out
}

// bufferKind classifies a lowered edge: one feeding a fork or probe node
// is a zero-copy Alias (the node contributes no storage of its own,
// just a second name for its predecessor's buffer); every other
// intra-task edge — feedback included, since it just starts pre-filled
// — is Local.
func bufferKind(gt *graph.Task, b schedule.Buffer) MemoryKind {
	if n := gt.Nodes[b.To]; n != nil && (n.Kind == graph.NodeFork || n.Kind == graph.NodeProbe) {
		return Alias
	}
	return Local
}

// lowerProbes finds every Alias buffer feeding a NodeProbe and turns it
// into a named descriptor, sized from the buffer it aliases (a probe
// contributes no storage of its own).
func lowerProbes(gt *graph.Task, buffers []Buffer) []ProbeDescriptor {
	var out []ProbeDescriptor
	for _, b := range buffers {
		if b.Kind != Alias {
			continue
		}
		n := gt.Nodes[b.To]
		if n == nil || n.Kind != graph.NodeProbe {
			continue
		}
		out = append(out, ProbeDescriptor{Name: n.Name, Slots: b.Slots})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func lowerBinds(gt *graph.Task, syms *resolve.Symbols) []BindDescriptor {
	var out []BindDescriptor
	for _, id := range gt.Order {
		n := gt.Nodes[id]
		if n.Kind != graph.NodeBind {
			continue
		}
		chain := inboundChain(gt, id)
		direction := "out"
		if len(chain) == 0 {
			direction = "in"
		}
		var params []Arg
		if n.Bind != nil {
			for _, a := range n.Bind.Args {
				params = append(params, lowerArg(a, syms))
			}
		}
		stableID := bindStableID(direction, chain, n.Name, params)
		out = append(out, BindDescriptor{
			StableID: stableID, Direction: direction, Chain: chain,
			Transport: n.Name, Params: params,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StableID < out[j].StableID })
	return out
}

// inboundChain walks backward from a bind node through non-feedback
// edges, collecting the actor names upstream of it — the "actor chain"
// the stable-ID hash is defined over.
func inboundChain(gt *graph.Task, id resolve.CallID) []string {
	preds := map[resolve.CallID][]resolve.CallID{}
	for _, e := range gt.Edges {
		if e.Feedback {
			continue
		}
		preds[e.To] = append(preds[e.To], e.From)
	}
	var chain []string
	cur := id
	for {
		ps := preds[cur]
		if len(ps) == 0 {
			break
		}
		sort.Slice(ps, func(i, j int) bool { return ps[i] < ps[j] })
		p := ps[0]
		if n := gt.Nodes[p]; n != nil {
			chain = append([]string{n.Name}, chain...)
		}
		cur = p
	}
	return chain
}

// bindStableID deterministically hashes direction, actor chain,
// transport, and transport parameters (§4.7) so a bind descriptor's
// identity survives a rebind that only changes geometry.
func bindStableID(direction string, chain []string, transport string, params []Arg) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s|%s|%s", direction, strings.Join(chain, ">"), transport)
	for _, p := range params {
		fmt.Fprintf(h, "|%d:%v:%s:%s:%d", p.Kind, p.Literal, p.ParamName, p.ConstName, p.DimValue)
	}
	return hex.EncodeToString(h.Sum(nil))[:16]
}

func lowerModal(t *hir.Task, gt *graph.Task, allCalls map[resolve.CallID]Call, bag *diag.Bag) *ModalDispatch {
	m := t.Modal
	dispatch := &ModalDispatch{Default: m.Default}

	if t.Control != nil {
		dispatch.ControlOrder = pipeCallIDs(*t.Control)
	}

	if m.Default != "" {
		// §9: `default <mode>` parses but has no runtime effect — the
		// initial mode is whatever the control pipe's first emission
		// selects, not this clause.
		bag.Add(diag.Warn("W0601", anySpan(gt),
			"task %q's `default %s` clause has no runtime effect; the initial mode is whichever case the control pipe's first emission selects", t.Name, m.Default))
	}

	for _, c := range m.Cases {
		order := pipeCallIDs(c.Body)
		calls := make(map[resolve.CallID]Call, len(order))
		for _, id := range order {
			if call, ok := allCalls[id]; ok {
				calls[id] = call
			}
		}
		dispatch.Cases = append(dispatch.Cases, ModalDispatchCase{Name: c.Name, Order: order, Calls: calls})
	}
	return dispatch
}

// pipeCallIDs collects the CallIDs of every Call stage in p, in order.
func pipeCallIDs(p hir.Pipe) []resolve.CallID {
	var ids []resolve.CallID
	for _, s := range p.Stages {
		if s.Call != nil {
			ids = append(ids, s.Call.ID)
		}
	}
	return ids
}

// anySpan returns an arbitrary node's span from gt for diagnostics that
// don't have a more specific location handy, or a zero Span if gt has no
// nodes at all.
func anySpan(gt *graph.Task) token.Span {
	if len(gt.Order) == 0 {
		return token.Span{}
	}
	return gt.Nodes[gt.Order[0]].Span
}
