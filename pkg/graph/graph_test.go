package graph

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pipit-lang/pcc/pkg/astpdl"
	"github.com/pipit-lang/pcc/pkg/hir"
	"github.com/pipit-lang/pcc/pkg/parser"
	"github.com/pipit-lang/pcc/pkg/registry"
	"github.com/pipit-lang/pcc/pkg/resolve"
	"github.com/pipit-lang/pcc/pkg/token"
	"github.com/pipit-lang/pcc/pkg/types"
)

func testRegistry() *registry.Registry {
	reg := registry.New()
	reg.Put(registry.ActorMeta{Name: "input", Ports: []registry.Port{{Dir: registry.Out, Type: "float"}}})
	reg.Put(registry.ActorMeta{Name: "sink", Ports: []registry.Port{{Dir: registry.In, Type: "float"}}})
	reg.Put(registry.ActorMeta{Name: "add", Ports: []registry.Port{
		{Dir: registry.In, Type: "float"}, {Dir: registry.Out, Type: "float"},
	}})
	reg.Put(registry.ActorMeta{Name: "filter", Ports: []registry.Port{
		{Dir: registry.In, Type: "float"}, {Dir: registry.Out, Type: "float"},
	}})
	reg.Put(registry.ActorMeta{Name: "delay", Ports: []registry.Port{
		{Dir: registry.In, Type: "float"}, {Dir: registry.Out, Type: "float"},
	}})
	return reg
}

func buildFromSource(t *testing.T, src string) (*hir.Program, *registry.Registry) {
	t.Helper()
	prog, bag := parser.Parse("t.pdl", src)
	require.Equal(t, 0, bag.Len(), "%v", bag.All())
	res, rbag := resolve.Resolve(prog)
	require.Equal(t, 0, rbag.Len(), "%v", rbag.All())
	h, hbag := hir.Build(res)
	require.Equal(t, 0, hbag.Len(), "%v", hbag.All())
	return h, testRegistry()
}

func span(line int) token.Span {
	return token.Span{File: "t.pdl", Line: line, Col: 1, EndLine: line, EndCol: 1}
}

func call(name string, args ...astpdl.Arg) *hir.Call {
	s := span(1)
	return &hir.Call{ID: resolve.GenerateCallID(name, s), Name: name, Span: s, Args: args}
}

// handBuiltFeedbackProgram constructs, without going through the
// parser, a task equivalent to
// `input() | add(:fb) | filter() | delay(1, 0.0) | :fb =`
// where add's argument reads tap "fb" and delay's output declares it —
// every call gets a distinct span so CallIDs never collide.
func handBuiltFeedbackProgram() *hir.Program {
	input := call("input")
	add := call("add", astpdl.Arg{Ident: "fb"})
	add.Span = span(2)
	add.ID = resolve.GenerateCallID("add", add.Span)
	filter := call("filter")
	filter.Span = span(3)
	filter.ID = resolve.GenerateCallID("filter", filter.Span)
	delay := call("delay", astpdl.Arg{Literal: &astpdl.Literal{Value: float64(1)}})
	delay.Span = span(4)
	delay.ID = resolve.GenerateCallID("delay", delay.Span)

	return &hir.Program{Tasks: []hir.Task{{
		Name: "t",
		Pipes: []hir.Pipe{{Stages: []hir.Stage{
			{Call: input},
			{Call: add},
			{Call: filter},
			{Call: delay},
			{TapDecl: &astpdl.TapDecl{Name: "fb", Span: span(5)}},
		}}},
	}}}
}

func TestBuildSimpleChainHasForwardEdges(t *testing.T) {
	h, reg := buildFromSource(t, "task t {\n  input() | sink()\n}\n")
	_, info, bag := types.Infer(h, reg)
	require.Equal(t, 0, bag.Len())
	g, gbag := Build(h, reg, info)
	require.Equal(t, 0, gbag.Len(), "%v", gbag.All())

	task := g.Tasks["t"]
	require.Len(t, task.Nodes, 2)
	require.Len(t, task.Edges, 1)
	assert.False(t, task.Edges[0].Feedback)
}

func TestBuildResolvesTapArgumentAsFeedbackEdge(t *testing.T) {
	h := handBuiltFeedbackProgram()
	reg := testRegistry()
	g, gbag := Build(h, reg, nil)
	require.Equal(t, 0, gbag.Len(), "%v", gbag.All())

	task := g.Tasks["t"]
	var feedback *Edge
	for i, e := range task.Edges {
		if e.Feedback {
			feedback = &task.Edges[i]
		}
	}
	require.NotNil(t, feedback, "add(:fb)'s argument must resolve once delay's TapDecl is seen")
	assert.Equal(t, "fb", feedback.TapName)
	assert.Equal(t, 1, feedback.InitTokens, "delay(1, 0.0)'s first arg is the initial token count")
}

func TestDuplicateTapDeclIsFatal(t *testing.T) {
	h := handBuiltFeedbackProgram()
	extraDecl := hir.Stage{TapDecl: &astpdl.TapDecl{Name: "fb", Span: span(5)}}
	h.Tasks[0].Pipes[0].Stages = append(h.Tasks[0].Pipes[0].Stages, extraDecl)
	reg := testRegistry()
	_, gbag := Build(h, reg, nil)
	require.True(t, gbag.HasErrors())
	assert.Equal(t, "G0402", string(gbag.All()[0].Code))
}

func TestUndeclaredTapNeverResolvedIsFatal(t *testing.T) {
	h, reg := buildFromSource(t, "task t {\n  input() | sink()\n}\n")
	h.Tasks[0].Pipes[0].Stages = append(h.Tasks[0].Pipes[0].Stages, hir.Stage{
		TapRef: &astpdl.TapRef{Name: "ghost", Span: span(9)},
	})
	_, gbag := Build(h, reg, nil)
	require.True(t, gbag.HasErrors())
	assert.Equal(t, "G0401", string(gbag.All()[0].Code))
}
