package analyze

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pipit-lang/pcc/pkg/astpdl"
	"github.com/pipit-lang/pcc/pkg/graph"
	"github.com/pipit-lang/pcc/pkg/hir"
	"github.com/pipit-lang/pcc/pkg/parser"
	"github.com/pipit-lang/pcc/pkg/registry"
	"github.com/pipit-lang/pcc/pkg/resolve"
	"github.com/pipit-lang/pcc/pkg/types"
)

func buildGraph(t *testing.T, src string, reg *registry.Registry) *graph.Program {
	t.Helper()
	prog, bag := parser.Parse("t.pdl", src)
	require.Equal(t, 0, bag.Len(), "%v", bag.All())
	res, rbag := resolve.Resolve(prog)
	require.Equal(t, 0, rbag.Len(), "%v", rbag.All())
	h, hbag := hir.Build(res)
	require.Equal(t, 0, hbag.Len(), "%v", hbag.All())
	var tinfo *types.Info
	h, tinfo, tbag := types.Infer(h, reg)
	require.Equal(t, 0, tbag.Len(), "%v", tbag.All())
	g, gbag := graph.Build(h, reg, tinfo)
	require.Equal(t, 0, gbag.Len(), "%v", gbag.All())
	return g
}

func simpleRegistry() *registry.Registry {
	reg := registry.New()
	reg.Put(registry.ActorMeta{Name: "input", Ports: []registry.Port{{Dir: registry.Out, Type: "float"}}})
	reg.Put(registry.ActorMeta{Name: "sink", Ports: []registry.Port{{Dir: registry.In, Type: "float"}}})
	return reg
}

func TestAnalyzeBalancedOneToOneGraph(t *testing.T) {
	g := buildGraph(t, "task t {\n  input() | sink()\n}\n", simpleRegistry())
	res, bag := Analyze(g, simpleRegistry())
	require.Equal(t, 0, bag.Len(), "%v", bag.All())
	tr := res.Tasks["t"]
	for _, id := range g.Tasks["t"].Order {
		assert.Equal(t, 1, tr.Repetition[id])
	}
}

func TestAnalyzeUnequalRatesProducesRepetitionVector(t *testing.T) {
	reg := registry.New()
	reg.Put(registry.ActorMeta{Name: "input", Ports: []registry.Port{
		{Dir: registry.Out, Type: "float", Shape: []registry.Dim{{Const: 1}}},
	}})
	reg.Put(registry.ActorMeta{Name: "pack", Ports: []registry.Port{
		{Dir: registry.In, Type: "float", Shape: []registry.Dim{{Const: 4}}},
		{Dir: registry.Out, Type: "float", Shape: []registry.Dim{{Const: 1}}},
	}})
	reg.Put(registry.ActorMeta{Name: "sink", Ports: []registry.Port{
		{Dir: registry.In, Type: "float", Shape: []registry.Dim{{Const: 1}}},
	}})
	g := buildGraph(t, "task t {\n  input() | pack() | sink()\n}\n", reg)
	res, bag := Analyze(g, reg)
	require.Equal(t, 0, bag.Len(), "%v", bag.All())

	tr := res.Tasks["t"]
	order := g.Tasks["t"].Order
	repInput := tr.Repetition[order[0]]
	repPack := tr.Repetition[order[1]]
	assert.Equal(t, 4*repPack, repInput, "input must fire 4x per pack firing since pack consumes 4 per input's 1")
}

func TestAnalyzeFeedbackWithoutInitialTokensIsDeadlock(t *testing.T) {
	reg := registry.New()
	reg.Put(registry.ActorMeta{Name: "input", Ports: []registry.Port{{Dir: registry.Out, Type: "float"}}})
	reg.Put(registry.ActorMeta{Name: "add", Ports: []registry.Port{
		{Dir: registry.In, Type: "float"}, {Dir: registry.Out, Type: "float"},
	}})
	reg.Put(registry.ActorMeta{Name: "filter", Ports: []registry.Port{
		{Dir: registry.In, Type: "float"}, {Dir: registry.Out, Type: "float"},
	}})
	reg.Put(registry.ActorMeta{Name: "delay", Ports: []registry.Port{
		{Dir: registry.In, Type: "float"}, {Dir: registry.Out, Type: "float"},
	}})

	h := &hir.Program{}
	input := &hir.Call{ID: "c1", Name: "input"}
	add := &hir.Call{ID: "c2", Name: "add", Args: []astpdl.Arg{{Ident: "fb"}}}
	filter := &hir.Call{ID: "c3", Name: "filter"}
	delay := &hir.Call{ID: "c4", Name: "delay"} // no args: InitTokens resolves to 0
	h.Tasks = []hir.Task{{
		Name: "t",
		Pipes: []hir.Pipe{{Stages: []hir.Stage{
			{Call: input}, {Call: add}, {Call: filter}, {Call: delay},
			{TapDecl: &astpdl.TapDecl{Name: "fb"}},
		}}},
	}}

	g, gbag := graph.Build(h, reg, nil)
	require.Equal(t, 0, gbag.Len(), "%v", gbag.All())

	_, bag := Analyze(g, reg)
	require.True(t, bag.HasErrors())
	assert.Equal(t, "R0503", string(bag.All()[0].Code))
}
