package schedule

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pipit-lang/pcc/pkg/analyze"
	"github.com/pipit-lang/pcc/pkg/graph"
	"github.com/pipit-lang/pcc/pkg/hir"
	"github.com/pipit-lang/pcc/pkg/parser"
	"github.com/pipit-lang/pcc/pkg/registry"
	"github.com/pipit-lang/pcc/pkg/resolve"
	"github.com/pipit-lang/pcc/pkg/types"
)

func buildAnalyzed(t *testing.T, src string, reg *registry.Registry) (*graph.Program, *analyze.Result) {
	t.Helper()
	prog, bag := parser.Parse("t.pdl", src)
	require.Equal(t, 0, bag.Len(), "%v", bag.All())
	res, rbag := resolve.Resolve(prog)
	require.Equal(t, 0, rbag.Len(), "%v", rbag.All())
	h, hbag := hir.Build(res)
	require.Equal(t, 0, hbag.Len(), "%v", hbag.All())
	h, tinfo, tbag := types.Infer(h, reg)
	require.Equal(t, 0, tbag.Len(), "%v", tbag.All())
	g, gbag := graph.Build(h, reg, tinfo)
	require.Equal(t, 0, gbag.Len(), "%v", gbag.All())
	ar, abag := analyze.Analyze(g, reg)
	require.Equal(t, 0, abag.Len(), "%v", abag.All())
	return g, ar
}

func chainRegistry() *registry.Registry {
	reg := registry.New()
	reg.Put(registry.ActorMeta{Name: "input", Ports: []registry.Port{{Dir: registry.Out, Type: "float"}}})
	reg.Put(registry.ActorMeta{Name: "a", Ports: []registry.Port{
		{Dir: registry.In, Type: "float"}, {Dir: registry.Out, Type: "float"},
	}})
	reg.Put(registry.ActorMeta{Name: "b", Ports: []registry.Port{
		{Dir: registry.In, Type: "float"}, {Dir: registry.Out, Type: "float"},
	}})
	reg.Put(registry.ActorMeta{Name: "sink", Ports: []registry.Port{{Dir: registry.In, Type: "float"}}})
	return reg
}

func TestScheduleSimpleChainIsInSourceOrder(t *testing.T) {
	reg := chainRegistry()
	g, ar := buildAnalyzed(t, "task t {\n  input() | a() | b() | sink()\n}\n", reg)
	result, bag := Schedule(g, ar)
	require.Equal(t, 0, bag.Len(), "%v", bag.All())

	sched := result.Tasks["t"]
	require.Len(t, sched.Order, 4)
	assert.Equal(t, g.Tasks["t"].Order, sched.Order)
}

func TestScheduleFusesContiguousSameRepetitionRun(t *testing.T) {
	reg := registry.New()
	reg.Put(registry.ActorMeta{Name: "input", Ports: []registry.Port{
		{Dir: registry.Out, Type: "float", Shape: []registry.Dim{{Const: 4}}},
	}})
	reg.Put(registry.ActorMeta{Name: "a", Ports: []registry.Port{
		{Dir: registry.In, Type: "float", Shape: []registry.Dim{{Const: 1}}},
		{Dir: registry.Out, Type: "float", Shape: []registry.Dim{{Const: 1}}},
	}})
	reg.Put(registry.ActorMeta{Name: "b", Ports: []registry.Port{
		{Dir: registry.In, Type: "float", Shape: []registry.Dim{{Const: 1}}},
		{Dir: registry.Out, Type: "float", Shape: []registry.Dim{{Const: 1}}},
	}})
	reg.Put(registry.ActorMeta{Name: "sink", Ports: []registry.Port{
		{Dir: registry.In, Type: "float", Shape: []registry.Dim{{Const: 4}}},
	}})
	g, ar := buildAnalyzed(t, "task t {\n  input() | a() | b() | sink()\n}\n", reg)
	result, bag := Schedule(g, ar)
	require.Equal(t, 0, bag.Len(), "%v", bag.All())

	sched := result.Tasks["t"]
	require.Len(t, sched.Fusions, 1, "a and b both fire 4x per input/sink firing and are directly connected")
	assert.Len(t, sched.Fusions[0].Members, 2)
	assert.Equal(t, 4, sched.Fusions[0].Repetition)
}

func TestScheduleBufferSizingUsesMaxRateTimesRepetition(t *testing.T) {
	reg := chainRegistry()
	g, ar := buildAnalyzed(t, "task t {\n  input() | a() | b() | sink()\n}\n", reg)
	result, bag := Schedule(g, ar)
	require.Equal(t, 0, bag.Len(), "%v", bag.All())

	sched := result.Tasks["t"]
	require.NotEmpty(t, sched.Buffers)
	for _, b := range sched.Buffers {
		assert.GreaterOrEqual(t, b.Slots, 1)
	}
}
