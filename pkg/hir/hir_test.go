package hir

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pipit-lang/pcc/pkg/parser"
	"github.com/pipit-lang/pcc/pkg/resolve"
)

func build(t *testing.T, src string) (*Program, *resolve.Result) {
	t.Helper()
	prog, bag := parser.Parse("t.pdl", src)
	require.Equal(t, 0, bag.Len(), "%v", bag.All())
	res, rbag := resolve.Resolve(prog)
	require.Equal(t, 0, rbag.Len(), "%v", rbag.All())
	h, hbag := Build(res)
	require.Equal(t, 0, hbag.Len(), "%v", hbag.All())
	return h, res
}

func TestBuildInlinesSimpleDefine(t *testing.T) {
	src := "define gain(x) = mul(x) | clamp(0.0, 1.0)\ntask t {\n  gain(0.5) | sink()\n}\n"
	h, _ := build(t, src)
	require.Len(t, h.Tasks, 1)
	stages := h.Tasks[0].Pipes[0].Stages
	require.Len(t, stages, 3, "gain(0.5) should expand to mul, clamp, then the original sink")

	require.NotNil(t, stages[0].Call)
	assert.Equal(t, "mul", stages[0].Call.Name)
	require.NotNil(t, stages[0].Call.Origin)
	assert.Equal(t, "gain", stages[0].Call.Origin.Define)
	require.Len(t, stages[0].Call.Args, 1)
	assert.InDelta(t, 0.5, stages[0].Call.Args[0].Literal.Value.(float64), 0.001)

	require.NotNil(t, stages[1].Call)
	assert.Equal(t, "clamp", stages[1].Call.Name)

	require.NotNil(t, stages[2].Call)
	assert.Equal(t, "sink", stages[2].Call.Name)
	assert.Nil(t, stages[2].Call.Origin)
}

func TestBuildTwoCallSitesGetDistinctIDs(t *testing.T) {
	src := "define gain(x) = mul(x)\ntask t {\n  gain(0.1) | sink()\n  gain(0.2) | sink()\n}\n"
	h, _ := build(t, src)
	require.Len(t, h.Tasks[0].Pipes, 2)

	id1 := h.Tasks[0].Pipes[0].Stages[0].Call.ID
	id2 := h.Tasks[0].Pipes[1].Stages[0].Call.ID
	assert.NotEqual(t, id1, id2, "two call sites of the same define must not collide")
}

func TestBuildNestedDefine(t *testing.T) {
	src := "define scale(x) = mul(x)\ndefine gain(x) = scale(x) | clamp(0.0, 1.0)\ntask t {\n  gain(0.5) | sink()\n}\n"
	h, _ := build(t, src)
	stages := h.Tasks[0].Pipes[0].Stages
	require.Len(t, stages, 3)
	assert.Equal(t, "mul", stages[0].Call.Name)
	assert.Equal(t, "scale", stages[0].Call.Origin.Define, "innermost origin should be the directly-enclosing define")
}

func TestBuildArgSubstitutionThroughPipe(t *testing.T) {
	src := "define gain(x) = mul(x) | mul(x)\ntask t {\n  gain(2.0) | sink()\n}\n"
	h, _ := build(t, src)
	stages := h.Tasks[0].Pipes[0].Stages
	require.Len(t, stages, 3)
	assert.InDelta(t, 2.0, stages[0].Call.Args[0].Literal.Value.(float64), 0.001)
	assert.InDelta(t, 2.0, stages[1].Call.Args[0].Literal.Value.(float64), 0.001)
}

func TestBuildPreservesNonDefineStages(t *testing.T) {
	src := "task t {\n  input() | add(:fb) | filter() | :fb -> delay(1, 0.0) | :fb\n}\n"
	h, _ := build(t, src)
	stages := h.Tasks[0].Pipes[0].Stages
	require.Len(t, stages, 5)
	assert.NotNil(t, stages[0].Call)
	assert.NotNil(t, stages[3].TapDecl)
	assert.NotNil(t, stages[4].TapRef)
}
