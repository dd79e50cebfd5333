package parser

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pipit-lang/pcc/pkg/astpdl"
)

func TestParseSimpleTask(t *testing.T) {
	src := "clock c = 1kHz\ntask t : c {\n  constant(1.0) | stdout()\n}\n"
	prog, bag := Parse("t.pdl", src)
	require.Equal(t, 0, bag.Len(), "%v", bag.All())
	require.Len(t, prog.Decls, 1)
	require.Len(t, prog.Tasks, 1)

	clk, ok := prog.Decls[0].(*astpdl.ClockDecl)
	require.True(t, ok)
	assert.Equal(t, "c", clk.Name)
	assert.InDelta(t, 1000.0, clk.Freq.Value.(float64), 0.001)

	task := prog.Tasks[0]
	assert.Equal(t, "t", task.Name)
	assert.Equal(t, "c", task.Clock)
	require.Len(t, task.Pipes, 1)
	require.Len(t, task.Pipes[0].Stages, 2)

	first, ok := task.Pipes[0].Stages[0].(*astpdl.ActorCall)
	require.True(t, ok)
	assert.Equal(t, "constant", first.Name)
	require.Len(t, first.Args, 1)
	assert.InDelta(t, 1.0, first.Args[0].Literal.Value.(float64), 0.001)
}

func TestParseFeedbackLoop(t *testing.T) {
	src := "task t {\n  input() | add(:fb) | filter() | :fb -> delay(1, 0.0) | :fb\n}\n"
	prog, bag := Parse("t.pdl", src)
	require.Equal(t, 0, bag.Len(), "%v", bag.All())
	stages := prog.Tasks[0].Pipes[0].Stages
	require.Len(t, stages, 5)

	add, ok := stages[1].(*astpdl.ActorCall)
	require.True(t, ok)
	assert.Equal(t, "add", add.Name)
	require.Len(t, add.Args, 1)
	assert.Equal(t, "fb", add.Args[0].Ident)

	tapDecl, ok := stages[3].(*astpdl.TapDecl)
	require.True(t, ok)
	assert.Equal(t, "fb", tapDecl.Name)

	tapRef, ok := stages[4].(*astpdl.TapRef)
	require.True(t, ok)
	assert.Equal(t, "fb", tapRef.Name)
}

func TestParseShapeAndTypeArgs(t *testing.T) {
	src := "task t {\n  fft(256) | c2r() | decimate(64)\n}\n"
	prog, bag := Parse("t.pdl", src)
	require.Equal(t, 0, bag.Len(), "%v", bag.All())
	_ = prog

	src2 := "task t {\n  mul<float>(2.0) | sink()\n}\n"
	prog2, bag2 := Parse("t.pdl", src2)
	require.Equal(t, 0, bag2.Len(), "%v", bag2.All())
	call := prog2.Tasks[0].Pipes[0].Stages[0].(*astpdl.ActorCall)
	assert.Equal(t, "mul", call.Name)
	require.Len(t, call.TypeArgs, 1)
	assert.Equal(t, "float", call.TypeArgs[0].Name)
}

func TestParseDefineAndModal(t *testing.T) {
	src := `define gain(x) = mul(x) | clamp(0.0, 1.0)
task t {
  modal switch {
    quiet: gain(0.1) | sink()
    loud: gain(1.0) | sink()
    default: quiet
  }
}
`
	prog, bag := Parse("t.pdl", src)
	require.Equal(t, 0, bag.Len(), "%v", bag.All())
	require.Len(t, prog.Decls, 1)
	def := prog.Decls[0].(*astpdl.DefineDecl)
	assert.Equal(t, "gain", def.Name)
	assert.Equal(t, []string{"x"}, def.Params)

	modal := prog.Tasks[0].Modal
	require.NotNil(t, modal)
	require.Len(t, modal.Modes, 2)
	assert.Equal(t, "quiet", modal.Default)
}

func TestParseBindAndBufferStages(t *testing.T) {
	src := "task t {\n  mic() -> chan1\n  @chan1 | bind(udp, \"239.0.0.1\", 9000)\n}\n"
	prog, bag := Parse("t.pdl", src)
	require.Equal(t, 0, bag.Len(), "%v", bag.All())
	require.Len(t, prog.Tasks[0].Pipes, 2)

	write := prog.Tasks[0].Pipes[0].Stages[1].(*astpdl.BufferWrite)
	assert.Equal(t, "chan1", write.Name)
}

func TestParseErrorRecoverySynchronizes(t *testing.T) {
	src := "const a = )\ntask t {\n  stdout()\n}\n"
	prog, bag := Parse("t.pdl", src)
	require.True(t, bag.HasErrors())
	require.Len(t, prog.Tasks, 1, "parser should resynchronize and still find the task")
}
