package resolve

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pipit-lang/pcc/pkg/parser"
)

func TestResolveSimpleTaskNoErrors(t *testing.T) {
	prog, bag := parser.Parse("t.pdl", "clock c = 1kHz\ntask t : c {\n  constant(1.0) | stdout()\n}\n")
	require.Equal(t, 0, bag.Len())

	res, rbag := Resolve(prog)
	assert.Equal(t, 0, rbag.Len(), "%v", rbag.All())
	assert.Len(t, res.Symbols.Clocks, 1)
	assert.Len(t, res.CallIDs, 2, "constant() and stdout() should each get a stable CallID")
}

func TestResolveUndeclaredClockReference(t *testing.T) {
	prog, bag := parser.Parse("t.pdl", "task t : missing {\n  stdout()\n}\n")
	require.Equal(t, 0, bag.Len())

	_, rbag := Resolve(prog)
	require.True(t, rbag.HasErrors())
	assert.Equal(t, "N0104", string(rbag.All()[0].Code))
}

func TestResolveFeedbackTapIsFine(t *testing.T) {
	src := "task t {\n  input() | add(:fb) | filter() | :fb -> delay(1, 0.0) | :fb\n}\n"
	prog, bag := parser.Parse("t.pdl", src)
	require.Equal(t, 0, bag.Len())

	res, rbag := Resolve(prog)
	assert.Equal(t, 0, rbag.Len(), "%v", rbag.All())
	assert.Contains(t, res.TaskTaps["t"], "fb")
}

func TestResolveUndeclaredTapIsError(t *testing.T) {
	src := "task t {\n  input() | add(:ghost) | stdout()\n}\n"
	prog, bag := parser.Parse("t.pdl", src)
	require.Equal(t, 0, bag.Len())

	_, rbag := Resolve(prog)
	require.True(t, rbag.HasErrors())
	assert.Equal(t, "N0101", string(rbag.All()[0].Code))
}

func TestResolveBufferReadWithoutWriteIsError(t *testing.T) {
	src := "task t {\n  @orphan | bind(udp, \"239.0.0.1\", 9000)\n}\n"
	prog, bag := parser.Parse("t.pdl", src)
	require.Equal(t, 0, bag.Len())

	_, rbag := Resolve(prog)
	require.True(t, rbag.HasErrors())
	assert.Equal(t, "N0103", string(rbag.All()[0].Code))
}

func TestResolveBufferWriteThenReadAcrossTasks(t *testing.T) {
	src := "task producer {\n  mic() -> chan1\n}\ntask consumer {\n  @chan1 | bind(udp, \"239.0.0.1\", 9000)\n}\n"
	prog, bag := parser.Parse("t.pdl", src)
	require.Equal(t, 0, bag.Len())

	_, rbag := Resolve(prog)
	assert.Equal(t, 0, rbag.Len(), "%v", rbag.All())
}

func TestResolveDuplicateConstIsError(t *testing.T) {
	src := "const a = 1.0\nconst a = 2.0\ntask t {\n  stdout()\n}\n"
	prog, bag := parser.Parse("t.pdl", src)
	require.Equal(t, 0, bag.Len())

	_, rbag := Resolve(prog)
	require.True(t, rbag.HasErrors())
	assert.Equal(t, "N0102", string(rbag.All()[0].Code))
}

func TestResolveDefineParamScopedToItsBody(t *testing.T) {
	src := "define gain(x) = mul(x) | clamp(0.0, 1.0)\ntask t {\n  stdout()\n}\n"
	prog, bag := parser.Parse("t.pdl", src)
	require.Equal(t, 0, bag.Len())

	_, rbag := Resolve(prog)
	assert.Equal(t, 0, rbag.Len(), "%v", rbag.All(), "x is gain's own formal parameter, not an undeclared identifier")
}

func TestResolveModalDefaultMismatchIsError(t *testing.T) {
	src := `task t {
  modal switch {
    quiet: stdout()
    default: loud
  }
}
`
	prog, bag := parser.Parse("t.pdl", src)
	require.Equal(t, 0, bag.Len())

	_, rbag := Resolve(prog)
	require.True(t, rbag.HasErrors())
	assert.Equal(t, "N0105", string(rbag.All()[0].Code))
}
