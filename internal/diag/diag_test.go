package diag

import (
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pipit-lang/pcc/pkg/token"
)

func span(line int) token.Span {
	return token.Span{File: "t.pdl", Line: line, Col: 1, EndLine: line, EndCol: 5}
}

func TestBagHasErrors(t *testing.T) {
	var b Bag
	assert.False(t, b.HasErrors())

	b.Add(Warn("G0100", span(1), "tap declared twice"))
	assert.False(t, b.HasErrors())

	b.Add(New("S0012", span(2), "unexpected token"))
	assert.True(t, b.HasErrors())
	assert.Equal(t, 2, b.Len())
}

func TestBagAddNilIsNoop(t *testing.T) {
	var b Bag
	b.Add(nil)
	assert.Equal(t, 0, b.Len())
}

func TestExitCodePrecedence(t *testing.T) {
	var compile Bag
	compile.Add(New("T0200", span(1), "ambiguous instantiation"))
	assert.Equal(t, ExitCompilation, ExitCode(&compile))

	var usage Bag
	usage.Add(New("E0700", span(1), "missing --actor-meta"))
	assert.Equal(t, ExitUsage, ExitCode(&usage))

	var env Bag
	env.Add(New("X0900", span(1), "preprocessor launch failed"))
	assert.Equal(t, ExitEnvironment, ExitCode(&env))

	assert.Equal(t, ExitOK, ExitCode(nil))
}

func TestDiagnosticUnwrap(t *testing.T) {
	cause := errors.New("exec: not found")
	d := New("X0901", span(3), "cannot launch preprocessor").WithCause(cause)
	require.ErrorIs(t, d, cause)
}

func TestRenderJSON(t *testing.T) {
	var b Bag
	b.Add(New("R1042", span(4), "unbalanceable graph").WithHint("check feedback initial tokens"))

	var buf bytes.Buffer
	require.NoError(t, Render(&buf, &b, FormatJSON, true))
	assert.Contains(t, buf.String(), `"code": "R1042"`)
	assert.Contains(t, buf.String(), `"hint": "check feedback initial tokens"`)
}

func TestRenderHumanNoColor(t *testing.T) {
	var b Bag
	b.Add(New("N0300", span(5), "undefined identifier 'fb'"))

	var buf bytes.Buffer
	require.NoError(t, Render(&buf, &b, FormatHuman, true))
	assert.Contains(t, buf.String(), "N0300")
	assert.Contains(t, buf.String(), "undefined identifier 'fb'")
}
