package lexer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pipit-lang/pcc/pkg/token"
)

func kinds(toks []token.Token) []token.Kind {
	out := make([]token.Kind, 0, len(toks))
	for _, t := range toks {
		out = append(out, t.Kind)
	}
	return out
}

func TestTokenizeClockTask(t *testing.T) {
	src := "clock c=1kHz\ntask t { constant(1.0) | stdout() }\n"
	toks, bag := Tokenize("t.pdl", src)
	require.Equal(t, 0, bag.Len())

	assert.Equal(t, []token.Kind{
		token.Clock, token.Ident, token.Assign, token.Freq, token.Newline,
		token.Task, token.Ident, token.LBrace,
		token.Ident, token.LParen, token.Number, token.RParen,
		token.Pipe, token.Ident, token.LParen, token.RParen,
		token.RBrace, token.Newline, token.EOF,
	}, kinds(toks))

	freqTok := toks[3]
	assert.InDelta(t, 1000.0, freqTok.Value.(float64), 0.0001)
}

func TestTokenizeSizeSuffix(t *testing.T) {
	toks, bag := Tokenize("t.pdl", "const buf = 4KB\n")
	require.Equal(t, 0, bag.Len())
	var sizeTok token.Token
	for _, tt := range toks {
		if tt.Kind == token.Size {
			sizeTok = tt
		}
	}
	require.Equal(t, token.Size, sizeTok.Kind)
	assert.Equal(t, int64(4*1024), sizeTok.Value.(int64))
}

func TestTokenizeStringEscapes(t *testing.T) {
	toks, bag := Tokenize("t.pdl", `probe "left channel\n"` + "\n")
	require.Equal(t, 0, bag.Len())
	var strTok token.Token
	for _, tt := range toks {
		if tt.Kind == token.String {
			strTok = tt
		}
	}
	assert.Equal(t, "left channel\n", strTok.Value.(string))
}

func TestTokenizeLineAndBlockComments(t *testing.T) {
	src := "// leading comment\nconst a = 1 /* inline */ \n"
	toks, bag := Tokenize("t.pdl", src)
	require.Equal(t, 0, bag.Len())
	assert.Equal(t, []token.Kind{
		token.Newline, token.Const, token.Ident, token.Assign, token.Number, token.Newline, token.EOF,
	}, kinds(toks))
}

func TestTokenizeIllegalCharacterRecovers(t *testing.T) {
	toks, bag := Tokenize("t.pdl", "const a = 1 $ const b = 2\n")
	require.Equal(t, 1, bag.Len())
	assert.Equal(t, "L0001", string(bag.All()[0].Code))
	// Lexing continues past the bad rune: both const decls still tokenize.
	count := 0
	for _, tt := range toks {
		if tt.Kind == token.Const {
			count++
		}
	}
	assert.Equal(t, 2, count)
}

func TestUnknownUnitSuffixIsIllegal(t *testing.T) {
	_, bag := Tokenize("t.pdl", "const a = 5Wz\n")
	require.Equal(t, 1, bag.Len())
	assert.Equal(t, "L0004", string(bag.All()[0].Code))
}
