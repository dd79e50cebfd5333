// Package token defines the lexical tokens of the Pipit description
// language (PDL) and the source-span type threaded through every later
// compiler phase for diagnostics.
package token

import "fmt"

// Pos is a byte offset into a single source file, 0-based.
type Pos int

// Span covers a contiguous run of source text. Spans are monotonic and
// non-overlapping as produced by the lexer; every AST node's span covers
// the span of every descendant.
type Span struct {
	File       string
	Start, End Pos
	// Line/Col are 1-based, computed once at lex time for diagnostic display.
	Line, Col       int
	EndLine, EndCol int
}

// Cover returns the smallest span containing both a and b.
func Cover(a, b Span) Span {
	s := a
	if b.Start < s.Start {
		s.Start = b.Start
		s.Line, s.Col = b.Line, b.Col
	}
	if b.End > s.End {
		s.End = b.End
		s.EndLine, s.EndCol = b.EndLine, b.EndCol
	}
	return s
}

func (s Span) String() string {
	return fmt.Sprintf("%s:%d:%d", s.File, s.Line, s.Col)
}

// Kind identifies the lexical class of a token.
type Kind int

const (
	EOF Kind = iota
	Illegal
	Newline

	Ident
	Number // integer or float literal
	Freq   // frequency literal, normalized to Hz at lex time
	Size   // size literal, normalized to bytes at lex time
	String // double-quoted string literal

	// Keywords
	Clock
	Define
	Const
	Param
	Set
	Task
	Control
	Modal
	Switch
	Default

	// Symbols
	LParen   // (
	RParen   // )
	LBracket // [
	RBracket // ]
	LBrace   // {
	RBrace   // }
	Comma    // ,
	Colon    // :
	Pipe     // |
	Arrow    // ->
	At       // @
	Assign   // =
	Lt       // <
	Gt       // >
	Dot      // .
	Minus    // -
	Bang     // !
)

var keywords = map[string]Kind{
	"clock":   Clock,
	"define":  Define,
	"const":   Const,
	"param":   Param,
	"set":     Set,
	"task":    Task,
	"control": Control,
	"modal":   Modal,
	"switch":  Switch,
	"default": Default,
}

// Lookup returns the keyword Kind for ident, or (Ident, false) if ident is
// not a reserved word.
func Lookup(ident string) (Kind, bool) {
	k, ok := keywords[ident]
	return k, ok
}

var kindNames = map[Kind]string{
	EOF: "EOF", Illegal: "ILLEGAL", Newline: "NEWLINE",
	Ident: "IDENT", Number: "NUMBER", Freq: "FREQ", Size: "SIZE", String: "STRING",
	Clock: "clock", Define: "define", Const: "const", Param: "param", Set: "set",
	Task: "task", Control: "control", Modal: "modal", Switch: "switch", Default: "default",
	LParen: "(", RParen: ")", LBracket: "[", RBracket: "]", LBrace: "{", RBrace: "}",
	Comma: ",", Colon: ":", Pipe: "|", Arrow: "->", At: "@", Assign: "=",
	Lt: "<", Gt: ">", Dot: ".", Minus: "-", Bang: "!",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Token is one lexeme: its kind, span, and decoded value.
//
// Value holds the kind-specific payload:
//   - Ident, String: the decoded text (string)
//   - Number: float64 (integers are float64 with no fractional part; the
//     parser decides integer-ness from the absence of a '.' via Raw)
//   - Freq: float64, normalized to Hz
//   - Size: int64, normalized to bytes
type Token struct {
	Kind  Kind
	Span  Span
	Value any
	Raw   string // original source text, for error messages and re-emission
}

func (t Token) String() string {
	if t.Raw != "" {
		return fmt.Sprintf("%s(%q)", t.Kind, t.Raw)
	}
	return t.Kind.String()
}
