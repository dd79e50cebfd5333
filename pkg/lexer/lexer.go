// Package lexer tokenizes Pipit description language (PDL) source text.
//
// The lexer is declarative about its token table (§4.1): ten keywords,
// seventeen symbols, four literal kinds, identifiers, and significant
// end-of-line. It never restarts: Tokenize consumes the full input once
// and returns a finite token slice plus any lexical diagnostics. On
// unrecognized input it emits an Illegal token for the offending span and
// continues past exactly one rune, so a single bad character never stops
// the rest of the file from tokenizing.
package lexer

import (
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/pipit-lang/pcc/internal/diag"
	"github.com/pipit-lang/pcc/pkg/token"
)

// Lexer holds the mutable scan position over one source file's bytes.
type Lexer struct {
	file   string
	src    string
	pos    int // byte offset of the next unread rune
	line   int
	col    int
	bag    diag.Bag
}

// New creates a Lexer over src, attributing spans to file.
func New(file, src string) *Lexer {
	return &Lexer{file: file, src: src, pos: 0, line: 1, col: 1}
}

// Tokenize scans the entire input and returns the token sequence along
// with any lexical diagnostics gathered along the way (Lnnnn codes).
// Block comments are stripped before tokenization; line comments end at
// the newline that terminates them (the newline itself is still significant
// and emitted as a Newline token per §4.1).
func Tokenize(file, src string) ([]token.Token, *diag.Bag) {
	l := New(file, stripBlockComments(src))
	var toks []token.Token
	for {
		t := l.next()
		toks = append(toks, t)
		if t.Kind == token.EOF {
			break
		}
	}
	return toks, &l.bag
}

// stripBlockComments removes /* ... */ regions before scanning, replacing
// each stripped byte with a space so spans/line-numbers of surrounding
// tokens are preserved.
func stripBlockComments(src string) string {
	var b strings.Builder
	b.Grow(len(src))
	i := 0
	for i < len(src) {
		if i+1 < len(src) && src[i] == '/' && src[i+1] == '*' {
			end := strings.Index(src[i+2:], "*/")
			if end < 0 {
				// Unterminated block comment: blank out to EOF.
				for ; i < len(src); i++ {
					if src[i] == '\n' {
						b.WriteByte('\n')
					} else {
						b.WriteByte(' ')
					}
				}
				break
			}
			stop := i + 2 + end + 2
			for ; i < stop; i++ {
				if src[i] == '\n' {
					b.WriteByte('\n')
				} else {
					b.WriteByte(' ')
				}
			}
			continue
		}
		b.WriteByte(src[i])
		i++
	}
	return b.String()
}

func (l *Lexer) peekByte() byte {
	if l.pos >= len(l.src) {
		return 0
	}
	return l.src[l.pos]
}

func (l *Lexer) peekAt(off int) byte {
	if l.pos+off >= len(l.src) {
		return 0
	}
	return l.src[l.pos+off]
}

func (l *Lexer) advance() rune {
	if l.pos >= len(l.src) {
		return 0
	}
	r, size := utf8.DecodeRuneInString(l.src[l.pos:])
	l.pos += size
	if r == '\n' {
		l.line++
		l.col = 1
	} else {
		l.col++
	}
	return r
}

func (l *Lexer) here() (int, int, int) { return l.pos, l.line, l.col }

func (l *Lexer) span(startPos, startLine, startCol int) token.Span {
	return token.Span{
		File: l.file, Start: token.Pos(startPos), End: token.Pos(l.pos),
		Line: startLine, Col: startCol, EndLine: l.line, EndCol: l.col,
	}
}

func isIdentStart(r rune) bool { return unicode.IsLetter(r) || r == '_' }
func isIdentCont(r rune) bool  { return unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_' }

func (l *Lexer) next() token.Token {
	l.skipSpacesAndLineComments()

	startPos, startLine, startCol := l.here()
	if l.pos >= len(l.src) {
		return token.Token{Kind: token.EOF, Span: l.span(startPos, startLine, startCol)}
	}

	c := l.peekByte()

	if c == '\n' {
		l.advance()
		return token.Token{Kind: token.Newline, Span: l.span(startPos, startLine, startCol), Raw: "\n"}
	}

	if r, _ := utf8.DecodeRuneInString(l.src[l.pos:]); isIdentStart(r) {
		return l.lexIdentOrKeyword(startPos, startLine, startCol)
	}
	if c >= '0' && c <= '9' {
		return l.lexNumberLike(startPos, startLine, startCol)
	}
	if c == '"' {
		return l.lexString(startPos, startLine, startCol)
	}

	switch c {
	case '(':
		l.advance()
		return l.mk(token.LParen, startPos, startLine, startCol, "(")
	case ')':
		l.advance()
		return l.mk(token.RParen, startPos, startLine, startCol, ")")
	case '[':
		l.advance()
		return l.mk(token.LBracket, startPos, startLine, startCol, "[")
	case ']':
		l.advance()
		return l.mk(token.RBracket, startPos, startLine, startCol, "]")
	case '{':
		l.advance()
		return l.mk(token.LBrace, startPos, startLine, startCol, "{")
	case '}':
		l.advance()
		return l.mk(token.RBrace, startPos, startLine, startCol, "}")
	case ',':
		l.advance()
		return l.mk(token.Comma, startPos, startLine, startCol, ",")
	case ':':
		l.advance()
		return l.mk(token.Colon, startPos, startLine, startCol, ":")
	case '|':
		l.advance()
		return l.mk(token.Pipe, startPos, startLine, startCol, "|")
	case '@':
		l.advance()
		return l.mk(token.At, startPos, startLine, startCol, "@")
	case '=':
		l.advance()
		return l.mk(token.Assign, startPos, startLine, startCol, "=")
	case '<':
		l.advance()
		return l.mk(token.Lt, startPos, startLine, startCol, "<")
	case '>':
		l.advance()
		return l.mk(token.Gt, startPos, startLine, startCol, ">")
	case '.':
		l.advance()
		return l.mk(token.Dot, startPos, startLine, startCol, ".")
	case '!':
		l.advance()
		return l.mk(token.Bang, startPos, startLine, startCol, "!")
	case '-':
		if l.peekAt(1) == '>' {
			l.advance()
			l.advance()
			return l.mk(token.Arrow, startPos, startLine, startCol, "->")
		}
		l.advance()
		return l.mk(token.Minus, startPos, startLine, startCol, "-")
	}

	// Unrecognized input: emit Illegal for exactly this one rune and continue.
	r := l.advance()
	sp := l.span(startPos, startLine, startCol)
	l.bag.Add(diag.New("L0001", sp, "unrecognized character %q", r))
	return token.Token{Kind: token.Illegal, Span: sp, Raw: string(r)}
}

func (l *Lexer) mk(k token.Kind, startPos, startLine, startCol int, raw string) token.Token {
	return token.Token{Kind: k, Span: l.span(startPos, startLine, startCol), Raw: raw}
}

func (l *Lexer) skipSpacesAndLineComments() {
	for {
		c := l.peekByte()
		if c == ' ' || c == '\t' || c == '\r' {
			l.advance()
			continue
		}
		if c == '/' && l.peekAt(1) == '/' {
			for l.peekByte() != '\n' && l.pos < len(l.src) {
				l.advance()
			}
			continue
		}
		break
	}
}

func (l *Lexer) lexIdentOrKeyword(startPos, startLine, startCol int) token.Token {
	for {
		r, size := utf8.DecodeRuneInString(l.src[l.pos:])
		if size == 0 || !isIdentCont(r) {
			break
		}
		l.advance()
	}
	sp := l.span(startPos, startLine, startCol)
	text := l.src[startPos:l.pos]
	if kw, ok := token.Lookup(text); ok {
		return token.Token{Kind: kw, Span: sp, Raw: text}
	}
	return token.Token{Kind: token.Ident, Span: sp, Value: text, Raw: text}
}

// freqUnits maps a case-sensitive unit suffix to its Hz multiplier.
var freqUnits = map[string]float64{
	"Hz": 1, "kHz": 1e3, "MHz": 1e6, "GHz": 1e9,
}

// sizeUnits maps a case-sensitive unit suffix to its byte multiplier.
var sizeUnits = map[string]float64{
	"B": 1, "KB": 1 << 10, "MB": 1 << 20,
}

func (l *Lexer) lexNumberLike(startPos, startLine, startCol int) token.Token {
	for l.peekByte() >= '0' && l.peekByte() <= '9' {
		l.advance()
	}
	isFloat := false
	if l.peekByte() == '.' && l.peekAt(1) >= '0' && l.peekAt(1) <= '9' {
		isFloat = true
		l.advance()
		for l.peekByte() >= '0' && l.peekByte() <= '9' {
			l.advance()
		}
	}
	if l.peekByte() == 'e' || l.peekByte() == 'E' {
		save := l.pos
		saveLine, saveCol := l.line, l.col
		l.advance()
		if l.peekByte() == '+' || l.peekByte() == '-' {
			l.advance()
		}
		if l.peekByte() >= '0' && l.peekByte() <= '9' {
			isFloat = true
			for l.peekByte() >= '0' && l.peekByte() <= '9' {
				l.advance()
			}
		} else {
			l.pos, l.line, l.col = save, saveLine, saveCol
		}
	}
	numText := l.src[startPos:l.pos]

	// Unit suffix: a run of letters immediately following the digits with
	// no intervening whitespace decides Freq vs Size vs plain Number.
	unitStart := l.pos
	for isLetter(l.peekByte()) {
		l.advance()
	}
	unit := l.src[unitStart:l.pos]

	sp := l.span(startPos, startLine, startCol)
	raw := l.src[startPos:l.pos]

	if mult, ok := freqUnits[unit]; ok {
		v, err := strconv.ParseFloat(numText, 64)
		if err != nil {
			l.bag.Add(diag.New("L0002", sp, "invalid frequency literal %q", raw))
			return token.Token{Kind: token.Illegal, Span: sp, Raw: raw}
		}
		return token.Token{Kind: token.Freq, Span: sp, Value: v * mult, Raw: raw}
	}
	if mult, ok := sizeUnits[unit]; ok {
		v, err := strconv.ParseFloat(numText, 64)
		if err != nil || isFloat {
			l.bag.Add(diag.New("L0003", sp, "invalid size literal %q", raw))
			return token.Token{Kind: token.Illegal, Span: sp, Raw: raw}
		}
		return token.Token{Kind: token.Size, Span: sp, Value: int64(v * mult), Raw: raw}
	}
	if unit != "" {
		l.bag.Add(diag.New("L0004", sp, "unknown unit suffix %q", unit).
			WithHint("expected one of Hz, kHz, MHz, GHz (frequency) or B, KB, MB (size)"))
		return token.Token{Kind: token.Illegal, Span: sp, Raw: raw}
	}

	v, err := strconv.ParseFloat(numText, 64)
	if err != nil {
		l.bag.Add(diag.New("L0005", sp, "invalid numeric literal %q", raw))
		return token.Token{Kind: token.Illegal, Span: sp, Raw: raw}
	}
	return token.Token{Kind: token.Number, Span: sp, Value: v, Raw: raw}
}

func isLetter(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func (l *Lexer) lexString(startPos, startLine, startCol int) token.Token {
	l.advance() // opening quote
	var sb strings.Builder
	for {
		c := l.peekByte()
		if l.pos >= len(l.src) {
			sp := l.span(startPos, startLine, startCol)
			l.bag.Add(diag.New("L0006", sp, "unterminated string literal"))
			return token.Token{Kind: token.Illegal, Span: sp, Raw: l.src[startPos:l.pos]}
		}
		if c == '"' {
			l.advance()
			break
		}
		if c == '\\' {
			l.advance()
			esc := l.peekByte()
			switch esc {
			case 'n':
				sb.WriteByte('\n')
			case 't':
				sb.WriteByte('\t')
			case '"':
				sb.WriteByte('"')
			case '\\':
				sb.WriteByte('\\')
			default:
				sb.WriteByte('\\')
				sb.WriteByte(esc)
			}
			l.advance()
			continue
		}
		r := l.advance()
		sb.WriteRune(r)
	}
	sp := l.span(startPos, startLine, startCol)
	return token.Token{Kind: token.String, Span: sp, Value: sb.String(), Raw: l.src[startPos:l.pos]}
}
