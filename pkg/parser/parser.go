// Package parser implements the LL(1) recursive-descent parser for PDL
// (§4.2). Errors are structured — expected-token set, found token,
// context — in the same Message/Cause/Fix spirit internal/diag carries
// forward from the teacher's internal/errors package. On a syntax error
// the parser resynchronizes to the next top-level boundary (a Task or
// Decl keyword at statement position) rather than aborting, so one bad
// construct doesn't hide every other diagnostic in the file.
package parser

import (
	"fmt"

	"github.com/pipit-lang/pcc/internal/diag"
	"github.com/pipit-lang/pcc/pkg/astpdl"
	"github.com/pipit-lang/pcc/pkg/lexer"
	"github.com/pipit-lang/pcc/pkg/token"
)

// Parse tokenizes and parses src, returning the resulting Program and any
// diagnostics gathered by the lexer and parser combined. A non-nil
// Program is always returned, even in the presence of errors, so --emit
// ast can still show partial structure.
func Parse(file, src string) (*astpdl.Program, *diag.Bag) {
	toks, lexBag := lexer.Tokenize(file, src)
	p := &parser{toks: toks}
	prog := p.parseProgram()
	p.bag.Merge(lexBag)
	return prog, &p.bag
}

type parser struct {
	toks []token.Token
	pos  int
	bag  diag.Bag
}

// cur returns the token at the current position without consuming it.
// Newlines are significant at statement boundaries, so cur() never
// auto-skips them — callers call skipNewlines explicitly where newlines
// are insignificant (e.g. inside a bracketed list).
func (p *parser) cur() token.Token {
	return p.toks[p.pos]
}

func (p *parser) at(k token.Kind) bool { return p.cur().Kind == k }

func (p *parser) advance() token.Token {
	t := p.toks[p.pos]
	if p.pos < len(p.toks)-1 {
		p.pos++
	}
	return t
}

func (p *parser) skipNewlines() {
	for p.at(token.Newline) {
		p.advance()
	}
}

func (p *parser) expect(k token.Kind, context string) (token.Token, bool) {
	if p.at(k) {
		return p.advance(), true
	}
	found := p.cur()
	p.bag.Add(diag.New("S0001", found.Span,
		"expected %s in %s, found %s", k, context, describe(found)).
		WithHint("check for a missing %s", k))
	return found, false
}

func describe(t token.Token) string {
	if t.Kind == token.EOF {
		return "end of file"
	}
	if t.Raw != "" {
		return fmt.Sprintf("%q", t.Raw)
	}
	return t.Kind.String()
}

// synchronize skips tokens until a likely top-level boundary: a keyword
// that starts a Decl or Task, or EOF. Used for error recovery (§4.2).
func (p *parser) synchronize() {
	for {
		p.skipNewlines()
		switch p.cur().Kind {
		case token.Clock, token.Define, token.Const, token.Param, token.Set, token.Task, token.EOF:
			return
		}
		p.advance()
	}
}

func (p *parser) parseProgram() *astpdl.Program {
	start := p.cur().Span
	prog := &astpdl.Program{}
	p.skipNewlines()
	for !p.at(token.EOF) {
		switch p.cur().Kind {
		case token.Clock:
			prog.Decls = append(prog.Decls, p.parseClockDecl())
		case token.Define:
			prog.Decls = append(prog.Decls, p.parseDefineDecl())
		case token.Const:
			prog.Decls = append(prog.Decls, p.parseConstDecl())
		case token.Param:
			prog.Decls = append(prog.Decls, p.parseParamDecl())
		case token.Set:
			prog.Decls = append(prog.Decls, p.parseSetDecl())
		case token.Task:
			prog.Tasks = append(prog.Tasks, p.parseTask())
		default:
			found := p.cur()
			p.bag.Add(diag.New("S0002", found.Span,
				"expected a declaration or task at top level, found %s", describe(found)))
			p.synchronize()
		}
		p.skipNewlines()
	}
	prog.Span = token.Cover(start, p.toks[len(p.toks)-1].Span)
	return prog
}

func (p *parser) parseLiteral(context string) *astpdl.Literal {
	t := p.cur()
	switch t.Kind {
	case token.Number, token.Freq, token.Size, token.String:
		p.advance()
		return &astpdl.Literal{Span: t.Span, Value: t.Value}
	case token.Minus:
		p.advance()
		num := p.cur()
		if num.Kind != token.Number {
			p.bag.Add(diag.New("S0003", num.Span, "expected a number after '-' in %s", context))
			return &astpdl.Literal{Span: t.Span, Value: 0.0}
		}
		p.advance()
		return &astpdl.Literal{Span: token.Cover(t.Span, num.Span), Value: -num.Value.(float64)}
	case token.Ident:
		// `auto` and other bare-word literals (e.g. overrun_policy values).
		p.advance()
		return &astpdl.Literal{Span: t.Span, Value: t.Raw}
	default:
		p.bag.Add(diag.New("S0004", t.Span, "expected a literal in %s, found %s", context, describe(t)))
		return &astpdl.Literal{Span: t.Span, Value: nil}
	}
}

func (p *parser) parseClockDecl() astpdl.Decl {
	start := p.advance() // 'clock'
	name, _ := p.expect(token.Ident, "clock declaration")
	p.expect(token.Assign, "clock declaration")
	freq := p.parseLiteral("clock declaration")
	return &astpdl.ClockDecl{Span: token.Cover(start.Span, freq.Span), Name: name.Raw, Freq: freq}
}

func (p *parser) parseConstDecl() astpdl.Decl {
	start := p.advance() // 'const'
	name, _ := p.expect(token.Ident, "const declaration")
	p.expect(token.Assign, "const declaration")
	val := p.parseLiteral("const declaration")
	return &astpdl.ConstDecl{Span: token.Cover(start.Span, val.Span), Name: name.Raw, Value: val}
}

func (p *parser) parseParamDecl() astpdl.Decl {
	start := p.advance() // 'param'
	typ, _ := p.expect(token.Ident, "param declaration")
	name, _ := p.expect(token.Ident, "param declaration")
	p.expect(token.Assign, "param declaration")
	val := p.parseLiteral("param declaration")
	return &astpdl.ParamDecl{Span: token.Cover(start.Span, val.Span), Type: typ.Raw, Name: name.Raw, Default: val}
}

func (p *parser) parseSetDecl() astpdl.Decl {
	start := p.advance() // 'set'
	key, _ := p.expect(token.Ident, "set directive")
	first := p.pos
	val := p.parseLiteral("set directive")
	raw := ""
	for _, t := range p.toks[first:p.pos] {
		raw += t.Raw
	}
	return &astpdl.SetDecl{Span: token.Cover(start.Span, val.Span), Key: key.Raw, Value: val, Raw: raw}
}

func (p *parser) parseDefineDecl() astpdl.Decl {
	start := p.advance() // 'define'
	name, _ := p.expect(token.Ident, "define declaration")
	p.expect(token.LParen, "define declaration")
	var params []string
	for !p.at(token.RParen) && !p.at(token.EOF) {
		id, _ := p.expect(token.Ident, "define parameter list")
		params = append(params, id.Raw)
		if p.at(token.Comma) {
			p.advance()
		} else {
			break
		}
	}
	p.expect(token.RParen, "define declaration")
	p.expect(token.Assign, "define declaration")
	body := p.parsePipe()
	return &astpdl.DefineDecl{Span: token.Cover(start.Span, body.Span), Name: name.Raw, Params: params, Body: body}
}

func (p *parser) parseTask() *astpdl.Task {
	start := p.advance() // 'task'
	name, _ := p.expect(token.Ident, "task declaration")
	task := &astpdl.Task{Name: name.Raw}

	if p.at(token.Colon) {
		p.advance()
		clk, _ := p.expect(token.Ident, "task clock reference")
		task.Clock = clk.Raw
	}

	p.expect(token.LBrace, "task body")
	p.skipNewlines()
	for !p.at(token.RBrace) && !p.at(token.EOF) {
		switch {
		case p.at(token.Control):
			p.advance()
			p.expect(token.LBrace, "control block")
			ctrlPipe := p.parsePipe()
			p.expect(token.RBrace, "control block")
			task.Control = ctrlPipe
		case p.at(token.Modal):
			task.Modal = p.parseModalBlock()
		default:
			task.Pipes = append(task.Pipes, p.parsePipe())
		}
		p.skipNewlines()
	}
	end, _ := p.expect(token.RBrace, "task body")
	task.Span = token.Cover(start.Span, end.Span)
	return task
}

func (p *parser) parseModalBlock() *astpdl.ModalBlock {
	start := p.advance() // 'modal'
	p.expect(token.Switch, "modal block")
	p.expect(token.LBrace, "modal block")
	p.skipNewlines()
	block := &astpdl.ModalBlock{}
	for !p.at(token.RBrace) && !p.at(token.EOF) {
		if p.at(token.Default) {
			p.advance()
			p.expect(token.Colon, "modal default clause")
			d, _ := p.expect(token.Ident, "modal default clause")
			block.Default = d.Raw
			p.skipNewlines()
			continue
		}
		caseStart := p.cur()
		name, _ := p.expect(token.Ident, "modal case label")
		p.expect(token.Colon, "modal case")
		body := p.parsePipe()
		block.Modes = append(block.Modes, astpdl.ModalCase{
			Span: token.Cover(caseStart.Span, body.Span), Name: name.Raw, Body: body,
		})
		p.skipNewlines()
	}
	end, _ := p.expect(token.RBrace, "modal block")
	block.Span = token.Cover(start.Span, end.Span)
	return block
}

// parsePipe parses `stage ('|' stage)*`. It naturally stops at whatever
// token isn't '|' — a Newline for a pipe inside a task body, or '}' for a
// control block body — so no explicit terminator needs to be threaded
// through.
func (p *parser) parsePipe() *astpdl.Pipe {
	first := p.parseStage()
	pipe := &astpdl.Pipe{Span: first.Spanned(), Stages: []astpdl.Stage{first}}
	for p.at(token.Pipe) {
		p.advance()
		p.skipNewlines() // allow a pipe to continue on the next physical line after '|'
		stage := p.parseStage()
		pipe.Stages = append(pipe.Stages, stage)
		pipe.Span = token.Cover(pipe.Span, stage.Spanned())
	}
	return pipe
}

func (p *parser) parseStage() astpdl.Stage {
	t := p.cur()
	switch t.Kind {
	case token.Colon:
		p.advance()
		name, _ := p.expect(token.Ident, "tap")
		if p.at(token.Assign) {
			eq := p.advance()
			return &astpdl.TapDecl{Span: token.Cover(t.Span, eq.Span), Name: name.Raw}
		}
		return &astpdl.Fork{Span: token.Cover(t.Span, name.Span), Name: name.Raw}
	case token.At:
		p.advance()
		name, _ := p.expect(token.Ident, "buffer read")
		return &astpdl.BufferRead{Span: token.Cover(t.Span, name.Span), Name: name.Raw}
	case token.Arrow:
		p.advance()
		if p.at(token.Ident) && peekIsBindCall(p, "bind") {
			return p.parseBind(t.Span)
		}
		name, _ := p.expect(token.Ident, "buffer write")
		return &astpdl.BufferWrite{Span: token.Cover(t.Span, name.Span), Name: name.Raw}
	case token.Ident:
		if t.Raw == "probe" {
			p.advance()
			nameTok, _ := p.expect(token.String, "probe")
			return &astpdl.Probe{Span: token.Cover(t.Span, nameTok.Span), Name: fmt.Sprint(nameTok.Value)}
		}
		if t.Raw == "bind" {
			return p.parseBind(t.Span)
		}
		return p.parseActorOrTapRef()
	default:
		p.bag.Add(diag.New("S0005", t.Span, "expected a pipe stage, found %s", describe(t)))
		p.advance()
		return &astpdl.ActorCall{Span: t.Span, Name: "<error>"}
	}
}

func peekIsBindCall(p *parser, name string) bool {
	return p.cur().Kind == token.Ident && p.cur().Raw == name
}

func (p *parser) parseBind(start token.Span) astpdl.Stage {
	nameTok, _ := p.expect(token.Ident, "bind")
	_ = nameTok
	p.expect(token.LParen, "bind arguments")
	var transport string
	var args []astpdl.Arg
	for !p.at(token.RParen) && !p.at(token.EOF) {
		arg := p.parseArg()
		if transport == "" && arg.Ident != "" {
			transport = arg.Ident
		} else {
			args = append(args, arg)
		}
		if p.at(token.Comma) {
			p.advance()
		} else {
			break
		}
	}
	end, _ := p.expect(token.RParen, "bind arguments")
	return &astpdl.Bind{Span: token.Cover(start, end.Span), Transport: transport, Args: args}
}

// parseActorOrTapRef parses a bare identifier that is either an actor
// call (`name(<args>)` optionally with `<T>` / `[shape]`) or a tap
// reference (a bare name with no following '(').
func (p *parser) parseActorOrTapRef() astpdl.Stage {
	nameTok := p.advance()
	if !p.at(token.LParen) && !p.at(token.Lt) {
		return &astpdl.TapRef{Span: nameTok.Span, Name: nameTok.Raw}
	}

	call := &astpdl.ActorCall{Span: nameTok.Span, Name: nameTok.Raw}
	if p.at(token.Lt) {
		p.advance()
		for !p.at(token.Gt) && !p.at(token.EOF) {
			id, _ := p.expect(token.Ident, "type argument list")
			call.TypeArgs = append(call.TypeArgs, astpdl.TypeArg{Span: id.Span, Name: id.Raw})
			if p.at(token.Comma) {
				p.advance()
			} else {
				break
			}
		}
		gt, _ := p.expect(token.Gt, "type argument list")
		call.Span = token.Cover(call.Span, gt.Span)
	}

	p.expect(token.LParen, "actor call arguments")
	for !p.at(token.RParen) && !p.at(token.EOF) {
		call.Args = append(call.Args, p.parseArg())
		if p.at(token.Comma) {
			p.advance()
		} else {
			break
		}
	}
	rparen, _ := p.expect(token.RParen, "actor call arguments")
	call.Span = token.Cover(call.Span, rparen.Span)

	if p.at(token.LBracket) {
		shape := p.parseShape()
		call.Shape = shape
		call.Span = token.Cover(call.Span, shape.Span)
	}
	return call
}

func (p *parser) parseArg() astpdl.Arg {
	t := p.cur()
	switch t.Kind {
	case token.Number, token.Freq, token.Size, token.String, token.Minus:
		lit := p.parseLiteral("actor call arguments")
		return astpdl.Arg{Span: lit.Span, Literal: lit}
	case token.Ident:
		p.advance()
		return astpdl.Arg{Span: t.Span, Ident: t.Raw}
	case token.Colon:
		p.advance()
		name, _ := p.expect(token.Ident, "tap argument")
		return astpdl.Arg{Span: token.Cover(t.Span, name.Span), Ident: name.Raw}
	default:
		p.bag.Add(diag.New("S0006", t.Span, "expected an argument, found %s", describe(t)))
		p.advance()
		return astpdl.Arg{Span: t.Span}
	}
}

func (p *parser) parseShape() *astpdl.Shape {
	start := p.advance() // '['
	shape := &astpdl.Shape{}
	for !p.at(token.RBracket) && !p.at(token.EOF) {
		d := p.cur()
		switch d.Kind {
		case token.Number:
			p.advance()
			v := int(d.Value.(float64))
			shape.Dims = append(shape.Dims, astpdl.Dim{Span: d.Span, Const: v})
		case token.Ident:
			p.advance()
			shape.Dims = append(shape.Dims, astpdl.Dim{Span: d.Span, Symbol: d.Raw})
		default:
			p.bag.Add(diag.New("S0007", d.Span, "expected a shape dimension, found %s", describe(d)))
			p.advance()
		}
		if p.at(token.Comma) {
			p.advance()
		} else {
			break
		}
	}
	end, _ := p.expect(token.RBracket, "shape constraint")
	shape.Span = token.Cover(start.Span, end.Span)
	return shape
}

