// Package astpdl defines the syntax tree produced by pkg/parser. Every
// node carries a Span; a node's span always covers every descendant's
// span per the data-model invariant in spec §3. The tree is immutable
// after parsing — later phases build their own representations rather
// than mutating the AST in place.
package astpdl

import "github.com/pipit-lang/pcc/pkg/token"

// Node is implemented by every AST node so generic span-bearing code
// (diagnostics, pretty-printers) can stay untyped where it wants to be.
type Node interface {
	Spanned() token.Span
}

// Program is the root of one parsed source file: a sequence of top-level
// declarations interleaved with task definitions, in source order.
type Program struct {
	Span  token.Span
	Decls []Decl
	Tasks []*Task
}

func (p *Program) Spanned() token.Span { return p.Span }

// Decl is any top-level declaration: ClockDecl, DefineDecl, ConstDecl,
// ParamDecl, or SetDecl.
type Decl interface {
	Node
	declNode()
}

// Literal is a resolved literal value: float64, int64, or string.
type Literal struct {
	Span  token.Span
	Value any
}

func (l *Literal) Spanned() token.Span { return l.Span }

// ClockDecl declares a named clock frequency: `clock <name> = <freq>`.
type ClockDecl struct {
	Span token.Span
	Name string
	Freq *Literal // Hz, normalized at lex time
}

func (d *ClockDecl) Spanned() token.Span { return d.Span }
func (*ClockDecl) declNode()             {}

// ConstDecl declares a named compile-time constant: `const <name> = <literal>`.
type ConstDecl struct {
	Span  token.Span
	Name  string
	Value *Literal
}

func (d *ConstDecl) Spanned() token.Span { return d.Span }
func (*ConstDecl) declNode()             {}

// ParamDecl declares a runtime-settable parameter:
// `param <type> <name> = <default>`.
type ParamDecl struct {
	Span    token.Span
	Type    string
	Name    string
	Default *Literal
}

func (d *ParamDecl) Spanned() token.Span { return d.Span }
func (*ParamDecl) declNode()             {}

// SetDecl is a `set <key> <value>` directive. Recognized keys are
// tick_rate, timer_spin ("auto" or an integer ns count), and
// overrun_policy; unknown keys are a resolve-time diagnostic, not a
// parse error, so the parser stays forward-compatible with new settings.
type SetDecl struct {
	Span  token.Span
	Key   string
	Value *Literal // Value.Value may be float64, int64, or string ("auto" stays the string "auto")
	Raw   string   // original token text of the value, e.g. "auto" or "2000"
}

func (d *SetDecl) Spanned() token.Span { return d.Span }
func (*SetDecl) declNode()             {}

// DefineDecl declares a reusable pipe macro: `define <name>(<args>) = <pipe>`.
// Formal arguments are bare identifiers; HIR inlines each call site by
// structural substitution (§4.4).
type DefineDecl struct {
	Span    token.Span
	Name    string
	Params  []string
	Body    *Pipe
}

func (d *DefineDecl) Spanned() token.Span { return d.Span }
func (*DefineDecl) declNode()             {}

// Task is a top-level clocked dataflow unit: an optional clock reference,
// zero or one control subprocess, an optional modal switch block, and one
// or more pipes.
type Task struct {
	Span    token.Span
	Name    string
	Clock   string // empty if the task has no explicit clock
	Control *Pipe  // non-nil if this task declares `control { ... }`
	Modal   *ModalBlock
	Pipes   []*Pipe
}

func (t *Task) Spanned() token.Span { return t.Span }

// ModalBlock is a `modal switch { ... }` dispatch: a control pipe whose
// output selects among named mode pipes, with an optional (warning-only,
// §9) `default <mode>` clause.
type ModalBlock struct {
	Span    token.Span
	Modes   []ModalCase
	Default string // empty if no default clause was written
}

func (m *ModalBlock) Spanned() token.Span { return m.Span }

// ModalCase is one `case <name>: <pipe>` arm of a ModalBlock.
type ModalCase struct {
	Span token.Span
	Name string
	Body *Pipe
}

// Pipe is a linear sequence of stages separated by '|'.
type Pipe struct {
	Span   token.Span
	Stages []Stage
}

func (p *Pipe) Spanned() token.Span { return p.Span }

// Stage is any element of a Pipe: ActorCall, Fork, Probe, TapDecl,
// TapRef, BufferWrite, BufferRead, or Bind.
type Stage interface {
	Node
	stageNode()
}

// TypeArg is an explicit `<T>` type argument on an actor call.
type TypeArg struct {
	Span token.Span
	Name string
}

// Arg is a positional actor-call argument: either a literal or an
// identifier reference (to a const, a param, a define's formal
// parameter, or a tap written `:name`), disambiguated by Ident.
type Arg struct {
	Span    token.Span
	Literal *Literal
	Ident   string // non-empty if this argument is an identifier reference
}

// Shape is an optional trailing `[d0, d1, ...]` constraint on an actor
// call. Each dimension is either a positive integer literal or a
// symbolic name resolved later during Analyze.
type Shape struct {
	Span token.Span
	Dims []Dim
}

// Dim is one dimension of a Shape.
type Dim struct {
	Span   token.Span
	Const  int  // valid when Symbol == ""
	Symbol string
}

// ActorCall invokes a named actor (or, pre-HIR, a `define`) with
// positional arguments, optional type arguments, and an optional shape
// constraint.
type ActorCall struct {
	Span     token.Span
	Name     string
	TypeArgs []TypeArg
	Args     []Arg
	Shape    *Shape
}

func (a *ActorCall) Spanned() token.Span { return a.Span }
func (*ActorCall) stageNode()            {}

// Fork fans out the upstream wire to a named tap: `:name`.
type Fork struct {
	Span token.Span
	Name string
}

func (f *Fork) Spanned() token.Span { return f.Span }
func (*Fork) stageNode()            {}

// Probe is a named passthrough tap point: `probe "name"`.
type Probe struct {
	Span token.Span
	Name string
}

func (p *Probe) Spanned() token.Span { return p.Span }
func (*Probe) stageNode()            {}

// TapDecl declares a named re-entry point inline in a pipe: `:name =`.
// The graph builder resolves forward references to this declaration from
// TapRef stages appearing earlier in pipe order (feedback only, §4.6).
type TapDecl struct {
	Span token.Span
	Name string
}

func (t *TapDecl) Spanned() token.Span { return t.Span }
func (*TapDecl) stageNode()            {}

// TapRef references a previously- or later-declared tap by name,
// appearing anywhere an actor call is syntactically legal.
type TapRef struct {
	Span token.Span
	Name string
}

func (t *TapRef) Spanned() token.Span { return t.Span }
func (*TapRef) stageNode()            {}

// BufferWrite routes the upstream wire into a named shared buffer:
// `-> name`.
type BufferWrite struct {
	Span token.Span
	Name string
}

func (b *BufferWrite) Spanned() token.Span { return b.Span }
func (*BufferWrite) stageNode()            {}

// BufferRead reads from a named shared buffer: `@name`.
type BufferRead struct {
	Span token.Span
	Name string
}

func (b *BufferRead) Spanned() token.Span { return b.Span }
func (*BufferRead) stageNode()            {}

// Bind connects a pipe to an external transport: `-> bind(...)` or
// `bind(...)`. Transport and parameters are plain Args resolved during
// lowering into a BindDescriptor (§4.7).
type Bind struct {
	Span      token.Span
	Transport string
	Args      []Arg
}

func (b *Bind) Spanned() token.Span { return b.Span }
func (*Bind) stageNode()            {}
