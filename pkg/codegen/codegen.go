// Package codegen emits one C++ translation unit from a fully resolved
// lir.Program (§4.8). It is syntax-directed: every value it writes is
// already present on the LIR view it builds, so this package does no
// type inference, no rate inference, and no shape resolution of its
// own — it only walks, names, and formats.
package codegen

import (
	"bytes"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/pipit-lang/pcc/pkg/lir"
	"github.com/pipit-lang/pcc/pkg/registry"
	"github.com/pipit-lang/pcc/pkg/resolve"
)

// Options carries everything codegen needs beyond the LIR itself: the
// provenance triad a reader can use to confirm an emitted file matches
// `--emit build-info` for the same inputs (§8.7).
type Options struct {
	SourceHash          string
	RegistryFingerprint string
	CompilerVersion     string
}

// Generate renders prog to a single C++ translation unit.
func Generate(prog *lir.Program, opts Options) ([]byte, error) {
	v := buildView(prog, opts)
	var buf bytes.Buffer
	if err := tmplSet.ExecuteTemplate(&buf, "translation_unit.tmpl", v); err != nil {
		return nil, fmt.Errorf("codegen: execute template: %w", err)
	}
	return buf.Bytes(), nil
}

// view is the template-facing projection of a lir.Program: every field
// a template reads is already a string or a primitive, so the template
// itself never branches on an LIR-specific type.
type view struct {
	Provenance        provenanceView
	Params            []paramView
	Consts            []constView
	Tasks             []taskView
	SharedBuffers     []sharedBufView
	Binds             []bindView
	Probes            []probeView
	OverrunPolicy     string
	OverrunPolicyEnum string
}

type provenanceView struct {
	SourceHash          string
	RegistryFingerprint string
	SchemaVersion       int
	CompilerVersion     string
}

type paramView struct {
	Name        string
	CppType     string
	CLIFlag     string
	DefaultExpr string
}

type constView struct {
	Name      string
	CppType   string
	ValueExpr string
}

type argExprView = string

type callView struct {
	Symbol    string
	ActorName string
	Args      []argExprView
}

type bufferView struct {
	FromSymbol string
	ToSymbol   string
	Kind       string
	Slots      int
	InitTokens int
	Feedback   bool
}

// callBlockView is one contiguous run of the task's firing order: either
// a single call (Repetition 1) or a fused group, emitted as a loop body
// repeated Repetition times (§4.7's same-repetition fusion).
type callBlockView struct {
	Repetition int
	Calls      []callView
}

type probeView struct {
	TaskName string
	Name     string
	Slots    int
}

type modalCaseView struct {
	Name        string
	CallSymbols []string
}

type modalView struct {
	ControlSymbols []string
	Cases          []modalCaseView
	InitialCase    string
}

type taskView struct {
	Name           string
	FuncName       string
	ClockHz        float64
	KFactor        int
	SpinAdaptive   bool
	SpinFixedNanos int64
	Blocks         []callBlockView
	Buffers        []bufferView
	Modal          *modalView
}

type sharedBufView struct {
	Name      string
	WriteTask string
	Slots     int
	Readers   []string
	SPSC      bool
}

type bindView struct {
	StableID  string
	Direction string
	Transport string
	TaskName  string
	Chain     []string
	Args      []argExprView
}

func buildView(prog *lir.Program, opts Options) view {
	v := view{
		Provenance: provenanceView{
			SourceHash:          opts.SourceHash,
			RegistryFingerprint: opts.RegistryFingerprint,
			SchemaVersion:       registry.ManifestSchemaVersion,
			CompilerVersion:     opts.CompilerVersion,
		},
		OverrunPolicy:     prog.OverrunPolicy,
		OverrunPolicyEnum: pascalCase(prog.OverrunPolicy),
	}

	for _, p := range prog.Params {
		v.Params = append(v.Params, paramView{
			Name: p.Name, CppType: pdlTypeToCpp(p.Type), CLIFlag: p.CLIFlag,
			DefaultExpr: cppLiteral(p.Default),
		})
	}
	for _, c := range prog.Consts {
		v.Consts = append(v.Consts, constView{
			Name: c.Name, CppType: cppTypeOf(c.Value), ValueExpr: cppLiteral(c.Value),
		})
	}

	for _, t := range prog.Tasks {
		v.Tasks = append(v.Tasks, buildTaskView(t))
		for _, p := range t.Probes {
			v.Probes = append(v.Probes, probeView{TaskName: t.Name, Name: p.Name, Slots: p.Slots})
		}
		for _, b := range t.Binds {
			args := make([]argExprView, 0, len(b.Params))
			for _, a := range b.Params {
				args = append(args, argExpr(a))
			}
			v.Binds = append(v.Binds, bindView{
				StableID: b.StableID, Direction: b.Direction, Transport: b.Transport,
				TaskName: t.Name, Chain: b.Chain, Args: args,
			})
		}
	}

	for _, sb := range prog.SharedBuffers {
		v.SharedBuffers = append(v.SharedBuffers, sharedBufView{
			Name: sb.Name, WriteTask: sb.WriteTask, Slots: sb.Slots,
			Readers: sb.Readers, SPSC: sb.SPSC,
		})
	}

	sort.Slice(v.Binds, func(i, j int) bool { return v.Binds[i].StableID < v.Binds[j].StableID })
	sort.Slice(v.Probes, func(i, j int) bool {
		if v.Probes[i].TaskName != v.Probes[j].TaskName {
			return v.Probes[i].TaskName < v.Probes[j].TaskName
		}
		return v.Probes[i].Name < v.Probes[j].Name
	})

	return v
}

func buildTaskView(t lir.Task) taskView {
	funcName := "task_" + sanitizeIdent(t.Name)
	symbols := map[resolve.CallID]string{}
	for _, id := range t.Order {
		c, ok := t.Calls[id]
		if !ok {
			continue
		}
		symbols[id] = symbolFor(c.Name, id)
	}

	tv := taskView{
		Name: t.Name, FuncName: funcName, ClockHz: t.ClockHz, KFactor: t.KFactor,
		SpinAdaptive: t.Spin.Adaptive, SpinFixedNanos: t.Spin.FixedNanos,
	}

	tv.Blocks = buildCallBlocks(t, symbols)

	for _, b := range t.Buffers {
		tv.Buffers = append(tv.Buffers, bufferView{
			FromSymbol: symbols[b.From], ToSymbol: symbols[b.To], Kind: b.Kind.String(),
			Slots: b.Slots, InitTokens: b.InitTokens, Feedback: b.Feedback,
		})
	}

	if t.Modal != nil {
		mv := &modalView{}
		for _, id := range t.Modal.ControlOrder {
			if c, ok := t.Calls[id]; ok {
				mv.ControlSymbols = append(mv.ControlSymbols, symbolFor(c.Name, id))
			}
		}
		for _, c := range t.Modal.Cases {
			cv := modalCaseView{Name: c.Name}
			for _, id := range c.Order {
				if call, ok := c.Calls[id]; ok {
					cv.CallSymbols = append(cv.CallSymbols, symbolFor(call.Name, id))
				}
			}
			mv.Cases = append(mv.Cases, cv)
		}
		if len(mv.Cases) > 0 {
			mv.InitialCase = mv.Cases[0].Name
		}
		tv.Modal = mv
	}

	return tv
}

// buildCallBlocks walks a task's firing order and groups it into the
// contiguous runs §4.7 fusion already identified: a fused group's
// members are emitted as one repeated-Repetition-times block, and every
// other call stands alone at Repetition 1.
func buildCallBlocks(t lir.Task, symbols map[resolve.CallID]string) []callBlockView {
	groupOf := map[resolve.CallID]int{}
	for gi, f := range t.Fusions {
		for _, m := range f.Members {
			groupOf[m] = gi
		}
	}

	var blocks []callBlockView
	consumed := map[resolve.CallID]bool{}
	for _, id := range t.Order {
		if consumed[id] {
			continue
		}
		if gi, grouped := groupOf[id]; grouped {
			f := t.Fusions[gi]
			if len(f.Members) == 0 || f.Members[0] != id {
				continue // a non-leading group member reached out of order; its group already emitted
			}
			var calls []callView
			for _, mid := range f.Members {
				consumed[mid] = true
				if c, ok := t.Calls[mid]; ok {
					calls = append(calls, callViewFor(c, symbols[mid]))
				}
			}
			blocks = append(blocks, callBlockView{Repetition: f.Repetition, Calls: calls})
			continue
		}
		if c, ok := t.Calls[id]; ok {
			blocks = append(blocks, callBlockView{Repetition: 1, Calls: []callView{callViewFor(c, symbols[id])}})
		}
	}
	return blocks
}

func callViewFor(c lir.Call, symbol string) callView {
	args := make([]argExprView, 0, len(c.Args))
	for _, a := range c.Args {
		if a.Kind == lir.ArgLiteral && a.Literal == nil && a.ParamName == "" && a.ConstName == "" {
			continue // a zero-value Arg contributes no firing argument (e.g. a tap name)
		}
		args = append(args, argExpr(a))
	}
	return callView{Symbol: symbol, ActorName: c.Name, Args: args}
}

// argExpr renders one tagged lowered argument as a C++ expression.
// Runtime params are read through the atomic global codegen declared
// for them; tap-fed arguments never reach here (lowered to a zero Arg
// by pkg/lir, filtered out by the caller).
func argExpr(a lir.Arg) string {
	switch a.Kind {
	case lir.ArgLiteral:
		return cppLiteral(a.Literal)
	case lir.ArgParamRef:
		return "param_" + a.ParamName + ".load(std::memory_order_relaxed)"
	case lir.ArgConstScalar:
		return "consts::" + a.ConstName
	case lir.ArgConstSpan:
		return "std::span{consts::" + a.ConstName + "}"
	case lir.ArgConstArrayLen:
		return "consts::" + a.ConstName + ".size()"
	case lir.ArgDimValue:
		return strconv.Itoa(a.DimValue)
	default:
		return ""
	}
}

// cppLiteral formats a Go-typed literal value the way the lexer /
// resolve layer stores it (float64, int64, string, bool, []float64) as
// a C++ literal.
func cppLiteral(v any) string {
	switch t := v.(type) {
	case nil:
		return "{}"
	case float64:
		s := strconv.FormatFloat(t, 'g', -1, 64)
		if !strings.ContainsAny(s, ".eE") {
			s += ".0"
		}
		return s
	case int64:
		return strconv.FormatInt(t, 10)
	case string:
		return strconv.Quote(t)
	case bool:
		if t {
			return "true"
		}
		return "false"
	case []float64:
		parts := make([]string, len(t))
		for i, f := range t {
			parts[i] = cppLiteral(f)
		}
		return "{" + strings.Join(parts, ", ") + "}"
	default:
		return fmt.Sprintf("%v", t)
	}
}

func cppTypeOf(v any) string {
	switch t := v.(type) {
	case float64:
		return "double"
	case int64:
		return "int64_t"
	case string:
		return "const char*"
	case bool:
		return "bool"
	case []float64:
		return fmt.Sprintf("std::array<double, %d>", len(t))
	default:
		return "auto"
	}
}

func pdlTypeToCpp(t string) string {
	switch t {
	case "int16":
		return "int16_t"
	case "int32":
		return "int32_t"
	case "int64":
		return "int64_t"
	case "uint8":
		return "uint8_t"
	default:
		return t // "float", "double", "bool" already spell their C++ name
	}
}

// symbolFor derives a stable, readable C++ identifier from an actor name
// and its CallID: the name for legibility, a slice of the ID's hash for
// uniqueness across call sites sharing a name.
func symbolFor(name string, id resolve.CallID) string {
	h := strings.TrimPrefix(string(id), "call:")
	if len(h) > 12 {
		h = h[:12]
	}
	return sanitizeIdent(name) + "_" + h
}

func sanitizeIdent(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r == '_' || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
			continue
		}
		b.WriteByte('_')
	}
	out := b.String()
	if out == "" || (out[0] >= '0' && out[0] <= '9') {
		out = "_" + out
	}
	return out
}

func pascalCase(s string) string {
	parts := strings.Split(s, "_")
	var b strings.Builder
	for _, p := range parts {
		if p == "" {
			continue
		}
		b.WriteString(strings.ToUpper(p[:1]))
		b.WriteString(p[1:])
	}
	if b.Len() == 0 {
		return "FailFast"
	}
	return b.String()
}

func joinComma(items []string) string { return strings.Join(items, ", ") }
