// Package diag provides the compiler's unified diagnostic type.
//
// Every pass collects its own Diagnostics into a Bag and returns it to the
// driver; the driver decides whether to halt (any Error-level diagnostic)
// and how to render (human via Format, or machine via ToJSON) per
// --diagnostic-format. Codes are stable: Lnnnn (lexical), Snnnn (syntax),
// Nnnnn (resolve/name), Tnnnn (type), Rnnnn (shape/rate), Gnnnn (graph),
// Mnnnn (manifest/registry), Ennnn (usage), Xnnnn (environmental),
// Wnnnn (warning-level advisories that never block an --emit target).
package diag

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/fatih/color"

	"github.com/pipit-lang/pcc/internal/ui"
	"github.com/pipit-lang/pcc/pkg/token"
)

// Level is the severity of a Diagnostic.
type Level int

const (
	Error Level = iota
	Warning
)

func (l Level) String() string {
	if l == Warning {
		return "warning"
	}
	return "error"
}

// Code is a stable diagnostic identifier, e.g. "E0700", "R1042".
type Code string

// Diagnostic carries everything needed to explain one compiler finding:
// a stable code, a level, a message, a primary span, any related spans,
// an optional actionable hint, and an optional wrapped cause.
type Diagnostic struct {
	Code         Code
	Level        Level
	Message      string
	Primary      token.Span
	Related      []RelatedSpan
	Hint         string
	Cause        error
}

// RelatedSpan attaches an explanatory note to a secondary span, e.g. the
// origin of an unresolved dimension parameter referenced by a shape error.
type RelatedSpan struct {
	Span    token.Span
	Message string
}

func (d *Diagnostic) Error() string {
	if d.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", d.Code, d.Message, d.Cause)
	}
	return fmt.Sprintf("%s: %s", d.Code, d.Message)
}

func (d *Diagnostic) Unwrap() error { return d.Cause }

// New builds an error-level Diagnostic.
func New(code Code, span token.Span, format string, args ...any) *Diagnostic {
	return &Diagnostic{Code: code, Level: Error, Message: fmt.Sprintf(format, args...), Primary: span}
}

// Newf is an alias of New kept for call sites that read more naturally
// with an explicit "f" suffix next to Hintf/Relatedf.
func Newf(code Code, span token.Span, format string, args ...any) *Diagnostic {
	return New(code, span, format, args...)
}

// Warn builds a warning-level Diagnostic.
func Warn(code Code, span token.Span, format string, args ...any) *Diagnostic {
	return &Diagnostic{Code: code, Level: Warning, Message: fmt.Sprintf(format, args...), Primary: span}
}

// WithHint attaches an actionable suggestion and returns the receiver for chaining.
func (d *Diagnostic) WithHint(format string, args ...any) *Diagnostic {
	d.Hint = fmt.Sprintf(format, args...)
	return d
}

// WithCause attaches a wrapped underlying error and returns the receiver.
func (d *Diagnostic) WithCause(err error) *Diagnostic {
	d.Cause = err
	return d
}

// WithRelated appends a related span and returns the receiver.
func (d *Diagnostic) WithRelated(span token.Span, format string, args ...any) *Diagnostic {
	d.Related = append(d.Related, RelatedSpan{Span: span, Message: fmt.Sprintf(format, args...)})
	return d
}

// Bag accumulates diagnostics for one compiler pass (or the whole run).
type Bag struct {
	items []*Diagnostic
}

// Add appends a diagnostic. Nil diagnostics are ignored so call sites can
// do `bag.Add(check(...))` without a nil guard.
func (b *Bag) Add(d *Diagnostic) {
	if d == nil {
		return
	}
	b.items = append(b.items, d)
}

// Merge appends every diagnostic from other into b.
func (b *Bag) Merge(other *Bag) {
	if other == nil {
		return
	}
	b.items = append(b.items, other.items...)
}

// All returns every accumulated diagnostic, in insertion order.
func (b *Bag) All() []*Diagnostic { return b.items }

// HasErrors reports whether any accumulated diagnostic is Error level.
func (b *Bag) HasErrors() bool {
	for _, d := range b.items {
		if d.Level == Error {
			return true
		}
	}
	return false
}

// Len returns the number of accumulated diagnostics.
func (b *Bag) Len() int { return len(b.items) }

// Exit codes, per spec §7: 1 compilation error, 2 usage error, 3 environmental.
const (
	ExitOK          = 0
	ExitCompilation = 1
	ExitUsage       = 2
	ExitEnvironment = 3
)

// ExitCode maps an accumulated Bag to the process exit code the driver
// should use. A Bag with no errors exits 0 regardless of warnings.
func ExitCode(b *Bag) int {
	if b == nil || !b.HasErrors() {
		return ExitOK
	}
	for _, d := range b.items {
		if d.Level == Error && strings.HasPrefix(string(d.Code), "X") {
			return ExitEnvironment
		}
	}
	for _, d := range b.items {
		if d.Level == Error && strings.HasPrefix(string(d.Code), "E") {
			return ExitUsage
		}
	}
	return ExitCompilation
}

// Format renders the diagnostic for terminal display, honoring noColor and
// the NO_COLOR environment variable via internal/ui's color helpers.
func (d *Diagnostic) Format(noColor bool) string {
	originalNoColor := color.NoColor
	defer func() { color.NoColor = originalNoColor }()
	if noColor || os.Getenv("NO_COLOR") != "" {
		color.NoColor = true
	}

	var out strings.Builder
	levelColor := ui.RedBold
	if d.Level == Warning {
		levelColor = ui.YellowBold
	}
	out.WriteString(levelColor.Sprintf("%s[%s]: ", d.Level, d.Code))
	out.WriteString(d.Message)
	out.WriteString("\n")
	out.WriteString("  " + ui.Dim.Sprint("--> "+d.Primary.String()) + "\n")

	for _, r := range d.Related {
		out.WriteString("  " + ui.Dim.Sprint("note: "+r.Span.String()) + ": " + r.Message + "\n")
	}
	if d.Hint != "" {
		out.WriteString(ui.Green.Sprint("  hint: ") + d.Hint + "\n")
	}
	if d.Cause != nil {
		out.WriteString(fmt.Sprintf("  caused by: %v\n", d.Cause))
	}
	return out.String()
}

// JSON is the stable machine-readable representation of a Diagnostic,
// serialized with the same 2-space indent convention the teacher CLI uses
// for every --json output mode.
type JSON struct {
	Code    string            `json:"code"`
	Level   string            `json:"level"`
	Message string            `json:"message"`
	Span    string            `json:"span"`
	Related []RelatedSpanJSON `json:"related,omitempty"`
	Hint    string            `json:"hint,omitempty"`
	Cause   string            `json:"cause,omitempty"`
}

// RelatedSpanJSON is the JSON form of RelatedSpan.
type RelatedSpanJSON struct {
	Span    string `json:"span"`
	Message string `json:"message"`
}

// ToJSON converts the Diagnostic to its stable JSON representation.
func (d *Diagnostic) ToJSON() JSON {
	j := JSON{
		Code:    string(d.Code),
		Level:   d.Level.String(),
		Message: d.Message,
		Span:    d.Primary.String(),
		Hint:    d.Hint,
	}
	if d.Cause != nil {
		j.Cause = d.Cause.Error()
	}
	for _, r := range d.Related {
		j.Related = append(j.Related, RelatedSpanJSON{Span: r.Span.String(), Message: r.Message})
	}
	return j
}

// Format is the presentation mode selected by --diagnostic-format.
type Format string

const (
	FormatHuman Format = "human"
	FormatJSON  Format = "json"
)

// Render writes every diagnostic in b to w using the requested format.
// Render never halts the process; the driver decides that from ExitCode.
func Render(w io.Writer, b *Bag, format Format, noColor bool) error {
	switch format {
	case FormatJSON:
		out := make([]JSON, 0, b.Len())
		for _, d := range b.All() {
			out = append(out, d.ToJSON())
		}
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	default:
		for _, d := range b.All() {
			fmt.Fprint(w, d.Format(noColor))
		}
		return nil
	}
}
