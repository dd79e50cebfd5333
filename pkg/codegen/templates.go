package codegen

import (
	"embed"
	"text/template"
)

// templatesFS embeds the single translation-unit template codegen
// executes against a pre-resolved view of the LIR, mirroring the
// embedded-asset convention the web frontend uses for its page
// templates (one embed.FS, parsed once at package init).
//
//go:embed templates/*.tmpl
var templatesFS embed.FS

var tmplSet = template.Must(template.New("codegen").Funcs(template.FuncMap{
	"join": joinComma,
}).ParseFS(templatesFS, "templates/*.tmpl"))
