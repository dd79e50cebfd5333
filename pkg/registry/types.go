// Package registry builds and serializes the actor metadata registry
// (§4.3). Actor metadata is acquired by building a probe translation
// unit that redefines the actor-declaration macros to emit structured
// records, preprocessing it through the configured C++ toolchain, and
// decoding the resulting records — or, for every compilation-class emit
// stage, by loading a pre-generated manifest (§6). Both paths produce the
// same in-memory Registry.
package registry

import "sort"

// Direction is a port's data-flow direction on an actor.
type Direction string

const (
	In  Direction = "in"
	Out Direction = "out"
)

// ParamKind distinguishes a compile-time-only actor parameter (folded
// into the schedule/LIR at compile time) from one that can be changed at
// runtime via the rebind control plane.
type ParamKind string

const (
	ParamCompileTime ParamKind = "compile_time"
	ParamRuntime     ParamKind = "runtime"
)

// Port describes one formal port of an actor: its direction, semantic
// type (possibly a type parameter name, e.g. "T"), and shape. Shape
// dimensions are either positive integers or symbolic names; symbolic
// dimensions are resolved to concrete values during Analyze (§4.6).
type Port struct {
	Dir   Direction `json:"dir"`
	Type  string    `json:"type"`
	Shape []Dim     `json:"shape"`
}

// Dim is one dimension of a Port's shape, as carried in the manifest.
type Dim struct {
	Const  int    `json:"const,omitempty"`
	Symbol string `json:"symbol,omitempty"`
}

// Param describes one formal parameter of an actor.
type Param struct {
	Kind ParamKind `json:"kind"`
	Type string    `json:"type"`
	Name string    `json:"name"`
}

// ActorMeta is one fully-qualified actor's metadata: an optional
// type-parameter list (for polymorphic actors, §4.5), an ordered port
// list, and an ordered parameter list. Field order within Ports and
// Params is declaration order and is preserved verbatim in the manifest;
// only the top-level Actors slice is sorted for canonicalization.
type ActorMeta struct {
	Name           string   `json:"name"`
	TemplateParams []string `json:"template_params,omitempty"`
	Ports          []Port   `json:"ports"`
	Params         []Param  `json:"params"`
}

// Registry is the sorted name -> ActorMeta mapping used by every
// compilation-class pass after Resolve. It is built either by the
// header-scan path (manifest generation) or by loading a manifest
// (compilation path, §4.3).
type Registry struct {
	actors map[string]ActorMeta
}

// New returns an empty Registry; callers fill it with Put.
func New() *Registry {
	return &Registry{actors: make(map[string]ActorMeta)}
}

// Put inserts or overlays an actor. Overlay precedence (compile-time
// include list overrides manifest base) is the caller's responsibility:
// Put always overwrites, so callers insert base entries first and
// overlay entries last.
func (r *Registry) Put(a ActorMeta) { r.actors[a.Name] = a }

// Has reports whether name is a known actor.
func (r *Registry) Has(name string) bool {
	_, ok := r.actors[name]
	return ok
}

// Lookup returns the ActorMeta for name, if present.
func (r *Registry) Lookup(name string) (ActorMeta, bool) {
	a, ok := r.actors[name]
	return a, ok
}

// Names returns every actor name, alphabetically sorted — the order the
// manifest serializer also uses, so Names() reconstructs manifest order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.actors))
	for n := range r.actors {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Len returns the number of actors in the registry.
func (r *Registry) Len() int { return len(r.actors) }

// All returns every ActorMeta, alphabetically sorted by name.
func (r *Registry) All() []ActorMeta {
	out := make([]ActorMeta, 0, len(r.actors))
	for _, n := range r.Names() {
		out = append(out, r.actors[n])
	}
	return out
}
