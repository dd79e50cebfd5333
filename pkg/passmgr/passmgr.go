// Package passmgr resolves and runs the transitive closure of compiler
// passes needed to produce one --emit target (§4.9). Each pass declares
// the other passes whose artifacts it reads; the manager topologically
// sorts a requested target's dependency set and runs exactly those
// passes against a shared Context, consulting a Cache by each pass's
// deterministic invalidation_key before recomputing.
package passmgr

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"sort"
	"time"
)

// ID names one pass's artifact: "ast", "registry", "hir", "graph",
// "schedule", "lir", "cpp", and so on — the compiler's own stage names,
// not necessarily identical to a `--emit` flag value (an `--emit` target
// maps to exactly one ID, but several IDs exist purely as intermediate
// dependencies no `--emit` flag names directly).
type ID string

// Pass is one named compiler stage.
type Pass struct {
	ID ID
	// Inputs are the other passes whose artifacts this pass reads from
	// Context before it can run.
	Inputs []ID
	// Invariants documents what this pass guarantees of its own output,
	// for a reader auditing the pipeline — never checked at runtime.
	Invariants []string
	// Key computes this pass's invalidation_key from whatever of its
	// inputs actually determine its output (§4.9). A nil Key, or one
	// returning "", disables caching for this pass: it always reruns.
	Key func(c *Context) string
	// Run produces this pass's artifact.
	Run func(c *Context) (any, error)
	// Encode/Decode serialize this pass's artifact for the Cache. Both
	// nil disables cache persistence even if Key is set (Run still
	// executes every time, just never consults or populates the cache).
	Encode func(v any) ([]byte, error)
	Decode func(data []byte) (any, error)
}

// Context carries every artifact computed so far, keyed by pass ID, plus
// ambient values (source bytes, CLI options, a loaded registry) that no
// pass produces but several passes read.
type Context struct {
	Artifacts map[ID]any
	Keys      map[ID]string // the invalidation_key actually used for each pass that ran
	Extra     map[string]any
	// Logger receives one structured event per pass invocation. Never a
	// package-level global: callers that need logging from inside a Run
	// or Key closure read it off the Context they were handed. Nil
	// disables logging for this run.
	Logger *slog.Logger
}

// NewContext returns an empty Context ready for Manager.Run, logging to
// slog.Default() until SetLogger overrides it.
func NewContext() *Context {
	return &Context{Artifacts: map[ID]any{}, Keys: map[ID]string{}, Extra: map[string]any{}, Logger: slog.Default()}
}

// SetLogger replaces c's logger and returns c for chaining.
func (c *Context) SetLogger(l *slog.Logger) *Context {
	c.Logger = l
	return c
}

// Get returns a previously computed artifact by pass ID.
func (c *Context) Get(id ID) (any, bool) {
	v, ok := c.Artifacts[id]
	return v, ok
}

// Cache is the byte-equivalence contract §4.9 and §8.1 describe: a
// cached artifact, when present, must be byte-equivalent to what Run
// would have recomputed. A nil Cache disables caching entirely.
type Cache interface {
	Get(key string) ([]byte, bool)
	Put(key string, data []byte)
}

// MemoryCache is an in-process Cache, useful for tests and for a single
// compiler invocation that wants cross-pass reuse without touching disk
// (persistent caching across invocations is internal/manifestcache's
// job).
type MemoryCache struct{ entries map[string][]byte }

// NewMemoryCache returns an empty MemoryCache.
func NewMemoryCache() *MemoryCache { return &MemoryCache{entries: map[string][]byte{}} }

func (m *MemoryCache) Get(key string) ([]byte, bool) { v, ok := m.entries[key]; return v, ok }
func (m *MemoryCache) Put(key string, data []byte)   { m.entries[key] = data }

// Metrics receives per-pass timing, for internal/passmetrics to turn
// into Prometheus observations. A nil Metrics disables instrumentation.
type Metrics interface {
	ObservePassDuration(id ID, d time.Duration)
	ObserveCacheHit(id ID, hit bool)
}

// Manager owns a pass graph. Passes are registered once, in any order;
// Resolve and Run may be called many times against different targets.
type Manager struct {
	passes map[ID]*Pass
}

// New returns an empty Manager.
func New() *Manager { return &Manager{passes: map[ID]*Pass{}} }

// Register adds a pass to the graph. The pass ID space is fixed by this
// compiler's own driver code, never by source input, so a duplicate
// registration is a programming error rather than a runtime diagnostic.
func (m *Manager) Register(p *Pass) {
	if _, exists := m.passes[p.ID]; exists {
		panic(fmt.Sprintf("passmgr: pass %q registered twice", p.ID))
	}
	m.passes[p.ID] = p
}

// Resolve returns target's transitive dependency closure, topologically
// ordered so every pass appears after everything it depends on. The
// order is deterministic for a fixed pass graph regardless of
// Register call order (§8.1): ties among a pass's own Inputs are broken
// by sorting IDs before visiting them.
func (m *Manager) Resolve(target ID) ([]ID, error) {
	visited := map[ID]bool{}
	inStack := map[ID]bool{}
	var order []ID

	var visit func(id ID) error
	visit = func(id ID) error {
		if visited[id] {
			return nil
		}
		if inStack[id] {
			return fmt.Errorf("passmgr: dependency cycle at pass %q", id)
		}
		p, ok := m.passes[id]
		if !ok {
			return fmt.Errorf("passmgr: unknown pass %q", id)
		}
		inStack[id] = true
		deps := append([]ID{}, p.Inputs...)
		sort.Slice(deps, func(i, j int) bool { return deps[i] < deps[j] })
		for _, d := range deps {
			if err := visit(d); err != nil {
				return err
			}
		}
		inStack[id] = false
		visited[id] = true
		order = append(order, id)
		return nil
	}

	if err := visit(target); err != nil {
		return nil, err
	}
	return order, nil
}

// Run resolves target's dependency closure and executes each pass not
// already present in c.Artifacts, in dependency order. For a pass with
// a non-empty Key, Run consults cache before invoking Run and populates
// cache afterward; a cache hit is decoded through Decode and never runs
// the pass at all.
func (m *Manager) Run(c *Context, target ID, cache Cache, metrics Metrics) (any, error) {
	order, err := m.Resolve(target)
	if err != nil {
		return nil, err
	}

	for _, id := range order {
		if _, done := c.Artifacts[id]; done {
			continue
		}
		p := m.passes[id]

		var key string
		if p.Key != nil {
			key = p.Key(c)
		}

		if cache != nil && key != "" && p.Decode != nil {
			if data, ok := cache.Get(key); ok {
				if v, decErr := p.Decode(data); decErr == nil {
					c.Artifacts[id] = v
					c.Keys[id] = key
					if metrics != nil {
						metrics.ObserveCacheHit(id, true)
					}
					continue
				}
			}
		}
		if metrics != nil && key != "" {
			metrics.ObserveCacheHit(id, false)
		}

		if c.Logger != nil {
			c.Logger.Debug("pass.run.start", "pass", string(id), "cache_key", key)
		}
		start := time.Now()
		v, runErr := p.Run(c)
		if metrics != nil {
			metrics.ObservePassDuration(id, time.Since(start))
		}
		if runErr != nil {
			return nil, fmt.Errorf("passmgr: pass %q: %w", id, runErr)
		}

		c.Artifacts[id] = v
		c.Keys[id] = key
		if cache != nil && key != "" && p.Encode != nil {
			if data, encErr := p.Encode(v); encErr == nil {
				cache.Put(key, data)
			}
		}
	}

	return c.Artifacts[target], nil
}

// InvalidationKey hashes a pass's semantic inputs together with the
// schema version, compiler version, and registry fingerprint every
// pass's key must fold in (§4.9), so a stale cache entry from a prior
// compiler build or a different registry never silently reuses.
func InvalidationKey(schemaVersion int, compilerVersion, registryFingerprint string, parts ...string) string {
	h := sha256.New()
	fmt.Fprintf(h, "schema:%d|compiler:%s|registry:%s", schemaVersion, compilerVersion, registryFingerprint)
	for _, p := range parts {
		fmt.Fprintf(h, "|%s", p)
	}
	return hex.EncodeToString(h.Sum(nil))
}
