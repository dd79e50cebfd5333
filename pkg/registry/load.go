package registry

import (
	"context"
	"os"

	"github.com/pipit-lang/pcc/internal/diag"
	"github.com/pipit-lang/pcc/pkg/token"
)

// Tier identifies which overlay layer an ActorMeta came from, for
// duplicate-detection purposes: duplicates within the same tier are
// fatal (§4.3), duplicates across tiers are resolved by precedence
// (later tiers in BuildManifest's tiers argument win silently).
type Tier int

const (
	// TierBase is the manifest's base actor catalog.
	TierBase Tier = iota
	// TierOverlay is a compile-time --actor-path include, applied after
	// the base and after any earlier --actor-path entries.
	TierOverlay
)

// BuildManifest runs the full header-scan path (§4.3): build the probe
// source, preprocess it, decode the tagged records, and merge them into
// a single Registry. All actor paths are included in one probe
// translation unit and decoded together, so they do not overlay one
// another: a name recorded more than once anywhere in that unit is a
// duplicate error (M0902), whichever paths the records came from.
func BuildManifest(ctx context.Context, cfg ProbeConfig) (*Registry, *diag.Bag) {
	var bag diag.Bag
	source := BuildProbeSource(cfg)
	output, err := RunPreprocessor(ctx, cfg, source)
	if err != nil {
		if d, ok := err.(*diag.Diagnostic); ok {
			bag.Add(d)
		} else {
			bag.Add(diag.New("X0802", token.Span{}, "preprocessor invocation failed").WithCause(err))
		}
		return nil, &bag
	}

	metas, decodeBag := DecodeRecords(output)
	bag.Merge(decodeBag)
	if bag.HasErrors() {
		return nil, &bag
	}

	reg := New()
	seen := make(map[string]bool)
	for _, m := range metas {
		if seen[m.Name] {
			bag.Add(diag.New("M0902", token.Span{}, "actor %q declared more than once across the probed actor headers", m.Name).
				WithHint("remove the duplicate PIPIT_ACTOR declaration or split it into separate --actor-path roots"))
			continue
		}
		seen[m.Name] = true
		reg.Put(m)
	}
	if bag.HasErrors() {
		return nil, &bag
	}
	return reg, &bag
}

// LoadManifest implements the compilation-path contract (§4.3, §5, §7):
// every compilation-class --emit stage requires a pre-generated manifest
// supplied via --actor-meta. A missing path is a usage error (E0700,
// exit 2); a present-but-unparseable manifest is an environmental error
// (Xnnnn, exit 3) since the manifest is assumed to be machine-generated
// and a parse failure indicates a toolchain/version mismatch rather than
// a user authoring mistake.
func LoadManifest(path string) (*Registry, *diag.Bag) {
	var bag diag.Bag
	if path == "" {
		bag.Add(diag.New("E0700", token.Span{}, "no actor metadata manifest supplied").
			WithHint("pass --actor-meta <path> pointing at a manifest produced by `pcc --emit manifest`"))
		return nil, &bag
	}
	data, err := os.ReadFile(path)
	if err != nil {
		bag.Add(diag.New("X0803", token.Span{}, "failed to read actor metadata manifest %q", path).WithCause(err))
		return nil, &bag
	}
	reg, err := ParseManifest(data)
	if err != nil {
		bag.Add(diag.New("X0804", token.Span{}, "failed to parse actor metadata manifest %q", path).WithCause(err))
		return nil, &bag
	}
	return reg, &bag
}
