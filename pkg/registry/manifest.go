package registry

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// ManifestSchemaVersion is the current manifest schema version, included
// in every manifest and in `--emit build-info` output.
const ManifestSchemaVersion = 1

// manifestDoc is the on-wire shape of a manifest (§6): schema_version
// plus an alphabetically-sorted actors array, each actor's ports/params
// in declaration order.
type manifestDoc struct {
	SchemaVersion int         `json:"schema_version"`
	Actors        []ActorMeta `json:"actors"`
}

// CanonicalJSON serializes the registry to the compact, deterministic
// form used for fingerprinting (§4.3): actors sorted alphabetically
// (All() already returns them in that order), no extraneous whitespace,
// stable key ordering from struct field order. This is the only
// serializer that participates in Fingerprint.
func (r *Registry) CanonicalJSON() ([]byte, error) {
	doc := manifestDoc{SchemaVersion: ManifestSchemaVersion, Actors: r.All()}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(doc); err != nil {
		return nil, fmt.Errorf("registry: canonical encode: %w", err)
	}
	// json.Encoder.Encode appends a trailing newline; strip it so the
	// canonical form has one unambiguous byte representation.
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// DisplayJSON serializes the registry with 2-space pretty-printing for
// user-facing output (`--emit manifest` to a terminal). It never
// participates in fingerprinting — only CanonicalJSON does (§4.3).
func (r *Registry) DisplayJSON() ([]byte, error) {
	doc := manifestDoc{SchemaVersion: ManifestSchemaVersion, Actors: r.All()}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	if err := enc.Encode(doc); err != nil {
		return nil, fmt.Errorf("registry: display encode: %w", err)
	}
	return buf.Bytes(), nil
}

// Fingerprint is the SHA-256 of CanonicalJSON, hex-encoded. It is
// invariant under any display-formatting change of the same registry
// (testable property §8.2).
func (r *Registry) Fingerprint() (string, error) {
	canon, err := r.CanonicalJSON()
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(canon)
	return hex.EncodeToString(sum[:]), nil
}

// ParseManifest decodes a manifest (canonical or display form — both are
// valid JSON and decode identically) into a Registry.
func ParseManifest(data []byte) (*Registry, error) {
	var doc manifestDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("registry: parse manifest: %w", err)
	}
	if doc.SchemaVersion != ManifestSchemaVersion {
		return nil, fmt.Errorf("registry: unsupported manifest schema_version %d (want %d)",
			doc.SchemaVersion, ManifestSchemaVersion)
	}
	reg := New()
	for _, a := range doc.Actors {
		reg.Put(a)
	}
	return reg, nil
}
