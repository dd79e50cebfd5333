package registry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleRegistry() *Registry {
	r := New()
	r.Put(ActorMeta{
		Name: "decimate",
		Ports: []Port{
			{Dir: In, Type: "float", Shape: []Dim{{Symbol: "n"}}},
			{Dir: Out, Type: "float", Shape: []Dim{{Const: 1}}},
		},
		Params: []Param{{Kind: ParamCompileTime, Type: "int", Name: "factor"}},
	})
	r.Put(ActorMeta{
		Name:           "mul",
		TemplateParams: []string{"T"},
		Ports: []Port{
			{Dir: In, Type: "T", Shape: []Dim{{Const: 1}}},
			{Dir: Out, Type: "T", Shape: []Dim{{Const: 1}}},
		},
	})
	return r
}

func TestFingerprintInvariantUnderDisplayFormatting(t *testing.T) {
	r := sampleRegistry()
	fp, err := r.Fingerprint()
	require.NoError(t, err)

	display, err := r.DisplayJSON()
	require.NoError(t, err)
	require.NotEmpty(t, display)

	// Round-trip through the pretty-printed form: the decoded registry
	// must fingerprint identically, proving the fingerprint depends only
	// on content, never on which serializer produced the bytes.
	r2, err := ParseManifest(display)
	require.NoError(t, err)
	fp2, err := r2.Fingerprint()
	require.NoError(t, err)

	assert.Equal(t, fp, fp2)
}

func TestCanonicalJSONHasNoTrailingNewline(t *testing.T) {
	r := sampleRegistry()
	b, err := r.CanonicalJSON()
	require.NoError(t, err)
	assert.NotEqual(t, byte('\n'), b[len(b)-1])
}

func TestParseManifestRejectsWrongSchemaVersion(t *testing.T) {
	_, err := ParseManifest([]byte(`{"schema_version": 99, "actors": []}`))
	require.Error(t, err)
}

func TestAllIsAlphabeticallySorted(t *testing.T) {
	r := sampleRegistry()
	all := r.All()
	require.Len(t, all, 2)
	assert.Equal(t, "decimate", all[0].Name)
	assert.Equal(t, "mul", all[1].Name)
}

func TestRegistryPutOverlayOverwrites(t *testing.T) {
	r := New()
	r.Put(ActorMeta{Name: "gain", Params: []Param{{Kind: ParamCompileTime, Type: "float", Name: "g"}}})
	r.Put(ActorMeta{Name: "gain", Params: []Param{{Kind: ParamRuntime, Type: "float", Name: "g"}}})
	meta, ok := r.Lookup("gain")
	require.True(t, ok)
	require.Len(t, meta.Params, 1)
	assert.Equal(t, ParamRuntime, meta.Params[0].Kind)
}
