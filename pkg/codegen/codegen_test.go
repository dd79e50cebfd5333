package codegen

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pipit-lang/pcc/pkg/analyze"
	"github.com/pipit-lang/pcc/pkg/graph"
	"github.com/pipit-lang/pcc/pkg/hir"
	"github.com/pipit-lang/pcc/pkg/lir"
	"github.com/pipit-lang/pcc/pkg/parser"
	"github.com/pipit-lang/pcc/pkg/registry"
	"github.com/pipit-lang/pcc/pkg/resolve"
	"github.com/pipit-lang/pcc/pkg/schedule"
	"github.com/pipit-lang/pcc/pkg/types"
)

func buildLIR(t *testing.T, src string, reg *registry.Registry) *lir.Program {
	t.Helper()
	prog, bag := parser.Parse("t.pdl", src)
	require.Equal(t, 0, bag.Len(), "%v", bag.All())
	res, rbag := resolve.Resolve(prog)
	require.Equal(t, 0, rbag.Len(), "%v", rbag.All())
	h, hbag := hir.Build(res)
	require.Equal(t, 0, hbag.Len(), "%v", hbag.All())
	h, tinfo, tbag := types.Infer(h, reg)
	require.Equal(t, 0, tbag.Len(), "%v", tbag.All())
	g, gbag := graph.Build(h, reg, tinfo)
	require.Equal(t, 0, gbag.Len(), "%v", gbag.All())
	ar, abag := analyze.Analyze(g, reg)
	require.Equal(t, 0, abag.Len(), "%v", abag.All())
	sr, sbag := schedule.Schedule(g, ar)
	require.Equal(t, 0, sbag.Len(), "%v", sbag.All())
	lp, lbag := lir.Build(h, g, ar, sr, reg)
	require.Equal(t, 0, lbag.Len(), "%v", lbag.All())
	return lp
}

func TestGenerateEmitsProvenanceAndMain(t *testing.T) {
	reg := registry.New()
	reg.Put(registry.ActorMeta{Name: "input", Ports: []registry.Port{{Dir: registry.Out, Type: "float"}}})
	reg.Put(registry.ActorMeta{Name: "sink", Ports: []registry.Port{{Dir: registry.In, Type: "float"}}})

	lp := buildLIR(t, "task t {\n  input() | sink()\n}\n", reg)
	out, err := Generate(lp, Options{SourceHash: "abc123", RegistryFingerprint: "def456", CompilerVersion: "0.1.0-test"})
	require.NoError(t, err)
	src := string(out)

	assert.Contains(t, src, "source_hash:              abc123")
	assert.Contains(t, src, "registry_fingerprint:     def456")
	assert.Contains(t, src, "compiler_version:         0.1.0-test")
	assert.Contains(t, src, "int main(int argc, char** argv)")
	assert.Contains(t, src, "pipit::shell_main(argc, argv, desc)")
	assert.Contains(t, src, "void task_t()")
	assert.Contains(t, src, "input input_")
	assert.Contains(t, src, "sink sink_")
}

func TestGenerateLowersRuntimeParamLoad(t *testing.T) {
	reg := registry.New()
	reg.Put(registry.ActorMeta{Name: "input", Ports: []registry.Port{{Dir: registry.Out, Type: "float"}}})
	reg.Put(registry.ActorMeta{Name: "gain", Ports: []registry.Port{
		{Dir: registry.In, Type: "float"}, {Dir: registry.Out, Type: "float"},
	}})
	reg.Put(registry.ActorMeta{Name: "sink", Ports: []registry.Port{{Dir: registry.In, Type: "float"}}})

	lp := buildLIR(t, "param float g = 1.0\ntask t {\n  input() | gain(g) | sink()\n}\n", reg)
	out, err := Generate(lp, Options{SourceHash: "h", RegistryFingerprint: "f", CompilerVersion: "v"})
	require.NoError(t, err)
	src := string(out)

	assert.Contains(t, src, "std::atomic<float> param_g{ 1.0 };")
	assert.Contains(t, src, "param_g.load(std::memory_order_relaxed)")
	assert.Contains(t, src, `{ "g", "--param.g" },`)
}

func TestGenerateDefaultsOverrunPolicyEnum(t *testing.T) {
	reg := registry.New()
	reg.Put(registry.ActorMeta{Name: "input", Ports: []registry.Port{{Dir: registry.Out, Type: "float"}}})
	reg.Put(registry.ActorMeta{Name: "sink", Ports: []registry.Port{{Dir: registry.In, Type: "float"}}})

	lp := buildLIR(t, "task t {\n  input() | sink()\n}\n", reg)
	out, err := Generate(lp, Options{})
	require.NoError(t, err)
	src := string(out)

	assert.Contains(t, src, "enum class OverrunPolicy { FailFast };")
	assert.Contains(t, src, "OverrunPolicy::FailFast;")
}

func TestGenerateEmitsFusedLoopBlock(t *testing.T) {
	reg := registry.New()
	reg.Put(registry.ActorMeta{Name: "input", Ports: []registry.Port{{Dir: registry.Out, Type: "float"}}})
	reg.Put(registry.ActorMeta{Name: "fft", Ports: []registry.Port{
		{Dir: registry.In, Type: "float", Shape: []registry.Dim{{Const: 256}}},
		{Dir: registry.Out, Type: "float", Shape: []registry.Dim{{Const: 256}}},
	}})
	reg.Put(registry.ActorMeta{Name: "c2r", Ports: []registry.Port{
		{Dir: registry.In, Type: "float", Shape: []registry.Dim{{Const: 256}}},
		{Dir: registry.Out, Type: "float", Shape: []registry.Dim{{Const: 256}}},
	}})
	reg.Put(registry.ActorMeta{Name: "decimate", Ports: []registry.Port{
		{Dir: registry.In, Type: "float", Shape: []registry.Dim{{Const: 256}}},
		{Dir: registry.Out, Type: "float", Shape: []registry.Dim{{Const: 64}}},
	}})
	reg.Put(registry.ActorMeta{Name: "sink", Ports: []registry.Port{
		{Dir: registry.In, Type: "float", Shape: []registry.Dim{{Const: 64}}},
	}})

	src := "task t {\n  input() | fft() | c2r() | decimate() | sink()\n}\n"
	lp := buildLIR(t, src, reg)
	out, err := Generate(lp, Options{})
	require.NoError(t, err)
	body := string(out)

	require.Len(t, lp.Tasks, 1)
	if len(lp.Tasks[0].Fusions) > 0 {
		assert.True(t, strings.Contains(body, "for (int i = 0;"), "a fusion group should lower to a repeated loop block")
	}
}
