package registry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeRecordsPlainActor(t *testing.T) {
	src := []byte(`#include <cstdint>
` + recordMarker + `stdout@@in:float:1;@@`)
	metas, bag := DecodeRecords(src)
	require.Equal(t, 0, bag.Len(), "%v", bag.All())
	require.Len(t, metas, 1)
	assert.Equal(t, "stdout", metas[0].Name)
	assert.Empty(t, metas[0].TemplateParams)
	require.Len(t, metas[0].Ports, 1)
	assert.Equal(t, In, metas[0].Ports[0].Dir)
	assert.Equal(t, "float", metas[0].Ports[0].Type)
	require.Len(t, metas[0].Ports[0].Shape, 1)
	assert.Equal(t, 1, metas[0].Ports[0].Shape[0].Const)
}

func TestDecodeRecordsBackScansTemplateParams(t *testing.T) {
	src := []byte(`template <typename T>
class mul_actor {};
` + recordMarker + `mul@@in:T:1;out:T:1;@@`)
	metas, bag := DecodeRecords(src)
	require.Equal(t, 0, bag.Len(), "%v", bag.All())
	require.Len(t, metas, 1)
	assert.Equal(t, "mul", metas[0].Name)
	assert.Equal(t, []string{"T"}, metas[0].TemplateParams)
	require.Len(t, metas[0].Ports, 2)
	assert.Equal(t, Out, metas[0].Ports[1].Dir)
}

func TestDecodeRecordsParamsField(t *testing.T) {
	src := []byte(recordMarker + `decimate@@in:float:n;out:float:1;@@compile_time:int:factor;`)
	metas, bag := DecodeRecords(src)
	require.Equal(t, 0, bag.Len(), "%v", bag.All())
	require.Len(t, metas, 1)
	require.Len(t, metas[0].Params, 1)
	assert.Equal(t, "factor", metas[0].Params[0].Name)
	assert.Equal(t, ParamCompileTime, metas[0].Params[0].Kind)
}

func TestBuildProbeSourceIncludesActorPathsInOrder(t *testing.T) {
	cfg := ProbeConfig{ActorPaths: []string{"actors/base.h", "actors/overlay.h"}}
	src := BuildProbeSource(cfg)
	baseIdx := indexOf(src, `#include "actors/base.h"`)
	overlayIdx := indexOf(src, `#include "actors/overlay.h"`)
	require.GreaterOrEqual(t, baseIdx, 0)
	require.GreaterOrEqual(t, overlayIdx, 0)
	assert.Less(t, baseIdx, overlayIdx)
}

func indexOf(s, substr string) int {
	for i := 0; i+len(substr) <= len(s); i++ {
		if s[i:i+len(substr)] == substr {
			return i
		}
	}
	return -1
}
