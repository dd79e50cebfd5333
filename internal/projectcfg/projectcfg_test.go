package projectcfg

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMissingFileReturnsDefault(t *testing.T) {
	dir := t.TempDir()
	cfg, err := LoadFromDir(dir)
	require.NoError(t, err)
	assert.Equal(t, "exe", cfg.Emit.Default)
	assert.Empty(t, cfg.Registry.IncludeDirs)
}

func TestSaveThenLoadRoundTrips(t *testing.T) {
	dir := t.TempDir()
	cfg := &Config{
		Registry: RegistryConfig{
			ActorMetaPath: "build/actors.json",
			IncludeDirs:   []string{"include", "third_party/include"},
			ActorPaths:    []string{"actors"},
		},
		Emit: EmitConfig{Default: "cpp"},
		Cpp: CppConfig{
			Compiler:  "clang++",
			Flags:     []string{"-O2", "-std=c++20"},
			OutputDir: "build",
		},
	}
	path := ConfigPath(dir)
	require.NoError(t, Save(cfg, path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg.Registry.ActorMetaPath, loaded.Registry.ActorMetaPath)
	assert.Equal(t, cfg.Registry.IncludeDirs, loaded.Registry.IncludeDirs)
	assert.Equal(t, cfg.Emit.Default, loaded.Emit.Default)
	assert.Equal(t, cfg.Cpp.Compiler, loaded.Cpp.Compiler)
	assert.Equal(t, cfg.Cpp.Flags, loaded.Cpp.Flags)
}

func TestConfigPathJoinsFileName(t *testing.T) {
	assert.Equal(t, filepath.Join("proj", ".pcc.yaml"), ConfigPath("proj"))
}

func TestMergeFlagPrefersFlagValue(t *testing.T) {
	assert.Equal(t, "clang++", MergeFlag("clang++", "g++"))
	assert.Equal(t, "g++", MergeFlag("", "g++"))
	assert.Equal(t, "", MergeFlag("", ""))
}

func TestMergeStringSliceDeduplicatesPreferringFlagOrder(t *testing.T) {
	got := MergeStringSlice([]string{"a", "b"}, []string{"b", "c"})
	assert.Equal(t, []string{"a", "b", "c"}, got)
}

func TestLoadRejectsMalformedYAML(t *testing.T) {
	dir := t.TempDir()
	path := ConfigPath(dir)
	require.NoError(t, Save(DefaultConfig(), path))
	// overwrite with invalid YAML content directly
	require.NoError(t, os.WriteFile(path, []byte("registry: [this is not a mapping"), 0o644))

	_, err := Load(path)
	require.Error(t, err)
}
