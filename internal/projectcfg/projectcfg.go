// Package projectcfg loads the optional project-level `.pcc.yaml`
// configuration file: include roots, actor search paths, a default
// `--emit` target, and the C++ toolchain path, mirroring the teacher
// CLI's `.cie/project.yaml` (ProjectID/CIE/Embedding/LLM groups, a
// DefaultConfig constructor, Load/Save helpers keyed off a project
// directory). CLI flags always take precedence over a loaded config;
// a missing file is not an error, it just means every setting falls
// back to its CLI default.
package projectcfg

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// FileName is the config file pcc looks for in a project directory.
const FileName = ".pcc.yaml"

// Config is the typed shape of `.pcc.yaml`. Every field except
// cpp.flags and cpp.output_dir has a CLI flag counterpart (§6); a zero
// value here means "let the CLI default apply," never "force off."
type Config struct {
	Registry RegistryConfig `yaml:"registry"`
	Emit     EmitConfig     `yaml:"emit"`
	Cpp      CppConfig      `yaml:"cpp"`
}

// RegistryConfig groups the actor-metadata acquisition settings that
// §6's `--actor-meta`/`-I`/`--actor-path` flags also control.
type RegistryConfig struct {
	ActorMetaPath string   `yaml:"actor_meta_path"`
	IncludeDirs   []string `yaml:"include_dirs"`
	ActorPaths    []string `yaml:"actor_paths"`
}

// EmitConfig carries the default `--emit` target used when a compile
// invocation doesn't name one explicitly.
type EmitConfig struct {
	Default string `yaml:"default"`
}

// CppConfig groups the C++ toolchain settings `--cc` also controls.
type CppConfig struct {
	Compiler  string   `yaml:"compiler"`
	Flags     []string `yaml:"flags"`
	OutputDir string   `yaml:"output_dir"`
}

// DefaultConfig returns the configuration pcc behaves as if it had
// loaded when no `.pcc.yaml` is present: every field is zero except
// emit.default, which is "exe". It gives callers one obvious spelling
// for "no project config."
func DefaultConfig() *Config {
	return &Config{Emit: EmitConfig{Default: "exe"}}
}

// ConfigPath resolves the `.pcc.yaml` path for a project rooted at dir.
func ConfigPath(dir string) string {
	return filepath.Join(dir, FileName)
}

// Load reads and parses the config at path. A path that does not exist
// is not an error: Load returns DefaultConfig, since the file is
// optional by design (§4.9's "C++ toolchain path... is optional").
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return DefaultConfig(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("projectcfg: read %s: %w", path, err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("projectcfg: parse %s: %w", path, err)
	}
	return cfg, nil
}

// LoadFromDir is a convenience wrapper resolving dir's `.pcc.yaml` path
// before calling Load.
func LoadFromDir(dir string) (*Config, error) {
	return Load(ConfigPath(dir))
}

// Save marshals cfg as YAML and writes it to path, creating any missing
// parent directory.
func Save(cfg *Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("projectcfg: mkdir %s: %w", filepath.Dir(path), err)
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("projectcfg: marshal: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("projectcfg: write %s: %w", path, err)
	}
	return nil
}

// MergeFlag returns override if it is non-empty, otherwise fallback —
// the CLI-overrides-config rule applied one string flag at a time, so
// cmd/pcc can write `cc := projectcfg.MergeFlag(flagCC, cfg.Cpp.Compiler)`
// for every setting both surfaces can provide.
func MergeFlag(flagValue, configValue string) string {
	if flagValue != "" {
		return flagValue
	}
	return configValue
}

// MergeStringSlice concatenates a CLI-supplied slice with a config-file
// slice without duplicates, CLI entries first — used for `-I`/
// `--actor-path`, which are repeatable on the CLI and additive with the
// config file rather than overriding it outright (a compile should be
// able to add one more include dir without having to repeat every dir
// the project already lists in `.pcc.yaml`).
func MergeStringSlice(flagValues, configValues []string) []string {
	seen := make(map[string]bool, len(flagValues)+len(configValues))
	out := make([]string, 0, len(flagValues)+len(configValues))
	for _, v := range flagValues {
		if !seen[v] {
			seen[v] = true
			out = append(out, v)
		}
	}
	for _, v := range configValues {
		if !seen[v] {
			seen[v] = true
			out = append(out, v)
		}
	}
	return out
}
