package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/robert-at-pretension-io/amsgen/internal/module"
)

func sample() *Config {
	cfg := DefaultConfig()
	cfg.Files = []string{"src/**/*.va"}
	cfg.Exclude = []string{"src/old/*"}
	cfg.IncludeDirs = []string{"include"}
	cfg.Output = OutputConfig{Package: "devices", Dir: "gen/devices"}
	cfg.Compile.ShortCircuit = boolPtr(false)
	cfg.Compile.MaxParallelFiles = 4
	cfg.Compile.FixpointLimit = 500
	cfg.Lint.Rules = map[string]string{"switch_branch": "off", "dead_statement": "error"}
	cfg.Lint.IgnorePatterns = []string{"vendor/**"}
	cfg.Observability = ObservabilityConfig{TimingFile: "timing.jsonl", MetricsFile: "metrics.prom", Trace: true}
	cfg.Dump = DumpConfig{Deps: true, Programs: true}
	return cfg
}

func TestSaveLoadRoundTrip(t *testing.T) {
	for _, name := range []string{"amsgen.json", "amsgen.yaml", "amsgen.toml"} {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), name)
			want := sample()
			if err := want.Save(path); err != nil {
				t.Fatalf("Save: %v", err)
			}
			got, err := LoadFile(path)
			if err != nil {
				t.Fatalf("LoadFile: %v", err)
			}
			if diff := cmp.Diff(want, got); diff != "" {
				t.Errorf("round trip mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestLoadAppliesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "amsgen.yaml")
	if err := os.WriteFile(path, []byte("output:\n  package: circuits\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if cfg.Output.Package != "circuits" || cfg.Output.Dir != defaultOutDir {
		t.Errorf("unexpected output config %+v", cfg.Output)
	}
	if diff := cmp.Diff(defaultFiles, cfg.Files); diff != "" {
		t.Errorf("files mismatch (-want +got):\n%s", diff)
	}
	if !cfg.CacheEnabled() || cfg.CacheDir(dir) != filepath.Join(dir, defaultCacheDir) {
		t.Errorf("unexpected cache config %+v", cfg.Cache)
	}
}

func TestLoadRejectsBadConfig(t *testing.T) {
	tests := map[string]string{
		"amsgen.json": `{"lint": {"rules": {"dead_statement": "fatal"}}}`,
		"amsgen.yaml": "outputs:\n  dir: x\n",
		"amsgen.toml": "files = [\"src/[\"]\n",
	}
	for name, content := range tests {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), name)
			if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
				t.Fatal(err)
			}
			if _, err := LoadFile(path); err == nil {
				t.Fatal("expected an error")
			}
		})
	}
}

func TestLoadSearchesRoot(t *testing.T) {
	root := t.TempDir()
	cfg := DefaultConfig()
	cfg.Output.Package = "rooted"
	if err := cfg.Save(filepath.Join(root, "amsgen.toml")); err != nil {
		t.Fatal(err)
	}

	got, err := Load(root)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got.Output.Package != "rooted" {
		t.Errorf("expected the root config, got package %q", got.Output.Package)
	}
}

func TestModuleOptions(t *testing.T) {
	cfg := sample()
	want := module.Options{ShortCircuit: false, FixpointLimit: 500, LoopLimit: module.DefaultOptions().LoopLimit}
	if diff := cmp.Diff(want, cfg.ModuleOptions()); diff != "" {
		t.Errorf("options mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(module.DefaultOptions(), DefaultConfig().ModuleOptions()); diff != "" {
		t.Errorf("default options mismatch (-want +got):\n%s", diff)
	}
}

func TestRuleSeverities(t *testing.T) {
	cfg := sample()
	if cfg.IsRuleEnabled("switch_branch") {
		t.Error("switch_branch should be off")
	}
	if !cfg.IsRuleEnabled("unused_node") {
		t.Error("unconfigured rules are enabled")
	}
	if got := cfg.GetRuleSeverity("dead_statement", "warning"); got != "error" {
		t.Errorf("dead_statement severity = %q", got)
	}
	if got := cfg.GetRuleSeverity("unused_node", "warning"); got != "warning" {
		t.Errorf("unused_node severity = %q", got)
	}
	if !cfg.ShouldIgnoreFile("vendor/x/y.va") || cfg.ShouldIgnoreFile("src/a.va") {
		t.Error("ignore patterns not applied")
	}
}
