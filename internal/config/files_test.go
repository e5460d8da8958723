package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func TestResolveFilesDefaults(t *testing.T) {
	root := t.TempDir()
	for _, f := range []string{
		"top.va",
		"lib/diode.va",
		"lib/deep/res.vams",
		"lib/consts.vh",
		".hidden/skip.va",
		".amsgen_cache/old.va",
		"models/gen.va",
	} {
		writeFile(t, filepath.Join(root, f), "// x")
	}

	files, err := DefaultConfig().ResolveFiles(root)
	if err != nil {
		t.Fatalf("ResolveFiles: %v", err)
	}
	want := []string{
		filepath.Join(root, "lib/deep/res.vams"),
		filepath.Join(root, "lib/diode.va"),
		filepath.Join(root, "top.va"),
	}
	if diff := cmp.Diff(want, files); diff != "" {
		t.Errorf("files mismatch (-want +got):\n%s", diff)
	}
}

func TestResolveFilesWithExclude(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "rtl/amp.va"), "")
	writeFile(t, filepath.Join(root, "rtl/amp_tb.va"), "")
	writeFile(t, filepath.Join(root, "sim/osc.va"), "")

	cfg := DefaultConfig()
	cfg.Files = []string{"rtl/*.va"}
	cfg.Exclude = []string{"**_tb.va"}

	files, err := cfg.ResolveFiles(root)
	if err != nil {
		t.Fatalf("ResolveFiles: %v", err)
	}
	if diff := cmp.Diff([]string{filepath.Join(root, "rtl/amp.va")}, files); diff != "" {
		t.Errorf("files mismatch (-want +got):\n%s", diff)
	}

	cfg.Files = []string{"rtl/[a"}
	if _, err := cfg.ResolveFiles(root); err == nil {
		t.Fatal("expected an error for a malformed pattern")
	}
}

func TestFindInclude(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "src/local.vh"), "")
	writeFile(t, filepath.Join(root, "inc/disciplines.vams"), "")

	cfg := DefaultConfig()
	cfg.IncludeDirs = []string{"inc"}
	from := filepath.Join(root, "src/top.va")

	got, err := cfg.FindInclude(root, from, "local.vh")
	if err != nil || got != filepath.Join(root, "src/local.vh") {
		t.Fatalf("local include: got %q, %v", got, err)
	}
	got, err = cfg.FindInclude(root, from, "disciplines.vams")
	if err != nil || got != filepath.Join(root, "inc/disciplines.vams") {
		t.Fatalf("include dir: got %q, %v", got, err)
	}
	if _, err := cfg.FindInclude(root, from, "missing.vh"); err == nil {
		t.Fatal("expected a missing include to fail")
	}
}
