package compiler

import (
	"os"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/robert-at-pretension-io/amsgen/internal/facts"
)

func TestSnapshotRoundTrip(t *testing.T) {
	dir := t.TempDir()
	if _, ok, err := LoadSnapshot(dir); ok || err != nil {
		t.Fatalf("empty dir: ok=%v err=%v", ok, err)
	}

	tables := facts.Tables{
		Files:   []facts.FileRow{{Path: "amp.va", Hash: "abc", Includes: []string{"gain.vh"}}},
		Modules: []facts.ModuleRow{{Name: "amp", File: "amp.va", Line: 2, Ports: 2, Updates: 4}},
		Params:  []facts.ParamRow{{Module: "amp", Name: "gain", Kind: "parameter", File: "amp.va", Line: 3}},
	}
	if err := saveSnapshot(dir, tables); err != nil {
		t.Fatalf("saveSnapshot: %v", err)
	}
	got, ok, err := LoadSnapshot(dir)
	if err != nil || !ok {
		t.Fatalf("LoadSnapshot: ok=%v err=%v", ok, err)
	}
	if diff := cmp.Diff(tables, got); diff != "" {
		t.Errorf("snapshot mismatch (-want +got):\n%s", diff)
	}
}

func TestSnapshotIgnoredAcrossVersions(t *testing.T) {
	for name, s := range map[string]snapshot{
		"format":   {Version: snapshotVersion + 1, Compiler: compilerVersion},
		"compiler": {Version: snapshotVersion, Compiler: "amsgen/0"},
	} {
		t.Run(name, func(t *testing.T) {
			dir := t.TempDir()
			if err := writeJSONAtomic(snapshotPath(dir), s); err != nil {
				t.Fatal(err)
			}
			if _, ok, err := LoadSnapshot(dir); ok || err != nil {
				t.Errorf("stale snapshot: ok=%v err=%v", ok, err)
			}
		})
	}
}

func TestSnapshotCorrupt(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(snapshotPath(dir), []byte("{"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, _, err := LoadSnapshot(dir); err == nil {
		t.Error("expected a parse error")
	}
}
