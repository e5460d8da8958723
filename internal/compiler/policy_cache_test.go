package compiler

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/robert-at-pretension-io/amsgen/internal/facts"
	"github.com/robert-at-pretension-io/amsgen/internal/policy"
)

func TestPolicyCacheRoundTripAndValidity(t *testing.T) {
	dir := t.TempDir()
	tables := facts.Tables{
		Modules: []facts.ModuleRow{{Name: "amp", File: "amp.va", Line: 1, Failed: true}},
	}
	th, err := tablesHash(tables)
	if err != nil {
		t.Fatalf("tablesHash error: %v", err)
	}

	entry := policyCacheEntry{
		Version:    policyCacheVersion,
		RulesHash:  "rules",
		TablesHash: th,
		Result: policy.Result{
			Violations: []policy.Violation{{
				Rule:     "failed_module",
				Severity: "error",
				File:     "amp.va",
				Line:     1,
				Module:   "amp",
				Message:  "module amp has errors and generates no code",
			}},
			Summary: policy.Summary{TotalViolations: 1, Errors: 1},
		},
	}
	if err := savePolicyCache(dir, entry); err != nil {
		t.Fatalf("savePolicyCache error: %v", err)
	}
	loaded, err := loadPolicyCache(dir)
	if err != nil {
		t.Fatalf("loadPolicyCache error: %v", err)
	}
	if diff := cmp.Diff(entry, *loaded); diff != "" {
		t.Fatalf("policy cache mismatch (-want +got):\n%s", diff)
	}
	if !policyCacheValid(loaded, "rules", th) {
		t.Fatal("expected cache to be valid")
	}
	if policyCacheValid(loaded, "other rules", th) {
		t.Error("expected cache to be invalid after a rule change")
	}

	tables.Modules[0].Failed = false
	changed, err := tablesHash(tables)
	if err != nil {
		t.Fatal(err)
	}
	if policyCacheValid(loaded, "rules", changed) {
		t.Error("expected cache to be invalid after a facts change")
	}
	if policyCacheValid(nil, "rules", th) {
		t.Error("a missing entry is never valid")
	}
}

func TestClearPolicyCache(t *testing.T) {
	dir := t.TempDir()
	if err := savePolicyCache(dir, policyCacheEntry{Version: policyCacheVersion}); err != nil {
		t.Fatalf("savePolicyCache error: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "policy_cache.json")); err != nil {
		t.Fatalf("expected cache file to exist: %v", err)
	}
	if err := ClearPolicyCache(dir); err != nil {
		t.Fatalf("ClearPolicyCache error: %v", err)
	}
	if entry, err := loadPolicyCache(dir); err != nil || entry != nil {
		t.Fatalf("expected no cache after clearing, got %v %v", entry, err)
	}
	if err := ClearPolicyCache(dir); err != nil {
		t.Fatalf("clearing twice must succeed: %v", err)
	}
}
