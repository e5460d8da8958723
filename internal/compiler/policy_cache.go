package compiler

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/robert-at-pretension-io/amsgen/internal/facts"
	"github.com/robert-at-pretension-io/amsgen/internal/policy"
)

const policyCacheVersion = 1

// policyCacheEntry stores the raw policy result; severity overrides are
// applied after loading so config edits never need a re-evaluation
type policyCacheEntry struct {
	Version    int           `json:"version"`
	RulesHash  string        `json:"rules_hash"`
	TablesHash string        `json:"tables_hash"`
	Result     policy.Result `json:"result"`
}

func loadPolicyCache(dir string) (*policyCacheEntry, error) {
	var entry policyCacheEntry
	found, err := readJSON(policyCachePath(dir), &entry)
	if err != nil || !found {
		return nil, err
	}
	return &entry, nil
}

func savePolicyCache(dir string, entry policyCacheEntry) error {
	if err := writeJSONAtomic(policyCachePath(dir), entry); err != nil {
		return fmt.Errorf("write policy cache: %w", err)
	}
	return nil
}

func policyCachePath(dir string) string {
	return filepath.Join(dir, "policy_cache.json")
}

func policyCacheValid(entry *policyCacheEntry, rulesHash, tablesHash string) bool {
	return entry != nil &&
		entry.Version == policyCacheVersion &&
		entry.RulesHash == rulesHash &&
		entry.TablesHash == tablesHash
}

func tablesHash(t facts.Tables) (string, error) {
	data, err := json.Marshal(t)
	if err != nil {
		return "", fmt.Errorf("marshal tables hash: %w", err)
	}
	return hashBytes(data), nil
}

// ClearPolicyCache removes the stored policy result from cacheDir
func ClearPolicyCache(cacheDir string) error {
	if err := os.Remove(policyCachePath(cacheDir)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove policy cache: %w", err)
	}
	return nil
}
