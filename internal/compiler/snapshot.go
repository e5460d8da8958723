package compiler

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/robert-at-pretension-io/amsgen/internal/facts"
)

const snapshotVersion = 2

// snapshot is the fact tables of the last finished build, kept so the next
// one can report which rows changed
type snapshot struct {
	Version  int          `json:"version"`
	Compiler string       `json:"compiler"`
	Taken    time.Time    `json:"taken"`
	Tables   facts.Tables `json:"tables"`
}

func snapshotPath(dir string) string {
	return filepath.Join(dir, "fact_tables.json")
}

// LoadSnapshot returns the fact tables of the previous build cached in dir.
// Snapshots written by another compiler version are ignored.
func LoadSnapshot(dir string) (facts.Tables, bool, error) {
	var s snapshot
	found, err := readJSON(snapshotPath(dir), &s)
	if err != nil {
		return facts.Tables{}, false, fmt.Errorf("fact snapshot: %w", err)
	}
	if !found || s.Version != snapshotVersion || s.Compiler != compilerVersion {
		return facts.Tables{}, false, nil
	}
	return s.Tables, true, nil
}

func saveSnapshot(dir string, tables facts.Tables) error {
	s := snapshot{Version: snapshotVersion, Compiler: compilerVersion, Taken: time.Now().UTC(), Tables: tables}
	if err := writeJSONAtomic(snapshotPath(dir), s); err != nil {
		return fmt.Errorf("fact snapshot: %w", err)
	}
	return nil
}

// readJSON decodes path into v. A missing file is not an error.
func readJSON(path string, v any) (bool, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return false, fmt.Errorf("parse %s: %w", filepath.Base(path), err)
	}
	return true, nil
}
