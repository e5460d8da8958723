package compiler

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/robert-at-pretension-io/amsgen/internal/diag"
	"github.com/robert-at-pretension-io/amsgen/internal/facts"
	"github.com/robert-at-pretension-io/amsgen/internal/module"
)

const cacheIndexVersion = 1

// compilerVersion changes whenever generated code or facts change shape
const compilerVersion = "amsgen/1"

type cacheEntry struct {
	ContentHash string            `json:"content_hash"`
	Includes    map[string]string `json:"includes"`
	UnitPath    string            `json:"unit_path"`
	Version     string            `json:"version"`
}

type cacheIndex struct {
	Version int                   `json:"version"`
	Entries map[string]cacheEntry `json:"entries"`
}

// cachedUnit is everything a compiled source file contributes to a run
type cachedUnit struct {
	Modules     []string          `json:"modules"`
	Code        []byte            `json:"code,omitempty"`
	Tables      facts.Tables      `json:"tables"`
	Diagnostics []diag.Diagnostic `json:"diagnostics"`
}

type unitCache struct {
	dir     string
	version string
	mu      sync.Mutex
	index   cacheIndex
}

func newUnitCache(dir, version string) *unitCache {
	return &unitCache{
		dir:     dir,
		version: version,
		index: cacheIndex{
			Version: cacheIndexVersion,
			Entries: make(map[string]cacheEntry),
		},
	}
}

// cacheVersion keys the cache on everything besides the sources that
// shapes the output
func cacheVersion(opts module.Options, pkg string) string {
	data, _ := json.Marshal(struct {
		Compiler string         `json:"compiler"`
		Options  module.Options `json:"options"`
		Package  string         `json:"package"`
	}{compilerVersion, opts, pkg})
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func (c *unitCache) indexPath() string {
	return filepath.Join(c.dir, "index.json")
}

func (c *unitCache) unitsDir() string {
	return filepath.Join(c.dir, "units")
}

func (c *unitCache) unitPathForFile(filePath string) string {
	h := sha256.Sum256([]byte(filePath))
	return filepath.Join(c.unitsDir(), hex.EncodeToString(h[:])+".json")
}

func (c *unitCache) Load() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := os.MkdirAll(c.dir, 0o755); err != nil {
		return fmt.Errorf("cache mkdir: %w", err)
	}
	data, err := os.ReadFile(c.indexPath())
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read cache index: %w", err)
	}
	var idx cacheIndex
	if err := json.Unmarshal(data, &idx); err != nil {
		return fmt.Errorf("parse cache index: %w", err)
	}
	if idx.Version != cacheIndexVersion {
		// Reset on version mismatch
		c.index = cacheIndex{Version: cacheIndexVersion, Entries: make(map[string]cacheEntry)}
		return nil
	}
	if idx.Entries == nil {
		idx.Entries = make(map[string]cacheEntry)
	}
	c.index = idx
	return nil
}

func (c *unitCache) Save() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return writeJSONAtomic(c.indexPath(), c.index)
}

// Get returns the stored unit when the file and every file it includes
// still hash the same
func (c *unitCache) Get(filePath, contentHash string, includes map[string]string) (cachedUnit, bool, error) {
	c.mu.Lock()
	entry, ok := c.index.Entries[filePath]
	c.mu.Unlock()
	if !ok || entry.ContentHash != contentHash || entry.Version != c.version {
		return cachedUnit{}, false, nil
	}
	if len(entry.Includes) != len(includes) {
		return cachedUnit{}, false, nil
	}
	for path, h := range includes {
		if entry.Includes[path] != h {
			return cachedUnit{}, false, nil
		}
	}

	data, err := os.ReadFile(entry.UnitPath)
	if err != nil {
		return cachedUnit{}, false, fmt.Errorf("read cached unit: %w", err)
	}
	var unit cachedUnit
	if err := json.Unmarshal(data, &unit); err != nil {
		return cachedUnit{}, false, fmt.Errorf("parse cached unit: %w", err)
	}
	return unit, true, nil
}

func (c *unitCache) Put(filePath, contentHash string, includes map[string]string, unit cachedUnit) error {
	unitPath := c.unitPathForFile(filePath)
	if err := writeJSONAtomic(unitPath, unit); err != nil {
		return err
	}

	c.mu.Lock()
	c.index.Entries[filePath] = cacheEntry{
		ContentHash: contentHash,
		Includes:    includes,
		UnitPath:    unitPath,
		Version:     c.version,
	}
	c.mu.Unlock()
	return nil
}

// Prune drops entries for files that are no longer compiled
func (c *unitCache) Prune(keep map[string]bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for f, e := range c.index.Entries {
		if !keep[f] {
			_ = os.Remove(e.UnitPath)
			delete(c.index.Entries, f)
		}
	}
}

func writeJSONAtomic(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal cache json: %w", err)
	}
	return writeFileAtomic(path, data)
}

func writeFileAtomic(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("cache dir: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return fmt.Errorf("temp file: %w", err)
	}
	// CreateTemp makes the file private; generated models are shared
	if err := tmp.Chmod(0o644); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("chmod file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("write file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("close file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("rename file: %w", err)
	}
	return nil
}

func hashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func hashBytes(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
