package config

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/gobwas/glob"
)

// SourceExts are the file extensions compiled as sources. Included files
// may use any extension.
var SourceExts = map[string]bool{".va": true, ".vams": true}

type matcher []glob.Glob

func compileAll(patterns []string) (matcher, error) {
	var m matcher
	for _, p := range patterns {
		g, err := glob.Compile(filepath.ToSlash(p), '/')
		if err != nil {
			return nil, fmt.Errorf("bad file pattern %q: %w", p, err)
		}
		m = append(m, g)
	}
	return m, nil
}

func (m matcher) match(rel string) bool {
	for _, g := range m {
		if g.Match(rel) {
			return true
		}
	}
	return false
}

// ResolveFiles expands the Files patterns under rootPath, removes the
// Exclude matches and returns the sources sorted by path. Hidden
// directories, the cache and the output directory are never searched.
func (c *Config) ResolveFiles(rootPath string) ([]string, error) {
	include, err := compileAll(c.Files)
	if err != nil {
		return nil, err
	}
	exclude, err := compileAll(c.Exclude)
	if err != nil {
		return nil, err
	}

	skip := map[string]bool{
		filepath.Clean(c.CacheDir(rootPath)):  true,
		filepath.Clean(c.OutputDir(rootPath)): true,
	}

	var result []string
	err = filepath.WalkDir(rootPath, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil // Skip errors, continue walking
		}
		if d.IsDir() {
			if path != rootPath && (strings.HasPrefix(d.Name(), ".") || skip[filepath.Clean(path)]) {
				return filepath.SkipDir
			}
			return nil
		}
		if !SourceExts[strings.ToLower(filepath.Ext(path))] {
			return nil
		}
		rel, err := filepath.Rel(rootPath, path)
		if err != nil {
			return nil
		}
		rel = filepath.ToSlash(rel)
		if include.match(rel) && !exclude.match(rel) {
			result = append(result, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walking %s: %w", rootPath, err)
	}
	sort.Strings(result)
	return result, nil
}

// IncludePath returns the directories searched for `include files, after
// the directory of the including file
func (c *Config) IncludePath(rootPath string) []string {
	var dirs []string
	for _, d := range c.IncludeDirs {
		if !filepath.IsAbs(d) {
			d = filepath.Join(rootPath, d)
		}
		dirs = append(dirs, d)
	}
	return dirs
}

// FindInclude resolves an `include name seen in file
func (c *Config) FindInclude(rootPath, file, name string) (string, error) {
	if filepath.IsAbs(name) {
		if _, err := os.Stat(name); err != nil {
			return "", fmt.Errorf("include %q: %w", name, err)
		}
		return name, nil
	}
	dirs := append([]string{filepath.Dir(file)}, c.IncludePath(rootPath)...)
	for _, d := range dirs {
		p := filepath.Join(d, name)
		if info, err := os.Stat(p); err == nil && !info.IsDir() {
			return p, nil
		}
	}
	return "", fmt.Errorf("include %q not found (searched %s)", name, strings.Join(dirs, ", "))
}
