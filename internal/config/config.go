package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/gobwas/glob"
	"github.com/pelletier/go-toml/v2"
	"sigs.k8s.io/yaml"

	"github.com/robert-at-pretension-io/amsgen/internal/module"
)

// Config is the top-level configuration for amsgen
type Config struct {
	// Files is a list of glob patterns, relative to the project root, for
	// the sources to compile
	Files []string `json:"files,omitempty" toml:"files,omitempty"`

	// Exclude is a list of glob patterns removed from Files
	Exclude []string `json:"exclude,omitempty" toml:"exclude,omitempty"`

	// IncludeDirs are searched for `include files after the directory of
	// the including file
	IncludeDirs []string `json:"includeDirs,omitempty" toml:"includeDirs,omitempty"`

	// Output controls the generated Go code
	Output OutputConfig `json:"output,omitempty" toml:"output,omitempty"`

	// Compile contains compiler options
	Compile CompileConfig `json:"compile,omitempty" toml:"compile,omitempty"`

	// Lint contains linting rule configuration
	Lint LintConfig `json:"lint,omitempty" toml:"lint,omitempty"`

	// Cache controls the incremental build cache
	Cache CacheConfig `json:"cache,omitempty" toml:"cache,omitempty"`

	// Observability selects where timings, metrics and traces go
	Observability ObservabilityConfig `json:"observability,omitempty" toml:"observability,omitempty"`

	// Dump turns on the debugging dumps of the compiler phases
	Dump DumpConfig `json:"dump,omitempty" toml:"dump,omitempty"`
}

// OutputConfig names the generated package and where it is written
type OutputConfig struct {
	// Package is the Go package name of the generated files
	Package string `json:"package,omitempty" toml:"package,omitempty"`

	// Dir is the output directory (relative to project root if not absolute)
	Dir string `json:"dir,omitempty" toml:"dir,omitempty"`
}

// CompileConfig contains compiler options
type CompileConfig struct {
	// ShortCircuit merges the nodes of branches driven to a constant zero
	// potential
	ShortCircuit *bool `json:"shortCircuit,omitempty" toml:"shortCircuit,omitempty"`

	// FixpointLimit bounds dependency propagation (0 = sized from the module)
	FixpointLimit int `json:"fixpointLimit,omitempty" toml:"fixpointLimit,omitempty"`

	// LoopLimit bounds loop iterations while evaluating constant code
	LoopLimit int `json:"loopLimit,omitempty" toml:"loopLimit,omitempty"`

	// MaxParallelFiles limits concurrent file processing (0 = auto)
	MaxParallelFiles int `json:"maxParallelFiles,omitempty" toml:"maxParallelFiles,omitempty"`
}

// LintConfig contains linting configuration
type LintConfig struct {
	// Rules maps rule names to severity: "off", "info", "warning", "error"
	Rules map[string]string `json:"rules,omitempty" toml:"rules,omitempty"`

	// IgnorePatterns is a list of file patterns to skip linting entirely
	IgnorePatterns []string `json:"ignorePatterns,omitempty" toml:"ignorePatterns,omitempty"`

	// PolicyDir holds extra .rego policies in package amsgen.custom
	PolicyDir string `json:"policyDir,omitempty" toml:"policyDir,omitempty"`
}

// CacheConfig controls incremental build cache behavior
type CacheConfig struct {
	// Enabled turns on incremental cache usage
	Enabled *bool `json:"enabled,omitempty" toml:"enabled,omitempty"`

	// Dir is the cache directory (relative to project root if not absolute)
	Dir string `json:"dir,omitempty" toml:"dir,omitempty"`
}

// ObservabilityConfig contains the optional outputs of a run
type ObservabilityConfig struct {
	// TimingFile receives one JSON line per compile phase
	TimingFile string `json:"timingFile,omitempty" toml:"timingFile,omitempty"`

	// MetricsFile receives Prometheus metrics in the text exposition format
	MetricsFile string `json:"metricsFile,omitempty" toml:"metricsFile,omitempty"`

	// Trace prints the OpenTelemetry spans of the run to stderr
	Trace bool `json:"trace,omitempty" toml:"trace,omitempty"`
}

// DumpConfig selects the compiler phases dumped next to the output
type DumpConfig struct {
	Tokens   bool `json:"tokens,omitempty" toml:"tokens,omitempty"`
	RPN      bool `json:"rpn,omitempty" toml:"rpn,omitempty"`
	Deps     bool `json:"deps,omitempty" toml:"deps,omitempty"`
	Programs bool `json:"programs,omitempty" toml:"programs,omitempty"`
}

const (
	defaultPackage  = "models"
	defaultOutDir   = "models"
	defaultCacheDir = ".amsgen_cache"
)

var defaultFiles = []string{"*.va", "*.vams", "**/*.va", "**/*.vams"}

// DefaultConfig returns a sensible default configuration
func DefaultConfig() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

func boolPtr(v bool) *bool {
	return &v
}

// configNames are looked up in every search directory, in order
var configNames = []string{"amsgen.json", ".amsgen.json", "amsgen.yaml", "amsgen.yml", "amsgen.toml"}

// Load finds and loads the configuration file
// Search order:
//  1. ./amsgen.json, ./.amsgen.json, ./amsgen.yaml, ./amsgen.toml
//  2. the same names in rootPath (if different from cwd)
//  3. ~/.config/amsgen/config.json
//
// Returns DefaultConfig if no config file is found
func Load(rootPath string) (*Config, error) {
	path, ok := Find(rootPath)
	if !ok {
		return DefaultConfig(), nil
	}
	return LoadFile(path)
}

// Find returns the configuration file Load would read
func Find(rootPath string) (string, bool) {
	cwd, _ := os.Getwd()

	var searchPaths []string
	for _, name := range configNames {
		searchPaths = append(searchPaths, filepath.Join(cwd, name))
	}

	if info, err := os.Stat(rootPath); err == nil && info.IsDir() {
		absRoot, _ := filepath.Abs(rootPath)
		if absRoot != cwd {
			for _, name := range configNames {
				searchPaths = append(searchPaths, filepath.Join(rootPath, name))
			}
		}
	}

	if home, err := os.UserHomeDir(); err == nil {
		searchPaths = append(searchPaths, filepath.Join(home, ".config", "amsgen", "config.json"))
	}

	for _, path := range searchPaths {
		if _, err := os.Stat(path); err == nil {
			return path, true
		}
	}
	return "", false
}

// LoadFile loads configuration from a specific file; the format follows
// the extension and defaults to JSON
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	var cfg Config
	switch format(path) {
	case "yaml":
		err = yaml.UnmarshalStrict(data, &cfg)
	case "toml":
		err = toml.Unmarshal(data, &cfg)
	default:
		err = json.Unmarshal(data, &cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("parsing config file %s: %w", path, err)
	}

	cfg.applyDefaults()
	if err := cfg.Check(); err != nil {
		return nil, fmt.Errorf("config file %s: %w", path, err)
	}
	return &cfg, nil
}

func format(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return "yaml"
	case ".toml":
		return "toml"
	}
	return "json"
}

// applyDefaults fills in missing configuration with defaults
func (c *Config) applyDefaults() {
	if len(c.Files) == 0 {
		c.Files = append([]string(nil), defaultFiles...)
	}
	if c.Output.Package == "" {
		c.Output.Package = defaultPackage
	}
	if c.Output.Dir == "" {
		c.Output.Dir = defaultOutDir
	}
	if c.Compile.ShortCircuit == nil {
		c.Compile.ShortCircuit = boolPtr(true)
	}
	if c.Compile.LoopLimit == 0 {
		c.Compile.LoopLimit = module.DefaultOptions().LoopLimit
	}
	if c.Lint.Rules == nil {
		c.Lint.Rules = make(map[string]string)
	}
	if c.Cache.Dir == "" {
		c.Cache.Dir = defaultCacheDir
	}
	if c.Cache.Enabled == nil {
		c.Cache.Enabled = boolPtr(true)
	}
}

// Check reports settings that cannot work
func (c *Config) Check() error {
	for _, pattern := range append(append(append([]string{}, c.Files...), c.Exclude...), c.Lint.IgnorePatterns...) {
		if _, err := glob.Compile(pattern, '/'); err != nil {
			return fmt.Errorf("bad file pattern %q: %w", pattern, err)
		}
	}
	for rule, sev := range c.Lint.Rules {
		switch sev {
		case "off", "info", "warning", "error":
		default:
			return fmt.Errorf("rule %s: unknown severity %q", rule, sev)
		}
	}
	if c.Compile.MaxParallelFiles < 0 || c.Compile.FixpointLimit < 0 || c.Compile.LoopLimit < 0 {
		return fmt.Errorf("compile limits must not be negative")
	}
	return nil
}

// Save writes the configuration to a file in the format its extension names
func (c *Config) Save(path string) error {
	var (
		data []byte
		err  error
	)
	switch format(path) {
	case "yaml":
		data, err = yaml.Marshal(c)
	case "toml":
		data, err = toml.Marshal(c)
	default:
		data, err = json.MarshalIndent(c, "", "  ")
	}
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	return nil
}

// ModuleOptions returns the compiler options the configuration selects
func (c *Config) ModuleOptions() module.Options {
	opts := module.DefaultOptions()
	if c.Compile.ShortCircuit != nil {
		opts.ShortCircuit = *c.Compile.ShortCircuit
	}
	opts.FixpointLimit = c.Compile.FixpointLimit
	if c.Compile.LoopLimit > 0 {
		opts.LoopLimit = c.Compile.LoopLimit
	}
	return opts
}

// CacheEnabled reports whether the incremental cache is used
func (c *Config) CacheEnabled() bool {
	return c.Cache.Enabled == nil || *c.Cache.Enabled
}

// CacheDir returns the cache directory resolved against rootPath
func (c *Config) CacheDir(rootPath string) string {
	if filepath.IsAbs(c.Cache.Dir) {
		return c.Cache.Dir
	}
	return filepath.Join(rootPath, c.Cache.Dir)
}

// OutputDir returns the output directory resolved against rootPath
func (c *Config) OutputDir(rootPath string) string {
	if filepath.IsAbs(c.Output.Dir) {
		return c.Output.Dir
	}
	return filepath.Join(rootPath, c.Output.Dir)
}

// GetRuleSeverity returns the severity for a rule, or the default if not configured
func (c *Config) GetRuleSeverity(rule string, defaultSeverity string) string {
	if severity, ok := c.Lint.Rules[rule]; ok {
		return severity
	}
	return defaultSeverity
}

// IsRuleEnabled returns true if the rule is not set to "off"
func (c *Config) IsRuleEnabled(rule string) bool {
	if severity, ok := c.Lint.Rules[rule]; ok {
		return severity != "off"
	}
	return true // enabled by default
}

// ShouldIgnoreFile checks if a file should be skipped by the linter
func (c *Config) ShouldIgnoreFile(filePath string) bool {
	slashed := filepath.ToSlash(filePath)
	for _, pattern := range c.Lint.IgnorePatterns {
		g, err := glob.Compile(pattern, '/')
		if err != nil {
			continue
		}
		if g.Match(slashed) || g.Match(filepath.Base(filePath)) {
			return true
		}
	}
	return false
}
