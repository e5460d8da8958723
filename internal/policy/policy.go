// Package policy runs the lint rules, written in Rego, over the fact
// tables of a compile.
package policy

import (
	"context"
	"crypto/sha256"
	"embed"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"

	"github.com/open-policy-agent/opa/rego"

	"github.com/robert-at-pretension-io/amsgen/internal/facts"
)

//go:embed rules/*.rego
var rulesFS embed.FS

const (
	violationsQuery = "data.amsgen.lint.all_violations"
	summaryQuery    = "data.amsgen.lint.summary"
)

// Engine evaluates OPA policies against compile facts
type Engine struct {
	queries map[string]rego.PreparedEvalQuery
	hash    string
}

// Violation represents a policy violation
type Violation struct {
	Rule     string `json:"rule"`
	Severity string `json:"severity"`
	File     string `json:"file"`
	Line     int    `json:"line"`
	Module   string `json:"module"`
	Message  string `json:"message"`
}

// Result contains the evaluation results
type Result struct {
	Violations []Violation `json:"violations"`
	Summary    Summary     `json:"summary"`
}

// Summary provides aggregate counts
type Summary struct {
	TotalViolations int `json:"total_violations"`
	Errors          int `json:"errors"`
	Warnings        int `json:"warnings"`
	Info            int `json:"info"`
}

// New creates a policy engine from the built-in rules plus every .rego
// file in extraDir, if given
func New(ctx context.Context, extraDir string) (*Engine, error) {
	var modules []func(*rego.Rego)
	hasher := sha256.New()
	add := func(name string, content []byte) {
		modules = append(modules, rego.Module(name, string(content)))
		hasher.Write([]byte(name))
		hasher.Write([]byte{0})
		hasher.Write(content)
		hasher.Write([]byte{0})
	}

	builtin, err := fs.Glob(rulesFS, "rules/*.rego")
	if err != nil {
		return nil, fmt.Errorf("finding built-in policies: %w", err)
	}
	for _, f := range builtin {
		content, err := rulesFS.ReadFile(f)
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", f, err)
		}
		add(path.Base(f), content)
	}

	if extraDir != "" {
		files, err := filepath.Glob(filepath.Join(extraDir, "*.rego"))
		if err != nil {
			return nil, fmt.Errorf("finding policy files: %w", err)
		}
		if len(files) == 0 {
			return nil, fmt.Errorf("no policy files found in %s", extraDir)
		}
		for _, f := range files {
			content, err := os.ReadFile(f)
			if err != nil {
				return nil, fmt.Errorf("reading %s: %w", f, err)
			}
			add(f, content)
		}
	}

	engine := &Engine{
		queries: make(map[string]rego.PreparedEvalQuery),
		hash:    hex.EncodeToString(hasher.Sum(nil)),
	}
	for name, q := range map[string]string{"violations": violationsQuery, "summary": summaryQuery} {
		opts := append(append([]func(*rego.Rego){}, modules...), rego.Query(q))
		query, err := rego.New(opts...).PrepareForEval(ctx)
		if err != nil {
			return nil, fmt.Errorf("preparing %s query: %w", name, err)
		}
		engine.queries[name] = query
	}
	return engine, nil
}

// RulesHash identifies the loaded rule set
func (e *Engine) RulesHash() string { return e.hash }

// Evaluate runs the policies against the fact tables
func (e *Engine) Evaluate(ctx context.Context, input facts.Tables) (*Result, error) {
	// Convert input to map for OPA
	inputMap, err := structToMap(input)
	if err != nil {
		return nil, fmt.Errorf("converting input: %w", err)
	}

	result := &Result{Violations: []Violation{}}

	rs, err := e.queries["violations"].Eval(ctx, rego.EvalInput(inputMap))
	if err != nil {
		return nil, fmt.Errorf("evaluating violations: %w", err)
	}

	if len(rs) > 0 && len(rs[0].Expressions) > 0 {
		violations, ok := rs[0].Expressions[0].Value.([]interface{})
		if ok {
			for _, v := range violations {
				vmap, ok := v.(map[string]interface{})
				if !ok {
					continue
				}
				result.Violations = append(result.Violations, Violation{
					Rule:     getString(vmap, "rule"),
					Severity: getString(vmap, "severity"),
					File:     getString(vmap, "file"),
					Line:     getInt(vmap, "line"),
					Module:   getString(vmap, "module"),
					Message:  getString(vmap, "message"),
				})
			}
		}
	}
	sort.SliceStable(result.Violations, func(i, j int) bool {
		a, b := result.Violations[i], result.Violations[j]
		if a.File != b.File {
			return a.File < b.File
		}
		if a.Line != b.Line {
			return a.Line < b.Line
		}
		return a.Rule < b.Rule
	})

	rs, err = e.queries["summary"].Eval(ctx, rego.EvalInput(inputMap))
	if err != nil {
		return nil, fmt.Errorf("evaluating summary: %w", err)
	}

	if len(rs) > 0 && len(rs[0].Expressions) > 0 {
		smap, ok := rs[0].Expressions[0].Value.(map[string]interface{})
		if ok {
			result.Summary = Summary{
				TotalViolations: getInt(smap, "total_violations"),
				Errors:          getInt(smap, "errors"),
				Warnings:        getInt(smap, "warnings"),
				Info:            getInt(smap, "info"),
			}
		}
	}

	return result, nil
}

// Apply remaps severities, typically from the configuration's rule table,
// drops rules mapped to "off" and recounts the summary
func (r *Result) Apply(severity func(rule, def string) string) {
	kept := r.Violations[:0]
	var sum Summary
	for _, v := range r.Violations {
		v.Severity = severity(v.Rule, v.Severity)
		switch v.Severity {
		case "off":
			continue
		case "error":
			sum.Errors++
		case "warning":
			sum.Warnings++
		default:
			sum.Info++
		}
		kept = append(kept, v)
	}
	sum.TotalViolations = len(kept)
	r.Violations = kept
	r.Summary = sum
}

// Helper functions
func structToMap(v interface{}) (map[string]interface{}, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var result map[string]interface{}
	err = json.Unmarshal(data, &result)
	return result, err
}

func getString(m map[string]interface{}, key string) string {
	if v, ok := m[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

func getInt(m map[string]interface{}, key string) int {
	if v, ok := m[key]; ok {
		switch n := v.(type) {
		case int:
			return n
		case float64:
			return int(n)
		case json.Number:
			i, _ := n.Int64()
			return int(i)
		}
	}
	return 0
}
