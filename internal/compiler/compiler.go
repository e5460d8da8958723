// Package compiler is the build driver: it finds the analog sources of a
// project, compiles them in parallel, writes the generated Go models and
// lints the combined compile facts.
package compiler

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/robert-at-pretension-io/amsgen/internal/config"
	"github.com/robert-at-pretension-io/amsgen/internal/diag"
	"github.com/robert-at-pretension-io/amsgen/internal/emit"
	"github.com/robert-at-pretension-io/amsgen/internal/facts"
	"github.com/robert-at-pretension-io/amsgen/internal/module"
	"github.com/robert-at-pretension-io/amsgen/internal/policy"
	"github.com/robert-at-pretension-io/amsgen/internal/validator"
)

// Compiler runs builds with one configuration
type Compiler struct {
	// Config is loaded from the project root when nil
	Config *config.Config

	Log    logrus.FieldLogger
	Tracer trace.Tracer

	// DryRun compiles and lints without writing any file besides the cache
	DryRun bool
}

// Result is the structured result of a build
type Result struct {
	Files       []FileResult       `json:"files"`
	Diagnostics []diag.Diagnostic  `json:"diagnostics"`
	Violations  []policy.Violation `json:"violations"`
	Outputs     []string           `json:"outputs"`
	Summary     Summary            `json:"summary"`

	Tables facts.Tables `json:"-"`

	graph dependentsGraph
}

// FileResult is the outcome for one source file
type FileResult struct {
	Path     string   `json:"path"`
	Output   string   `json:"output,omitempty"`
	Modules  []string `json:"modules"`
	Includes []string `json:"includes,omitempty"`
	Cached   bool     `json:"cached"`
	Errors   int      `json:"errors"`
	Warnings int      `json:"warnings"`
}

// Summary provides aggregate counts
type Summary struct {
	Files     int            `json:"files"`
	CacheHits int            `json:"cache_hits"`
	Modules   int            `json:"modules"`
	Failed    int            `json:"failed_modules"`
	Errors    int            `json:"errors"`
	Warnings  int            `json:"warnings"`
	Lint      policy.Summary `json:"lint"`
}

// Failed reports whether the build has errors or error-level violations
func (r *Result) Failed() bool {
	return r.Summary.Errors > 0 || r.Summary.Lint.Errors > 0
}

// Impact lists the sources that include file, directly or not
func (r *Result) Impact(file string) ImpactReport {
	return computeImpact(filepath.ToSlash(file), r.graph)
}

// New creates a compiler for cfg
func New(cfg *config.Config) *Compiler {
	return &Compiler{Config: cfg}
}

// unit is one source file on its way through a build
type unit struct {
	cachedUnit
	File     string
	Rel      string
	Hash     string
	Includes []string
	Cached   bool
	Dump     []byte
	Output   string
}

// run is the state shared by the phases of one build
type run struct {
	cfg       *config.Config
	root      string
	opts      module.Options
	log       logrus.FieldLogger
	tracer    trace.Tracer
	timing    *timeline
	metrics   *metrics
	cache     *unitCache
	contracts *validator.ContractValidator
}

func (r *run) phase(ctx context.Context, name string) (context.Context, func(error)) {
	start := time.Now()
	ctx, span := r.tracer.Start(ctx, "amsgen."+name)
	return ctx, func(err error) {
		status := "ok"
		if err != nil {
			status = "error"
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
		r.timing.stage(name, status, start)
		r.metrics.observePhase(name, start)
		r.log.WithFields(logrus.Fields{"phase": name, "elapsed": time.Since(start).String()}).Debug("phase done")
	}
}

// display is the path shown to users and stored in the facts. Relative
// paths already are.
func (r *run) display(path string) string {
	if !filepath.IsAbs(path) {
		return filepath.ToSlash(path)
	}
	if rel, err := filepath.Rel(r.root, path); err == nil && !strings.HasPrefix(rel, "..") {
		return filepath.ToSlash(rel)
	}
	return filepath.ToSlash(path)
}

// Run builds every source under rootPath, or the single file rootPath
func (c *Compiler) Run(ctx context.Context, rootPath string) (res *Result, err error) {
	runStart := time.Now()
	root, single, err := splitRoot(rootPath)
	if err != nil {
		return nil, err
	}
	if c.Config == nil {
		cfg, err := config.Load(root)
		if err != nil {
			return nil, fmt.Errorf("load config: %w", err)
		}
		c.Config = cfg
	}

	r := &run{
		cfg:     c.Config,
		root:    root,
		opts:    c.Config.ModuleOptions(),
		log:     c.Log,
		tracer:  c.Tracer,
		metrics: newMetrics(),
	}
	if r.log == nil {
		r.log = logrus.StandardLogger()
	}
	if r.tracer == nil {
		r.tracer = otel.Tracer(tracerName)
	}
	r.timing = openTimeline(runStart, resolveTimingPath(c.Config.Observability.TimingFile))
	if err := r.timing.err; err != nil {
		r.log.WithError(err).Warn("timing output disabled")
	}
	defer r.timing.Close()

	ctx, span := r.tracer.Start(ctx, "amsgen.run", trace.WithAttributes(attribute.String("root", root)))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
		r.timing.stage("total", "", runStart)
	}()

	if r.contracts, err = validator.NewContractValidator(); err != nil {
		return nil, err
	}

	// 1. Find the sources
	_, done := r.phase(ctx, "scan")
	var files []string
	if single != "" {
		files = []string{single}
	} else {
		files, err = c.Config.ResolveFiles(root)
	}
	done(err)
	if err != nil {
		return nil, fmt.Errorf("scanning files: %w", err)
	}
	r.log.WithField("root", root).Infof("Found %d source files", len(files))

	// 2. Compile every file, reusing cached units
	if c.Config.CacheEnabled() {
		r.cache = newUnitCache(c.Config.CacheDir(root), cacheVersion(r.opts, c.Config.Output.Package))
		if err := r.cache.Load(); err != nil {
			r.log.WithError(err).Warn("cache disabled")
			r.cache = nil
		}
	}
	cctx, done := r.phase(ctx, "compile")
	units, err := r.compileAll(cctx, files)
	done(err)
	if err != nil {
		return nil, err
	}
	r.checkTypeNames(units)

	res = &Result{
		Files:       []FileResult{},
		Diagnostics: []diag.Diagnostic{},
		Violations:  []policy.Violation{},
		Outputs:     []string{},
	}
	includes := make(map[string][]string)
	var parts []facts.Tables
	for _, u := range units {
		parts = append(parts, u.Tables)
		includes[u.Rel] = u.Includes
		res.Diagnostics = append(res.Diagnostics, u.Diagnostics...)
	}
	res.graph = buildDependentsGraph(includes)
	res.Tables = facts.Merge(parts...)
	r.metrics.observeTables(res.Tables)

	// 3. Write the generated code
	if !c.DryRun {
		_, done = r.phase(ctx, "write")
		err = r.writeOutputs(units)
		done(err)
		if err != nil {
			return nil, err
		}
	}

	// 4. Check the facts and lint them
	_, done = r.phase(ctx, "validate")
	err = validateTables(res.Tables)
	done(err)
	if err != nil {
		return nil, err
	}
	lctx, done := r.phase(ctx, "lint")
	lint, err := r.lint(lctx, res.Tables)
	done(err)
	if err != nil {
		return nil, err
	}
	res.Violations = lint.Violations
	for _, v := range lint.Violations {
		r.metrics.violations.WithLabelValues(v.Rule).Inc()
	}

	res.summarize(units, lint.Summary)

	if r.cache != nil {
		keep := make(map[string]bool)
		for _, f := range files {
			keep[f] = true
		}
		if single == "" {
			r.cache.Prune(keep)
		}
		if err := r.cache.Save(); err != nil {
			r.log.WithError(err).Warn("cache index not saved")
		}
		if err := saveSnapshot(r.cache.dir, res.Tables); err != nil {
			r.log.WithError(err).Warn("fact snapshot not saved")
		}
	}
	if path := c.Config.Observability.MetricsFile; path != "" {
		if err := r.metrics.write(path); err != nil {
			r.log.WithError(err).Warn("metrics not written")
		}
	}
	return res, nil
}

func splitRoot(rootPath string) (root, single string, err error) {
	abs, err := filepath.Abs(rootPath)
	if err != nil {
		return "", "", fmt.Errorf("resolve %s: %w", rootPath, err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return "", "", fmt.Errorf("stat %s: %w", rootPath, err)
	}
	if info.IsDir() {
		return abs, "", nil
	}
	return filepath.Dir(abs), abs, nil
}

func (r *run) compileAll(ctx context.Context, files []string) ([]*unit, error) {
	limit := r.cfg.Compile.MaxParallelFiles
	if limit <= 0 {
		limit = runtime.NumCPU()
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)

	units := make([]*unit, len(files))
	for i, f := range files {
		i, f := i, f
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			u, err := r.compileFile(gctx, f)
			if err != nil {
				return fmt.Errorf("%s: %w", r.display(f), err)
			}
			units[i] = u
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return units, nil
}

func (r *run) compileFile(ctx context.Context, file string) (*unit, error) {
	start := time.Now()
	u := &unit{File: file, Rel: r.display(file)}
	log := r.log.WithField("file", u.Rel)
	_, span := r.tracer.Start(ctx, "amsgen.compile_file", trace.WithAttributes(attribute.String("file", u.Rel)))
	defer span.End()

	data, err := os.ReadFile(file)
	if err != nil {
		return nil, err
	}
	u.Hash = hashBytes(data)
	x := expandIncludes(file, string(data), func(from, name string) (string, error) {
		return r.cfg.FindInclude(r.root, from, name)
	})
	incHashes := make(map[string]string, len(x.Includes))
	for _, inc := range x.Includes {
		h, err := hashFile(inc)
		if err != nil {
			return nil, err
		}
		incHashes[inc] = h
		u.Includes = append(u.Includes, r.display(inc))
	}

	if r.cache != nil {
		cu, ok, err := r.cache.Get(file, u.Hash, incHashes)
		if err != nil {
			log.WithError(err).Warn("cache read failed")
		}
		if ok {
			u.cachedUnit, u.Cached = cu, true
			span.SetAttributes(attribute.Bool("cache_hit", true))
			r.metrics.files.WithLabelValues("cache_hit").Inc()
			r.timing.file(u, start)
			log.Debug("cache hit")
			return u, nil
		}
	}
	log.WithField("source", x.String()).Debug("compiling")

	mods, list := module.Compile(u.Rel, x.Text, r.opts)
	// Failed modules are dropped without teardown: error recovery may
	// leave their reference counts unbalanced.
	defer func() {
		for _, m := range mods {
			if !m.Failed() {
				m.Close()
			}
		}
	}()
	diags := append(x.remapDiagnostics(list.Items()), x.Diags.Items()...)

	var healthy []*module.Module
	for _, m := range mods {
		u.Modules = append(u.Modules, m.Name)
		if m.Failed() {
			log.WithField("module", m.Name).Info("module has errors, no code generated")
			continue
		}
		if err := r.contracts.Validate(validator.ContractOf(m)); err != nil {
			return nil, fmt.Errorf("module %s: %w", m.Name, err)
		}
		healthy = append(healthy, m)
	}
	if len(healthy) > 0 {
		code, err := emit.File(healthy, emit.Options{Package: r.cfg.Output.Package, Source: u.Rel})
		if err != nil {
			diags = append(diags, diag.Diagnostic{
				Pos:      diag.Pos{File: u.Rel, Line: 1, Col: 1},
				Severity: diag.Error,
				Kind:     diag.KindDriver,
				Message:  err.Error(),
			})
		} else {
			u.Code = code
		}
	}
	for i := range diags {
		if diags[i].Pos.File != "" {
			diags[i].Pos.File = r.display(diags[i].Pos.File)
		}
	}
	u.Diagnostics = diags

	includes := append([]string{}, u.Includes...)
	u.Tables = facts.BuildTables([]facts.FileRow{{Path: u.Rel, Hash: u.Hash, Includes: includes}}, mods, diags)
	x.remapTables(&u.Tables)

	if d := r.cfg.Dump; d.Tokens || d.RPN || d.Deps || d.Programs {
		var b bytes.Buffer
		if err := Dump(&b, u.Rel, x.Text, mods, d); err != nil {
			return nil, err
		}
		u.Dump = b.Bytes()
	}

	if r.cache != nil {
		if err := r.cache.Put(file, u.Hash, incHashes, u.cachedUnit); err != nil {
			log.WithError(err).Warn("cache write failed")
		}
	}
	r.metrics.files.WithLabelValues("compiled").Inc()
	r.timing.file(u, start)
	return u, nil
}

// checkTypeNames keeps the first file defining a generated type name; later
// definitions are errors and their files generate nothing
func (r *run) checkTypeNames(units []*unit) {
	owner := make(map[string]string)
	for _, u := range units {
		if u.Code == nil {
			continue
		}
		var clash []string
		for _, row := range u.Tables.Modules {
			if row.Failed {
				continue
			}
			name := emit.TypeName(row.Name)
			if prev, ok := owner[name]; ok && prev != u.Rel {
				clash = append(clash, fmt.Sprintf("module %s generates type %s, already generated from %s", row.Name, name, prev))
			}
		}
		if len(clash) > 0 {
			for _, msg := range clash {
				d := diag.Diagnostic{Pos: diag.Pos{File: u.Rel, Line: 1, Col: 1}, Severity: diag.Error, Kind: diag.KindDriver, Message: msg}
				u.Diagnostics = append(u.Diagnostics, d)
				u.Tables.Diagnostics = append(u.Tables.Diagnostics, facts.DiagnosticRow{
					File: d.Pos.File, Line: 1, Col: 1, Severity: d.Severity.String(), Kind: string(d.Kind), Message: msg,
				})
			}
			u.Code = nil
			continue
		}
		for _, row := range u.Tables.Modules {
			if !row.Failed {
				owner[emit.TypeName(row.Name)] = u.Rel
			}
		}
	}
}

// outputName maps a source path to its generated file name
func outputName(rel string) string {
	stem := strings.TrimSuffix(rel, filepath.Ext(rel))
	var b strings.Builder
	for _, ch := range strings.ToLower(stem) {
		switch {
		case ch >= 'a' && ch <= 'z', ch >= '0' && ch <= '9':
			b.WriteRune(ch)
		default:
			b.WriteByte('_')
		}
	}
	name := b.String()
	if strings.HasSuffix(name, "_test") {
		name += "_va"
	}
	return name + ".go"
}

const generatedHeader = "// Code generated by amsgen"

func (r *run) writeOutputs(units []*unit) error {
	outDir := r.cfg.OutputDir(r.root)
	written := make(map[string]bool)
	for _, u := range units {
		if u.Dump != nil {
			path := filepath.Join(outDir, strings.TrimSuffix(outputName(u.Rel), ".go")+".dump")
			if err := writeFileAtomic(path, u.Dump); err != nil {
				return err
			}
		}
		if u.Code == nil {
			continue
		}
		path := filepath.Join(outDir, outputName(u.Rel))
		written[path] = true
		u.Output = r.display(path)
		if old, err := os.ReadFile(path); err == nil && bytes.Equal(old, u.Code) {
			continue
		}
		if err := writeFileAtomic(path, u.Code); err != nil {
			return fmt.Errorf("writing %s: %w", path, err)
		}
		r.log.WithField("file", u.Output).Info("wrote model")
	}
	return pruneStale(outDir, written)
}

// pruneStale deletes generated files no source produced this time.
// Files without the generated header are never touched.
func pruneStale(dir string, keep map[string]bool) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	for _, e := range entries {
		path := filepath.Join(dir, e.Name())
		if e.IsDir() || filepath.Ext(path) != ".go" || keep[path] {
			continue
		}
		data, err := os.ReadFile(path)
		if err != nil || !bytes.HasPrefix(data, []byte(generatedHeader)) {
			continue
		}
		if err := os.Remove(path); err != nil {
			return fmt.Errorf("removing stale %s: %w", path, err)
		}
	}
	return nil
}

func validateTables(t facts.Tables) error {
	v, err := validator.NewFactsValidator()
	if err != nil {
		return err
	}
	if err := v.Validate(t); err != nil {
		return fmt.Errorf("compile facts do not match their schema: %w", err)
	}
	return nil
}

func (r *run) lint(ctx context.Context, tables facts.Tables) (*policy.Result, error) {
	keep := make(map[string]bool)
	for _, f := range tables.Files {
		if !r.cfg.ShouldIgnoreFile(f.Path) {
			keep[f.Path] = true
		}
	}
	tables = facts.FilterTablesByFiles(tables, keep)

	policyDir := r.cfg.Lint.PolicyDir
	if policyDir != "" && !filepath.IsAbs(policyDir) {
		policyDir = filepath.Join(r.root, policyDir)
	}
	engine, err := policy.New(ctx, policyDir)
	if err != nil {
		return nil, fmt.Errorf("loading policies: %w", err)
	}

	var result *policy.Result
	th, err := tablesHash(tables)
	if err != nil {
		return nil, err
	}
	if r.cache != nil {
		entry, err := loadPolicyCache(r.cache.dir)
		if err != nil {
			r.log.WithError(err).Warn("policy cache unreadable")
		}
		if policyCacheValid(entry, engine.RulesHash(), th) {
			result = &entry.Result
			r.log.Debug("policy cache hit")
		}
	}
	if result == nil {
		if result, err = engine.Evaluate(ctx, tables); err != nil {
			return nil, err
		}
		if r.cache != nil {
			entry := policyCacheEntry{Version: policyCacheVersion, RulesHash: engine.RulesHash(), TablesHash: th, Result: *result}
			if err := savePolicyCache(r.cache.dir, entry); err != nil {
				r.log.WithError(err).Warn("policy cache not saved")
			}
		}
	}

	out := &policy.Result{Violations: append([]policy.Violation{}, result.Violations...), Summary: result.Summary}
	out.Apply(r.cfg.GetRuleSeverity)

	ov, err := validator.NewOutputValidator()
	if err != nil {
		return nil, err
	}
	if err := ov.Validate(out); err != nil {
		return nil, fmt.Errorf("lint output does not match its schema: %w", err)
	}
	return out, nil
}

func (res *Result) summarize(units []*unit, lint policy.Summary) {
	res.Summary = Summary{Files: len(units), Lint: lint}
	for _, u := range units {
		fr := FileResult{Path: u.Rel, Output: u.Output, Modules: u.Modules, Includes: u.Includes, Cached: u.Cached}
		if fr.Modules == nil {
			fr.Modules = []string{}
		}
		for _, d := range u.Diagnostics {
			switch d.Severity {
			case diag.Error:
				fr.Errors++
			case diag.Warning:
				fr.Warnings++
			}
		}
		if u.Cached {
			res.Summary.CacheHits++
		}
		if u.Output != "" {
			res.Outputs = append(res.Outputs, u.Output)
		}
		res.Summary.Errors += fr.Errors
		res.Summary.Warnings += fr.Warnings
		res.Files = append(res.Files, fr)
	}
	for _, m := range res.Tables.Modules {
		res.Summary.Modules++
		if m.Failed {
			res.Summary.Failed++
		}
	}
	sort.SliceStable(res.Diagnostics, func(i, j int) bool {
		a, b := res.Diagnostics[i].Pos, res.Diagnostics[j].Pos
		if a.File != b.File {
			return a.File < b.File
		}
		if a.Line != b.Line {
			return a.Line < b.Line
		}
		return a.Col < b.Col
	})
}
