// Command amsgen compiles analog behavioural models into Go.
//
// The build runs in phases:
//  1. sources are found from the configured globs
//  2. each file has its `include lines expanded and is compiled
//  3. healthy modules are emitted as Go, one file per source
//  4. the compile facts are checked against their CUE schema
//  5. the OPA rules lint the facts
//
// Diagnostics go to stderr; with -json the whole result goes to stdout.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"

	"github.com/robert-at-pretension-io/amsgen/internal/compiler"
	"github.com/robert-at-pretension-io/amsgen/internal/config"
	"github.com/robert-at-pretension-io/amsgen/internal/diag"
	"github.com/robert-at-pretension-io/amsgen/internal/policy"
)

const (
	exitOK     = 0
	exitFailed = 1
	exitUsage  = 2
)

func main() {
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "init":
			os.Exit(runInit(os.Args[2:]))
		case "-h", "--help", "help":
			printUsage()
			return
		}
	}
	os.Exit(runCompile(os.Args[1:]))
}

func printUsage() {
	fmt.Fprintln(os.Stderr, `Usage: amsgen [options] [path]
       amsgen init [-format json|yaml|toml]

Compiles every .va/.vams file under path (default ".") or the single file
path into Go models.

Options:
  -c, -config file   use this config file instead of searching for one
  -json              print the build result as JSON on stdout
  -v                 verbose logging
  -trace             log a span for every phase and file
  -dry-run           compile and lint without writing models
  -no-cache          ignore and do not update the build cache
  -relint            drop the cached lint result before the run
  -impact file       list the sources that include file

Configuration is searched in:
  1. ./amsgen.json, ./.amsgen.json, ./amsgen.yaml, ./amsgen.yml, ./amsgen.toml
  2. the same names in path
  3. ~/.config/amsgen/config.json`)
}

func runInit(args []string) int {
	fs := flag.NewFlagSet("init", flag.ContinueOnError)
	format := fs.String("format", "json", "config format: json, yaml or toml")
	force := fs.Bool("force", false, "overwrite an existing config")
	if err := fs.Parse(args); err != nil {
		return exitUsage
	}
	var configPath string
	switch *format {
	case "json":
		configPath = "amsgen.json"
	case "yaml":
		configPath = "amsgen.yaml"
	case "toml":
		configPath = "amsgen.toml"
	default:
		fmt.Fprintf(os.Stderr, "Error: unknown format %q\n", *format)
		return exitUsage
	}

	if _, err := os.Stat(configPath); err == nil && !*force {
		fmt.Printf("Config file %s already exists. Overwrite? [y/N]: ", configPath)
		var response string
		fmt.Scanln(&response)
		if response != "y" && response != "Y" {
			fmt.Println("Aborted.")
			return exitOK
		}
	}

	if err := config.DefaultConfig().Save(configPath); err != nil {
		fmt.Fprintf(os.Stderr, "Error creating config: %v\n", err)
		return exitFailed
	}
	fmt.Printf("Created %s\n", configPath)
	fmt.Println("\nEdit this file to configure:")
	fmt.Println("  - source and include globs")
	fmt.Println("  - the generated package and directory")
	fmt.Println("  - lint rule severities")
	return exitOK
}

func runCompile(args []string) int {
	fs := flag.NewFlagSet("amsgen", flag.ContinueOnError)
	fs.Usage = printUsage
	var configPath string
	fs.StringVar(&configPath, "config", "", "config file")
	fs.StringVar(&configPath, "c", "", "config file (shorthand)")
	jsonOut := fs.Bool("json", false, "print the result as JSON")
	verbose := fs.Bool("v", false, "verbose logging")
	traceRun := fs.Bool("trace", false, "log spans")
	dryRun := fs.Bool("dry-run", false, "do not write models")
	noCache := fs.Bool("no-cache", false, "disable the build cache")
	relint := fs.Bool("relint", false, "drop the cached lint result")
	impact := fs.String("impact", "", "list the dependents of a file")
	if err := fs.Parse(args); err != nil {
		return exitUsage
	}
	path := "."
	if fs.NArg() > 0 {
		path = fs.Arg(0)
	}

	log := logrus.New()
	log.SetOutput(os.Stderr)
	log.SetFormatter(&logrus.TextFormatter{DisableTimestamp: true})
	log.SetLevel(logrus.WarnLevel)
	if *verbose {
		log.SetLevel(logrus.DebugLevel)
	}

	root := projectRoot(path)
	cfg, err := loadConfig(configPath, root)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return exitUsage
	}
	if *noCache {
		disabled := false
		cfg.Cache.Enabled = &disabled
	}
	if *relint {
		if err := compiler.ClearPolicyCache(cfg.CacheDir(root)); err != nil {
			log.WithError(err).Warn("policy cache not cleared")
		}
	}

	c := compiler.New(cfg)
	c.Log = log
	c.DryRun = *dryRun
	if *traceRun || cfg.Observability.Trace {
		if log.GetLevel() < logrus.InfoLevel {
			log.SetLevel(logrus.InfoLevel)
		}
		tp := compiler.NewTracerProvider(log)
		defer func() { _ = tp.Shutdown(context.Background()) }()
		c.Tracer = tp.Tracer("amsgen")
	}

	res, err := c.Run(context.Background(), path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return exitFailed
	}

	if *jsonOut {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(res); err != nil {
			fmt.Fprintf(os.Stderr, "Error encoding result: %v\n", err)
			return exitFailed
		}
	} else {
		report(res)
	}
	if *impact != "" {
		rel := *impact
		if abs, err := filepath.Abs(rel); err == nil {
			if r, err := filepath.Rel(root, abs); err == nil {
				rel = r
			}
		}
		fmt.Fprintf(os.Stderr, "\nImpact of %s:\n%s", rel, res.Impact(rel))
	}

	if res.Failed() {
		return exitFailed
	}
	return exitOK
}

// projectRoot is path itself for a directory and its parent for a file
func projectRoot(path string) string {
	abs, err := filepath.Abs(path)
	if err != nil {
		return path
	}
	if info, err := os.Stat(abs); err == nil && !info.IsDir() {
		return filepath.Dir(abs)
	}
	return abs
}

func loadConfig(configPath, root string) (*config.Config, error) {
	if configPath != "" {
		cfg, err := config.LoadFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("loading config %s: %w", configPath, err)
		}
		return cfg, nil
	}
	cfg, err := config.Load(root)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	return cfg, nil
}

var severities = map[string]diag.Severity{
	"error":   diag.Error,
	"warning": diag.Warning,
	"info":    diag.Note,
}

func report(res *compiler.Result) {
	r := diag.NewRenderer(os.Stderr)
	for _, d := range res.Diagnostics {
		_ = r.Render(os.Stderr, d)
	}
	for _, v := range res.Violations {
		_ = r.Render(os.Stderr, violationDiagnostic(v))
	}

	s := res.Summary
	fmt.Fprintf(os.Stderr, "\n%d files (%d cached), %d modules, %d failed\n", s.Files, s.CacheHits, s.Modules, s.Failed)
	fmt.Fprintf(os.Stderr, "%d errors, %d warnings; lint: %d errors, %d warnings, %d info\n",
		s.Errors, s.Warnings, s.Lint.Errors, s.Lint.Warnings, s.Lint.Info)
	for _, out := range res.Outputs {
		fmt.Fprintf(os.Stderr, "  wrote %s\n", out)
	}
}

func violationDiagnostic(v policy.Violation) diag.Diagnostic {
	d := diag.Diagnostic{
		Pos:      diag.Pos{File: v.File, Line: v.Line, Col: 1},
		Severity: severities[v.Severity],
		Kind:     diag.Kind("lint"),
		Message:  fmt.Sprintf("[%s] %s", v.Rule, v.Message),
	}
	if v.Module != "" {
		d.Context = "module " + v.Module
	}
	return d
}
