package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/robert-at-pretension-io/amsgen/internal/compiler"
	"github.com/robert-at-pretension-io/amsgen/internal/config"
	"github.com/robert-at-pretension-io/amsgen/internal/facts"
)

func main() {
	output := flag.String("output", "", "write facts JSON to file (default: stdout)")
	flag.StringVar(output, "o", "", "write facts JSON to file (shorthand)")
	deltaFrom := flag.String("delta-from", "", "previous facts JSON to compute delta from")
	deltaCache := flag.Bool("delta-cache", false, "compute the delta against the snapshot of the last build")
	deltaOut := flag.String("delta-out", "", "write delta JSON to file")
	only := flag.String("files", "", "comma-separated sources to restrict the delta to")
	flag.Parse()

	args := flag.Args()
	if len(args) < 1 {
		fmt.Fprintln(os.Stderr, "Usage: amsgen-facts [--output file] [--delta-from prev.json | --delta-cache] [--delta-out delta.json] [--files a.va,b.va] <path>")
		os.Exit(1)
	}
	if (*deltaFrom != "" || *deltaCache) != (*deltaOut != "") {
		fmt.Fprintln(os.Stderr, "Error: --delta-out needs --delta-from or --delta-cache")
		os.Exit(1)
	}
	if *deltaFrom != "" && *deltaCache {
		fmt.Fprintln(os.Stderr, "Error: --delta-from and --delta-cache are exclusive")
		os.Exit(1)
	}

	path := args[0]
	root := path
	if info, err := os.Stat(path); err == nil && !info.IsDir() {
		root = filepath.Dir(path)
	}
	cfg, err := config.Load(root)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}

	// The snapshot is replaced by the run, so read it first
	var prev facts.Tables
	if *deltaCache {
		var ok bool
		prev, ok, err = compiler.LoadSnapshot(cfg.CacheDir(root))
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error reading snapshot: %v\n", err)
			os.Exit(1)
		}
		if !ok {
			fmt.Fprintln(os.Stderr, "No snapshot in the cache; the delta holds every row")
		}
	}

	log := logrus.New()
	log.SetOutput(io.Discard)
	c := compiler.New(cfg)
	c.Log = log
	c.DryRun = true
	res, err := c.Run(context.Background(), path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	tables := res.Tables

	if *output != "" {
		if err := writeJSON(*output, tables); err != nil {
			fmt.Fprintf(os.Stderr, "Error writing facts: %v\n", err)
			os.Exit(1)
		}
	} else {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(tables); err != nil {
			fmt.Fprintf(os.Stderr, "Error encoding facts: %v\n", err)
			os.Exit(1)
		}
	}

	if *deltaOut == "" {
		return
	}
	if *deltaFrom != "" {
		prev, err = readTables(*deltaFrom)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error reading delta-from: %v\n", err)
			os.Exit(1)
		}
	}
	delta := facts.ComputeDelta(prev, tables)
	if *only != "" {
		keep := make(map[string]bool)
		for _, f := range strings.Split(*only, ",") {
			keep[filepath.ToSlash(strings.TrimSpace(f))] = true
		}
		delta = facts.FilterDeltaByFiles(delta, keep)
	}
	if err := writeJSON(*deltaOut, delta); err != nil {
		fmt.Fprintf(os.Stderr, "Error writing delta: %v\n", err)
		os.Exit(1)
	}
	if delta.Empty() {
		fmt.Fprintln(os.Stderr, "No fact changes")
	}
}

func readTables(path string) (facts.Tables, error) {
	f, err := os.Open(path)
	if err != nil {
		return facts.Tables{}, err
	}
	defer func() { _ = f.Close() }()

	var tables facts.Tables
	if err := json.NewDecoder(f).Decode(&tables); err != nil {
		return facts.Tables{}, err
	}
	return tables, nil
}

func writeJSON(path string, data interface{}) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()

	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	return enc.Encode(data)
}
