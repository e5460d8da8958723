package e2e

import (
	"bytes"
	"encoding/json"
	"math"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/robert-at-pretension-io/amsgen/internal/emit"
	"github.com/robert-at-pretension-io/amsgen/internal/module"
	"github.com/robert-at-pretension-io/amsgen/internal/topology"
)

// linearizeMain drives a generated model: it evaluates every branch at a
// fixed operating point and differentiates the linearized branch value
// numerically with respect to every probe.
const linearizeMain = `package main

import (
	"encoding/json"
	"fmt"
	"os"
	"reflect"
)

type branchReport struct {
	Slots []float64 ` + "`json:\"slots\"`" + `
	Value float64   ` + "`json:\"value\"`" + `
	FD    []float64 ` + "`json:\"fd\"`" + `
}

func state(m *Nonlinear, i int) []float64 {
	v := reflect.ValueOf(m.S).FieldByName(fmt.Sprintf("B%d", i))
	out := make([]float64, v.Len())
	for k := range out {
		out[k] = v.Index(k).Float()
	}
	return out
}

func values(m *Nonlinear) []float64 {
	m.Eval()
	out := make([]float64, len(NonlinearBranches))
	for i, b := range NonlinearBranches {
		s := state(m, i)
		v := s[0]
		for k, d := range b.Deps {
			v += s[1+k] * m.P[d]
		}
		out[i] = v
	}
	return out
}

func main() {
	m := NewNonlinear(nil)
	m.Precalc()
	for i := range m.P {
		m.P[i] = 0.8 + 0.35*float64(i)
	}
	reports := make([]branchReport, len(NonlinearBranches))
	for i := range reports {
		reports[i].FD = make([]float64, len(m.P))
	}
	for j := range m.P {
		p := m.P[j]
		h := 1e-6 * (1 + p)
		m.P[j] = p + h
		up := values(m)
		m.P[j] = p - h
		down := values(m)
		m.P[j] = p
		for i := range reports {
			reports[i].FD[j] = (up[i] - down[i]) / (2 * h)
		}
	}
	base := values(m)
	for i := range reports {
		reports[i].Slots = state(m, i)
		reports[i].Value = base[i]
	}
	out := struct {
		P        []float64      ` + "`json:\"p\"`" + `
		Branches []branchReport ` + "`json:\"branches\"`" + `
	}{m.P[:], reports}
	if err := json.NewEncoder(os.Stdout).Encode(out); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
`

type linearizeReport struct {
	P        []float64 `json:"p"`
	Branches []struct {
		Slots []float64 `json:"slots"`
		Value float64   `json:"value"`
		FD    []float64 `json:"fd"`
	} `json:"branches"`
}

func closeTo(got, want float64) bool {
	return math.Abs(got-want) <= 1e-6*math.Max(1, math.Abs(want))
}

func TestGeneratedModelMatchesFiniteDifferences(t *testing.T) {
	repoRoot := findRepoRoot(t)
	src, err := os.ReadFile(filepath.Join(repoRoot, "testdata", "linearize", "nonlinear.va"))
	if err != nil {
		t.Fatal(err)
	}
	mods, list := module.Compile("nonlinear.va", string(src), module.DefaultOptions())
	if list.HasErrors() {
		t.Fatalf("compile: %v", list.Items())
	}
	m := mods[0]
	defer m.Close()
	code, err := emit.File(mods, emit.Options{Package: "main", Source: "nonlinear.va"})
	if err != nil {
		t.Fatalf("emit: %v", err)
	}

	// The generated package imports pkg/amsrt, so it has to live inside
	// this module to build.
	dir, err := os.MkdirTemp(filepath.Join(repoRoot, "internal", "e2e"), "linearize")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { os.RemoveAll(dir) })
	if err := os.WriteFile(filepath.Join(dir, "nonlinear.go"), code, 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "main.go"), []byte(linearizeMain), 0o644); err != nil {
		t.Fatal(err)
	}
	cmd := exec.Command("go", "run", ".")
	cmd.Dir = dir
	var stdout, stderr bytes.Buffer
	cmd.Stdout, cmd.Stderr = &stdout, &stderr
	if err := cmd.Run(); err != nil {
		t.Fatalf("run generated model: %v\n%s", err, stderr.String())
	}
	var rep linearizeReport
	if err := json.Unmarshal(stdout.Bytes(), &rep); err != nil {
		t.Fatalf("parse report: %v\n%s", err, stdout.String())
	}
	if len(rep.Branches) != len(m.Branches) {
		t.Fatalf("got %d branches, want %d", len(rep.Branches), len(m.Branches))
	}

	// Every partial slot is the numerical derivative; probes a branch
	// does not depend on leave it flat.
	for i, info := range m.Branches {
		br := rep.Branches[i]
		deps := map[int]int{}
		for k, d := range info.Deps {
			deps[int(d.Probe)] = k
		}
		for j, fd := range br.FD {
			want := 0.0
			if k, ok := deps[j]; ok {
				want = br.Slots[1+k]
			}
			if !closeTo(fd, want) {
				t.Errorf("%s: d/d%s = %g by differences, slot says %g",
					info.Name, m.Topo.ProbeName(topology.ProbeID(j)), fd, want)
			}
		}
	}

	pv := func(node string) float64 {
		id, ok := m.LookupProbe(topology.Potential, node, "")
		if !ok {
			t.Fatalf("no probe V(%s)", node)
		}
		return rep.P[id]
	}
	a, b, c := pv("a"), pv("b"), pv("c")
	value := func(p, n string) float64 {
		id, ok := m.BranchBetween(p, n)
		if !ok {
			t.Fatalf("no branch (%s,%s)", p, n)
		}
		info, ok := m.Branch(id)
		if !ok {
			t.Fatalf("branch (%s,%s) is not live", p, n)
		}
		return rep.Branches[info.Index].Value
	}
	// I(b, a) subtracts from the (a, b) branch
	if got, want := value("a", "b"), 2*a*b+a/b-math.Pow(b, 3)/c; !closeTo(got, want) {
		t.Errorf("I(a,b) = %g, want %g", got, want)
	}
	if got, want := value("c", ""), math.Pow(c, a)+math.Exp(b*c); !closeTo(got, want) {
		t.Errorf("I(c) = %g, want %g", got, want)
	}
}
