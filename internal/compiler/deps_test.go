package compiler

import (
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestImpactExpansion(t *testing.T) {
	graph := buildDependentsGraph(map[string][]string{
		"amp.va":      {"disciplines.vams", "gain.vh"},
		"filter.va":   {"disciplines.vams"},
		"gain.vh":     {"consts.vh"},
		"mixer.va":    {"consts.vh"},
		"self.va":     {"self.va"},
		"orphan.va":   nil,
		"nested.vh":   {""},
		"buffer.vams": {"gain.vh"},
	})

	report := computeImpact("consts.vh", graph)
	want := [][]string{{"gain.vh", "mixer.va"}, {"amp.va", "buffer.vams"}}
	if diff := cmp.Diff(want, report.Levels); diff != "" {
		t.Errorf("impact mismatch (-want +got):\n%s", diff)
	}

	if got := computeImpact("self.va", graph); len(got.Levels) != 0 {
		t.Errorf("self include produced dependents: %v", got.Levels)
	}
	if got := computeImpact("orphan.va", graph).String(); !strings.Contains(got, "no dependents") {
		t.Errorf("unexpected report:\n%s", got)
	}
}

func TestImpactCycleTerminates(t *testing.T) {
	graph := buildDependentsGraph(map[string][]string{
		"a.vh": {"b.vh"},
		"b.vh": {"a.vh"},
	})
	report := computeImpact("a.vh", graph)
	if diff := cmp.Diff([][]string{{"b.vh"}}, report.Levels); diff != "" {
		t.Errorf("impact mismatch (-want +got):\n%s", diff)
	}
	if got := report.String(); !strings.Contains(got, "level 1 (1): b.vh") {
		t.Errorf("unexpected report:\n%s", got)
	}
}
