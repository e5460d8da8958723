package facts

import (
	"strconv"
	"strings"
)

// Delta captures added and removed fact rows between two snapshots.
type Delta struct {
	Added   Tables `json:"added"`
	Removed Tables `json:"removed"`
}

// Empty reports whether nothing changed
func (d Delta) Empty() bool {
	return d.Added.Rows() == 0 && d.Removed.Rows() == 0
}

// ComputeDelta computes row-level additions and removals between two snapshots.
func ComputeDelta(prev, next Tables) Delta {
	return Delta{
		Added:   diffTables(prev, next),
		Removed: diffTables(next, prev),
	}
}

func diffTables(from, to Tables) Tables {
	out := emptyTables()

	out.Files = diffRows(from.Files, to.Files, func(r FileRow) string {
		return key(r.Path, r.Hash, strings.Join(r.Includes, ","))
	})
	out.Modules = diffRows(from.Modules, to.Modules, func(r ModuleRow) string {
		return key(r.Name, r.File, intKey(r.Line), intKey(r.Ports), boolKey(r.Failed))
	})
	out.Nodes = diffRows(from.Nodes, to.Nodes, func(r NodeRow) string {
		return key(r.Module, r.Name, r.Discipline, boolKey(r.Port), boolKey(r.Internal), r.Root, r.File)
	})
	out.Branches = diffRows(from.Branches, to.Branches, func(r BranchRow) string {
		return key(r.Module, r.Name, r.P, r.N, r.Kind, r.Element, boolKey(r.Live), boolKey(r.Short),
			intKey(r.Slots), intKey(r.PotentialSources), intKey(r.FlowSources), r.File)
	})
	out.Probes = diffRows(from.Probes, to.Probes, func(r ProbeRow) string {
		return key(r.Module, r.Name, r.Kind, r.Branch, intKey(r.Uses), r.File)
	})
	out.Deps = diffRows(from.Deps, to.Deps, func(r DepRow) string {
		return key(r.Module, r.Branch, r.Probe, r.Order, intKey(r.Slot), boolKey(r.Self), r.File)
	})
	out.Statements = diffRows(from.Statements, to.Statements, func(r StatementRow) string {
		return key(r.Module, r.Kind, intKey(r.Line), r.Reach, boolKey(r.Live), r.Class, r.Branch, r.Order, r.File)
	})
	out.Params = diffRows(from.Params, to.Params, func(r ParamRow) string {
		return key(r.Module, r.Name, r.Kind, boolKey(r.IsInt), r.Range, r.File, intKey(r.Line))
	})
	out.Functions = diffRows(from.Functions, to.Functions, func(r FunctionRow) string {
		return key(r.Module, r.Name, intKey(r.Args), strings.Join(r.Orders, ","), r.File, intKey(r.Line))
	})
	out.Filters = diffRows(from.Filters, to.Filters, func(r FilterRow) string {
		return key(r.Module, r.Kind, intKey(r.Degree), boolKey(r.Deferred), intKey(r.Pivot), boolKey(r.Clamped), r.File, intKey(r.Line))
	})
	out.Diagnostics = diffRows(from.Diagnostics, to.Diagnostics, func(r DiagnosticRow) string {
		return key(r.File, intKey(r.Line), intKey(r.Col), r.Severity, r.Kind, r.Message)
	})

	return out
}

func emptyTables() Tables {
	return Tables{
		Files:       []FileRow{},
		Modules:     []ModuleRow{},
		Nodes:       []NodeRow{},
		Branches:    []BranchRow{},
		Probes:      []ProbeRow{},
		Deps:        []DepRow{},
		Statements:  []StatementRow{},
		Params:      []ParamRow{},
		Functions:   []FunctionRow{},
		Filters:     []FilterRow{},
		Diagnostics: []DiagnosticRow{},
	}
}

// Rows counts the rows of every table
func (t Tables) Rows() int {
	return len(t.Files) + len(t.Modules) + len(t.Nodes) + len(t.Branches) + len(t.Probes) +
		len(t.Deps) + len(t.Statements) + len(t.Params) + len(t.Functions) + len(t.Filters) + len(t.Diagnostics)
}

func diffRows[T any](from, to []T, key func(T) string) []T {
	fromSet := make(map[string]struct{}, len(from))
	for _, row := range from {
		fromSet[key(row)] = struct{}{}
	}
	diff := []T{}
	for _, row := range to {
		if _, ok := fromSet[key(row)]; !ok {
			diff = append(diff, row)
		}
	}
	return diff
}

func key(parts ...string) string { return strings.Join(parts, "|") }

func boolKey(v bool) string {
	if v {
		return "1"
	}
	return "0"
}

func intKey(v int) string { return strconv.Itoa(v) }
