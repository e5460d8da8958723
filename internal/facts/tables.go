package facts

import (
	"sort"

	"github.com/robert-at-pretension-io/amsgen/internal/diag"
	"github.com/robert-at-pretension-io/amsgen/internal/module"
	"github.com/robert-at-pretension-io/amsgen/internal/topology"
)

// Tables is the relational fact model of a compile.
// Each slice is a relation (table) with flat rows.
type Tables struct {
	Files       []FileRow       `json:"files"`
	Modules     []ModuleRow     `json:"modules"`
	Nodes       []NodeRow       `json:"nodes"`
	Branches    []BranchRow     `json:"branches"`
	Probes      []ProbeRow      `json:"probes"`
	Deps        []DepRow        `json:"deps"`
	Statements  []StatementRow  `json:"statements"`
	Params      []ParamRow      `json:"params"`
	Functions   []FunctionRow   `json:"functions"`
	Filters     []FilterRow     `json:"filters"`
	Diagnostics []DiagnosticRow `json:"diagnostics"`
}

type FileRow struct {
	Path     string   `json:"path"`
	Hash     string   `json:"hash"`
	Includes []string `json:"includes"`
}

type ModuleRow struct {
	Name   string `json:"name"`
	File   string `json:"file"`
	Line   int    `json:"line"`
	Ports  int    `json:"ports"`
	Failed bool   `json:"failed"`
	// Fixpoint statistics
	Updates int `json:"updates"`
	Grew    int `json:"grew"`
}

type NodeRow struct {
	Module     string `json:"module"`
	Name       string `json:"name"`
	Discipline string `json:"discipline"`
	Port       bool   `json:"port"`
	Internal   bool   `json:"internal"`
	Root       string `json:"root"`
	File       string `json:"file"`
}

type BranchRow struct {
	Module  string `json:"module"`
	Name    string `json:"name"`
	P       string `json:"p"`
	N       string `json:"n"`
	Kind    string `json:"kind"`
	Element string `json:"element"`
	Live    bool   `json:"live"`
	Short   bool   `json:"short"`
	Slots   int    `json:"slots"`
	// Source counts after dead code and short elimination
	PotentialSources int    `json:"potential_sources"`
	FlowSources      int    `json:"flow_sources"`
	Internal         bool   `json:"internal"`
	File             string `json:"file"`
}

type ProbeRow struct {
	Module string `json:"module"`
	Name   string `json:"name"`
	Kind   string `json:"kind"`
	Branch string `json:"branch"`
	Uses   int    `json:"uses"`
	File   string `json:"file"`
}

type DepRow struct {
	Module string `json:"module"`
	Branch string `json:"branch"`
	Probe  string `json:"probe"`
	Order  string `json:"order"`
	Slot   int    `json:"slot"`
	Self   bool   `json:"self"`
	File   string `json:"file"`
}

type StatementRow struct {
	Module string `json:"module"`
	ID     int    `json:"id"`
	Kind   string `json:"kind"`
	Line   int    `json:"line"`
	Reach  string `json:"reach"`
	Live   bool   `json:"live"`
	// Class and Branch are set for contributions
	Class  string `json:"class"`
	Branch string `json:"branch"`
	Order  string `json:"order"`
	File   string `json:"file"`
}

type ParamRow struct {
	Module string `json:"module"`
	Name   string `json:"name"`
	Kind   string `json:"kind"`
	IsInt  bool   `json:"is_int"`
	Range  string `json:"range"`
	File   string `json:"file"`
	Line   int    `json:"line"`
}

type FunctionRow struct {
	Module string   `json:"module"`
	Name   string   `json:"name"`
	Args   int      `json:"args"`
	Orders []string `json:"orders"`
	File   string   `json:"file"`
	Line   int      `json:"line"`
}

type FilterRow struct {
	Module   string `json:"module"`
	Kind     string `json:"kind"`
	Degree   int    `json:"degree"`
	Deferred bool   `json:"deferred"`
	Pivot    int    `json:"pivot"`
	Clamped  bool   `json:"clamped"`
	File     string `json:"file"`
	Line     int    `json:"line"`
}

type DiagnosticRow struct {
	File     string `json:"file"`
	Line     int    `json:"line"`
	Col      int    `json:"col"`
	Severity string `json:"severity"`
	Kind     string `json:"kind"`
	Message  string `json:"message"`
	Context  string `json:"context"`
}

var paramKinds = map[module.ParamKind]string{
	module.UserParam:  "parameter",
	module.LocalParam: "localparam",
	module.FilterCoef: "filter_coefficient",
}

// StatementKind names a statement for the tables and the debug dump
func StatementKind(s module.Stmt) string {
	switch s.(type) {
	case *module.Contribution:
		return "contribution"
	case *module.Assign:
		return "assign"
	case *module.If:
		return "if"
	case *module.Case:
		return "case"
	case *module.Loop:
		return "loop"
	case *module.Event:
		return "event"
	case *module.Block:
		return "block"
	case *module.SysTask:
		return "system_task"
	}
	return "unknown"
}

// BuildTables converts compiled modules and their diagnostics into the
// relational model. It must run before the modules are closed.
func BuildTables(files []FileRow, mods []*module.Module, diags []diag.Diagnostic) Tables {
	tables := emptyTables()
	tables.Files = append(tables.Files, files...)
	for _, m := range mods {
		addModule(&tables, m)
	}
	for _, d := range diags {
		tables.Diagnostics = append(tables.Diagnostics, DiagnosticRow{
			File:     d.Pos.File,
			Line:     d.Pos.Line,
			Col:      d.Pos.Col,
			Severity: d.Severity.String(),
			Kind:     string(d.Kind),
			Message:  d.Message,
			Context:  d.Context,
		})
	}
	sort.Slice(tables.Files, func(i, j int) bool { return tables.Files[i].Path < tables.Files[j].Path })
	return tables
}

func addModule(tables *Tables, m *module.Module) {
	file := m.File
	topo := m.Topo
	tables.Modules = append(tables.Modules, ModuleRow{
		Name:    m.Name,
		File:    file,
		Line:    m.Pos.Line,
		Ports:   len(m.Ports),
		Failed:  m.Failed(),
		Updates: m.Stats.Updates,
		Grew:    m.Stats.Grew,
	})
	nodeName := func(id topology.NodeID) string { return topo.Node(id).Name }
	for _, n := range topo.Nodes() {
		tables.Nodes = append(tables.Nodes, NodeRow{
			Module:     m.Name,
			Name:       n.Name,
			Discipline: n.Discipline,
			Port:       n.Port,
			Internal:   n.Internal,
			Root:       nodeName(topo.Find(n.ID)),
			File:       file,
		})
	}
	for _, b := range topo.Branches() {
		row := BranchRow{
			Module:           m.Name,
			Name:             topo.BranchName(b.ID),
			P:                nodeName(b.P),
			N:                nodeName(b.N),
			Kind:             "none",
			Element:          "plain",
			Short:            topo.IsShort(b.ID),
			PotentialSources: b.PotentialSources(),
			FlowSources:      b.FlowSources(),
			Internal:         b.Internal,
			File:             file,
		}
		if e, ok := m.ElementOf(b.ID); ok {
			row.Element = e.Kind.String()
		}
		if info, ok := m.Branch(b.ID); ok {
			row.Live = true
			row.Kind = info.Kind.String()
			row.Slots = info.Slots()
			for k, d := range info.Deps {
				tables.Deps = append(tables.Deps, DepRow{
					Module: m.Name,
					Branch: row.Name,
					Probe:  topo.ProbeName(d.Probe),
					Order:  d.Order.String(),
					Slot:   k + 1,
					Self:   k == 0 && info.HasSelf && topo.ProbeOf(d.Probe).Branch == b.ID,
					File:   file,
				})
			}
		}
		tables.Branches = append(tables.Branches, row)
	}
	for _, p := range topo.Probes() {
		tables.Probes = append(tables.Probes, ProbeRow{
			Module: m.Name,
			Name:   topo.ProbeName(p.ID),
			Kind:   p.Kind.String(),
			Branch: topo.BranchName(p.Branch),
			Uses:   p.Uses(),
			File:   file,
		})
	}
	for _, s := range m.Stmts() {
		info := module.Info(s)
		row := StatementRow{
			Module: m.Name,
			ID:     info.ID,
			Kind:   StatementKind(s),
			Line:   info.Pos.Line,
			Reach:  info.Reach.String(),
			Live:   module.Live(s),
			File:   file,
		}
		if c, ok := s.(*module.Contribution); ok {
			row.Class = c.Class.String()
			row.Branch = topo.BranchName(c.Branch.ID)
			if info.TD != nil {
				row.Order = info.TD.MaxOrder().String()
			}
		}
		tables.Statements = append(tables.Statements, row)
	}
	for _, p := range m.Params {
		tables.Params = append(tables.Params, ParamRow{
			Module: m.Name,
			Name:   p.Name,
			Kind:   paramKinds[p.Kind],
			IsInt:  p.IsInt,
			Range:  p.Range,
			File:   file,
			Line:   p.Pos.Line,
		})
	}
	for _, fn := range m.Funcs {
		row := FunctionRow{Module: m.Name, Name: fn.Name, Args: len(fn.Args), Orders: []string{}, File: file, Line: fn.Pos.Line}
		for _, o := range fn.Orders {
			row.Orders = append(row.Orders, o.String())
		}
		tables.Functions = append(tables.Functions, row)
	}
	for _, f := range m.Filters {
		row := FilterRow{
			Module:   m.Name,
			Kind:     f.Kind.String(),
			Degree:   f.Degree,
			Deferred: f.Deferred,
			Pivot:    f.Plan.Pivot,
			Clamped:  f.Plan.Clamped,
			File:     file,
			Line:     f.Pos.Line,
		}
		tables.Filters = append(tables.Filters, row)
	}
}

// Merge concatenates per-file tables into one snapshot, files sorted by
// path
func Merge(parts ...Tables) Tables {
	out := emptyTables()
	for _, t := range parts {
		out.Files = append(out.Files, t.Files...)
		out.Modules = append(out.Modules, t.Modules...)
		out.Nodes = append(out.Nodes, t.Nodes...)
		out.Branches = append(out.Branches, t.Branches...)
		out.Probes = append(out.Probes, t.Probes...)
		out.Deps = append(out.Deps, t.Deps...)
		out.Statements = append(out.Statements, t.Statements...)
		out.Params = append(out.Params, t.Params...)
		out.Functions = append(out.Functions, t.Functions...)
		out.Filters = append(out.Filters, t.Filters...)
		out.Diagnostics = append(out.Diagnostics, t.Diagnostics...)
	}
	sort.SliceStable(out.Files, func(i, j int) bool { return out.Files[i].Path < out.Files[j].Path })
	return out
}
