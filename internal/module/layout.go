package module

import (
	"github.com/robert-at-pretension-io/amsgen/internal/deps"
	"github.com/robert-at-pretension-io/amsgen/internal/dual"
	"github.com/robert-at-pretension-io/amsgen/internal/topology"
	"github.com/robert-at-pretension-io/amsgen/pkg/amsrt"
)

// analyze runs everything after parsing: shorts, the dependency fixpoint,
// the branch layout and lowering
func (m *Module) analyze() {
	if m.opts.ShortCircuit {
		m.shortBranches()
	}
	m.Converge()
	m.layout()
	m.lower()
}

// shortBranches turns V(b) <+ 0 into a node merge when it is the only
// source of b, it always runs and nothing reads the flow through b.
func (m *Module) shortBranches() {
	for _, s := range m.stmts {
		c, ok := s.(*Contribution)
		if !ok || c.Reach != Always || c.Short || c.Kind != topology.Potential || c.Element != amsrt.Plain || !c.Value.IsZero() {
			continue
		}
		br := m.Topo.Branch(c.Branch.ID)
		if br.PotentialSources() != 1 || br.FlowSources() != 0 {
			continue
		}
		if p, ok := m.Topo.LookupProbe(topology.Flow, c.Branch.ID); ok && m.Topo.ProbeOf(p).Uses() > 0 {
			continue
		}
		m.release(c)
		c.Short = true
		m.Topo.MergeBranch(c.Branch.ID)
	}
}

// layout builds the state vector of every branch with live sources. The
// self dependency, the branch's own probe if the branch reads itself and
// otherwise the first dependency, takes slot 1.
func (m *Module) layout() {
	m.Branches = nil
	m.byBranch = make(map[topology.BranchID]*BranchInfo)
	contribs := make(map[topology.BranchID][]*Contribution)
	for _, s := range m.stmts {
		if c, ok := s.(*Contribution); ok && Live(c) {
			contribs[c.Branch.ID] = append(contribs[c.Branch.ID], c)
		}
	}
	for _, br := range m.Topo.Branches() {
		if !br.HasSources() {
			continue
		}
		info := &BranchInfo{ID: br.ID, Index: len(m.Branches), Name: m.Topo.BranchName(br.ID), Contribs: contribs[br.ID]}
		union := deps.New()
		for _, c := range info.Contribs {
			union.MergeDeps(c.TD)
			if info.Element == amsrt.Plain {
				info.Element = c.Element
			}
		}
		all := union.Deps()
		self := -1
		for i, d := range all {
			if m.Topo.ProbeOf(d.Probe).Branch == br.ID {
				self = i
				break
			}
		}
		if self < 0 && len(all) > 0 {
			self = 0
		}
		info.TD = deps.New()
		if self >= 0 {
			info.HasSelf = true
			info.TD.Add(all[self])
			for i, d := range all {
				if i != self {
					info.TD.Add(d)
				}
			}
		}
		info.Deps = info.TD.Deps()
		switch {
		case br.PotentialSources() > 0 && br.FlowSources() > 0:
			info.Kind = amsrt.Switch
		case br.PotentialSources() > 0:
			info.Kind = amsrt.Potential
		default:
			info.Kind = amsrt.Flow
		}
		for _, c := range info.Contribs {
			if p, ok := m.Topo.LookupProbe(c.Kind, br.ID); ok && c.TD.OrderOf(p) > 0 {
				c.Class = Feedback
			}
		}
		m.Branches = append(m.Branches, info)
		m.byBranch[br.ID] = info
	}
}

func varLayout(v *Var) *deps.TData {
	if v.IsInt {
		return deps.New()
	}
	return v.TD
}

// lower emits the dual-number program of every live expression
func (m *Module) lower() {
	env := depEnv{m: m, vars: m.Vars}
	empty := deps.New()
	for _, s := range m.stmts {
		if Live(s) {
			lowerStmt(s, env, empty, func(c *Contribution) *deps.TData { return m.byBranch[c.Branch.ID].TD })
		}
	}
	for _, p := range m.Params {
		if p.Default != nil {
			p.Prog = p.Default.Lower(empty, env)
		}
	}
	for _, e := range m.Elements {
		e.Progs = nil
		for _, a := range e.Args {
			e.Progs = append(e.Progs, a.Lower(empty, env))
		}
	}
	for _, fn := range m.Funcs {
		fenv := depEnv{m: m, vars: fn.Vars, fn: fn}
		args := deps.New()
		for i := range fn.Args {
			args.Add(deps.Dep{Probe: topology.ProbeID(i), Order: deps.Linear})
		}
		for _, s := range fn.stmts {
			if Live(s) {
				lowerStmt(s, fenv, args, nil)
			}
		}
	}
}

// lowerStmt lowers the expressions a statement evaluates itself. Values
// use layout (the function's argument layout inside functions); control
// expressions never carry partials.
func lowerStmt(s Stmt, env depEnv, layout *deps.TData, branch func(*Contribution) *deps.TData) {
	empty := deps.New()
	switch s := s.(type) {
	case *Contribution:
		s.Prog = s.Value.Lower(branch(s), env)
	case *Assign:
		td := layout
		if env.fn == nil || s.Var.IsInt {
			td = varLayout(s.Var)
		}
		s.Prog = s.Value.Lower(td, env)
	case *If:
		s.CondProg = s.Cond.Lower(empty, env)
	case *Case:
		s.SubProg = s.Subject.Lower(empty, env)
		for _, it := range s.Items {
			it.Progs = nil
			for _, v := range it.Values {
				it.Progs = append(it.Progs, v.Lower(empty, env))
			}
		}
	case *Loop:
		if s.Cond != nil {
			s.CondProg = s.Cond.Lower(empty, env)
		}
	case *Event:
		for _, t := range s.Triggers {
			t.Progs = nil
			for _, a := range t.Args {
				t.Progs = append(t.Progs, a.Lower(empty, env))
			}
		}
	case *SysTask:
		s.Progs = make([]*dual.Program, len(s.Args))
		for i, a := range s.Args {
			if _, isStr := a.IsString(); !isStr {
				s.Progs[i] = a.Lower(empty, env)
			}
		}
	}
}
