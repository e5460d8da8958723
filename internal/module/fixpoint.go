package module

import (
	"github.com/robert-at-pretension-io/amsgen/internal/deps"
	"github.com/robert-at-pretension-io/amsgen/internal/topology"
)

// flow is one dependency fixpoint: the module body or an analog function
type flow struct {
	env   depEnv
	stmts []Stmt
	limit int
	// seed adds the reverse dependencies a statement has by itself.
	seed func(s Stmt, td *deps.TData)
}

func newFlow(env depEnv, stmts []Stmt, limit int, seed func(Stmt, *deps.TData)) *flow {
	f := &flow{env: env, limit: limit, seed: seed}
	for _, v := range env.vars {
		v.readers, v.writers = nil, nil
	}
	for _, s := range stmts {
		if !Live(s) {
			continue
		}
		f.stmts = append(f.stmts, s)
		if s.base().TD == nil {
			s.base().TD = deps.New()
		}
		for _, e := range ownExprs(s) {
			for _, id := range e.Vars() {
				v := env.vars[id]
				v.readers = append(v.readers, s)
			}
		}
		if a, ok := s.(*Assign); ok {
			a.Var.writers = append(a.Var.writers, s)
		}
	}
	if f.limit <= 0 {
		f.limit = 16 * (len(f.stmts) + len(env.vars) + 1) * (len(f.stmts) + 8)
	}
	return f
}

func (f *flow) run() deps.Stats {
	return deps.Converge(f.stmts, f.limit, f.update)
}

// update re-derives one statement's dependency set. Dependencies flow
// forward from right-hand sides into variables; reverse dependencies flow
// backward from consumers into the variables they read and up into the
// enclosing statements.
func (f *flow) update(s Stmt) (bool, []Stmt) {
	b := s.base()
	before := b.TD.Size()
	var next []Stmt
	grew := false

	switch s := s.(type) {
	case *Assign:
		rhs := s.Value.Deps(f.env)
		b.TD.MergeDeps(rhs)
		v := s.Var
		vb := v.TD.Size()
		v.TD.MergeDeps(rhs)
		if v.TD.Size().Grew(vb) {
			grew = true
			next = append(next, v.readers...)
		}
		b.TD.MergeRDeps(v.TD)
	case *Contribution:
		b.TD.MergeDeps(s.Value.Deps(f.env))
	case *SysTask:
		for _, a := range s.Args {
			if _, isStr := a.IsString(); !isStr {
				b.TD.MergeDeps(a.Deps(f.env))
			}
		}
	default:
		for _, e := range controlExprs(s) {
			b.TD.MergeDeps(e.Deps(f.env).Map(func(deps.Order) deps.Order { return deps.Constant }))
		}
		for _, ch := range Children(s) {
			if Live(ch) {
				b.TD.MergeRDeps(ch.base().TD)
			}
		}
	}
	if f.seed != nil {
		f.seed(s, b.TD)
	}

	// Consumers of this statement also consume what it reads.
	for _, e := range ownExprs(s) {
		for _, id := range e.Vars() {
			v := f.env.vars[id]
			vb := v.TD.Size()
			v.TD.MergeRDeps(b.TD)
			if v.TD.Size().Grew(vb) {
				grew = true
				next = append(next, v.writers...)
			}
		}
	}

	if b.TD.Size().Grew(before) {
		grew = true
		if b.Parent != nil && Live(b.Parent) {
			next = append(next, b.Parent)
		}
	}
	return grew, next
}

// moduleSeed gives every statement kind its own consumers
func moduleSeed(s Stmt, td *deps.TData) {
	switch s := s.(type) {
	case *Contribution:
		td.AddRDep(deps.BranchRDep(s.Branch.ID))
		td.AddRDep(deps.PhaseRDep(deps.PhaseEval))
	case *SysTask:
		td.AddRDep(deps.PhaseRDep(s.Phase()))
	case *Event:
		td.AddRDep(deps.PhaseRDep(deps.PhaseAccept))
		for _, t := range s.Triggers {
			switch t.Kind {
			case Cross, Above, Timer:
				td.AddRDep(deps.PhaseRDep(deps.PhaseReview))
			case InitialStep:
				td.AddRDep(deps.PhaseRDep(deps.PhaseInitial))
			case FinalStep:
				td.AddRDep(deps.PhaseRDep(deps.PhaseFinal))
			}
		}
	}
}

// Converge runs the dependency fixpoint over every live statement. After
// the first call every further call reports zero growth.
func (m *Module) Converge() deps.Stats {
	f := newFlow(depEnv{m: m, vars: m.Vars}, m.stmts, m.opts.FixpointLimit, moduleSeed)
	st := f.run()
	m.Stats.Updates += st.Updates
	m.Stats.Grew += st.Grew
	return st
}

// compileFunction seeds each argument with itself as derivative key and
// derives the order of the result in every argument.
func (m *Module) compileFunction(fn *Function) {
	for _, s := range fn.stmts {
		s.base().TD = deps.New()
	}
	for _, v := range fn.Vars {
		v.TD = deps.New()
	}
	for i, a := range fn.Args {
		a.TD.Add(deps.Dep{Probe: topology.ProbeID(i), Order: deps.Linear})
	}
	f := newFlow(depEnv{m: m, vars: fn.Vars, fn: fn}, fn.stmts, m.opts.FixpointLimit, nil)
	fn.Stats = f.run()
	fn.Orders = make([]deps.Order, len(fn.Args))
	if fn.IsInt {
		return
	}
	for i := range fn.Args {
		fn.Orders[i] = fn.Result.TD.OrderOf(topology.ProbeID(i))
	}
}
