// Package module compiles one analog module: it parses declarations and
// analog statements, builds the topology, runs the dependency fixpoint,
// lays out branch states and lowers every live expression. A reference
// interpreter runs the compiled statements the way generated code does.
package module

import (
	"fmt"

	"github.com/robert-at-pretension-io/amsgen/internal/deps"
	"github.com/robert-at-pretension-io/amsgen/internal/diag"
	"github.com/robert-at-pretension-io/amsgen/internal/dual"
	"github.com/robert-at-pretension-io/amsgen/internal/expr"
	"github.com/robert-at-pretension-io/amsgen/internal/filter"
	"github.com/robert-at-pretension-io/amsgen/internal/scope"
	"github.com/robert-at-pretension-io/amsgen/internal/topology"
	"github.com/robert-at-pretension-io/amsgen/pkg/amsrt"
)

// Options control a compile. They replace process-wide switches and are
// passed explicitly to every phase.
type Options struct {
	// ShortCircuit turns unconditional zero potential contributions into
	// node merges.
	ShortCircuit bool
	// FixpointLimit bounds dependency updates; zero picks a bound from the
	// module size.
	FixpointLimit int
	// LoopLimit bounds loop iterations in the interpreter.
	LoopLimit int
}

// DefaultOptions returns the options used when none are configured
func DefaultOptions() Options {
	return Options{ShortCircuit: true, LoopLimit: 1 << 20}
}

// Var is a real or integer variable of the module or of an analog
// function
type Var struct {
	ID    int
	Name  string
	IsInt bool
	Pos   diag.Pos
	TD    *deps.TData
	// Input marks analog function arguments.
	Input bool

	fn      *Function
	readers []Stmt
	writers []Stmt
}

// ParamKind says where a parameter value comes from
type ParamKind int

const (
	// UserParam is set by the host and defaults to Default.
	UserParam ParamKind = iota
	// LocalParam is computed from Default and cannot be overridden.
	LocalParam
	// FilterCoef is a normalized coefficient of a filter whose arguments
	// are not literal.
	FilterCoef
)

// Param is a parameter, a non-literal localparam or a derived filter
// coefficient. All are computed in the precalc phase.
type Param struct {
	ID      int
	Name    string
	Kind    ParamKind
	IsInt   bool
	Pos     diag.Pos
	Default *expr.Expr
	Range   string
	Prog    *dual.Program

	// Filter coefficient source
	Filter *FilterInst
	Num    bool
	Index  int
}

// Function is an analog function. Its variables live in their own table;
// arguments are also the derivative keys of every value in the body.
type Function struct {
	ID     int
	Name   string
	IsInt  bool
	Pos    diag.Pos
	Args   []*Var
	Vars   []*Var
	Result *Var
	Body   Stmt
	// Orders is the order of the result in each argument.
	Orders []deps.Order
	Stats  deps.Stats

	stmts []Stmt
}

// Element describes a compiler-generated elementary branch
type Element struct {
	Kind   amsrt.Element
	Branch topology.BranchID
	Node   topology.NodeID
	Label  string
	// Args are the operator's settings (delay, rise time, ...), computed
	// in precalc.
	Args  []*expr.Expr
	Progs []*dual.Program
	// Filter and Stage locate rational filter stages; Stage 0 is the
	// output stage.
	Filter *FilterInst
	Stage  int
}

// FilterInst is one rational filter call
type FilterInst struct {
	ID   int
	Kind filter.Kind
	Pos  diag.Pos
	// Plan carries no coefficients when Deferred is set.
	Plan *filter.Plan
	// Deferred filters have coefficients computed in precalc.
	Deferred bool
	Degree   int
	Output   topology.BranchID
	States   []topology.NodeID
	// NumArgs and DenArgs are the raw coefficient expressions of a
	// deferred filter; NumCoef and DenCoef the derived parameters.
	NumArgs, DenArgs []*expr.Expr
	NumCoef, DenCoef []*Param
	Period           *expr.Expr
}

// Label names the filter call in run-time warnings
func (f *FilterInst) Label() string {
	return fmt.Sprintf("%s() at line %d", f.Kind, f.Pos.Line)
}

// BranchInfo is the emitted layout of a live branch: state slot 0 is the
// constant term, slot 1 the self term and slot 1+k the k-th other dep.
type BranchInfo struct {
	ID      topology.BranchID
	Index   int
	Name    string
	Kind    amsrt.SourceKind
	Element amsrt.Element
	// Deps is ordered self first. HasSelf is false when the branch has no
	// dependencies at all.
	Deps     []deps.Dep
	HasSelf  bool
	Contribs []*Contribution
	TD       *deps.TData
}

// Slots is the state vector length
func (b *BranchInfo) Slots() int {
	if len(b.Deps) == 0 {
		return 2
	}
	return 1 + len(b.Deps)
}

// Module is one compiled module
type Module struct {
	Name   string
	File   string
	Pos    diag.Pos
	Ports  []string
	Topo   *topology.Topology
	Scope  *scope.Scope
	Params []*Param
	Vars   []*Var
	Funcs  []*Function
	Body   *Block

	Elements []*Element
	Filters  []*FilterInst
	Branches []*BranchInfo
	// Triggers are the latching event triggers in slot order.
	Triggers []*Trigger
	Stats    deps.Stats

	opts     Options
	diags    *diag.List
	stmts    []Stmt
	byBranch map[topology.BranchID]*BranchInfo
	elemOf   map[topology.BranchID]*Element
	closed   bool
}

// Diagnostics returns the diagnostics of the compile
func (m *Module) Diagnostics() *diag.List { return m.diags }

// Failed reports whether the module had errors and must not be emitted
func (m *Module) Failed() bool { return m.diags.HasErrors() }

// Stmts returns every statement by id
func (m *Module) Stmts() []Stmt { return m.stmts }

// Branch returns the layout of a live branch
func (m *Module) Branch(id topology.BranchID) (*BranchInfo, bool) {
	b, ok := m.byBranch[id]
	return b, ok
}

// ElementOf returns the element record of a compiler-generated branch
func (m *Module) ElementOf(id topology.BranchID) (*Element, bool) {
	e, ok := m.elemOf[id]
	return e, ok
}

// Live reports whether a statement takes part in dependency analysis and
// emission
func Live(s Stmt) bool {
	b := s.base()
	if b.Reach == Never {
		return false
	}
	if c, ok := s.(*Contribution); ok && c.Short {
		return false
	}
	return true
}

// LiveBranch reports whether a branch has emitted state
func (m *Module) LiveBranch(id topology.BranchID) bool {
	_, ok := m.byBranch[id]
	return ok
}

// Needed reports whether the statement must run in phase p
func (m *Module) Needed(s Stmt, p deps.Phase) bool {
	if !Live(s) {
		return false
	}
	if p == deps.PhaseEval {
		return s.base().TD.NeededIn(p, m.LiveBranch)
	}
	return s.base().TD.NeededIn(p, nil)
}

// LookupParam finds a parameter by name
func (m *Module) LookupParam(name string) (*Param, bool) {
	for _, p := range m.Params {
		if p.Name == name {
			return p, true
		}
	}
	return nil, false
}

// LookupVar finds a module variable by name
func (m *Module) LookupVar(name string) (*Var, bool) {
	for _, v := range m.Vars {
		if v.Name == name {
			return v, true
		}
	}
	return nil, false
}

// LookupProbe finds the probe fn(a[,b]) without creating it
func (m *Module) LookupProbe(kind topology.ProbeKind, p, n string) (topology.ProbeID, bool) {
	pn, ok := m.Topo.LookupNode(p)
	if !ok {
		return 0, false
	}
	nn := topology.Ground
	if n != "" {
		if nn, ok = m.Topo.LookupNode(n); !ok {
			return 0, false
		}
	}
	for _, b := range m.Topo.Branches() {
		if (b.P == pn && b.N == nn) || (b.P == nn && b.N == pn) {
			return m.Topo.LookupProbe(kind, b.ID)
		}
	}
	return 0, false
}

// BranchBetween finds the branch connecting two named nodes; n may be
// empty for ground.
func (m *Module) BranchBetween(p, n string) (topology.BranchID, bool) {
	pn, ok := m.Topo.LookupNode(p)
	if !ok {
		return 0, false
	}
	nn := topology.Ground
	if n != "" {
		if nn, ok = m.Topo.LookupNode(n); !ok {
			return 0, false
		}
	}
	for _, b := range m.Topo.Branches() {
		if b.P == pn && b.N == nn {
			return b.ID, true
		}
	}
	return 0, false
}

// Close releases every statement reference and tears the topology down.
// A reference count that does not return to zero panics.
func (m *Module) Close() {
	if m.closed {
		return
	}
	m.closed = true
	for _, s := range m.stmts {
		if Live(s) {
			m.release(s)
		}
	}
	m.Topo.Close()
}
