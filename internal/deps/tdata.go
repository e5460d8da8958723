package deps

import (
	"fmt"
	"sort"

	"github.com/robert-at-pretension-io/amsgen/internal/diag"
	"github.com/robert-at-pretension-io/amsgen/internal/topology"
)

// Phase is a lifecycle entry point of the generated code
type Phase int

const (
	PhasePrecalc Phase = iota
	PhaseEval
	PhaseReview
	PhaseAccept
	PhaseInitial
	PhaseFinal
)

var phaseNames = [...]string{"precalc", "eval", "review", "accept", "initial", "final"}

func (p Phase) String() string {
	if int(p) < len(phaseNames) {
		return phaseNames[p]
	}
	return fmt.Sprintf("phase(%d)", int(p))
}

// RDepKind distinguishes reverse dependents
type RDepKind int

const (
	RBranch RDepKind = iota
	RPhase
)

// RDep is a consumer that must be revisited when a TData grows: a branch
// whose state it feeds, or a lifecycle phase that needs it.
type RDep struct {
	Kind RDepKind
	ID   int
}

// BranchRDep returns the reverse dependency on a branch
func BranchRDep(b topology.BranchID) RDep { return RDep{Kind: RBranch, ID: int(b)} }

// PhaseRDep returns the reverse dependency on a phase
func PhaseRDep(p Phase) RDep { return RDep{Kind: RPhase, ID: int(p)} }

func (r RDep) String() string {
	if r.Kind == RPhase {
		return "phase:" + Phase(r.ID).String()
	}
	return fmt.Sprintf("branch:%d", r.ID)
}

// TData is an ordered, duplicate-free dependency list plus a reverse
// dependent set. It only ever grows.
type TData struct {
	ddeps []Dep
	index map[topology.ProbeID]int
	rdeps map[RDep]struct{}
}

// New returns an empty TData
func New() *TData {
	return &TData{index: make(map[topology.ProbeID]int), rdeps: make(map[RDep]struct{})}
}

// Size is a growth witness: strictly larger in some component means growth.
type Size struct {
	Deps   int
	Orders int
	RDeps  int
}

// Size returns the current growth witness
func (t *TData) Size() Size {
	s := Size{Deps: len(t.ddeps), RDeps: len(t.rdeps)}
	for _, d := range t.ddeps {
		s.Orders += int(d.Order)
	}
	return s
}

// Grew compares two witnesses taken from the same TData. A smaller witness
// is a broken monotonicity invariant.
func (s Size) Grew(before Size) bool {
	if s.Deps < before.Deps || s.Orders < before.Orders || s.RDeps < before.RDeps {
		diag.Internalf("dependency set shrank from %+v to %+v", before, s)
	}
	return s != before
}

// Add inserts a dep or raises the order of an existing one.
func (t *TData) Add(d Dep) bool {
	if i, ok := t.index[d.Probe]; ok {
		if d.Order > t.ddeps[i].Order {
			t.ddeps[i].Order = d.Order
			return true
		}
		return false
	}
	t.index[d.Probe] = len(t.ddeps)
	t.ddeps = append(t.ddeps, d)
	return true
}

// AddRDep inserts a reverse dependent
func (t *TData) AddRDep(r RDep) bool {
	if _, ok := t.rdeps[r]; ok {
		return false
	}
	t.rdeps[r] = struct{}{}
	return true
}

// MergeDeps folds o's ddeps into t. Idempotent and monotone.
func (t *TData) MergeDeps(o *TData) bool {
	grew := false
	for _, d := range o.ddeps {
		if t.Add(d) {
			grew = true
		}
	}
	return grew
}

// MergeRDeps folds o's rdeps into t
func (t *TData) MergeRDeps(o *TData) bool {
	grew := false
	for r := range o.rdeps {
		if t.AddRDep(r) {
			grew = true
		}
	}
	return grew
}

// Merge folds both sets
func (t *TData) Merge(o *TData) bool {
	a := t.MergeDeps(o)
	b := t.MergeRDeps(o)
	return a || b
}

// Deps returns the dependency list in insertion order
func (t *TData) Deps() []Dep { return t.ddeps }

// Len returns the number of deps
func (t *TData) Len() int { return len(t.ddeps) }

// Index returns the slot of a probe
func (t *TData) Index(p topology.ProbeID) (int, bool) {
	i, ok := t.index[p]
	return i, ok
}

// OrderOf returns the order of a probe, zero when absent
func (t *TData) OrderOf(p topology.ProbeID) Order {
	if i, ok := t.index[p]; ok {
		return t.ddeps[i].Order
	}
	return 0
}

// MaxOrder returns the highest order over all deps, zero when empty
func (t *TData) MaxOrder() Order {
	var m Order
	for _, d := range t.ddeps {
		m = Max(m, d.Order)
	}
	return m
}

// Varies reports whether some dep has a non-constant order
func (t *TData) Varies() bool {
	return t.MaxOrder() > Constant
}

// HasRDep reports membership
func (t *TData) HasRDep(r RDep) bool {
	_, ok := t.rdeps[r]
	return ok
}

// RDeps returns reverse dependents sorted by kind then id
func (t *TData) RDeps() []RDep {
	out := make([]RDep, 0, len(t.rdeps))
	for r := range t.rdeps {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Kind != out[j].Kind {
			return out[i].Kind < out[j].Kind
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// NeededIn reports whether the TData feeds the phase or any of the branches
func (t *TData) NeededIn(p Phase, branches func(topology.BranchID) bool) bool {
	for r := range t.rdeps {
		if r.Kind == RPhase && Phase(r.ID) == p {
			return true
		}
		if r.Kind == RBranch && branches != nil && branches(topology.BranchID(r.ID)) {
			return true
		}
	}
	return false
}

// Clone returns an independent copy
func (t *TData) Clone() *TData {
	c := New()
	c.Merge(t)
	return c
}

// Map returns a copy whose ddeps orders are transformed by f; deps mapped to
// zero are dropped. rdeps are not copied.
func (t *TData) Map(f func(Order) Order) *TData {
	c := New()
	for _, d := range t.ddeps {
		if o := f(d.Order); o != 0 {
			c.Add(Dep{Probe: d.Probe, Order: o})
		}
	}
	return c
}

func (t *TData) String() string {
	s := "{"
	for i, d := range t.ddeps {
		if i > 0 {
			s += ", "
		}
		s += fmt.Sprintf("p%d:%s", d.Probe, d.Order)
	}
	return s + "}"
}
