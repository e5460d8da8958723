package module

import (
	"github.com/robert-at-pretension-io/amsgen/internal/deps"
	"github.com/robert-at-pretension-io/amsgen/internal/diag"
	"github.com/robert-at-pretension-io/amsgen/internal/dual"
	"github.com/robert-at-pretension-io/amsgen/internal/expr"
	"github.com/robert-at-pretension-io/amsgen/internal/topology"
	"github.com/robert-at-pretension-io/amsgen/pkg/amsrt"
)

// Reach is the static reachability of a statement. The order matters:
// composing with an enclosing statement takes the minimum.
type Reach int

const (
	Never Reach = iota
	Conditional
	Always
)

func (r Reach) String() string {
	switch r {
	case Never:
		return "never"
	case Conditional:
		return "conditional"
	}
	return "always"
}

func minReach(a, b Reach) Reach {
	if a < b {
		return a
	}
	return b
}

// Class is how a contribution drives its branch
type Class int

const (
	PotentialSource Class = iota
	FlowSource
	// Feedback contributions read the same quantity they drive, V(b) <+
	// f(V(b)), and so are implicit equations.
	Feedback
)

func (c Class) String() string {
	switch c {
	case PotentialSource:
		return "potential"
	case FlowSource:
		return "flow"
	}
	return "feedback"
}

// Stmt is a compiled statement. The set of implementations is closed.
type Stmt interface {
	base() *Base
}

// Base carries what every statement has
type Base struct {
	ID     int
	Pos    diag.Pos
	Reach  Reach
	TD     *deps.TData
	Parent Stmt
}

func (b *Base) base() *Base { return b }

// Info returns the shared part of any statement
func Info(s Stmt) *Base { return s.base() }

// Contribution is V(b) <+ value or I(b) <+ value
type Contribution struct {
	Base
	Kind   topology.ProbeKind
	Branch topology.BranchRef
	Value  *expr.Expr
	Class  Class
	// Element tags compiler-generated contributions (filter stages).
	Element amsrt.Element
	// Short is set when the contribution was turned into a node merge.
	Short bool
	Prog  *dual.Program
}

// Assign is a procedural assignment
type Assign struct {
	Base
	Var   *Var
	Value *expr.Expr
	Prog  *dual.Program
}

// If is a conditional with an optional else arm
type If struct {
	Base
	Cond     *expr.Expr
	Then     Stmt
	Else     Stmt
	CondProg *dual.Program
}

// CaseItem is one arm of a case statement; Values is nil for default.
type CaseItem struct {
	Values []*expr.Expr
	Body   Stmt
	Reach  Reach
	Progs  []*dual.Program
}

// Case is a case statement
type Case struct {
	Base
	Subject *expr.Expr
	Items   []*CaseItem
	SubProg *dual.Program
}

// LoopKind distinguishes the loop forms
type LoopKind int

const (
	ForLoop LoopKind = iota
	WhileLoop
	RepeatLoop
)

func (k LoopKind) String() string {
	switch k {
	case ForLoop:
		return "for"
	case WhileLoop:
		return "while"
	}
	return "repeat"
}

// Loop is a for, while or repeat loop. Repeat loops keep their count in
// Cond.
type Loop struct {
	Base
	Kind     LoopKind
	Init     *Assign
	Cond     *expr.Expr
	Step     *Assign
	Body     Stmt
	CondProg *dual.Program
}

// EventKind is the trigger of an event control
type EventKind int

const (
	InitialStep EventKind = iota
	FinalStep
	Cross
	Above
	Timer
)

var eventNames = [...]string{"initial_step", "final_step", "cross", "above", "timer"}

func (k EventKind) String() string { return eventNames[k] }

// Latches reports whether the trigger keeps state between time points
func (k EventKind) Latches() bool { return k >= Cross }

// Trigger is one alternative of an event expression
type Trigger struct {
	Kind  EventKind
	Args  []*expr.Expr
	Progs []*dual.Program
	// Slot indexes the per-instance event state of latching triggers
	// and is -1 for initial_step and final_step.
	Slot int
}

// Event is @(trigger or ...) body
type Event struct {
	Base
	Triggers []*Trigger
	Body     Stmt
}

// Block is begin ... end
type Block struct {
	Base
	Name  string
	Stmts []Stmt
}

// SysTask is a system task call such as $strobe
type SysTask struct {
	Base
	Name  string
	Args  []*expr.Expr
	Progs []*dual.Program
}

// Phase is where a system task runs
func (s *SysTask) Phase() deps.Phase {
	if s.Name == "$debug" {
		return deps.PhaseEval
	}
	return deps.PhaseAccept
}

// Children returns the direct sub-statements in source order
func Children(s Stmt) []Stmt {
	var out []Stmt
	add := func(c Stmt) {
		if c != nil {
			out = append(out, c)
		}
	}
	switch s := s.(type) {
	case *If:
		add(s.Then)
		add(s.Else)
	case *Case:
		for _, it := range s.Items {
			add(it.Body)
		}
	case *Loop:
		if s.Init != nil {
			add(s.Init)
		}
		add(s.Body)
		if s.Step != nil {
			add(s.Step)
		}
	case *Event:
		add(s.Body)
	case *Block:
		out = append(out, s.Stmts...)
	}
	return out
}

// Walk visits s and its descendants depth first
func Walk(s Stmt, fn func(Stmt) bool) {
	if s == nil || !fn(s) {
		return
	}
	for _, c := range Children(s) {
		Walk(c, fn)
	}
}

// controlExprs returns the expressions that decide whether or how often
// children run.
func controlExprs(s Stmt) []*expr.Expr {
	switch s := s.(type) {
	case *If:
		return []*expr.Expr{s.Cond}
	case *Case:
		out := []*expr.Expr{s.Subject}
		for _, it := range s.Items {
			out = append(out, it.Values...)
		}
		return out
	case *Loop:
		if s.Cond != nil {
			return []*expr.Expr{s.Cond}
		}
	case *Event:
		var out []*expr.Expr
		for _, t := range s.Triggers {
			out = append(out, t.Args...)
		}
		return out
	}
	return nil
}

// ownExprs returns every expression a statement evaluates itself
func ownExprs(s Stmt) []*expr.Expr {
	switch s := s.(type) {
	case *Contribution:
		return []*expr.Expr{s.Value}
	case *Assign:
		return []*expr.Expr{s.Value}
	case *SysTask:
		return s.Args
	}
	return controlExprs(s)
}
