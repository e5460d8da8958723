// Package expr compiles infix expressions into flat reverse-Polish token
// lists, folds literal subexpressions, derives dependency sets and lowers the
// token list into dual-number programs.
package expr

import (
	"fmt"
	"strings"

	"github.com/robert-at-pretension-io/amsgen/internal/diag"
	"github.com/robert-at-pretension-io/amsgen/internal/topology"
)

// Kind is an RPN token kind
type Kind int

const (
	Lit Kind = iota
	Str
	Probe
	Param
	Var
	Sys
	Unary
	Binary
	Ternary
	Call
	UserCall
	Array
)

// Simulator quantities are parameters with negative references.
const (
	SysTemperature = -1 - iota
	SysAbstime
	SysVt
	SysMfactor
)

var sysNames = map[string]int{
	"$temperature": SysTemperature,
	"$abstime":     SysAbstime,
	"$vt":          SysVt,
	"$mfactor":     SysMfactor,
}

// LookupSys resolves a simulator quantity such as $abstime
func LookupSys(name string) (int, bool) {
	id, ok := sysNames[name]
	return id, ok
}

// SysName is the inverse of LookupSys
func SysName(id int) string {
	for n, v := range sysNames {
		if v == id {
			return n
		}
	}
	return fmt.Sprintf("$sys%d", -id)
}

// Token is one RPN element
type Token struct {
	Kind  Kind
	Op    string // operator or function name; string text for Str
	Val   float64
	IsInt bool
	Probe topology.ProbeRef
	Ref   int
	N     int // operand count of Call, UserCall and Array
	Pos   diag.Pos
}

// Arity returns the number of operands the token pops
func (t Token) Arity() int {
	switch t.Kind {
	case Unary:
		return 1
	case Binary:
		return 2
	case Ternary:
		return 3
	case Call, UserCall, Array:
		return t.N
	}
	return 0
}

func (t Token) String() string {
	switch t.Kind {
	case Lit:
		return fmt.Sprintf("%g", t.Val)
	case Str:
		return fmt.Sprintf("%q", t.Op)
	case Probe:
		s := fmt.Sprintf("probe#%d", t.Probe.ID)
		if t.Probe.Neg {
			s = "-" + s
		}
		return s
	case Param:
		return fmt.Sprintf("param#%d", t.Ref)
	case Var:
		return fmt.Sprintf("var#%d", t.Ref)
	case Sys:
		return SysName(t.Ref)
	case Unary:
		return "u" + t.Op
	case Binary:
		return t.Op
	case Ternary:
		return "?:"
	case Call:
		return fmt.Sprintf("%s/%d", t.Op, t.N)
	case UserCall:
		return fmt.Sprintf("fn#%d/%d", t.Ref, t.N)
	case Array:
		return fmt.Sprintf("{}/%d", t.N)
	}
	return "?"
}

// Expr is a compiled expression
type Expr struct {
	RPN   []Token
	Pos   diag.Pos
	IsInt bool
}

// Literal returns the value of a fully folded expression
func (e *Expr) Literal() (float64, bool) {
	if len(e.RPN) == 1 && e.RPN[0].Kind == Lit {
		return e.RPN[0].Val, true
	}
	return 0, false
}

// IsZero reports whether the expression is the literal zero
func (e *Expr) IsZero() bool {
	v, ok := e.Literal()
	return ok && v == 0
}

// IsString reports whether the expression is a string literal
func (e *Expr) IsString() (string, bool) {
	if len(e.RPN) == 1 && e.RPN[0].Kind == Str {
		return e.RPN[0].Op, true
	}
	return "", false
}

func (e *Expr) String() string {
	parts := make([]string, len(e.RPN))
	for i, t := range e.RPN {
		parts[i] = t.String()
	}
	return strings.Join(parts, " ")
}

// spanStart returns the index of the first token of the subexpression
// ending at end.
func spanStart(rpn []Token, end int) int {
	need := 1
	i := end
	for ; i >= 0; i-- {
		need += rpn[i].Arity() - 1
		if need == 0 {
			return i
		}
	}
	return 0
}

// Elements splits an array literal into its element expressions.
func (e *Expr) Elements() ([]*Expr, bool) {
	last := len(e.RPN) - 1
	if last < 0 || e.RPN[last].Kind != Array {
		return nil, false
	}
	n := e.RPN[last].N
	out := make([]*Expr, n)
	end := last - 1
	for k := n - 1; k >= 0; k-- {
		start := spanStart(e.RPN, end)
		sub := make([]Token, end-start+1)
		copy(sub, e.RPN[start:end+1])
		out[k] = &Expr{RPN: sub, Pos: sub[0].Pos}
		end = start - 1
	}
	return out, true
}

// Probes returns every probe reference read by the expression
func (e *Expr) Probes() []topology.ProbeRef {
	var out []topology.ProbeRef
	for _, t := range e.RPN {
		if t.Kind == Probe {
			out = append(out, t.Probe)
		}
	}
	return out
}

// Vars returns the ids of variables read by the expression
func (e *Expr) Vars() []int {
	var out []int
	seen := map[int]bool{}
	for _, t := range e.RPN {
		if t.Kind == Var && !seen[t.Ref] {
			seen[t.Ref] = true
			out = append(out, t.Ref)
		}
	}
	return out
}

// Literal builds a one-token literal expression
func Literal(v float64, isInt bool) *Expr {
	return &Expr{RPN: []Token{{Kind: Lit, Val: v, IsInt: isInt}}, IsInt: isInt}
}
