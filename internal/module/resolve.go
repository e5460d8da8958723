package module

import (
	"github.com/robert-at-pretension-io/amsgen/internal/deps"
	"github.com/robert-at-pretension-io/amsgen/internal/diag"
	"github.com/robert-at-pretension-io/amsgen/internal/expr"
	"github.com/robert-at-pretension-io/amsgen/internal/filter"
	"github.com/robert-at-pretension-io/amsgen/internal/scope"
	"github.com/robert-at-pretension-io/amsgen/internal/topology"
)

// Ident implements expr.Resolver
func (c *compiler) Ident(name string, pos diag.Pos) (expr.Token, error) {
	d, err := c.sc.Resolve(name, pos)
	if err != nil {
		return expr.Token{}, err
	}
	switch d.Kind {
	case scope.Parameter, scope.LocalParam:
		p := d.Payload.(*Param)
		if v, ok := p.Default.Literal(); ok && p.Kind == LocalParam {
			if p.IsInt {
				v = float64(int64(v))
			}
			return expr.Token{Kind: expr.Lit, Val: v, IsInt: p.IsInt, Pos: pos}, nil
		}
		return expr.Token{Kind: expr.Param, Ref: p.ID, IsInt: p.IsInt, Pos: pos}, nil
	case scope.Variable, scope.FunctionArg:
		v := d.Payload.(*Var)
		if err := c.varInScope(v, name, pos); err != nil {
			return expr.Token{}, err
		}
		return expr.Token{Kind: expr.Var, Ref: v.ID, IsInt: v.IsInt, Pos: pos}, nil
	case scope.Net, scope.Branch:
		return expr.Token{}, diag.Semanticf(pos, "%s '%s' used as a value; read it with an access function such as V(%s)", d.Kind, name, name)
	}
	return expr.Token{}, diag.Semanticf(pos, "%s '%s' used as a value", d.Kind, name)
}

// varInScope rejects module variables inside an analog function and
// function locals outside their function
func (c *compiler) varInScope(v *Var, name string, pos diag.Pos) error {
	switch {
	case v.fn == c.fn:
		return nil
	case c.fn != nil:
		return diag.Semanticf(pos, "module variable '%s' cannot be used inside analog function %s", name, c.fn.Name)
	}
	return diag.Semanticf(pos, "'%s' is local to analog function %s", name, v.fn.Name)
}

// Access implements expr.Resolver
func (c *compiler) Access(fn string, args []string, pos diag.Pos) (expr.Token, error) {
	switch {
	case c.fn != nil:
		return expr.Token{}, diag.Semanticf(pos, "%s() cannot be used inside analog function %s", fn, c.fn.Name)
	case c.inParam:
		return expr.Token{}, diag.Semanticf(pos, "parameter defaults cannot read branch quantities")
	}
	ref, err := c.branchRef(args, pos)
	if err != nil {
		return expr.Token{}, err
	}
	kind, err := c.m.Topo.AccessKind(fn, ref.ID, pos)
	if err != nil {
		return expr.Token{}, err
	}
	return expr.Token{Kind: expr.Probe, Probe: c.m.Topo.Probe(kind, ref, fn), Pos: pos}, nil
}

// Call implements expr.Resolver
func (c *compiler) Call(name string, args []*expr.Expr, pos diag.Pos) (expr.Token, error) {
	if filter.IsFilter(name) {
		return c.filterCall(name, args, pos)
	}
	d, ok := c.sc.Lookup(name)
	if !ok {
		return expr.Token{}, &diag.SemanticError{Pos: pos, Msg: "unknown function '" + name + "'", Suggestions: c.sc.Suggest(name, 2)}
	}
	fn, isFn := d.Payload.(*Function)
	if d.Kind != scope.Function || !isFn {
		return expr.Token{}, diag.Semanticf(pos, "%s '%s' is not a function", d.Kind, name)
	}
	if fn == c.fn {
		return expr.Token{}, diag.Semanticf(pos, "analog function %s calls itself", name)
	}
	if len(args) != len(fn.Args) {
		return expr.Token{}, diag.Semanticf(pos, "%s() takes %d argument(s), got %d", name, len(fn.Args), len(args))
	}
	for _, a := range args {
		if err := checkValue(a); err != nil {
			return expr.Token{}, err
		}
	}
	return expr.Token{Kind: expr.UserCall, Ref: fn.ID, IsInt: fn.IsInt, Pos: pos}, nil
}

// branchRef resolves the net or branch names of an access function
func (c *compiler) branchRef(names []string, pos diag.Pos) (topology.BranchRef, error) {
	if len(names) == 1 {
		d, err := c.sc.Resolve(names[0], pos)
		if err != nil {
			return topology.BranchRef{}, err
		}
		if d.Kind == scope.Branch {
			return d.Payload.(topology.BranchRef), nil
		}
	}
	return c.netBranch(names, pos)
}

// netBranch returns the branch between one or two nets; a single net is
// measured against ground.
func (c *compiler) netBranch(names []string, pos diag.Pos) (topology.BranchRef, error) {
	if len(names) == 0 || len(names) > 2 {
		return topology.BranchRef{}, diag.Semanticf(pos, "expected one or two nets, got %d", len(names))
	}
	ends := [2]topology.NodeID{topology.Ground, topology.Ground}
	for i, n := range names {
		d, err := c.sc.Resolve(n, pos)
		if err != nil {
			return topology.BranchRef{}, err
		}
		if d.Kind != scope.Net {
			return topology.BranchRef{}, diag.Semanticf(pos, "'%s' is a %s, not a net", n, d.Kind)
		}
		ends[i] = d.Payload.(topology.NodeID)
	}
	if ends[0] == ends[1] {
		return topology.BranchRef{}, diag.Semanticf(pos, "branch (%s) connects a net to itself", joinNames(names))
	}
	return c.m.Topo.NewBranch(ends[0], ends[1]), nil
}

func joinNames(names []string) string {
	s := names[0]
	for _, n := range names[1:] {
		s += "," + n
	}
	return s
}

// The module, or an analog function, resolves dependencies of its own
// variables and of every function.
type depEnv struct {
	m    *Module
	vars []*Var
	fn   *Function
}

func (e depEnv) VarDeps(ref int) *deps.TData { return e.vars[ref].TD }

func (e depEnv) UserOrders(ref int) []deps.Order { return e.m.Funcs[ref].Orders }

// VarSlots implements expr.LowerResolver. Function variables all carry
// one slot per argument.
func (e depEnv) VarSlots(ref int) []topology.ProbeID {
	if e.fn != nil {
		out := make([]topology.ProbeID, len(e.fn.Args))
		for i := range out {
			out[i] = topology.ProbeID(i)
		}
		return out
	}
	v := e.vars[ref]
	if v.IsInt {
		return nil
	}
	var out []topology.ProbeID
	for _, d := range v.TD.Deps() {
		out = append(out, d.Probe)
	}
	return out
}
