package module

import (
	"fmt"

	"github.com/robert-at-pretension-io/amsgen/internal/diag"
	"github.com/robert-at-pretension-io/amsgen/internal/expr"
	"github.com/robert-at-pretension-io/amsgen/internal/filter"
	"github.com/robert-at-pretension-io/amsgen/internal/topology"
	"github.com/robert-at-pretension-io/amsgen/pkg/amsrt"
	"github.com/robert-at-pretension-io/amsgen/pkg/rational"
)

// filterCall expands a filter function into elementary branches on fresh
// internal nodes and returns the probe of the node that carries its output.
func (c *compiler) filterCall(name string, args []*expr.Expr, pos diag.Pos) (expr.Token, error) {
	switch {
	case c.fn != nil:
		return expr.Token{}, diag.Semanticf(pos, "%s() is not allowed in analog function %s", name, c.fn.Name)
	case c.inEvent:
		return expr.Token{}, diag.Semanticf(pos, "%s() is not allowed inside an event control", name)
	case c.inParam:
		return expr.Token{}, diag.Semanticf(pos, "%s() is not allowed in a parameter default", name)
	}
	if op, ok := filter.LookupOperator(name); ok {
		return c.operator(op, args, pos)
	}
	k, _ := filter.LookupKind(name)
	return c.rational(k, args, pos)
}

// element creates the internal node and branch of one elementary branch
func (c *compiler) element(kind amsrt.Element, prefix string) (*Element, topology.BranchRef) {
	n := c.m.Topo.NewInternalNode(prefix)
	ref := c.m.Topo.NewInternalBranch(n, topology.Ground, c.m.Topo.Node(n).Name)
	e := &Element{Kind: kind, Branch: ref.ID, Node: n}
	c.m.Elements = append(c.m.Elements, e)
	c.m.elemOf[ref.ID] = e
	return e, ref
}

// drive adds the synthesized contribution V(ref) <+ value in front of the
// statement being parsed
func (c *compiler) drive(ref topology.BranchRef, value *expr.Expr, kind amsrt.Element, pos diag.Pos) {
	st := &Contribution{Kind: topology.Potential, Branch: ref, Value: value, Class: PotentialSource, Element: kind}
	st.Pos, st.Reach = pos, c.reach
	c.m.register(st)
	c.pending = append(c.pending, st)
}

func (c *compiler) probeOf(ref topology.BranchRef, pos diag.Pos) expr.Token {
	return expr.Token{Kind: expr.Probe, Probe: c.m.Topo.Probe(topology.Potential, ref, "V"), Pos: pos}
}

func (c *compiler) operator(op filter.Operator, args []*expr.Expr, pos diag.Pos) (expr.Token, error) {
	if len(args) < op.MinArgs || len(args) > op.MaxArgs {
		return expr.Token{}, diag.Semanticf(pos, "%s() takes %d to %d arguments, got %d", op.Name, op.MinArgs, op.MaxArgs, len(args))
	}
	var label string
	var settings []*expr.Expr
	for i, a := range args {
		switch i {
		case op.Input:
			if err := checkValue(a); err != nil {
				return expr.Token{}, err
			}
		case op.Label:
			s, ok := a.IsString()
			if !ok {
				return expr.Token{}, diag.Semanticf(a.Pos, "argument %d of %s() must be a string", i+1, op.Name)
			}
			label = s
		default:
			if err := precalcOnly(a, fmt.Sprintf("argument %d of %s()", i+1, op.Name)); err != nil {
				return expr.Token{}, err
			}
			settings = append(settings, a)
		}
	}
	if c.reach == Never {
		return expr.Token{Kind: expr.Lit, Pos: pos}, nil
	}
	e, ref := c.element(op.Element, op.Name)
	e.Label, e.Args = label, settings
	value := expr.Literal(0, false)
	if op.Input >= 0 && op.Input < len(args) {
		value = args[op.Input]
	}
	c.drive(ref, value, op.Element, pos)
	return c.probeOf(ref, pos), nil
}

// coefficients reads the elements of an array literal argument
func coefficients(a *expr.Expr, what string) ([]*expr.Expr, error) {
	els, ok := a.Elements()
	if !ok {
		return nil, diag.Semanticf(a.Pos, "%s must be an array literal", what)
	}
	for _, el := range els {
		if err := precalcOnly(el, what); err != nil {
			return nil, err
		}
	}
	return els, nil
}

func literals(els []*expr.Expr) ([]float64, bool) {
	out := make([]float64, len(els))
	for i, el := range els {
		v, ok := el.Literal()
		if !ok {
			return nil, false
		}
		out[i] = v
	}
	return out, true
}

// rational expands laplace_* and zi_* calls. The realization is
//
//	den[p]*y = num[p]*x - s_p - s_{p+1}
//
// for pivot p, with one internal state node s_j per remaining coefficient
// (see filter.Stage).
func (c *compiler) rational(k filter.Kind, args []*expr.Expr, pos diag.Pos) (expr.Token, error) {
	if len(args) < k.MinArgs() || len(args) > k.MaxArgs() {
		return expr.Token{}, diag.Semanticf(pos, "%s() takes %d to %d arguments, got %d", k, k.MinArgs(), k.MaxArgs(), len(args))
	}
	input := args[0]
	if err := checkValue(input); err != nil {
		return expr.Token{}, err
	}
	numEls, err := coefficients(args[1], fmt.Sprintf("numerator of %s()", k))
	if err != nil {
		return expr.Token{}, err
	}
	denEls, err := coefficients(args[2], fmt.Sprintf("denominator of %s()", k))
	if err != nil {
		return expr.Token{}, err
	}
	settings := args[3:]
	for i, a := range settings {
		if err := precalcOnly(a, fmt.Sprintf("argument %d of %s()", i+4, k)); err != nil {
			return expr.Token{}, err
		}
	}

	inst := &FilterInst{ID: len(c.m.Filters), Kind: k, Pos: pos}
	if k.Domain == filter.ZDomain {
		inst.Period = settings[0]
	}
	nums, numLit := literals(numEls)
	dens, denLit := literals(denEls)
	if numLit && denLit {
		num, den, err := filter.Polynomials(k, nums, dens)
		if err != nil {
			return expr.Token{}, diag.Semanticf(pos, "%v", err)
		}
		inst.Plan = filter.NewPlan(k, num, den)
		if inst.Plan.Clamped {
			c.report(&diag.TopologyError{Pos: pos, Msg: fmt.Sprintf(
				"%s(): denominator coefficient %d is zero; clamped to %g to keep the filter solvable",
				k, inst.Plan.Pivot, inst.Plan.Den[inst.Plan.Pivot])})
		}
	} else {
		if k.Form.NumRoots() && len(numEls)%2 != 0 || k.Form.DenRoots() && len(denEls)%2 != 0 {
			return expr.Token{}, diag.Semanticf(pos, "%s(): roots must be (re, im) pairs", k)
		}
		if !k.Form.DenRoots() && len(denEls) == 0 {
			return expr.Token{}, diag.Semanticf(pos, "%s(): empty denominator", k)
		}
		dens, known := make([]float64, len(denEls)), make([]bool, len(denEls))
		for i, el := range denEls {
			dens[i], known[i] = el.Literal()
		}
		inst.Plan = filter.DeferredPlan(k, len(numEls), dens, known)
		inst.Deferred, inst.NumArgs, inst.DenArgs = true, numEls, denEls
		if inst.Plan.Clamped {
			c.report(&diag.TopologyError{Pos: pos, Msg: fmt.Sprintf(
				"%s(): denominator coefficient %d is always zero; it is clamped to %g at run time",
				k, inst.Plan.Pivot, rational.MinPivot)})
		}
	}
	inst.Degree = inst.Plan.Order()
	if c.reach == Never {
		return expr.Token{Kind: expr.Lit, Pos: pos}, nil
	}
	c.m.Filters = append(c.m.Filters, inst)

	if inst.Deferred {
		for j := 0; j <= inst.Degree; j++ {
			inst.NumCoef = append(inst.NumCoef, c.coefParam(inst, true, j))
		}
		for j := 0; j <= inst.Degree; j++ {
			inst.DenCoef = append(inst.DenCoef, c.coefParam(inst, false, j))
		}
	}
	coef := func(num bool, j int) (expr.Token, bool) {
		if inst.Deferred {
			p := inst.DenCoef[j]
			if num {
				p = inst.NumCoef[j]
			}
			return expr.Token{Kind: expr.Param, Ref: p.ID, Pos: pos}, true
		}
		v := inst.Plan.Den[j]
		if num {
			v = inst.Plan.Num[j]
		}
		return expr.Token{Kind: expr.Lit, Val: v, Pos: pos}, v != 0
	}

	out, outRef := c.element(amsrt.FilterOutput, k.String())
	out.Filter, out.Args = inst, settings
	inst.Output = outRef.ID
	y := c.probeOf(outRef, pos)

	stateRefs := make([]topology.BranchRef, inst.Degree+1)
	for _, st := range inst.Plan.Stages {
		kind := amsrt.Differentiator
		switch st.Mode {
		case filter.Integrate:
			kind = amsrt.Integrator
		case filter.DelayStage:
			kind = amsrt.ZDelay
		}
		e, ref := c.element(kind, fmt.Sprintf("%s_s%d", k, st.State))
		e.Filter, e.Stage = inst, st.State
		if k.Domain == filter.ZDomain {
			e.Args = settings
		}
		inst.States = append(inst.States, e.Node)
		stateRefs[st.State] = ref
	}

	// Output stage
	var rpn []expr.Token
	if t, ok := coef(true, inst.Plan.Pivot); ok {
		rpn = append(rpn, t)
		rpn = append(rpn, input.RPN...)
		rpn = append(rpn, expr.Token{Kind: expr.Binary, Op: "*", Pos: pos})
	} else {
		rpn = append(rpn, expr.Token{Kind: expr.Lit, Pos: pos})
	}
	lo, hi := inst.Plan.OutputStates()
	for _, s := range []int{lo, hi} {
		if s > 0 {
			rpn = append(rpn, c.probeOf(stateRefs[s], pos), expr.Token{Kind: expr.Binary, Op: "-", Pos: pos})
		}
	}
	d, _ := coef(false, inst.Plan.Pivot)
	rpn = append(rpn, d, expr.Token{Kind: expr.Binary, Op: "/", Pos: pos})
	c.drive(outRef, &expr.Expr{RPN: expr.Fold(rpn), Pos: pos}, amsrt.FilterOutput, pos)

	// State stages: s_j <- op(den[t]*y - num[t]*x + s_next)
	for _, st := range inst.Plan.Stages {
		rpn = rpn[:0:0]
		if t, ok := coef(false, st.Term); ok {
			rpn = append(rpn, t, y, expr.Token{Kind: expr.Binary, Op: "*", Pos: pos})
		} else {
			rpn = append(rpn, expr.Token{Kind: expr.Lit, Pos: pos})
		}
		if t, ok := coef(true, st.Term); ok {
			rpn = append(rpn, t)
			rpn = append(rpn, input.RPN...)
			rpn = append(rpn, expr.Token{Kind: expr.Binary, Op: "*", Pos: pos}, expr.Token{Kind: expr.Binary, Op: "-", Pos: pos})
		}
		if st.Next > 0 {
			rpn = append(rpn, c.probeOf(stateRefs[st.Next], pos), expr.Token{Kind: expr.Binary, Op: "+", Pos: pos})
		}
		el, _ := c.m.ElementOf(stateRefs[st.State].ID)
		c.drive(stateRefs[st.State], &expr.Expr{RPN: expr.Fold(rpn), Pos: pos}, el.Kind, pos)
	}
	return y, nil
}

// coefParam declares the precalc parameter holding one normalized
// coefficient of a filter with non-literal arguments
func (c *compiler) coefParam(inst *FilterInst, num bool, j int) *Param {
	side := "den"
	if num {
		side = "num"
	}
	p := &Param{
		ID:     len(c.m.Params),
		Name:   fmt.Sprintf("%s%d_%s%d", inst.Kind, inst.ID, side, j),
		Kind:   FilterCoef,
		Pos:    inst.Pos,
		Filter: inst,
		Num:    num,
		Index:  j,
	}
	c.m.Params = append(c.m.Params, p)
	return p
}
