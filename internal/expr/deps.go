package expr

import (
	"github.com/robert-at-pretension-io/amsgen/internal/deps"
	"github.com/robert-at-pretension-io/amsgen/internal/diag"
	"github.com/robert-at-pretension-io/amsgen/internal/dual"
)

// DepResolver supplies the current dependency sets of variables and
// analog functions while a TData is derived.
type DepResolver interface {
	VarDeps(ref int) *deps.TData
	// UserOrders returns, per argument, the order of the function result
	// in that argument (zero when the result does not depend on it).
	UserOrders(ref int) []deps.Order
}

func toConstant(deps.Order) deps.Order { return deps.Constant }

// Deps derives the dependency set of an expression from its tokens.
func (e *Expr) Deps(r DepResolver) *deps.TData {
	var stack []*deps.TData
	pop := func(k int) []*deps.TData {
		if len(stack) < k {
			diag.Internalf("malformed RPN at %s: %s", e.Pos, e)
		}
		args := stack[len(stack)-k:]
		stack = stack[:len(stack)-k]
		return args
	}
	for _, t := range e.RPN {
		var td *deps.TData
		switch t.Kind {
		case Lit, Str, Param, Sys:
			td = deps.New()
		case Probe:
			td = deps.New()
			td.Add(deps.Dep{Probe: t.Probe.ID, Order: deps.Linear})
		case Var:
			td = r.VarDeps(t.Ref).Map(func(o deps.Order) deps.Order { return o })
			if t.IsInt {
				td = td.Map(toConstant)
			}
		case Unary:
			a := pop(1)[0]
			td = a
			if t.Op == "!" || t.IsInt {
				td = a.Map(toConstant)
			}
		case Binary:
			args := pop(2)
			td = binaryDeps(t, args[0], args[1])
		case Ternary:
			args := pop(3)
			td = args[1].Map(func(o deps.Order) deps.Order { return o })
			td.MergeDeps(args[2])
			td.MergeDeps(args[0].Map(toConstant))
		case Call:
			args := pop(t.N)
			td = deps.New()
			f := deps.Nonlin
			if bi, ok := dual.LookupBuiltin(t.Op); ok && bi.Piecewise {
				f = toConstant
			}
			for _, a := range args {
				td.MergeDeps(a.Map(f))
			}
		case UserCall:
			args := pop(t.N)
			orders := r.UserOrders(t.Ref)
			td = deps.New()
			for i, a := range args {
				if i >= len(orders) || orders[i] == 0 {
					continue
				}
				outer := orders[i]
				td.MergeDeps(a.Map(func(o deps.Order) deps.Order { return deps.Compose(outer, o) }))
			}
		case Array:
			args := pop(t.N)
			td = deps.New()
			for _, a := range args {
				td.MergeDeps(a)
			}
		}
		stack = append(stack, td)
	}
	if len(stack) != 1 {
		diag.Internalf("malformed RPN at %s: %d values left", e.Pos, len(stack))
	}
	return stack[0]
}

func binaryDeps(t Token, a, b *deps.TData) *deps.TData {
	if t.IsInt || dual.IsLogical(t.Op) {
		td := a.Map(toConstant)
		td.MergeDeps(b.Map(toConstant))
		return td
	}
	td := deps.New()
	switch t.Op {
	case "+", "-":
		td.MergeDeps(a)
		td.MergeDeps(b)
	case "*":
		aVar, bVar := a.Len() > 0, b.Len() > 0
		for _, d := range a.Deps() {
			if o2 := b.OrderOf(d.Probe); o2 != 0 {
				td.Add(deps.Dep{Probe: d.Probe, Order: deps.Both(d.Order, o2)})
			} else if bVar {
				td.Add(deps.Dep{Probe: d.Probe, Order: deps.Raise(d.Order)})
			} else {
				td.Add(d)
			}
		}
		for _, d := range b.Deps() {
			if a.OrderOf(d.Probe) != 0 {
				continue
			}
			if aVar {
				td.Add(deps.Dep{Probe: d.Probe, Order: deps.Raise(d.Order)})
			} else {
				td.Add(d)
			}
		}
	case "/":
		bVar := b.Len() > 0
		for _, d := range a.Deps() {
			if bVar {
				td.Add(deps.Dep{Probe: d.Probe, Order: deps.Raise(d.Order)})
			} else {
				td.Add(d)
			}
		}
		td.MergeDeps(b.Map(deps.Nonlin))
	default: // %, **
		td.MergeDeps(a.Map(deps.Nonlin))
		td.MergeDeps(b.Map(deps.Nonlin))
	}
	return td
}
