package expr

import (
	"github.com/robert-at-pretension-io/amsgen/internal/deps"
	"github.com/robert-at-pretension-io/amsgen/internal/diag"
	"github.com/robert-at-pretension-io/amsgen/internal/dual"
	"github.com/robert-at-pretension-io/amsgen/internal/topology"
)

// LowerResolver supplies the slot layout of variables at lowering time
type LowerResolver interface {
	// VarSlots returns the probes of the variable's derivative slots, in
	// the order of its TData.
	VarSlots(ref int) []topology.ProbeID
}

// Lower emits the dual-number program of the expression. Derivative slots
// follow the ddeps order of td, which must cover the expression's own deps.
func (e *Expr) Lower(td *deps.TData, r LowerResolver) *dual.Program {
	prog := &dual.Program{}
	for _, d := range td.Deps() {
		prog.Slots = append(prog.Slots, int(d.Probe))
	}
	var stack []int
	pop := func(k int) []int {
		if len(stack) < k {
			diag.Internalf("malformed RPN at %s: %s", e.Pos, e)
		}
		args := append([]int(nil), stack[len(stack)-k:]...)
		stack = stack[:len(stack)-k]
		return args
	}
	static := func(i int) bool { return prog.Code[i].Static }

	for _, t := range e.RPN {
		in := dual.Instr{Dst: len(prog.Code), Slot: -1, IsInt: t.IsInt}
		switch t.Kind {
		case Lit:
			in.Op, in.Val, in.Static = dual.OpConst, t.Val, true
		case Str, Array:
			diag.Internalf("cannot lower %s at %s", t, t.Pos)
		case Probe:
			in.Op, in.Ref, in.Sign = dual.OpProbe, int(t.Probe.ID), t.Probe.Sign()
			in.IsInt = false
			if slot, ok := td.Index(t.Probe.ID); ok {
				in.Slot = slot
			} else {
				in.Static = true
			}
		case Param, Sys:
			in.Op, in.Ref, in.Static = dual.OpParam, t.Ref, true
		case Var:
			in.Op, in.Ref = dual.OpLoad, t.Ref
			in.Static = true
			if !t.IsInt {
				for _, p := range r.VarSlots(t.Ref) {
					slot, ok := td.Index(p)
					if !ok {
						slot = -1
					} else {
						in.Static = false
					}
					in.Map = append(in.Map, slot)
				}
			}
		case Unary:
			a := pop(1)
			in.Op, in.Name, in.Args = dual.OpUnary, t.Op, a
			in.Static = t.Op == "!" || t.IsInt || static(a[0])
		case Binary:
			a := pop(2)
			in.Op, in.Name, in.Args = dual.OpBinary, t.Op, a
			in.Static = t.IsInt || dual.IsLogical(t.Op) || (static(a[0]) && static(a[1]))
		case Ternary:
			a := pop(3)
			in.Op, in.Args = dual.OpSelect, a
			in.Static = static(a[1]) && static(a[2])
		case Call:
			a := pop(t.N)
			in.Op, in.Name, in.Args = dual.OpCall, t.Op, a
			in.IsInt = false
			bi, _ := dual.LookupBuiltin(t.Op)
			in.Static = bi.Piecewise || allStatic(prog, a)
		case UserCall:
			a := pop(t.N)
			in.Op, in.Ref, in.Args = dual.OpUser, t.Ref, a
			in.Static = t.IsInt || allStatic(prog, a)
		}
		if len(prog.Slots) == 0 {
			in.Static = true
		}
		prog.Code = append(prog.Code, in)
		stack = append(stack, in.Dst)
	}
	if len(stack) != 1 {
		diag.Internalf("malformed RPN at %s: %d values left", e.Pos, len(stack))
	}
	prog.Result = stack[0]
	return prog
}

func allStatic(p *dual.Program, args []int) bool {
	for _, a := range args {
		if !p.Code[a].Static {
			return false
		}
	}
	return true
}
