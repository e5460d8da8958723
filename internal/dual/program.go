// Package dual is the lowered form of an expression: a straight-line program
// over dual-number temporaries, each a value plus one partial per slot of the
// enclosing dependency list. Programs are evaluated numerically by Eval and
// printed as Go by WriteGo; both follow the same rules.
package dual

import (
	"fmt"
	"strings"

	"github.com/robert-at-pretension-io/amsgen/pkg/amsrt"
)

// Op is an instruction kind
type Op int

const (
	OpConst Op = iota
	OpProbe
	OpParam
	OpLoad
	OpUnary
	OpBinary
	OpSelect
	OpCall
	OpUser
)

var opNames = [...]string{"const", "probe", "param", "load", "unary", "binary", "select", "call", "user"}

func (o Op) String() string {
	if int(o) < len(opNames) {
		return opNames[o]
	}
	return fmt.Sprintf("op(%d)", int(o))
}

// Instr computes temporary Dst. Temporaries are numbered by instruction, so
// Dst is also the instruction index.
type Instr struct {
	Op   Op
	Dst  int
	Args []int
	Name string
	Val  float64
	// Ref is the probe, parameter, variable or function id.
	Ref int
	// Slot is the derivative slot of a probe, -1 when the probe is untracked.
	Slot int
	Sign float64
	// Map sends a loaded variable's slots to program slots (-1 drops).
	Map   []int
	IsInt bool
	// Static marks a temporary whose partials are identically zero.
	Static bool
}

// Program is a lowered expression
type Program struct {
	// Slots lists the dependency keys (probe ids) of the derivative slots.
	Slots  []int
	Code   []Instr
	Result int
}

// Value is a dual number in some slot layout
type Value struct {
	V float64
	D []float64
}

// Env supplies runtime inputs to Eval
type Env interface {
	Probe(id int) float64
	Param(id int) float64
	// Var returns a variable in its own slot layout.
	Var(id int) Value
	// CallUser evaluates an analog function, returning the value and the
	// partial with respect to each argument.
	CallUser(id int, args []float64) (float64, []float64)
}

// Static reports whether the result has identically zero partials
func (p *Program) Static() bool {
	return len(p.Code) == 0 || p.Code[p.Result].Static
}

// Eval runs the program
func (p *Program) Eval(env Env) Value {
	n := len(p.Slots)
	vals := make([]float64, len(p.Code))
	ders := make([][]float64, len(p.Code))
	for i := range p.Code {
		in := &p.Code[i]
		d := make([]float64, n)
		var v float64
		switch in.Op {
		case OpConst:
			v = in.Val
		case OpProbe:
			v = in.Sign * env.Probe(in.Ref)
			if in.Slot >= 0 {
				d[in.Slot] = in.Sign
			}
		case OpParam:
			v = env.Param(in.Ref)
		case OpLoad:
			x := env.Var(in.Ref)
			v = x.V
			for j, s := range in.Map {
				if s >= 0 && j < len(x.D) {
					d[s] += x.D[j]
				}
			}
		case OpUnary:
			a := in.Args[0]
			v = ApplyUnary(in.Name, vals[a])
			if in.Name == "-" {
				for s := range d {
					d[s] = -ders[a][s]
				}
			} else if in.Name == "+" {
				copy(d, ders[a])
			}
		case OpBinary:
			a, b := in.Args[0], in.Args[1]
			u, w := vals[a], vals[b]
			v = ApplyBinary(in.Name, u, w, in.IsInt)
			if !in.IsInt && !IsLogical(in.Name) {
				binaryPartials(in.Name, u, w, ders[a], ders[b], d)
			}
		case OpSelect:
			c, a, b := in.Args[0], in.Args[1], in.Args[2]
			pick := b
			if vals[c] != 0 {
				pick = a
			}
			v = vals[pick]
			copy(d, ders[pick])
		case OpCall:
			bi := builtins[in.Name]
			args := make([]float64, len(in.Args))
			for k, a := range in.Args {
				args[k] = vals[a]
			}
			var parts []float64
			v, parts = bi.Fn(args)
			chain(d, parts, in.Args, ders)
		case OpUser:
			args := make([]float64, len(in.Args))
			for k, a := range in.Args {
				args[k] = vals[a]
			}
			var parts []float64
			v, parts = env.CallUser(in.Ref, args)
			chain(d, parts, in.Args, ders)
		}
		if in.IsInt {
			for s := range d {
				d[s] = 0
			}
		}
		vals[i], ders[i] = v, d
	}
	if len(p.Code) == 0 {
		return Value{D: make([]float64, n)}
	}
	return Value{V: vals[p.Result], D: ders[p.Result]}
}

func chain(d, parts []float64, args []int, ders [][]float64) {
	for k, a := range args {
		if parts[k] == 0 {
			continue
		}
		for s := range d {
			d[s] += parts[k] * ders[a][s]
		}
	}
}

// binaryPartials applies the first-order sum, product and quotient rules.
func binaryPartials(op string, u, w float64, du, dw, d []float64) {
	switch op {
	case "+":
		for s := range d {
			d[s] = du[s] + dw[s]
		}
	case "-":
		for s := range d {
			d[s] = du[s] - dw[s]
		}
	case "*":
		for s := range d {
			d[s] = du[s]*w + u*dw[s]
		}
	case "/":
		q := u / (w * w)
		for s := range d {
			d[s] = du[s]/w - q*dw[s]
		}
	case "%":
		k := 0.0
		if w != 0 {
			k = float64(int64(u / w))
		}
		for s := range d {
			d[s] = du[s] - k*dw[s]
		}
	case "**":
		_, pa, pb := amsrt.DPow(u, w)
		for s := range d {
			d[s] = pa*du[s] + pb*dw[s]
		}
	}
}

// String renders the program one instruction per line
func (p *Program) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "slots %v\n", p.Slots)
	for _, in := range p.Code {
		fmt.Fprintf(&b, "t%d = %s", in.Dst, in.Op)
		switch in.Op {
		case OpConst:
			fmt.Fprintf(&b, " %g", in.Val)
		case OpProbe:
			fmt.Fprintf(&b, " p%d sign=%g slot=%d", in.Ref, in.Sign, in.Slot)
		case OpParam, OpLoad, OpUser:
			fmt.Fprintf(&b, " #%d", in.Ref)
		}
		if in.Name != "" {
			fmt.Fprintf(&b, " %s", in.Name)
		}
		for _, a := range in.Args {
			fmt.Fprintf(&b, " t%d", a)
		}
		if in.Static {
			b.WriteString(" static")
		}
		b.WriteByte('\n')
	}
	fmt.Fprintf(&b, "result t%d\n", p.Result)
	return b.String()
}
