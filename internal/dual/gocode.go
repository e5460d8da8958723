package dual

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Naming maps program references to Go expressions of the generated model
type Naming interface {
	Probe(id int) string
	Param(id int) string
	// Var returns the value expression and the expression of partial j in
	// the variable's own layout.
	Var(id int) (val string, deriv func(j int) string)
	User(id int) string
}

// GoFloat renders a float64 literal that Go types as float64
func GoFloat(v float64) string {
	switch {
	case math.IsNaN(v):
		return "math.NaN()"
	case math.IsInf(v, 1):
		return "math.Inf(1)"
	case math.IsInf(v, -1):
		return "math.Inf(-1)"
	}
	s := strconv.FormatFloat(v, 'g', -1, 64)
	if !strings.ContainsAny(s, ".eEn") {
		s += ".0"
	}
	return s
}

// needDerivs marks the temporaries whose partials some consumer reads.
func (p *Program) needDerivs(wantResult bool) []bool {
	need := make([]bool, len(p.Code))
	if len(p.Code) == 0 || len(p.Slots) == 0 {
		return need
	}
	need[p.Result] = wantResult && !p.Code[p.Result].Static
	for i := len(p.Code) - 1; i >= 0; i-- {
		if !need[i] {
			continue
		}
		in := &p.Code[i]
		var args []int
		switch in.Op {
		case OpUnary:
			if in.Name != "!" {
				args = in.Args
			}
		case OpBinary:
			if !in.IsInt && !IsLogical(in.Name) {
				args = in.Args
			}
		case OpSelect:
			args = in.Args[1:]
		case OpCall, OpUser:
			args = in.Args
		}
		for _, a := range args {
			if !p.Code[a].Static {
				need[a] = true
			}
		}
	}
	return need
}

// WriteGo prints the program as Go statements, one temporary per
// instruction named prefix+"t"+index. It returns the Go expressions of the
// result value and, when wantD is set, of each result partial.
func (p *Program) WriteGo(b *strings.Builder, indent, prefix string, nm Naming, wantD bool) (string, []string) {
	need := p.needDerivs(wantD)
	n := len(p.Slots)
	tv := func(i int) string { return fmt.Sprintf("%st%d", prefix, i) }
	td := func(i int) string { return tv(i) + "d" }
	line := func(format string, args ...interface{}) {
		b.WriteString(indent)
		fmt.Fprintf(b, format, args...)
		b.WriteByte('\n')
	}
	used := func(i, arg int) bool { return need[i] && !p.Code[arg].Static }

	for i := range p.Code {
		in := &p.Code[i]
		v := tv(i)
		switch in.Op {
		case OpConst:
			line("%s := %s", v, GoFloat(in.Val))
		case OpProbe:
			if in.Sign < 0 {
				line("%s := -%s", v, nm.Probe(in.Ref))
			} else {
				line("%s := %s", v, nm.Probe(in.Ref))
			}
			if need[i] && in.Slot >= 0 {
				line("var %s [%d]float64", td(i), n)
				line("%s[%d] = %s", td(i), in.Slot, GoFloat(in.Sign))
			}
			continue
		case OpParam:
			line("%s := %s", v, nm.Param(in.Ref))
		case OpLoad:
			val, deriv := nm.Var(in.Ref)
			line("%s := %s", v, val)
			if need[i] {
				line("var %s [%d]float64", td(i), n)
				for j, s := range in.Map {
					if s >= 0 {
						line("%s[%d] += %s", td(i), s, deriv(j))
					}
				}
			}
			continue
		case OpUnary:
			a := tv(in.Args[0])
			switch in.Name {
			case "-":
				line("%s := -%s", v, a)
			case "!":
				line("%s := amsrt.B2F(!amsrt.Truth(%s))", v, a)
			default:
				line("%s := %s", v, a)
			}
			if need[i] {
				line("var %s [%d]float64", td(i), n)
				if used(i, in.Args[0]) {
					sign := ""
					if in.Name == "-" {
						sign = "-"
					}
					line("for s := range %s {", td(i))
					line("\t%s[s] = %s%s[s]", td(i), sign, td(in.Args[0]))
					line("}")
				}
			}
			continue
		case OpBinary:
			p.writeBinary(line, i, tv, td, need, used)
			continue
		case OpSelect:
			c, x, y := in.Args[0], in.Args[1], in.Args[2]
			line("%s := %s", v, tv(y))
			if need[i] {
				line("var %s [%d]float64", td(i), n)
				if used(i, y) {
					line("%s = %s", td(i), td(y))
				}
			}
			line("if amsrt.Truth(%s) {", tv(c))
			line("\t%s = %s", v, tv(x))
			if need[i] {
				if used(i, x) {
					line("\t%s = %s", td(i), td(x))
				} else {
					line("\t%s = [%d]float64{}", td(i), n)
				}
			}
			line("}")
			continue
		case OpCall, OpUser:
			p.writeCall(line, i, nm, tv, td, need, used)
			continue
		}
	}

	res := tv(p.Result)
	if len(p.Code) == 0 {
		res = "0.0"
	}
	var ders []string
	if wantD {
		ders = make([]string, n)
		for s := range ders {
			if len(p.Code) > 0 && need[p.Result] {
				ders[s] = fmt.Sprintf("%s[%d]", td(p.Result), s)
			} else {
				ders[s] = "0"
			}
		}
	}
	return res, ders
}

func (p *Program) writeBinary(line func(string, ...interface{}), i int, tv, td func(int) string, need []bool, used func(int, int) bool) {
	in := &p.Code[i]
	n := len(p.Slots)
	ai, bi := in.Args[0], in.Args[1]
	a, b, v := tv(ai), tv(bi), tv(i)
	switch in.Name {
	case "+", "-", "*":
		line("%s := %s %s %s", v, a, in.Name, b)
	case "/":
		if in.IsInt {
			line("%s := amsrt.IDiv(%s, %s)", v, a, b)
		} else {
			line("%s := %s / %s", v, a, b)
		}
	case "%":
		line("%s := amsrt.Mod(%s, %s)", v, a, b)
	case "**":
		if in.IsInt {
			line("%s := amsrt.IPow(%s, %s)", v, a, b)
		} else if need[i] {
			pa, pb := "_", "_"
			if used(i, ai) {
				pa = v + "pa"
			}
			if used(i, bi) {
				pb = v + "pb"
			}
			line("%s, %s, %s := amsrt.DPow(%s, %s)", v, pa, pb, a, b)
		} else {
			line("%s, _, _ := amsrt.DPow(%s, %s)", v, a, b)
		}
	case "&&":
		line("%s := amsrt.B2F(amsrt.Truth(%s) && amsrt.Truth(%s))", v, a, b)
	case "||":
		line("%s := amsrt.B2F(amsrt.Truth(%s) || amsrt.Truth(%s))", v, a, b)
	default:
		line("%s := amsrt.B2F(%s %s %s)", v, a, in.Name, b)
	}
	if !need[i] {
		return
	}
	line("var %s [%d]float64", td(i), n)
	ua, ub := used(i, ai), used(i, bi)
	var terms []string
	switch in.Name {
	case "+", "-":
		if ua {
			terms = append(terms, td(ai)+"[s]")
		}
		if ub {
			op := "+"
			if in.Name == "-" {
				op = "-"
			}
			if len(terms) == 0 {
				terms = append(terms, op+td(bi)+"[s]")
			} else {
				terms = append(terms, op+" "+td(bi)+"[s]")
			}
		}
	case "*":
		if ua {
			terms = append(terms, td(ai)+"[s]*"+b)
		}
		if ub {
			if len(terms) > 0 {
				terms = append(terms, "+")
			}
			terms = append(terms, a+"*"+td(bi)+"[s]")
		}
	case "/":
		if ua {
			terms = append(terms, td(ai)+"[s]/"+b)
		}
		if ub {
			terms = append(terms, fmt.Sprintf("- %s/(%s*%s)*%s[s]", a, b, b, td(bi)))
		}
	case "%":
		if ua {
			terms = append(terms, td(ai)+"[s]")
		}
		if ub {
			terms = append(terms, fmt.Sprintf("- amsrt.IDiv(%s, %s)*%s[s]", a, b, td(bi)))
		}
	case "**":
		if ua {
			terms = append(terms, v+"pa*"+td(ai)+"[s]")
		}
		if ub {
			if len(terms) > 0 {
				terms = append(terms, "+")
			}
			terms = append(terms, v+"pb*"+td(bi)+"[s]")
		}
	}
	if len(terms) == 0 {
		return
	}
	line("for s := range %s {", td(i))
	line("\t%s[s] = %s", td(i), strings.Join(terms, " "))
	line("}")
}

func (p *Program) writeCall(line func(string, ...interface{}), i int, nm Naming, tv, td func(int) string, need []bool, used func(int, int) bool) {
	in := &p.Code[i]
	n := len(p.Slots)
	v := tv(i)
	args := make([]string, len(in.Args))
	for k, a := range in.Args {
		args[k] = tv(a)
	}
	if in.Op == OpUser {
		pv := "_"
		if need[i] {
			pv = v + "p"
		}
		line("%s, %s := %s(%s)", v, pv, nm.User(in.Ref), strings.Join(args, ", "))
	} else {
		bi := builtins[in.Name]
		lhs := []string{v}
		for k, a := range in.Args {
			if used(i, a) && !bi.Piecewise {
				lhs = append(lhs, fmt.Sprintf("%sp%d", v, k))
			} else {
				lhs = append(lhs, "_")
			}
		}
		line("%s := %s(%s)", strings.Join(lhs, ", "), bi.Go, strings.Join(args, ", "))
	}
	if !need[i] {
		return
	}
	line("var %s [%d]float64", td(i), n)
	var terms []string
	for k, a := range in.Args {
		if !used(i, a) {
			continue
		}
		if in.Op == OpCall && builtins[in.Name].Piecewise {
			continue
		}
		part := fmt.Sprintf("%sp%d", v, k)
		if in.Op == OpUser {
			part = fmt.Sprintf("%sp[%d]", v, k)
		}
		if len(terms) > 0 {
			terms = append(terms, "+")
		}
		terms = append(terms, part+"*"+td(a)+"[s]")
	}
	if len(terms) == 0 {
		return
	}
	line("for s := range %s {", td(i))
	line("\t%s[s] = %s", td(i), strings.Join(terms, " "))
	line("}")
}
