// Package emit prints compiled modules as Go source for the host engine.
//
// Every module becomes one struct type. The host writes probe values into
// P, calls Eval and reads the per-branch state vectors from S; Precalc runs
// once after parameters are set, Accept at every accepted time point and
// Final at the end of the simulation.
package emit

import (
	"fmt"
	"go/format"
	"sort"
	"strconv"
	"strings"
	"unicode"

	"github.com/pkg/errors"

	"github.com/robert-at-pretension-io/amsgen/internal/deps"
	"github.com/robert-at-pretension-io/amsgen/internal/dual"
	"github.com/robert-at-pretension-io/amsgen/internal/expr"
	"github.com/robert-at-pretension-io/amsgen/internal/filter"
	"github.com/robert-at-pretension-io/amsgen/internal/module"
	"github.com/robert-at-pretension-io/amsgen/internal/topology"
)

// Options control the generated file
type Options struct {
	// Package is the package clause of the generated file.
	Package string
	// Source is mentioned in the generated-code header.
	Source string
}

// File renders every module into one formatted Go file. Failed modules
// are an error; the caller is expected to filter them.
func File(mods []*module.Module, opts Options) ([]byte, error) {
	pkg := opts.Package
	if pkg == "" {
		pkg = "models"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "// Code generated by amsgen from %s. DO NOT EDIT.\n\n", opts.Source)
	fmt.Fprintf(&b, "package %s\n\n", pkg)
	b.WriteString("import (\n\t\"math\"\n\n\t\"github.com/robert-at-pretension-io/amsgen/pkg/amsrt\"\n)\n\n")
	b.WriteString("var _ = math.Round\n")
	seen := make(map[string]bool)
	for _, m := range mods {
		if m.Failed() {
			return nil, errors.Errorf("module %s has errors", m.Name)
		}
		g := newGen(m, &b)
		if seen[g.typ] {
			return nil, errors.Errorf("two modules map to Go type %s", g.typ)
		}
		seen[g.typ] = true
		g.module()
	}
	out, err := format.Source([]byte(b.String()))
	if err != nil {
		return []byte(b.String()), errors.Wrap(err, "formatting generated code")
	}
	return out, nil
}

// TypeName is the Go type generated for a module name
func TypeName(name string) string {
	var b strings.Builder
	up := true
	for _, r := range name {
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) {
			up = true
			continue
		}
		if up {
			r = unicode.ToUpper(r)
			up = false
		}
		b.WriteRune(r)
	}
	out := b.String()
	if out == "" || unicode.IsDigit(rune(out[0])) {
		out = "M" + out
	}
	return out
}

type gen struct {
	m   *module.Module
	b   *strings.Builder
	typ string
}

func newGen(m *module.Module, b *strings.Builder) *gen {
	return &gen{m: m, b: b, typ: TypeName(m.Name)}
}

func (g *gen) p(format string, args ...interface{}) {
	fmt.Fprintf(g.b, format, args...)
	g.b.WriteByte('\n')
}

// naming resolves program references inside the module or inside one
// analog function
type naming struct {
	fn *module.Function
}

func (naming) Probe(id int) string { return fmt.Sprintf("m.P[%d]", id) }

func (naming) Param(id int) string {
	switch id {
	case expr.SysTemperature:
		return "m.Temperature"
	case expr.SysVt:
		return "amsrt.Vt(m.Temperature)"
	case expr.SysMfactor:
		return "1.0"
	case expr.SysAbstime:
		return "m.Host.Time()"
	}
	return fmt.Sprintf("m.Par[%d]", id)
}

func (n naming) Var(id int) (string, func(int) string) {
	if n.fn != nil {
		return fmt.Sprintf("v%d", id), func(j int) string { return fmt.Sprintf("v%dd[%d]", id, j) }
	}
	return fmt.Sprintf("m.V%d", id), func(j int) string { return fmt.Sprintf("m.V%dd[%d]", id, j) }
}

func (naming) User(id int) string { return fmt.Sprintf("m.fn%d", id) }

// noVars lowers precalc expressions, which never read variables
type noVars struct{}

func (noVars) VarSlots(int) []topology.ProbeID { return nil }

func (g *gen) module() {
	m := g.m
	t := g.typ
	g.p("\n// %s nodes; %sNodeRoot maps each node to its merge representative.", t, t)
	var names, roots []string
	for _, n := range m.Topo.Nodes() {
		names = append(names, strconv.Quote(n.Name))
		roots = append(roots, strconv.Itoa(int(m.Topo.Find(n.ID))))
	}
	g.p("var %sNodes = []string{%s}", t, strings.Join(names, ", "))
	g.p("var %sNodeRoot = []int{%s}", t, strings.Join(roots, ", "))

	g.p("\n// Probes of %s, the indexes of P", t)
	g.p("const (")
	for _, pr := range m.Topo.Probes() {
		g.p("%sProbe%d = %d // %s", t, pr.ID, pr.ID, m.Topo.ProbeName(pr.ID))
	}
	g.p(")")

	g.p("\n// State slots of each live branch")
	g.p("const (")
	for _, bi := range m.Branches {
		g.p("%sB%dConst = 0 // %s", t, bi.Index, bi.Name)
		for k, d := range bi.Deps {
			g.p("%sB%dD%d = %d // %s", t, bi.Index, k, k+1, m.Topo.ProbeName(d.Probe))
		}
	}
	g.p(")")

	g.p("\n// %sBranches describes the live branches to the host", t)
	g.p("var %sBranches = []amsrt.BranchInfo{", t)
	for _, bi := range m.Branches {
		p, n := m.Topo.Ends(bi.ID)
		var ds []string
		for _, d := range bi.Deps {
			ds = append(ds, strconv.Itoa(int(d.Probe)))
		}
		g.p("{Name: %s, P: %d, N: %d, Kind: amsrt.%s, Element: amsrt.%s, Deps: []int{%s}},",
			strconv.Quote(bi.Name), p, n, kindName(bi.Kind.String()), elementName(bi.Element.String()), strings.Join(ds, ", "))
	}
	g.p("}")

	g.p("\n// %sState holds the branch state vectors", t)
	g.p("type %sState struct {", t)
	for _, bi := range m.Branches {
		g.p("B%d [%d]float64 // %s", bi.Index, bi.Slots(), bi.Name)
	}
	g.p("}")

	nb := len(m.Branches)
	g.p("\n// %s is the generated model of module %s", t, m.Name)
	g.p("type %s struct {", t)
	g.p("Host amsrt.Host")
	g.p("Temperature float64")
	g.p("P [%d]float64", len(m.Topo.Probes()))
	g.p("Par [%d]float64", len(m.Params))
	g.p("S %sState", t)
	g.p("Mode [%d]amsrt.Mode", nb)
	g.p("Elem [%d][]float64", nb)
	g.p("Trig [%d]amsrt.Trigger", len(m.Triggers))
	for _, v := range m.Vars {
		g.p("V%d float64 // %s", v.ID, v.Name)
		if !v.IsInt && v.TD.Len() > 0 {
			g.p("V%dd [%d]float64", v.ID, v.TD.Len())
		}
	}
	for _, s := range m.Stmts() {
		if st, ok := s.(*module.SysTask); ok && st.Name == "$monitor" && module.Live(s) {
			g.p("mon%d string", st.ID)
		}
	}
	g.p("set [%d]bool", len(m.Params))
	g.p("step int")
	g.p("}")

	g.p("\n// New%s returns a model at the default temperature", t)
	g.p("func New%s(host amsrt.Host) *%s {", t, t)
	g.p("return &%s{Host: host, Temperature: amsrt.DefaultTemperature}", t)
	g.p("}")

	g.setParam()
	g.precalc()

	g.p("\n// Zero clears the branch states before an evaluation pass")
	g.p("func (m *%s) Zero() {", t)
	g.p("m.S = %sState{}", t)
	g.p("m.Mode = [%d]amsrt.Mode{}", nb)
	g.p("}")

	g.p("\n// Eval computes every live branch state from P")
	g.p("func (m *%s) Eval() {", t)
	g.p("m.Zero()")
	g.stmt(m.Body, deps.PhaseEval, false, nil)
	g.p("}")

	g.p("\n// Accept runs events and output tasks at an accepted time point")
	g.p("func (m *%s) Accept() {", t)
	g.stmt(m.Body, deps.PhaseAccept, true, nil)
	g.p("m.step++")
	g.p("}")

	g.p("\n// Final runs the final_step events")
	g.p("func (m *%s) Final() {", t)
	module.Walk(m.Body, func(s module.Stmt) bool {
		ev, ok := s.(*module.Event)
		if !ok || !module.Live(s) {
			return true
		}
		for _, tr := range ev.Triggers {
			if tr.Kind == module.FinalStep {
				g.p("{")
				g.stmt(ev.Body, deps.PhaseFinal, true, nil)
				g.p("}")
				break
			}
		}
		return false
	})
	g.p("}")

	for _, fn := range m.Funcs {
		g.function(fn)
	}
}

func kindName(s string) string {
	return strings.ToUpper(s[:1]) + s[1:]
}

var elementNames = map[string]string{
	"plain": "Plain", "ddt": "Differentiator", "idt": "Integrator", "absdelay": "Delay",
	"transition": "Transition", "slew": "Slew", "noise": "Noise", "ac_stim": "ACStim",
	"filter_output": "FilterOutput", "zi_delay": "ZDelay",
}

func elementName(s string) string { return elementNames[s] }

func (g *gen) setParam() {
	t := g.typ
	g.p("\n// SetParam overrides a parameter before Precalc")
	g.p("func (m *%s) SetParam(name string, v float64) bool {", t)
	g.p("switch name {")
	for _, p := range g.m.Params {
		if p.Kind != module.UserParam {
			continue
		}
		g.p("case %s:", strconv.Quote(p.Name))
		g.p("m.Par[%d], m.set[%d] = v, true", p.ID, p.ID)
	}
	g.p("default:")
	g.p("return false")
	g.p("}")
	g.p("return true")
	g.p("}")
}

func (g *gen) precalc() {
	m := g.m
	g.p("\n// Precalc computes parameters, filter coefficients and element settings")
	g.p("func (m *%s) Precalc() {", g.typ)
	done := make(map[*module.FilterInst]bool)
	nm := naming{}
	for _, p := range m.Params {
		switch p.Kind {
		case module.FilterCoef:
			if !done[p.Filter] {
				done[p.Filter] = true
				g.filterCoefficients(p.Filter)
			}
			continue
		case module.UserParam:
			g.p("if !m.set[%d] {", p.ID)
		default:
			g.p("{")
		}
		if p.Prog != nil {
			val, _ := p.Prog.WriteGo(g.b, "", fmt.Sprintf("p%d", p.ID), nm, false)
			g.p("m.Par[%d] = %s", p.ID, val)
		}
		g.p("}")
		if p.IsInt {
			g.p("m.Par[%d] = math.Trunc(m.Par[%d])", p.ID, p.ID)
		}
	}
	for i, e := range m.Elements {
		bi, ok := m.Branch(e.Branch)
		if !ok || len(e.Progs) == 0 {
			continue
		}
		g.p("{")
		var vals []string
		for k, pr := range e.Progs {
			v, _ := pr.WriteGo(g.b, "", fmt.Sprintf("e%d_%d", i, k), nm, false)
			vals = append(vals, v)
		}
		g.p("m.Elem[%d] = []float64{%s}", bi.Index, strings.Join(vals, ", "))
		g.p("}")
	}
	g.p("}")
}

func (g *gen) filterCoefficients(f *module.FilterInst) {
	if len(f.NumCoef) == 0 && len(f.DenCoef) == 0 {
		return
	}
	g.p("{")
	lower := func(side string, els []*expr.Expr) string {
		var vals []string
		for k, e := range els {
			v, _ := e.Lower(deps.New(), noVars{}).WriteGo(g.b, "", fmt.Sprintf("f%d%s%d", f.ID, side, k), naming{}, false)
			vals = append(vals, v)
		}
		return "[]float64{" + strings.Join(vals, ", ") + "}"
	}
	num := lower("n", f.NumArgs)
	den := lower("d", f.DenArgs)
	lhs := [2]string{"_", "_"}
	if len(f.NumCoef) > 0 {
		lhs[0] = "num"
	}
	if len(f.DenCoef) > 0 {
		lhs[1] = "den"
	}
	g.p("%s, %s, clamped := amsrt.FilterCoefficients(%s, %s, %t, %t, %t, %d, %d)", lhs[0], lhs[1], num, den,
		f.Kind.Form.NumRoots(), f.Kind.Form.DenRoots(), f.Kind.Domain == filter.ZDomain, f.Degree+1, f.Plan.Pivot)
	g.p("if clamped {")
	g.p("amsrt.ReportClamp(m.Host, %s, %d)", strconv.Quote(f.Label()), f.Plan.Pivot)
	g.p("}")
	for j, p := range f.NumCoef {
		g.p("m.Par[%d] = num[%d] // %s", p.ID, j, p.Name)
	}
	for j, p := range f.DenCoef {
		g.p("m.Par[%d] = den[%d] // %s", p.ID, j, p.Name)
	}
	g.p("}")
}

// stmt prints one statement. Outside functions and unless all is set,
// statements that feed neither the phase nor a live branch are left out.
func (g *gen) stmt(s module.Stmt, ph deps.Phase, all bool, fn *module.Function) {
	if s == nil || !module.Live(s) {
		return
	}
	if fn == nil && !all && !g.m.Needed(s, ph) {
		return
	}
	nm := naming{fn: fn}
	prefix := fmt.Sprintf("s%d", module.Info(s).ID)
	switch s := s.(type) {
	case *module.Block:
		for _, c := range s.Stmts {
			g.stmt(c, ph, all, fn)
		}
	case *module.Assign:
		g.assign(s, nm, prefix, fn)
	case *module.Contribution:
		if ph == deps.PhaseEval {
			g.contribution(s, prefix)
		}
	case *module.If:
		g.p("{")
		c, _ := s.CondProg.WriteGo(g.b, "", prefix, nm, false)
		g.p("if amsrt.Truth(%s) {", c)
		g.stmt(s.Then, ph, all, fn)
		if s.Else != nil && module.Live(s.Else) {
			g.p("} else {")
			g.stmt(s.Else, ph, all, fn)
		}
		g.p("}")
		g.p("}")
	case *module.Case:
		g.p("{")
		sub, _ := s.SubProg.WriteGo(g.b, "", prefix, nm, false)
		type arm struct {
			cond string
			body module.Stmt
		}
		var arms []arm
		var def module.Stmt
		for i, it := range s.Items {
			if it.Values == nil {
				def = it.Body
				continue
			}
			var conds []string
			for k, pr := range it.Progs {
				v, _ := pr.WriteGo(g.b, "", fmt.Sprintf("%s_%d_%d", prefix, i, k), nm, false)
				conds = append(conds, sub+" == "+v)
			}
			arms = append(arms, arm{strings.Join(conds, " || "), it.Body})
		}
		g.p("switch {")
		for _, a := range arms {
			g.p("case %s:", a.cond)
			g.stmt(a.body, ph, all, fn)
		}
		if def != nil {
			g.p("default:")
			g.stmt(def, ph, all, fn)
		}
		g.p("}")
		g.p("}")
	case *module.Loop:
		g.loop(s, ph, all, fn, nm, prefix)
	case *module.Event:
		g.event(s, ph, all, nm, prefix)
	case *module.SysTask:
		if ph == deps.PhaseFinal || s.Phase() == ph {
			g.sysTask(s, nm, prefix)
		}
	}
}

func (g *gen) assign(s *module.Assign, nm naming, prefix string, fn *module.Function) {
	v := s.Var
	val, deriv := nm.Var(v.ID)
	g.p("{")
	if v.IsInt {
		res, _ := s.Prog.WriteGo(g.b, "", prefix, nm, false)
		g.p("%s = math.Round(%s)", val, res)
		g.p("}")
		return
	}
	n := v.TD.Len()
	if fn != nil {
		n = len(fn.Args)
	}
	res, ders := s.Prog.WriteGo(g.b, "", prefix, nm, n > 0)
	g.p("%s = %s", val, res)
	for j, d := range ders {
		g.p("%s = %s", deriv(j), d)
	}
	g.p("}")
}

// contribution adds the linearized value into the branch state: slot 0
// takes the value minus the linear part, slot 1+k the k-th partial.
func (g *gen) contribution(s *module.Contribution, prefix string) {
	bi, _ := g.m.Branch(s.Branch.ID)
	mode := "amsrt.ModePotential"
	if s.Kind == topology.Flow {
		mode = "amsrt.ModeFlow"
	}
	g.p("{")
	res, ders := s.Prog.WriteGo(g.b, "", prefix, naming{}, true)
	g.p("if m.Mode[%d] != %s {", bi.Index, mode)
	g.p("m.S.B%d = [%d]float64{}", bi.Index, bi.Slots())
	g.p("m.Mode[%d] = %s", bi.Index, mode)
	g.p("}")
	op := "+="
	if s.Branch.Reversed {
		op = "-="
	}
	lin := []string{res}
	for k, d := range ders {
		if d == "0" {
			continue
		}
		lin = append(lin, fmt.Sprintf("%s*m.P[%d]", d, s.Prog.Slots[k]))
	}
	g.p("m.S.B%d[0] %s %s", bi.Index, op, strings.Join(lin, " - "))
	for k, d := range ders {
		if d != "0" {
			g.p("m.S.B%d[%d] %s %s", bi.Index, k+1, op, d)
		}
	}
	g.p("}")
}

func (g *gen) loop(s *module.Loop, ph deps.Phase, all bool, fn *module.Function, nm naming, prefix string) {
	if s.Kind == module.RepeatLoop {
		g.p("{")
		c, _ := s.CondProg.WriteGo(g.b, "", prefix, nm, false)
		g.p("for i%d := 0; i%d < int(%s); i%d++ {", s.ID, s.ID, c, s.ID)
		g.stmt(s.Body, ph, all, fn)
		g.p("}")
		g.p("}")
		return
	}
	if s.Init != nil {
		g.stmt(s.Init, ph, all, fn)
	}
	g.p("for {")
	c, _ := s.CondProg.WriteGo(g.b, "", prefix, nm, false)
	g.p("if !amsrt.Truth(%s) {", c)
	g.p("break")
	g.p("}")
	g.stmt(s.Body, ph, all, fn)
	if s.Step != nil {
		g.stmt(s.Step, ph, all, fn)
	}
	g.p("}")
}

// event prints an event control. Trigger state advances only in Accept;
// initial_step bodies also run in the first Eval.
func (g *gen) event(s *module.Event, ph deps.Phase, all bool, nm naming, prefix string) {
	initial := false
	var checks []*module.Trigger
	for _, t := range s.Triggers {
		switch t.Kind {
		case module.InitialStep:
			initial = true
		case module.Cross, module.Above, module.Timer:
			checks = append(checks, t)
		}
	}
	if ph != deps.PhaseAccept {
		if initial && ph == deps.PhaseEval {
			g.p("if m.step == 0 {")
			g.stmt(s.Body, ph, all, nil)
			g.p("}")
		}
		return
	}
	if !initial && len(checks) == 0 {
		return
	}
	g.p("{")
	if initial {
		g.p("fire := m.step == 0")
	} else {
		g.p("fire := false")
	}
	for i, t := range checks {
		var args []string
		for k, pr := range t.Progs {
			v, _ := pr.WriteGo(g.b, "", fmt.Sprintf("%s_%d_%d", prefix, i, k), nm, false)
			args = append(args, v)
		}
		for len(args) < 2 {
			args = append(args, "0.0")
		}
		used := 2
		if t.Kind == module.Above {
			used = 1
		}
		// tolerances are accepted but not used
		for _, extra := range args[used:] {
			g.p("_ = %s", extra)
		}
		switch t.Kind {
		case module.Cross:
			g.p("if m.Trig[%d].Cross(%s, %s) {", t.Slot, args[0], args[1])
		case module.Above:
			g.p("if m.Trig[%d].Above(%s) {", t.Slot, args[0])
		case module.Timer:
			g.p("if m.Trig[%d].Timer(m.Host.Time(), %s, %s) {", t.Slot, args[0], args[1])
		}
		g.p("fire = true")
		g.p("}")
	}
	g.p("if fire {")
	g.stmt(s.Body, ph, all, nil)
	g.p("}")
	g.p("}")
}

func (g *gen) sysTask(s *module.SysTask, nm naming, prefix string) {
	g.p("{")
	format := ""
	var suffix []string
	var nums []string
	for i, a := range s.Args {
		if str, ok := a.IsString(); ok {
			if i == 0 {
				format = str
			} else {
				suffix = append(suffix, str)
			}
			continue
		}
		v, _ := s.Progs[i].WriteGo(g.b, "", fmt.Sprintf("%s_%d", prefix, i), nm, false)
		nums = append(nums, v)
	}
	switch s.Name {
	case "$finish", "$stop":
		code := "0"
		if len(nums) > 0 {
			code = "int(" + nums[0] + ")"
		}
		g.p("m.Host.Finish(%s)", code)
		g.p("}")
		return
	}
	call := fmt.Sprintf("amsrt.Message(%s, %s, %s", strconv.Quote(s.Name), strconv.Quote(format), strconv.Quote(strings.Join(suffix, "")))
	for _, n := range nums {
		call += ", " + n
	}
	call += ")"
	if s.Name == "$monitor" {
		g.p("if text := %s; text != m.mon%d {", call, s.ID)
		g.p("m.mon%d = text", s.ID)
		g.p("m.Host.Print(text)")
		g.p("}")
	} else {
		g.p("m.Host.Print(%s)", call)
	}
	g.p("}")
}

// function prints an analog function as a method returning the value and
// the partial in each argument
func (g *gen) function(fn *module.Function) {
	n := len(fn.Args)
	var params []string
	for i := range fn.Args {
		params = append(params, fmt.Sprintf("a%d", i))
	}
	g.p("\n// fn%d is analog function %s", fn.ID, fn.Name)
	sig := ""
	if n > 0 {
		sig = strings.Join(params, ", ") + " float64"
	}
	g.p("func (m *%s) fn%d(%s) (float64, []float64) {", g.typ, fn.ID, sig)
	vars := append([]*module.Var(nil), fn.Vars...)
	sort.Slice(vars, func(i, j int) bool { return vars[i].ID < vars[j].ID })
	for _, v := range vars {
		g.p("var v%d float64 // %s", v.ID, v.Name)
		if !v.IsInt {
			g.p("var v%dd [%d]float64", v.ID, n)
		}
	}
	for i, a := range fn.Args {
		g.p("v%d = a%d", a.ID, i)
		if !a.IsInt {
			g.p("v%dd[%d] = 1", a.ID, i)
		}
	}
	g.stmt(fn.Body, deps.PhaseEval, true, fn)
	for _, v := range vars {
		if v == fn.Result {
			continue
		}
		g.p("_ = v%d", v.ID)
		if !v.IsInt {
			g.p("_ = v%dd", v.ID)
		}
	}
	if fn.Result.IsInt {
		g.p("return v%d, make([]float64, %d)", fn.Result.ID, n)
	} else {
		g.p("return v%d, v%dd[:]", fn.Result.ID, fn.Result.ID)
	}
	g.p("}")
}

// Program renders one lowered program for the debug tool
func Program(p *dual.Program, wantD bool) string {
	var b strings.Builder
	val, ders := p.WriteGo(&b, "\t", "x", naming{}, wantD)
	fmt.Fprintf(&b, "\t// value %s", val)
	if len(ders) > 0 {
		fmt.Fprintf(&b, ", partials %s", strings.Join(ders, ", "))
	}
	b.WriteByte('\n')
	return b.String()
}
