package module

import (
	"math"
	"strings"

	"github.com/pkg/errors"

	"github.com/robert-at-pretension-io/amsgen/internal/deps"
	"github.com/robert-at-pretension-io/amsgen/internal/dual"
	"github.com/robert-at-pretension-io/amsgen/internal/expr"
	"github.com/robert-at-pretension-io/amsgen/internal/filter"
	"github.com/robert-at-pretension-io/amsgen/internal/topology"
	"github.com/robert-at-pretension-io/amsgen/pkg/amsrt"
)

// Instance runs a compiled module numerically. It executes the lowered
// statements in the same phases and order as generated code and is used
// to check the compiler against hand-derived results.
type Instance struct {
	m    *Module
	host amsrt.Host

	params   []float64
	override map[int]float64
	elemArgs map[*Element][]float64
	vars     []dual.Value
	probes   map[topology.ProbeID]float64
	states   [][]float64
	modes    []amsrt.Mode
	triggers []amsrt.Trigger
	monitor  map[*SysTask]string
	step     int
	err      error

	// Temperature is read by $temperature and $vt
	Temperature float64
}

// NewInstance prepares a module for evaluation. Modules with errors
// cannot be run.
func NewInstance(m *Module, host amsrt.Host) (*Instance, error) {
	if m.Failed() {
		return nil, errors.Errorf("module %s has errors", m.Name)
	}
	if host == nil {
		host = &amsrt.StdHost{}
	}
	in := &Instance{
		m:           m,
		host:        host,
		params:      make([]float64, len(m.Params)),
		override:    make(map[int]float64),
		elemArgs:    make(map[*Element][]float64),
		vars:        make([]dual.Value, len(m.Vars)),
		states:      make([][]float64, len(m.Branches)),
		modes:       make([]amsrt.Mode, len(m.Branches)),
		triggers:    make([]amsrt.Trigger, len(m.Triggers)),
		monitor:     make(map[*SysTask]string),
		Temperature: amsrt.DefaultTemperature,
	}
	for i, b := range m.Branches {
		in.states[i] = make([]float64, b.Slots())
	}
	return in, nil
}

// SetParam overrides a parameter before Precalc
func (in *Instance) SetParam(name string, v float64) error {
	p, ok := in.m.LookupParam(name)
	if !ok {
		return errors.Errorf("module %s has no parameter %s", in.m.Name, name)
	}
	if p.Kind != UserParam {
		return errors.Errorf("%s is not an overridable parameter", name)
	}
	in.override[p.ID] = v
	return nil
}

// Param returns a computed parameter value
func (in *Instance) Param(name string) (float64, bool) {
	p, ok := in.m.LookupParam(name)
	if !ok {
		return 0, false
	}
	return in.params[p.ID], true
}

// Var returns the current value of a module variable
func (in *Instance) Var(name string) (float64, bool) {
	v, ok := in.m.LookupVar(name)
	if !ok {
		return 0, false
	}
	return in.vars[v.ID].V, true
}

// ElementArgs returns the precalc settings of a generated element
func (in *Instance) ElementArgs(e *Element) []float64 { return in.elemArgs[e] }

// Precalc computes parameters, derived filter coefficients and element
// settings in declaration order.
func (in *Instance) Precalc() error {
	fr := &frame{in: in}
	done := make(map[*FilterInst]bool)
	for _, p := range in.m.Params {
		switch p.Kind {
		case FilterCoef:
			if !done[p.Filter] {
				in.filterCoefficients(fr, p.Filter)
				done[p.Filter] = true
			}
			continue
		case UserParam:
			if v, ok := in.override[p.ID]; ok {
				in.params[p.ID] = v
				break
			}
			fallthrough
		default:
			if p.Prog != nil {
				in.params[p.ID] = p.Prog.Eval(fr).V
			}
		}
		if p.IsInt {
			in.params[p.ID] = math.Trunc(in.params[p.ID])
		}
	}
	for _, e := range in.m.Elements {
		args := make([]float64, len(e.Progs))
		for i, pr := range e.Progs {
			args[i] = pr.Eval(fr).V
		}
		in.elemArgs[e] = args
	}
	return nil
}

// filterCoefficients normalizes the coefficients of a filter whose
// arguments are computed. A zero pivot is clamped and reported to the host.
func (in *Instance) filterCoefficients(fr *frame, f *FilterInst) {
	eval := func(els []*expr.Expr) []float64 {
		out := make([]float64, len(els))
		for i, e := range els {
			out[i] = e.Lower(deps.New(), depEnv{m: in.m, vars: in.m.Vars}).Eval(fr).V
		}
		return out
	}
	num, den, clamped := amsrt.FilterCoefficients(eval(f.NumArgs), eval(f.DenArgs),
		f.Kind.Form.NumRoots(), f.Kind.Form.DenRoots(), f.Kind.Domain == filter.ZDomain, f.Degree+1, f.Plan.Pivot)
	if clamped {
		amsrt.ReportClamp(in.host, f.Label(), f.Plan.Pivot)
	}
	for j, p := range f.NumCoef {
		in.params[p.ID] = num[j]
	}
	for j, p := range f.DenCoef {
		in.params[p.ID] = den[j]
	}
}

// Eval runs the evaluation phase at the given probe values and fills the
// branch states
func (in *Instance) Eval(probes map[topology.ProbeID]float64) error {
	in.probes = probes
	for i := range in.states {
		for j := range in.states[i] {
			in.states[i][j] = 0
		}
		in.modes[i] = amsrt.ModeNone
	}
	in.err = nil
	in.exec(&frame{in: in, vars: in.vars}, in.m.Body, deps.PhaseEval, false)
	return in.err
}

// State returns the state vector of a branch after Eval: the constant
// term followed by one partial per dependency in layout order.
func (in *Instance) State(b topology.BranchID) ([]float64, bool) {
	info, ok := in.m.Branch(b)
	if !ok {
		return nil, false
	}
	return in.states[info.Index], true
}

// Mode returns the form a branch was driven in by the last Eval
func (in *Instance) Mode(b topology.BranchID) amsrt.Mode {
	info, ok := in.m.Branch(b)
	if !ok {
		return amsrt.ModeNone
	}
	return in.modes[info.Index]
}

// Accept runs the accept phase for an accepted time point: events fire,
// variables feeding output are updated and system tasks print.
func (in *Instance) Accept() error {
	in.err = nil
	in.exec(&frame{in: in, vars: in.vars}, in.m.Body, deps.PhaseAccept, true)
	in.step++
	return in.err
}

// Final runs the bodies of final_step events
func (in *Instance) Final() error {
	in.err = nil
	fr := &frame{in: in, vars: in.vars}
	Walk(in.m.Body, func(s Stmt) bool {
		ev, ok := s.(*Event)
		if !ok || !Live(s) {
			return true
		}
		for _, t := range ev.Triggers {
			if t.Kind == FinalStep {
				in.exec(fr, ev.Body, deps.PhaseFinal, true)
				break
			}
		}
		return false
	})
	return in.err
}

func (in *Instance) fail(err error) {
	if in.err == nil {
		in.err = err
	}
}

// frame is the variable table of the module or of one function call
type frame struct {
	in   *Instance
	fn   *Function
	vars []dual.Value
}

func (f *frame) Probe(id int) float64 { return f.in.probes[topology.ProbeID(id)] }

func (f *frame) Param(id int) float64 {
	switch id {
	case expr.SysTemperature:
		return f.in.Temperature
	case expr.SysVt:
		return amsrt.Vt(f.in.Temperature)
	case expr.SysMfactor:
		return 1
	case expr.SysAbstime:
		return f.in.host.Time()
	}
	return f.in.params[id]
}

func (f *frame) Var(id int) dual.Value { return f.vars[id] }

// CallUser runs an analog function with each argument as its own
// derivative key
func (f *frame) CallUser(id int, args []float64) (float64, []float64) {
	fn := f.in.m.Funcs[id]
	n := len(fn.Args)
	call := &frame{in: f.in, fn: fn, vars: make([]dual.Value, len(fn.Vars))}
	for i, a := range fn.Args {
		d := make([]float64, n)
		d[i] = 1
		call.vars[a.ID] = dual.Value{V: args[i], D: d}
	}
	f.in.exec(call, fn.Body, deps.PhaseEval, true)
	res := call.vars[fn.Result.ID]
	out := make([]float64, n)
	if !fn.IsInt {
		copy(out, res.D)
	}
	return res.V, out
}

func truth(p *dual.Program, f *frame) bool { return amsrt.Truth(p.Eval(f).V) }

// exec runs one statement. Outside functions and unless all is set,
// statements that feed neither the phase nor a live branch are skipped.
func (in *Instance) exec(f *frame, s Stmt, ph deps.Phase, all bool) {
	if s == nil || !Live(s) || in.err != nil {
		return
	}
	if f.fn == nil && !all && !in.m.Needed(s, ph) {
		return
	}
	switch s := s.(type) {
	case *Block:
		for _, c := range s.Stmts {
			in.exec(f, c, ph, all)
		}
	case *Assign:
		in.assign(f, s)
	case *Contribution:
		if ph == deps.PhaseEval {
			in.contribute(f, s)
		}
	case *If:
		if truth(s.CondProg, f) {
			in.exec(f, s.Then, ph, all)
		} else {
			in.exec(f, s.Else, ph, all)
		}
	case *Case:
		in.execCase(f, s, ph, all)
	case *Loop:
		in.execLoop(f, s, ph, all)
	case *Event:
		if in.fires(f, s, ph) {
			in.exec(f, s.Body, ph, all)
		}
	case *SysTask:
		if ph == deps.PhaseFinal || s.Phase() == ph {
			in.sysTask(f, s)
		}
	}
}

func (in *Instance) assign(f *frame, s *Assign) {
	v := s.Prog.Eval(f)
	if s.Var.IsInt {
		f.vars[s.Var.ID] = dual.Value{V: math.Round(v.V)}
		return
	}
	f.vars[s.Var.ID] = v
}

// contribute adds one linearized contribution to its branch state:
// slot 0 collects value minus the linear part, slot 1+k the k-th partial.
func (in *Instance) contribute(f *frame, s *Contribution) {
	info := in.m.byBranch[s.Branch.ID]
	st := in.states[info.Index]
	mode := amsrt.ModePotential
	if s.Kind == topology.Flow {
		mode = amsrt.ModeFlow
	}
	if in.modes[info.Index] != mode {
		// A switch branch changing form discards what the other form
		// accumulated.
		for j := range st {
			st[j] = 0
		}
		in.modes[info.Index] = mode
	}
	v := s.Prog.Eval(f)
	sign := s.Branch.Sign()
	c := v.V
	for k, d := range v.D {
		c -= d * f.Probe(s.Prog.Slots[k])
		st[1+k] += sign * d
	}
	st[0] += sign * c
}

func (in *Instance) execCase(f *frame, s *Case, ph deps.Phase, all bool) {
	sub := s.SubProg.Eval(f).V
	var def *CaseItem
	for _, it := range s.Items {
		if it.Values == nil {
			def = it
			continue
		}
		for _, p := range it.Progs {
			if p.Eval(f).V == sub {
				in.exec(f, it.Body, ph, all)
				return
			}
		}
	}
	if def != nil {
		in.exec(f, def.Body, ph, all)
	}
}

func (in *Instance) execLoop(f *frame, s *Loop, ph deps.Phase, all bool) {
	limit := in.m.opts.LoopLimit
	count := 0
	over := func() bool {
		count++
		if limit > 0 && count > limit {
			in.fail(errors.Errorf("%s: %s loop did not finish within %d iterations", s.Pos, s.Kind, limit))
			return true
		}
		return false
	}
	switch s.Kind {
	case RepeatLoop:
		n := int(s.CondProg.Eval(f).V)
		for i := 0; i < n && !over(); i++ {
			in.exec(f, s.Body, ph, all)
		}
	default:
		if s.Init != nil {
			in.exec(f, s.Init, ph, all)
		}
		for in.err == nil && truth(s.CondProg, f) && !over() {
			in.exec(f, s.Body, ph, all)
			if s.Step != nil {
				in.exec(f, s.Step, ph, all)
			}
		}
	}
}

// fires decides whether an event body runs in this phase. Trigger state
// only advances at accepted time points.
func (in *Instance) fires(f *frame, s *Event, ph deps.Phase) bool {
	hit := false
	for _, t := range s.Triggers {
		switch t.Kind {
		case InitialStep:
			hit = hit || in.step == 0 && ph != deps.PhaseFinal
		case FinalStep:
			hit = hit || ph == deps.PhaseFinal
		default:
			if ph == deps.PhaseAccept && in.trigger(f, t) {
				hit = true
			}
		}
	}
	return hit
}

func (in *Instance) trigger(f *frame, t *Trigger) bool {
	st := &in.triggers[t.Slot]
	arg := func(i int) float64 {
		if i < len(t.Progs) {
			return t.Progs[i].Eval(f).V
		}
		return 0
	}
	switch t.Kind {
	case Cross:
		return st.Cross(arg(0), arg(1))
	case Above:
		return st.Above(arg(0))
	case Timer:
		return st.Timer(in.host.Time(), arg(0), arg(1))
	}
	return false
}

func (in *Instance) sysTask(f *frame, s *SysTask) {
	var format string
	var nums []float64
	var extra []string
	for i, a := range s.Args {
		if str, ok := a.IsString(); ok {
			if i == 0 {
				format = str
			} else {
				extra = append(extra, str)
			}
			continue
		}
		nums = append(nums, s.Progs[i].Eval(f).V)
	}
	switch s.Name {
	case "$finish", "$stop":
		code := 0
		if len(nums) > 0 {
			code = int(nums[0])
		}
		in.host.Finish(code)
		return
	}
	text := amsrt.Message(s.Name, format, strings.Join(extra, ""), nums...)
	if s.Name == "$monitor" {
		if in.monitor[s] == text {
			return
		}
		in.monitor[s] = text
	}
	in.host.Print(text)
}
