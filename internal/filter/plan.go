package filter

import (
	"fmt"

	"github.com/pkg/errors"
	"github.com/robert-at-pretension-io/amsgen/pkg/rational"
)

// Mode is how a state stage relates to its input
type Mode int

const (
	Integrate Mode = iota
	Differentiate
	DelayStage
)

func (m Mode) String() string {
	switch m {
	case Integrate:
		return "integrate"
	case Differentiate:
		return "differentiate"
	}
	return "delay"
}

// Stage is state s_j of the chain. Writing u_k = den[k]*y - num[k]*x for
// input x and output y, an integrating stage computes
//
//	s_j = idt(u_{j-1} + s_{j-1})
//
// and a differentiating (or delay) stage computes
//
//	s_j = ddt(u_j + s_{j+1})
//
// with s_0 and s_{m+1} identically zero.
type Stage struct {
	State int
	Mode  Mode
	// Term is k of the u_k feeding the stage.
	Term int
	// Next is the neighbouring state fed into the stage, 0 if none.
	Next int
}

// Plan is the realization of one rational filter call
type Plan struct {
	Kind Kind
	// Num and Den are normalized and padded to the same length m+1.
	Num, Den []float64
	Pivot    int
	// Clamped is set when Den[Pivot] was zero and had to be replaced.
	Clamped bool
	Stages  []Stage
}

// Polynomials checks the raw argument arrays of a filter call and turns
// them into normalized ascending-power polynomials (see
// rational.Coefficients). Root arrays hold (re, im) pairs.
func Polynomials(k Kind, numArg, denArg []float64) (num, den []float64, err error) {
	if k.Form.NumRoots() && len(numArg)%2 != 0 {
		return nil, nil, errors.Errorf("%s: zeros must be (re, im) pairs, got %d values", k, len(numArg))
	}
	if k.Form.DenRoots() && len(denArg)%2 != 0 {
		return nil, nil, errors.Errorf("%s: poles must be (re, im) pairs, got %d values", k, len(denArg))
	}
	if !k.Form.DenRoots() && len(denArg) == 0 {
		return nil, nil, errors.Errorf("%s: empty denominator", k)
	}
	num, den = rational.Coefficients(numArg, denArg, k.Form.NumRoots(), k.Form.DenRoots(), k.Domain == ZDomain)
	return num, den, nil
}

// Degree is the number of states a filter with the given argument
// lengths needs, known before the coefficients are.
func Degree(k Kind, numLen, denLen int) int {
	n, d := numLen-1, denLen-1
	if k.Form.NumRoots() {
		n = numLen / 2
	}
	if k.Form.DenRoots() {
		d = denLen / 2
	}
	if n > d {
		return n
	}
	if d < 0 {
		return 0
	}
	return d
}

// NewPlan lays out the stages for normalized polynomials. Laplace filters
// pivot on the largest denominator coefficient; z-domain filters always
// pivot on the first so that every stage is a unit delay.
func NewPlan(k Kind, num, den []float64) *Plan {
	m := len(den) - 1
	if len(num)-1 > m {
		m = len(num) - 1
	}
	if m < 0 {
		m = 0
	}
	p := &Plan{Kind: k, Num: rational.Pad(num, m+1), Den: rational.Pad(den, m+1)}
	if k.Domain == ZDomain {
		p.Pivot = 0
	} else {
		p.Pivot = rational.Pivot(p.Den)
	}
	p.Den[p.Pivot], p.Clamped = rational.ClampPivot(p.Den[p.Pivot])
	p.layout(m)
	return p
}

// DeferredPlan lays out the stages of a filter whose coefficients are
// only known at precalc time. den holds the denominator arguments and
// known marks the literal ones. A fully literal denominator pivots as in
// NewPlan; otherwise a Laplace filter pivots on its highest coefficient
// that is not a literal zero, which precalc clamps if it evaluates to zero.
// Num and Den stay nil.
func DeferredPlan(k Kind, numLen int, den []float64, known []bool) *Plan {
	m := Degree(k, numLen, len(den))
	p := &Plan{Kind: k}
	p.Pivot, p.Clamped = deferredPivot(k, den, known, m)
	p.layout(m)
	return p
}

func deferredPivot(k Kind, den []float64, known []bool, m int) (int, bool) {
	literal := true
	for _, ok := range known {
		literal = literal && ok
	}
	if literal {
		_, d := rational.Coefficients(nil, den, false, k.Form.DenRoots(), k.Domain == ZDomain)
		d = rational.Pad(d, m+1)
		pivot := 0
		if k.Domain != ZDomain {
			pivot = rational.Pivot(d)
		}
		_, clamped := rational.ClampPivot(d[pivot])
		return pivot, clamped
	}
	switch {
	case k.Domain == ZDomain:
		return 0, false
	case k.Form.DenRoots():
		// prod(s - r) is monic
		return len(den) / 2, false
	}
	for j := len(den) - 1; j > 0; j-- {
		if !known[j] || den[j] != 0 {
			return j, false
		}
	}
	return 0, false
}

func (p *Plan) layout(m int) {
	k := p.Kind
	for j := 1; j <= m; j++ {
		st := Stage{State: j}
		switch {
		case k.Domain == ZDomain:
			st.Mode, st.Term = DelayStage, j
			if j < m {
				st.Next = j + 1
			}
		case j <= p.Pivot:
			st.Mode, st.Term = Integrate, j-1
			if j > 1 {
				st.Next = j - 1
			}
		default:
			st.Mode, st.Term = Differentiate, j
			if j < m {
				st.Next = j + 1
			}
		}
		p.Stages = append(p.Stages, st)
	}
}

// Order is the number of states
func (p *Plan) Order() int { return len(p.Stages) }

// Branches is the number of elementary branches the plan needs: the output
// stage plus one per state.
func (p *Plan) Branches() int { return 1 + len(p.Stages) }

// OutputStates returns the states read by the output stage,
// y = (num[p]*x - s_p - s_{p+1}) / den[p]. Zero entries mean none.
func (p *Plan) OutputStates() (lo, hi int) {
	lo = p.Pivot
	if p.Pivot+1 <= p.Order() {
		hi = p.Pivot + 1
	}
	return lo, hi
}

// Transfer evaluates the realized chain at the complex frequency s (or, in
// the z domain, at z). It solves the stage equations directly and so
// checks the realization independently of the polynomials.
func (p *Plan) Transfer(s complex128) complex128 {
	op := s // ddt
	if p.Kind.Domain == ZDomain {
		op = 1 / s // unit delay
	}
	// Every quantity is affine in y with x = 1: value = a + b*y.
	type affine struct{ a, b complex128 }
	u := func(k int) affine {
		return affine{complex(-p.Num[k], 0), complex(p.Den[k], 0)}
	}
	m := p.Order()
	st := make([]affine, m+2)
	for j := 1; j <= m && j <= p.Pivot; j++ {
		in := u(j - 1)
		prev := st[j-1]
		st[j] = affine{(in.a + prev.a) / s, (in.b + prev.b) / s}
	}
	for j := m; j > p.Pivot; j-- {
		in := u(j)
		next := st[j+1]
		st[j] = affine{op * (in.a + next.a), op * (in.b + next.b)}
	}
	// den[p]*y = num[p] - s_p - s_{p+1}
	sp, sq := st[p.Pivot], st[p.Pivot+1]
	dp := complex(p.Den[p.Pivot], 0)
	return (complex(p.Num[p.Pivot], 0) - sp.a - sq.a) / (dp + sp.b + sq.b)
}

func (p *Plan) String() string {
	s := fmt.Sprintf("%s num=%v den=%v pivot=%d", p.Kind, p.Num, p.Den, p.Pivot)
	for _, st := range p.Stages {
		s += fmt.Sprintf(" s%d=%s(u%d", st.State, st.Mode, st.Term)
		if st.Next != 0 {
			s += fmt.Sprintf("+s%d", st.Next)
		}
		s += ")"
	}
	return s
}
