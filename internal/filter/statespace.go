package filter

import (
	"github.com/pkg/errors"
	"github.com/robert-at-pretension-io/amsgen/pkg/rational"
	"gonum.org/v1/gonum/mat"
)

// StateSpace is the controllable canonical realization x' = Ax + Bu,
// y = Cx + Du of a proper Laplace transfer function. A zero-order system
// has no states and only D.
type StateSpace struct {
	A *mat.Dense
	B *mat.VecDense
	C *mat.VecDense
	D float64
}

// Order is the number of states
func (ss *StateSpace) Order() int {
	if ss.A == nil {
		return 0
	}
	r, _ := ss.A.Dims()
	return r
}

// NewStateSpace realizes num/den
func NewStateSpace(num, den []float64) (*StateSpace, error) {
	n := rational.Degree(den)
	if n < 0 {
		return nil, errors.New("zero denominator")
	}
	if rational.Degree(num) > n {
		return nil, errors.Errorf("improper transfer function: numerator degree %d exceeds denominator degree %d", rational.Degree(num), n)
	}
	lead := den[n]
	a := make([]float64, n+1)
	b := make([]float64, n+1)
	for i := 0; i <= n; i++ {
		a[i] = den[i] / lead
		if i < len(num) {
			b[i] = num[i] / lead
		}
	}
	ss := &StateSpace{D: b[n]}
	if n == 0 {
		return ss, nil
	}
	ss.A = mat.NewDense(n, n, nil)
	for i := 0; i < n-1; i++ {
		ss.A.Set(i, i+1, 1)
	}
	for j := 0; j < n; j++ {
		ss.A.Set(n-1, j, -a[j])
	}
	ss.B = mat.NewVecDense(n, nil)
	ss.B.SetVec(n-1, 1)
	ss.C = mat.NewVecDense(n, nil)
	for j := 0; j < n; j++ {
		ss.C.SetVec(j, b[j]-b[n]*a[j])
	}
	return ss, nil
}

// StepResponse integrates the unit step response with classic fourth
// order Runge-Kutta and returns y at t = 0, dt, ..., steps*dt.
func (ss *StateSpace) StepResponse(dt float64, steps int) []float64 {
	out := make([]float64, steps+1)
	n := ss.Order()
	if n == 0 {
		for i := range out {
			out[i] = ss.D
		}
		return out
	}
	x := mat.NewVecDense(n, nil)
	deriv := func(x *mat.VecDense) *mat.VecDense {
		d := mat.NewVecDense(n, nil)
		d.MulVec(ss.A, x)
		d.AddVec(d, ss.B)
		return d
	}
	step := func(x *mat.VecDense, k *mat.VecDense, h float64) *mat.VecDense {
		y := mat.NewVecDense(n, nil)
		y.AddScaledVec(x, h, k)
		return y
	}
	out[0] = mat.Dot(ss.C, x) + ss.D
	for i := 1; i <= steps; i++ {
		k1 := deriv(x)
		k2 := deriv(step(x, k1, dt/2))
		k3 := deriv(step(x, k2, dt/2))
		k4 := deriv(step(x, k3, dt))
		sum := mat.NewVecDense(n, nil)
		sum.AddVec(k1, k4)
		sum.AddScaledVec(sum, 2, k2)
		sum.AddScaledVec(sum, 2, k3)
		x.AddScaledVec(x, dt/6, sum)
		out[i] = mat.Dot(ss.C, x) + ss.D
	}
	return out
}

// DiscreteStep runs the difference equation of a z-domain filter,
// sum den[k]*y[n-k] = sum num[k]*x[n-k], for a unit step input.
func DiscreteStep(num, den []float64, steps int) []float64 {
	y := make([]float64, steps+1)
	d0, _ := rational.ClampPivot(den[0])
	for n := range y {
		acc := 0.0
		for k, c := range num {
			if n-k >= 0 {
				acc += c
			}
		}
		for k := 1; k < len(den); k++ {
			if n-k >= 0 {
				acc -= den[k] * y[n-k]
			}
		}
		y[n] = acc / d0
	}
	return y
}

// Step dispatches on the plan's domain; dt is ignored for z-domain plans,
// which advance one sample per step.
func (p *Plan) Step(dt float64, steps int) ([]float64, error) {
	if p.Kind.Domain == ZDomain {
		return DiscreteStep(p.Num, p.Den, steps), nil
	}
	ss, err := NewStateSpace(p.Num, p.Den)
	if err != nil {
		return nil, errors.Wrapf(err, "%s", p.Kind)
	}
	return ss.StepResponse(dt, steps), nil
}
