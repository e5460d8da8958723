// Package rational holds the polynomial helpers behind rational filters.
// Coefficients are stored in ascending powers: p[i] multiplies x**i.
// Generated models call into this package from their precalc entry point
// when filter coefficients are not known at compile time.
package rational

import (
	"math"
	"math/cmplx"
)

// MinPivot is the magnitude a zero pivot coefficient is clamped to
const MinPivot = 1e-30

// Expand multiplies out prod(x - r) over the roots, given as (re, im)
// pairs. Roots with a nonzero imaginary part must come with their
// conjugate for the result to be real; the imaginary residue is dropped.
func Expand(pairs []float64) []float64 {
	c := []complex128{1}
	for k := 0; k+1 < len(pairs); k += 2 {
		r := complex(pairs[k], pairs[k+1])
		next := make([]complex128, len(c)+1)
		for i, a := range c {
			next[i+1] += a
			next[i] -= r * a
		}
		c = next
	}
	out := make([]float64, len(c))
	for i, a := range c {
		out[i] = real(a)
	}
	return out
}

// Coefficients turns filter arguments into ascending-power numerator and
// denominator polynomials. Root arguments are expanded; inverse selects
// polynomials in 1/z, where prod(z - r) becomes prod(1 - r/z). When both
// sides are coefficient arrays they are scaled together by the factor
// that normalizes the denominator, leaving the ratio unchanged. Expanded
// roots are normalized on their own, the product-of-(1 - x/root)
// convention, and a coefficient array facing them is kept as given.
func Coefficients(num, den []float64, numRoots, denRoots, inverse bool) (n, d []float64) {
	n = poly(num, numRoots, inverse)
	d = poly(den, denRoots, inverse)
	if !numRoots && !denRoots {
		Scale(n, Normalize(d))
		return n, d
	}
	if numRoots {
		Normalize(n)
	}
	if denRoots {
		Normalize(d)
	}
	return n, d
}

func poly(arg []float64, roots, inverse bool) []float64 {
	if !roots {
		return append([]float64(nil), arg...)
	}
	p := Expand(arg)
	if inverse {
		for i, j := 0, len(p)-1; i < j; i, j = i+1, j-1 {
			p[i], p[j] = p[j], p[i]
		}
	}
	return p
}

// Pad returns p resized to n coefficients
func Pad(p []float64, n int) []float64 {
	out := make([]float64, n)
	copy(out, p)
	return out
}

// Normalize scales p in place so that its lowest-index nonzero coefficient
// is 1 and returns the factor applied. An all-zero polynomial is left
// alone with factor 1.
func Normalize(p []float64) float64 {
	for _, a := range p {
		if a != 0 {
			f := 1 / a
			Scale(p, f)
			return f
		}
	}
	return 1
}

// Scale multiplies every coefficient by f
func Scale(p []float64, f float64) {
	for i := range p {
		p[i] *= f
	}
}

// Pivot returns the index of the largest-magnitude coefficient; ties go to
// the lowest index. An all-zero (or empty) polynomial yields the last
// index, so that the caller always has a term to solve for.
func Pivot(p []float64) int {
	best, idx := 0.0, -1
	for i, a := range p {
		if m := math.Abs(a); m > best {
			best, idx = m, i
		}
	}
	if idx < 0 {
		return len(p) - 1
	}
	return idx
}

// ClampPivot returns v, or MinPivot with v's sign when |v| is smaller.
// The flag reports whether clamping happened.
func ClampPivot(v float64) (float64, bool) {
	if math.Abs(v) >= MinPivot {
		return v, false
	}
	if math.Signbit(v) {
		return -MinPivot, true
	}
	return MinPivot, true
}

// Degree is the index of the highest nonzero coefficient, -1 for zero
func Degree(p []float64) int {
	for i := len(p) - 1; i >= 0; i-- {
		if p[i] != 0 {
			return i
		}
	}
	return -1
}

// Eval evaluates p at x with Horner's rule
func Eval(p []float64, x float64) float64 {
	v := 0.0
	for i := len(p) - 1; i >= 0; i-- {
		v = v*x + p[i]
	}
	return v
}

// EvalComplex evaluates p at z
func EvalComplex(p []float64, z complex128) complex128 {
	var v complex128
	for i := len(p) - 1; i >= 0; i-- {
		v = v*z + complex(p[i], 0)
	}
	return v
}

// Response is H(z) = num(z)/den(z)
func Response(num, den []float64, z complex128) complex128 {
	return EvalComplex(num, z) / EvalComplex(den, z)
}

// Gain is |H(jw)| of a Laplace transfer function
func Gain(num, den []float64, w float64) float64 {
	return cmplx.Abs(Response(num, den, complex(0, w)))
}
