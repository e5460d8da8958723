// Package amsrt is the runtime support library linked by generated models.
// The compiler uses the same functions for constant folding and for its
// reference interpreter, so folded values match generated code bit for bit.
package amsrt

import "math"

// LimexpBreak is the argument above which Limexp continues linearly
const LimexpBreak = 80.0

// B2F converts a truth value to 1 or 0
func B2F(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

// Truth is the HDL truth test
func Truth(v float64) bool { return v != 0 }

// IDiv is integer division truncating toward zero. Division by zero yields 0.
func IDiv(a, b float64) float64 {
	if b == 0 {
		return 0
	}
	return math.Trunc(a / b)
}

// Mod is the HDL remainder; the sign follows the dividend.
func Mod(a, b float64) float64 {
	if b == 0 {
		return 0
	}
	return math.Mod(a, b)
}

// DPow returns a**b and its partials. The partial in b is zero where ln(a)
// is undefined.
func DPow(a, b float64) (v, da, db float64) {
	v = math.Pow(a, b)
	if b != 0 {
		da = b * math.Pow(a, b-1)
	}
	if a > 0 {
		db = math.Log(a) * v
	}
	return
}

// DExp returns exp(a) and its derivative
func DExp(a float64) (v, da float64) {
	v = math.Exp(a)
	return v, v
}

// DLimexp is exp with linear continuation above LimexpBreak
func DLimexp(a float64) (v, da float64) {
	if a < LimexpBreak {
		v = math.Exp(a)
		return v, v
	}
	e := math.Exp(LimexpBreak)
	return e * (1 + a - LimexpBreak), e
}

// DLn is the natural logarithm
func DLn(a float64) (v, da float64) { return math.Log(a), 1 / a }

// DLog is the decimal logarithm
func DLog(a float64) (v, da float64) { return math.Log10(a), 1 / (a * math.Ln10) }

// DSqrt is the square root
func DSqrt(a float64) (v, da float64) {
	v = math.Sqrt(a)
	if v == 0 {
		return 0, 0
	}
	return v, 0.5 / v
}

// DAbs is the absolute value; the derivative at 0 is taken as 0
func DAbs(a float64) (v, da float64) {
	switch {
	case a > 0:
		return a, 1
	case a < 0:
		return -a, -1
	}
	return 0, 0
}

// DMin selects the smaller argument
func DMin(a, b float64) (v, da, db float64) {
	if a <= b {
		return a, 1, 0
	}
	return b, 0, 1
}

// DMax selects the larger argument
func DMax(a, b float64) (v, da, db float64) {
	if a >= b {
		return a, 1, 0
	}
	return b, 0, 1
}

func DSin(a float64) (v, da float64) { return math.Sin(a), math.Cos(a) }
func DCos(a float64) (v, da float64) { return math.Cos(a), -math.Sin(a) }

func DTan(a float64) (v, da float64) {
	v = math.Tan(a)
	return v, 1 + v*v
}

func DAsin(a float64) (v, da float64) { return math.Asin(a), 1 / math.Sqrt(1-a*a) }
func DAcos(a float64) (v, da float64) { return math.Acos(a), -1 / math.Sqrt(1-a*a) }
func DAtan(a float64) (v, da float64) { return math.Atan(a), 1 / (1 + a*a) }

// DAtan2 is atan2(y, x)
func DAtan2(y, x float64) (v, dy, dx float64) {
	r2 := x*x + y*y
	v = math.Atan2(y, x)
	if r2 == 0 {
		return v, 0, 0
	}
	return v, x / r2, -y / r2
}

func DSinh(a float64) (v, da float64) { return math.Sinh(a), math.Cosh(a) }
func DCosh(a float64) (v, da float64) { return math.Cosh(a), math.Sinh(a) }

func DTanh(a float64) (v, da float64) {
	v = math.Tanh(a)
	return v, 1 - v*v
}

// DHypot is sqrt(a*a + b*b)
func DHypot(a, b float64) (v, da, db float64) {
	v = math.Hypot(a, b)
	if v == 0 {
		return 0, 0, 0
	}
	return v, a / v, b / v
}

func DFloor(a float64) (v, da float64) { return math.Floor(a), 0 }
func DCeil(a float64) (v, da float64)  { return math.Ceil(a), 0 }

// IPow is integer exponentiation truncated toward zero
func IPow(a, b float64) float64 {
	return math.Trunc(math.Pow(a, b))
}
