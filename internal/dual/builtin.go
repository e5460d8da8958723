package dual

import (
	"math"

	"github.com/robert-at-pretension-io/amsgen/pkg/amsrt"
)

// Builtin is a math function with first partials
type Builtin struct {
	Name  string
	Arity int
	// Go is the amsrt function the emitter calls; it returns the value
	// followed by one partial per argument.
	Go string
	// Piecewise functions have zero partials everywhere they are defined.
	Piecewise bool
	Fn        func(args []float64) (float64, []float64)
}

func unary(name, goName string, f func(float64) (float64, float64)) *Builtin {
	return &Builtin{Name: name, Arity: 1, Go: "amsrt." + goName, Fn: func(a []float64) (float64, []float64) {
		v, d := f(a[0])
		return v, []float64{d}
	}}
}

func binary(name, goName string, f func(float64, float64) (float64, float64, float64)) *Builtin {
	return &Builtin{Name: name, Arity: 2, Go: "amsrt." + goName, Fn: func(a []float64) (float64, []float64) {
		v, da, db := f(a[0], a[1])
		return v, []float64{da, db}
	}}
}

var builtins = map[string]*Builtin{}

func init() {
	for _, b := range []*Builtin{
		unary("exp", "DExp", amsrt.DExp),
		unary("limexp", "DLimexp", amsrt.DLimexp),
		unary("ln", "DLn", amsrt.DLn),
		unary("log", "DLog", amsrt.DLog),
		unary("sqrt", "DSqrt", amsrt.DSqrt),
		unary("abs", "DAbs", amsrt.DAbs),
		unary("sin", "DSin", amsrt.DSin),
		unary("cos", "DCos", amsrt.DCos),
		unary("tan", "DTan", amsrt.DTan),
		unary("asin", "DAsin", amsrt.DAsin),
		unary("acos", "DAcos", amsrt.DAcos),
		unary("atan", "DAtan", amsrt.DAtan),
		unary("sinh", "DSinh", amsrt.DSinh),
		unary("cosh", "DCosh", amsrt.DCosh),
		unary("tanh", "DTanh", amsrt.DTanh),
		unary("floor", "DFloor", amsrt.DFloor),
		unary("ceil", "DCeil", amsrt.DCeil),
		binary("pow", "DPow", amsrt.DPow),
		binary("min", "DMin", amsrt.DMin),
		binary("max", "DMax", amsrt.DMax),
		binary("atan2", "DAtan2", amsrt.DAtan2),
		binary("hypot", "DHypot", amsrt.DHypot),
	} {
		builtins[b.Name] = b
	}
	builtins["floor"].Piecewise = true
	builtins["ceil"].Piecewise = true
}

// LookupBuiltin finds a math function by name
func LookupBuiltin(name string) (*Builtin, bool) {
	b, ok := builtins[name]
	return b, ok
}

// ApplyUnary evaluates a unary operator
func ApplyUnary(op string, a float64) float64 {
	switch op {
	case "-":
		return -a
	case "!":
		return amsrt.B2F(!amsrt.Truth(a))
	}
	return a
}

// ApplyBinary evaluates a binary operator. isInt selects integer semantics
// (truncating division, truncated power).
func ApplyBinary(op string, a, b float64, isInt bool) float64 {
	switch op {
	case "+":
		return a + b
	case "-":
		return a - b
	case "*":
		return a * b
	case "/":
		if isInt {
			return amsrt.IDiv(a, b)
		}
		return a / b
	case "%":
		return amsrt.Mod(a, b)
	case "**":
		v, _, _ := amsrt.DPow(a, b)
		if isInt {
			return math.Trunc(v)
		}
		return v
	case "==":
		return amsrt.B2F(a == b)
	case "!=":
		return amsrt.B2F(a != b)
	case "<":
		return amsrt.B2F(a < b)
	case "<=":
		return amsrt.B2F(a <= b)
	case ">":
		return amsrt.B2F(a > b)
	case ">=":
		return amsrt.B2F(a >= b)
	case "&&":
		return amsrt.B2F(amsrt.Truth(a) && amsrt.Truth(b))
	case "||":
		return amsrt.B2F(amsrt.Truth(a) || amsrt.Truth(b))
	}
	return math.NaN()
}

// IsLogical reports whether op yields a truth value with zero derivatives
func IsLogical(op string) bool {
	switch op {
	case "==", "!=", "<", "<=", ">", ">=", "&&", "||", "!":
		return true
	}
	return false
}
