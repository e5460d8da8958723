// Package deps is the dependency model: which probes a quantity depends on,
// at what derivative order, and which compiled entities consume it.
package deps

import (
	"github.com/robert-at-pretension-io/amsgen/internal/topology"
)

// Order classifies how a quantity varies with one probe. Constant means the
// value depends on the probe but every partial is zero (comparisons, floor).
// Linear means the partial is a compile-time-independent constant and can be
// cached across iterations.
type Order int

const (
	Constant Order = iota + 1
	Linear
	Quadratic
	Nonlinear
)

func (o Order) String() string {
	switch o {
	case Constant:
		return "constant"
	case Linear:
		return "linear"
	case Quadratic:
		return "quadratic"
	case Nonlinear:
		return "nonlinear"
	}
	return "none"
}

// ParseOrder is the inverse of String
func ParseOrder(s string) Order {
	switch s {
	case "constant":
		return Constant
	case "linear":
		return Linear
	case "quadratic":
		return Quadratic
	case "nonlinear":
		return Nonlinear
	}
	return 0
}

// Max returns the higher order
func Max(a, b Order) Order {
	if a > b {
		return a
	}
	return b
}

// Raise is the order of a term after multiplication by something that itself
// varies: its partial is no longer constant.
func Raise(o Order) Order {
	switch o {
	case Constant:
		return Constant
	case Linear:
		return Quadratic
	default:
		return Nonlinear
	}
}

// Nonlin maps a dependency through a nonlinear function. Piecewise-constant
// dependencies stay piecewise constant.
func Nonlin(o Order) Order {
	if o == Constant {
		return Constant
	}
	return Nonlinear
}

// Both is the order of a product in which the probe appears in both factors.
func Both(a, b Order) Order {
	switch {
	case a == Linear && b == Linear:
		return Quadratic
	case a == Constant && b == Constant:
		return Constant
	}
	return Nonlinear
}

// Compose is the order of f(g) with respect to x when f has order outer in g
// and g has order inner in x.
func Compose(outer, inner Order) Order {
	switch {
	case outer == Constant || inner == Constant:
		return Constant
	case outer == Linear:
		return inner
	case inner == Linear:
		return outer
	}
	return Nonlinear
}

// Dep is one (probe, order) pair
type Dep struct {
	Probe topology.ProbeID
	Order Order
}
