// Package filter plans the realization of filter functions as chains of
// elementary branches. Rational filters (laplace_*, zi_*) become one output
// stage plus one stage per state; single-operator filters (ddt, idt,
// transition, ...) become one elementary branch each.
package filter

import (
	"strings"

	"github.com/robert-at-pretension-io/amsgen/pkg/amsrt"
)

// Domain of a rational filter
type Domain int

const (
	Laplace Domain = iota
	ZDomain
)

func (d Domain) String() string {
	if d == ZDomain {
		return "z"
	}
	return "laplace"
}

// Form says how the numerator and denominator are given: as coefficient
// arrays (n, d) or as (re, im) root pairs (z, p).
type Form int

const (
	ND Form = iota // numerator and denominator coefficients
	ZP             // zeros and poles
	NP             // numerator coefficients, poles
	ZD             // zeros, denominator coefficients
)

var formNames = [...]string{"nd", "zp", "np", "zd"}

func (f Form) String() string { return formNames[f] }

// NumRoots reports whether the numerator is given as roots
func (f Form) NumRoots() bool { return f == ZP || f == ZD }

// DenRoots reports whether the denominator is given as roots
func (f Form) DenRoots() bool { return f == ZP || f == NP }

// Kind identifies a rational filter function
type Kind struct {
	Domain Domain
	Form   Form
}

func (k Kind) String() string {
	if k.Domain == ZDomain {
		return "zi_" + k.Form.String()
	}
	return "laplace_" + k.Form.String()
}

// LookupKind parses laplace_nd, zi_zp and friends
func LookupKind(name string) (Kind, bool) {
	var k Kind
	var rest string
	switch {
	case strings.HasPrefix(name, "laplace_"):
		k.Domain, rest = Laplace, strings.TrimPrefix(name, "laplace_")
	case strings.HasPrefix(name, "zi_"):
		k.Domain, rest = ZDomain, strings.TrimPrefix(name, "zi_")
	default:
		return k, false
	}
	for i, f := range formNames {
		if f == rest {
			k.Form = Form(i)
			return k, true
		}
	}
	return k, false
}

// MinArgs is the argument count of a rational filter call without the
// optional trailing ones. zi_* filters take the sample period as well.
func (k Kind) MinArgs() int {
	if k.Domain == ZDomain {
		return 4
	}
	return 3
}

// MaxArgs counts the optional tolerance (laplace) or transition time and
// start time (zi) arguments
func (k Kind) MaxArgs() int {
	if k.Domain == ZDomain {
		return 6
	}
	return 4
}

// Operator is a single-operator filter function
type Operator struct {
	Name    string
	Element amsrt.Element
	MinArgs int
	MaxArgs int
	// Input is the index of the argument that drives the element, -1 when
	// the element has a fixed drive (ac_stim defaults to magnitude 1).
	Input int
	// Label is the index of an optional string argument naming the
	// source, -1 if none.
	Label int
}

var operators = map[string]Operator{
	"ddt":           {Name: "ddt", Element: amsrt.Differentiator, MinArgs: 1, MaxArgs: 2, Input: 0, Label: -1},
	"idt":           {Name: "idt", Element: amsrt.Integrator, MinArgs: 1, MaxArgs: 4, Input: 0, Label: -1},
	"absdelay":      {Name: "absdelay", Element: amsrt.Delay, MinArgs: 2, MaxArgs: 3, Input: 0, Label: -1},
	"transition":    {Name: "transition", Element: amsrt.Transition, MinArgs: 1, MaxArgs: 5, Input: 0, Label: -1},
	"slew":          {Name: "slew", Element: amsrt.Slew, MinArgs: 1, MaxArgs: 3, Input: 0, Label: -1},
	"white_noise":   {Name: "white_noise", Element: amsrt.Noise, MinArgs: 1, MaxArgs: 2, Input: 0, Label: 1},
	"flicker_noise": {Name: "flicker_noise", Element: amsrt.Noise, MinArgs: 2, MaxArgs: 3, Input: 0, Label: 2},
	"ac_stim":       {Name: "ac_stim", Element: amsrt.ACStim, MinArgs: 0, MaxArgs: 3, Input: -1, Label: 0},
}

// LookupOperator finds a single-operator filter
func LookupOperator(name string) (Operator, bool) {
	op, ok := operators[name]
	return op, ok
}

// IsFilter reports whether name is any filter function
func IsFilter(name string) bool {
	if _, ok := operators[name]; ok {
		return true
	}
	_, ok := LookupKind(name)
	return ok
}
