package amsrt

import (
	"fmt"
	"math"

	"github.com/robert-at-pretension-io/amsgen/pkg/rational"
)

const (
	boltzmann = 1.380649e-23
	charge    = 1.602176634e-19
	// DefaultTemperature is the simulation temperature in kelvin
	DefaultTemperature = 300.15
)

// Vt is the thermal voltage kT/q
func Vt(temperature float64) float64 { return boltzmann * temperature / charge }

// Trigger keeps the state of one event trigger between accepted time
// points. The zero value is ready to use.
type Trigger struct {
	prev  float64
	seen  bool
	next  float64
	armed bool
}

// Cross reports a zero crossing of x since the last call. dir > 0 only
// accepts rising crossings, dir < 0 only falling ones. The first call
// never fires.
func (t *Trigger) Cross(x, dir float64) bool {
	prev, seen := t.prev, t.seen
	t.prev, t.seen = x, true
	if !seen {
		return false
	}
	rising := prev < 0 && x >= 0
	falling := prev > 0 && x <= 0
	switch {
	case dir > 0:
		return rising
	case dir < 0:
		return falling
	}
	return rising || falling
}

// Above fires when x becomes non-negative, including at the first call
func (t *Trigger) Above(x float64) bool {
	prev, seen := t.prev, t.seen
	t.prev, t.seen = x, true
	if !seen {
		return x >= 0
	}
	return prev < 0 && x >= 0
}

// Timer fires once now reaches start and then every period. A period of
// zero fires once.
func (t *Trigger) Timer(now, start, period float64) bool {
	if !t.armed {
		t.next, t.armed = start, true
	}
	if now < t.next {
		return false
	}
	if period > 0 {
		for t.next <= now {
			t.next += period
		}
	} else {
		t.next = math.Inf(1)
	}
	return true
}

// FilterCoefficients normalizes computed filter arguments and pads both
// polynomials to n coefficients. pivot is the denominator coefficient the
// filter stages were laid out around; it is clamped away from zero and
// clamped reports whether that happened.
func FilterCoefficients(num, den []float64, numRoots, denRoots, inverse bool, n, pivot int) (nc, dc []float64, clamped bool) {
	nc, dc = rational.Coefficients(num, den, numRoots, denRoots, inverse)
	nc = rational.Pad(nc, n)
	dc = rational.Pad(dc, n)
	if pivot >= 0 && pivot < n {
		dc[pivot], clamped = rational.ClampPivot(dc[pivot])
	}
	return nc, dc, clamped
}

// ReportClamp warns the host that the pivot of a computed filter was zero.
// A nil host drops the warning.
func ReportClamp(h Host, filter string, pivot int) {
	if h == nil {
		return
	}
	h.Print(fmt.Sprintf("warning: %s: denominator coefficient %d is zero; clamped to %g\n", filter, pivot, rational.MinPivot))
}

// BranchInfo describes one live branch of a generated model to the host
type BranchInfo struct {
	Name string
	// P and N are merge-resolved node indexes.
	P, N    int
	Kind    SourceKind
	Element Element
	// Deps are the probe indexes of state slots 1, 2, ...
	Deps []int
}

// Slots is the length of the branch state vector
func (b BranchInfo) Slots() int {
	if len(b.Deps) == 0 {
		return 2
	}
	return 1 + len(b.Deps)
}
