package rational

import (
	"math"
	"math/cmplx"
	"math/rand"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
)

func TestExpandRealRoots(t *testing.T) {
	// (x-1)(x+2) = x^2 + x - 2
	got := Expand([]float64{1, 0, -2, 0})
	if diff := cmp.Diff([]float64{-2, 1, 1}, got); diff != "" {
		t.Fatalf("expand mismatch (-want +got):\n%s", diff)
	}
}

func TestExpandConjugatePair(t *testing.T) {
	// (x-(1+2i))(x-(1-2i)) = x^2 - 2x + 5
	got := Expand([]float64{1, 2, 1, -2})
	if diff := cmp.Diff([]float64{5, -2, 1}, got, cmpopts.EquateApprox(0, 1e-12)); diff != "" {
		t.Fatalf("expand mismatch (-want +got):\n%s", diff)
	}
}

func TestExpandNormalizeRoundTrip(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for n := 0; n < 50; n++ {
		var pairs []float64
		var roots []complex128
		count := 1 + rng.Intn(5)
		for k := 0; k < count; k++ {
			re := rng.Float64()*4 - 2
			if rng.Intn(2) == 0 {
				im := rng.Float64() * 3
				pairs = append(pairs, re, im, re, -im)
				roots = append(roots, complex(re, im), complex(re, -im))
			} else {
				pairs = append(pairs, re, 0)
				roots = append(roots, complex(re, 0))
			}
		}
		p := Expand(pairs)
		Normalize(p)
		if Degree(p) != len(roots) {
			t.Fatalf("degree %d for %d roots", Degree(p), len(roots))
		}
		for _, r := range roots {
			scale := 0.0
			for i, a := range p {
				scale += math.Abs(a) * math.Pow(cmplx.Abs(r), float64(i))
			}
			if v := EvalComplex(p, r); cmplx.Abs(v) > 1e-9*scale {
				t.Fatalf("p(%v) = %v, want 0 (p = %v)", r, v, p)
			}
		}
	}
}

func TestNormalize(t *testing.T) {
	p := []float64{0, 4, 8}
	f := Normalize(p)
	if f != 0.25 {
		t.Fatalf("factor %v", f)
	}
	if diff := cmp.Diff([]float64{0, 1, 2}, p); diff != "" {
		t.Fatalf("normalize mismatch (-want +got):\n%s", diff)
	}
	z := []float64{0, 0}
	if f := Normalize(z); f != 1 || z[0] != 0 || z[1] != 0 {
		t.Fatalf("zero polynomial changed: %v, factor %v", z, f)
	}
}

func TestPivot(t *testing.T) {
	tests := []struct {
		name string
		den  []float64
		want int
	}{
		{"unique max", []float64{1, -5, 2}, 1},
		{"first of ties", []float64{3, -3, 1}, 0},
		{"single pole", []float64{1, 1}, 0},
		{"all zero", []float64{0, 0, 0}, 2},
		{"leading", []float64{0.5, 0.25, 9}, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Pivot(tt.den); got != tt.want {
				t.Fatalf("Pivot(%v) = %d, want %d", tt.den, got, tt.want)
			}
		})
	}
}

func TestClampPivot(t *testing.T) {
	if v, c := ClampPivot(2); v != 2 || c {
		t.Fatalf("2 clamped to %v", v)
	}
	if v, c := ClampPivot(0); v != MinPivot || !c {
		t.Fatalf("0 clamped to %v (%v)", v, c)
	}
	if v, c := ClampPivot(math.Copysign(0, -1)); v != -MinPivot || !c {
		t.Fatalf("-0 clamped to %v (%v)", v, c)
	}
}

func TestGainOfSinglePole(t *testing.T) {
	// 1/(1+s) at w = 1 has gain 1/sqrt(2)
	if g := Gain([]float64{1}, []float64{1, 1}, 1); math.Abs(g-1/math.Sqrt2) > 1e-12 {
		t.Fatalf("gain %v", g)
	}
	if v := Eval([]float64{1, 2, 3}, 2); v != 17 {
		t.Fatalf("Eval = %v", v)
	}
}
