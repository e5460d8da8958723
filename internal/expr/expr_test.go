package expr

import (
	"fmt"
	goparser "go/parser"
	"go/token"
	"math"
	"math/rand"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/robert-at-pretension-io/amsgen/internal/deps"
	"github.com/robert-at-pretension-io/amsgen/internal/diag"
	"github.com/robert-at-pretension-io/amsgen/internal/dual"
	"github.com/robert-at-pretension-io/amsgen/internal/lexer"
	"github.com/robert-at-pretension-io/amsgen/internal/topology"
)

// fakeScope resolves V(a), V(b), V(c) to probes 0..2, x and y to real
// variables, n to an integer variable, k to a parameter and f to an analog
// function of two arguments.
type fakeScope struct {
	vars   map[int]*deps.TData
	probes map[int]float64
}

func newFakeScope() *fakeScope {
	return &fakeScope{vars: map[int]*deps.TData{0: deps.New(), 1: deps.New(), 2: deps.New()}, probes: map[int]float64{}}
}

func (f *fakeScope) Ident(name string, pos diag.Pos) (Token, error) {
	switch name {
	case "x":
		return Token{Kind: Var, Ref: 0, Pos: pos}, nil
	case "y":
		return Token{Kind: Var, Ref: 1, Pos: pos}, nil
	case "n":
		return Token{Kind: Var, Ref: 2, IsInt: true, Pos: pos}, nil
	case "k":
		return Token{Kind: Param, Ref: 0, Pos: pos}, nil
	case "three":
		return Token{Kind: Lit, Val: 3, IsInt: true, Pos: pos}, nil
	}
	return Token{}, diag.Semanticf(pos, "unknown identifier '%s'", name)
}

func (f *fakeScope) Access(fn string, args []string, pos diag.Pos) (Token, error) {
	ids := map[string]int{"a": 0, "b": 1, "c": 2}
	id, ok := ids[args[0]]
	if !ok {
		return Token{}, diag.Semanticf(pos, "unknown node '%s'", args[0])
	}
	neg := len(args) == 2 && args[1] == "neg"
	return Token{Kind: Probe, Probe: topology.ProbeRef{ID: topology.ProbeID(id), Neg: neg}, Pos: pos}, nil
}

func (f *fakeScope) Call(name string, args []*Expr, pos diag.Pos) (Token, error) {
	if name == "f" {
		if len(args) != 2 {
			return Token{}, diag.Semanticf(pos, "too many positional arguments")
		}
		return Token{Kind: UserCall, Ref: 0, Pos: pos}, nil
	}
	return Token{}, diag.Semanticf(pos, "unknown function '%s'", name)
}

func (f *fakeScope) VarDeps(ref int) *deps.TData { return f.vars[ref] }

func (f *fakeScope) UserOrders(int) []deps.Order {
	return []deps.Order{deps.Nonlinear, deps.Linear}
}

func (f *fakeScope) VarSlots(ref int) []topology.ProbeID {
	var out []topology.ProbeID
	for _, d := range f.vars[ref].Deps() {
		out = append(out, d.Probe)
	}
	return out
}

// env implements dual.Env on top of fakeScope; f(u, v) = u*u + 3*v.
func (f *fakeScope) Probe(id int) float64 { return f.probes[id] }
func (f *fakeScope) Param(int) float64    { return 1.5 }
func (f *fakeScope) Var(int) dual.Value   { return dual.Value{} }
func (f *fakeScope) CallUser(_ int, a []float64) (float64, []float64) {
	return a[0]*a[0] + 3*a[1], []float64{2 * a[0], 3}
}

func parse(t *testing.T, src string) *Expr {
	t.Helper()
	e, err := Parse(lexer.NewStream(lexer.Tokenize("t.va", src, nil)), newFakeScope())
	if err != nil {
		t.Fatalf("parse %q: %v", src, err)
	}
	return e
}

func TestParsePrecedence(t *testing.T) {
	tests := []struct {
		src  string
		want string
	}{
		{"x + y * k", "var#0 var#1 param#0 * +"},
		{"(x + y) * k", "var#0 var#1 + param#0 *"},
		{"x - y - k", "var#0 var#1 - param#0 -"},
		{"x < y && y < k || !x", "var#0 var#1 < var#1 param#0 < && var#0 u! ||"},
		{"x ? y : k ? x : y", "var#0 var#1 param#0 var#0 var#1 ?: ?:"},
		{"-x ** 2", "var#0 u- 2 **"},
		{"exp(x) + V(a)", "var#0 exp/1 probe#0 +"},
		{"f(V(a), x + 1)", "probe#0 var#0 1 + fn#0/2"},
		{"{1, x, 3}", "1 var#0 3 {}/3"},
	}
	for _, tt := range tests {
		t.Run(tt.src, func(t *testing.T) {
			if got := parse(t, tt.src).String(); got != tt.want {
				t.Fatalf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		src      string
		semantic bool
	}{
		{"x +", false},
		{"(x", false},
		{"gian * 2", true},
		{"exp(1, 2)", true},
		{"f(1)", true},
		{"V(a, b, c)", true},
		{"$random", true},
	}
	for _, tt := range tests {
		t.Run(tt.src, func(t *testing.T) {
			_, err := Parse(lexer.NewStream(lexer.Tokenize("", tt.src, nil)), newFakeScope())
			if err == nil {
				t.Fatalf("expected error")
			}
			_, isSem := err.(*diag.SemanticError)
			_, isSyn := err.(*diag.SyntaxError)
			if tt.semantic && !isSem || !tt.semantic && !isSyn {
				t.Fatalf("wrong error type %T: %v", err, err)
			}
		})
	}
}

func TestFoldIntegerAndReal(t *testing.T) {
	tests := []struct {
		src   string
		want  float64
		isInt bool
	}{
		{"7 / 2", 3, true},
		{"7.0 / 2", 3.5, false},
		{"-7 / 2", -3, true},
		{"7 % 3", 1, true},
		{"2 ** 10", 1024, true},
		{"three * 2 + 1", 7, true},
		{"1 < 2", 1, true},
		{"!(1 && 0)", 1, true},
		{"exp(0) + sqrt(16)", 5, false},
		{"1 ? 2.5 : 4", 2.5, false},
		{"0 ? x : 4", 4, true},
	}
	for _, tt := range tests {
		t.Run(tt.src, func(t *testing.T) {
			e := parse(t, tt.src)
			v, ok := e.Literal()
			if !ok {
				t.Fatalf("not folded: %s", e)
			}
			if v != tt.want || e.RPN[0].IsInt != tt.isInt {
				t.Fatalf("got %v (int=%v), want %v (int=%v)", v, e.RPN[0].IsInt, tt.want, tt.isInt)
			}
		})
	}
}

func TestIntegerDivisionByZeroNotFolded(t *testing.T) {
	e := parse(t, "1 / 0")
	if _, ok := e.Literal(); ok {
		t.Fatalf("integer division by zero must be left to run time")
	}
}

// randLit builds a random literal-only expression and its directly
// computed value.
func randLit(rng *rand.Rand, depth int) (string, float64) {
	if depth == 0 || rng.Intn(3) == 0 {
		v := float64(rng.Intn(19)+1) / 4
		return fmt.Sprintf("%.2f", v), v
	}
	a, av := randLit(rng, depth-1)
	b, bv := randLit(rng, depth-1)
	switch rng.Intn(5) {
	case 0:
		return "(" + a + " + " + b + ")", av + bv
	case 1:
		return "(" + a + " - " + b + ")", av - bv
	case 2:
		return "(" + a + " * " + b + ")", av * bv
	case 3:
		return "(" + a + " / " + b + ")", av / bv
	default:
		c, cv := randLit(rng, depth-1)
		v := bv
		if cv > 2 {
			v = av
		}
		return "(" + c + " > 2.0 ? " + a + " : " + b + ")", v
	}
}

func TestConstantFoldingRoundTrip(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	for i := 0; i < 200; i++ {
		src, want := randLit(rng, 4)
		e := parse(t, src)
		got, ok := e.Literal()
		if !ok {
			t.Fatalf("%s did not fold: %s", src, e)
		}
		if got != want && !(math.IsNaN(got) && math.IsNaN(want)) {
			t.Fatalf("%s folded to %v, direct evaluation gives %v", src, got, want)
		}
		if diff := cmp.Diff(e.RPN, Fold(e.RPN), cmpopts.EquateNaNs()); diff != "" {
			t.Fatalf("folding is not idempotent for %s:\n%s", src, diff)
		}
	}
}

func TestFoldUnfoldedList(t *testing.T) {
	rpn := []Token{
		{Kind: Lit, Val: 2}, {Kind: Lit, Val: 3}, {Kind: Binary, Op: "*"},
		{Kind: Probe}, {Kind: Binary, Op: "+"},
	}
	got := Fold(rpn)
	if len(got) != 3 || got[0].Kind != Lit || got[0].Val != 6 {
		t.Fatalf("unexpected fold %v", got)
	}
}

func TestDepsOrders(t *testing.T) {
	lin := func(p topology.ProbeID) deps.Dep { return deps.Dep{Probe: p, Order: deps.Linear} }
	dep := func(p topology.ProbeID, o deps.Order) deps.Dep { return deps.Dep{Probe: p, Order: o} }
	tests := []struct {
		src  string
		want []deps.Dep
	}{
		{"2.0 * V(a)", []deps.Dep{lin(0)}},
		{"V(a) + V(b)", []deps.Dep{lin(0), lin(1)}},
		{"V(a) * V(b)", []deps.Dep{dep(0, deps.Quadratic), dep(1, deps.Quadratic)}},
		{"V(a) * V(a)", []deps.Dep{dep(0, deps.Quadratic)}},
		{"exp(V(a))", []deps.Dep{dep(0, deps.Nonlinear)}},
		{"V(a) / 2", []deps.Dep{lin(0)}},
		{"V(a) / V(b)", []deps.Dep{dep(0, deps.Quadratic), dep(1, deps.Nonlinear)}},
		{"V(b) > 0 ? 2 * V(a) : 0", []deps.Dep{lin(0), dep(1, deps.Constant)}},
		{"floor(V(a))", []deps.Dep{dep(0, deps.Constant)}},
		{"f(V(a), V(b))", []deps.Dep{dep(0, deps.Nonlinear), lin(1)}},
		{"k * 3", nil},
	}
	for _, tt := range tests {
		t.Run(tt.src, func(t *testing.T) {
			e := parse(t, tt.src)
			got := e.Deps(newFakeScope()).Deps()
			if diff := cmp.Diff(tt.want, got, cmpopts.EquateEmpty()); diff != "" {
				t.Fatalf("deps mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestDepsThroughVariable(t *testing.T) {
	fs := newFakeScope()
	fs.vars[0].Add(deps.Dep{Probe: 2, Order: deps.Linear})
	fs.vars[2].Add(deps.Dep{Probe: 1, Order: deps.Linear})
	e, err := Parse(lexer.NewStream(lexer.Tokenize("", "x * 4 + n", nil)), fs)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	want := []deps.Dep{{Probe: 2, Order: deps.Linear}, {Probe: 1, Order: deps.Constant}}
	if diff := cmp.Diff(want, e.Deps(fs).Deps()); diff != "" {
		t.Fatalf("deps mismatch (-want +got):\n%s", diff)
	}
}

// lowerAndEval compiles src over probes a and b and returns the value and
// the partials in slot order a, b.
func lowerAndEval(t *testing.T, fs *fakeScope, e *Expr, va, vb float64) (float64, []float64) {
	t.Helper()
	td := deps.New()
	td.Add(deps.Dep{Probe: 0, Order: deps.Linear})
	td.Add(deps.Dep{Probe: 1, Order: deps.Linear})
	td.MergeDeps(e.Deps(fs))
	prog := e.Lower(td, fs)
	fs.probes[0], fs.probes[1] = va, vb
	v := prog.Eval(fs)
	return v.V, v.D
}

func TestProductRule(t *testing.T) {
	fs := newFakeScope()
	e := parse(t, "(V(a) + 1.0) * (2.0 * V(b))")
	va, vb := 0.7, -1.3
	v, d := lowerAndEval(t, fs, e, va, vb)
	a, b := va+1, 2*vb
	if v != a*b {
		t.Fatalf("value %v, want %v", v, a*b)
	}
	// d(a*b)/dVa = 1*b, d(a*b)/dVb = a*2
	if d[0] != b || d[1] != 2*a {
		t.Fatalf("partials %v, want [%v %v]", d, b, 2*a)
	}
}

func TestDualMatchesFiniteDifferences(t *testing.T) {
	exprs := []string{
		"V(a) + 3.0 * V(b)",
		"V(a) * V(b)",
		"V(a) > V(b) ? V(a) * V(a) : 2.0 * V(b)",
		"V(a) / (1.0 + V(b) * V(b))",
		"exp(0.5 * V(a)) - ln(2.0 + V(b))",
		"sqrt(1.0 + V(a) * V(a)) * tanh(V(b))",
		"pow(1.5 + V(a), V(b))",
		"(1.5 + V(a)) ** 3.0",
		"atan2(V(a), 2.0 + V(b)) + hypot(V(a), V(b))",
		"-V(a, neg) + f(V(a), V(b)) * k",
		"limexp(V(a)) + abs(V(b))",
	}
	points := [][2]float64{{0.3, 0.8}, {-0.4, 1.2}, {1.1, -0.6}}
	const h = 1e-6
	for _, src := range exprs {
		t.Run(src, func(t *testing.T) {
			fs := newFakeScope()
			e := parse(t, src)
			for _, pt := range points {
				_, d := lowerAndEval(t, fs, e, pt[0], pt[1])
				for slot := 0; slot < 2; slot++ {
					lo, hi := pt, pt
					lo[slot] -= h
					hi[slot] += h
					fl, _ := lowerAndEval(t, fs, e, lo[0], lo[1])
					fh, _ := lowerAndEval(t, fs, e, hi[0], hi[1])
					fd := (fh - fl) / (2 * h)
					if math.Abs(fd-d[slot]) > 1e-5*math.Max(1, math.Abs(fd)) {
						t.Fatalf("at %v slot %d: dual %v, finite difference %v", pt, slot, d[slot], fd)
					}
				}
			}
		})
	}
}

func TestDerivativePruning(t *testing.T) {
	fs := newFakeScope()
	e := parse(t, "k * V(a) + (V(b) > 0)")
	td := e.Deps(fs)
	prog := e.Lower(td, fs)
	var static []bool
	for _, in := range prog.Code {
		static = append(static, in.Static)
	}
	// k, V(a), *, V(b), 0, >, +
	want := []bool{true, false, false, false, true, true, false}
	if diff := cmp.Diff(want, static); diff != "" {
		t.Fatalf("static flags mismatch (-want +got):\n%s", diff)
	}
	fs.probes[0], fs.probes[1] = 2, 5
	v := prog.Eval(fs)
	if v.V != 1.5*2+1 || v.D[0] != 1.5 || v.D[1] != 0 {
		t.Fatalf("unexpected value %+v", v)
	}
}

func TestElements(t *testing.T) {
	e := parse(t, "{1.0, V(a) * 2.0, x + y}")
	els, ok := e.Elements()
	if !ok || len(els) != 3 {
		t.Fatalf("expected 3 elements, got %v", els)
	}
	if els[1].String() != "probe#0 2 *" || els[2].String() != "var#0 var#1 +" {
		t.Fatalf("unexpected split: %v | %v", els[1], els[2])
	}
}

type goNames struct{}

func (goNames) Probe(id int) string { return fmt.Sprintf("p[%d]", id) }
func (goNames) Param(id int) string { return fmt.Sprintf("par[%d]", id) }
func (goNames) Var(id int) (string, func(int) string) {
	return fmt.Sprintf("v%d", id), func(j int) string { return fmt.Sprintf("v%dd[%d]", id, j) }
}
func (goNames) User(id int) string { return fmt.Sprintf("fn%d", id) }

func TestWriteGoIsValidSyntax(t *testing.T) {
	for _, src := range []string{
		"2.0 * V(a)",
		"V(a) > V(b) ? V(a) * V(a) : 2.0 * V(b)",
		"pow(V(a), 2.0) / (1.0 + V(b)) - floor(V(a))",
		"f(V(a), x) + k % 3",
		"!(V(a) > 0) + 7 / n",
	} {
		t.Run(src, func(t *testing.T) {
			fs := newFakeScope()
			fs.vars[0].Add(deps.Dep{Probe: 1, Order: deps.Linear})
			e := parse(t, src)
			td := e.Deps(fs)
			prog := e.Lower(td, fs)
			var b strings.Builder
			val, ders := prog.WriteGo(&b, "\t", "e0", goNames{}, true)
			body := b.String()
			file := fmt.Sprintf("package x\n\nfunc f() (float64, []float64) {\n%s\treturn %s, []float64{%s}\n}\n",
				body, val, strings.Join(ders, ", "))
			if _, err := goparser.ParseFile(token.NewFileSet(), "x.go", file, 0); err != nil {
				t.Fatalf("generated code does not parse: %v\n%s", err, file)
			}
		})
	}
}
