package emit

import (
	"go/ast"
	"go/parser"
	"go/token"
	"regexp"
	"sort"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/robert-at-pretension-io/amsgen/internal/module"
)

const models = `
module amp(in, out);
inout in, out;
electrical in, out;
parameter real gain = 2;
analog V(out) <+ gain*V(in);
endmodule

module lp(in, out);
inout in, out;
electrical in, out;
parameter real tau = 2;
analog V(out) <+ laplace_nd(V(in), {1}, {1, tau});
endmodule

module diode(a, c);
inout a, c;
electrical a, c;
parameter real is = 1e-14;
real id;
integer n;
analog function real sq;
	input x;
	real x;
	sq = x * x;
endfunction
analog begin
	@(initial_step) n = 0;
	id = is*(limexp(V(a,c)/$vt) - 1);
	if (V(a,c) > 0)
		I(a,c) <+ id + sq(V(a,c));
	else
		I(a,c) <+ id;
	@(cross(V(a,c) - 0.5, 1)) begin
		n = n + 1;
		$strobe("on %d", n);
	end
	@(final_step) $display("switched %d times", n);
end
endmodule
`

func compile(t *testing.T) []*module.Module {
	t.Helper()
	mods, list := module.Compile("models.va", models, module.DefaultOptions())
	if list.HasErrors() {
		for _, d := range list.Items() {
			t.Log(d)
		}
		t.Fatal("unexpected errors")
	}
	return mods
}

func declared(f *ast.File) []string {
	var out []string
	for _, d := range f.Decls {
		switch d := d.(type) {
		case *ast.FuncDecl:
			name := d.Name.Name
			if d.Recv != nil {
				star := d.Recv.List[0].Type.(*ast.StarExpr)
				name = star.X.(*ast.Ident).Name + "." + name
			}
			out = append(out, name)
		case *ast.GenDecl:
			for _, s := range d.Specs {
				if ts, ok := s.(*ast.TypeSpec); ok {
					out = append(out, ts.Name.Name)
				}
			}
		}
	}
	sort.Strings(out)
	return out
}

func TestFileParses(t *testing.T) {
	mods := compile(t)
	src, err := File(mods, Options{Package: "models", Source: "models.va"})
	if err != nil {
		t.Log(string(src))
		t.Fatal(err)
	}
	f, err := parser.ParseFile(token.NewFileSet(), "models.go", src, parser.ParseComments)
	if err != nil {
		t.Fatal(err)
	}
	if f.Name.Name != "models" {
		t.Errorf("package %s, want models", f.Name.Name)
	}
	if !ast.IsGenerated(f) {
		t.Error("missing generated-code header")
	}
	var want []string
	for _, typ := range []string{"Amp", "Lp", "Diode"} {
		want = append(want, typ, typ+"State", "New"+typ)
		for _, m := range []string{"Accept", "Eval", "Final", "Precalc", "SetParam", "Zero"} {
			want = append(want, typ+"."+m)
		}
	}
	want = append(want, "Diode.fn0")
	sort.Strings(want)
	if diff := cmp.Diff(want, declared(f)); diff != "" {
		t.Errorf("declarations mismatch (-want +got):\n%s", diff)
	}
}

func TestFileContents(t *testing.T) {
	src, err := File(compile(t), Options{Source: "models.va"})
	if err != nil {
		t.Fatal(err)
	}
	text := string(src)
	for _, want := range []string{
		"package models",
		"DO NOT EDIT",
		`case "gain":`,
		"amsrt.FilterCoefficients(",
		"m.Trig[0].Cross(",
		"amsrt.Vt(m.Temperature)",
		"amsrt.DLimexp(",
		"m.fn0(",
		"fire := m.step == 0",
		`m.Host.Print(amsrt.Message("$display"`,
		"Kind: amsrt.Flow",
		"Kind: amsrt.Potential",
	} {
		if !strings.Contains(text, want) {
			t.Errorf("generated code lacks %q", want)
		}
	}
	// initial_step and final_step keep no trigger state
	if !regexp.MustCompile(`Trig\s+\[1\]amsrt\.Trigger`).MatchString(text) {
		t.Error("diode should hold exactly one trigger slot")
	}
}

func TestFailedModuleIsRejected(t *testing.T) {
	mods, _ := module.Compile("bad.va", `
module bad(a); inout a; electrical a;
analog V(a) <+ nosuch;
endmodule
`, module.DefaultOptions())
	if _, err := File(mods, Options{}); err == nil {
		t.Fatal("expected an error for a failed module")
	}
}

func TestTypeName(t *testing.T) {
	tests := map[string]string{
		"amp":      "Amp",
		"my_diode": "MyDiode",
		"2stage":   "M2stage",
		"opamp$1":  "Opamp1",
	}
	for in, want := range tests {
		if got := TypeName(in); got != want {
			t.Errorf("TypeName(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestProgramListing(t *testing.T) {
	mods := compile(t)
	m := mods[0]
	c := m.Branches[0].Contribs[0]
	got := Program(c.Prog, true)
	if !strings.Contains(got, "// value xt") || !strings.Contains(got, "partials") {
		t.Errorf("unexpected listing:\n%s", got)
	}
}
