package facts

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/robert-at-pretension-io/amsgen/internal/module"
)

const deadArm = `
module amp(in, out);
inout in, out;
electrical in, out;
analog begin
	if (0)
		V(out) <+ 1;
	V(out) <+ 2*V(in);
end
endmodule
`

func TestBuildTablesPopulatesCoreRelations(t *testing.T) {
	mods, list := module.Compile("test/amp.va", deadArm, module.DefaultOptions())
	if list.HasErrors() {
		t.Fatalf("unexpected errors: %v", list.Items())
	}
	defer mods[0].Close()

	tables := BuildTables([]FileRow{{Path: "test/amp.va", Hash: "h"}}, mods, list.Items())

	if len(tables.Files) != 1 {
		t.Fatalf("expected 1 file row, got %d", len(tables.Files))
	}
	if len(tables.Modules) != 1 || tables.Modules[0].Name != "amp" || tables.Modules[0].Ports != 2 {
		t.Fatalf("unexpected module rows %+v", tables.Modules)
	}
	want := []DepRow{{
		Module: "amp",
		Branch: "(out,gnd)",
		Probe:  "V(in,gnd)",
		Order:  "linear",
		Slot:   1,
		File:   "test/amp.va",
	}}
	if diff := cmp.Diff(want, tables.Deps); diff != "" {
		t.Errorf("deps mismatch (-want +got):\n%s", diff)
	}

	var dead, live int
	for _, s := range tables.Statements {
		if s.Kind != "contribution" {
			continue
		}
		if s.Live {
			live++
		} else if s.Reach == "never" {
			dead++
		}
	}
	if dead != 1 || live != 1 {
		t.Errorf("got %d dead and %d live contributions, want 1 and 1", dead, live)
	}
	for _, b := range tables.Branches {
		if b.Name == "(out,gnd)" && (!b.Live || b.Kind != "potential" || b.Slots != 2) {
			t.Errorf("unexpected output branch row %+v", b)
		}
	}
}

func TestBuildTablesRecordsDiagnostics(t *testing.T) {
	mods, list := module.Compile("bad.va", `
module bad(a); inout a; electrical a;
analog V(a) <+ nosuch;
endmodule
`, module.DefaultOptions())
	tables := BuildTables(nil, mods, list.Items())
	if len(tables.Diagnostics) == 0 {
		t.Fatal("expected a diagnostic row")
	}
	d := tables.Diagnostics[0]
	if d.Severity != "error" || d.File != "bad.va" || d.Line != 3 {
		t.Errorf("unexpected diagnostic row %+v", d)
	}
	if len(tables.Modules) != 1 || !tables.Modules[0].Failed {
		t.Errorf("expected the module row to be marked failed, got %+v", tables.Modules)
	}
}
