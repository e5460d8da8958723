package validator

import (
	"testing"

	"github.com/robert-at-pretension-io/amsgen/internal/facts"
	"github.com/robert-at-pretension-io/amsgen/internal/module"
)

func TestFactsValidatorAcceptsCompiledTables(t *testing.T) {
	v, err := NewFactsValidator()
	if err != nil {
		t.Fatalf("new facts validator: %v", err)
	}

	mods, list := module.Compile("test/lp.va", `
module lp(in, out);
inout in, out;
electrical in, out;
parameter real tau = 1e-3;
real y;
analog begin
	y = V(in);
	if (0) V(out) <+ 0;
	V(out) <+ laplace_nd(y, {1}, {1, tau});
end
endmodule
`, module.DefaultOptions())
	if list.HasErrors() {
		t.Fatalf("unexpected errors: %v", list.Items())
	}
	defer mods[0].Close()

	tables := facts.BuildTables([]facts.FileRow{{Path: "test/lp.va", Hash: "abc", Includes: []string{}}}, mods, list.Items())
	if err := v.Validate(tables); err != nil {
		t.Fatalf("expected valid tables, got error: %v", err)
	}
}

func TestFactsValidatorRejectsInvalidTables(t *testing.T) {
	v, err := NewFactsValidator()
	if err != nil {
		t.Fatalf("new facts validator: %v", err)
	}

	tests := map[string]facts.Tables{
		"wrong extension": {
			Files: []facts.FileRow{{Path: "test/a.txt", Includes: []string{}}},
		},
		"line zero module": {
			Modules: []facts.ModuleRow{{Name: "m", File: "a.va", Line: 0}},
		},
		"dead branch with slots": {
			Branches: []facts.BranchRow{{Module: "m", Name: "(a,gnd)", Kind: "none", Live: false, Slots: 2}},
		},
		"unknown reach": {
			Statements: []facts.StatementRow{{Module: "m", Kind: "assign", Reach: "sometimes"}},
		},
	}
	for name, tables := range tests {
		t.Run(name, func(t *testing.T) {
			if err := v.Validate(tables); err == nil {
				t.Fatalf("expected validation error, got nil")
			}
			if len(v.ValidationErrors(tables)) == 0 {
				t.Fatal("expected at least one error message")
			}
		})
	}
}

func TestFactsValidatorRejectsUnknownFields(t *testing.T) {
	v, err := NewFactsValidator()
	if err != nil {
		t.Fatalf("new facts validator: %v", err)
	}
	data := []byte(`{"files": [{"path": "a.va", "hash": "", "includes": [], "library": "work"}]}`)
	if err := v.ValidateJSON(data); err == nil {
		t.Fatal("expected closed rows to reject an unknown field")
	}
}
