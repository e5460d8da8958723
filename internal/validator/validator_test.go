package validator

import (
	"testing"

	"github.com/robert-at-pretension-io/amsgen/internal/module"
)

func TestContractOfCompiledModule(t *testing.T) {
	v, err := NewContractValidator()
	if err != nil {
		t.Fatalf("Failed to create validator: %v", err)
	}
	mods, list := module.Compile("sw.va", `
module sw(a, b);
inout a, b;
electrical a, b;
parameter real on = 1;
analog begin
	if (on > 0)
		V(a, b) <+ 0.1*I(a, b);
	else
		I(a, b) <+ 1e-9*V(a, b);
end
endmodule
`, module.DefaultOptions())
	if list.HasErrors() {
		t.Fatalf("unexpected errors: %v", list.Items())
	}
	defer mods[0].Close()

	c := ContractOf(mods[0])
	if len(c.Branches) != 1 || c.Branches[0].Kind != "switch" {
		t.Fatalf("expected one switch branch, got %+v", c.Branches)
	}
	if err := v.Validate(c); err != nil {
		t.Fatalf("expected a valid contract: %v", err)
	}
}

// TestCUEContractEnforcement feeds hand-made contracts through the schema
func TestCUEContractEnforcement(t *testing.T) {
	v, err := NewContractValidator()
	if err != nil {
		t.Fatalf("Failed to create validator: %v", err)
	}

	branch := func(mut func(*ContractBranch)) Contract {
		b := ContractBranch{Name: "(out,gnd)", P: 2, N: 0, Kind: "potential", Element: "plain", Deps: []int{0}, Slots: 2}
		mut(&b)
		return Contract{Module: "amp", Nodes: []string{"gnd", "in", "out"}, Probes: 1, Branches: []ContractBranch{b}}
	}

	tests := []struct {
		name     string
		contract Contract
		wantErr  bool
	}{
		{"valid", branch(func(*ContractBranch) {}), false},
		{"no deps keeps two slots", branch(func(b *ContractBranch) { b.Deps = []int{} }), false},
		{"three deps", branch(func(b *ContractBranch) { b.Deps = []int{0, 1, 2}; b.Slots = 4 }), false},
		{"slot count mismatch", branch(func(b *ContractBranch) { b.Deps = []int{0, 1}; b.Slots = 2 }), true},
		{"invalid kind", branch(func(b *ContractBranch) { b.Kind = "voltage" }), true},
		{"invalid element", branch(func(b *ContractBranch) { b.Element = "laplace" }), true},
		{"negative node", branch(func(b *ContractBranch) { b.P = -1 }), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := v.Validate(tt.contract)
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestOutputValidator(t *testing.T) {
	v, err := NewOutputValidator()
	if err != nil {
		t.Fatal(err)
	}
	good := map[string]interface{}{
		"violations": []interface{}{
			map[string]interface{}{"rule": "dead_statement", "severity": "warning", "file": "a.va", "line": 3, "module": "m", "message": "never runs"},
		},
		"summary": map[string]interface{}{"total_violations": 1, "errors": 0, "warnings": 1, "info": 0},
	}
	if err := v.Validate(good); err != nil {
		t.Fatalf("expected valid output: %v", err)
	}
	bad := map[string]interface{}{
		"violations": []interface{}{
			map[string]interface{}{"rule": "Dead Statement", "severity": "fatal", "file": "a.va", "line": 3, "module": "m", "message": "x"},
		},
		"summary": map[string]interface{}{"total_violations": 1, "errors": 0, "warnings": 0, "info": 0},
	}
	if err := v.Validate(bad); err == nil {
		t.Fatal("expected invalid output to fail")
	}
}
