package module

import (
	"strings"
	"testing"

	"github.com/robert-at-pretension-io/amsgen/internal/diag"
	"github.com/robert-at-pretension-io/amsgen/internal/lexer"
	"github.com/robert-at-pretension-io/amsgen/internal/scope"
)

// assignCompiler prepares a compiler positioned on src with y declared as
// a variable owned by owner
func assignCompiler(t *testing.T, src string, owner *Function) *compiler {
	t.Helper()
	c := newCompiler(lexer.NewStream(lexer.Tokenize("t.va", src, &diag.List{})), "t.va", DefaultOptions())
	c.sc = scope.New(scope.ModuleScope, "m")
	y := &Var{Name: "y", fn: owner}
	if err := c.sc.Declare(&scope.Decl{Name: "y", Kind: scope.Variable, Payload: y}); err != nil {
		t.Fatal(err)
	}
	return c
}

func TestAssignChecksVariableOwner(t *testing.T) {
	f := &Function{Name: "f"}
	g := &Function{Name: "g"}
	tests := []struct {
		name  string
		owner *Function
		in    *Function
		want  string
	}{
		{"function local at module level", f, nil, "'y' is local to analog function f"},
		{"module variable in function", nil, g, "module variable 'y' cannot be used inside analog function g"},
		{"own local", f, f, ""},
		{"module variable", nil, nil, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := assignCompiler(t, "y = 1", tt.owner)
			c.fn = tt.in
			_, err := c.assign()
			switch {
			case tt.want == "" && err != nil:
				t.Fatalf("unexpected error: %v", err)
			case tt.want != "" && (err == nil || !strings.Contains(err.Error(), tt.want)):
				t.Fatalf("got %v, want %q", err, tt.want)
			}
		})
	}
}
