package scope

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/pkg/errors"
	"github.com/robert-at-pretension-io/amsgen/internal/diag"
)

func TestLookupWalksParents(t *testing.T) {
	mod := New(ModuleScope, "amp")
	if err := mod.Declare(&Decl{Name: "gain", Kind: Parameter}); err != nil {
		t.Fatalf("declare: %v", err)
	}
	blk := mod.Child(BlockScope, "loop")
	if err := blk.Declare(&Decl{Name: "i", Kind: Variable}); err != nil {
		t.Fatalf("declare: %v", err)
	}

	if d, ok := blk.Lookup("gain"); !ok || d.Scope != mod {
		t.Fatalf("expected gain from module scope, got %+v %v", d, ok)
	}
	if _, ok := mod.Lookup("i"); ok {
		t.Fatalf("block variable must not be visible in module scope")
	}
	if _, ok := blk.LookupLocal("gain"); ok {
		t.Fatalf("LookupLocal must not walk parents")
	}
	if got := blk.Path(); got != "amp.loop" {
		t.Fatalf("path = %q", got)
	}
}

func TestDuplicateDeclaration(t *testing.T) {
	s := New(ModuleScope, "m")
	_ = s.Declare(&Decl{Name: "x", Kind: Variable, Pos: diag.Pos{Line: 2}})
	err := s.Declare(&Decl{Name: "x", Kind: Variable, Pos: diag.Pos{Line: 3}})
	var se *diag.SemanticError
	if !errors.As(err, &se) {
		t.Fatalf("expected semantic error, got %v", err)
	}
	if se.Pos.Line != 3 {
		t.Fatalf("error should point at the duplicate, got %v", se.Pos)
	}
}

func TestShadowingInChild(t *testing.T) {
	s := New(ModuleScope, "m")
	_ = s.Declare(&Decl{Name: "x", Kind: Variable})
	c := s.Child(FunctionScope, "f")
	if err := c.Declare(&Decl{Name: "x", Kind: FunctionArg}); err != nil {
		t.Fatalf("shadowing in a child scope must be allowed: %v", err)
	}
	d, _ := c.Lookup("x")
	if d.Kind != FunctionArg {
		t.Fatalf("expected inner declaration, got %v", d.Kind)
	}
}

func TestResolveSuggests(t *testing.T) {
	s := New(ModuleScope, "m")
	for _, n := range []string{"gain", "offset", "vout", "gamma"} {
		_ = s.Declare(&Decl{Name: n, Kind: Parameter})
	}
	_, err := s.Resolve("gian", diag.Pos{Line: 7, Col: 3})
	var se *diag.SemanticError
	if !errors.As(err, &se) {
		t.Fatalf("expected semantic error, got %v", err)
	}
	if diff := cmp.Diff([]string{"gain"}, se.Suggestions); diff != "" {
		t.Fatalf("suggestions mismatch (-want +got):\n%s", diff)
	}
}

func TestDeclsOrder(t *testing.T) {
	s := New(ModuleScope, "m")
	for _, n := range []string{"c", "a", "b"} {
		_ = s.Declare(&Decl{Name: n})
	}
	var got []string
	for _, d := range s.Decls() {
		got = append(got, d.Name)
	}
	if diff := cmp.Diff([]string{"c", "a", "b"}, got); diff != "" {
		t.Fatalf("order mismatch (-want +got):\n%s", diff)
	}
}
