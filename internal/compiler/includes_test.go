package compiler

import (
	"fmt"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/robert-at-pretension-io/amsgen/internal/diag"
	"github.com/robert-at-pretension-io/amsgen/internal/facts"
)

func dirResolver(dir string) func(from, name string) (string, error) {
	return func(from, name string) (string, error) {
		return filepath.Join(dir, name), nil
	}
}

func TestExpandIncludesLineMap(t *testing.T) {
	dir := t.TempDir()
	writeSource(t, dir, "consts.vh", "parameter real a = 1;\nparameter real b = 2;")
	main := filepath.Join(dir, "top.va")
	src := "module top;\n`include \"consts.vh\" // shared\nanalog begin end\nendmodule"

	x := expandIncludes(main, src, dirResolver(dir))
	if x.Diags.HasErrors() {
		t.Fatalf("unexpected errors: %v", x.Diags.Items())
	}
	want := strings.Join([]string{
		"module top;",
		"",
		"parameter real a = 1;",
		"parameter real b = 2;",
		"analog begin end",
		"endmodule",
	}, "\n")
	if diff := cmp.Diff(want, x.Text); diff != "" {
		t.Errorf("expanded text mismatch (-want +got):\n%s", diff)
	}
	inc := filepath.Join(dir, "consts.vh")
	wantLines := []origin{
		{File: main, Line: 1, Top: 1},
		{File: main, Line: 2, Top: 2},
		{File: inc, Line: 1, Top: 2},
		{File: inc, Line: 2, Top: 2},
		{File: main, Line: 3, Top: 3},
		{File: main, Line: 4, Top: 4},
	}
	if diff := cmp.Diff(wantLines, x.Lines); diff != "" {
		t.Errorf("line map mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{inc}, x.Includes); diff != "" {
		t.Errorf("includes mismatch (-want +got):\n%s", diff)
	}

	ds := x.remapDiagnostics([]diag.Diagnostic{
		{Pos: diag.Pos{File: "top.va", Line: 4, Col: 3}, Severity: diag.Error, Message: "in include"},
		{Pos: diag.Pos{File: "top.va", Line: 5, Col: 1}, Severity: diag.Error, Message: "in main"},
	})
	if got := ds[0].Pos; got != (diag.Pos{File: inc, Line: 2, Col: 3}) {
		t.Errorf("include diagnostic at %v", got)
	}
	if got := ds[1].Pos; got != (diag.Pos{File: main, Line: 3, Col: 1}) {
		t.Errorf("main diagnostic at %v", got)
	}

	tables := facts.Tables{
		Params:     []facts.ParamRow{{Name: "b", Line: 4}},
		Statements: []facts.StatementRow{{Line: 5}},
	}
	x.remapTables(&tables)
	if tables.Params[0].Line != 2 || tables.Statements[0].Line != 3 {
		t.Errorf("facts not moved to main file lines: %+v %+v", tables.Params[0], tables.Statements[0])
	}
}

func TestExpandIncludesNested(t *testing.T) {
	dir := t.TempDir()
	writeSource(t, dir, "outer.vh", "`include \"inner.vh\"\nparameter real o = 1;")
	writeSource(t, dir, "inner.vh", "parameter real i = 1;")

	x := expandIncludes(filepath.Join(dir, "top.va"), "`include \"outer.vh\"\n`include \"inner.vh\"", dirResolver(dir))
	if x.Diags.HasErrors() {
		t.Fatalf("unexpected errors: %v", x.Diags.Items())
	}
	want := []string{filepath.Join(dir, "outer.vh"), filepath.Join(dir, "inner.vh")}
	if diff := cmp.Diff(want, x.Includes); diff != "" {
		t.Errorf("includes mismatch (-want +got):\n%s", diff)
	}
	if n := strings.Count(x.Text, "parameter real i = 1;"); n != 2 {
		t.Errorf("inner include expanded %d times, want 2", n)
	}
}

func TestExpandIncludesErrors(t *testing.T) {
	dir := t.TempDir()
	writeSource(t, dir, "a.vh", "`include \"b.vh\"")
	writeSource(t, dir, "b.vh", "`include \"a.vh\"")
	main := filepath.Join(dir, "top.va")

	t.Run("cycle", func(t *testing.T) {
		x := expandIncludes(main, "`include \"a.vh\"", dirResolver(dir))
		items := x.Diags.Items()
		if len(items) != 1 || !strings.Contains(items[0].Message, "include cycle") {
			t.Fatalf("expected one cycle error, got %v", items)
		}
		if items[0].Pos.File != filepath.Join(dir, "b.vh") || items[0].Kind != diag.KindDriver {
			t.Errorf("cycle reported at %v", items[0])
		}
	})

	t.Run("unresolved", func(t *testing.T) {
		resolve := func(from, name string) (string, error) {
			return "", fmt.Errorf("include %q not found", name)
		}
		x := expandIncludes(main, "module m;\n  `include \"gone.vh\"\nendmodule", resolve)
		items := x.Diags.Items()
		if len(items) != 1 {
			t.Fatalf("expected one error, got %v", items)
		}
		if got := items[0].Pos; got != (diag.Pos{File: main, Line: 2, Col: 3}) {
			t.Errorf("error at %v", got)
		}
		if x.Text != "module m;\n\nendmodule" {
			t.Errorf("directive not blanked: %q", x.Text)
		}
	})

	t.Run("unreadable", func(t *testing.T) {
		x := expandIncludes(main, "`include \"missing.vh\"", dirResolver(dir))
		items := x.Diags.Items()
		if len(items) != 1 || !strings.Contains(items[0].Message, "reading include") {
			t.Fatalf("expected a read error, got %v", items)
		}
		if len(x.Includes) != 0 {
			t.Errorf("unreadable include recorded: %v", x.Includes)
		}
	})
}
