package diag

import (
	"bytes"
	"strings"
	"testing"

	"github.com/pkg/errors"
)

func TestListSortedAndCounts(t *testing.T) {
	var l List
	l.Errorf(KindSyntax, Pos{Line: 9, Col: 2}, "expected ';'")
	l.Warnf(KindTopology, Pos{Line: 3, Col: 1}, "pivot clamped")
	l.FromError(Semanticf(Pos{Line: 5, Col: 7}, "unknown identifier 'gian'"), "module amp")

	items := l.Items()
	if len(items) != 3 {
		t.Fatalf("expected 3 diagnostics, got %d", len(items))
	}
	if items[0].Pos.Line != 3 || items[2].Pos.Line != 9 {
		t.Fatalf("diagnostics not sorted by line: %+v", items)
	}
	if !l.HasErrors() {
		t.Fatalf("expected HasErrors")
	}
	if got := l.Count(Warning); got != 1 {
		t.Fatalf("expected 1 warning, got %d", got)
	}
	if items[1].Kind != KindSemantic || items[1].Context != "module amp" {
		t.Fatalf("semantic error not converted: %+v", items[1])
	}
}

func TestFromErrorSeesThroughWrap(t *testing.T) {
	var l List
	err := errors.Wrap(&TopologyError{Pos: Pos{Line: 2}, Msg: "zero pivot"}, "filter")
	l.FromError(err, "")
	d := l.Items()[0]
	if d.Kind != KindTopology || d.Severity != Warning {
		t.Fatalf("expected topology warning, got %+v", d)
	}
}

func TestSemanticSuggestions(t *testing.T) {
	e := &SemanticError{Pos: Pos{Line: 1, Col: 1}, Msg: "unknown identifier 'gian'", Suggestions: []string{"gain"}}
	if !strings.Contains(e.Error(), "did you mean 'gain'?") {
		t.Fatalf("missing suggestion: %s", e.Error())
	}
}

func TestInternalfPanics(t *testing.T) {
	defer func() {
		r := recover()
		if r == nil {
			t.Fatalf("expected panic")
		}
		if !IsInternal(r) {
			t.Fatalf("expected internal error, got %v", r)
		}
	}()
	Internalf("use count %d at teardown", 2)
}

func TestRenderWraps(t *testing.T) {
	r := &Renderer{Width: 40}
	var buf bytes.Buffer
	d := Diagnostic{Pos: Pos{File: "a.va", Line: 4, Col: 2}, Severity: Error,
		Message: "contribution to branch (out,gnd) mixes incompatible disciplines electrical and thermal"}
	if err := r.Render(&buf, d); err != nil {
		t.Fatalf("render: %v", err)
	}
	out := buf.String()
	if !strings.HasPrefix(out, "a.va:4:2: error: ") {
		t.Fatalf("unexpected prefix: %q", out)
	}
	if strings.Count(out, "\n") < 2 {
		t.Fatalf("expected wrapped output, got %q", out)
	}
}
