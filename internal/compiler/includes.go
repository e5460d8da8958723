package compiler

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/robert-at-pretension-io/amsgen/internal/diag"
	"github.com/robert-at-pretension-io/amsgen/internal/facts"
)

var includeRe = regexp.MustCompile("^\\s*`include\\s+\"([^\"]+)\"\\s*(//.*)?$")

// maxIncludeDepth stops runaway nesting that is not a plain cycle
const maxIncludeDepth = 32

// origin is where an expanded line came from. Top is the line of the
// main file that produced it: the line itself, or the `include directive.
type origin struct {
	File string
	Line int
	Top  int
}

// expansion is a source file with every `include replaced by the
// included text
type expansion struct {
	Text string
	// Lines maps expanded line n to Lines[n-1].
	Lines []origin
	// Includes lists the resolved include paths in first-seen order.
	Includes []string
	Diags    diag.List
}

type expander struct {
	resolve func(from, name string) (string, error)
	read    func(path string) ([]byte, error)
	out     []string
	x       *expansion
	seen    map[string]bool
}

// expandIncludes splices included files into src. Unresolvable includes
// and cycles are errors and leave a blank line behind.
func expandIncludes(file, src string, resolve func(from, name string) (string, error)) *expansion {
	e := &expander{
		resolve: resolve,
		read:    os.ReadFile,
		x:       &expansion{},
		seen:    make(map[string]bool),
	}
	e.file(file, src, 0, []string{file})
	e.x.Text = strings.Join(e.out, "\n")
	return e.x
}

func (e *expander) emit(line string, o origin) {
	e.out = append(e.out, line)
	e.x.Lines = append(e.x.Lines, o)
}

func (e *expander) file(path, src string, top int, stack []string) {
	for i, line := range strings.Split(src, "\n") {
		n := i + 1
		t := top
		if t == 0 {
			t = n
		}
		m := includeRe.FindStringSubmatch(line)
		if m == nil {
			e.emit(line, origin{File: path, Line: n, Top: t})
			continue
		}
		pos := diag.Pos{File: path, Line: n, Col: strings.Index(line, "`") + 1}
		e.emit("", origin{File: path, Line: n, Top: t})

		target, err := e.resolve(path, m[1])
		if err != nil {
			e.x.Diags.Errorf(diag.KindDriver, pos, "%v", err)
			continue
		}
		if contains(stack, target) {
			e.x.Diags.Errorf(diag.KindDriver, pos, "include cycle: %s", strings.Join(append(stack, target), " -> "))
			continue
		}
		if len(stack) > maxIncludeDepth {
			e.x.Diags.Errorf(diag.KindDriver, pos, "includes nested deeper than %d", maxIncludeDepth)
			continue
		}
		data, err := e.read(target)
		if err != nil {
			e.x.Diags.Errorf(diag.KindDriver, pos, "reading include: %v", err)
			continue
		}
		if !e.seen[target] {
			e.seen[target] = true
			e.x.Includes = append(e.x.Includes, target)
		}
		e.file(target, string(data), t, append(stack, target))
	}
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func (x *expansion) at(line int) (origin, bool) {
	if line < 1 || line > len(x.Lines) {
		return origin{}, false
	}
	return x.Lines[line-1], true
}

// remapDiagnostics moves positions back to the file and line the text
// was written in
func (x *expansion) remapDiagnostics(ds []diag.Diagnostic) []diag.Diagnostic {
	out := make([]diag.Diagnostic, len(ds))
	for i, d := range ds {
		if o, ok := x.at(d.Pos.Line); ok {
			d.Pos.File, d.Pos.Line = o.File, o.Line
		}
		out[i] = d
	}
	return out
}

// remapTables rewrites fact lines to lines of the main file, so rows stay
// attached to the file they are filed under
func (x *expansion) remapTables(t *facts.Tables) {
	top := func(line int) int {
		if o, ok := x.at(line); ok {
			return o.Top
		}
		return line
	}
	for i := range t.Modules {
		t.Modules[i].Line = top(t.Modules[i].Line)
	}
	for i := range t.Statements {
		t.Statements[i].Line = top(t.Statements[i].Line)
	}
	for i := range t.Params {
		t.Params[i].Line = top(t.Params[i].Line)
	}
	for i := range t.Functions {
		t.Functions[i].Line = top(t.Functions[i].Line)
	}
	for i := range t.Filters {
		t.Filters[i].Line = top(t.Filters[i].Line)
	}
}

func (x *expansion) String() string {
	return fmt.Sprintf("%d lines, %d includes", len(x.Lines), len(x.Includes))
}
