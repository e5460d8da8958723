package diag

import (
	"fmt"
	"sort"
	"strings"

	"github.com/pkg/errors"
)

// Severity of a diagnostic
type Severity int

const (
	Note Severity = iota
	Warning
	Error
)

func (s Severity) String() string {
	switch s {
	case Note:
		return "note"
	case Warning:
		return "warning"
	case Error:
		return "error"
	}
	return "unknown"
}

// Pos is a source position. Line and Col are 1-based; zero means unknown.
type Pos struct {
	File string `json:"file,omitempty"`
	Line int    `json:"line"`
	Col  int    `json:"col"`
}

func (p Pos) String() string {
	var b strings.Builder
	if p.File != "" {
		b.WriteString(p.File)
		b.WriteByte(':')
	}
	fmt.Fprintf(&b, "%d:%d", p.Line, p.Col)
	return b.String()
}

// Kind classifies a diagnostic by the compiler layer that produced it
type Kind string

const (
	KindSyntax   Kind = "syntax"
	KindSemantic Kind = "semantic"
	KindTopology Kind = "topology"
	KindDriver   Kind = "driver"
)

// Diagnostic is one user-visible message
type Diagnostic struct {
	Pos      Pos      `json:"pos"`
	Severity Severity `json:"severity"`
	Kind     Kind     `json:"kind"`
	Message  string   `json:"message"`
	// Context names the enclosing construct, e.g. "module opamp" or "branch (out,gnd)".
	Context string `json:"context,omitempty"`
}

func (d Diagnostic) String() string {
	s := fmt.Sprintf("%s: %s: %s", d.Pos, d.Severity, d.Message)
	if d.Context != "" {
		s += " (in " + d.Context + ")"
	}
	return s
}

// SyntaxError aborts the current statement
type SyntaxError struct {
	Pos Pos
	Msg string
}

func (e *SyntaxError) Error() string { return e.Pos.String() + ": " + e.Msg }

// Syntaxf builds a SyntaxError
func Syntaxf(pos Pos, format string, args ...interface{}) *SyntaxError {
	return &SyntaxError{Pos: pos, Msg: fmt.Sprintf(format, args...)}
}

// SemanticError is raised for unknown identifiers, duplicate declarations,
// discipline mismatches and bad call arity. The statement is skipped.
type SemanticError struct {
	Pos         Pos
	Msg         string
	Suggestions []string
}

func (e *SemanticError) Error() string {
	msg := e.Pos.String() + ": " + e.Msg
	if len(e.Suggestions) > 0 {
		msg += "; did you mean " + strings.Join(quoteAll(e.Suggestions), " or ") + "?"
	}
	return msg
}

// Semanticf builds a SemanticError
func Semanticf(pos Pos, format string, args ...interface{}) *SemanticError {
	return &SemanticError{Pos: pos, Msg: fmt.Sprintf(format, args...)}
}

// TopologyError is a recoverable modeling problem (bad filter, clamped pivot).
type TopologyError struct {
	Pos Pos
	Msg string
}

func (e *TopologyError) Error() string { return e.Pos.String() + ": " + e.Msg }

// InternalError is a broken compiler invariant. It is never recovered.
type InternalError struct {
	Msg string
}

func (e *InternalError) Error() string { return "internal compiler error: " + e.Msg }

// Internalf panics with an InternalError carrying a stack trace.
func Internalf(format string, args ...interface{}) {
	panic(errors.WithStack(&InternalError{Msg: fmt.Sprintf(format, args...)}))
}

// IsInternal reports whether a recovered panic value is an internal error.
func IsInternal(v interface{}) bool {
	err, ok := v.(error)
	if !ok {
		return false
	}
	_, ok = errors.Cause(err).(*InternalError)
	return ok
}

func quoteAll(ss []string) []string {
	out := make([]string, len(ss))
	for i, s := range ss {
		out[i] = "'" + s + "'"
	}
	return out
}

// List collects diagnostics for one compilation unit
type List struct {
	items []Diagnostic
}

// Add appends a diagnostic
func (l *List) Add(d Diagnostic) {
	l.items = append(l.items, d)
}

// Errorf records an error-level diagnostic
func (l *List) Errorf(kind Kind, pos Pos, format string, args ...interface{}) {
	l.Add(Diagnostic{Pos: pos, Severity: Error, Kind: kind, Message: fmt.Sprintf(format, args...)})
}

// Warnf records a warning
func (l *List) Warnf(kind Kind, pos Pos, format string, args ...interface{}) {
	l.Add(Diagnostic{Pos: pos, Severity: Warning, Kind: kind, Message: fmt.Sprintf(format, args...)})
}

// FromError converts a typed compile error into a diagnostic. Unknown errors
// are recorded as driver errors.
func (l *List) FromError(err error, context string) {
	d := Diagnostic{Severity: Error, Context: context}
	switch e := errors.Cause(err).(type) {
	case *SyntaxError:
		d.Pos, d.Kind, d.Message = e.Pos, KindSyntax, e.Msg
	case *SemanticError:
		d.Pos, d.Kind = e.Pos, KindSemantic
		d.Message = e.Msg
		if len(e.Suggestions) > 0 {
			d.Message += "; did you mean " + strings.Join(quoteAll(e.Suggestions), " or ") + "?"
		}
	case *TopologyError:
		d.Pos, d.Kind, d.Message = e.Pos, KindTopology, e.Msg
		d.Severity = Warning
	default:
		d.Kind, d.Message = KindDriver, err.Error()
	}
	l.Add(d)
}

// Items returns the diagnostics sorted by position
func (l *List) Items() []Diagnostic {
	out := make([]Diagnostic, len(l.items))
	copy(out, l.items)
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i].Pos, out[j].Pos
		if a.File != b.File {
			return a.File < b.File
		}
		if a.Line != b.Line {
			return a.Line < b.Line
		}
		return a.Col < b.Col
	})
	return out
}

// Len returns the number of diagnostics
func (l *List) Len() int { return len(l.items) }

// HasErrors reports whether any error-level diagnostic was recorded
func (l *List) HasErrors() bool {
	for _, d := range l.items {
		if d.Severity == Error {
			return true
		}
	}
	return false
}

// Count returns the number of diagnostics with the given severity
func (l *List) Count(s Severity) int {
	n := 0
	for _, d := range l.items {
		if d.Severity == s {
			n++
		}
	}
	return n
}

// SetFile stamps a file name on every diagnostic lacking one.
func (l *List) SetFile(file string) {
	for i := range l.items {
		if l.items[i].Pos.File == "" {
			l.items[i].Pos.File = file
		}
	}
}
