package diag

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/mattn/go-isatty"
	"github.com/mitchellh/go-wordwrap"
)

const (
	colorReset  = "\x1b[0m"
	colorRed    = "\x1b[31m"
	colorYellow = "\x1b[33m"
	colorCyan   = "\x1b[36m"
)

// Renderer prints diagnostics in file:line:col form
type Renderer struct {
	Width int
	Color bool
}

// NewRenderer returns a renderer that colors output when f is a terminal.
func NewRenderer(f *os.File) *Renderer {
	color := isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
	return &Renderer{Width: 100, Color: color}
}

// Render writes one diagnostic. Continuation lines are indented under the
// message.
func (r *Renderer) Render(w io.Writer, d Diagnostic) error {
	head := fmt.Sprintf("%s: %s: ", d.Pos, d.Severity)
	msg := d.Message
	if d.Context != "" {
		msg += " (in " + d.Context + ")"
	}
	width := r.Width
	if width <= len(head)+20 {
		width = len(head) + 60
	}
	lines := strings.Split(wordwrap.WrapString(msg, uint(width-len(head))), "\n")
	if r.Color {
		head = r.paint(d.Severity) + head + colorReset
	}
	if _, err := fmt.Fprintf(w, "%s%s\n", head, lines[0]); err != nil {
		return err
	}
	pad := strings.Repeat(" ", len(fmt.Sprintf("%s: %s: ", d.Pos, d.Severity)))
	for _, l := range lines[1:] {
		if _, err := fmt.Fprintf(w, "%s%s\n", pad, l); err != nil {
			return err
		}
	}
	return nil
}

// RenderAll writes every diagnostic of the list
func (r *Renderer) RenderAll(w io.Writer, l *List) error {
	for _, d := range l.Items() {
		if err := r.Render(w, d); err != nil {
			return err
		}
	}
	return nil
}

func (r *Renderer) paint(s Severity) string {
	switch s {
	case Error:
		return colorRed
	case Warning:
		return colorYellow
	}
	return colorCyan
}
