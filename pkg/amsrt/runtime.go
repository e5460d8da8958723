package amsrt

import (
	"fmt"
	"io"
	"os"
	"strings"
)

// SourceKind tells the host how to stamp a branch
type SourceKind int

const (
	// Potential branches are stamped as voltage sources (right-hand side
	// plus an extra branch equation).
	Potential SourceKind = iota
	// Flow branches are stamped into the conductance matrix.
	Flow
	// Switch branches change between the two forms each evaluation; the
	// state carries the mode that executed last.
	Switch
)

func (k SourceKind) String() string {
	switch k {
	case Potential:
		return "potential"
	case Flow:
		return "flow"
	case Switch:
		return "switch"
	}
	return "unknown"
}

// Element is the role of a branch inside the generated model
type Element int

const (
	Plain Element = iota
	Differentiator
	Integrator
	Delay
	Transition
	Slew
	Noise
	ACStim
	FilterOutput
	ZDelay
)

var elementNames = [...]string{"plain", "ddt", "idt", "absdelay", "transition", "slew", "noise", "ac_stim", "filter_output", "zi_delay"}

func (e Element) String() string {
	if int(e) < len(elementNames) {
		return elementNames[e]
	}
	return "unknown"
}

// Mode is the companion form a switch branch executed in
type Mode int

const (
	ModeNone Mode = iota
	ModePotential
	ModeFlow
)

// Host is what generated code needs from the simulator at accept time
type Host interface {
	// Time is the current simulation time
	Time() float64
	// Print receives the formatted output of $strobe/$display/$write.
	Print(text string)
	// Finish requests the end of the simulation
	Finish(code int)
}

// StdHost prints to a writer and records finish requests
type StdHost struct {
	W        io.Writer
	T        float64
	Finished bool
	Code     int
}

// Time implements Host
func (h *StdHost) Time() float64 { return h.T }

// Print implements Host
func (h *StdHost) Print(text string) {
	w := h.W
	if w == nil {
		w = os.Stdout
	}
	fmt.Fprint(w, text)
}

// Finish implements Host
func (h *StdHost) Finish(code int) {
	h.Finished = true
	h.Code = code
}

// Format renders an HDL format string. %g %e %f %d %s %m and %% are
// supported; extra arguments are appended separated by spaces.
func Format(format string, args ...float64) string {
	var out []byte
	ai := 0
	for i := 0; i < len(format); i++ {
		c := format[i]
		if c != '%' || i+1 >= len(format) {
			out = append(out, c)
			continue
		}
		i++
		verb := format[i]
		if verb == '%' {
			out = append(out, '%')
			continue
		}
		if ai >= len(args) {
			out = append(out, '%', verb)
			continue
		}
		a := args[ai]
		ai++
		switch verb {
		case 'd', 'D':
			out = append(out, fmt.Sprintf("%d", int64(a))...)
		case 'e', 'E':
			out = append(out, fmt.Sprintf("%e", a)...)
		case 'f', 'F':
			out = append(out, fmt.Sprintf("%f", a)...)
		default:
			out = append(out, fmt.Sprintf("%g", a)...)
		}
	}
	for ; ai < len(args); ai++ {
		out = append(out, fmt.Sprintf(" %g", args[ai])...)
	}
	return string(out)
}

// Message renders the output of a display task. suffix holds string
// arguments after the format; $write adds no newline.
func Message(task, format, suffix string, args ...float64) string {
	text := strings.TrimPrefix(Format(format, args...), " ") + suffix
	switch task {
	case "$write":
		return text
	case "$warning":
		return "warning: " + text + "\n"
	case "$error":
		return "error: " + text + "\n"
	}
	return text + "\n"
}
