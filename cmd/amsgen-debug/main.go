// Command amsgen-debug prints compiler internals for one source or snippet
// and plots the step responses of its constant filters.
package main

import (
	"flag"
	"fmt"
	"image/color"
	"os"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/robert-at-pretension-io/amsgen/internal/compiler"
	"github.com/robert-at-pretension-io/amsgen/internal/config"
	"github.com/robert-at-pretension-io/amsgen/internal/diag"
	"github.com/robert-at-pretension-io/amsgen/internal/module"
)

func main() {
	expr := flag.String("e", "", "compile this source text instead of a file")
	tokens := flag.Bool("tokens", false, "print the token stream")
	rpn := flag.Bool("rpn", false, "print expressions in postfix form")
	deps := flag.Bool("deps", false, "print dependency sets and branch layouts")
	programs := flag.Bool("programs", false, "print the dual-number programs")
	plotPath := flag.String("plot", "", "write filter step responses to this image (.png, .svg, .pdf)")
	dt := flag.Float64("dt", 1e-3, "time step of the step response")
	steps := flag.Int("steps", 200, "samples of the step response")
	flag.Parse()

	file, src := "<snippet>", *expr
	if src == "" {
		if flag.NArg() != 1 {
			fmt.Fprintln(os.Stderr, "Usage: amsgen-debug [-tokens] [-rpn] [-deps] [-programs] [-plot out.png] (-e source | file.va)")
			os.Exit(1)
		}
		file = flag.Arg(0)
		data, err := os.ReadFile(file)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		src = string(data)
	}
	what := config.DumpConfig{Tokens: *tokens, RPN: *rpn, Deps: *deps, Programs: *programs}
	if what == (config.DumpConfig{}) && *plotPath == "" {
		what = config.DumpConfig{Tokens: true, RPN: true, Deps: true, Programs: true}
	}

	mods, list := module.Compile(file, src, module.DefaultOptions())
	defer func() {
		for _, m := range mods {
			if !m.Failed() {
				m.Close()
			}
		}
	}()
	_ = diag.NewRenderer(os.Stderr).RenderAll(os.Stderr, list)

	if err := compiler.Dump(os.Stdout, file, src, mods, what); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if *plotPath != "" {
		if err := plotFilters(*plotPath, mods, *dt, *steps); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	}
}

var palette = []color.RGBA{
	{R: 0x1f, G: 0x77, B: 0xb4, A: 0xff},
	{R: 0xff, G: 0x7f, B: 0x0e, A: 0xff},
	{R: 0x2c, G: 0xa0, B: 0x2c, A: 0xff},
	{R: 0xd6, G: 0x27, B: 0x28, A: 0xff},
}

// plotFilters draws one curve per filter whose coefficients are known at
// compile time. Deferred filters are skipped.
func plotFilters(path string, mods []*module.Module, dt float64, steps int) error {
	p := plot.New()
	p.Title.Text = "Filter step responses"
	p.X.Label.Text = "t"
	p.Y.Label.Text = "y"
	p.Add(plotter.NewGrid())

	n := 0
	for _, m := range mods {
		for _, f := range m.Filters {
			if f.Deferred {
				fmt.Fprintf(os.Stderr, "%s: %s #%d has deferred coefficients, skipped\n", m.Name, f.Kind, f.ID)
				continue
			}
			ys, err := f.Plan.Step(dt, steps)
			if err != nil {
				return fmt.Errorf("%s: %s #%d: %w", m.Name, f.Kind, f.ID, err)
			}
			pts := make(plotter.XYs, len(ys))
			for i, y := range ys {
				pts[i].X = float64(i) * dt
				pts[i].Y = y
			}
			line, err := plotter.NewLine(pts)
			if err != nil {
				return err
			}
			line.Color = palette[n%len(palette)]
			p.Add(line)
			p.Legend.Add(fmt.Sprintf("%s %s #%d", m.Name, f.Kind, f.ID), line)
			n++
		}
	}
	if n == 0 {
		return fmt.Errorf("no constant filters to plot")
	}
	return p.Save(6*vg.Inch, 4*vg.Inch, path)
}
