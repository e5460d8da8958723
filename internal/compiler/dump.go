package compiler

import (
	"fmt"
	"io"
	"strings"

	"github.com/robert-at-pretension-io/amsgen/internal/config"
	"github.com/robert-at-pretension-io/amsgen/internal/diag"
	"github.com/robert-at-pretension-io/amsgen/internal/dual"
	"github.com/robert-at-pretension-io/amsgen/internal/emit"
	"github.com/robert-at-pretension-io/amsgen/internal/expr"
	"github.com/robert-at-pretension-io/amsgen/internal/facts"
	"github.com/robert-at-pretension-io/amsgen/internal/lexer"
	"github.com/robert-at-pretension-io/amsgen/internal/module"
)

// Dump writes the selected compiler internals for one source. The modules
// must not be closed yet.
func Dump(w io.Writer, file, src string, mods []*module.Module, what config.DumpConfig) error {
	d := &dumper{w: w}
	if what.Tokens {
		d.section("tokens")
		for _, t := range lexer.Tokenize(file, src, &diag.List{}) {
			d.printf("%d:%d\t%s\t%s\n", t.Pos.Line, t.Pos.Col, t.Type, t)
		}
	}
	for _, m := range mods {
		if what.RPN {
			d.section("rpn " + m.Name)
			d.rpn(m)
		}
		if what.Deps {
			d.section("deps " + m.Name)
			d.deps(m)
		}
		if what.Programs {
			d.section("programs " + m.Name)
			d.programs(m)
		}
	}
	return d.err
}

type dumper struct {
	w   io.Writer
	err error
}

func (d *dumper) printf(format string, args ...interface{}) {
	if d.err != nil {
		return
	}
	_, d.err = fmt.Fprintf(d.w, format, args...)
}

func (d *dumper) section(name string) {
	d.printf("== %s\n", name)
}

// exprs lists the expressions a statement evaluates itself, not those of
// nested statements
func exprs(s module.Stmt) []*expr.Expr {
	switch s := s.(type) {
	case *module.Contribution:
		return []*expr.Expr{s.Value}
	case *module.Assign:
		return []*expr.Expr{s.Value}
	case *module.If:
		return []*expr.Expr{s.Cond}
	case *module.Case:
		out := []*expr.Expr{s.Subject}
		for _, it := range s.Items {
			out = append(out, it.Values...)
		}
		return out
	case *module.Loop:
		return []*expr.Expr{s.Cond}
	case *module.Event:
		var out []*expr.Expr
		for _, tr := range s.Triggers {
			out = append(out, tr.Args...)
		}
		return out
	case *module.SysTask:
		return s.Args
	}
	return nil
}

func programs(s module.Stmt) []*dual.Program {
	var out []*dual.Program
	switch s := s.(type) {
	case *module.Contribution:
		out = append(out, s.Prog)
	case *module.Assign:
		out = append(out, s.Prog)
	case *module.If:
		out = append(out, s.CondProg)
	case *module.Case:
		out = append(out, s.SubProg)
		for _, it := range s.Items {
			out = append(out, it.Progs...)
		}
	case *module.Loop:
		out = append(out, s.CondProg)
	case *module.Event:
		for _, tr := range s.Triggers {
			out = append(out, tr.Progs...)
		}
	case *module.SysTask:
		out = append(out, s.Progs...)
	}
	kept := out[:0]
	for _, p := range out {
		if p != nil {
			kept = append(kept, p)
		}
	}
	return kept
}

func (d *dumper) header(s module.Stmt) {
	info := module.Info(s)
	d.printf("s%d %s line %d %s\n", info.ID, facts.StatementKind(s), info.Pos.Line, info.Reach)
}

func (d *dumper) rpn(m *module.Module) {
	for _, s := range m.Stmts() {
		es := exprs(s)
		if len(es) == 0 {
			continue
		}
		d.header(s)
		for _, e := range es {
			if e != nil {
				d.printf("\t%s\n", e)
			}
		}
	}
}

func (d *dumper) deps(m *module.Module) {
	for _, v := range m.Vars {
		if v.TD != nil {
			d.printf("var %s: %s\n", v.Name, v.TD)
		}
	}
	for _, s := range m.Stmts() {
		if td := module.Info(s).TD; td != nil && module.Live(s) {
			info := module.Info(s)
			d.printf("s%d %s: %s\n", info.ID, facts.StatementKind(s), td)
		}
	}
	for _, bi := range m.Branches {
		names := make([]string, len(bi.Deps))
		for i, dep := range bi.Deps {
			names[i] = fmt.Sprintf("%s/%s", m.Topo.ProbeName(dep.Probe), dep.Order)
		}
		d.printf("branch %s %s %s [%s]\n", bi.Name, bi.Kind, bi.Element, strings.Join(names, " "))
	}
	for _, fn := range m.Funcs {
		orders := make([]string, len(fn.Orders))
		for i, o := range fn.Orders {
			orders[i] = o.String()
		}
		d.printf("function %s(%s) after %d updates\n", fn.Name, strings.Join(orders, ", "), fn.Stats.Updates)
	}
	d.printf("fixpoint: %d updates, %d grew\n", m.Stats.Updates, m.Stats.Grew)
}

func (d *dumper) programs(m *module.Module) {
	for _, s := range m.Stmts() {
		if !module.Live(s) {
			continue
		}
		ps := programs(s)
		if len(ps) == 0 {
			continue
		}
		d.header(s)
		_, isContrib := s.(*module.Contribution)
		for _, p := range ps {
			d.printf("%s", emit.Program(p, isContrib))
		}
	}
}
