package module

import (
	"strings"

	"github.com/robert-at-pretension-io/amsgen/internal/deps"
	"github.com/robert-at-pretension-io/amsgen/internal/diag"
	"github.com/robert-at-pretension-io/amsgen/internal/expr"
	"github.com/robert-at-pretension-io/amsgen/internal/lexer"
	"github.com/robert-at-pretension-io/amsgen/internal/scope"
	"github.com/robert-at-pretension-io/amsgen/internal/topology"
)

// compiler holds the parse state of one module
type compiler struct {
	m     *Module
	s     *lexer.Stream
	diags *diag.List
	sc    *scope.Scope
	fn    *Function
	reach Reach

	// pending collects the filter stage contributions created while the
	// current statement's expressions were parsed.
	pending []Stmt
	inEvent bool
	inParam bool
	end     diag.Pos
}

// Compile parses and compiles every module in src. Modules with errors are
// returned as well, marked Failed, so that tools can still inspect them.
// The returned list holds every diagnostic of the file.
func Compile(file, src string, opts Options) ([]*Module, *diag.List) {
	all := &diag.List{}
	lexDiags := &diag.List{}
	s := lexer.NewStream(lexer.Tokenize(file, src, lexDiags))

	var mods []*Module
	var spans []*compiler
	for !s.Is(lexer.EOF) {
		if !s.IsKeyword("module") {
			tok := s.Next()
			all.Errorf(diag.KindSyntax, tok.Pos, "expected 'module', found %s", tok)
			s.SkipTo(nil, []string{"module"})
			continue
		}
		c := newCompiler(s, file, opts)
		c.module()
		mods = append(mods, c.m)
		spans = append(spans, c)
	}

	// Lexer diagnostics belong to the module they occur in.
	for _, d := range lexDiags.Items() {
		owner := all
		for _, c := range spans {
			if d.Pos.Line >= c.m.Pos.Line && d.Pos.Line <= c.end.Line {
				owner = c.diags
				break
			}
		}
		owner.Add(d)
	}
	for _, c := range spans {
		if !c.m.Failed() {
			c.m.analyze()
		}
		c.diags.SetFile(file)
		for _, d := range c.diags.Items() {
			all.Add(d)
		}
	}
	all.SetFile(file)
	return mods, all
}

func newCompiler(s *lexer.Stream, file string, opts Options) *compiler {
	if opts.LoopLimit == 0 {
		opts.LoopLimit = DefaultOptions().LoopLimit
	}
	diags := &diag.List{}
	m := &Module{
		File:     file,
		Topo:     topology.New(),
		opts:     opts,
		diags:    diags,
		byBranch: make(map[topology.BranchID]*BranchInfo),
		elemOf:   make(map[topology.BranchID]*Element),
	}
	return &compiler{m: m, s: s, diags: diags, reach: Always}
}

func (c *compiler) report(err error) {
	c.diags.FromError(err, "module "+c.m.Name)
}

// sync skips to the next statement boundary after an error. The boundary
// token itself is consumed only when it is a ';'. The cursor always moves
// past start.
func (c *compiler) sync(start int) {
	c.s.SkipTo([]lexer.Type{lexer.Semi}, []string{"end", "endcase", "endmodule", "endfunction"})
	c.s.Accept(lexer.Semi)
	if c.s.Mark() == start {
		c.s.Next()
	}
}

func (c *compiler) module() {
	kw := c.s.Next()
	m := c.m
	m.Pos = kw.Pos
	name, err := c.s.ExpectIdent()
	if err != nil {
		c.report(err)
		c.s.SkipTo(nil, []string{"endmodule"})
		c.end = c.s.Next().Pos
		return
	}
	m.Name = name.Text
	m.Scope = scope.New(scope.ModuleScope, m.Name)
	c.sc = m.Scope
	m.Body = &Block{}
	m.Body.Pos, m.Body.Reach = kw.Pos, Always

	if err := c.header(); err != nil {
		c.report(err)
		c.sync(c.s.Mark())
	}
	for !c.s.IsKeyword("endmodule") {
		if c.s.Is(lexer.EOF) {
			c.report(diag.Syntaxf(c.s.Peek().Pos, "missing 'endmodule' for module %s", m.Name))
			break
		}
		start := c.s.Mark()
		if err := c.item(); err != nil {
			c.report(err)
			c.sync(start)
		}
	}
	c.end = c.s.Next().Pos
	m.register(m.Body)
	setParents(m.Body)
}

func (c *compiler) header() error {
	if c.s.Accept(lexer.LParen) {
		if !c.s.Is(lexer.RParen) {
			for {
				id, err := c.s.ExpectIdent()
				if err != nil {
					return err
				}
				n := c.m.Topo.NewNode(id.Text)
				c.m.Topo.Node(n).Port = true
				c.m.Ports = append(c.m.Ports, id.Text)
				if err := c.sc.Declare(&scope.Decl{Name: id.Text, Kind: scope.Net, Pos: id.Pos, Payload: n}); err != nil {
					return err
				}
				if !c.s.Accept(lexer.Comma) {
					break
				}
			}
		}
		if _, err := c.s.Expect(lexer.RParen); err != nil {
			return err
		}
	}
	_, err := c.s.Expect(lexer.Semi)
	return err
}

func (c *compiler) item() error {
	tok := c.s.Peek()
	if tok.Type != lexer.Ident {
		c.s.Next()
		return diag.Syntaxf(tok.Pos, "expected declaration or analog block, found %s", tok)
	}
	switch tok.Text {
	case "input", "output", "inout":
		return c.direction()
	case "ground":
		return c.ground()
	case "branch":
		return c.branchDecl()
	case "parameter", "localparam":
		return c.paramDecl()
	case "real", "integer":
		return c.varDecl()
	case "analog":
		c.s.Next()
		if c.s.IsKeyword("function") {
			return c.function()
		}
		st, err := c.stmt()
		if err != nil {
			return err
		}
		if st != nil {
			c.m.Body.Stmts = append(c.m.Body.Stmts, st)
		}
		return nil
	}
	if _, ok := topology.LookupDiscipline(tok.Text); ok {
		return c.netDecl()
	}
	c.s.Next()
	return diag.Semanticf(tok.Pos, "unknown discipline or declaration '%s'", tok.Text)
}

func (c *compiler) identList() ([]lexer.Token, error) {
	var out []lexer.Token
	for {
		id, err := c.s.ExpectIdent()
		if err != nil {
			return out, err
		}
		out = append(out, id)
		if !c.s.Accept(lexer.Comma) {
			return out, nil
		}
	}
}

func (c *compiler) direction() error {
	kw := c.s.Next()
	discipline := ""
	if t := c.s.Peek(); t.Type == lexer.Ident {
		if _, ok := topology.LookupDiscipline(t.Text); ok {
			discipline = t.Text
			c.s.Next()
		}
	}
	ids, err := c.identList()
	if err != nil {
		return err
	}
	for _, id := range ids {
		d, ok := c.sc.LookupLocal(id.Text)
		if !ok || d.Kind != scope.Net || !c.m.Topo.Node(d.Payload.(topology.NodeID)).Port {
			return diag.Semanticf(id.Pos, "%s '%s' is not a port of module %s", kw.Text, id.Text, c.m.Name)
		}
		if discipline != "" {
			c.m.Topo.Node(d.Payload.(topology.NodeID)).Discipline = discipline
		}
	}
	_, err = c.s.Expect(lexer.Semi)
	return err
}

func (c *compiler) netDecl() error {
	discipline := c.s.Next().Text
	ids, err := c.identList()
	if err != nil {
		return err
	}
	for _, id := range ids {
		if d, ok := c.sc.LookupLocal(id.Text); ok && d.Kind == scope.Net {
			n := d.Payload.(topology.NodeID)
			if n != topology.Ground {
				c.m.Topo.Node(n).Discipline = discipline
			}
			continue
		}
		n := c.m.Topo.NewNode(id.Text)
		c.m.Topo.Node(n).Discipline = discipline
		if err := c.sc.Declare(&scope.Decl{Name: id.Text, Kind: scope.Net, Pos: id.Pos, Payload: n}); err != nil {
			return err
		}
	}
	_, err = c.s.Expect(lexer.Semi)
	return err
}

func (c *compiler) ground() error {
	c.s.Next()
	ids, err := c.identList()
	if err != nil {
		return err
	}
	for _, id := range ids {
		if d, ok := c.sc.LookupLocal(id.Text); ok {
			if d.Kind != scope.Net {
				return diag.Semanticf(id.Pos, "'%s' is a %s, not a net", id.Text, d.Kind)
			}
			c.m.Topo.Merge(topology.Ground, d.Payload.(topology.NodeID))
			d.Payload = topology.Ground
			continue
		}
		c.m.Topo.SetGround(id.Text)
		if err := c.sc.Declare(&scope.Decl{Name: id.Text, Kind: scope.Net, Pos: id.Pos, Payload: topology.Ground}); err != nil {
			return err
		}
	}
	_, err = c.s.Expect(lexer.Semi)
	return err
}

func (c *compiler) branchDecl() error {
	kw := c.s.Next()
	if _, err := c.s.Expect(lexer.LParen); err != nil {
		return err
	}
	ends, err := c.identList()
	if err != nil {
		return err
	}
	if _, err := c.s.Expect(lexer.RParen); err != nil {
		return err
	}
	if len(ends) > 2 {
		return diag.Semanticf(kw.Pos, "branch declaration takes one or two nets, got %d", len(ends))
	}
	var names []string
	for _, e := range ends {
		names = append(names, e.Text)
	}
	ref, err := c.netBranch(names, kw.Pos)
	if err != nil {
		return err
	}
	ids, err := c.identList()
	if err != nil {
		return err
	}
	for _, id := range ids {
		c.m.Topo.Alias(id.Text, ref)
		if err := c.sc.Declare(&scope.Decl{Name: id.Text, Kind: scope.Branch, Pos: id.Pos, Payload: ref}); err != nil {
			return err
		}
	}
	_, err = c.s.Expect(lexer.Semi)
	return err
}

// typeKeyword consumes an optional real/integer and reports whether
// integer was given and whether any was.
func (c *compiler) typeKeyword() (isInt, given bool) {
	switch {
	case c.s.AcceptKeyword("integer"):
		return true, true
	case c.s.AcceptKeyword("real"):
		return false, true
	}
	return false, false
}

func (c *compiler) paramDecl() error {
	kw := c.s.Next()
	local := kw.Text == "localparam"
	isInt, typed := c.typeKeyword()
	for {
		id, err := c.s.ExpectIdent()
		if err != nil {
			return err
		}
		if _, err := c.s.Expect(lexer.Assign); err != nil {
			return err
		}
		c.inParam = true
		e, err := expr.Parse(c.s, c)
		c.inParam = false
		if err != nil {
			return err
		}
		if err := precalcOnly(e, "parameter "+id.Text); err != nil {
			return err
		}
		p := &Param{Name: id.Text, Kind: UserParam, IsInt: isInt, Pos: id.Pos, Default: e, ID: -1}
		if !typed {
			p.IsInt = e.IsInt
		}
		if c.s.IsKeyword("from") || c.s.IsKeyword("exclude") {
			p.Range = c.rangeText()
		}
		kind := scope.Parameter
		if local {
			kind = scope.LocalParam
			p.Kind = LocalParam
			if p.Range != "" {
				return diag.Semanticf(id.Pos, "localparam %s cannot have a range", id.Text)
			}
		}
		if _, ok := e.Literal(); !ok || !local {
			p.ID = len(c.m.Params)
			c.m.Params = append(c.m.Params, p)
		}
		if err := c.sc.Declare(&scope.Decl{Name: id.Text, Kind: kind, Pos: id.Pos, Payload: p}); err != nil {
			return err
		}
		if !c.s.Accept(lexer.Comma) {
			break
		}
	}
	_, err := c.s.Expect(lexer.Semi)
	return err
}

// rangeText captures a from/exclude clause verbatim
func (c *compiler) rangeText() string {
	var parts []string
	depth := 0
	for !c.s.Is(lexer.EOF) {
		t := c.s.Peek()
		if depth == 0 && (t.Type == lexer.Comma || t.Type == lexer.Semi) {
			break
		}
		switch t.Type {
		case lexer.LParen, lexer.LBracket:
			depth++
		case lexer.RParen, lexer.RBracket:
			depth--
		}
		parts = append(parts, t.Text)
		c.s.Next()
	}
	return strings.Join(parts, " ")
}

// varDecl declares real or integer variables in the current scope
func (c *compiler) varDecl() error {
	isInt, _ := c.typeKeyword()
	ids, err := c.identList()
	if err != nil {
		return err
	}
	for _, id := range ids {
		if c.fn != nil {
			if d, ok := c.sc.LookupLocal(id.Text); ok && d.Kind == scope.FunctionArg {
				d.Payload.(*Var).IsInt = isInt
				continue
			}
		}
		v := c.newVar(id.Text, isInt, id.Pos)
		if err := c.sc.Declare(&scope.Decl{Name: id.Text, Kind: scope.Variable, Pos: id.Pos, Payload: v}); err != nil {
			return err
		}
	}
	if c.s.Is(lexer.Assign) {
		return diag.Semanticf(c.s.Peek().Pos, "variable initializers are not supported; assign in an initial_step event")
	}
	_, err = c.s.Expect(lexer.Semi)
	return err
}

func (c *compiler) newVar(name string, isInt bool, pos diag.Pos) *Var {
	v := &Var{Name: name, IsInt: isInt, Pos: pos, TD: deps.New(), fn: c.fn}
	if c.fn != nil {
		v.ID = len(c.fn.Vars)
		c.fn.Vars = append(c.fn.Vars, v)
	} else {
		v.ID = len(c.m.Vars)
		c.m.Vars = append(c.m.Vars, v)
	}
	return v
}

func (c *compiler) function() error {
	c.s.Next() // function
	isInt, _ := c.typeKeyword()
	name, err := c.s.ExpectIdent()
	if err != nil {
		return err
	}
	if _, err := c.s.Expect(lexer.Semi); err != nil {
		return err
	}
	fn := &Function{ID: len(c.m.Funcs), Name: name.Text, IsInt: isInt, Pos: name.Pos}
	if err := c.sc.Declare(&scope.Decl{Name: name.Text, Kind: scope.Function, Pos: name.Pos, Payload: fn}); err != nil {
		return err
	}
	c.m.Funcs = append(c.m.Funcs, fn)

	outer := c.sc
	c.sc = outer.Child(scope.FunctionScope, name.Text)
	c.fn = fn
	defer func() {
		c.sc, c.fn = outer, nil
	}()
	fn.Result = c.newVar(name.Text, isInt, name.Pos)
	if err := c.sc.Declare(&scope.Decl{Name: name.Text, Kind: scope.Variable, Pos: name.Pos, Payload: fn.Result}); err != nil {
		return err
	}

	for {
		t := c.s.Peek()
		switch {
		case t.Type == lexer.Ident && t.Text == "input":
			if err := c.inputDecl(); err != nil {
				return err
			}
			continue
		case t.Type == lexer.Ident && (t.Text == "output" || t.Text == "inout"):
			return diag.Semanticf(t.Pos, "%s arguments of analog function %s are not supported", t.Text, fn.Name)
		case t.Type == lexer.Ident && (t.Text == "real" || t.Text == "integer"):
			if err := c.varDecl(); err != nil {
				return err
			}
			continue
		}
		break
	}

	body, err := c.stmt()
	if err != nil {
		return err
	}
	fn.Body = body
	if _, err := c.s.ExpectKeyword("endfunction"); err != nil {
		return err
	}
	setParents(body)
	c.m.compileFunction(fn)
	return nil
}

func (c *compiler) inputDecl() error {
	c.s.Next()
	ids, err := c.identList()
	if err != nil {
		return err
	}
	fn := c.fn
	for _, id := range ids {
		if d, ok := c.sc.LookupLocal(id.Text); ok {
			v, isVar := d.Payload.(*Var)
			if !isVar || v == fn.Result || v.Input {
				return diag.Semanticf(id.Pos, "duplicate declaration of argument '%s'", id.Text)
			}
			// Typed before being named an input.
			v.Input = true
			d.Kind = scope.FunctionArg
			fn.Args = append(fn.Args, v)
			continue
		}
		v := c.newVar(id.Text, false, id.Pos)
		v.Input = true
		fn.Args = append(fn.Args, v)
		if err := c.sc.Declare(&scope.Decl{Name: id.Text, Kind: scope.FunctionArg, Pos: id.Pos, Payload: v}); err != nil {
			return err
		}
	}
	_, err = c.s.Expect(lexer.Semi)
	return err
}

// precalcOnly rejects expressions that cannot be computed before the
// first evaluation: probe and variable reads.
func precalcOnly(e *expr.Expr, what string) error {
	for _, t := range e.RPN {
		switch t.Kind {
		case expr.Probe:
			return diag.Semanticf(t.Pos, "%s cannot depend on branch quantities", what)
		case expr.Var:
			return diag.Semanticf(t.Pos, "%s cannot depend on variables", what)
		case expr.Str, expr.Array:
			return diag.Semanticf(t.Pos, "%s must be a number", what)
		}
	}
	return nil
}

// setParents links every statement below s to its parent
func setParents(s Stmt) {
	if s == nil {
		return
	}
	for _, ch := range Children(s) {
		ch.base().Parent = s
		setParents(ch)
	}
}
