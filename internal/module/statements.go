package module

import (
	"github.com/robert-at-pretension-io/amsgen/internal/deps"
	"github.com/robert-at-pretension-io/amsgen/internal/diag"
	"github.com/robert-at-pretension-io/amsgen/internal/expr"
	"github.com/robert-at-pretension-io/amsgen/internal/lexer"
	"github.com/robert-at-pretension-io/amsgen/internal/scope"
	"github.com/robert-at-pretension-io/amsgen/internal/topology"
)

var sysTasks = map[string]bool{
	"$strobe": true, "$display": true, "$write": true, "$monitor": true, "$debug": true,
	"$finish": true, "$stop": true, "$warning": true, "$error": true,
}

// add records a finished statement with the module or the function being
// compiled
func (c *compiler) add(s Stmt) {
	if c.fn != nil {
		b := s.base()
		b.ID = len(c.fn.stmts)
		b.TD = deps.New()
		c.fn.stmts = append(c.fn.stmts, s)
		return
	}
	c.m.register(s)
}

func (c *compiler) withReach(r Reach, f func() (Stmt, error)) (Stmt, error) {
	saved := c.reach
	c.reach = r
	defer func() { c.reach = saved }()
	return f()
}

// demote lowers the reachability of a finished subtree. Statements that
// become unreachable drop their references.
func (c *compiler) demote(s Stmt, r Reach) {
	Walk(s, func(x Stmt) bool {
		b := x.base()
		if b.Reach <= r {
			return false
		}
		if r == Never && c.fn == nil {
			c.m.release(x)
		}
		b.Reach = r
		return true
	})
}

// parseExpr reads an expression that is evaluated as a number
func (c *compiler) parseExpr() (*expr.Expr, error) {
	e, err := expr.Parse(c.s, c)
	if err != nil {
		return nil, err
	}
	return e, checkValue(e)
}

func checkValue(e *expr.Expr) error {
	for _, t := range e.RPN {
		switch t.Kind {
		case expr.Str:
			return diag.Semanticf(t.Pos, "string used as a value")
		case expr.Array:
			return diag.Semanticf(t.Pos, "array literal used as a value")
		}
	}
	return nil
}

// stmt parses one statement. Filter stages created by its expressions are
// placed in front of it inside an unnamed block.
func (c *compiler) stmt() (Stmt, error) {
	saved := c.pending
	c.pending = nil
	st, err := c.stmtInner()
	pend := c.pending
	c.pending = saved
	if err != nil || len(pend) == 0 {
		return st, err
	}
	blk := &Block{Stmts: pend}
	if st != nil {
		blk.Stmts = append(blk.Stmts, st)
	}
	blk.Pos, blk.Reach = pend[0].base().Pos, c.reach
	c.add(blk)
	return blk, nil
}

func (c *compiler) stmtInner() (Stmt, error) {
	tok := c.s.Peek()
	switch tok.Type {
	case lexer.Semi:
		c.s.Next()
		return nil, nil
	case lexer.At:
		return c.event()
	case lexer.SysIdent:
		return c.sysTask()
	case lexer.Ident:
	default:
		c.s.Next()
		return nil, diag.Syntaxf(tok.Pos, "expected statement, found %s", tok)
	}
	switch tok.Text {
	case "begin":
		return c.block()
	case "if":
		return c.ifStmt()
	case "case":
		return c.caseStmt()
	case "for":
		return c.forStmt()
	case "while", "repeat":
		return c.whileStmt()
	}
	if lexer.IsReserved(tok.Text) {
		return nil, diag.Syntaxf(tok.Pos, "unexpected '%s'", tok.Text)
	}
	if topology.IsAccessFunction(tok.Text) && c.s.PeekN(1).Type == lexer.LParen {
		return c.contribution()
	}
	a, err := c.assign()
	if err != nil {
		return nil, err
	}
	if _, err := c.s.Expect(lexer.Semi); err != nil {
		return nil, err
	}
	return a, nil
}

func (c *compiler) block() (Stmt, error) {
	begin := c.s.Next()
	blk := &Block{}
	blk.Pos, blk.Reach = begin.Pos, c.reach
	if c.s.Accept(lexer.Colon) {
		name, err := c.s.ExpectIdent()
		if err != nil {
			return nil, err
		}
		blk.Name = name.Text
		if err := c.sc.Declare(&scope.Decl{Name: name.Text, Kind: scope.Block, Pos: name.Pos, Payload: blk}); err != nil {
			return nil, err
		}
		outer := c.sc
		c.sc = outer.Child(scope.BlockScope, name.Text)
		defer func() { c.sc = outer }()
		for c.s.IsKeyword("real") || c.s.IsKeyword("integer") {
			if err := c.varDecl(); err != nil {
				return nil, err
			}
		}
	}
	for !c.s.IsKeyword("end") {
		t := c.s.Peek()
		if t.Type == lexer.EOF || (t.Type == lexer.Ident && (t.Text == "endmodule" || t.Text == "endfunction")) {
			return nil, diag.Syntaxf(t.Pos, "missing 'end' for block opened at %s", begin.Pos)
		}
		start := c.s.Mark()
		st, err := c.stmt()
		if err != nil {
			c.report(err)
			c.sync(start)
			continue
		}
		if st != nil {
			blk.Stmts = append(blk.Stmts, st)
		}
	}
	c.s.Next()
	c.add(blk)
	return blk, nil
}

// armReach is the reachability of the arms of a conditional on cond
func (c *compiler) armReach(cond *expr.Expr) (then, els Reach) {
	if v, ok := cond.Literal(); ok {
		if v != 0 {
			return c.reach, Never
		}
		return Never, c.reach
	}
	r := minReach(c.reach, Conditional)
	return r, r
}

func (c *compiler) parenExpr() (*expr.Expr, error) {
	if _, err := c.s.Expect(lexer.LParen); err != nil {
		return nil, err
	}
	e, err := c.parseExpr()
	if err != nil {
		return nil, err
	}
	_, err = c.s.Expect(lexer.RParen)
	return e, err
}

func (c *compiler) ifStmt() (Stmt, error) {
	kw := c.s.Next()
	cond, err := c.parenExpr()
	if err != nil {
		return nil, err
	}
	thenR, elseR := c.armReach(cond)
	st := &If{Cond: cond}
	st.Pos, st.Reach = kw.Pos, c.reach
	if st.Then, err = c.withReach(thenR, c.stmt); err != nil {
		return nil, err
	}
	if c.s.AcceptKeyword("else") {
		if st.Else, err = c.withReach(elseR, c.stmt); err != nil {
			return nil, err
		}
	}
	c.add(st)
	return st, nil
}

// caseStmt folds a literal subject against literal item values: the first
// equal item runs whenever the case does and every later item never runs.
// Items that cannot be decided at compile time make everything after them
// conditional.
func (c *compiler) caseStmt() (Stmt, error) {
	kw := c.s.Next()
	subject, err := c.parenExpr()
	if err != nil {
		return nil, err
	}
	st := &Case{Subject: subject}
	st.Pos, st.Reach = kw.Pos, c.reach
	sv, subjectLit := subject.Literal()
	cond := minReach(c.reach, Conditional)
	matched, undecided := false, false
	var def *CaseItem

	for !c.s.IsKeyword("endcase") {
		t := c.s.Peek()
		if t.Type == lexer.EOF || (t.Type == lexer.Ident && (t.Text == "endmodule" || t.Text == "end")) {
			return nil, diag.Syntaxf(t.Pos, "missing 'endcase' for case at %s", kw.Pos)
		}
		item := &CaseItem{}
		if c.s.AcceptKeyword("default") {
			if def != nil {
				return nil, diag.Semanticf(t.Pos, "case has more than one default item")
			}
			c.s.Accept(lexer.Colon)
			switch {
			case matched:
				item.Reach = Never
			case undecided:
				item.Reach = cond
			default:
				item.Reach = c.reach
			}
			def = item
		} else {
			for {
				v, err := c.parseExpr()
				if err != nil {
					return nil, err
				}
				item.Values = append(item.Values, v)
				if !c.s.Accept(lexer.Comma) {
					break
				}
			}
			if _, err := c.s.Expect(lexer.Colon); err != nil {
				return nil, err
			}
			item.Reach = c.itemReach(item, sv, subjectLit, &matched, &undecided)
		}
		body, err := c.withReach(item.Reach, c.stmt)
		if err != nil {
			return nil, err
		}
		item.Body = body
		st.Items = append(st.Items, item)
	}
	c.s.Next()

	// A default written before the deciding items is fixed up afterwards.
	if def != nil {
		r := def.Reach
		if matched {
			r = Never
		} else if undecided {
			r = minReach(r, cond)
		}
		if r < def.Reach {
			def.Reach = r
			if def.Body != nil {
				c.demote(def.Body, r)
			}
		}
	}
	c.add(st)
	return st, nil
}

func (c *compiler) itemReach(item *CaseItem, sv float64, subjectLit bool, matched, undecided *bool) Reach {
	if *matched {
		return Never
	}
	cond := minReach(c.reach, Conditional)
	if !subjectLit {
		*undecided = true
		return cond
	}
	hit, open := false, false
	for _, v := range item.Values {
		lv, ok := v.Literal()
		switch {
		case !ok:
			open = true
		case lv == sv:
			hit = true
		}
	}
	switch {
	case hit && !*undecided:
		*matched = true
		return c.reach
	case hit:
		*matched = true
		return cond
	case open:
		*undecided = true
		return cond
	}
	return Never
}

func (c *compiler) forStmt() (Stmt, error) {
	kw := c.s.Next()
	if _, err := c.s.Expect(lexer.LParen); err != nil {
		return nil, err
	}
	init, err := c.assign()
	if err != nil {
		return nil, err
	}
	if _, err := c.s.Expect(lexer.Semi); err != nil {
		return nil, err
	}
	cond, err := c.parseExpr()
	if err != nil {
		return nil, err
	}
	if _, err := c.s.Expect(lexer.Semi); err != nil {
		return nil, err
	}
	bodyR, _ := c.armReach(cond)
	bodyR = minReach(bodyR, Conditional)
	stepSt, err := c.withReach(bodyR, func() (Stmt, error) {
		a, err := c.assign()
		if err != nil {
			return nil, err
		}
		return a, nil
	})
	if err != nil {
		return nil, err
	}
	if _, err := c.s.Expect(lexer.RParen); err != nil {
		return nil, err
	}
	body, err := c.withReach(bodyR, c.stmt)
	if err != nil {
		return nil, err
	}
	st := &Loop{Kind: ForLoop, Init: init, Cond: cond, Step: stepSt.(*Assign), Body: body}
	st.Pos, st.Reach = kw.Pos, c.reach
	c.add(st)
	return st, nil
}

func (c *compiler) whileStmt() (Stmt, error) {
	kw := c.s.Next()
	cond, err := c.parenExpr()
	if err != nil {
		return nil, err
	}
	kind := WhileLoop
	bodyR, _ := c.armReach(cond)
	if kw.Text == "repeat" {
		kind = RepeatLoop
		if v, ok := cond.Literal(); ok && v < 1 {
			bodyR = Never
		}
	}
	bodyR = minReach(bodyR, Conditional)
	body, err := c.withReach(bodyR, c.stmt)
	if err != nil {
		return nil, err
	}
	st := &Loop{Kind: kind, Cond: cond, Body: body}
	st.Pos, st.Reach = kw.Pos, c.reach
	c.add(st)
	return st, nil
}

// assign parses name = expr without the terminating ';'
func (c *compiler) assign() (*Assign, error) {
	id, err := c.s.ExpectIdent()
	if err != nil {
		return nil, err
	}
	d, err := c.sc.Resolve(id.Text, id.Pos)
	if err != nil {
		return nil, err
	}
	v, ok := d.Payload.(*Var)
	if !ok {
		return nil, diag.Semanticf(id.Pos, "cannot assign to %s '%s'", d.Kind, id.Text)
	}
	if err := c.varInScope(v, id.Text, id.Pos); err != nil {
		return nil, err
	}
	if v.Input {
		return nil, diag.Semanticf(id.Pos, "cannot assign to input argument '%s'", id.Text)
	}
	if _, err := c.s.Expect(lexer.Assign); err != nil {
		return nil, err
	}
	e, err := c.parseExpr()
	if err != nil {
		return nil, err
	}
	st := &Assign{Var: v, Value: e}
	st.Pos, st.Reach = id.Pos, c.reach
	c.add(st)
	return st, nil
}

func (c *compiler) contribution() (Stmt, error) {
	fnTok := c.s.Next()
	switch {
	case c.fn != nil:
		return nil, diag.Semanticf(fnTok.Pos, "contribution statements are not allowed in analog function %s", c.fn.Name)
	case c.inEvent:
		return nil, diag.Semanticf(fnTok.Pos, "contribution statements are not allowed inside an event control")
	}
	c.s.Next() // (
	ids, err := c.identList()
	if err != nil {
		return nil, err
	}
	if _, err := c.s.Expect(lexer.RParen); err != nil {
		return nil, err
	}
	if len(ids) > 2 {
		return nil, diag.Semanticf(fnTok.Pos, "too many arguments to %s(): %d", fnTok.Text, len(ids))
	}
	var names []string
	for _, id := range ids {
		names = append(names, id.Text)
	}
	ref, err := c.branchRef(names, fnTok.Pos)
	if err != nil {
		return nil, err
	}
	kind, err := c.m.Topo.AccessKind(fnTok.Text, ref.ID, fnTok.Pos)
	if err != nil {
		return nil, err
	}
	if _, err := c.s.Expect(lexer.Contribute); err != nil {
		return nil, err
	}
	e, err := c.parseExpr()
	if err != nil {
		return nil, err
	}
	if _, err := c.s.Expect(lexer.Semi); err != nil {
		return nil, err
	}
	st := &Contribution{Kind: kind, Branch: ref, Value: e, Class: PotentialSource}
	if kind == topology.Flow {
		st.Class = FlowSource
	}
	st.Pos, st.Reach = fnTok.Pos, c.reach
	c.add(st)
	return st, nil
}

var triggerArgs = map[EventKind][2]int{
	Cross: {1, 4},
	Above: {1, 3},
	Timer: {1, 4},
}

func (c *compiler) event() (Stmt, error) {
	at := c.s.Next()
	if c.fn != nil {
		return nil, diag.Semanticf(at.Pos, "event controls are not allowed in analog function %s", c.fn.Name)
	}
	if c.inEvent {
		return nil, diag.Semanticf(at.Pos, "nested event controls are not supported")
	}
	if _, err := c.s.Expect(lexer.LParen); err != nil {
		return nil, err
	}
	st := &Event{}
	st.Pos, st.Reach = at.Pos, c.reach
	for {
		tr, err := c.trigger()
		if err != nil {
			return nil, err
		}
		st.Triggers = append(st.Triggers, tr)
		if !c.s.AcceptKeyword("or") {
			break
		}
	}
	if _, err := c.s.Expect(lexer.RParen); err != nil {
		return nil, err
	}
	c.inEvent = true
	body, err := c.withReach(minReach(c.reach, Conditional), c.stmt)
	c.inEvent = false
	if err != nil {
		return nil, err
	}
	st.Body = body
	if st.Reach != Never {
		for _, tr := range st.Triggers {
			tr.Slot = -1
			if tr.Kind.Latches() {
				tr.Slot = len(c.m.Triggers)
				c.m.Triggers = append(c.m.Triggers, tr)
			}
		}
	}
	c.add(st)
	return st, nil
}

func (c *compiler) trigger() (*Trigger, error) {
	id, err := c.s.ExpectIdent()
	if err != nil {
		return nil, err
	}
	tr := &Trigger{}
	switch id.Text {
	case "initial_step", "final_step":
		tr.Kind = InitialStep
		if id.Text == "final_step" {
			tr.Kind = FinalStep
		}
		// Analysis name lists are accepted and ignored.
		if c.s.Accept(lexer.LParen) {
			for !c.s.Accept(lexer.RParen) {
				if t := c.s.Next(); t.Type != lexer.String && t.Type != lexer.Comma {
					return nil, diag.Syntaxf(t.Pos, "expected analysis name, found %s", t)
				}
			}
		}
		return tr, nil
	case "cross":
		tr.Kind = Cross
	case "above":
		tr.Kind = Above
	case "timer":
		tr.Kind = Timer
	default:
		return nil, diag.Semanticf(id.Pos, "unknown event '%s'", id.Text)
	}
	if _, err := c.s.Expect(lexer.LParen); err != nil {
		return nil, err
	}
	for {
		e, err := c.parseExpr()
		if err != nil {
			return nil, err
		}
		tr.Args = append(tr.Args, e)
		if !c.s.Accept(lexer.Comma) {
			break
		}
	}
	if _, err := c.s.Expect(lexer.RParen); err != nil {
		return nil, err
	}
	lim := triggerArgs[tr.Kind]
	if len(tr.Args) < lim[0] || len(tr.Args) > lim[1] {
		return nil, diag.Semanticf(id.Pos, "%s() takes %d to %d arguments, got %d", id.Text, lim[0], lim[1], len(tr.Args))
	}
	return tr, nil
}

func (c *compiler) sysTask() (Stmt, error) {
	name := c.s.Next()
	if !sysTasks[name.Text] {
		return nil, diag.Semanticf(name.Pos, "unsupported system task %s", name.Text)
	}
	if c.fn != nil {
		return nil, diag.Semanticf(name.Pos, "system task %s is not allowed in analog function %s", name.Text, c.fn.Name)
	}
	st := &SysTask{Name: name.Text}
	st.Pos, st.Reach = name.Pos, c.reach
	if c.s.Accept(lexer.LParen) {
		if !c.s.Is(lexer.RParen) {
			for {
				e, err := expr.Parse(c.s, c)
				if err != nil {
					return nil, err
				}
				if _, isStr := e.IsString(); !isStr {
					if err := checkValue(e); err != nil {
						return nil, err
					}
				}
				st.Args = append(st.Args, e)
				if !c.s.Accept(lexer.Comma) {
					break
				}
			}
		}
		if _, err := c.s.Expect(lexer.RParen); err != nil {
			return nil, err
		}
	}
	if _, err := c.s.Expect(lexer.Semi); err != nil {
		return nil, err
	}
	c.add(st)
	return st, nil
}
