package expr

import (
	"github.com/robert-at-pretension-io/amsgen/internal/diag"
	"github.com/robert-at-pretension-io/amsgen/internal/dual"
	"github.com/robert-at-pretension-io/amsgen/internal/lexer"
	"github.com/robert-at-pretension-io/amsgen/internal/topology"
)

// Resolver binds identifiers while an expression is parsed
type Resolver interface {
	// Ident resolves a bare name to a Lit, Param or Var token.
	Ident(name string, pos diag.Pos) (Token, error)
	// Access resolves V(a), V(a,b) or V(branch) style reads to a Probe token.
	Access(fn string, args []string, pos diag.Pos) (Token, error)
	// Call resolves a call that is not a math builtin. Analog functions come
	// back as a UserCall token whose arguments the parser inlines; filter
	// functions come back as the Probe of the node that carries their output.
	Call(name string, args []*Expr, pos diag.Pos) (Token, error)
}

type parseError struct{ err error }

type parser struct {
	s   *lexer.Stream
	res Resolver
	out []Token
}

type operand struct {
	start int
	isInt bool
}

// Parse reads one expression from the stream
func Parse(s *lexer.Stream, res Resolver) (e *Expr, err error) {
	p := &parser{s: s, res: res}
	pos := s.Peek().Pos
	defer func() {
		if r := recover(); r != nil {
			pe, ok := r.(parseError)
			if !ok {
				panic(r)
			}
			e, err = nil, pe.err
		}
	}()
	op := p.ternary()
	return &Expr{RPN: p.out, Pos: pos, IsInt: op.isInt}, nil
}

func (p *parser) fail(err error) {
	panic(parseError{err})
}

func (p *parser) expect(t lexer.Type) lexer.Token {
	tok, err := p.s.Expect(t)
	if err != nil {
		p.fail(err)
	}
	return tok
}

func (p *parser) ternary() operand {
	cond := p.binary(0)
	if !p.s.Is(lexer.Question) {
		return cond
	}
	pos := p.s.Next().Pos
	a := p.ternary()
	p.expect(lexer.Colon)
	b := p.ternary()

	isInt := a.isInt && b.isInt
	if len(p.out)-cond.start == 1 && p.out[cond.start].Kind == Lit {
		// Literal condition: keep only the selected arm.
		var arm []Token
		if p.out[cond.start].Val != 0 {
			arm = append(arm, p.out[a.start:b.start]...)
		} else {
			arm = append(arm, p.out[b.start:]...)
		}
		p.out = append(p.out[:cond.start], arm...)
		return operand{start: cond.start, isInt: isInt}
	}
	p.out = append(p.out, Token{Kind: Ternary, Pos: pos, IsInt: isInt})
	return operand{start: cond.start, isInt: isInt}
}

var binaryLevels = [][]lexer.Type{
	{lexer.OrOr},
	{lexer.AndAnd},
	{lexer.Eq, lexer.NotEq},
	{lexer.Lt, lexer.LtEq, lexer.Gt, lexer.GtEq},
	{lexer.Plus, lexer.Minus},
	{lexer.Star, lexer.Slash, lexer.Percent},
	{lexer.Power},
}

func (p *parser) binary(level int) operand {
	if level == len(binaryLevels) {
		return p.unary()
	}
	left := p.binary(level + 1)
	for {
		tok := p.s.Peek()
		matched := false
		for _, t := range binaryLevels[level] {
			if tok.Type == t {
				matched = true
				break
			}
		}
		if !matched {
			return left
		}
		p.s.Next()
		right := p.binary(level + 1)
		op := tok.Text
		isInt := left.isInt && right.isInt
		if dual.IsLogical(op) {
			isInt = true
		}
		p.push(Token{Kind: Binary, Op: op, Pos: tok.Pos, IsInt: isInt})
		left = operand{start: left.start, isInt: isInt}
	}
}

func (p *parser) unary() operand {
	tok := p.s.Peek()
	switch tok.Type {
	case lexer.Minus, lexer.Plus, lexer.Bang:
		p.s.Next()
		x := p.unary()
		isInt := x.isInt || tok.Type == lexer.Bang
		if tok.Type == lexer.Plus {
			return x
		}
		p.push(Token{Kind: Unary, Op: tok.Text, Pos: tok.Pos, IsInt: isInt})
		return operand{start: x.start, isInt: isInt}
	}
	return p.primary()
}

func (p *parser) primary() operand {
	start := len(p.out)
	tok := p.s.Next()
	switch tok.Type {
	case lexer.Number:
		p.out = append(p.out, Token{Kind: Lit, Val: tok.Num, IsInt: !tok.IsReal, Pos: tok.Pos})
		return operand{start: start, isInt: !tok.IsReal}
	case lexer.String:
		p.out = append(p.out, Token{Kind: Str, Op: tok.Text, Pos: tok.Pos})
		return operand{start: start}
	case lexer.LParen:
		op := p.ternary()
		p.expect(lexer.RParen)
		return op
	case lexer.Tick:
		p.expect(lexer.LBrace)
		return p.array(start, tok.Pos)
	case lexer.LBrace:
		return p.array(start, tok.Pos)
	case lexer.SysIdent:
		id, ok := LookupSys(tok.Text)
		if !ok {
			p.fail(diag.Semanticf(tok.Pos, "unsupported system function %s", tok.Text))
		}
		if p.s.Accept(lexer.LParen) {
			p.expect(lexer.RParen)
		}
		p.out = append(p.out, Token{Kind: Sys, Ref: id, Pos: tok.Pos})
		return operand{start: start}
	case lexer.Ident:
		if lexer.IsReserved(tok.Text) {
			p.fail(diag.Syntaxf(tok.Pos, "unexpected keyword '%s' in expression", tok.Text))
		}
		if p.s.Is(lexer.LParen) {
			return p.call(tok)
		}
		t, err := p.res.Ident(tok.Text, tok.Pos)
		if err != nil {
			p.fail(err)
		}
		p.out = append(p.out, t)
		return operand{start: start, isInt: t.IsInt}
	}
	p.fail(diag.Syntaxf(tok.Pos, "expected expression, found %s", tok.Type))
	return operand{}
}

func (p *parser) array(start int, pos diag.Pos) operand {
	n := 0
	if !p.s.Is(lexer.RBrace) {
		for {
			p.ternary()
			n++
			if !p.s.Accept(lexer.Comma) {
				break
			}
		}
	}
	p.expect(lexer.RBrace)
	p.out = append(p.out, Token{Kind: Array, N: n, Pos: pos})
	return operand{start: start}
}

func (p *parser) call(name lexer.Token) operand {
	start := len(p.out)
	p.expect(lexer.LParen)

	if topology.IsAccessFunction(name.Text) {
		var args []string
		for {
			id, err := p.s.ExpectIdent()
			if err != nil {
				p.fail(err)
			}
			args = append(args, id.Text)
			if !p.s.Accept(lexer.Comma) {
				break
			}
		}
		p.expect(lexer.RParen)
		if len(args) > 2 {
			p.fail(diag.Semanticf(name.Pos, "too many arguments to %s(): %d", name.Text, len(args)))
		}
		t, err := p.res.Access(name.Text, args, name.Pos)
		if err != nil {
			p.fail(err)
		}
		p.out = append(p.out, t)
		return operand{start: start}
	}

	if bi, ok := dual.LookupBuiltin(name.Text); ok {
		n := 0
		if !p.s.Is(lexer.RParen) {
			for {
				p.ternary()
				n++
				if !p.s.Accept(lexer.Comma) {
					break
				}
			}
		}
		p.expect(lexer.RParen)
		if n != bi.Arity {
			p.fail(diag.Semanticf(name.Pos, "%s() takes %d argument(s), got %d", name.Text, bi.Arity, n))
		}
		p.push(Token{Kind: Call, Op: name.Text, N: n, Pos: name.Pos})
		return operand{start: start}
	}

	var args []*Expr
	if !p.s.Is(lexer.RParen) {
		for {
			sub := &parser{s: p.s, res: p.res}
			op := sub.ternary()
			args = append(args, &Expr{RPN: sub.out, Pos: sub.out[0].Pos, IsInt: op.isInt})
			if !p.s.Accept(lexer.Comma) {
				break
			}
		}
	}
	p.expect(lexer.RParen)
	t, err := p.res.Call(name.Text, args, name.Pos)
	if err != nil {
		p.fail(err)
	}
	if t.Kind == UserCall {
		for _, a := range args {
			p.out = append(p.out, a.RPN...)
		}
		t.N = len(args)
	}
	p.out = append(p.out, t)
	return operand{start: start, isInt: t.IsInt}
}

// push appends an operator and folds it when every operand is a literal.
func (p *parser) push(op Token) {
	p.out = append(p.out, op)
	p.out = foldTail(p.out)
}

// foldTail folds the operator at the end of rpn if its operands are the
// literals immediately preceding it.
func foldTail(rpn []Token) []Token {
	n := len(rpn)
	op := rpn[n-1]
	k := op.Arity()
	if op.Kind != Unary && op.Kind != Binary && op.Kind != Call {
		return rpn
	}
	if n-1 < k {
		return rpn
	}
	args := make([]float64, k)
	for i := 0; i < k; i++ {
		t := rpn[n-1-k+i]
		if t.Kind != Lit {
			return rpn
		}
		args[i] = t.Val
	}
	v, ok := evalOp(op, args, allInt(rpn[n-1-k:n-1]))
	if !ok {
		return rpn
	}
	lit := Token{Kind: Lit, Val: v, IsInt: op.IsInt, Pos: rpn[n-1-k].Pos}
	if op.Kind == Call {
		lit.IsInt = false
	}
	return append(rpn[:n-1-k], lit)
}

func allInt(ts []Token) bool {
	for _, t := range ts {
		if !t.IsInt {
			return false
		}
	}
	return true
}

// evalOp applies an operator token to literal operands with the same
// arithmetic the generated code uses.
func evalOp(op Token, args []float64, isInt bool) (float64, bool) {
	switch op.Kind {
	case Unary:
		return dual.ApplyUnary(op.Op, args[0]), true
	case Binary:
		if isInt && (op.Op == "/" || op.Op == "%") && args[1] == 0 {
			return 0, false
		}
		return dual.ApplyBinary(op.Op, args[0], args[1], isInt && !dual.IsLogical(op.Op)), true
	case Call:
		bi, ok := dual.LookupBuiltin(op.Op)
		if !ok {
			return 0, false
		}
		v, _ := bi.Fn(args)
		return v, true
	}
	return 0, false
}

// Fold re-runs constant folding over a whole token list. Parse already
// produces folded output, so on parser output Fold is the identity.
func Fold(rpn []Token) []Token {
	out := make([]Token, 0, len(rpn))
	for _, t := range rpn {
		out = append(out, t)
		switch t.Kind {
		case Unary, Binary, Call:
			out = foldTail(out)
		case Ternary:
			n := len(out)
			end := n - 2
			bStart := spanStart(out, end)
			aStart := spanStart(out, bStart-1)
			cStart := spanStart(out, aStart-1)
			if aStart-cStart == 1 && out[cStart].Kind == Lit {
				var arm []Token
				if out[cStart].Val != 0 {
					arm = append(arm, out[aStart:bStart]...)
				} else {
					arm = append(arm, out[bStart:n-1]...)
				}
				out = append(out[:cStart], arm...)
			}
		}
	}
	return out
}
