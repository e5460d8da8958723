package lexer

import (
	"fmt"
	"strings"

	"github.com/robert-at-pretension-io/amsgen/internal/diag"
)

// Type is the kind of a token
type Type int

const (
	EOF Type = iota
	Ident
	SysIdent // $name
	Number
	String

	LParen
	RParen
	LBrace
	RBrace
	LBracket
	RBracket
	Semi
	Comma
	Colon
	Question
	Dot
	At
	Hash
	Tick // ' as in '{...}

	Plus
	Minus
	Star
	Slash
	Percent
	Power // **
	Bang
	AndAnd
	OrOr
	Eq    // ==
	NotEq // !=
	Lt
	LtEq
	Gt
	GtEq
	Assign     // =
	Contribute // <+
)

var typeNames = map[Type]string{
	EOF: "end of file", Ident: "identifier", SysIdent: "system identifier", Number: "number", String: "string",
	LParen: "'('", RParen: "')'", LBrace: "'{'", RBrace: "'}'", LBracket: "'['", RBracket: "']'",
	Semi: "';'", Comma: "','", Colon: "':'", Question: "'?'", Dot: "'.'", At: "'@'", Hash: "'#'", Tick: "'''",
	Plus: "'+'", Minus: "'-'", Star: "'*'", Slash: "'/'", Percent: "'%'", Power: "'**'", Bang: "'!'",
	AndAnd: "'&&'", OrOr: "'||'", Eq: "'=='", NotEq: "'!='", Lt: "'<'", LtEq: "'<='", Gt: "'>'", GtEq: "'>='",
	Assign: "'='", Contribute: "'<+'",
}

func (t Type) String() string {
	if s, ok := typeNames[t]; ok {
		return s
	}
	return fmt.Sprintf("token(%d)", int(t))
}

// Token is one lexeme with its position
type Token struct {
	Type   Type
	Text   string
	Pos    diag.Pos
	Num    float64 // Number only
	IsReal bool    // Number only: has a fraction, exponent or scale factor
}

func (t Token) String() string {
	switch t.Type {
	case Ident, SysIdent, Number:
		return t.Text
	case String:
		return fmt.Sprintf("%q", t.Text)
	}
	return t.Type.String()
}

// Lexer turns source text into tokens
type Lexer struct {
	src  string
	file string
	pos  int
	line int
	col  int

	Diags *diag.List
}

// New creates a lexer over src. Diagnostics for skipped directives and bad
// characters go to diags, which may be nil.
func New(file, src string, diags *diag.List) *Lexer {
	if diags == nil {
		diags = &diag.List{}
	}
	return &Lexer{src: src, file: file, line: 1, col: 1, Diags: diags}
}

// Tokenize scans the whole input
func Tokenize(file, src string, diags *diag.List) []Token {
	lx := New(file, src, diags)
	var toks []Token
	for {
		t := lx.Next()
		toks = append(toks, t)
		if t.Type == EOF {
			return toks
		}
	}
}

func (lx *Lexer) here() diag.Pos {
	return diag.Pos{File: lx.file, Line: lx.line, Col: lx.col}
}

func (lx *Lexer) peekByte(off int) byte {
	if lx.pos+off < len(lx.src) {
		return lx.src[lx.pos+off]
	}
	return 0
}

func (lx *Lexer) advance() byte {
	c := lx.src[lx.pos]
	lx.pos++
	if c == '\n' {
		lx.line++
		lx.col = 1
	} else {
		lx.col++
	}
	return c
}

func (lx *Lexer) skipSpaceAndComments() {
	for lx.pos < len(lx.src) {
		c := lx.peekByte(0)
		switch {
		case c == ' ' || c == '\t' || c == '\r' || c == '\n':
			lx.advance()
		case c == '/' && lx.peekByte(1) == '/':
			for lx.pos < len(lx.src) && lx.peekByte(0) != '\n' {
				lx.advance()
			}
		case c == '/' && lx.peekByte(1) == '*':
			start := lx.here()
			lx.advance()
			lx.advance()
			closed := false
			for lx.pos < len(lx.src) {
				if lx.peekByte(0) == '*' && lx.peekByte(1) == '/' {
					lx.advance()
					lx.advance()
					closed = true
					break
				}
				lx.advance()
			}
			if !closed {
				lx.Diags.Errorf(diag.KindSyntax, start, "unterminated block comment")
			}
		case c == '`':
			lx.skipDirective()
		default:
			return
		}
	}
}

// skipDirective drops a compiler directive line. `include is expanded by the
// driver before lexing, so anything left here is unsupported.
func (lx *Lexer) skipDirective() {
	start := lx.here()
	var b strings.Builder
	for lx.pos < len(lx.src) && lx.peekByte(0) != '\n' {
		b.WriteByte(lx.advance())
	}
	name := strings.Fields(b.String())[0]
	lx.Diags.Warnf(diag.KindSyntax, start, "compiler directive %s ignored", name)
}

// Next returns the next token
func (lx *Lexer) Next() Token {
	lx.skipSpaceAndComments()
	start := lx.here()
	if lx.pos >= len(lx.src) {
		return Token{Type: EOF, Pos: start}
	}
	c := lx.peekByte(0)
	switch {
	case isIdentStart(c):
		return lx.ident(Ident, start)
	case c == '$' && isIdentStart(lx.peekByte(1)):
		lx.advance()
		t := lx.ident(SysIdent, start)
		t.Text = "$" + t.Text
		return t
	case isDigit(c) || (c == '.' && isDigit(lx.peekByte(1))):
		return lx.number(start)
	case c == '"':
		return lx.str(start)
	}

	two := ""
	if lx.pos+1 < len(lx.src) {
		two = lx.src[lx.pos : lx.pos+2]
	}
	if t, ok := twoCharOps[two]; ok {
		lx.advance()
		lx.advance()
		return Token{Type: t, Text: two, Pos: start}
	}
	if t, ok := oneCharOps[c]; ok {
		lx.advance()
		return Token{Type: t, Text: string(c), Pos: start}
	}
	lx.advance()
	lx.Diags.Errorf(diag.KindSyntax, start, "unexpected character %q", c)
	return lx.Next()
}

var twoCharOps = map[string]Type{
	"**": Power, "&&": AndAnd, "||": OrOr, "==": Eq, "!=": NotEq,
	"<=": LtEq, ">=": GtEq, "<+": Contribute,
}

var oneCharOps = map[byte]Type{
	'(': LParen, ')': RParen, '{': LBrace, '}': RBrace, '[': LBracket, ']': RBracket,
	';': Semi, ',': Comma, ':': Colon, '?': Question, '.': Dot, '@': At, '#': Hash, '\'': Tick,
	'+': Plus, '-': Minus, '*': Star, '/': Slash, '%': Percent, '!': Bang,
	'<': Lt, '>': Gt, '=': Assign,
}

func (lx *Lexer) ident(t Type, start diag.Pos) Token {
	begin := lx.pos
	for lx.pos < len(lx.src) && isIdentPart(lx.peekByte(0)) {
		lx.advance()
	}
	return Token{Type: t, Text: lx.src[begin:lx.pos], Pos: start}
}

func (lx *Lexer) str(start diag.Pos) Token {
	lx.advance() // opening quote
	var b strings.Builder
	for lx.pos < len(lx.src) {
		c := lx.advance()
		switch c {
		case '"':
			return Token{Type: String, Text: b.String(), Pos: start}
		case '\\':
			if lx.pos >= len(lx.src) {
				break
			}
			switch e := lx.advance(); e {
			case 'n':
				b.WriteByte('\n')
			case 't':
				b.WriteByte('\t')
			default:
				b.WriteByte(e)
			}
		case '\n':
			lx.Diags.Errorf(diag.KindSyntax, start, "newline in string literal")
			return Token{Type: String, Text: b.String(), Pos: start}
		default:
			b.WriteByte(c)
		}
	}
	lx.Diags.Errorf(diag.KindSyntax, start, "unterminated string literal")
	return Token{Type: String, Text: b.String(), Pos: start}
}

func isIdentStart(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isIdentPart(c byte) bool {
	return isIdentStart(c) || isDigit(c) || c == '$'
}

func isDigit(c byte) bool { return c >= '0' && c <= '9' }
