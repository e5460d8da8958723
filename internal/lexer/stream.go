package lexer

import (
	"github.com/robert-at-pretension-io/amsgen/internal/diag"
)

// Stream is a cursor over a token slice shared by the statement and
// expression parsers.
type Stream struct {
	toks []Token
	pos  int
}

// NewStream wraps tokens; the slice must end with EOF.
func NewStream(toks []Token) *Stream {
	if len(toks) == 0 || toks[len(toks)-1].Type != EOF {
		toks = append(toks, Token{Type: EOF})
	}
	return &Stream{toks: toks}
}

// Peek returns the current token
func (s *Stream) Peek() Token { return s.toks[s.pos] }

// PeekN looks k tokens ahead, clamped to EOF
func (s *Stream) PeekN(k int) Token {
	if s.pos+k >= len(s.toks) {
		return s.toks[len(s.toks)-1]
	}
	return s.toks[s.pos+k]
}

// Next consumes the current token
func (s *Stream) Next() Token {
	t := s.toks[s.pos]
	if t.Type != EOF {
		s.pos++
	}
	return t
}

// Is reports whether the current token has type t
func (s *Stream) Is(t Type) bool { return s.toks[s.pos].Type == t }

// IsKeyword reports whether the current token is the identifier kw
func (s *Stream) IsKeyword(kw string) bool {
	t := s.toks[s.pos]
	return t.Type == Ident && t.Text == kw
}

// Accept consumes the current token if it has type t
func (s *Stream) Accept(t Type) bool {
	if s.Is(t) {
		s.Next()
		return true
	}
	return false
}

// AcceptKeyword consumes kw if present
func (s *Stream) AcceptKeyword(kw string) bool {
	if s.IsKeyword(kw) {
		s.Next()
		return true
	}
	return false
}

// Expect consumes a token of type t or returns a syntax error
func (s *Stream) Expect(t Type) (Token, error) {
	tok := s.Peek()
	if tok.Type != t {
		return tok, diag.Syntaxf(tok.Pos, "expected %s, found %s", t, describe(tok))
	}
	return s.Next(), nil
}

// ExpectKeyword consumes kw or returns a syntax error
func (s *Stream) ExpectKeyword(kw string) (Token, error) {
	tok := s.Peek()
	if tok.Type != Ident || tok.Text != kw {
		return tok, diag.Syntaxf(tok.Pos, "expected '%s', found %s", kw, describe(tok))
	}
	return s.Next(), nil
}

// ExpectIdent consumes an identifier that is not one of the reserved words
func (s *Stream) ExpectIdent() (Token, error) {
	tok := s.Peek()
	if tok.Type != Ident || IsReserved(tok.Text) {
		return tok, diag.Syntaxf(tok.Pos, "expected identifier, found %s", describe(tok))
	}
	return s.Next(), nil
}

// Mark returns the cursor position
func (s *Stream) Mark() int { return s.pos }

// Reset moves the cursor back to a mark
func (s *Stream) Reset(m int) { s.pos = m }

// SkipTo advances until the current token is one of the stop types or
// keywords, without consuming it.
func (s *Stream) SkipTo(types []Type, keywords []string) {
	for !s.Is(EOF) {
		t := s.Peek()
		for _, ty := range types {
			if t.Type == ty {
				return
			}
		}
		if t.Type == Ident {
			for _, kw := range keywords {
				if t.Text == kw {
					return
				}
			}
		}
		s.Next()
	}
}

func describe(t Token) string {
	switch t.Type {
	case Ident:
		return "'" + t.Text + "'"
	case Number:
		return "number " + t.Text
	case EOF:
		return "end of file"
	}
	return t.Type.String()
}

var reserved = map[string]bool{
	"module": true, "endmodule": true, "begin": true, "end": true, "if": true, "else": true,
	"case": true, "endcase": true, "default": true, "for": true, "while": true, "repeat": true,
	"analog": true, "function": true, "endfunction": true, "parameter": true, "localparam": true,
	"real": true, "integer": true, "input": true, "output": true, "inout": true, "branch": true,
	"ground": true, "from": true, "exclude": true, "inf": true, "or": true,
}

// IsReserved reports whether an identifier is a keyword
func IsReserved(name string) bool { return reserved[name] }
