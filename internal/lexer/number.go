package lexer

import (
	"github.com/cockroachdb/apd/v3"
	"github.com/robert-at-pretension-io/amsgen/internal/diag"
)

// scaleFactors maps Verilog-A real scale suffixes to decimal exponents
var scaleFactors = map[byte]int32{
	'T': 12, 'G': 9, 'M': 6, 'K': 3, 'k': 3,
	'm': -3, 'u': -6, 'n': -9, 'p': -12, 'f': -15, 'a': -18,
}

func (lx *Lexer) number(start diag.Pos) Token {
	begin := lx.pos
	isReal := false
	for isDigit(lx.peekByte(0)) || lx.peekByte(0) == '_' {
		lx.advance()
	}
	if lx.peekByte(0) == '.' && isDigit(lx.peekByte(1)) {
		isReal = true
		lx.advance()
		for isDigit(lx.peekByte(0)) || lx.peekByte(0) == '_' {
			lx.advance()
		}
	}
	if c := lx.peekByte(0); c == 'e' || c == 'E' {
		next := lx.peekByte(1)
		if isDigit(next) || ((next == '+' || next == '-') && isDigit(lx.peekByte(2))) {
			isReal = true
			lx.advance()
			if next == '+' || next == '-' {
				lx.advance()
			}
			for isDigit(lx.peekByte(0)) {
				lx.advance()
			}
		}
	}
	mantissa := stripUnderscores(lx.src[begin:lx.pos])

	var scale int32
	if exp, ok := scaleFactors[lx.peekByte(0)]; ok && !isIdentPart(lx.peekByte(1)) {
		lx.advance()
		scale = exp
		isReal = true
	}
	text := lx.src[begin:lx.pos]

	v, err := ParseReal(mantissa, scale)
	if err != nil {
		lx.Diags.Errorf(diag.KindSyntax, start, "malformed number %q: %v", text, err)
	}
	return Token{Type: Number, Text: text, Pos: start, Num: v, IsReal: isReal}
}

// ParseReal converts a decimal literal times 10^scale to float64. The scale is
// applied on the exact decimal so that 1.1n is the float nearest 1.1e-9.
func ParseReal(mantissa string, scale int32) (float64, error) {
	d, _, err := apd.NewFromString(mantissa)
	if err != nil {
		return 0, err
	}
	d.Exponent += scale
	return d.Float64()
}

func stripUnderscores(s string) string {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		if s[i] != '_' {
			out = append(out, s[i])
		}
	}
	return string(out)
}
