package expr

import (
	"fmt"
	"unicode"
)

type tokenKind int

const (
	tokEOF tokenKind = iota
	tokNumber
	tokIdent
	tokOp
	tokLParen
	tokRParen
)

type token struct {
	kind tokenKind
	text string
	pos  int
}

func lex(src string) ([]token, error) {
	var toks []token
	rs := []rune(src)
	offset := func(i int) int { return len(string(rs[:i])) }

	for i := 0; i < len(rs); {
		r := rs[i]
		switch {
		case unicode.IsSpace(r):
			i++
		case r == '+' || r == '-' || r == '*' || r == '/':
			toks = append(toks, token{kind: tokOp, text: string(r), pos: offset(i)})
			i++
		case r == '(':
			toks = append(toks, token{kind: tokLParen, text: "(", pos: offset(i)})
			i++
		case r == ')':
			toks = append(toks, token{kind: tokRParen, text: ")", pos: offset(i)})
			i++
		case unicode.IsDigit(r) || r == '.':
			start := i
			dots := 0
			for i < len(rs) && (unicode.IsDigit(rs[i]) || rs[i] == '.') {
				if rs[i] == '.' {
					dots++
				}
				i++
			}
			if dots > 1 {
				return nil, syntaxError(offset(start), fmt.Sprintf("invalid number %q", string(rs[start:i])))
			}
			toks = append(toks, token{kind: tokNumber, text: string(rs[start:i]), pos: offset(start)})
		case r == '_' || unicode.IsLetter(r):
			start := i
			for i < len(rs) && (rs[i] == '_' || unicode.IsLetter(rs[i]) || unicode.IsDigit(rs[i])) {
				i++
			}
			toks = append(toks, token{kind: tokIdent, text: string(rs[start:i]), pos: offset(start)})
		default:
			return nil, syntaxError(offset(i), fmt.Sprintf("unexpected character %q", r))
		}
	}
	return append(toks, token{kind: tokEOF, pos: len(src)}), nil
}
