package symbolic

import (
	"fmt"
	"strconv"
)

type tokenKind int

const (
	tokEOF tokenKind = iota
	tokNumber
	tokIdent
	tokPlus
	tokMinus
	tokStar
	tokSlash
	tokPow
	tokLParen
	tokRParen
	tokGE
	tokLE
	tokEQ
)

func (k tokenKind) String() string {
	switch k {
	case tokEOF:
		return "end of line"
	case tokNumber:
		return "number"
	case tokIdent:
		return "identifier"
	case tokPlus:
		return "'+'"
	case tokMinus:
		return "'-'"
	case tokStar:
		return "'*'"
	case tokSlash:
		return "'/'"
	case tokPow:
		return "'**'"
	case tokLParen:
		return "'('"
	case tokRParen:
		return "')'"
	case tokGE:
		return "'>='"
	case tokLE:
		return "'<='"
	case tokEQ:
		return "'=='"
	default:
		return fmt.Sprintf("token(%d)", int(k))
	}
}

type token struct {
	kind  tokenKind
	text  string
	value float64
	col   int // 1-based
}

// lex splits one line into tokens. Comments starting with '#' are
// dropped.
func lex(line string, lineNo int) ([]token, error) {
	var toks []token
	i := 0
	for i < len(line) {
		c := line[i]
		col := i + 1
		switch {
		case c == ' ' || c == '\t' || c == '\r':
			i++
		case c == '#':
			i = len(line)
		case isDigit(c) || (c == '.' && i+1 < len(line) && isDigit(line[i+1])):
			j := scanNumber(line, i)
			v, err := strconv.ParseFloat(line[i:j], 64)
			if err != nil {
				return nil, &SyntaxError{Line: lineNo, Column: col, Msg: fmt.Sprintf("malformed number %q", line[i:j])}
			}
			toks = append(toks, token{kind: tokNumber, text: line[i:j], value: v, col: col})
			i = j
		case isIdentStart(c):
			j := i + 1
			for j < len(line) && (isIdentStart(line[j]) || isDigit(line[j])) {
				j++
			}
			toks = append(toks, token{kind: tokIdent, text: line[i:j], col: col})
			i = j
		default:
			kind, width := operator(line[i:])
			if width == 0 {
				return nil, &SyntaxError{Line: lineNo, Column: col, Msg: fmt.Sprintf("unexpected character %q", c)}
			}
			toks = append(toks, token{kind: kind, text: line[i : i+width], col: col})
			i += width
		}
	}
	return append(toks, token{kind: tokEOF, col: len(line) + 1}), nil
}

func operator(s string) (tokenKind, int) {
	if len(s) >= 2 {
		switch s[:2] {
		case "**":
			return tokPow, 2
		case ">=":
			return tokGE, 2
		case "<=":
			return tokLE, 2
		case "==":
			return tokEQ, 2
		}
	}
	switch s[0] {
	case '+':
		return tokPlus, 1
	case '-':
		return tokMinus, 1
	case '*':
		return tokStar, 1
	case '/':
		return tokSlash, 1
	case '(':
		return tokLParen, 1
	case ')':
		return tokRParen, 1
	}
	return tokEOF, 0
}

// scanNumber returns the end of the numeric literal starting at i.
func scanNumber(s string, i int) int {
	for i < len(s) && isDigit(s[i]) {
		i++
	}
	if i < len(s) && s[i] == '.' {
		i++
		for i < len(s) && isDigit(s[i]) {
			i++
		}
	}
	if i < len(s) && (s[i] == 'e' || s[i] == 'E') {
		j := i + 1
		if j < len(s) && (s[j] == '+' || s[j] == '-') {
			j++
		}
		if j < len(s) && isDigit(s[j]) {
			for j < len(s) && isDigit(s[j]) {
				j++
			}
			i = j
		}
	}
	return i
}

func isDigit(c byte) bool { return c >= '0' && c <= '9' }

func isIdentStart(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}
