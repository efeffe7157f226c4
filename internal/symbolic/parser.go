package symbolic

import (
	"fmt"
	"strconv"
	"strings"
)

// parser is a recursive-descent parser over the tokens of one line.
//
//	relation := expr ( ">=" | "<=" | "==" ) expr
//	expr     := term { ( "+" | "-" ) term }
//	term     := unary { ( "*" | "/" ) unary }
//	unary    := ( "-" | "+" ) unary | power
//	power    := primary [ "**" unary ]
//	primary  := number | name | name "(" expr ")" | "(" expr ")"
//
// "**" is right associative and binds tighter than a leading minus, so
// -x0**2 is -(x0**2).
type parser struct {
	toks []token
	pos  int
	line int
	opts *options
}

func newParser(text string, lineNo int, opts *options) (*parser, error) {
	toks, err := lex(text, lineNo)
	if err != nil {
		return nil, err
	}
	return &parser{toks: toks, line: lineNo, opts: opts}, nil
}

func (p *parser) peek() token { return p.toks[p.pos] }

func (p *parser) next() token {
	t := p.toks[p.pos]
	if t.kind != tokEOF {
		p.pos++
	}
	return t
}

func (p *parser) errorf(t token, format string, args ...interface{}) error {
	return &SyntaxError{Line: p.line, Column: t.col, Msg: fmt.Sprintf(format, args...)}
}

func (p *parser) expect(kind tokenKind) (token, error) {
	t := p.next()
	if t.kind != kind {
		return t, p.errorf(t, "expected %v, found %s", kind, describeToken(t))
	}
	return t, nil
}

func describeToken(t token) string {
	if t.kind == tokEOF {
		return t.kind.String()
	}
	return strconv.Quote(t.text)
}

func (p *parser) parseRelation() (Relation, Expr, error) {
	lhs, err := p.parseExpr()
	if err != nil {
		return 0, nil, err
	}
	t := p.next()
	var rel Relation
	switch t.kind {
	case tokGE:
		rel = GreaterEqual
	case tokLE:
		rel = LessEqual
	case tokEQ:
		rel = Equal
	default:
		return 0, nil, p.errorf(t, "expected '>=', '<=' or '==', found %s", describeToken(t))
	}
	rhs, err := p.parseExpr()
	if err != nil {
		return 0, nil, err
	}
	if t := p.peek(); t.kind != tokEOF {
		return 0, nil, p.errorf(t, "unexpected %s after relation", describeToken(t))
	}
	return rel, normalize(lhs, rhs), nil
}

func (p *parser) parseStandalone() (Expr, error) {
	e, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	if t := p.peek(); t.kind != tokEOF {
		return nil, p.errorf(t, "unexpected %s after expression", describeToken(t))
	}
	return e, nil
}

func (p *parser) parseExpr() (Expr, error) {
	left, err := p.parseTerm()
	if err != nil {
		return nil, err
	}
	for {
		t := p.peek()
		if t.kind != tokPlus && t.kind != tokMinus {
			return left, nil
		}
		p.next()
		right, err := p.parseTerm()
		if err != nil {
			return nil, err
		}
		left = binary{op: t.text[0], l: left, r: right}
	}
}

func (p *parser) parseTerm() (Expr, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for {
		t := p.peek()
		if t.kind != tokStar && t.kind != tokSlash {
			return left, nil
		}
		p.next()
		right, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		left = binary{op: t.text[0], l: left, r: right}
	}
}

func (p *parser) parseUnary() (Expr, error) {
	switch p.peek().kind {
	case tokMinus:
		p.next()
		x, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		if n, ok := x.(number); ok {
			return -n, nil
		}
		return negate{x: x}, nil
	case tokPlus:
		p.next()
		return p.parseUnary()
	}
	return p.parsePower()
}

func (p *parser) parsePower() (Expr, error) {
	base, err := p.parsePrimary()
	if err != nil {
		return nil, err
	}
	if p.peek().kind != tokPow {
		return base, nil
	}
	p.next()
	exp, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	return binary{op: '^', l: base, r: exp}, nil
}

func (p *parser) parsePrimary() (Expr, error) {
	t := p.next()
	switch t.kind {
	case tokNumber:
		return number(t.value), nil
	case tokLParen:
		e, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(tokRParen); err != nil {
			return nil, err
		}
		return e, nil
	case tokIdent:
		return p.parseName(t)
	default:
		return nil, p.errorf(t, "expected a number, name or '(', found %s", describeToken(t))
	}
}

func (p *parser) parseName(t token) (Expr, error) {
	if fn, ok := functions[t.text]; ok {
		if _, err := p.expect(tokLParen); err != nil {
			return nil, err
		}
		arg, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(tokRParen); err != nil {
			return nil, err
		}
		return call{name: t.text, fn: fn, arg: arg}, nil
	}
	if v, ok := constants[t.text]; ok {
		return constant{name: t.text, value: v}, nil
	}
	if idx, ok := parameterIndex(t.text); ok {
		if p.opts.dim > 0 && idx >= p.opts.dim {
			return nil, &SymbolError{Line: p.line, Column: t.col, Name: t.text,
				Msg: fmt.Sprintf("parameter outside dimension %d", p.opts.dim)}
		}
		return variable(idx), nil
	}
	return nil, &SymbolError{Line: p.line, Column: t.col, Name: t.text}
}

// parameterIndex recognises x0, x1, ... without leading zeros.
func parameterIndex(name string) (int, bool) {
	digits, ok := strings.CutPrefix(name, "x")
	if !ok || digits == "" || (len(digits) > 1 && digits[0] == '0') {
		return 0, false
	}
	for i := 0; i < len(digits); i++ {
		if !isDigit(digits[i]) {
			return 0, false
		}
	}
	idx, err := strconv.Atoi(digits)
	if err != nil {
		return 0, false
	}
	return idx, true
}

// normalize moves every term to the left-hand side.
func normalize(lhs, rhs Expr) Expr {
	if n, ok := rhs.(number); ok && n == 0 {
		return lhs
	}
	return binary{op: '-', l: lhs, r: rhs}
}
