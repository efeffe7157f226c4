// Package symbolic compiles textual constraints into penalty functions and
// hard-constraint solvers.
//
// Constraint text holds one relation per line:
//
//	(x0 - 5)**2 + (x1 - 5)**2 >= 100
//	(x0 - 6)**2 + (x1 - 5)**2 <= 82.81   # comments run to end of line
//	x2 == 2*x0 - 1
//
// Parameters are named x0, x1, ... Expressions may use + - * / ** and
// parentheses, numeric literals, the functions sin cos tan exp log sqrt
// abs and the constants pi and e. Every relation is normalised to
// "lhs - rhs REL 0". Compiled functions hold no mutable state and are safe
// for concurrent use.
package symbolic

import (
	"bufio"
	"fmt"
	"math"
	"strings"

	"github.com/copyleftdev/latticeopt/internal/optimization"
)

const component = "symbolic"

// Relation is the comparison of a normalised condition against zero.
type Relation int

const (
	// GreaterEqual is "expr >= 0".
	GreaterEqual Relation = iota
	// LessEqual is "expr <= 0".
	LessEqual
	// Equal is "expr == 0".
	Equal
)

func (r Relation) String() string {
	switch r {
	case GreaterEqual:
		return ">="
	case LessEqual:
		return "<="
	case Equal:
		return "=="
	default:
		return fmt.Sprintf("Relation(%d)", int(r))
	}
}

// Condition is one parsed relation "Expr Relation 0".
type Condition struct {
	// Text is the source line with comments removed.
	Text     string
	Line     int
	Relation Relation
	Expr     Expr
}

func (c Condition) String() string {
	return c.Expr.String() + " " + c.Relation.String() + " 0"
}

// violation returns how far c is from holding at x; zero when it holds.
func (c Condition) violation(x []float64) float64 {
	g := c.Expr.Eval(x)
	switch c.Relation {
	case GreaterEqual:
		return math.Max(0, -g)
	case LessEqual:
		return math.Max(0, g)
	default:
		return math.Abs(g)
	}
}

// ConstraintSet is an ordered list of conditions.
type ConstraintSet []Condition

// Arity returns one more than the highest parameter index referenced.
func (cs ConstraintSet) Arity() int {
	n := 0
	for _, c := range cs {
		if a := Arity(c.Expr); a > n {
			n = a
		}
	}
	return n
}

type options struct {
	dim       int
	tolerance float64
}

// Option configures parsing and compilation.
type Option func(*options)

// WithDimension rejects parameters x<i> with i >= n as undefined symbols.
func WithDimension(n int) Option {
	return func(o *options) { o.dim = n }
}

// WithTolerance treats violations up to eps as satisfied.
func WithTolerance(eps float64) Option {
	return func(o *options) { o.tolerance = eps }
}

func buildOptions(opts []Option) *options {
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Parse parses constraint text. It either returns every condition or an
// error; blank and comment-only lines are skipped. Duplicate conditions and
// conditions on no parameter at all are rejected as configuration errors.
func Parse(text string, opts ...Option) (ConstraintSet, error) {
	o := buildOptions(opts)
	if o.tolerance < 0 || math.IsNaN(o.tolerance) {
		return nil, optimization.ConfigurationErrorf(component, "tolerance must be non-negative, got %g", o.tolerance)
	}

	var set ConstraintSet
	seen := make(map[string]int)
	scanner := bufio.NewScanner(strings.NewReader(text))
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := scanner.Text()
		if i := strings.IndexByte(line, '#'); i >= 0 {
			line = line[:i]
		}
		if strings.TrimSpace(line) == "" {
			continue
		}

		p, err := newParser(line, lineNo, o)
		if err != nil {
			return nil, err
		}
		rel, expr, err := p.parseRelation()
		if err != nil {
			return nil, err
		}
		c := Condition{Text: strings.TrimSpace(line), Line: lineNo, Relation: rel, Expr: expr}

		if g, ok := constantValue(expr); ok {
			holds := Condition{Relation: rel, Expr: number(g)}.violation(nil) <= o.tolerance
			if holds {
				return nil, optimization.ConfigurationErrorf(component, "line %d: condition %q always holds", lineNo, c.Text)
			}
			return nil, optimization.ConfigurationErrorf(component, "line %d: condition %q can never hold", lineNo, c.Text)
		}
		key := c.String()
		if first, dup := seen[key]; dup {
			return nil, optimization.ConfigurationErrorf(component, "line %d duplicates line %d: %s", lineNo, first, key)
		}
		seen[key] = lineNo
		set = append(set, c)
	}
	if err := scanner.Err(); err != nil {
		return nil, optimization.WrapError(optimization.ErrSyntax, err, "reading constraint text").WithComponent(component)
	}
	return set, nil
}

// ParseExpression parses a single expression with no relation.
func ParseExpression(text string, opts ...Option) (Expr, error) {
	text = strings.TrimSpace(text)
	if i := strings.IndexByte(text, '#'); i >= 0 {
		text = strings.TrimSpace(text[:i])
	}
	if strings.ContainsAny(text, "\n") {
		return nil, &SyntaxError{Line: 1, Column: strings.IndexByte(text, '\n') + 1, Msg: "expression must be a single line"}
	}
	p, err := newParser(text, 1, buildOptions(opts))
	if err != nil {
		return nil, err
	}
	return p.parseStandalone()
}

// CompileExpression compiles an objective written as text. The returned
// function fails when given fewer parameters than the expression uses.
func CompileExpression(text string, opts ...Option) (optimization.ObjectiveFunction, error) {
	e, err := ParseExpression(text, opts...)
	if err != nil {
		return nil, err
	}
	arity := Arity(e)
	return func(x []float64) (float64, error) {
		if len(x) < arity {
			return 0, fmt.Errorf("expression %s needs %d parameters, got %d", e, arity, len(x))
		}
		return e.Eval(x), nil
	}, nil
}
