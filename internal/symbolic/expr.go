package symbolic

import (
	"fmt"
	"math"
	"strconv"
)

// Expr is an immutable arithmetic expression over the parameter vector.
type Expr interface {
	// Eval computes the expression at x. Parameters beyond len(x) read
	// as NaN.
	Eval(x []float64) float64
	// String renders the expression fully parenthesised.
	String() string

	// degree reports the polynomial degree in parameter i, or -1 when the
	// expression is not polynomial in it.
	degree(i int) int
	// vars appends the parameter indices in order of first appearance.
	vars(seen []int) []int
}

type number float64

func (n number) Eval([]float64) float64 { return float64(n) }
func (n number) String() string {
	return strconv.FormatFloat(float64(n), 'g', -1, 64)
}
func (n number) degree(int) int        { return 0 }
func (n number) vars(seen []int) []int { return seen }

type constant struct {
	name  string
	value float64
}

func (c constant) Eval([]float64) float64 { return c.value }
func (c constant) String() string         { return c.name }
func (c constant) degree(int) int         { return 0 }
func (c constant) vars(seen []int) []int  { return seen }

type variable int

func (v variable) Eval(x []float64) float64 {
	if int(v) >= len(x) {
		return math.NaN()
	}
	return x[v]
}
func (v variable) String() string { return fmt.Sprintf("x%d", int(v)) }
func (v variable) degree(i int) int {
	if int(v) == i {
		return 1
	}
	return 0
}
func (v variable) vars(seen []int) []int {
	for _, s := range seen {
		if s == int(v) {
			return seen
		}
	}
	return append(seen, int(v))
}

type negate struct{ x Expr }

func (n negate) Eval(x []float64) float64 { return -n.x.Eval(x) }
func (n negate) String() string           { return "(-" + n.x.String() + ")" }
func (n negate) degree(i int) int         { return n.x.degree(i) }
func (n negate) vars(seen []int) []int    { return n.x.vars(seen) }

type binary struct {
	op   byte // one of + - * / ^
	l, r Expr
}

func (b binary) Eval(x []float64) float64 {
	l, r := b.l.Eval(x), b.r.Eval(x)
	switch b.op {
	case '+':
		return l + r
	case '-':
		return l - r
	case '*':
		return l * r
	case '/':
		return l / r
	default:
		return pow(l, r)
	}
}

// pow evaluates squares as a plain product.
func pow(base, exp float64) float64 {
	switch exp {
	case 2:
		return base * base
	case 1:
		return base
	}
	return math.Pow(base, exp)
}

func (b binary) String() string {
	op := string(b.op)
	if b.op == '^' {
		op = "**"
	}
	return "(" + b.l.String() + " " + op + " " + b.r.String() + ")"
}

func (b binary) degree(i int) int {
	dl, dr := b.l.degree(i), b.r.degree(i)
	if dl < 0 || dr < 0 {
		return -1
	}
	switch b.op {
	case '+', '-':
		return max(dl, dr)
	case '*':
		return dl + dr
	case '/':
		if dr != 0 {
			return -1
		}
		return dl
	default:
		if dr != 0 {
			return -1
		}
		if dl == 0 {
			return 0
		}
		// A variable base needs a constant non-negative integer exponent.
		n, ok := constantValue(b.r)
		if !ok || n < 0 || n != math.Trunc(n) || n > 64 {
			return -1
		}
		return dl * int(n)
	}
}

func (b binary) vars(seen []int) []int {
	return b.r.vars(b.l.vars(seen))
}

type call struct {
	name string
	fn   func(float64) float64
	arg  Expr
}

func (c call) Eval(x []float64) float64 { return c.fn(c.arg.Eval(x)) }
func (c call) String() string           { return c.name + "(" + c.arg.String() + ")" }
func (c call) degree(i int) int {
	if c.arg.degree(i) == 0 {
		return 0
	}
	return -1
}
func (c call) vars(seen []int) []int { return c.arg.vars(seen) }

var functions = map[string]func(float64) float64{
	"sin":  math.Sin,
	"cos":  math.Cos,
	"tan":  math.Tan,
	"exp":  math.Exp,
	"log":  math.Log,
	"sqrt": math.Sqrt,
	"abs":  math.Abs,
}

var constants = map[string]float64{
	"pi": math.Pi,
	"e":  math.E,
}

// constantValue evaluates e when it depends on no parameter.
func constantValue(e Expr) (float64, bool) {
	if len(e.vars(nil)) != 0 {
		return 0, false
	}
	return e.Eval(nil), true
}

// Vars returns the parameter indices used by e in order of first
// appearance.
func Vars(e Expr) []int {
	return e.vars(nil)
}

// Arity returns one more than the highest parameter index used by e.
func Arity(e Expr) int {
	n := 0
	for _, v := range e.vars(nil) {
		if v+1 > n {
			n = v + 1
		}
	}
	return n
}
