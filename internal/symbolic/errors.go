package symbolic

import (
	"fmt"

	"github.com/copyleftdev/latticeopt/internal/optimization"
)

// SyntaxError reports text that does not follow the grammar. It matches
// optimization.ErrSyntax.
type SyntaxError struct {
	Line   int
	Column int
	Msg    string
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("%v at line %d, column %d: %s", optimization.ErrSyntax, e.Line, e.Column, e.Msg)
}

// Is matches optimization.ErrSyntax.
func (e *SyntaxError) Is(target error) bool {
	return target == optimization.ErrSyntax
}

// SymbolError reports an identifier that names no parameter, function or
// constant. It matches optimization.ErrSymbol.
type SymbolError struct {
	Line   int
	Column int
	Name   string
	Msg    string
}

func (e *SymbolError) Error() string {
	msg := e.Msg
	if msg == "" {
		msg = "undefined symbol"
	}
	return fmt.Sprintf("%v at line %d, column %d: %s %q", optimization.ErrSymbol, e.Line, e.Column, msg, e.Name)
}

// Is matches optimization.ErrSymbol.
func (e *SymbolError) Is(target error) bool {
	return target == optimization.ErrSymbol
}
