package parser

import (
	"fmt"

	"github.com/leapstack-labs/fhirsql/pkg/fhirpath/ast"
)

// ParseError represents a parsing error with position information.
type ParseError struct {
	Pos     ast.Position
	Message string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse error at line %d, column %d: %s", e.Pos.Line, e.Pos.Column, e.Message)
}

// LexError represents a lexical analysis error.
type LexError struct {
	Pos     ast.Position
	Message string
}

func (e *LexError) Error() string {
	return fmt.Sprintf("lexer error at line %d, column %d: %s", e.Pos.Line, e.Pos.Column, e.Message)
}

// Common error messages
const (
	ErrUnexpectedToken    = "unexpected %s %q, expected %s"
	ErrUnterminatedString = "unterminated string literal"
	ErrUnterminatedIdent  = "unterminated delimited identifier"
	ErrInvalidEscape      = "invalid escape sequence \\%c"
	ErrInvalidDate        = "invalid date/time literal %q"
	ErrTrailingInput      = "unexpected %s %q after expression"
)
