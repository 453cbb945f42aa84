package translator

import (
	"errors"
	"fmt"
)

// ArityError reports an operator or function called with the wrong number
// of operands.
type ArityError struct {
	Name     string
	Expected string
	Got      int
}

func (e *ArityError) Error() string {
	return fmt.Sprintf("%s expects %s operand(s), got %d", e.Name, e.Expected, e.Got)
}

// UnknownOperatorError reports an operator token the translator does not know.
type UnknownOperatorError struct {
	Op string
}

func (e *UnknownOperatorError) Error() string {
	return fmt.Sprintf("unknown operator %q", e.Op)
}

// UnknownFunctionError reports a function the translator does not implement.
type UnknownFunctionError struct {
	Name string
}

func (e *UnknownFunctionError) Error() string {
	return fmt.Sprintf("unknown function %q", e.Name)
}

// UnboundVariableError reports a reference to a variable with no binding in
// any enclosing scope.
type UnboundVariableError struct {
	Name string
}

func (e *UnboundVariableError) Error() string {
	return fmt.Sprintf("unbound variable %s", e.Name)
}

// RedefinedVariableError reports a defineVariable call shadowing a name that
// is already bound in the same scope.
type RedefinedVariableError struct {
	Name string
}

func (e *RedefinedVariableError) Error() string {
	return fmt.Sprintf("variable %s is already defined", e.Name)
}

// UnsupportedNodeError reports a construct that is valid FHIRPath but has no
// SQL translation. Callers may route such expressions to an interpreter.
type UnsupportedNodeError struct {
	Node   string
	Reason string
}

func (e *UnsupportedNodeError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("unsupported expression: %s", e.Node)
	}
	return fmt.Sprintf("unsupported expression %s: %s", e.Node, e.Reason)
}

// Is makes every UnsupportedNodeError match ErrFallbackRequired.
func (e *UnsupportedNodeError) Is(target error) bool {
	return target == ErrFallbackRequired
}

var (
	// ErrNilNode is returned when Translate is handed a nil node.
	ErrNilNode = errors.New("cannot translate nil node")
	// ErrFallbackRequired classifies errors for expressions that compile to
	// no SQL and must be evaluated some other way.
	ErrFallbackRequired = errors.New("expression requires fallback evaluation")
)

// IsMalformed reports whether err means the expression itself is invalid, as
// opposed to an internal defect or an unsupported construct.
func IsMalformed(err error) bool {
	var (
		arity    *ArityError
		op       *UnknownOperatorError
		fn       *UnknownFunctionError
		unbound  *UnboundVariableError
		redefine *RedefinedVariableError
	)
	return errors.As(err, &arity) || errors.As(err, &op) || errors.As(err, &fn) ||
		errors.As(err, &unbound) || errors.As(err, &redefine) || errors.Is(err, ErrNilNode)
}

// IsUnsupported reports whether err marks a construct that needs a fallback
// evaluator.
func IsUnsupported(err error) bool {
	return errors.Is(err, ErrFallbackRequired)
}
