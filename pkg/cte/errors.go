package cte

import (
	"errors"
	"fmt"
	"strings"
)

// ErrNoCTEs is returned when a query is assembled from an empty CTE list.
var ErrNoCTEs = errors.New("no CTEs to assemble")

// MissingMetadataError reports a fragment lacking metadata its CTE shape
// requires.
type MissingMetadataError struct {
	CTE   string
	Field string
}

func (e *MissingMetadataError) Error() string {
	if e.CTE == "" {
		return fmt.Sprintf("fragment is missing required metadata %s", e.Field)
	}
	return fmt.Sprintf("CTE %s: missing required metadata %s", e.CTE, e.Field)
}

// CircularDependencyError reports CTEs that depend on each other. Cycle
// starts and ends with the same name.
type CircularDependencyError struct {
	Cycle []string
}

func (e *CircularDependencyError) Error() string {
	return fmt.Sprintf("circular CTE dependency: %s", strings.Join(e.Cycle, " -> "))
}

// UnknownDependencyError reports a dependency that is neither a CTE in the
// query nor a declared external table.
type UnknownDependencyError struct {
	CTE        string
	Dependency string
}

func (e *UnknownDependencyError) Error() string {
	return fmt.Sprintf("CTE %s depends on unknown table %s", e.CTE, e.Dependency)
}

// DuplicateNameError reports two CTEs sharing a name.
type DuplicateNameError struct {
	Name string
}

func (e *DuplicateNameError) Error() string {
	return fmt.Sprintf("duplicate CTE name %s", e.Name)
}
