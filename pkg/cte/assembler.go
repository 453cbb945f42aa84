package cte

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/leapstack-labs/fhirsql/internal/dag"
)

// Assembler orders CTEs and renders the final statement.
type Assembler struct {
	external map[string]bool
	logger   *slog.Logger
}

// NewAssembler returns an assembler. WithRootTable and WithExternalTables
// declare the tables CTEs may read without defining them.
func NewAssembler(opts ...Option) *Assembler {
	o := newOptions(opts)
	return &Assembler{
		external: o.externalSet(),
		logger:   o.logger,
	}
}

// OrderByDependencies sorts ctes so every CTE follows the CTEs it reads.
// Independent CTEs keep their input order.
func (a *Assembler) OrderByDependencies(ctes []*CTE) ([]*CTE, error) {
	g := dag.NewGraph()
	for _, c := range ctes {
		if _, exists := g.GetNode(c.Name); exists {
			return nil, &DuplicateNameError{Name: c.Name}
		}
		g.AddNode(c.Name, c)
	}
	for _, c := range ctes {
		for _, dep := range c.DependsOn {
			if a.external[dep] {
				continue
			}
			if _, exists := g.GetNode(dep); !exists {
				return nil, &UnknownDependencyError{CTE: c.Name, Dependency: dep}
			}
			if err := g.AddEdge(dep, c.Name); err != nil {
				return nil, convertGraphError(err)
			}
		}
	}

	sorted, err := g.TopologicalSort()
	if err != nil {
		return nil, convertGraphError(err)
	}
	ordered := make([]*CTE, len(sorted))
	for i, n := range sorted {
		ordered[i] = n.Data.(*CTE)
	}
	return ordered, nil
}

func convertGraphError(err error) error {
	var cycle *dag.CycleError
	if errors.As(err, &cycle) {
		return &CircularDependencyError{Cycle: cycle.Cycle}
	}
	return fmt.Errorf("ordering CTEs: %w", err)
}

// GenerateWithClause renders the WITH clause for already ordered CTEs.
func (a *Assembler) GenerateWithClause(ordered []*CTE) (string, error) {
	if len(ordered) == 0 {
		return "", ErrNoCTEs
	}
	parts := make([]string, len(ordered))
	for i, c := range ordered {
		parts[i] = fmt.Sprintf("%s AS (\n  %s\n)", c.Name, c.Query)
	}
	return "WITH " + strings.Join(parts, ",\n"), nil
}

// GenerateFinalSelect renders the statement's terminal SELECT over last.
func GenerateFinalSelect(last *CTE) string {
	return fmt.Sprintf("SELECT * FROM %s;", last.Name)
}

// AssembleQuery orders ctes and renders the complete statement, selecting
// from the last CTE in dependency order.
func (a *Assembler) AssembleQuery(ctes []*CTE) (string, error) {
	if len(ctes) == 0 {
		return "", ErrNoCTEs
	}
	ordered, err := a.OrderByDependencies(ctes)
	if err != nil {
		return "", err
	}
	with, err := a.GenerateWithClause(ordered)
	if err != nil {
		return "", err
	}
	last := ordered[len(ordered)-1]
	a.logger.Debug("assembled query", "ctes", len(ordered), "final", last.Name)
	return with + "\n" + GenerateFinalSelect(last), nil
}
