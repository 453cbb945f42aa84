// Package parity executes one FHIRPath expression on several engines and
// checks that they return the same rows.
package parity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"golang.org/x/sync/errgroup"

	"github.com/leapstack-labs/fhirsql/pkg/adapter"
	"github.com/leapstack-labs/fhirsql/pkg/compiler"
)

// ErrNoTargets is returned by a runner without targets.
var ErrNoTargets = errors.New("parity: no targets configured")

// Target pairs a compiler with the engine that runs its SQL.
type Target struct {
	Compiler *compiler.Compiler
	Adapter  adapter.Adapter
}

// Name is the dialect name of the target.
func (t Target) Name() string {
	return t.Compiler.Dialect().Name()
}

// Outcome is the result of one target.
type Outcome struct {
	Dialect string
	SQL     string
	Columns []string
	Rows    [][]any
	// Err is the execution error, if any. Compile errors abort the run.
	Err error
}

// Report compares the outcomes of all targets against the first one.
type Report struct {
	Expression string
	Outcomes   []Outcome
	// Mismatches lists, per differing target, rows found on only one side.
	Mismatches []Mismatch
}

// Mismatch describes how a target differs from the reference target.
type Mismatch struct {
	Dialect string
	// Missing rows appear on the reference target only.
	Missing []string
	// Extra rows appear on this target only.
	Extra []string
	Err   error
}

// Match reports whether every target returned the same rows.
func (r *Report) Match() bool {
	return len(r.Mismatches) == 0
}

// Runner executes expressions across targets.
type Runner struct {
	targets []Target
	logger  *slog.Logger
}

// NewRunner returns a runner. The first target is the reference.
func NewRunner(logger *slog.Logger, targets ...Target) *Runner {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Runner{targets: targets, logger: logger}
}

// Run compiles expr for every target, executes the queries concurrently and
// compares the results.
func (r *Runner) Run(ctx context.Context, expr string) (*Report, error) {
	if len(r.targets) == 0 {
		return nil, ErrNoTargets
	}

	outcomes := make([]Outcome, len(r.targets))
	for i, t := range r.targets {
		res, err := t.Compiler.CompileString(expr)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", t.Name(), err)
		}
		outcomes[i] = Outcome{Dialect: t.Name(), SQL: res.SQL}
	}

	g, gctx := errgroup.WithContext(ctx)
	for i, t := range r.targets {
		g.Go(func() error {
			out := &outcomes[i]
			rows, err := t.Adapter.Query(gctx, out.SQL)
			if err == nil {
				out.Columns, out.Rows, err = adapter.Collect(rows)
			}
			if err != nil {
				if ctxErr := ctx.Err(); ctxErr != nil {
					return ctxErr
				}
				out.Err = err
			}
			r.logger.Debug("parity target finished", "dialect", out.Dialect, "rows", len(out.Rows), "error", out.Err)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	return &Report{
		Expression: expr,
		Outcomes:   outcomes,
		Mismatches: compare(outcomes),
	}, nil
}

func compare(outcomes []Outcome) []Mismatch {
	ref := outcomes[0]
	want := multiset(ref.Rows)

	var mismatches []Mismatch
	if ref.Err != nil {
		mismatches = append(mismatches, Mismatch{Dialect: ref.Dialect, Err: ref.Err})
	}
	for _, o := range outcomes[1:] {
		if o.Err != nil {
			mismatches = append(mismatches, Mismatch{Dialect: o.Dialect, Err: o.Err})
			continue
		}
		if ref.Err != nil {
			continue
		}
		got := multiset(o.Rows)
		if slices.Equal(want, got) {
			continue
		}
		mismatches = append(mismatches, Mismatch{
			Dialect: o.Dialect,
			Missing: difference(want, got),
			Extra:   difference(got, want),
		})
	}
	return mismatches
}
