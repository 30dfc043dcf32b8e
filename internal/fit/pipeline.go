package fit

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/cwbudde/lsqfit/internal/opt"
	"github.com/cwbudde/lsqfit/internal/residual"
)

// Outcome holds the output of one pipeline run.
type Outcome struct {
	*opt.Result

	// Start is the vector handed to the local solver.
	Start []float64

	// Seeded is set when the Mayfly search supplied Start.
	Seeded   bool
	SeedCost float64

	// History is the cost of every accepted step, starting with the initial cost.
	History []float64
	Stalled bool
}

// Options tunes a pipeline run.
type Options struct {
	// Observer receives every solver step after the convergence tracker.
	Observer opt.Observer

	Convergence ConvergenceConfig
}

// Run fits a validated problem: optional seeding inside the bounds, then the
// configured local solver.
func Run(ctx context.Context, p *Problem, opts Options) (*Outcome, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	m, err := LookupModel(p.Model)
	if err != nil {
		return nil, err
	}

	slog.Info("Starting fit", "model", m.Name, "solver", p.SolverName(), "samples", len(p.Inputs), "params", m.NumParams())

	start, seeded, seedCost, err := startingPoint(p, m)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	tracker := NewConvergenceTracker(opts.Convergence)
	observer := func(s opt.Step) {
		tracker.Observe(s)
		if opts.Observer != nil {
			opts.Observer(s)
		}
	}
	solver, err := opt.New(p.SolverName(), p.Settings, observer)
	if err != nil {
		return nil, err
	}

	var result *opt.Result
	switch {
	case p.Batch:
		batch, ok := solver.(opt.BatchOptimizer)
		if !ok {
			return nil, fmt.Errorf("%w: solver %s has no batch mode", ErrInvalidProblem, solver.Name())
		}
		result, err = batch.OptimizeBatch(m.Eval, p.Targets, start, p.Inputs)
	case len(p.Mask) != 0:
		f := residual.Bind(m.Flat(), p.FlatInputs())
		result, err = solver.Optimize(f, p.FlatTargets(), start, p.Mask)
	default:
		result, err = solver.OptimizeWithInput(m.Flat(), p.FlatTargets(), start, p.FlatInputs())
	}
	if err != nil {
		return nil, fmt.Errorf("%s fit failed: %w", solver.Name(), err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	history := tracker.History()
	if len(history) == 0 || history[0] != result.InitialCost {
		history = append([]float64{result.InitialCost}, history...)
	}

	slog.Info("Fit complete",
		"status", result.Status,
		"initial_cost", result.InitialCost,
		"final_cost", result.Cost,
		"iterations", result.Iterations,
		"rejected_steps", tracker.Rejected(),
	)

	return &Outcome{
		Result:   result,
		Start:    start,
		Seeded:   seeded,
		SeedCost: seedCost,
		History:  history,
		Stalled:  tracker.Stalled(),
	}, nil
}

// startingPoint returns the initial guess, running the seeding search when
// configured. A seed only replaces given initial parameters if it is better.
func startingPoint(p *Problem, m Model) ([]float64, bool, float64, error) {
	if p.Seeding == nil {
		return append([]float64(nil), p.Initial...), false, 0, nil
	}

	cfg := DefaultSeedingConfig()
	if p.Seeding.Iters > 0 {
		cfg.Iters = p.Seeding.Iters
	}
	if p.Seeding.PopSize > 0 {
		cfg.PopSize = p.Seeding.PopSize
	}
	if p.Seeding.Seed != 0 {
		cfg.Seed = p.Seeding.Seed
	}

	f := residual.Bind(m.Flat(), p.FlatInputs())
	target := p.FlatTargets()
	seed, seedCost, err := opt.NewMayfly(cfg.Iters, cfg.PopSize, cfg.Seed).Search(f, target, p.Lower, p.Upper)
	if err != nil {
		return nil, false, 0, err
	}

	if len(p.Initial) != 0 {
		r, err := residual.Evaluate(f, p.Initial, target)
		if err != nil {
			return nil, false, 0, err
		}
		if r.SumSquares() <= seedCost {
			slog.Info("Keeping initial parameters over seed", "initial_cost", r.SumSquares(), "seed_cost", seedCost)
			return append([]float64(nil), p.Initial...), false, seedCost, nil
		}
	}
	return seed, true, seedCost, nil
}
