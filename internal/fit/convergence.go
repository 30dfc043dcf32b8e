package fit

import (
	"log/slog"
	"math"

	"github.com/cwbudde/lsqfit/internal/opt"
)

// ConvergenceConfig defines when a run counts as stalled.
type ConvergenceConfig struct {
	// Enabled controls whether stall detection is active
	Enabled bool

	// Patience is the number of accepted steps without significant
	// improvement before the run is reported as stalled
	Patience int

	// Threshold is the minimum relative improvement required to count as progress
	// Relative improvement = (oldCost - newCost) / oldCost
	Threshold float64
}

// DefaultConvergenceConfig returns sensible defaults for stall detection
func DefaultConvergenceConfig() ConvergenceConfig {
	return ConvergenceConfig{
		Enabled:   true,
		Patience:  25,
		Threshold: 1e-4,
	}
}

// DisabledConvergenceConfig returns a config with stall detection disabled
func DisabledConvergenceConfig() ConvergenceConfig {
	return ConvergenceConfig{
		Enabled: false,
	}
}

// ConvergenceTracker records the cost of every accepted solver step and
// notices when progress stalls. The solvers cannot be interrupted, so a stall
// is reported, not enforced.
type ConvergenceTracker struct {
	config          ConvergenceConfig
	costHistory     []float64
	bestCost        float64
	lastSignificant float64
	staleCount      int
	rejected        int
	stalled         bool
}

// NewConvergenceTracker creates a new convergence tracker with the given config
func NewConvergenceTracker(config ConvergenceConfig) *ConvergenceTracker {
	return &ConvergenceTracker{
		config:          config,
		costHistory:     []float64{},
		bestCost:        math.Inf(1),
		lastSignificant: math.Inf(1),
	}
}

// Observe feeds a solver step to the tracker. It can be passed directly as
// an opt.Observer.
func (c *ConvergenceTracker) Observe(step opt.Step) {
	if !step.Accepted {
		c.rejected++
		return
	}
	c.Update(step.Cost)
}

// Update records a new cost value and returns true the first time a stall is
// detected.
func (c *ConvergenceTracker) Update(cost float64) bool {
	c.costHistory = append(c.costHistory, cost)
	if cost < c.bestCost {
		c.bestCost = cost
	}
	if !c.config.Enabled {
		return false
	}

	if len(c.costHistory) == 1 {
		c.lastSignificant = cost
		return false
	}

	relativeImprovement := 1.0
	if c.lastSignificant > 0 {
		relativeImprovement = (c.lastSignificant - cost) / c.lastSignificant
	}

	if relativeImprovement >= c.config.Threshold && cost < c.lastSignificant {
		c.lastSignificant = cost
		c.staleCount = 0
		return false
	}

	c.staleCount++
	slog.Debug("No significant cost improvement",
		"cost", cost,
		"last_significant", c.lastSignificant,
		"relative_improvement", relativeImprovement,
		"stale_count", c.staleCount,
		"patience", c.config.Patience,
	)

	if c.staleCount >= c.config.Patience && !c.stalled {
		c.stalled = true
		slog.Info("Progress stalled",
			"stale_count", c.staleCount,
			"patience", c.config.Patience,
			"best_cost", c.bestCost,
		)
		return true
	}
	return false
}

// BestCost returns the best cost seen so far
func (c *ConvergenceTracker) BestCost() float64 {
	return c.bestCost
}

// History returns the accepted cost history
func (c *ConvergenceTracker) History() []float64 {
	return append([]float64{}, c.costHistory...)
}

// StaleCount returns the current number of steps without improvement
func (c *ConvergenceTracker) StaleCount() int {
	return c.staleCount
}

// Rejected returns how many damping trials were rejected.
func (c *ConvergenceTracker) Rejected() int {
	return c.rejected
}

// Stalled reports whether a stall has been detected.
func (c *ConvergenceTracker) Stalled() bool {
	return c.stalled
}

// Reset clears the tracker's state
func (c *ConvergenceTracker) Reset() {
	c.costHistory = []float64{}
	c.bestCost = math.Inf(1)
	c.lastSignificant = math.Inf(1)
	c.staleCount = 0
	c.rejected = 0
	c.stalled = false
}
