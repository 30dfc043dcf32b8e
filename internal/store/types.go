package store

import (
	"fmt"
	"math"
	"time"

	"github.com/cwbudde/lsqfit/internal/fit"
	"github.com/cwbudde/lsqfit/internal/opt"
)

// Checkpoint is the persisted best state of a fit job.
//
// Only the best parameter vector is kept, not solver internals such as the
// damping factor. Resuming restarts the solver from BestParams, so the cost
// never gets worse but the iteration path differs from an uninterrupted run.
type Checkpoint struct {
	JobID       string     `json:"jobId"`
	BestParams  []float64  `json:"bestParams"`
	BestCost    float64    `json:"bestCost"`
	InitialCost float64    `json:"initialCost"`
	Iteration   int        `json:"iteration"`
	Status      opt.Status `json:"status,omitempty"`
	Timestamp   time.Time  `json:"timestamp"`

	// Problem is the fit that produced this state. Resume re-runs it with
	// BestParams as the initial guess.
	Problem fit.Problem `json:"problem"`
}

// CheckpointInfo is the listing view of a checkpoint.
type CheckpointInfo struct {
	JobID     string     `json:"jobId"`
	BestCost  float64    `json:"bestCost"`
	Iteration int        `json:"iteration"`
	Status    opt.Status `json:"status,omitempty"`
	Timestamp time.Time  `json:"timestamp"`
	Model     string     `json:"model"`
	Solver    string     `json:"solver"`
	Samples   int        `json:"samples"`
}

// NewCheckpoint snapshots job state.
func NewCheckpoint(jobID string, bestParams []float64, bestCost, initialCost float64, iteration int, status opt.Status, problem fit.Problem) *Checkpoint {
	return &Checkpoint{
		JobID:       jobID,
		BestParams:  append([]float64(nil), bestParams...),
		BestCost:    bestCost,
		InitialCost: initialCost,
		Iteration:   iteration,
		Status:      status,
		Timestamp:   time.Now(),
		Problem:     problem,
	}
}

// ToInfo drops the parameter and sample data.
func (c *Checkpoint) ToInfo() CheckpointInfo {
	return CheckpointInfo{
		JobID:     c.JobID,
		BestCost:  c.BestCost,
		Iteration: c.Iteration,
		Status:    c.Status,
		Timestamp: c.Timestamp,
		Model:     c.Problem.Model,
		Solver:    c.Problem.SolverName(),
		Samples:   len(c.Problem.Inputs),
	}
}

// Validate checks that the checkpoint can seed a resumed fit.
func (c *Checkpoint) Validate() error {
	if c.JobID == "" {
		return &ValidationError{Field: "JobID", Reason: "cannot be empty"}
	}
	if len(c.BestParams) == 0 {
		return &ValidationError{Field: "BestParams", Reason: "cannot be empty"}
	}
	for i, v := range c.BestParams {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return &ValidationError{Field: "BestParams", Reason: fmt.Sprintf("entry %d is not finite", i)}
		}
	}
	if c.BestCost < 0 {
		return &ValidationError{Field: "BestCost", Reason: "cannot be negative"}
	}
	if c.InitialCost < 0 {
		return &ValidationError{Field: "InitialCost", Reason: "cannot be negative"}
	}
	if c.Iteration < 0 {
		return &ValidationError{Field: "Iteration", Reason: "cannot be negative"}
	}
	if c.Timestamp.IsZero() {
		return &ValidationError{Field: "Timestamp", Reason: "cannot be zero"}
	}

	m, err := fit.LookupModel(c.Problem.Model)
	if err != nil {
		return &ValidationError{Field: "Problem.Model", Reason: err.Error()}
	}
	if len(c.BestParams) != m.NumParams() {
		return &ValidationError{
			Field:  "BestParams",
			Reason: fmt.Sprintf("length mismatch: expected %d params for model %s", m.NumParams(), m.Name),
		}
	}
	return nil
}

// ResumeProblem returns the stored problem restarted from BestParams.
// Seeding is dropped because the start point is already known.
func (c *Checkpoint) ResumeProblem() fit.Problem {
	p := c.Problem
	p.Initial = append([]float64(nil), c.BestParams...)
	p.Seeding = nil
	return p
}

// ValidationError reports an unusable checkpoint field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return "validation error: " + e.Field + " " + e.Reason
}

// IsCompatible reports whether the checkpoint can continue the given problem.
func (c *Checkpoint) IsCompatible(p fit.Problem) error {
	if c.Problem.Model != p.Model {
		return &CompatibilityError{Field: "Model", Expected: c.Problem.Model, Actual: p.Model}
	}
	if len(c.Problem.Inputs) != len(p.Inputs) {
		return &CompatibilityError{
			Field:    "Samples",
			Expected: fmt.Sprintf("%d", len(c.Problem.Inputs)),
			Actual:   fmt.Sprintf("%d", len(p.Inputs)),
		}
	}
	if c.Problem.Batch != p.Batch {
		return &CompatibilityError{
			Field:    "Batch",
			Expected: fmt.Sprintf("%t", c.Problem.Batch),
			Actual:   fmt.Sprintf("%t", p.Batch),
		}
	}
	return nil
}

// CompatibilityError reports a mismatch between a checkpoint and a problem.
type CompatibilityError struct {
	Field    string
	Expected string
	Actual   string
}

func (e *CompatibilityError) Error() string {
	return "compatibility error: " + e.Field + " mismatch (expected " + e.Expected + ", got " + e.Actual + ")"
}
