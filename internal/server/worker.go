package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cwbudde/lsqfit/internal/fit"
	"github.com/cwbudde/lsqfit/internal/opt"
	"github.com/cwbudde/lsqfit/internal/report"
	"github.com/cwbudde/lsqfit/internal/store"
)

// WorkerConfig controls what a job leaves behind on disk.
type WorkerConfig struct {
	// Store receives the trace, checkpoints and chart. Nil keeps jobs in memory.
	Store *store.FSStore

	// CheckpointInterval saves the best state periodically while the solver
	// runs. Zero saves only the final checkpoint.
	CheckpointInterval time.Duration

	// ProgressInterval throttles SSE progress events.
	ProgressInterval time.Duration

	// TraceParams stores the parameter vector with every trace entry.
	TraceParams bool
}

// DefaultWorkerConfig returns the settings used by the serve command.
func DefaultWorkerConfig(st *store.FSStore) WorkerConfig {
	return WorkerConfig{
		Store:              st,
		CheckpointInterval: 10 * time.Second,
		ProgressInterval:   500 * time.Millisecond,
	}
}

// runJob executes a fit job in the background.
func runJob(ctx context.Context, jm *JobManager, cfg WorkerConfig, jobID string) error {
	job, exists := jm.GetJob(jobID)
	if !exists {
		return fmt.Errorf("job not found: %s", jobID)
	}
	if err := jm.UpdateJob(jobID, func(j *Job) { j.State = StateRunning }); err != nil {
		return err
	}
	slog.Info("Starting job", "job_id", jobID, "model", job.Problem.Model, "solver", job.Problem.SolverName())

	if err := ctx.Err(); err != nil {
		markJobCancelled(jm, jobID)
		return err
	}

	var trace *store.TraceWriter
	if cfg.Store != nil {
		tw, err := store.NewTraceWriter(cfg.Store.BaseDir(), jobID, false)
		if err != nil {
			markJobFailed(jm, jobID, err)
			return err
		}
		trace = tw
	}

	observer := func(step opt.Step) {
		jm.UpdateJob(jobID, func(j *Job) {
			j.Iterations = step.Iteration
			j.Lambda = step.Lambda
			if step.Accepted && (len(j.History) == 0 || step.Cost <= j.BestCost) {
				j.BestCost = step.Cost
				j.BestParams = append(j.BestParams[:0], step.Params...)
			}
			if step.Accepted {
				j.History = append(j.History, step.Cost)
			}
		})
		if trace != nil {
			if err := trace.Write(store.NewTraceEntry(step, cfg.TraceParams)); err != nil {
				slog.Warn("Failed to write trace entry", "job_id", jobID, "error", err)
			}
		}
	}

	done := make(chan struct{})
	var monitors sync.WaitGroup
	if cfg.ProgressInterval > 0 {
		monitors.Add(1)
		go func() {
			defer monitors.Done()
			monitorProgress(ctx, jm, trace, jobID, cfg.ProgressInterval, done)
		}()
	}
	if cfg.Store != nil && cfg.CheckpointInterval > 0 {
		monitors.Add(1)
		go func() {
			defer monitors.Done()
			monitorCheckpoints(ctx, jm, cfg.Store, jobID, cfg.CheckpointInterval, done)
		}()
	}

	problem := job.Problem
	out, err := fit.Run(ctx, &problem, fit.Options{
		Observer:    observer,
		Convergence: fit.DefaultConvergenceConfig(),
	})

	// Monitors and the trace are finished before the job leaves the running
	// state, so readers never see a completed job with a partial trace.
	close(done)
	monitors.Wait()
	if trace != nil {
		if cerr := trace.Close(); cerr != nil {
			slog.Warn("Failed to close trace", "job_id", jobID, "error", cerr)
		}
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		markJobCancelled(jm, jobID)
		return err
	}
	if err != nil {
		markJobFailed(jm, jobID, err)
		return err
	}

	if cfg.Store != nil {
		checkpoint := store.NewCheckpoint(jobID, out.Params, out.Cost, out.InitialCost, out.Iterations, out.Status, job.Problem)
		if err := cfg.Store.SaveCheckpoint(jobID, checkpoint); err != nil {
			slog.Error("Failed to save final checkpoint", "job_id", jobID, "error", err)
		}
		if err := saveChart(cfg.Store, jobID, out.History); err != nil {
			slog.Warn("Failed to save chart", "job_id", jobID, "error", err)
		}
	}

	endTime := time.Now()
	err = jm.UpdateJob(jobID, func(j *Job) {
		j.State = StateCompleted
		j.BestParams = append([]float64(nil), out.Params...)
		j.BestCost = out.Cost
		j.InitialCost = out.InitialCost
		j.Iterations = out.Iterations
		j.Lambda = out.Lambda
		j.Status = out.Status
		j.Stalled = out.Stalled
		j.Seeded = out.Seeded
		j.History = out.History
		j.EndTime = &endTime
	})
	if err != nil {
		return err
	}

	final, _ := jm.GetJob(jobID)
	slog.Info("Job completed",
		"job_id", jobID,
		"elapsed", final.Elapsed(),
		"status", out.Status,
		"initial_cost", out.InitialCost,
		"best_cost", out.Cost,
	)
	jm.broadcaster.Broadcast(progressFor(final))
	return nil
}

// monitorProgress periodically broadcasts progress events and flushes the
// trace so readers see live data.
func monitorProgress(ctx context.Context, jm *JobManager, trace *store.TraceWriter, jobID string, interval time.Duration, done chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			job, exists := jm.GetJob(jobID)
			if !exists {
				return
			}
			if job.State != StateRunning {
				continue
			}
			jm.broadcaster.Broadcast(progressFor(job))
			if trace != nil {
				if err := trace.Flush(); err != nil {
					slog.Warn("Failed to flush trace", "job_id", jobID, "error", err)
				}
			}
		}
	}
}

// monitorCheckpoints periodically saves checkpoints during optimization
func monitorCheckpoints(ctx context.Context, jm *JobManager, st store.Store, jobID string, interval time.Duration, done chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := saveCheckpoint(jm, st, jobID); err != nil {
				slog.Error("Failed to save checkpoint", "job_id", jobID, "error", err)
			}
		}
	}
}

// saveCheckpoint persists the job's current best state
func saveCheckpoint(jm *JobManager, st store.Store, jobID string) error {
	job, exists := jm.GetJob(jobID)
	if !exists {
		return fmt.Errorf("job not found: %s", jobID)
	}
	if len(job.BestParams) == 0 {
		slog.Debug("Skipping checkpoint, no best params yet", "job_id", jobID)
		return nil
	}

	checkpoint := store.NewCheckpoint(jobID, job.BestParams, job.BestCost, job.InitialCost, job.Iterations, job.Status, job.Problem)
	if err := st.SaveCheckpoint(jobID, checkpoint); err != nil {
		return fmt.Errorf("failed to save checkpoint: %w", err)
	}

	slog.Info("Checkpoint saved", "job_id", jobID, "iteration", job.Iterations, "best_cost", job.BestCost)
	return nil
}

func saveChart(st *store.FSStore, jobID string, history []float64) error {
	p, err := report.Convergence(history, "job "+jobID)
	if err != nil {
		return err
	}
	return report.SavePNG(st.ChartPath(jobID), p)
}

// markJobFailed marks a job as failed with an error message
func markJobFailed(jm *JobManager, jobID string, err error) {
	endTime := time.Now()
	jm.UpdateJob(jobID, func(j *Job) {
		j.State = StateFailed
		j.Error = err.Error()
		j.EndTime = &endTime
	})
	slog.Error("Job failed", "job_id", jobID, "error", err)
	if job, ok := jm.GetJob(jobID); ok {
		jm.broadcaster.Broadcast(progressFor(job))
	}
}

// markJobCancelled marks a job as cancelled
func markJobCancelled(jm *JobManager, jobID string) {
	endTime := time.Now()
	jm.UpdateJob(jobID, func(j *Job) {
		j.State = StateCancelled
		j.EndTime = &endTime
	})
	slog.Info("Job cancelled", "job_id", jobID)
	if job, ok := jm.GetJob(jobID); ok {
		jm.broadcaster.Broadcast(progressFor(job))
	}
}
