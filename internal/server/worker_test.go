package server

import (
	"context"
	"math"
	"os"
	"testing"
	"time"

	"github.com/cwbudde/lsqfit/internal/opt"
	"github.com/cwbudde/lsqfit/internal/store"
)

func testWorkerConfig(t *testing.T) (WorkerConfig, *store.FSStore) {
	t.Helper()
	st, err := store.NewFSStore(t.TempDir())
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	return WorkerConfig{Store: st, ProgressInterval: 10 * time.Millisecond, TraceParams: true}, st
}

func TestRunJob_Success(t *testing.T) {
	cfg, st := testWorkerConfig(t)
	jm := NewJobManager()
	job := jm.CreateJob(lineProblem())

	if err := runJob(context.Background(), jm, cfg, job.ID); err != nil {
		t.Fatalf("runJob failed: %v", err)
	}

	done, _ := jm.GetJob(job.ID)
	if done.State != StateCompleted {
		t.Fatalf("Expected completed state, got %s (%s)", done.State, done.Error)
	}
	if done.Status != opt.StatusConverged {
		t.Errorf("Expected converged status, got %s", done.Status)
	}
	if math.Abs(done.BestParams[0]-2) > 1e-6 || math.Abs(done.BestParams[1]-1) > 1e-6 {
		t.Errorf("Expected params near [2 1], got %v", done.BestParams)
	}
	if done.EndTime == nil {
		t.Error("EndTime should be set")
	}
	if len(done.History) == 0 {
		t.Error("History should be recorded")
	}

	checkpoint, err := st.LoadCheckpoint(job.ID)
	if err != nil {
		t.Fatalf("Final checkpoint missing: %v", err)
	}
	if err := checkpoint.Validate(); err != nil {
		t.Errorf("Final checkpoint invalid: %v", err)
	}
	if checkpoint.Status != opt.StatusConverged {
		t.Errorf("Checkpoint status = %s", checkpoint.Status)
	}

	entries, err := store.ReadTrace(st.BaseDir(), job.ID)
	if err != nil {
		t.Fatalf("Trace missing: %v", err)
	}
	if len(entries) == 0 || entries[0].Params == nil {
		t.Errorf("Expected trace entries with params, got %+v", entries)
	}

	if _, err := os.Stat(st.ChartPath(job.ID)); err != nil {
		t.Errorf("Chart not written: %v", err)
	}
}

func TestRunJob_InvalidProblem(t *testing.T) {
	cfg, _ := testWorkerConfig(t)
	jm := NewJobManager()

	bad := lineProblem()
	bad.Model = "spline"
	job := jm.CreateJob(bad)

	if err := runJob(context.Background(), jm, cfg, job.ID); err == nil {
		t.Fatal("Expected error for unknown model")
	}

	failed, _ := jm.GetJob(job.ID)
	if failed.State != StateFailed {
		t.Errorf("Expected failed state, got %s", failed.State)
	}
	if failed.Error == "" {
		t.Error("Error message should be recorded")
	}
}

func TestRunJob_Cancellation(t *testing.T) {
	jm := NewJobManager()
	job := jm.CreateJob(lineProblem())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := runJob(ctx, jm, WorkerConfig{}, job.ID); err == nil {
		t.Fatal("Expected error for cancelled context")
	}

	cancelled, _ := jm.GetJob(job.ID)
	if cancelled.State != StateCancelled {
		t.Errorf("Expected cancelled state, got %s", cancelled.State)
	}
}

func TestRunJob_InMemory(t *testing.T) {
	jm := NewJobManager()
	p := lineProblem()
	p.Solver = "levmar"
	job := jm.CreateJob(p)

	if err := runJob(context.Background(), jm, WorkerConfig{}, job.ID); err != nil {
		t.Fatalf("runJob failed: %v", err)
	}
	done, _ := jm.GetJob(job.ID)
	if done.State != StateCompleted {
		t.Errorf("Expected completed, got %s", done.State)
	}
}

func TestRunJob_UnknownJob(t *testing.T) {
	if err := runJob(context.Background(), NewJobManager(), WorkerConfig{}, "missing"); err == nil {
		t.Error("Expected error for unknown job")
	}
}

func TestSaveCheckpoint_SkipsWithoutParams(t *testing.T) {
	_, st := testWorkerConfig(t)
	jm := NewJobManager()
	job := jm.CreateJob(lineProblem())

	if err := saveCheckpoint(jm, st, job.ID); err != nil {
		t.Fatalf("saveCheckpoint failed: %v", err)
	}
	if _, err := st.LoadCheckpoint(job.ID); err == nil {
		t.Error("No checkpoint should be written before any step")
	}

	jm.UpdateJob(job.ID, func(j *Job) {
		j.BestParams = []float64{2, 1}
		j.BestCost = 0.5
	})
	if err := saveCheckpoint(jm, st, job.ID); err != nil {
		t.Fatalf("saveCheckpoint failed: %v", err)
	}
	checkpoint, err := st.LoadCheckpoint(job.ID)
	if err != nil {
		t.Fatalf("Checkpoint not saved: %v", err)
	}
	if checkpoint.BestCost != 0.5 || checkpoint.Problem.Model != "linear" {
		t.Errorf("Unexpected checkpoint: %+v", checkpoint)
	}
}
