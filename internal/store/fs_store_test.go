package store

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/cwbudde/lsqfit/internal/fit"
	"github.com/cwbudde/lsqfit/internal/opt"
)

func setupTestStore(t *testing.T) (*FSStore, string) {
	t.Helper()

	dir := t.TempDir()
	s, err := NewFSStore(dir)
	if err != nil {
		t.Fatalf("Failed to create test store: %v", err)
	}
	return s, dir
}

func testProblem() fit.Problem {
	return fit.Problem{
		Model:   "exponential",
		Solver:  "levmar",
		Inputs:  [][]float64{{0}, {1}, {2}},
		Targets: [][]float64{{3}, {4.3}, {6.4}},
		Initial: []float64{1, 1, 1},
	}
}

func createTestCheckpoint(jobID string) *Checkpoint {
	return &Checkpoint{
		JobID:       jobID,
		BestParams:  []float64{2, 0.5, 1},
		BestCost:    0.0234,
		InitialCost: 0.5621,
		Iteration:   12,
		Status:      opt.StatusConverged,
		Timestamp:   time.Now(),
		Problem:     testProblem(),
	}
}

func TestSaveAndLoadCheckpoint(t *testing.T) {
	s, dir := setupTestStore(t)
	want := createTestCheckpoint("job-1")

	if err := s.SaveCheckpoint("job-1", want); err != nil {
		t.Fatalf("SaveCheckpoint failed: %v", err)
	}

	path := filepath.Join(dir, "jobs", "job-1", "checkpoint.json")
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("Checkpoint file missing: %v", err)
	}
	if _, err := os.Stat(path + ".tmp"); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("Temp file should not remain after save")
	}

	got, err := s.LoadCheckpoint("job-1")
	if err != nil {
		t.Fatalf("LoadCheckpoint failed: %v", err)
	}
	if got.BestCost != want.BestCost || got.Iteration != want.Iteration || got.Status != want.Status {
		t.Errorf("Loaded checkpoint differs: got %+v", got)
	}
	if len(got.BestParams) != 3 || got.BestParams[1] != 0.5 {
		t.Errorf("BestParams mismatch: %v", got.BestParams)
	}
	if got.Problem.Model != "exponential" || len(got.Problem.Inputs) != 3 {
		t.Errorf("Problem not round-tripped: %+v", got.Problem)
	}
	if !got.Timestamp.Equal(want.Timestamp) {
		t.Errorf("Timestamp mismatch: %v vs %v", got.Timestamp, want.Timestamp)
	}
	if err := got.Validate(); err != nil {
		t.Errorf("Loaded checkpoint should validate: %v", err)
	}
}

func TestSaveCheckpoint_Overwrite(t *testing.T) {
	s, _ := setupTestStore(t)

	first := createTestCheckpoint("job")
	first.BestCost = 0.5
	second := createTestCheckpoint("job")
	second.BestCost = 0.1

	if err := s.SaveCheckpoint("job", first); err != nil {
		t.Fatalf("First save failed: %v", err)
	}
	if err := s.SaveCheckpoint("job", second); err != nil {
		t.Fatalf("Second save failed: %v", err)
	}

	got, err := s.LoadCheckpoint("job")
	if err != nil {
		t.Fatalf("LoadCheckpoint failed: %v", err)
	}
	if got.BestCost != 0.1 {
		t.Errorf("Expected overwritten cost 0.1, got %f", got.BestCost)
	}
}

func TestSaveCheckpoint_BadArguments(t *testing.T) {
	s, _ := setupTestStore(t)

	if err := s.SaveCheckpoint("", createTestCheckpoint("x")); err == nil {
		t.Error("Expected error for empty jobID")
	}
	if err := s.SaveCheckpoint("x", nil); err == nil {
		t.Error("Expected error for nil checkpoint")
	}
}

func TestLoadCheckpoint_NotFound(t *testing.T) {
	s, _ := setupTestStore(t)

	_, err := s.LoadCheckpoint("missing")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("Expected ErrNotFound, got %v", err)
	}
	var nf *NotFoundError
	if !errors.As(err, &nf) || nf.JobID != "missing" {
		t.Errorf("Expected NotFoundError for 'missing', got %v", err)
	}
}

func TestLoadCheckpoint_Corrupted(t *testing.T) {
	s, dir := setupTestStore(t)

	jobDir := filepath.Join(dir, "jobs", "broken")
	if err := os.MkdirAll(jobDir, 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(jobDir, "checkpoint.json"), []byte("{not json"), 0644); err != nil {
		t.Fatal(err)
	}

	_, err := s.LoadCheckpoint("broken")
	if err == nil || errors.Is(err, ErrNotFound) {
		t.Fatalf("Expected deserialization error, got %v", err)
	}
}

func TestListCheckpoints(t *testing.T) {
	s, dir := setupTestStore(t)

	infos, err := s.ListCheckpoints()
	if err != nil {
		t.Fatalf("ListCheckpoints on empty store failed: %v", err)
	}
	if len(infos) != 0 {
		t.Fatalf("Expected no checkpoints, got %d", len(infos))
	}

	older := createTestCheckpoint("older")
	older.Timestamp = time.Now().Add(-time.Hour)
	newer := createTestCheckpoint("newer")
	for _, c := range []*Checkpoint{older, newer} {
		if err := s.SaveCheckpoint(c.JobID, c); err != nil {
			t.Fatalf("Save failed: %v", err)
		}
	}

	// A job directory without a checkpoint and a corrupted one are skipped.
	os.MkdirAll(filepath.Join(dir, "jobs", "empty"), 0755)
	os.MkdirAll(filepath.Join(dir, "jobs", "corrupt"), 0755)
	os.WriteFile(filepath.Join(dir, "jobs", "corrupt", "checkpoint.json"), []byte("]"), 0644)

	infos, err = s.ListCheckpoints()
	if err != nil {
		t.Fatalf("ListCheckpoints failed: %v", err)
	}
	if len(infos) != 2 {
		t.Fatalf("Expected 2 checkpoints, got %d", len(infos))
	}
	if infos[0].JobID != "newer" || infos[1].JobID != "older" {
		t.Errorf("Expected newest first, got %s, %s", infos[0].JobID, infos[1].JobID)
	}
	if infos[0].Model != "exponential" || infos[0].Solver != "levmar" || infos[0].Samples != 3 {
		t.Errorf("Unexpected info: %+v", infos[0])
	}
}

func TestDeleteCheckpoint(t *testing.T) {
	s, dir := setupTestStore(t)

	if err := s.SaveCheckpoint("job", createTestCheckpoint("job")); err != nil {
		t.Fatal(err)
	}
	tw, err := NewTraceWriter(dir, "job", false)
	if err != nil {
		t.Fatal(err)
	}
	tw.Write(TraceEntry{Iteration: 1, Cost: 1})
	tw.Close()

	if err := s.DeleteCheckpoint("job"); err != nil {
		t.Fatalf("DeleteCheckpoint failed: %v", err)
	}
	if _, err := os.Stat(s.JobDir("job")); !errors.Is(err, os.ErrNotExist) {
		t.Error("Job directory should be removed with its trace")
	}
	if err := s.DeleteCheckpoint("job"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound on second delete, got %v", err)
	}
	if err := s.DeleteCheckpoint(""); err == nil {
		t.Error("Expected error for empty jobID")
	}
}

func TestChartPath(t *testing.T) {
	s, dir := setupTestStore(t)

	want := filepath.Join(dir, "jobs", "abc", "chart.png")
	if got := s.ChartPath("abc"); got != want {
		t.Errorf("ChartPath = %s, want %s", got, want)
	}
}
