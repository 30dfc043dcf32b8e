package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/cwbudde/lsqfit/internal/fit"
	"github.com/cwbudde/lsqfit/internal/opt"
	"github.com/cwbudde/lsqfit/internal/store"
)

func lineProblem() fit.Problem {
	return fit.Problem{
		Model:   "linear",
		Solver:  "newton",
		Inputs:  [][]float64{{1}, {2}, {3}},
		Targets: [][]float64{{3}, {5}, {7}},
		Initial: []float64{0, 0},
	}
}

func jobIDs(infos []store.CheckpointInfo) []string {
	ids := make([]string, len(infos))
	for i, info := range infos {
		ids[i] = info.JobID
	}
	return ids
}

func TestRetentionPolicy_Expired(t *testing.T) {
	now := time.Now()
	infos := []store.CheckpointInfo{
		{JobID: "ten", Timestamp: now.AddDate(0, 0, -10)},
		{JobID: "five", Timestamp: now.AddDate(0, 0, -5)},
		{JobID: "one", Timestamp: now.AddDate(0, 0, -1)},
		{JobID: "thirty", Timestamp: now.AddDate(0, 0, -30)},
		{JobID: "two", Timestamp: now.AddDate(0, 0, -2)},
	}
	week := 7 * 24 * time.Hour

	tests := []struct {
		name   string
		policy retentionPolicy
		want   []string
	}{
		{"by age", retentionPolicy{MaxAge: week}, []string{"thirty", "ten"}},
		{"by count", retentionPolicy{KeepLast: 2}, []string{"thirty", "ten", "five"}},
		{"combined without duplicates", retentionPolicy{KeepLast: 3, MaxAge: week}, []string{"thirty", "ten"}},
		{"keep more than stored", retentionPolicy{KeepLast: 10}, nil},
		{"nothing old enough", retentionPolicy{MaxAge: 60 * 24 * time.Hour}, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := jobIDs(tt.policy.expired(infos, now))
			if strings.Join(got, ",") != strings.Join(tt.want, ",") {
				t.Errorf("expired() = %v, want %v", got, tt.want)
			}
		})
	}

	if len(infos) != 5 || infos[0].JobID != "ten" {
		t.Error("expired must not reorder its input")
	}
}

func TestRetentionPolicy_Empty(t *testing.T) {
	if !(retentionPolicy{}).empty() {
		t.Error("Zero policy should be empty")
	}
	if (retentionPolicy{KeepLast: 1}).empty() {
		t.Error("KeepLast policy should not be empty")
	}
}

func TestConfirm(t *testing.T) {
	tests := map[string]bool{
		"y\n":   true,
		"YES\n": true,
		" y ":   true,
		"n\n":   false,
		"\n":    false,
		"":      false,
	}
	for input, want := range tests {
		var out bytes.Buffer
		if got := confirm(strings.NewReader(input), &out, "ok? "); got != want {
			t.Errorf("confirm(%q) = %v, want %v", input, got, want)
		}
		if out.String() != "ok? " {
			t.Errorf("Prompt not written, got %q", out.String())
		}
	}
}

func TestGetDirSize(t *testing.T) {
	tmpDir := t.TempDir()

	content := []byte("Hello, World!")
	if err := os.WriteFile(filepath.Join(tmpDir, "a.txt"), content, 0o644); err != nil {
		t.Fatalf("Failed to create test file: %v", err)
	}
	if err := os.MkdirAll(filepath.Join(tmpDir, "sub"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(tmpDir, "sub", "b.txt"), content, 0o644); err != nil {
		t.Fatalf("Failed to create test file: %v", err)
	}

	size, err := getDirSize(tmpDir)
	if err != nil {
		t.Fatalf("getDirSize failed: %v", err)
	}
	if size != int64(2*len(content)) {
		t.Errorf("Expected size %d, got %d", 2*len(content), size)
	}

	if _, err := getDirSize(filepath.Join(tmpDir, "missing")); err == nil {
		t.Error("Expected error for missing directory")
	}
}

func TestFormatBytes(t *testing.T) {
	tests := []struct {
		bytes    int64
		expected string
	}{
		{0, "0 B"},
		{1023, "1023 B"},
		{1536, "1.5 KB"},
		{1048576, "1.0 MB"},
		{1073741824, "1.0 GB"},
	}

	for _, tt := range tests {
		if result := formatBytes(tt.bytes); result != tt.expected {
			t.Errorf("formatBytes(%d) = %s, expected %s", tt.bytes, result, tt.expected)
		}
	}
}

func TestPrintCheckpoint(t *testing.T) {
	c := store.NewCheckpoint("job-42", []float64{2, 1}, 0.001, 83, 3, opt.StatusConverged, lineProblem())

	var buf bytes.Buffer
	if err := printCheckpoint(&buf, c); err != nil {
		t.Fatalf("printCheckpoint failed: %v", err)
	}

	out := buf.String()
	for _, want := range []string{"Job: job-42", "Model: linear (p0*x + p1)", "Solver: newton, 3 samples", "(converged)", "slope", "intercept"} {
		if !strings.Contains(out, want) {
			t.Errorf("Output missing %q:\n%s", want, out)
		}
	}

	c.Problem.Model = "spline"
	if err := printCheckpoint(&buf, c); err == nil {
		t.Error("Expected error for unknown model")
	}
}

func withDataDir(t *testing.T, dir string) {
	t.Helper()
	original := checkpointDataDir
	checkpointDataDir = dir
	t.Cleanup(func() { checkpointDataDir = original })
}

func TestCheckpointsListCommand(t *testing.T) {
	tmpDir := t.TempDir()
	withDataDir(t, tmpDir)

	if err := runListCheckpoints(nil, nil); err != nil {
		t.Errorf("Expected no error on empty store, got %v", err)
	}

	st, err := store.NewFSStore(tmpDir)
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	c := store.NewCheckpoint("test-job-id", []float64{2, 1}, 0.5, 1.0, 10, opt.StatusConverged, lineProblem())
	if err := st.SaveCheckpoint("test-job-id", c); err != nil {
		t.Fatalf("Failed to save checkpoint: %v", err)
	}

	if err := runListCheckpoints(nil, nil); err != nil {
		t.Errorf("Expected no error, got %v", err)
	}
	if err := runShowCheckpoint(nil, []string{"test-job-id"}); err != nil {
		t.Errorf("Expected no error, got %v", err)
	}
	if err := runShowCheckpoint(nil, []string{"missing"}); err == nil {
		t.Error("Expected error for missing checkpoint")
	}
}

func TestCheckpointsCleanCommand_NoFlags(t *testing.T) {
	withDataDir(t, t.TempDir())
	keepLast, olderThanDays = 0, 0

	if err := runCleanCheckpoints(nil, nil); err == nil {
		t.Error("Expected error when no flags specified")
	}
}

func TestCheckpointsCleanCommand_WithForce(t *testing.T) {
	tmpDir := t.TempDir()
	withDataDir(t, tmpDir)

	st, err := store.NewFSStore(tmpDir)
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}

	old := store.NewCheckpoint("old-job", []float64{2, 1}, 0.5, 1.0, 10, opt.StatusMaxIterations, lineProblem())
	old.Timestamp = time.Now().AddDate(0, 0, -30)
	fresh := store.NewCheckpoint("fresh-job", []float64{2, 1}, 0.5, 1.0, 10, opt.StatusConverged, lineProblem())
	for _, c := range []*store.Checkpoint{old, fresh} {
		if err := st.SaveCheckpoint(c.JobID, c); err != nil {
			t.Fatalf("Failed to save checkpoint: %v", err)
		}
	}

	keepLast, olderThanDays, forceClean = 0, 7, true
	t.Cleanup(func() { keepLast, olderThanDays, forceClean = 0, 0, false })

	if err := runCleanCheckpoints(nil, nil); err != nil {
		t.Errorf("Expected no error, got %v", err)
	}

	if _, err := st.LoadCheckpoint("old-job"); err == nil {
		t.Error("Expected old checkpoint to be deleted")
	}
	if _, err := st.LoadCheckpoint("fresh-job"); err != nil {
		t.Errorf("Fresh checkpoint should survive: %v", err)
	}
}
