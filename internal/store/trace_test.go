package store

import (
	"errors"
	"io"
	"sync"
	"testing"

	"github.com/cwbudde/lsqfit/internal/opt"
)

func TestTraceWriteAndRead(t *testing.T) {
	dir := t.TempDir()

	tw, err := NewTraceWriter(dir, "job", false)
	if err != nil {
		t.Fatalf("NewTraceWriter failed: %v", err)
	}
	steps := []opt.Step{
		{Iteration: 0, Cost: 4, Lambda: 0.01, Accepted: false, Params: []float64{1, 2}},
		{Iteration: 0, Cost: 2, Lambda: 0.001, Accepted: true, Params: []float64{1.5, 2}},
		{Iteration: 1, Cost: 1, Lambda: 0.0001, Accepted: true, Params: []float64{1.9, 2}},
	}
	for i, s := range steps {
		if err := tw.Write(NewTraceEntry(s, i == 2)); err != nil {
			t.Fatalf("Write failed: %v", err)
		}
	}
	if err := tw.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	entries, err := ReadTrace(dir, "job")
	if err != nil {
		t.Fatalf("ReadTrace failed: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("Expected 3 entries, got %d", len(entries))
	}
	if entries[0].Accepted || !entries[1].Accepted {
		t.Errorf("Accepted flags not preserved: %+v", entries)
	}
	if entries[1].Lambda != 0.001 {
		t.Errorf("Lambda = %g, want 0.001", entries[1].Lambda)
	}
	if entries[0].Params != nil {
		t.Errorf("Params should be omitted unless requested, got %v", entries[0].Params)
	}
	if len(entries[2].Params) != 2 || entries[2].Params[0] != 1.9 {
		t.Errorf("Params not preserved: %v", entries[2].Params)
	}
	if entries[2].Timestamp.IsZero() {
		t.Error("Timestamp should be set")
	}
}

func TestTraceAppendMode(t *testing.T) {
	dir := t.TempDir()

	for round := 0; round < 2; round++ {
		tw, err := NewTraceWriter(dir, "job", round > 0)
		if err != nil {
			t.Fatal(err)
		}
		tw.Write(TraceEntry{Iteration: round})
		tw.Close()
	}

	entries, err := ReadTrace(dir, "job")
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 2 {
		t.Fatalf("Expected appended trace of 2 entries, got %d", len(entries))
	}

	// Truncating mode starts over.
	tw, _ := NewTraceWriter(dir, "job", false)
	tw.Write(TraceEntry{Iteration: 9})
	tw.Close()
	entries, _ = ReadTrace(dir, "job")
	if len(entries) != 1 || entries[0].Iteration != 9 {
		t.Errorf("Expected single entry after truncation, got %+v", entries)
	}
}

func TestTraceConcurrentWrites(t *testing.T) {
	dir := t.TempDir()
	tw, err := NewTraceWriter(dir, "job", false)
	if err != nil {
		t.Fatal(err)
	}

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				tw.Write(TraceEntry{Iteration: g*100 + i, Cost: float64(i)})
			}
		}(g)
	}
	wg.Wait()
	if err := tw.Flush(); err != nil {
		t.Fatalf("Flush failed: %v", err)
	}
	tw.Close()

	entries, err := ReadTrace(dir, "job")
	if err != nil {
		t.Fatalf("ReadTrace failed: %v", err)
	}
	if len(entries) != 400 {
		t.Errorf("Expected 400 entries, got %d", len(entries))
	}
}

func TestTraceReaderStreaming(t *testing.T) {
	dir := t.TempDir()
	tw, _ := NewTraceWriter(dir, "job", false)
	tw.Write(TraceEntry{Iteration: 1})
	tw.Close()

	r, err := NewTraceReader(dir, "job")
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()

	if e, err := r.Read(); err != nil || e.Iteration != 1 {
		t.Fatalf("Read = %+v, %v", e, err)
	}
	if _, err := r.Read(); !errors.Is(err, io.EOF) {
		t.Errorf("Expected io.EOF, got %v", err)
	}
}

func TestTraceMissingAndDelete(t *testing.T) {
	dir := t.TempDir()

	if _, err := ReadTrace(dir, "nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
	if err := DeleteTrace(dir, "nope"); err != nil {
		t.Errorf("Deleting a missing trace should succeed, got %v", err)
	}

	tw, _ := NewTraceWriter(dir, "job", false)
	tw.Close()
	if err := DeleteTrace(dir, "job"); err != nil {
		t.Fatalf("DeleteTrace failed: %v", err)
	}
	if _, err := ReadTrace(dir, "job"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Trace should be gone, got %v", err)
	}
}
