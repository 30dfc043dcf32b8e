package store

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/cwbudde/lsqfit/internal/opt"
)

// TraceEntry is one observed solver step, stored as a JSON line.
type TraceEntry struct {
	Iteration int       `json:"iteration"`
	Cost      float64   `json:"cost"`
	Lambda    float64   `json:"lambda,omitempty"`
	Accepted  bool      `json:"accepted"`
	Timestamp time.Time `json:"timestamp"`
	Params    []float64 `json:"params,omitempty"`
}

// NewTraceEntry converts a solver step. Params are kept only when withParams
// is set.
func NewTraceEntry(step opt.Step, withParams bool) TraceEntry {
	e := TraceEntry{
		Iteration: step.Iteration,
		Cost:      step.Cost,
		Lambda:    step.Lambda,
		Accepted:  step.Accepted,
		Timestamp: time.Now(),
	}
	if withParams {
		e.Params = append([]float64(nil), step.Params...)
	}
	return e
}

// TraceWriter appends entries to <baseDir>/jobs/<jobID>/trace.jsonl through
// a buffer. It is safe for concurrent use.
type TraceWriter struct {
	mu     sync.Mutex
	file   *os.File
	writer *bufio.Writer
	enc    *json.Encoder
	path   string
}

// NewTraceWriter opens the job's trace file, truncating it unless appendMode
// is set.
func NewTraceWriter(baseDir, jobID string, appendMode bool) (*TraceWriter, error) {
	dir := filepath.Join(baseDir, "jobs", jobID)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create job directory: %w", err)
	}

	path := filepath.Join(dir, traceFile)
	flags := os.O_CREATE | os.O_WRONLY | os.O_TRUNC
	if appendMode {
		flags = os.O_CREATE | os.O_WRONLY | os.O_APPEND
	}
	file, err := os.OpenFile(path, flags, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open trace file: %w", err)
	}

	w := bufio.NewWriterSize(file, 64*1024)
	return &TraceWriter{file: file, writer: w, enc: json.NewEncoder(w), path: path}, nil
}

// Write buffers one entry; the encoder terminates it with a newline.
func (tw *TraceWriter) Write(entry TraceEntry) error {
	tw.mu.Lock()
	defer tw.mu.Unlock()

	if err := tw.enc.Encode(entry); err != nil {
		return fmt.Errorf("failed to write trace entry: %w", err)
	}
	return nil
}

// Flush pushes buffered entries to disk.
func (tw *TraceWriter) Flush() error {
	tw.mu.Lock()
	defer tw.mu.Unlock()

	if err := tw.writer.Flush(); err != nil {
		return fmt.Errorf("failed to flush trace writer: %w", err)
	}
	if err := tw.file.Sync(); err != nil {
		return fmt.Errorf("failed to sync trace file: %w", err)
	}
	return nil
}

// Close flushes and closes the file.
func (tw *TraceWriter) Close() error {
	tw.mu.Lock()
	defer tw.mu.Unlock()

	flushErr := tw.writer.Flush()
	closeErr := tw.file.Close()
	if flushErr != nil {
		return fmt.Errorf("failed to flush on close: %w", flushErr)
	}
	if closeErr != nil {
		return fmt.Errorf("failed to close trace file: %w", closeErr)
	}
	return nil
}

// Path returns the trace file location.
func (tw *TraceWriter) Path() string {
	return tw.path
}

// TraceReader streams entries back from a trace file.
type TraceReader struct {
	file    *os.File
	scanner *bufio.Scanner
}

// NewTraceReader opens the job's trace file.
func NewTraceReader(baseDir, jobID string) (*TraceReader, error) {
	file, err := os.Open(filepath.Join(baseDir, "jobs", jobID, traceFile))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, &NotFoundError{JobID: jobID}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open trace file: %w", err)
	}

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	return &TraceReader{file: file, scanner: scanner}, nil
}

// Read returns the next entry, or io.EOF.
func (tr *TraceReader) Read() (*TraceEntry, error) {
	if !tr.scanner.Scan() {
		if err := tr.scanner.Err(); err != nil {
			return nil, fmt.Errorf("failed to scan trace line: %w", err)
		}
		return nil, io.EOF
	}

	var entry TraceEntry
	if err := json.Unmarshal(tr.scanner.Bytes(), &entry); err != nil {
		return nil, fmt.Errorf("failed to unmarshal trace entry: %w", err)
	}
	return &entry, nil
}

// ReadAll reads the remaining entries.
func (tr *TraceReader) ReadAll() ([]TraceEntry, error) {
	entries := []TraceEntry{}
	for {
		entry, err := tr.Read()
		if errors.Is(err, io.EOF) {
			return entries, nil
		}
		if err != nil {
			return nil, err
		}
		entries = append(entries, *entry)
	}
}

// Close closes the underlying file.
func (tr *TraceReader) Close() error {
	if err := tr.file.Close(); err != nil {
		return fmt.Errorf("failed to close trace file: %w", err)
	}
	return nil
}

// ReadTrace loads a whole trace file.
func ReadTrace(baseDir, jobID string) ([]TraceEntry, error) {
	r, err := NewTraceReader(baseDir, jobID)
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return r.ReadAll()
}

// DeleteTrace removes a trace file; a missing file is not an error.
func DeleteTrace(baseDir, jobID string) error {
	err := os.Remove(filepath.Join(baseDir, "jobs", jobID, traceFile))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to delete trace file: %w", err)
	}
	return nil
}
