// Package store persists fit checkpoints and iteration traces on disk.
package store

// Store persists checkpoints. Implementations must be safe for concurrent use.
//
// Load and Delete return an error matching ErrNotFound for unknown jobs; all
// other failures are wrapped with context.
type Store interface {
	// SaveCheckpoint writes the checkpoint for jobID, replacing any earlier
	// one. A reader never observes a partially written checkpoint.
	SaveCheckpoint(jobID string, checkpoint *Checkpoint) error

	// LoadCheckpoint returns the checkpoint for jobID.
	LoadCheckpoint(jobID string) (*Checkpoint, error)

	// ListCheckpoints returns the metadata of every readable checkpoint.
	ListCheckpoints() ([]CheckpointInfo, error)

	// DeleteCheckpoint removes the checkpoint together with the job's trace
	// and chart.
	DeleteCheckpoint(jobID string) error
}

// ErrNotFound matches every NotFoundError through errors.Is.
var ErrNotFound = &NotFoundError{}

// NotFoundError reports a job without stored data.
type NotFoundError struct {
	JobID string
}

func (e *NotFoundError) Error() string {
	if e.JobID != "" {
		return "checkpoint not found: " + e.JobID
	}
	return "checkpoint not found"
}

func (e *NotFoundError) Is(target error) bool {
	_, ok := target.(*NotFoundError)
	return ok
}
