// Package checkpoint stores per-node snapshots of workflow runs so a run
// can be replayed from where it stopped.
package checkpoint

import (
	"context"
	"errors"
	"time"
)

// Store persists checkpoints. History is append-only: every Save adds a
// new entry and Latest returns the one with the highest sequence.
// Implementations must be safe for concurrent use.
type Store interface {
	Save(ctx context.Context, cp *Checkpoint) error

	// Latest returns the newest checkpoint of a run, or ErrNotFound.
	Latest(ctx context.Context, runID string) (*Checkpoint, error)

	// List returns metadata for a run ordered by sequence. A run without
	// checkpoints yields an empty slice.
	List(ctx context.Context, runID string) ([]Info, error)

	// DeleteRun removes every checkpoint of a run.
	DeleteRun(ctx context.Context, runID string) error

	Close() error
}

// Info describes a checkpoint without its state.
type Info struct {
	RunID     string
	NodeID    string
	Sequence  int
	Timestamp time.Time
	Size      int64
}

var (
	ErrNotFound    = errors.New("checkpoint not found")
	ErrStoreClosed = errors.New("checkpoint store closed")
)
