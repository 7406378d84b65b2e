package graph

import (
	"context"
	"errors"
	"time"
)

// Checkpoint captures the state of a thread after a step.
type Checkpoint struct {
	ThreadID  string     `json:"thread_id"`
	Step      int        `json:"step"`
	NextNode  string     `json:"next_node,omitempty"`
	State     State      `json:"state"`
	Interrupt *Interrupt `json:"interrupt,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}

// ErrNoCheckpoint is returned when a thread has no checkpoints.
var ErrNoCheckpoint = errors.New("graph: no checkpoint for thread")

// Saver persists checkpoints per thread.
type Saver interface {
	// Put stores a checkpoint. Storing the same (thread, step) twice
	// replaces the earlier checkpoint.
	Put(ctx context.Context, cp *Checkpoint) error

	// Latest returns the highest-step checkpoint for a thread, or
	// ErrNoCheckpoint.
	Latest(ctx context.Context, threadID string) (*Checkpoint, error)

	// History returns all checkpoints for a thread, oldest first.
	History(ctx context.Context, threadID string) ([]*Checkpoint, error)
}
