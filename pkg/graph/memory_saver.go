package graph

import (
	"context"
	"sync"
)

// MemorySaver keeps checkpoints in memory. Safe for concurrent use.
type MemorySaver struct {
	mu      sync.RWMutex
	threads map[string][]*Checkpoint
}

// NewMemorySaver creates an empty in-memory saver.
func NewMemorySaver() *MemorySaver {
	return &MemorySaver{
		threads: make(map[string][]*Checkpoint),
	}
}

// Put stores a checkpoint, replacing any existing one for the same
// (thread, step).
func (m *MemorySaver) Put(_ context.Context, cp *Checkpoint) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored := *cp
	stored.State = cp.State.Clone()

	cps := m.threads[cp.ThreadID]
	for i, existing := range cps {
		if existing.Step == cp.Step {
			cps[i] = &stored
			return nil
		}
	}
	m.threads[cp.ThreadID] = append(cps, &stored)
	return nil
}

// Latest returns the highest-step checkpoint for a thread.
func (m *MemorySaver) Latest(_ context.Context, threadID string) (*Checkpoint, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	cps := m.threads[threadID]
	if len(cps) == 0 {
		return nil, ErrNoCheckpoint
	}

	latest := cps[0]
	for _, cp := range cps[1:] {
		if cp.Step > latest.Step {
			latest = cp
		}
	}

	out := *latest
	out.State = latest.State.Clone()
	return &out, nil
}

// History returns all checkpoints for a thread, oldest first.
func (m *MemorySaver) History(_ context.Context, threadID string) ([]*Checkpoint, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	cps := m.threads[threadID]
	out := make([]*Checkpoint, len(cps))
	copy(out, cps)

	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j-1].Step > out[j].Step; j-- {
			out[j-1], out[j] = out[j], out[j-1]
		}
	}
	return out, nil
}
