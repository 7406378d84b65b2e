package history

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryHeadStore keeps thread heads in memory. Safe for concurrent use.
type MemoryHeadStore struct {
	mu      sync.RWMutex
	threads map[string]*Thread
}

// NewMemoryHeadStore creates an empty in-memory head store.
func NewMemoryHeadStore() *MemoryHeadStore {
	return &MemoryHeadStore{
		threads: make(map[string]*Thread),
	}
}

// SetHead upserts a thread head.
func (m *MemoryHeadStore) SetHead(_ context.Context, threadID, topic, headHash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	existing, ok := m.threads[threadID]
	if ok && topic == "" {
		topic = existing.Topic
	}

	m.threads[threadID] = &Thread{
		ID:        threadID,
		Topic:     topic,
		HeadHash:  headHash,
		UpdatedAt: time.Now().UTC(),
	}
	return nil
}

// GetThread returns a thread or ErrThreadNotFound.
func (m *MemoryHeadStore) GetThread(_ context.Context, threadID string) (*Thread, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	thread, ok := m.threads[threadID]
	if !ok {
		return nil, ErrThreadNotFound
	}

	out := *thread
	return &out, nil
}

// ListThreads returns all threads, most recently updated first.
func (m *MemoryHeadStore) ListThreads(_ context.Context) ([]*Thread, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*Thread, 0, len(m.threads))
	for _, thread := range m.threads {
		t := *thread
		out = append(out, &t)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})
	return out, nil
}
