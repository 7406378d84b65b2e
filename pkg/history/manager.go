// Package history is the conversation manager: it mediates between
// callers and the content-addressed message store, keeps per-thread
// head pointers, and optionally serves reads from a cache.
package history

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/papercomputeco/loom/pkg/chat"
	"github.com/papercomputeco/loom/pkg/merkle"
)

// ErrThreadNotFound is returned for unknown thread IDs.
var ErrThreadNotFound = errors.New("history: thread not found")

// Thread is a named conversation with a head pointer into the DAG.
type Thread struct {
	ID        string    `json:"id"`
	Topic     string    `json:"topic,omitempty"`
	HeadHash  string    `json:"head_hash,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// HeadStore persists thread head pointers.
type HeadStore interface {
	// SetHead upserts a thread. An empty topic keeps the stored one.
	SetHead(ctx context.Context, threadID, topic, headHash string) error

	// GetThread returns a thread or ErrThreadNotFound.
	GetThread(ctx context.Context, threadID string) (*Thread, error)

	// ListThreads returns all threads, most recently updated first.
	ListThreads(ctx context.Context) ([]*Thread, error)
}

// Manager combines the head store, the DAG storer and an optional
// read cache into one conversation surface.
type Manager struct {
	storer merkle.Storer
	heads  HeadStore
	cache  *Cache
	logger *zap.Logger
}

// Option configures a Manager.
type Option func(*Manager)

// WithCache serves history reads through the cache.
func WithCache(c *Cache) Option {
	return func(m *Manager) { m.cache = c }
}

// WithLogger attaches a logger.
func WithLogger(logger *zap.Logger) Option {
	return func(m *Manager) { m.logger = logger }
}

// NewManager creates a conversation manager.
func NewManager(storer merkle.Storer, heads HeadStore, opts ...Option) *Manager {
	m := &Manager{
		storer: storer,
		heads:  heads,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// CreateThread registers a new empty thread.
func (m *Manager) CreateThread(ctx context.Context, topic string) (*Thread, error) {
	id := uuid.NewString()
	if err := m.heads.SetHead(ctx, id, topic, ""); err != nil {
		return nil, fmt.Errorf("create thread: %w", err)
	}

	m.logger.Debug("created thread", zap.String("thread", id), zap.String("topic", topic))
	return &Thread{ID: id, Topic: topic, UpdatedAt: time.Now().UTC()}, nil
}

// Append chains messages onto the thread head and advances it.
// Returns the new head hash. Content-addressing dedupes replayed
// prefixes automatically.
func (m *Manager) Append(ctx context.Context, threadID string, msgs ...chat.Message) (string, error) {
	if len(msgs) == 0 {
		return "", fmt.Errorf("append: no messages")
	}

	thread, err := m.heads.GetThread(ctx, threadID)
	if err != nil {
		return "", err
	}

	var parent *merkle.Node
	if thread.HeadHash != "" {
		parent, err = m.storer.Get(ctx, thread.HeadHash)
		if err != nil {
			return "", fmt.Errorf("load head %s: %w", thread.HeadHash, err)
		}
	}

	contents := make([]any, len(msgs))
	for i, msg := range msgs {
		contents[i] = merkle.BucketFor(msg)
	}

	nodes := merkle.Chain(parent, contents...)
	for _, node := range nodes {
		if _, err := m.storer.Put(ctx, node); err != nil {
			return "", fmt.Errorf("storing message node: %w", err)
		}
	}

	head := nodes[len(nodes)-1].Hash
	if err := m.heads.SetHead(ctx, threadID, thread.Topic, head); err != nil {
		return "", fmt.Errorf("advance head: %w", err)
	}

	if m.cache != nil {
		if err := m.cache.Invalidate(ctx, threadID); err != nil {
			m.logger.Warn("cache invalidate failed", zap.String("thread", threadID), zap.Error(err))
		}
	}

	m.logger.Debug("appended messages",
		zap.String("thread", threadID),
		zap.Int("count", len(msgs)),
		zap.String("head", head),
	)
	return head, nil
}

// History returns the thread's messages in chronological order.
// Cache misses and cache failures fall back to the store.
func (m *Manager) History(ctx context.Context, threadID string) ([]chat.Message, error) {
	if m.cache != nil {
		msgs, err := m.cache.GetHistory(ctx, threadID)
		if err == nil {
			return msgs, nil
		}
		if !errors.Is(err, ErrCacheMiss) {
			m.logger.Warn("cache read failed", zap.String("thread", threadID), zap.Error(err))
		}
	}

	thread, err := m.heads.GetThread(ctx, threadID)
	if err != nil {
		return nil, err
	}
	if thread.HeadHash == "" {
		return []chat.Message{}, nil
	}

	ancestry, err := m.storer.Ancestry(ctx, thread.HeadHash)
	if err != nil {
		return nil, fmt.Errorf("walk thread %s: %w", threadID, err)
	}

	// Ancestry is newest first; reverse to chronological order.
	msgs := make([]chat.Message, len(ancestry))
	for i, node := range ancestry {
		bucket, err := merkle.DecodeBucket(node.Content)
		if err != nil {
			return nil, fmt.Errorf("decode node %s: %w", node.Hash, err)
		}
		msgs[len(ancestry)-1-i] = bucket.Message()
	}

	if m.cache != nil {
		if err := m.cache.SetHistory(ctx, threadID, msgs); err != nil {
			m.logger.Warn("cache fill failed", zap.String("thread", threadID), zap.Error(err))
		}
	}

	return msgs, nil
}

// Threads lists all threads, most recently updated first.
func (m *Manager) Threads(ctx context.Context) ([]*Thread, error) {
	return m.heads.ListThreads(ctx)
}

// AdoptHead applies a thread head pushed from a peer. The head node
// must already be in the store. It replaces the local head only when
// its chain is strictly deeper, so concurrent pushes converge on the
// longest history. Returns whether the head was adopted.
func (m *Manager) AdoptHead(ctx context.Context, incoming Thread) (bool, error) {
	if incoming.ID == "" || incoming.HeadHash == "" {
		return false, fmt.Errorf("adopt head: thread id and head hash are required")
	}

	ok, err := m.storer.Has(ctx, incoming.HeadHash)
	if err != nil {
		return false, fmt.Errorf("check head %s: %w", incoming.HeadHash, err)
	}
	if !ok {
		return false, fmt.Errorf("adopt head: node %s not in store", incoming.HeadHash)
	}

	current, err := m.heads.GetThread(ctx, incoming.ID)
	if err != nil && !errors.Is(err, ErrThreadNotFound) {
		return false, err
	}

	if current != nil && current.HeadHash != "" {
		if current.HeadHash == incoming.HeadHash {
			return false, nil
		}

		curDepth, err := m.storer.Depth(ctx, current.HeadHash)
		if err != nil {
			return false, fmt.Errorf("depth of %s: %w", current.HeadHash, err)
		}
		incDepth, err := m.storer.Depth(ctx, incoming.HeadHash)
		if err != nil {
			return false, fmt.Errorf("depth of %s: %w", incoming.HeadHash, err)
		}
		if incDepth <= curDepth {
			return false, nil
		}
	}

	if err := m.heads.SetHead(ctx, incoming.ID, incoming.Topic, incoming.HeadHash); err != nil {
		return false, fmt.Errorf("adopt head: %w", err)
	}

	if m.cache != nil {
		if err := m.cache.Invalidate(ctx, incoming.ID); err != nil {
			m.logger.Warn("cache invalidate failed", zap.String("thread", incoming.ID), zap.Error(err))
		}
	}

	m.logger.Debug("adopted head",
		zap.String("thread", incoming.ID),
		zap.String("head", incoming.HeadHash),
	)
	return true, nil
}

// Head returns the thread's current head hash.
func (m *Manager) Head(ctx context.Context, threadID string) (string, error) {
	thread, err := m.heads.GetThread(ctx, threadID)
	if err != nil {
		return "", err
	}
	return thread.HeadHash, nil
}
