package merkle

import (
	"context"
	"fmt"
	"sync"
)

// MemoryStorer keeps the DAG in memory. Safe for concurrent use.
type MemoryStorer struct {
	mu    sync.RWMutex
	nodes map[string]*Node
	// order preserves insertion order for List
	order []string
}

// NewMemoryStorer creates an empty in-memory storer.
func NewMemoryStorer() *MemoryStorer {
	return &MemoryStorer{
		nodes: make(map[string]*Node),
	}
}

// Put stores a node and reports whether it was new.
func (m *MemoryStorer) Put(_ context.Context, node *Node) (bool, error) {
	if node == nil {
		return false, fmt.Errorf("cannot store nil node")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.nodes[node.Hash]; exists {
		return false, nil
	}

	stored := *node
	m.nodes[node.Hash] = &stored
	m.order = append(m.order, node.Hash)
	return true, nil
}

// Get retrieves a node by hash.
func (m *MemoryStorer) Get(_ context.Context, hash string) (*Node, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	node, ok := m.nodes[hash]
	if !ok {
		return nil, ErrNotFound{Hash: hash}
	}

	out := *node
	return &out, nil
}

// Has checks if a node exists.
func (m *MemoryStorer) Has(_ context.Context, hash string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	_, ok := m.nodes[hash]
	return ok, nil
}

// GetByParent returns all children of the given parent, or roots when
// parentHash is nil.
func (m *MemoryStorer) GetByParent(_ context.Context, parentHash *string) ([]*Node, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := []*Node{}
	for _, hash := range m.order {
		node := m.nodes[hash]
		if matchesParent(node, parentHash) {
			n := *node
			out = append(out, &n)
		}
	}
	return out, nil
}

// List returns all nodes in insertion order.
func (m *MemoryStorer) List(_ context.Context) ([]*Node, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*Node, 0, len(m.order))
	for _, hash := range m.order {
		n := *m.nodes[hash]
		out = append(out, &n)
	}
	return out, nil
}

// Roots returns all nodes with no parent.
func (m *MemoryStorer) Roots(ctx context.Context) ([]*Node, error) {
	return m.GetByParent(ctx, nil)
}

// Leaves returns all nodes with no children.
func (m *MemoryStorer) Leaves(_ context.Context) ([]*Node, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	hasChild := make(map[string]bool)
	for _, node := range m.nodes {
		if node.ParentHash != nil {
			hasChild[*node.ParentHash] = true
		}
	}

	out := []*Node{}
	for _, hash := range m.order {
		if !hasChild[hash] {
			n := *m.nodes[hash]
			out = append(out, &n)
		}
	}
	return out, nil
}

// Ancestry returns the path from a node back to its root.
func (m *MemoryStorer) Ancestry(_ context.Context, hash string) ([]*Node, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := []*Node{}
	current := hash
	for {
		node, ok := m.nodes[current]
		if !ok {
			if len(out) == 0 {
				return nil, ErrNotFound{Hash: current}
			}
			return nil, fmt.Errorf("broken chain at %s: %w", current, ErrNotFound{Hash: current})
		}

		n := *node
		out = append(out, &n)

		if node.ParentHash == nil {
			return out, nil
		}
		current = *node.ParentHash
	}
}

// Descendants returns the path from root to the node.
func (m *MemoryStorer) Descendants(ctx context.Context, hash string) ([]*Node, error) {
	ancestry, err := m.Ancestry(ctx, hash)
	if err != nil {
		return nil, err
	}

	for i, j := 0, len(ancestry)-1; i < j; i, j = i+1, j-1 {
		ancestry[i], ancestry[j] = ancestry[j], ancestry[i]
	}
	return ancestry, nil
}

// Depth returns the depth of a node (0 for roots).
func (m *MemoryStorer) Depth(ctx context.Context, hash string) (int, error) {
	ancestry, err := m.Ancestry(ctx, hash)
	if err != nil {
		return 0, err
	}
	return len(ancestry) - 1, nil
}

// Close is a no-op for the in-memory storer.
func (m *MemoryStorer) Close() error {
	return nil
}

func matchesParent(node *Node, parentHash *string) bool {
	if parentHash == nil {
		return node.ParentHash == nil
	}
	return node.ParentHash != nil && *node.ParentHash == *parentHash
}
