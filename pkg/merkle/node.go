// Package merkle is an implementation of a Merkel DAG
package merkle

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/papercomputeco/loom/pkg/chat"
)

// Node represents a single content-addressed node in a Merkle DAG
type Node struct {
	// Hash is the content-addressed identifier (SHA-256, hex-encoded)
	Hash string `json:"hash"`

	// ParentHash links to the previous node hash.
	// This will be nil for root nodes.
	ParentHash *string `json:"parent_hash"`

	// Content is the hashable content for the node
	Content any `json:"content"`
}

// input is the canonical shape hashed for a node.
type input struct {
	Parent  string `json:"parent,omitempty"`
	Content any    `json:"content"`
}

// Bucket is the typed payload stored in conversation nodes.
type Bucket struct {
	Type      string              `json:"type"` // "message"
	Role      string              `json:"role"`
	Content   []chat.ContentBlock `json:"content"`
	Model     string              `json:"model,omitempty"`
	Provider  string              `json:"provider,omitempty"`
	MessageID string              `json:"message_id,omitempty"`
	CreatedAt time.Time           `json:"created_at,omitzero"`
}

// BucketFor builds the node payload for a chat message.
func BucketFor(m chat.Message) Bucket {
	return Bucket{
		Type:      "message",
		Role:      m.Role,
		Content:   m.Content,
		Model:     m.Model,
		MessageID: m.ID,
		CreatedAt: m.CreatedAt,
	}
}

// Message converts a bucket back into a chat message.
func (b Bucket) Message() chat.Message {
	return chat.Message{
		ID:        b.MessageID,
		Role:      b.Role,
		Content:   b.Content,
		Model:     b.Model,
		CreatedAt: b.CreatedAt,
	}
}

// DecodeBucket extracts a Bucket from a node's content, which may be
// a Bucket value or a generic map when the node was loaded from
// storage.
func DecodeBucket(content any) (*Bucket, error) {
	if b, ok := content.(Bucket); ok {
		return &b, nil
	}

	data, err := json.Marshal(content)
	if err != nil {
		return nil, fmt.Errorf("marshal node content: %w", err)
	}

	var b Bucket
	if err := json.Unmarshal(data, &b); err != nil {
		return nil, fmt.Errorf("unmarshal node content: %w", err)
	}
	return &b, nil
}

// NewNode creates a new node with the computed hash for the provided content
func NewNode(content any, parent *Node) *Node {
	n := &Node{
		Content: content,
	}

	if parent != nil {
		n.ParentHash = &parent.Hash
	}

	n.Hash = n.computeHash()
	return n
}

// Chain builds linked nodes for a sequence of contents, the first
// hanging off parent (nil for a new root).
func Chain(parent *Node, contents ...any) []*Node {
	nodes := make([]*Node, 0, len(contents))
	for _, c := range contents {
		n := NewNode(c, parent)
		nodes = append(nodes, n)
		parent = n
	}
	return nodes
}

// ComputeHash calculates the content-addressed hash for a node
func (n *Node) computeHash() string {
	i := &input{
		Content: n.Content,
	}

	if n.ParentHash != nil {
		i.Parent = *n.ParentHash
	}

	// Canonical JSON encoding for deterministic hashing
	data, err := json.Marshal(i)
	if err != nil {
		panic("failed to marshal hash input: " + err.Error())
	}

	h := sha256.Sum256(data)
	computed := hex.EncodeToString(h[:])
	return computed
}
