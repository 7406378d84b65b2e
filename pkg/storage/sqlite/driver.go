// Package sqlite is the SQLite storage driver. One database holds the
// conversation DAG, thread head pointers and graph checkpoints.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/papercomputeco/loom/pkg/graph"
	"github.com/papercomputeco/loom/pkg/history"
	"github.com/papercomputeco/loom/pkg/merkle"
)

const schema = `
CREATE TABLE IF NOT EXISTS nodes (
	hash        TEXT PRIMARY KEY,
	parent_hash TEXT,
	content     TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_nodes_parent ON nodes(parent_hash);

CREATE TABLE IF NOT EXISTS threads (
	id         TEXT PRIMARY KEY,
	topic      TEXT NOT NULL DEFAULT '',
	head_hash  TEXT NOT NULL DEFAULT '',
	updated_at TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS checkpoints (
	thread_id  TEXT NOT NULL,
	step       INTEGER NOT NULL,
	next_node  TEXT NOT NULL DEFAULT '',
	state      TEXT NOT NULL,
	interrupt  TEXT,
	created_at TIMESTAMP NOT NULL,
	PRIMARY KEY (thread_id, step)
);
`

// Driver is a SQLite-backed store. It implements merkle.Storer,
// history.HeadStore and graph.Saver.
type Driver struct {
	db *sql.DB
}

// NewDriver opens (and if needed initializes) a database at path.
// Use ":memory:" for an in-memory database.
func NewDriver(ctx context.Context, path string) (*Driver, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open database %s: %w", path, err)
	}

	// SQLite handles one writer at a time
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	return &Driver{db: db}, nil
}

// Close closes the underlying database.
func (d *Driver) Close() error {
	return d.db.Close()
}

// --- merkle.Storer ---

// Put stores a node and reports whether it was new.
func (d *Driver) Put(ctx context.Context, node *merkle.Node) (bool, error) {
	if node == nil {
		return false, fmt.Errorf("cannot store nil node")
	}

	content, err := json.Marshal(node.Content)
	if err != nil {
		return false, fmt.Errorf("marshal content: %w", err)
	}

	res, err := d.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO nodes (hash, parent_hash, content) VALUES (?, ?, ?)`,
		node.Hash, node.ParentHash, string(content),
	)
	if err != nil {
		return false, fmt.Errorf("insert node: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

// Get retrieves a node by hash.
func (d *Driver) Get(ctx context.Context, hash string) (*merkle.Node, error) {
	row := d.db.QueryRowContext(ctx,
		`SELECT hash, parent_hash, content FROM nodes WHERE hash = ?`, hash)

	node, err := scanNode(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, merkle.ErrNotFound{Hash: hash}
	}
	return node, err
}

// Has checks if a node exists.
func (d *Driver) Has(ctx context.Context, hash string) (bool, error) {
	var one int
	err := d.db.QueryRowContext(ctx,
		`SELECT 1 FROM nodes WHERE hash = ?`, hash).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// GetByParent returns children of the given parent, or roots for nil.
func (d *Driver) GetByParent(ctx context.Context, parentHash *string) ([]*merkle.Node, error) {
	var rows *sql.Rows
	var err error

	if parentHash == nil {
		rows, err = d.db.QueryContext(ctx,
			`SELECT hash, parent_hash, content FROM nodes WHERE parent_hash IS NULL`)
	} else {
		rows, err = d.db.QueryContext(ctx,
			`SELECT hash, parent_hash, content FROM nodes WHERE parent_hash = ?`, *parentHash)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanNodes(rows)
}

// List returns all nodes.
func (d *Driver) List(ctx context.Context) ([]*merkle.Node, error) {
	rows, err := d.db.QueryContext(ctx,
		`SELECT hash, parent_hash, content FROM nodes`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanNodes(rows)
}

// Roots returns all nodes with no parent.
func (d *Driver) Roots(ctx context.Context) ([]*merkle.Node, error) {
	return d.GetByParent(ctx, nil)
}

// Leaves returns all nodes with no children.
func (d *Driver) Leaves(ctx context.Context) ([]*merkle.Node, error) {
	rows, err := d.db.QueryContext(ctx, `
		SELECT n.hash, n.parent_hash, n.content FROM nodes n
		LEFT JOIN nodes c ON c.parent_hash = n.hash
		WHERE c.hash IS NULL`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanNodes(rows)
}

// Ancestry returns the path from a node back to its root.
func (d *Driver) Ancestry(ctx context.Context, hash string) ([]*merkle.Node, error) {
	out := []*merkle.Node{}
	current := hash

	for {
		node, err := d.Get(ctx, current)
		if err != nil {
			if len(out) > 0 {
				return nil, fmt.Errorf("broken chain at %s: %w", current, err)
			}
			return nil, err
		}

		out = append(out, node)
		if node.ParentHash == nil {
			return out, nil
		}
		current = *node.ParentHash
	}
}

// Descendants returns the path from root to the node.
func (d *Driver) Descendants(ctx context.Context, hash string) ([]*merkle.Node, error) {
	ancestry, err := d.Ancestry(ctx, hash)
	if err != nil {
		return nil, err
	}

	for i, j := 0, len(ancestry)-1; i < j; i, j = i+1, j-1 {
		ancestry[i], ancestry[j] = ancestry[j], ancestry[i]
	}
	return ancestry, nil
}

// Depth returns the depth of a node (0 for roots).
func (d *Driver) Depth(ctx context.Context, hash string) (int, error) {
	ancestry, err := d.Ancestry(ctx, hash)
	if err != nil {
		return 0, err
	}
	return len(ancestry) - 1, nil
}

// --- history.HeadStore ---

// SetHead upserts a thread head. An empty topic keeps the stored one.
func (d *Driver) SetHead(ctx context.Context, threadID, topic, headHash string) error {
	_, err := d.db.ExecContext(ctx, `
		INSERT INTO threads (id, topic, head_hash, updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			head_hash = excluded.head_hash,
			topic = CASE WHEN excluded.topic != '' THEN excluded.topic ELSE threads.topic END,
			updated_at = excluded.updated_at`,
		threadID, topic, headHash, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("upsert thread: %w", err)
	}
	return nil
}

// GetThread returns a thread or history.ErrThreadNotFound.
func (d *Driver) GetThread(ctx context.Context, threadID string) (*history.Thread, error) {
	var t history.Thread
	err := d.db.QueryRowContext(ctx,
		`SELECT id, topic, head_hash, updated_at FROM threads WHERE id = ?`, threadID,
	).Scan(&t.ID, &t.Topic, &t.HeadHash, &t.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, history.ErrThreadNotFound
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// ListThreads returns all threads, most recently updated first.
func (d *Driver) ListThreads(ctx context.Context) ([]*history.Thread, error) {
	rows, err := d.db.QueryContext(ctx,
		`SELECT id, topic, head_hash, updated_at FROM threads ORDER BY updated_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []*history.Thread{}
	for rows.Next() {
		var t history.Thread
		if err := rows.Scan(&t.ID, &t.Topic, &t.HeadHash, &t.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, &t)
	}
	return out, rows.Err()
}

// --- graph.Saver ---

// PutCheckpoint stores a graph checkpoint.
func (d *Driver) PutCheckpoint(ctx context.Context, cp *graph.Checkpoint) error {
	state, err := json.Marshal(cp.State)
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}

	var interrupt any
	if cp.Interrupt != nil {
		data, err := json.Marshal(cp.Interrupt)
		if err != nil {
			return fmt.Errorf("marshal interrupt: %w", err)
		}
		interrupt = string(data)
	}

	_, err = d.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO checkpoints (thread_id, step, next_node, state, interrupt, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		cp.ThreadID, cp.Step, cp.NextNode, string(state), interrupt, cp.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert checkpoint: %w", err)
	}
	return nil
}

// Latest returns the highest-step checkpoint for a thread.
func (d *Driver) Latest(ctx context.Context, threadID string) (*graph.Checkpoint, error) {
	row := d.db.QueryRowContext(ctx, `
		SELECT thread_id, step, next_node, state, interrupt, created_at
		FROM checkpoints WHERE thread_id = ? ORDER BY step DESC LIMIT 1`, threadID)

	cp, err := scanCheckpoint(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, graph.ErrNoCheckpoint
	}
	return cp, err
}

// History returns all checkpoints for a thread, oldest first.
func (d *Driver) History(ctx context.Context, threadID string) ([]*graph.Checkpoint, error) {
	rows, err := d.db.QueryContext(ctx, `
		SELECT thread_id, step, next_node, state, interrupt, created_at
		FROM checkpoints WHERE thread_id = ? ORDER BY step ASC`, threadID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []*graph.Checkpoint{}
	for rows.Next() {
		cp, err := scanCheckpoint(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, cp)
	}
	return out, rows.Err()
}

// Saver adapts the driver to graph.Saver, whose Put takes a
// checkpoint rather than a node.
func (d *Driver) Saver() graph.Saver {
	return saver{d}
}

type saver struct {
	*Driver
}

func (s saver) Put(ctx context.Context, cp *graph.Checkpoint) error {
	return s.PutCheckpoint(ctx, cp)
}

// --- scanning helpers ---

type scanner interface {
	Scan(dest ...any) error
}

func scanNode(s scanner) (*merkle.Node, error) {
	var node merkle.Node
	var content string
	if err := s.Scan(&node.Hash, &node.ParentHash, &content); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(content), &node.Content); err != nil {
		return nil, fmt.Errorf("unmarshal content: %w", err)
	}
	return &node, nil
}

func scanNodes(rows *sql.Rows) ([]*merkle.Node, error) {
	out := []*merkle.Node{}
	for rows.Next() {
		node, err := scanNode(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, node)
	}
	return out, rows.Err()
}

func scanCheckpoint(s scanner) (*graph.Checkpoint, error) {
	var cp graph.Checkpoint
	var state string
	var interrupt sql.NullString

	if err := s.Scan(&cp.ThreadID, &cp.Step, &cp.NextNode, &state, &interrupt, &cp.CreatedAt); err != nil {
		return nil, err
	}

	// Keep field values raw; the graph schema rehydrates typed fields.
	var raw map[string]json.RawMessage
	if err := json.Unmarshal([]byte(state), &raw); err != nil {
		return nil, fmt.Errorf("unmarshal state: %w", err)
	}
	cp.State = make(graph.State, len(raw))
	for k, v := range raw {
		cp.State[k] = v
	}

	if interrupt.Valid && interrupt.String != "" {
		var intr graph.Interrupt
		if err := json.Unmarshal([]byte(interrupt.String), &intr); err != nil {
			return nil, fmt.Errorf("unmarshal interrupt: %w", err)
		}
		cp.Interrupt = &intr
	}

	return &cp, nil
}
