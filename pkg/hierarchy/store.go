package hierarchy

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// querier abstracts *sql.DB and *sql.Tx for helpers that run both inside
// and outside a transaction
type querier interface {
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// Store maintains nodes and the node_closure ancestry index
type Store struct {
	db *sql.DB

	// CheckInvariants runs a full closure verification inside every
	// structural mutation's transaction. Intended for tests and staging;
	// the verification is O(nodes x depth).
	CheckInvariants bool
}

// NewStore creates a new hierarchy store
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// CreateNode inserts a node together with its closure rows: the depth-0
// self row plus one row per ancestor of the parent at depth+1
func (s *Store) CreateNode(ctx context.Context, node *Node) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to start transaction: %w", err)
	}
	defer tx.Rollback()

	if node.ParentID != nil {
		var parentWorkspace int64
		err := tx.QueryRowContext(ctx, `SELECT workspace_id FROM nodes WHERE id = $1`, *node.ParentID).
			Scan(&parentWorkspace)
		if err == sql.ErrNoRows {
			return fmt.Errorf("parent %d: %w", *node.ParentID, ErrNodeNotFound)
		}
		if err != nil {
			return fmt.Errorf("failed to look up parent: %w", err)
		}
		if parentWorkspace != node.WorkspaceID {
			return ErrCrossWorkspace
		}
	}

	now := time.Now()
	err = tx.QueryRowContext(ctx, `
		INSERT INTO nodes (workspace_id, title, parent_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id
	`, node.WorkspaceID, node.Title, node.ParentID, now, now).Scan(&node.ID)
	if err != nil {
		return fmt.Errorf("failed to create node: %w", err)
	}
	node.CreatedAt = now
	node.UpdatedAt = now

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO node_closure (ancestor_id, descendant_id, depth)
		VALUES ($1, $2, 0)
	`, node.ID, node.ID); err != nil {
		return fmt.Errorf("failed to insert self closure row: %w", err)
	}

	if node.ParentID != nil {
		// Copy-on-create: the parent's ancestor set is already
		// materialized, including its own self row.
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO node_closure (ancestor_id, descendant_id, depth)
			SELECT ancestor_id, $1, depth + 1
			FROM node_closure
			WHERE descendant_id = $2
		`, node.ID, *node.ParentID); err != nil {
			return fmt.Errorf("failed to copy ancestor closure rows: %w", err)
		}
	}

	if s.CheckInvariants {
		if err := verifyClosure(ctx, tx); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit node creation: %w", err)
	}
	return nil
}

// GetNode retrieves a node by ID
func (s *Store) GetNode(ctx context.Context, nodeID int64) (*Node, error) {
	var node Node
	var parentID sql.NullInt64

	err := s.db.QueryRowContext(ctx, `
		SELECT id, workspace_id, title, parent_id, created_at, updated_at
		FROM nodes
		WHERE id = $1
	`, nodeID).Scan(&node.ID, &node.WorkspaceID, &node.Title, &parentID, &node.CreatedAt, &node.UpdatedAt)

	if err == sql.ErrNoRows {
		return nil, ErrNodeNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get node: %w", err)
	}

	if parentID.Valid {
		id := parentID.Int64
		node.ParentID = &id
	}
	return &node, nil
}

// MoveNode reparents a node, rebuilding the closure rows of the whole
// moved subtree in one transaction. It returns the IDs of every node in
// the subtree (the node itself first) so callers can invalidate caches.
// A nil newParentID makes the node a root.
func (s *Store) MoveNode(ctx context.Context, nodeID int64, newParentID *int64) ([]int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to start transaction: %w", err)
	}
	defer tx.Rollback()

	var workspaceID int64
	err = tx.QueryRowContext(ctx, `SELECT workspace_id FROM nodes WHERE id = $1`, nodeID).
		Scan(&workspaceID)
	if err == sql.ErrNoRows {
		return nil, ErrNodeNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up node: %w", err)
	}

	if newParentID != nil {
		if *newParentID == nodeID {
			return nil, &CycleError{NodeID: nodeID, NewParentID: *newParentID}
		}

		var parentWorkspace int64
		err := tx.QueryRowContext(ctx, `SELECT workspace_id FROM nodes WHERE id = $1`, *newParentID).
			Scan(&parentWorkspace)
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("parent %d: %w", *newParentID, ErrNodeNotFound)
		}
		if err != nil {
			return nil, fmt.Errorf("failed to look up new parent: %w", err)
		}
		if parentWorkspace != workspaceID {
			return nil, ErrCrossWorkspace
		}

		// Cycle guard: the new parent must not be a descendant of the
		// node being moved. Checked against the closure before any row
		// changes.
		var one int
		err = tx.QueryRowContext(ctx, `
			SELECT 1 FROM node_closure WHERE ancestor_id = $1 AND descendant_id = $2
		`, nodeID, *newParentID).Scan(&one)
		if err == nil {
			return nil, &CycleError{NodeID: nodeID, NewParentID: *newParentID}
		}
		if err != sql.ErrNoRows {
			return nil, fmt.Errorf("failed cycle check: %w", err)
		}
	}

	subtree, err := subtreeIDs(ctx, tx, nodeID)
	if err != nil {
		return nil, err
	}

	// Sever ties to the old ancestor chain while keeping the subtree's
	// internal rows: delete rows whose descendant is inside the subtree
	// and whose ancestor is outside it.
	inSubtree := placeholders(1, len(subtree))
	notIn := placeholders(1+len(subtree), len(subtree))
	args := make([]interface{}, 0, 2*len(subtree))
	for _, id := range subtree {
		args = append(args, id)
	}
	for _, id := range subtree {
		args = append(args, id)
	}
	if _, err := tx.ExecContext(ctx, fmt.Sprintf(`
		DELETE FROM node_closure
		WHERE descendant_id IN (%s) AND ancestor_id NOT IN (%s)
	`, inSubtree, notIn), args...); err != nil {
		return nil, fmt.Errorf("failed to sever old ancestry rows: %w", err)
	}

	if newParentID != nil {
		// Cross product of the new parent's ancestor set (including its
		// depth-0 self row) with the subtree's surviving internal rows.
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO node_closure (ancestor_id, descendant_id, depth)
			SELECT a.ancestor_id, d.descendant_id, a.depth + d.depth + 1
			FROM node_closure a, node_closure d
			WHERE a.descendant_id = $1 AND d.ancestor_id = $2
		`, *newParentID, nodeID); err != nil {
			return nil, fmt.Errorf("failed to graft subtree onto new parent: %w", err)
		}
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE nodes SET parent_id = $1, updated_at = $2 WHERE id = $3
	`, newParentID, time.Now(), nodeID); err != nil {
		return nil, fmt.Errorf("failed to update adjacency pointer: %w", err)
	}

	if s.CheckInvariants {
		if err := verifyClosure(ctx, tx); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit move: %w", err)
	}
	return subtree, nil
}

// DeleteNode removes a node and its entire subtree. Grants on deleted
// nodes are removed by the schema's ON DELETE CASCADE. Returns the IDs of
// every removed node for cache invalidation.
func (s *Store) DeleteNode(ctx context.Context, nodeID int64) ([]int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to start transaction: %w", err)
	}
	defer tx.Rollback()

	subtree, err := subtreeIDs(ctx, tx, nodeID)
	if err != nil {
		return nil, err
	}

	in := placeholders(1, len(subtree))
	args := make([]interface{}, len(subtree))
	for i, id := range subtree {
		args[i] = id
	}

	// Rows with an ancestor inside the subtree necessarily have their
	// descendant inside too, so one predicate covers both directions.
	if _, err := tx.ExecContext(ctx,
		fmt.Sprintf(`DELETE FROM node_closure WHERE descendant_id IN (%s)`, in), args...); err != nil {
		return nil, fmt.Errorf("failed to delete closure rows: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		fmt.Sprintf(`DELETE FROM nodes WHERE id IN (%s)`, in), args...); err != nil {
		return nil, fmt.Errorf("failed to delete nodes: %w", err)
	}

	if s.CheckInvariants {
		if err := verifyClosure(ctx, tx); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit delete: %w", err)
	}
	return subtree, nil
}

// AncestorsOf returns the node's ancestor chain ordered by ascending
// depth, the node itself (depth 0) first. This is the resolution engine's
// sole read path into the tree.
func (s *Store) AncestorsOf(ctx context.Context, nodeID int64) ([]AncestryEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT ancestor_id, depth
		FROM node_closure
		WHERE descendant_id = $1
		ORDER BY depth ASC
	`, nodeID)
	if err != nil {
		return nil, fmt.Errorf("failed to query ancestors: %w", err)
	}
	defer rows.Close()

	var entries []AncestryEntry
	for rows.Next() {
		var e AncestryEntry
		if err := rows.Scan(&e.NodeID, &e.Depth); err != nil {
			return nil, fmt.Errorf("failed to scan ancestor row: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read ancestors: %w", err)
	}
	if len(entries) == 0 {
		return nil, ErrNodeNotFound
	}
	return entries, nil
}

// DescendantsOf returns the node's subtree ordered by ascending depth,
// the node itself first. Used by cache invalidation.
func (s *Store) DescendantsOf(ctx context.Context, nodeID int64) ([]AncestryEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT descendant_id, depth
		FROM node_closure
		WHERE ancestor_id = $1
		ORDER BY depth ASC
	`, nodeID)
	if err != nil {
		return nil, fmt.Errorf("failed to query descendants: %w", err)
	}
	defer rows.Close()

	var entries []AncestryEntry
	for rows.Next() {
		var e AncestryEntry
		if err := rows.Scan(&e.NodeID, &e.Depth); err != nil {
			return nil, fmt.Errorf("failed to scan descendant row: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read descendants: %w", err)
	}
	if len(entries) == 0 {
		return nil, ErrNodeNotFound
	}
	return entries, nil
}

// ListChildren returns the direct children of a node
func (s *Store) ListChildren(ctx context.Context, nodeID int64) ([]Node, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, workspace_id, title, parent_id, created_at, updated_at
		FROM nodes
		WHERE parent_id = $1
		ORDER BY id ASC
	`, nodeID)
	if err != nil {
		return nil, fmt.Errorf("failed to list children: %w", err)
	}
	defer rows.Close()

	var nodes []Node
	for rows.Next() {
		var node Node
		var parentID sql.NullInt64
		if err := rows.Scan(&node.ID, &node.WorkspaceID, &node.Title, &parentID, &node.CreatedAt, &node.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan node: %w", err)
		}
		if parentID.Valid {
			id := parentID.Int64
			node.ParentID = &id
		}
		nodes = append(nodes, node)
	}
	return nodes, rows.Err()
}

// VerifyClosure recomputes the transitive closure from the adjacency
// pointers and compares it with node_closure. Returns an InvariantError
// describing the first divergence found.
func (s *Store) VerifyClosure(ctx context.Context) error {
	return verifyClosure(ctx, s.db)
}

func verifyClosure(ctx context.Context, q querier) error {
	parents := make(map[int64]*int64)
	rows, err := q.QueryContext(ctx, `SELECT id, parent_id FROM nodes`)
	if err != nil {
		return fmt.Errorf("failed to load adjacency: %w", err)
	}
	for rows.Next() {
		var id int64
		var parent sql.NullInt64
		if err := rows.Scan(&id, &parent); err != nil {
			rows.Close()
			return fmt.Errorf("failed to scan adjacency row: %w", err)
		}
		if parent.Valid {
			p := parent.Int64
			parents[id] = &p
		} else {
			parents[id] = nil
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("failed to read adjacency: %w", err)
	}

	type pair struct{ ancestor, descendant int64 }
	expected := make(map[pair]int)
	for id := range parents {
		depth := 0
		cur := id
		for {
			expected[pair{cur, id}] = depth
			p, ok := parents[cur]
			if !ok {
				return &InvariantError{Detail: fmt.Sprintf("node %d on the ancestor chain of node %d has no record", cur, id)}
			}
			if p == nil {
				break
			}
			cur = *p
			depth++
			if depth > len(parents) {
				return &InvariantError{Detail: fmt.Sprintf("adjacency cycle reachable from node %d", id)}
			}
		}
	}

	actual := make(map[pair]int)
	rows, err = q.QueryContext(ctx, `SELECT ancestor_id, descendant_id, depth FROM node_closure`)
	if err != nil {
		return fmt.Errorf("failed to load closure: %w", err)
	}
	for rows.Next() {
		var a, d int64
		var depth int
		if err := rows.Scan(&a, &d, &depth); err != nil {
			rows.Close()
			return fmt.Errorf("failed to scan closure row: %w", err)
		}
		actual[pair{a, d}] = depth
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("failed to read closure: %w", err)
	}

	for p, depth := range expected {
		got, ok := actual[p]
		if !ok {
			return &InvariantError{Detail: fmt.Sprintf("missing closure row (%d, %d, %d)", p.ancestor, p.descendant, depth)}
		}
		if got != depth {
			return &InvariantError{Detail: fmt.Sprintf("closure row (%d, %d) has depth %d, adjacency implies %d", p.ancestor, p.descendant, got, depth)}
		}
	}
	for p := range actual {
		if _, ok := expected[p]; !ok {
			return &InvariantError{Detail: fmt.Sprintf("stale closure row (%d, %d)", p.ancestor, p.descendant)}
		}
	}
	return nil
}

// subtreeIDs enumerates a node's subtree (itself included), nearest first
func subtreeIDs(ctx context.Context, q querier, nodeID int64) ([]int64, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT descendant_id
		FROM node_closure
		WHERE ancestor_id = $1
		ORDER BY depth ASC
	`, nodeID)
	if err != nil {
		return nil, fmt.Errorf("failed to enumerate subtree: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan subtree row: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read subtree: %w", err)
	}
	if len(ids) == 0 {
		return nil, ErrNodeNotFound
	}
	return ids, nil
}

// placeholders builds a "$n, $n+1, ..." list for dynamic IN clauses
func placeholders(start, n int) string {
	parts := make([]string, n)
	for i := 0; i < n; i++ {
		parts[i] = fmt.Sprintf("$%d", start+i)
	}
	return strings.Join(parts, ", ")
}
