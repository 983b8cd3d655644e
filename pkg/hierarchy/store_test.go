package hierarchy

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"testing"

	_ "github.com/mattn/go-sqlite3"
)

func setupTestDB(t *testing.T) *sql.DB {
	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}

	_, err = db.Exec(`
		CREATE TABLE nodes (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			workspace_id INTEGER NOT NULL,
			title TEXT NOT NULL,
			parent_id INTEGER,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL
		);

		CREATE TABLE node_closure (
			ancestor_id INTEGER NOT NULL,
			descendant_id INTEGER NOT NULL,
			depth INTEGER NOT NULL,
			PRIMARY KEY (ancestor_id, descendant_id)
		);
	`)
	if err != nil {
		t.Fatalf("Failed to create test tables: %v", err)
	}

	return db
}

func mustCreate(t *testing.T, store *Store, workspaceID int64, title string, parentID *int64) *Node {
	t.Helper()

	node := &Node{WorkspaceID: workspaceID, Title: title, ParentID: parentID}
	if err := store.CreateNode(context.Background(), node); err != nil {
		t.Fatalf("Failed to create node %q: %v", title, err)
	}
	return node
}

func ancestorIDs(t *testing.T, store *Store, nodeID int64) []int64 {
	t.Helper()

	entries, err := store.AncestorsOf(context.Background(), nodeID)
	if err != nil {
		t.Fatalf("AncestorsOf(%d) failed: %v", nodeID, err)
	}
	ids := make([]int64, len(entries))
	for i, e := range entries {
		ids[i] = e.NodeID
	}
	return ids
}

func equalIDs(a, b []int64) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestCreateNode_CopiesAncestorClosure(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	store := NewStore(db)
	store.CheckInvariants = true

	root := mustCreate(t, store, 1, "root", nil)
	child := mustCreate(t, store, 1, "child", &root.ID)
	grandchild := mustCreate(t, store, 1, "grandchild", &child.ID)

	got := ancestorIDs(t, store, grandchild.ID)
	want := []int64{grandchild.ID, child.ID, root.ID}
	if !equalIDs(got, want) {
		t.Errorf("Ancestor chain = %v, want %v", got, want)
	}

	entries, err := store.AncestorsOf(context.Background(), grandchild.ID)
	if err != nil {
		t.Fatalf("AncestorsOf failed: %v", err)
	}
	for i, e := range entries {
		if e.Depth != i {
			t.Errorf("Entry %d has depth %d, want %d", i, e.Depth, i)
		}
	}
}

func TestCreateNode_MissingParent(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	store := NewStore(db)

	missing := int64(9999)
	node := &Node{WorkspaceID: 1, Title: "orphan", ParentID: &missing}
	err := store.CreateNode(context.Background(), node)
	if !errors.Is(err, ErrNodeNotFound) {
		t.Errorf("CreateNode with missing parent = %v, want ErrNodeNotFound", err)
	}
}

func TestCreateNode_CrossWorkspaceParent(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	store := NewStore(db)

	root := mustCreate(t, store, 1, "root", nil)

	node := &Node{WorkspaceID: 2, Title: "stray", ParentID: &root.ID}
	err := store.CreateNode(context.Background(), node)
	if !errors.Is(err, ErrCrossWorkspace) {
		t.Errorf("CreateNode across workspaces = %v, want ErrCrossWorkspace", err)
	}
}

func TestMoveNode_RelinksSubtree(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	store := NewStore(db)
	store.CheckInvariants = true
	ctx := context.Background()

	// root
	//  +- a
	//  |   +- b
	//  |       +- c
	//  +- d
	root := mustCreate(t, store, 1, "root", nil)
	a := mustCreate(t, store, 1, "a", &root.ID)
	b := mustCreate(t, store, 1, "b", &a.ID)
	c := mustCreate(t, store, 1, "c", &b.ID)
	d := mustCreate(t, store, 1, "d", &root.ID)

	subtree, err := store.MoveNode(ctx, b.ID, &d.ID)
	if err != nil {
		t.Fatalf("MoveNode failed: %v", err)
	}

	if !equalIDs(subtree, []int64{b.ID, c.ID}) {
		t.Errorf("Moved subtree = %v, want [%d %d]", subtree, b.ID, c.ID)
	}

	got := ancestorIDs(t, store, c.ID)
	want := []int64{c.ID, b.ID, d.ID, root.ID}
	if !equalIDs(got, want) {
		t.Errorf("Ancestor chain after move = %v, want %v", got, want)
	}

	// The old parent must no longer reach the moved subtree.
	descendants, err := store.DescendantsOf(ctx, a.ID)
	if err != nil {
		t.Fatalf("DescendantsOf failed: %v", err)
	}
	for _, e := range descendants {
		if e.NodeID == b.ID || e.NodeID == c.ID {
			t.Errorf("Node %d still listed as descendant of old parent", e.NodeID)
		}
	}

	if err := store.VerifyClosure(ctx); err != nil {
		t.Errorf("Closure diverged after move: %v", err)
	}
}

func TestMoveNode_ToRoot(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	store := NewStore(db)
	store.CheckInvariants = true
	ctx := context.Background()

	root := mustCreate(t, store, 1, "root", nil)
	a := mustCreate(t, store, 1, "a", &root.ID)
	b := mustCreate(t, store, 1, "b", &a.ID)

	if _, err := store.MoveNode(ctx, a.ID, nil); err != nil {
		t.Fatalf("MoveNode to root failed: %v", err)
	}

	got := ancestorIDs(t, store, b.ID)
	want := []int64{b.ID, a.ID}
	if !equalIDs(got, want) {
		t.Errorf("Ancestor chain after detach = %v, want %v", got, want)
	}

	moved, err := store.GetNode(ctx, a.ID)
	if err != nil {
		t.Fatalf("GetNode failed: %v", err)
	}
	if moved.ParentID != nil {
		t.Errorf("ParentID = %v, want nil", *moved.ParentID)
	}
}

func TestMoveNode_RejectsCycles(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	store := NewStore(db)
	ctx := context.Background()

	root := mustCreate(t, store, 1, "root", nil)
	a := mustCreate(t, store, 1, "a", &root.ID)
	b := mustCreate(t, store, 1, "b", &a.ID)

	var cycleErr *CycleError

	_, err := store.MoveNode(ctx, a.ID, &a.ID)
	if !errors.As(err, &cycleErr) {
		t.Errorf("Self-move = %v, want CycleError", err)
	}

	_, err = store.MoveNode(ctx, a.ID, &b.ID)
	if !errors.As(err, &cycleErr) {
		t.Errorf("Move under own descendant = %v, want CycleError", err)
	}

	// Rejection must leave the index untouched.
	if err := store.VerifyClosure(ctx); err != nil {
		t.Errorf("Closure diverged after rejected move: %v", err)
	}
	got := ancestorIDs(t, store, b.ID)
	want := []int64{b.ID, a.ID, root.ID}
	if !equalIDs(got, want) {
		t.Errorf("Ancestor chain after rejected move = %v, want %v", got, want)
	}
}

func TestMoveNode_CrossWorkspace(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	store := NewStore(db)
	ctx := context.Background()

	rootA := mustCreate(t, store, 1, "root-a", nil)
	rootB := mustCreate(t, store, 2, "root-b", nil)
	child := mustCreate(t, store, 1, "child", &rootA.ID)

	_, err := store.MoveNode(ctx, child.ID, &rootB.ID)
	if !errors.Is(err, ErrCrossWorkspace) {
		t.Errorf("Cross-workspace move = %v, want ErrCrossWorkspace", err)
	}
}

func TestDeleteNode_RemovesSubtree(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	store := NewStore(db)
	store.CheckInvariants = true
	ctx := context.Background()

	root := mustCreate(t, store, 1, "root", nil)
	a := mustCreate(t, store, 1, "a", &root.ID)
	b := mustCreate(t, store, 1, "b", &a.ID)
	sibling := mustCreate(t, store, 1, "sibling", &root.ID)

	deleted, err := store.DeleteNode(ctx, a.ID)
	if err != nil {
		t.Fatalf("DeleteNode failed: %v", err)
	}
	if !equalIDs(deleted, []int64{a.ID, b.ID}) {
		t.Errorf("Deleted subtree = %v, want [%d %d]", deleted, a.ID, b.ID)
	}

	if _, err := store.GetNode(ctx, b.ID); !errors.Is(err, ErrNodeNotFound) {
		t.Errorf("GetNode on deleted descendant = %v, want ErrNodeNotFound", err)
	}

	// Untouched branch survives with its closure intact.
	got := ancestorIDs(t, store, sibling.ID)
	want := []int64{sibling.ID, root.ID}
	if !equalIDs(got, want) {
		t.Errorf("Sibling ancestor chain = %v, want %v", got, want)
	}
	if err := store.VerifyClosure(ctx); err != nil {
		t.Errorf("Closure diverged after delete: %v", err)
	}
}

func TestDescendantsOf_OrdersByDepth(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	store := NewStore(db)
	ctx := context.Background()

	root := mustCreate(t, store, 1, "root", nil)
	a := mustCreate(t, store, 1, "a", &root.ID)
	mustCreate(t, store, 1, "b", &a.ID)

	descendants, err := store.DescendantsOf(ctx, root.ID)
	if err != nil {
		t.Fatalf("DescendantsOf failed: %v", err)
	}
	if len(descendants) != 3 {
		t.Fatalf("Descendant count = %d, want 3", len(descendants))
	}
	for i := 1; i < len(descendants); i++ {
		if descendants[i].Depth < descendants[i-1].Depth {
			t.Errorf("Descendants not ordered by depth: %v", descendants)
		}
	}
	if descendants[0].NodeID != root.ID || descendants[0].Depth != 0 {
		t.Errorf("First descendant = %+v, want the node itself at depth 0", descendants[0])
	}
}

func TestVerifyClosure_DetectsDrift(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	store := NewStore(db)
	ctx := context.Background()

	root := mustCreate(t, store, 1, "root", nil)
	child := mustCreate(t, store, 1, "child", &root.ID)

	if err := store.VerifyClosure(ctx); err != nil {
		t.Fatalf("VerifyClosure on healthy index failed: %v", err)
	}

	if _, err := db.Exec(
		`DELETE FROM node_closure WHERE ancestor_id = $1 AND descendant_id = $2`,
		root.ID, child.ID,
	); err != nil {
		t.Fatalf("Failed to corrupt closure: %v", err)
	}

	var invariantErr *InvariantError
	if err := store.VerifyClosure(ctx); !errors.As(err, &invariantErr) {
		t.Errorf("VerifyClosure on corrupted index = %v, want InvariantError", err)
	}
}

func TestVerifyClosure_NamesMissingAncestor(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	store := NewStore(db)
	ctx := context.Background()

	root := mustCreate(t, store, 1, "root", nil)
	child := mustCreate(t, store, 1, "child", &root.ID)
	grandchild := mustCreate(t, store, 1, "grandchild", &child.ID)

	// Remove the middle node's record while the grandchild still points at
	// it; the walk from the grandchild dead-ends there, not at its parent.
	if _, err := db.Exec(`DELETE FROM nodes WHERE id = $1`, child.ID); err != nil {
		t.Fatalf("Failed to corrupt adjacency: %v", err)
	}

	var invariantErr *InvariantError
	err := store.VerifyClosure(ctx)
	if !errors.As(err, &invariantErr) {
		t.Fatalf("VerifyClosure with dangling parent = %v, want InvariantError", err)
	}
	if !strings.Contains(invariantErr.Detail, fmt.Sprintf("node %d ", child.ID)) {
		t.Errorf("InvariantError %q does not name the absent node %d", invariantErr.Detail, child.ID)
	}
	if !strings.Contains(invariantErr.Detail, fmt.Sprintf("node %d", grandchild.ID)) {
		t.Errorf("InvariantError %q does not name the walk origin %d", invariantErr.Detail, grandchild.ID)
	}
}

func TestAncestorsOf_MissingNode(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	store := NewStore(db)

	_, err := store.AncestorsOf(context.Background(), 42)
	if !errors.Is(err, ErrNodeNotFound) {
		t.Errorf("AncestorsOf on missing node = %v, want ErrNodeNotFound", err)
	}
}
