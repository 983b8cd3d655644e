package groups

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	_ "github.com/mattn/go-sqlite3"
)

func setupTestDB(t *testing.T) *sql.DB {
	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}

	_, err = db.Exec(`
		CREATE TABLE groups (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			workspace_id INTEGER NOT NULL,
			name TEXT NOT NULL,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL
		);

		CREATE TABLE group_edges (
			parent_group_id INTEGER NOT NULL,
			child_group_id INTEGER NOT NULL,
			PRIMARY KEY (parent_group_id, child_group_id)
		);

		CREATE TABLE group_closure (
			ancestor_id INTEGER NOT NULL,
			descendant_id INTEGER NOT NULL,
			depth INTEGER NOT NULL,
			PRIMARY KEY (ancestor_id, descendant_id)
		);

		CREATE TABLE group_users (
			group_id INTEGER NOT NULL,
			user_id INTEGER NOT NULL,
			PRIMARY KEY (group_id, user_id)
		);

		CREATE TABLE group_members_flat (
			group_id INTEGER NOT NULL,
			user_id INTEGER NOT NULL,
			PRIMARY KEY (group_id, user_id)
		);
	`)
	if err != nil {
		t.Fatalf("Failed to create test tables: %v", err)
	}

	return db
}

func mustCreateGroup(t *testing.T, store *Store, workspaceID int64, name string) *Group {
	t.Helper()

	group := &Group{WorkspaceID: workspaceID, Name: name}
	if err := store.CreateGroup(context.Background(), group); err != nil {
		t.Fatalf("Failed to create group %q: %v", name, err)
	}
	return group
}

func mustNest(t *testing.T, store *Store, parentID, childID int64) {
	t.Helper()

	if _, err := store.Nest(context.Background(), parentID, childID); err != nil {
		t.Fatalf("Failed to nest %d under %d: %v", childID, parentID, err)
	}
}

func mustAddUser(t *testing.T, store *Store, groupID, userID int64) {
	t.Helper()

	if err := store.AddUser(context.Background(), groupID, userID); err != nil {
		t.Fatalf("Failed to add user %d to group %d: %v", userID, groupID, err)
	}
}

func closureDepth(t *testing.T, db *sql.DB, ancestorID, descendantID int64) int {
	t.Helper()

	var depth int
	err := db.QueryRow(
		`SELECT depth FROM group_closure WHERE ancestor_id = $1 AND descendant_id = $2`,
		ancestorID, descendantID,
	).Scan(&depth)
	if err != nil {
		t.Fatalf("Failed to read closure depth (%d, %d): %v", ancestorID, descendantID, err)
	}
	return depth
}

func containsID(ids []int64, want int64) bool {
	for _, id := range ids {
		if id == want {
			return true
		}
	}
	return false
}

func TestAddUser_FlattensUpward(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	store := NewStore(db)
	store.CheckInvariants = true
	ctx := context.Background()

	company := mustCreateGroup(t, store, 1, "company")
	eng := mustCreateGroup(t, store, 1, "engineering")
	backend := mustCreateGroup(t, store, 1, "backend")
	mustNest(t, store, company.ID, eng.ID)
	mustNest(t, store, eng.ID, backend.ID)

	mustAddUser(t, store, backend.ID, 100)

	userGroups, err := store.GroupsOf(ctx, 100)
	if err != nil {
		t.Fatalf("GroupsOf failed: %v", err)
	}
	for _, want := range []int64{company.ID, eng.ID, backend.ID} {
		if !containsID(userGroups, want) {
			t.Errorf("GroupsOf(100) = %v, missing group %d", userGroups, want)
		}
	}

	members, err := store.MembersOf(ctx, company.ID)
	if err != nil {
		t.Fatalf("MembersOf failed: %v", err)
	}
	if !containsID(members, 100) {
		t.Errorf("MembersOf(company) = %v, want user 100", members)
	}
}

func TestAddUser_Duplicate(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	store := NewStore(db)
	group := mustCreateGroup(t, store, 1, "team")
	mustAddUser(t, store, group.ID, 100)

	err := store.AddUser(context.Background(), group.ID, 100)
	if !errors.Is(err, ErrDuplicateMember) {
		t.Errorf("Duplicate AddUser = %v, want ErrDuplicateMember", err)
	}
}

func TestNest_ExtendsExistingMembership(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	store := NewStore(db)
	store.CheckInvariants = true
	ctx := context.Background()

	parent := mustCreateGroup(t, store, 1, "parent")
	child := mustCreateGroup(t, store, 1, "child")
	mustAddUser(t, store, child.ID, 100)
	mustAddUser(t, store, child.ID, 101)

	affected, err := store.Nest(ctx, parent.ID, child.ID)
	if err != nil {
		t.Fatalf("Nest failed: %v", err)
	}
	if !containsID(affected, 100) || !containsID(affected, 101) {
		t.Errorf("Affected users = %v, want [100 101]", affected)
	}

	members, err := store.MembersOf(ctx, parent.ID)
	if err != nil {
		t.Fatalf("MembersOf failed: %v", err)
	}
	if !containsID(members, 100) || !containsID(members, 101) {
		t.Errorf("MembersOf(parent) = %v, want users 100 and 101", members)
	}
}

func TestNest_RejectsCycles(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	store := NewStore(db)
	ctx := context.Background()

	a := mustCreateGroup(t, store, 1, "a")
	b := mustCreateGroup(t, store, 1, "b")
	c := mustCreateGroup(t, store, 1, "c")
	mustNest(t, store, a.ID, b.ID)
	mustNest(t, store, b.ID, c.ID)

	var cycleErr *CycleError

	_, err := store.Nest(ctx, a.ID, a.ID)
	if !errors.As(err, &cycleErr) {
		t.Errorf("Self-nest = %v, want CycleError", err)
	}

	// c transitively contains nothing, but a contains c; nesting a under c
	// would close the loop.
	_, err = store.Nest(ctx, c.ID, a.ID)
	if !errors.As(err, &cycleErr) {
		t.Errorf("Transitive cycle nest = %v, want CycleError", err)
	}

	if err := store.VerifyIndexes(ctx); err != nil {
		t.Errorf("Indexes diverged after rejected nest: %v", err)
	}
}

func TestNest_DuplicateEdge(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	store := NewStore(db)
	parent := mustCreateGroup(t, store, 1, "parent")
	child := mustCreateGroup(t, store, 1, "child")
	mustNest(t, store, parent.ID, child.ID)

	_, err := store.Nest(context.Background(), parent.ID, child.ID)
	if !errors.Is(err, ErrDuplicateEdge) {
		t.Errorf("Duplicate nest = %v, want ErrDuplicateEdge", err)
	}
}

func TestNest_CrossWorkspace(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	store := NewStore(db)
	a := mustCreateGroup(t, store, 1, "a")
	b := mustCreateGroup(t, store, 2, "b")

	_, err := store.Nest(context.Background(), a.ID, b.ID)
	if !errors.Is(err, ErrCrossWorkspace) {
		t.Errorf("Cross-workspace nest = %v, want ErrCrossWorkspace", err)
	}
}

func TestNest_ShortcutEdgeShortensDepth(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	store := NewStore(db)
	store.CheckInvariants = true
	ctx := context.Background()

	a := mustCreateGroup(t, store, 1, "a")
	b := mustCreateGroup(t, store, 1, "b")
	c := mustCreateGroup(t, store, 1, "c")
	mustNest(t, store, a.ID, b.ID)
	mustNest(t, store, b.ID, c.ID)
	mustAddUser(t, store, c.ID, 100)

	if got := closureDepth(t, db, a.ID, c.ID); got != 2 {
		t.Fatalf("depth(a, c) = %d via the two-hop path, want 2", got)
	}

	// A direct edge alongside the existing two-hop path must lower the
	// stored depth to the new shortest path.
	mustNest(t, store, a.ID, c.ID)

	if got := closureDepth(t, db, a.ID, c.ID); got != 1 {
		t.Errorf("depth(a, c) = %d after shortcut edge, want 1", got)
	}
	if err := store.VerifyIndexes(ctx); err != nil {
		t.Errorf("Indexes diverged after shortcut nest: %v", err)
	}

	// Severing the long path leaves the direct edge as the only route.
	if _, err := store.Unnest(ctx, b.ID, c.ID); err != nil {
		t.Fatalf("Unnest failed: %v", err)
	}
	if got := closureDepth(t, db, a.ID, c.ID); got != 1 {
		t.Errorf("depth(a, c) = %d after severing the long path, want 1", got)
	}
	members, err := store.MembersOf(ctx, a.ID)
	if err != nil {
		t.Fatalf("MembersOf failed: %v", err)
	}
	if !containsID(members, 100) {
		t.Errorf("MembersOf(a) = %v after severing the long path, want user 100 kept", members)
	}

	// Severing the shortcut instead restores the two-hop depth.
	mustNest(t, store, b.ID, c.ID)
	if _, err := store.Unnest(ctx, a.ID, c.ID); err != nil {
		t.Fatalf("Unnest failed: %v", err)
	}
	if got := closureDepth(t, db, a.ID, c.ID); got != 2 {
		t.Errorf("depth(a, c) = %d after severing the shortcut, want 2", got)
	}
	if err := store.VerifyIndexes(ctx); err != nil {
		t.Errorf("Indexes diverged after unnest: %v", err)
	}
}

func TestUnnest_KeepsOtherPaths(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	store := NewStore(db)
	store.CheckInvariants = true
	ctx := context.Background()

	// Diamond: top contains left and right, both contain bottom.
	top := mustCreateGroup(t, store, 1, "top")
	left := mustCreateGroup(t, store, 1, "left")
	right := mustCreateGroup(t, store, 1, "right")
	bottom := mustCreateGroup(t, store, 1, "bottom")
	mustNest(t, store, top.ID, left.ID)
	mustNest(t, store, top.ID, right.ID)
	mustNest(t, store, left.ID, bottom.ID)
	mustNest(t, store, right.ID, bottom.ID)
	mustAddUser(t, store, bottom.ID, 100)

	// Severing one path must not lose the membership carried by the other.
	if _, err := store.Unnest(ctx, left.ID, bottom.ID); err != nil {
		t.Fatalf("Unnest failed: %v", err)
	}

	members, err := store.MembersOf(ctx, top.ID)
	if err != nil {
		t.Fatalf("MembersOf failed: %v", err)
	}
	if !containsID(members, 100) {
		t.Errorf("MembersOf(top) = %v after severing one diamond path, want user 100 kept", members)
	}

	// Severing the second path removes the last route.
	if _, err := store.Unnest(ctx, right.ID, bottom.ID); err != nil {
		t.Fatalf("Unnest failed: %v", err)
	}

	members, err = store.MembersOf(ctx, top.ID)
	if err != nil {
		t.Fatalf("MembersOf failed: %v", err)
	}
	if containsID(members, 100) {
		t.Errorf("MembersOf(top) = %v after severing both paths, want user 100 gone", members)
	}
}

func TestUnnest_MissingEdge(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	store := NewStore(db)
	a := mustCreateGroup(t, store, 1, "a")
	b := mustCreateGroup(t, store, 1, "b")

	_, err := store.Unnest(context.Background(), a.ID, b.ID)
	if !errors.Is(err, ErrEdgeNotFound) {
		t.Errorf("Unnest of missing edge = %v, want ErrEdgeNotFound", err)
	}
}

func TestRemoveUser_KeepsOtherDirectMemberships(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	store := NewStore(db)
	store.CheckInvariants = true
	ctx := context.Background()

	company := mustCreateGroup(t, store, 1, "company")
	eng := mustCreateGroup(t, store, 1, "engineering")
	ops := mustCreateGroup(t, store, 1, "operations")
	mustNest(t, store, company.ID, eng.ID)
	mustNest(t, store, company.ID, ops.ID)
	mustAddUser(t, store, eng.ID, 100)
	mustAddUser(t, store, ops.ID, 100)

	if err := store.RemoveUser(ctx, eng.ID, 100); err != nil {
		t.Fatalf("RemoveUser failed: %v", err)
	}

	engMembers, err := store.MembersOf(ctx, eng.ID)
	if err != nil {
		t.Fatalf("MembersOf failed: %v", err)
	}
	if containsID(engMembers, 100) {
		t.Errorf("MembersOf(eng) = %v, want user 100 gone", engMembers)
	}

	// The direct membership in ops still reaches company.
	companyMembers, err := store.MembersOf(ctx, company.ID)
	if err != nil {
		t.Fatalf("MembersOf failed: %v", err)
	}
	if !containsID(companyMembers, 100) {
		t.Errorf("MembersOf(company) = %v, want user 100 kept via ops", companyMembers)
	}
}

func TestRemoveUser_NotAMember(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	store := NewStore(db)
	group := mustCreateGroup(t, store, 1, "team")

	err := store.RemoveUser(context.Background(), group.ID, 100)
	if !errors.Is(err, ErrMemberNotFound) {
		t.Errorf("RemoveUser of non-member = %v, want ErrMemberNotFound", err)
	}
}

func TestDeleteGroup_RebuildsAncestors(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	store := NewStore(db)
	store.CheckInvariants = true
	ctx := context.Background()

	company := mustCreateGroup(t, store, 1, "company")
	eng := mustCreateGroup(t, store, 1, "engineering")
	backend := mustCreateGroup(t, store, 1, "backend")
	mustNest(t, store, company.ID, eng.ID)
	mustNest(t, store, eng.ID, backend.ID)
	mustAddUser(t, store, backend.ID, 100)
	mustAddUser(t, store, eng.ID, 101)

	affected, err := store.DeleteGroup(ctx, eng.ID)
	if err != nil {
		t.Fatalf("DeleteGroup failed: %v", err)
	}
	if !containsID(affected, 100) || !containsID(affected, 101) {
		t.Errorf("Affected users = %v, want [100 101]", affected)
	}

	if _, err := store.GetGroup(ctx, eng.ID); !errors.Is(err, ErrGroupNotFound) {
		t.Errorf("GetGroup on deleted group = %v, want ErrGroupNotFound", err)
	}

	// Deleting the middle group orphans backend from company.
	companyMembers, err := store.MembersOf(ctx, company.ID)
	if err != nil {
		t.Fatalf("MembersOf failed: %v", err)
	}
	if len(companyMembers) != 0 {
		t.Errorf("MembersOf(company) = %v, want empty after middle group deleted", companyMembers)
	}

	backendMembers, err := store.MembersOf(ctx, backend.ID)
	if err != nil {
		t.Fatalf("MembersOf failed: %v", err)
	}
	if !containsID(backendMembers, 100) {
		t.Errorf("MembersOf(backend) = %v, want user 100 kept", backendMembers)
	}
}

func TestVerifyIndexes_DetectsDrift(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	store := NewStore(db)
	ctx := context.Background()

	parent := mustCreateGroup(t, store, 1, "parent")
	child := mustCreateGroup(t, store, 1, "child")
	mustNest(t, store, parent.ID, child.ID)
	mustAddUser(t, store, child.ID, 100)

	if err := store.VerifyIndexes(ctx); err != nil {
		t.Fatalf("VerifyIndexes on healthy store failed: %v", err)
	}

	if _, err := db.Exec(
		`DELETE FROM group_members_flat WHERE group_id = $1 AND user_id = $2`,
		parent.ID, 100,
	); err != nil {
		t.Fatalf("Failed to corrupt flattened membership: %v", err)
	}

	var invariantErr *InvariantError
	if err := store.VerifyIndexes(ctx); !errors.As(err, &invariantErr) {
		t.Errorf("VerifyIndexes on corrupted store = %v, want InvariantError", err)
	}
}
