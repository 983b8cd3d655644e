package authz

import (
	"context"
	"database/sql"
	"testing"

	_ "github.com/mattn/go-sqlite3"

	"github.com/arborhq/arbor/pkg/groups"
	"github.com/arborhq/arbor/pkg/hierarchy"
	"github.com/arborhq/arbor/pkg/workspace"
)

// fixture wires real stores over one in-memory database so resolution
// tests exercise the same SQL the service runs in production
type fixture struct {
	db         *sql.DB
	nodes      *hierarchy.Store
	groups     *groups.Store
	workspaces *workspace.Store
	grants     *Store
	resolver   *Resolver
}

func setupFixture(t *testing.T) *fixture {
	t.Helper()

	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

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

		CREATE TABLE workspaces (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			name TEXT NOT NULL,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL
		);
		CREATE TABLE workspace_members (
			workspace_id INTEGER NOT NULL,
			user_id INTEGER NOT NULL,
			PRIMARY KEY (workspace_id, user_id)
		);
		CREATE TABLE workspace_defaults (
			workspace_id INTEGER PRIMARY KEY,
			level TEXT NOT NULL
		);

		CREATE TABLE grants (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			node_id INTEGER NOT NULL,
			user_id INTEGER,
			group_id INTEGER,
			level TEXT NOT NULL,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL
		);
	`)
	if err != nil {
		t.Fatalf("Failed to create test tables: %v", err)
	}

	return &fixture{
		db:         db,
		nodes:      hierarchy.NewStore(db),
		groups:     groups.NewStore(db),
		workspaces: workspace.NewStore(db),
		grants:     NewStore(db),
		resolver:   NewResolver(db),
	}
}

func (f *fixture) node(t *testing.T, workspaceID int64, title string, parentID *int64) *hierarchy.Node {
	t.Helper()

	n := &hierarchy.Node{WorkspaceID: workspaceID, Title: title, ParentID: parentID}
	if err := f.nodes.CreateNode(context.Background(), n); err != nil {
		t.Fatalf("Failed to create node %q: %v", title, err)
	}
	return n
}

func (f *fixture) group(t *testing.T, workspaceID int64, name string, userIDs ...int64) *groups.Group {
	t.Helper()

	g := &groups.Group{WorkspaceID: workspaceID, Name: name}
	if err := f.groups.CreateGroup(context.Background(), g); err != nil {
		t.Fatalf("Failed to create group %q: %v", name, err)
	}
	for _, userID := range userIDs {
		if err := f.groups.AddUser(context.Background(), g.ID, userID); err != nil {
			t.Fatalf("Failed to add user %d to group %q: %v", userID, name, err)
		}
	}
	return g
}

func (f *fixture) userGrant(t *testing.T, nodeID, userID int64, level Level) {
	t.Helper()

	grant := &Grant{NodeID: nodeID, UserID: &userID, Level: level}
	if err := f.grants.SetGrant(context.Background(), grant); err != nil {
		t.Fatalf("Failed to set user grant: %v", err)
	}
}

func (f *fixture) groupGrant(t *testing.T, nodeID, groupID int64, level Level) {
	t.Helper()

	grant := &Grant{NodeID: nodeID, GroupID: &groupID, Level: level}
	if err := f.grants.SetGrant(context.Background(), grant); err != nil {
		t.Fatalf("Failed to set group grant: %v", err)
	}
}

func (f *fixture) resolve(t *testing.T, userID, nodeID int64) Resolution {
	t.Helper()

	res, err := f.resolver.Resolve(context.Background(), userID, nodeID)
	if err != nil {
		t.Fatalf("Resolve(%d, %d) failed: %v", userID, nodeID, err)
	}
	return res
}
