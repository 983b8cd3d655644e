package groups

import (
	"context"
	"database/sql"

	"github.com/arborhq/arbor/pkg/migrate"
)

// Migrations is the ordered schema history for the group tables
var Migrations = []migrate.Migration{
	{
		Version:     1,
		Description: "create groups table",
		SQL: `
			CREATE TABLE IF NOT EXISTS groups (
				id BIGSERIAL PRIMARY KEY,
				workspace_id BIGINT NOT NULL,
				name TEXT NOT NULL,
				created_at TIMESTAMP NOT NULL,
				updated_at TIMESTAMP NOT NULL
			);
			CREATE INDEX IF NOT EXISTS idx_groups_workspace ON groups(workspace_id);
		`,
	},
	{
		Version:     2,
		Description: "create group nesting edges and closure",
		SQL: `
			CREATE TABLE IF NOT EXISTS group_edges (
				parent_group_id BIGINT NOT NULL,
				child_group_id BIGINT NOT NULL,
				PRIMARY KEY (parent_group_id, child_group_id)
			);
			CREATE TABLE IF NOT EXISTS group_closure (
				ancestor_id BIGINT NOT NULL,
				descendant_id BIGINT NOT NULL,
				depth INT NOT NULL,
				PRIMARY KEY (ancestor_id, descendant_id)
			);
			CREATE INDEX IF NOT EXISTS idx_group_closure_descendant ON group_closure(descendant_id);
		`,
	},
	{
		Version:     3,
		Description: "create direct and flattened membership tables",
		SQL: `
			CREATE TABLE IF NOT EXISTS group_users (
				group_id BIGINT NOT NULL,
				user_id BIGINT NOT NULL,
				PRIMARY KEY (group_id, user_id)
			);
			CREATE TABLE IF NOT EXISTS group_members_flat (
				group_id BIGINT NOT NULL,
				user_id BIGINT NOT NULL,
				PRIMARY KEY (group_id, user_id)
			);
			CREATE INDEX IF NOT EXISTS idx_group_members_flat_user ON group_members_flat(user_id);
		`,
	},
}

// RunMigrations applies the groups schema
func RunMigrations(ctx context.Context, db *sql.DB) error {
	return migrate.Run(ctx, db, "groups_migrations", Migrations)
}
