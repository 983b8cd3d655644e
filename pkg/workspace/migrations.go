package workspace

import (
	"context"
	"database/sql"

	"github.com/arborhq/arbor/pkg/migrate"
)

// Migrations is the ordered schema history for workspace and user tables
var Migrations = []migrate.Migration{
	{
		Version:     1,
		Description: "create workspaces and members",
		SQL: `
			CREATE TABLE IF NOT EXISTS workspaces (
				id BIGSERIAL PRIMARY KEY,
				name TEXT NOT NULL,
				created_at TIMESTAMP NOT NULL,
				updated_at TIMESTAMP NOT NULL
			);
			CREATE TABLE IF NOT EXISTS workspace_members (
				workspace_id BIGINT NOT NULL,
				user_id BIGINT NOT NULL,
				PRIMARY KEY (workspace_id, user_id)
			);
			CREATE INDEX IF NOT EXISTS idx_workspace_members_user ON workspace_members(user_id);
		`,
	},
	{
		Version:     2,
		Description: "create workspace defaults",
		SQL: `
			CREATE TABLE IF NOT EXISTS workspace_defaults (
				workspace_id BIGINT PRIMARY KEY,
				level TEXT NOT NULL
			);
		`,
	},
	{
		Version:     3,
		Description: "create users with API tokens",
		SQL: `
			CREATE TABLE IF NOT EXISTS users (
				id BIGSERIAL PRIMARY KEY,
				username TEXT NOT NULL,
				email TEXT NOT NULL DEFAULT '',
				api_token TEXT NOT NULL UNIQUE,
				created_at TIMESTAMP NOT NULL
			);
		`,
	},
}

// RunMigrations applies the workspace schema
func RunMigrations(ctx context.Context, db *sql.DB) error {
	return migrate.Run(ctx, db, "workspace_migrations", Migrations)
}
