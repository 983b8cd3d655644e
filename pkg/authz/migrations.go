package authz

import (
	"context"
	"database/sql"

	"github.com/arborhq/arbor/pkg/migrate"
)

// Migrations is the ordered schema history for the grant table
var Migrations = []migrate.Migration{
	{
		Version:     1,
		Description: "create grants table",
		SQL: `
			CREATE TABLE IF NOT EXISTS grants (
				id BIGSERIAL PRIMARY KEY,
				node_id BIGINT NOT NULL REFERENCES nodes(id) ON DELETE CASCADE,
				user_id BIGINT,
				group_id BIGINT,
				level TEXT NOT NULL,
				created_at TIMESTAMP NOT NULL,
				updated_at TIMESTAMP NOT NULL,
				CHECK ((user_id IS NULL) <> (group_id IS NULL))
			);
			CREATE UNIQUE INDEX IF NOT EXISTS idx_grants_node_user
				ON grants(node_id, user_id) WHERE user_id IS NOT NULL;
			CREATE UNIQUE INDEX IF NOT EXISTS idx_grants_node_group
				ON grants(node_id, group_id) WHERE group_id IS NOT NULL;
			CREATE INDEX IF NOT EXISTS idx_grants_node ON grants(node_id);
		`,
	},
}

// RunMigrations applies the authz schema. Depends on the hierarchy
// schema (grants reference nodes).
func RunMigrations(ctx context.Context, db *sql.DB) error {
	return migrate.Run(ctx, db, "authz_migrations", Migrations)
}
