package hierarchy

import (
	"context"
	"database/sql"

	"github.com/arborhq/arbor/pkg/migrate"
)

// Migrations is the ordered schema history for the hierarchy tables
var Migrations = []migrate.Migration{
	{
		Version:     1,
		Description: "create nodes table",
		SQL: `
			CREATE TABLE IF NOT EXISTS nodes (
				id BIGSERIAL PRIMARY KEY,
				workspace_id BIGINT NOT NULL,
				title TEXT NOT NULL,
				parent_id BIGINT REFERENCES nodes(id),
				created_at TIMESTAMP NOT NULL,
				updated_at TIMESTAMP NOT NULL
			);
			CREATE INDEX IF NOT EXISTS idx_nodes_workspace ON nodes(workspace_id);
			CREATE INDEX IF NOT EXISTS idx_nodes_parent ON nodes(parent_id);
		`,
	},
	{
		Version:     2,
		Description: "create node_closure ancestry index",
		SQL: `
			CREATE TABLE IF NOT EXISTS node_closure (
				ancestor_id BIGINT NOT NULL,
				descendant_id BIGINT NOT NULL,
				depth INT NOT NULL,
				PRIMARY KEY (ancestor_id, descendant_id)
			);
			CREATE INDEX IF NOT EXISTS idx_node_closure_descendant ON node_closure(descendant_id, depth);
			CREATE INDEX IF NOT EXISTS idx_node_closure_ancestor ON node_closure(ancestor_id, depth);
		`,
	},
}

// RunMigrations applies the hierarchy schema
func RunMigrations(ctx context.Context, db *sql.DB) error {
	return migrate.Run(ctx, db, "hierarchy_migrations", Migrations)
}
