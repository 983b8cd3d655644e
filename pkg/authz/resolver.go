package authz

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// Resolver computes the effective access of a user on a node. It is a
// pure read over the ancestry index, the flattened membership index, the
// grant table, and workspace defaults; it never writes.
type Resolver struct {
	db *sql.DB
}

// NewResolver creates a new resolver
func NewResolver(db *sql.DB) *Resolver {
	return &Resolver{db: db}
}

type chainEntry struct {
	nodeID int64
	depth  int
}

// Resolve walks the node's ancestor chain by ascending depth. At each
// depth a user grant wins outright; otherwise the highest-ranked grant
// among the user's groups answers. The first depth with any applicable
// grant terminates the walk. With no grant on the chain, the workspace
// default applies to workspace members; everyone else gets NoAccess.
func (r *Resolver) Resolve(ctx context.Context, userID, nodeID int64) (Resolution, error) {
	chain, err := r.ancestorChain(ctx, nodeID)
	if err != nil {
		return Resolution{}, err
	}

	var workspaceID int64
	err = r.db.QueryRowContext(ctx, `SELECT workspace_id FROM nodes WHERE id = $1`, nodeID).
		Scan(&workspaceID)
	if err == sql.ErrNoRows {
		return Resolution{}, ErrNodeNotFound
	}
	if err != nil {
		return Resolution{}, fmt.Errorf("failed to look up node workspace: %w", err)
	}

	userGroups, err := r.userGroups(ctx, userID)
	if err != nil {
		return Resolution{}, err
	}

	userGrants, groupGrants, err := r.grantsAlong(ctx, chain, userID, userGroups)
	if err != nil {
		return Resolution{}, err
	}

	for _, entry := range chain {
		if level, ok := userGrants[entry.nodeID]; ok {
			return resolutionAt(level, entry, workspaceID), nil
		}

		levels := groupGrants[entry.nodeID]
		if len(levels) == 0 {
			continue
		}
		// Max rank across the user's groups at this depth. A group-level
		// none loses to any more permissive group here.
		best := levels[0]
		for _, level := range levels[1:] {
			if level.Rank() > best.Rank() {
				best = level
			}
		}
		return resolutionAt(best, entry, workspaceID), nil
	}

	defaultLevel, configured, err := r.workspaceDefault(ctx, workspaceID)
	if err != nil {
		return Resolution{}, err
	}
	if configured {
		member, err := r.isWorkspaceMember(ctx, workspaceID, userID)
		if err != nil {
			return Resolution{}, err
		}
		if member {
			return Resolution{
				Level:       defaultLevel,
				Source:      SourceWorkspaceDefault,
				WorkspaceID: workspaceID,
			}, nil
		}
	}

	return Resolution{
		Level:       LevelNone,
		Source:      SourceNoAccess,
		WorkspaceID: workspaceID,
	}, nil
}

func resolutionAt(level Level, entry chainEntry, workspaceID int64) Resolution {
	source := SourceInherited
	if entry.depth == 0 {
		source = SourceDirect
	}
	return Resolution{
		Level:        level,
		Source:       source,
		SourceNodeID: entry.nodeID,
		Depth:        entry.depth,
		WorkspaceID:  workspaceID,
	}
}

func (r *Resolver) ancestorChain(ctx context.Context, nodeID int64) ([]chainEntry, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT ancestor_id, depth
		FROM node_closure
		WHERE descendant_id = $1
		ORDER BY depth ASC
	`, nodeID)
	if err != nil {
		return nil, fmt.Errorf("failed to query ancestor chain: %w", err)
	}
	defer rows.Close()

	var chain []chainEntry
	for rows.Next() {
		var entry chainEntry
		if err := rows.Scan(&entry.nodeID, &entry.depth); err != nil {
			return nil, fmt.Errorf("failed to scan chain entry: %w", err)
		}
		chain = append(chain, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read ancestor chain: %w", err)
	}
	if len(chain) == 0 {
		return nil, ErrNodeNotFound
	}
	return chain, nil
}

func (r *Resolver) userGroups(ctx context.Context, userID int64) (map[int64]bool, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT group_id FROM group_members_flat WHERE user_id = $1
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query user groups: %w", err)
	}
	defer rows.Close()

	groups := make(map[int64]bool)
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan group id: %w", err)
		}
		groups[id] = true
	}
	return groups, rows.Err()
}

// grantsAlong loads every grant on the chain in one query and splits it
// into the user's own grants and the grants of groups the user is in
func (r *Resolver) grantsAlong(ctx context.Context, chain []chainEntry, userID int64, userGroups map[int64]bool) (map[int64]Level, map[int64][]Level, error) {
	parts := make([]string, len(chain))
	args := make([]interface{}, len(chain))
	for i, entry := range chain {
		parts[i] = fmt.Sprintf("$%d", i+1)
		args[i] = entry.nodeID
	}

	rows, err := r.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT node_id, user_id, group_id, level
		FROM grants
		WHERE node_id IN (%s)
	`, strings.Join(parts, ", ")), args...)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to query grants: %w", err)
	}
	defer rows.Close()

	userGrants := make(map[int64]Level)
	groupGrants := make(map[int64][]Level)
	for rows.Next() {
		var nodeID int64
		var grantUser, grantGroup sql.NullInt64
		var level Level
		if err := rows.Scan(&nodeID, &grantUser, &grantGroup, &level); err != nil {
			return nil, nil, fmt.Errorf("failed to scan grant: %w", err)
		}
		switch {
		case grantUser.Valid && grantUser.Int64 == userID:
			userGrants[nodeID] = level
		case grantGroup.Valid && userGroups[grantGroup.Int64]:
			groupGrants[nodeID] = append(groupGrants[nodeID], level)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, nil, fmt.Errorf("failed to read grants: %w", err)
	}
	return userGrants, groupGrants, nil
}

func (r *Resolver) workspaceDefault(ctx context.Context, workspaceID int64) (Level, bool, error) {
	var raw string
	err := r.db.QueryRowContext(ctx, `
		SELECT level FROM workspace_defaults WHERE workspace_id = $1
	`, workspaceID).Scan(&raw)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to query workspace default: %w", err)
	}
	level, err := ParseLevel(raw)
	if err != nil {
		return "", false, err
	}
	return level, true, nil
}

func (r *Resolver) isWorkspaceMember(ctx context.Context, workspaceID, userID int64) (bool, error) {
	var one int
	err := r.db.QueryRowContext(ctx, `
		SELECT 1 FROM workspace_members WHERE workspace_id = $1 AND user_id = $2
	`, workspaceID, userID).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed membership check: %w", err)
	}
	return true, nil
}
