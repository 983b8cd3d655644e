package authz

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Store persists permission grants
type Store struct {
	db *sql.DB
}

// NewStore creates a new grant store
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// SetGrant creates or updates the grant for (node, grantee). Setting the
// same level twice is a no-op; setting LevelNone is an explicit denial,
// not a removal.
func (s *Store) SetGrant(ctx context.Context, grant *Grant) error {
	if (grant.UserID == nil) == (grant.GroupID == nil) {
		return ErrInvalidGrantee
	}
	if !grant.Level.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidLevel, grant.Level)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to start transaction: %w", err)
	}
	defer tx.Rollback()

	var one int
	err = tx.QueryRowContext(ctx, `SELECT 1 FROM nodes WHERE id = $1`, grant.NodeID).Scan(&one)
	if err == sql.ErrNoRows {
		return ErrNodeNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to look up node: %w", err)
	}

	// Update-then-insert rather than ON CONFLICT: the uniqueness is over
	// a nullable column pair, which upsert targets handle poorly.
	now := time.Now()
	var result sql.Result
	if grant.UserID != nil {
		result, err = tx.ExecContext(ctx, `
			UPDATE grants SET level = $1, updated_at = $2
			WHERE node_id = $3 AND user_id = $4
		`, grant.Level, now, grant.NodeID, *grant.UserID)
	} else {
		result, err = tx.ExecContext(ctx, `
			UPDATE grants SET level = $1, updated_at = $2
			WHERE node_id = $3 AND group_id = $4
		`, grant.Level, now, grant.NodeID, *grant.GroupID)
	}
	if err != nil {
		return fmt.Errorf("failed to update grant: %w", err)
	}

	updated, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read update count: %w", err)
	}

	if updated == 0 {
		err = tx.QueryRowContext(ctx, `
			INSERT INTO grants (node_id, user_id, group_id, level, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6)
			RETURNING id
		`, grant.NodeID, grant.UserID, grant.GroupID, grant.Level, now, now).Scan(&grant.ID)
		if err != nil {
			return fmt.Errorf("failed to insert grant: %w", err)
		}
		grant.CreatedAt = now
	} else if grant.UserID != nil {
		err = tx.QueryRowContext(ctx, `
			SELECT id, created_at FROM grants WHERE node_id = $1 AND user_id = $2
		`, grant.NodeID, *grant.UserID).Scan(&grant.ID, &grant.CreatedAt)
		if err != nil {
			return fmt.Errorf("failed to read updated grant: %w", err)
		}
	} else {
		err = tx.QueryRowContext(ctx, `
			SELECT id, created_at FROM grants WHERE node_id = $1 AND group_id = $2
		`, grant.NodeID, *grant.GroupID).Scan(&grant.ID, &grant.CreatedAt)
		if err != nil {
			return fmt.Errorf("failed to read updated grant: %w", err)
		}
	}
	grant.UpdatedAt = now

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit grant: %w", err)
	}
	return nil
}

// RemoveGrant deletes the grant for (node, grantee), reverting the pair
// to inheritance. Distinct from setting LevelNone.
func (s *Store) RemoveGrant(ctx context.Context, nodeID int64, userID, groupID *int64) error {
	if (userID == nil) == (groupID == nil) {
		return ErrInvalidGrantee
	}

	var result sql.Result
	var err error
	if userID != nil {
		result, err = s.db.ExecContext(ctx, `
			DELETE FROM grants WHERE node_id = $1 AND user_id = $2
		`, nodeID, *userID)
	} else {
		result, err = s.db.ExecContext(ctx, `
			DELETE FROM grants WHERE node_id = $1 AND group_id = $2
		`, nodeID, *groupID)
	}
	if err != nil {
		return fmt.Errorf("failed to delete grant: %w", err)
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return ErrGrantNotFound
	}
	return nil
}

// ListGrants returns every grant on a node
func (s *Store) ListGrants(ctx context.Context, nodeID int64) ([]Grant, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, node_id, user_id, group_id, level, created_at, updated_at
		FROM grants
		WHERE node_id = $1
		ORDER BY id ASC
	`, nodeID)
	if err != nil {
		return nil, fmt.Errorf("failed to list grants: %w", err)
	}
	defer rows.Close()

	var result []Grant
	for rows.Next() {
		var grant Grant
		var userID, groupID sql.NullInt64
		if err := rows.Scan(&grant.ID, &grant.NodeID, &userID, &groupID, &grant.Level, &grant.CreatedAt, &grant.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan grant: %w", err)
		}
		if userID.Valid {
			id := userID.Int64
			grant.UserID = &id
		}
		if groupID.Valid {
			id := groupID.Int64
			grant.GroupID = &id
		}
		result = append(result, grant)
	}
	return result, rows.Err()
}
