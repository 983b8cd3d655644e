package workspace

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Store persists workspaces, members, defaults, and users
type Store struct {
	db *sql.DB
}

// NewStore creates a new workspace store
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// CreateWorkspace inserts a workspace
func (s *Store) CreateWorkspace(ctx context.Context, ws *Workspace) error {
	now := time.Now()
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO workspaces (name, created_at, updated_at)
		VALUES ($1, $2, $3)
		RETURNING id
	`, ws.Name, now, now).Scan(&ws.ID)
	if err != nil {
		return fmt.Errorf("failed to create workspace: %w", err)
	}
	ws.CreatedAt = now
	ws.UpdatedAt = now
	return nil
}

// GetWorkspace retrieves a workspace by ID
func (s *Store) GetWorkspace(ctx context.Context, workspaceID int64) (*Workspace, error) {
	var ws Workspace
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, created_at, updated_at FROM workspaces WHERE id = $1
	`, workspaceID).Scan(&ws.ID, &ws.Name, &ws.CreatedAt, &ws.UpdatedAt)

	if err == sql.ErrNoRows {
		return nil, ErrWorkspaceNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get workspace: %w", err)
	}
	return &ws, nil
}

// AddMember makes a user a member of a workspace
func (s *Store) AddMember(ctx context.Context, workspaceID, userID int64) error {
	var one int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM workspaces WHERE id = $1`, workspaceID).Scan(&one)
	if err == sql.ErrNoRows {
		return ErrWorkspaceNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to look up workspace: %w", err)
	}

	err = s.db.QueryRowContext(ctx, `
		SELECT 1 FROM workspace_members WHERE workspace_id = $1 AND user_id = $2
	`, workspaceID, userID).Scan(&one)
	if err == nil {
		return ErrDuplicateMember
	}
	if err != sql.ErrNoRows {
		return fmt.Errorf("failed duplicate member check: %w", err)
	}

	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO workspace_members (workspace_id, user_id) VALUES ($1, $2)
	`, workspaceID, userID); err != nil {
		return fmt.Errorf("failed to add workspace member: %w", err)
	}
	return nil
}

// RemoveMember removes a user from a workspace
func (s *Store) RemoveMember(ctx context.Context, workspaceID, userID int64) error {
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM workspace_members WHERE workspace_id = $1 AND user_id = $2
	`, workspaceID, userID)
	if err != nil {
		return fmt.Errorf("failed to remove workspace member: %w", err)
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return ErrMemberNotFound
	}
	return nil
}

// IsMember reports whether the user is a member of the workspace
func (s *Store) IsMember(ctx context.Context, workspaceID, userID int64) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, `
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

// SetDefaultLevel stores the workspace's fallback access level. The level
// string is validated by the caller.
func (s *Store) SetDefaultLevel(ctx context.Context, workspaceID int64, level string) error {
	var one int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM workspaces WHERE id = $1`, workspaceID).Scan(&one)
	if err == sql.ErrNoRows {
		return ErrWorkspaceNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to look up workspace: %w", err)
	}

	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO workspace_defaults (workspace_id, level)
		VALUES ($1, $2)
		ON CONFLICT (workspace_id) DO UPDATE SET level = EXCLUDED.level
	`, workspaceID, level); err != nil {
		return fmt.Errorf("failed to set workspace default: %w", err)
	}
	return nil
}

// DefaultLevel returns the workspace's fallback level, and whether one is
// configured at all
func (s *Store) DefaultLevel(ctx context.Context, workspaceID int64) (string, bool, error) {
	var level string
	err := s.db.QueryRowContext(ctx, `
		SELECT level FROM workspace_defaults WHERE workspace_id = $1
	`, workspaceID).Scan(&level)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to get workspace default: %w", err)
	}
	return level, true, nil
}

// CreateUser inserts a user account
func (s *Store) CreateUser(ctx context.Context, user *User) error {
	now := time.Now()
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO users (username, email, api_token, created_at)
		VALUES ($1, $2, $3, $4)
		RETURNING id
	`, user.Username, user.Email, user.APIToken, now).Scan(&user.ID)
	if err != nil {
		return fmt.Errorf("failed to create user: %w", err)
	}
	user.CreatedAt = now
	return nil
}

// GetUser retrieves a user by ID
func (s *Store) GetUser(ctx context.Context, userID int64) (*User, error) {
	var user User
	err := s.db.QueryRowContext(ctx, `
		SELECT id, username, email, api_token, created_at FROM users WHERE id = $1
	`, userID).Scan(&user.ID, &user.Username, &user.Email, &user.APIToken, &user.CreatedAt)

	if err == sql.ErrNoRows {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return &user, nil
}

// GetUserByToken retrieves the user owning an API token. Used by the
// authentication middleware.
func (s *Store) GetUserByToken(ctx context.Context, token string) (*User, error) {
	var user User
	err := s.db.QueryRowContext(ctx, `
		SELECT id, username, email, api_token, created_at FROM users WHERE api_token = $1
	`, token).Scan(&user.ID, &user.Username, &user.Email, &user.APIToken, &user.CreatedAt)

	if err == sql.ErrNoRows {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up token: %w", err)
	}
	return &user, nil
}

// ValidateToken implements the middleware TokenValidator contract,
// returning the authenticated user's ID
func (s *Store) ValidateToken(ctx context.Context, token string) (int64, error) {
	user, err := s.GetUserByToken(ctx, token)
	if err != nil {
		return 0, err
	}
	return user.ID, nil
}
