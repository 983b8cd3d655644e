package authz

import (
	"fmt"
	"time"
)

// Level is a totally ordered access level. LevelNone is an explicit
// denial, distinct from having no grant at all.
type Level string

const (
	LevelNone       Level = "none"
	LevelRead       Level = "read"
	LevelWrite      Level = "write"
	LevelFullAccess Level = "full_access"
)

// Rank returns the level's position in the order, or -1 for an unknown
// level
func (l Level) Rank() int {
	switch l {
	case LevelNone:
		return 0
	case LevelRead:
		return 1
	case LevelWrite:
		return 2
	case LevelFullAccess:
		return 3
	default:
		return -1
	}
}

// Valid reports whether the level is one of the four known levels
func (l Level) Valid() bool {
	return l.Rank() >= 0
}

// ParseLevel converts a string into a Level
func ParseLevel(s string) (Level, error) {
	level := Level(s)
	if !level.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidLevel, s)
	}
	return level, nil
}

// Source identifies where a resolved level came from
type Source string

const (
	// SourceDirect means a grant on the node itself answered
	SourceDirect Source = "direct"
	// SourceInherited means a grant on an ancestor answered
	SourceInherited Source = "inherited"
	// SourceWorkspaceDefault means the workspace fallback answered
	SourceWorkspaceDefault Source = "workspace_default"
	// SourceNoAccess means nothing answered
	SourceNoAccess Source = "no_access"
)

// Resolution is the effective access of a user on a node
type Resolution struct {
	Level        Level  `json:"level"`
	Source       Source `json:"source"`
	SourceNodeID int64  `json:"source_node_id,omitempty"`
	Depth        int    `json:"depth"`
	WorkspaceID  int64  `json:"-"`
}

// Allows reports whether the resolution grants at least the given level.
// An explicit none denies everything, as does NoAccess.
func (r Resolution) Allows(min Level) bool {
	if r.Source == SourceNoAccess {
		return false
	}
	return r.Level.Rank() >= min.Rank() && r.Level != LevelNone
}

// Grant attaches a level to exactly one of (node, user) or (node, group)
type Grant struct {
	ID        int64     `json:"id"`
	NodeID    int64     `json:"node_id"`
	UserID    *int64    `json:"user_id,omitempty"`
	GroupID   *int64    `json:"group_id,omitempty"`
	Level     Level     `json:"level"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
