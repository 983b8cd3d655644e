package hierarchy

import (
	"time"
)

// Node represents a document node in a workspace tree
type Node struct {
	ID          int64     `json:"id"`
	WorkspaceID int64     `json:"workspace_id"`
	Title       string    `json:"title"`
	ParentID    *int64    `json:"parent_id,omitempty"` // nil for roots
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// AncestryEntry is one row of the closure index relative to a node
type AncestryEntry struct {
	NodeID int64 `json:"node_id"`
	Depth  int   `json:"depth"` // 0 = the node itself
}
