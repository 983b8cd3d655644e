package groups

import (
	"time"
)

// Group represents a named set of users within a workspace
type Group struct {
	ID          int64     `json:"id"`
	WorkspaceID int64     `json:"workspace_id"`
	Name        string    `json:"name"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// NestingEdge records that the parent group contains the child group
type NestingEdge struct {
	ParentGroupID int64 `json:"parent_group_id"`
	ChildGroupID  int64 `json:"child_group_id"`
}
