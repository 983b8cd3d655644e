package groups

import (
	"errors"
	"fmt"
)

// ErrGroupNotFound is returned when a referenced group does not exist
var ErrGroupNotFound = errors.New("group not found")

// ErrEdgeNotFound is returned when unnesting an edge that does not exist
var ErrEdgeNotFound = errors.New("nesting edge not found")

// ErrMemberNotFound is returned when removing a user who is not a direct
// member of the group
var ErrMemberNotFound = errors.New("user is not a direct member of group")

// ErrDuplicateEdge is returned when nesting an already-nested pair
var ErrDuplicateEdge = errors.New("nesting edge already exists")

// ErrDuplicateMember is returned when adding a user who is already a
// direct member of the group
var ErrDuplicateMember = errors.New("user is already a direct member of group")

// ErrCrossWorkspace is returned when nesting groups from different
// workspaces
var ErrCrossWorkspace = errors.New("groups belong to different workspaces")

// CycleError is returned when a nest would make a group contain itself,
// directly or transitively. It is detected before any row is written.
type CycleError struct {
	ParentGroupID int64
	ChildGroupID  int64
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("nesting group %d under %d would create a cycle", e.ChildGroupID, e.ParentGroupID)
}

// InvariantError reports that the group closure or flattened membership
// diverged from the nesting edges and direct memberships
type InvariantError struct {
	Detail string
}

func (e *InvariantError) Error() string {
	return fmt.Sprintf("group index invariant violated: %s", e.Detail)
}
