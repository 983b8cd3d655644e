package hierarchy

import (
	"errors"
	"fmt"
)

// ErrNodeNotFound is returned when a referenced node does not exist
var ErrNodeNotFound = errors.New("node not found")

// ErrCrossWorkspace is returned when a move targets a parent in a
// different workspace
var ErrCrossWorkspace = errors.New("parent belongs to a different workspace")

// CycleError is returned when a move would place a node under itself or
// under one of its own descendants. It is detected before any row is
// written.
type CycleError struct {
	NodeID      int64
	NewParentID int64
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("moving node %d under %d would create a cycle", e.NodeID, e.NewParentID)
}

// InvariantError reports that the closure index diverged from the
// adjacency pointers. It indicates a defect in index maintenance and is
// never recoverable by the caller.
type InvariantError struct {
	Detail string
}

func (e *InvariantError) Error() string {
	return fmt.Sprintf("ancestry index invariant violated: %s", e.Detail)
}
