package workspace

import (
	"errors"
)

// ErrWorkspaceNotFound is returned when a referenced workspace does not exist
var ErrWorkspaceNotFound = errors.New("workspace not found")

// ErrUserNotFound is returned when a referenced user does not exist
var ErrUserNotFound = errors.New("user not found")

// ErrDuplicateMember is returned when adding a user who is already a member
var ErrDuplicateMember = errors.New("user is already a workspace member")

// ErrMemberNotFound is returned when removing a user who is not a member
var ErrMemberNotFound = errors.New("user is not a workspace member")
