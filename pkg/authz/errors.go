package authz

import (
	"errors"
)

// ErrGrantNotFound is returned when removing a grant that does not exist
var ErrGrantNotFound = errors.New("grant not found")

// ErrNodeNotFound is returned when a grant or resolution references a
// missing node
var ErrNodeNotFound = errors.New("node not found")

// ErrInvalidLevel is returned for a level outside the known order
var ErrInvalidLevel = errors.New("invalid access level")

// ErrInvalidGrantee is returned when a grant names neither or both of a
// user and a group
var ErrInvalidGrantee = errors.New("grant must name exactly one of user or group")
