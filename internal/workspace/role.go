package workspace

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidRole indicates a role string outside the grantable set.
var ErrInvalidRole = errors.New("workspace: invalid role")

// Role is the permission level a user holds on a scope. Levels form a total
// order; authorization checks compare ordinals, never role names.
type Role int

const (
	RoleNone Role = iota
	RoleViewer
	RoleEditor
	RoleOwner
)

// AtLeast reports whether the role grants at minimum the required level.
func (r Role) AtLeast(required Role) bool {
	return r >= required
}

// String returns the persisted role name.
func (r Role) String() string {
	switch r {
	case RoleOwner:
		return "owner"
	case RoleEditor:
		return "editor"
	case RoleViewer:
		return "viewer"
	default:
		return "none"
	}
}

// ParseGrantableRole validates a role string for collaborator grants. Only
// editor and viewer may be granted; ownership moves via TransferOwnership.
func ParseGrantableRole(raw string) (Role, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "editor":
		return RoleEditor, nil
	case "viewer":
		return RoleViewer, nil
	default:
		return RoleNone, fmt.Errorf("%w: %q", ErrInvalidRole, raw)
	}
}
