package workspace

import (
	"errors"
	"fmt"
	"strings"
)

const maxIdentifierLength = 190

var (
	// ErrInvalidScopeID indicates a scope identifier that is empty or exceeds storage bounds.
	ErrInvalidScopeID = errors.New("workspace: invalid scope id")
	// ErrInvalidUserID indicates a user identifier that is empty or exceeds storage bounds.
	ErrInvalidUserID = errors.New("workspace: invalid user id")
)

// ScopeID represents a validated scope identifier.
type ScopeID string

// NewScopeID validates raw input and returns a ScopeID.
func NewScopeID(rawInput string) (ScopeID, error) {
	trimmed := strings.TrimSpace(rawInput)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidScopeID)
	}
	if len(trimmed) > maxIdentifierLength {
		return "", fmt.Errorf("%w: exceeds %d characters", ErrInvalidScopeID, maxIdentifierLength)
	}
	return ScopeID(trimmed), nil
}

// String returns the underlying string identifier.
func (id ScopeID) String() string {
	return string(id)
}

// UserID represents a validated user identifier.
type UserID string

// NewUserID validates raw input and returns a UserID.
func NewUserID(rawInput string) (UserID, error) {
	trimmed := strings.TrimSpace(rawInput)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidUserID)
	}
	if len(trimmed) > maxIdentifierLength {
		return "", fmt.Errorf("%w: exceeds %d characters", ErrInvalidUserID, maxIdentifierLength)
	}
	return UserID(trimmed), nil
}

// String returns the underlying string identifier.
func (id UserID) String() string {
	return string(id)
}

// Scope models one workspace document. Exactly one owner exists at all
// times; the owner never appears in the collaborators table.
type Scope struct {
	ScopeID          string `gorm:"column:scope_id;primaryKey;size:190;not null"`
	OwnerID          string `gorm:"column:owner_id;size:190;not null;index"`
	Title            string `gorm:"column:title;size:320;not null"`
	SharingEnabled   bool   `gorm:"column:sharing_enabled;not null;default:false"`
	ShareToken       string `gorm:"column:share_token;size:190;not null;default:''"`
	CreatedAtSeconds int64  `gorm:"column:created_at_s;not null"`
	UpdatedAtSeconds int64  `gorm:"column:updated_at_s;not null"`
}

// TableName provides the explicit table binding for GORM.
func (Scope) TableName() string {
	return "scopes"
}

// Collaborator grants a non-owner user access to a scope.
type Collaborator struct {
	ScopeID          string `gorm:"column:scope_id;primaryKey;size:190;not null"`
	UserID           string `gorm:"column:user_id;primaryKey;size:190;not null;index"`
	RoleName         string `gorm:"column:role;size:32;not null"`
	CreatedAtSeconds int64  `gorm:"column:created_at_s;not null"`
}

// TableName provides the explicit table binding for GORM.
func (Collaborator) TableName() string {
	return "scope_collaborators"
}

// Role decodes the persisted role name, defaulting to viewer for values
// written by older builds.
func (c Collaborator) Role() Role {
	role, err := ParseGrantableRole(c.RoleName)
	if err != nil {
		return RoleViewer
	}
	return role
}

// Section stores the JSON payload for one section of a scope record.
type Section struct {
	ScopeID          string `gorm:"column:scope_id;primaryKey;size:190;not null"`
	Section          string `gorm:"column:section;primaryKey;size:64;not null"`
	DataJSON         string `gorm:"column:data_json;type:text;not null"`
	UpdatedAtSeconds int64  `gorm:"column:updated_at_s;not null"`
}

// TableName provides the explicit table binding for GORM.
func (Section) TableName() string {
	return "scope_sections"
}
