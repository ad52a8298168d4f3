package workspace

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/scopedesk/backend/internal/audit"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	// ErrNotFound covers scopes that do not exist and scopes the caller may
	// not see; the two are deliberately indistinguishable.
	ErrNotFound = errors.New("workspace: scope not found")
	// ErrForbidden indicates a known role that is insufficient for the operation.
	ErrForbidden = errors.New("workspace: insufficient role")
	// ErrInvalidState indicates a mutation that would break the single-owner invariant.
	ErrInvalidState = errors.New("workspace: invalid state")

	errMissingDatabase  = errors.New("database handle is required")
	errMissingIDs       = errors.New("id provider is required")
	errMissingDirectory = errors.New("user directory is required")
	noOpLogger          = zap.NewNop()
)

const (
	opServiceNew         = "workspace.service.new"
	opCreateScope        = "workspace.create_scope"
	opResolve            = "workspace.resolve"
	opInvite             = "workspace.invite_collaborator"
	opRemoveCollaborator = "workspace.remove_collaborator"
	opTransferOwnership  = "workspace.transfer_ownership"
	opSetSharing         = "workspace.set_sharing"
	opUpdateSection      = "workspace.update_section"
	opListSections       = "workspace.list_sections"

	// SectionOverview is the section whose audit snapshots back field history.
	SectionOverview = "overview"
)

// ServiceError carries a stable machine-readable code alongside the cause.
type ServiceError struct {
	code string
	err  error
}

func (e *ServiceError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *ServiceError) Unwrap() error {
	return e.err
}

func (e *ServiceError) Code() string {
	return e.code
}

func newServiceError(operation, reason string, cause error) error {
	code := fmt.Sprintf("%s.%s", operation, reason)
	return &ServiceError{code: code, err: cause}
}

// IDProvider issues identifiers for new scopes and share tokens.
type IDProvider interface {
	NewID() (string, error)
}

// UserDirectory answers whether a user identifier is known to the system.
// Lookups take the caller's transaction handle: the connection pool may be
// capped at one connection, so a lookup on a separate session would wait on
// the very transaction that issued it.
type UserDirectory interface {
	ExistsIn(tx *gorm.DB, userID string) (bool, error)
}

// AuditRecorder appends an audit entry using the supplied transaction handle
// so the entry commits or rolls back with the data write it describes.
type AuditRecorder interface {
	RecordIn(tx *gorm.DB, entry audit.Entry) error
}

// ServiceConfig describes the dependencies for the workspace service.
type ServiceConfig struct {
	Database   *gorm.DB
	Clock      func() time.Time
	IDProvider IDProvider
	Directory  UserDirectory
	Auditor    AuditRecorder
	Logger     *zap.Logger
}

// Service owns scope lifecycle, role resolution and the audited section
// write path.
type Service struct {
	db         *gorm.DB
	clock      func() time.Time
	idProvider IDProvider
	directory  UserDirectory
	auditor    AuditRecorder
	logger     *zap.Logger
}

// NewService validates dependencies and constructs the workspace service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, newServiceError(opServiceNew, "missing_database", errMissingDatabase)
	}
	if cfg.IDProvider == nil {
		return nil, newServiceError(opServiceNew, "missing_id_provider", errMissingIDs)
	}
	if cfg.Directory == nil {
		return nil, newServiceError(opServiceNew, "missing_directory", errMissingDirectory)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &Service{
		db:         cfg.Database,
		clock:      clock,
		idProvider: cfg.IDProvider,
		directory:  cfg.Directory,
		auditor:    cfg.Auditor,
		logger:     logger,
	}, nil
}

// CreateScope creates a scope owned by ownerID.
func (s *Service) CreateScope(ctx context.Context, ownerID UserID, title string) (Scope, error) {
	scopeID, err := s.idProvider.NewID()
	if err != nil {
		s.logError(opCreateScope, "id_generation_failed", err)
		return Scope{}, newServiceError(opCreateScope, "id_generation_failed", err)
	}
	now := s.clock().UTC().Unix()
	scope := Scope{
		ScopeID:          scopeID,
		OwnerID:          ownerID.String(),
		Title:            title,
		CreatedAtSeconds: now,
		UpdatedAtSeconds: now,
	}
	if err := s.db.WithContext(ctx).Create(&scope).Error; err != nil {
		s.logError(opCreateScope, "scope_insert_failed", err, zap.String("owner_id", ownerID.String()))
		return Scope{}, newServiceError(opCreateScope, "scope_insert_failed", err)
	}
	return scope, nil
}

// Access identifies the caller for a resolution. UserID may be empty when
// only a share token is presented.
type Access struct {
	UserID     string
	ShareToken string
}

// Resolve determines the caller's permission level for the scope. A missing
// scope resolves to ErrNotFound; a known scope without any grant resolves to
// RoleNone with no error so callers can decide how to mask it.
func (s *Service) Resolve(ctx context.Context, scopeID ScopeID, access Access) (Role, error) {
	return s.resolveIn(s.db.WithContext(ctx), scopeID, access)
}

func (s *Service) resolveIn(tx *gorm.DB, scopeID ScopeID, access Access) (Role, error) {
	var scope Scope
	err := tx.Where("scope_id = ?", scopeID.String()).Take(&scope).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return RoleNone, newServiceError(opResolve, "scope_not_found", ErrNotFound)
	}
	if err != nil {
		s.logError(opResolve, "scope_lookup_failed", err, zap.String("scope_id", scopeID.String()))
		return RoleNone, newServiceError(opResolve, "scope_lookup_failed", err)
	}

	if access.UserID != "" {
		if scope.OwnerID == access.UserID {
			return RoleOwner, nil
		}
		var grant Collaborator
		err := tx.Where("scope_id = ? AND user_id = ?", scopeID.String(), access.UserID).Take(&grant).Error
		if err == nil {
			return grant.Role(), nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			s.logError(opResolve, "grant_lookup_failed", err, zap.String("scope_id", scopeID.String()))
			return RoleNone, newServiceError(opResolve, "grant_lookup_failed", err)
		}
	}

	// Anonymous read path: a matching token grants viewer without a user id.
	if scope.SharingEnabled && access.ShareToken != "" && access.ShareToken == scope.ShareToken {
		return RoleViewer, nil
	}
	return RoleNone, nil
}

// InviteCollaborator grants or updates a collaborator role. Only the owner
// may invite, and the owner cannot be granted a collaborator row.
func (s *Service) InviteCollaborator(ctx context.Context, scopeID ScopeID, actorID UserID, targetID UserID, role Role) error {
	if role != RoleEditor && role != RoleViewer {
		return newServiceError(opInvite, "invalid_role", ErrInvalidRole)
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		scope, err := s.lockScope(tx, opInvite, scopeID)
		if err != nil {
			return err
		}
		if scope.OwnerID != actorID.String() {
			return newServiceError(opInvite, "not_owner", ErrForbidden)
		}
		if scope.OwnerID == targetID.String() {
			return newServiceError(opInvite, "target_is_owner", ErrInvalidState)
		}
		known, err := s.directory.ExistsIn(tx, targetID.String())
		if err != nil {
			s.logError(opInvite, "directory_lookup_failed", err, zap.String("user_id", targetID.String()))
			return newServiceError(opInvite, "directory_lookup_failed", err)
		}
		if !known {
			return newServiceError(opInvite, "unknown_user", ErrNotFound)
		}
		grant := Collaborator{
			ScopeID:          scopeID.String(),
			UserID:           targetID.String(),
			RoleName:         role.String(),
			CreatedAtSeconds: s.clock().UTC().Unix(),
		}
		err = tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "scope_id"}, {Name: "user_id"}},
			DoUpdates: clause.Assignments(map[string]interface{}{"role": role.String()}),
		}).Create(&grant).Error
		if err != nil {
			s.logError(opInvite, "grant_upsert_failed", err, zap.String("scope_id", scopeID.String()))
			return newServiceError(opInvite, "grant_upsert_failed", err)
		}
		return nil
	})
}

// RemoveCollaborator revokes a collaborator grant. Only the owner may remove.
func (s *Service) RemoveCollaborator(ctx context.Context, scopeID ScopeID, actorID UserID, targetID UserID) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		scope, err := s.lockScope(tx, opRemoveCollaborator, scopeID)
		if err != nil {
			return err
		}
		if scope.OwnerID != actorID.String() {
			return newServiceError(opRemoveCollaborator, "not_owner", ErrForbidden)
		}
		result := tx.Where("scope_id = ? AND user_id = ?", scopeID.String(), targetID.String()).
			Delete(&Collaborator{})
		if result.Error != nil {
			s.logError(opRemoveCollaborator, "grant_delete_failed", result.Error, zap.String("scope_id", scopeID.String()))
			return newServiceError(opRemoveCollaborator, "grant_delete_failed", result.Error)
		}
		if result.RowsAffected == 0 {
			return newServiceError(opRemoveCollaborator, "grant_not_found", ErrNotFound)
		}
		return nil
	})
}

// TransferOwnership atomically moves ownership to newOwnerID and demotes the
// previous owner to an editor collaborator. At no observable point does the
// scope have zero owners or two owners.
func (s *Service) TransferOwnership(ctx context.Context, scopeID ScopeID, actorID UserID, newOwnerID UserID) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		scope, err := s.lockScope(tx, opTransferOwnership, scopeID)
		if err != nil {
			return err
		}
		if scope.OwnerID != actorID.String() {
			return newServiceError(opTransferOwnership, "not_owner", ErrForbidden)
		}
		if scope.OwnerID == newOwnerID.String() {
			return newServiceError(opTransferOwnership, "already_owner", ErrInvalidState)
		}
		known, err := s.directory.ExistsIn(tx, newOwnerID.String())
		if err != nil {
			s.logError(opTransferOwnership, "directory_lookup_failed", err, zap.String("user_id", newOwnerID.String()))
			return newServiceError(opTransferOwnership, "directory_lookup_failed", err)
		}
		if !known {
			return newServiceError(opTransferOwnership, "unknown_user", ErrNotFound)
		}

		now := s.clock().UTC().Unix()
		updates := map[string]interface{}{"owner_id": newOwnerID.String(), "updated_at_s": now}
		if err := tx.Model(&Scope{}).Where("scope_id = ?", scopeID.String()).Updates(updates).Error; err != nil {
			s.logError(opTransferOwnership, "owner_update_failed", err, zap.String("scope_id", scopeID.String()))
			return newServiceError(opTransferOwnership, "owner_update_failed", err)
		}
		if err := tx.Where("scope_id = ? AND user_id = ?", scopeID.String(), newOwnerID.String()).
			Delete(&Collaborator{}).Error; err != nil {
			s.logError(opTransferOwnership, "grant_delete_failed", err, zap.String("scope_id", scopeID.String()))
			return newServiceError(opTransferOwnership, "grant_delete_failed", err)
		}
		demoted := Collaborator{
			ScopeID:          scopeID.String(),
			UserID:           scope.OwnerID,
			RoleName:         RoleEditor.String(),
			CreatedAtSeconds: now,
		}
		err = tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "scope_id"}, {Name: "user_id"}},
			DoUpdates: clause.Assignments(map[string]interface{}{"role": RoleEditor.String()}),
		}).Create(&demoted).Error
		if err != nil {
			s.logError(opTransferOwnership, "demotion_failed", err, zap.String("scope_id", scopeID.String()))
			return newServiceError(opTransferOwnership, "demotion_failed", err)
		}
		return nil
	})
}

// SetSharing enables or disables the anonymous share link. Enabling mints a
// fresh token; disabling clears it so old links stop working.
func (s *Service) SetSharing(ctx context.Context, scopeID ScopeID, actorID UserID, enabled bool) (string, error) {
	token := ""
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		scope, err := s.lockScope(tx, opSetSharing, scopeID)
		if err != nil {
			return err
		}
		if scope.OwnerID != actorID.String() {
			return newServiceError(opSetSharing, "not_owner", ErrForbidden)
		}
		if enabled {
			minted, err := s.idProvider.NewID()
			if err != nil {
				s.logError(opSetSharing, "id_generation_failed", err)
				return newServiceError(opSetSharing, "id_generation_failed", err)
			}
			token = minted
		}
		updates := map[string]interface{}{
			"sharing_enabled": enabled,
			"share_token":     token,
			"updated_at_s":    s.clock().UTC().Unix(),
		}
		if err := tx.Model(&Scope{}).Where("scope_id = ?", scopeID.String()).Updates(updates).Error; err != nil {
			s.logError(opSetSharing, "sharing_update_failed", err, zap.String("scope_id", scopeID.String()))
			return newServiceError(opSetSharing, "sharing_update_failed", err)
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	return token, nil
}

// SectionWrite describes one audited section mutation.
type SectionWrite struct {
	Section  string
	DataJSON string
	Action   string
	Detail   string
	Meta     audit.RequestMeta
}

// UpdateSection writes a section payload and appends the matching audit
// entry in one transaction. The caller's role is re-resolved inside the
// transaction so a grant revoked after the outer check cannot slip through.
func (s *Service) UpdateSection(ctx context.Context, scopeID ScopeID, actorID UserID, write SectionWrite) error {
	if write.Section == "" {
		return newServiceError(opUpdateSection, "missing_section", errors.New("section name required"))
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		role, err := s.resolveIn(tx, scopeID, Access{UserID: actorID.String()})
		if err != nil {
			return err
		}
		if !role.AtLeast(RoleEditor) {
			if role == RoleNone {
				return newServiceError(opUpdateSection, "scope_not_found", ErrNotFound)
			}
			return newServiceError(opUpdateSection, "insufficient_role", ErrForbidden)
		}

		var existing Section
		before := ""
		err = tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("scope_id = ? AND section = ?", scopeID.String(), write.Section).
			Take(&existing).Error
		if err == nil {
			before = existing.DataJSON
		} else if !errors.Is(err, gorm.ErrRecordNotFound) {
			s.logError(opUpdateSection, "section_select_failed", err, zap.String("scope_id", scopeID.String()))
			return newServiceError(opUpdateSection, "section_select_failed", err)
		}

		now := s.clock().UTC().Unix()
		row := Section{
			ScopeID:          scopeID.String(),
			Section:          write.Section,
			DataJSON:         write.DataJSON,
			UpdatedAtSeconds: now,
		}
		if err := tx.Save(&row).Error; err != nil {
			s.logError(opUpdateSection, "section_save_failed", err, zap.String("scope_id", scopeID.String()))
			return newServiceError(opUpdateSection, "section_save_failed", err)
		}

		if s.auditor != nil {
			action := write.Action
			if action == "" {
				action = "update"
			}
			entry := audit.Entry{
				ScopeID:    scopeID.String(),
				UserID:     actorID.String(),
				Section:    write.Section,
				Action:     action,
				BeforeJSON: before,
				AfterJSON:  write.DataJSON,
				Detail:     write.Detail,
				IPAddress:  write.Meta.IPAddress,
				UserAgent:  write.Meta.UserAgent,
				City:       write.Meta.City,
				Region:     write.Meta.Region,
			}
			if err := s.auditor.RecordIn(tx, entry); err != nil {
				s.logError(opUpdateSection, "audit_insert_failed", err, zap.String("scope_id", scopeID.String()))
				return newServiceError(opUpdateSection, "audit_insert_failed", err)
			}
		}
		return nil
	})
}

// ListSections returns all stored section rows for the scope.
func (s *Service) ListSections(ctx context.Context, scopeID ScopeID) ([]Section, error) {
	var sections []Section
	if err := s.db.WithContext(ctx).
		Where("scope_id = ?", scopeID.String()).
		Order("section ASC").
		Find(&sections).Error; err != nil {
		s.logError(opListSections, "query_failed", err, zap.String("scope_id", scopeID.String()))
		return nil, newServiceError(opListSections, "query_failed", err)
	}
	return sections, nil
}

func (s *Service) lockScope(tx *gorm.DB, operation string, scopeID ScopeID) (Scope, error) {
	var scope Scope
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("scope_id = ?", scopeID.String()).
		Take(&scope).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Scope{}, newServiceError(operation, "scope_not_found", ErrNotFound)
	}
	if err != nil {
		s.logError(operation, "scope_lookup_failed", err, zap.String("scope_id", scopeID.String()))
		return Scope{}, newServiceError(operation, "scope_lookup_failed", err)
	}
	return scope, nil
}

func (s *Service) loggerOrDefault() *zap.Logger {
	if s == nil || s.logger == nil {
		return noOpLogger
	}
	return s.logger
}

func (s *Service) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	s.loggerOrDefault().Error("workspace service error", attrs...)
}
