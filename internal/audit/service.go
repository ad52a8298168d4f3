package audit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/scopedesk/backend/internal/record"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	opServiceNew   = "audit.service.new"
	opRecord       = "audit.record"
	opLog          = "audit.log"
	opFieldHistory = "audit.field_history"

	// DefaultEntryLimit bounds how many recent entries field history scans.
	DefaultEntryLimit = 50
	// DefaultChangeLimit bounds how many surviving changes are returned.
	DefaultChangeLimit = 10

	sectionOverview = "overview"
)

var (
	errMissingDatabase   = errors.New("database handle is required")
	errMissingIDProvider = errors.New("id provider is required")
	errMissingScopeID    = errors.New("scope identifier is required")
	errMissingSection    = errors.New("section name is required")
	noOpLogger           = zap.NewNop()
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

// IDProvider issues identifiers for new audit entries.
type IDProvider interface {
	NewID() (string, error)
}

// ServiceConfig describes the dependencies for the audit trail.
type ServiceConfig struct {
	Database   *gorm.DB
	Clock      func() time.Time
	IDProvider IDProvider
	Registry   *record.Registry
	Logger     *zap.Logger
}

// Service is the append-only audit trail. Record is the sole write path;
// rows are never updated or deleted here.
type Service struct {
	db         *gorm.DB
	clock      func() time.Time
	idProvider IDProvider
	registry   *record.Registry
	logger     *zap.Logger
}

// NewService validates dependencies and constructs the audit service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, newServiceError(opServiceNew, "missing_database", errMissingDatabase)
	}
	if cfg.IDProvider == nil {
		return nil, newServiceError(opServiceNew, "missing_id_provider", errMissingIDProvider)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	registry := cfg.Registry
	if registry == nil {
		registry = record.DefaultRegistry()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &Service{
		db:         cfg.Database,
		clock:      clock,
		idProvider: cfg.IDProvider,
		registry:   registry,
		logger:     logger,
	}, nil
}

// RecordIn appends one entry using the supplied transaction handle so the
// entry commits atomically with the data mutation it describes.
func (s *Service) RecordIn(tx *gorm.DB, entry Entry) error {
	if entry.ScopeID == "" {
		return newServiceError(opRecord, "missing_scope_id", errMissingScopeID)
	}
	if entry.Section == "" {
		return newServiceError(opRecord, "missing_section", errMissingSection)
	}
	entryID, err := s.idProvider.NewID()
	if err != nil {
		s.logError(opRecord, "id_generation_failed", err)
		return newServiceError(opRecord, "id_generation_failed", err)
	}
	entry.EntryID = entryID
	if entry.CreatedAtSeconds == 0 {
		entry.CreatedAtSeconds = s.clock().UTC().Unix()
	}
	if err := tx.Create(&entry).Error; err != nil {
		s.logError(opRecord, "entry_insert_failed", err, zap.String("scope_id", entry.ScopeID))
		return newServiceError(opRecord, "entry_insert_failed", err)
	}
	return nil
}

// Record appends one entry in its own transaction.
func (s *Service) Record(ctx context.Context, entry Entry) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return s.RecordIn(tx, entry)
	})
}

// Log returns the limit most recent entries for the scope, newest first.
func (s *Service) Log(ctx context.Context, scopeID string, limit int) ([]Entry, error) {
	if scopeID == "" {
		return nil, newServiceError(opLog, "missing_scope_id", errMissingScopeID)
	}
	if limit <= 0 {
		limit = DefaultEntryLimit
	}
	var entries []Entry
	if err := s.db.WithContext(ctx).
		Where("scope_id = ?", scopeID).
		Order("created_at_s DESC, entry_id DESC").
		Limit(limit).
		Find(&entries).Error; err != nil {
		s.logError(opLog, "query_failed", err, zap.String("scope_id", scopeID))
		return nil, newServiceError(opLog, "query_failed", err)
	}
	return entries, nil
}

// FieldHistory reconstructs the recent change history of one overview field.
// It scans up to entryLimit recent overview entries, keeps those where the
// field actually changed between the before and after snapshots, and returns
// at most changeLimit survivors, newest first. An entry whose snapshot fails
// to parse is skipped; it never aborts the rest of the scan.
func (s *Service) FieldHistory(ctx context.Context, scopeID, field string, entryLimit, changeLimit int) ([]FieldChange, error) {
	if scopeID == "" {
		return nil, newServiceError(opFieldHistory, "missing_scope_id", errMissingScopeID)
	}
	if field == "" {
		return nil, newServiceError(opFieldHistory, "missing_field", errors.New("field name is required"))
	}
	if entryLimit <= 0 {
		entryLimit = DefaultEntryLimit
	}
	if changeLimit <= 0 {
		changeLimit = DefaultChangeLimit
	}

	var entries []Entry
	if err := s.db.WithContext(ctx).
		Where("scope_id = ? AND section = ?", scopeID, sectionOverview).
		Order("created_at_s DESC, entry_id DESC").
		Limit(entryLimit).
		Find(&entries).Error; err != nil {
		s.logError(opFieldHistory, "query_failed", err, zap.String("scope_id", scopeID))
		return nil, newServiceError(opFieldHistory, "query_failed", err)
	}

	changes := make([]FieldChange, 0, changeLimit)
	for _, entry := range entries {
		if len(changes) >= changeLimit {
			break
		}
		before, err := record.ParseSnapshot(entry.BeforeJSON)
		if err != nil {
			s.loggerOrDefault().Warn("skipping unparseable audit snapshot",
				zap.String("entry_id", entry.EntryID), zap.Error(err))
			continue
		}
		after, err := record.ParseSnapshot(entry.AfterJSON)
		if err != nil {
			s.loggerOrDefault().Warn("skipping unparseable audit snapshot",
				zap.String("entry_id", entry.EntryID), zap.Error(err))
			continue
		}
		if !record.Changed(field, before, after) {
			continue
		}
		oldValue, _ := before.Lookup(field)
		newValue, _ := after.Lookup(field)
		changes = append(changes, FieldChange{
			UserID:           entry.UserID,
			OldValue:         record.Stringify(oldValue),
			NewValue:         record.Stringify(newValue),
			CreatedAtSeconds: entry.CreatedAtSeconds,
		})
	}
	return changes, nil
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
	s.loggerOrDefault().Error("audit service error", attrs...)
}
