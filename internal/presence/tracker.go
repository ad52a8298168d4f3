package presence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// DefaultTTL is how long after its last heartbeat a viewer stays listed.
const DefaultTTL = 30 * time.Second

const (
	opTrackerNew  = "presence.tracker.new"
	opHeartbeat   = "presence.heartbeat"
	opListViewers = "presence.list_viewers"
	opSweep       = "presence.sweep"
)

var (
	errMissingDatabase = errors.New("database handle is required")
	errMissingIDs      = errors.New("scope and user identifiers are required")
	noOpLogger         = zap.NewNop()
)

func newTrackerError(operation, reason string, cause error) error {
	return fmt.Errorf("%s.%s: %w", operation, reason, cause)
}

// Record stores the last heartbeat for one (scope, user) pair. Rows are
// upserted so last_seen_ms never decreases for a pair; stale rows are
// treated as absent on read and only deleted by housekeeping sweeps.
type Record struct {
	ScopeID    string `gorm:"column:scope_id;primaryKey;size:190;not null"`
	UserID     string `gorm:"column:user_id;primaryKey;size:190;not null"`
	LastSeenMs int64  `gorm:"column:last_seen_ms;not null;index"`
}

// TableName provides the explicit table binding for GORM.
func (Record) TableName() string {
	return "presence_records"
}

// Viewer is one user currently looking at a scope.
type Viewer struct {
	UserID      string
	DisplayName string
}

// UserDirectory resolves display names for viewer listings.
type UserDirectory interface {
	DisplayNames(ctx context.Context, userIDs []string) (map[string]string, error)
}

// TrackerConfig describes the dependencies for the presence tracker.
type TrackerConfig struct {
	Database  *gorm.DB
	Clock     func() time.Time
	Directory UserDirectory
	Logger    *zap.Logger
}

// Tracker records heartbeats and lists currently active viewers.
type Tracker struct {
	db        *gorm.DB
	clock     func() time.Time
	directory UserDirectory
	logger    *zap.Logger
}

// NewTracker validates dependencies and constructs the tracker.
func NewTracker(cfg TrackerConfig) (*Tracker, error) {
	if cfg.Database == nil {
		return nil, newTrackerError(opTrackerNew, "missing_database", errMissingDatabase)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &Tracker{
		db:        cfg.Database,
		clock:     clock,
		directory: cfg.Directory,
		logger:    logger,
	}, nil
}

// Heartbeat upserts last_seen for the pair. Concurrent heartbeats from the
// same user resolve to the latest wall-clock value: the MAX expression keeps
// last_seen_ms monotonically non-decreasing under any interleaving.
func (t *Tracker) Heartbeat(ctx context.Context, scopeID, userID string) error {
	if scopeID == "" || userID == "" {
		return newTrackerError(opHeartbeat, "missing_identifier", errMissingIDs)
	}
	row := Record{
		ScopeID:    scopeID,
		UserID:     userID,
		LastSeenMs: t.clock().UTC().UnixMilli(),
	}
	err := t.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "scope_id"}, {Name: "user_id"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"last_seen_ms": gorm.Expr("MAX(presence_records.last_seen_ms, excluded.last_seen_ms)"),
		}),
	}).Create(&row).Error
	if err != nil {
		t.logger.Error("presence heartbeat failed",
			zap.String("operation", opHeartbeat),
			zap.String("scope_id", scopeID),
			zap.String("user_id", userID),
			zap.Error(err))
		return newTrackerError(opHeartbeat, "upsert_failed", err)
	}
	return nil
}

// ListViewers returns the viewers whose last heartbeat falls within the TTL
// window ending now. Expiry is observational: stale rows are excluded but
// never deleted here.
func (t *Tracker) ListViewers(ctx context.Context, scopeID string, ttl time.Duration) ([]Viewer, error) {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	cutoff := t.clock().UTC().UnixMilli() - ttl.Milliseconds()
	var rows []Record
	if err := t.db.WithContext(ctx).
		Where("scope_id = ? AND last_seen_ms >= ?", scopeID, cutoff).
		Order("last_seen_ms DESC").
		Find(&rows).Error; err != nil {
		t.logger.Error("presence listing failed",
			zap.String("operation", opListViewers),
			zap.String("scope_id", scopeID),
			zap.Error(err))
		return nil, newTrackerError(opListViewers, "query_failed", err)
	}

	viewers := make([]Viewer, 0, len(rows))
	userIDs := make([]string, 0, len(rows))
	for _, row := range rows {
		userIDs = append(userIDs, row.UserID)
	}
	names := map[string]string{}
	if t.directory != nil && len(userIDs) > 0 {
		resolved, err := t.directory.DisplayNames(ctx, userIDs)
		if err != nil {
			t.logger.Warn("display name lookup failed", zap.Error(err))
		} else {
			names = resolved
		}
	}
	for _, row := range rows {
		name := names[row.UserID]
		if name == "" {
			name = row.UserID
		}
		viewers = append(viewers, Viewer{UserID: row.UserID, DisplayName: name})
	}
	return viewers, nil
}

// Sweep deletes rows stale for longer than olderThan. Purely housekeeping;
// correctness never depends on it running.
func (t *Tracker) Sweep(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := t.clock().UTC().UnixMilli() - olderThan.Milliseconds()
	result := t.db.WithContext(ctx).Where("last_seen_ms < ?", cutoff).Delete(&Record{})
	if result.Error != nil {
		return 0, newTrackerError(opSweep, "delete_failed", result.Error)
	}
	return result.RowsAffected, nil
}
