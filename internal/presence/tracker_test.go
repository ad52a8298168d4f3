package presence

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

type fakeDirectory struct {
	names map[string]string
}

func (d *fakeDirectory) DisplayNames(_ context.Context, userIDs []string) (map[string]string, error) {
	resolved := make(map[string]string, len(userIDs))
	for _, userID := range userIDs {
		if name, ok := d.names[userID]; ok {
			resolved[userID] = name
		}
	}
	return resolved, nil
}

func newTestTracker(t *testing.T, clock *time.Time, names map[string]string) *Tracker {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "presence.db")), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&Record{}); err != nil {
		t.Fatalf("failed to migrate presence schema: %v", err)
	}
	tracker, err := NewTracker(TrackerConfig{
		Database:  db,
		Clock:     func() time.Time { return *clock },
		Directory: &fakeDirectory{names: names},
	})
	if err != nil {
		t.Fatalf("failed to create tracker: %v", err)
	}
	return tracker
}

func TestViewerListedWithinTTLAndAbsentAfter(t *testing.T) {
	ctx := context.Background()
	now := time.UnixMilli(1700000000000)
	tracker := newTestTracker(t, &now, map[string]string{"u1": "Dana"})

	if err := tracker.Heartbeat(ctx, "scope-1", "u1"); err != nil {
		t.Fatalf("heartbeat failed: %v", err)
	}

	now = now.Add(29999 * time.Millisecond)
	viewers, err := tracker.ListViewers(ctx, "scope-1", 30*time.Second)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(viewers) != 1 || viewers[0].UserID != "u1" || viewers[0].DisplayName != "Dana" {
		t.Fatalf("viewer should be listed at 29999ms: %+v", viewers)
	}

	now = now.Add(2 * time.Millisecond)
	viewers, err = tracker.ListViewers(ctx, "scope-1", 30*time.Second)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(viewers) != 0 {
		t.Fatalf("viewer should be absent at 30001ms: %+v", viewers)
	}
}

func TestListingDoesNotDeleteStaleRows(t *testing.T) {
	ctx := context.Background()
	now := time.UnixMilli(1700000000000)
	tracker := newTestTracker(t, &now, nil)

	if err := tracker.Heartbeat(ctx, "scope-1", "u1"); err != nil {
		t.Fatalf("heartbeat failed: %v", err)
	}
	now = now.Add(time.Hour)
	if _, err := tracker.ListViewers(ctx, "scope-1", 30*time.Second); err != nil {
		t.Fatalf("list failed: %v", err)
	}

	var count int64
	if err := tracker.db.Model(&Record{}).Count(&count).Error; err != nil {
		t.Fatalf("count failed: %v", err)
	}
	if count != 1 {
		t.Fatalf("listing must not delete stale rows, count = %d", count)
	}
}

func TestHeartbeatRefreshKeepsViewerAlive(t *testing.T) {
	ctx := context.Background()
	now := time.UnixMilli(1700000000000)
	tracker := newTestTracker(t, &now, nil)

	if err := tracker.Heartbeat(ctx, "scope-1", "u1"); err != nil {
		t.Fatalf("heartbeat failed: %v", err)
	}
	now = now.Add(25 * time.Second)
	if err := tracker.Heartbeat(ctx, "scope-1", "u1"); err != nil {
		t.Fatalf("refresh heartbeat failed: %v", err)
	}
	now = now.Add(25 * time.Second)

	viewers, err := tracker.ListViewers(ctx, "scope-1", 30*time.Second)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(viewers) != 1 {
		t.Fatalf("refreshed viewer should still be listed: %+v", viewers)
	}
}

func TestLastSeenNeverDecreases(t *testing.T) {
	ctx := context.Background()
	now := time.UnixMilli(1700000000000)
	tracker := newTestTracker(t, &now, nil)

	if err := tracker.Heartbeat(ctx, "scope-1", "u1"); err != nil {
		t.Fatalf("heartbeat failed: %v", err)
	}

	// A heartbeat carrying an older wall-clock value must not roll the
	// stored timestamp back.
	now = now.Add(-10 * time.Second)
	if err := tracker.Heartbeat(ctx, "scope-1", "u1"); err != nil {
		t.Fatalf("stale heartbeat failed: %v", err)
	}

	var row Record
	if err := tracker.db.Where("scope_id = ? AND user_id = ?", "scope-1", "u1").Take(&row).Error; err != nil {
		t.Fatalf("row lookup failed: %v", err)
	}
	if row.LastSeenMs != 1700000000000 {
		t.Fatalf("last_seen_ms = %d, want 1700000000000", row.LastSeenMs)
	}
}

func TestViewersScopedPerScope(t *testing.T) {
	ctx := context.Background()
	now := time.UnixMilli(1700000000000)
	tracker := newTestTracker(t, &now, nil)

	if err := tracker.Heartbeat(ctx, "scope-1", "u1"); err != nil {
		t.Fatalf("heartbeat failed: %v", err)
	}
	if err := tracker.Heartbeat(ctx, "scope-2", "u2"); err != nil {
		t.Fatalf("heartbeat failed: %v", err)
	}

	viewers, err := tracker.ListViewers(ctx, "scope-1", 30*time.Second)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(viewers) != 1 || viewers[0].UserID != "u1" {
		t.Fatalf("scope-1 viewers = %+v, want only u1", viewers)
	}
}

func TestSweepRemovesOnlyStaleRows(t *testing.T) {
	ctx := context.Background()
	now := time.UnixMilli(1700000000000)
	tracker := newTestTracker(t, &now, nil)

	if err := tracker.Heartbeat(ctx, "scope-1", "stale"); err != nil {
		t.Fatalf("heartbeat failed: %v", err)
	}
	now = now.Add(time.Hour)
	if err := tracker.Heartbeat(ctx, "scope-1", "fresh"); err != nil {
		t.Fatalf("heartbeat failed: %v", err)
	}

	removed, err := tracker.Sweep(ctx, 30*time.Minute)
	if err != nil {
		t.Fatalf("sweep failed: %v", err)
	}
	if removed != 1 {
		t.Fatalf("removed = %d, want 1", removed)
	}

	var count int64
	if err := tracker.db.Model(&Record{}).Count(&count).Error; err != nil {
		t.Fatalf("count failed: %v", err)
	}
	if count != 1 {
		t.Fatalf("fresh row should survive, count = %d", count)
	}
}
