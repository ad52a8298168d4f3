package audit

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

type sequenceIDProvider struct {
	next int
}

func (p *sequenceIDProvider) NewID() (string, error) {
	p.next++
	return fmt.Sprintf("entry-%04d", p.next), nil
}

func newTestService(t *testing.T, clock func() time.Time) *Service {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "audit.db")), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&Entry{}); err != nil {
		t.Fatalf("failed to migrate audit schema: %v", err)
	}
	service, err := NewService(ServiceConfig{
		Database:   db,
		Clock:      clock,
		IDProvider: &sequenceIDProvider{},
	})
	if err != nil {
		t.Fatalf("failed to create service: %v", err)
	}
	return service
}

func fixedClock(seconds int64) func() time.Time {
	return func() time.Time { return time.Unix(seconds, 0).UTC() }
}

func TestRecordThenLogReturnsNewestFirst(t *testing.T) {
	ctx := context.Background()
	now := int64(1700000000)
	service := newTestService(t, func() time.Time { return time.Unix(now, 0).UTC() })

	if err := service.Record(ctx, Entry{ScopeID: "scope-1", UserID: "u1", Section: "overview", Action: "update"}); err != nil {
		t.Fatalf("first record failed: %v", err)
	}
	now += 5
	if err := service.Record(ctx, Entry{ScopeID: "scope-1", UserID: "u2", Section: "overview", Action: "update"}); err != nil {
		t.Fatalf("second record failed: %v", err)
	}

	entries, err := service.Log(ctx, "scope-1", 1)
	if err != nil {
		t.Fatalf("log failed: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected one entry, got %d", len(entries))
	}
	if entries[0].UserID != "u2" {
		t.Fatalf("expected the just-recorded entry first, got user %q", entries[0].UserID)
	}
}

func TestLogBreaksSameSecondTiesByEntryID(t *testing.T) {
	ctx := context.Background()
	service := newTestService(t, fixedClock(1700000000))

	for i := 0; i < 3; i++ {
		entry := Entry{ScopeID: "scope-1", UserID: fmt.Sprintf("u%d", i), Section: "overview", Action: "update"}
		if err := service.Record(ctx, entry); err != nil {
			t.Fatalf("record %d failed: %v", i, err)
		}
	}

	entries, err := service.Log(ctx, "scope-1", 10)
	if err != nil {
		t.Fatalf("log failed: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("expected three entries, got %d", len(entries))
	}
	for i := 1; i < len(entries); i++ {
		if entries[i-1].EntryID <= entries[i].EntryID {
			t.Fatalf("entries not ordered by id desc within the same second: %q then %q",
				entries[i-1].EntryID, entries[i].EntryID)
		}
	}
}

func TestFieldHistoryDropsNoOpEntries(t *testing.T) {
	ctx := context.Background()
	now := int64(1700000000)
	service := newTestService(t, func() time.Time { return time.Unix(now, 0).UTC() })

	writes := []struct {
		before string
		after  string
	}{
		{before: `{"name":"A"}`, after: `{"name":"B"}`},
		{before: `{"name":"B"}`, after: `{"name":"B"}`},
	}
	for _, write := range writes {
		err := service.Record(ctx, Entry{
			ScopeID: "scope-1", UserID: "u1", Section: "overview", Action: "update",
			BeforeJSON: write.before, AfterJSON: write.after,
		})
		if err != nil {
			t.Fatalf("record failed: %v", err)
		}
		now += 10
	}

	changes, err := service.FieldHistory(ctx, "scope-1", "name", 50, 10)
	if err != nil {
		t.Fatalf("field history failed: %v", err)
	}
	if len(changes) != 1 {
		t.Fatalf("expected exactly one change, got %d", len(changes))
	}
	if changes[0].OldValue != "A" || changes[0].NewValue != "B" {
		t.Fatalf("unexpected change values: %q -> %q", changes[0].OldValue, changes[0].NewValue)
	}
}

func TestFieldHistorySkipsCorruptSnapshots(t *testing.T) {
	ctx := context.Background()
	now := int64(1700000000)
	service := newTestService(t, func() time.Time { return time.Unix(now, 0).UTC() })

	writes := []struct {
		before string
		after  string
	}{
		{before: `{"name":"A"}`, after: `{"name":"B"}`},
		{before: `{"name":`, after: `{"name":"C"}`},
		{before: `{"name":"C"}`, after: `{"name":"D"}`},
	}
	for _, write := range writes {
		err := service.Record(ctx, Entry{
			ScopeID: "scope-1", UserID: "u1", Section: "overview", Action: "update",
			BeforeJSON: write.before, AfterJSON: write.after,
		})
		if err != nil {
			t.Fatalf("record failed: %v", err)
		}
		now += 10
	}

	changes, err := service.FieldHistory(ctx, "scope-1", "name", 50, 10)
	if err != nil {
		t.Fatalf("field history failed: %v", err)
	}
	if len(changes) != 2 {
		t.Fatalf("corrupt entry should be skipped, not abort: got %d changes", len(changes))
	}
	if changes[0].NewValue != "D" || changes[1].NewValue != "B" {
		t.Fatalf("unexpected surviving changes: %+v", changes)
	}
}

func TestFieldHistoryDetectsAbsentToEmptyTransitions(t *testing.T) {
	ctx := context.Background()
	service := newTestService(t, fixedClock(1700000000))

	err := service.Record(ctx, Entry{
		ScopeID: "scope-1", UserID: "u1", Section: "overview", Action: "update",
		BeforeJSON: `{}`, AfterJSON: `{"name":""}`,
	})
	if err != nil {
		t.Fatalf("record failed: %v", err)
	}

	changes, err := service.FieldHistory(ctx, "scope-1", "name", 50, 10)
	if err != nil {
		t.Fatalf("field history failed: %v", err)
	}
	if len(changes) != 1 {
		t.Fatalf("absent to present-empty should surface as a change, got %d", len(changes))
	}
	if changes[0].OldValue != "" || changes[0].NewValue != "" {
		t.Fatalf("both rendered values should be empty strings: %+v", changes[0])
	}
}

func TestFieldHistoryTruncatesToChangeLimit(t *testing.T) {
	ctx := context.Background()
	now := int64(1700000000)
	service := newTestService(t, func() time.Time { return time.Unix(now, 0).UTC() })

	for i := 0; i < 6; i++ {
		err := service.Record(ctx, Entry{
			ScopeID: "scope-1", UserID: "u1", Section: "overview", Action: "update",
			BeforeJSON: fmt.Sprintf(`{"name":"v%d"}`, i),
			AfterJSON:  fmt.Sprintf(`{"name":"v%d"}`, i+1),
		})
		if err != nil {
			t.Fatalf("record %d failed: %v", i, err)
		}
		now += 10
	}

	changes, err := service.FieldHistory(ctx, "scope-1", "name", 50, 3)
	if err != nil {
		t.Fatalf("field history failed: %v", err)
	}
	if len(changes) != 3 {
		t.Fatalf("expected changeLimit survivors, got %d", len(changes))
	}
	if changes[0].NewValue != "v6" {
		t.Fatalf("most recent change should come first, got %q", changes[0].NewValue)
	}
}

func TestFieldHistoryIgnoresOtherSections(t *testing.T) {
	ctx := context.Background()
	service := newTestService(t, fixedClock(1700000000))

	err := service.Record(ctx, Entry{
		ScopeID: "scope-1", UserID: "u1", Section: "materials", Action: "update",
		BeforeJSON: `{"name":"A"}`, AfterJSON: `{"name":"B"}`,
	})
	if err != nil {
		t.Fatalf("record failed: %v", err)
	}

	changes, err := service.FieldHistory(ctx, "scope-1", "name", 50, 10)
	if err != nil {
		t.Fatalf("field history failed: %v", err)
	}
	if len(changes) != 0 {
		t.Fatalf("non-overview sections should not feed field history, got %d changes", len(changes))
	}
}
