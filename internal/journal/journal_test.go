package journal

import (
	"context"
	"database/sql"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// setupJournalTestDB creates an in-memory SQLite database with the journal table.
// The schema mirrors migrations/20260815_120000_journal_schema.up.sql.
func setupJournalTestDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}

	schema := `
		CREATE TABLE journal (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			device_id TEXT NOT NULL,
			kind TEXT NOT NULL,
			payload TEXT NOT NULL DEFAULT '{}',
			source TEXT NOT NULL,
			created_at TEXT NOT NULL
		);
		CREATE INDEX idx_journal_created_at ON journal(created_at);
		CREATE INDEX idx_journal_device_created ON journal(device_id, created_at);
	`

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		t.Fatalf("failed to create test schema: %v", err)
	}

	t.Cleanup(func() {
		db.Close()
	})

	return db
}

// insertJournalRow inserts a journal row with a specific timestamp.
func insertJournalRow(t *testing.T, db *sql.DB, deviceID, kind, payload, source string, createdAt time.Time) {
	t.Helper()

	_, err := db.Exec(
		"INSERT INTO journal (device_id, kind, payload, source, created_at) VALUES (?, ?, ?, ?, ?)",
		deviceID,
		kind,
		payload,
		source,
		createdAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		t.Fatalf("failed to insert journal row: %v", err)
	}
}

// TestRecord verifies journal writes and retrieval.
func TestRecord(t *testing.T) {
	db := setupJournalTestDB(t)
	j := NewSQLiteJournal(db)
	ctx := context.Background()

	err := j.Record(ctx, Entry{
		DeviceID: "cam-1",
		Kind:     "motion",
		Payload:  map[string]any{"event_id": "evt-1", "active": true},
		Source:   SourceStream,
	})
	if err != nil {
		t.Fatalf("Record() error = %v", err)
	}

	entries, err := j.Recent(ctx, 10)
	if err != nil {
		t.Fatalf("Recent() error = %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("entries length = %d, want 1", len(entries))
	}

	entry := entries[0]
	if entry.DeviceID != "cam-1" {
		t.Errorf("DeviceID = %q, want %q", entry.DeviceID, "cam-1")
	}
	if entry.Kind != "motion" {
		t.Errorf("Kind = %q, want %q", entry.Kind, "motion")
	}
	if entry.Source != SourceStream {
		t.Errorf("Source = %q, want %q", entry.Source, SourceStream)
	}
	if entry.CreatedAt.IsZero() {
		t.Error("CreatedAt is zero, want non-zero")
	}
	if active, ok := entry.Payload["active"].(bool); !ok || !active {
		t.Errorf("Payload[\"active\"] = %v, want true", entry.Payload["active"])
	}
	if id, ok := entry.Payload["event_id"].(string); !ok || id != "evt-1" {
		t.Errorf("Payload[\"event_id\"] = %v, want evt-1", entry.Payload["event_id"])
	}
}

// TestRecordDefaults verifies optional fields are filled in.
func TestRecordDefaults(t *testing.T) {
	db := setupJournalTestDB(t)
	j := NewSQLiteJournal(db)
	ctx := context.Background()

	before := time.Now().UTC().Add(-time.Second)
	err := j.Record(ctx, Entry{
		DeviceID: "cam-1",
		Kind:     "ring",
	})
	if err != nil {
		t.Fatalf("Record() error = %v", err)
	}

	entries, err := j.Recent(ctx, 1)
	if err != nil {
		t.Fatalf("Recent() error = %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("entries length = %d, want 1", len(entries))
	}

	entry := entries[0]
	if entry.Source != SourceStream {
		t.Errorf("default Source = %q, want %q", entry.Source, SourceStream)
	}
	if entry.Payload == nil || len(entry.Payload) != 0 {
		t.Errorf("default Payload = %v, want empty map", entry.Payload)
	}
	if entry.CreatedAt.Before(before) {
		t.Errorf("CreatedAt = %s, want recent timestamp", entry.CreatedAt)
	}
}

// TestRecordValidation verifies required fields.
func TestRecordValidation(t *testing.T) {
	db := setupJournalTestDB(t)
	j := NewSQLiteJournal(db)
	ctx := context.Background()

	if err := j.Record(ctx, Entry{Kind: "motion"}); err == nil {
		t.Error("Record() without device id expected error")
	}
	if err := j.Record(ctx, Entry{DeviceID: "cam-1"}); err == nil {
		t.Error("Record() without kind expected error")
	}

	count, err := j.Count(ctx)
	if err != nil {
		t.Fatalf("Count() error = %v", err)
	}
	if count != 0 {
		t.Errorf("Count() = %d after rejected records, want 0", count)
	}
}

// TestRecent verifies ordering and limit enforcement.
func TestRecent(t *testing.T) {
	db := setupJournalTestDB(t)
	j := NewSQLiteJournal(db)
	ctx := context.Background()

	now := time.Now().UTC().Truncate(time.Second)
	insertJournalRow(t, db, "cam-1", "motion", `{"active":true}`, SourceStream, now.Add(-2*time.Hour))
	insertJournalRow(t, db, "cam-2", "ring", `{}`, SourceStream, now.Add(-1*time.Hour))
	insertJournalRow(t, db, "light-1", "lightMotion", `{}`, SourceStream, now)

	entries, err := j.Recent(ctx, 2)
	if err != nil {
		t.Fatalf("Recent() error = %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("entries length = %d, want 2", len(entries))
	}

	if entries[0].DeviceID != "light-1" {
		t.Errorf("entry[0] DeviceID = %q, want light-1", entries[0].DeviceID)
	}
	if entries[1].DeviceID != "cam-2" {
		t.Errorf("entry[1] DeviceID = %q, want cam-2", entries[1].DeviceID)
	}
	if !entries[0].CreatedAt.Equal(now) {
		t.Errorf("entry[0] CreatedAt = %s, want %s", entries[0].CreatedAt, now)
	}
}

// TestRecentSameTimestampOrdering verifies id breaks created_at ties.
func TestRecentSameTimestampOrdering(t *testing.T) {
	db := setupJournalTestDB(t)
	j := NewSQLiteJournal(db)
	ctx := context.Background()

	now := time.Now().UTC().Truncate(time.Second)
	insertJournalRow(t, db, "cam-1", "motion", `{"seq":1}`, SourceStream, now)
	insertJournalRow(t, db, "cam-1", "motion", `{"seq":2}`, SourceStream, now)

	entries, err := j.Recent(ctx, 10)
	if err != nil {
		t.Fatalf("Recent() error = %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("entries length = %d, want 2", len(entries))
	}
	if entries[0].ID <= entries[1].ID {
		t.Errorf("entries not ordered newest-insert-first: ids %d, %d", entries[0].ID, entries[1].ID)
	}
}

// TestRecentForDevice verifies per-device filtering.
func TestRecentForDevice(t *testing.T) {
	db := setupJournalTestDB(t)
	j := NewSQLiteJournal(db)
	ctx := context.Background()

	now := time.Now().UTC().Truncate(time.Second)
	insertJournalRow(t, db, "cam-1", "motion", `{}`, SourceStream, now.Add(-2*time.Hour))
	insertJournalRow(t, db, "cam-1", "ring", `{}`, SourceStream, now)
	insertJournalRow(t, db, "cam-2", "motion", `{}`, SourceStream, now)

	entries, err := j.RecentForDevice(ctx, "cam-1", 10)
	if err != nil {
		t.Fatalf("RecentForDevice() error = %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("entries length = %d, want 2", len(entries))
	}
	for _, e := range entries {
		if e.DeviceID != "cam-1" {
			t.Errorf("entry DeviceID = %q, want cam-1", e.DeviceID)
		}
	}
	if entries[0].Kind != "ring" {
		t.Errorf("entry[0] Kind = %q, want ring (newest first)", entries[0].Kind)
	}

	if _, err := j.RecentForDevice(ctx, "", 10); err == nil {
		t.Error("RecentForDevice(\"\") expected error")
	}
}

// TestLimitClamping verifies default and maximum limits.
func TestLimitClamping(t *testing.T) {
	tests := []struct {
		limit int
		want  int
	}{
		{0, defaultRecentLimit},
		{-5, defaultRecentLimit},
		{10, 10},
		{maxRecentLimit, maxRecentLimit},
		{maxRecentLimit + 100, maxRecentLimit},
	}

	for _, tt := range tests {
		if got := clampLimit(tt.limit); got != tt.want {
			t.Errorf("clampLimit(%d) = %d, want %d", tt.limit, got, tt.want)
		}
	}
}

// TestPrune verifies old entries are removed.
func TestPrune(t *testing.T) {
	db := setupJournalTestDB(t)
	j := NewSQLiteJournal(db)
	ctx := context.Background()

	now := time.Now().UTC().Truncate(time.Second)
	insertJournalRow(t, db, "cam-1", "motion", `{}`, SourceStream, now.Add(-40*24*time.Hour))
	insertJournalRow(t, db, "cam-1", "ring", `{}`, SourceStream, now.Add(-12*time.Hour))

	deleted, err := j.Prune(ctx, 30*24*time.Hour)
	if err != nil {
		t.Fatalf("Prune() error = %v", err)
	}
	if deleted != 1 {
		t.Fatalf("deleted = %d, want 1", deleted)
	}

	entries, err := j.Recent(ctx, 10)
	if err != nil {
		t.Fatalf("Recent() error = %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("entries length = %d, want 1", len(entries))
	}
	if entries[0].Kind != "ring" {
		t.Errorf("remaining Kind = %q, want ring", entries[0].Kind)
	}

	if _, err := j.Prune(ctx, 0); err == nil {
		t.Error("Prune(0) expected error")
	}
}

// TestCount verifies entry counting.
func TestCount(t *testing.T) {
	db := setupJournalTestDB(t)
	j := NewSQLiteJournal(db)
	ctx := context.Background()

	count, err := j.Count(ctx)
	if err != nil {
		t.Fatalf("Count() error = %v", err)
	}
	if count != 0 {
		t.Errorf("Count() = %d on empty journal, want 0", count)
	}

	now := time.Now().UTC()
	insertJournalRow(t, db, "cam-1", "motion", `{}`, SourceStream, now)
	insertJournalRow(t, db, "cam-2", "ring", `{}`, SourceCommand, now)

	count, err = j.Count(ctx)
	if err != nil {
		t.Fatalf("Count() error = %v", err)
	}
	if count != 2 {
		t.Errorf("Count() = %d, want 2", count)
	}
}
