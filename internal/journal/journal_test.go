package journal

import (
	"fmt"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/repowiki/console/internal/progress"
)

func openTestJournal(t *testing.T) *Journal {
	t.Helper()
	j, err := Open(filepath.Join(t.TempDir(), "journal.db"), nil)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { j.Close() })
	return j
}

// completedRecord returns a terminal indexing record for journaling tests.
func completedRecord(id, repo string) progress.Record {
	start := time.Now().Add(-3 * time.Second).UTC()
	return progress.Record{
		ID:           id,
		Type:         progress.TypeIndexing,
		Status:       progress.StatusCompleted,
		Progress:     1.0,
		RepositoryID: repo,
		StartTime:    start,
		EndTime:      start.Add(3 * time.Second),
		Detail:       progress.IndexingDetail{FilesProcessed: 10, TotalFiles: 10},
	}
}

func TestOpenCreatesSchema(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.db")

	j, err := Open(path, nil)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}

	version, err := j.SchemaVersion()
	if err != nil {
		t.Fatalf("SchemaVersion failed: %v", err)
	}
	if version != currentSchemaVersion {
		t.Errorf("SchemaVersion = %d, want %d", version, currentSchemaVersion)
	}

	events, err := j.RecentTaskEvents(0)
	if err != nil {
		t.Fatalf("RecentTaskEvents failed: %v", err)
	}
	if len(events) != 0 {
		t.Errorf("fresh journal has %d task events, want 0", len(events))
	}
	j.Close()

	// Reopening an existing database must not re-run migrations.
	j, err = Open(path, nil)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer j.Close()
	if version, _ = j.SchemaVersion(); version != currentSchemaVersion {
		t.Errorf("SchemaVersion after reopen = %d, want %d", version, currentSchemaVersion)
	}
}

func TestOpenRejectsUnwritablePath(t *testing.T) {
	_, err := Open(filepath.Join(t.TempDir(), "missing-dir", "journal.db"), nil)
	if err == nil {
		t.Fatal("Open succeeded for a path in a missing directory")
	}
}

func TestRecordConnectionRoundTrip(t *testing.T) {
	j := openTestJournal(t)

	before := time.Now().Add(-time.Second)
	if err := j.RecordConnection(ConnConnected, "ws://127.0.0.1:8001/ws", ""); err != nil {
		t.Fatalf("RecordConnection failed: %v", err)
	}
	if err := j.RecordConnection(ConnError, "ws://127.0.0.1:8001/ws", "read timeout"); err != nil {
		t.Fatalf("RecordConnection failed: %v", err)
	}
	if err := j.RecordConnection(ConnDisconnected, "ws://127.0.0.1:8001/ws", ""); err != nil {
		t.Fatalf("RecordConnection failed: %v", err)
	}

	events, err := j.RecentConnectionEvents(2)
	if err != nil {
		t.Fatalf("RecentConnectionEvents failed: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("got %d events, want 2", len(events))
	}

	// Newest first.
	if events[0].Event != ConnDisconnected {
		t.Errorf("events[0].Event = %q, want %q", events[0].Event, ConnDisconnected)
	}
	if events[1].Event != ConnError {
		t.Errorf("events[1].Event = %q, want %q", events[1].Event, ConnError)
	}
	if events[1].Detail != "read timeout" {
		t.Errorf("events[1].Detail = %q, want %q", events[1].Detail, "read timeout")
	}
	if events[0].Endpoint != "ws://127.0.0.1:8001/ws" {
		t.Errorf("Endpoint = %q, want the recorded endpoint", events[0].Endpoint)
	}
	if events[0].At.Before(before) || events[0].At.After(time.Now().Add(time.Second)) {
		t.Errorf("At = %v, outside the test window", events[0].At)
	}
}

func TestRecordTaskStoresTerminalOutcome(t *testing.T) {
	j := openTestJournal(t)

	rec := completedRecord("rec-1", "owner/repo")
	if err := j.RecordTask(rec); err != nil {
		t.Fatalf("RecordTask failed: %v", err)
	}

	events, err := j.RecentTaskEvents(0)
	if err != nil {
		t.Fatalf("RecentTaskEvents failed: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("got %d task events, want 1", len(events))
	}

	got := events[0]
	if got.RecordID != "rec-1" {
		t.Errorf("RecordID = %q, want rec-1", got.RecordID)
	}
	if got.Type != string(progress.TypeIndexing) {
		t.Errorf("Type = %q, want %q", got.Type, progress.TypeIndexing)
	}
	if got.Status != string(progress.StatusCompleted) {
		t.Errorf("Status = %q, want %q", got.Status, progress.StatusCompleted)
	}
	if got.Progress != 1.0 {
		t.Errorf("Progress = %v, want 1.0", got.Progress)
	}
	if !strings.Contains(got.Detail, `"total_files":10`) {
		t.Errorf("Detail = %q, want JSON with total_files", got.Detail)
	}
	if got.FinishedAt.Sub(rec.EndTime).Abs() > time.Millisecond {
		t.Errorf("FinishedAt = %v, want %v", got.FinishedAt, rec.EndTime)
	}
}

func TestRecordTaskIgnoresLiveRecords(t *testing.T) {
	j := openTestJournal(t)

	rec := completedRecord("rec-live", "owner/repo")
	rec.Status = progress.StatusRunning
	rec.EndTime = time.Time{}

	if err := j.RecordTask(rec); err != nil {
		t.Fatalf("RecordTask failed: %v", err)
	}

	events, err := j.RecentTaskEvents(0)
	if err != nil {
		t.Fatalf("RecentTaskEvents failed: %v", err)
	}
	if len(events) != 0 {
		t.Errorf("live record was journaled: %d events", len(events))
	}
}

func TestTaskEventsForRepositoryFilters(t *testing.T) {
	j := openTestJournal(t)

	if err := j.RecordTask(completedRecord("a-1", "owner/alpha")); err != nil {
		t.Fatalf("RecordTask failed: %v", err)
	}
	if err := j.RecordTask(completedRecord("b-1", "owner/beta")); err != nil {
		t.Fatalf("RecordTask failed: %v", err)
	}
	if err := j.RecordTask(completedRecord("a-2", "owner/alpha")); err != nil {
		t.Fatalf("RecordTask failed: %v", err)
	}

	events, err := j.TaskEventsForRepository("owner/alpha", 0)
	if err != nil {
		t.Fatalf("TaskEventsForRepository failed: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("got %d events, want 2", len(events))
	}
	if events[0].RecordID != "a-2" || events[1].RecordID != "a-1" {
		t.Errorf("events = %q, %q; want a-2 then a-1 (newest first)", events[0].RecordID, events[1].RecordID)
	}
}

func TestConnectionEventsPrunedBeyondCap(t *testing.T) {
	j := openTestJournal(t)

	total := maxConnectionRows + 10
	for i := 0; i < total; i++ {
		if err := j.RecordConnection(ConnConnected, fmt.Sprintf("ws://host-%d/ws", i), ""); err != nil {
			t.Fatalf("RecordConnection %d failed: %v", i, err)
		}
	}

	events, err := j.RecentConnectionEvents(0)
	if err != nil {
		t.Fatalf("RecentConnectionEvents failed: %v", err)
	}
	if len(events) != maxConnectionRows {
		t.Fatalf("got %d events after prune, want %d", len(events), maxConnectionRows)
	}

	// The newest row survives, the oldest rows are gone.
	if want := fmt.Sprintf("ws://host-%d/ws", total-1); events[0].Endpoint != want {
		t.Errorf("newest endpoint = %q, want %q", events[0].Endpoint, want)
	}
	if want := fmt.Sprintf("ws://host-%d/ws", total-maxConnectionRows); events[len(events)-1].Endpoint != want {
		t.Errorf("oldest surviving endpoint = %q, want %q", events[len(events)-1].Endpoint, want)
	}
}

func TestProbeWriteLeavesNoRows(t *testing.T) {
	j := openTestJournal(t)

	if err := j.ProbeWrite(); err != nil {
		t.Fatalf("ProbeWrite failed: %v", err)
	}

	events, err := j.RecentConnectionEvents(0)
	if err != nil {
		t.Fatalf("RecentConnectionEvents failed: %v", err)
	}
	if len(events) != 0 {
		t.Errorf("probe left %d rows behind", len(events))
	}
}
