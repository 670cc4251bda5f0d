package main

import (
	"bytes"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/repowiki/console/internal/journal"
	"github.com/repowiki/console/internal/progress"
)

// seedJournal writes a journal with two task outcomes and two connection
// events and returns its path. repo-b's wiki failure is recorded last, so
// it comes back first from the newest-first queries.
func seedJournal(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "journal.db")

	j, err := journal.Open(path, nil)
	if err != nil {
		t.Fatalf("open journal: %v", err)
	}
	defer j.Close()

	now := time.Now()
	if err := j.RecordTask(progress.Record{
		ID:           "indexing-repo-a-1",
		Type:         progress.TypeIndexing,
		Status:       progress.StatusCompleted,
		Progress:     1,
		RepositoryID: "repo-a",
		StartTime:    now.Add(-2 * time.Minute),
		EndTime:      now.Add(-time.Minute),
		Detail:       progress.IndexingDetail{TotalFiles: 10, FilesProcessed: 10},
	}); err != nil {
		t.Fatalf("record task: %v", err)
	}
	if err := j.RecordTask(progress.Record{
		ID:           "wiki-repo-b-1",
		Type:         progress.TypeWikiGeneration,
		Status:       progress.StatusError,
		Progress:     0.4,
		RepositoryID: "repo-b",
		Error:        "generation aborted",
		StartTime:    now.Add(-time.Minute),
		EndTime:      now,
	}); err != nil {
		t.Fatalf("record task: %v", err)
	}

	if err := j.RecordConnection(journal.ConnConnected, "ws://127.0.0.1:8001/ws", ""); err != nil {
		t.Fatalf("record connection: %v", err)
	}
	if err := j.RecordConnection(journal.ConnError, "ws://127.0.0.1:8001/ws", "read timeout"); err != nil {
		t.Fatalf("record connection: %v", err)
	}

	return path
}

func TestJournalTasksTable(t *testing.T) {
	path := seedJournal(t)

	var stdout, stderr bytes.Buffer
	code := runJournalTasks([]string{"--journal", path}, &stdout, &stderr)
	if code != 0 {
		t.Fatalf("expected exit code 0, got %d\nstderr: %s", code, stderr.String())
	}

	out := stdout.String()
	if !strings.Contains(out, "STATUS") || !strings.Contains(out, "REPOSITORY") {
		t.Fatalf("expected table header, got %q", out)
	}
	if !strings.Contains(out, "repo-a") || !strings.Contains(out, "repo-b") {
		t.Fatalf("expected both repositories, got %q", out)
	}
	if !strings.Contains(out, "generation aborted") {
		t.Fatalf("expected error text in table, got %q", out)
	}

	// Newest first: the wiki failure was recorded after the indexing run.
	if strings.Index(out, "repo-b") > strings.Index(out, "repo-a") {
		t.Fatalf("expected newest event first, got %q", out)
	}
}

func TestJournalTasksRepoFilter(t *testing.T) {
	path := seedJournal(t)

	var stdout, stderr bytes.Buffer
	code := runJournalTasks([]string{"--journal", path, "--repo", "repo-a"}, &stdout, &stderr)
	if code != 0 {
		t.Fatalf("expected exit code 0, got %d", code)
	}

	out := stdout.String()
	if !strings.Contains(out, "repo-a") {
		t.Fatalf("expected repo-a, got %q", out)
	}
	if strings.Contains(out, "repo-b") {
		t.Fatalf("filter must exclude repo-b, got %q", out)
	}
}

func TestJournalTasksJSON(t *testing.T) {
	path := seedJournal(t)

	var stdout, stderr bytes.Buffer
	code := runJournalTasks([]string{"--journal", path, "--json"}, &stdout, &stderr)
	if code != 0 {
		t.Fatalf("expected exit code 0, got %d", code)
	}

	var events []journal.TaskEvent
	if err := json.Unmarshal(stdout.Bytes(), &events); err != nil {
		t.Fatalf("stdout is not valid JSON: %v\n%s", err, stdout.String())
	}
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
	if events[0].RecordID != "wiki-repo-b-1" {
		t.Fatalf("expected newest event first, got %q", events[0].RecordID)
	}
	if events[1].Type != "indexing" || events[1].Status != "completed" {
		t.Fatalf("unexpected event: %+v", events[1])
	}
}

func TestJournalTasksLimit(t *testing.T) {
	path := seedJournal(t)

	var stdout, stderr bytes.Buffer
	code := runJournalTasks([]string{"--journal", path, "--json", "--limit", "1"}, &stdout, &stderr)
	if code != 0 {
		t.Fatalf("expected exit code 0, got %d", code)
	}

	var events []journal.TaskEvent
	if err := json.Unmarshal(stdout.Bytes(), &events); err != nil {
		t.Fatalf("stdout is not valid JSON: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("expected 1 event with --limit 1, got %d", len(events))
	}
}

func TestJournalTasksMissingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nope.db")

	var stdout, stderr bytes.Buffer
	code := runJournalTasks([]string{"--journal", path}, &stdout, &stderr)
	if code != 0 {
		t.Fatalf("missing journal is not an error, got exit code %d", code)
	}
	if !strings.Contains(stdout.String(), "No journal found at") {
		t.Fatalf("expected missing-journal notice, got %q", stdout.String())
	}
}

func TestJournalTasksEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.db")
	j, err := journal.Open(path, nil)
	if err != nil {
		t.Fatalf("open journal: %v", err)
	}
	j.Close()

	var stdout, stderr bytes.Buffer
	code := runJournalTasks([]string{"--journal", path}, &stdout, &stderr)
	if code != 0 {
		t.Fatalf("expected exit code 0, got %d", code)
	}
	if !strings.Contains(stdout.String(), "No task events recorded.") {
		t.Fatalf("expected empty notice, got %q", stdout.String())
	}
}

func TestJournalConnectionsTable(t *testing.T) {
	path := seedJournal(t)

	var stdout, stderr bytes.Buffer
	code := runJournalConnections([]string{"--journal", path}, &stdout, &stderr)
	if code != 0 {
		t.Fatalf("expected exit code 0, got %d\nstderr: %s", code, stderr.String())
	}

	out := stdout.String()
	if !strings.Contains(out, "EVENT") || !strings.Contains(out, "ENDPOINT") {
		t.Fatalf("expected table header, got %q", out)
	}
	if !strings.Contains(out, journal.ConnConnected) || !strings.Contains(out, journal.ConnError) {
		t.Fatalf("expected both events, got %q", out)
	}
	if !strings.Contains(out, "read timeout") {
		t.Fatalf("expected error detail, got %q", out)
	}
}

func TestJournalConnectionsJSON(t *testing.T) {
	path := seedJournal(t)

	var stdout, stderr bytes.Buffer
	code := runJournalConnections([]string{"--journal", path, "--json"}, &stdout, &stderr)
	if code != 0 {
		t.Fatalf("expected exit code 0, got %d", code)
	}

	var events []journal.ConnectionEvent
	if err := json.Unmarshal(stdout.Bytes(), &events); err != nil {
		t.Fatalf("stdout is not valid JSON: %v\n%s", err, stdout.String())
	}
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
	if events[0].Event != journal.ConnError {
		t.Fatalf("expected newest event first, got %q", events[0].Event)
	}
}

func TestJournalConnectionsMissingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nope.db")

	var stdout, stderr bytes.Buffer
	code := runJournalConnections([]string{"--journal", path}, &stdout, &stderr)
	if code != 0 {
		t.Fatalf("missing journal is not an error, got exit code %d", code)
	}
	if !strings.Contains(stdout.String(), "No journal found at") {
		t.Fatalf("expected missing-journal notice, got %q", stdout.String())
	}
}

func TestRoundDuration(t *testing.T) {
	cases := []struct {
		in   time.Duration
		want time.Duration
	}{
		{123456 * time.Microsecond, 123 * time.Millisecond},
		{999 * time.Millisecond, 999 * time.Millisecond},
		{1499 * time.Millisecond, time.Second},
		{90500 * time.Millisecond, 91 * time.Second},
	}
	for _, tc := range cases {
		if got := roundDuration(tc.in); got != tc.want {
			t.Errorf("roundDuration(%v) = %v, want %v", tc.in, got, tc.want)
		}
	}
}
