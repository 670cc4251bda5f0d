// Package journal persists session history to a local SQLite database:
// connection transitions and the final outcome of every tracked task.
//
// The journal is append-only from the client's point of view. It is written
// as events happen and read back only for inspection (doctor, tests); it is
// never replayed into the progress store.
package journal

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	// Pure-Go SQLite driver, registered for database/sql. No CGO, so the
	// client cross-compiles cleanly.
	_ "modernc.org/sqlite"

	apperrors "github.com/repowiki/console/internal/errors"
	"github.com/repowiki/console/internal/progress"
)

// Connection event kinds.
const (
	ConnConnected    = "connected"
	ConnDisconnected = "disconnected"
	ConnError        = "error"
)

// Row retention per table. Oldest rows beyond the cap are pruned on insert.
const (
	maxConnectionRows = 500
	maxTaskRows       = 1000
)

// ConnectionEvent is one recorded connectivity transition.
type ConnectionEvent struct {
	ID       int64     `json:"id"`
	Event    string    `json:"event"` // ConnConnected, ConnDisconnected or ConnError
	Endpoint string    `json:"endpoint"`
	Detail   string    `json:"detail,omitempty"` // error text for ConnError, otherwise empty
	At       time.Time `json:"at"`
}

// TaskEvent is the recorded outcome of one finished task.
type TaskEvent struct {
	ID           int64     `json:"id"`
	RecordID     string    `json:"record_id"`
	Type         string    `json:"type"`
	RepositoryID string    `json:"repository_id"`
	Status       string    `json:"status"`
	Progress     float64   `json:"progress"`
	Error        string    `json:"error,omitempty"`
	Detail       string    `json:"detail,omitempty"` // JSON snapshot of the record's detail, may be empty
	StartedAt    time.Time `json:"started_at"`
	FinishedAt   time.Time `json:"finished_at"`
}

// Journal is a SQLite-backed session history log. Safe for concurrent use.
type Journal struct {
	log *zap.Logger

	mu sync.RWMutex // Guards all database operations.
	db *sql.DB
}

// Open opens or creates the journal database at path and applies schema
// migrations. Use ":memory:" for tests.
func Open(path string, logger *zap.Logger) (*Journal, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	log := logger.Named("journal")

	// foreign_keys for referential integrity, busy_timeout so a second
	// console process does not fail immediately on a locked database.
	db, err := sql.Open("sqlite", path+"?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, apperrors.JournalOpenFailed(path, err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, apperrors.JournalOpenFailed(path, err)
	}

	j := &Journal{log: log, db: db}
	if err := j.initSchema(); err != nil {
		db.Close()
		return nil, apperrors.JournalOpenFailed(path, err)
	}

	log.Debug("journal ready", zap.String("path", path), zap.Int("schema_version", currentSchemaVersion))
	return j, nil
}

// Close releases the database connection.
func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.db.Close()
}

// RecordConnection appends a connectivity transition and prunes rows beyond
// the retention cap in the same transaction.
func (j *Journal) RecordConnection(event, endpoint, detail string) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	tx, err := j.db.Begin()
	if err != nil {
		return apperrors.Wrap(apperrors.CodeJournalWriteFailed, "begin transaction", err)
	}
	defer tx.Rollback()

	_, err = tx.Exec(
		`INSERT INTO connection_events (event, endpoint, detail, at) VALUES (?, ?, ?, ?)`,
		event, endpoint, detail, time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return apperrors.Wrap(apperrors.CodeJournalWriteFailed, "insert connection event", err)
	}

	if err := pruneTx(tx, "connection_events", maxConnectionRows); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return apperrors.Wrap(apperrors.CodeJournalWriteFailed, "commit connection event", err)
	}
	return nil
}

// RecordTask appends the outcome of a finished task. Records that are not
// terminal are ignored; the journal keeps outcomes, not progress streams.
func (j *Journal) RecordTask(rec progress.Record) error {
	if !rec.Status.Terminal() {
		return nil
	}

	detail := ""
	if rec.Detail != nil {
		raw, err := json.Marshal(rec.Detail)
		if err != nil {
			j.log.Warn("could not encode task detail", zap.String("record_id", rec.ID), zap.Error(err))
		} else {
			detail = string(raw)
		}
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	tx, err := j.db.Begin()
	if err != nil {
		return apperrors.Wrap(apperrors.CodeJournalWriteFailed, "begin transaction", err)
	}
	defer tx.Rollback()

	_, err = tx.Exec(
		`INSERT INTO task_events
			(record_id, task_type, repository_id, status, progress, error, detail, started_at, finished_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID,
		string(rec.Type),
		rec.RepositoryID,
		string(rec.Status),
		rec.Progress,
		rec.Error,
		detail,
		rec.StartTime.UTC().Format(time.RFC3339Nano),
		rec.EndTime.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return apperrors.Wrap(apperrors.CodeJournalWriteFailed, "insert task event", err)
	}

	if err := pruneTx(tx, "task_events", maxTaskRows); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return apperrors.Wrap(apperrors.CodeJournalWriteFailed, "commit task event", err)
	}
	return nil
}

// pruneTx deletes the oldest rows of table beyond maxRows.
func pruneTx(tx *sql.Tx, table string, maxRows int) error {
	query := fmt.Sprintf(
		`DELETE FROM %s WHERE id NOT IN (SELECT id FROM %s ORDER BY id DESC LIMIT ?)`,
		table, table,
	)
	if _, err := tx.Exec(query, maxRows); err != nil {
		return apperrors.Wrap(apperrors.CodeJournalWriteFailed, "prune "+table, err)
	}
	return nil
}

// RecentConnectionEvents returns connection events newest first, up to limit.
// A limit of zero or less returns everything.
func (j *Journal) RecentConnectionEvents(limit int) ([]ConnectionEvent, error) {
	j.mu.RLock()
	defer j.mu.RUnlock()

	query := `SELECT id, event, endpoint, detail, at FROM connection_events ORDER BY id DESC`
	var args []any
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := j.db.Query(query, args...)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeJournalQueryFailed, "query connection events", err)
	}
	defer rows.Close()

	var events []ConnectionEvent
	for rows.Next() {
		var (
			ev    ConnectionEvent
			atStr string
		)
		if err := rows.Scan(&ev.ID, &ev.Event, &ev.Endpoint, &ev.Detail, &atStr); err != nil {
			return nil, apperrors.Wrap(apperrors.CodeJournalQueryFailed, "scan connection event", err)
		}
		ev.At, err = time.Parse(time.RFC3339Nano, atStr)
		if err != nil {
			return nil, apperrors.Wrap(apperrors.CodeJournalQueryFailed, "parse connection event time", err)
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.Wrap(apperrors.CodeJournalQueryFailed, "iterate connection events", err)
	}
	return events, nil
}

// RecentTaskEvents returns task outcomes newest first, up to limit. A limit
// of zero or less returns everything.
func (j *Journal) RecentTaskEvents(limit int) ([]TaskEvent, error) {
	j.mu.RLock()
	defer j.mu.RUnlock()

	query := `
		SELECT id, record_id, task_type, repository_id, status, progress, error, detail, started_at, finished_at
		FROM task_events
		ORDER BY id DESC`
	var args []any
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := j.db.Query(query, args...)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeJournalQueryFailed, "query task events", err)
	}
	defer rows.Close()

	var events []TaskEvent
	for rows.Next() {
		ev, err := scanTaskEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.Wrap(apperrors.CodeJournalQueryFailed, "iterate task events", err)
	}
	return events, nil
}

// TaskEventsForRepository returns task outcomes for one repository, newest
// first, up to limit. A limit of zero or less returns everything.
func (j *Journal) TaskEventsForRepository(repositoryID string, limit int) ([]TaskEvent, error) {
	j.mu.RLock()
	defer j.mu.RUnlock()

	query := `
		SELECT id, record_id, task_type, repository_id, status, progress, error, detail, started_at, finished_at
		FROM task_events
		WHERE repository_id = ?
		ORDER BY id DESC`
	args := []any{repositoryID}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := j.db.Query(query, args...)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeJournalQueryFailed, "query task events", err)
	}
	defer rows.Close()

	var events []TaskEvent
	for rows.Next() {
		ev, err := scanTaskEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.Wrap(apperrors.CodeJournalQueryFailed, "iterate task events", err)
	}
	return events, nil
}

func scanTaskEvent(rows *sql.Rows) (TaskEvent, error) {
	var (
		ev          TaskEvent
		startedStr  string
		finishedStr string
	)
	err := rows.Scan(
		&ev.ID,
		&ev.RecordID,
		&ev.Type,
		&ev.RepositoryID,
		&ev.Status,
		&ev.Progress,
		&ev.Error,
		&ev.Detail,
		&startedStr,
		&finishedStr,
	)
	if err != nil {
		return TaskEvent{}, apperrors.Wrap(apperrors.CodeJournalQueryFailed, "scan task event", err)
	}
	if ev.StartedAt, err = time.Parse(time.RFC3339Nano, startedStr); err != nil {
		return TaskEvent{}, apperrors.Wrap(apperrors.CodeJournalQueryFailed, "parse task start time", err)
	}
	if ev.FinishedAt, err = time.Parse(time.RFC3339Nano, finishedStr); err != nil {
		return TaskEvent{}, apperrors.Wrap(apperrors.CodeJournalQueryFailed, "parse task finish time", err)
	}
	return ev, nil
}

// ProbeWrite verifies the journal is currently writable: it inserts and
// deletes a row within one transaction. Used by the doctor preflight.
func (j *Journal) ProbeWrite() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	tx, err := j.db.Begin()
	if err != nil {
		return apperrors.Wrap(apperrors.CodeJournalWriteFailed, "begin probe transaction", err)
	}
	defer tx.Rollback()

	res, err := tx.Exec(
		`INSERT INTO connection_events (event, endpoint, detail, at) VALUES (?, ?, ?, ?)`,
		"write_probe", "", "", time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return apperrors.Wrap(apperrors.CodeJournalWriteFailed, "insert probe row", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return apperrors.Wrap(apperrors.CodeJournalWriteFailed, "probe insert id", err)
	}
	if _, err := tx.Exec(`DELETE FROM connection_events WHERE id = ?`, id); err != nil {
		return apperrors.Wrap(apperrors.CodeJournalWriteFailed, "delete probe row", err)
	}
	if err := tx.Commit(); err != nil {
		return apperrors.Wrap(apperrors.CodeJournalWriteFailed, "commit probe", err)
	}
	return nil
}
