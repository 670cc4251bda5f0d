package progress

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/repowiki/console/internal/metrics"
)

// timeNow is a seam for tests that need deterministic record times.
var timeNow = time.Now

// Seed is the initial state for a new record. The store assigns the id
// and start time.
type Seed struct {
	// Type is the kind of task. Required.
	Type Type

	// RepositoryID identifies the repository the task belongs to.
	RepositoryID string

	// Status is the initial status: StatusConnecting or StatusRunning.
	// Empty defaults to StatusRunning.
	Status Status

	// Progress is the initial fraction complete, clamped to [0, 1].
	Progress float64

	// Detail holds initial type-specific fields. Optional.
	Detail Detail
}

// Update describes a partial mutation of a live record. Nil fields are
// left unchanged.
type Update struct {
	// Progress, when set, moves the record's progress. Values below the
	// current progress are ignored; progress never decreases.
	Progress *float64

	// Running promotes a StatusConnecting record to StatusRunning.
	Running bool

	// Detail, when set, replaces the record's detail wholesale. Events
	// carry complete detail snapshots, so there is no field-level merge.
	Detail Detail
}

type subscriber struct {
	id int
	fn func(Record)
}

// Store is a keyed registry of task records with multi-subscriber change
// notification.
//
// Mutations and notifications run under one mutex: subscribers for the
// same record observe updates in order, and a subscriber never sees
// progress move backwards. Callbacks therefore must not call back into
// mutating or subscribing store methods, and must return quickly; slow
// consumers take a snapshot and hand it to their own goroutine.
type Store struct {
	log *zap.Logger

	mu      sync.Mutex
	records map[string]*Record
	order   []string
	subs    []subscriber
	nextSub int
}

// NewStore creates an empty store.
func NewStore(logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		log:     logger.Named("progress"),
		records: make(map[string]*Record),
	}
}

// StartProgress creates a record from the seed and returns its id.
// Subscribers are notified of the new record.
func (s *Store) StartProgress(seed Seed) string {
	status := seed.Status
	if status == "" {
		status = StatusRunning
	}

	rec := &Record{
		ID:           uuid.NewString(),
		Type:         seed.Type,
		Status:       status,
		Progress:     clampProgress(seed.Progress),
		RepositoryID: seed.RepositoryID,
		StartTime:    timeNow(),
		Detail:       seed.Detail,
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[rec.ID] = rec
	s.order = append(s.order, rec.ID)
	s.notifyLocked(*rec)

	s.log.Debug("progress started",
		zap.String("id", rec.ID),
		zap.String("type", string(rec.Type)),
		zap.String("repository", rec.RepositoryID))
	return rec.ID
}

// UpdateProgress applies a partial update to a live record. Updates to
// unknown ids and terminal records are logged and ignored.
func (s *Store) UpdateProgress(id string, upd Update) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.liveLocked(id, "update")
	if !ok {
		return
	}

	if upd.Running && rec.Status == StatusConnecting {
		rec.Status = StatusRunning
	}
	if upd.Progress != nil {
		p := clampProgress(*upd.Progress)
		if p < rec.Progress {
			s.log.Debug("ignoring progress decrease",
				zap.String("id", id),
				zap.Float64("current", rec.Progress),
				zap.Float64("offered", p))
		} else {
			rec.Progress = p
		}
	}
	if upd.Detail != nil {
		if upd.Detail.ProgressType() != rec.Type {
			s.log.Warn("detail type mismatch, keeping previous detail",
				zap.String("id", id),
				zap.String("record_type", string(rec.Type)),
				zap.String("detail_type", string(upd.Detail.ProgressType())))
		} else {
			rec.Detail = upd.Detail
		}
	}

	s.notifyLocked(*rec)
}

// CompleteProgress marks a record completed, forcing progress to 1.0 and
// stamping the end time. A non-nil result replaces the record's detail.
// No-op for unknown ids and already-terminal records.
func (s *Store) CompleteProgress(id string, result Detail) {
	s.finish(id, StatusCompleted, "", result)
}

// ErrorProgress marks a record failed with the given message.
// No-op for unknown ids and already-terminal records.
func (s *Store) ErrorProgress(id, errMsg string) {
	s.finish(id, StatusError, errMsg, nil)
}

// CancelProgress marks a record cancelled. This is bookkeeping only;
// the caller is responsible for stopping the task itself.
// No-op for unknown ids and already-terminal records.
func (s *Store) CancelProgress(id string) {
	s.finish(id, StatusCancelled, "", nil)
}

func (s *Store) finish(id string, status Status, errMsg string, result Detail) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.liveLocked(id, string(status))
	if !ok {
		return
	}

	rec.Status = status
	rec.EndTime = timeNow()
	if status == StatusCompleted {
		rec.Progress = 1.0
	}
	if errMsg != "" {
		rec.Error = errMsg
	}
	if result != nil {
		if result.ProgressType() != rec.Type {
			s.log.Warn("result detail type mismatch, keeping previous detail",
				zap.String("id", id),
				zap.String("record_type", string(rec.Type)),
				zap.String("detail_type", string(result.ProgressType())))
		} else {
			rec.Detail = result
		}
	}

	metrics.TasksTotal.WithLabelValues(string(rec.Type), string(status)).Inc()
	metrics.TaskDuration.WithLabelValues(string(rec.Type)).Observe(rec.EndTime.Sub(rec.StartTime).Seconds())

	s.notifyLocked(*rec)

	s.log.Info("progress finished",
		zap.String("id", rec.ID),
		zap.String("type", string(rec.Type)),
		zap.String("repository", rec.RepositoryID),
		zap.String("status", string(status)),
		zap.Duration("duration", rec.EndTime.Sub(rec.StartTime)))
}

// liveLocked fetches a record that is allowed to mutate. Caller holds s.mu.
func (s *Store) liveLocked(id, op string) (*Record, bool) {
	rec, ok := s.records[id]
	if !ok {
		s.log.Warn("progress operation on unknown id",
			zap.String("id", id), zap.String("op", op))
		return nil, false
	}
	if rec.Status.Terminal() {
		s.log.Warn("progress operation on terminal record",
			zap.String("id", id),
			zap.String("status", string(rec.Status)),
			zap.String("op", op))
		return nil, false
	}
	return rec, true
}

// GetProgress returns a snapshot of the record with the given id.
func (s *Store) GetProgress(id string) (Record, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[id]
	if !ok {
		return Record{}, false
	}
	return *rec, true
}

// GetProgressByRepository returns snapshots of all records for a
// repository, in creation order.
func (s *Store) GetProgressByRepository(repositoryID string) []Record {
	return s.collect(func(r *Record) bool { return r.RepositoryID == repositoryID })
}

// GetProgressByType returns snapshots of all records of one task type, in
// creation order.
func (s *Store) GetProgressByType(t Type) []Record {
	return s.collect(func(r *Record) bool { return r.Type == t })
}

// GetAllProgress returns snapshots of all records in creation order.
func (s *Store) GetAllProgress() []Record {
	return s.collect(func(*Record) bool { return true })
}

func (s *Store) collect(keep func(*Record) bool) []Record {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []Record
	for _, id := range s.order {
		if rec := s.records[id]; keep(rec) {
			out = append(out, *rec)
		}
	}
	return out
}

// Stats summarizes record counts by status.
type Stats struct {
	Total      int `json:"total"`
	Connecting int `json:"connecting"`
	Running    int `json:"running"`
	Completed  int `json:"completed"`
	Errors     int `json:"errors"`
	Cancelled  int `json:"cancelled"`
}

// GetProgressStats returns record counts by status.
func (s *Store) GetProgressStats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	var st Stats
	for _, rec := range s.records {
		st.Total++
		switch rec.Status {
		case StatusConnecting:
			st.Connecting++
		case StatusRunning:
			st.Running++
		case StatusCompleted:
			st.Completed++
		case StatusError:
			st.Errors++
		case StatusCancelled:
			st.Cancelled++
		}
	}
	return st
}

// Subscribe registers a callback invoked with a snapshot after every
// record change. The returned function unsubscribes; it is idempotent.
// Callbacks run synchronously under the store lock and must not call
// mutating or subscribing store methods.
func (s *Store) Subscribe(fn func(Record)) func() {
	s.mu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs = append(s.subs, subscriber{id: id, fn: fn})
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		for i, sub := range s.subs {
			if sub.id == id {
				s.subs = append(s.subs[:i], s.subs[i+1:]...)
				return
			}
		}
	}
}

// Clear removes every record. Subscriptions are kept.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = make(map[string]*Record)
	s.order = nil
}

// notifyLocked delivers a snapshot to all subscribers in registration
// order. Caller holds s.mu.
func (s *Store) notifyLocked(snapshot Record) {
	for _, sub := range s.subs {
		sub.fn(snapshot)
	}
}
