package progress

import (
	"sync"

	"go.uber.org/zap"

	"github.com/repowiki/console/internal/protocol"
	"github.com/repowiki/console/internal/socket"
)

// key identifies one logical task across transport events. taskID is the
// research id for research tasks and empty for indexing and wiki
// generation; manual tasks may carry any caller-chosen taskID.
type key struct {
	taskType Type
	repo     string
	taskID   string
}

// Tracker translates transport task events into store mutations. It keeps
// a map from task key to the store record currently representing that
// task, so a stream of index/wiki/research frames lands on one record per
// run instead of one record per frame.
//
// Events for tasks the tracker never saw start are adopted on the fly: a
// progress frame opens a record (wiki generation has no start frame at
// all), and a completion or error frame for an untracked run creates a
// record just so the outcome is visible.
type Tracker struct {
	store *Store
	log   *zap.Logger

	mu     sync.Mutex
	active map[key]string
}

// NewTracker creates a tracker feeding the given store.
func NewTracker(store *Store, logger *zap.Logger) *Tracker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Tracker{
		store:  store,
		log:    logger.Named("tracker"),
		active: make(map[key]string),
	}
}

// Bind registers the tracker's task handlers on the client. Chat frames
// are not tracked; they remain free for the caller's own handlers.
func (t *Tracker) Bind(c *socket.Client) {
	c.SetHandlers(socket.Handlers{
		OnIndexStart:       t.onIndexStart,
		OnIndexProgress:    t.onIndexProgress,
		OnIndexComplete:    t.onIndexComplete,
		OnIndexError:       t.onIndexError,
		OnWikiProgress:     t.onWikiProgress,
		OnWikiComplete:     t.onWikiComplete,
		OnWikiError:        t.onWikiError,
		OnResearchStart:    t.onResearchStart,
		OnResearchProgress: t.onResearchProgress,
		OnResearchComplete: t.onResearchComplete,
		OnResearchError:    t.onResearchError,
	})
}

// Store returns the store this tracker feeds.
func (t *Tracker) Store() *Store {
	return t.store
}

// begin starts a fresh record for k. A key whose previous run is still
// live is superseded with a warning; the superseded record stays
// reachable by id.
func (t *Tracker) begin(k key, seed Seed) string {
	t.mu.Lock()
	defer t.mu.Unlock()
	if old, ok := t.active[k]; ok {
		if rec, found := t.store.GetProgress(old); found && !rec.Status.Terminal() {
			t.log.Warn("task restarted while previous run still active, superseding",
				zap.String("type", string(k.taskType)),
				zap.String("repository", k.repo),
				zap.String("task_id", k.taskID),
				zap.String("superseded", old))
		}
	}
	id := t.store.StartProgress(seed)
	t.active[k] = id
	return id
}

// adopt registers a record for a key that has none, for events arriving
// without a tracked start.
func (t *Tracker) adopt(k key, seed Seed) string {
	t.mu.Lock()
	defer t.mu.Unlock()
	if id, ok := t.active[k]; ok {
		return id
	}
	id := t.store.StartProgress(seed)
	t.active[k] = id
	return id
}

// lookupLive resolves k to its record id. mapped reports whether the key
// is registered at all; live whether the mapped record can still mutate.
func (t *Tracker) lookupLive(k key) (id string, mapped, live bool) {
	t.mu.Lock()
	id, mapped = t.active[k]
	t.mu.Unlock()
	if !mapped {
		return "", false, false
	}
	rec, found := t.store.GetProgress(id)
	if !found || rec.Status.Terminal() {
		return id, true, false
	}
	return id, true, true
}

// release drops the key→id mapping if it still points at id, so a
// superseding run's mapping is never removed by its predecessor.
func (t *Tracker) release(k key, id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if cur, ok := t.active[k]; ok && cur == id {
		delete(t.active, k)
	}
}

// finishEvent finalizes the record for k with fin, adopting one from seed
// when the run was never tracked, and removes the key mapping. A mapping
// pointing at an already-finished record is just cleaned up; this absorbs
// trailing terminal frames after indexing completed at full progress.
func (t *Tracker) finishEvent(k key, seed Seed, fin func(id string)) {
	id, mapped, live := t.lookupLive(k)
	switch {
	case live:
	case mapped:
		t.log.Debug("terminal event for already-finished task",
			zap.String("type", string(k.taskType)),
			zap.String("repository", k.repo),
			zap.String("task_id", k.taskID))
		t.release(k, id)
		return
	default:
		id = t.adopt(k, seed)
	}
	fin(id)
	t.release(k, id)
}

// detailFor returns the current detail of record id as type D, or the
// zero value when the record is missing or holds another detail type.
func detailFor[D Detail](t *Tracker, id string) D {
	var det D
	if rec, ok := t.store.GetProgress(id); ok {
		if d, match := rec.Detail.(D); match {
			det = d
		}
	}
	return det
}

func (t *Tracker) onIndexStart(msg *protocol.IndexStart) {
	t.begin(key{TypeIndexing, msg.RepositoryID, ""}, Seed{
		Type:         TypeIndexing,
		RepositoryID: msg.RepositoryID,
		Detail:       IndexingDetail{TotalFiles: msg.TotalFiles},
	})
}

func (t *Tracker) onIndexProgress(msg *protocol.IndexProgress) {
	k := key{TypeIndexing, msg.RepositoryID, ""}
	id, mapped, live := t.lookupLive(k)
	switch {
	case live:
	case mapped:
		t.log.Debug("dropping progress for finished task",
			zap.String("repository", msg.RepositoryID))
		return
	default:
		id = t.adopt(k, Seed{Type: TypeIndexing, RepositoryID: msg.RepositoryID})
	}

	t.store.UpdateProgress(id, Update{
		Progress: &msg.Progress,
		Running:  true,
		Detail: IndexingDetail{
			FilesProcessed: msg.FilesProcessed,
			TotalFiles:     msg.TotalFiles,
			CurrentFile:    msg.CurrentFile,
			ProcessingRate: msg.ProcessingRate,
		},
	})

	// Some backends never send index_complete; full progress is the only
	// completion signal they give. Wiki and research runs are not
	// completed this way because their result fields arrive only with the
	// explicit complete frame.
	if msg.Progress >= 1.0 {
		t.store.CompleteProgress(id, nil)
	}
}

func (t *Tracker) onIndexComplete(msg *protocol.IndexComplete) {
	k := key{TypeIndexing, msg.RepositoryID, ""}
	seed := Seed{
		Type:         TypeIndexing,
		RepositoryID: msg.RepositoryID,
		Detail:       IndexingDetail{TotalFiles: msg.TotalFiles},
	}
	t.finishEvent(k, seed, func(id string) {
		det := detailFor[IndexingDetail](t, id)
		det.TotalFiles = msg.TotalFiles
		det.FilesProcessed = msg.TotalFiles
		det.CurrentFile = ""
		t.store.CompleteProgress(id, det)
	})
}

func (t *Tracker) onIndexError(msg *protocol.IndexError) {
	k := key{TypeIndexing, msg.RepositoryID, ""}
	seed := Seed{Type: TypeIndexing, RepositoryID: msg.RepositoryID}
	t.finishEvent(k, seed, func(id string) {
		t.store.ErrorProgress(id, msg.Error)
	})
}

func (t *Tracker) onWikiProgress(msg *protocol.WikiProgress) {
	k := key{TypeWikiGeneration, msg.RepositoryID, ""}
	id, mapped, live := t.lookupLive(k)
	switch {
	case live:
	case mapped:
		t.log.Debug("dropping progress for finished task",
			zap.String("repository", msg.RepositoryID))
		return
	default:
		// First progress frame opens the run; there is no wiki start frame.
		id = t.adopt(k, Seed{Type: TypeWikiGeneration, RepositoryID: msg.RepositoryID})
	}

	t.store.UpdateProgress(id, Update{
		Progress: &msg.Progress,
		Running:  true,
		Detail: WikiDetail{
			CurrentStep:    msg.CurrentStep,
			TotalSteps:     msg.TotalSteps,
			CompletedSteps: msg.CompletedSteps,
			StepDetails:    msg.StepDetails,
		},
	})
}

func (t *Tracker) onWikiComplete(msg *protocol.WikiComplete) {
	k := key{TypeWikiGeneration, msg.RepositoryID, ""}
	seed := Seed{Type: TypeWikiGeneration, RepositoryID: msg.RepositoryID}
	t.finishEvent(k, seed, func(id string) {
		det := detailFor[WikiDetail](t, id)
		det.WikiID = msg.WikiID
		det.PagesCount = msg.PagesCount
		det.SectionsCount = msg.SectionsCount
		t.store.CompleteProgress(id, det)
	})
}

func (t *Tracker) onWikiError(msg *protocol.WikiError) {
	k := key{TypeWikiGeneration, msg.RepositoryID, ""}
	seed := Seed{Type: TypeWikiGeneration, RepositoryID: msg.RepositoryID}
	t.finishEvent(k, seed, func(id string) {
		t.store.ErrorProgress(id, msg.Error)
	})
}

func (t *Tracker) onResearchStart(msg *protocol.ResearchStart) {
	t.begin(key{TypeResearch, msg.RepositoryID, msg.ResearchID}, Seed{
		Type:         TypeResearch,
		RepositoryID: msg.RepositoryID,
		Detail: ResearchDetail{
			ResearchID:      msg.ResearchID,
			Query:           msg.Query,
			TotalIterations: msg.TotalIterations,
		},
	})
}

func (t *Tracker) onResearchProgress(msg *protocol.ResearchProgress) {
	k := key{TypeResearch, msg.RepositoryID, msg.ResearchID}
	id, mapped, live := t.lookupLive(k)
	switch {
	case live:
	case mapped:
		t.log.Debug("dropping progress for finished task",
			zap.String("repository", msg.RepositoryID),
			zap.String("research_id", msg.ResearchID))
		return
	default:
		id = t.adopt(k, Seed{
			Type:         TypeResearch,
			RepositoryID: msg.RepositoryID,
			Detail:       ResearchDetail{ResearchID: msg.ResearchID},
		})
	}

	// Progress frames do not carry the query, so overlay instead of
	// replacing wholesale.
	det := detailFor[ResearchDetail](t, id)
	det.ResearchID = msg.ResearchID
	det.CurrentIteration = msg.CurrentIteration
	det.TotalIterations = msg.TotalIterations
	det.CurrentFocus = msg.CurrentFocus
	t.store.UpdateProgress(id, Update{Progress: &msg.Progress, Running: true, Detail: det})
}

func (t *Tracker) onResearchComplete(msg *protocol.ResearchComplete) {
	k := key{TypeResearch, msg.RepositoryID, msg.ResearchID}
	seed := Seed{
		Type:         TypeResearch,
		RepositoryID: msg.RepositoryID,
		Detail:       ResearchDetail{ResearchID: msg.ResearchID},
	}
	t.finishEvent(k, seed, func(id string) {
		det := detailFor[ResearchDetail](t, id)
		det.ResearchID = msg.ResearchID
		det.FinalConclusion = msg.FinalConclusion
		det.AllFindings = msg.AllFindings
		det.CurrentFocus = ""
		t.store.CompleteProgress(id, det)
	})
}

func (t *Tracker) onResearchError(msg *protocol.ResearchError) {
	k := key{TypeResearch, msg.RepositoryID, msg.ResearchID}
	seed := Seed{
		Type:         TypeResearch,
		RepositoryID: msg.RepositoryID,
		Detail:       ResearchDetail{ResearchID: msg.ResearchID},
	}
	t.finishEvent(k, seed, func(id string) {
		t.store.ErrorProgress(id, msg.Error)
	})
}

// StartTask registers a manually driven task, one not fed by transport
// events such as a synchronous RAG query, and returns its record id.
// taskID distinguishes concurrent runs of the same type against one
// repository; it may be empty.
func (t *Tracker) StartTask(taskType Type, repositoryID, taskID string, detail Detail) string {
	return t.begin(key{taskType, repositoryID, taskID}, Seed{
		Type:         taskType,
		RepositoryID: repositoryID,
		Detail:       detail,
	})
}

// UpdateTask moves a manually driven task forward. Unknown and finished
// tasks are logged and ignored.
func (t *Tracker) UpdateTask(taskType Type, repositoryID, taskID string, prog float64, detail Detail) {
	id, _, live := t.lookupLive(key{taskType, repositoryID, taskID})
	if !live {
		t.log.Warn("update for unknown task",
			zap.String("type", string(taskType)),
			zap.String("repository", repositoryID),
			zap.String("task_id", taskID))
		return
	}
	t.store.UpdateProgress(id, Update{Progress: &prog, Running: true, Detail: detail})
}

// CompleteTask finishes a manually driven task.
func (t *Tracker) CompleteTask(taskType Type, repositoryID, taskID string, result Detail) {
	t.finishManual(key{taskType, repositoryID, taskID}, func(id string) {
		t.store.CompleteProgress(id, result)
	})
}

// FailTask marks a manually driven task failed.
func (t *Tracker) FailTask(taskType Type, repositoryID, taskID, errMsg string) {
	t.finishManual(key{taskType, repositoryID, taskID}, func(id string) {
		t.store.ErrorProgress(id, errMsg)
	})
}

// CancelTask marks a manually driven task cancelled. Stopping the work
// itself is the caller's job.
func (t *Tracker) CancelTask(taskType Type, repositoryID, taskID string) {
	t.finishManual(key{taskType, repositoryID, taskID}, func(id string) {
		t.store.CancelProgress(id)
	})
}

// finishManual is finishEvent without the adoption path: finishing a
// manual task nobody started is a caller bug, not a backend quirk.
func (t *Tracker) finishManual(k key, fin func(id string)) {
	id, mapped, live := t.lookupLive(k)
	if !mapped {
		t.log.Warn("finish for unknown task",
			zap.String("type", string(k.taskType)),
			zap.String("repository", k.repo),
			zap.String("task_id", k.taskID))
		return
	}
	if live {
		fin(id)
	}
	t.release(k, id)
}

// Lookup returns the store record id currently mapped to the given task,
// if any.
func (t *Tracker) Lookup(taskType Type, repositoryID, taskID string) (string, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	id, ok := t.active[key{taskType, repositoryID, taskID}]
	return id, ok
}
