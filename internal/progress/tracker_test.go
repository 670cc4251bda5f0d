package progress

import (
	"testing"

	"github.com/repowiki/console/internal/protocol"
)

func newTestTracker(t *testing.T) (*Tracker, *Store) {
	t.Helper()
	s := NewStore(nil)
	return NewTracker(s, nil), s
}

// only returns the single record in the store, failing the test when the
// store holds any other number.
func only(t *testing.T, s *Store) Record {
	t.Helper()
	all := s.GetAllProgress()
	if len(all) != 1 {
		t.Fatalf("store holds %d records, want 1", len(all))
	}
	return all[0]
}

func TestIndexingLifecycle(t *testing.T) {
	tr, s := newTestTracker(t)

	tr.onIndexStart(&protocol.IndexStart{RepositoryID: "owner/repo", TotalFiles: 100})

	rec := only(t, s)
	if rec.Status != StatusRunning {
		t.Errorf("Status after start = %q, want %q", rec.Status, StatusRunning)
	}
	if det := rec.Detail.(IndexingDetail); det.TotalFiles != 100 {
		t.Errorf("TotalFiles = %d, want 100", det.TotalFiles)
	}

	tr.onIndexProgress(&protocol.IndexProgress{
		RepositoryID:   "owner/repo",
		Progress:       0.4,
		CurrentFile:    "pkg/a.go",
		FilesProcessed: 40,
		TotalFiles:     100,
		ProcessingRate: 12.5,
	})

	rec = only(t, s)
	if rec.Progress != 0.4 {
		t.Errorf("Progress = %v, want 0.4", rec.Progress)
	}
	det := rec.Detail.(IndexingDetail)
	if det.CurrentFile != "pkg/a.go" || det.FilesProcessed != 40 || det.ProcessingRate != 12.5 {
		t.Errorf("detail = %+v, want progress frame fields", det)
	}

	tr.onIndexComplete(&protocol.IndexComplete{RepositoryID: "owner/repo", TotalFiles: 100})

	rec = only(t, s)
	if rec.Status != StatusCompleted {
		t.Errorf("Status after complete = %q, want %q", rec.Status, StatusCompleted)
	}
	if rec.Progress != 1.0 {
		t.Errorf("Progress after complete = %v, want 1.0", rec.Progress)
	}
	det = rec.Detail.(IndexingDetail)
	if det.FilesProcessed != 100 || det.CurrentFile != "" {
		t.Errorf("final detail = %+v, want all files processed and no current file", det)
	}

	if _, ok := tr.Lookup(TypeIndexing, "owner/repo", ""); ok {
		t.Error("key still mapped after completion")
	}
}

func TestIndexingCompletesAtFullProgress(t *testing.T) {
	tr, s := newTestTracker(t)

	tr.onIndexStart(&protocol.IndexStart{RepositoryID: "owner/repo"})
	tr.onIndexProgress(&protocol.IndexProgress{
		RepositoryID:   "owner/repo",
		Progress:       1.0,
		FilesProcessed: 30,
		TotalFiles:     30,
	})

	rec := only(t, s)
	if rec.Status != StatusCompleted {
		t.Errorf("Status = %q, want %q (full progress completes indexing)", rec.Status, StatusCompleted)
	}

	// A trailing complete frame must not open a second record.
	tr.onIndexComplete(&protocol.IndexComplete{RepositoryID: "owner/repo", TotalFiles: 30})
	if got := len(s.GetAllProgress()); got != 1 {
		t.Errorf("records after trailing complete = %d, want 1", got)
	}
	if _, ok := tr.Lookup(TypeIndexing, "owner/repo", ""); ok {
		t.Error("key still mapped after trailing complete")
	}
}

func TestFullProgressDoesNotCompleteWikiOrResearch(t *testing.T) {
	tr, s := newTestTracker(t)

	tr.onWikiProgress(&protocol.WikiProgress{RepositoryID: "owner/repo", Progress: 1.0})
	tr.onResearchStart(&protocol.ResearchStart{RepositoryID: "owner/repo", ResearchID: "r-1"})
	tr.onResearchProgress(&protocol.ResearchProgress{RepositoryID: "owner/repo", ResearchID: "r-1", Progress: 1.0})

	for _, rec := range s.GetAllProgress() {
		if rec.Status != StatusRunning {
			t.Errorf("%s record Status = %q, want %q (only explicit complete finishes it)",
				rec.Type, rec.Status, StatusRunning)
		}
	}
}

func TestTrailingProgressAfterCompletionDropped(t *testing.T) {
	tr, s := newTestTracker(t)

	tr.onIndexStart(&protocol.IndexStart{RepositoryID: "owner/repo"})
	tr.onIndexProgress(&protocol.IndexProgress{RepositoryID: "owner/repo", Progress: 1.0})
	tr.onIndexProgress(&protocol.IndexProgress{RepositoryID: "owner/repo", Progress: 0.99})

	rec := only(t, s)
	if rec.Status != StatusCompleted || rec.Progress != 1.0 {
		t.Errorf("record = %q/%v, want completed/1.0", rec.Status, rec.Progress)
	}
}

func TestProgressWithoutStartAdoptsRecord(t *testing.T) {
	tr, s := newTestTracker(t)

	tr.onIndexProgress(&protocol.IndexProgress{
		RepositoryID:   "owner/repo",
		Progress:       0.6,
		FilesProcessed: 60,
		TotalFiles:     100,
	})

	rec := only(t, s)
	if rec.Status != StatusRunning {
		t.Errorf("Status = %q, want %q", rec.Status, StatusRunning)
	}
	if rec.Progress != 0.6 {
		t.Errorf("Progress = %v, want 0.6", rec.Progress)
	}
	if rec.RepositoryID != "owner/repo" {
		t.Errorf("RepositoryID = %q, want owner/repo", rec.RepositoryID)
	}
}

func TestWikiFirstProgressOpensRun(t *testing.T) {
	tr, s := newTestTracker(t)

	tr.onWikiProgress(&protocol.WikiProgress{
		RepositoryID:   "owner/repo",
		Progress:       0.2,
		CurrentStep:    "analyzing structure",
		TotalSteps:     5,
		CompletedSteps: 1,
	})

	rec := only(t, s)
	if rec.Type != TypeWikiGeneration {
		t.Fatalf("Type = %q, want %q", rec.Type, TypeWikiGeneration)
	}
	det := rec.Detail.(WikiDetail)
	if det.CurrentStep != "analyzing structure" || det.TotalSteps != 5 {
		t.Errorf("detail = %+v, want first progress frame fields", det)
	}

	tr.onWikiComplete(&protocol.WikiComplete{
		RepositoryID:  "owner/repo",
		WikiID:        "wiki-7",
		PagesCount:    12,
		SectionsCount: 4,
	})

	rec = only(t, s)
	if rec.Status != StatusCompleted {
		t.Errorf("Status = %q, want %q", rec.Status, StatusCompleted)
	}
	det = rec.Detail.(WikiDetail)
	if det.WikiID != "wiki-7" || det.PagesCount != 12 || det.SectionsCount != 4 {
		t.Errorf("result detail = %+v, want completion fields merged", det)
	}
	if det.TotalSteps != 5 {
		t.Errorf("TotalSteps = %d, want 5 (progress fields kept through completion)", det.TotalSteps)
	}
}

func TestErrorWithoutStartCreatesVisibleFailure(t *testing.T) {
	tr, s := newTestTracker(t)

	tr.onWikiError(&protocol.WikiError{RepositoryID: "owner/repo", Error: "provider quota exceeded"})

	rec := only(t, s)
	if rec.Status != StatusError {
		t.Errorf("Status = %q, want %q", rec.Status, StatusError)
	}
	if rec.Error != "provider quota exceeded" {
		t.Errorf("Error = %q, want the backend message", rec.Error)
	}
}

func TestCompleteForUntrackedRunRecordsOutcome(t *testing.T) {
	tr, s := newTestTracker(t)

	tr.onResearchComplete(&protocol.ResearchComplete{
		RepositoryID:    "owner/repo",
		ResearchID:      "r-9",
		FinalConclusion: "uses a worker pool",
		AllFindings:     []string{"finding one", "finding two"},
	})

	rec := only(t, s)
	if rec.Status != StatusCompleted {
		t.Errorf("Status = %q, want %q", rec.Status, StatusCompleted)
	}
	det := rec.Detail.(ResearchDetail)
	if det.FinalConclusion != "uses a worker pool" || len(det.AllFindings) != 2 {
		t.Errorf("detail = %+v, want conclusion and findings", det)
	}
	if det.ResearchID != "r-9" {
		t.Errorf("ResearchID = %q, want r-9", det.ResearchID)
	}
}

func TestConcurrentResearchRunsStayIndependent(t *testing.T) {
	tr, s := newTestTracker(t)

	tr.onResearchStart(&protocol.ResearchStart{RepositoryID: "owner/repo", ResearchID: "r-1", Query: "first"})
	tr.onResearchStart(&protocol.ResearchStart{RepositoryID: "owner/repo", ResearchID: "r-2", Query: "second"})

	if got := len(s.GetAllProgress()); got != 2 {
		t.Fatalf("records = %d, want 2", got)
	}

	tr.onResearchProgress(&protocol.ResearchProgress{
		RepositoryID: "owner/repo", ResearchID: "r-1", Progress: 0.5, CurrentIteration: 2,
	})
	tr.onResearchError(&protocol.ResearchError{RepositoryID: "owner/repo", ResearchID: "r-2", Error: "timeout"})

	recs := s.GetProgressByRepository("owner/repo")
	var first, second Record
	for _, r := range recs {
		switch r.Detail.(ResearchDetail).ResearchID {
		case "r-1":
			first = r
		case "r-2":
			second = r
		}
	}

	if first.Status != StatusRunning || first.Progress != 0.5 {
		t.Errorf("r-1 = %q/%v, want running/0.5", first.Status, first.Progress)
	}
	if second.Status != StatusError {
		t.Errorf("r-2 Status = %q, want %q", second.Status, StatusError)
	}

	// The failed run released its key, the live one kept it.
	if _, ok := tr.Lookup(TypeResearch, "owner/repo", "r-2"); ok {
		t.Error("r-2 key still mapped after error")
	}
	if _, ok := tr.Lookup(TypeResearch, "owner/repo", "r-1"); !ok {
		t.Error("r-1 key lost")
	}
}

func TestResearchProgressPreservesQuery(t *testing.T) {
	tr, s := newTestTracker(t)

	tr.onResearchStart(&protocol.ResearchStart{
		RepositoryID: "owner/repo", ResearchID: "r-1", Query: "how is caching done", TotalIterations: 5,
	})
	tr.onResearchProgress(&protocol.ResearchProgress{
		RepositoryID: "owner/repo", ResearchID: "r-1",
		Progress: 0.4, CurrentIteration: 2, TotalIterations: 5, CurrentFocus: "cache invalidation",
	})

	det := only(t, s).Detail.(ResearchDetail)
	if det.Query != "how is caching done" {
		t.Errorf("Query = %q, want preserved start query", det.Query)
	}
	if det.CurrentFocus != "cache invalidation" || det.CurrentIteration != 2 {
		t.Errorf("detail = %+v, want progress frame fields", det)
	}
}

func TestRestartSupersedesActiveRun(t *testing.T) {
	tr, s := newTestTracker(t)

	tr.onIndexStart(&protocol.IndexStart{RepositoryID: "owner/repo"})
	tr.onIndexProgress(&protocol.IndexProgress{RepositoryID: "owner/repo", Progress: 0.5})
	tr.onIndexStart(&protocol.IndexStart{RepositoryID: "owner/repo"})

	all := s.GetAllProgress()
	if len(all) != 2 {
		t.Fatalf("records = %d, want 2", len(all))
	}
	old, fresh := all[0], all[1]
	if old.Progress != 0.5 {
		t.Errorf("superseded record Progress = %v, want 0.5", old.Progress)
	}

	// New progress frames land on the fresh record only.
	tr.onIndexProgress(&protocol.IndexProgress{RepositoryID: "owner/repo", Progress: 0.1})

	got, _ := s.GetProgress(fresh.ID)
	if got.Progress != 0.1 {
		t.Errorf("fresh record Progress = %v, want 0.1", got.Progress)
	}
	got, _ = s.GetProgress(old.ID)
	if got.Progress != 0.5 {
		t.Errorf("superseded record Progress = %v, want unchanged 0.5", got.Progress)
	}
}

func TestManualTaskLifecycle(t *testing.T) {
	tr, s := newTestTracker(t)

	id := tr.StartTask(TypeRAGQuery, "owner/repo", "q-1", RAGQueryDetail{Query: "where is auth handled"})
	if id == "" {
		t.Fatal("StartTask returned empty id")
	}
	if mapped, ok := tr.Lookup(TypeRAGQuery, "owner/repo", "q-1"); !ok || mapped != id {
		t.Errorf("Lookup = %q/%v, want %q/true", mapped, ok, id)
	}

	tr.UpdateTask(TypeRAGQuery, "owner/repo", "q-1", 0.5, RAGQueryDetail{
		Query: "where is auth handled", Stage: "retrieving", DocumentsRetrieved: 8,
	})

	rec, _ := s.GetProgress(id)
	if rec.Progress != 0.5 {
		t.Errorf("Progress = %v, want 0.5", rec.Progress)
	}
	if det := rec.Detail.(RAGQueryDetail); det.Stage != "retrieving" {
		t.Errorf("Stage = %q, want retrieving", det.Stage)
	}

	tr.CompleteTask(TypeRAGQuery, "owner/repo", "q-1", RAGQueryDetail{
		Query: "where is auth handled", Stage: "done", DocumentsRetrieved: 8,
	})

	rec, _ = s.GetProgress(id)
	if rec.Status != StatusCompleted {
		t.Errorf("Status = %q, want %q", rec.Status, StatusCompleted)
	}
	if _, ok := tr.Lookup(TypeRAGQuery, "owner/repo", "q-1"); ok {
		t.Error("key still mapped after CompleteTask")
	}
}

func TestManualFinishForUnknownTaskIsNoop(t *testing.T) {
	tr, s := newTestTracker(t)

	tr.CompleteTask(TypeRAGQuery, "owner/repo", "missing", nil)
	tr.FailTask(TypeRAGQuery, "owner/repo", "missing", "boom")
	tr.CancelTask(TypeRAGQuery, "owner/repo", "missing")
	tr.UpdateTask(TypeRAGQuery, "owner/repo", "missing", 0.5, nil)

	if got := s.GetProgressStats().Total; got != 0 {
		t.Errorf("records created by unknown-task finishes = %d, want 0", got)
	}
}

func TestCancelTaskMarksCancelled(t *testing.T) {
	tr, s := newTestTracker(t)

	id := tr.StartTask(TypeResearch, "owner/repo", "manual-1", nil)
	tr.CancelTask(TypeResearch, "owner/repo", "manual-1")

	rec, _ := s.GetProgress(id)
	if rec.Status != StatusCancelled {
		t.Errorf("Status = %q, want %q", rec.Status, StatusCancelled)
	}
}
