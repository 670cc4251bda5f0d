// Package progress tracks long-running backend tasks.
//
// The Store is a keyed registry of task records with synchronous
// subscriber notification; the Tracker feeds it from the transport's
// task events. UI layers read the store and subscribe to changes instead
// of handling transport frames themselves.
package progress

import "time"

// Type identifies the kind of tracked task.
type Type string

const (
	// TypeIndexing is repository indexing (embedding source files).
	TypeIndexing Type = "indexing"

	// TypeWikiGeneration is wiki generation for a repository.
	TypeWikiGeneration Type = "wiki_generation"

	// TypeRAGQuery is a retrieval-augmented query. These have no push
	// events; they are tracked manually by the caller.
	TypeRAGQuery Type = "rag_query"

	// TypeResearch is a multi-iteration deep-research run.
	TypeResearch Type = "research"
)

// Status is the lifecycle state of a task record.
type Status string

const (
	// StatusConnecting: the task was requested but the backend has not
	// confirmed it is running yet.
	StatusConnecting Status = "connecting"

	// StatusRunning: the task is in progress.
	StatusRunning Status = "running"

	// StatusCompleted: the task finished successfully. Terminal.
	StatusCompleted Status = "completed"

	// StatusError: the task failed. Terminal.
	StatusError Status = "error"

	// StatusCancelled: the task was cancelled by the caller. Terminal.
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether the status is final. Terminal records are never
// mutated again.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusError || s == StatusCancelled
}

// Detail is the type-specific portion of a progress record. Exactly one
// concrete detail type exists per task type; the unexported method seals
// the set so it is closed at compile time.
type Detail interface {
	// ProgressType returns the task type this detail belongs to.
	ProgressType() Type

	detail()
}

// IndexingDetail carries indexing-specific progress fields.
type IndexingDetail struct {
	// FilesProcessed is the number of files indexed so far.
	FilesProcessed int `json:"files_processed"`

	// TotalFiles is the total number of files to index.
	TotalFiles int `json:"total_files"`

	// CurrentFile is the file currently being processed.
	CurrentFile string `json:"current_file,omitempty"`

	// ProcessingRate is the current throughput in files per second.
	ProcessingRate float64 `json:"processing_rate,omitempty"`
}

// ProgressType returns TypeIndexing.
func (IndexingDetail) ProgressType() Type { return TypeIndexing }

func (IndexingDetail) detail() {}

// WikiDetail carries wiki-generation progress fields. The result fields
// (WikiID, PagesCount, SectionsCount) are filled on completion.
type WikiDetail struct {
	// CurrentStep names the generation step currently running.
	CurrentStep string `json:"current_step,omitempty"`

	// TotalSteps is the number of generation steps in this run.
	TotalSteps int `json:"total_steps"`

	// CompletedSteps is the number of steps finished so far.
	CompletedSteps int `json:"completed_steps"`

	// StepDetails carries extra detail about the current step.
	StepDetails string `json:"step_details,omitempty"`

	// WikiID is the identifier of the generated wiki.
	WikiID string `json:"wiki_id,omitempty"`

	// PagesCount is the number of pages in the generated wiki.
	PagesCount int `json:"pages_count,omitempty"`

	// SectionsCount is the number of sections in the generated wiki.
	SectionsCount int `json:"sections_count,omitempty"`
}

// ProgressType returns TypeWikiGeneration.
func (WikiDetail) ProgressType() Type { return TypeWikiGeneration }

func (WikiDetail) detail() {}

// ResearchDetail carries deep-research progress fields. The result fields
// (FinalConclusion, AllFindings) are filled on completion.
type ResearchDetail struct {
	// ResearchID identifies the research run. Several runs can be live
	// for the same repository at once.
	ResearchID string `json:"research_id"`

	// Query is the research question.
	Query string `json:"query,omitempty"`

	// CurrentIteration is the iteration currently running, 1-based.
	CurrentIteration int `json:"current_iteration"`

	// TotalIterations is the planned number of iterations.
	TotalIterations int `json:"total_iterations"`

	// CurrentFocus describes what the current iteration is investigating.
	CurrentFocus string `json:"current_focus,omitempty"`

	// FinalConclusion is the synthesized answer, set on completion.
	FinalConclusion string `json:"final_conclusion,omitempty"`

	// AllFindings lists individual findings, set on completion.
	AllFindings []string `json:"all_findings,omitempty"`
}

// ProgressType returns TypeResearch.
func (ResearchDetail) ProgressType() Type { return TypeResearch }

func (ResearchDetail) detail() {}

// RAGQueryDetail carries manually tracked retrieval-query fields.
type RAGQueryDetail struct {
	// Query is the question being answered.
	Query string `json:"query,omitempty"`

	// Stage names the current pipeline stage, such as "embedding",
	// "retrieval", or "generation".
	Stage string `json:"stage,omitempty"`

	// DocumentsRetrieved is the number of documents fetched so far.
	DocumentsRetrieved int `json:"documents_retrieved,omitempty"`
}

// ProgressType returns TypeRAGQuery.
func (RAGQueryDetail) ProgressType() Type { return TypeRAGQuery }

func (RAGQueryDetail) detail() {}

// Record is one tracked task. Store methods hand out copies; a Record held
// by a caller is a snapshot and never mutates.
type Record struct {
	// ID is the store-assigned record identifier.
	ID string `json:"id"`

	// Type is the kind of task.
	Type Type `json:"type"`

	// Status is the task's lifecycle state.
	Status Status `json:"status"`

	// Progress is the overall fraction complete, 0.0 through 1.0.
	// It never decreases while the record is live.
	Progress float64 `json:"progress"`

	// RepositoryID identifies the repository the task belongs to.
	RepositoryID string `json:"repository_id"`

	// StartTime is when tracking began.
	StartTime time.Time `json:"start_time"`

	// EndTime is when the record reached a terminal status. Zero while
	// the task is live.
	EndTime time.Time `json:"end_time,omitzero"`

	// Error is the failure description for StatusError records.
	Error string `json:"error,omitempty"`

	// Detail holds the type-specific fields. May be nil when nothing
	// type-specific is known yet.
	Detail Detail `json:"detail,omitempty"`
}

// Duration returns how long the task has been running, or its total
// runtime once terminal.
func (r Record) Duration() time.Duration {
	if r.EndTime.IsZero() {
		return time.Since(r.StartTime)
	}
	return r.EndTime.Sub(r.StartTime)
}

func clampProgress(p float64) float64 {
	switch {
	case p < 0:
		return 0
	case p > 1:
		return 1
	default:
		return p
	}
}
