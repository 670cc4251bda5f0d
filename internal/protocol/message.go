// Package protocol defines the wire format spoken between the console and a
// repowiki backend. Every frame is a JSON text message carrying a type tag,
// an ISO 8601 timestamp, and (for most types) a message id used for
// correlation and duplicate detection.
//
// The set of message types is closed: Message is implemented only by the
// structs in this package, and Decode rejects unknown tags with a coded
// error. Adding a message type means adding a struct, a Type constant, and
// a case in newMessage.
package protocol

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	apperrors "github.com/repowiki/console/internal/errors"
)

// Type identifies the kind of message being sent over the WebSocket.
// Each type has a specific struct defined below.
type Type string

// Client-to-server message types.
const (
	// TypeChat asks a question about a repository. Struct: Chat
	TypeChat Type = "chat"

	// TypeWikiGenerate requests wiki generation for a repository.
	// Struct: WikiGenerate
	TypeWikiGenerate Type = "wiki_generate"

	// TypePing is the application-level heartbeat probe.
	// The backend answers with a pong frame. Struct: Ping
	TypePing Type = "ping"
)

// Server-to-client message types.
const (
	// TypeChatResponse carries an answer (or answer chunk) to a chat
	// question. Struct: ChatResponse
	TypeChatResponse Type = "chat_response"

	// TypeChatError reports a failed chat question. Struct: ChatError
	TypeChatError Type = "chat_error"

	// TypeIndexStart announces that repository indexing has begun.
	// Struct: IndexStart
	TypeIndexStart Type = "index_start"

	// TypeIndexProgress reports incremental indexing progress.
	// Struct: IndexProgress
	TypeIndexProgress Type = "index_progress"

	// TypeIndexComplete announces that indexing finished successfully.
	// Struct: IndexComplete
	TypeIndexComplete Type = "index_complete"

	// TypeIndexError reports a failed indexing run. Struct: IndexError
	TypeIndexError Type = "index_error"

	// TypeWikiProgress reports incremental wiki generation progress.
	// There is no wiki start frame; the first progress frame opens the run.
	// Struct: WikiProgress
	TypeWikiProgress Type = "wiki_progress"

	// TypeWikiComplete announces a finished wiki with its identifiers.
	// Struct: WikiComplete
	TypeWikiComplete Type = "wiki_complete"

	// TypeWikiError reports a failed wiki generation run. Struct: WikiError
	TypeWikiError Type = "wiki_error"

	// TypeResearchStart announces that a deep-research run has begun.
	// Struct: ResearchStart
	TypeResearchStart Type = "research_start"

	// TypeResearchProgress reports incremental research progress.
	// Struct: ResearchProgress
	TypeResearchProgress Type = "research_progress"

	// TypeResearchComplete announces a finished research run with its
	// conclusion. Struct: ResearchComplete
	TypeResearchComplete Type = "research_complete"

	// TypeResearchError reports a failed research run. Struct: ResearchError
	TypeResearchError Type = "research_error"

	// TypePong answers a ping frame. Struct: Pong
	TypePong Type = "pong"

	// TypeError reports a backend error not tied to a task.
	// Struct: ServerError
	TypeError Type = "error"
)

// Message is implemented by every protocol frame. The unexported method
// seals the interface so the union of frame types is fixed at compile time.
type Message interface {
	// MessageType returns the frame's type tag.
	MessageType() Type

	// MessageID returns the frame's id, or "" for frames without one.
	MessageID() string

	stamp()
}

// Header is the envelope shared by all frames. It is embedded in every
// message struct so the fields serialize flat alongside the type-specific
// ones.
type Header struct {
	// Type identifies what kind of message this is.
	Type Type `json:"type"`

	// ID is the message identifier, used for duplicate detection and
	// request/response correlation. Heartbeat frames omit it.
	ID string `json:"id,omitempty"`

	// Timestamp is when the message was created, ISO 8601 / RFC 3339.
	Timestamp string `json:"timestamp"`
}

// MessageType returns the frame's type tag.
func (h Header) MessageType() Type { return h.Type }

// MessageID returns the frame's id, or "" for frames without one.
func (h Header) MessageID() string { return h.ID }

func (h *Header) stamp() {
	if h.Timestamp == "" {
		h.Timestamp = timeNow().UTC().Format(time.RFC3339Nano)
	}
}

// timeNow is a seam for tests that need deterministic timestamps.
var timeNow = time.Now

// Stamp fills in the frame's timestamp if it is empty. Send paths call this
// so caller-constructed messages go out with a valid envelope.
func Stamp(m Message) { m.stamp() }

// newHeader builds a stamped header with a fresh message id.
func newHeader(t Type) Header {
	return Header{
		Type:      t,
		ID:        uuid.NewString(),
		Timestamp: timeNow().UTC().Format(time.RFC3339Nano),
	}
}

// Chat asks a question about a repository.
type Chat struct {
	Header

	// RepositoryID identifies the repository the question is about.
	RepositoryID string `json:"repository_id"`

	// Question is the user's question text.
	Question string `json:"question"`

	// Context is optional extra context for the question, such as a file
	// path or a previous answer the question refers to.
	Context string `json:"context,omitempty"`
}

// WikiConfig carries the options for a wiki generation run.
type WikiConfig struct {
	// Language is the output language code (e.g. "en"). Empty means the
	// backend default.
	Language string `json:"language,omitempty"`

	// Comprehensive requests the detailed multi-section wiki instead of
	// the concise one.
	Comprehensive bool `json:"comprehensive,omitempty"`

	// Provider selects the model provider on the backend. Empty means the
	// backend default.
	Provider string `json:"provider,omitempty"`

	// Model selects a specific model within the provider.
	Model string `json:"model,omitempty"`

	// ExcludedDirs lists directories to skip during generation.
	ExcludedDirs []string `json:"excluded_dirs,omitempty"`

	// ExcludedFiles lists file patterns to skip during generation.
	ExcludedFiles []string `json:"excluded_files,omitempty"`
}

// WikiGenerate requests wiki generation for a repository.
type WikiGenerate struct {
	Header

	// RepositoryID identifies the repository to generate a wiki for.
	RepositoryID string `json:"repository_id"`

	// Config carries the generation options.
	Config WikiConfig `json:"config"`
}

// Ping is the application-level heartbeat probe. It carries no id; pings
// are fire-and-forget and never tracked.
type Ping struct {
	Header
}

// Pong answers a ping. The transport consumes pongs internally; they are
// never routed to handlers.
type Pong struct {
	Header
}

// ChatResponse carries an answer, or one chunk of a streamed answer, to a
// chat question.
type ChatResponse struct {
	Header

	// RepositoryID identifies the repository the answer is about.
	RepositoryID string `json:"repository_id"`

	// Answer is the answer text. For streamed responses this is one chunk;
	// the client concatenates chunks in arrival order.
	Answer string `json:"answer"`

	// Sources lists the source documents the answer was grounded on.
	Sources []string `json:"sources,omitempty"`

	// IsStreaming indicates this frame is part of a streamed answer.
	IsStreaming bool `json:"is_streaming,omitempty"`

	// IsComplete marks the final frame of a streamed answer.
	IsComplete bool `json:"is_complete,omitempty"`
}

// ChatError reports a failed chat question.
type ChatError struct {
	Header

	// RepositoryID identifies the repository the question was about.
	RepositoryID string `json:"repository_id"`

	// Error is a human-readable description of the failure.
	Error string `json:"error"`
}

// IndexStart announces that repository indexing has begun.
type IndexStart struct {
	Header

	// RepositoryID identifies the repository being indexed.
	RepositoryID string `json:"repository_id"`

	// TotalFiles is the number of files to index, when known up front.
	TotalFiles int `json:"total_files,omitempty"`
}

// IndexProgress reports incremental indexing progress.
type IndexProgress struct {
	Header

	// RepositoryID identifies the repository being indexed.
	RepositoryID string `json:"repository_id"`

	// Progress is the overall fraction complete, 0.0 through 1.0.
	Progress float64 `json:"progress"`

	// CurrentFile is the file currently being processed.
	CurrentFile string `json:"current_file,omitempty"`

	// FilesProcessed is the number of files indexed so far.
	FilesProcessed int `json:"files_processed"`

	// TotalFiles is the total number of files to index.
	TotalFiles int `json:"total_files"`

	// ProcessingRate is the current throughput in files per second.
	ProcessingRate float64 `json:"processing_rate,omitempty"`
}

// IndexComplete announces that indexing finished successfully.
type IndexComplete struct {
	Header

	// RepositoryID identifies the repository that was indexed.
	RepositoryID string `json:"repository_id"`

	// TotalFiles is the number of files indexed.
	TotalFiles int `json:"total_files"`
}

// IndexError reports a failed indexing run.
type IndexError struct {
	Header

	// RepositoryID identifies the repository being indexed.
	RepositoryID string `json:"repository_id"`

	// Error is a human-readable description of the failure.
	Error string `json:"error"`
}

// WikiProgress reports incremental wiki generation progress.
type WikiProgress struct {
	Header

	// RepositoryID identifies the repository the wiki is for.
	RepositoryID string `json:"repository_id"`

	// Progress is the overall fraction complete, 0.0 through 1.0.
	Progress float64 `json:"progress"`

	// CurrentStep names the generation step currently running.
	CurrentStep string `json:"current_step"`

	// TotalSteps is the number of generation steps in this run.
	TotalSteps int `json:"total_steps"`

	// CompletedSteps is the number of steps finished so far.
	CompletedSteps int `json:"completed_steps"`

	// StepDetails carries extra detail about the current step.
	StepDetails string `json:"step_details,omitempty"`
}

// WikiComplete announces a finished wiki with its identifiers.
type WikiComplete struct {
	Header

	// RepositoryID identifies the repository the wiki is for.
	RepositoryID string `json:"repository_id"`

	// WikiID is the identifier of the generated wiki.
	WikiID string `json:"wiki_id"`

	// PagesCount is the number of pages in the generated wiki.
	PagesCount int `json:"pages_count"`

	// SectionsCount is the number of sections in the generated wiki.
	SectionsCount int `json:"sections_count"`
}

// WikiError reports a failed wiki generation run.
type WikiError struct {
	Header

	// RepositoryID identifies the repository the wiki was for.
	RepositoryID string `json:"repository_id"`

	// Error is a human-readable description of the failure.
	Error string `json:"error"`
}

// ResearchStart announces that a deep-research run has begun.
type ResearchStart struct {
	Header

	// RepositoryID identifies the repository being researched.
	RepositoryID string `json:"repository_id"`

	// ResearchID identifies this research run. A repository can have
	// several research runs in flight at once.
	ResearchID string `json:"research_id"`

	// Query is the research question.
	Query string `json:"query"`

	// TotalIterations is the planned number of research iterations.
	TotalIterations int `json:"total_iterations"`
}

// ResearchProgress reports incremental research progress.
type ResearchProgress struct {
	Header

	// RepositoryID identifies the repository being researched.
	RepositoryID string `json:"repository_id"`

	// ResearchID identifies the research run this frame belongs to.
	ResearchID string `json:"research_id"`

	// Progress is the overall fraction complete, 0.0 through 1.0.
	Progress float64 `json:"progress"`

	// CurrentIteration is the iteration currently running, 1-based.
	CurrentIteration int `json:"current_iteration"`

	// TotalIterations is the planned number of iterations.
	TotalIterations int `json:"total_iterations"`

	// CurrentFocus describes what the current iteration is investigating.
	CurrentFocus string `json:"current_focus"`
}

// ResearchComplete announces a finished research run with its conclusion.
type ResearchComplete struct {
	Header

	// RepositoryID identifies the repository that was researched.
	RepositoryID string `json:"repository_id"`

	// ResearchID identifies the research run that finished.
	ResearchID string `json:"research_id"`

	// FinalConclusion is the synthesized answer to the research query.
	FinalConclusion string `json:"final_conclusion"`

	// AllFindings lists the individual findings gathered along the way.
	AllFindings []string `json:"all_findings,omitempty"`
}

// ResearchError reports a failed research run.
type ResearchError struct {
	Header

	// RepositoryID identifies the repository being researched.
	RepositoryID string `json:"repository_id"`

	// ResearchID identifies the research run that failed.
	ResearchID string `json:"research_id"`

	// Error is a human-readable description of the failure.
	Error string `json:"error"`
}

// ServerError reports a backend error not tied to a specific task.
type ServerError struct {
	Header

	// Code is a stable error code for programmatic handling.
	Code string `json:"code,omitempty"`

	// Message is a human-readable error description.
	Message string `json:"message"`
}

// NewChat creates a chat message with a fresh id and timestamp.
func NewChat(repositoryID, question, context string) *Chat {
	return &Chat{
		Header:       newHeader(TypeChat),
		RepositoryID: repositoryID,
		Question:     question,
		Context:      context,
	}
}

// NewWikiGenerate creates a wiki generation request with a fresh id and
// timestamp.
func NewWikiGenerate(repositoryID string, cfg WikiConfig) *WikiGenerate {
	return &WikiGenerate{
		Header:       newHeader(TypeWikiGenerate),
		RepositoryID: repositoryID,
		Config:       cfg,
	}
}

// NewPing creates a heartbeat probe. Pings carry a timestamp but no id.
func NewPing() *Ping {
	return &Ping{
		Header: Header{
			Type:      TypePing,
			Timestamp: timeNow().UTC().Format(time.RFC3339Nano),
		},
	}
}

// NewPong creates a heartbeat answer. Used by test backends; a real console
// never sends pongs.
func NewPong() *Pong {
	return &Pong{
		Header: Header{
			Type:      TypePong,
			Timestamp: timeNow().UTC().Format(time.RFC3339Nano),
		},
	}
}

// Encode serializes a message to its wire form.
func Encode(m Message) ([]byte, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return nil, apperrors.EncodeFailed(string(m.MessageType()), err)
	}
	return data, nil
}

// Decode parses a wire frame into its concrete message type.
//
// A frame that is not valid JSON, or whose body does not match its type's
// struct, fails with code protocol.invalid_message. A well-formed frame
// with an unrecognized type tag fails with code protocol.unknown_type so
// callers can log and drop it without treating the connection as broken.
func Decode(data []byte) (Message, error) {
	var head struct {
		Type Type `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, apperrors.Wrap(apperrors.CodeProtocolInvalidMessage, "frame is not valid JSON", err)
	}
	if head.Type == "" {
		return nil, apperrors.New(apperrors.CodeProtocolInvalidMessage, "frame has no type field")
	}

	msg, err := newMessage(head.Type)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(data, msg); err != nil {
		return nil, apperrors.Wrap(apperrors.CodeProtocolInvalidMessage,
			fmt.Sprintf("malformed %s frame", head.Type), err)
	}
	return msg, nil
}

// newMessage returns an empty message struct for a type tag. The switch is
// the single place that enumerates the full union.
func newMessage(t Type) (Message, error) {
	switch t {
	case TypeChat:
		return &Chat{}, nil
	case TypeWikiGenerate:
		return &WikiGenerate{}, nil
	case TypePing:
		return &Ping{}, nil
	case TypeChatResponse:
		return &ChatResponse{}, nil
	case TypeChatError:
		return &ChatError{}, nil
	case TypeIndexStart:
		return &IndexStart{}, nil
	case TypeIndexProgress:
		return &IndexProgress{}, nil
	case TypeIndexComplete:
		return &IndexComplete{}, nil
	case TypeIndexError:
		return &IndexError{}, nil
	case TypeWikiProgress:
		return &WikiProgress{}, nil
	case TypeWikiComplete:
		return &WikiComplete{}, nil
	case TypeWikiError:
		return &WikiError{}, nil
	case TypeResearchStart:
		return &ResearchStart{}, nil
	case TypeResearchProgress:
		return &ResearchProgress{}, nil
	case TypeResearchComplete:
		return &ResearchComplete{}, nil
	case TypeResearchError:
		return &ResearchError{}, nil
	case TypePong:
		return &Pong{}, nil
	case TypeError:
		return &ServerError{}, nil
	default:
		return nil, apperrors.New(apperrors.CodeProtocolUnknownType,
			fmt.Sprintf("unknown message type %q", t))
	}
}
