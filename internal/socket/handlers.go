package socket

import (
	"go.uber.org/zap"

	"github.com/repowiki/console/internal/protocol"
)

// Handlers is the table of application callbacks. Every field is optional;
// SetHandlers merges non-nil fields into the registered table, so callers
// can register slots incrementally from different components.
//
// Callbacks run on the client's read goroutine. A slow handler delays
// subsequent inbound messages, so handlers should hand off long work.
type Handlers struct {
	// OnConnect fires each time a connection opens, including reconnects.
	OnConnect func()

	// OnDisconnect fires when an open connection is lost or closed.
	// err is nil for a deliberate Disconnect and for a clean close from
	// the backend; otherwise it describes the failure.
	OnDisconnect func(err error)

	// OnError fires for socket-level failures: read/write errors,
	// heartbeat timeouts, and failed reconnect dials.
	OnError func(err error)

	// OnMessage fires for every routed inbound message, before the
	// type-specific slot. Pongs and duplicates are consumed earlier and
	// never reach it.
	OnMessage func(msg protocol.Message)

	// Chat slots.
	OnChatResponse func(msg *protocol.ChatResponse)
	OnChatError    func(msg *protocol.ChatError)

	// Indexing slots.
	OnIndexStart    func(msg *protocol.IndexStart)
	OnIndexProgress func(msg *protocol.IndexProgress)
	OnIndexComplete func(msg *protocol.IndexComplete)
	OnIndexError    func(msg *protocol.IndexError)

	// Wiki generation slots.
	OnWikiProgress func(msg *protocol.WikiProgress)
	OnWikiComplete func(msg *protocol.WikiComplete)
	OnWikiError    func(msg *protocol.WikiError)

	// Research slots.
	OnResearchStart    func(msg *protocol.ResearchStart)
	OnResearchProgress func(msg *protocol.ResearchProgress)
	OnResearchComplete func(msg *protocol.ResearchComplete)
	OnResearchError    func(msg *protocol.ResearchError)

	// OnServerError fires for backend error frames not tied to a task.
	OnServerError func(msg *protocol.ServerError)
}

// SetHandlers merges the non-nil fields of h into the registered handler
// table. Existing slots are only replaced when h provides a new value for
// them. Safe to call at any time, including while connected.
func (c *Client) SetHandlers(h Handlers) {
	c.hmu.Lock()
	defer c.hmu.Unlock()

	if h.OnConnect != nil {
		c.handlers.OnConnect = h.OnConnect
	}
	if h.OnDisconnect != nil {
		c.handlers.OnDisconnect = h.OnDisconnect
	}
	if h.OnError != nil {
		c.handlers.OnError = h.OnError
	}
	if h.OnMessage != nil {
		c.handlers.OnMessage = h.OnMessage
	}
	if h.OnChatResponse != nil {
		c.handlers.OnChatResponse = h.OnChatResponse
	}
	if h.OnChatError != nil {
		c.handlers.OnChatError = h.OnChatError
	}
	if h.OnIndexStart != nil {
		c.handlers.OnIndexStart = h.OnIndexStart
	}
	if h.OnIndexProgress != nil {
		c.handlers.OnIndexProgress = h.OnIndexProgress
	}
	if h.OnIndexComplete != nil {
		c.handlers.OnIndexComplete = h.OnIndexComplete
	}
	if h.OnIndexError != nil {
		c.handlers.OnIndexError = h.OnIndexError
	}
	if h.OnWikiProgress != nil {
		c.handlers.OnWikiProgress = h.OnWikiProgress
	}
	if h.OnWikiComplete != nil {
		c.handlers.OnWikiComplete = h.OnWikiComplete
	}
	if h.OnWikiError != nil {
		c.handlers.OnWikiError = h.OnWikiError
	}
	if h.OnResearchStart != nil {
		c.handlers.OnResearchStart = h.OnResearchStart
	}
	if h.OnResearchProgress != nil {
		c.handlers.OnResearchProgress = h.OnResearchProgress
	}
	if h.OnResearchComplete != nil {
		c.handlers.OnResearchComplete = h.OnResearchComplete
	}
	if h.OnResearchError != nil {
		c.handlers.OnResearchError = h.OnResearchError
	}
	if h.OnServerError != nil {
		c.handlers.OnServerError = h.OnServerError
	}
}

// snapshotHandlers returns the current handler table by value so dispatch
// never runs under the handler lock.
func (c *Client) snapshotHandlers() Handlers {
	c.hmu.RLock()
	defer c.hmu.RUnlock()
	return c.handlers
}

// dispatch routes an inbound message to the catch-all slot and then to the
// one slot matching its type. Exactly one type-specific slot can match.
func (c *Client) dispatch(msg protocol.Message) {
	h := c.snapshotHandlers()

	if h.OnMessage != nil {
		h.OnMessage(msg)
	}

	switch m := msg.(type) {
	case *protocol.ChatResponse:
		if h.OnChatResponse != nil {
			h.OnChatResponse(m)
		}
	case *protocol.ChatError:
		if h.OnChatError != nil {
			h.OnChatError(m)
		}
	case *protocol.IndexStart:
		if h.OnIndexStart != nil {
			h.OnIndexStart(m)
		}
	case *protocol.IndexProgress:
		if h.OnIndexProgress != nil {
			h.OnIndexProgress(m)
		}
	case *protocol.IndexComplete:
		if h.OnIndexComplete != nil {
			h.OnIndexComplete(m)
		}
	case *protocol.IndexError:
		if h.OnIndexError != nil {
			h.OnIndexError(m)
		}
	case *protocol.WikiProgress:
		if h.OnWikiProgress != nil {
			h.OnWikiProgress(m)
		}
	case *protocol.WikiComplete:
		if h.OnWikiComplete != nil {
			h.OnWikiComplete(m)
		}
	case *protocol.WikiError:
		if h.OnWikiError != nil {
			h.OnWikiError(m)
		}
	case *protocol.ResearchStart:
		if h.OnResearchStart != nil {
			h.OnResearchStart(m)
		}
	case *protocol.ResearchProgress:
		if h.OnResearchProgress != nil {
			h.OnResearchProgress(m)
		}
	case *protocol.ResearchComplete:
		if h.OnResearchComplete != nil {
			h.OnResearchComplete(m)
		}
	case *protocol.ResearchError:
		if h.OnResearchError != nil {
			h.OnResearchError(m)
		}
	case *protocol.ServerError:
		if h.OnServerError != nil {
			h.OnServerError(m)
		}
	default:
		// Client-origin types echoed back by a misbehaving backend.
		c.log.Debug("no handler slot for message type",
			zap.String("type", string(msg.MessageType())))
	}
}

func (c *Client) callOnConnect() {
	if h := c.snapshotHandlers(); h.OnConnect != nil {
		h.OnConnect()
	}
}

func (c *Client) callOnDisconnect(err error) {
	if h := c.snapshotHandlers(); h.OnDisconnect != nil {
		h.OnDisconnect(err)
	}
}

func (c *Client) callOnError(err error) {
	if h := c.snapshotHandlers(); h.OnError != nil {
		h.OnError(err)
	}
}
