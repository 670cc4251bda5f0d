package socket

import (
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/repowiki/console/internal/metrics"
	"github.com/repowiki/console/internal/protocol"
)

// SentRecord describes a message that was written to the wire. Records are
// kept for a bounded window (Config.SentTTL) so callers can confirm that a
// recent send actually went out; they are not delivery receipts.
type SentRecord struct {
	// ID is the message id.
	ID string

	// Type is the message's type tag.
	Type protocol.Type

	// SentAt is when the message was written to the connection.
	SentAt time.Time
}

// MessageStats summarizes the client's message bookkeeping.
type MessageStats struct {
	// SentTracked is the number of sent-message records currently held.
	// Records expire after Config.SentTTL, so this is a recent-window
	// count, not a lifetime total.
	SentTracked int

	// ReceivedTracked is the number of inbound message ids currently in
	// the duplicate-detection window.
	ReceivedTracked int

	// DuplicatesDropped counts inbound messages discarded because their
	// id was already seen.
	DuplicatesDropped uint64

	// QueueDepth is the number of messages waiting in the outbound queue.
	QueueDepth int

	// QueueDrops counts messages discarded from the outbound queue due
	// to overflow.
	QueueDrops uint64
}

// markSeen records an inbound message id and reports whether it was already
// present. Ids without a value (heartbeats) are never duplicates.
func (c *Client) markSeen(id string) bool {
	if id == "" {
		return false
	}
	if _, dup := c.seen.Get(id); dup {
		c.dupDropped.Add(1)
		metrics.DuplicatesDropped.Inc()
		return true
	}
	c.seen.Add(id, struct{}{})
	return false
}

// recordSent notes that a message went out on the wire. Messages without an
// id (heartbeats) are not tracked.
func (c *Client) recordSent(msg protocol.Message) {
	id := msg.MessageID()
	if id == "" {
		return
	}
	c.sent.Set(id, SentRecord{
		ID:     id,
		Type:   msg.MessageType(),
		SentAt: time.Now(),
	}, gocache.DefaultExpiration)
}

// IsMessageSent reports whether a message with the given id was written to
// the wire within the sent-record window.
func (c *Client) IsMessageSent(id string) bool {
	_, ok := c.sent.Get(id)
	return ok
}

// SentMessageInfo returns the sent record for a message id, if it is still
// within the sent-record window.
func (c *Client) SentMessageInfo(id string) (SentRecord, bool) {
	v, ok := c.sent.Get(id)
	if !ok {
		return SentRecord{}, false
	}
	return v.(SentRecord), true
}

// MessageStats returns a snapshot of the client's message bookkeeping.
func (c *Client) MessageStats() MessageStats {
	return MessageStats{
		SentTracked:       c.sent.ItemCount(),
		ReceivedTracked:   c.seen.Len(),
		DuplicatesDropped: c.dupDropped.Load(),
		QueueDepth:        c.queue.Len(),
		QueueDrops:        c.queue.Drops(),
	}
}
