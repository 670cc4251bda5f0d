package socket

import (
	"sync"

	"github.com/repowiki/console/internal/protocol"
)

// sendQueue is a thread-safe bounded FIFO for outbound messages.
//
// It backs the offline buffer: messages sent while the connection is down
// accumulate here and are flushed, in order, once a connection opens. The
// queue is a fixed-size ring; when full, the oldest queued message is
// dropped to make room for the newest. Capacity 8 example:
//
//	full queue + Push(X) -> oldest entry gone, X at the tail, Drops()+1
type sendQueue struct {
	mu    sync.Mutex
	items []protocol.Message

	// head is the index of the next Pop. The next Push goes to
	// (head+size) % cap.
	head  int
	size  int
	cap   int
	drops uint64
}

// newSendQueue creates a queue with the given capacity.
// If capacity is <= 0, it defaults to 256 messages.
func newSendQueue(capacity int) *sendQueue {
	if capacity <= 0 {
		capacity = 256
	}
	return &sendQueue{
		items: make([]protocol.Message, capacity),
		cap:   capacity,
	}
}

// Push appends a message to the tail. If the queue is full, the oldest
// message is discarded first; Push reports whether that happened.
func (q *sendQueue) Push(msg protocol.Message) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	dropped := false
	if q.size == q.cap {
		// Overwrite the oldest entry and advance past it.
		q.items[q.head] = nil
		q.head = (q.head + 1) % q.cap
		q.size--
		q.drops++
		dropped = true
	}

	q.items[(q.head+q.size)%q.cap] = msg
	q.size++
	return dropped
}

// Pop removes and returns the oldest queued message.
// The second return value is false when the queue is empty.
func (q *sendQueue) Pop() (protocol.Message, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.size == 0 {
		return nil, false
	}
	msg := q.items[q.head]
	q.items[q.head] = nil
	q.head = (q.head + 1) % q.cap
	q.size--
	return msg, true
}

// Len returns the number of queued messages.
func (q *sendQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.size
}

// Drops returns how many messages have been discarded due to overflow.
func (q *sendQueue) Drops() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.drops
}
