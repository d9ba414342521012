package relay

import (
	"context"
	"sync"
	"time"

	"github.com/ruteri/agentsec-relay/interfaces"
)

// DefaultResponseCapacity bounds the number of unread responses kept.
const DefaultResponseCapacity = 1024

// Response is the result of a completed relay, published by the core.
type Response struct {
	MessageID      string                    `json:"id"`
	ItemID         string                    `json:"item_id"`
	Requester      string                    `json:"requester"`
	Content        string                    `json:"content"`
	ClearanceLevel interfaces.ClearanceLevel `json:"clearance_level"`
	Timestamp      time.Time                 `json:"timestamp"`
}

// ResponseQueue holds completed responses until their requester polls them.
// When full, the oldest response is dropped.
type ResponseQueue struct {
	mu       sync.Mutex
	items    []Response
	capacity int
	changed  chan struct{}
}

func NewResponseQueue(capacity int) *ResponseQueue {
	if capacity <= 0 {
		capacity = DefaultResponseCapacity
	}
	return &ResponseQueue{
		capacity: capacity,
		changed:  make(chan struct{}),
	}
}

// Publish appends a response and wakes waiters.
func (q *ResponseQueue) Publish(r Response) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) >= q.capacity {
		q.items = q.items[1:]
	}
	q.items = append(q.items, r)

	close(q.changed)
	q.changed = make(chan struct{})
}

// visible reports whether a poller may take r: its own responses, or anything
// at or below its clearance.
func visible(r Response, subject string, clearance interfaces.ClearanceLevel) bool {
	return (subject != "" && r.Requester == subject) || r.ClearanceLevel <= clearance
}

// Poll removes and returns all responses visible to the poller, oldest first.
func (q *ResponseQueue) Poll(subject string, clearance interfaces.ClearanceLevel) []Response {
	q.mu.Lock()
	defer q.mu.Unlock()

	var taken []Response
	kept := q.items[:0]
	for _, r := range q.items {
		if visible(r, subject, clearance) {
			taken = append(taken, r)
		} else {
			kept = append(kept, r)
		}
	}
	q.items = kept
	return taken
}

// Await blocks until the response for messageID is published and removes it.
func (q *ResponseQueue) Await(ctx context.Context, messageID string) (Response, error) {
	for {
		q.mu.Lock()
		for i, r := range q.items {
			if r.MessageID == messageID {
				q.items = append(q.items[:i], q.items[i+1:]...)
				q.mu.Unlock()
				return r, nil
			}
		}
		changed := q.changed
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return Response{}, ctx.Err()
		case <-changed:
		}
	}
}

// Len returns the number of unread responses.
func (q *ResponseQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
