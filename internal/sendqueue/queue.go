// Package sendqueue serializes outbound datagrams.
//
// Callers enqueue owned copies of an endpoint and payload and return
// immediately; a single Worker drains the queue and hands each message to a
// Dispatcher, which picks the socket, applies the security hook and writes
// the datagram. Failures are reported through the error callback only.
package sendqueue

import (
	"context"
	"sync"

	"github.com/joshuafuller/ipadapter/internal/endpoint"
	"github.com/joshuafuller/ipadapter/internal/errors"
)

// Message is one queued datagram.
type Message struct {
	Endpoint  endpoint.Endpoint
	Data      []byte
	Multicast bool
}

// Queue is a bounded FIFO of messages.
type Queue struct {
	mu     sync.RWMutex
	items  chan Message
	closed bool
}

// NewQueue returns a queue holding at most capacity messages.
func NewQueue(capacity int) *Queue {
	if capacity < 1 {
		capacity = 1
	}
	return &Queue{items: make(chan Message, capacity)}
}

// Enqueue appends a copy of data for ep.
//
// Returns:
//   - ErrQueueClosed after Close
//   - ErrQueueFull when the queue is at capacity
func (q *Queue) Enqueue(ep endpoint.Endpoint, data []byte, multicast bool) error {
	owned := make([]byte, len(data))
	copy(owned, data)

	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return errors.ErrQueueClosed
	}
	select {
	case q.items <- Message{Endpoint: ep, Data: owned, Multicast: multicast}:
		return nil
	default:
		return errors.ErrQueueFull
	}
}

// Dequeue blocks until a message is available, the queue is closed and
// drained, or ctx is cancelled. A cancelled ctx wins over queued messages.
func (q *Queue) Dequeue(ctx context.Context) (Message, error) {
	if err := ctx.Err(); err != nil {
		return Message{}, err
	}
	select {
	case msg, ok := <-q.items:
		if !ok {
			return Message{}, errors.ErrQueueClosed
		}
		return msg, nil
	case <-ctx.Done():
		return Message{}, ctx.Err()
	}
}

// Discard removes every queued message without blocking and returns how
// many were removed.
func (q *Queue) Discard() int {
	n := 0
	for {
		select {
		case _, ok := <-q.items:
			if !ok {
				return n
			}
			n++
		default:
			return n
		}
	}
}

// Len returns the number of queued messages.
func (q *Queue) Len() int {
	return len(q.items)
}

// Close rejects further Enqueue calls. Messages already queued can still
// be dequeued. Close is idempotent.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.closed {
		q.closed = true
		close(q.items)
	}
}
