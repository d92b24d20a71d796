package runtime

import (
	"context"
	"sync"

	errspkg "github.com/drblury/kitchenflow/internal/runtime/errors"
)

// Inbound is a message handed over by a transport callback.
type Inbound struct {
	Topic   string
	Payload []byte
}

// Queue is the unbounded FIFO between transport callbacks and the dispatch
// loop. Push never blocks; Pop waits for the next item.
type Queue struct {
	mu     sync.Mutex
	items  []Inbound
	wake   chan struct{}
	closed bool
}

// NewQueue returns an empty open queue.
func NewQueue() *Queue {
	return &Queue{wake: make(chan struct{}, 1)}
}

// Push appends a message. It reports false when the queue is closed and the
// message was dropped.
func (q *Queue) Push(topic string, payload []byte) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return false
	}
	q.items = append(q.items, Inbound{Topic: topic, Payload: payload})
	select {
	case q.wake <- struct{}{}:
	default:
	}
	return true
}

// Pop removes the oldest message, waiting until one is available, ctx is
// done, or the queue is closed.
func (q *Queue) Pop(ctx context.Context) (Inbound, error) {
	for {
		q.mu.Lock()
		if q.closed {
			q.mu.Unlock()
			return Inbound{}, errspkg.ErrQueueClosed
		}
		if len(q.items) > 0 {
			item := q.items[0]
			q.items[0] = Inbound{}
			q.items = q.items[1:]
			q.mu.Unlock()
			return item, nil
		}
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return Inbound{}, ctx.Err()
		case <-q.wake:
		}
	}
}

// Len returns the number of queued messages.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Close rejects further pushes, wakes waiting Pop calls and drops whatever
// is still queued. It returns the number of dropped messages.
func (q *Queue) Close() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return 0
	}
	q.closed = true
	dropped := len(q.items)
	q.items = nil
	close(q.wake)
	return dropped
}
