// Package queue provides the bounded request queue between arbitrary
// producers and the single batching consumer.
package queue

import (
	"errors"
	"sync"

	"github.com/samcharles93/nanobridge/internal/request"
)

var ErrQueueFull = errors.New("queue: full")

// DefaultCapacity matches the bridge's default pending-request limit.
const DefaultCapacity = 1024

// Entry pairs an owned copy of a request with the opaque context of the
// device it belongs to. The queue owns its copies: producers are free to
// reuse or drop their originals the moment Enqueue returns.
type Entry struct {
	Request request.Request
	Context any
}

// Queue is a fixed-capacity circular buffer safe for concurrent producers
// and one draining consumer. Every successful enqueue signals the consumer;
// the signal channel is never closed and carries no data.
type Queue struct {
	mu      sync.Mutex
	entries []Entry
	head    int
	tail    int
	count   int
	wake    chan struct{}
}

// New creates a queue with the given capacity. Capacities below one fall
// back to DefaultCapacity.
func New(capacity int) *Queue {
	if capacity < 1 {
		capacity = DefaultCapacity
	}
	return &Queue{
		entries: make([]Entry, capacity),
		wake:    make(chan struct{}, 1),
	}
}

// Enqueue appends an entry at the tail. A full queue fails immediately with
// ErrQueueFull; producers are never blocked.
func (q *Queue) Enqueue(e Entry) error {
	q.mu.Lock()
	if q.count == len(q.entries) {
		q.mu.Unlock()
		return ErrQueueFull
	}
	q.entries[q.tail] = e
	q.tail = (q.tail + 1) % len(q.entries)
	q.count++
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
	return nil
}

// DrainBatch removes and returns every entry queued at the moment of the
// call, head to tail. Entries enqueued while the drain is in progress stay
// for the next wake. An empty queue yields a nil batch.
func (q *Queue) DrainBatch() []Entry {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.count == 0 {
		return nil
	}
	batch := make([]Entry, q.count)
	for i := range batch {
		batch[i] = q.entries[q.head]
		q.entries[q.head] = Entry{}
		q.head = (q.head + 1) % len(q.entries)
	}
	q.count = 0
	return batch
}

// Len reports the number of queued entries.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.count
}

// Cap reports the fixed capacity.
func (q *Queue) Cap() int {
	return len(q.entries)
}

// Wake exposes the consumer's wake signal. Exactly one goroutine should
// receive from it.
func (q *Queue) Wake() <-chan struct{} {
	return q.wake
}
