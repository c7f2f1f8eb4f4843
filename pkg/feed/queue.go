package feed

import (
	"context"
	"sync"
)

// Queue is an unbounded FIFO of Envelopes with many producers and a single
// consumer. Enqueue never blocks waiting for the consumer, so a stalled
// consumer makes the queue grow.
type Queue struct {
	lock  sync.Mutex
	items []Envelope
	// signal wakes up the consumer, it's buffered so that no wakeup is
	// lost between the emptiness check and the wait.
	signal chan struct{}
	stats  *Stats
}

// NewQueue creates an empty Queue reporting its depth to stats.
func NewQueue(stats *Stats) *Queue {
	return &Queue{
		signal: make(chan struct{}, 1),
		stats:  stats,
	}
}

// Enqueue appends e to the queue.
func (q *Queue) Enqueue(e Envelope) {
	q.lock.Lock()
	q.items = append(q.items, e)
	q.stats.queueDepth.Inc()
	q.lock.Unlock()

	select {
	case q.signal <- struct{}{}:
	default:
	}
}

// Dequeue removes and returns the oldest Envelope, blocking until there is
// one or ctx is done. It must only be called from a single goroutine.
func (q *Queue) Dequeue(ctx context.Context) (Envelope, error) {
	for {
		q.lock.Lock()
		if len(q.items) != 0 {
			e := q.items[0]
			q.items[0] = Envelope{}
			q.items = q.items[1:]
			if len(q.items) == 0 {
				q.items = nil
			}
			q.stats.queueDepth.Dec()
			q.lock.Unlock()
			return e, nil
		}
		q.lock.Unlock()

		select {
		case <-q.signal:
		case <-ctx.Done():
			return Envelope{}, ctx.Err()
		}
	}
}

// Len returns the number of queued Envelopes.
func (q *Queue) Len() int {
	q.lock.Lock()
	defer q.lock.Unlock()
	return len(q.items)
}
