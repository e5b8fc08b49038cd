// Package bus provides the bounded, typed queues that connect pipeline
// stages (component N, §4.N). Every inter-stage handoff in both live and
// replay mode goes through a Queue so backpressure is uniform: a full
// queue blocks the producer rather than growing without bound, the same
// choice the teacher's ingestion runner makes with its slot buffers.
package bus

import (
	"context"

	"github.com/rs/zerolog/log"
)

// Queue is a bounded FIFO of T with blocking Send and context-aware
// Recv. Unlike a bare channel, Queue tracks depth for telemetry and
// gives components a named identity for logging drops.
type Queue[T any] struct {
	name string
	ch   chan T
}

// NewQueue creates a queue of the given capacity. Capacity 0 makes Send
// synchronous with Recv (useful in tests wanting deterministic
// handoff).
func NewQueue[T any](name string, capacity int) *Queue[T] {
	return &Queue[T]{name: name, ch: make(chan T, capacity)}
}

// Send blocks until the value is enqueued or ctx is done. Blocking here
// is the backpressure mechanism described in §4.N: a slow downstream
// stage propagates pressure upstream instead of the queue growing
// unbounded.
func (q *Queue[T]) Send(ctx context.Context, v T) error {
	select {
	case q.ch <- v:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// TrySend enqueues without blocking, dropping and logging on a full
// queue. Used only at the feed ingress (A), where the alternative to
// dropping is unbounded memory growth from a misbehaving upstream feed.
func (q *Queue[T]) TrySend(v T) bool {
	select {
	case q.ch <- v:
		return true
	default:
		log.Warn().Str("queue", q.name).Msg("queue full, dropping")
		return false
	}
}

// Recv blocks until a value is available or ctx is done.
func (q *Queue[T]) Recv(ctx context.Context) (T, bool) {
	select {
	case v, ok := <-q.ch:
		return v, ok
	case <-ctx.Done():
		var zero T
		return zero, false
	}
}

// C exposes the raw receive channel for select loops that need to
// multiplex several queues and a ticker, the shape the Normalizer and
// Replay Driver both use.
func (q *Queue[T]) C() <-chan T { return q.ch }

// Close closes the underlying channel. Only the single producer may
// call this.
func (q *Queue[T]) Close() { close(q.ch) }

// Len reports the current queue depth, for telemetry gauges.
func (q *Queue[T]) Len() int { return len(q.ch) }

// Cap reports the queue's configured capacity.
func (q *Queue[T]) Cap() int { return cap(q.ch) }
