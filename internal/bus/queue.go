package bus

import (
	"context"
	"io"
	"sync/atomic"

	"github.com/yanun0323/errors"

	"nodeflow/internal/schema"
)

var (
	ErrQueueFull   = errors.New("tick queue full")
	ErrQueueClosed = errors.New("tick queue closed")
)

// Queue is a bounded, non-blocking tick queue between a feed producer and
// the orchestrator loop.
type Queue struct {
	ch      chan schema.Tick
	closed  atomic.Bool
	dropped atomic.Uint64
	batch   int
}

// NewQueue allocates a queue with the given capacity. Next returns at most
// batch ticks per call; batch <= 0 means capacity.
func NewQueue(capacity, batch int) *Queue {
	if capacity <= 0 {
		capacity = 1
	}
	if batch <= 0 {
		batch = capacity
	}
	return &Queue{ch: make(chan schema.Tick, capacity), batch: batch}
}

// TryPublish enqueues a tick without blocking.
func (q *Queue) TryPublish(t schema.Tick) error {
	if q.closed.Load() {
		return ErrQueueClosed
	}
	select {
	case q.ch <- t:
		return nil
	default:
		q.dropped.Add(1)
		return ErrQueueFull
	}
}

// Dropped returns how many ticks TryPublish rejected because the queue was full.
func (q *Queue) Dropped() uint64 {
	return q.dropped.Load()
}

// Len returns the number of buffered ticks.
func (q *Queue) Len() int {
	return len(q.ch)
}

// Close stops the queue from accepting new ticks. Buffered ticks can still be read.
func (q *Queue) Close() {
	if q.closed.CompareAndSwap(false, true) {
		close(q.ch)
	}
}

// Next blocks for at least one tick and drains whatever else is buffered, up
// to the batch size. It returns io.EOF once the queue is closed and empty.
func (q *Queue) Next(ctx context.Context) ([]schema.Tick, error) {
	var first schema.Tick
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case t, ok := <-q.ch:
		if !ok {
			return nil, io.EOF
		}
		first = t
	}

	out := make([]schema.Tick, 1, min(q.batch, len(q.ch)+1))
	out[0] = first
	for len(out) < q.batch {
		select {
		case t, ok := <-q.ch:
			if !ok {
				return out, nil
			}
			out = append(out, t)
		default:
			return out, nil
		}
	}
	return out, nil
}

// Run consumes ticks until the context is done or the queue is closed.
func (q *Queue) Run(ctx context.Context, handler func(schema.Tick)) {
	for {
		select {
		case <-ctx.Done():
			return
		case t, ok := <-q.ch:
			if !ok {
				return
			}
			handler(t)
		}
	}
}
