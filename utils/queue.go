package utils

import (
	"context"
	"errors"
	"sync"
)

var ErrQueueClosed = errors.New("replika: frame queue is closed")
var ErrQueueOverflow = errors.New("replika: frame queue is overflowed")

// FrameQueue is a bounded FIFO of wire frames between a producer (the
// sync driver) and a consumer (the peer write pump). Drain appends
// frames, Feed takes the whole backlog; both respect cancellation.
// Exceeding the byte limit marks the queue overflowed and fails every
// later call, so a stuck peer surfaces as an error instead of
// unbounded memory.
type FrameQueue struct {
	mu         sync.Mutex
	frames     [][]byte
	size       int
	maxSize    int
	closed     bool
	overflowed bool
	ready      chan struct{}
}

func NewFrameQueue(maxSize int) *FrameQueue {
	return &FrameQueue{
		maxSize: maxSize,
		ready:   make(chan struct{}, 1),
	}
}

func (q *FrameQueue) Close() error {
	q.mu.Lock()
	if !q.closed {
		q.closed = true
		close(q.ready)
	}
	q.mu.Unlock()
	return nil
}

func (q *FrameQueue) Size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.size
}

// Drain enqueues frames for the consumer.
func (q *FrameQueue) Drain(ctx context.Context, frames [][]byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return ErrQueueClosed
	}
	if q.overflowed {
		return ErrQueueOverflow
	}

	total := q.size
	for _, f := range frames {
		total += len(f)
	}
	if q.maxSize > 0 && total > q.maxSize {
		q.overflowed = true
		return ErrQueueOverflow
	}

	q.frames = append(q.frames, frames...)
	q.size = total
	select {
	case q.ready <- struct{}{}:
	default:
	}
	return nil
}

// Feed blocks until frames are available, then returns the whole
// backlog. Returns ErrQueueClosed once the queue is closed and drained.
func (q *FrameQueue) Feed(ctx context.Context) ([][]byte, error) {
	for {
		q.mu.Lock()
		if q.overflowed {
			q.mu.Unlock()
			return nil, ErrQueueOverflow
		}
		if len(q.frames) > 0 {
			frames := q.frames
			q.frames = nil
			q.size = 0
			q.mu.Unlock()
			return frames, nil
		}
		closed := q.closed
		q.mu.Unlock()
		if closed {
			return nil, ErrQueueClosed
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case _, ok := <-q.ready:
			if !ok {
				// closed; one final pass to drain the tail
				q.mu.Lock()
				frames := q.frames
				q.frames = nil
				q.size = 0
				q.mu.Unlock()
				if len(frames) > 0 {
					return frames, nil
				}
				return nil, ErrQueueClosed
			}
		}
	}
}
