package pipeline

import (
	"container/list"
	"context"
	"fmt"
	"sync"

	"github.com/ashureev/chatrelay/internal/domain"
	"github.com/containerd/errdefs"
)

// ErrQueueFull is returned by Push when the pending cap is reached.
var ErrQueueFull = fmt.Errorf("%w: event queue full", errdefs.ErrResourceExhausted)

// Queue is a FIFO of events with an optional pending cap.
type Queue struct {
	mu    sync.Mutex
	items *list.List
	ready chan struct{}
	max   int
}

// NewQueue creates a queue. maxPending <= 0 means unbounded.
func NewQueue(maxPending int) *Queue {
	return &Queue{
		items: list.New(),
		ready: make(chan struct{}, 1),
		max:   maxPending,
	}
}

// Push appends evt without blocking. It fails with ErrQueueFull when capped.
func (q *Queue) Push(evt domain.Event) error {
	return q.push(evt, false)
}

// pushInternal appends evt ignoring the cap. Used by the consumer itself.
func (q *Queue) pushInternal(evt domain.Event) {
	_ = q.push(evt, true)
}

func (q *Queue) push(evt domain.Event, bypassCap bool) error {
	q.mu.Lock()
	if !bypassCap && q.max > 0 && q.items.Len() >= q.max {
		q.mu.Unlock()
		return ErrQueueFull
	}
	q.items.PushBack(evt)
	q.mu.Unlock()

	q.signal()
	return nil
}

// Pop removes the oldest event, waiting until one is available or ctx ends.
func (q *Queue) Pop(ctx context.Context) (domain.Event, error) {
	for {
		q.mu.Lock()
		if front := q.items.Front(); front != nil {
			q.items.Remove(front)
			more := q.items.Len() > 0
			q.mu.Unlock()
			if more {
				q.signal()
			}
			return front.Value.(domain.Event), nil
		}
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-q.ready:
		}
	}
}

// Len returns the number of pending events.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.items.Len()
}

func (q *Queue) signal() {
	select {
	case q.ready <- struct{}{}:
	default:
	}
}
