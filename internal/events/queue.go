package events

import (
	"context"
	"sync"
	"time"
)

// Queue is an unbounded, order-preserving buffer of events.
//
// Any number of goroutines may push and pop concurrently. Each event is
// handed to exactly one popper.
type Queue struct {
	mu     sync.Mutex
	items  []Event
	notify chan struct{}
}

// NewQueue creates an empty [Queue].
func NewQueue() *Queue {
	return &Queue{
		notify: make(chan struct{}, 1),
	}
}

// Push appends ev to the tail of the queue. Push never blocks.
func (q *Queue) Push(ev Event) {
	q.mu.Lock()
	q.items = append(q.items, ev)
	q.mu.Unlock()

	q.signal()
}

// Pop removes and returns the head of the queue, waiting up to timeout for
// one to arrive. ok is false when the timeout elapses with the queue still
// empty. A timeout <= 0 waits until ctx is done. A done ctx returns its error.
func (q *Queue) Pop(ctx context.Context, timeout time.Duration) (ev Event, ok bool, err error) {
	var expired <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		expired = timer.C
	}

	for {
		if ev, ok := q.tryPop(); ok {
			return ev, true, nil
		}

		select {
		case <-ctx.Done():
			return Event{}, false, ctx.Err()
		case <-expired:
			// last look: an item may have landed while the signal went elsewhere
			if ev, ok := q.tryPop(); ok {
				return ev, true, nil
			}
			return Event{}, false, nil
		case <-q.notify:
		}
	}
}

// Len returns the number of queued events.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

func (q *Queue) tryPop() (Event, bool) {
	q.mu.Lock()
	if len(q.items) == 0 {
		q.mu.Unlock()
		return Event{}, false
	}
	ev := q.items[0]
	q.items[0] = Event{}
	q.items = q.items[1:]
	remaining := len(q.items)
	q.mu.Unlock()

	// hand the wake-up on to the next waiter
	if remaining > 0 {
		q.signal()
	}
	return ev, true
}

func (q *Queue) signal() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}
