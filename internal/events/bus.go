package events

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Mode selects how a [Bus] distributes events among subscribers.
type Mode string

const (
	// ModeQueue delivers each event to exactly one subscriber. Events
	// published while nobody is listening wait in the queue.
	ModeQueue Mode = "queue"

	// ModeBroadcast delivers every event to every connected subscriber.
	// Events published while nobody is listening are dropped.
	ModeBroadcast Mode = "broadcast"
)

// ParseMode validates a mode name. The empty string selects [ModeQueue].
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case "", ModeQueue:
		return ModeQueue, nil
	case ModeBroadcast:
		return ModeBroadcast, nil
	default:
		return "", fmt.Errorf("unknown fanout mode %q (want %q or %q)", s, ModeQueue, ModeBroadcast)
	}
}

// Subscription is one consumer's view of a [Bus].
type Subscription interface {
	// Next waits up to timeout for the next event. ok is false when the
	// timeout elapsed without one.
	Next(ctx context.Context, timeout time.Duration) (ev Event, ok bool, err error)

	// Close detaches the subscription. Safe to call multiple times.
	Close()
}

// Bus connects event producers to feed subscribers.
type Bus interface {
	Publisher
	Subscribe() Subscription
}

// NewBus returns the bus implementation for mode.
func NewBus(mode Mode) Bus {
	if mode == ModeBroadcast {
		return NewBroadcaster()
	}
	return NewSharedQueue()
}

// SharedQueue is a [Bus] where all subscribers pop from one [Queue], so
// concurrent subscribers split the events between them.
type SharedQueue struct {
	q *Queue
}

// NewSharedQueue creates an empty [SharedQueue].
func NewSharedQueue() *SharedQueue {
	return &SharedQueue{q: NewQueue()}
}

// Publish enqueues ev.
func (s *SharedQueue) Publish(ev Event) {
	s.q.Push(ev)
}

// Subscribe returns a consumer of the shared queue.
func (s *SharedQueue) Subscribe() Subscription {
	return queueSub{q: s.q}
}

// Pending returns the number of undelivered events.
func (s *SharedQueue) Pending() int {
	return s.q.Len()
}

type queueSub struct {
	q *Queue
}

func (s queueSub) Next(ctx context.Context, timeout time.Duration) (Event, bool, error) {
	return s.q.Pop(ctx, timeout)
}

func (queueSub) Close() {}

// Broadcaster is a [Bus] that gives every subscriber its own [Queue].
type Broadcaster struct {
	mu          sync.RWMutex
	subscribers map[string]*Queue
}

// NewBroadcaster creates a [Broadcaster] with no subscribers.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{
		subscribers: make(map[string]*Queue),
	}
}

// Publish copies ev into every subscriber's queue.
func (b *Broadcaster) Publish(ev Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, q := range b.subscribers {
		q.Push(ev)
	}
}

// Subscribe registers a new subscriber. Only events published after this
// call are delivered to it.
func (b *Broadcaster) Subscribe() Subscription {
	id := uuid.New().String()
	q := NewQueue()

	b.mu.Lock()
	b.subscribers[id] = q
	b.mu.Unlock()

	return &broadcastSub{id: id, q: q, b: b}
}

// Subscribers returns the number of attached subscribers.
func (b *Broadcaster) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}

func (b *Broadcaster) unsubscribe(id string) {
	b.mu.Lock()
	delete(b.subscribers, id)
	b.mu.Unlock()
}

type broadcastSub struct {
	id   string
	q    *Queue
	b    *Broadcaster
	once sync.Once
}

func (s *broadcastSub) Next(ctx context.Context, timeout time.Duration) (Event, bool, error) {
	return s.q.Pop(ctx, timeout)
}

func (s *broadcastSub) Close() {
	s.once.Do(func() { s.b.unsubscribe(s.id) })
}
