// Package runtime holds the in-process plumbing shared by the chat core:
// the broadcast stream that fans socket frames out to sessions.
// It carries no business rules.
package runtime

import (
	"context"
	"sync"
)

// DefaultBufferSize is the per-subscriber buffer used when none is given.
const DefaultBufferSize = 64

// Broadcaster is a multicast, replay-none stream.
//
// Every subscriber receives the values published after it subscribed, in
// publish order, independently of the other subscribers. Publish waits for
// each live subscriber to accept the value; a subscriber that unsubscribed
// is skipped. Nothing is replayed to late subscribers.
//
// Broadcaster is safe for concurrent use by multiple goroutines.
type Broadcaster[T any] struct {
	mu         sync.RWMutex
	bufferSize int
	nextID     uint64
	subs       map[uint64]*Subscription[T]
	closed     bool
}

// Subscription is one subscriber's view of a Broadcaster.
type Subscription[T any] struct {
	id     uint64
	ch     chan T
	done   chan struct{}
	once   sync.Once
	parent *Broadcaster[T]
}

func NewBroadcaster[T any](bufferSize int) *Broadcaster[T] {
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}
	return &Broadcaster[T]{
		bufferSize: bufferSize,
		subs:       make(map[uint64]*Subscription[T]),
	}
}

// Subscribe registers a new subscriber. Subscribing to a closed broadcaster
// returns an already finished subscription.
func (b *Broadcaster[T]) Subscribe() *Subscription[T] {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub := &Subscription[T]{
		ch:     make(chan T, b.bufferSize),
		done:   make(chan struct{}),
		parent: b,
	}
	if b.closed {
		sub.finish()
		return sub
	}
	b.nextID++
	sub.id = b.nextID
	b.subs[sub.id] = sub
	return sub
}

// Publish delivers v to every current subscriber and returns how many
// received it. It returns early when ctx is done.
func (b *Broadcaster[T]) Publish(ctx context.Context, v T) int {
	delivered := 0
	for _, sub := range b.snapshot() {
		select {
		case <-sub.done:
			continue
		default:
		}
		select {
		case sub.ch <- v:
			delivered++
		case <-sub.done:
		case <-ctx.Done():
			return delivered
		}
	}
	return delivered
}

// TryPublish delivers v to every subscriber with room in its buffer and
// drops it for the others. Used for state snapshots where only the latest
// value matters.
func (b *Broadcaster[T]) TryPublish(v T) int {
	delivered := 0
	for _, sub := range b.snapshot() {
		select {
		case sub.ch <- v:
			delivered++
		default:
		}
	}
	return delivered
}

// Len returns the number of live subscribers.
func (b *Broadcaster[T]) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Close ends every subscription. Later publishes reach nobody.
func (b *Broadcaster[T]) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, sub := range b.subs {
		sub.finish()
		delete(b.subs, id)
	}
}

func (b *Broadcaster[T]) snapshot() []*Subscription[T] {
	b.mu.RLock()
	defer b.mu.RUnlock()
	subs := make([]*Subscription[T], 0, len(b.subs))
	for _, sub := range b.subs {
		subs = append(subs, sub)
	}
	return subs
}

func (b *Broadcaster[T]) remove(id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.subs, id)
}

// C is the channel values arrive on. It is never closed; select on Done too.
func (s *Subscription[T]) C() <-chan T { return s.ch }

// Done is closed once the subscription ended.
func (s *Subscription[T]) Done() <-chan struct{} { return s.done }

// Unsubscribe stops delivery. Safe to call more than once.
func (s *Subscription[T]) Unsubscribe() {
	s.parent.remove(s.id)
	s.finish()
}

func (s *Subscription[T]) finish() {
	s.once.Do(func() { close(s.done) })
}
