// Package notification provides the notification manager for broadcasting events.
package notification

import (
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/jukebox/internal/app/dispatch"
)

// Stream represents a notification stream for a subscriber.
// Send is called from a single goroutine per subscription, in broadcast order.
type Stream[T any] interface {
	Send(seq uint64, v T) error
}

// Evictable is implemented by streams that want to know when the manager
// drops them for falling behind. Evicted is called from Broadcast and must
// not block.
type Evictable interface {
	Evicted(err error)
}

// ErrBacklogExceeded is reported to a subscriber evicted for falling behind.
var ErrBacklogExceeded = errors.New("subscriber backlog exceeded")

// DefaultBacklog is the number of undelivered notifications a subscriber
// may accumulate before it is evicted.
const DefaultBacklog = 256

// Option configures a Manager or a single subscription.
type Option func(*options)

type options struct {
	backlog int
}

// WithBacklog sets the backlog limit. Zero or less disables eviction.
func WithBacklog(n int) Option {
	return func(o *options) {
		o.backlog = n
	}
}

// StreamFunc adapts a function to a Stream.
type StreamFunc[T any] func(seq uint64, v T) error

// Send implements Stream.
func (f StreamFunc[T]) Send(seq uint64, v T) error {
	return f(seq, v)
}

// subscription represents a subscriber's subscription.
type subscription[T any] struct {
	id      string
	stream  Stream[T]
	queue   *dispatch.Queue
	backlog int
}

// Manager manages notification subscriptions and broadcasting.
// Each subscriber has its own delivery goroutine so a slow subscriber never
// blocks the broadcaster or other subscribers. A subscriber whose backlog
// reaches the limit is evicted.
type Manager[T any] struct {
	mu            sync.RWMutex
	subscriptions map[string]*subscription[T]
	sequenceNo    uint64
	backlog       int
	closed        bool
}

// NewManager creates a new notification manager.
func NewManager[T any](opts ...Option) *Manager[T] {
	o := options{backlog: DefaultBacklog}
	for _, opt := range opts {
		opt(&o)
	}
	return &Manager[T]{
		subscriptions: make(map[string]*subscription[T]),
		backlog:       o.backlog,
	}
}

// Subscribe adds a new subscription and returns the subscription ID.
// Options override the manager's backlog limit for this subscription.
// It returns an empty ID when the manager is closed.
func (m *Manager[T]) Subscribe(stream Stream[T], opts ...Option) string {
	o := options{backlog: m.backlog}
	for _, opt := range opts {
		opt(&o)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ""
	}
	id := uuid.New().String()
	m.subscriptions[id] = &subscription[T]{
		id:      id,
		stream:  stream,
		queue:   dispatch.NewQueue(),
		backlog: o.backlog,
	}
	return id
}

// Unsubscribe removes a subscription. Notifications already queued for it
// are still delivered.
func (m *Manager[T]) Unsubscribe(subscriptionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if sub, ok := m.subscriptions[subscriptionID]; ok {
		sub.queue.Close()
		delete(m.subscriptions, subscriptionID)
	}
}

// Broadcast assigns the next sequence number to v and queues it for every
// subscriber. It returns the sequence number.
func (m *Manager[T]) Broadcast(v T) uint64 {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return 0
	}
	m.sequenceNo++
	seq := m.sequenceNo

	var evicted []*subscription[T]
	for id, sub := range m.subscriptions {
		if sub.backlog > 0 && sub.queue.Len() >= sub.backlog {
			sub.queue.Close()
			delete(m.subscriptions, id)
			evicted = append(evicted, sub)
			continue
		}
		sub.queue.Submit(func() {
			if err := sub.stream.Send(seq, v); err != nil {
				zlog.Debug().Msgf("notification: dropping subscriber after send failure: id=%s err=%v", sub.id, err)
				m.Unsubscribe(sub.id)
			}
		})
	}
	m.mu.Unlock()

	for _, sub := range evicted {
		zlog.Warn().Msgf("notification: evicting slow subscriber: id=%s backlog=%d", sub.id, sub.backlog)
		if e, ok := sub.stream.(Evictable); ok {
			e.Evicted(ErrBacklogExceeded)
		}
	}
	return seq
}

// SequenceNo returns the last assigned sequence number.
func (m *Manager[T]) SequenceNo() uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.sequenceNo
}

// SubscriberCount returns the number of active subscribers.
func (m *Manager[T]) SubscriberCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.subscriptions)
}

// Close closes the manager and removes all subscriptions.
// Notifications already queued are still delivered.
func (m *Manager[T]) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.closed = true
	for id, sub := range m.subscriptions {
		sub.queue.Close()
		delete(m.subscriptions, id)
	}
}
