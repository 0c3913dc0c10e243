// Package eventbus provides topic-based publish/subscribe plumbing
// between the bridge subsystems. Delivery is best-effort with drop-oldest
// overflow so a stalled subscriber never blocks a publisher.
package eventbus

import (
	"context"
	"log"
	"sync"
	"sync/atomic"
	"time"
)

// Bus orchestrates topic-based publish/subscribe messaging.
type Bus struct {
	logger       *log.Logger
	mu           sync.RWMutex
	subscribers  map[Topic]map[uint64]*Subscription
	topicBuffers map[Topic]int
	nextID       uint64

	publishTotal atomic.Uint64
	dropTotal    atomic.Uint64
}

// BusOption customises bus behaviour.
type BusOption func(*Bus)

// WithLogger overrides the logger used for drop warnings.
func WithLogger(logger *log.Logger) BusOption {
	return func(b *Bus) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// WithTopicBuffer sets the default subscription buffer for a topic.
func WithTopicBuffer(topic Topic, size int) BusOption {
	return func(b *Bus) {
		if size <= 0 {
			size = 1
		}
		b.topicBuffers[topic] = size
	}
}

// New constructs a bus with default topic buffer sizes.
func New(opts ...BusOption) *Bus {
	bus := &Bus{
		logger:      log.Default(),
		subscribers: make(map[Topic]map[uint64]*Subscription),
		topicBuffers: map[Topic]int{
			TopicBridgeConnection: 64,
			TopicBridgeStats:      128,
			TopicTrackingFrame:    256,
		},
	}
	for _, opt := range opts {
		opt(bus)
	}
	return bus
}

// Publish delivers the envelope to every subscriber of its topic.
func (b *Bus) Publish(ctx context.Context, env Envelope) {
	if b == nil || env.Topic == "" {
		return
	}
	if env.Timestamp.IsZero() {
		env.Timestamp = time.Now().UTC()
	}
	if env.Source == "" {
		env.Source = SourceUnknown
	}
	b.publishTotal.Add(1)

	b.mu.RLock()
	for _, sub := range b.subscribers[env.Topic] {
		sub.deliver(env, b)
	}
	b.mu.RUnlock()
}

// Subscribe registers a subscriber for the given topic.
func (b *Bus) Subscribe(topic Topic, opts ...SubscriptionOption) *Subscription {
	cfg := subscriptionConfig{bufferSize: b.topicBuffers[topic]}
	if cfg.bufferSize <= 0 {
		cfg.bufferSize = 1
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	b.mu.Lock()
	b.nextID++
	id := b.nextID
	sub := &Subscription{
		id:    id,
		topic: topic,
		bus:   b,
		ch:    make(chan Envelope, cfg.bufferSize),
	}
	if b.subscribers[topic] == nil {
		b.subscribers[topic] = make(map[uint64]*Subscription)
	}
	b.subscribers[topic][id] = sub
	b.mu.Unlock()
	return sub
}

// Metrics reports publish and drop totals since the bus was created.
type Metrics struct {
	PublishTotal uint64
	DropTotal    uint64
}

// Metrics returns current bus counters.
func (b *Bus) Metrics() Metrics {
	return Metrics{
		PublishTotal: b.publishTotal.Load(),
		DropTotal:    b.dropTotal.Load(),
	}
}

type subscriptionConfig struct {
	bufferSize int
}

// SubscriptionOption customises a single subscription.
type SubscriptionOption func(*subscriptionConfig)

// WithSubscriptionBuffer overrides the topic's default buffer size.
func WithSubscriptionBuffer(size int) SubscriptionOption {
	return func(cfg *subscriptionConfig) {
		if size > 0 {
			cfg.bufferSize = size
		}
	}
}

// Subscription is one subscriber's buffered view of a topic.
type Subscription struct {
	id     uint64
	topic  Topic
	bus    *Bus
	ch     chan Envelope
	closed atomic.Bool
	mu     sync.Mutex
}

// C exposes the delivery channel.
func (s *Subscription) C() <-chan Envelope {
	return s.ch
}

// Close unregisters the subscription. Safe to call more than once.
func (s *Subscription) Close() {
	if !s.closed.CompareAndSwap(false, true) {
		return
	}
	b := s.bus
	b.mu.Lock()
	if subs := b.subscribers[s.topic]; subs != nil {
		delete(subs, s.id)
	}
	b.mu.Unlock()
}

// deliver enqueues the envelope, evicting the oldest entry when the
// buffer is full.
func (s *Subscription) deliver(env Envelope, b *Bus) {
	if s.closed.Load() {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for {
		select {
		case s.ch <- env:
			return
		default:
		}
		select {
		case <-s.ch:
			b.dropTotal.Add(1)
			b.logger.Printf("[eventbus] dropped oldest %s event for slow subscriber", s.topic)
		default:
		}
	}
}
