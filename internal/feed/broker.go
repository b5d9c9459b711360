package feed

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"bytovka/internal/metrics"
)

const dropLogInterval = 5 * time.Second

// Broker fans change events out to subscribers. Publish never blocks: each
// subscriber owns a bounded buffer and loses its oldest event on overflow.
type Broker struct {
	mu      sync.RWMutex
	subs    map[*Subscription]struct{}
	closed  bool
	logger  *logrus.Logger
	dropLog rate.Sometimes
	dropped atomic.Int64
}

func NewBroker(logger *logrus.Logger) *Broker {
	if logger == nil {
		logger = logrus.New()
	}
	return &Broker{
		subs:    make(map[*Subscription]struct{}),
		logger:  logger,
		dropLog: rate.Sometimes{Interval: dropLogInterval},
	}
}

// Subscription is one consumer of the broker
type Subscription struct {
	broker  *Broker
	ch      chan Event
	done    chan struct{}
	mu      sync.Mutex
	closed  bool
	dropped atomic.Int64
}

// Events returns the channel the subscriber reads from. It is closed when
// the subscription ends.
func (s *Subscription) Events() <-chan Event {
	return s.ch
}

// Dropped returns how many events this subscriber lost to overflow
func (s *Subscription) Dropped() int64 {
	return s.dropped.Load()
}

// Close ends the subscription; it is safe to call more than once
func (s *Subscription) Close() {
	if s.shutdown() {
		s.broker.remove(s)
	}
}

func (s *Subscription) shutdown() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.closed = true
	close(s.ch)
	close(s.done)
	return true
}

// offer delivers evt, evicting the oldest buffered event when full.
// Reports whether an event was dropped.
func (s *Subscription) offer(evt Event) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}

	select {
	case s.ch <- evt:
		return false
	default:
	}

	select {
	case <-s.ch:
	default:
	}
	select {
	case s.ch <- evt:
	default:
	}
	s.dropped.Add(1)
	return true
}

// Subscribe registers a subscriber with the given buffer size. The
// subscription ends when ctx is cancelled, Close is called or the broker
// shuts down.
func (b *Broker) Subscribe(ctx context.Context, buffer int) *Subscription {
	if buffer <= 0 {
		buffer = 1
	}
	sub := &Subscription{
		broker: b,
		ch:     make(chan Event, buffer),
		done:   make(chan struct{}),
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		sub.shutdown()
		return sub
	}
	b.subs[sub] = struct{}{}
	count := len(b.subs)
	b.mu.Unlock()
	metrics.SetFeedSubscribers(count)

	go func() {
		select {
		case <-ctx.Done():
			sub.Close()
		case <-sub.done:
		}
	}()
	return sub
}

func (b *Broker) remove(sub *Subscription) {
	b.mu.Lock()
	delete(b.subs, sub)
	count := len(b.subs)
	b.mu.Unlock()
	metrics.SetFeedSubscribers(count)
}

// Publish delivers evt to every subscriber without blocking
func (b *Broker) Publish(evt Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}

	for sub := range b.subs {
		if sub.offer(evt) {
			b.dropped.Add(1)
			metrics.ObserveFeedDrop()
			b.dropLog.Do(func() {
				b.logger.WithFields(logrus.Fields{
					"dropped_total": b.dropped.Load(),
					"event_type":    evt.Type,
				}).Warn("Change events dropped for a slow subscriber")
			})
		}
	}
}

// Subscribers returns the number of active subscriptions
func (b *Broker) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Dropped returns the number of events dropped across all subscribers
func (b *Broker) Dropped() int64 {
	return b.dropped.Load()
}

// Close ends all subscriptions; later Publish calls are ignored
func (b *Broker) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	subs := b.subs
	b.subs = make(map[*Subscription]struct{})
	b.mu.Unlock()

	for sub := range subs {
		sub.shutdown()
	}
	metrics.SetFeedSubscribers(0)
}
