// Copyright 2025 Kadir Pekel
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package events

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/kadirpekel/grimoire/pkg/logger"
)

const defaultQueueSize = 256

// Subscription is one subscriber's view of the bus. Events arrive on a
// bounded queue; when the queue is full the oldest event is dropped and
// counted.
type Subscription struct {
	id      uuid.UUID
	pattern string
	ch      chan *UniversalEvent
	dropped atomic.Uint64
	closed  atomic.Bool
}

// Events returns the subscriber's event stream.
func (s *Subscription) Events() <-chan *UniversalEvent {
	return s.ch
}

// Pattern returns the subscription's glob pattern.
func (s *Subscription) Pattern() string {
	return s.pattern
}

// Dropped returns how many events were discarded because the
// subscriber's queue overflowed.
func (s *Subscription) Dropped() uint64 {
	return s.dropped.Load()
}

// Observer is invoked synchronously for every published event, before
// fanout. Used by the correlation tracker and metrics.
type Observer func(ev *UniversalEvent)

// Bus is the pattern-subscribed pub/sub event bus.
type Bus struct {
	mu        sync.RWMutex
	subs      map[uuid.UUID]*Subscription
	observers []Observer

	seq       atomic.Uint64
	queueSize int
	log       *slog.Logger
}

// BusOption configures a Bus.
type BusOption func(*Bus)

// WithQueueSize sets the per-subscriber queue capacity.
func WithQueueSize(n int) BusOption {
	return func(b *Bus) {
		if n > 0 {
			b.queueSize = n
		}
	}
}

// WithObserver attaches a synchronous publish observer.
func WithObserver(obs Observer) BusOption {
	return func(b *Bus) {
		b.observers = append(b.observers, obs)
	}
}

// NewBus creates an event bus.
func NewBus(opts ...BusOption) *Bus {
	b := &Bus{
		subs:      make(map[uuid.UUID]*Subscription),
		queueSize: defaultQueueSize,
		log:       logger.With("subsystem", "events"),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Publish assigns the event a sequence number and fans it out to every
// matching subscriber. Publish never blocks on slow subscribers.
func (b *Bus) Publish(ctx context.Context, ev *UniversalEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	ev.Sequence = b.seq.Add(1)

	// Delivery happens under the read lock so Unsubscribe (write lock)
	// can never close a queue mid-send. Enqueue is non-blocking.
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, obs := range b.observers {
		obs(ev)
	}

	for _, sub := range b.subs {
		if MatchPattern(sub.pattern, ev.Type) {
			b.deliver(sub, ev)
		}
	}
	return nil
}

// deliver enqueues without blocking; on overflow the subscriber's oldest
// event is dropped and counted.
func (b *Bus) deliver(sub *Subscription, ev *UniversalEvent) {
	if sub.closed.Load() {
		return
	}
	for {
		select {
		case sub.ch <- ev:
			return
		default:
		}
		select {
		case <-sub.ch:
			sub.dropped.Add(1)
		default:
		}
	}
}

// Subscribe registers a subscriber for events matching pattern.
func (b *Bus) Subscribe(pattern string) *Subscription {
	sub := &Subscription{
		id:      uuid.New(),
		pattern: pattern,
		ch:      make(chan *UniversalEvent, b.queueSize),
	}
	b.mu.Lock()
	b.subs[sub.id] = sub
	b.mu.Unlock()
	return sub
}

// Unsubscribe removes a subscriber and closes its stream.
func (b *Bus) Unsubscribe(sub *Subscription) {
	if sub == nil || !sub.closed.CompareAndSwap(false, true) {
		return
	}
	b.mu.Lock()
	delete(b.subs, sub.id)
	close(sub.ch)
	b.mu.Unlock()
}

// SubscriberCount returns the number of active subscriptions.
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
