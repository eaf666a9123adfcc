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
	"sync"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
)

const defaultTrackerCapacity = 4096

// CorrelationTracker keeps a bounded in-memory index of events by
// correlation id and of parent/child links between correlation
// contexts. Entries beyond the capacity are LRU-evicted; full fidelity
// requires persisting events to storage.
type CorrelationTracker struct {
	mu sync.RWMutex

	byCorrelation *lru.Cache[uuid.UUID, []uuid.UUID]
	byEventID     *lru.Cache[uuid.UUID, *UniversalEvent]
	children      *lru.Cache[uuid.UUID, []uuid.UUID]
	contexts      *lru.Cache[uuid.UUID, *CorrelationContext]
}

// NewCorrelationTracker creates a tracker retaining up to capacity
// correlations. A non-positive capacity uses the default.
func NewCorrelationTracker(capacity int) *CorrelationTracker {
	if capacity <= 0 {
		capacity = defaultTrackerCapacity
	}
	byCorrelation, _ := lru.New[uuid.UUID, []uuid.UUID](capacity)
	byEventID, _ := lru.New[uuid.UUID, *UniversalEvent](capacity * 4)
	children, _ := lru.New[uuid.UUID, []uuid.UUID](capacity)
	contexts, _ := lru.New[uuid.UUID, *CorrelationContext](capacity)
	return &CorrelationTracker{
		byCorrelation: byCorrelation,
		byEventID:     byEventID,
		children:      children,
		contexts:      contexts,
	}
}

// Observer returns a bus observer that records every published event.
func (t *CorrelationTracker) Observer() Observer {
	return t.Record
}

// RegisterContext records a correlation context and its parent edge.
func (t *CorrelationTracker) RegisterContext(cc *CorrelationContext) {
	if cc == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.contexts.Add(cc.ID, cc)
	if cc.ParentID != nil {
		kids, _ := t.children.Get(*cc.ParentID)
		t.children.Add(*cc.ParentID, append(kids, cc.ID))
	}
}

// Context returns the registered context for a correlation id.
func (t *CorrelationTracker) Context(id uuid.UUID) (*CorrelationContext, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.contexts.Get(id)
}

// Record indexes one event under its correlation id.
func (t *CorrelationTracker) Record(ev *UniversalEvent) {
	if ev == nil || ev.CorrelationID == uuid.Nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.byEventID.Add(ev.ID, ev)
	ids, _ := t.byCorrelation.Get(ev.CorrelationID)
	t.byCorrelation.Add(ev.CorrelationID, append(ids, ev.ID))
}

// EventsFor returns the recorded events for a correlation id in
// publish order.
func (t *CorrelationTracker) EventsFor(correlationID uuid.UUID) []*UniversalEvent {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.eventsForLocked(correlationID)
}

func (t *CorrelationTracker) eventsForLocked(correlationID uuid.UUID) []*UniversalEvent {
	ids, ok := t.byCorrelation.Get(correlationID)
	if !ok {
		return nil
	}
	out := make([]*UniversalEvent, 0, len(ids))
	for _, id := range ids {
		if ev, ok := t.byEventID.Get(id); ok {
			out = append(out, ev)
		}
	}
	return out
}

// TreeRootedAt returns the events for the correlation id and all of its
// descendant correlations, depth-first.
func (t *CorrelationTracker) TreeRootedAt(correlationID uuid.UUID) []*UniversalEvent {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var out []*UniversalEvent
	seen := map[uuid.UUID]bool{}
	var walk func(id uuid.UUID)
	walk = func(id uuid.UUID) {
		if seen[id] {
			return
		}
		seen[id] = true
		out = append(out, t.eventsForLocked(id)...)
		kids, _ := t.children.Get(id)
		for _, kid := range kids {
			walk(kid)
		}
	}
	walk(correlationID)
	return out
}
