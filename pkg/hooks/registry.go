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

package hooks

import (
	"fmt"
	"sort"
	"sync"
)

type registered struct {
	hook *Hook
	seq  int // insertion order, breaks priority ties
}

// Registry maps hook points to ordered hook lists. Registration is
// append-only under a write lock; executors snapshot under a read lock.
type Registry struct {
	mu         sync.RWMutex
	byPoint    map[Point][]registered
	failClosed map[Point]bool
	nextSeq    int
}

// NewRegistry creates an empty hook registry.
func NewRegistry() *Registry {
	return &Registry{
		byPoint:    make(map[Point][]registered),
		failClosed: make(map[Point]bool),
	}
}

// Register appends a hook at the given point.
func (r *Registry) Register(point Point, hook *Hook) error {
	if hook == nil || hook.Action == nil {
		return fmt.Errorf("hook at %s requires an action", point)
	}
	if hook.Name == "" {
		return fmt.Errorf("hook at %s requires a name", point)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.byPoint[point] {
		if existing.hook.Name == hook.Name {
			return fmt.Errorf("hook %q already registered at %s", hook.Name, point)
		}
	}
	r.byPoint[point] = append(r.byPoint[point], registered{hook: hook, seq: r.nextSeq})
	r.nextSeq++
	return nil
}

// SetFailClosed marks a point so that hook panics cancel the guarded
// action instead of being downgraded to Continue.
func (r *Registry) SetFailClosed(point Point, failClosed bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failClosed[point] = failClosed
}

// FailClosed reports whether the point is fail-closed.
func (r *Registry) FailClosed(point Point) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.failClosed[point]
}

// Snapshot returns the hooks at a point ordered by priority then
// insertion order. The returned slice is stable during execution.
func (r *Registry) Snapshot(point Point) []*Hook {
	r.mu.RLock()
	regs := make([]registered, len(r.byPoint[point]))
	copy(regs, r.byPoint[point])
	r.mu.RUnlock()

	sort.SliceStable(regs, func(i, j int) bool {
		if regs[i].hook.Priority != regs[j].hook.Priority {
			return regs[i].hook.Priority < regs[j].hook.Priority
		}
		return regs[i].seq < regs[j].seq
	})

	hooks := make([]*Hook, len(regs))
	for i, reg := range regs {
		hooks[i] = reg.hook
	}
	return hooks
}

// Count returns the number of hooks registered at a point.
func (r *Registry) Count(point Point) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byPoint[point])
}
