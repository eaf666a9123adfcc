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

package state

import (
	"context"
	"encoding/json"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/kadirpekel/grimoire/pkg/component"
	"github.com/kadirpekel/grimoire/pkg/events"
	"github.com/kadirpekel/grimoire/pkg/gerrors"
	"github.com/kadirpekel/grimoire/pkg/hooks"
	"github.com/kadirpekel/grimoire/pkg/storage"
)

// Entry is one scoped state value with its write timestamp.
type Entry struct {
	Scope     Scope     `json:"scope"`
	Key       string    `json:"key"`
	Value     any       `json:"value"`
	UpdatedAt time.Time `json:"updated_at"`
}

type scopeStore struct {
	mu      sync.RWMutex
	entries map[string]Entry
}

// Manager is the scoped state store. Writes go through to the storage
// backend and fire a StateChange hook after the commit; reads can
// optionally fire SharedDataAccess when enabled.
type Manager struct {
	mu     sync.Mutex
	scopes map[string]*scopeStore

	backend   storage.Backend
	hooks     *hooks.Executor
	bus       *events.Bus
	readHooks bool
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithHooks fires StateChange (and, when enabled, SharedDataAccess)
// hook chains through the executor.
func WithHooks(executor *hooks.Executor) ManagerOption {
	return func(m *Manager) { m.hooks = executor }
}

// WithBus publishes state.changed events.
func WithBus(bus *events.Bus) ManagerOption {
	return func(m *Manager) { m.bus = bus }
}

// WithReadNotifications enables the SharedDataAccess hook on reads.
// Off by default.
func WithReadNotifications() ManagerOption {
	return func(m *Manager) { m.readHooks = true }
}

// NewManager creates a state manager over a backend.
func NewManager(backend storage.Backend, opts ...ManagerOption) *Manager {
	m := &Manager{
		scopes:  make(map[string]*scopeStore),
		backend: backend,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Manager) store(scope Scope) *scopeStore {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := scope.Prefix()
	st, ok := m.scopes[key]
	if !ok {
		st = &scopeStore{entries: make(map[string]Entry)}
		m.scopes[key] = st
	}
	return st
}

// Get reads a value. Backend misses populate the in-memory map.
func (m *Manager) Get(ctx context.Context, scope Scope, key string) (any, bool, error) {
	st := m.store(scope)

	st.mu.RLock()
	entry, ok := st.entries[key]
	st.mu.RUnlock()

	if !ok {
		raw, found, err := m.backend.Get(ctx, scope.StorageKey(key))
		if err != nil {
			return nil, false, err
		}
		if !found {
			return nil, false, nil
		}
		var value any
		if err := json.Unmarshal(raw, &value); err != nil {
			return nil, false, gerrors.Wrap(gerrors.KindStorage, "decode state entry", err)
		}
		entry = Entry{Scope: scope, Key: key, Value: value, UpdatedAt: time.Now().UTC()}
		st.mu.Lock()
		st.entries[key] = entry
		st.mu.Unlock()
		ok = true
	}

	if ok && m.readHooks && m.hooks != nil {
		hctx := hooks.NewContext(hooks.PointSharedDataAccess, scopeComponentID(scope))
		hctx.Set("key", key)
		hctx.Set("scope", scope.String())
		if cc, has := events.FromContext(ctx); has {
			hctx.WithCorrelation(cc.ID)
		}
		m.hooks.Execute(ctx, hooks.PointSharedDataAccess, hctx)
	}
	return entry.Value, ok, nil
}

// Set writes a value through to the backend, then fires the StateChange
// hook and a state.changed event after the scope lock is released.
func (m *Manager) Set(ctx context.Context, scope Scope, key string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return gerrors.Wrap(gerrors.KindStorage, "encode state entry", err)
	}

	st := m.store(scope)

	st.mu.Lock()
	old, hadOld := st.entries[key]
	if err := m.backend.Set(ctx, scope.StorageKey(key), raw); err != nil {
		st.mu.Unlock()
		return err
	}
	st.entries[key] = Entry{Scope: scope, Key: key, Value: value, UpdatedAt: time.Now().UTC()}
	st.mu.Unlock()

	var oldValue any
	if hadOld {
		oldValue = old.Value
	}
	m.notifyChange(ctx, scope, key, oldValue, value)
	return nil
}

// Delete removes a value, reporting whether it existed.
func (m *Manager) Delete(ctx context.Context, scope Scope, key string) (bool, error) {
	st := m.store(scope)

	st.mu.Lock()
	old, hadOld := st.entries[key]
	existed, err := m.backend.Delete(ctx, scope.StorageKey(key))
	if err != nil {
		st.mu.Unlock()
		return false, err
	}
	delete(st.entries, key)
	st.mu.Unlock()

	if hadOld || existed {
		var oldValue any
		if hadOld {
			oldValue = old.Value
		}
		m.notifyChange(ctx, scope, key, oldValue, nil)
	}
	return hadOld || existed, nil
}

// List returns the keys in scope with the given prefix, sorted.
func (m *Manager) List(ctx context.Context, scope Scope, prefix string) ([]string, error) {
	backendKeys, err := m.backend.ListKeys(ctx, scope.StorageKey(prefix))
	if err != nil {
		return nil, err
	}
	strip := len(scope.Prefix())

	seen := map[string]bool{}
	var keys []string
	for _, key := range backendKeys {
		trimmed := key[strip:]
		if !seen[trimmed] {
			seen[trimmed] = true
			keys = append(keys, trimmed)
		}
	}

	st := m.store(scope)
	st.mu.RLock()
	for key := range st.entries {
		if strings.HasPrefix(key, prefix) && !seen[key] {
			seen[key] = true
			keys = append(keys, key)
		}
	}
	st.mu.RUnlock()

	sort.Strings(keys)
	return keys, nil
}

// Snapshot copies the scope's in-memory entries, ordered by key.
func (m *Manager) Snapshot(scope Scope) []Entry {
	st := m.store(scope)
	st.mu.RLock()
	defer st.mu.RUnlock()

	out := make([]Entry, 0, len(st.entries))
	for _, entry := range st.entries {
		out = append(out, entry)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// Reset clears a scope in memory and in the backend.
func (m *Manager) Reset(ctx context.Context, scope Scope) error {
	keys, err := m.backend.ListKeys(ctx, scope.Prefix())
	if err != nil {
		return err
	}
	for _, key := range keys {
		if _, err := m.backend.Delete(ctx, key); err != nil {
			return err
		}
	}

	st := m.store(scope)
	st.mu.Lock()
	st.entries = make(map[string]Entry)
	st.mu.Unlock()
	return nil
}

// notifyChange runs after the write commits and the scope lock is
// released.
func (m *Manager) notifyChange(ctx context.Context, scope Scope, key string, oldValue, newValue any) {
	var correlationCtx *events.CorrelationContext
	if cc, ok := events.FromContext(ctx); ok {
		correlationCtx = cc
	}

	if m.hooks != nil {
		hctx := hooks.NewContext(hooks.PointStateChange, scopeComponentID(scope))
		hctx.Set("key", key)
		hctx.Set("scope", scope.String())
		hctx.Set("old_value", oldValue)
		hctx.Set("new_value", newValue)
		if correlationCtx != nil {
			hctx.WithCorrelation(correlationCtx.ID)
		}
		m.hooks.Execute(ctx, hooks.PointStateChange, hctx)
	}

	if m.bus != nil {
		ev := events.New("state.changed", "state", map[string]any{
			"scope": scope.String(),
			"key":   key,
		})
		if correlationCtx != nil {
			ev.Correlated(correlationCtx)
		}
		_ = m.bus.Publish(ctx, ev)
	}
}

func scopeComponentID(scope Scope) component.ID {
	switch scope.Kind {
	case ScopeAgent:
		return component.NewID(component.KindAgent, scope.ID)
	case ScopeWorkflow:
		return component.NewID(component.KindWorkflow, scope.ID)
	default:
		return component.NewID(component.KindSystem, string(scope.Kind))
	}
}
