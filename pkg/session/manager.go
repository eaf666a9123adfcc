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

package session

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/kadirpekel/grimoire/pkg/component"
	"github.com/kadirpekel/grimoire/pkg/events"
	"github.com/kadirpekel/grimoire/pkg/gerrors"
	"github.com/kadirpekel/grimoire/pkg/hooks"
	"github.com/kadirpekel/grimoire/pkg/logger"
	"github.com/kadirpekel/grimoire/pkg/storage"
)

// Limits bounds the session store.
type Limits struct {
	MaxSessions         int
	MaxArtifactsPerItem int
}

// Manager persists sessions through the storage façade. Snapshot keys
// and per-session artifact keys follow the session routing rule; the
// manager itself never sees backend internals.
type Manager struct {
	store  *storage.Facade
	hooks  *hooks.Executor
	bus    *events.Bus
	limits Limits
	log    *slog.Logger
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithHooks fires SessionStart/SessionSave/SessionRestore/SessionEnd.
func WithHooks(executor *hooks.Executor) ManagerOption {
	return func(m *Manager) { m.hooks = executor }
}

// WithBus publishes session lifecycle events.
func WithBus(bus *events.Bus) ManagerOption {
	return func(m *Manager) { m.bus = bus }
}

// WithLimits caps sessions and artifacts.
func WithLimits(limits Limits) ManagerOption {
	return func(m *Manager) { m.limits = limits }
}

// NewManager creates a session manager over a storage façade.
func NewManager(store *storage.Facade, opts ...ManagerOption) *Manager {
	m := &Manager{
		store: store,
		log:   logger.With("subsystem", "session"),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Create starts a new active session and persists its first snapshot.
func (m *Manager) Create(ctx context.Context, name string) (*Snapshot, error) {
	if m.limits.MaxSessions > 0 {
		ids, err := m.List(ctx)
		if err != nil {
			return nil, err
		}
		if len(ids) >= m.limits.MaxSessions {
			return nil, gerrors.Newf(gerrors.KindResourceExceeded,
				"session limit %d reached", m.limits.MaxSessions)
		}
	}

	now := time.Now().UTC()
	snapshot := &Snapshot{
		Metadata: Metadata{
			ID:        uuid.New(),
			Name:      name,
			Status:    StatusActive,
			CreatedAt: now,
			UpdatedAt: now,
		},
		Config: map[string]any{},
		State:  map[string]any{},
	}
	if err := m.persist(ctx, snapshot); err != nil {
		return nil, err
	}

	m.fire(ctx, hooks.PointSessionStart, snapshot)
	m.publish(ctx, "session.created", snapshot)
	return snapshot, nil
}

// Save persists a snapshot, bumping its version.
func (m *Manager) Save(ctx context.Context, snapshot *Snapshot) error {
	if result := m.fire(ctx, hooks.PointSessionSave, snapshot); result.Kind == hooks.KindCancel {
		return gerrors.Newf(gerrors.KindComponent, "session save cancelled: %s", result.Reason)
	}
	snapshot.Version++
	snapshot.Metadata.UpdatedAt = time.Now().UTC()
	if err := m.persist(ctx, snapshot); err != nil {
		return err
	}
	m.publish(ctx, "session.saved", snapshot)
	return nil
}

// Load restores a session snapshot by id.
func (m *Manager) Load(ctx context.Context, id uuid.UUID) (*Snapshot, error) {
	raw, ok, err := m.store.Get(ctx, storage.SessionKey(id))
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, gerrors.Newf(gerrors.KindStorage, "session %s not found", id)
	}
	var snapshot Snapshot
	if err := json.Unmarshal(raw, &snapshot); err != nil {
		return nil, gerrors.Wrap(gerrors.KindStorage, "decode session snapshot", err)
	}

	m.fire(ctx, hooks.PointSessionRestore, &snapshot)
	m.publish(ctx, "session.restored", &snapshot)
	return &snapshot, nil
}

// Transition moves the session to a new status.
func (m *Manager) Transition(ctx context.Context, id uuid.UUID, target Status) (*Snapshot, error) {
	snapshot, err := m.Load(ctx, id)
	if err != nil {
		return nil, err
	}
	if !CanTransition(snapshot.Metadata.Status, target) {
		return nil, gerrors.Newf(gerrors.KindTransition,
			"session status %s cannot move to %s", snapshot.Metadata.Status, target)
	}
	snapshot.Metadata.Status = target
	if err := m.Save(ctx, snapshot); err != nil {
		return nil, err
	}
	if target == StatusCompleted || target == StatusArchived {
		m.fire(ctx, hooks.PointSessionEnd, snapshot)
	}
	return snapshot, nil
}

// Delete removes the session snapshot and its state entries.
func (m *Manager) Delete(ctx context.Context, id uuid.UUID) error {
	stateKeys, err := m.store.ListKeys(ctx, storage.SessionStateKey(id, ""))
	if err != nil {
		return err
	}
	for _, key := range stateKeys {
		if _, err := m.store.Delete(ctx, key); err != nil {
			return err
		}
	}
	if _, err := m.store.Delete(ctx, storage.SessionKey(id)); err != nil {
		return err
	}
	m.publish(ctx, "session.deleted", &Snapshot{Metadata: Metadata{ID: id}})
	return nil
}

// List returns all stored session ids.
func (m *Manager) List(ctx context.Context) ([]uuid.UUID, error) {
	keys, err := m.store.ListKeys(ctx, "session:")
	if err != nil {
		return nil, err
	}
	var ids []uuid.UUID
	for _, key := range m.store.SessionSnapshotKeys(keys) {
		if space, id := storage.Route(key); space == storage.SpaceSessionSnapshot {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

// AddArtifact stores an artifact under the session and records its id
// in the snapshot.
func (m *Manager) AddArtifact(ctx context.Context, snapshot *Snapshot, data []byte) (uuid.UUID, error) {
	if m.limits.MaxArtifactsPerItem > 0 && len(snapshot.ArtifactIDs) >= m.limits.MaxArtifactsPerItem {
		return uuid.Nil, gerrors.Newf(gerrors.KindResourceExceeded,
			"artifact limit %d reached for session %s", m.limits.MaxArtifactsPerItem, snapshot.Metadata.ID)
	}
	artifactID := uuid.New()
	key := storage.SessionStateKey(snapshot.Metadata.ID, "artifact:"+artifactID.String())
	if err := m.store.Set(ctx, key, data); err != nil {
		return uuid.Nil, err
	}
	snapshot.ArtifactIDs = append(snapshot.ArtifactIDs, artifactID)
	return artifactID, m.Save(ctx, snapshot)
}

// Artifact reads a stored artifact.
func (m *Manager) Artifact(ctx context.Context, sessionID, artifactID uuid.UUID) ([]byte, error) {
	raw, ok, err := m.store.Get(ctx, storage.SessionStateKey(sessionID, "artifact:"+artifactID.String()))
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, gerrors.Newf(gerrors.KindStorage, "artifact %s not found", artifactID)
	}
	return raw, nil
}

// ReapExpired archives sessions past their retention window.
func (m *Manager) ReapExpired(ctx context.Context) (int, error) {
	ids, err := m.List(ctx)
	if err != nil {
		return 0, err
	}
	now := time.Now().UTC()
	reaped := 0
	for _, id := range ids {
		snapshot, err := m.Load(ctx, id)
		if err != nil {
			m.log.Warn("failed to load session during reap", "session", id, "error", err)
			continue
		}
		if !snapshot.Expired(now) || snapshot.Metadata.Status == StatusArchived {
			continue
		}
		if snapshot.Metadata.Status != StatusCompleted {
			if _, err := m.Transition(ctx, id, StatusCompleted); err != nil {
				continue
			}
		}
		if _, err := m.Transition(ctx, id, StatusArchived); err == nil {
			reaped++
		}
	}
	return reaped, nil
}

func (m *Manager) persist(ctx context.Context, snapshot *Snapshot) error {
	raw, err := json.Marshal(snapshot)
	if err != nil {
		return gerrors.Wrap(gerrors.KindStorage, "encode session snapshot", err)
	}
	return m.store.Set(ctx, storage.SessionKey(snapshot.Metadata.ID), raw)
}

func (m *Manager) fire(ctx context.Context, point hooks.Point, snapshot *Snapshot) hooks.Result {
	if m.hooks == nil {
		return hooks.Continue()
	}
	hctx := hooks.NewContext(point, component.NewID(component.KindSystem, "session-manager"))
	hctx.Set("session_id", snapshot.Metadata.ID.String())
	hctx.Set("status", string(snapshot.Metadata.Status))
	if cc, ok := events.FromContext(ctx); ok {
		hctx.WithCorrelation(cc.ID)
	}
	return m.hooks.Execute(ctx, point, hctx)
}

func (m *Manager) publish(ctx context.Context, eventType string, snapshot *Snapshot) {
	if m.bus == nil {
		return
	}
	ev := events.New(eventType, "session", map[string]any{
		"session_id": snapshot.Metadata.ID.String(),
		"status":     string(snapshot.Metadata.Status),
		"version":    snapshot.Version,
	})
	if cc, ok := events.FromContext(ctx); ok {
		ev.Correlated(cc)
	}
	_ = m.bus.Publish(context.WithoutCancel(ctx), ev)
}
