package session

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kadirpekel/grimoire/pkg/gerrors"
	"github.com/kadirpekel/grimoire/pkg/hooks"
	"github.com/kadirpekel/grimoire/pkg/storage"
)

func newTestManager(opts ...ManagerOption) *Manager {
	return NewManager(storage.NewFacade(storage.NewMemory()), opts...)
}

func TestStatusTransitions(t *testing.T) {
	tests := []struct {
		from, to Status
		want     bool
	}{
		{StatusActive, StatusSuspended, true},
		{StatusActive, StatusCompleted, true},
		{StatusActive, StatusArchived, false},
		{StatusSuspended, StatusActive, true},
		{StatusSuspended, StatusCompleted, true},
		{StatusCompleted, StatusArchived, true},
		{StatusCompleted, StatusActive, false},
		{StatusArchived, StatusActive, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, CanTransition(tt.from, tt.to), "%s -> %s", tt.from, tt.to)
	}
}

func TestManagerCreateSaveLoad(t *testing.T) {
	ctx := context.Background()
	m := newTestManager()

	created, err := m.Create(ctx, "research")
	require.NoError(t, err)
	assert.Equal(t, StatusActive, created.Metadata.Status)

	created.State["topic"] = "storage"
	require.NoError(t, m.Save(ctx, created))
	assert.Equal(t, uint32(1), created.Version)

	loaded, err := m.Load(ctx, created.Metadata.ID)
	require.NoError(t, err)
	assert.Equal(t, "research", loaded.Metadata.Name)
	assert.Equal(t, "storage", loaded.State["topic"])
	assert.Equal(t, uint32(1), loaded.Version)
}

func TestManagerLoadUnknownSession(t *testing.T) {
	m := newTestManager()
	_, err := m.Load(context.Background(), uuid.New())
	require.Error(t, err)
	assert.True(t, gerrors.Is(err, gerrors.KindStorage))
}

func TestManagerLifecycle(t *testing.T) {
	ctx := context.Background()
	m := newTestManager()

	created, err := m.Create(ctx, "s")
	require.NoError(t, err)
	id := created.Metadata.ID

	suspended, err := m.Transition(ctx, id, StatusSuspended)
	require.NoError(t, err)
	assert.Equal(t, StatusSuspended, suspended.Metadata.Status)

	_, err = m.Transition(ctx, id, StatusArchived)
	require.Error(t, err, "suspended cannot archive directly")
	assert.True(t, gerrors.Is(err, gerrors.KindTransition))

	_, err = m.Transition(ctx, id, StatusCompleted)
	require.NoError(t, err)
	archived, err := m.Transition(ctx, id, StatusArchived)
	require.NoError(t, err)
	assert.Equal(t, StatusArchived, archived.Metadata.Status)
}

func TestManagerSessionLimit(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(WithLimits(Limits{MaxSessions: 2}))

	_, err := m.Create(ctx, "one")
	require.NoError(t, err)
	_, err = m.Create(ctx, "two")
	require.NoError(t, err)
	_, err = m.Create(ctx, "three")
	require.Error(t, err)
	assert.True(t, gerrors.Is(err, gerrors.KindResourceExceeded))
}

func TestManagerArtifacts(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(WithLimits(Limits{MaxArtifactsPerItem: 1}))

	snapshot, err := m.Create(ctx, "arts")
	require.NoError(t, err)

	artifactID, err := m.AddArtifact(ctx, snapshot, []byte("payload"))
	require.NoError(t, err)
	assert.Contains(t, snapshot.ArtifactIDs, artifactID)

	data, err := m.Artifact(ctx, snapshot.Metadata.ID, artifactID)
	require.NoError(t, err)
	assert.Equal(t, []byte("payload"), data)

	_, err = m.AddArtifact(ctx, snapshot, []byte("too many"))
	require.Error(t, err)
	assert.True(t, gerrors.Is(err, gerrors.KindResourceExceeded))
}

func TestManagerDeleteRemovesStateEntries(t *testing.T) {
	ctx := context.Background()
	backend := storage.NewMemory()
	m := NewManager(storage.NewFacade(backend))

	snapshot, err := m.Create(ctx, "doomed")
	require.NoError(t, err)
	_, err = m.AddArtifact(ctx, snapshot, []byte("x"))
	require.NoError(t, err)

	require.NoError(t, m.Delete(ctx, snapshot.Metadata.ID))

	keys, err := backend.ListKeys(ctx, "session:")
	require.NoError(t, err)
	assert.Empty(t, keys)
}

func TestManagerList(t *testing.T) {
	ctx := context.Background()
	m := newTestManager()

	a, err := m.Create(ctx, "a")
	require.NoError(t, err)
	b, err := m.Create(ctx, "b")
	require.NoError(t, err)

	ids, err := m.List(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []uuid.UUID{a.Metadata.ID, b.Metadata.ID}, ids)
}

func TestManagerSaveHookCanCancel(t *testing.T) {
	ctx := context.Background()
	registry := hooks.NewRegistry()
	require.NoError(t, registry.Register(hooks.PointSessionSave, &hooks.Hook{
		Name: "veto",
		Action: func(_ context.Context, _ *hooks.Context) hooks.Result {
			return hooks.Cancel("read-only mode")
		},
	}))

	m := newTestManager(WithHooks(hooks.NewExecutor(registry)))
	snapshot := &Snapshot{Metadata: Metadata{ID: uuid.New(), Status: StatusActive}}
	err := m.Save(ctx, snapshot)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "read-only mode")
}

func TestSnapshotExpiry(t *testing.T) {
	now := time.Now().UTC()
	fresh := &Snapshot{Metadata: Metadata{UpdatedAt: now, RetentionDays: 7}}
	assert.False(t, fresh.Expired(now))
	assert.True(t, fresh.Expired(now.AddDate(0, 0, 8)))

	forever := &Snapshot{Metadata: Metadata{UpdatedAt: now.AddDate(-1, 0, 0)}}
	assert.False(t, forever.Expired(now))
}
