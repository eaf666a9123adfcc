package state

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kadirpekel/grimoire/pkg/hooks"
	"github.com/kadirpekel/grimoire/pkg/storage"
)

func TestScopePrefixes(t *testing.T) {
	tests := []struct {
		scope Scope
		key   string
		want  string
	}{
		{Global(), "counter", "global:counter"},
		{Agent("a1"), "memo", "agent:a1:memo"},
		{Session("s1"), "history", "session:s1:history"},
		{Workflow("w1"), "step_0.output", "workflow:w1:step_0.output"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.scope.StorageKey(tt.key))
	}
}

func TestManagerSetGetDelete(t *testing.T) {
	ctx := context.Background()
	m := NewManager(storage.NewMemory())
	scope := Workflow("wf")

	require.NoError(t, m.Set(ctx, scope, "answer", 42))

	value, ok, err := m.Get(ctx, scope, "answer")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 42, value)

	existed, err := m.Delete(ctx, scope, "answer")
	require.NoError(t, err)
	assert.True(t, existed)

	_, ok, err = m.Get(ctx, scope, "answer")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestManagerWritesThroughToBackend(t *testing.T) {
	ctx := context.Background()
	backend := storage.NewMemory()
	m := NewManager(backend)
	scope := Session("abc")

	require.NoError(t, m.Set(ctx, scope, "greeting", "hi"))

	raw, ok, err := backend.Get(ctx, "session:abc:greeting")
	require.NoError(t, err)
	require.True(t, ok)
	assert.JSONEq(t, `"hi"`, string(raw))
}

func TestManagerGetPopulatesFromBackend(t *testing.T) {
	ctx := context.Background()
	backend := storage.NewMemory()
	require.NoError(t, backend.Set(ctx, "global:preloaded", []byte(`{"x":1}`)))

	m := NewManager(backend)
	value, ok, err := m.Get(ctx, Global(), "preloaded")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, map[string]any{"x": float64(1)}, value)
}

func TestManagerSnapshotOrderedByKey(t *testing.T) {
	ctx := context.Background()
	m := NewManager(storage.NewMemory())
	scope := Agent("a")

	require.NoError(t, m.Set(ctx, scope, "zebra", 1))
	require.NoError(t, m.Set(ctx, scope, "apple", 2))
	require.NoError(t, m.Set(ctx, scope, "mango", 3))

	snap := m.Snapshot(scope)
	require.Len(t, snap, 3)
	assert.Equal(t, "apple", snap[0].Key)
	assert.Equal(t, "mango", snap[1].Key)
	assert.Equal(t, "zebra", snap[2].Key)
	for _, entry := range snap {
		assert.False(t, entry.UpdatedAt.IsZero())
	}
}

func TestManagerListAndReset(t *testing.T) {
	ctx := context.Background()
	m := NewManager(storage.NewMemory())
	scope := Workflow("wf")

	require.NoError(t, m.Set(ctx, scope, "step_0.output", "a"))
	require.NoError(t, m.Set(ctx, scope, "step_1.output", "b"))
	require.NoError(t, m.Set(ctx, scope, "meta", "c"))

	keys, err := m.List(ctx, scope, "step_")
	require.NoError(t, err)
	assert.Equal(t, []string{"step_0.output", "step_1.output"}, keys)

	require.NoError(t, m.Reset(ctx, scope))
	keys, err = m.List(ctx, scope, "")
	require.NoError(t, err)
	assert.Empty(t, keys)
	assert.Empty(t, m.Snapshot(scope))
}

func TestManagerFiresStateChangeHookAfterCommit(t *testing.T) {
	ctx := context.Background()
	registry := hooks.NewRegistry()

	type change struct {
		key      string
		oldValue any
		newValue any
	}
	var changes []change
	require.NoError(t, registry.Register(hooks.PointStateChange, &hooks.Hook{
		Name: "recorder",
		Action: func(_ context.Context, hctx *hooks.Context) hooks.Result {
			key, _ := hctx.Get("key")
			oldValue, _ := hctx.Get("old_value")
			newValue, _ := hctx.Get("new_value")
			changes = append(changes, change{key.(string), oldValue, newValue})
			return hooks.Continue()
		},
	}))

	m := NewManager(storage.NewMemory(), WithHooks(hooks.NewExecutor(registry)))
	scope := Global()

	require.NoError(t, m.Set(ctx, scope, "k", "v1"))
	require.NoError(t, m.Set(ctx, scope, "k", "v2"))

	require.Len(t, changes, 2)
	assert.Equal(t, change{"k", nil, "v1"}, changes[0])
	assert.Equal(t, change{"k", "v1", "v2"}, changes[1])
}

func TestManagerSharedDataAccessHookOffByDefault(t *testing.T) {
	ctx := context.Background()
	registry := hooks.NewRegistry()
	reads := 0
	require.NoError(t, registry.Register(hooks.PointSharedDataAccess, &hooks.Hook{
		Name: "read-counter",
		Action: func(_ context.Context, _ *hooks.Context) hooks.Result {
			reads++
			return hooks.Continue()
		},
	}))
	executor := hooks.NewExecutor(registry)

	silent := NewManager(storage.NewMemory(), WithHooks(executor))
	require.NoError(t, silent.Set(ctx, Global(), "k", 1))
	_, _, _ = silent.Get(ctx, Global(), "k")
	assert.Zero(t, reads)

	noisy := NewManager(storage.NewMemory(), WithHooks(executor), WithReadNotifications())
	require.NoError(t, noisy.Set(ctx, Global(), "k", 1))
	_, _, _ = noisy.Get(ctx, Global(), "k")
	assert.Equal(t, 1, reads)
}
