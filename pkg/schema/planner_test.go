package schema

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/Masterminds/semver/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kadirpekel/grimoire/pkg/storage"
)

func identity(entry map[string]any) (map[string]any, error) { return entry, nil }

func testPlanner(t *testing.T) (*Registry, *Planner) {
	t.Helper()
	r := NewRegistry()
	for _, v := range []string{"1.0.0", "1.1.0", "1.2.0", "2.0.0"} {
		require.NoError(t, r.Register(mustSchema(t, v, nil)))
	}
	return r, NewPlanner(r)
}

func TestPlannerDirectPath(t *testing.T) {
	_, p := testPlanner(t)
	require.NoError(t, p.RegisterMigration(Migration{
		From: semver.MustParse("1.0.0"), To: semver.MustParse("1.1.0"),
		Transform: identity, Risk: RiskLow,
	}))

	plan, err := p.Plan(semver.MustParse("1.0.0"), semver.MustParse("1.1.0"))
	require.NoError(t, err)
	require.Len(t, plan.Steps, 1)
	assert.Equal(t, RiskLow, plan.MaxRisk)
}

func TestPlannerPrefersLowerRiskOverShorterPath(t *testing.T) {
	_, p := testPlanner(t)
	v100, v110, v120 := semver.MustParse("1.0.0"), semver.MustParse("1.1.0"), semver.MustParse("1.2.0")

	// Direct but high risk.
	require.NoError(t, p.RegisterMigration(Migration{From: v100, To: v120, Transform: identity, Risk: RiskHigh}))
	// Two hops, both low risk.
	require.NoError(t, p.RegisterMigration(Migration{From: v100, To: v110, Transform: identity, Risk: RiskLow}))
	require.NoError(t, p.RegisterMigration(Migration{From: v110, To: v120, Transform: identity, Risk: RiskLow}))

	plan, err := p.Plan(v100, v120)
	require.NoError(t, err)
	assert.Len(t, plan.Steps, 2, "lower max risk wins over shorter length")
	assert.Equal(t, RiskLow, plan.MaxRisk)
}

func TestPlannerNoPath(t *testing.T) {
	_, p := testPlanner(t)
	_, err := p.Plan(semver.MustParse("1.0.0"), semver.MustParse("2.0.0"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNoPath))
}

func TestPlannerSameVersionIsEmptyPlan(t *testing.T) {
	_, p := testPlanner(t)
	plan, err := p.Plan(semver.MustParse("1.0.0"), semver.MustParse("1.0.0"))
	require.NoError(t, err)
	assert.Empty(t, plan.Steps)
}

func setupEngine(t *testing.T) (*Engine, storage.Backend, *Planner) {
	t.Helper()
	_, p := testPlanner(t)
	require.NoError(t, p.RegisterMigration(Migration{
		From: semver.MustParse("1.0.0"),
		To:   semver.MustParse("1.1.0"),
		Transform: func(entry map[string]any) (map[string]any, error) {
			entry["migrated"] = true
			return entry, nil
		},
		Risk: RiskLow,
	}))

	backend := storage.NewMemory()
	engine := NewEngine(backend, p, nil)
	return engine, backend, p
}

func seedEntries(t *testing.T, backend storage.Backend, n int) {
	t.Helper()
	ctx := context.Background()
	for i := 0; i < n; i++ {
		raw, err := json.Marshal(map[string]any{"index": i})
		require.NoError(t, err)
		require.NoError(t, backend.Set(ctx, "entry:"+string(rune('a'+i)), raw))
	}
}

func TestEngineMigratesEntriesInBatches(t *testing.T) {
	engine, backend, _ := setupEngine(t)
	seedEntries(t, backend, 5)

	report, err := engine.Migrate(context.Background(), "entry:",
		semver.MustParse("1.0.0"), semver.MustParse("1.1.0"),
		EngineConfig{BatchSize: 2})
	require.NoError(t, err)

	assert.Equal(t, 5, report.Entries)
	assert.Equal(t, 3, report.Batches)

	raw, ok, err := backend.Get(context.Background(), "entry:a")
	require.NoError(t, err)
	require.True(t, ok)
	var entry map[string]any
	require.NoError(t, json.Unmarshal(raw, &entry))
	assert.Equal(t, true, entry["migrated"])
}

func TestEngineDryRunNeverMutates(t *testing.T) {
	engine, backend, _ := setupEngine(t)
	seedEntries(t, backend, 3)

	report, err := engine.Migrate(context.Background(), "entry:",
		semver.MustParse("1.0.0"), semver.MustParse("1.1.0"),
		EngineConfig{BatchSize: 10, DryRun: true})
	require.NoError(t, err)
	assert.True(t, report.DryRun)
	assert.Equal(t, 3, report.Entries)
	require.NotNil(t, report.Compatibility)
	assert.True(t, report.Compatibility.Compatible)

	raw, _, err := backend.Get(context.Background(), "entry:a")
	require.NoError(t, err)
	var entry map[string]any
	require.NoError(t, json.Unmarshal(raw, &entry))
	_, mutated := entry["migrated"]
	assert.False(t, mutated, "dry run must not write")
}

func TestEngineRollsBackFromBackupOnError(t *testing.T) {
	_, p := testPlanner(t)
	calls := 0
	require.NoError(t, p.RegisterMigration(Migration{
		From: semver.MustParse("1.0.0"),
		To:   semver.MustParse("1.1.0"),
		Transform: func(entry map[string]any) (map[string]any, error) {
			calls++
			if calls > 2 {
				return nil, errors.New("transform exploded")
			}
			entry["migrated"] = true
			return entry, nil
		},
		Risk: RiskLow,
	}))

	backend := storage.NewMemory()
	engine := NewEngine(backend, p, nil)
	seedEntries(t, backend, 4)

	report, err := engine.Migrate(context.Background(), "entry:",
		semver.MustParse("1.0.0"), semver.MustParse("1.1.0"),
		EngineConfig{BatchSize: 2, CreateBackup: true})
	require.Error(t, err)
	require.NotNil(t, report)
	assert.True(t, report.RolledBack)

	// Every entry is back to its original shape.
	ctx := context.Background()
	keys, err := backend.ListKeys(ctx, "entry:")
	require.NoError(t, err)
	for _, key := range keys {
		raw, _, err := backend.Get(ctx, key)
		require.NoError(t, err)
		var entry map[string]any
		require.NoError(t, json.Unmarshal(raw, &entry))
		_, mutated := entry["migrated"]
		assert.False(t, mutated, "key %s must be rolled back", key)
	}
}
