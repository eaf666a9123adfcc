package workflow

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kadirpekel/grimoire/pkg/agent"
	"github.com/kadirpekel/grimoire/pkg/component"
	"github.com/kadirpekel/grimoire/pkg/gerrors"
	"github.com/kadirpekel/grimoire/pkg/state"
	"github.com/kadirpekel/grimoire/pkg/storage"
	"github.com/kadirpekel/grimoire/pkg/tool"
	"github.com/kadirpekel/grimoire/pkg/tool/builtin"
)

// sleeper is a component that waits, honoring cancellation.
func sleeper(name string, d time.Duration) component.Component {
	return component.NewBase(
		component.Metadata{ID: component.NewID(component.KindTool, name)},
		func(ctx context.Context, _ *component.Input) (*component.Output, error) {
			select {
			case <-time.After(d):
				return component.NewOutput("slept"), nil
			case <-ctx.Done():
				return nil, gerrors.Wrap(gerrors.KindCancelled, "sleep interrupted", ctx.Err())
			}
		})
}

// boom is a component that always fails with a non-retryable error.
func boom(name string) component.Component {
	return component.NewBase(
		component.Metadata{ID: component.NewID(component.KindTool, name)},
		func(_ context.Context, _ *component.Input) (*component.Output, error) {
			return nil, gerrors.New(gerrors.KindValidation, "intentional failure")
		})
}

type testEnv struct {
	executor *Executor
	state    *state.Manager
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	registry := tool.NewRegistry()
	calc, err := builtin.NewCalculator()
	require.NoError(t, err)
	jsonTool, err := builtin.NewJSON()
	require.NoError(t, err)
	require.NoError(t, registry.RegisterTool(calc))
	require.NoError(t, registry.RegisterTool(jsonTool))

	stateMgr := state.NewManager(storage.NewMemory())
	executor := NewExecutor(
		RegistryResolver{Tools: registry},
		WithStateManager(stateMgr),
	)
	return &testEnv{executor: executor, state: stateMgr}
}

func TestSequentialHappyPath(t *testing.T) {
	env := newTestEnv(t)
	wf, err := NewSequential(SequentialConfig{
		Name: "happy",
		Steps: []Step{
			{Name: "calc", Tool: "calculator", Params: map[string]any{"input": "2+2"}},
			{Name: "parse", Tool: "json", Params: map[string]any{"input": `{"data":"x"}`}},
		},
	}, env.executor)
	require.NoError(t, err)

	result, err := wf.Run(context.Background())
	require.NoError(t, err)

	assert.True(t, result.Success)
	require.Len(t, result.Successful, 2)
	assert.Empty(t, result.Failed)

	ctx := context.Background()
	scope := state.Workflow("happy")
	v0, ok, err := env.state.Get(ctx, scope, "step_0.output")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "4", v0)

	v1, ok, err := env.state.Get(ctx, scope, "step_1.output")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, map[string]any{"data": "x"}, v1)
}

func TestSequentialFailFast(t *testing.T) {
	env := newTestEnv(t)
	invoked := false
	third := component.NewBase(
		component.Metadata{ID: component.NewID(component.KindTool, "third")},
		func(_ context.Context, _ *component.Input) (*component.Output, error) {
			invoked = true
			return component.NewOutput("three"), nil
		})

	wf, err := NewSequential(SequentialConfig{
		Name:     "failfast",
		Strategy: StrategyFailFast,
		Steps: []Step{
			{Name: "one", Tool: "calculator", Params: map[string]any{"input": "1+1"}},
			{Name: "two"}, // empty tool name fails validation at runtime
			{Name: "three", Custom: third},
		},
	}, env.executor)
	require.NoError(t, err)

	result, err := wf.Run(context.Background())
	require.NoError(t, err)

	assert.False(t, result.Success)
	require.Len(t, result.Successful, 1)
	assert.Equal(t, "one", result.Successful[0].Name)
	require.Len(t, result.Failed, 1)
	assert.Equal(t, "two", result.Failed[0].Name)
	assert.True(t, result.StoppedEarly)
	assert.False(t, invoked, "third step must not run under fail-fast")
}

func TestSequentialContinueOnError(t *testing.T) {
	env := newTestEnv(t)
	wf, err := NewSequential(SequentialConfig{
		Name:     "continue",
		Strategy: StrategyContinue,
		Steps: []Step{
			{Name: "one", Tool: "calculator", Params: map[string]any{"input": "1+1"}},
			{Name: "two"},
			{Name: "three", Tool: "calculator", Params: map[string]any{"input": "3+3"}},
		},
	}, env.executor)
	require.NoError(t, err)

	result, err := wf.Run(context.Background())
	require.NoError(t, err)

	assert.True(t, result.Success)
	require.Len(t, result.Successful, 2)
	assert.Equal(t, "one", result.Successful[0].Name)
	assert.Equal(t, "three", result.Successful[1].Name)
	require.Len(t, result.Failed, 1)
	assert.Equal(t, "two", result.Failed[0].Name)
}

func TestSequentialStopOnRequiredToleratesOptional(t *testing.T) {
	env := newTestEnv(t)
	wf, err := NewSequential(SequentialConfig{
		Name:     "optional",
		Strategy: StrategyStopOnRequired,
		Steps: []Step{
			{Name: "flaky", Optional: true},
			{Name: "main", Tool: "calculator", Params: map[string]any{"input": "5*5"}},
		},
	}, env.executor)
	require.NoError(t, err)

	result, err := wf.Run(context.Background())
	require.NoError(t, err)
	assert.True(t, result.Success)
	require.Len(t, result.Successful, 1)
	require.Len(t, result.Failed, 1)
}

func TestSequentialRetryCounts(t *testing.T) {
	env := newTestEnv(t)
	attempts := 0
	flaky := component.NewBase(
		component.Metadata{ID: component.NewID(component.KindTool, "flaky")},
		func(_ context.Context, _ *component.Input) (*component.Output, error) {
			attempts++
			if attempts < 3 {
				return nil, gerrors.New(gerrors.KindProvider, "transient")
			}
			return component.NewOutput("ok"), nil
		})

	retry := agent.RetryPolicy{MaxRetries: 2, InitialDelay: time.Millisecond, Multiplier: 1}
	wf, err := NewSequential(SequentialConfig{
		Name:  "retry",
		Steps: []Step{{Name: "flaky", Custom: flaky, Retry: &retry}},
	}, env.executor)
	require.NoError(t, err)

	result, err := wf.Run(context.Background())
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, 3, attempts)
	assert.Equal(t, 2, result.Successful[0].RetryCount)
}

func TestSequentialZeroRetriesRunsOnce(t *testing.T) {
	env := newTestEnv(t)
	attempts := 0
	failing := component.NewBase(
		component.Metadata{ID: component.NewID(component.KindTool, "failing")},
		func(_ context.Context, _ *component.Input) (*component.Output, error) {
			attempts++
			return nil, gerrors.New(gerrors.KindProvider, "always down")
		})

	retry := agent.RetryPolicy{MaxRetries: 0}
	wf, err := NewSequential(SequentialConfig{
		Name:  "no-retry",
		Steps: []Step{{Name: "once", Custom: failing, Retry: &retry}},
	}, env.executor)
	require.NoError(t, err)

	result, err := wf.Run(context.Background())
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Equal(t, 1, attempts)
}

func TestSequentialRejectsZeroSteps(t *testing.T) {
	env := newTestEnv(t)
	_, err := NewSequential(SequentialConfig{Name: "empty"}, env.executor)
	assert.Error(t, err)
}

func TestSequentialWorkflowTimeout(t *testing.T) {
	env := newTestEnv(t)
	wf, err := NewSequential(SequentialConfig{
		Name:    "slow",
		Timeout: 50 * time.Millisecond,
		Steps: []Step{
			{Name: "sleep1", Custom: sleeper("s1", 30*time.Millisecond)},
			{Name: "sleep2", Custom: sleeper("s2", 100*time.Millisecond)},
			{Name: "sleep3", Custom: sleeper("s3", 100*time.Millisecond)},
		},
	}, env.executor)
	require.NoError(t, err)

	result, err := wf.Run(context.Background())
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.True(t, result.TimedOut)
}

func TestParallelAllBranchesSucceed(t *testing.T) {
	env := newTestEnv(t)
	wf, err := NewParallel(ParallelConfig{
		Name:           "fanout",
		MaxConcurrency: 2,
		Branches: []Branch{
			{Name: "b1", Steps: []Step{{Name: "c1", Tool: "calculator", Params: map[string]any{"input": "1+1"}}}},
			{Name: "b2", Steps: []Step{{Name: "c2", Tool: "calculator", Params: map[string]any{"input": "2+2"}}}},
			{Name: "b3", Steps: []Step{{Name: "c3", Tool: "calculator", Params: map[string]any{"input": "3+3"}}}},
		},
	}, env.executor)
	require.NoError(t, err)

	result, err := wf.Run(context.Background())
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Len(t, result.Branches, 3)
	assert.Len(t, result.Successful, 3)
	assert.False(t, result.StoppedEarly)
}

func TestParallelFailFast(t *testing.T) {
	env := newTestEnv(t)
	wf, err := NewParallel(ParallelConfig{
		Name:           "failfast",
		MaxConcurrency: 3,
		FailFast:       true,
		Branches: []Branch{
			{Name: "b1", Steps: []Step{{Name: "bad", Custom: boom("bad")}}},
			{Name: "b2", Steps: []Step{{Name: "slow2", Custom: sleeper("slow2", time.Second)}}},
			{Name: "b3", Steps: []Step{{Name: "slow3", Custom: sleeper("slow3", time.Second)}}},
		},
	}, env.executor)
	require.NoError(t, err)

	start := time.Now()
	result, err := wf.Run(context.Background())
	require.NoError(t, err)

	assert.False(t, result.Success)
	assert.True(t, result.StoppedEarly)
	assert.Less(t, time.Since(start), 500*time.Millisecond,
		"fail-fast must interrupt the sleeping branches promptly")

	cancelledOrSkipped := 0
	for _, branch := range result.Branches {
		if branch.Name == "b1" {
			assert.False(t, branch.Success)
			continue
		}
		if branch.Skipped || branch.Cancelled {
			cancelledOrSkipped++
		}
	}
	assert.Equal(t, 2, cancelledOrSkipped)
}

func TestParallelOptionalBranchFailureIsTolerated(t *testing.T) {
	env := newTestEnv(t)
	wf, err := NewParallel(ParallelConfig{
		Name:           "optional",
		MaxConcurrency: 2,
		Branches: []Branch{
			{Name: "required", Steps: []Step{{Name: "ok", Tool: "calculator", Params: map[string]any{"input": "1"}}}},
			{Name: "best-effort", Optional: true, Steps: []Step{{Name: "bad", Custom: boom("bad")}}},
		},
	}, env.executor)
	require.NoError(t, err)

	result, err := wf.Run(context.Background())
	require.NoError(t, err)
	assert.True(t, result.Success)
}

func TestParallelBuildRejections(t *testing.T) {
	env := newTestEnv(t)

	_, err := NewParallel(ParallelConfig{Name: "none", MaxConcurrency: 1}, env.executor)
	assert.Error(t, err, "zero branches rejected")

	_, err = NewParallel(ParallelConfig{
		Name:           "zero-conc",
		MaxConcurrency: 0,
		Branches:       []Branch{{Name: "b", Steps: []Step{{Name: "s", Tool: "calculator"}}}},
	}, env.executor)
	assert.Error(t, err, "max_concurrency=0 rejected")

	_, err = NewParallel(ParallelConfig{
		Name:           "empty-branch",
		MaxConcurrency: 1,
		Branches:       []Branch{{Name: "b"}},
	}, env.executor)
	assert.Error(t, err, "empty branch rejected")
}

func TestConditionalDispatch(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	require.NoError(t, env.state.Set(ctx, state.Workflow("dispatch"), "env", "prod"))

	ranA := false
	ranB := false
	branchA := component.NewBase(component.Metadata{ID: component.NewID(component.KindTool, "a")},
		func(_ context.Context, _ *component.Input) (*component.Output, error) {
			ranA = true
			return component.NewOutput("A"), nil
		})
	branchB := component.NewBase(component.Metadata{ID: component.NewID(component.KindTool, "b")},
		func(_ context.Context, _ *component.Input) (*component.Output, error) {
			ranB = true
			return component.NewOutput("B"), nil
		})

	wf, err := NewConditional(ConditionalConfig{
		Name: "dispatch",
		Branches: []ConditionalBranch{
			{Name: "dev", Condition: SharedDataEquals{Key: "env", Value: "dev"}, Steps: []Step{{Name: "a", Custom: branchA}}},
			{Name: "prod", Condition: SharedDataEquals{Key: "env", Value: "prod"}, Steps: []Step{{Name: "b", Custom: branchB}}},
		},
	}, env.executor)
	require.NoError(t, err)

	result, err := wf.Run(ctx)
	require.NoError(t, err)

	assert.True(t, result.Success)
	assert.False(t, ranA, "dev branch must not run")
	assert.True(t, ranB, "prod branch must run")
	require.Len(t, result.Successful, 1)
	assert.Equal(t, "b", result.Successful[0].Name)
}

func TestConditionalDefaultBranch(t *testing.T) {
	env := newTestEnv(t)
	ranDefault := false
	fallback := component.NewBase(component.Metadata{ID: component.NewID(component.KindTool, "fallback")},
		func(_ context.Context, _ *component.Input) (*component.Output, error) {
			ranDefault = true
			return component.NewOutput("default"), nil
		})

	wf, err := NewConditional(ConditionalConfig{
		Name: "fallback",
		Branches: []ConditionalBranch{
			{Name: "never", Condition: Never{}, Steps: []Step{{Name: "x", Tool: "calculator"}}},
		},
		Default: &ConditionalBranch{Name: "default", Steps: []Step{{Name: "d", Custom: fallback}}},
	}, env.executor)
	require.NoError(t, err)

	result, err := wf.Run(context.Background())
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.True(t, ranDefault)
}

func TestConditionalUnionMode(t *testing.T) {
	env := newTestEnv(t)
	count := 0
	counter := func(name string) component.Component {
		return component.NewBase(component.Metadata{ID: component.NewID(component.KindTool, name)},
			func(_ context.Context, _ *component.Input) (*component.Output, error) {
				count++
				return component.NewOutput(name), nil
			})
	}

	wf, err := NewConditional(ConditionalConfig{
		Name:      "union",
		UnionMode: true,
		Branches: []ConditionalBranch{
			{Name: "one", Condition: Always{}, Steps: []Step{{Name: "s1", Custom: counter("c1")}}},
			{Name: "two", Condition: Always{}, Steps: []Step{{Name: "s2", Custom: counter("c2")}}},
			{Name: "off", Condition: Never{}, Steps: []Step{{Name: "s3", Custom: counter("c3")}}},
		},
	}, env.executor)
	require.NoError(t, err)

	result, err := wf.Run(context.Background())
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, 2, count)
}

func TestConditionalRejectsZeroBranches(t *testing.T) {
	env := newTestEnv(t)
	_, err := NewConditional(ConditionalConfig{Name: "empty"}, env.executor)
	assert.Error(t, err)
}
