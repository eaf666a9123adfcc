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

package workflow

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/kadirpekel/grimoire/pkg/agent"
	"github.com/kadirpekel/grimoire/pkg/component"
	"github.com/kadirpekel/grimoire/pkg/events"
	"github.com/kadirpekel/grimoire/pkg/gerrors"
	"github.com/kadirpekel/grimoire/pkg/hooks"
	"github.com/kadirpekel/grimoire/pkg/logger"
	"github.com/kadirpekel/grimoire/pkg/state"
)

// Executor is the shared step execution machinery for all engines. It
// wraps every step with hook boundaries, a child correlation context,
// retry, per-step timeout and shared-state bookkeeping.
type Executor struct {
	resolver Resolver
	hooks    *hooks.Executor
	bus      *events.Bus
	state    *state.Manager
	tracker  *events.CorrelationTracker
	retry    agent.RetryPolicy
	log      *slog.Logger
}

// ExecutorOption configures an Executor.
type ExecutorOption func(*Executor)

// WithHookExecutor enables hook boundaries around workflows and steps.
func WithHookExecutor(h *hooks.Executor) ExecutorOption {
	return func(e *Executor) { e.hooks = h }
}

// WithEventBus publishes workflow and step events.
func WithEventBus(bus *events.Bus) ExecutorOption {
	return func(e *Executor) { e.bus = bus }
}

// WithStateManager records step outputs in workflow-scoped state.
func WithStateManager(m *state.Manager) ExecutorOption {
	return func(e *Executor) { e.state = m }
}

// WithTracker registers child correlation contexts as they are created.
func WithTracker(t *events.CorrelationTracker) ExecutorOption {
	return func(e *Executor) { e.tracker = t }
}

// WithRetryPolicy sets the default retry policy for steps.
func WithRetryPolicy(p agent.RetryPolicy) ExecutorOption {
	return func(e *Executor) { e.retry = p }
}

// NewExecutor creates a step executor.
func NewExecutor(resolver Resolver, opts ...ExecutorOption) *Executor {
	e := &Executor{
		resolver: resolver,
		log:      logger.With("subsystem", "workflow"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// runMeta identifies the workflow a step belongs to. Parallel branches
// set prefix so their step outputs land under distinct state keys.
type runMeta struct {
	id     component.ID
	scope  state.Scope
	prefix string
}

// workflowStart runs the WorkflowStart hook chain. A Cancel result
// aborts the run.
func (e *Executor) workflowStart(ctx context.Context, meta runMeta, workflowType string) hooks.Result {
	if e.hooks == nil {
		return hooks.Continue()
	}
	hctx := hooks.NewContext(hooks.PointWorkflowStart, meta.id)
	hctx.WorkflowType = workflowType
	if cc, ok := events.FromContext(ctx); ok {
		hctx.WithCorrelation(cc.ID)
	}
	return e.hooks.Execute(ctx, hooks.PointWorkflowStart, hctx)
}

// workflowComplete runs the WorkflowComplete hook chain (best effort).
func (e *Executor) workflowComplete(ctx context.Context, meta runMeta, workflowType string, result *Result) {
	if e.hooks != nil {
		hctx := hooks.NewContext(hooks.PointWorkflowComplete, meta.id)
		hctx.WorkflowType = workflowType
		hctx.Set("success", result.Success)
		if cc, ok := events.FromContext(ctx); ok {
			hctx.WithCorrelation(cc.ID)
		}
		e.hooks.Execute(ctx, hooks.PointWorkflowComplete, hctx)
	}
	e.publish(ctx, "workflow.completed", meta, map[string]any{
		"workflow": meta.id.String(),
		"success":  result.Success,
		"duration": result.Duration.String(),
	})
}

// RunStep executes one step with hook boundaries, retry and timeout.
func (e *Executor) RunStep(ctx context.Context, meta runMeta, step Step, index int, stepTimeout time.Duration) StepResult {
	result := StepResult{StepID: uuid.New(), Name: step.Name, Index: index}
	start := time.Now()

	// Each step runs under a child of the workflow's correlation.
	if cc, ok := events.FromContext(ctx); ok {
		child := cc.CreateChild().WithMetadata("step", step.Name)
		if e.tracker != nil {
			e.tracker.RegisterContext(child)
		}
		ctx = events.ContextWith(ctx, child)
	}

	retry := e.retry
	if step.Retry != nil {
		retry = *step.Retry
	}

	switch hookResult := e.beforeStep(ctx, meta, step, index, retry); hookResult.Kind {
	case hooks.KindCancel:
		result.Error = fmt.Sprintf("step cancelled by hook: %s", hookResult.Reason)
		result.Duration = time.Since(start)
		e.afterStep(ctx, meta, step, index, &result)
		return result
	case hooks.KindSkip:
		result.Skipped = true
		result.Success = true
		result.Duration = time.Since(start)
		e.afterStep(ctx, meta, step, index, &result)
		return result
	}

	target, err := e.resolveTarget(step)
	if err != nil {
		result.Error = err.Error()
		result.Duration = time.Since(start)
		e.afterStep(ctx, meta, step, index, &result)
		e.publish(ctx, "workflow.step.failed", meta, map[string]any{"step": step.Name, "error": result.Error})
		return result
	}

	input := e.stepInput(step)
	attempts := retry.MaxRetries + 1
	if attempts < 1 {
		attempts = 1
	}

	var out *component.Output
	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		out, lastErr = e.invoke(ctx, target, input, stepTimeout, step.Timeout)
		if lastErr == nil && out.Success() {
			break
		}
		if lastErr == nil {
			message := "no output"
			if out != nil && out.Error != nil {
				message = out.Error.Message
			}
			lastErr = gerrors.Newf(gerrors.KindComponent, "step %s failed: %s", step.Name, message)
		}
		result.RetryCount = attempt
		if !gerrors.Retryable(lastErr) || attempt+1 >= attempts {
			break
		}
		result.RetryCount = attempt + 1
		select {
		case <-ctx.Done():
			result.Cancelled = true
			result.Error = ctx.Err().Error()
			result.Duration = time.Since(start)
			e.afterStep(ctx, meta, step, index, &result)
			return result
		case <-time.After(retry.Delay(attempt + 1)):
		}
	}

	result.Duration = time.Since(start)
	if lastErr != nil && (out == nil || !out.Success()) {
		if ctx.Err() != nil && gerrors.Is(lastErr, gerrors.KindCancelled) {
			result.Cancelled = true
		}
		result.Error = lastErr.Error()
		e.afterStep(ctx, meta, step, index, &result)
		e.publish(ctx, "workflow.step.failed", meta, map[string]any{"step": step.Name, "error": result.Error})
		return result
	}

	result.Success = true
	result.Output = out.Value()
	e.recordOutput(ctx, meta, index, result.Output)
	e.afterStep(ctx, meta, step, index, &result)
	e.publish(ctx, "workflow.step.completed", meta, map[string]any{"step": step.Name, "index": index})
	return result
}

// invoke runs the component once under the step's timeout override, or
// the workflow default when the step has none.
func (e *Executor) invoke(ctx context.Context, target component.Component, input *component.Input, defaultTimeout, override time.Duration) (*component.Output, error) {
	timeout := defaultTimeout
	if override > 0 {
		timeout = override
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	out, err := target.Execute(ctx, input)
	if err != nil && ctx.Err() == context.DeadlineExceeded {
		return nil, gerrors.Wrap(gerrors.KindTimeout, "step deadline exceeded", err)
	}
	return out, err
}

func (e *Executor) resolveTarget(step Step) (component.Component, error) {
	switch {
	case step.Custom != nil:
		return step.Custom, nil
	case step.Workflow != nil:
		return step.Workflow, nil
	case step.Agent != "":
		a, ok := e.resolver.ResolveAgent(step.Agent)
		if !ok {
			return nil, gerrors.Validation("agent", fmt.Sprintf("unknown agent %q", step.Agent)).WithStep(step.Name)
		}
		return a, nil
	case step.Tool != "":
		t, ok := e.resolver.ResolveTool(step.Tool)
		if !ok {
			return nil, gerrors.Validation("tool", fmt.Sprintf("unknown tool %q", step.Tool)).WithStep(step.Name)
		}
		return t, nil
	default:
		return nil, gerrors.Validation("step", "step names no target").WithStep(step.Name)
	}
}

func (e *Executor) stepInput(step Step) *component.Input {
	if step.Input != nil {
		return step.Input
	}
	return &component.Input{Parameters: step.Params}
}

// beforeStep runs the step-boundary hook chain, honoring Retry results
// up to the step's retry budget.
func (e *Executor) beforeStep(ctx context.Context, meta runMeta, step Step, index int, retry agent.RetryPolicy) hooks.Result {
	if e.hooks == nil {
		return hooks.Continue()
	}
	for attempt := 0; ; attempt++ {
		hctx := hooks.NewContext(hooks.PointBeforeStep, meta.id)
		hctx.Set("step", step.Name)
		hctx.Set("index", index)
		if cc, ok := events.FromContext(ctx); ok {
			hctx.WithCorrelation(cc.ID)
		}
		result := e.hooks.Execute(ctx, hooks.PointBeforeStep, hctx)
		if result.Kind != hooks.KindRetry || attempt >= retry.MaxRetries {
			return result
		}
		select {
		case <-ctx.Done():
			return hooks.Cancel(ctx.Err().Error())
		case <-time.After(result.Delay):
		}
	}
}

func (e *Executor) afterStep(ctx context.Context, meta runMeta, step Step, index int, result *StepResult) {
	if e.hooks == nil {
		return
	}
	hctx := hooks.NewContext(hooks.PointAfterStep, meta.id)
	hctx.Set("step", step.Name)
	hctx.Set("index", index)
	hctx.Set("success", result.Success)
	if cc, ok := events.FromContext(ctx); ok {
		hctx.WithCorrelation(cc.ID)
	}
	e.hooks.Execute(ctx, hooks.PointAfterStep, hctx)
}

// recordOutput writes the conventional step_<n>.output key into the
// workflow's shared state.
func (e *Executor) recordOutput(ctx context.Context, meta runMeta, index int, output any) {
	if e.state == nil {
		return
	}
	key := fmt.Sprintf("%sstep_%d.output", meta.prefix, index)
	if err := e.state.Set(ctx, meta.scope, key, output); err != nil {
		e.log.Warn("failed to record step output", "workflow", meta.id.String(), "key", key, "error", err)
	}
}

// SharedData snapshots the workflow's shared state as a plain map.
func (e *Executor) SharedData(meta runMeta) map[string]any {
	out := map[string]any{}
	if e.state == nil {
		return out
	}
	for _, entry := range e.state.Snapshot(meta.scope) {
		out[entry.Key] = entry.Value
	}
	return out
}

// SetShared writes a shared-state value under the workflow scope.
func (e *Executor) SetShared(ctx context.Context, meta runMeta, key string, value any) error {
	if e.state == nil {
		return nil
	}
	return e.state.Set(ctx, meta.scope, key, value)
}

func (e *Executor) publish(ctx context.Context, eventType string, meta runMeta, data map[string]any) {
	if e.bus == nil {
		return
	}
	ev := events.New(eventType, meta.id.String(), data)
	if cc, ok := events.FromContext(ctx); ok {
		ev.Correlated(cc)
	}
	_ = e.bus.Publish(context.WithoutCancel(ctx), ev)
}
