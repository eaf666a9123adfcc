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
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"time"

	"github.com/sony/gobreaker"

	"github.com/kadirpekel/grimoire/pkg/events"
	"github.com/kadirpekel/grimoire/pkg/logger"
)

// Executor drives hook chains. A single Context is processed by one
// executor invocation at a time; distinct contexts run concurrently.
type Executor struct {
	registry *Registry
	bus      *events.Bus
	breakers *breakerSet
	log      *slog.Logger
}

// ExecutorOption configures an Executor.
type ExecutorOption func(*executorOptions)

type executorOptions struct {
	bus *events.Bus
	cfg BreakerConfig
}

// WithBus publishes breaker transitions and hook errors on the bus.
func WithBus(bus *events.Bus) ExecutorOption {
	return func(o *executorOptions) { o.bus = bus }
}

// WithBreakerConfig overrides the default circuit breaker tuning.
func WithBreakerConfig(cfg BreakerConfig) ExecutorOption {
	return func(o *executorOptions) { o.cfg = cfg }
}

// NewExecutor creates a hook executor over a registry.
func NewExecutor(registry *Registry, opts ...ExecutorOption) *Executor {
	options := executorOptions{cfg: DefaultBreakerConfig()}
	for _, opt := range opts {
		opt(&options)
	}

	e := &Executor{
		registry: registry,
		bus:      options.bus,
		log:      logger.With("subsystem", "hooks"),
	}
	e.breakers = newBreakerSet(options.cfg, e.publishStateChange)
	return e
}

// Execute runs the hook chain registered at point against hctx.
//
// Continue results advance the chain; Modify merges into the pattern
// context and advances; the first Cancel, Skip or Retry stops the chain
// and is returned to the caller. Breaker-open hooks are skipped and
// treated as Continue.
func (e *Executor) Execute(ctx context.Context, point Point, hctx *Context) Result {
	hooks := e.registry.Snapshot(point)

	for _, hook := range hooks {
		if err := ctx.Err(); err != nil {
			return Cancel(err.Error())
		}
		if hook.Predicate != nil && !hook.Predicate(hctx) {
			continue
		}

		result, err := e.runOne(ctx, hook, hctx)
		if err != nil {
			if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
				e.breakers.record(hook.Name, 0, false, true)
				continue
			}
			e.log.Warn("hook failed", "hook", hook.Name, "point", string(point), "error", err)
			e.publishHookError(hctx, hook.Name, point, err)
			if e.registry.FailClosed(point) {
				return Cancel(fmt.Sprintf("hook %s failed: %v", hook.Name, err))
			}
			continue
		}

		switch result.Kind {
		case KindContinue:
		case KindModify:
			maps.Copy(hctx.PatternContext, result.Modified)
		default:
			return result
		}
	}
	return Continue()
}

// runOne executes a single hook through its circuit breaker, with panic
// capture and latency accounting.
func (e *Executor) runOne(ctx context.Context, hook *Hook, hctx *Context) (Result, error) {
	cb := e.breakers.breaker(hook.Name)
	cfg := e.breakers.cfg

	out, err := cb.Execute(func() (any, error) {
		start := time.Now()
		result, panicErr := e.invoke(ctx, hook, hctx)
		dur := time.Since(start)

		slow := cfg.MaxLatency > 0 && dur > cfg.MaxLatency
		e.breakers.record(hook.Name, dur, panicErr != nil || slow, false)
		if panicErr != nil {
			return Result{}, panicErr
		}
		if slow {
			// Count the overrun against the breaker but keep the result.
			return Result{}, &slowHookError{result: result, budget: cfg.MaxLatency, took: dur}
		}
		return result, nil
	})
	if err != nil {
		var slow *slowHookError
		if errors.As(err, &slow) {
			return slow.result, nil
		}
		return Result{}, err
	}
	return out.(Result), nil
}

type slowHookError struct {
	result Result
	budget time.Duration
	took   time.Duration
}

func (e *slowHookError) Error() string {
	return fmt.Sprintf("hook exceeded latency budget %s (took %s)", e.budget, e.took)
}

func (e *Executor) invoke(ctx context.Context, hook *Hook, hctx *Context) (result Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("hook %s panicked: %v", hook.Name, r)
		}
	}()
	return hook.Action(ctx, hctx), nil
}

// Stats returns a snapshot of per-hook running statistics.
func (e *Executor) Stats() map[string]HookStats {
	return e.breakers.snapshot()
}

func (e *Executor) publishStateChange(hookName string, from, to gobreaker.State) {
	e.log.Info("hook breaker state changed",
		"hook", hookName, "from", from.String(), "to", to.String())
	if e.bus == nil {
		return
	}
	_ = e.bus.Publish(context.Background(), events.New("hook.circuit.state", "hooks", map[string]any{
		"hook": hookName,
		"from": from.String(),
		"to":   to.String(),
	}))
}

func (e *Executor) publishHookError(hctx *Context, hookName string, point Point, err error) {
	if e.bus == nil {
		return
	}
	ev := events.New("hook.error", "hooks", map[string]any{
		"hook":      hookName,
		"point":     string(point),
		"component": hctx.ComponentID.String(),
		"error":     err.Error(),
	})
	ev.CorrelationID = hctx.CorrelationID
	_ = e.bus.Publish(context.Background(), ev)
}
