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
	"sync"
	"time"

	"github.com/google/cel-go/cel"
)

// defaultConditionTimeout guards a single custom condition evaluation.
const defaultConditionTimeout = 500 * time.Millisecond

// CELEvaluator evaluates custom condition expressions as CEL programs
// with compiled-program caching. Expressions see two variables:
//
//	shared_data  map of the workflow's shared state
//	step_result  map of step name to {success, failed, output}
//
// so the forms `shared_data.env == "prod"` and
// `step_result.build.success` are both valid CEL here.
type CELEvaluator struct {
	mu      sync.RWMutex
	cache   map[string]cel.Program
	env     *cel.Env
	timeout time.Duration
}

var defaultCELEvaluator = mustNewCELEvaluator(defaultConditionTimeout)

func mustNewCELEvaluator(timeout time.Duration) *CELEvaluator {
	e, err := NewCELEvaluator(timeout)
	if err != nil {
		panic(err)
	}
	return e
}

// NewCELEvaluator creates an evaluator with the given per-expression
// timeout. A non-positive timeout uses the default.
func NewCELEvaluator(timeout time.Duration) (*CELEvaluator, error) {
	env, err := cel.NewEnv(
		cel.Variable("shared_data", cel.DynType),
		cel.Variable("step_result", cel.DynType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL env: %w", err)
	}
	if timeout <= 0 {
		timeout = defaultConditionTimeout
	}
	return &CELEvaluator{
		cache:   make(map[string]cel.Program),
		env:     env,
		timeout: timeout,
	}, nil
}

// EvaluateExpression implements CustomEvaluator.
func (e *CELEvaluator) EvaluateExpression(ctx context.Context, expression string, ec *EvalContext) (bool, error) {
	prg, err := e.program(expression)
	if err != nil {
		return false, err
	}

	stepResults := make(map[string]any, len(ec.StepResults))
	for name, result := range ec.StepResults {
		stepResults[name] = map[string]any{
			"success": result.Success,
			"failed":  !result.Success,
			"output":  result.Output,
		}
	}
	activation := map[string]any{
		"shared_data": ec.SharedData,
		"step_result": stepResults,
	}

	type evalResult struct {
		value bool
		err   error
	}
	done := make(chan evalResult, 1)
	go func() {
		out, _, err := prg.Eval(activation)
		if err != nil {
			done <- evalResult{err: fmt.Errorf("CEL evaluation error: %w", err)}
			return
		}
		value, ok := out.Value().(bool)
		if !ok {
			done <- evalResult{err: fmt.Errorf("expression did not return boolean, got %T", out.Value())}
			return
		}
		done <- evalResult{value: value}
	}()

	timer := time.NewTimer(e.timeout)
	defer timer.Stop()
	select {
	case r := <-done:
		return r.value, r.err
	case <-timer.C:
		return false, fmt.Errorf("condition evaluation timed out after %s", e.timeout)
	case <-ctx.Done():
		return false, ctx.Err()
	}
}

func (e *CELEvaluator) program(expression string) (cel.Program, error) {
	e.mu.RLock()
	prg, ok := e.cache[expression]
	e.mu.RUnlock()
	if ok {
		return prg, nil
	}

	ast, issues := e.env.Compile(expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("CEL compilation error: %w", issues.Err())
	}
	prg, err := e.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL program: %w", err)
	}

	e.mu.Lock()
	e.cache[expression] = prg
	e.mu.Unlock()
	return prg, nil
}
