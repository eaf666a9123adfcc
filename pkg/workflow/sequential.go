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
	"time"

	"github.com/kadirpekel/grimoire/pkg/component"
	"github.com/kadirpekel/grimoire/pkg/hooks"
)

// SequentialConfig declares a sequential workflow.
type SequentialConfig struct {
	Name  string
	Steps []Step

	// Strategy decides what happens after a step fails. Defaults to
	// StrategyFailFast.
	Strategy ErrorStrategy

	// StepTimeout bounds each step unless the step overrides it.
	StepTimeout time.Duration

	// Timeout bounds the whole run.
	Timeout time.Duration
}

// Sequential executes its steps in declaration order.
type Sequential struct {
	*component.Base
	engine

	cfg SequentialConfig
}

// NewSequential builds a sequential workflow. Zero steps are rejected.
func NewSequential(cfg SequentialConfig, executor *Executor) (*Sequential, error) {
	if cfg.Name == "" {
		return nil, fmt.Errorf("workflow requires a name")
	}
	if len(cfg.Steps) == 0 {
		return nil, fmt.Errorf("workflow %q has no steps", cfg.Name)
	}
	for _, step := range cfg.Steps {
		if err := step.validate(); err != nil {
			return nil, err
		}
	}
	if cfg.Strategy == "" {
		cfg.Strategy = StrategyFailFast
	}

	w := &Sequential{
		engine: newEngine(cfg.Name, "sequential", executor),
		cfg:    cfg,
	}
	meta := component.Metadata{
		ID:          w.info.id,
		Name:        cfg.Name,
		Description: "sequential workflow",
	}
	w.Base = component.NewBase(meta, func(ctx context.Context, _ *component.Input) (*component.Output, error) {
		result, err := w.Run(ctx)
		if err != nil {
			return nil, err
		}
		return resultOutput(result), nil
	})
	return w, nil
}

// Run executes the workflow and returns its aggregate result.
func (w *Sequential) Run(ctx context.Context) (*Result, error) {
	ctx, err := w.begin(ctx)
	if err != nil {
		return nil, err
	}
	defer w.finish(ctx)

	start := time.Now()
	result := &Result{WorkflowID: w.info.id.String(), Name: w.cfg.Name}

	if hr := w.executor.workflowStart(ctx, w.info, w.wfType); hr.Kind != hooks.KindContinue {
		result.Error = fmt.Sprintf("workflow cancelled by hook: %s", hr.Reason)
		result.Duration = time.Since(start)
		return result, nil
	}

	runCtx := ctx
	var cancel context.CancelFunc
	var deadline time.Time
	if w.cfg.Timeout > 0 {
		deadline = start.Add(w.cfg.Timeout)
		runCtx, cancel = context.WithDeadline(ctx, deadline)
		defer cancel()
	}

	for index, step := range w.cfg.Steps {
		stepResult := w.executor.RunStep(runCtx, w.info, step, index, w.cfg.StepTimeout)

		if stepResult.Success {
			result.Successful = append(result.Successful, stepResult)
		} else {
			result.Failed = append(result.Failed, stepResult)
			if !deadline.IsZero() && (runCtx.Err() == context.DeadlineExceeded || time.Now().After(deadline)) {
				result.TimedOut = true
				result.Error = fmt.Sprintf("workflow exceeded deadline of %s", w.cfg.Timeout)
				goto done
			}
			switch w.cfg.Strategy {
			case StrategyContinue:
				// Record and advance.
			case StrategyStopOnRequired:
				if !step.Optional {
					result.StoppedEarly = index < len(w.cfg.Steps)-1
					result.Error = fmt.Sprintf("required step %q failed at index %d", step.Name, index)
					goto done
				}
			default: // fail fast
				result.StoppedEarly = index < len(w.cfg.Steps)-1
				result.Error = fmt.Sprintf("step %q failed at index %d", step.Name, index)
				goto done
			}
		}

		if !deadline.IsZero() && time.Now().After(deadline) {
			result.TimedOut = true
			result.Error = fmt.Sprintf("workflow exceeded deadline of %s", w.cfg.Timeout)
			goto done
		}
	}

done:
	result.Duration = time.Since(start)
	result.Success = w.computeSuccess(result)
	w.executor.workflowComplete(ctx, w.info, w.wfType, result)
	return result, nil
}

func (w *Sequential) computeSuccess(result *Result) bool {
	if result.TimedOut {
		return false
	}
	switch w.cfg.Strategy {
	case StrategyContinue:
		return !result.StoppedEarly
	case StrategyStopOnRequired:
		return result.Error == ""
	default:
		return len(result.Failed) == 0
	}
}
