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

// ConditionalBranch couples a condition with the steps to run when it
// holds.
type ConditionalBranch struct {
	Name      string
	Condition Condition
	Steps     []Step
}

// ConditionalConfig declares a conditional workflow.
type ConditionalConfig struct {
	Name     string
	Branches []ConditionalBranch

	// Default runs when no branch condition matched. Optional.
	Default *ConditionalBranch

	// UnionMode executes every branch whose condition holds instead of
	// only the first.
	UnionMode bool

	// StepTimeout bounds each step of the selected branches.
	StepTimeout time.Duration

	// EvalTimeout guards each condition evaluation.
	EvalTimeout time.Duration
}

// Conditional evaluates branch conditions in declaration order and
// executes the first match (or every match in union mode).
type Conditional struct {
	*component.Base
	engine

	cfg ConditionalConfig
}

// NewConditional builds a conditional workflow. Zero branches are
// rejected.
func NewConditional(cfg ConditionalConfig, executor *Executor) (*Conditional, error) {
	if cfg.Name == "" {
		return nil, fmt.Errorf("workflow requires a name")
	}
	if len(cfg.Branches) == 0 {
		return nil, fmt.Errorf("workflow %q has no branches", cfg.Name)
	}
	for _, branch := range cfg.Branches {
		if branch.Condition == nil {
			return nil, fmt.Errorf("branch %q has no condition", branch.Name)
		}
		if len(branch.Steps) == 0 {
			return nil, fmt.Errorf("branch %q has no steps", branch.Name)
		}
		for _, step := range branch.Steps {
			if err := step.validate(); err != nil {
				return nil, err
			}
		}
	}

	w := &Conditional{
		engine: newEngine(cfg.Name, "conditional", executor),
		cfg:    cfg,
	}
	meta := component.Metadata{
		ID:          w.info.id,
		Name:        cfg.Name,
		Description: "conditional workflow",
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

// Run evaluates branches in declaration order and executes the matches.
func (w *Conditional) Run(ctx context.Context) (*Result, error) {
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

	ec := &EvalContext{
		SharedData:  w.executor.SharedData(w.info),
		StepResults: map[string]StepResult{},
	}

	matched := false
	failed := false
	for _, branch := range w.cfg.Branches {
		ok, err := w.evaluate(ctx, branch.Condition, ec)
		if err != nil {
			result.Error = fmt.Sprintf("branch %q condition failed: %v", branch.Name, err)
			failed = true
			break
		}
		if !ok {
			continue
		}
		matched = true
		if !w.runBranchSteps(ctx, branch, result, ec) {
			failed = true
		}
		if !w.cfg.UnionMode {
			break
		}
	}

	if !matched && !failed && w.cfg.Default != nil {
		if !w.runBranchSteps(ctx, *w.cfg.Default, result, ec) {
			failed = true
		}
		matched = true
	}

	result.Duration = time.Since(start)
	result.Success = !failed && len(result.Failed) == 0
	if !matched && result.Error == "" {
		// No branch fired and no default exists: vacuous success.
		result.Success = !failed
	}
	w.executor.workflowComplete(ctx, w.info, w.wfType, result)
	return result, nil
}

func (w *Conditional) evaluate(ctx context.Context, condition Condition, ec *EvalContext) (bool, error) {
	if w.cfg.EvalTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, w.cfg.EvalTimeout)
		defer cancel()
	}
	return condition.Evaluate(ctx, ec)
}

// runBranchSteps executes a branch's steps sequentially, feeding each
// result back into the evaluation context for later branches.
func (w *Conditional) runBranchSteps(ctx context.Context, branch ConditionalBranch, result *Result, ec *EvalContext) bool {
	success := true
	for index, step := range branch.Steps {
		stepResult := w.executor.RunStep(ctx, w.info, step, index, w.cfg.StepTimeout)
		if step.Name != "" {
			ec.StepResults[step.Name] = stepResult
		}
		if stepResult.Success {
			result.Successful = append(result.Successful, stepResult)
		} else {
			result.Failed = append(result.Failed, stepResult)
			success = false
			break
		}
	}
	return success
}
