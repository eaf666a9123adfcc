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
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/kadirpekel/grimoire/pkg/component"
	"github.com/kadirpekel/grimoire/pkg/hooks"
)

// Branch is one independent ordered step list of a parallel workflow.
type Branch struct {
	Name     string
	Steps    []Step
	Optional bool
}

// ParallelConfig declares a fork-join workflow.
type ParallelConfig struct {
	Name     string
	Branches []Branch

	// MaxConcurrency bounds how many branches run at once. Must be
	// positive.
	MaxConcurrency int

	// FailFast stops scheduling new branches once a required branch
	// fails; in-flight branches are cancelled cooperatively.
	FailFast bool

	// Timeout bounds the whole run including the join.
	Timeout time.Duration

	// StepTimeout bounds each step within a branch.
	StepTimeout time.Duration
}

// Parallel runs its branches concurrently and joins on all of them.
type Parallel struct {
	*component.Base
	engine

	cfg ParallelConfig
}

// NewParallel builds a parallel workflow. Zero branches, empty branches
// and non-positive concurrency are rejected.
func NewParallel(cfg ParallelConfig, executor *Executor) (*Parallel, error) {
	if cfg.Name == "" {
		return nil, fmt.Errorf("workflow requires a name")
	}
	if len(cfg.Branches) == 0 {
		return nil, fmt.Errorf("workflow %q has no branches", cfg.Name)
	}
	if cfg.MaxConcurrency <= 0 {
		return nil, fmt.Errorf("workflow %q requires positive max_concurrency, got %d", cfg.Name, cfg.MaxConcurrency)
	}
	for _, branch := range cfg.Branches {
		if len(branch.Steps) == 0 {
			return nil, fmt.Errorf("branch %q has no steps", branch.Name)
		}
		for _, step := range branch.Steps {
			if err := step.validate(); err != nil {
				return nil, err
			}
		}
	}

	w := &Parallel{
		engine: newEngine(cfg.Name, "parallel", executor),
		cfg:    cfg,
	}
	meta := component.Metadata{
		ID:          w.info.id,
		Name:        cfg.Name,
		Description: "parallel workflow",
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

// Run executes all branches with fork-join semantics. Branch results
// arrive in completion order.
func (w *Parallel) Run(ctx context.Context) (*Result, error) {
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
	if w.cfg.Timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, w.cfg.Timeout)
	} else {
		runCtx, cancel = context.WithCancel(ctx)
	}
	defer cancel()

	var (
		sem        = semaphore.NewWeighted(int64(w.cfg.MaxConcurrency))
		failSignal atomic.Bool
		mu         sync.Mutex
		wg         sync.WaitGroup
	)

	for _, branch := range w.cfg.Branches {
		wg.Add(1)
		go func(branch Branch) {
			defer wg.Done()
			branchResult := w.runBranch(runCtx, branch, sem, &failSignal, cancel)
			mu.Lock()
			result.Branches = append(result.Branches, branchResult)
			mu.Unlock()
		}(branch)
	}
	wg.Wait()

	result.Duration = time.Since(start)
	result.TimedOut = w.cfg.Timeout > 0 && runCtx.Err() == context.DeadlineExceeded
	result.StoppedEarly = w.cfg.FailFast && failSignal.Load()

	success := !result.TimedOut
	for _, branch := range result.Branches {
		for _, stepResult := range branch.Steps {
			if stepResult.Success {
				result.Successful = append(result.Successful, stepResult)
			} else {
				result.Failed = append(result.Failed, stepResult)
			}
		}
		if !branch.Optional && !branch.Success {
			success = false
		}
	}
	result.Success = success
	if !success && result.Error == "" {
		switch {
		case result.TimedOut:
			result.Error = fmt.Sprintf("workflow exceeded deadline of %s", w.cfg.Timeout)
		default:
			result.Error = "one or more required branches failed"
		}
	}

	w.executor.workflowComplete(ctx, w.info, w.wfType, result)
	return result, nil
}

// runBranch executes one branch's steps sequentially under a
// concurrency permit.
func (w *Parallel) runBranch(ctx context.Context, branch Branch, sem *semaphore.Weighted, failSignal *atomic.Bool, cancelAll context.CancelFunc) BranchResult {
	start := time.Now()
	result := BranchResult{Name: branch.Name, Optional: branch.Optional}

	// Observe the fail signal before taking a permit.
	if w.cfg.FailFast && failSignal.Load() {
		result.Skipped = true
		result.Duration = time.Since(start)
		return result
	}
	if err := sem.Acquire(ctx, 1); err != nil {
		result.Cancelled = true
		result.Duration = time.Since(start)
		return result
	}
	defer sem.Release(1)

	if w.cfg.FailFast && failSignal.Load() {
		result.Skipped = true
		result.Duration = time.Since(start)
		return result
	}

	success := true
	for index, step := range branch.Steps {
		if ctx.Err() != nil {
			result.Cancelled = true
			result.Steps = append(result.Steps, StepResult{
				StepID:    newStepID(),
				Name:      step.Name,
				Index:     index,
				Cancelled: true,
				Error:     ctx.Err().Error(),
			})
			success = false
			break
		}
		branchMeta := w.info
		branchMeta.prefix = branch.Name + "."
		stepResult := w.executor.RunStep(ctx, branchMeta, step, index, w.cfg.StepTimeout)
		result.Steps = append(result.Steps, stepResult)
		if !stepResult.Success {
			success = false
			break
		}
	}

	result.Success = success
	result.Duration = time.Since(start)
	for _, stepResult := range result.Steps {
		if stepResult.Cancelled {
			result.Cancelled = true
		}
	}

	if !success && !branch.Optional {
		failSignal.Store(true)
		if w.cfg.FailFast {
			cancelAll()
		}
	}
	return result
}
