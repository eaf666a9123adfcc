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

// Package workflow implements the sequential, parallel and conditional
// orchestration engines over tools and agents.
package workflow

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/kadirpekel/grimoire/pkg/agent"
	"github.com/kadirpekel/grimoire/pkg/component"
	"github.com/kadirpekel/grimoire/pkg/tool"
)

// ErrorStrategy decides what a workflow does after a step fails.
type ErrorStrategy string

const (
	// StrategyFailFast stops the workflow at the first failure.
	StrategyFailFast ErrorStrategy = "fail_fast"

	// StrategyContinue records the failure and advances.
	StrategyContinue ErrorStrategy = "continue"

	// StrategyStopOnRequired tolerates failures of optional steps and
	// stops only when a required step fails.
	StrategyStopOnRequired ErrorStrategy = "stop_on_required"
)

// Step is one unit of workflow work. Exactly one of Tool, Agent,
// Workflow or Custom selects the target.
type Step struct {
	Name string

	// Tool invokes a registered tool with Params.
	Tool   string
	Params map[string]any

	// Agent invokes a registered agent with Input.
	Agent string
	Input *component.Input

	// Workflow invokes a nested workflow component.
	Workflow component.Component

	// Custom invokes an arbitrary component.
	Custom component.Component

	// Optional steps may fail without failing the workflow under
	// StrategyStopOnRequired.
	Optional bool

	// Retry overrides the workflow's retry policy for this step.
	Retry *agent.RetryPolicy

	// Timeout overrides the workflow's per-step timeout.
	Timeout time.Duration
}

func (s Step) validate() error {
	targets := 0
	if s.Tool != "" {
		targets++
	}
	if s.Agent != "" {
		targets++
	}
	if s.Workflow != nil {
		targets++
	}
	if s.Custom != nil {
		targets++
	}
	// Zero targets build fine and fail at execution with a validation
	// error, so misconfigured steps surface as step failures rather
	// than construction errors.
	if targets > 1 {
		return fmt.Errorf("step %q must name exactly one target, has %d", s.Name, targets)
	}
	return nil
}

// StepResult records one step invocation.
type StepResult struct {
	StepID     uuid.UUID     `json:"step_id"`
	Name       string        `json:"name"`
	Index      int           `json:"index"`
	Success    bool          `json:"success"`
	Skipped    bool          `json:"skipped,omitempty"`
	Cancelled  bool          `json:"cancelled,omitempty"`
	Output     any           `json:"output,omitempty"`
	Error      string        `json:"error,omitempty"`
	Duration   time.Duration `json:"duration"`
	RetryCount int           `json:"retry_count"`
}

// BranchResult records one parallel branch.
type BranchResult struct {
	Name      string        `json:"name"`
	Optional  bool          `json:"optional,omitempty"`
	Success   bool          `json:"success"`
	Skipped   bool          `json:"skipped,omitempty"`
	Cancelled bool          `json:"cancelled,omitempty"`
	Steps     []StepResult  `json:"steps"`
	Duration  time.Duration `json:"duration"`
}

// Result aggregates one workflow run.
type Result struct {
	WorkflowID   string         `json:"workflow_id"`
	Name         string         `json:"name"`
	Success      bool           `json:"success"`
	Successful   []StepResult   `json:"successful_steps"`
	Failed       []StepResult   `json:"failed_steps"`
	Branches     []BranchResult `json:"branches,omitempty"`
	Duration     time.Duration  `json:"duration"`
	StoppedEarly bool           `json:"stopped_early,omitempty"`
	TimedOut     bool           `json:"timed_out,omitempty"`
	Error        string         `json:"error,omitempty"`
}

func newStepID() uuid.UUID { return uuid.New() }

// Resolver looks up step targets by name. The kernel wires this to its
// tool and agent registries.
type Resolver interface {
	ResolveTool(name string) (tool.Tool, bool)
	ResolveAgent(name string) (agent.Agent, bool)
}

// RegistryResolver is a Resolver over the standard registries.
type RegistryResolver struct {
	Tools  *tool.Registry
	Agents map[string]agent.Agent
}

func (r RegistryResolver) ResolveTool(name string) (tool.Tool, bool) {
	if r.Tools == nil {
		return nil, false
	}
	return r.Tools.Get(name)
}

func (r RegistryResolver) ResolveAgent(name string) (agent.Agent, bool) {
	a, ok := r.Agents[name]
	return a, ok
}
