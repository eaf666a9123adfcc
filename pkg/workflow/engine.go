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

	"github.com/kadirpekel/grimoire/pkg/component"
	"github.com/kadirpekel/grimoire/pkg/events"
	"github.com/kadirpekel/grimoire/pkg/lifecycle"
	"github.com/kadirpekel/grimoire/pkg/state"
)

// engine carries the pieces every workflow engine shares: identity,
// lifecycle machine, step executor and workflow-scoped state.
type engine struct {
	info     runMeta
	machine  *lifecycle.Machine
	executor *Executor
	wfType   string
}

func newEngine(name, wfType string, executor *Executor) engine {
	id := component.NewID(component.KindWorkflow, name)
	return engine{
		info:     runMeta{id: id, scope: state.Workflow(name)},
		machine:  lifecycle.NewMachine(id),
		executor: executor,
		wfType:   wfType,
	}
}

// Machine exposes the engine's lifecycle machine.
func (e *engine) Machine() *lifecycle.Machine {
	return e.machine
}

// begin moves the machine into Running, initializing it on first use,
// and guarantees a correlation context on the returned ctx.
func (e *engine) begin(ctx context.Context) (context.Context, error) {
	if e.machine.State() == lifecycle.StateUninitialized {
		if err := e.machine.Attempt(ctx, lifecycle.StateInitializing); err != nil {
			return ctx, err
		}
		if err := e.machine.Attempt(ctx, lifecycle.StateReady); err != nil {
			return ctx, err
		}
	}
	if err := e.machine.Attempt(ctx, lifecycle.StateRunning); err != nil {
		return ctx, err
	}

	if _, ok := events.FromContext(ctx); !ok {
		cc := NewRunContext(e.executor)
		ctx = events.ContextWith(ctx, cc)
	}
	return ctx, nil
}

// finish returns the machine to Ready (best effort).
func (e *engine) finish(ctx context.Context) {
	if e.machine.State() == lifecycle.StateRunning {
		_ = e.machine.Attempt(ctx, lifecycle.StateReady)
	}
}

// NewRunContext creates and registers a fresh root correlation context.
func NewRunContext(executor *Executor) *events.CorrelationContext {
	cc := events.NewCorrelationContext()
	if executor != nil && executor.tracker != nil {
		executor.tracker.RegisterContext(cc)
	}
	return cc
}

// resultOutput converts a workflow result into the component output
// envelope.
func resultOutput(result *Result) *component.Output {
	out := &component.Output{
		Text:   result.Name,
		Fields: map[string]any{"result": result},
	}
	if !result.Success {
		out.Error = &component.ErrorInfo{Kind: "component", Message: result.Error}
		if out.Error.Message == "" {
			out.Error.Message = "workflow failed"
		}
	}
	return out
}
