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

// Package hooks implements the ordered hook pipeline that intercepts
// every significant runtime transition.
//
// Hooks registered at a named point run in strict priority order, with
// registration order breaking ties. The first non-Continue result stops
// the chain and is returned to the caller, which decides whether the
// guarded action proceeds.
package hooks

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/kadirpekel/grimoire/pkg/component"
)

// Point names a location in the runtime where hooks are invoked.
type Point string

const (
	PointBeforeExecute    Point = "before_execute"
	PointAfterExecute     Point = "after_execute"
	PointOnError          Point = "on_error"
	PointBeforeTransition Point = "before_transition"
	PointAfterTransition  Point = "after_transition"
	PointWorkflowStart    Point = "workflow_start"
	PointWorkflowComplete Point = "workflow_complete"
	PointBeforeStep       Point = "before_step"
	PointAfterStep        Point = "after_step"
	PointStateChange      Point = "state_change"
	PointSharedDataAccess Point = "shared_data_access"
	PointSessionStart     Point = "session_start"
	PointSessionEnd       Point = "session_end"
	PointSessionSave      Point = "session_save"
	PointSessionRestore   Point = "session_restore"
	PointBeforeShutdown   Point = "before_shutdown"
)

// ResultKind tags a hook's outcome.
type ResultKind int

const (
	KindContinue ResultKind = iota
	KindCancel
	KindModify
	KindSkip
	KindRetry
)

func (k ResultKind) String() string {
	switch k {
	case KindContinue:
		return "continue"
	case KindCancel:
		return "cancel"
	case KindModify:
		return "modify"
	case KindSkip:
		return "skip"
	case KindRetry:
		return "retry"
	default:
		return "unknown"
	}
}

// Result is the tagged outcome a hook returns.
type Result struct {
	Kind     ResultKind
	Reason   string
	Modified map[string]any
	Delay    time.Duration
}

// Continue lets the chain proceed.
func Continue() Result { return Result{Kind: KindContinue} }

// Cancel aborts the guarded action with a reason.
func Cancel(reason string) Result { return Result{Kind: KindCancel, Reason: reason} }

// Modify merges values into the pattern context and proceeds.
func Modify(values map[string]any) Result { return Result{Kind: KindModify, Modified: values} }

// Skip stops the chain and omits the guarded action.
func Skip() Result { return Result{Kind: KindSkip} }

// Retry asks the caller to suspend and re-enter the point after delay.
func Retry(delay time.Duration) Result { return Result{Kind: KindRetry, Delay: delay} }

// Context carries the state a hook chain operates on. Modify results
// merge into PatternContext as the chain advances.
type Context struct {
	Point          Point
	ComponentID    component.ID
	WorkflowType   string
	Metadata       map[string]string
	PatternContext map[string]any
	CorrelationID  uuid.UUID
}

// NewContext creates a hook context for a point and component.
func NewContext(point Point, id component.ID) *Context {
	return &Context{
		Point:          point,
		ComponentID:    id,
		Metadata:       map[string]string{},
		PatternContext: map[string]any{},
	}
}

// WithCorrelation sets the correlation id and returns the context.
func (c *Context) WithCorrelation(id uuid.UUID) *Context {
	c.CorrelationID = id
	return c
}

// Set stores a pattern context value and returns the context.
func (c *Context) Set(key string, value any) *Context {
	c.PatternContext[key] = value
	return c
}

// Get reads a pattern context value.
func (c *Context) Get(key string) (any, bool) {
	v, ok := c.PatternContext[key]
	return v, ok
}

// Predicate filters hook invocation per context.
type Predicate func(hctx *Context) bool

// Action is a hook's behavior. Panics are caught at the executor
// boundary and treated as Continue unless the point is fail-closed.
type Action func(ctx context.Context, hctx *Context) Result

// Hook couples an action with its ordering and filter.
type Hook struct {
	Name      string
	Priority  int // lower runs first
	Predicate Predicate
	Action    Action
}
