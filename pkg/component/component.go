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

// Package component defines the unified execution contract shared by
// tools, agents, workflows and system services.
//
// Every component exposes the same surface: Metadata, ValidateInput,
// Execute and HandleError. Execute is the public entry point; it runs
// input validation, the component's inner behavior, and routes failures
// through HandleError so callers always observe either a structured
// output or a classified error.
package component

import (
	"context"
	"errors"
	"time"

	"github.com/kadirpekel/grimoire/pkg/gerrors"
)

// Component is the uniform contract every addressable unit implements.
type Component interface {
	// Metadata returns the component's identity and description.
	Metadata() Metadata

	// ValidateInput checks the input against the component's contract
	// without executing it.
	ValidateInput(input *Input) error

	// Execute runs the component. It validates, executes the inner
	// behavior, and routes errors through HandleError.
	Execute(ctx context.Context, input *Input) (*Output, error)

	// HandleError may downgrade an execution error to a structured
	// failure output. Unrecovered errors are returned unchanged.
	HandleError(err error) (*Output, error)
}

// Metadata describes a component's identity.
type Metadata struct {
	ID          ID     `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Version     string `json:"version"`
}

// MediaRef references an out-of-band media payload by URI.
type MediaRef struct {
	URI      string `json:"uri"`
	MimeType string `json:"mime_type,omitempty"`
}

// Input is the uniform execution input envelope.
type Input struct {
	Text                string         `json:"text,omitempty"`
	Parameters          map[string]any `json:"parameters,omitempty"`
	Media               []MediaRef     `json:"media,omitempty"`
	ParentCorrelationID string         `json:"parent_correlation_id,omitempty"`
}

// NewInput creates an input with the given text payload.
func NewInput(text string) *Input {
	return &Input{Text: text, Parameters: map[string]any{}}
}

// WithParameter adds a named parameter and returns the input.
func (in *Input) WithParameter(name string, value any) *Input {
	if in.Parameters == nil {
		in.Parameters = map[string]any{}
	}
	in.Parameters[name] = value
	return in
}

// Usage carries execution metrics.
type Usage struct {
	PromptTokens     int           `json:"prompt_tokens,omitempty"`
	CompletionTokens int           `json:"completion_tokens,omitempty"`
	TotalTokens      int           `json:"total_tokens,omitempty"`
	ToolCalls        int           `json:"tool_calls,omitempty"`
	Duration         time.Duration `json:"duration,omitempty"`
}

// ErrorInfo is the serializable error descriptor carried on outputs.
type ErrorInfo struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
	Field   string `json:"field,omitempty"`
}

// Output is the uniform execution output envelope.
type Output struct {
	Text   string         `json:"text,omitempty"`
	Fields map[string]any `json:"fields,omitempty"`
	Usage  *Usage         `json:"usage,omitempty"`
	Error  *ErrorInfo     `json:"error,omitempty"`
}

// Success reports whether the output carries no error descriptor.
func (o *Output) Success() bool {
	return o != nil && o.Error == nil
}

// Value returns the output's principal value: the "data" field when
// set, the full field map when non-empty, otherwise the text payload.
func (o *Output) Value() any {
	if o == nil {
		return nil
	}
	if v, ok := o.Fields["data"]; ok {
		return v
	}
	if len(o.Fields) > 0 {
		return o.Fields
	}
	return o.Text
}

// NewOutput creates a plain text output.
func NewOutput(text string) *Output {
	return &Output{Text: text}
}

// FailureOutput converts an error into a structured failure output.
func FailureOutput(err error) *Output {
	info := &ErrorInfo{Kind: string(gerrors.KindOf(err)), Message: err.Error()}
	var ge *gerrors.Error
	if errors.As(err, &ge) {
		info.Message = ge.Message
		info.Field = ge.Field
	}
	return &Output{Error: info}
}

// RunFunc is the inner behavior a component supplies to Base.
type RunFunc func(ctx context.Context, input *Input) (*Output, error)

// Base implements the shared execution pipeline. Concrete components
// embed it and provide their inner behavior through Run.
type Base struct {
	meta Metadata

	// Run is the component's inner behavior, invoked after input
	// validation. Required.
	Run RunFunc

	// Validate optionally replaces the default input validation.
	Validate func(input *Input) error
}

// NewBase creates a Base with the given metadata and behavior.
func NewBase(meta Metadata, run RunFunc) *Base {
	return &Base{meta: meta, Run: run}
}

// Metadata implements Component.
func (b *Base) Metadata() Metadata {
	return b.meta
}

// ValidateInput implements Component. The default rejects nil input.
func (b *Base) ValidateInput(input *Input) error {
	if input == nil {
		return gerrors.Validation("input", "input is required")
	}
	if b.Validate != nil {
		return b.Validate(input)
	}
	return nil
}

// Execute implements Component. It validates the input, runs the inner
// behavior, and routes failures through HandleError.
func (b *Base) Execute(ctx context.Context, input *Input) (*Output, error) {
	if err := b.ValidateInput(input); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, gerrors.Wrap(gerrors.KindCancelled, "execution cancelled", err)
	}
	out, err := b.Run(ctx, input)
	if err != nil {
		return b.HandleError(err)
	}
	return out, nil
}

// HandleError implements Component. Component-kind errors are downgraded
// to structured failure outputs; everything else propagates tagged with
// the component id.
func (b *Base) HandleError(err error) (*Output, error) {
	if gerrors.Is(err, gerrors.KindComponent) {
		return FailureOutput(err), nil
	}
	var ge *gerrors.Error
	if errors.As(err, &ge) && ge.ComponentID == "" {
		ge.ComponentID = b.meta.ID.String()
	}
	return nil, err
}
