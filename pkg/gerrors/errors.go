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

// Package gerrors defines the runtime error taxonomy.
//
// Every surfaced error carries a Kind that drives propagation policy:
// validation errors are never retried, provider and storage errors are
// retried per policy, cancellation is surfaced quietly, and so on.
package gerrors

import (
	"errors"
	"fmt"
)

// Kind classifies an error for propagation policy decisions.
type Kind string

const (
	KindValidation       Kind = "validation"
	KindConfiguration    Kind = "configuration"
	KindComponent        Kind = "component"
	KindProvider         Kind = "provider"
	KindTimeout          Kind = "timeout"
	KindResourceExceeded Kind = "resource_exceeded"
	KindCancelled        Kind = "cancelled"
	KindTransition       Kind = "transition"
	KindMigration        Kind = "migration"
	KindProtocol         Kind = "protocol"
	KindStorage          Kind = "storage"
)

// Error is the structured runtime error. All fields except Kind and
// Message are optional.
type Error struct {
	Kind          Kind
	Message       string
	ComponentID   string
	CorrelationID string
	Step          string
	Field         string
	Err           error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Kind, e.Message)
	if e.Field != "" {
		msg = fmt.Sprintf("%s (field %s)", msg, e.Field)
	}
	if e.Step != "" {
		msg = fmt.Sprintf("%s (step %s)", msg, e.Step)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New creates an error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Newf creates an error of the given kind with a formatted message.
func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap wraps an underlying error under the given kind.
func Wrap(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// Validation creates a validation error for a specific field.
func Validation(field, message string) *Error {
	return &Error{Kind: KindValidation, Message: message, Field: field}
}

// WithComponent tags the error with the offending component id.
func (e *Error) WithComponent(id string) *Error {
	e.ComponentID = id
	return e
}

// WithCorrelation tags the error with the active correlation id.
func (e *Error) WithCorrelation(id string) *Error {
	e.CorrelationID = id
	return e
}

// WithStep tags the error with the workflow step it surfaced from.
func (e *Error) WithStep(step string) *Error {
	e.Step = step
	return e
}

// KindOf returns the kind of err, or KindComponent when err carries none.
func KindOf(err error) Kind {
	var ge *Error
	if errors.As(err, &ge) {
		return ge.Kind
	}
	return KindComponent
}

// Is reports whether err is (or wraps) an Error of the given kind.
func Is(err error, kind Kind) bool {
	var ge *Error
	return errors.As(err, &ge) && ge.Kind == kind
}

// Retryable reports whether the kind may be retried per policy.
// Validation, resource and cancellation failures never retry.
func Retryable(err error) bool {
	switch KindOf(err) {
	case KindProvider, KindStorage, KindComponent:
		return true
	default:
		return false
	}
}
