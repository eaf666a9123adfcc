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

// Package state implements the scoped key-value state manager with
// write-through persistence and change notifications.
package state

import "fmt"

// ScopeKind is the addressing partition of state.
type ScopeKind string

const (
	ScopeGlobal   ScopeKind = "global"
	ScopeAgent    ScopeKind = "agent"
	ScopeSession  ScopeKind = "session"
	ScopeWorkflow ScopeKind = "workflow"
)

// Scope addresses a state partition. Global carries no id.
type Scope struct {
	Kind ScopeKind `json:"kind"`
	ID   string    `json:"id,omitempty"`
}

// Global addresses process-wide state.
func Global() Scope { return Scope{Kind: ScopeGlobal} }

// Agent addresses state owned by one agent.
func Agent(id string) Scope { return Scope{Kind: ScopeAgent, ID: id} }

// Session addresses state owned by one session.
func Session(id string) Scope { return Scope{Kind: ScopeSession, ID: id} }

// Workflow addresses state owned by one workflow run.
func Workflow(id string) Scope { return Scope{Kind: ScopeWorkflow, ID: id} }

// Prefix returns the storage key prefix for this scope. Session scopes
// produce "session:{id}:" so the storage façade routes entries to the
// per-session key space.
func (s Scope) Prefix() string {
	if s.Kind == ScopeGlobal {
		return "global:"
	}
	return fmt.Sprintf("%s:%s:", s.Kind, s.ID)
}

// StorageKey returns the backend key for a state entry.
func (s Scope) StorageKey(key string) string {
	return s.Prefix() + key
}

func (s Scope) String() string {
	if s.Kind == ScopeGlobal {
		return string(ScopeGlobal)
	}
	return fmt.Sprintf("%s(%s)", s.Kind, s.ID)
}
