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

// Package session manages durable sessions: named containers for
// component state, configuration and artifacts with a lifecycle of
// Active → Suspended → Completed → Archived.
package session

import (
	"time"

	"github.com/google/uuid"
)

// Status is the session lifecycle state.
type Status string

const (
	StatusActive    Status = "active"
	StatusSuspended Status = "suspended"
	StatusCompleted Status = "completed"
	StatusArchived  Status = "archived"
)

// statusTransitions holds the allowed lifecycle edges.
var statusTransitions = map[Status][]Status{
	StatusActive:    {StatusSuspended, StatusCompleted},
	StatusSuspended: {StatusActive, StatusCompleted},
	StatusCompleted: {StatusArchived},
	StatusArchived:  {},
}

// CanTransition reports whether the status edge is allowed.
func CanTransition(from, to Status) bool {
	for _, allowed := range statusTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// Metadata describes a session.
type Metadata struct {
	ID            uuid.UUID `json:"id"`
	Name          string    `json:"name,omitempty"`
	Status        Status    `json:"status"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
	RetentionDays int       `json:"retention_days,omitempty"`
}

// Snapshot is the serialized session written under session:{uuid}.
type Snapshot struct {
	Metadata    Metadata       `json:"metadata"`
	Config      map[string]any `json:"config,omitempty"`
	State       map[string]any `json:"state,omitempty"`
	ArtifactIDs []uuid.UUID    `json:"artifact_ids,omitempty"`
	Version     uint32         `json:"version"`
}

// Expired reports whether the session is past its retention window at
// the given instant. Zero retention never expires.
func (s *Snapshot) Expired(now time.Time) bool {
	if s.Metadata.RetentionDays <= 0 {
		return false
	}
	cutoff := s.Metadata.UpdatedAt.AddDate(0, 0, s.Metadata.RetentionDays)
	return now.After(cutoff)
}
