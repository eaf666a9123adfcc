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

// Package events provides the runtime event bus and correlation tracking.
//
// Every significant change in the runtime is published as a
// UniversalEvent. Subscribers receive events matching a dot-separated
// glob pattern; each subscriber owns a bounded queue and slow consumers
// drop their oldest events rather than stalling publishers.
package events

import (
	"time"

	"github.com/google/uuid"
)

// UniversalEvent is the uniform event envelope carried on the bus.
type UniversalEvent struct {
	ID            uuid.UUID  `json:"id"`
	CorrelationID uuid.UUID  `json:"correlation_id"`
	ParentID      *uuid.UUID `json:"parent_id,omitempty"`
	Type          string     `json:"type"`
	Timestamp     time.Time  `json:"timestamp"`
	Source        string     `json:"source"`
	Data          any        `json:"data,omitempty"`
	Sequence      uint64     `json:"sequence"`
}

// New creates an event of the given dotted type. The sequence number is
// assigned by the bus at publish time.
func New(eventType, source string, data any) *UniversalEvent {
	return &UniversalEvent{
		ID:        uuid.New(),
		Type:      eventType,
		Timestamp: time.Now().UTC(),
		Source:    source,
		Data:      data,
	}
}

// Correlated returns the event tagged with the given correlation context.
func (e *UniversalEvent) Correlated(cc *CorrelationContext) *UniversalEvent {
	if cc != nil {
		e.CorrelationID = cc.ID
		e.ParentID = cc.ParentID
	}
	return e
}
