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

package events

import (
	"context"
	"maps"
	"time"

	"github.com/google/uuid"
)

type correlationCtxKey struct{}

// ContextWith attaches a correlation context to ctx so downstream
// layers publish under the same id across async boundaries.
func ContextWith(ctx context.Context, cc *CorrelationContext) context.Context {
	return context.WithValue(ctx, correlationCtxKey{}, cc)
}

// FromContext returns the correlation context attached to ctx, if any.
func FromContext(ctx context.Context) (*CorrelationContext, bool) {
	cc, ok := ctx.Value(correlationCtxKey{}).(*CorrelationContext)
	return cc, ok
}

// CorrelationContext identifies a unit of work that may span many
// components and async boundaries. Child contexts carry a link back to
// their parent so receivers can reconstruct the tree.
type CorrelationContext struct {
	ID        uuid.UUID           `json:"id"`
	ParentID  *uuid.UUID          `json:"parent_id,omitempty"`
	Metadata  map[string]string   `json:"metadata,omitempty"`
	Tags      map[string]struct{} `json:"tags,omitempty"`
	StartedAt time.Time           `json:"started_at"`
}

// NewCorrelationContext creates a root correlation context.
func NewCorrelationContext() *CorrelationContext {
	return &CorrelationContext{
		ID:        uuid.New(),
		Metadata:  map[string]string{},
		Tags:      map[string]struct{}{},
		StartedAt: time.Now().UTC(),
	}
}

// CreateChild allocates a new context linked to this one.
func (c *CorrelationContext) CreateChild() *CorrelationContext {
	parent := c.ID
	child := NewCorrelationContext()
	child.ParentID = &parent
	maps.Copy(child.Metadata, c.Metadata)
	return child
}

// Tag adds a tag and returns the context.
func (c *CorrelationContext) Tag(tag string) *CorrelationContext {
	c.Tags[tag] = struct{}{}
	return c
}

// WithMetadata sets a metadata entry and returns the context.
func (c *CorrelationContext) WithMetadata(key, value string) *CorrelationContext {
	c.Metadata[key] = value
	return c
}

// NewEvent creates an event carrying this context's correlation id.
func (c *CorrelationContext) NewEvent(eventType, source string, data any) *UniversalEvent {
	return New(eventType, source, data).Correlated(c)
}
