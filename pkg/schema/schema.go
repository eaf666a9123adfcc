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

// Package schema governs persisted-state schemas: an append-only
// versioned registry, compatibility analysis between versions, and
// planned, reversible migrations.
package schema

import (
	"fmt"
	"sort"
	"sync"

	"github.com/Masterminds/semver/v3"
)

// FieldSchema describes one persisted field.
type FieldSchema struct {
	Type       string   `json:"type"`
	Required   bool     `json:"required"`
	Default    any      `json:"default,omitempty"`
	Validators []string `json:"validators,omitempty"`
}

// StateSchema is one registered schema version.
type StateSchema struct {
	Version      *semver.Version        `json:"version"`
	Fields       map[string]FieldSchema `json:"fields"`
	Dependencies []*semver.Version      `json:"dependencies,omitempty"`
}

// NewStateSchema creates a schema for the given version string.
func NewStateSchema(version string, fields map[string]FieldSchema) (*StateSchema, error) {
	v, err := semver.NewVersion(version)
	if err != nil {
		return nil, fmt.Errorf("invalid schema version %q: %w", version, err)
	}
	if fields == nil {
		fields = map[string]FieldSchema{}
	}
	return &StateSchema{Version: v, Fields: fields}, nil
}

// Registry is the append-only schema version registry. Registered
// versions are never mutated; new versions must grow monotonically.
type Registry struct {
	mu       sync.RWMutex
	versions map[string]*StateSchema
	ordered  []*semver.Version
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{versions: make(map[string]*StateSchema)}
}

// Register adds a schema version. Duplicates and non-monotonic versions
// are rejected.
func (r *Registry) Register(s *StateSchema) error {
	if s == nil || s.Version == nil {
		return fmt.Errorf("schema requires a version")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	key := s.Version.String()
	if _, exists := r.versions[key]; exists {
		return fmt.Errorf("schema version %s already registered", key)
	}
	if len(r.ordered) > 0 {
		latest := r.ordered[len(r.ordered)-1]
		if !s.Version.GreaterThan(latest) {
			return fmt.Errorf("schema version %s does not grow past %s", key, latest)
		}
	}
	r.versions[key] = s
	r.ordered = append(r.ordered, s.Version)
	return nil
}

// Get returns the schema registered for a version.
func (r *Registry) Get(version *semver.Version) (*StateSchema, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.versions[version.String()]
	return s, ok
}

// Versions returns all registered versions in ascending order.
func (r *Registry) Versions() []*semver.Version {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*semver.Version, len(r.ordered))
	copy(out, r.ordered)
	sort.Sort(semver.Collection(out))
	return out
}

// Latest returns the highest registered version, if any.
func (r *Registry) Latest() (*StateSchema, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if len(r.ordered) == 0 {
		return nil, false
	}
	return r.versions[r.ordered[len(r.ordered)-1].String()], true
}
