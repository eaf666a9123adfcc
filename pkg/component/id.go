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

package component

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Kind partitions the component namespace.
type Kind string

const (
	KindAgent    Kind = "agent"
	KindTool     Kind = "tool"
	KindWorkflow Kind = "workflow"
	KindSystem   Kind = "system"
)

// ID is the stable (kind, name) identity of a component. Equality and
// hashing use the full tuple.
type ID struct {
	Kind Kind   `json:"kind"`
	Name string `json:"name"`
}

// NewID creates an id from a kind and name.
func NewID(kind Kind, name string) ID {
	return ID{Kind: kind, Name: name}
}

// GenerateID creates an id with a short unique suffix appended to the
// given prefix, e.g. "worker-3f9a2c1d".
func GenerateID(kind Kind, prefix string) ID {
	suffix := strings.Split(uuid.NewString(), "-")[0]
	return ID{Kind: kind, Name: fmt.Sprintf("%s-%s", prefix, suffix)}
}

// ParseID parses the "kind:name" form produced by String.
func ParseID(s string) (ID, error) {
	kind, name, ok := strings.Cut(s, ":")
	if !ok || name == "" {
		return ID{}, fmt.Errorf("malformed component id %q", s)
	}
	switch Kind(kind) {
	case KindAgent, KindTool, KindWorkflow, KindSystem:
		return ID{Kind: Kind(kind), Name: name}, nil
	default:
		return ID{}, fmt.Errorf("unknown component kind %q", kind)
	}
}

func (id ID) String() string {
	return string(id.Kind) + ":" + id.Name
}

// IsZero reports whether the id is unset.
func (id ID) IsZero() bool {
	return id.Kind == "" && id.Name == ""
}
