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

package storage

import (
	"strings"

	"github.com/google/uuid"
)

// KeySpace classifies a storage key per the session routing rule:
// "session:{uuid}" is a session snapshot, "session:{uuid}:{rest}" is a
// state entry under that session, anything else is generic KV.
type KeySpace int

const (
	SpaceGeneric KeySpace = iota
	SpaceSessionSnapshot
	SpaceSessionState
)

func (k KeySpace) String() string {
	switch k {
	case SpaceSessionSnapshot:
		return "session_snapshot"
	case SpaceSessionState:
		return "session_state"
	default:
		return "generic"
	}
}

// SessionKey builds the snapshot key for a session id.
func SessionKey(id uuid.UUID) string {
	return "session:" + id.String()
}

// SessionStateKey builds a per-session state entry key.
func SessionStateKey(id uuid.UUID, key string) string {
	return "session:" + id.String() + ":" + key
}

// Route classifies a key. Keys that look session-shaped but carry a
// malformed uuid fall back to generic KV.
func Route(key string) (KeySpace, uuid.UUID) {
	rest, ok := strings.CutPrefix(key, "session:")
	if !ok {
		return SpaceGeneric, uuid.Nil
	}
	idPart, tail, hasTail := strings.Cut(rest, ":")
	id, err := uuid.Parse(idPart)
	if err != nil {
		return SpaceGeneric, uuid.Nil
	}
	if hasTail && tail != "" {
		return SpaceSessionState, id
	}
	return SpaceSessionSnapshot, id
}

// Facade wraps a Backend with the session routing rule. Session code
// addresses snapshots and state entries logically; only the façade
// knows the physical key shapes.
type Facade struct {
	Backend
}

// NewFacade wraps a backend.
func NewFacade(backend Backend) *Facade {
	return &Facade{Backend: backend}
}

// SessionSnapshotKeys lists every stored session snapshot key.
func (f *Facade) SessionSnapshotKeys(keys []string) []string {
	var out []string
	for _, key := range keys {
		if space, _ := Route(key); space == SpaceSessionSnapshot {
			out = append(out, key)
		}
	}
	return out
}
