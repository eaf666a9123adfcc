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

// Package storage defines the key-value backend trait the runtime
// persists through, plus in-memory, Redis and SQL implementations.
//
// Session key routing (which keys are snapshots versus per-session
// state entries) is applied by the runtime through the Facade; backends
// only see opaque keys.
package storage

import "context"

// Backend is the storage trait consumed by the runtime.
type Backend interface {
	// Get returns the value for key, with ok=false when absent.
	Get(ctx context.Context, key string) (value []byte, ok bool, err error)

	// Set stores value under key.
	Set(ctx context.Context, key string, value []byte) error

	// Delete removes key, reporting whether it existed.
	Delete(ctx context.Context, key string) (bool, error)

	// Exists reports whether key is present.
	Exists(ctx context.Context, key string) (bool, error)

	// ListKeys returns all keys with the given prefix.
	ListKeys(ctx context.Context, prefix string) ([]string, error)

	// GetBatch returns the present subset of keys.
	GetBatch(ctx context.Context, keys []string) (map[string][]byte, error)

	// SetBatch stores all entries.
	SetBatch(ctx context.Context, entries map[string][]byte) error

	// SetTenantContext scopes subsequent operations to a tenant.
	// Implementations may treat this as a no-op.
	SetTenantContext(tenantID string)

	// Clear removes every key visible in the current tenant context.
	Clear(ctx context.Context) error
}
