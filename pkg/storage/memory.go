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
	"context"
	"strings"
	"sync"
)

// Memory is an in-process Backend for tests and ephemeral runs.
type Memory struct {
	mu     sync.RWMutex
	data   map[string][]byte
	tenant string
}

// NewMemory creates an empty in-memory backend.
func NewMemory() *Memory {
	return &Memory{data: make(map[string][]byte)}
}

func (m *Memory) qualify(key string) string {
	if m.tenant == "" {
		return key
	}
	return m.tenant + "/" + key
}

func (m *Memory) Get(_ context.Context, key string) ([]byte, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.data[m.qualify(key)]
	if !ok {
		return nil, false, nil
	}
	out := make([]byte, len(v))
	copy(out, v)
	return out, true, nil
}

func (m *Memory) Set(_ context.Context, key string, value []byte) error {
	stored := make([]byte, len(value))
	copy(stored, value)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[m.qualify(key)] = stored
	return nil
}

func (m *Memory) Delete(_ context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	qualified := m.qualify(key)
	_, ok := m.data[qualified]
	delete(m.data, qualified)
	return ok, nil
}

func (m *Memory) Exists(ctx context.Context, key string) (bool, error) {
	_, ok, err := m.Get(ctx, key)
	return ok, err
}

func (m *Memory) ListKeys(_ context.Context, prefix string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	qualifiedPrefix := m.qualify(prefix)
	strip := len(m.qualify(""))
	var keys []string
	for k := range m.data {
		if strings.HasPrefix(k, qualifiedPrefix) {
			keys = append(keys, k[strip:])
		}
	}
	return keys, nil
}

func (m *Memory) GetBatch(ctx context.Context, keys []string) (map[string][]byte, error) {
	out := make(map[string][]byte, len(keys))
	for _, key := range keys {
		v, ok, err := m.Get(ctx, key)
		if err != nil {
			return nil, err
		}
		if ok {
			out[key] = v
		}
	}
	return out, nil
}

func (m *Memory) SetBatch(ctx context.Context, entries map[string][]byte) error {
	for k, v := range entries {
		if err := m.Set(ctx, k, v); err != nil {
			return err
		}
	}
	return nil
}

func (m *Memory) SetTenantContext(tenantID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tenant = tenantID
}

func (m *Memory) Clear(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.tenant == "" {
		m.data = make(map[string][]byte)
		return nil
	}
	prefix := m.tenant + "/"
	for k := range m.data {
		if strings.HasPrefix(k, prefix) {
			delete(m.data, k)
		}
	}
	return nil
}
