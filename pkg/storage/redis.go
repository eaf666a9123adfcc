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
	"errors"
	"sync"

	"github.com/redis/go-redis/v9"

	"github.com/kadirpekel/grimoire/pkg/gerrors"
)

// Redis is a Backend over a Redis server. All keys live under a
// configurable namespace so several runtimes can share one database.
type Redis struct {
	client    redis.UniversalClient
	namespace string

	mu     sync.RWMutex
	tenant string
}

// NewRedis creates a Redis backend. Namespace defaults to "grimoire".
func NewRedis(client redis.UniversalClient, namespace string) *Redis {
	if namespace == "" {
		namespace = "grimoire"
	}
	return &Redis{client: client, namespace: namespace}
}

func (r *Redis) qualify(key string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.tenant == "" {
		return r.namespace + ":" + key
	}
	return r.namespace + ":" + r.tenant + ":" + key
}

func (r *Redis) Get(ctx context.Context, key string) ([]byte, bool, error) {
	v, err := r.client.Get(ctx, r.qualify(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, gerrors.Wrap(gerrors.KindStorage, "redis get", err)
	}
	return v, true, nil
}

func (r *Redis) Set(ctx context.Context, key string, value []byte) error {
	if err := r.client.Set(ctx, r.qualify(key), value, 0).Err(); err != nil {
		return gerrors.Wrap(gerrors.KindStorage, "redis set", err)
	}
	return nil
}

func (r *Redis) Delete(ctx context.Context, key string) (bool, error) {
	n, err := r.client.Del(ctx, r.qualify(key)).Result()
	if err != nil {
		return false, gerrors.Wrap(gerrors.KindStorage, "redis del", err)
	}
	return n > 0, nil
}

func (r *Redis) Exists(ctx context.Context, key string) (bool, error) {
	n, err := r.client.Exists(ctx, r.qualify(key)).Result()
	if err != nil {
		return false, gerrors.Wrap(gerrors.KindStorage, "redis exists", err)
	}
	return n > 0, nil
}

func (r *Redis) ListKeys(ctx context.Context, prefix string) ([]string, error) {
	qualified := r.qualify(prefix)
	strip := len(r.qualify(""))

	var keys []string
	iter := r.client.Scan(ctx, 0, qualified+"*", 0).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val()[strip:])
	}
	if err := iter.Err(); err != nil {
		return nil, gerrors.Wrap(gerrors.KindStorage, "redis scan", err)
	}
	return keys, nil
}

func (r *Redis) GetBatch(ctx context.Context, keys []string) (map[string][]byte, error) {
	if len(keys) == 0 {
		return map[string][]byte{}, nil
	}
	qualified := make([]string, len(keys))
	for i, k := range keys {
		qualified[i] = r.qualify(k)
	}
	values, err := r.client.MGet(ctx, qualified...).Result()
	if err != nil {
		return nil, gerrors.Wrap(gerrors.KindStorage, "redis mget", err)
	}
	out := make(map[string][]byte, len(keys))
	for i, v := range values {
		if v == nil {
			continue
		}
		if s, ok := v.(string); ok {
			out[keys[i]] = []byte(s)
		}
	}
	return out, nil
}

func (r *Redis) SetBatch(ctx context.Context, entries map[string][]byte) error {
	if len(entries) == 0 {
		return nil
	}
	pipe := r.client.Pipeline()
	for k, v := range entries {
		pipe.Set(ctx, r.qualify(k), v, 0)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return gerrors.Wrap(gerrors.KindStorage, "redis pipeline set", err)
	}
	return nil
}

func (r *Redis) SetTenantContext(tenantID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tenant = tenantID
}

// Clear removes every key under the current namespace and tenant. It
// deliberately never flushes the whole database.
func (r *Redis) Clear(ctx context.Context) error {
	keys, err := r.ListKeys(ctx, "")
	if err != nil {
		return err
	}
	if len(keys) == 0 {
		return nil
	}
	qualified := make([]string, len(keys))
	for i, k := range keys {
		qualified[i] = r.qualify(k)
	}
	if err := r.client.Del(ctx, qualified...).Err(); err != nil {
		return gerrors.Wrap(gerrors.KindStorage, "redis clear", err)
	}
	return nil
}

var _ Backend = (*Redis)(nil)
