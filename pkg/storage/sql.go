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
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/kadirpekel/grimoire/pkg/gerrors"
)

// SQL is a Backend over database/sql. Tenant-tagged rows give the
// minimal multi-tenant isolation the runtime promises.
type SQL struct {
	db *sql.DB

	mu     sync.RWMutex
	tenant string
}

const sqlSchema = `
CREATE TABLE IF NOT EXISTS kv_entries (
	tenant     TEXT NOT NULL DEFAULT '',
	key        TEXT NOT NULL,
	value      BLOB NOT NULL,
	updated_at TIMESTAMP NOT NULL,
	PRIMARY KEY (tenant, key)
);
CREATE INDEX IF NOT EXISTS idx_kv_entries_prefix ON kv_entries (tenant, key);
`

// NewSQL creates a SQL backend and ensures its schema exists.
func NewSQL(db *sql.DB) (*SQL, error) {
	if _, err := db.Exec(sqlSchema); err != nil {
		return nil, gerrors.Wrap(gerrors.KindStorage, "create kv schema", err)
	}
	return &SQL{db: db}, nil
}

// OpenSQLite opens (or creates) a sqlite-backed store at path.
func OpenSQLite(path string) (*SQL, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, gerrors.Wrap(gerrors.KindStorage, "open sqlite", err)
	}
	return NewSQL(db)
}

func (s *SQL) tenantValue() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tenant
}

func (s *SQL) Get(ctx context.Context, key string) ([]byte, bool, error) {
	var value []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM kv_entries WHERE tenant = ? AND key = ?`,
		s.tenantValue(), key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, gerrors.Wrap(gerrors.KindStorage, "sql get", err)
	}
	return value, true, nil
}

func (s *SQL) Set(ctx context.Context, key string, value []byte) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO kv_entries (tenant, key, value, updated_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT (tenant, key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		s.tenantValue(), key, value, time.Now().UTC())
	if err != nil {
		return gerrors.Wrap(gerrors.KindStorage, "sql set", err)
	}
	return nil
}

func (s *SQL) Delete(ctx context.Context, key string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM kv_entries WHERE tenant = ? AND key = ?`, s.tenantValue(), key)
	if err != nil {
		return false, gerrors.Wrap(gerrors.KindStorage, "sql delete", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func (s *SQL) Exists(ctx context.Context, key string) (bool, error) {
	_, ok, err := s.Get(ctx, key)
	return ok, err
}

func (s *SQL) ListKeys(ctx context.Context, prefix string) ([]string, error) {
	pattern := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(prefix) + "%"
	rows, err := s.db.QueryContext(ctx,
		`SELECT key FROM kv_entries WHERE tenant = ? AND key LIKE ? ESCAPE '\'`,
		s.tenantValue(), pattern)
	if err != nil {
		return nil, gerrors.Wrap(gerrors.KindStorage, "sql list", err)
	}
	defer func() { _ = rows.Close() }()

	var keys []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, gerrors.Wrap(gerrors.KindStorage, "sql scan", err)
		}
		keys = append(keys, key)
	}
	if err := rows.Err(); err != nil {
		return nil, gerrors.Wrap(gerrors.KindStorage, "sql rows", err)
	}
	return keys, nil
}

func (s *SQL) GetBatch(ctx context.Context, keys []string) (map[string][]byte, error) {
	out := make(map[string][]byte, len(keys))
	for _, key := range keys {
		v, ok, err := s.Get(ctx, key)
		if err != nil {
			return nil, err
		}
		if ok {
			out[key] = v
		}
	}
	return out, nil
}

func (s *SQL) SetBatch(ctx context.Context, entries map[string][]byte) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return gerrors.Wrap(gerrors.KindStorage, "sql begin", err)
	}
	now := time.Now().UTC()
	tenant := s.tenantValue()
	for k, v := range entries {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO kv_entries (tenant, key, value, updated_at) VALUES (?, ?, ?, ?)
			 ON CONFLICT (tenant, key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
			tenant, k, v, now); err != nil {
			_ = tx.Rollback()
			return gerrors.Wrap(gerrors.KindStorage, fmt.Sprintf("sql batch set %s", k), err)
		}
	}
	if err := tx.Commit(); err != nil {
		return gerrors.Wrap(gerrors.KindStorage, "sql commit", err)
	}
	return nil
}

func (s *SQL) SetTenantContext(tenantID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tenant = tenantID
}

func (s *SQL) Clear(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM kv_entries WHERE tenant = ?`, s.tenantValue())
	if err != nil {
		return gerrors.Wrap(gerrors.KindStorage, "sql clear", err)
	}
	return nil
}

// Close releases the underlying database handle.
func (s *SQL) Close() error {
	return s.db.Close()
}

var _ Backend = (*SQL)(nil)
