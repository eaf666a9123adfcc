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

package schema

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/Masterminds/semver/v3"

	"github.com/kadirpekel/grimoire/pkg/events"
	"github.com/kadirpekel/grimoire/pkg/gerrors"
	"github.com/kadirpekel/grimoire/pkg/logger"
	"github.com/kadirpekel/grimoire/pkg/storage"
)

// EngineConfig tunes one migration run.
type EngineConfig struct {
	// BatchSize bounds how many entries are rewritten per batch.
	BatchSize int

	// BatchTimeout bounds each batch.
	BatchTimeout time.Duration

	// DryRun analyzes without committing any write.
	DryRun bool

	// CreateBackup snapshots all affected entries before execution and
	// rolls back from the snapshot on any error.
	CreateBackup bool
}

// DefaultEngineConfig returns the engine tuning used when none is
// supplied.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		BatchSize:    100,
		BatchTimeout: 30 * time.Second,
		CreateBackup: true,
	}
}

// Report summarizes one migration run.
type Report struct {
	From          *semver.Version      `json:"from"`
	To            *semver.Version      `json:"to"`
	Path          []string             `json:"path"`
	Compatibility *CompatibilityResult `json:"compatibility,omitempty"`
	Entries       int                  `json:"entries"`
	Batches       int                  `json:"batches"`
	DryRun        bool                 `json:"dry_run"`
	RolledBack    bool                 `json:"rolled_back,omitempty"`
	Duration      time.Duration        `json:"duration"`
}

// Engine applies migration plans against stored entries, batch by
// batch, with optional dry-run and backup/rollback. Every event of a
// run is correlated under a single migration correlation id.
type Engine struct {
	backend storage.Backend
	planner *Planner
	bus     *events.Bus
	log     *slog.Logger
}

// NewEngine creates a migration engine.
func NewEngine(backend storage.Backend, planner *Planner, bus *events.Bus) *Engine {
	return &Engine{
		backend: backend,
		planner: planner,
		bus:     bus,
		log:     logger.With("subsystem", "migration"),
	}
}

// Migrate rewrites every entry under prefix from one schema version to
// another, following the planner's path.
func (e *Engine) Migrate(ctx context.Context, prefix string, from, to *semver.Version, cfg EngineConfig) (*Report, error) {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultEngineConfig().BatchSize
	}

	plan, err := e.planner.Plan(from, to)
	if err != nil {
		return nil, gerrors.Wrap(gerrors.KindMigration, "planning failed", err)
	}

	cc := events.NewCorrelationContext().Tag("migration")
	ctx = events.ContextWith(ctx, cc)
	e.publish(ctx, cc, "migration.started", map[string]any{
		"from": from.String(), "to": to.String(), "dry_run": cfg.DryRun,
	})

	start := time.Now()
	report := &Report{From: from, To: to, DryRun: cfg.DryRun}
	for _, v := range plan.Versions() {
		report.Path = append(report.Path, v.String())
	}
	if fromSchema, ok := e.planner.registry.Get(from); ok {
		if toSchema, ok := e.planner.registry.Get(to); ok {
			report.Compatibility = Check(fromSchema, toSchema)
		}
	}

	keys, err := e.backend.ListKeys(ctx, prefix)
	if err != nil {
		return nil, gerrors.Wrap(gerrors.KindMigration, "listing entries", err)
	}

	var backup map[string][]byte
	if cfg.CreateBackup && !cfg.DryRun {
		backup, err = e.backend.GetBatch(ctx, keys)
		if err != nil {
			return nil, gerrors.Wrap(gerrors.KindMigration, "creating backup", err)
		}
	}

	if err := e.applyBatches(ctx, keys, plan, cfg, report); err != nil {
		if backup != nil {
			if rbErr := e.backend.SetBatch(context.WithoutCancel(ctx), backup); rbErr != nil {
				e.log.Error("rollback failed", "error", rbErr)
			} else {
				report.RolledBack = true
			}
		}
		e.publish(ctx, cc, "migration.failed", map[string]any{
			"error": err.Error(), "rolled_back": report.RolledBack,
		})
		return report, err
	}

	report.Duration = time.Since(start)
	e.publish(ctx, cc, "migration.completed", map[string]any{
		"entries": report.Entries, "batches": report.Batches, "dry_run": cfg.DryRun,
	})
	return report, nil
}

func (e *Engine) applyBatches(ctx context.Context, keys []string, plan *Plan, cfg EngineConfig, report *Report) error {
	for offset := 0; offset < len(keys); offset += cfg.BatchSize {
		end := offset + cfg.BatchSize
		if end > len(keys) {
			end = len(keys)
		}
		if err := e.applyBatch(ctx, keys[offset:end], plan, cfg, report); err != nil {
			return err
		}
		report.Batches++
	}
	return nil
}

func (e *Engine) applyBatch(ctx context.Context, keys []string, plan *Plan, cfg EngineConfig, report *Report) error {
	if cfg.BatchTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.BatchTimeout)
		defer cancel()
	}

	entries, err := e.backend.GetBatch(ctx, keys)
	if err != nil {
		return gerrors.Wrap(gerrors.KindMigration, "reading batch", err)
	}

	rewritten := make(map[string][]byte, len(entries))
	for key, raw := range entries {
		var entry map[string]any
		if err := json.Unmarshal(raw, &entry); err != nil {
			// Non-object entries pass through untouched.
			continue
		}
		for _, step := range plan.Steps {
			entry, err = step.Transform(entry)
			if err != nil {
				return gerrors.Wrap(gerrors.KindMigration,
					"transform "+step.From.String()+" -> "+step.To.String()+" on "+key, err)
			}
		}
		out, err := json.Marshal(entry)
		if err != nil {
			return gerrors.Wrap(gerrors.KindMigration, "encoding "+key, err)
		}
		rewritten[key] = out
		report.Entries++
	}

	if cfg.DryRun {
		return nil
	}
	if err := e.backend.SetBatch(ctx, rewritten); err != nil {
		return gerrors.Wrap(gerrors.KindMigration, "writing batch", err)
	}
	return nil
}

func (e *Engine) publish(ctx context.Context, cc *events.CorrelationContext, eventType string, data map[string]any) {
	if e.bus == nil {
		return
	}
	_ = e.bus.Publish(context.WithoutCancel(ctx), cc.NewEvent(eventType, "migration", data))
}
