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
	"errors"
	"fmt"
	"sync"

	"github.com/Masterminds/semver/v3"
)

// ErrNoPath reports that no migration path connects two versions.
var ErrNoPath = errors.New("no migration path between versions")

// TransformFunc rewrites one stored entry from one schema version to
// the next.
type TransformFunc func(entry map[string]any) (map[string]any, error)

// Migration is one registered pairwise edge.
type Migration struct {
	From      *semver.Version
	To        *semver.Version
	Transform TransformFunc

	// Risk grades the edge. When zero-valued it is derived from the
	// compatibility analysis of the two schemas at plan time.
	Risk RiskLevel
}

// Plan is an ordered path of migrations.
type Plan struct {
	From    *semver.Version
	To      *semver.Version
	Steps   []Migration
	MaxRisk RiskLevel
}

// Versions lists the versions the plan passes through, inclusive.
func (p *Plan) Versions() []*semver.Version {
	out := []*semver.Version{p.From}
	for _, step := range p.Steps {
		out = append(out, step.To)
	}
	return out
}

// Planner finds migration paths over registered pairwise edges,
// preferring the path of lowest maximum risk, then shortest length.
type Planner struct {
	registry *Registry

	mu    sync.RWMutex
	edges map[string][]Migration
}

// NewPlanner creates a planner over the given schema registry.
func NewPlanner(registry *Registry) *Planner {
	return &Planner{
		registry: registry,
		edges:    make(map[string][]Migration),
	}
}

// RegisterMigration adds a pairwise edge. Both endpoints must be
// registered schema versions.
func (p *Planner) RegisterMigration(m Migration) error {
	if m.From == nil || m.To == nil {
		return fmt.Errorf("migration requires both endpoints")
	}
	if m.Transform == nil {
		return fmt.Errorf("migration %s -> %s requires a transform", m.From, m.To)
	}
	fromSchema, ok := p.registry.Get(m.From)
	if !ok {
		return fmt.Errorf("unknown schema version %s", m.From)
	}
	toSchema, ok := p.registry.Get(m.To)
	if !ok {
		return fmt.Errorf("unknown schema version %s", m.To)
	}
	if m.Risk == "" {
		m.Risk = Check(fromSchema, toSchema).Risk
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.edges[m.From.String()] = append(p.edges[m.From.String()], m)
	return nil
}

// Plan returns the migration path from → to, or ErrNoPath.
func (p *Planner) Plan(from, to *semver.Version) (*Plan, error) {
	if from.Equal(to) {
		return &Plan{From: from, To: to, MaxRisk: RiskLow}, nil
	}

	p.mu.RLock()
	defer p.mu.RUnlock()

	// Lexicographic cost (max edge risk, hop count): for each risk
	// ceiling in ascending order, BFS over edges at or under it. The
	// first ceiling that connects wins, and BFS gives shortest length.
	for ceiling := 0; ceiling <= riskRank(RiskCritical); ceiling++ {
		if plan := p.bfs(from, to, ceiling); plan != nil {
			return plan, nil
		}
	}
	return nil, fmt.Errorf("%w: %s -> %s", ErrNoPath, from, to)
}

func (p *Planner) bfs(from, to *semver.Version, ceiling int) *Plan {
	type node struct {
		version *semver.Version
		path    []Migration
	}
	visited := map[string]bool{from.String(): true}
	queue := []node{{version: from}}

	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]

		for _, edge := range p.edges[current.version.String()] {
			if riskRank(edge.Risk) > ceiling {
				continue
			}
			key := edge.To.String()
			if visited[key] {
				continue
			}
			path := append(append([]Migration{}, current.path...), edge)
			if edge.To.Equal(to) {
				plan := &Plan{From: from, To: to, Steps: path, MaxRisk: RiskLow}
				for _, step := range path {
					plan.MaxRisk = maxRisk(plan.MaxRisk, step.Risk)
				}
				return plan
			}
			visited[key] = true
			queue = append(queue, node{version: edge.To, path: path})
		}
	}
	return nil
}
