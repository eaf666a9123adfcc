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

// Package tool implements schema-validated tools on top of the
// component contract.
package tool

import (
	"context"
	"fmt"

	"github.com/kadirpekel/grimoire/pkg/component"
	"github.com/kadirpekel/grimoire/pkg/registry"
)

// Category groups tools for discovery and allow-listing.
type Category string

const (
	CategoryUtility    Category = "utility"
	CategoryData       Category = "data"
	CategoryWeb        Category = "web"
	CategoryFilesystem Category = "filesystem"
	CategorySystem     Category = "system"
)

// SecurityLevel gates which tools an agent may call.
type SecurityLevel string

const (
	SecuritySafe       SecurityLevel = "safe"
	SecurityRestricted SecurityLevel = "restricted"
	SecurityPrivileged SecurityLevel = "privileged"
)

// Tool extends the component contract with schema and security surface.
type Tool interface {
	component.Component

	Category() Category
	SecurityLevel() SecurityLevel
	Schema() *Schema
}

// Handler is a tool's behavior over validated, default-filled
// parameters.
type Handler func(ctx context.Context, params map[string]any) (*component.Output, error)

// Config declares a tool.
type Config struct {
	Name        string
	Description string
	Version     string
	Category    Category
	Security    SecurityLevel
	Schema      *Schema

	// FailFast stops schema validation at the first violation instead
	// of collecting all of them.
	FailFast bool

	Handler Handler
}

// BaseTool is the standard Tool implementation.
type BaseTool struct {
	*component.Base

	category Category
	security SecurityLevel
	schema   *Schema
	failFast bool
	handler  Handler
}

// New creates a tool from its config.
func New(cfg Config) (*BaseTool, error) {
	if cfg.Name == "" {
		return nil, fmt.Errorf("tool requires a name")
	}
	if cfg.Handler == nil {
		return nil, fmt.Errorf("tool %s requires a handler", cfg.Name)
	}
	if cfg.Schema == nil {
		cfg.Schema = &Schema{}
	}
	if cfg.Category == "" {
		cfg.Category = CategoryUtility
	}
	if cfg.Security == "" {
		cfg.Security = SecuritySafe
	}

	t := &BaseTool{
		category: cfg.Category,
		security: cfg.Security,
		schema:   cfg.Schema,
		failFast: cfg.FailFast,
		handler:  cfg.Handler,
	}
	meta := component.Metadata{
		ID:          component.NewID(component.KindTool, cfg.Name),
		Name:        cfg.Name,
		Description: cfg.Description,
		Version:     cfg.Version,
	}
	t.Base = component.NewBase(meta, t.run)
	t.Base.Validate = t.validateParams
	return t, nil
}

func (t *BaseTool) validateParams(input *component.Input) error {
	return t.schema.Validate(input.Parameters, t.failFast)
}

func (t *BaseTool) run(ctx context.Context, input *component.Input) (*component.Output, error) {
	params := t.schema.ApplyDefaults(input.Parameters)
	return t.handler(ctx, params)
}

func (t *BaseTool) Category() Category           { return t.category }
func (t *BaseTool) SecurityLevel() SecurityLevel { return t.security }
func (t *BaseTool) Schema() *Schema              { return t.schema }

// Registry holds named tools with an optional security ceiling applied
// at lookup time.
type Registry struct {
	*registry.BaseRegistry[Tool]
}

// NewRegistry creates an empty tool registry.
func NewRegistry() *Registry {
	return &Registry{BaseRegistry: registry.NewBaseRegistry[Tool]()}
}

// RegisterTool registers a tool under its metadata name.
func (r *Registry) RegisterTool(t Tool) error {
	return r.Register(t.Metadata().Name, t)
}

// GetAllowed returns the tool only when its security level is within
// the ceiling: safe < restricted < privileged.
func (r *Registry) GetAllowed(name string, ceiling SecurityLevel) (Tool, bool) {
	t, ok := r.Get(name)
	if !ok {
		return nil, false
	}
	if securityRank(t.SecurityLevel()) > securityRank(ceiling) {
		return nil, false
	}
	return t, true
}

func securityRank(level SecurityLevel) int {
	switch level {
	case SecuritySafe:
		return 0
	case SecurityRestricted:
		return 1
	default:
		return 2
	}
}
