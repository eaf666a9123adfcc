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

// Package config defines the kernel's startup configuration surface.
package config

import (
	"fmt"
	"time"
)

// Config is the root configuration document.
type Config struct {
	Engine      EngineConfig              `yaml:"engine"`
	Providers   map[string]ProviderConfig `yaml:"providers"`
	Tools       ToolsConfig               `yaml:"tools"`
	Runtime     RuntimeConfig             `yaml:"runtime"`
	Persistence PersistenceConfig         `yaml:"persistence"`
	Sessions    SessionConfig             `yaml:"sessions"`
	Kernel      KernelConfig              `yaml:"kernel"`
	Logging     LoggingConfig             `yaml:"logging"`
}

// EngineConfig selects the default workflow engine and its limits.
type EngineConfig struct {
	Default         string        `yaml:"default"`
	MaxConcurrency  int           `yaml:"max_concurrency"`
	StepTimeout     time.Duration `yaml:"step_timeout"`
	WorkflowTimeout time.Duration `yaml:"workflow_timeout"`
}

// ProviderConfig binds a named provider entry.
type ProviderConfig struct {
	Type    string `yaml:"type"`
	Model   string `yaml:"model"`
	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url"`
}

// ToolsConfig is the tools allow-list with per-tool config.
type ToolsConfig struct {
	Allow   []string                  `yaml:"allow"`
	Configs map[string]map[string]any `yaml:"configs"`
}

// RuntimeConfig bounds script execution.
type RuntimeConfig struct {
	MaxConcurrentScripts int           `yaml:"max_concurrent_scripts"`
	ScriptTimeout        time.Duration `yaml:"script_timeout"`
	AllowFilesystem      bool          `yaml:"allow_filesystem"`
	AllowNetwork         bool          `yaml:"allow_network"`
}

// PersistenceConfig selects and tunes the storage backend.
type PersistenceConfig struct {
	Backend       string `yaml:"backend"` // memory, sqlite, redis
	Path          string `yaml:"path"`
	RedisAddr     string `yaml:"redis_addr"`
	BackupDir     string `yaml:"backup_dir"`
	Compression   int    `yaml:"compression"`
	RetentionDays int    `yaml:"retention_days"`
	MaxBackups    int    `yaml:"max_backups"`
}

// SessionConfig bounds the session store.
type SessionConfig struct {
	MaxSessions  int           `yaml:"max_sessions"`
	MaxArtifacts int           `yaml:"max_artifacts"`
	Timeout      time.Duration `yaml:"timeout"`
}

// KernelConfig configures the protocol surface.
type KernelConfig struct {
	HMACKey       string        `yaml:"hmac_key"`
	ShellAddr     string        `yaml:"shell_addr"`
	IOPubAddr     string        `yaml:"iopub_addr"`
	HeartbeatAddr string        `yaml:"heartbeat_addr"`
	REPL          REPLConfig    `yaml:"repl"`
	Debug         DebugConfig   `yaml:"debug"`
	ReadTimeout   time.Duration `yaml:"read_timeout"`
}

// REPLConfig configures the optional REPL server.
type REPLConfig struct {
	Enabled       bool          `yaml:"enabled"`
	Addr          string        `yaml:"addr"`
	IdleTimeout   time.Duration `yaml:"idle_timeout"`
	ReapInterval  time.Duration `yaml:"reap_interval"`
	MaxSessions   int           `yaml:"max_sessions"`
	ProtocolHello string        `yaml:"protocol_hello"`
}

// DebugConfig configures the debug protocol.
type DebugConfig struct {
	Enabled        bool `yaml:"enabled"`
	MaxEventsPerSec int `yaml:"max_events_per_sec"`
}

// LoggingConfig configures the process logger.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// SetDefaults fills unset fields with their defaults.
func (c *Config) SetDefaults() {
	if c.Engine.Default == "" {
		c.Engine.Default = "sequential"
	}
	if c.Engine.MaxConcurrency == 0 {
		c.Engine.MaxConcurrency = 4
	}
	if c.Engine.StepTimeout == 0 {
		c.Engine.StepTimeout = time.Minute
	}
	if c.Engine.WorkflowTimeout == 0 {
		c.Engine.WorkflowTimeout = 10 * time.Minute
	}
	if c.Runtime.MaxConcurrentScripts == 0 {
		c.Runtime.MaxConcurrentScripts = 4
	}
	if c.Runtime.ScriptTimeout == 0 {
		c.Runtime.ScriptTimeout = 5 * time.Minute
	}
	if c.Persistence.Backend == "" {
		c.Persistence.Backend = "memory"
	}
	if c.Persistence.Compression == 0 {
		c.Persistence.Compression = 6
	}
	if c.Persistence.MaxBackups == 0 {
		c.Persistence.MaxBackups = 5
	}
	if c.Sessions.MaxSessions == 0 {
		c.Sessions.MaxSessions = 128
	}
	if c.Sessions.MaxArtifacts == 0 {
		c.Sessions.MaxArtifacts = 64
	}
	if c.Sessions.Timeout == 0 {
		c.Sessions.Timeout = time.Hour
	}
	if c.Kernel.ReadTimeout == 0 {
		c.Kernel.ReadTimeout = 30 * time.Second
	}
	if c.Kernel.REPL.IdleTimeout == 0 {
		c.Kernel.REPL.IdleTimeout = 15 * time.Minute
	}
	if c.Kernel.REPL.ReapInterval == 0 {
		c.Kernel.REPL.ReapInterval = time.Minute
	}
	if c.Kernel.REPL.MaxSessions == 0 {
		c.Kernel.REPL.MaxSessions = 32
	}
	if c.Kernel.Debug.MaxEventsPerSec == 0 {
		c.Kernel.Debug.MaxEventsPerSec = 100
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "console"
	}
}

// Validate applies the closed validation rule set. Violations are
// configuration errors, fatal at startup.
func (c *Config) Validate() error {
	switch c.Engine.Default {
	case "sequential", "parallel", "conditional":
	default:
		return fmt.Errorf("engine.default must be sequential, parallel or conditional, got %q", c.Engine.Default)
	}
	if c.Engine.MaxConcurrency < 1 {
		return fmt.Errorf("engine.max_concurrency must be positive, got %d", c.Engine.MaxConcurrency)
	}
	for name, p := range c.Providers {
		switch p.Type {
		case "echo", "openai", "anthropic", "ollama":
		default:
			return fmt.Errorf("provider %q has unknown type %q", name, p.Type)
		}
	}
	switch c.Persistence.Backend {
	case "memory", "sqlite", "redis":
	default:
		return fmt.Errorf("persistence.backend must be memory, sqlite or redis, got %q", c.Persistence.Backend)
	}
	if c.Persistence.Backend == "sqlite" && c.Persistence.Path == "" {
		return fmt.Errorf("persistence.path required for sqlite backend")
	}
	if c.Persistence.Backend == "redis" && c.Persistence.RedisAddr == "" {
		return fmt.Errorf("persistence.redis_addr required for redis backend")
	}
	if c.Persistence.Compression < 1 || c.Persistence.Compression > 9 {
		return fmt.Errorf("persistence.compression must be within 1..9, got %d", c.Persistence.Compression)
	}
	if c.Persistence.RetentionDays < 0 {
		return fmt.Errorf("persistence.retention_days must not be negative")
	}
	if c.Runtime.MaxConcurrentScripts < 1 {
		return fmt.Errorf("runtime.max_concurrent_scripts must be positive")
	}
	if c.Runtime.ScriptTimeout <= 0 {
		return fmt.Errorf("runtime.script_timeout must be positive")
	}
	if c.Sessions.MaxSessions < 1 {
		return fmt.Errorf("sessions.max_sessions must be positive")
	}
	if c.Sessions.MaxArtifacts < 1 {
		return fmt.Errorf("sessions.max_artifacts must be positive")
	}
	if key := c.Kernel.HMACKey; key != "" && len(key) < 32 {
		return fmt.Errorf("kernel.hmac_key must be at least 32 characters")
	}
	if c.Kernel.Debug.MaxEventsPerSec < 1 {
		return fmt.Errorf("kernel.debug.max_events_per_sec must be positive")
	}
	return nil
}
