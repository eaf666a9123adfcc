package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kadirpekel/grimoire/pkg/gerrors"
)

func TestDefaultsAreValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "sequential", cfg.Engine.Default)
	assert.Equal(t, "memory", cfg.Persistence.Backend)
	assert.Equal(t, 6, cfg.Persistence.Compression)
}

func TestParseYAMLWithEnvExpansion(t *testing.T) {
	t.Setenv("GRIMOIRE_TEST_MODEL", "echo-large")

	raw := []byte(`
engine:
  default: parallel
  max_concurrency: 8
providers:
  primary:
    type: echo
    model: ${GRIMOIRE_TEST_MODEL}
  fallback:
    type: echo
    model: ${GRIMOIRE_TEST_MISSING:-echo-small}
runtime:
  script_timeout: 30s
sessions:
  max_sessions: 10
`)

	cfg, err := Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, "parallel", cfg.Engine.Default)
	assert.Equal(t, 8, cfg.Engine.MaxConcurrency)
	assert.Equal(t, "echo-large", cfg.Providers["primary"].Model)
	assert.Equal(t, "echo-small", cfg.Providers["fallback"].Model)
	assert.Equal(t, 30*time.Second, cfg.Runtime.ScriptTimeout)
	assert.Equal(t, 10, cfg.Sessions.MaxSessions)
}

func TestValidationRules(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad default engine", func(c *Config) { c.Engine.Default = "dag" }},
		{"negative concurrency", func(c *Config) { c.Engine.MaxConcurrency = -1 }},
		{"unknown provider type", func(c *Config) {
			c.Providers = map[string]ProviderConfig{"p": {Type: "quantum"}}
		}},
		{"bad backend", func(c *Config) { c.Persistence.Backend = "scroll" }},
		{"sqlite without path", func(c *Config) { c.Persistence.Backend = "sqlite" }},
		{"redis without addr", func(c *Config) { c.Persistence.Backend = "redis" }},
		{"compression too low", func(c *Config) { c.Persistence.Compression = 0 }},
		{"compression too high", func(c *Config) { c.Persistence.Compression = 10 }},
		{"negative retention", func(c *Config) { c.Persistence.RetentionDays = -1 }},
		{"zero max scripts", func(c *Config) { c.Runtime.MaxConcurrentScripts = 0 }},
		{"zero script timeout", func(c *Config) { c.Runtime.ScriptTimeout = 0 }},
		{"zero max sessions", func(c *Config) { c.Sessions.MaxSessions = 0 }},
		{"zero max artifacts", func(c *Config) { c.Sessions.MaxArtifacts = 0 }},
		{"short hmac key", func(c *Config) { c.Kernel.HMACKey = "tooshort" }},
		{"zero debug rate", func(c *Config) { c.Kernel.Debug.MaxEventsPerSec = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestParseRejectsInvalidConfig(t *testing.T) {
	_, err := Parse([]byte("engine:\n  default: dag\n"))
	require.Error(t, err)
	assert.True(t, gerrors.Is(err, gerrors.KindConfiguration))

	_, err = Parse([]byte("engine: [not, a, map]\n"))
	require.Error(t, err)
	assert.True(t, gerrors.Is(err, gerrors.KindConfiguration))
}

func TestExpandEnv(t *testing.T) {
	t.Setenv("GRIMOIRE_X", "value")
	assert.Equal(t, "a value b", ExpandEnv("a ${GRIMOIRE_X} b"))
	assert.Equal(t, "fallback", ExpandEnv("${GRIMOIRE_UNSET_VAR:-fallback}"))
	assert.Equal(t, "", ExpandEnv("${GRIMOIRE_UNSET_VAR}"))
}
