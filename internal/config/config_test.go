package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, "0.0.0.0:8080", cfg.Server.Address())
	assert.Equal(t, "sqlite", cfg.Database.Driver)

	assert.Equal(t, 60*time.Second, cfg.Orchestrator.JanitorInterval)
	assert.Equal(t, 30*time.Second, cfg.Orchestrator.HeartbeatInterval)

	assert.Equal(t, 0.80, cfg.Decision.MinPatternSuccessRate)
	assert.Equal(t, 3, cfg.Decision.MinPatternSamples)

	assert.Equal(t, 100, cfg.Gate.MaxArchiveEntries)

	assert.Equal(t, 2*time.Second, cfg.Services.CyberAgent.PollInterval)
	assert.Equal(t, 5*time.Second, cfg.Services.MageAgent.PollInterval)
	assert.Equal(t, 60*time.Second, cfg.Services.CyberAgent.OpenTimeout)
	assert.Empty(t, cfg.Services.MageAgentFallback.URL)
}

func TestValidate(t *testing.T) {
	base := func(t *testing.T) *Config {
		t.Helper()
		cfg, err := Load("")
		require.NoError(t, err)
		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"valid defaults", func(*Config) {}, ""},
		{"bad port", func(c *Config) { c.Server.Port = 0 }, "server.port"},
		{"bad driver", func(c *Config) { c.Database.Driver = "oracle" }, "database.driver"},
		{"empty dsn", func(c *Config) { c.Database.DSN = "" }, "database.dsn"},
		{"zero jobs", func(c *Config) { c.Orchestrator.MaxConcurrentJobs = 0 }, "max_concurrent_jobs"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base(t)
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
