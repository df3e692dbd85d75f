package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "testrig.yaml"), []byte(content), 0o600))
	return dir
}

func TestInitialize_Defaults(t *testing.T) {
	cfg, err := Initialize(t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, 5*time.Second, cfg.Scheduler.TickInterval)
	assert.Equal(t, 120*time.Second, cfg.Scheduler.LivenessTTL)
	assert.Equal(t, 24*time.Hour, cfg.Scheduler.JobRecordTTL)
	assert.Equal(t, 3, cfg.Scheduler.MaxAttempts)
	assert.Equal(t, time.Hour, cfg.Retention.SweepInterval)
}

func TestInitialize_FileOverlay(t *testing.T) {
	dir := writeConfig(t, `
scheduler:
  tick_interval: 1s
  max_attempts: 5
  tenant_weights:
    premium: 100
    standard: 50
retention:
  sweep_interval: 10m
`)

	cfg, err := Initialize(dir)
	require.NoError(t, err)

	assert.Equal(t, time.Second, cfg.Scheduler.TickInterval)
	assert.Equal(t, 5, cfg.Scheduler.MaxAttempts)
	assert.Equal(t, 10*time.Minute, cfg.Retention.SweepInterval)

	// Unset fields keep their defaults
	assert.Equal(t, 120*time.Second, cfg.Scheduler.LivenessTTL)

	assert.Equal(t, 100, cfg.Scheduler.TenantWeight("premium"))
	assert.Equal(t, 50, cfg.Scheduler.TenantWeight("standard"))
	assert.Equal(t, DefaultTenantWeight, cfg.Scheduler.TenantWeight("unknown"))
}

func TestInitialize_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{
			name:    "malformed yaml",
			content: "scheduler: [",
			wantErr: "failed to parse",
		},
		{
			name: "agent record ttl shorter than liveness",
			content: `
scheduler:
  liveness_ttl: 10m
  agent_record_ttl: 1m
`,
			wantErr: "agent_record_ttl",
		},
		{
			name: "negative tenant weight",
			content: `
scheduler:
  tenant_weights:
    acme: -1
`,
			wantErr: "must not be negative",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Initialize(writeConfig(t, tt.content))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
