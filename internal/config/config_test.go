package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"therapy-guardrails/internal/guardrail"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(content), 0o600))
	return dir
}

func TestLoadFrom_Defaults(t *testing.T) {
	cfg, err := LoadFrom(t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 30*time.Second, cfg.Server.Timeout)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "AU", cfg.Guardrails.DefaultRegion)
	assert.Equal(t, 10000, cfg.Guardrails.MaxTextLength)
	assert.Equal(t, guardrail.DefaultThresholds(), cfg.Guardrails.Thresholds)
	assert.Equal(t, uint64(3), cfg.Escalation.MaxRetries)
	assert.Equal(t, 200*time.Millisecond, cfg.Escalation.RetryInterval)
	assert.Empty(t, cfg.Escalation.Channels)
	assert.True(t, cfg.Metrics.Enabled)
	assert.Equal(t, "/metrics", cfg.Metrics.Path)
}

func TestLoadFrom_File(t *testing.T) {
	dir := writeConfig(t, `
server:
  port: 9000
log:
  level: debug
guardrails:
  default_region: UK
  catalog_file: /etc/guardrails/catalog.yaml
  thresholds:
    escalation_score: 2
escalation:
  max_retries: 1
  dispatch_timeout: 10s
  channels:
    - name: clinician
      url: https://crisis.example.org/hooks/incident
      token_env: CLINICIAN_TOKEN
      timeout: 5s
      priority: 1
      enabled: true
      circuit_breaker:
        failure_threshold: 2
        timeout: 1m
`)

	cfg, err := LoadFrom(dir)
	require.NoError(t, err)

	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "UK", cfg.Guardrails.DefaultRegion)
	assert.Equal(t, "/etc/guardrails/catalog.yaml", cfg.Guardrails.CatalogFile)
	assert.Equal(t, 2, cfg.Guardrails.Thresholds.EscalationScore)
	assert.Equal(t, 3, cfg.Guardrails.Thresholds.PatternWeight, "unset thresholds keep defaults")
	assert.Equal(t, 10*time.Second, cfg.Escalation.DispatchTimeout)

	require.Len(t, cfg.Escalation.Channels, 1)
	channel := cfg.Escalation.Channels[0]
	assert.Equal(t, "clinician", channel.Name)
	assert.Equal(t, "CLINICIAN_TOKEN", channel.TokenEnv)
	assert.Equal(t, 5*time.Second, channel.Timeout)
	assert.True(t, channel.Enabled)
	assert.Equal(t, 2, channel.CircuitBreaker.FailureThreshold)
	assert.Equal(t, time.Minute, channel.CircuitBreaker.Timeout)
}

func TestLoadFrom_EnvOverrides(t *testing.T) {
	t.Setenv("GUARDRAILS_SERVER_PORT", "7070")
	t.Setenv("GUARDRAILS_GUARDRAILS_DEFAULT_REGION", "US")
	t.Setenv("GUARDRAILS_METRICS_ENABLED", "false")

	cfg, err := LoadFrom(t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, 7070, cfg.Server.Port)
	assert.Equal(t, "US", cfg.Guardrails.DefaultRegion)
	assert.False(t, cfg.Metrics.Enabled)
}

func TestLoadFrom_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{"bad port", "server:\n  port: 70000\n", "server.port"},
		{"bad thresholds", "guardrails:\n  thresholds:\n    keyword_weight: 0\n", "keyword_weight"},
		{"text limit below coherence limit", "guardrails:\n  max_text_length: 100\n", "max_text_length"},
		{"bad channel", "escalation:\n  channels:\n    - name: x\n      url: ftp://x\n", "escalation.channels[0]"},
		{"malformed yaml", "server: [\n", "failed to read config file"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadFrom(writeConfig(t, tt.content))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
