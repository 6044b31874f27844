package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadAppliesDefaultsAndOverrides(t *testing.T) {
	path := writeConfig(t, `
server:
  grpc_port: 14317
storage:
  retention_duration: 2h
sampling:
  default_rate: 0.5
  per_service:
    checkout: 1.0
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 14317, cfg.Server.GRPCPort)
	assert.Equal(t, 4318, cfg.Server.HTTPPort, "unset fields keep Default()'s value")
	assert.Equal(t, Duration(2*time.Hour), cfg.Storage.RetentionDuration)
	assert.Equal(t, 0.5, cfg.Sampling.RateFor("unknown-service"))
	assert.Equal(t, 1.0, cfg.Sampling.RateFor("checkout"))
}

func TestLoadExpandsEnvVars(t *testing.T) {
	t.Setenv("URPO_GRPC_PORT", "19317")
	path := writeConfig(t, `
server:
  grpc_port: ${URPO_GRPC_PORT}
  http_port: 19318
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 19317, cfg.Server.GRPCPort)
}

func TestValidateRejectsEqualPorts(t *testing.T) {
	cfg := Default()
	cfg.Server.HTTPPort = cfg.Server.GRPCPort
	assert.Error(t, cfg.Validate())
}

func TestValidateRejectsOutOfRangeSamplingRate(t *testing.T) {
	cfg := Default()
	cfg.Sampling.DefaultRate = 1.5
	assert.Error(t, cfg.Validate())
}

func TestValidateRejectsUnknownTheme(t *testing.T) {
	cfg := Default()
	cfg.UI.Theme = "neon"
	assert.Error(t, cfg.Validate())
}
