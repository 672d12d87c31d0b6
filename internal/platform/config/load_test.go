package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arc-self/continuum/internal/platform/config"
)

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "runtime.yaml")
	contents := []byte(`
fabric:
  backend: mem
authentication:
  enforced: true
flowBalance:
  enabled: true
  pollingInterval: 10s
  thresholds:
    minorLag: 10
    moderateLag: 50
    severeLag: 200
    criticalLag: 500
    minAckRate: 0.9
  targets:
    - stream: S
      consumer: C
      nodeId: worker-1
separator: "-"
dedupSize: 20000
`)
	require.NoError(t, os.WriteFile(path, contents, 0o600))

	cfg, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, "mem", cfg.Fabric.Backend)
	assert.True(t, cfg.Authentication.Enforced)
	assert.True(t, cfg.FlowBalance.Enabled)
	assert.Equal(t, "-", cfg.Separator)
	assert.Equal(t, 20000, cfg.DedupSize)
	require.Len(t, cfg.FlowBalance.Targets, 1)
	assert.Equal(t, "worker-1", cfg.FlowBalance.Targets[0].NodeID)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := config.Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
