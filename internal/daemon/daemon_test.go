package daemon

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/todoencadena/agentfabric/internal/config"
	"github.com/todoencadena/agentfabric/internal/logger"
)

func testConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.Agent.ID = "agent-1"
	cfg.Store.Driver = "memory"
	cfg.Telemetry.Enabled = false
	cfg.Ingress.Enabled = false
	cfg.Model.Profiles = []config.ModelProfile{
		{ID: "test", Provider: "openai", APIKey: "sk-test"},
	}
	return cfg
}

func testLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.New(logger.Config{Level: "error"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = log.Close() })
	return log
}

func TestDaemonNew(t *testing.T) {
	d, err := New(testConfig(), testLogger(t))
	require.NoError(t, err)
	require.NotNil(t, d)

	assert.NotNil(t, d.store)
	assert.NotNil(t, d.bridge)
	assert.NotNil(t, d.router)
	assert.NotNil(t, d.orch)
	assert.Nil(t, d.telemetryServer, "telemetry disabled in test config")
}

func TestDaemonNewRejectsBadStore(t *testing.T) {
	cfg := testConfig()
	cfg.Store.Driver = "etcd"

	_, err := New(cfg, testLogger(t))
	assert.Error(t, err)
}

func TestDaemonNewRejectsBadControlPlaneURL(t *testing.T) {
	cfg := testConfig()
	cfg.ControlPlane.BaseURL = "ftp://localhost:3000"

	_, err := New(cfg, testLogger(t))
	assert.Error(t, err)
}

func TestDaemonStartStop(t *testing.T) {
	d, err := New(testConfig(), testLogger(t))
	require.NoError(t, err)

	// control plane is absent; startup must tolerate the failed refresh
	require.NoError(t, d.Start())
	assert.True(t, d.Status().Running)
	assert.Error(t, d.Start(), "double start is rejected")

	require.NoError(t, d.Stop())
	assert.False(t, d.Status().Running)
	require.NoError(t, d.Stop(), "double stop is a no-op")
}

func TestDaemonStatusUptime(t *testing.T) {
	d, err := New(testConfig(), testLogger(t))
	require.NoError(t, err)

	assert.Equal(t, time.Duration(0), d.Status().Uptime)

	require.NoError(t, d.Start())
	defer func() { _ = d.Stop() }()

	assert.GreaterOrEqual(t, d.Status().Uptime, time.Duration(0))
}
