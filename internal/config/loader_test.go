package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoader_MissingFileReturnsDefaults(t *testing.T) {
	loader := NewLoader(filepath.Join(t.TempDir(), "nope.json"))
	cfg, err := loader.Load()
	require.NoError(t, err)
	assert.Equal(t, 12, cfg.Orchestrator.MaxSteps)
	assert.Equal(t, "sqlite", cfg.Store.Driver)
}

func TestLoader_ReadsFile(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "agentfabric.json")
	content := `{
  "agent": {"id": "agent-7", "name": "seven"},
  "control_plane": {"base_url": "http://127.0.0.1:4000"},
  "orchestrator": {"max_steps": 3},
  "data_dir": "` + tmpDir + `"
}`
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))

	cfg, err := NewLoader(path).Load()
	require.NoError(t, err)
	assert.Equal(t, "agent-7", cfg.Agent.ID)
	assert.Equal(t, "http://127.0.0.1:4000", cfg.ControlPlane.BaseURL)
	assert.Equal(t, 3, cfg.Orchestrator.MaxSteps)
	assert.Equal(t, filepath.Join(tmpDir, "fabric.db"), cfg.Store.Path)
	assert.Equal(t, filepath.Join(tmpDir, "agentfabric.log"), cfg.Logging.File)
}

func TestLoader_SaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cfg.json")
	loader := NewLoader(path)

	cfg := validConfig()
	require.NoError(t, loader.Save(cfg))

	loaded, err := loader.Load()
	require.NoError(t, err)
	assert.Equal(t, cfg.Agent.ID, loaded.Agent.ID)
	assert.Equal(t, cfg.Model.Profiles, loaded.Model.Profiles)
}
