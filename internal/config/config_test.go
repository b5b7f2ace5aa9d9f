package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, DefaultBodies, cfg.Bodies)
	assert.Equal(t, BackendSoftware, cfg.Backend)
	assert.Equal(t, 134217728, cfg.BudgetBytes)
	assert.NoError(t, cfg.Validate())
}

func TestSaveLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bodysim.yaml")
	cfg := DefaultConfig()
	cfg.Bodies = 42
	cfg.Seed = 7
	cfg.MapTimeout = 250 * time.Millisecond
	cfg.MaxWorkgroupsPerDim = 3
	require.NoError(t, Save(path, cfg))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, loaded)
}

func TestLoadKeepsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "partial.yaml")
	require.NoError(t, os.WriteFile(path, []byte("bodies: 12\nmap_timeout: 2s\n"), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 12, cfg.Bodies)
	assert.Equal(t, 2*time.Second, cfg.MapTimeout)
	assert.Equal(t, DefaultWidth, cfg.Width)
	assert.Equal(t, DefaultBackend, cfg.Backend)
}

func TestLoadErrors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)

	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("bodies: [1, 2\n"), 0644))
	_, err = Load(path)
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
	}{
		{"negative bodies", func(c *Config) { c.Bodies = -1 }},
		{"zero width", func(c *Config) { c.Width = 0 }},
		{"zero height", func(c *Config) { c.Height = 0 }},
		{"unaligned budget", func(c *Config) { c.BudgetBytes = 1001 }},
		{"bodies over budget", func(c *Config) { c.Bodies, c.BudgetBytes = 11, 240 }},
		{"negative timeout", func(c *Config) { c.MapTimeout = -time.Second }},
		{"negative workers", func(c *Config) { c.Workers = -2 }},
		{"negative print", func(c *Config) { c.Print = -1 }},
		{"unknown backend", func(c *Config) { c.Backend = "metal" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modify(cfg)
			assert.ErrorIs(t, cfg.Validate(), ErrInvalid)
		})
	}
}

func TestKernelSource(t *testing.T) {
	cfg := DefaultConfig()
	src, err := cfg.KernelSource()
	require.NoError(t, err)
	assert.Empty(t, src)

	cfg.KernelFile = filepath.Join(t.TempDir(), "k.wgsl")
	require.NoError(t, os.WriteFile(cfg.KernelFile, []byte("@compute fn main() {}"), 0644))
	src, err = cfg.KernelSource()
	require.NoError(t, err)
	assert.Equal(t, "@compute fn main() {}", src)

	cfg.KernelFile = filepath.Join(t.TempDir(), "none.wgsl")
	_, err = cfg.KernelSource()
	assert.ErrorIs(t, err, os.ErrNotExist)
}
