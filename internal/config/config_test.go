package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/localrivet/summaryservice/internal/registry"
)

func TestNewConfigDefaults(t *testing.T) {
	cfg := NewConfig()

	assert.Equal(t, registry.DefaultModelID, cfg.Models.Default)
	assert.Equal(t, 2, cfg.Models.CacheCapacity)
	assert.Equal(t, BackendExtractive, cfg.Backend.Type)
	assert.Equal(t, 5*time.Minute, cfg.StartupTimeout())
	assert.Zero(t, cfg.GenerationTimeout())
	assert.NoError(t, cfg.Validate())
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
	}{
		{"zero capacity", func(c *Config) { c.Models.CacheCapacity = 0 }},
		{"unknown backend", func(c *Config) { c.Backend.Type = "onnx" }},
		{"worker without command", func(c *Config) {
			c.Backend.Type = BackendWorker
			c.Backend.WorkerCommand = "  "
		}},
		{"bad timeout", func(c *Config) { c.Generation.Timeout = "soon" }},
		{"negative timeout", func(c *Config) { c.Backend.StartupTimeout = "-1s" }},
		{"history without path", func(c *Config) { c.History.SQLitePath = "" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewConfig()
			tt.modify(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestWorkerCommand(t *testing.T) {
	cfg := NewConfig()
	cfg.Backend.Type = BackendWorker
	cfg.Backend.WorkerCommand = "python3  -u worker.py"

	assert.Equal(t, []string{"python3", "-u", "worker.py"}, cfg.WorkerCommand())
	assert.NoError(t, cfg.Validate())
}

func TestRegistryIncludesExtraModels(t *testing.T) {
	cfg := NewConfig()
	cfg.Models.Extra = []ModelConfig{{
		ID:          "sshleifer/distilbart-cnn-12-6",
		InputPrefix: "",
		MaxLength:   142,
		MinLength:   56,
		NumBeams:    4,
	}}

	reg, err := cfg.Registry()
	require.NoError(t, err)
	assert.Equal(t, len(registry.BuiltinDescriptors())+1, reg.Len())
	assert.Equal(t, registry.DefaultModelID, reg.DefaultID())

	d, ok := reg.Lookup("sshleifer/distilbart-cnn-12-6")
	require.True(t, ok)
	assert.Equal(t, 142, d.Generation.MaxLength)
	assert.Equal(t, "sshleifer/distilbart-cnn-12-6", d.Name)
}

func TestRegistryRejectsUnknownDefault(t *testing.T) {
	cfg := NewConfig()
	cfg.Models.Default = "missing/model"

	_, err := cfg.Registry()
	assert.Error(t, err)
}

func TestSaveToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", DefaultConfigFilename)

	cfg := NewConfig()
	cfg.Models.CacheCapacity = 1
	require.NoError(t, cfg.SaveToFile(path))

	assert.Equal(t, path, cfg.GetConfigPath())
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "cache_capacity")
}

func TestLoadConfigWithPath(t *testing.T) {
	dir := t.TempDir()

	cfg, err := LoadConfigWithPath(filepath.Join(dir, "missing.json"))
	require.NoError(t, err)
	assert.Equal(t, NewConfig().Models, cfg.Models)
	assert.Empty(t, cfg.GetConfigPath(), "defaults have no source file")

	path := filepath.Join(dir, DefaultConfigFilename)
	saved := NewConfig()
	saved.Models.CacheCapacity = 1
	saved.Generation.Timeout = "30s"
	require.NoError(t, saved.SaveToFile(path))

	cfg, err = LoadConfigWithPath(path)
	require.NoError(t, err)
	assert.Equal(t, 1, cfg.Models.CacheCapacity)
	assert.Equal(t, 30*time.Second, cfg.GenerationTimeout())
	assert.Equal(t, path, cfg.GetConfigPath())
}
