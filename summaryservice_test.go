package summaryservice

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/localrivet/summaryservice/internal/config"
	"github.com/localrivet/summaryservice/internal/errortypes"
	"github.com/localrivet/summaryservice/internal/registry"
	"github.com/localrivet/summaryservice/internal/summarizer"
)

const article = "The city council approved the new budget on Tuesday. " +
	"The budget increases funding for public parks and libraries. " +
	"Council members debated the budget for several hours before the vote. " +
	"Residents can read the full budget on the city website."

func testConfig(t *testing.T) *Config {
	t.Helper()
	cfg := DefaultConfig()
	cfg.History.SQLitePath = filepath.Join(t.TempDir(), "history.db")
	return cfg
}

func TestCreateComponents(t *testing.T) {
	components, err := CreateComponents(testConfig(t), nil)
	require.NoError(t, err)
	defer components.Close()

	require.NotNil(t, components.Store)
	assert.Equal(t, "extractive", components.Backend.Name())
	assert.Equal(t, registry.DefaultModelID, components.Registry.DefaultID())

	result, err := components.Service.Summarize(context.Background(), article, "")
	require.NoError(t, err)
	assert.NotEmpty(t, result.Summary)
	assert.Equal(t, registry.DefaultModelID, result.Model.Identifier)
	assert.Equal(t, []string{registry.DefaultModelID}, components.Cache.Loaded())
}

func TestCreateComponentsWithoutHistory(t *testing.T) {
	cfg := testConfig(t)
	cfg.History.Enabled = false

	components, err := CreateComponents(cfg, nil)
	require.NoError(t, err)
	defer components.Close()

	assert.Nil(t, components.Store)
}

func TestCreateComponentsRejectsInvalidConfig(t *testing.T) {
	cfg := testConfig(t)
	cfg.Backend.Type = "onnx"

	_, err := CreateComponents(cfg, nil)
	require.Error(t, err)
	assert.Equal(t, errortypes.ErrorTypeConfig, errortypes.KindOf(err))
}

func TestNewBackendWorkerRequiresCommand(t *testing.T) {
	cfg := testConfig(t)
	cfg.Backend.Type = config.BackendWorker
	cfg.Backend.WorkerCommand = ""

	_, err := NewBackend(cfg, nil)
	assert.Error(t, err)
}

func TestServerSummarize(t *testing.T) {
	srv, err := NewServer(ServerOptions{Config: testConfig(t)})
	require.NoError(t, err)
	defer srv.Stop()

	require.NoError(t, srv.Warm(context.Background()))

	result, err := srv.Summarize(context.Background(), "   ", "")
	require.NoError(t, err)
	assert.Equal(t, summarizer.EmptyInputMessage, result.Summary)

	result, err = srv.Summarize(context.Background(), article, "no/such-model")
	require.NoError(t, err)
	assert.True(t, result.Model.UsedFallback)
	assert.Equal(t, registry.ReasonUnknown, result.Model.Reason)
}

func TestSaveConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "conf", config.DefaultConfigFilename)
	cfg := DefaultConfig()
	cfg.Models.CacheCapacity = 1

	content, err := SaveConfig(cfg, path)
	require.NoError(t, err)

	written, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.JSONEq(t, string(content), string(written))
	assert.Equal(t, path, cfg.GetConfigPath())

	var decoded map[string]map[string]any
	require.NoError(t, json.Unmarshal(content, &decoded))
	assert.EqualValues(t, 1, decoded["models"]["cache_capacity"])
}
