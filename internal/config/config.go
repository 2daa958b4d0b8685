package config

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/localrivet/configurator"

	"github.com/localrivet/summaryservice/internal/engine"
	"github.com/localrivet/summaryservice/internal/registry"
)

// Backend types
const (
	BackendExtractive = "extractive"
	BackendWorker     = "worker"
)

// ModelConfig describes a model added on top of the built-in table.
type ModelConfig struct {
	ID                string `json:"id"`
	Name              string `json:"name,omitempty"`
	Description       string `json:"description,omitempty"`
	InputPrefix       string `json:"input_prefix,omitempty"`
	MaxLength         int    `json:"max_length"`
	MinLength         int    `json:"min_length"`
	NumBeams          int    `json:"num_beams"`
	NoRepeatNgramSize int    `json:"no_repeat_ngram_size"`
	EarlyStopping     bool   `json:"early_stopping"`
}

// Config represents the summary service configuration
type Config struct {
	// Models contains model selection and caching configuration.
	Models struct {
		// Default is the identifier used when a request names none or an
		// unknown one.
		Default string `json:"default" env:"DEFAULT_MODEL" validate:"required"`

		// CacheCapacity is how many models may be resident at once.
		CacheCapacity int `json:"cache_capacity" env:"CACHE_CAPACITY" validate:"min:1"`

		// Device is the placement preference ("auto", "cpu", "cuda").
		Device string `json:"device" env:"DEVICE"`

		// MaxInputTokens caps the encoded input length.
		MaxInputTokens int `json:"max_input_tokens" env:"MAX_INPUT_TOKENS" validate:"min:1"`

		// Extra models are registered at startup after the built-in ones.
		Extra []ModelConfig `json:"extra,omitempty"`
	} `json:"models"`

	// Backend selects how models are run.
	Backend struct {
		// Type is "extractive" or "worker".
		Type string `json:"type" env:"BACKEND" validate:"required"`

		// WorkerCommand is the worker argv, split on whitespace.
		WorkerCommand string `json:"worker_command" env:"WORKER_COMMAND"`

		// StartupTimeout bounds worker launch plus model load, e.g. "5m".
		StartupTimeout string `json:"startup_timeout" env:"WORKER_STARTUP_TIMEOUT"`
	} `json:"backend"`

	// Generation contains per-request limits.
	Generation struct {
		// Timeout bounds a single summarization, e.g. "2m". Empty disables it.
		Timeout string `json:"timeout" env:"GENERATION_TIMEOUT"`

		// MaxInputChars truncates cleaned text before encoding. Zero disables it.
		MaxInputChars int `json:"max_input_chars" env:"MAX_INPUT_CHARS"`
	} `json:"generation"`

	// History contains summary history storage configuration.
	History struct {
		// Enabled turns on the history store and tools.
		Enabled bool `json:"enabled" env:"HISTORY_ENABLED"`

		// SQLitePath is the path to the SQLite database file.
		SQLitePath string `json:"sqlite_path" env:"SQLITE_PATH"`
	} `json:"history"`

	// Logging contains logging-related configuration.
	Logging struct {
		// Level is the minimum log level to display ("debug", "info", "warn", "error").
		Level string `json:"level" env:"LOG_LEVEL" validate:"required"`

		// Format is the log format to use ("text", "json").
		Format string `json:"format" env:"LOG_FORMAT"`
	} `json:"logging"`

	// Internal state (not saved to config file)
	configPath string `json:"-"`
}

// Default configuration values
const (
	DefaultConfigFilename = ".summaryserviceconfig"
	DefaultSQLitePath     = ".summaryservice.db"
	DefaultWorkerCommand  = "python3 -u workers/seq2seq_worker.py"
	DefaultStartupTimeout = "5m"
	DefaultLogLevel       = "info"
	DefaultLogFormat      = "text"
	EnvPrefix             = "SUMMARYSERVICE"
)

// NewConfig creates a new Config instance with default values
func NewConfig() *Config {
	config := &Config{}
	config.Models.Default = registry.DefaultModelID
	config.Models.CacheCapacity = 2
	config.Models.Device = string(engine.DeviceAuto)
	config.Models.MaxInputTokens = engine.DefaultMaxInputTokens
	config.Backend.Type = BackendExtractive
	config.Backend.WorkerCommand = DefaultWorkerCommand
	config.Backend.StartupTimeout = DefaultStartupTimeout
	config.History.Enabled = true
	config.History.SQLitePath = DefaultSQLitePath
	config.Logging.Level = DefaultLogLevel
	config.Logging.Format = DefaultLogFormat
	return config
}

// LoadConfigWithPath loads the configuration from a specific path. A missing
// file yields the defaults with environment overrides applied.
func LoadConfigWithPath(configPath string) (*Config, error) {
	// stdout carries the MCP stdio transport, so loading logs go to stderr.
	stdLogger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))

	cfg := NewConfig()

	if configPath == "" {
		configPath = DefaultConfigFilename
	}

	// Try to find config file if path is default
	if configPath == DefaultConfigFilename {
		foundPath, err := configurator.FindConfigFile(configPath)
		if err == nil {
			configPath = foundPath
			stdLogger.Debug("Found config file at " + foundPath)
		}
	}

	loader := configurator.New(stdLogger).
		WithProvider(configurator.NewDefaultProvider())

	fromFile := false
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		stdLogger.Info("Config file not found, using default configuration", "path", configPath)
	} else {
		stdLogger.Info("Loading configuration", "path", configPath)
		loader = loader.WithProvider(configurator.NewFileProvider(configPath))
		fromFile = true
	}

	loader = loader.
		WithProvider(configurator.NewEnvProvider(EnvPrefix)).
		WithValidator(configurator.NewDefaultValidator())

	ctx := context.Background()
	if err := loader.Load(ctx, cfg); err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if fromFile {
		cfg.configPath = configPath
	}
	return cfg, nil
}

// Validate checks constraints the struct tags cannot express.
func (c *Config) Validate() error {
	var errs []error

	if c.Models.CacheCapacity < 1 {
		errs = append(errs, fmt.Errorf("models.cache_capacity must be at least 1, got %d", c.Models.CacheCapacity))
	}

	switch c.Backend.Type {
	case BackendExtractive:
	case BackendWorker:
		if len(c.WorkerCommand()) == 0 {
			errs = append(errs, errors.New("backend.worker_command is required for the worker backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("backend.type must be %q or %q, got %q", BackendExtractive, BackendWorker, c.Backend.Type))
	}

	if _, err := parseDuration(c.Backend.StartupTimeout); err != nil {
		errs = append(errs, fmt.Errorf("backend.startup_timeout: %w", err))
	}
	if _, err := parseDuration(c.Generation.Timeout); err != nil {
		errs = append(errs, fmt.Errorf("generation.timeout: %w", err))
	}
	if c.Generation.MaxInputChars < 0 {
		errs = append(errs, errors.New("generation.max_input_chars must not be negative"))
	}
	if c.History.Enabled && c.History.SQLitePath == "" {
		errs = append(errs, errors.New("history.sqlite_path is required when history is enabled"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid configuration: %w", errors.Join(errs...))
	}
	return nil
}

// WorkerCommand returns the worker argv.
func (c *Config) WorkerCommand() []string {
	return strings.Fields(c.Backend.WorkerCommand)
}

// StartupTimeout returns the parsed worker startup timeout. Zero means the
// backend default.
func (c *Config) StartupTimeout() time.Duration {
	d, _ := parseDuration(c.Backend.StartupTimeout)
	return d
}

// GenerationTimeout returns the parsed per-request timeout. Zero disables it.
func (c *Config) GenerationTimeout() time.Duration {
	d, _ := parseDuration(c.Generation.Timeout)
	return d
}

// Registry builds the model registry: the built-in table followed by any
// extra models, with Models.Default as the default.
func (c *Config) Registry() (*registry.Registry, error) {
	descriptors := registry.BuiltinDescriptors()
	for _, m := range c.Models.Extra {
		descriptors = append(descriptors, registry.Descriptor{
			ID:          m.ID,
			Name:        m.Name,
			Description: m.Description,
			InputPrefix: m.InputPrefix,
			Generation: engine.GenerationParams{
				MaxLength:         m.MaxLength,
				MinLength:         m.MinLength,
				NumBeams:          m.NumBeams,
				NoRepeatNgramSize: m.NoRepeatNgramSize,
				EarlyStopping:     m.EarlyStopping,
			},
		})
	}

	defaultID := c.Models.Default
	if defaultID == "" {
		defaultID = registry.DefaultModelID
	}
	return registry.New(defaultID, descriptors...)
}

func parseDuration(value string) (time.Duration, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, err
	}
	if d < 0 {
		return 0, fmt.Errorf("duration %q must not be negative", value)
	}
	return d, nil
}

// SaveToFile saves the configuration to the specified file
func (c *Config) SaveToFile(path string) error {
	// Create directory if needed
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	if err := configurator.SaveToFile(c, path, configurator.FormatJSON); err != nil {
		return fmt.Errorf("failed to save configuration: %w", err)
	}

	c.configPath = path
	return nil
}

// GetConfigPath returns the file the configuration was loaded from or last
// saved to. It is empty when only defaults and the environment applied.
func (c *Config) GetConfigPath() string {
	return c.configPath
}
