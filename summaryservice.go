// Package summaryservice wires the summarization pipeline, its model cache,
// the optional summary history and the MCP tool server into one service.
package summaryservice

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"

	"github.com/localrivet/summaryservice/internal/config"
	"github.com/localrivet/summaryservice/internal/engine"
	"github.com/localrivet/summaryservice/internal/engine/extractive"
	"github.com/localrivet/summaryservice/internal/engine/worker"
	"github.com/localrivet/summaryservice/internal/errortypes"
	"github.com/localrivet/summaryservice/internal/history"
	"github.com/localrivet/summaryservice/internal/logger"
	"github.com/localrivet/summaryservice/internal/modelcache"
	"github.com/localrivet/summaryservice/internal/registry"
	"github.com/localrivet/summaryservice/internal/server"
	"github.com/localrivet/summaryservice/internal/summarizer"
	"github.com/localrivet/summaryservice/internal/telemetry"
)

// Version is reported in health reports and by the CLI.
const Version = "0.1.0"

// Config represents the configuration for the summary service.
type Config = config.Config

// Result is the outcome of a summarization.
type Result = summarizer.Result

// Components are the service's building blocks, created from a Config.
type Components struct {
	Backend  engine.Backend
	Registry *registry.Registry
	Cache    *modelcache.Cache
	Service  *summarizer.Service
	Metrics  *telemetry.MetricsCollector

	// Store is nil when history is disabled.
	Store history.Store
}

// Close releases cached models and closes the history store.
func (c *Components) Close() error {
	var errs []error
	if c.Service != nil {
		if err := c.Service.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if c.Store != nil {
		if err := c.Store.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Server represents the summary service.
type Server struct {
	config     *config.Config
	components *Components
	toolServer server.ToolServer
	logger     *slog.Logger

	stopOnce sync.Once
	stopErr  error
}

// ServerOptions defines the options for creating a new Server.
type ServerOptions struct {
	Config     *Config      // Pre-filled config. If nil, ConfigPath is used.
	ConfigPath string       // Path to config file. Used if Config is nil. If both are empty, DefaultConfig() is used.
	Logger     *slog.Logger // External logger. If nil, slog.Default() is used.
}

// NewServer creates a new summary Server with the given options.
// If opts.Config is provided, it will be used directly.
// Otherwise, if opts.ConfigPath is provided, configuration will be loaded from that path.
// If neither is provided, DefaultConfig() will be used.
func NewServer(opts ServerOptions) (*Server, error) {
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}

	var cfg *Config
	var err error

	if opts.Config != nil {
		cfg = opts.Config
		log.Info("Using provided Config object for server initialization")
	} else if opts.ConfigPath != "" {
		log.Info("Loading configuration for server initialization", "path", opts.ConfigPath)
		cfg, err = config.LoadConfigWithPath(opts.ConfigPath)
		if err != nil {
			log.Error("Failed to load configuration from path", "path", opts.ConfigPath, "error", err)
			return nil, errortypes.ConfigError(err, "Failed to load configuration from path: "+opts.ConfigPath)
		}
	} else {
		log.Warn("No Config object or ConfigPath provided, using default configuration for server initialization")
		cfg = DefaultConfig()
	}

	components, err := CreateComponents(cfg, log)
	if err != nil {
		log.Error("Failed to create components during server initialization", "error", err)
		return nil, err
	}

	log.Info("Initializing summary tool server component")
	toolServer := server.NewSummaryToolServer(components.Service, components.Store, logger.Component(log, "server"))
	if err := toolServer.Initialize(); err != nil {
		log.Error("Failed to initialize MCP summary tool server component", "error", err)
		components.Close()
		return nil, errortypes.ConfigError(err, "Failed to initialize MCP summary tool server component")
	}

	log.Info("Summary server successfully initialized")
	return &Server{
		config:     cfg,
		components: components,
		toolServer: toolServer,
		logger:     log,
	}, nil
}

// DefaultConfig returns the default configuration for the summary service.
func DefaultConfig() *Config {
	return config.NewConfig()
}

// SaveConfig renders the configuration as indented JSON. When path is not
// empty the configuration is also written there.
func SaveConfig(cfg *Config, path string) ([]byte, error) {
	content, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return nil, errortypes.ConfigError(err, "failed to marshal configuration")
	}

	if path != "" {
		if err := cfg.SaveToFile(path); err != nil {
			return nil, errortypes.ConfigError(err, "failed to write config file").WithField("path", path)
		}
	}

	return content, nil
}

// Start serves MCP tools on stdio. It blocks until the client disconnects.
func (s *Server) Start() error {
	s.logger.Info("Starting summary service", "backend", s.components.Backend.Name())
	return s.toolServer.Start()
}

// Warm preloads the default model so the first request does not pay for it.
func (s *Server) Warm(ctx context.Context) error {
	return s.components.Service.Warm(ctx)
}

// Stop stops the summary service. Later calls return the first result.
func (s *Server) Stop() error {
	s.stopOnce.Do(func() {
		s.stopErr = s.stop()
	})
	return s.stopErr
}

func (s *Server) stop() error {
	s.logger.Info("Stopping summary service")
	if err := s.toolServer.Stop(); err != nil {
		s.logger.Error("Error stopping tool server", "error", err)
		return err
	}

	if err := s.components.Close(); err != nil {
		s.logger.Error("Failed to release components", "error", err)
		return err
	}

	s.logger.Info("Summary service stopped")
	return nil
}

// Summarize summarizes text with the given model. An empty model means the
// default.
func (s *Server) Summarize(ctx context.Context, text, model string) (*Result, error) {
	return s.components.Service.Summarize(ctx, text, model)
}

// Components returns the building blocks used by the server.
func (s *Server) Components() *Components {
	return s.components
}

// GetConfig returns the configuration the server was built from.
func (s *Server) GetConfig() *Config {
	return s.config
}

// NewBackend constructs the backend named by cfg.Backend.Type.
func NewBackend(cfg *Config, log *slog.Logger) (engine.Backend, error) {
	switch cfg.Backend.Type {
	case config.BackendExtractive, "":
		return extractive.New(), nil
	case config.BackendWorker:
		b, err := worker.New(worker.Options{
			Command:        cfg.WorkerCommand(),
			StartupTimeout: cfg.StartupTimeout(),
			Logger:         logger.Component(log, "worker"),
		})
		if err != nil {
			return nil, errortypes.ConfigError(err, "failed to create worker backend")
		}
		return b, nil
	default:
		return nil, errortypes.ConfigError(errors.New("unknown backend type"), "failed to create backend").
			WithField("backend", cfg.Backend.Type)
	}
}

// CreateComponents creates and initializes the components of the summary
// service without creating a server instance. The caller owns the returned
// components and must Close them.
func CreateComponents(cfg *Config, log *slog.Logger) (*Components, error) {
	if log == nil {
		log = slog.Default()
		log.Debug("CreateComponents called with nil logger, defaulting to slog.Default()")
	}
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, errortypes.ConfigError(err, "invalid configuration")
	}

	reg, err := cfg.Registry()
	if err != nil {
		return nil, errortypes.ConfigError(err, "failed to build model registry")
	}
	log.Info("Model registry ready", "models", reg.Len(), "default", reg.DefaultID())

	backend, err := NewBackend(cfg, log)
	if err != nil {
		return nil, err
	}

	metrics := telemetry.NewMetricsCollector()

	log.Info("Initializing model cache", "capacity", cfg.Models.CacheCapacity, "device", cfg.Models.Device)
	cache, err := modelcache.New(backend, reg, modelcache.Options{
		Capacity: cfg.Models.CacheCapacity,
		Device:   engine.ParseDevice(cfg.Models.Device),
		Metrics:  metrics,
		Logger:   logger.Component(log, "modelcache"),
	})
	if err != nil {
		return nil, errortypes.ConfigError(err, "failed to create model cache")
	}

	service := summarizer.New(cache, reg, backend.Name(), summarizer.Options{
		MaxInputTokens:    cfg.Models.MaxInputTokens,
		MaxInputChars:     cfg.Generation.MaxInputChars,
		GenerationTimeout: cfg.GenerationTimeout(),
		Version:           Version,
		Metrics:           metrics,
		Logger:            logger.Component(log, "summarizer"),
	})

	components := &Components{
		Backend:  backend,
		Registry: reg,
		Cache:    cache,
		Service:  service,
		Metrics:  metrics,
	}

	if cfg.History.Enabled {
		log.Info("Initializing SQLite history store", "path", cfg.History.SQLitePath)
		store := history.NewSQLiteStore()
		if err := store.Initialize(cfg.History.SQLitePath); err != nil {
			log.Error("Failed to initialize SQLite history store", "path", cfg.History.SQLitePath, "error", err)
			service.Close()
			return nil, errortypes.DatabaseError(err, "Failed to initialize SQLite history store").
				WithField("path", cfg.History.SQLitePath)
		}
		components.Store = store
	}

	log.Info("Components successfully initialized", "backend", backend.Name(), "history_enabled", components.Store != nil)
	return components, nil
}
