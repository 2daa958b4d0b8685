// Package modelcache keeps a small number of loaded tokenizer/model pairs in
// memory, loading them on first use and evicting the least recently used
// pair when full.
//
// Callers never hold an Entry directly. Acquire returns a Lease, and an
// evicted entry is closed only once every lease on it has been released, so
// eviction never pulls a model out from under an in-flight generation.
package modelcache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"

	"github.com/localrivet/summaryservice/internal/engine"
	"github.com/localrivet/summaryservice/internal/errortypes"
	"github.com/localrivet/summaryservice/internal/registry"
	"github.com/localrivet/summaryservice/internal/telemetry"
)

// DefaultCapacity is used when Options.Capacity is not positive.
const DefaultCapacity = 2

// DefaultRetryFailedAfter is how long a non-default model that failed to
// load is served by the default model before another load is attempted.
const DefaultRetryFailedAfter = 10 * time.Minute

// maxAcquireAttempts bounds retries when a freshly loaded entry is evicted
// before the caller could lease it.
const maxAcquireAttempts = 3

// ErrClosed is returned by Acquire after Close.
var ErrClosed = errors.New("modelcache: cache is closed")

var errEvictedBeforeUse = errors.New("modelcache: evicted before it could be used")

// Options configures a Cache.
type Options struct {
	// Capacity is the maximum number of resident pairs.
	Capacity int

	// Device is the placement preference. Empty or auto lets the backend's
	// device list decide.
	Device engine.Device

	// RetryFailedAfter is how long a failed non-default load is remembered.
	// Zero means DefaultRetryFailedAfter; a negative value disables it.
	RetryFailedAfter time.Duration

	Metrics *telemetry.MetricsCollector
	Logger  *slog.Logger
}

// Stats is a point in time view of the cache.
type Stats struct {
	Capacity     int      `json:"capacity"`
	Size         int      `json:"size"`
	Loaded       []string `json:"loaded"`
	Device       string   `json:"device,omitempty"`
	Hits         int64    `json:"hits"`
	Misses       int64    `json:"misses"`
	Loads        int64    `json:"loads"`
	LoadFailures int64    `json:"load_failures"`
	Evictions    int64    `json:"evictions"`
	Fallbacks    int64    `json:"fallbacks"`
	Unavailable  []string `json:"unavailable,omitempty"`
}

// Cache is a bounded LRU of loaded models. It is safe for concurrent use.
type Cache struct {
	backend  engine.Backend
	registry *registry.Registry
	capacity int
	prefer   engine.Device
	retry    time.Duration
	metrics  *telemetry.MetricsCollector
	logger   *slog.Logger

	entries *lru.Cache[string, *Entry]
	group   singleflight.Group

	// discardMu pairs the Peek and Remove of a dead entry.
	discardMu sync.Mutex

	failedMu sync.Mutex
	failed   map[string]loadFailure

	deviceMu sync.Mutex
	device   engine.Device

	countsMu   sync.Mutex
	loadCounts map[string]int

	hits, misses, loads, loadFailures, evictions, fallbacks atomic.Int64

	closed atomic.Bool
}

// New creates an empty cache. Nothing is loaded until Acquire or Warm.
func New(backend engine.Backend, reg *registry.Registry, opts Options) (*Cache, error) {
	if backend == nil {
		return nil, errors.New("modelcache: backend is required")
	}
	if reg == nil {
		return nil, errors.New("modelcache: registry is required")
	}
	if opts.Capacity <= 0 {
		opts.Capacity = DefaultCapacity
	}
	if opts.RetryFailedAfter == 0 {
		opts.RetryFailedAfter = DefaultRetryFailedAfter
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	metrics := opts.Metrics
	if metrics == nil {
		metrics = telemetry.NewMetricsCollector()
	}

	c := &Cache{
		backend:    backend,
		registry:   reg,
		capacity:   opts.Capacity,
		prefer:     opts.Device,
		retry:      opts.RetryFailedAfter,
		metrics:    metrics,
		logger:     logger,
		loadCounts: make(map[string]int),
		failed:     make(map[string]loadFailure),
	}

	entries, err := lru.NewWithEvict[string, *Entry](opts.Capacity, c.onEvict)
	if err != nil {
		return nil, fmt.Errorf("modelcache: %w", err)
	}
	c.entries = entries
	return c, nil
}

// Acquire returns a lease on the pair for identifier, loading it if needed.
//
// Unknown identifiers resolve to the default model. If a non-default model
// fails to load, the default model is leased instead and the lease's
// Resolution says so. The failure is remembered for RetryFailedAfter, and
// requests for that model go straight to the default until then. If the
// default model itself cannot be loaded the returned error is a fatal
// model-load error.
func (c *Cache) Acquire(ctx context.Context, identifier string) (*Lease, error) {
	if c.closed.Load() {
		return nil, errortypes.InternalError(ErrClosed, "model cache unavailable")
	}

	res := c.registry.Resolve(identifier)
	if res.Reason == registry.ReasonUnknown {
		c.logger.Warn("Unknown model requested, using default",
			"requested", identifier, "model", res.Identifier)
	}

	defaultID := c.registry.DefaultID()
	err := c.recentFailure(res.Identifier)
	if err != nil && res.Identifier != defaultID {
		c.logger.Debug("Model failed to load recently, using default",
			"model", res.Identifier, "fallback", defaultID, "error", err)
	} else {
		entry, gerr := c.get(ctx, res.Identifier)
		if gerr == nil {
			c.forgetFailure(res.Identifier)
			return newLease(entry, res), nil
		}
		if ctx.Err() != nil || errors.Is(gerr, ErrClosed) {
			return nil, errortypes.ModelLoadError(gerr, "model load abandoned").
				WithField("model", res.Identifier)
		}
		if res.Identifier == defaultID {
			return nil, errortypes.ModelLoadError(gerr, "failed to load default model").
				WithField("model", defaultID).
				AsFatal()
		}
		if !errors.Is(gerr, errEvictedBeforeUse) {
			c.rememberFailure(res.Identifier, gerr)
		}
		err = gerr

		errortypes.LogError(c.logger, errortypes.ModelLoadError(err, "Failed to load model, falling back to default").
			WithField("model", res.Identifier).
			WithField("fallback", defaultID))
	}

	c.fallbacks.Add(1)
	c.metrics.IncrementCounter(telemetry.MetricCacheFallbacks, 1)

	entry, derr := c.get(ctx, defaultID)
	if derr != nil {
		if ctx.Err() != nil {
			return nil, errortypes.ModelLoadError(derr, "model load abandoned").
				WithField("model", defaultID)
		}
		return nil, errortypes.ModelLoadError(errors.Join(err, derr), "failed to load default model").
			WithField("model", defaultID).
			WithField("requested", identifier).
			AsFatal()
	}

	return newLease(entry, registry.Resolution{
		Requested:    identifier,
		Identifier:   defaultID,
		UsedFallback: true,
		Reason:       registry.ReasonLoadFailed,
	}), nil
}

type loadFailure struct {
	err error
	at  time.Time
}

// recentFailure returns the error of a load of identifier that failed less
// than RetryFailedAfter ago.
func (c *Cache) recentFailure(identifier string) error {
	if c.retry < 0 {
		return nil
	}
	c.failedMu.Lock()
	defer c.failedMu.Unlock()
	f, ok := c.failed[identifier]
	if !ok {
		return nil
	}
	if time.Since(f.at) >= c.retry {
		delete(c.failed, identifier)
		return nil
	}
	return f.err
}

func (c *Cache) rememberFailure(identifier string, err error) {
	if c.retry < 0 {
		return
	}
	c.failedMu.Lock()
	c.failed[identifier] = loadFailure{err: err, at: time.Now()}
	c.failedMu.Unlock()
}

func (c *Cache) forgetFailure(identifier string) {
	c.failedMu.Lock()
	delete(c.failed, identifier)
	c.failedMu.Unlock()
}

// Warm loads the default model so the first request does not pay for it.
func (c *Cache) Warm(ctx context.Context) error {
	lease, err := c.Acquire(ctx, c.registry.DefaultID())
	if err != nil {
		return err
	}
	lease.Release()
	return nil
}

// get returns an acquired entry for a registered identifier.
func (c *Cache) get(ctx context.Context, identifier string) (*Entry, error) {
	for attempt := 0; attempt < maxAcquireAttempts; attempt++ {
		if e, ok := c.entries.Get(identifier); ok {
			if !e.healthy() {
				c.discard(identifier, e)
			} else if e.tryAcquire() {
				c.hits.Add(1)
				c.metrics.IncrementCounter(telemetry.MetricCacheHits, 1)
				return e, nil
			}
		}

		c.misses.Add(1)
		c.metrics.IncrementCounter(telemetry.MetricCacheMisses, 1)

		// The load outlives any single caller; each caller stops waiting when
		// its own context ends.
		loadCtx := context.WithoutCancel(ctx)
		ch := c.group.DoChan(identifier, func() (any, error) {
			if e, ok := c.entries.Peek(identifier); ok {
				if e.healthy() {
					return e, nil
				}
				c.discard(identifier, e)
			}
			e, err := c.load(loadCtx, identifier)
			if err != nil {
				return nil, err
			}
			if c.closed.Load() {
				e.retire()
				return nil, ErrClosed
			}
			c.entries.Add(identifier, e)
			c.metrics.SetGauge(telemetry.MetricCacheSize, float64(c.entries.Len()))
			return e, nil
		})

		select {
		case r := <-ch:
			if r.Err != nil {
				return nil, r.Err
			}
			if e := r.Val.(*Entry); e.tryAcquire() {
				return e, nil
			}
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return nil, fmt.Errorf("%w: %q", errEvictedBeforeUse, identifier)
}

// discard drops e if it is still the resident entry for identifier. Removal
// goes through onEvict, so e is closed once its last lease is released.
func (c *Cache) discard(identifier string, e *Entry) {
	c.discardMu.Lock()
	defer c.discardMu.Unlock()

	if cur, ok := c.entries.Peek(identifier); !ok || cur != e {
		return
	}
	c.logger.Warn("Dropping model whose backend handle died", "model", identifier)
	c.entries.Remove(identifier)
	c.metrics.SetGauge(telemetry.MetricCacheSize, float64(c.entries.Len()))
}

func (c *Cache) load(ctx context.Context, identifier string) (*Entry, error) {
	device, err := c.selectDevice(ctx)
	if err != nil {
		c.recordLoadFailure()
		return nil, err
	}

	c.logger.Info("Loading model", "model", identifier, "device", device, "backend", c.backend.Name())
	start := time.Now()

	tok, err := c.backend.LoadTokenizer(ctx, identifier)
	if err != nil {
		c.recordLoadFailure()
		return nil, fmt.Errorf("load tokenizer %q: %w", identifier, err)
	}

	model, err := c.backend.LoadModel(ctx, identifier, device)
	if err != nil {
		_ = tok.Close()
		c.recordLoadFailure()
		return nil, fmt.Errorf("load model %q: %w", identifier, err)
	}

	elapsed := time.Since(start)
	c.loads.Add(1)
	c.metrics.IncrementCounter(telemetry.MetricCacheLoads, 1)
	c.metrics.RecordTimer(telemetry.MetricLoadTime, elapsed)
	c.metrics.RecordTimestamp(telemetry.MetricLastLoad)

	c.countsMu.Lock()
	c.loadCounts[identifier]++
	c.countsMu.Unlock()

	c.logger.Info("Model loaded", "model", identifier, "device", model.Device(), "duration", elapsed)

	return &Entry{
		Identifier: identifier,
		Tokenizer:  tok,
		Model:      model,
		Device:     model.Device(),
		LoadedAt:   time.Now(),
		logger:     c.logger,
	}, nil
}

func (c *Cache) recordLoadFailure() {
	c.loadFailures.Add(1)
	c.metrics.IncrementCounter(telemetry.MetricCacheLoadFail, 1)
}

// selectDevice asks the backend for its devices once and remembers the
// choice for every later load.
func (c *Cache) selectDevice(ctx context.Context) (engine.Device, error) {
	c.deviceMu.Lock()
	defer c.deviceMu.Unlock()

	if c.device != "" {
		return c.device, nil
	}

	available, err := c.backend.Devices(ctx)
	if err != nil {
		return "", fmt.Errorf("list devices: %w", err)
	}
	c.device = engine.SelectDevice(available, c.prefer)
	c.logger.Info("Selected device", "device", c.device, "available", available)
	return c.device, nil
}

func (c *Cache) onEvict(identifier string, e *Entry) {
	c.evictions.Add(1)
	c.metrics.IncrementCounter(telemetry.MetricCacheEvictions, 1)
	c.logger.Info("Evicting model", "model", identifier)
	e.retire()
}

// Loaded returns the resident identifiers, least recently used first.
func (c *Cache) Loaded() []string {
	return c.entries.Keys()
}

// LoadCount returns how many times identifier has been loaded.
func (c *Cache) LoadCount(identifier string) int {
	c.countsMu.Lock()
	defer c.countsMu.Unlock()
	return c.loadCounts[identifier]
}

// Capacity returns the maximum number of resident pairs.
func (c *Cache) Capacity() int {
	return c.capacity
}

// Stats returns cache statistics.
func (c *Cache) Stats() Stats {
	c.deviceMu.Lock()
	device := c.device
	c.deviceMu.Unlock()

	loaded := c.entries.Keys()

	var unavailable []string
	c.failedMu.Lock()
	for id, f := range c.failed {
		if c.retry < 0 || time.Since(f.at) < c.retry {
			unavailable = append(unavailable, id)
		}
	}
	c.failedMu.Unlock()
	sort.Strings(unavailable)

	return Stats{
		Capacity:     c.capacity,
		Size:         len(loaded),
		Loaded:       loaded,
		Device:       string(device),
		Hits:         c.hits.Load(),
		Misses:       c.misses.Load(),
		Loads:        c.loads.Load(),
		LoadFailures: c.loadFailures.Load(),
		Evictions:    c.evictions.Load(),
		Fallbacks:    c.fallbacks.Load(),
		Unavailable:  unavailable,
	}
}

// Close evicts every entry. Entries still leased are closed when released.
func (c *Cache) Close() error {
	if c.closed.Swap(true) {
		return nil
	}
	c.entries.Purge()
	c.failedMu.Lock()
	clear(c.failed)
	c.failedMu.Unlock()
	c.metrics.SetGauge(telemetry.MetricCacheSize, 0)
	return nil
}
