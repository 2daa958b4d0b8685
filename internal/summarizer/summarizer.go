// Package summarizer runs the summarization pipeline: clean the input,
// lease a model from the cache, encode, generate, decode and report
// statistics.
package summarizer

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/localrivet/summaryservice/internal/engine"
	"github.com/localrivet/summaryservice/internal/errortypes"
	"github.com/localrivet/summaryservice/internal/modelcache"
	"github.com/localrivet/summaryservice/internal/registry"
	"github.com/localrivet/summaryservice/internal/telemetry"
	"github.com/localrivet/summaryservice/internal/textproc"
)

// EmptyInputMessage is returned as the summary when there is nothing to
// summarize.
const EmptyInputMessage = "Please provide text to summarize."

// Summarizer defines the interface for summarizing text content.
type Summarizer interface {
	// Summarize condenses text with the model named by modelID. An empty
	// modelID selects the default model.
	Summarize(ctx context.Context, text, modelID string) (*Result, error)

	// Models lists the models that can be requested.
	Models() []registry.Descriptor
}

// Options configures a Service.
type Options struct {
	// MaxInputTokens caps the encoded input. Zero means
	// engine.DefaultMaxInputTokens.
	MaxInputTokens int

	// MaxInputChars truncates cleaned text before encoding. Zero disables it.
	MaxInputChars int

	// GenerationTimeout bounds encode, generate and decode together. Zero
	// means no limit.
	GenerationTimeout time.Duration

	// Version is reported in health reports.
	Version string

	Metrics *telemetry.MetricsCollector
	Logger  *slog.Logger
}

// Service implements Summarizer on top of a model cache.
type Service struct {
	cache    *modelcache.Cache
	registry *registry.Registry
	backend  string
	opts     Options
	metrics  *telemetry.MetricsCollector
	logger   *slog.Logger

	fatal atomic.Int64
}

var _ Summarizer = (*Service)(nil)

// New creates a summarization service. backendName is only used for
// reporting.
func New(cache *modelcache.Cache, reg *registry.Registry, backendName string, opts Options) *Service {
	if opts.MaxInputTokens <= 0 {
		opts.MaxInputTokens = engine.DefaultMaxInputTokens
	}
	if opts.Metrics == nil {
		opts.Metrics = telemetry.NewMetricsCollector()
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		cache:    cache,
		registry: reg,
		backend:  backendName,
		opts:     opts,
		metrics:  opts.Metrics,
		logger:   logger,
	}
}

// Summarize implements Summarizer.
//
// Blank input, including input that is blank once URLs and emails are
// stripped, yields EmptyInputMessage with zeroed statistics and no error.
// Generation parameters and the input prefix come from the model that was
// actually leased, so a request that falls back to the default model is
// generated with the default model's settings, not the requested one's.
// Other failures are returned as *errortypes.AppError values; a failure to
// load the default model is flagged fatal.
func (s *Service) Summarize(ctx context.Context, text, modelID string) (*Result, error) {
	start := time.Now()
	s.metrics.IncrementCounter(telemetry.MetricRequests, 1)

	cleaned := textproc.Clean(text)
	if cleaned == "" {
		s.metrics.IncrementCounter(telemetry.MetricRequestsEmpty, 1)
		return &Result{
			OriginalText: text,
			Summary:      EmptyInputMessage,
			Empty:        true,
		}, nil
	}

	truncated := false
	if s.opts.MaxInputChars > 0 {
		if cut := textproc.Truncate(cleaned, s.opts.MaxInputChars); cut != cleaned {
			cleaned = cut
			truncated = true
		}
	}

	lease, err := s.cache.Acquire(ctx, modelID)
	if err != nil {
		if errortypes.IsFatal(err) {
			s.fatal.Add(1)
		}
		return nil, s.fail(err)
	}
	defer lease.Release()

	desc := s.registry.Describe(lease.Identifier())
	log := s.logger.With("model", lease.Identifier())

	genCtx := ctx
	if s.opts.GenerationTimeout > 0 {
		var cancel context.CancelFunc
		genCtx, cancel = context.WithTimeout(ctx, s.opts.GenerationTimeout)
		defer cancel()
	}

	// One token past the cap separates input that fills the cap exactly from
	// input that was cut. The last id is the end marker and is kept.
	limit := s.opts.MaxInputTokens
	ids, err := lease.Tokenizer().Encode(genCtx, desc.InputPrefix+cleaned, limit+1)
	if err != nil {
		return nil, s.fail(errortypes.GenerationError(err, "failed to tokenize input").
			WithField("model", lease.Identifier()))
	}
	if len(ids) > limit {
		truncated = true
		ids = append(ids[:limit-1], ids[len(ids)-1])
	}

	genStart := time.Now()
	out, err := lease.Model().Generate(genCtx, ids, desc.Generation)
	if err != nil {
		return nil, s.fail(errortypes.GenerationError(err, "failed to generate summary").
			WithField("model", lease.Identifier()))
	}
	s.metrics.RecordTimer(telemetry.MetricGenerationTime, time.Since(genStart))

	summary, err := lease.Tokenizer().Decode(genCtx, out, true)
	if err != nil {
		return nil, s.fail(errortypes.GenerationError(err, "failed to decode summary").
			WithField("model", lease.Identifier()))
	}

	elapsed := time.Since(start)
	result := &Result{
		OriginalText:     text,
		CleanedText:      cleaned,
		Summary:          summary,
		OriginalWords:    textproc.WordCount(text),
		SummaryWords:     textproc.WordCount(summary),
		CompressionRatio: textproc.CompressionRatio(text, summary),
		Duration:         elapsed,
		Model:            lease.Resolution,
		Device:           lease.Device(),
		InputTokens:      len(ids),
		OutputTokens:     len(out),
		Truncated:        truncated,
	}

	s.metrics.IncrementCounter(telemetry.MetricRequestSuccess, 1)
	s.metrics.IncrementCounter(telemetry.MetricInputTokens, int64(len(ids)))
	s.metrics.IncrementCounter(telemetry.MetricOutputTokens, int64(len(out)))
	s.metrics.RecordTimer(telemetry.MetricTotalTime, elapsed)

	log.Debug("Summary generated",
		"original_words", result.OriginalWords,
		"summary_words", result.SummaryWords,
		"input_tokens", result.InputTokens,
		"output_tokens", result.OutputTokens,
		"fallback", result.Model.UsedFallback,
		"duration", elapsed)

	return result, nil
}

func (s *Service) fail(err error) error {
	s.metrics.IncrementCounter(telemetry.MetricRequestFailure, 1)
	if errortypes.IsTimeoutError(err) {
		s.metrics.IncrementCounter(telemetry.MetricTimeouts, 1)
	}
	errortypes.LogError(s.logger, err)
	return err
}

// Models implements Summarizer.
func (s *Service) Models() []registry.Descriptor {
	return s.registry.List()
}

// DefaultModel returns the identifier used when none is requested.
func (s *Service) DefaultModel() string {
	return s.registry.DefaultID()
}

// LoadedModels returns the identifiers currently resident in the cache.
func (s *Service) LoadedModels() []string {
	return s.cache.Loaded()
}

// Warm preloads the default model.
func (s *Service) Warm(ctx context.Context) error {
	if err := s.cache.Warm(ctx); err != nil {
		if errortypes.IsFatal(err) {
			s.fatal.Add(1)
		}
		return err
	}
	return nil
}

// Metrics returns the collector the service reports into.
func (s *Service) Metrics() *telemetry.MetricsCollector {
	return s.metrics
}

// Close releases every cached model.
func (s *Service) Close() error {
	return s.cache.Close()
}
