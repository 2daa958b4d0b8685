package summarizer

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/localrivet/summaryservice/internal/engine"
	"github.com/localrivet/summaryservice/internal/engine/extractive"
	"github.com/localrivet/summaryservice/internal/errortypes"
	"github.com/localrivet/summaryservice/internal/modelcache"
	"github.com/localrivet/summaryservice/internal/registry"
	"github.com/localrivet/summaryservice/internal/telemetry"
	"github.com/localrivet/summaryservice/internal/textproc"
)

const article = "The city council approved a new budget on Tuesday. " +
	"The budget increases funding for public transit and road repairs. " +
	"Council members debated the transit plan for three hours. " +
	"Local businesses said the road repairs were overdue. " +
	"Read more at https://news.example.com/budget or write to editor@example.com. " +
	"The mayor is expected to sign the budget next week."

// hookBackend wraps the extractive backend so tests can observe encoded
// text and inject generation failures.
type hookBackend struct {
	*extractive.Backend
	generate func(ctx context.Context) error

	mu      sync.Mutex
	encoded []string
}

type hookTokenizer struct {
	engine.Tokenizer
	b *hookBackend
}

func (t *hookTokenizer) Encode(ctx context.Context, text string, maxTokens int) ([]int64, error) {
	t.b.mu.Lock()
	t.b.encoded = append(t.b.encoded, text)
	t.b.mu.Unlock()
	return t.Tokenizer.Encode(ctx, text, maxTokens)
}

type hookModel struct {
	engine.Model
	b *hookBackend
}

func (m *hookModel) Generate(ctx context.Context, ids []int64, params engine.GenerationParams) ([]int64, error) {
	if m.b.generate != nil {
		if err := m.b.generate(ctx); err != nil {
			return nil, err
		}
	}
	return m.Model.Generate(ctx, ids, params)
}

func newHookBackend(allowed ...string) *hookBackend {
	return &hookBackend{Backend: extractive.New(allowed...)}
}

func (b *hookBackend) LoadTokenizer(ctx context.Context, id string) (engine.Tokenizer, error) {
	tok, err := b.Backend.LoadTokenizer(ctx, id)
	if err != nil {
		return nil, err
	}
	return &hookTokenizer{Tokenizer: tok, b: b}, nil
}

func (b *hookBackend) LoadModel(ctx context.Context, id string, device engine.Device) (engine.Model, error) {
	m, err := b.Backend.LoadModel(ctx, id, device)
	if err != nil {
		return nil, err
	}
	return &hookModel{Model: m, b: b}, nil
}

func (b *hookBackend) lastEncoded() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.encoded) == 0 {
		return ""
	}
	return b.encoded[len(b.encoded)-1]
}

func newTestService(t *testing.T, backend engine.Backend, opts Options) *Service {
	t.Helper()
	reg := registry.Builtin()
	if opts.Metrics == nil {
		opts.Metrics = telemetry.NewMetricsCollector()
	}
	cache, err := modelcache.New(backend, reg, modelcache.Options{Capacity: 2, Metrics: opts.Metrics})
	require.NoError(t, err)
	s := New(cache, reg, backend.Name(), opts)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSummarizeEmptyInput(t *testing.T) {
	s := newTestService(t, newHookBackend(), Options{})

	for _, input := range []string{"", "   \n\t ", "https://example.com/only-a-link"} {
		result, err := s.Summarize(context.Background(), input, "")
		require.NoError(t, err)
		assert.Equal(t, EmptyInputMessage, result.Summary)
		assert.True(t, result.Empty)
		assert.Zero(t, result.OriginalWords)
		assert.Zero(t, result.SummaryWords)
		assert.Zero(t, result.CompressionRatio)
		assert.Zero(t, result.InputTokens)
	}
	assert.Empty(t, s.cache.Loaded(), "empty input must not load a model")
}

func TestSummarize(t *testing.T) {
	b := newHookBackend()
	s := newTestService(t, b, Options{})

	result, err := s.Summarize(context.Background(), article, "")
	require.NoError(t, err)

	assert.NotEmpty(t, result.Summary)
	assert.False(t, result.Empty)
	assert.Equal(t, article, result.OriginalText)
	assert.Equal(t, textproc.Clean(article), result.CleanedText)
	assert.NotContains(t, result.CleanedText, "https://")
	assert.NotContains(t, result.CleanedText, "editor@example.com")

	assert.Equal(t, textproc.WordCount(article), result.OriginalWords)
	assert.Equal(t, textproc.WordCount(result.Summary), result.SummaryWords)
	want := 1 - float64(result.SummaryWords)/float64(result.OriginalWords)
	assert.InDelta(t, want, result.CompressionRatio, 1e-9)

	assert.Equal(t, registry.Resolution{Identifier: registry.DefaultModelID}, result.Model)
	assert.Equal(t, engine.DeviceCPU, result.Device)
	assert.Positive(t, result.InputTokens)
	assert.Positive(t, result.OutputTokens)
	assert.False(t, result.Truncated)
	assert.Positive(t, result.Duration)

	again, err := s.Summarize(context.Background(), article, "")
	require.NoError(t, err)
	assert.Equal(t, result.Summary, again.Summary, "generation is deterministic")
	assert.Equal(t, 1, s.cache.LoadCount(registry.DefaultModelID))
}

func TestSummarizeAppliesInputPrefix(t *testing.T) {
	b := newHookBackend()
	s := newTestService(t, b, Options{})

	_, err := s.Summarize(context.Background(), article, "t5-base")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(b.lastEncoded(), "summarize: "))

	_, err = s.Summarize(context.Background(), article, "facebook/bart-large-xsum")
	require.NoError(t, err)
	assert.Equal(t, textproc.Clean(article), b.lastEncoded())
}

func TestSummarizeUnknownModel(t *testing.T) {
	s := newTestService(t, newHookBackend(), Options{})

	result, err := s.Summarize(context.Background(), article, "acme/unknown")
	require.NoError(t, err)
	assert.Equal(t, registry.DefaultModelID, result.Model.Identifier)
	assert.True(t, result.Model.UsedFallback)
	assert.Equal(t, registry.ReasonUnknown, result.Model.Reason)
}

func TestSummarizeLoadFailureFallsBack(t *testing.T) {
	b := newHookBackend(registry.DefaultModelID, "facebook/bart-large-xsum", "t5-base")
	s := newTestService(t, b, Options{})

	result, err := s.Summarize(context.Background(), article, "google/pegasus-xsum")
	require.NoError(t, err)
	assert.Equal(t, registry.Resolution{
		Requested:    "google/pegasus-xsum",
		Identifier:   registry.DefaultModelID,
		UsedFallback: true,
		Reason:       registry.ReasonLoadFailed,
	}, result.Model)

	report, err := s.Health()
	require.NoError(t, err)
	assert.Equal(t, StatusDegraded, report.Status)
	assert.Equal(t, int64(1), report.Cache.Fallbacks)
}

func TestSummarizeDefaultLoadFailure(t *testing.T) {
	b := newHookBackend("google/pegasus-xsum")
	s := newTestService(t, b, Options{})

	result, err := s.Summarize(context.Background(), article, "")
	require.Error(t, err)
	assert.Nil(t, result)
	assert.True(t, errortypes.IsFatal(err))
	assert.True(t, errortypes.IsModelLoadError(err))

	report, err := s.Health()
	require.NoError(t, err)
	assert.Equal(t, StatusUnhealthy, report.Status)
}

func TestSummarizeGenerationFailure(t *testing.T) {
	b := newHookBackend()
	b.generate = func(ctx context.Context) error { return errors.New("beam search exploded") }
	s := newTestService(t, b, Options{})

	result, err := s.Summarize(context.Background(), article, "")
	require.Error(t, err)
	assert.Nil(t, result)
	assert.True(t, errortypes.IsGenerationError(err))
	assert.False(t, errortypes.IsFatal(err))
	assert.Equal(t, "An error occurred during summarization: beam search exploded", Diagnostic(err))

	assert.Equal(t, int64(1), s.Metrics().GetCounter(telemetry.MetricRequestFailure))
}

func TestSummarizeGenerationTimeout(t *testing.T) {
	b := newHookBackend()
	b.generate = func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}
	s := newTestService(t, b, Options{GenerationTimeout: 20 * time.Millisecond})

	_, err := s.Summarize(context.Background(), article, "")
	require.Error(t, err)
	assert.True(t, errortypes.IsTimeoutError(err))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, int64(1), s.Metrics().GetCounter(telemetry.MetricTimeouts))
}

func TestSummarizeTruncatesInput(t *testing.T) {
	b := newHookBackend()
	s := newTestService(t, b, Options{MaxInputChars: 80})

	result, err := s.Summarize(context.Background(), article, "facebook/bart-large-xsum")
	require.NoError(t, err)
	assert.True(t, result.Truncated)
	assert.LessOrEqual(t, len([]rune(result.CleanedText)), 80)
	assert.Equal(t, result.CleanedText, b.lastEncoded())
}

func TestSummarizeTokenCap(t *testing.T) {
	b := newHookBackend()
	s := newTestService(t, b, Options{MaxInputTokens: 16})

	result, err := s.Summarize(context.Background(), article, "")
	require.NoError(t, err)
	assert.Equal(t, 16, result.InputTokens)
	assert.True(t, result.Truncated)
}

func TestSummarizeInputAtTokenCapIsNotTruncated(t *testing.T) {
	b := newHookBackend()
	// BOS + six words + period + EOS
	const text = "one two three four five six."

	s := newTestService(t, b, Options{MaxInputTokens: 9})
	result, err := s.Summarize(context.Background(), text, "")
	require.NoError(t, err)
	assert.Equal(t, 9, result.InputTokens)
	assert.False(t, result.Truncated, "input exactly at the cap is not cut")

	s = newTestService(t, newHookBackend(), Options{MaxInputTokens: 8})
	result, err = s.Summarize(context.Background(), text, "")
	require.NoError(t, err)
	assert.Equal(t, 8, result.InputTokens)
	assert.True(t, result.Truncated)
}

func TestSummarizeUsesLeasedModelSettings(t *testing.T) {
	b := newHookBackend(registry.DefaultModelID)
	s := newTestService(t, b, Options{})

	result, err := s.Summarize(context.Background(), article, "t5-base")
	require.NoError(t, err)
	require.True(t, result.Model.UsedFallback)
	assert.Equal(t, registry.DefaultModelID, result.Model.Identifier)

	t5 := s.registry.Describe("t5-base")
	require.NotEmpty(t, t5.InputPrefix)
	assert.False(t, strings.HasPrefix(b.lastEncoded(), t5.InputPrefix),
		"the fallback model does not get the requested model's prefix")
	assert.LessOrEqual(t, result.OutputTokens, s.registry.Describe(registry.DefaultModelID).Generation.MaxLength)
}

func TestDiagnostic(t *testing.T) {
	assert.Equal(t, "", Diagnostic(nil))
	assert.Equal(t, "An error occurred during summarization: plain", Diagnostic(errors.New("plain")))
}

func TestModels(t *testing.T) {
	s := newTestService(t, newHookBackend(), Options{})

	models := s.Models()
	require.Len(t, models, 4)
	assert.Equal(t, registry.DefaultModelID, models[0].ID)
	assert.Equal(t, registry.DefaultModelID, s.DefaultModel())
}

func TestHealthReport(t *testing.T) {
	s := newTestService(t, newHookBackend(), Options{Version: "1.2.3"})

	report, err := CreateHealthReport(s)
	require.NoError(t, err)
	assert.Equal(t, StatusHealthy, report.Status)
	assert.Equal(t, "not_loaded", report.Components["default_model"])

	require.NoError(t, s.Warm(context.Background()))
	_, err = s.Summarize(context.Background(), article, "")
	require.NoError(t, err)

	report, err = CreateHealthReport(s)
	require.NoError(t, err)
	assert.Equal(t, StatusHealthy, report.Status)
	assert.Equal(t, "loaded", report.Components["default_model"])
	assert.Equal(t, int64(1), report.TotalRequests)
	assert.Equal(t, 100.0, report.SuccessRate)
	assert.Equal(t, "extractive", report.Backend)
	assert.Equal(t, "1.2.3", report.Version)

	jsonReport, err := CreateHealthReportJSON(s)
	require.NoError(t, err)
	var parsed map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(jsonReport), &parsed))
	assert.Equal(t, "healthy", parsed["status"])

	require.NoError(t, ResetMetrics(s))
	assert.Zero(t, s.Metrics().GetCounter(telemetry.MetricRequests))

	_, err = CreateHealthReport(nil)
	assert.Error(t, err)
}
