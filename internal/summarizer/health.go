package summarizer

import (
	"encoding/json"
	"fmt"
	"slices"
	"time"

	"github.com/localrivet/summaryservice/internal/modelcache"
	"github.com/localrivet/summaryservice/internal/telemetry"
)

// HealthStatus represents the health status of a component
type HealthStatus string

const (
	// StatusHealthy indicates a component is fully operational
	StatusHealthy HealthStatus = "healthy"

	// StatusDegraded indicates a component is operational but with reduced capability
	StatusDegraded HealthStatus = "degraded"

	// StatusUnhealthy indicates a component is not operational
	StatusUnhealthy HealthStatus = "unhealthy"
)

// HealthReport contains information about the current health of the summarization service
type HealthReport struct {
	Status        HealthStatus       `json:"status"`
	Timestamp     time.Time          `json:"timestamp"`
	Backend       string             `json:"backend"`
	DefaultModel  string             `json:"default_model"`
	Components    map[string]string  `json:"components"`
	Cache         modelcache.Stats   `json:"cache"`
	ResponseTimes map[string]float64 `json:"response_times_ms"`
	SuccessRate   float64            `json:"success_rate"`
	TotalRequests int64              `json:"total_requests"`
	Version       string             `json:"version"`
}

// CreateHealthReport generates a health report for the service.
//
// The service is unhealthy after the default model failed to load and it is
// still not resident, degraded after any load or generation failure, and
// healthy otherwise.
func CreateHealthReport(s *Service) (*HealthReport, error) {
	if s == nil {
		return nil, fmt.Errorf("summarizer is nil")
	}

	m := s.metrics
	stats := s.cache.Stats()
	defaultID := s.registry.DefaultID()
	defaultLoaded := slices.Contains(stats.Loaded, defaultID)

	success := m.GetCounter(telemetry.MetricRequestSuccess)
	failure := m.GetCounter(telemetry.MetricRequestFailure)
	totalRequests := success + failure

	var successRate float64
	if totalRequests > 0 {
		successRate = float64(success) / float64(totalRequests) * 100.0
	}

	components := map[string]string{
		"cache":         string(StatusHealthy),
		"default_model": "not_loaded",
		"generation":    string(StatusHealthy),
	}
	if defaultLoaded {
		components["default_model"] = "loaded"
	}
	if stats.LoadFailures > 0 {
		components["cache"] = string(StatusDegraded)
	}
	if failure > 0 {
		components["generation"] = string(StatusDegraded)
	}

	status := StatusHealthy
	switch {
	case s.fatal.Load() > 0 && !defaultLoaded:
		status = StatusUnhealthy
		components["default_model"] = string(StatusUnhealthy)
	case stats.LoadFailures > 0 || failure > 0:
		status = StatusDegraded
	}

	responseTimes := map[string]float64{
		"load":           millis(m.GetTimerAverage(telemetry.MetricLoadTime)),
		"generation":     millis(m.GetTimerAverage(telemetry.MetricGenerationTime)),
		"generation_p95": millis(m.GetTimerP95(telemetry.MetricGenerationTime)),
		"total":          millis(m.GetTimerAverage(telemetry.MetricTotalTime)),
	}

	version := s.opts.Version
	if version == "" {
		version = "dev"
	}

	return &HealthReport{
		Status:        status,
		Timestamp:     time.Now(),
		Backend:       s.backend,
		DefaultModel:  defaultID,
		Components:    components,
		Cache:         stats,
		ResponseTimes: responseTimes,
		SuccessRate:   successRate,
		TotalRequests: totalRequests,
		Version:       version,
	}, nil
}

// CreateHealthReportJSON generates a JSON health report for the service
func CreateHealthReportJSON(s *Service) (string, error) {
	report, err := CreateHealthReport(s)
	if err != nil {
		return "", err
	}

	reportJSON, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal health report: %w", err)
	}

	return string(reportJSON), nil
}

// ResetMetrics resets all metrics for the service
func ResetMetrics(s *Service) error {
	if s == nil {
		return fmt.Errorf("summarizer is nil")
	}
	s.metrics.Reset()
	s.fatal.Store(0)
	return nil
}

func millis(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}

// Health reports the current health of the service.
func (s *Service) Health() (*HealthReport, error) {
	return CreateHealthReport(s)
}
