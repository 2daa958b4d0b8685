package telemetry

import (
	"strings"
	"sync"
	"testing"
	"time"
)

func TestCounterAndGauge(t *testing.T) {
	m := NewMetricsCollector()

	m.IncrementCounter(MetricCacheHits, 2)
	m.IncrementCounter(MetricCacheHits, 3)
	m.SetGauge(MetricCacheSize, 2)

	if got := m.GetCounter(MetricCacheHits); got != 5 {
		t.Errorf("GetCounter() = %d, want 5", got)
	}
	if got := m.GetGauge(MetricCacheSize); got != 2 {
		t.Errorf("GetGauge() = %v, want 2", got)
	}
	if got := m.GetCounter("never.set"); got != 0 {
		t.Errorf("unset counter = %d, want 0", got)
	}
}

func TestTimers(t *testing.T) {
	m := NewMetricsCollector()

	for i := 1; i <= 20; i++ {
		m.RecordTimer(MetricGenerationTime, time.Duration(i)*time.Millisecond)
	}

	if got := m.GetTimerAverage(MetricGenerationTime); got != 10500*time.Microsecond {
		t.Errorf("GetTimerAverage() = %v, want 10.5ms", got)
	}
	if got := m.GetTimerP95(MetricGenerationTime); got != 20*time.Millisecond {
		t.Errorf("GetTimerP95() = %v, want 20ms", got)
	}
	if got := m.GetTimerAverage("missing"); got != 0 {
		t.Errorf("missing timer average = %v, want 0", got)
	}
}

func TestTimerWindowIsBounded(t *testing.T) {
	m := NewMetricsCollector()

	for i := 0; i < maxTimerSamples+50; i++ {
		m.RecordTimer(MetricTotalTime, time.Millisecond)
	}

	if got := m.GetTimerCount(MetricTotalTime); got != maxTimerSamples {
		t.Errorf("GetTimerCount() = %d, want %d", got, maxTimerSamples)
	}
}

func TestReportAndReset(t *testing.T) {
	m := NewMetricsCollector()
	m.IncrementCounter(MetricRequests, 1)
	m.SetGauge(MetricCacheSize, 1)
	m.RecordTimer(MetricLoadTime, time.Second)
	m.RecordTimestamp(MetricLastLoad)

	report := m.GetReport()
	for _, want := range []string{MetricRequests, MetricCacheSize, MetricLoadTime, MetricLastLoad} {
		if !strings.Contains(report, want) {
			t.Errorf("report missing %q:\n%s", want, report)
		}
	}

	if m.GetTimeSince(MetricLastLoad) <= 0 {
		t.Error("expected a positive time since last load")
	}

	m.Reset()
	if m.GetCounter(MetricRequests) != 0 || m.GetTimerCount(MetricLoadTime) != 0 {
		t.Error("metrics not reset")
	}
}

func TestConcurrentUpdates(t *testing.T) {
	m := NewMetricsCollector()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.IncrementCounter(MetricRequests, 1)
			m.RecordTimer(MetricTotalTime, time.Millisecond)
		}()
	}
	wg.Wait()

	if got := m.GetCounter(MetricRequests); got != 50 {
		t.Errorf("GetCounter() = %d, want 50", got)
	}
}
