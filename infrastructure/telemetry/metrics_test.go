package telemetry

import (
	"context"
	"testing"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

// setupTestMetrics sets up a test meter provider and returns it along with a reader.
func setupTestMetrics(t *testing.T) (*metric.ManualReader, *MetricsProvider) {
	reader := metric.NewManualReader()
	provider := metric.NewMeterProvider(metric.WithReader(reader))
	otel.SetMeterProvider(provider)

	mp := NewMetricsProvider(DefaultMetricsConfig())
	if mp.Error() != nil {
		t.Fatalf("failed to create metrics provider: %v", mp.Error())
	}

	return reader, mp
}

// sumOf collects the metrics and returns the total of an int64 sum.
func sumOf(t *testing.T, reader *metric.ManualReader, name string) (int64, bool) {
	t.Helper()

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("failed to collect metrics: %v", err)
	}

	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != name {
				continue
			}
			sum, ok := m.Data.(metricdata.Sum[int64])
			if !ok {
				t.Fatalf("expected Sum[int64] for %s, got %T", name, m.Data)
			}
			var total int64
			for _, dp := range sum.DataPoints {
				total += dp.Value
			}
			return total, true
		}
	}
	return 0, false
}

func TestNewMetricsProvider(t *testing.T) {
	reader, mp := setupTestMetrics(t)
	defer reader.Shutdown(context.Background())

	if mp == nil {
		t.Fatal("NewMetricsProvider returned nil")
	}
}

func TestNewMetricsProvider_EmptyConfig(t *testing.T) {
	reader, _ := setupTestMetrics(t)
	defer reader.Shutdown(context.Background())

	mp := NewMetricsProvider(MetricsConfig{})
	if mp.Error() != nil {
		t.Errorf("unexpected error: %v", mp.Error())
	}
}

func TestMetricsProvider_RecordStep(t *testing.T) {
	reader, mp := setupTestMetrics(t)
	defer reader.Shutdown(context.Background())

	ctx := context.Background()
	mp.RecordStep(ctx, "click", true, 100*time.Millisecond)
	mp.RecordStep(ctx, "click", false, 50*time.Millisecond)
	mp.RecordStep(ctx, "reset", true, 10*time.Millisecond)

	total, found := sumOf(t, reader, "explore.steps")
	if !found {
		t.Fatal("explore.steps metric not found")
	}
	if total != 3 {
		t.Errorf("expected 3 steps, got %d", total)
	}
}

func TestMetricsProvider_RecordStepFailureCountsError(t *testing.T) {
	reader, mp := setupTestMetrics(t)
	defer reader.Shutdown(context.Background())

	mp.RecordStep(context.Background(), "click", false, time.Millisecond)

	total, found := sumOf(t, reader, "explore.errors")
	if !found || total != 1 {
		t.Errorf("explore.errors = %d (found %v), want 1", total, found)
	}
}

func TestMetricsProvider_RecordSelection(t *testing.T) {
	reader, mp := setupTestMetrics(t)
	defer reader.Shutdown(context.Background())

	ctx := context.Background()
	mp.RecordSelection(ctx, "random-widget", "catch-all", time.Millisecond)
	mp.RecordSelection(ctx, "terminate", "terminate", time.Millisecond)

	total, found := sumOf(t, reader, "explore.policy.selections")
	if !found || total != 2 {
		t.Errorf("explore.policy.selections = %d (found %v), want 2", total, found)
	}
}

func TestMetricsProvider_RecordFallbackAndObserverFailure(t *testing.T) {
	reader, mp := setupTestMetrics(t)
	defer reader.Shutdown(context.Background())

	ctx := context.Background()
	mp.RecordFallback(ctx, "click", true)
	mp.RecordObserverFailure(ctx, "coverage")
	mp.RecordObserverFailure(ctx, "coverage")

	if total, _ := sumOf(t, reader, "explore.executor.fallbacks"); total != 1 {
		t.Errorf("explore.executor.fallbacks = %d, want 1", total)
	}
	if total, _ := sumOf(t, reader, "explore.observer.failures"); total != 2 {
		t.Errorf("explore.observer.failures = %d, want 2", total)
	}
}

func TestMetricsProvider_ActiveRuns(t *testing.T) {
	reader, mp := setupTestMetrics(t)
	defer reader.Shutdown(context.Background())

	ctx := context.Background()
	mp.IncrementActiveRuns(ctx)
	mp.IncrementActiveRuns(ctx)
	mp.DecrementActiveRuns(ctx)

	total, found := sumOf(t, reader, "explore.runs.active")
	if !found || total != 1 {
		t.Errorf("explore.runs.active = %d (found %v), want 1", total, found)
	}
}

func TestMetricsProvider_CircuitBreaker(t *testing.T) {
	reader, mp := setupTestMetrics(t)
	defer reader.Shutdown(context.Background())

	ctx := context.Background()
	mp.RecordCircuitBreakerStateChange(ctx, "coverage", true)
	mp.RecordCircuitBreakerStateChange(ctx, "coverage", false)

	total, found := sumOf(t, reader, "explore.circuitbreaker.open")
	if !found || total != 0 {
		t.Errorf("explore.circuitbreaker.open = %d (found %v), want 0", total, found)
	}
}

func TestNoopMetricsProvider(t *testing.T) {
	t.Parallel()

	var m Metrics = &NoopMetricsProvider{}
	ctx := context.Background()

	m.RecordStep(ctx, "click", true, time.Second)
	m.RecordSelection(ctx, "p", "s", time.Second)
	m.RecordFallback(ctx, "click", false)
	m.RecordObserverFailure(ctx, "o")
	m.RecordError(ctx, "x", map[string]string{"k": "v"})
	m.RecordRunDuration(ctx, time.Second, 3, true)
	m.IncrementActiveRuns(ctx)
	m.DecrementActiveRuns(ctx)
	m.RecordCircuitBreakerStateChange(ctx, "c", true)
}
