// Package telemetry provides OpenTelemetry metrics for exploration runs.
package telemetry

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// MetricsProvider provides access to metrics instruments.
type MetricsProvider struct {
	meter metric.Meter

	// Counters
	steps            metric.Int64Counter
	selections       metric.Int64Counter
	fallbacks        metric.Int64Counter
	observerFailures metric.Int64Counter
	errors           metric.Int64Counter

	// Histograms
	actionDuration    metric.Float64Histogram
	selectionDuration metric.Float64Histogram
	runDuration       metric.Float64Histogram

	// Gauges (using UpDownCounter for OpenTelemetry)
	activeRuns         metric.Int64UpDownCounter
	circuitBreakerOpen metric.Int64UpDownCounter

	initOnce sync.Once
	initErr  error
}

// MetricsConfig configures the metrics provider.
type MetricsConfig struct {
	// MeterName is the name of the meter.
	MeterName string
	// MeterVersion is the version of the meter.
	MeterVersion string
}

// DefaultMetricsConfig returns a default metrics configuration.
func DefaultMetricsConfig() MetricsConfig {
	return MetricsConfig{
		MeterName:    "github.com/felixgeelhaar/explore-go",
		MeterVersion: "0.1.0",
	}
}

// NewMetricsProvider creates a new metrics provider on the global meter
// provider.
func NewMetricsProvider(config MetricsConfig) *MetricsProvider {
	if config.MeterName == "" {
		config = DefaultMetricsConfig()
	}

	provider := otel.GetMeterProvider()
	meter := provider.Meter(
		config.MeterName,
		metric.WithInstrumentationVersion(config.MeterVersion),
	)

	mp := &MetricsProvider{
		meter: meter,
	}

	mp.initOnce.Do(func() {
		mp.initErr = mp.initInstruments()
	})

	return mp
}

// initInstruments initializes all metric instruments.
func (mp *MetricsProvider) initInstruments() error {
	var err error

	mp.steps, err = mp.meter.Int64Counter(
		"explore.steps",
		metric.WithDescription("Number of executed exploration steps"),
		metric.WithUnit("{step}"),
	)
	if err != nil {
		return err
	}

	mp.selections, err = mp.meter.Int64Counter(
		"explore.policy.selections",
		metric.WithDescription("Number of times a policy was selected"),
		metric.WithUnit("{selection}"),
	)
	if err != nil {
		return err
	}

	mp.fallbacks, err = mp.meter.Int64Counter(
		"explore.executor.fallbacks",
		metric.WithDescription("Number of coordinate fallbacks taken by the executor"),
		metric.WithUnit("{fallback}"),
	)
	if err != nil {
		return err
	}

	mp.observerFailures, err = mp.meter.Int64Counter(
		"explore.observer.failures",
		metric.WithDescription("Number of observer failures"),
		metric.WithUnit("{failure}"),
	)
	if err != nil {
		return err
	}

	mp.errors, err = mp.meter.Int64Counter(
		"explore.errors",
		metric.WithDescription("Number of errors"),
		metric.WithUnit("{error}"),
	)
	if err != nil {
		return err
	}

	mp.actionDuration, err = mp.meter.Float64Histogram(
		"explore.action.duration",
		metric.WithDescription("Duration of action executions"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return err
	}

	mp.selectionDuration, err = mp.meter.Float64Histogram(
		"explore.selection.duration",
		metric.WithDescription("Duration of policy selection rounds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return err
	}

	mp.runDuration, err = mp.meter.Float64Histogram(
		"explore.run.duration",
		metric.WithDescription("Duration of exploration runs"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return err
	}

	mp.activeRuns, err = mp.meter.Int64UpDownCounter(
		"explore.runs.active",
		metric.WithDescription("Number of active exploration runs"),
		metric.WithUnit("{run}"),
	)
	if err != nil {
		return err
	}

	mp.circuitBreakerOpen, err = mp.meter.Int64UpDownCounter(
		"explore.circuitbreaker.open",
		metric.WithDescription("Number of open circuit breakers"),
		metric.WithUnit("{circuit}"),
	)
	if err != nil {
		return err
	}

	return nil
}

// Error returns any initialization error.
func (mp *MetricsProvider) Error() error {
	return mp.initErr
}

// RecordStep records an executed step.
func (mp *MetricsProvider) RecordStep(ctx context.Context, kind string, success bool, duration time.Duration) {
	attrs := []attribute.KeyValue{
		attribute.String("action.kind", kind),
		attribute.Bool("success", success),
	}

	mp.steps.Add(ctx, 1, metric.WithAttributes(attrs...))
	mp.actionDuration.Record(ctx, float64(duration.Milliseconds()), metric.WithAttributes(attrs...))

	if !success {
		mp.errors.Add(ctx, 1, metric.WithAttributes(
			attribute.String("error.type", "step_failure"),
			attribute.String("action.kind", kind),
		))
	}
}

// RecordSelection records a selection round won by a policy.
func (mp *MetricsProvider) RecordSelection(ctx context.Context, policy, selector string, duration time.Duration) {
	attrs := []attribute.KeyValue{
		attribute.String("policy.name", policy),
		attribute.String("selector", selector),
	}

	mp.selections.Add(ctx, 1, metric.WithAttributes(attrs...))
	mp.selectionDuration.Record(ctx, float64(duration.Milliseconds()), metric.WithAttributes(attrs...))
}

// RecordFallback records a coordinate fallback.
func (mp *MetricsProvider) RecordFallback(ctx context.Context, kind string, success bool) {
	mp.fallbacks.Add(ctx, 1, metric.WithAttributes(
		attribute.String("action.kind", kind),
		attribute.Bool("success", success),
	))
}

// RecordObserverFailure records a failed observer invocation.
func (mp *MetricsProvider) RecordObserverFailure(ctx context.Context, observer string) {
	mp.observerFailures.Add(ctx, 1, metric.WithAttributes(
		attribute.String("observer.name", observer),
	))
}

// RecordError records an error.
func (mp *MetricsProvider) RecordError(ctx context.Context, errorType string, details map[string]string) {
	attrs := []attribute.KeyValue{
		attribute.String("error.type", errorType),
	}
	for k, v := range details {
		attrs = append(attrs, attribute.String(k, v))
	}

	mp.errors.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordRunDuration records the duration of a run.
func (mp *MetricsProvider) RecordRunDuration(ctx context.Context, duration time.Duration, steps int, success bool) {
	attrs := []attribute.KeyValue{
		attribute.Int("run.steps", steps),
		attribute.Bool("success", success),
	}

	mp.runDuration.Record(ctx, float64(duration.Milliseconds()), metric.WithAttributes(attrs...))
}

// IncrementActiveRuns increments the active runs counter.
func (mp *MetricsProvider) IncrementActiveRuns(ctx context.Context) {
	mp.activeRuns.Add(ctx, 1)
}

// DecrementActiveRuns decrements the active runs counter.
func (mp *MetricsProvider) DecrementActiveRuns(ctx context.Context) {
	mp.activeRuns.Add(ctx, -1)
}

// RecordCircuitBreakerStateChange records a circuit breaker state change.
func (mp *MetricsProvider) RecordCircuitBreakerStateChange(ctx context.Context, name string, isOpen bool) {
	attrs := []attribute.KeyValue{
		attribute.String("circuit.name", name),
	}

	if isOpen {
		mp.circuitBreakerOpen.Add(ctx, 1, metric.WithAttributes(attrs...))
	} else {
		mp.circuitBreakerOpen.Add(ctx, -1, metric.WithAttributes(attrs...))
	}
}

// NoopMetricsProvider is a no-op metrics provider for testing or when metrics are disabled.
type NoopMetricsProvider struct{}

// RecordStep is a no-op.
func (n *NoopMetricsProvider) RecordStep(ctx context.Context, kind string, success bool, duration time.Duration) {
}

// RecordSelection is a no-op.
func (n *NoopMetricsProvider) RecordSelection(ctx context.Context, policy, selector string, duration time.Duration) {
}

// RecordFallback is a no-op.
func (n *NoopMetricsProvider) RecordFallback(ctx context.Context, kind string, success bool) {}

// RecordObserverFailure is a no-op.
func (n *NoopMetricsProvider) RecordObserverFailure(ctx context.Context, observer string) {}

// RecordError is a no-op.
func (n *NoopMetricsProvider) RecordError(ctx context.Context, errorType string, details map[string]string) {
}

// RecordRunDuration is a no-op.
func (n *NoopMetricsProvider) RecordRunDuration(ctx context.Context, duration time.Duration, steps int, success bool) {
}

// IncrementActiveRuns is a no-op.
func (n *NoopMetricsProvider) IncrementActiveRuns(ctx context.Context) {}

// DecrementActiveRuns is a no-op.
func (n *NoopMetricsProvider) DecrementActiveRuns(ctx context.Context) {}

// RecordCircuitBreakerStateChange is a no-op.
func (n *NoopMetricsProvider) RecordCircuitBreakerStateChange(ctx context.Context, name string, isOpen bool) {
}

// Metrics defines the interface for metrics recording.
type Metrics interface {
	RecordStep(ctx context.Context, kind string, success bool, duration time.Duration)
	RecordSelection(ctx context.Context, policy, selector string, duration time.Duration)
	RecordFallback(ctx context.Context, kind string, success bool)
	RecordObserverFailure(ctx context.Context, observer string)
	RecordError(ctx context.Context, errorType string, details map[string]string)
	RecordRunDuration(ctx context.Context, duration time.Duration, steps int, success bool)
	IncrementActiveRuns(ctx context.Context)
	DecrementActiveRuns(ctx context.Context)
	RecordCircuitBreakerStateChange(ctx context.Context, name string, isOpen bool)
}

// Ensure implementations satisfy the interface.
var (
	_ Metrics = (*MetricsProvider)(nil)
	_ Metrics = (*NoopMetricsProvider)(nil)
)
