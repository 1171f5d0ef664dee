package application

import (
	"time"

	"github.com/felixgeelhaar/explore-go/domain/device"
	"github.com/felixgeelhaar/explore-go/domain/strategy"
	"github.com/felixgeelhaar/explore-go/infrastructure/executor"
	"github.com/felixgeelhaar/explore-go/infrastructure/telemetry"
)

// Option configures the explorer.
type Option func(*ExplorerConfig)

// WithSurface sets the device control surface.
func WithSurface(s device.ControlSurface) Option {
	return func(c *ExplorerConfig) {
		c.Surface = s
	}
}

// WithExecutorOptions appends options for the per-run action executor.
func WithExecutorOptions(opts ...executor.Option) Option {
	return func(c *ExplorerConfig) {
		c.ExecutorOptions = append(c.ExecutorOptions, opts...)
	}
}

// WithSelectors sets the selectors tried on every selection round.
func WithSelectors(selectors ...strategy.Selector) Option {
	return func(c *ExplorerConfig) {
		c.Selectors = selectors
	}
}

// WithPolicies sets the factory creating the policies of each run.
func WithPolicies(f PolicyFactory) Option {
	return func(c *ExplorerConfig) {
		c.Policies = f
	}
}

// WithObservers sets the factory creating the observers of each run.
func WithObservers(f ObserverFactory) Option {
	return func(c *ExplorerConfig) {
		c.Observers = f
	}
}

// WithScreenshots requests a screenshot with every action.
func WithScreenshots(enabled bool) Option {
	return func(c *ExplorerConfig) {
		c.TakeScreenshots = enabled
	}
}

// WithWorkers bounds the number of concurrently evaluated selectors.
func WithWorkers(n int) Option {
	return func(c *ExplorerConfig) {
		c.SelectionWorkers = n
	}
}

// WithMetrics sets the metrics recorder.
func WithMetrics(m telemetry.Metrics) Option {
	return func(c *ExplorerConfig) {
		c.Metrics = m
	}
}

// WithClock overrides the clock used to stamp actions.
func WithClock(now func() time.Time) Option {
	return func(c *ExplorerConfig) {
		c.Clock = now
	}
}

// NewExplorerWithOptions creates an explorer with functional options.
func NewExplorerWithOptions(opts ...Option) (*Explorer, error) {
	config := ExplorerConfig{}
	for _, opt := range opts {
		opt(&config)
	}
	return NewExplorer(config)
}
