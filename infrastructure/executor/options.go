package executor

import (
	"time"

	"github.com/felixgeelhaar/explore-go/infrastructure/telemetry"
)

// Config configures the action executor.
type Config struct {
	// InteractionTimeout bounds every single device call.
	InteractionTimeout time.Duration

	// ReconnectAttempts bounds the reconnect before the coordinate fallback.
	// Values above MaxReconnectAttempts are clamped.
	ReconnectAttempts int

	// ReconnectDelay is the initial delay between reconnect attempts.
	ReconnectDelay time.Duration

	// SettleDelay is added to every action's own delay after success.
	SettleDelay time.Duration
}

// MaxReconnectAttempts is the number of reconnects allowed per step.
const MaxReconnectAttempts = 1

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() Config {
	return Config{
		InteractionTimeout: 30 * time.Second,
		ReconnectAttempts:  1,
		ReconnectDelay:     100 * time.Millisecond,
		SettleDelay:        0,
	}
}

// Option configures the executor.
type Option func(*Executor)

// WithConfig replaces the whole configuration.
func WithConfig(cfg Config) Option {
	return func(e *Executor) {
		e.cfg = cfg
	}
}

// WithInteractionTimeout sets the per-call timeout.
func WithInteractionTimeout(d time.Duration) Option {
	return func(e *Executor) {
		e.cfg.InteractionTimeout = d
	}
}

// WithReconnectAttempts sets the reconnect attempt bound, at most
// MaxReconnectAttempts.
func WithReconnectAttempts(n int) Option {
	return func(e *Executor) {
		e.cfg.ReconnectAttempts = n
	}
}

// WithReconnectDelay sets the initial delay between reconnect attempts.
func WithReconnectDelay(d time.Duration) Option {
	return func(e *Executor) {
		e.cfg.ReconnectDelay = d
	}
}

// WithSettleDelay sets the extra settle delay after successful actions.
func WithSettleDelay(d time.Duration) Option {
	return func(e *Executor) {
		e.cfg.SettleDelay = d
	}
}

// WithMetrics sets the metrics recorder.
func WithMetrics(m telemetry.Metrics) Option {
	return func(e *Executor) {
		e.metrics = m
	}
}

// WithTimers shares a timer set with the caller.
func WithTimers(t *Timers) Option {
	return func(e *Executor) {
		e.timers = t
	}
}
