// Package executor turns exploration actions into execution results against
// a control surface, using fortify for the bounded reconnect tier.
package executor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/felixgeelhaar/fortify/bulkhead"
	"github.com/felixgeelhaar/fortify/retry"

	"github.com/felixgeelhaar/explore-go/domain/device"
	"github.com/felixgeelhaar/explore-go/domain/exploration"
	"github.com/felixgeelhaar/explore-go/infrastructure/logging"
	"github.com/felixgeelhaar/explore-go/infrastructure/telemetry"
)

// Executor executes actions one at a time. Step failures are reported in
// the result, never as errors.
type Executor struct {
	surface device.ControlSurface
	app     exploration.App
	cfg     Config

	// surfaceGate admits one device interaction at a time.
	surfaceGate bulkhead.Bulkhead[exploration.Snapshot]
	reconnect   retry.Retry[struct{}]

	// logMu makes log draining exclusive.
	logMu sync.Mutex

	timers  *Timers
	metrics telemetry.Metrics
	log     *logging.Scoped
}

// New creates an executor for the application on the given surface.
func New(surface device.ControlSurface, app exploration.App, opts ...Option) *Executor {
	e := &Executor{
		surface: surface,
		app:     app,
		cfg:     DefaultConfig(),
		metrics: &telemetry.NoopMetricsProvider{},
		log:     logging.For("executor"),
	}
	for _, opt := range opts {
		opt(e)
	}

	switch {
	case e.cfg.ReconnectAttempts < 1:
		e.cfg.ReconnectAttempts = 1
	case e.cfg.ReconnectAttempts > MaxReconnectAttempts:
		e.log.Warn().
			Add(logging.Int("requested", e.cfg.ReconnectAttempts)).
			Add(logging.Int("max", MaxReconnectAttempts)).
			Msg("reconnect attempts clamped")
		e.cfg.ReconnectAttempts = MaxReconnectAttempts
	}
	if e.cfg.InteractionTimeout <= 0 {
		e.cfg.InteractionTimeout = DefaultConfig().InteractionTimeout
	}
	if e.timers == nil {
		e.timers = NewTimers()
	}

	e.surfaceGate = bulkhead.New[exploration.Snapshot](bulkhead.Config{
		MaxConcurrent: 1,
	})
	e.reconnect = retry.New[struct{}](retry.Config{
		MaxAttempts:   e.cfg.ReconnectAttempts,
		InitialDelay:  e.cfg.ReconnectDelay,
		BackoffPolicy: retry.BackoffExponential,
		Multiplier:    2.0,
	})
	return e
}

// Timers returns the executor's timers.
func (e *Executor) Timers() *Timers {
	return e.timers
}

// Config returns the effective configuration.
func (e *Executor) Config() Config {
	return e.cfg
}

// Execute runs the action and returns its result. Widget actions fall back
// once to coordinates after a reconnect; other actions run a single
// command.
func (e *Executor) Execute(ctx context.Context, a exploration.Action) exploration.ExecutionResult {
	start := time.Now()

	var result exploration.ExecutionResult
	if a.Kind.TargetsWidget() {
		result = e.executeWidgetAction(ctx, a)
	} else {
		result = e.executeCommand(ctx, a)
	}

	if result.Success {
		e.settle(ctx, a.Delay+e.cfg.SettleDelay)
	}
	result.Duration = time.Since(start)

	e.metrics.RecordStep(ctx, string(a.Kind), result.Success, result.Duration)

	ev := e.log.Debug()
	if !result.Success {
		ev = e.log.Warn().Add(logging.ErrorField(result.Err))
		if op := failedOperation(result.Err); op != "" {
			ev = ev.Add(logging.Operation(op))
		}
	}
	ev.Add(logging.Action(a)).
		Add(logging.Success(result.Success)).
		Add(logging.Duration(result.Duration)).
		Msg("action executed")

	return result
}

func (e *Executor) executeWidgetAction(ctx context.Context, a exploration.Action) exploration.ExecutionResult {
	e.preDrain(ctx)

	cmd := device.CommandFor(a, e.app, false)
	snap, err := e.perform(ctx, cmd)
	if err != nil && !cmd.ByCoordinates {
		e.log.Warn().
			Add(logging.Action(a)).
			Add(logging.ErrorField(err)).
			Msg("locator attempt failed; reconnecting for coordinate fallback")

		snap, err = e.fallback(ctx, a, err)
	}
	if err != nil {
		return e.failed(ctx, a, cmd, err)
	}

	logs, logErr := e.drain(ctx)
	if logErr != nil {
		return e.failed(ctx, a, cmd, logErr)
	}
	return exploration.ExecutionResult{
		Success:  true,
		Logs:     logs,
		Snapshot: snap,
		Locator:  cmd.String(),
	}
}

// fallback reconnects once and retries the interaction at the widget's
// last known center.
func (e *Executor) fallback(ctx context.Context, a exploration.Action, cause error) (exploration.Snapshot, error) {
	stop := e.timers.Start(TimerReconnect)
	var lastErr error
	_, err := e.reconnect.Do(ctx, func(ctx context.Context) (struct{}, error) {
		callCtx, cancel := context.WithTimeout(ctx, e.cfg.InteractionTimeout)
		defer cancel()
		lastErr = e.surface.Reconnect(callCtx)
		return struct{}{}, lastErr
	})
	stop()
	if err != nil {
		if lastErr != nil {
			err = lastErr
		}
		e.metrics.RecordFallback(ctx, string(a.Kind), false)
		return exploration.Snapshot{}, fmt.Errorf("reconnect after %w: %w", cause, err)
	}

	snap, err := e.perform(ctx, device.CommandFor(a, e.app, true))
	e.metrics.RecordFallback(ctx, string(a.Kind), err == nil)
	if err != nil {
		return exploration.Snapshot{}, fmt.Errorf("coordinate fallback after %w: %w", cause, err)
	}
	return snap, nil
}

func (e *Executor) executeCommand(ctx context.Context, a exploration.Action) exploration.ExecutionResult {
	cmd := device.CommandFor(a, e.app, false)
	snap, err := e.perform(ctx, cmd)
	if err != nil {
		return e.failed(ctx, a, cmd, err)
	}

	logs, err := e.drain(ctx)
	if err != nil {
		return e.failed(ctx, a, cmd, err)
	}
	return exploration.ExecutionResult{
		Success:  true,
		Logs:     logs,
		Snapshot: snap,
		Locator:  cmd.String(),
	}
}

// perform issues one command under the interaction timeout.
func (e *Executor) perform(ctx context.Context, cmd device.Command) (exploration.Snapshot, error) {
	defer e.timers.Start(TimerPerform)()

	return e.surfaceGate.Execute(ctx, func(ctx context.Context) (exploration.Snapshot, error) {
		callCtx, cancel := context.WithTimeout(ctx, e.cfg.InteractionTimeout)
		defer cancel()
		return e.surface.Perform(callCtx, cmd)
	})
}

// preDrain clears the log buffer before an interaction so that earlier
// entries are not attributed to it. Foreground entries are only reported.
func (e *Executor) preDrain(ctx context.Context) {
	e.logMu.Lock()
	defer e.logMu.Unlock()

	callCtx, cancel := context.WithTimeout(ctx, e.cfg.InteractionTimeout)
	defer cancel()

	logs := e.surface.Logs()
	if err := logs.AssertOnlyBackgroundNoise(callCtx); err != nil {
		e.log.Warn().
			Add(logging.ErrorField(err)).
			Msg("unexpected foreground log entries before interaction")
	}
	stale, err := logs.ReadAndClear(callCtx)
	if err != nil {
		e.log.Warn().
			Add(logging.ErrorField(err)).
			Msg("failed to clear log buffer before interaction")
		return
	}
	if len(stale) > 0 {
		e.log.Debug().
			Add(logging.Int("entries", len(stale))).
			Msg("discarded log entries preceding interaction")
	}
}

// drain reads the logs produced by the last interaction.
func (e *Executor) drain(ctx context.Context) (exploration.LogBundle, error) {
	e.logMu.Lock()
	defer e.logMu.Unlock()
	defer e.timers.Start(TimerLogRead)()

	callCtx, cancel := context.WithTimeout(ctx, e.cfg.InteractionTimeout)
	defer cancel()

	logs, err := e.surface.Logs().ReadAndClear(callCtx)
	if err != nil {
		return nil, device.NewError("read logs", err)
	}
	return logs, nil
}

// failed builds the failure result, attaching whatever logs can still be
// drained.
func (e *Executor) failed(ctx context.Context, a exploration.Action, cmd device.Command, cause error) exploration.ExecutionResult {
	logs, err := e.drain(ctx)
	if err != nil {
		logs = nil
	}

	result := exploration.FailedResult(
		fmt.Errorf("%w: %s: %w", exploration.ErrStepFailed, a.Kind, cause),
		logs,
	)
	result.Locator = cmd.String()
	return result
}

// failedOperation returns the first device operation found in err.
func failedOperation(err error) string {
	var devErr *device.Error
	if errors.As(err, &devErr) {
		return devErr.Op
	}
	return ""
}

// settle waits for the UI to settle after a successful action.
func (e *Executor) settle(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	defer e.timers.Start(TimerSettle)()

	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
	}
}

// IsCommunicationFailure reports whether a result failed because the
// device could not be reached.
func IsCommunicationFailure(r exploration.ExecutionResult) bool {
	return !r.Success && errors.Is(r.Err, device.ErrCommunication)
}
