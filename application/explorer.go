// Package application drives exploration runs: the strategy pool, the
// exploration loop and the reporting of finished runs.
package application

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/felixgeelhaar/explore-go/domain/device"
	"github.com/felixgeelhaar/explore-go/domain/exploration"
	"github.com/felixgeelhaar/explore-go/domain/strategy"
	"github.com/felixgeelhaar/explore-go/infrastructure/executor"
	"github.com/felixgeelhaar/explore-go/infrastructure/logging"
	"github.com/felixgeelhaar/explore-go/infrastructure/observer"
	"github.com/felixgeelhaar/explore-go/infrastructure/statemachine"
	"github.com/felixgeelhaar/explore-go/infrastructure/telemetry"
)

// PolicyFactory creates the policies of one run. Observers are registered
// with the supervisor before it is called.
type PolicyFactory func(ec *exploration.Context, sup *observer.Supervisor) ([]strategy.Policy, error)

// ObserverFactory creates the observers of one run.
type ObserverFactory func(ec *exploration.Context) ([]observer.Observer, error)

// Explorer runs the exploration loop against a control surface.
type Explorer struct {
	surface          device.ControlSurface
	executorOpts     []executor.Option
	selectors        []strategy.Selector
	policies         PolicyFactory
	observers        ObserverFactory
	takeScreenshots  bool
	selectionWorkers int
	metrics          telemetry.Metrics
	now              func() time.Time
	log              *logging.Scoped
}

// ExplorerConfig contains the configuration of an Explorer.
type ExplorerConfig struct {
	Surface          device.ControlSurface
	ExecutorOptions  []executor.Option
	Selectors        []strategy.Selector
	Policies         PolicyFactory
	Observers        ObserverFactory
	TakeScreenshots  bool
	SelectionWorkers int
	Metrics          telemetry.Metrics
	Clock            func() time.Time
}

// NewExplorer creates an explorer from its configuration.
func NewExplorer(config ExplorerConfig) (*Explorer, error) {
	if config.Surface == nil {
		return nil, errors.New("control surface is required")
	}
	if len(config.Selectors) == 0 {
		return nil, errors.New("at least one selector is required")
	}
	if config.Policies == nil {
		return nil, errors.New("policy factory is required")
	}

	e := &Explorer{
		surface:          config.Surface,
		executorOpts:     config.ExecutorOptions,
		selectors:        config.Selectors,
		policies:         config.Policies,
		observers:        config.Observers,
		takeScreenshots:  config.TakeScreenshots,
		selectionWorkers: config.SelectionWorkers,
		metrics:          config.Metrics,
		now:              config.Clock,
		log:              logging.For("explorer"),
	}
	if e.metrics == nil {
		e.metrics = &telemetry.NoopMetricsProvider{}
	}
	if e.now == nil {
		e.now = time.Now
	}
	if e.selectionWorkers <= 0 {
		e.selectionWorkers = DefaultSelectionWorkers()
	}
	return e, nil
}

// run holds the collaborators of one exploration.
type run struct {
	ec     *exploration.Context
	interp *statemachine.Interpreter
	pool   *Pool
	sup    *observer.Supervisor
	exec   *executor.Executor
}

// Run explores the application. A missing package aborts the run before
// any context exists and returns a nil context. Otherwise the context is
// returned sealed, together with the step failure, cancellation or
// contract violation that ended the run.
func (e *Explorer) Run(ctx context.Context, app exploration.App) (*exploration.Context, error) {
	if err := app.Validate(); err != nil {
		return nil, err
	}

	runID := uuid.NewString()
	interp, err := statemachine.NewRunInterpreter(runID)
	if err != nil {
		return nil, fmt.Errorf("failed to create phase machine: %w", err)
	}
	defer interp.Stop()

	e.metrics.IncrementActiveRuns(ctx)
	defer e.metrics.DecrementActiveRuns(ctx)

	e.log.Info().
		Add(logging.RunID(runID)).
		Add(logging.App(app.PackageName)).
		Msg("exploration started")

	if err := e.preflight(ctx, app); err != nil {
		_ = interp.Transition(statemachine.PhaseAborted, err.Error())
		e.log.Error().
			Add(logging.RunID(runID)).
			Add(logging.App(app.PackageName)).
			Add(logging.ErrorField(err)).
			Msg("preflight failed")
		return nil, err
	}

	r, err := e.setup(ctx, runID, app, interp)
	if err != nil {
		_ = interp.Transition(statemachine.PhaseAborted, err.Error())
		return nil, err
	}
	if err := interp.Transition(statemachine.PhaseLooping, "preflight passed"); err != nil {
		r.sup.CancelAll()
		return nil, err
	}

	start := e.now()
	loopErr := e.loop(ctx, r)

	if strategy.IsContractViolation(loopErr) {
		return e.abort(ctx, r, loopErr)
	}
	return e.finalize(ctx, r, start, loopErr)
}

// preflight synchronizes the clock, checks the package is installed and
// warns when the device is not at its home screen.
func (e *Explorer) preflight(ctx context.Context, app exploration.App) error {
	if err := e.surface.ResetTimeSync(ctx); err != nil {
		e.log.Warn().
			Add(logging.App(app.PackageName)).
			Add(logging.ErrorField(err)).
			Msg("failed to synchronize device time")
	}

	installed, err := e.surface.HasPackageInstalled(ctx, app.PackageName)
	if err != nil {
		return fmt.Errorf("%w: %s: %w", exploration.ErrPackageNotInstalled, app.PackageName, err)
	}
	if !installed {
		return fmt.Errorf("%w: %s", exploration.ErrPackageNotInstalled, app.PackageName)
	}

	snap, err := e.surface.Snapshot(ctx)
	switch {
	case err != nil:
		e.log.Warn().
			Add(logging.App(app.PackageName)).
			Add(logging.ErrorField(err)).
			Msg("failed to read initial device state")
	case !snap.IsHomeScreen:
		e.log.Warn().
			Add(logging.App(app.PackageName)).
			Add(logging.StateID(snap.ID)).
			Msg("device does not display the home screen; continuing, the first reset should recover")
	}
	return nil
}

func (e *Explorer) setup(ctx context.Context, runID string, app exploration.App, interp *statemachine.Interpreter) (*run, error) {
	ec := exploration.NewContext(runID, app, e.now())
	// A stop request cancels every observer scope.
	sup := observer.NewSupervisor(ctx, observer.WithMetrics(e.metrics))

	if e.observers != nil {
		observers, err := e.observers(ec)
		if err != nil {
			sup.CancelAll()
			return nil, fmt.Errorf("failed to create observers: %w", err)
		}
		for _, o := range observers {
			if err := sup.Register(o); err != nil {
				sup.CancelAll()
				return nil, err
			}
		}
	}

	policies, err := e.policies(ec, sup)
	if err != nil {
		sup.CancelAll()
		return nil, fmt.Errorf("failed to create policies: %w", err)
	}
	pool, err := NewPool(ec, e.selectors, policies,
		WithSelectionWorkers(e.selectionWorkers),
		WithPoolMetrics(e.metrics),
	)
	if err != nil {
		sup.CancelAll()
		return nil, err
	}

	opts := append([]executor.Option{executor.WithMetrics(e.metrics)}, e.executorOpts...)
	return &run{
		ec:     ec,
		interp: interp,
		pool:   pool,
		sup:    sup,
		exec:   executor.New(e.surface, app, opts...),
	}, nil
}

// loop runs steps until the terminate sentinel, a failed result, a
// cancellation between steps or a contract violation.
func (e *Explorer) loop(ctx context.Context, r *run) error {
	// Executor calls always run to completion.
	execCtx := context.WithoutCancel(ctx)

	result := exploration.EmptyResult()
	var action exploration.Action
	first := true

	for first || (result.Success && !action.IsTerminate()) {
		if !first {
			if err := ctx.Err(); err != nil {
				return fmt.Errorf("%w: %w", exploration.ErrCancelled, err)
			}
		}

		decision, err := r.pool.Decide(ctx, result)
		if err != nil {
			if ctx.Err() != nil && !strategy.IsContractViolation(err) {
				return fmt.Errorf("%w: %w", exploration.ErrCancelled, err)
			}
			return err
		}

		action = decision.Stamp(e.now(), e.takeScreenshots)
		result = r.exec.Execute(execCtx, action)

		record, err := r.ec.Append(action, result)
		if err != nil {
			return strategy.Violation("explorer", err)
		}
		r.interp.RecordStep()
		r.pool.NotifyStepCompleted(record)
		r.sup.Notify(r.ec, record)

		if first {
			e.log.Info().
				Add(logging.RunID(r.ec.RunID())).
				Add(logging.Action(action)).
				Msg("initial action")
			first = false
		}
	}

	if !result.Success {
		return result.Err
	}
	return nil
}

// finalize records the terminal error, drains the observers and seals the
// trace.
func (e *Explorer) finalize(ctx context.Context, r *run, start time.Time, cause error) (*exploration.Context, error) {
	ec := r.ec
	if cause != nil && !ec.SetTerminalError(cause) {
		e.log.Warn().
			Add(logging.RunID(ec.RunID())).
			Add(logging.ErrorField(cause)).
			Msg("terminal error already recorded, keeping the first")
	}
	ec.SetEndTime(e.now())

	if err := ec.Verify(); err != nil {
		return e.abort(ctx, r, strategy.Violation("explorer", err))
	}
	if err := r.interp.Transition(statemachine.PhaseFinalize, "loop ended"); err != nil {
		e.log.Warn().
			Add(logging.RunID(ec.RunID())).
			Add(logging.ErrorField(err)).
			Msg("finalize transition rejected")
	}

	if ctx.Err() != nil {
		e.log.Info().
			Add(logging.RunID(ec.RunID())).
			Add(logging.Int("observers", len(r.sup.Names()))).
			Msg("stop requested, draining cancelled observers")
	}
	// Observer scopes derive from ctx: after a stop request the join only
	// waits for cancelled tasks to unwind and cancelled observers skip Dump.
	if err := r.sup.Finalize(context.WithoutCancel(ctx), ec); err != nil {
		e.log.Warn().
			Add(logging.RunID(ec.RunID())).
			Add(logging.ErrorField(err)).
			Msg("observer results incomplete")
	}
	ec.Seal()
	_ = r.interp.Transition(statemachine.PhaseDone, "finalized")

	success := ec.TerminalError() == nil
	e.metrics.RecordRunDuration(ctx, ec.EndTime().Sub(start), ec.Size(), success)

	if !success {
		e.log.Warn().
			Add(logging.RunID(ec.RunID())).
			Add(logging.App(ec.App().PackageName)).
			Add(logging.Step(ec.Size())).
			Add(logging.ErrorField(ec.TerminalError())).
			Msg("exploration ended with an error after producing output")
		return ec, ec.TerminalError()
	}

	e.log.Info().
		Add(logging.RunID(ec.RunID())).
		Add(logging.Step(ec.Size())).
		Add(logging.Duration(ec.Elapsed())).
		Msg("exploration completed")
	return ec, nil
}

// abort ends a run on a contract violation: observers are cancelled and
// joined without dumping.
func (e *Explorer) abort(ctx context.Context, r *run, violation error) (*exploration.Context, error) {
	r.sup.CancelAll()
	if !r.ec.SetTerminalError(violation) {
		e.log.Warn().
			Add(logging.RunID(r.ec.RunID())).
			Add(logging.ErrorField(violation)).
			Msg("terminal error already recorded, keeping the first")
	}
	r.ec.SetEndTime(e.now())
	r.ec.Seal()
	_ = r.interp.Transition(statemachine.PhaseAborted, violation.Error())

	e.metrics.RecordError(ctx, "contract_violation", map[string]string{"run_id": r.ec.RunID()})
	e.log.Error().
		Add(logging.RunID(r.ec.RunID())).
		Add(logging.Step(r.ec.Size())).
		Add(logging.ErrorField(violation)).
		Msg("exploration aborted on contract violation")
	return r.ec, violation
}
