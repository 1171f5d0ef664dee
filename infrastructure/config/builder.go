package config

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"path/filepath"

	domainconfig "github.com/felixgeelhaar/explore-go/domain/config"
	"github.com/felixgeelhaar/explore-go/domain/device"
	"github.com/felixgeelhaar/explore-go/domain/exploration"
	"github.com/felixgeelhaar/explore-go/domain/report"
	"github.com/felixgeelhaar/explore-go/domain/strategy"
	"github.com/felixgeelhaar/explore-go/infrastructure/device/browser"
	"github.com/felixgeelhaar/explore-go/infrastructure/device/simulated"
	"github.com/felixgeelhaar/explore-go/infrastructure/executor"
	"github.com/felixgeelhaar/explore-go/infrastructure/logging"
	"github.com/felixgeelhaar/explore-go/infrastructure/observer"
	"github.com/felixgeelhaar/explore-go/infrastructure/policy"
	"github.com/felixgeelhaar/explore-go/infrastructure/selector"
	"github.com/felixgeelhaar/explore-go/infrastructure/storage/badger"
	"github.com/felixgeelhaar/explore-go/infrastructure/storage/filesystem"
	"github.com/felixgeelhaar/explore-go/infrastructure/storage/sqlite"
)

// Output locations inside the report directory.
const (
	ScreenshotDir = "screenshots"
	ImgTraceDir   = "imgTrace"
	CoverageDir   = "coverage"
)

// Builder builds the collaborators of an exploration from configuration.
type Builder struct {
	config *domainconfig.ExploreConfig
}

// NewBuilder creates a new configuration builder.
func NewBuilder(config *domainconfig.ExploreConfig) *Builder {
	return &Builder{config: config}
}

// BuildResult contains the built components. Policies and Observers are
// factories invoked once per run.
type BuildResult struct {
	// App is the application under exploration.
	App exploration.App
	// Surface is the control surface; Close releases it.
	Surface device.ControlSurface
	// ExecutorOptions configure the action executor.
	ExecutorOptions []executor.Option
	// Selectors are the selectors of the pool.
	Selectors []strategy.Selector
	// Policies creates the policies of a run.
	Policies func(ec *exploration.Context, sup *observer.Supervisor) ([]strategy.Policy, error)
	// Observers creates the observers of a run.
	Observers func(ec *exploration.Context) ([]observer.Observer, error)
	// Sinks write finished runs.
	Sinks []report.Sink
	// ReportDir is where observers and sinks write.
	ReportDir string
	// TakeScreenshots requests a screenshot after every action.
	TakeScreenshots bool
	// SelectionWorkers bounds concurrent selector predicates.
	SelectionWorkers int
}

// Close releases the control surface.
func (r *BuildResult) Close() error {
	if c, ok := r.Surface.(device.Closer); ok {
		return c.Close()
	}
	return nil
}

// LoggingConfig returns the logger configuration: base with the level and
// format of the configuration file applied on top.
func (b *Builder) LoggingConfig(base logging.Config) logging.Config {
	cfg := base
	if b.config.Logging.Level != "" {
		cfg.Level = b.config.Logging.Level
	}
	if b.config.Logging.Format != "" {
		cfg.Format = b.config.Logging.Format
	}
	return cfg
}

// Build builds the components. The browser device is launched here, so ctx
// bounds the launch.
func (b *Builder) Build(ctx context.Context) (*BuildResult, error) {
	cfg := b.config
	cfg.ApplyDefaults()

	result := &BuildResult{
		ReportDir:        cfg.Report.Dir,
		TakeScreenshots:  cfg.Exploration.TakeScreenshots,
		SelectionWorkers: cfg.Exploration.SelectionWorkers,
	}

	app, err := b.buildApp()
	if err != nil {
		return nil, err
	}
	result.App = app

	result.ExecutorOptions = b.buildExecutor()

	conditions, err := b.buildConditions()
	if err != nil {
		return nil, fmt.Errorf("%w: building termination: %w", domainconfig.ErrBuildFailed, err)
	}
	flows, err := b.buildFlows()
	if err != nil {
		return nil, fmt.Errorf("%w: building flows: %w", domainconfig.ErrBuildFailed, err)
	}
	result.Policies = b.policyFactory(conditions, flows)

	result.Selectors, err = b.buildSelectors(conditions, flows)
	if err != nil {
		return nil, fmt.Errorf("%w: building selectors: %w", domainconfig.ErrBuildFailed, err)
	}

	result.Sinks, err = b.buildSinks()
	if err != nil {
		return nil, fmt.Errorf("%w: building sinks: %w", domainconfig.ErrBuildFailed, err)
	}

	// The device comes last so that nothing needs releasing on earlier
	// failures.
	result.Surface, err = b.buildDevice(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: building device: %w", domainconfig.ErrBuildFailed, err)
	}
	result.Observers, err = b.observerFactory(result.Surface)
	if err != nil {
		_ = result.Close()
		return nil, fmt.Errorf("%w: building observers: %w", domainconfig.ErrBuildFailed, err)
	}
	return result, nil
}

func (b *Builder) buildApp() (exploration.App, error) {
	app := exploration.App{
		PackageName:        b.config.App.Package,
		FileName:           b.config.App.FileName,
		LaunchableActivity: b.config.App.LaunchableActivity,
	}
	if app.PackageName == "" && b.config.Device.Type == domainconfig.DeviceBrowser {
		u, err := url.Parse(b.config.Device.Browser.StartURL)
		if err != nil {
			return app, fmt.Errorf("%w: %w", domainconfig.ErrBuildFailed, err)
		}
		app.PackageName = u.Host
	}
	if err := app.Validate(); err != nil {
		return app, fmt.Errorf("%w: %w", domainconfig.ErrBuildFailed, err)
	}
	return app, nil
}

func (b *Builder) buildExecutor() []executor.Option {
	e := b.config.Executor
	cfg := executor.DefaultConfig()
	if e.InteractionTimeout > 0 {
		cfg.InteractionTimeout = e.InteractionTimeout.Duration()
	}
	if e.ReconnectAttempts > 0 {
		cfg.ReconnectAttempts = e.ReconnectAttempts
	}
	if e.ReconnectDelay > 0 {
		cfg.ReconnectDelay = e.ReconnectDelay.Duration()
	}
	cfg.SettleDelay = e.SettleDelay.Duration()
	return []executor.Option{executor.WithConfig(cfg)}
}

// buildConditions compiles the termination conditions once; they hold no
// run state.
func (b *Builder) buildConditions() ([]policy.Condition, error) {
	e := b.config.Exploration
	var conds []policy.Condition
	if e.MaxActions > 0 {
		conds = append(conds, policy.MaxActions(e.MaxActions))
	}
	if e.TimeLimit > 0 {
		conds = append(conds, policy.TimeLimit(e.TimeLimit.Duration()))
	}
	if e.StopWhenAllExplored {
		conds = append(conds, policy.AllWidgetsExplored())
	}
	for _, c := range e.TerminateWhen {
		cond, err := policy.Expr(c.Name, c.Expression)
		if err != nil {
			return nil, fmt.Errorf("condition %q: %w", c.Name, err)
		}
		conds = append(conds, cond)
	}
	if len(conds) == 0 {
		return nil, errors.New("at least one termination condition is required")
	}
	return conds, nil
}

type flowPlan struct {
	def   strategy.FlowDefinition
	delay policy.FlowOption
}

func (b *Builder) buildFlows() ([]flowPlan, error) {
	var plans []flowPlan
	for _, f := range b.config.Flows {
		def := f.Definition()
		if f.Preset == domainconfig.PresetLoginWithGoogle {
			def = policy.LoginWithGoogleDefinition()
		}
		if err := def.Validate(); err != nil {
			return nil, fmt.Errorf("flow %q: %w", f.FlowName(), err)
		}
		plan := flowPlan{def: def}
		if f.Delay > 0 {
			plan.delay = policy.WithFlowDelay(f.Delay.Duration())
		}
		plans = append(plans, plan)
	}
	return plans, nil
}

// policyFactory creates fresh policies for every run. The random widget
// policy reads the run's action counter.
func (b *Builder) policyFactory(conditions []policy.Condition, flows []flowPlan) func(*exploration.Context, *observer.Supervisor) ([]strategy.Policy, error) {
	seed := b.config.Exploration.RandomSeed
	return func(_ *exploration.Context, sup *observer.Supervisor) ([]strategy.Policy, error) {
		policies := []strategy.Policy{
			policy.NewReset(),
			policy.NewPressBack(),
			policy.NewAllowPermission(),
		}
		for _, cond := range conditions {
			policies = append(policies, policy.NewTerminate(cond))
		}
		for _, f := range flows {
			var opts []policy.FlowOption
			if f.delay != nil {
				opts = append(opts, f.delay)
			}
			flow, err := policy.NewGuidedFlow(f.def, opts...)
			if err != nil {
				return nil, fmt.Errorf("flow %q: %w", f.def.Name, err)
			}
			policies = append(policies, flow)
		}

		var randomOpts []policy.RandomOption
		if sup != nil {
			if obs, ok := sup.Observer(observer.ActionCounterName); ok {
				if counter, ok := obs.(*observer.ActionCounter); ok {
					randomOpts = append(randomOpts, policy.WithActionCounter(counter, sup))
				}
			}
		}
		return append(policies, policy.NewRandomWidget(seed, randomOpts...)), nil
	}
}

func (b *Builder) buildSelectors(conditions []policy.Condition, flows []flowPlan) ([]strategy.Selector, error) {
	known := map[string]bool{
		policy.ResetName:           true,
		policy.PressBackName:       true,
		policy.AllowPermissionName: true,
		policy.RandomWidgetName:    true,
	}
	for _, c := range conditions {
		known[policy.NewTerminate(c).Name()] = true
	}
	names := make([]string, 0, len(flows))
	for _, f := range flows {
		names = append(names, f.def.Name)
		known[policy.FlowPolicyName(f.def.Name)] = true
	}

	selectors := selector.Defaults(names...)
	for _, s := range b.config.Selectors {
		if !known[s.Policy] {
			return nil, fmt.Errorf("selector %q: unknown policy %q", s.Description, s.Policy)
		}
		priority := s.Priority
		if priority == 0 {
			priority = selector.PriorityExpr
		}
		sel, err := selector.Expr(s.Description, priority, s.Expression, s.Policy)
		if err != nil {
			return nil, err
		}
		selectors = append(selectors, sel)
	}
	return selectors, nil
}

func (b *Builder) buildSinks() ([]report.Sink, error) {
	var sinks []report.Sink
	for _, name := range b.config.Report.Sinks {
		switch name {
		case domainconfig.SinkFilesystem:
			sinks = append(sinks, filesystem.NewTraceSink(b.config.Report.Indent))
		case domainconfig.SinkSQLite:
			sinks = append(sinks, sqlite.NewTraceSink())
		case domainconfig.SinkBadger:
			sinks = append(sinks, badger.NewTraceSink())
		default:
			return nil, fmt.Errorf("unknown sink %q", name)
		}
	}
	return sinks, nil
}

func (b *Builder) buildDevice(ctx context.Context) (device.ControlSurface, error) {
	d := b.config.Device
	screenshots := filepath.Join(b.config.Report.Dir, ScreenshotDir)

	switch d.Type {
	case domainconfig.DeviceSimulated:
		model, err := simulated.LoadModel(d.Model)
		if err != nil {
			return nil, err
		}
		dev, err := simulated.New(model, simulated.WithScreenshotDir(screenshots))
		if err != nil {
			return nil, err
		}
		return dev, nil
	case domainconfig.DeviceBrowser:
		dev, err := browser.New(ctx, browser.Config{
			StartURL:          d.Browser.StartURL,
			ControlURL:        d.Browser.ControlURL,
			Bin:               d.Browser.Bin,
			Headless:          d.Browser.Headless,
			ScreenshotDir:     screenshots,
			NavigationTimeout: d.Browser.NavigationTimeout.Duration(),
		})
		if err != nil {
			return nil, err
		}
		return dev, nil
	default:
		return nil, fmt.Errorf("unknown device type %q", d.Type)
	}
}

// observerFactory creates fresh observers for every run. The action
// counter is always registered.
func (b *Builder) observerFactory(surface device.ControlSurface) (func(*exploration.Context) ([]observer.Observer, error), error) {
	obs := b.config.Observers
	dir := b.config.Report.Dir

	var source device.CoverageSource
	if obs.Coverage.Enabled {
		s, ok := surface.(device.CoverageSource)
		if !ok {
			return nil, errors.New("statement coverage requires a device with a coverage log")
		}
		source = s
	}

	return func(ec *exploration.Context) ([]observer.Observer, error) {
		observers := []observer.Observer{observer.NewActionCounter()}

		if source != nil {
			cov, err := observer.NewStatementCoverage(observer.CoverageConfig{
				AppName:            ec.App().PackageName,
				InstrumentationDir: obs.Coverage.InstrumentationDir,
				LogDir:             filepath.Join(dir, CoverageDir),
				OutputDir:          dir,
				BreakerThreshold:   obs.Coverage.BreakerThreshold,
				BreakerTimeout:     obs.Coverage.BreakerTimeout.Duration(),
			}, source)
			if err != nil {
				return nil, err
			}
			observers = append(observers, cov)
		}
		if obs.ImgTrace {
			img, err := observer.NewImgTrace(filepath.Join(dir, ImgTraceDir))
			if err != nil {
				return nil, err
			}
			observers = append(observers, img)
		}
		if obs.ViewCount {
			observers = append(observers, observer.NewViewCount(dir))
		}
		if obs.APIActionTrace {
			observers = append(observers, observer.NewAPIActionTrace(dir))
		}
		if obs.StateGraph {
			observers = append(observers, observer.NewStateGraph(dir))
		}
		return observers, nil
	}, nil
}
