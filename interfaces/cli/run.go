package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/felixgeelhaar/explore-go/application"
	domainconfig "github.com/felixgeelhaar/explore-go/domain/config"
	"github.com/felixgeelhaar/explore-go/domain/report"
	"github.com/felixgeelhaar/explore-go/infrastructure/config"
	"github.com/felixgeelhaar/explore-go/infrastructure/device/simulated"
	"github.com/felixgeelhaar/explore-go/infrastructure/logging"
	"github.com/felixgeelhaar/explore-go/infrastructure/telemetry"
)

// defaultMaxActions bounds runs started without any termination condition.
const defaultMaxActions = 100

type runOptions struct {
	configPath string
	simulate   string
	reportDir  string
	maxActions int
	timeout    time.Duration
	verbose    bool
	jsonOutput bool
}

func (a *App) newRunCmd() *cobra.Command {
	opts := &runOptions{}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Explore an application",
		Long: `Explore an application using the provided configuration file.

The run ends when a termination condition is met, when an action fails or
when the process is interrupted. The report is written in every case.

Examples:
  # Explore with a config file
  explore run -c explore.yaml

  # Explore a simulated application model without a config file
  explore run --simulate notes.yaml --max-actions 50

  # Override the time limit and print the summary as JSON
  explore run -c explore.yaml --timeout 10m --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runExploration(cmd.Context(), opts)
		},
	}

	cmd.Flags().StringVarP(&opts.configPath, "config", "c", "", "Path to configuration file")
	cmd.Flags().StringVar(&opts.simulate, "simulate", "", "Explore a simulated device built from this model")
	cmd.Flags().StringVar(&opts.reportDir, "report-dir", "", "Report directory (overrides config)")
	cmd.Flags().IntVar(&opts.maxActions, "max-actions", 0, "Maximum number of actions (overrides config)")
	cmd.Flags().DurationVar(&opts.timeout, "timeout", 0, "Exploration time limit (overrides config)")
	cmd.Flags().BoolVarP(&opts.verbose, "verbose", "v", false, "Enable debug logging")
	cmd.Flags().BoolVar(&opts.jsonOutput, "json", false, "Output the summary as JSON")

	return cmd
}

func (a *App) runExploration(ctx context.Context, opts *runOptions) error {
	cfg, err := loadRunConfig(opts)
	if err != nil {
		return err
	}

	builder := config.NewBuilder(cfg)
	logging.Configure(runLoggingConfig(builder, cfg, opts))

	result, err := builder.Build(ctx)
	if err != nil {
		return fmt.Errorf("failed to build exploration: %w", err)
	}
	defer func() { _ = result.Close() }()

	explorer, err := application.NewExplorerWithOptions(
		application.WithSurface(result.Surface),
		application.WithExecutorOptions(result.ExecutorOptions...),
		application.WithSelectors(result.Selectors...),
		application.WithPolicies(result.Policies),
		application.WithObservers(result.Observers),
		application.WithScreenshots(result.TakeScreenshots),
		application.WithWorkers(result.SelectionWorkers),
		application.WithMetrics(telemetry.NewMetricsProvider(telemetry.DefaultMetricsConfig())),
	)
	if err != nil {
		return fmt.Errorf("failed to create explorer: %w", err)
	}

	ec, runErr := explorer.Run(ctx, result.App)
	if ec == nil {
		return fmt.Errorf("exploration failed: %w", runErr)
	}

	// Interrupted runs are still reported.
	reporter := application.NewReporter(result.ReportDir, result.Sinks...)
	reportErr := reporter.Report(context.WithoutCancel(ctx), ec)

	if err := a.printSummary(report.Summarize(ec), result.ReportDir, opts.jsonOutput); err != nil {
		return err
	}
	if runErr != nil {
		return errors.Join(fmt.Errorf("exploration failed: %w", runErr), reportErr)
	}
	if reportErr != nil {
		return fmt.Errorf("failed to write report: %w", reportErr)
	}
	return nil
}

// runLoggingConfig returns the logger configuration of a run. A JSON
// summary on stdout goes with JSON logs on stderr.
func runLoggingConfig(builder *config.Builder, cfg *domainconfig.ExploreConfig, opts *runOptions) logging.Config {
	logCfg := builder.LoggingConfig(logging.DefaultConfig())
	if opts.jsonOutput {
		logCfg = logging.ProductionConfig()
		logCfg.Level = cfg.Logging.Level
	}
	if opts.verbose {
		logCfg.Level = "debug"
	}
	return logCfg
}

// loadRunConfig loads the configuration file, or builds one around the
// simulated model, and applies the command line overrides.
func loadRunConfig(opts *runOptions) (*domainconfig.ExploreConfig, error) {
	var cfg *domainconfig.ExploreConfig
	switch {
	case opts.configPath != "":
		loaded, err := config.NewLoaderWithOptions(config.WithValidation(false)).LoadFile(opts.configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load configuration: %w", err)
		}
		cfg = loaded
	case opts.simulate != "":
		model, err := simulated.LoadModel(opts.simulate)
		if err != nil {
			return nil, fmt.Errorf("failed to load model: %w", err)
		}
		cfg = &domainconfig.ExploreConfig{
			Name: "simulate",
			App:  domainconfig.AppConfig{Package: model.Package},
		}
	default:
		return nil, errors.New("a configuration file (-c) or a model (--simulate) is required")
	}

	if opts.simulate != "" {
		cfg.Device = domainconfig.DeviceConfig{
			Type:  domainconfig.DeviceSimulated,
			Model: opts.simulate,
		}
	}
	if opts.reportDir != "" {
		cfg.Report.Dir = opts.reportDir
	}
	if opts.maxActions > 0 {
		cfg.Exploration.MaxActions = opts.maxActions
	}
	if opts.timeout > 0 {
		cfg.Exploration.TimeLimit = domainconfig.Duration(opts.timeout)
	}
	e := cfg.Exploration
	if e.MaxActions == 0 && e.TimeLimit == 0 && !e.StopWhenAllExplored && len(e.TerminateWhen) == 0 {
		cfg.Exploration.MaxActions = defaultMaxActions
	}

	cfg.ApplyDefaults()
	if errs := domainconfig.NewValidator().Validate(cfg); errs.HasErrors() {
		return nil, fmt.Errorf("%w: %w", domainconfig.ErrValidationFailed, errs)
	}
	return cfg, nil
}

func (a *App) printSummary(s report.Summary, dir string, jsonOutput bool) error {
	if jsonOutput {
		output := struct {
			report.Summary
			ReportDir string `json:"report_dir"`
		}{s, dir}
		enc := json.NewEncoder(a.stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(output)
	}

	_, _ = fmt.Fprintf(a.stdout, "Exploration finished\n")
	_, _ = fmt.Fprintf(a.stdout, "  Run ID: %s\n", s.RunID)
	_, _ = fmt.Fprintf(a.stdout, "  App: %s\n", s.App)
	_, _ = fmt.Fprintf(a.stdout, "  Duration: %s\n", s.Duration)
	_, _ = fmt.Fprintf(a.stdout, "  Actions: %d (%d failed)\n", s.Actions, s.Failures)
	_, _ = fmt.Fprintf(a.stdout, "  States: %d\n", s.States)
	_, _ = fmt.Fprintf(a.stdout, "  Widgets explored: %d/%d\n", s.Explored, s.SeenWidgets)

	switch {
	case s.Error != "":
		_, _ = fmt.Fprintf(a.stdout, "  Status: FAILED\n")
		_, _ = fmt.Fprintf(a.stdout, "  Error: %s\n", s.Error)
	case s.Terminated:
		_, _ = fmt.Fprintf(a.stdout, "  Status: COMPLETED\n")
		if s.Reason != "" {
			_, _ = fmt.Fprintf(a.stdout, "  Reason: %s\n", s.Reason)
		}
	default:
		_, _ = fmt.Fprintf(a.stdout, "  Status: STOPPED\n")
	}
	_, _ = fmt.Fprintf(a.stdout, "  Report: %s\n", dir)
	return nil
}
