package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	domainconfig "github.com/felixgeelhaar/explore-go/domain/config"
	"github.com/felixgeelhaar/explore-go/infrastructure/config"
	"github.com/felixgeelhaar/explore-go/infrastructure/policy"
	"github.com/felixgeelhaar/explore-go/infrastructure/selector"
)

type validateOptions struct {
	configPath string
	strict     bool
	showSchema bool
}

func (a *App) newValidateCmd() *cobra.Command {
	opts := &validateOptions{}

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate a configuration file",
		Long: `Validate an exploration configuration file for correctness.

This command checks:
  - File format (YAML or JSON)
  - Required fields and termination conditions
  - Selector and termination expressions
  - Flow definitions and sink names
  - Environment variable references (in strict mode)

Examples:
  # Validate a configuration file
  explore validate -c explore.yaml

  # Strict validation (fail on missing env vars)
  explore validate -c explore.yaml --strict

  # Show the JSON schema for configuration
  explore validate --schema`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.showSchema {
				return a.exportSchema(&exportSchemaOptions{})
			}
			return a.validateConfig(opts)
		},
	}

	cmd.Flags().StringVarP(&opts.configPath, "config", "c", "", "Path to configuration file")
	cmd.Flags().BoolVar(&opts.strict, "strict", false, "Enable strict validation (fail on missing env vars)")
	cmd.Flags().BoolVar(&opts.showSchema, "schema", false, "Show JSON schema for configuration")

	return cmd
}

func (a *App) validateConfig(opts *validateOptions) error {
	if opts.configPath == "" {
		return fmt.Errorf("configuration file path is required (-c flag)")
	}

	loader := config.NewLoaderWithOptions(
		config.WithValidation(true),
		config.WithStrictEnv(opts.strict),
	)
	cfg, err := loader.LoadFile(opts.configPath)
	if err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}
	if err := checkExpressions(cfg); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}

	_, _ = fmt.Fprintf(a.stdout, "✓ Configuration is valid\n")
	_, _ = fmt.Fprintf(a.stdout, "  Name: %s\n", cfg.Name)
	_, _ = fmt.Fprintf(a.stdout, "  Version: %s\n", cfg.Version)
	if cfg.Description != "" {
		_, _ = fmt.Fprintf(a.stdout, "  Description: %s\n", cfg.Description)
	}

	_, _ = fmt.Fprintf(a.stdout, "\nConfiguration summary:\n")
	_, _ = fmt.Fprintf(a.stdout, "  Device: %s\n", cfg.Device.Type)
	if cfg.App.Package != "" {
		_, _ = fmt.Fprintf(a.stdout, "  Package: %s\n", cfg.App.Package)
	}
	e := cfg.Exploration
	if e.MaxActions > 0 {
		_, _ = fmt.Fprintf(a.stdout, "  Max actions: %d\n", e.MaxActions)
	}
	if e.TimeLimit > 0 {
		_, _ = fmt.Fprintf(a.stdout, "  Time limit: %s\n", e.TimeLimit.Duration())
	}
	if e.StopWhenAllExplored {
		_, _ = fmt.Fprintf(a.stdout, "  Stops when all widgets are explored\n")
	}
	for _, c := range e.TerminateWhen {
		_, _ = fmt.Fprintf(a.stdout, "  Terminate when %s: %s\n", c.Name, c.Expression)
	}
	if len(cfg.Selectors) > 0 {
		_, _ = fmt.Fprintf(a.stdout, "  Custom selectors: %d\n", len(cfg.Selectors))
		for _, s := range cfg.Selectors {
			_, _ = fmt.Fprintf(a.stdout, "    - %s -> %s\n", s.Description, s.Policy)
		}
	}
	if len(cfg.Flows) > 0 {
		_, _ = fmt.Fprintf(a.stdout, "  Flows: %d\n", len(cfg.Flows))
		for _, f := range cfg.Flows {
			_, _ = fmt.Fprintf(a.stdout, "    - %s\n", f.FlowName())
		}
	}
	_, _ = fmt.Fprintf(a.stdout, "  Report: %s %v\n", cfg.Report.Dir, cfg.Report.Sinks)

	return nil
}

// checkExpressions compiles every expression so that syntax errors surface
// without launching a device.
func checkExpressions(cfg *domainconfig.ExploreConfig) error {
	var errs domainconfig.ValidationErrors
	for i, c := range cfg.Exploration.TerminateWhen {
		if _, err := policy.Expr(c.Name, c.Expression); err != nil {
			errs = append(errs, domainconfig.ValidationError{
				Path:    fmt.Sprintf("exploration.terminate_when[%d].expression", i),
				Message: err.Error(),
			})
		}
	}
	for i, s := range cfg.Selectors {
		if _, err := selector.Expr(s.Description, s.Priority, s.Expression, s.Policy); err != nil {
			errs = append(errs, domainconfig.ValidationError{
				Path:    fmt.Sprintf("selectors[%d].expression", i),
				Message: err.Error(),
			})
		}
	}
	if errs.HasErrors() {
		return fmt.Errorf("%w: %w", domainconfig.ErrValidationFailed, errs)
	}
	return nil
}
