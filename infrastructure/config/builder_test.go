package config

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	domainconfig "github.com/felixgeelhaar/explore-go/domain/config"
	"github.com/felixgeelhaar/explore-go/domain/exploration"
	"github.com/felixgeelhaar/explore-go/infrastructure/logging"
	"github.com/felixgeelhaar/explore-go/infrastructure/observer"
	"github.com/felixgeelhaar/explore-go/infrastructure/policy"
	"github.com/felixgeelhaar/explore-go/infrastructure/selector"
)

const notesModel = `
package: org.example.notes
start: list
screens:
  - name: list
    activity: NotesActivity
    widgets:
      - text: New note
        bounds: [0, 0, 200, 100]
        clickable: true
        goto: editor
  - name: editor
    activity: EditorActivity
    back: list
    widgets:
      - text: Save
        bounds: [0, 100, 200, 200]
        clickable: true
        goto: list
`

func simulatedConfig(t *testing.T) *domainconfig.ExploreConfig {
	t.Helper()
	dir := t.TempDir()
	return &domainconfig.ExploreConfig{
		Name: "notes",
		App:  domainconfig.AppConfig{Package: "org.example.notes"},
		Exploration: domainconfig.ExplorationConfig{
			MaxActions:          20,
			StopWhenAllExplored: true,
			RandomSeed:          3,
			TerminateWhen: []domainconfig.ConditionConfig{
				{Name: "two-states", Expression: "states >= 2"},
			},
		},
		Selectors: []domainconfig.SelectorConfig{
			{Description: "back when stuck", Expression: "steps > 3 && !in_app", Policy: policy.PressBackName},
		},
		Flows: []domainconfig.FlowConfig{
			{Preset: domainconfig.PresetLoginWithGoogle},
		},
		Observers: domainconfig.ObserversConfig{
			ViewCount:  true,
			StateGraph: true,
		},
		Report: domainconfig.ReportConfig{
			Dir:   filepath.Join(dir, "out"),
			Sinks: []string{domainconfig.SinkFilesystem, domainconfig.SinkSQLite, domainconfig.SinkBadger},
		},
		Device: domainconfig.DeviceConfig{
			Type:  domainconfig.DeviceSimulated,
			Model: writeFile(t, dir, "notes.yaml", notesModel),
		},
	}
}

func names[T interface{ Name() string }](items []T) map[string]bool {
	out := make(map[string]bool, len(items))
	for _, it := range items {
		out[it.Name()] = true
	}
	return out
}

func TestBuilder_Build_Simulated(t *testing.T) {
	t.Parallel()

	result, err := NewBuilder(simulatedConfig(t)).Build(context.Background())
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	t.Cleanup(func() { _ = result.Close() })

	if result.App.PackageName != "org.example.notes" {
		t.Errorf("App = %+v", result.App)
	}
	if result.Surface == nil {
		t.Fatal("Surface is nil")
	}
	if len(result.ExecutorOptions) != 1 {
		t.Errorf("ExecutorOptions = %d, want 1", len(result.ExecutorOptions))
	}
	if len(result.Sinks) != 3 {
		t.Errorf("Sinks = %d, want 3", len(result.Sinks))
	}

	// Six defaults with one flow plus the configured selector.
	if len(result.Selectors) != 7 {
		t.Fatalf("Selectors = %d, want 7", len(result.Selectors))
	}
	custom := result.Selectors[len(result.Selectors)-1]
	if custom.Description != "back when stuck" || custom.Priority != selector.PriorityExpr {
		t.Errorf("custom selector = %q (%d)", custom.Description, custom.Priority)
	}
}

func TestBuilder_PolicyFactory(t *testing.T) {
	t.Parallel()

	result, err := NewBuilder(simulatedConfig(t)).Build(context.Background())
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	t.Cleanup(func() { _ = result.Close() })

	sup := observer.NewSupervisor(context.Background())
	t.Cleanup(sup.CancelAll)
	if err := sup.Register(observer.NewActionCounter()); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	ec := exploration.NewContext("run-1", result.App, time.Now())
	policies, err := result.Policies(ec, sup)
	if err != nil {
		t.Fatalf("Policies() error = %v", err)
	}
	got := names(policies)
	for _, want := range []string{
		policy.ResetName,
		policy.PressBackName,
		policy.AllowPermissionName,
		policy.RandomWidgetName,
		policy.FlowPolicyName("login-with-google"),
		"terminate:max-actions",
		"terminate:all-widgets-explored",
		"terminate:two-states",
	} {
		if !got[want] {
			t.Errorf("missing policy %q in %v", want, got)
		}
	}

	// Every run gets its own instances.
	again, err := result.Policies(ec, nil)
	if err != nil {
		t.Fatalf("Policies() error = %v", err)
	}
	if len(again) != len(policies) || again[0] == policies[0] {
		t.Error("policy factory should create fresh policies")
	}
}

func TestBuilder_ObserverFactory(t *testing.T) {
	t.Parallel()

	result, err := NewBuilder(simulatedConfig(t)).Build(context.Background())
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	t.Cleanup(func() { _ = result.Close() })

	ec := exploration.NewContext("run-1", result.App, time.Now())
	observers, err := result.Observers(ec)
	if err != nil {
		t.Fatalf("Observers() error = %v", err)
	}
	if len(observers) != 3 {
		t.Fatalf("Observers = %d, want 3", len(observers))
	}
	if !names(observers)[observer.ActionCounterName] {
		t.Error("action counter is always registered")
	}
}

func TestBuilder_Build_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		mutate func(*domainconfig.ExploreConfig)
	}{
		{
			name: "unknown selector policy",
			mutate: func(c *domainconfig.ExploreConfig) {
				c.Selectors[0].Policy = "teleport"
			},
		},
		{
			name: "invalid expression",
			mutate: func(c *domainconfig.ExploreConfig) {
				c.Exploration.TerminateWhen[0].Expression = "states >="
			},
		},
		{
			name: "missing model",
			mutate: func(c *domainconfig.ExploreConfig) {
				c.Device.Model = filepath.Join(c.Report.Dir, "missing.yaml")
			},
		},
		{
			name: "unknown sink",
			mutate: func(c *domainconfig.ExploreConfig) {
				c.Report.Sinks = []string{"tape"}
			},
		},
		{
			name: "no termination",
			mutate: func(c *domainconfig.ExploreConfig) {
				c.Exploration = domainconfig.ExplorationConfig{}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			cfg := simulatedConfig(t)
			tt.mutate(cfg)
			result, err := NewBuilder(cfg).Build(context.Background())
			if err == nil {
				_ = result.Close()
				t.Fatal("Build() should fail")
			}
			if !errors.Is(err, domainconfig.ErrBuildFailed) {
				t.Errorf("Build() error = %v, want ErrBuildFailed", err)
			}
		})
	}
}

func TestBuilder_BrowserPackage(t *testing.T) {
	t.Parallel()

	cfg := &domainconfig.ExploreConfig{
		Device: domainconfig.DeviceConfig{
			Type:    domainconfig.DeviceBrowser,
			Browser: domainconfig.BrowserConfig{StartURL: "https://shop.example.com/home"},
		},
	}
	app, err := NewBuilder(cfg).buildApp()
	if err != nil {
		t.Fatalf("buildApp() error = %v", err)
	}
	if app.PackageName != "shop.example.com" {
		t.Errorf("PackageName = %q, want the start URL host", app.PackageName)
	}
}

func TestBuilder_LoggingConfig(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		base       logging.Config
		logging    domainconfig.LoggingConfig
		wantLevel  string
		wantFormat string
	}{
		{"defaults", logging.DefaultConfig(), domainconfig.LoggingConfig{}, "info", "console"},
		{"production base", logging.ProductionConfig(), domainconfig.LoggingConfig{}, "info", "json"},
		{"file overrides", logging.DefaultConfig(), domainconfig.LoggingConfig{Level: "debug", Format: "json"}, "debug", "json"},
		{"file overrides production", logging.ProductionConfig(), domainconfig.LoggingConfig{Level: "warn", Format: "console"}, "warn", "console"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			cfg := simulatedConfig(t)
			cfg.Logging = tt.logging
			got := NewBuilder(cfg).LoggingConfig(tt.base)
			if got.Level != tt.wantLevel || got.Format != tt.wantFormat {
				t.Errorf("LoggingConfig() = %s/%s, want %s/%s", got.Level, got.Format, tt.wantLevel, tt.wantFormat)
			}
		})
	}
}

func TestBuildResult_Close(t *testing.T) {
	t.Parallel()

	var r BuildResult
	if err := r.Close(); err != nil {
		t.Errorf("Close() without surface = %v", err)
	}
}
