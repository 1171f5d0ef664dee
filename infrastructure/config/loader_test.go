package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/felixgeelhaar/explore-go/domain/config"
)

const notesYAML = `
name: notes
app:
  package: org.example.notes
exploration:
  max_actions: 25
  random_seed: 7
  terminate_when:
    - name: many-states
      expression: states >= 3
executor:
  interaction_timeout: 5s
  settle_delay: 100ms
selectors:
  - description: back when stuck
    priority: 45
    expression: steps > 3 && !in_app
    policy: press-back
flows:
  - preset: login-with-google
    delay: 10ms
observers:
  view_count: true
  state_graph: true
report:
  sinks: [filesystem, sqlite]
device:
  type: simulated
  model: models/notes.yaml
`

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	return path
}

func TestLoader_LoadFile_YAML(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "explore.yaml", notesYAML)

	cfg, err := NewLoader().LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile() error = %v", err)
	}

	if cfg.Name != "notes" || cfg.App.Package != "org.example.notes" {
		t.Errorf("name/package = %q/%q", cfg.Name, cfg.App.Package)
	}
	if cfg.Exploration.MaxActions != 25 || cfg.Exploration.RandomSeed != 7 {
		t.Errorf("exploration = %+v", cfg.Exploration)
	}
	if cfg.Executor.InteractionTimeout.Duration() != 5*time.Second {
		t.Errorf("InteractionTimeout = %v", cfg.Executor.InteractionTimeout.Duration())
	}
	if cfg.Executor.ReconnectAttempts != 1 {
		t.Errorf("ReconnectAttempts default = %d, want 1", cfg.Executor.ReconnectAttempts)
	}
	if len(cfg.Selectors) != 1 || cfg.Selectors[0].Priority != 45 {
		t.Errorf("selectors = %+v", cfg.Selectors)
	}
	if len(cfg.Flows) != 1 || cfg.Flows[0].Delay.Duration() != 10*time.Millisecond {
		t.Errorf("flows = %+v", cfg.Flows)
	}
	if want := filepath.Join(dir, "models", "notes.yaml"); cfg.Device.Model != want {
		t.Errorf("Model = %q, want %q", cfg.Device.Model, want)
	}
	if cfg.Version != "1.0" {
		t.Errorf("Version default = %q", cfg.Version)
	}
}

func TestLoader_LoadFile_JSON(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "explore.json", `{
		"name": "web",
		"exploration": {"time_limit": "2m"},
		"device": {"type": "browser", "browser": {"start_url": "http://localhost:8080/", "headless": true}}
	}`)

	cfg, err := NewLoader().LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile() error = %v", err)
	}
	if cfg.Exploration.TimeLimit.Duration() != 2*time.Minute {
		t.Errorf("TimeLimit = %v", cfg.Exploration.TimeLimit.Duration())
	}
	if !cfg.Device.Browser.Headless {
		t.Error("Headless not decoded")
	}
}

func TestLoader_LoadFile_Errors(t *testing.T) {
	dir := t.TempDir()

	if _, err := NewLoader().LoadFile(filepath.Join(dir, "missing.yaml")); !errors.Is(err, config.ErrConfigNotFound) {
		t.Errorf("missing file error = %v", err)
	}
	if _, err := NewLoader().LoadFile(dir); !errors.Is(err, config.ErrInvalidFormat) {
		t.Errorf("directory error = %v", err)
	}
	toml := writeFile(t, dir, "explore.toml", "name = 'x'")
	if _, err := NewLoader().LoadFile(toml); !errors.Is(err, config.ErrUnsupportedFormat) {
		t.Errorf("toml error = %v", err)
	}
}

func TestLoader_InvalidContent(t *testing.T) {
	if _, err := NewLoader().LoadString("name: [", FormatYAML); !errors.Is(err, config.ErrInvalidFormat) {
		t.Errorf("yaml error = %v", err)
	}
	if _, err := NewLoader().LoadString("{", FormatJSON); !errors.Is(err, config.ErrInvalidFormat) {
		t.Errorf("json error = %v", err)
	}
}

func TestLoader_Validation(t *testing.T) {
	content := "name: x\napp:\n  package: p\ndevice:\n  model: m.yaml\n"

	if _, err := NewLoader().LoadString(content, FormatYAML); !errors.Is(err, config.ErrValidationFailed) {
		t.Errorf("LoadString() error = %v, want ErrValidationFailed", err)
	}
	cfg, err := NewLoaderWithOptions(WithValidation(false)).LoadString(content, FormatYAML)
	if err != nil {
		t.Fatalf("LoadString() without validation error = %v", err)
	}
	if cfg.Device.Type != config.DeviceSimulated {
		t.Errorf("Device.Type default = %q", cfg.Device.Type)
	}
}

func TestLoader_EnvExpansion(t *testing.T) {
	t.Setenv("EXPLORE_TEST_PACKAGE", "org.example.env")
	content := "name: env\napp:\n  package: ${EXPLORE_TEST_PACKAGE}\nexploration:\n  max_actions: ${EXPLORE_TEST_MAX:-9}\ndevice:\n  model: m.yaml\n"

	cfg, err := NewLoader().LoadString(content, FormatYAML)
	if err != nil {
		t.Fatalf("LoadString() error = %v", err)
	}
	if cfg.App.Package != "org.example.env" || cfg.Exploration.MaxActions != 9 {
		t.Errorf("expanded = %q/%d", cfg.App.Package, cfg.Exploration.MaxActions)
	}

	raw, err := NewLoaderWithOptions(WithEnvExpansion(false), WithValidation(false)).LoadString(content, FormatYAML)
	if err == nil && raw.App.Package != "${EXPLORE_TEST_PACKAGE}" {
		t.Errorf("unexpanded package = %q", raw.App.Package)
	}

	strict := NewLoaderWithOptions(WithStrictEnv(true))
	if _, err := strict.LoadString("name: ${EXPLORE_TEST_UNSET_NAME}", FormatYAML); !errors.Is(err, config.ErrMissingEnvVar) {
		t.Errorf("strict error = %v", err)
	}
}
