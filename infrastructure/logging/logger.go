// Package logging provides structured logging for exploration runs using bolt.
package logging

import (
	"os"
	"sync"

	"github.com/felixgeelhaar/bolt/v3"
)

var (
	defaultLogger *bolt.Logger
	once          sync.Once
	mu            sync.RWMutex
)

// Config configures the logger.
type Config struct {
	// Level is the minimum log level (trace, debug, info, warn, error).
	Level string

	// Format is the output format (json or console).
	Format string

	// NoColor disables color output for console format.
	NoColor bool

	// Output is the output destination. Logs go to stderr by default so
	// command output on stdout stays machine readable.
	Output *os.File
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Level:  "info",
		Format: "console",
		Output: os.Stderr,
	}
}

// ProductionConfig returns a production-ready configuration.
func ProductionConfig() Config {
	return Config{
		Level:  "info",
		Format: "json",
		Output: os.Stderr,
	}
}

// parseLevel converts a string level to bolt.Level.
func parseLevel(s string) bolt.Level {
	switch s {
	case "trace":
		return bolt.TRACE
	case "debug":
		return bolt.DEBUG
	case "info":
		return bolt.INFO
	case "warn":
		return bolt.WARN
	case "error":
		return bolt.ERROR
	default:
		return bolt.INFO
	}
}

// newLogger builds a logger for the configuration.
func newLogger(config Config) *bolt.Logger {
	output := config.Output
	if output == nil {
		output = os.Stderr
	}

	var handler bolt.Handler
	if config.Format == "json" {
		handler = bolt.NewJSONHandler(output)
	} else {
		handler = bolt.NewConsoleHandler(output)
	}

	return bolt.New(handler).SetLevel(parseLevel(config.Level))
}

// Init initializes the default logger with the given configuration. Only the
// first call has an effect.
func Init(config Config) {
	once.Do(func() {
		mu.Lock()
		defer mu.Unlock()
		defaultLogger = newLogger(config)
	})
}

// Configure replaces the default logger, e.g. after the command line was
// parsed.
func Configure(config Config) {
	once.Do(func() {})
	mu.Lock()
	defer mu.Unlock()
	defaultLogger = newLogger(config)
}

// Get returns the default logger, initializing if necessary.
func Get() *bolt.Logger {
	Init(DefaultConfig())
	mu.RLock()
	defer mu.RUnlock()
	return defaultLogger
}

// LogEvent is a wrapper that allows adding Fields to a bolt.Event.
type LogEvent struct {
	event *bolt.Event
}

// Add applies a field to the event and returns the wrapper for chaining.
func (l *LogEvent) Add(f Field) *LogEvent {
	l.event = f(l.event)
	return l
}

// Msg sends the log event with a message.
func (l *LogEvent) Msg(msg string) {
	l.event.Msg(msg)
}

// Send sends the log event without a message.
func (l *LogEvent) Send() {
	l.event.Send()
}

// Convenience methods that return LogEvent for field chaining.

// Debug returns a LogEvent wrapper for debug level logging.
func Debug() *LogEvent {
	return &LogEvent{event: Get().Debug()}
}

// Info returns a LogEvent wrapper for info level logging.
func Info() *LogEvent {
	return &LogEvent{event: Get().Info()}
}

// Warn returns a LogEvent wrapper for warn level logging.
func Warn() *LogEvent {
	return &LogEvent{event: Get().Warn()}
}

// Error returns a LogEvent wrapper for error level logging.
func Error() *LogEvent {
	return &LogEvent{event: Get().Error()}
}

// For returns a logger scoped to a component, applying the component
// field to every event.
func For(component string) *Scoped {
	return &Scoped{component: component}
}

// Scoped creates events that carry a fixed component field.
type Scoped struct {
	component string
}

// Debug returns a debug event for the component.
func (s *Scoped) Debug() *LogEvent {
	return Debug().Add(Component(s.component))
}

// Info returns an info event for the component.
func (s *Scoped) Info() *LogEvent {
	return Info().Add(Component(s.component))
}

// Warn returns a warn event for the component.
func (s *Scoped) Warn() *LogEvent {
	return Warn().Add(Component(s.component))
}

// Error returns an error event for the component.
func (s *Scoped) Error() *LogEvent {
	return Error().Add(Component(s.component))
}
