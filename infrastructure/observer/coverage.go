package observer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/felixgeelhaar/fortify/circuitbreaker"

	"github.com/felixgeelhaar/explore-go/domain/device"
	"github.com/felixgeelhaar/explore-go/domain/exploration"
	"github.com/felixgeelhaar/explore-go/infrastructure/logging"
)

// StatementCoverageName is the registered name of the StatementCoverage
// observer.
const StatementCoverageName = "statement-coverage"

const (
	coverageTag        = "[androcov]"
	coverageHelper     = "CoverageHelper"
	coverageUUIDMarker = "uuid="
	coverageTimeLayout = "2006-01-02 15:04:05.000"
	coverageHeader     = "Statement;Time"
	coverageFile       = "coverage.txt"
	instrumentationExt = ".apk.json"
)

// CoverageConfig configures the StatementCoverage observer.
type CoverageConfig struct {
	// AppName selects the instrumentation file and names the log dumps.
	AppName string

	// InstrumentationDir holds "<...app...>.apk.json" instrumentation files.
	InstrumentationDir string

	// LogDir receives one "<app>-logcat-%04d" file per read.
	LogDir string

	// OutputDir receives coverage.txt.
	OutputDir string

	// BreakerThreshold is the number of consecutive read failures before
	// reads are suspended.
	BreakerThreshold int

	// BreakerTimeout is how long reads stay suspended.
	BreakerTimeout time.Duration
}

// StatementCoverage tracks executed statements by reading the device's
// coverage log after every action.
type StatementCoverage struct {
	cfg     CoverageConfig
	source  device.CoverageSource
	breaker circuitbreaker.CircuitBreaker[[]string]
	log     *logging.Scoped

	// readMu serialises log reads; concurrent reads can crash the channel.
	readMu sync.Mutex

	mu              sync.RWMutex
	instrumentation map[string]string
	executed        map[string]time.Time
	lastRead        string
	lastTime        time.Time
	reads           int
}

// NewStatementCoverage creates the observer and loads the instrumentation
// map. A missing instrumentation directory only disables the ratio.
func NewStatementCoverage(cfg CoverageConfig, source device.CoverageSource) (*StatementCoverage, error) {
	if cfg.BreakerThreshold <= 0 {
		cfg.BreakerThreshold = 3
	}
	if cfg.BreakerTimeout <= 0 {
		cfg.BreakerTimeout = 30 * time.Second
	}
	if cfg.OutputDir == "" {
		cfg.OutputDir = "."
	}
	threshold := uint32(cfg.BreakerThreshold) // #nosec G115 -- bounds checked above

	c := &StatementCoverage{
		cfg:    cfg,
		source: source,
		breaker: circuitbreaker.New[[]string](circuitbreaker.Config{
			MaxRequests: 1,
			Interval:    cfg.BreakerTimeout,
			Timeout:     cfg.BreakerTimeout,
			ReadyToTrip: func(counts circuitbreaker.Counts) bool {
				return counts.ConsecutiveFailures >= threshold
			},
		}),
		log:      logging.For("coverage"),
		executed: make(map[string]time.Time),
	}

	if cfg.LogDir != "" {
		if err := os.MkdirAll(cfg.LogDir, 0750); err != nil { // #nosec G301 -- report directory
			return nil, fmt.Errorf("create coverage log dir: %w", err)
		}
	}

	instr, err := loadInstrumentation(cfg.InstrumentationDir, cfg.AppName)
	if err != nil {
		return nil, err
	}
	if instr == nil {
		c.log.Warn().
			Add(logging.Str("dir", cfg.InstrumentationDir)).
			Msg("no instrumentation found; coverage ratio will stay at zero")
		instr = map[string]string{}
	}
	c.instrumentation = instr
	return c, nil
}

// loadInstrumentation reads the first "*<app>*.apk.json" file of dir. It
// returns nil without error when there is nothing to load.
func loadInstrumentation(dir, app string) (map[string]string, error) {
	if dir == "" {
		return nil, nil
	}
	entries, err := os.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read instrumentation dir: %w", err)
	}

	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.Contains(name, app) || !strings.HasSuffix(name, instrumentationExt) {
			continue
		}
		return readInstrumentationFile(filepath.Join(dir, name))
	}
	return nil, nil
}

func readInstrumentationFile(path string) (map[string]string, error) {
	data, err := os.ReadFile(path) // #nosec G304 -- path comes from configuration
	if err != nil {
		return nil, fmt.Errorf("read instrumentation file: %w", err)
	}

	var doc struct {
		AllMethods []string `json:"allMethods"`
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse instrumentation file %s: %w", path, err)
	}

	statements := make(map[string]string, len(doc.AllMethods))
	for _, method := range doc.AllMethods {
		if strings.Contains(method, coverageHelper) {
			continue
		}
		parts := strings.SplitN(method, coverageUUIDMarker, 2)
		statements[parts[len(parts)-1]] = method
	}
	return statements, nil
}

// Name implements Observer.
func (c *StatementCoverage) Name() string { return StatementCoverageName }

// OnNewRecord reads the coverage log accumulated since the last read.
func (c *StatementCoverage) OnNewRecord(ctx context.Context, _ *exploration.Context, _ exploration.TraceRecord) error {
	c.readMu.Lock()
	defer c.readMu.Unlock()

	c.mu.RLock()
	since := c.lastTime
	if c.lastRead == "" {
		since = time.Time{}
	}
	c.mu.RUnlock()

	lines, err := c.breaker.Execute(ctx, func(ctx context.Context) ([]string, error) {
		return c.source.ReadCoverageLog(ctx, since)
	})
	if err != nil {
		return fmt.Errorf("read coverage log: %w", err)
	}

	c.apply(lines)

	c.log.Info().
		Add(logging.Ratio("coverage", c.CurrentCoverage())).
		Msg("Current statement coverage")

	return c.writeLogDump(lines)
}

// apply records the first occurrence of every statement in lines.
func (c *StatementCoverage) apply(lines []string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	after := c.lastRead
	for _, line := range lines {
		if !strings.Contains(line, coverageTag) || strings.Contains(line, coverageHelper) || line <= after {
			continue
		}

		parts := strings.SplitN(line, coverageUUIDMarker, 2)
		if len(parts) < 2 {
			continue
		}
		fields := strings.Fields(parts[0])
		if len(fields) < 2 {
			continue
		}
		ts, err := time.Parse(coverageTimeLayout, fields[0]+" "+fields[1])
		if err != nil {
			c.log.Debug().
				Add(logging.ErrorField(err)).
				Msg("skipping coverage line with malformed timestamp")
			continue
		}

		uuid := strings.TrimSpace(parts[1])
		if _, seen := c.executed[uuid]; !seen {
			c.executed[uuid] = ts
		}
		c.lastRead = line
		c.lastTime = ts
	}
}

func (c *StatementCoverage) writeLogDump(lines []string) error {
	c.mu.Lock()
	n := c.reads
	c.reads++
	c.mu.Unlock()

	if c.cfg.LogDir == "" {
		return nil
	}
	name := filepath.Join(c.cfg.LogDir, fmt.Sprintf("%s-logcat-%04d", c.cfg.AppName, n))
	content := strings.Join(lines, "\n")
	if len(lines) > 0 {
		content += "\n"
	}
	if err := os.WriteFile(name, []byte(content), 0600); err != nil {
		return fmt.Errorf("write coverage log dump: %w", err)
	}
	return nil
}

// CurrentCoverage returns executed over instrumented statements, or zero
// without instrumentation.
func (c *StatementCoverage) CurrentCoverage() float64 {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if len(c.instrumentation) == 0 {
		return 0
	}
	return float64(len(c.executed)) / float64(len(c.instrumentation))
}

// Instrumented returns the number of instrumented statements.
func (c *StatementCoverage) Instrumented() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.instrumentation)
}

// Executed returns the number of distinct executed statements.
func (c *StatementCoverage) Executed() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.executed)
}

// Dump writes coverage.txt: every executed statement with the seconds
// elapsed since the first one, in execution order.
func (c *StatementCoverage) Dump(_ context.Context, _ *exploration.Context) error {
	c.readMu.Lock()
	defer c.readMu.Unlock()

	c.mu.RLock()
	type hit struct {
		uuid string
		at   time.Time
	}
	hits := make([]hit, 0, len(c.executed))
	for uuid, at := range c.executed {
		hits = append(hits, hit{uuid: uuid, at: at})
	}
	c.mu.RUnlock()

	sort.Slice(hits, func(i, j int) bool {
		if hits[i].at.Equal(hits[j].at) {
			return hits[i].uuid < hits[j].uuid
		}
		return hits[i].at.Before(hits[j].at)
	})

	var sb strings.Builder
	sb.WriteString(coverageHeader)
	sb.WriteString("\n")
	for _, h := range hits {
		seconds := h.at.Sub(hits[0].at).Milliseconds() / 1000
		fmt.Fprintf(&sb, "%s;%d\n", h.uuid, seconds)
	}

	if err := os.MkdirAll(c.cfg.OutputDir, 0750); err != nil { // #nosec G301 -- report directory
		return fmt.Errorf("create coverage output dir: %w", err)
	}
	if err := os.WriteFile(filepath.Join(c.cfg.OutputDir, coverageFile), []byte(sb.String()), 0600); err != nil {
		return fmt.Errorf("write coverage: %w", err)
	}
	return nil
}
