// Package filesystem writes exploration reports as JSON files.
package filesystem

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/felixgeelhaar/explore-go/domain/exploration"
	"github.com/felixgeelhaar/explore-go/domain/report"
)

// File names written by TraceSink.
const (
	TraceFile   = "trace.json"
	SummaryFile = "summary.json"
)

// Entry is one step of trace.json.
type Entry struct {
	report.Record
	Action   exploration.Action    `json:"action"`
	Snapshot exploration.Snapshot  `json:"snapshot"`
	Logs     exploration.LogBundle `json:"log_entries,omitempty"`
}

// TraceSink writes trace.json and summary.json.
type TraceSink struct {
	indent bool
}

// NewTraceSink creates a filesystem sink. Indented output is easier to
// diff; compact output is smaller.
func NewTraceSink(indent bool) *TraceSink {
	return &TraceSink{indent: indent}
}

// Name implements report.Sink.
func (s *TraceSink) Name() string { return "filesystem" }

// Write implements report.Sink.
func (s *TraceSink) Write(ctx context.Context, ec *exploration.Context, dir string) error {
	if err := report.CheckReportable(ec); err != nil {
		return err
	}
	if err := os.MkdirAll(dir, 0750); err != nil {
		return fmt.Errorf("failed to create report directory: %w", err)
	}

	records := ec.Records()
	entries := make([]Entry, 0, len(records))
	for _, r := range records {
		if err := ctx.Err(); err != nil {
			return err
		}
		entries = append(entries, Entry{
			Record:   report.Flatten(r),
			Action:   r.Action,
			Snapshot: r.Result.Snapshot,
			Logs:     r.Result.Logs,
		})
	}

	if err := s.writeJSON(filepath.Join(dir, TraceFile), entries); err != nil {
		return err
	}
	return s.writeJSON(filepath.Join(dir, SummaryFile), report.Summarize(ec))
}

// writeJSON writes v to a temporary file and renames it into place.
func (s *TraceSink) writeJSON(path string, v any) error {
	var (
		data []byte
		err  error
	)
	if s.indent {
		data, err = json.MarshalIndent(v, "", "  ")
	} else {
		data, err = json.Marshal(v)
	}
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", filepath.Base(path), err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return fmt.Errorf("failed to write %s: %w", filepath.Base(path), err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp) // #nosec G104 -- best-effort cleanup in error path
		return fmt.Errorf("failed to move %s into place: %w", filepath.Base(path), err)
	}
	return nil
}

// ReadSummary loads summary.json from a report directory.
func ReadSummary(dir string) (report.Summary, error) {
	var s report.Summary
	data, err := os.ReadFile(filepath.Join(dir, SummaryFile)) // #nosec G304 -- report directory
	if err != nil {
		return s, fmt.Errorf("failed to read summary: %w", err)
	}
	if err := json.Unmarshal(data, &s); err != nil {
		return s, fmt.Errorf("failed to decode summary: %w", err)
	}
	return s, nil
}

// ReadTrace loads trace.json from a report directory.
func ReadTrace(dir string) ([]Entry, error) {
	data, err := os.ReadFile(filepath.Join(dir, TraceFile)) // #nosec G304 -- report directory
	if err != nil {
		return nil, fmt.Errorf("failed to read trace: %w", err)
	}
	var entries []Entry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("failed to decode trace: %w", err)
	}
	return entries, nil
}
