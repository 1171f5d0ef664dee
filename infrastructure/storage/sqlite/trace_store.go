package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/felixgeelhaar/explore-go/domain/exploration"
	"github.com/felixgeelhaar/explore-go/domain/report"
)

// DatabaseFile is the name of the database written by TraceSink.
const DatabaseFile = "trace.db"

// TraceStore persists exploration traces. Saving the same run twice
// replaces it.
type TraceStore struct {
	db *sql.DB
}

// NewTraceStore opens a trace store with the given configuration.
func NewTraceStore(cfg Config, opts ...Option) (*TraceStore, error) {
	for _, opt := range opts {
		opt(&cfg)
	}

	db, err := openDB(cfg)
	if err != nil {
		return nil, err
	}

	s := &TraceStore{db: db}
	if cfg.AutoMigrate {
		if err := s.migrate(); err != nil {
			_ = db.Close()
			return nil, err
		}
	}
	return s, nil
}

// migrate creates the tables if they don't exist.
func (s *TraceStore) migrate() error {
	schema := `
		CREATE TABLE IF NOT EXISTS runs (
			id TEXT PRIMARY KEY,
			app TEXT NOT NULL,
			actions INTEGER NOT NULL,
			failures INTEGER NOT NULL,
			terminated INTEGER NOT NULL,
			error TEXT,
			summary BLOB NOT NULL,
			start_time INTEGER NOT NULL,
			end_time INTEGER NOT NULL
		);
		CREATE TABLE IF NOT EXISTS records (
			run_id TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
			idx INTEGER NOT NULL,
			action_id TEXT NOT NULL,
			kind TEXT NOT NULL,
			source TEXT,
			widget_id TEXT,
			success INTEGER NOT NULL,
			error TEXT,
			state_id TEXT NOT NULL,
			data BLOB NOT NULL,
			timestamp INTEGER NOT NULL,
			PRIMARY KEY (run_id, idx)
		);
		CREATE INDEX IF NOT EXISTS idx_runs_app ON runs(app);
		CREATE INDEX IF NOT EXISTS idx_records_state ON records(state_id);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return errors.Join(ErrMigrationFailed, err)
	}
	return nil
}

// Save persists a sealed exploration in one transaction.
func (s *TraceStore) Save(ctx context.Context, ec *exploration.Context) error {
	if err := report.CheckReportable(ec); err != nil {
		return err
	}

	summary := report.Summarize(ec)
	summaryData, err := json.Marshal(summary)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, "DELETE FROM runs WHERE id = ?", summary.RunID); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO runs (id, app, actions, failures, terminated, error, summary, start_time, end_time)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		summary.RunID, summary.App, summary.Actions, summary.Failures, summary.Terminated,
		summary.Error, summaryData, summary.StartTime.UnixNano(), summary.EndTime.UnixNano(),
	); err != nil {
		return err
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO records (run_id, idx, action_id, kind, source, widget_id, success, error, state_id, data, timestamp)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, r := range ec.Records() {
		flat := report.Flatten(r)
		data, err := json.Marshal(r)
		if err != nil {
			return err
		}
		if _, err := stmt.ExecContext(ctx,
			summary.RunID, flat.Index, flat.ActionID, string(flat.Kind), flat.Source, flat.WidgetID,
			flat.Success, flat.Error, flat.StateID, data, flat.Timestamp.UnixNano(),
		); err != nil {
			return fmt.Errorf("record %d: %w", flat.Index, err)
		}
	}

	return tx.Commit()
}

// Summary returns the summary of a stored run.
func (s *TraceStore) Summary(ctx context.Context, runID string) (report.Summary, error) {
	var (
		summary report.Summary
		data    []byte
	)
	err := s.db.QueryRowContext(ctx, "SELECT summary FROM runs WHERE id = ?", runID).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return summary, ErrRunNotFound
	}
	if err != nil {
		return summary, err
	}
	if err := json.Unmarshal(data, &summary); err != nil {
		return summary, err
	}
	return summary, nil
}

// Records returns the flattened records of a stored run in order.
func (s *TraceStore) Records(ctx context.Context, runID string) ([]report.Record, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT idx, action_id, kind, source, widget_id, success, error, state_id, timestamp
		 FROM records WHERE run_id = ? ORDER BY idx`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []report.Record
	for rows.Next() {
		var (
			r                         report.Record
			kind                      string
			source, widgetID, errText sql.NullString
			ts                        int64
		)
		if err := rows.Scan(&r.Index, &r.ActionID, &kind, &source, &widgetID, &r.Success, &errText, &r.StateID, &ts); err != nil {
			return nil, err
		}
		r.Kind = exploration.ActionKind(kind)
		r.Source = source.String
		r.WidgetID = widgetID.String
		r.Error = errText.String
		r.Timestamp = time.Unix(0, ts).UTC()
		out = append(out, r)
	}
	return out, rows.Err()
}

// Runs lists the stored run ids ordered by start time.
func (s *TraceStore) Runs(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT id FROM runs ORDER BY start_time, id")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Close closes the database connection.
func (s *TraceStore) Close() error {
	return s.db.Close()
}

// TraceSink writes explorations into <dir>/trace.db.
type TraceSink struct{}

// NewTraceSink creates a SQLite sink.
func NewTraceSink() *TraceSink {
	return &TraceSink{}
}

// Name implements report.Sink.
func (TraceSink) Name() string { return "sqlite" }

// Write implements report.Sink.
func (TraceSink) Write(ctx context.Context, ec *exploration.Context, dir string) error {
	if err := report.CheckReportable(ec); err != nil {
		return err
	}
	if err := os.MkdirAll(dir, 0750); err != nil {
		return fmt.Errorf("failed to create report directory: %w", err)
	}

	store, err := NewTraceStore(DefaultConfig(), WithFile(filepath.Join(dir, DatabaseFile)))
	if err != nil {
		return err
	}
	if err := store.Save(ctx, ec); err != nil {
		_ = store.Close()
		return err
	}
	return store.Close()
}

var _ report.Sink = TraceSink{}
