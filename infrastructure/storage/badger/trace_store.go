package badger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/dgraph-io/badger/v4"

	"github.com/felixgeelhaar/explore-go/domain/exploration"
	"github.com/felixgeelhaar/explore-go/domain/report"
)

// StoreDir is the name of the store directory written by TraceSink.
const StoreDir = "trace.badger"

// TraceStore persists exploration traces under the keys run/<id> and
// record/<id>/<index>.
type TraceStore struct {
	db *badger.DB
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
	return &TraceStore{db: db}, nil
}

func runKey(runID string) []byte {
	return []byte("run/" + runID)
}

func recordPrefix(runID string) []byte {
	return []byte("record/" + runID + "/")
}

// recordKey zero-pads the index so keys sort in trace order.
func recordKey(runID string, index int) []byte {
	return fmt.Appendf(recordPrefix(runID), "%08d", index)
}

// Save persists a sealed exploration. Records of a previous save of the
// same run are removed.
func (s *TraceStore) Save(ctx context.Context, ec *exploration.Context) error {
	if err := report.CheckReportable(ec); err != nil {
		return err
	}
	if err := s.deleteRecords(ec.RunID()); err != nil {
		return err
	}

	wb := s.db.NewWriteBatch()
	defer wb.Cancel()

	summary, err := json.Marshal(report.Summarize(ec))
	if err != nil {
		return err
	}
	if err := wb.Set(runKey(ec.RunID()), summary); err != nil {
		return err
	}

	for _, r := range ec.Records() {
		if err := ctx.Err(); err != nil {
			return err
		}
		data, err := json.Marshal(storedRecord{Record: report.Flatten(r), Trace: r})
		if err != nil {
			return err
		}
		if err := wb.Set(recordKey(ec.RunID(), r.Index), data); err != nil {
			return fmt.Errorf("record %d: %w", r.Index, err)
		}
	}
	return wb.Flush()
}

// storedRecord keeps the flat view next to the full record.
type storedRecord struct {
	Record report.Record           `json:"record"`
	Trace  exploration.TraceRecord `json:"trace"`
}

func (s *TraceStore) deleteRecords(runID string) error {
	return s.db.Update(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.IteratorOptions{Prefix: recordPrefix(runID)})
		var keys [][]byte
		for it.Rewind(); it.Valid(); it.Next() {
			keys = append(keys, it.Item().KeyCopy(nil))
		}
		it.Close()
		for _, k := range keys {
			if err := txn.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
}

// Summary returns the summary of a stored run.
func (s *TraceStore) Summary(_ context.Context, runID string) (report.Summary, error) {
	var summary report.Summary
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(runKey(runID))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrRunNotFound
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &summary)
		})
	})
	return summary, err
}

// Records returns the flattened records of a stored run in order.
func (s *TraceStore) Records(ctx context.Context, runID string) ([]report.Record, error) {
	var out []report.Record
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.IteratorOptions{PrefetchValues: true, PrefetchSize: 64, Prefix: recordPrefix(runID)})
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			var sr storedRecord
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &sr)
			}); err != nil {
				return err
			}
			out = append(out, sr.Record)
		}
		return nil
	})
	return out, err
}

// Close closes the database.
func (s *TraceStore) Close() error {
	return s.db.Close()
}

// TraceSink writes explorations into <dir>/trace.badger.
type TraceSink struct{}

// NewTraceSink creates a Badger sink.
func NewTraceSink() *TraceSink {
	return &TraceSink{}
}

// Name implements report.Sink.
func (TraceSink) Name() string { return "badger" }

// Write implements report.Sink.
func (TraceSink) Write(ctx context.Context, ec *exploration.Context, dir string) error {
	if err := report.CheckReportable(ec); err != nil {
		return err
	}
	path := filepath.Join(dir, StoreDir)
	if err := os.MkdirAll(path, 0750); err != nil {
		return fmt.Errorf("failed to create report directory: %w", err)
	}

	store, err := NewTraceStore(DefaultConfig(), WithDir(path))
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
