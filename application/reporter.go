package application

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/felixgeelhaar/explore-go/domain/exploration"
	"github.com/felixgeelhaar/explore-go/domain/report"
	"github.com/felixgeelhaar/explore-go/infrastructure/logging"
)

// Reporter writes a finished exploration through every configured sink.
type Reporter struct {
	dir   string
	sinks []report.Sink
	log   *logging.Scoped
}

// NewReporter creates a reporter writing into dir.
func NewReporter(dir string, sinks ...report.Sink) *Reporter {
	return &Reporter{
		dir:   dir,
		sinks: sinks,
		log:   logging.For("reporter"),
	}
}

// Dir returns the report directory.
func (r *Reporter) Dir() string { return r.dir }

// Report writes the exploration with every sink. A failing sink is logged
// and the remaining sinks still run; the failures are returned joined.
func (r *Reporter) Report(ctx context.Context, ec *exploration.Context) error {
	if err := report.CheckReportable(ec); err != nil {
		return err
	}
	if err := os.MkdirAll(r.dir, 0750); err != nil {
		return fmt.Errorf("failed to create report directory: %w", err)
	}

	var errs []error
	for _, sink := range r.sinks {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}

		start := time.Now()
		if err := sink.Write(ctx, ec, r.dir); err != nil {
			r.log.Error().
				Add(logging.RunID(ec.RunID())).
				Add(logging.Str("sink", sink.Name())).
				Add(logging.ErrorField(err)).
				Msg("report sink failed")
			errs = append(errs, fmt.Errorf("%s: %w", sink.Name(), err))
			continue
		}
		r.log.Info().
			Add(logging.RunID(ec.RunID())).
			Add(logging.Str("sink", sink.Name())).
			Add(logging.Duration(time.Since(start))).
			Msg("report written")
	}
	return errors.Join(errs...)
}
