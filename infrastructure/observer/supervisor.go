package observer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/felixgeelhaar/explore-go/domain/exploration"
	"github.com/felixgeelhaar/explore-go/infrastructure/logging"
	"github.com/felixgeelhaar/explore-go/infrastructure/telemetry"
)

// entry is one supervised observer with its own cancel scope and task chain.
type entry struct {
	obs    Observer
	ctx    context.Context
	cancel context.CancelFunc

	mu   sync.Mutex
	tail chan struct{}

	processed atomic.Int64
	failures  atomic.Int64
}

// Supervisor owns the observers of one run.
type Supervisor struct {
	mu      sync.RWMutex
	parent  context.Context
	entries []*entry
	byName  map[string]*entry
	wg      sync.WaitGroup
	metrics telemetry.Metrics
	log     *logging.Scoped
}

// SupervisorOption configures a Supervisor.
type SupervisorOption func(*Supervisor)

// WithMetrics records observer failures.
func WithMetrics(m telemetry.Metrics) SupervisorOption {
	return func(s *Supervisor) {
		s.metrics = m
	}
}

// NewSupervisor creates a supervisor whose observer scopes derive from
// parent. Cancelling parent cancels every observer.
func NewSupervisor(parent context.Context, opts ...SupervisorOption) *Supervisor {
	s := &Supervisor{
		parent:  parent,
		byName:  make(map[string]*entry),
		metrics: &telemetry.NoopMetricsProvider{},
		log:     logging.For("observer"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Register adds an observer.
func (s *Supervisor) Register(obs Observer) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	name := obs.Name()
	if _, ok := s.byName[name]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateObserver, name)
	}

	ctx, cancel := context.WithCancel(s.parent)
	done := make(chan struct{})
	close(done)

	e := &entry{obs: obs, ctx: ctx, cancel: cancel, tail: done}
	s.entries = append(s.entries, e)
	s.byName[name] = e
	return nil
}

// Names returns the registered observer names in registration order.
func (s *Supervisor) Names() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	names := make([]string, len(s.entries))
	for i, e := range s.entries {
		names[i] = e.obs.Name()
	}
	return names
}

// Observer returns the registered observer with the given name.
func (s *Supervisor) Observer(name string) (Observer, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.byName[name]
	if !ok {
		return nil, false
	}
	return e.obs, true
}

func (s *Supervisor) snapshot() []*entry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*entry, len(s.entries))
	copy(out, s.entries)
	return out
}

func (s *Supervisor) lookup(name string) (*entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.byName[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownObserver, name)
	}
	return e, nil
}

// Notify starts one detached task per observer for the record. Tasks of the
// same observer run in notification order; Notify never blocks on them.
func (s *Supervisor) Notify(ec *exploration.Context, record exploration.TraceRecord) {
	for _, e := range s.snapshot() {
		e.mu.Lock()
		prev := e.tail
		done := make(chan struct{})
		e.tail = done
		e.mu.Unlock()

		s.wg.Add(1)
		go s.run(e, prev, done, ec, record)
	}
}

func (s *Supervisor) run(e *entry, prev <-chan struct{}, done chan struct{}, ec *exploration.Context, record exploration.TraceRecord) {
	defer s.wg.Done()
	defer close(done)

	<-prev
	if e.ctx.Err() != nil {
		return
	}

	if err := s.invoke(e, func() error {
		return e.obs.OnNewRecord(e.ctx, ec, record)
	}); err != nil {
		if errors.Is(err, context.Canceled) && e.ctx.Err() != nil {
			return
		}
		e.failures.Add(1)
		s.metrics.RecordObserverFailure(context.Background(), e.obs.Name())
		s.log.Warn().
			Add(logging.Observer(e.obs.Name())).
			Add(logging.Step(record.Index)).
			Add(logging.ErrorField(err)).
			Msg("observer failed to process record")
		return
	}
	e.processed.Add(1)
}

// invoke runs fn and converts a panic into an error.
func (s *Supervisor) invoke(e *entry, fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %s: %v", ErrObserverPanic, e.obs.Name(), r)
		}
	}()
	return fn()
}

// Await blocks until every task notified so far for the named observer has
// finished.
func (s *Supervisor) Await(ctx context.Context, name string) error {
	e, err := s.lookup(name)
	if err != nil {
		return err
	}

	e.mu.Lock()
	tail := e.tail
	e.mu.Unlock()

	select {
	case <-tail:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Join waits for the outstanding work of every observer.
func (s *Supervisor) Join(ctx context.Context) error {
	for _, e := range s.snapshot() {
		if err := s.Await(ctx, e.obs.Name()); err != nil {
			return err
		}
	}
	return nil
}

// Cancel cancels one observer. Its pending tasks are skipped; siblings keep
// running.
func (s *Supervisor) Cancel(name string) error {
	e, err := s.lookup(name)
	if err != nil {
		return err
	}
	e.cancel()
	return nil
}

// CancelAll cancels every observer and waits for their goroutines to exit.
func (s *Supervisor) CancelAll() {
	for _, e := range s.snapshot() {
		e.cancel()
	}
	s.wg.Wait()
}

// Cancelled reports whether the named observer has been cancelled.
func (s *Supervisor) Cancelled(name string) bool {
	e, err := s.lookup(name)
	if err != nil {
		return false
	}
	return e.ctx.Err() != nil
}

// Processed returns how many records the named observer has applied.
func (s *Supervisor) Processed(name string) int64 {
	e, err := s.lookup(name)
	if err != nil {
		return 0
	}
	return e.processed.Load()
}

// Failures returns how many records the named observer failed to apply.
func (s *Supervisor) Failures(name string) int64 {
	e, err := s.lookup(name)
	if err != nil {
		return 0
	}
	return e.failures.Load()
}

// Finalize joins every observer and dumps the ones still running. Dump
// failures are logged and returned joined; they never stop other dumps.
// All observer scopes are released afterwards.
func (s *Supervisor) Finalize(ctx context.Context, ec *exploration.Context) error {
	defer s.CancelAll()

	if err := s.Join(ctx); err != nil {
		return err
	}

	var errs []error
	for _, e := range s.snapshot() {
		if e.ctx.Err() != nil {
			s.log.Debug().
				Add(logging.Observer(e.obs.Name())).
				Msg("skipping dump of cancelled observer")
			continue
		}

		if err := s.invoke(e, func() error {
			return e.obs.Dump(e.ctx, ec)
		}); err != nil {
			s.metrics.RecordObserverFailure(context.Background(), e.obs.Name())
			s.log.Error().
				Add(logging.Observer(e.obs.Name())).
				Add(logging.ErrorField(err)).
				Msg("observer dump failed")
			errs = append(errs, fmt.Errorf("%s: %w", e.obs.Name(), err))
			continue
		}
		s.log.Debug().
			Add(logging.Observer(e.obs.Name())).
			Msg("observer dumped")
	}
	return errors.Join(errs...)
}
