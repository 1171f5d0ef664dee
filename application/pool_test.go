package application

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/felixgeelhaar/explore-go/domain/exploration"
	"github.com/felixgeelhaar/explore-go/domain/strategy"
)

// stubPolicy is a scripted policy.
type stubPolicy struct {
	name        string
	contextFree bool
	release     bool
	err         error

	mu      sync.Mutex
	ctrl    strategy.Controller
	decided int
	updates []int
}

func (p *stubPolicy) Name() string { return p.name }

func (p *stubPolicy) Initialize(_ *exploration.Context, ctrl strategy.Controller) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ctrl = ctrl
}

func (p *stubPolicy) Applicable() bool { return true }

func (p *stubPolicy) Decide(context.Context) (exploration.Action, error) {
	p.mu.Lock()
	p.decided++
	ctrl := p.ctrl
	p.mu.Unlock()

	if p.err != nil {
		return exploration.Action{}, p.err
	}
	if p.release {
		if err := ctrl.ReleaseControl(p); err != nil {
			return exploration.Action{}, err
		}
	}
	return exploration.NewBackAction(), nil
}

func (p *stubPolicy) UpdateState(step int, _ exploration.TraceRecord) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.updates = append(p.updates, step)
}

func (p *stubPolicy) OnTargetFound(strategy.Policy, strategy.Target, exploration.ExecutionResult) {}

func (p *stubPolicy) ContextFree() bool { return p.contextFree }

func (p *stubPolicy) Equal(other strategy.Policy) bool {
	return other != nil && other.Name() == p.name
}

func pick(name string, priority int) strategy.Selector {
	return strategy.Selector{
		Description: "pick " + name,
		Priority:    priority,
		Predicate: func(_ context.Context, _ *exploration.Context, pool strategy.PoolView, _ strategy.Params) (strategy.Policy, error) {
			p, _ := pool.Lookup(name)
			return p, nil
		},
	}
}

func newTestRun() *exploration.Context {
	return exploration.NewContext("run-1", exploration.App{PackageName: "org.example"}, time.Now())
}

func ok() exploration.ExecutionResult {
	return exploration.EmptyResult()
}

func TestNewPool_Validation(t *testing.T) {
	t.Parallel()

	if _, err := NewPool(nil, nil, nil); err == nil {
		t.Error("NewPool(nil) should fail")
	}
	bad := strategy.Selector{Description: "no predicate"}
	if _, err := NewPool(newTestRun(), []strategy.Selector{bad}, nil); err == nil {
		t.Error("NewPool() should reject invalid selectors")
	}
}

func TestPool_Register(t *testing.T) {
	t.Parallel()

	a := &stubPolicy{name: "a"}
	pool, err := NewPool(newTestRun(), nil, []strategy.Policy{a})
	if err != nil {
		t.Fatalf("NewPool() error = %v", err)
	}
	if pool.Register(&stubPolicy{name: "a"}) {
		t.Error("Register() accepted a duplicate")
	}
	if !pool.Register(&stubPolicy{name: "b"}) {
		t.Error("Register() rejected a new policy")
	}
	if pool.Size() != 2 {
		t.Errorf("Size() = %d, want 2", pool.Size())
	}
	if a.ctrl != pool {
		t.Error("policy was not bound to the pool")
	}

	pool.Clear()
	if pool.Size() != 0 || !pool.Idle() {
		t.Error("Clear() should empty the pool")
	}
}

func TestPool_Decide_Violations(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		selectors []strategy.Selector
		policies  []strategy.Policy
		last      exploration.ExecutionResult
		want      error
	}{
		{
			name:     "unsuccessful result",
			policies: []strategy.Policy{&stubPolicy{name: "a"}},
			last:     exploration.FailedResult(errors.New("boom"), nil),
			want:     strategy.ErrUnsuccessfulResult,
		},
		{
			name:      "empty registry",
			selectors: []strategy.Selector{pick("a", 0)},
			last:      ok(),
			want:      strategy.ErrNoPolicies,
		},
		{
			name:      "no selector matched",
			selectors: []strategy.Selector{pick("missing", 0)},
			policies:  []strategy.Policy{&stubPolicy{name: "a"}},
			last:      ok(),
			want:      strategy.ErrNoSelectorMatched,
		},
		{
			name:      "policy error",
			selectors: []strategy.Selector{pick("a", 0)},
			policies:  []strategy.Policy{&stubPolicy{name: "a", err: errors.New("confused")}},
			last:      ok(),
			want:      strategy.ErrContractViolation,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			pool, err := NewPool(newTestRun(), tt.selectors, tt.policies)
			if err != nil {
				t.Fatalf("NewPool() error = %v", err)
			}
			_, err = pool.Decide(context.Background(), tt.last)
			if !strategy.IsContractViolation(err) || !errors.Is(err, tt.want) {
				t.Errorf("Decide() error = %v, want violation wrapping %v", err, tt.want)
			}
		})
	}
}

func TestPool_ControlOwnership(t *testing.T) {
	t.Parallel()

	free := &stubPolicy{name: "free", contextFree: true}
	sticky := &stubPolicy{name: "sticky"}

	pool, err := NewPool(newTestRun(), []strategy.Selector{pick("free", 0)}, []strategy.Policy{free, sticky})
	if err != nil {
		t.Fatalf("NewPool() error = %v", err)
	}

	a, err := pool.Decide(context.Background(), ok())
	if err != nil {
		t.Fatalf("Decide() error = %v", err)
	}
	if a.Source != "free" {
		t.Errorf("Source = %q, want free", a.Source)
	}
	if !pool.Idle() {
		t.Error("context-free policy should return the pool to Idle")
	}

	// A policy that never held control may not release it.
	if err := pool.ReleaseControl(sticky); !errors.Is(err, strategy.ErrNotInControl) {
		t.Errorf("ReleaseControl() = %v, want ErrNotInControl", err)
	}
	if err := pool.ReleaseControl(free); err != nil {
		t.Errorf("context-free ReleaseControl() = %v", err)
	}
}

func TestPool_ActivePolicySkipsSelection(t *testing.T) {
	t.Parallel()

	sticky := &stubPolicy{name: "sticky"}
	var rounds int
	var mu sync.Mutex
	counting := strategy.Selector{
		Description: "counting",
		Priority:    0,
		Predicate: func(_ context.Context, _ *exploration.Context, pool strategy.PoolView, _ strategy.Params) (strategy.Policy, error) {
			mu.Lock()
			rounds++
			mu.Unlock()
			p, _ := pool.Lookup("sticky")
			return p, nil
		},
	}

	pool, err := NewPool(newTestRun(), []strategy.Selector{counting}, []strategy.Policy{sticky})
	if err != nil {
		t.Fatalf("NewPool() error = %v", err)
	}
	for range 3 {
		if _, err := pool.Decide(context.Background(), ok()); err != nil {
			t.Fatalf("Decide() error = %v", err)
		}
	}
	if rounds != 1 {
		t.Errorf("selection ran %d times, want 1", rounds)
	}
	if pool.Active() == nil || pool.Active().Name() != "sticky" {
		t.Error("sticky policy should stay active")
	}

	sticky.release = true
	if _, err := pool.Decide(context.Background(), ok()); err != nil {
		t.Fatalf("Decide() error = %v", err)
	}
	if !pool.Idle() {
		t.Error("released policy should leave the pool Idle")
	}
}

func TestPool_SelectionOrder(t *testing.T) {
	t.Parallel()

	slow := strategy.Selector{
		Description: "slow",
		Priority:    1,
		Predicate: func(ctx context.Context, _ *exploration.Context, pool strategy.PoolView, _ strategy.Params) (strategy.Policy, error) {
			select {
			case <-time.After(30 * time.Millisecond):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
			p, _ := pool.Lookup("slow")
			return p, nil
		},
	}
	panicking := strategy.Selector{
		Description: "panicking",
		Priority:    0,
		Predicate: func(context.Context, *exploration.Context, strategy.PoolView, strategy.Params) (strategy.Policy, error) {
			panic("bad predicate")
		},
	}

	pool, err := NewPool(newTestRun(),
		[]strategy.Selector{pick("fast", 2), slow, panicking},
		[]strategy.Policy{&stubPolicy{name: "fast", contextFree: true}, &stubPolicy{name: "slow", contextFree: true}},
		WithSelectionWorkers(3),
	)
	if err != nil {
		t.Fatalf("NewPool() error = %v", err)
	}

	for range 5 {
		a, err := pool.Decide(context.Background(), ok())
		if err != nil {
			t.Fatalf("Decide() error = %v", err)
		}
		if a.Source != "slow" {
			t.Fatalf("Source = %q, want the higher priority slow selector", a.Source)
		}
	}
}

// watchingPolicy records whether the pool saw it as active while deciding.
type watchingPolicy struct {
	*stubPolicy
	pool   *Pool
	active []bool
}

func (p *watchingPolicy) Decide(ctx context.Context) (exploration.Action, error) {
	cur := p.pool.Active()
	p.active = append(p.active, cur != nil && cur.Name() == p.name)
	return p.stubPolicy.Decide(ctx)
}

func TestPool_CatchAllCyclesEveryStep(t *testing.T) {
	t.Parallel()

	var misses int
	var mu sync.Mutex
	never := strategy.Selector{
		Description: "never",
		Priority:    5,
		Predicate: func(context.Context, *exploration.Context, strategy.PoolView, strategy.Params) (strategy.Policy, error) {
			mu.Lock()
			misses++
			mu.Unlock()
			return nil, nil
		},
	}
	random := &watchingPolicy{stubPolicy: &stubPolicy{name: "random", contextFree: true}}

	pool, err := NewPool(newTestRun(), []strategy.Selector{pick("random", 10), never}, []strategy.Policy{random})
	if err != nil {
		t.Fatalf("NewPool() error = %v", err)
	}
	random.pool = pool

	const steps = 4
	for i := range steps {
		if !pool.Idle() {
			t.Fatalf("step %d: pool not Idle before Decide", i)
		}
		a, err := pool.Decide(context.Background(), ok())
		if err != nil {
			t.Fatalf("step %d: Decide() error = %v", i, err)
		}
		if a.Source != "random" {
			t.Errorf("step %d: Source = %q, want the priority 10 policy", i, a.Source)
		}
		if !pool.Idle() {
			t.Errorf("step %d: context-free policy should return the pool to Idle", i)
		}
	}

	if misses != steps {
		t.Errorf("priority 5 selector evaluated %d times, want %d", misses, steps)
	}
	if len(random.active) != steps {
		t.Fatalf("policy decided %d times, want %d", len(random.active), steps)
	}
	for i, active := range random.active {
		if !active {
			t.Errorf("step %d: policy was not Active while deciding", i)
		}
	}
}

func TestPool_SelectionCancelled(t *testing.T) {
	t.Parallel()

	blocking := strategy.Selector{
		Description: "blocking",
		Priority:    0,
		Predicate: func(ctx context.Context, _ *exploration.Context, _ strategy.PoolView, _ strategy.Params) (strategy.Policy, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		},
	}
	pool, err := NewPool(newTestRun(), []strategy.Selector{blocking}, []strategy.Policy{&stubPolicy{name: "a"}})
	if err != nil {
		t.Fatalf("NewPool() error = %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := pool.Decide(ctx, ok()); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Decide() error = %v, want deadline exceeded", err)
	}
}

func TestPool_NotifyStepCompleted(t *testing.T) {
	t.Parallel()

	a := &stubPolicy{name: "a"}
	b := &stubPolicy{name: "b"}
	pool, err := NewPool(newTestRun(), nil, []strategy.Policy{a, b})
	if err != nil {
		t.Fatalf("NewPool() error = %v", err)
	}

	pool.NotifyStepCompleted(exploration.TraceRecord{Index: 0})
	pool.NotifyStepCompleted(exploration.TraceRecord{Index: 1})

	if pool.Step() != 2 {
		t.Errorf("Step() = %d, want 2", pool.Step())
	}
	for _, p := range []*stubPolicy{a, b} {
		if len(p.updates) != 2 || p.updates[0] != 1 || p.updates[1] != 2 {
			t.Errorf("%s updates = %v, want [1 2]", p.name, p.updates)
		}
	}
}

func TestPool_Blacklist(t *testing.T) {
	t.Parallel()

	pool, err := NewPool(newTestRun(), nil, nil)
	if err != nil {
		t.Fatalf("NewPool() error = %v", err)
	}
	if pool.AllWidgetsBlacklisted() {
		t.Error("fresh pool reports blacklisted widgets")
	}
	pool.NotifyAllWidgetsBlacklisted()
	if !pool.AllWidgetsBlacklisted() {
		t.Error("NotifyAllWidgetsBlacklisted() not recorded")
	}
}
