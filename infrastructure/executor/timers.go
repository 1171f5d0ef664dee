package executor

import (
	"sort"
	"sync"
	"time"
)

// Timer names recorded by the executor.
const (
	TimerPerform   = "perform"
	TimerLogRead   = "log-read"
	TimerReconnect = "reconnect"
	TimerSettle    = "settle"
)

type timerStat struct {
	count int
	total time.Duration
}

// Timers accumulates durations per name. A Timers value belongs to one
// executor; nothing is shared between runs.
type Timers struct {
	mu    sync.Mutex
	stats map[string]*timerStat
}

// NewTimers creates an empty timer set.
func NewTimers() *Timers {
	return &Timers{stats: make(map[string]*timerStat)}
}

// Observe records one duration.
func (t *Timers) Observe(name string, d time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()

	s, ok := t.stats[name]
	if !ok {
		s = &timerStat{}
		t.stats[name] = s
	}
	s.count++
	s.total += d
}

// Start returns a function that records the time elapsed since Start.
func (t *Timers) Start(name string) func() {
	start := time.Now()
	return func() {
		t.Observe(name, time.Since(start))
	}
}

// Count returns how many durations were recorded under name.
func (t *Timers) Count(name string) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	if s, ok := t.stats[name]; ok {
		return s.count
	}
	return 0
}

// Average returns the mean duration recorded under name.
func (t *Timers) Average(name string) time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()

	s, ok := t.stats[name]
	if !ok || s.count == 0 {
		return 0
	}
	return s.total / time.Duration(s.count)
}

// Names returns the recorded timer names, sorted.
func (t *Timers) Names() []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	names := make([]string, 0, len(t.stats))
	for n := range t.stats {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
