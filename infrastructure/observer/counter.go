package observer

import (
	"context"
	"sync"

	"github.com/felixgeelhaar/explore-go/domain/exploration"
)

// ActionCounterName is the registered name of the ActionCounter.
const ActionCounterName = "action-counter"

// ActionCounter counts interactions per widget, both within the state the
// widget was acted on and over the whole run.
type ActionCounter struct {
	mu       sync.RWMutex
	perState map[string]map[string]int
	total    map[string]int
}

// NewActionCounter creates an empty counter.
func NewActionCounter() *ActionCounter {
	return &ActionCounter{
		perState: make(map[string]map[string]int),
		total:    make(map[string]int),
	}
}

// Name implements Observer.
func (c *ActionCounter) Name() string { return ActionCounterName }

// OnNewRecord counts the record's target in the state it was chosen from.
func (c *ActionCounter) OnNewRecord(_ context.Context, ec *exploration.Context, record exploration.TraceRecord) error {
	target := record.Action.Target
	if target == nil {
		return nil
	}

	state := ec.StateBefore(record.Index)

	c.mu.Lock()
	defer c.mu.Unlock()

	counts, ok := c.perState[state.ID]
	if !ok {
		counts = make(map[string]int)
		c.perState[state.ID] = counts
	}
	counts[target.ID]++
	c.total[target.ID]++
	return nil
}

// Dump implements Observer. Counts are only consumed in memory.
func (c *ActionCounter) Dump(context.Context, *exploration.Context) error {
	return nil
}

// StateCount returns how often the widget was acted on in the given state.
func (c *ActionCounter) StateCount(stateID, widgetID string) int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.perState[stateID][widgetID]
}

// WidgetCount returns how often the widget was acted on during the run.
func (c *ActionCounter) WidgetCount(widgetID string) int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.total[widgetID]
}
