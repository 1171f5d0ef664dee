package observer

import (
	"context"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/felixgeelhaar/explore-go/domain/exploration"
)

// ViewCountName is the registered name of the ViewCount observer.
const ViewCountName = "view-count"

const (
	viewCountFile          = "viewCount.txt"
	viewCountHeaderTime    = "Time_seconds"
	viewCountHeaderSeen    = "Actionable_unique_views_seen"
	viewCountHeaderClicked = "Actionable_unique_views_clicked"
)

// ViewCount tracks how many unique actionable views were seen and clicked
// over the run, and writes them per elapsed second.
type ViewCount struct {
	dir string

	mu      sync.Mutex
	seen    map[string]time.Duration
	clicked map[string]time.Duration
}

// NewViewCount creates the observer writing viewCount.txt into dir.
func NewViewCount(dir string) *ViewCount {
	return &ViewCount{
		dir:     dir,
		seen:    make(map[string]time.Duration),
		clicked: make(map[string]time.Duration),
	}
}

// Name implements Observer.
func (v *ViewCount) Name() string { return ViewCountName }

// OnNewRecord records the first time each view was seen or clicked.
func (v *ViewCount) OnNewRecord(_ context.Context, ec *exploration.Context, record exploration.TraceRecord) error {
	at := record.Action.Timestamp.Sub(ec.StartTime())
	if at < 0 {
		at = 0
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	for _, w := range record.Result.Snapshot.ActionableWidgets() {
		firstAt(v.seen, w.UniqueString(), at)
	}
	if t := record.Action.Target; t != nil {
		firstAt(v.clicked, t.UniqueString(), at)
	}
	return nil
}

func firstAt(m map[string]time.Duration, key string, at time.Duration) {
	if prev, ok := m[key]; !ok || at < prev {
		m[key] = at
	}
}

// countUpTo returns how many keys were first recorded at or before at.
func countUpTo(m map[string]time.Duration, at time.Duration) int {
	n := 0
	for _, t := range m {
		if t <= at {
			n++
		}
	}
	return n
}

// Table returns the rows of the view count table, one per elapsed second.
func (v *ViewCount) Table(total time.Duration) [][3]int {
	v.mu.Lock()
	defer v.mu.Unlock()

	seconds := int(math.Ceil(total.Seconds()))
	rows := make([][3]int, 0, seconds+1)
	for s := 0; s <= seconds; s++ {
		at := time.Duration(s) * time.Second
		rows = append(rows, [3]int{s, countUpTo(v.seen, at), countUpTo(v.clicked, at)})
	}
	return rows
}

// Dump writes viewCount.txt.
func (v *ViewCount) Dump(_ context.Context, ec *exploration.Context) error {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s\t%s\t%s\n", viewCountHeaderTime, viewCountHeaderSeen, viewCountHeaderClicked)
	for _, row := range v.Table(ec.Elapsed()) {
		fmt.Fprintf(&sb, "%d\t%d\t%d\n", row[0], row[1], row[2])
	}
	return writeReport(v.dir, viewCountFile, sb.String())
}

// writeReport writes a text report into dir.
func writeReport(dir, name, content string) error {
	if err := os.MkdirAll(dir, 0750); err != nil { // #nosec G301 -- report directory
		return fmt.Errorf("create report dir: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0600); err != nil {
		return fmt.Errorf("write %s: %w", name, err)
	}
	return nil
}
