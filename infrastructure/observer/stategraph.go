package observer

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/awalterschulze/gographviz"

	"github.com/felixgeelhaar/explore-go/domain/exploration"
)

// StateGraphName is the registered name of the StateGraph observer.
const StateGraphName = "state-graph"

const (
	stateGraphFile = "stateGraph.dot"
	stateGraphName = "explored"
)

type graphEdge struct {
	from, to string
	kind     exploration.ActionKind
}

// StateGraph collects the explored states and the transitions between them
// and exports them as a DOT graph.
type StateGraph struct {
	dir string

	mu     sync.Mutex
	states map[string]exploration.Snapshot
	edges  map[graphEdge]int
}

// NewStateGraph creates the observer writing stateGraph.dot into dir.
func NewStateGraph(dir string) *StateGraph {
	return &StateGraph{
		dir:    dir,
		states: make(map[string]exploration.Snapshot),
		edges:  make(map[graphEdge]int),
	}
}

// Name implements Observer.
func (g *StateGraph) Name() string { return StateGraphName }

// OnNewRecord adds the record's transition.
func (g *StateGraph) OnNewRecord(_ context.Context, ec *exploration.Context, record exploration.TraceRecord) error {
	from := ec.StateBefore(record.Index)
	to := record.Result.Snapshot

	g.mu.Lock()
	defer g.mu.Unlock()

	g.states[from.ID] = from
	g.states[to.ID] = to
	g.edges[graphEdge{from: from.ID, to: to.ID, kind: record.Action.Kind}]++
	return nil
}

// Dump writes stateGraph.dot.
func (g *StateGraph) Dump(context.Context, *exploration.Context) error {
	dot, err := g.DOT()
	if err != nil {
		return err
	}
	return writeReport(g.dir, stateGraphFile, dot)
}

// DOT renders the graph.
func (g *StateGraph) DOT() (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	graph := gographviz.NewEscape()
	if err := graph.SetName(stateGraphName); err != nil {
		return "", fmt.Errorf("state graph: %w", err)
	}
	if err := graph.SetDir(true); err != nil {
		return "", fmt.Errorf("state graph: %w", err)
	}

	ids := make([]string, 0, len(g.states))
	for id := range g.states {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		s := g.states[id]
		label := s.Activity
		if s.Missing {
			label = exploration.MissingSnapshotID
		}
		if label == "" {
			label = id
		}
		attrs := map[string]string{"label": label}
		if s.IsHomeScreen {
			attrs["shape"] = "box"
		}
		if err := graph.AddNode(stateGraphName, id, attrs); err != nil {
			return "", fmt.Errorf("state graph node %s: %w", id, err)
		}
	}

	edges := make([]graphEdge, 0, len(g.edges))
	for e := range g.edges {
		edges = append(edges, e)
	}
	sort.Slice(edges, func(i, j int) bool {
		if edges[i].from != edges[j].from {
			return edges[i].from < edges[j].from
		}
		if edges[i].to != edges[j].to {
			return edges[i].to < edges[j].to
		}
		return edges[i].kind < edges[j].kind
	})

	for _, e := range edges {
		attrs := map[string]string{
			"label": fmt.Sprintf("%s x%d", e.kind, g.edges[e]),
		}
		if err := graph.AddEdge(e.from, e.to, true, attrs); err != nil {
			return "", fmt.Errorf("state graph edge %s->%s: %w", e.from, e.to, err)
		}
	}

	return graph.String(), nil
}

// Size returns the number of states and distinct transitions.
func (g *StateGraph) Size() (states, transitions int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.states), len(g.edges)
}
