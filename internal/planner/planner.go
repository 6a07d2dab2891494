// Package planner implements the dependency graph planner (spec §4.8, C8):
// it resolves each suite's Depends edges to concrete nodes, detects cycles,
// and partitions the graph into Kahn-level "waves" so independent suites in
// the same wave can run concurrently. Grounded on the teacher's
// integration_orchestrator dependency resolution (which walks a flat
// depends_on list before running a workflow), generalized to the
// priority/source-order tiebreak and wave partitioning spec §4.8 requires.
package planner

import (
	"fmt"
	"sort"

	"github.com/goccy/go-graphviz"
	"github.com/goccy/go-graphviz/cgraph"

	"github.com/blackcoderx/falcon-runner/internal/rsuite"
)

// Graph is the resolved dependency graph over a set of suites.
type Graph struct {
	suites map[string]*rsuite.Suite
	order  []string // source order, for tiebreaking
	edges  map[string][]rsuite.DependencyEdge
}

// DependencyEdges returns id's resolved outgoing edges, each with NodeID
// rewritten to the dependency's resolved node id and Required/Guard/Cache
// preserved from the suite's own Depends declaration (spec §3).
func (g *Graph) DependencyEdges(id string) []rsuite.DependencyEdge {
	return g.edges[id]
}

// CacheableNodeIDs returns the set of node ids that some dependent
// references with Cache:true (spec §3 DependencyEdge.Cache "reuse prior
// result rather than re-execute").
func (g *Graph) CacheableNodeIDs() map[string]bool {
	out := make(map[string]bool)
	for _, edges := range g.edges {
		for _, e := range edges {
			if e.Cache {
				out[e.NodeID] = true
			}
		}
	}
	return out
}

// Resolver resolves a DependencyEdge's NodeID — which may itself be a
// node_id or a filesystem path candidate — to an already-loaded suite's
// node_id (spec §4.8 "resolving node_id then path candidates").
type Resolver func(edge rsuite.DependencyEdge, suites map[string]*rsuite.Suite) (string, error)

// DefaultResolver tries an exact node_id match first, then a suite whose
// Path equals the edge's NodeID.
func DefaultResolver(edge rsuite.DependencyEdge, suites map[string]*rsuite.Suite) (string, error) {
	if _, ok := suites[edge.NodeID]; ok {
		return edge.NodeID, nil
	}
	for id, s := range suites {
		if s.Path == edge.NodeID {
			return id, nil
		}
	}
	if edge.Required {
		return "", fmt.Errorf("planner: unresolved required dependency %q", edge.NodeID)
	}
	return "", nil
}

// Build constructs the dependency graph for suites, in the order given
// (source order is preserved for tiebreaking). Returns an error for an
// unresolved required dependency or a dependency cycle; unresolved optional
// dependencies are silently dropped from the edge set.
func Build(suites []*rsuite.Suite, resolve Resolver) (*Graph, error) {
	if resolve == nil {
		resolve = DefaultResolver
	}
	g := &Graph{
		suites: make(map[string]*rsuite.Suite, len(suites)),
		edges:  make(map[string][]rsuite.DependencyEdge, len(suites)),
	}
	for _, s := range suites {
		g.suites[s.NodeID] = s
		g.order = append(g.order, s.NodeID)
	}
	for _, s := range suites {
		for _, dep := range s.Depends {
			target, err := resolve(dep, g.suites)
			if err != nil {
				return nil, err
			}
			if target == "" {
				continue
			}
			resolved := dep
			resolved.NodeID = target
			g.edges[s.NodeID] = append(g.edges[s.NodeID], resolved)
		}
	}
	if cyc := g.findCycle(); cyc != nil {
		return nil, fmt.Errorf("planner: dependency cycle detected: %v", cyc)
	}
	return g, nil
}

func (g *Graph) findCycle() []string {
	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[string]int, len(g.order))
	var path []string
	var cycle []string

	var visit func(id string) bool
	visit = func(id string) bool {
		color[id] = gray
		path = append(path, id)
		for _, edge := range g.edges[id] {
			dep := edge.NodeID
			switch color[dep] {
			case gray:
				cycle = append(append([]string{}, path...), dep)
				return true
			case white:
				if visit(dep) {
					return true
				}
			}
		}
		path = path[:len(path)-1]
		color[id] = black
		return false
	}

	for _, id := range g.order {
		if color[id] == white {
			if visit(id) {
				return cycle
			}
		}
	}
	return nil
}

// Waves partitions the graph into dependency-respecting levels: every
// suite in wave N depends only on suites in waves < N. Within a wave,
// suites are ordered by descending priority, then source order (spec §4.8).
func (g *Graph) Waves() [][]*rsuite.Suite {
	indegree := make(map[string]int, len(g.order))
	dependents := make(map[string][]string, len(g.order))
	for _, id := range g.order {
		indegree[id] = len(g.edges[id])
	}
	for id, edges := range g.edges {
		for _, edge := range edges {
			dependents[edge.NodeID] = append(dependents[edge.NodeID], id)
		}
	}

	remaining := make(map[string]bool, len(g.order))
	for _, id := range g.order {
		remaining[id] = true
	}

	var waves [][]*rsuite.Suite
	for len(remaining) > 0 {
		var ready []string
		for _, id := range g.order {
			if remaining[id] && indegree[id] == 0 {
				ready = append(ready, id)
			}
		}
		if len(ready) == 0 {
			// Shouldn't happen given cycle detection in Build, but guard anyway.
			break
		}
		sort.SliceStable(ready, func(i, j int) bool {
			si, sj := g.suites[ready[i]], g.suites[ready[j]]
			if si.Priority != sj.Priority {
				return si.Priority > sj.Priority
			}
			return indexOf(g.order, ready[i]) < indexOf(g.order, ready[j])
		})

		wave := make([]*rsuite.Suite, 0, len(ready))
		for _, id := range ready {
			wave = append(wave, g.suites[id])
			delete(remaining, id)
			for _, dependent := range dependents[id] {
				indegree[dependent]--
			}
		}
		waves = append(waves, wave)
	}
	return waves
}

func indexOf(order []string, id string) int {
	for i, o := range order {
		if o == id {
			return i
		}
	}
	return -1
}

// RenderDiagram produces a Graphviz DOT-rendered PNG of the dependency
// graph (spec §4.8 "discovery diagram"), using goccy/go-graphviz.
func (g *Graph) RenderDiagram() ([]byte, error) {
	gv := graphviz.New()
	defer gv.Close()

	graph, err := gv.Graph()
	if err != nil {
		return nil, fmt.Errorf("planner: creating graph: %w", err)
	}
	defer graph.Close()

	nodes := make(map[string]*cgraph.Node, len(g.order))
	for _, id := range g.order {
		n, err := graph.CreateNode(id)
		if err != nil {
			return nil, fmt.Errorf("planner: creating node %q: %w", id, err)
		}
		n.SetStyle(cgraph.FilledStyle)
		n.SetFillColor(priorityColor(g.suites[id].Priority))
		nodes[id] = n
	}
	for id, edges := range g.edges {
		for _, edge := range edges {
			e, err := graph.CreateEdge(edge.NodeID+"->"+id, nodes[edge.NodeID], nodes[id])
			if err != nil {
				return nil, fmt.Errorf("planner: creating edge %s->%s: %w", edge.NodeID, id, err)
			}
			if !edge.Required {
				e.SetStyle(cgraph.DashedStyle)
			}
			if edge.Guard != "" {
				e.SetLabel(edge.Guard)
			}
		}
	}

	var buf bufferWriter
	if err := gv.Render(graph, graphviz.PNG, &buf); err != nil {
		return nil, fmt.Errorf("planner: rendering diagram: %w", err)
	}
	return buf.data, nil
}

// priorityColor maps a suite's priority tier to a node fill color (spec
// §4.8 "node styling by priority" for the discovery diagram).
func priorityColor(p rsuite.Priority) string {
	switch p {
	case rsuite.PriorityCritical:
		return "#e74c3c"
	case rsuite.PriorityHigh:
		return "#f39c12"
	case rsuite.PriorityLow:
		return "#bdc3c7"
	default:
		return "#ecf0f1"
	}
}

type bufferWriter struct{ data []byte }

func (b *bufferWriter) Write(p []byte) (int, error) {
	b.data = append(b.data, p...)
	return len(p), nil
}
