package compiler

import (
	"fmt"
	"slices"
	"strings"

	"github.com/roach88/flowledger/internal/ir"
)

// CycleWarning represents a feedback loop in the node graph along which
// simulated time does not advance.
//
// Cycles are warnings, not errors, because they may be intentional (an FSM
// retrying through a multiplexer, for example). A zero-delay loop can only be
// stopped by the step quota, never by a tick horizon.
type CycleWarning struct {
	Path    []string `json:"path"`    // Cycle path: ["a", "b", "a"]
	Message string   `json:"message"` // Human-readable description
	Level   string   `json:"level"`   // "warning"
}

// DetectCycles reports every strongly connected component of the node graph
// that contains no delaying node.
//
// A node delays when it schedules its output in the future: a ProcessNode
// with a positive processing_time or a windowed Queue. Edges leaving such a
// node are dropped before the search, so any remaining cycle runs entirely
// at one timestamp.
//
// Results follow node declaration order, so the output is deterministic.
func DetectCycles(nodes []ir.NodeConfig) []CycleWarning {
	if len(nodes) == 0 {
		return []CycleWarning{}
	}

	graph, order := buildNodeGraph(nodes)
	sccs := tarjanSCC(graph, order)

	var warnings []CycleWarning
	for _, scc := range sccs {
		if len(scc) > 1 || (len(scc) == 1 && hasSelfLoop(scc[0], graph)) {
			warnings = append(warnings, cycleSCCToWarning(scc, graph, order))
		}
	}
	return warnings
}

// nodeGraph maps node id → ids of nodes reachable in zero time.
type nodeGraph map[string][]string

func buildNodeGraph(nodes []ir.NodeConfig) (nodeGraph, []string) {
	graph := make(nodeGraph, len(nodes))
	order := make([]string, 0, len(nodes))
	known := make(map[string]bool, len(nodes))
	for _, n := range nodes {
		if n.ID == "" || known[n.ID] {
			continue
		}
		known[n.ID] = true
		order = append(order, n.ID)
	}

	for _, n := range nodes {
		if !known[n.ID] {
			continue
		}
		if graph[n.ID] == nil {
			graph[n.ID] = []string{}
		}
		if delays(&n) {
			continue
		}
		for _, out := range n.Outputs {
			if known[out.DestinationNodeID] && !slices.Contains(graph[n.ID], out.DestinationNodeID) {
				graph[n.ID] = append(graph[n.ID], out.DestinationNodeID)
			}
		}
	}
	return graph, order
}

func delays(n *ir.NodeConfig) bool {
	switch n.Type {
	case ir.NodeProcess:
		return n.Process != nil && n.Process.ProcessingTime > 0
	case ir.NodeQueue:
		return n.Queue != nil && n.Queue.IsWindowed()
	}
	return false
}

// hasSelfLoop checks if a node has an edge to itself.
func hasSelfLoop(node string, graph nodeGraph) bool {
	return slices.Contains(graph[node], node)
}

// tarjanSCC finds strongly connected components using Tarjan's algorithm,
// visiting roots in the given order.
func tarjanSCC(graph nodeGraph, order []string) [][]string {
	var (
		index   = 0
		stack   []string
		indices = make(map[string]int)
		lowlink = make(map[string]int)
		onStack = make(map[string]bool)
		sccs    [][]string
	)

	var strongConnect func(string)
	strongConnect = func(v string) {
		indices[v] = index
		lowlink[v] = index
		index++
		stack = append(stack, v)
		onStack[v] = true

		for _, w := range graph[v] {
			if _, visited := indices[w]; !visited {
				strongConnect(w)
				lowlink[v] = min(lowlink[v], lowlink[w])
			} else if onStack[w] {
				lowlink[v] = min(lowlink[v], indices[w])
			}
		}

		if lowlink[v] == indices[v] {
			var scc []string
			for {
				w := stack[len(stack)-1]
				stack = stack[:len(stack)-1]
				onStack[w] = false
				scc = append(scc, w)
				if w == v {
					break
				}
			}
			sccs = append(sccs, scc)
		}
	}

	for _, node := range order {
		if _, visited := indices[node]; !visited {
			strongConnect(node)
		}
	}
	return sccs
}

func cycleSCCToWarning(scc []string, graph nodeGraph, order []string) CycleWarning {
	if len(scc) == 1 {
		id := scc[0]
		return CycleWarning{
			Path:    []string{id, id},
			Message: fmt.Sprintf("zero-delay self loop: %s → %s", id, id),
			Level:   SeverityWarning,
		}
	}

	path := reconstructCyclePath(scc, graph, order)
	return CycleWarning{
		Path:    path,
		Message: fmt.Sprintf("zero-delay cycle: %s", strings.Join(path, " → ")),
		Level:   SeverityWarning,
	}
}

// reconstructCyclePath walks edges inside the SCC from its earliest declared
// member until it returns to the start.
func reconstructCyclePath(scc []string, graph nodeGraph, order []string) []string {
	members := make(map[string]bool, len(scc))
	for _, id := range scc {
		members[id] = true
	}

	var start string
	for _, id := range order {
		if members[id] {
			start = id
			break
		}
	}

	current := start
	path := []string{current}
	visited := make(map[string]bool)
	for {
		visited[current] = true
		var next string
		for _, w := range graph[current] {
			if members[w] && (!visited[w] || w == start) {
				next = w
				break
			}
		}
		if next == "" {
			break
		}
		path = append(path, next)
		if next == start {
			break
		}
		current = next
	}
	return path
}
