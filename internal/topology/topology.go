// Package topology renders a scenario's node graph in Graphviz DOT.
package topology

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/awalterschulze/gographviz"

	"github.com/roach88/flowledger/internal/ir"
)

var shapes = map[ir.NodeType]string{
	ir.NodeDataSource:  "invhouse",
	ir.NodeQueue:       "cylinder",
	ir.NodeProcess:     "box",
	ir.NodeFSM:         "octagon",
	ir.NodeSink:        "house",
	ir.NodeMultiplexer: "diamond",
}

// Build converts a scenario into a directed gographviz graph. Nodes keep
// declaration order; one edge is added per declared output.
func Build(s *ir.Scenario) (*gographviz.Graph, error) {
	if s == nil {
		return nil, fmt.Errorf("scenario is nil")
	}

	g := gographviz.NewGraph()
	name := s.Name
	if name == "" {
		name = "scenario"
	}
	if err := g.SetName(quote(name)); err != nil {
		return nil, err
	}
	if err := g.SetDir(true); err != nil {
		return nil, err
	}
	if err := g.AddAttr(g.Name, "rankdir", "LR"); err != nil {
		return nil, err
	}

	for _, n := range s.Nodes {
		shape, ok := shapes[n.Type]
		if !ok {
			return nil, fmt.Errorf("node %s: invalid node type %q", n.ID, n.Type)
		}
		attrs := map[string]string{
			"shape": shape,
			"label": quote(nodeLabel(&n)),
		}
		if len(n.Tags) > 0 {
			attrs["tooltip"] = quote(strings.Join(n.Tags, ","))
		}
		if err := g.AddNode(g.Name, quote(n.ID), attrs); err != nil {
			return nil, fmt.Errorf("node %s: %w", n.ID, err)
		}
	}

	for _, n := range s.Nodes {
		for _, out := range n.Outputs {
			if s.Node(out.DestinationNodeID) == nil {
				return nil, fmt.Errorf("node %s output %s: unknown destination %q", n.ID, out.Name, out.DestinationNodeID)
			}
			attrs := map[string]string{
				"label": quote(out.Name + "→" + out.DestinationInputName),
			}
			if n.Multiplexer != nil && out.Name == n.Multiplexer.DefaultOutput {
				attrs["style"] = "dashed"
			}
			if err := g.AddEdge(quote(n.ID), quote(out.DestinationNodeID), true, attrs); err != nil {
				return nil, fmt.Errorf("edge %s→%s: %w", n.ID, out.DestinationNodeID, err)
			}
		}
	}
	return g, nil
}

// ToDOT renders s as a DOT digraph.
func ToDOT(s *ir.Scenario) (string, error) {
	g, err := Build(s)
	if err != nil {
		return "", err
	}
	return g.String(), nil
}

// Parse reads a DOT document back into a graph.
func Parse(dot string) (*gographviz.Graph, error) {
	ast, err := gographviz.ParseString(dot)
	if err != nil {
		return nil, fmt.Errorf("failed to parse DOT: %w", err)
	}
	g := gographviz.NewGraph()
	if err := gographviz.Analyse(ast, g); err != nil {
		return nil, fmt.Errorf("failed to analyze DOT: %w", err)
	}
	return g, nil
}

// Attr returns an attribute value with surrounding quotes removed.
func Attr(attrs gographviz.Attrs, key string) string {
	val, ok := attrs[gographviz.Attr(key)]
	if !ok {
		return ""
	}
	if u, err := strconv.Unquote(strings.TrimSpace(val)); err == nil {
		return u
	}
	return val
}

// nodeLabel shows the id, the type and the parameters that matter most.
func nodeLabel(n *ir.NodeConfig) string {
	head := n.ID
	if n.Name != "" && n.Name != n.ID {
		head = n.Name + " (" + n.ID + ")"
	}

	var detail string
	switch n.Type {
	case ir.NodeQueue:
		if q := n.Queue; q != nil {
			if q.IsWindowed() {
				detail = fmt.Sprintf("window=%d %s", q.WindowSize, orSum(q.Aggregation))
			} else {
				detail = fmt.Sprintf("batch=%d %s", q.BatchSize, orSum(q.Aggregation))
			}
		}
	case ir.NodeProcess:
		if p := n.Process; p != nil {
			detail = fmt.Sprintf("t=%d", p.ProcessingTime)
			if p.Formula != "" {
				detail += " " + p.Formula
			}
		}
	case ir.NodeFSM:
		if f := n.FSM; f != nil {
			detail = fmt.Sprintf("init=%s transitions=%d", f.InitialState, len(f.Transitions))
		}
	case ir.NodeSink:
		agg := ""
		if n.Sink != nil {
			agg = n.Sink.Aggregation
		}
		detail = orSum(agg)
	case ir.NodeMultiplexer:
		if m := n.Multiplexer; m != nil {
			mode := m.Mode
			if mode == "" {
				mode = ir.MuxFirst
			}
			detail = fmt.Sprintf("%s routes=%d", mode, len(m.Routes))
		}
	}

	if detail == "" {
		return head + "\n" + string(n.Type)
	}
	return head + "\n" + string(n.Type) + " " + detail
}

func orSum(agg string) string {
	if agg == "" {
		return "sum"
	}
	return agg
}

// quote makes s a valid DOT identifier or string.
func quote(s string) string {
	return strconv.Quote(s)
}
