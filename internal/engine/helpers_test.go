package engine

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/roach88/flowledger/internal/ir"
)

// quiet returns an option that discards engine logs.
func quiet() EngineOption {
	return WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func out(name, dest, input string) ir.Output {
	return ir.Output{Name: name, DestinationNodeID: dest, DestinationInputName: input}
}

func source(id string, outputs ...ir.Output) ir.NodeConfig {
	return ir.NodeConfig{ID: id, Type: ir.NodeDataSource, Outputs: outputs}
}

func sink(id, aggregation string) ir.NodeConfig {
	n := ir.NodeConfig{ID: id, Type: ir.NodeSink}
	if aggregation != "" {
		n.Sink = &ir.SinkConfig{Aggregation: aggregation}
	}
	return n
}

func emit(id string, ts int64, target string, data any) ir.ExternalEvent {
	return ir.ExternalEvent{ID: id, Timestamp: ts, TargetNodeID: target, Data: data}
}

// batchScenario is A → B (batch queue, sum) → C (sink, sum).
func batchScenario(batch int, values ...int) *ir.Scenario {
	s := &ir.Scenario{
		Name: "batch",
		Nodes: []ir.NodeConfig{
			source("A", out("out", "B", "in")),
			{
				ID:      "B",
				Type:    ir.NodeQueue,
				Queue:   &ir.QueueConfig{BatchSize: batch, Aggregation: "sum"},
				Outputs: []ir.Output{out("out", "C", "in")},
			},
			sink("C", "sum"),
		},
	}
	for i, v := range values {
		s.Events = append(s.Events, emit(eventName(i), int64((i+1)*10), "A", v))
	}
	return s
}

// windowScenario is src → q (window queue, sum) → snk.
func windowScenario(window int64, events ...ir.ExternalEvent) *ir.Scenario {
	return &ir.Scenario{
		Name: "window",
		Nodes: []ir.NodeConfig{
			source("src", out("out", "q", "in")),
			{
				ID:      "q",
				Type:    ir.NodeQueue,
				Queue:   &ir.QueueConfig{WindowSize: window, Aggregation: "sum"},
				Outputs: []ir.Output{out("out", "snk", "in")},
			},
			sink("snk", ""),
		},
		Events: events,
	}
}

// joinScenario is two sources feeding a two-input ProcessNode → sink.
func joinScenario(formula string) *ir.Scenario {
	return &ir.Scenario{
		Name: "join",
		Nodes: []ir.NodeConfig{
			source("left", out("out", "proc", "a")),
			source("right", out("out", "proc", "b")),
			{
				ID:   "proc",
				Type: ir.NodeProcess,
				Process: &ir.ProcessConfig{
					Inputs:         []ir.ProcessInput{{Name: "a"}, {Name: "b"}},
					ProcessingTime: 5,
					Formula:        formula,
				},
				Outputs: []ir.Output{out("out", "snk", "in")},
			},
			sink("snk", ""),
		},
		Events: []ir.ExternalEvent{
			emit("ea", 0, "left", 2),
			emit("eb", 0, "right", 3),
		},
	}
}

func eventName(i int) string {
	return "e" + string(rune('1'+i))
}

// runScenario loads s, runs it to the end and returns the engine.
func runScenario(t *testing.T, s *ir.Scenario, opts ...EngineOption) *Engine {
	t.Helper()
	e, err := NewFromScenario(s, append([]EngineOption{quiet()}, opts...)...)
	require.NoError(t, err)
	_, err = e.RunToEnd(context.Background(), RunOptions{})
	require.NoError(t, err)
	return e
}

func byAction(entries []ir.ActivityEntry, nodeID string, action ir.Action) []ir.ActivityEntry {
	var out []ir.ActivityEntry
	for _, e := range entries {
		if e.NodeID == nodeID && e.Action == action {
			out = append(out, e)
		}
	}
	return out
}

func state(t *testing.T, e *Engine, id string) *ir.NodeState {
	t.Helper()
	st, ok := e.NodeState(id)
	require.True(t, ok, "node %s", id)
	return st
}

// loopScenario feeds a multiplexer back into itself with no delay.
func loopScenario() *ir.Scenario {
	return &ir.Scenario{
		Name: "loop",
		Nodes: []ir.NodeConfig{
			source("src", out("out", "mux", "in")),
			{
				ID:   "mux",
				Type: ir.NodeMultiplexer,
				Multiplexer: &ir.MultiplexerConfig{
					Routes: []ir.Route{{Output: "again", Condition: "true"}},
				},
				Outputs: []ir.Output{out("again", "mux", "in")},
			},
		},
		Events: []ir.ExternalEvent{emit("seed", 0, "src", 1)},
	}
}
