// Package testutil holds scenario builders shared by tests across packages.
//
// Builders return fresh values on every call so tests can mutate them.
package testutil

import (
	"fmt"

	"github.com/roach88/flowledger/internal/ir"
)

// Out declares an output edge.
func Out(name, dest, input string) ir.Output {
	return ir.Output{Name: name, DestinationNodeID: dest, DestinationInputName: input}
}

// Source declares a DataSource node.
func Source(id string, outputs ...ir.Output) ir.NodeConfig {
	return ir.NodeConfig{ID: id, Type: ir.NodeDataSource, Outputs: outputs}
}

// Sink declares a Sink node with the given aggregation.
func Sink(id, aggregation string) ir.NodeConfig {
	return ir.NodeConfig{ID: id, Type: ir.NodeSink, Sink: &ir.SinkConfig{Aggregation: aggregation}}
}

// BatchQueue declares a batch Queue node summing batchSize tokens.
func BatchQueue(id string, batchSize int, outputs ...ir.Output) ir.NodeConfig {
	return ir.NodeConfig{
		ID:      id,
		Type:    ir.NodeQueue,
		Queue:   &ir.QueueConfig{BatchSize: batchSize, Aggregation: "sum"},
		Outputs: outputs,
	}
}

// Passthrough is src → snk with one event per value.
func Passthrough(values ...any) *ir.Scenario {
	return &ir.Scenario{
		Name: "passthrough",
		Nodes: []ir.NodeConfig{
			Source("src", Out("out", "snk", "in")),
			Sink("snk", "sum"),
		},
		Events: Events("src", values...),
	}
}

// BatchSum is src → q (batch queue, sum) → snk with one event per value.
func BatchSum(batchSize int, values ...any) *ir.Scenario {
	return &ir.Scenario{
		Name: "batch-sum",
		Nodes: []ir.NodeConfig{
			Source("src", Out("out", "q", "in")),
			BatchQueue("q", batchSize, Out("out", "snk", "in")),
			Sink("snk", "sum"),
		},
		Events: Events("src", values...),
	}
}

// Events targets one event per value at node, ids e1..eN at ticks 10, 20, ...
func Events(node string, values ...any) []ir.ExternalEvent {
	events := make([]ir.ExternalEvent, len(values))
	for i, v := range values {
		events[i] = ir.ExternalEvent{
			ID:           fmt.Sprintf("e%d", i+1),
			Timestamp:    int64(i+1) * 10,
			TargetNodeID: node,
			Data:         v,
		}
	}
	return events
}
