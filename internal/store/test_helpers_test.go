package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/roach88/flowledger/internal/engine"
	"github.com/roach88/flowledger/internal/ir"
)

// createTestStore creates a new store in a temp directory with predictable
// execution ids.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path, WithIDGenerator(&FixedGenerator{}))
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// testEntry creates a ledger entry with minimal required fields.
func testEntry(seq int64, node string, action ir.Action) ir.ActivityEntry {
	return ir.ActivityEntry{
		Seq:       seq,
		Step:      seq,
		Timestamp: seq * 10,
		NodeID:    node,
		Action:    action,
		Value:     ir.IRInt(seq),
		EventID:   "evt-test",
	}
}

// testScenario is src → snk with three emits.
func testScenario() *ir.Scenario {
	return &ir.Scenario{
		Name: "stored",
		Nodes: []ir.NodeConfig{
			{
				ID:      "src",
				Type:    ir.NodeDataSource,
				Outputs: []ir.Output{{Name: "out", DestinationNodeID: "snk", DestinationInputName: "in"}},
			},
			{ID: "snk", Type: ir.NodeSink, Sink: &ir.SinkConfig{Aggregation: "count"}},
		},
		Events: []ir.ExternalEvent{
			{ID: "e1", Timestamp: 10, TargetNodeID: "src", Data: 1},
			{ID: "e2", Timestamp: 20, TargetNodeID: "src", Data: 2.5},
			{ID: "e3", Timestamp: 30, TargetNodeID: "src", Data: map[string]any{"qty": 3}},
		},
	}
}

// storedRun saves testScenario, runs it to the end and stores the ledger.
func storedRun(t *testing.T, s *Store) (Execution, []ir.ActivityEntry) {
	t.Helper()
	ctx := context.Background()

	sc := testScenario()
	scID, err := s.SaveScenario(ctx, sc)
	require.NoError(t, err)
	exec, err := s.CreateExecution(ctx, scID)
	require.NoError(t, err)

	e, err := engine.NewFromScenario(sc)
	require.NoError(t, err)
	res, err := e.RunToEnd(ctx, engine.RunOptions{})
	require.NoError(t, err)

	ledger := e.Ledger()
	_, err = s.AppendActivities(ctx, exec.ID, ledger)
	require.NoError(t, err)
	require.NoError(t, s.FinishExecution(ctx, exec.ID, Summary{
		StopReason: string(res.Reason),
		Steps:      e.Steps(),
		Now:        res.Now,
		LedgerSize: len(ledger),
	}))

	exec, err = s.ReadExecution(ctx, exec.ID)
	require.NoError(t, err)
	return exec, ledger
}

// hashes returns the leaf hashes of entries.
func hashes(t *testing.T, entries []ir.ActivityEntry) []string {
	t.Helper()
	out := make([]string, len(entries))
	for i, e := range entries {
		h, err := ir.ActivityHash(e)
		require.NoError(t, err)
		out[i] = h
	}
	return out
}
