package store

import (
	"database/sql"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/flowledger/internal/claim"
	"github.com/roach88/flowledger/internal/ir"
	"github.com/roach88/flowledger/internal/lineage"
)

func TestSaveScenario_ContentAddressed(t *testing.T) {
	s := createTestStore(t)
	ctx := t.Context()

	id1, err := s.SaveScenario(ctx, testScenario())
	require.NoError(t, err)
	id2, err := s.SaveScenario(ctx, testScenario())
	require.NoError(t, err)
	assert.Equal(t, id1, id2, "identical scenarios share an id")
	assert.Len(t, id1, 64)

	other := testScenario()
	other.Name = "renamed"
	id3, err := s.SaveScenario(ctx, other)
	require.NoError(t, err)
	assert.NotEqual(t, id1, id3)

	var count int
	require.NoError(t, s.db.QueryRow("SELECT COUNT(*) FROM scenarios").Scan(&count))
	assert.Equal(t, 2, count)
}

func TestSaveScenario_Nil(t *testing.T) {
	s := createTestStore(t)
	_, err := s.SaveScenario(t.Context(), nil)
	assert.Error(t, err)
}

func TestCreateExecution(t *testing.T) {
	s := createTestStore(t)
	ctx := t.Context()

	scID, err := s.SaveScenario(ctx, testScenario())
	require.NoError(t, err)

	exec, err := s.CreateExecution(ctx, scID)
	require.NoError(t, err)
	assert.Equal(t, "exec-1", exec.ID)
	assert.Equal(t, StatusRunning, exec.Status)
	assert.Equal(t, ir.EngineVersion, exec.EngineVersion)
	assert.Equal(t, ir.LedgerVersion, exec.LedgerVersion)

	second, err := s.CreateExecution(ctx, scID)
	require.NoError(t, err)
	assert.Equal(t, "exec-2", second.ID)
}

func TestFinishExecution(t *testing.T) {
	s := createTestStore(t)
	ctx := t.Context()

	scID, err := s.SaveScenario(ctx, testScenario())
	require.NoError(t, err)
	exec, err := s.CreateExecution(ctx, scID)
	require.NoError(t, err)

	require.NoError(t, s.FinishExecution(ctx, exec.ID, Summary{StopReason: "exhausted", Steps: 7, Now: 30, LedgerSize: 7}))

	got, err := s.ReadExecution(ctx, exec.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusFinished, got.Status)
	assert.Equal(t, "exhausted", got.StopReason)
	assert.Equal(t, int64(7), got.Steps)
	assert.Equal(t, int64(30), got.Now)
	assert.Equal(t, 7, got.LedgerSize)

	err = s.FinishExecution(ctx, "missing", Summary{})
	assert.True(t, errors.Is(err, sql.ErrNoRows))
}

func TestAppendActivities_Idempotent(t *testing.T) {
	s := createTestStore(t)
	ctx := t.Context()

	scID, err := s.SaveScenario(ctx, testScenario())
	require.NoError(t, err)
	exec, err := s.CreateExecution(ctx, scID)
	require.NoError(t, err)

	entries := []ir.ActivityEntry{
		testEntry(1, "A", ir.ActionEmit),
		testEntry(2, "B", ir.ActionReceive),
	}
	n, err := s.AppendActivities(ctx, exec.ID, entries)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	// Overlapping append only adds the new entry
	n, err = s.AppendActivities(ctx, exec.ID, append(entries, testEntry(3, "C", ir.ActionConsume)))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	last, err := s.LastSeq(ctx, exec.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(3), last)
}

func TestAppendActivities_StoresLeafHash(t *testing.T) {
	s := createTestStore(t)
	exec, ledger := storedRun(t, s)

	stored, err := s.ActivityHashes(t.Context(), exec.ID)
	require.NoError(t, err)
	assert.Equal(t, hashes(t, ledger), stored)
}

func TestAppendActivities_CanonicalValue(t *testing.T) {
	s := createTestStore(t)
	ctx := t.Context()

	scID, err := s.SaveScenario(ctx, testScenario())
	require.NoError(t, err)
	exec, err := s.CreateExecution(ctx, scID)
	require.NoError(t, err)

	entry := testEntry(1, "A", ir.ActionEmit)
	entry.Value = ir.IRObject{"z": ir.IRInt(1), "a": ir.IRString("x")}
	_, err = s.AppendActivities(ctx, exec.ID, []ir.ActivityEntry{entry})
	require.NoError(t, err)

	var value, sources string
	require.NoError(t, s.db.QueryRow(
		"SELECT value, source_token_ids FROM activities WHERE execution_id = ? AND seq = 1", exec.ID,
	).Scan(&value, &sources))
	assert.Equal(t, `{"a":"x","z":1}`, value)
	assert.Equal(t, `[]`, sources)
}

func TestSaveClaim_RoundTrip(t *testing.T) {
	s := createTestStore(t)
	ctx := t.Context()
	exec, ledger := storedRun(t, s)

	sinkEvents := lineage.SinkEntries(ledger, "snk", 0)
	c, err := claim.Tokenize(claim.Input{
		SinkID:      "snk",
		Aggregation: "count",
		Aggregate:   ir.IRInt(len(sinkEvents)),
	}, ledger, sinkEvents, claim.Options{IncludeProofs: true})
	require.NoError(t, err)

	require.NoError(t, s.SaveClaim(ctx, exec.ID, c))
	require.NoError(t, s.SaveClaim(ctx, exec.ID, c), "saving the same claim twice is a no-op")

	got, err := s.ReadClaim(ctx, c.ClaimID)
	require.NoError(t, err)
	assert.Equal(t, c.ClaimID, got.ClaimID)
	assert.Equal(t, c.SinkMerkleRoot, got.SinkMerkleRoot)
	assert.Equal(t, ir.IRInt(3), got.Aggregate)
	assert.True(t, claim.Verify(got).Valid)

	list, err := s.ListClaims(ctx, exec.ID)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, c.ClaimID, list[0].ClaimID)

	var sinkID string
	require.NoError(t, s.db.QueryRow("SELECT sink_id FROM claims WHERE id = ?", c.ClaimID).Scan(&sinkID))
	assert.Equal(t, "snk", sinkID)
}

func TestSaveClaim_Nil(t *testing.T) {
	s := createTestStore(t)
	assert.Error(t, s.SaveClaim(t.Context(), "exec-1", nil))
}

func TestRecordRun(t *testing.T) {
	s := createTestStore(t)
	ctx := t.Context()
	sc := testScenario()

	ledger := []ir.ActivityEntry{
		testEntry(1, "", ir.ActionStart),
		testEntry(2, "src", ir.ActionEmit),
	}
	exec, err := s.RecordRun(ctx, sc, ledger, Summary{StopReason: "exhausted", Steps: 2, Now: 20, LedgerSize: 2})
	require.NoError(t, err)
	assert.Equal(t, "exec-1", exec.ID)
	assert.Equal(t, StatusFinished, exec.Status)
	assert.Equal(t, 2, exec.LedgerSize)

	scID, _, err := ScenarioID(sc)
	require.NoError(t, err)
	assert.Equal(t, scID, exec.ScenarioID)

	got, err := s.ReadActivities(ctx, exec.ID, 0)
	require.NoError(t, err)
	assert.Equal(t, hashes(t, ledger), hashes(t, got))
}
