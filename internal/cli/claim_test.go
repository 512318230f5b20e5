package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/flowledger/internal/claim"
	"github.com/roach88/flowledger/internal/ir"
	"github.com/roach88/flowledger/internal/store"
)

// writeClaim exports a claim over the batch fixture's sink and returns the
// file path.
func writeClaim(t *testing.T, extra ...string) string {
	t.Helper()
	out := filepath.Join(t.TempDir(), "claim.json")

	cmd := NewClaimCommand(testRootOptions("text"))
	cmd.SetOut(new(bytes.Buffer))
	cmd.SetErr(new(bytes.Buffer))
	cmd.SetArgs(append([]string{scenarioPath("batch.yaml"), "snk", "-o", out}, extra...))
	require.NoError(t, cmd.Execute())
	return out
}

func readClaim(t *testing.T, path string) *claim.Claim {
	t.Helper()
	c, err := readClaimFile(path)
	require.NoError(t, err)
	return c
}

func TestClaimCommand_Text(t *testing.T) {
	out := filepath.Join(t.TempDir(), "claim.json")

	buf := new(bytes.Buffer)
	cmd := NewClaimCommand(testRootOptions("text"))
	cmd.SetOut(buf)
	cmd.SetErr(new(bytes.Buffer))
	cmd.SetArgs([]string{scenarioPath("batch.yaml"), "snk", "-o", out})

	require.NoError(t, cmd.Execute())

	output := buf.String()
	assert.Contains(t, output, "✓ Claim ")
	assert.Contains(t, output, "  Sink: snk (sum) = 10")
	assert.Contains(t, output, "(2 entries)")
	assert.Contains(t, output, "(13 entries)")
	assert.Contains(t, output, "  Inclusion proofs: 2")
	assert.Contains(t, output, "Wrote claim to "+out)

	c := readClaim(t, out)
	assert.Equal(t, 2, c.SinkEventCount)
	assert.Equal(t, 13, c.FullLedgerEventCount)
	assert.Equal(t, ir.IRInt(10), c.Aggregate)
	assert.Equal(t, ir.IRString("batch-sum"), c.Metadata["scenario"])
	assert.True(t, claim.Verify(c).Valid)
}

func TestClaimCommand_Deterministic(t *testing.T) {
	first := readClaim(t, writeClaim(t))
	second := readClaim(t, writeClaim(t))
	assert.Equal(t, first.ClaimID, second.ClaimID)
	assert.Equal(t, first.FullLedgerMerkleRoot, second.FullLedgerMerkleRoot)
}

func TestClaimCommand_WithoutProofs(t *testing.T) {
	withProofs := readClaim(t, writeClaim(t))
	c := readClaim(t, writeClaim(t, "--proofs=false"))

	assert.Empty(t, c.InclusionProofs)
	assert.Equal(t, withProofs.ClaimID, c.ClaimID)
	assert.True(t, claim.Verify(c).Valid)
}

func TestClaimCommand_UptoSeq(t *testing.T) {
	c := readClaim(t, writeClaim(t, "--upto", "7"))
	assert.Equal(t, 1, c.SinkEventCount)
	assert.Equal(t, ir.IRInt(3), c.Aggregate)
}

func TestClaimCommand_Extend(t *testing.T) {
	prevPath := writeClaim(t, "--upto", "7")
	prev := readClaim(t, prevPath)
	full := readClaim(t, writeClaim(t))

	ext := readClaim(t, writeClaim(t, "--extend", prevPath))
	assert.Equal(t, 2, ext.SinkEventCount)
	assert.Equal(t, prev.SinkEventHashes[0], ext.SinkEventHashes[0])
	assert.Equal(t, full.SinkMerkleRoot, ext.SinkMerkleRoot)
	assert.Equal(t, ir.IRInt(10), ext.Aggregate)
	assert.True(t, claim.Verify(ext).Valid)
}

func TestClaimCommand_JSON(t *testing.T) {
	buf := new(bytes.Buffer)
	cmd := NewClaimCommand(testRootOptions("json"))
	cmd.SetOut(buf)
	cmd.SetErr(new(bytes.Buffer))
	cmd.SetArgs([]string{scenarioPath("passthrough.json"), "snk"})

	require.NoError(t, cmd.Execute())

	var raw struct {
		Status string `json:"status"`
		Data   struct {
			Claim json.RawMessage `json:"claim"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &raw))
	assert.Equal(t, "ok", raw.Status)

	var c claim.Claim
	require.NoError(t, json.Unmarshal(raw.Data.Claim, &c))
	assert.Equal(t, 3, c.SinkEventCount)
	assert.Equal(t, 7, c.FullLedgerEventCount)
}

func TestClaimCommand_RecordsInDatabase(t *testing.T) {
	db := filepath.Join(t.TempDir(), "flowledger.db")
	opts := &ClaimOptions{
		RootOptions: testRootOptions("text"),
		Database:    db,
		IDs:         &store.FixedGenerator{},
	}
	require.NoError(t, runClaim(opts, scenarioPath("batch.yaml"), "snk", quietCommand()))

	st, err := store.Open(db)
	require.NoError(t, err)
	defer st.Close()

	claims, err := st.ListClaims(t.Context(), "exec-1")
	require.NoError(t, err)
	require.Len(t, claims, 1)
	assert.Equal(t, 2, claims[0].SinkEventCount)
}

func TestClaimCommand_NotASink(t *testing.T) {
	cmd := NewClaimCommand(testRootOptions("text"))
	cmd.SetOut(new(bytes.Buffer))
	cmd.SetErr(new(bytes.Buffer))
	cmd.SetArgs([]string{scenarioPath("batch.yaml"), "src"})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "not a Sink")
}

func TestClaimCommand_ExtendTooLong(t *testing.T) {
	prevPath := writeClaim(t)

	cmd := NewClaimCommand(testRootOptions("text"))
	cmd.SetOut(new(bytes.Buffer))
	cmd.SetErr(new(bytes.Buffer))
	cmd.SetArgs([]string{scenarioPath("batch.yaml"), "snk", "--upto", "7", "--extend", prevPath})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, err.Error(), "covers 2 sink entries, the run has 1")
}

func TestClaimCommand_BadExtendFile(t *testing.T) {
	bad := filepath.Join(t.TempDir(), "bad.json")
	require.NoError(t, os.WriteFile(bad, []byte("{not json"), 0644))

	cmd := NewClaimCommand(testRootOptions("text"))
	cmd.SetOut(new(bytes.Buffer))
	cmd.SetErr(new(bytes.Buffer))
	cmd.SetArgs([]string{scenarioPath("batch.yaml"), "snk", "--extend", bad})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "failed to parse claim")
}
