package cli

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/flowledger/internal/ir"
)

type lineageOutput struct {
	CorrelationID  string             `json:"correlation_id"`
	Mode           string             `json:"mode"`
	Entries        []ir.ActivityEntry `json:"entries"`
	NodeIDs        []string           `json:"node_ids"`
	CorrelationIDs []string           `json:"correlation_ids"`
}

func TestLineageCommand_Text(t *testing.T) {
	buf := new(bytes.Buffer)
	cmd := NewLineageCommand(testRootOptions("text"))
	cmd.SetOut(buf)
	cmd.SetErr(new(bytes.Buffer))
	cmd.SetArgs([]string{scenarioPath("batch.yaml"), "e1"})

	require.NoError(t, cmd.Execute())

	output := buf.String()
	assert.Contains(t, output, "Lineage of e1 (exact): 4 entries")
	assert.Contains(t, output, "  Path: src → q → snk")
	assert.Contains(t, output, "Entries:")
}

func TestLineageCommand_JSON(t *testing.T) {
	buf := new(bytes.Buffer)
	cmd := NewLineageCommand(testRootOptions("json"))
	cmd.SetOut(buf)
	cmd.SetErr(new(bytes.Buffer))
	cmd.SetArgs([]string{scenarioPath("batch.yaml"), "e1"})

	require.NoError(t, cmd.Execute())

	var res lineageOutput
	resp := decodeResponse(t, buf, &res)
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, "e1", res.CorrelationID)
	assert.Equal(t, []string{"src", "q", "snk"}, res.NodeIDs)
	require.Len(t, res.Entries, 4)
	for i := 1; i < len(res.Entries); i++ {
		assert.Less(t, res.Entries[i-1].Seq, res.Entries[i].Seq)
	}
}

func TestLineageCommand_HeuristicMode(t *testing.T) {
	buf := new(bytes.Buffer)
	cmd := NewLineageCommand(testRootOptions("json"))
	cmd.SetOut(buf)
	cmd.SetErr(new(bytes.Buffer))
	cmd.SetArgs([]string{scenarioPath("passthrough.json"), "b", "--mode", "heuristic", "--lookback", "50"})

	require.NoError(t, cmd.Execute())

	var res lineageOutput
	decodeResponse(t, buf, &res)
	assert.Equal(t, "heuristic", res.Mode)
	assert.Equal(t, []string{"src", "snk"}, res.NodeIDs)
}

func TestLineageCommand_UnknownCorrelation(t *testing.T) {
	buf := new(bytes.Buffer)
	cmd := NewLineageCommand(testRootOptions("text"))
	cmd.SetOut(buf)
	cmd.SetErr(new(bytes.Buffer))
	cmd.SetArgs([]string{scenarioPath("batch.yaml"), "nope"})

	require.NoError(t, cmd.Execute())
	assert.Contains(t, buf.String(), "No ledger entries for nope")
}

func TestLineageCommand_InvalidMode(t *testing.T) {
	cmd := NewLineageCommand(testRootOptions("text"))
	cmd.SetOut(new(bytes.Buffer))
	cmd.SetErr(new(bytes.Buffer))
	cmd.SetArgs([]string{scenarioPath("batch.yaml"), "e1", "--mode", "psychic"})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "failed to trace lineage")
}
