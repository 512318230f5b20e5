package cli

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/flowledger/internal/engine"
	"github.com/roach88/flowledger/internal/ir"
	"github.com/roach88/flowledger/internal/store"
)

// runOutput mirrors RunSummary with plain values in place of IR values.
type runOutput struct {
	ExecutionID string               `json:"execution_id"`
	StopReason  engine.StopReason    `json:"stop_reason"`
	Steps       int64                `json:"steps"`
	Now         int64                `json:"now"`
	LedgerSize  int                  `json:"ledger_size"`
	Pending     int                  `json:"pending"`
	Failures    []engine.StepFailure `json:"failures"`
	Ledger      []ir.ActivityEntry   `json:"ledger"`
	Sinks       []struct {
		Sink      string `json:"sink"`
		Method    string `json:"method"`
		Consumed  int    `json:"consumed"`
		Aggregate any    `json:"aggregate"`
	} `json:"sinks"`
}

func TestRunCommand_Text(t *testing.T) {
	buf := new(bytes.Buffer)
	cmd := NewRunCommand(testRootOptions("text"))
	cmd.SetOut(buf)
	cmd.SetErr(new(bytes.Buffer))
	cmd.SetArgs([]string{scenarioPath("batch.yaml")})

	require.NoError(t, cmd.Execute())

	output := buf.String()
	assert.Contains(t, output, "✓ Ran batch-sum: exhausted after 11 step(s), t=40")
	assert.Contains(t, output, "  Ledger: 13 entries, 0 pending event(s)")
	assert.Contains(t, output, "  snk (sum over 2): 10")
	assert.NotContains(t, output, "Execution:")
	assert.NotContains(t, output, "Ledger:\n")
}

func TestRunCommand_JSON(t *testing.T) {
	buf := new(bytes.Buffer)
	cmd := NewRunCommand(testRootOptions("json"))
	cmd.SetOut(buf)
	cmd.SetErr(new(bytes.Buffer))
	cmd.SetArgs([]string{scenarioPath("passthrough.json"), "--ledger"})

	require.NoError(t, cmd.Execute())

	var summary runOutput
	resp := decodeResponse(t, buf, &summary)
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, engine.StopExhausted, summary.StopReason)
	assert.Equal(t, 7, summary.LedgerSize)
	assert.Len(t, summary.Ledger, 7)
	require.Len(t, summary.Sinks, 1)
	assert.Equal(t, "max", summary.Sinks[0].Method)
	assert.Equal(t, 3, summary.Sinks[0].Consumed)
	assert.InDelta(t, 7.0, summary.Sinks[0].Aggregate, 0)
	assert.Empty(t, summary.Failures)
}

func TestRunCommand_LedgerText(t *testing.T) {
	buf := new(bytes.Buffer)
	cmd := NewRunCommand(testRootOptions("text"))
	cmd.SetOut(buf)
	cmd.SetErr(new(bytes.Buffer))
	cmd.SetArgs([]string{scenarioPath("batch.yaml"), "--ledger"})

	require.NoError(t, cmd.Execute())

	output := buf.String()
	assert.Contains(t, output, "Ledger:\n")
	assert.Contains(t, output, "  [6] step=")
	assert.Contains(t, output, " q emit 3\n")
	assert.Contains(t, output, " snk consume 7\n")
}

func TestRunCommand_MaxSteps(t *testing.T) {
	buf := new(bytes.Buffer)
	cmd := NewRunCommand(testRootOptions("json"))
	cmd.SetOut(buf)
	cmd.SetErr(new(bytes.Buffer))
	cmd.SetArgs([]string{scenarioPath("batch.yaml"), "--max-steps", "6"})

	require.NoError(t, cmd.Execute())

	var summary runOutput
	decodeResponse(t, buf, &summary)
	assert.Equal(t, engine.StopMaxSteps, summary.StopReason)
	assert.Equal(t, int64(6), summary.Steps)
	assert.Equal(t, 7, summary.LedgerSize)
	assert.Positive(t, summary.Pending)
}

func TestRunCommand_MaxTicks(t *testing.T) {
	buf := new(bytes.Buffer)
	cmd := NewRunCommand(testRootOptions("json"))
	cmd.SetOut(buf)
	cmd.SetErr(new(bytes.Buffer))
	cmd.SetArgs([]string{scenarioPath("batch.yaml"), "--max-ticks", "25"})

	require.NoError(t, cmd.Execute())

	var summary runOutput
	decodeResponse(t, buf, &summary)
	assert.Equal(t, engine.StopTimeout, summary.StopReason)
	assert.LessOrEqual(t, summary.Now, int64(25))
	assert.Positive(t, summary.Pending)
}

func TestRunCommand_ReportsAbortedSteps(t *testing.T) {
	buf := new(bytes.Buffer)
	cmd := NewRunCommand(testRootOptions("text"))
	cmd.SetOut(buf)
	cmd.SetErr(new(bytes.Buffer))
	cmd.SetArgs([]string{scenarioPath("bad_payload.yaml")})

	require.NoError(t, cmd.Execute())

	output := buf.String()
	assert.Contains(t, output, "✓ Ran bad-payload: exhausted")
	assert.Contains(t, output, "Failures (1):")
	assert.Contains(t, output, "at q ["+engine.ErrCodeFormulaEvaluation+"]")
}

func TestRunCommand_InvalidScenario(t *testing.T) {
	cmd := NewRunCommand(testRootOptions("text"))
	cmd.SetOut(new(bytes.Buffer))
	cmd.SetErr(new(bytes.Buffer))
	cmd.SetArgs([]string{scenarioPath("invalid.yaml")})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, err.Error(), "invalid scenario")
}

func TestRunCommand_FileNotFound(t *testing.T) {
	cmd := NewRunCommand(testRootOptions("text"))
	cmd.SetOut(new(bytes.Buffer))
	cmd.SetErr(new(bytes.Buffer))
	cmd.SetArgs([]string{"testdata/scenarios/missing.yaml"})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "failed to load scenario")
}

func TestRunCommand_RecordsExecution(t *testing.T) {
	db := recordBatchRun(t)

	st, err := store.Open(db)
	require.NoError(t, err)
	defer st.Close()

	exec, err := st.ReadExecution(t.Context(), "exec-1")
	require.NoError(t, err)
	assert.Equal(t, "exhausted", exec.StopReason)
	assert.Equal(t, int64(11), exec.Steps)
	assert.Equal(t, 13, exec.LedgerSize)

	entries, err := st.ReadActivities(t.Context(), "exec-1", 0)
	require.NoError(t, err)
	assert.Len(t, entries, 13)
}

func TestRunCommand_DatabaseFlag(t *testing.T) {
	db := filepath.Join(t.TempDir(), "runs.db")

	buf := new(bytes.Buffer)
	cmd := NewRunCommand(testRootOptions("json"))
	cmd.SetOut(buf)
	cmd.SetErr(new(bytes.Buffer))
	cmd.SetArgs([]string{scenarioPath("batch.yaml"), "--db", db})

	require.NoError(t, cmd.Execute())

	var summary runOutput
	decodeResponse(t, buf, &summary)
	assert.NotEmpty(t, summary.ExecutionID)
	assert.FileExists(t, db)
}

func TestRunCommand_Metrics(t *testing.T) {
	buf := new(bytes.Buffer)
	cmd := NewRunCommand(testRootOptions("text"))
	cmd.SetOut(buf)
	cmd.SetErr(new(bytes.Buffer))
	cmd.SetArgs([]string{scenarioPath("batch.yaml"), "--metrics"})

	require.NoError(t, cmd.Execute())
	assert.Contains(t, buf.String(), "Metrics:\n")
	assert.Contains(t, buf.String(), "flowledger_")
}
