package cli

import (
	"bytes"
	"encoding/json"
	"io"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/require"

	"github.com/roach88/flowledger/internal/config"
	"github.com/roach88/flowledger/internal/store"
)

// scenarioPath returns a fixture under testdata/scenarios.
func scenarioPath(name string) string {
	return filepath.Join("testdata", "scenarios", name)
}

// testRootOptions isolates commands from any flowledger.yaml in the
// working directory.
func testRootOptions(format string) *RootOptions {
	return &RootOptions{Format: format, Config: config.Default()}
}

// decodeResponse parses a JSON CLIResponse and its data into data.
func decodeResponse(t *testing.T, buf *bytes.Buffer, data any) CLIResponse {
	t.Helper()
	var raw struct {
		Status string          `json:"status"`
		Data   json.RawMessage `json:"data"`
		Error  *CLIError       `json:"error"`
	}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &raw), "output: %s", buf.String())
	if data != nil && len(raw.Data) > 0 {
		require.NoError(t, json.Unmarshal(raw.Data, data))
	}
	return CLIResponse{Status: raw.Status, Error: raw.Error}
}

// quietCommand is a bare command whose output is discarded.
func quietCommand() *cobra.Command {
	cmd := &cobra.Command{}
	cmd.SetOut(io.Discard)
	cmd.SetErr(io.Discard)
	return cmd
}

// recordBatchRun runs the batch fixture into a fresh database. The
// execution id is "exec-1".
func recordBatchRun(t *testing.T) string {
	t.Helper()
	db := filepath.Join(t.TempDir(), "flowledger.db")
	opts := &RunOptions{
		RootOptions: testRootOptions("text"),
		Database:    db,
		IDs:         &store.FixedGenerator{},
	}
	require.NoError(t, runScenario(opts, scenarioPath("batch.yaml"), quietCommand()))
	return db
}
