package harness

import (
	"bytes"
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/roach88/flowledger/internal/ir"
)

// Snapshot renders a result's ledger shape as canonical JSON lines: one
// header line, then one line per entry with seq, step, timestamp, node_id,
// action and value. Hashes are left out so the snapshot reads as the
// behaviour it pins.
func Snapshot(result *Result) ([]byte, error) {
	var buf bytes.Buffer

	header, err := ir.MarshalCanonical(ir.IRObject{
		"scenario":    ir.IRString(result.Scenario),
		"stop_reason": ir.IRString(result.StopReason),
		"steps":       ir.IRInt(result.Steps),
		"ledger_size": ir.IRInt(len(result.Ledger)),
	})
	if err != nil {
		return nil, err
	}
	buf.Write(header)
	buf.WriteByte('\n')

	for _, e := range result.Ledger {
		value := e.Value
		if value == nil {
			value = ir.IRNull{}
		}
		line, err := ir.MarshalCanonical(ir.IRObject{
			"seq":       ir.IRInt(e.Seq),
			"step":      ir.IRInt(e.Step),
			"timestamp": ir.IRInt(e.Timestamp),
			"node_id":   ir.IRString(e.NodeID),
			"action":    ir.IRString(e.Action),
			"value":     value,
		})
		if err != nil {
			return nil, err
		}
		buf.Write(line)
		buf.WriteByte('\n')
	}
	return buf.Bytes(), nil
}

// RunWithGolden executes a suite and compares its ledger snapshot against
// testdata/golden/{suite.Name}.golden.
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
//
// Returns error if the suite cannot run. Test failure (via goldie) occurs if
// the snapshot doesn't match the golden file.
func RunWithGolden(t *testing.T, suite *Suite) (*Result, error) {
	t.Helper()

	result, err := Run(suite)
	if err != nil {
		return nil, err
	}
	return result, AssertGolden(t, suite.Name, result)
}

// AssertGolden compares an existing result's snapshot against a golden file
// without re-running.
func AssertGolden(t *testing.T, name string, result *Result) error {
	t.Helper()

	snapshot, err := Snapshot(result)
	if err != nil {
		return err
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, name, snapshot)
	return nil
}
