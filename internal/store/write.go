package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/roach88/flowledger/internal/claim"
	"github.com/roach88/flowledger/internal/ir"
)

// scenarioDomain separates scenario content hashes from every other hash.
const scenarioDomain = "flowledger/scenario/v1"

// Execution statuses.
const (
	StatusRunning  = "running"
	StatusFinished = "finished"
)

// Execution is the stored record of one engine run.
type Execution struct {
	ID            string `json:"id"`
	ScenarioID    string `json:"scenario_id"`
	Status        string `json:"status"`
	StopReason    string `json:"stop_reason,omitempty"`
	Steps         int64  `json:"steps"`
	Now           int64  `json:"now"`
	LedgerSize    int    `json:"ledger_size"`
	EngineVersion string `json:"engine_version"`
	LedgerVersion string `json:"ledger_version"`
}

// Summary is what FinishExecution records about a completed run.
type Summary struct {
	StopReason string
	Steps      int64
	Now        int64
	LedgerSize int
}

// ScenarioID returns the content hash a scenario is stored under. Saving the
// same scenario twice yields the same id.
func ScenarioID(s *ir.Scenario) (string, []byte, error) {
	body, err := json.Marshal(s)
	if err != nil {
		return "", nil, fmt.Errorf("marshal scenario: %w", err)
	}
	return ir.HashWithDomain(scenarioDomain, body), body, nil
}

// SaveScenario stores a scenario and returns its content id.
// Uses ON CONFLICT(id) DO NOTHING - saving an identical scenario is a no-op.
func (s *Store) SaveScenario(ctx context.Context, sc *ir.Scenario) (string, error) {
	if sc == nil {
		return "", fmt.Errorf("save scenario: nil scenario")
	}
	id, body, err := ScenarioID(sc)
	if err != nil {
		return "", fmt.Errorf("save scenario: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO scenarios (id, name, body)
		VALUES (?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`, id, sc.Name, string(body))
	if err != nil {
		return "", fmt.Errorf("save scenario: %w", err)
	}
	return id, nil
}

// CreateExecution records the start of a run against a stored scenario.
//
// Note: The scenario must exist (foreign key constraint).
func (s *Store) CreateExecution(ctx context.Context, scenarioID string) (Execution, error) {
	id, err := s.ids.NewID()
	if err != nil {
		return Execution{}, fmt.Errorf("create execution: %w", err)
	}

	exec := Execution{
		ID:            id,
		ScenarioID:    scenarioID,
		Status:        StatusRunning,
		EngineVersion: ir.EngineVersion,
		LedgerVersion: ir.LedgerVersion,
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO executions (id, scenario_id, status, engine_version, ledger_version)
		VALUES (?, ?, ?, ?, ?)
	`, exec.ID, exec.ScenarioID, exec.Status, exec.EngineVersion, exec.LedgerVersion)
	if err != nil {
		return Execution{}, fmt.Errorf("create execution: %w", err)
	}
	return exec, nil
}

// FinishExecution marks a run finished and records its summary.
func (s *Store) FinishExecution(ctx context.Context, id string, sum Summary) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE executions
		SET status = ?, stop_reason = ?, steps = ?, now = ?, ledger_size = ?
		WHERE id = ?
	`, StatusFinished, sum.StopReason, sum.Steps, sum.Now, sum.LedgerSize, id)
	if err != nil {
		return fmt.Errorf("finish execution: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("finish execution: rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("finish execution %s: %w", id, sql.ErrNoRows)
	}
	return nil
}

// AppendActivities writes ledger entries for an execution in one
// transaction. Uses ON CONFLICT(execution_id, seq) DO NOTHING, so appending
// an overlapping slice again is idempotent. Returns the number of new rows.
//
// Each row stores the entry's Merkle leaf hash alongside its columns.
func (s *Store) AppendActivities(ctx context.Context, executionID string, entries []ir.ActivityEntry) (int, error) {
	inserted := 0
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO activities
			(execution_id, seq, step, timestamp, node_id, action, value, token_id,
			 source_token_ids, correlation_ids, event_id, detail, hash)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(execution_id, seq) DO NOTHING
		`)
		if err != nil {
			return fmt.Errorf("prepare: %w", err)
		}
		defer stmt.Close()

		for _, e := range entries {
			row, err := activityRow(e)
			if err != nil {
				return fmt.Errorf("activity %d: %w", e.Seq, err)
			}
			res, err := stmt.ExecContext(ctx, append([]any{executionID}, row...)...)
			if err != nil {
				return fmt.Errorf("insert activity %d: %w", e.Seq, err)
			}
			n, err := res.RowsAffected()
			if err != nil {
				return fmt.Errorf("rows affected: %w", err)
			}
			inserted += int(n)
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("append activities: %w", err)
	}
	return inserted, nil
}

// activityRow serializes an entry's columns after execution_id.
func activityRow(e ir.ActivityEntry) ([]any, error) {
	value, err := marshalValue(e.Value)
	if err != nil {
		return nil, err
	}
	sources, err := marshalIDs(e.SourceTokenIDs)
	if err != nil {
		return nil, err
	}
	corr, err := marshalIDs(e.CorrelationIDs)
	if err != nil {
		return nil, err
	}
	detail, err := marshalDetail(e.Detail)
	if err != nil {
		return nil, err
	}
	hash, err := ir.ActivityHash(e)
	if err != nil {
		return nil, err
	}
	return []any{
		e.Seq, e.Step, e.Timestamp, e.NodeID, string(e.Action), value,
		e.TokenID, sources, corr, e.EventID, detail, hash,
	}, nil
}

// SaveClaim stores a claim document under its claim id.
// Uses ON CONFLICT(id) DO NOTHING - claim ids are content hashes.
func (s *Store) SaveClaim(ctx context.Context, executionID string, c *claim.Claim) error {
	if c == nil {
		return fmt.Errorf("save claim: nil claim")
	}
	body, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("save claim: marshal: %w", err)
	}

	sinkID := ""
	if v, ok := c.Metadata["sink_id"].(ir.IRString); ok {
		sinkID = string(v)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO claims (id, execution_id, sink_id, body)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`, c.ClaimID, executionID, sinkID, string(body))
	if err != nil {
		return fmt.Errorf("save claim: %w", err)
	}
	return nil
}

// RecordRun stores a scenario, an execution for it and the ledger that run
// produced, then marks the execution finished with sum.
func (s *Store) RecordRun(ctx context.Context, sc *ir.Scenario, ledger []ir.ActivityEntry, sum Summary) (Execution, error) {
	scID, err := s.SaveScenario(ctx, sc)
	if err != nil {
		return Execution{}, err
	}
	exec, err := s.CreateExecution(ctx, scID)
	if err != nil {
		return Execution{}, err
	}
	if _, err := s.AppendActivities(ctx, exec.ID, ledger); err != nil {
		return exec, err
	}
	if err := s.FinishExecution(ctx, exec.ID, sum); err != nil {
		return exec, err
	}
	return s.ReadExecution(ctx, exec.ID)
}
