package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/roach88/flowledger/internal/claim"
	"github.com/roach88/flowledger/internal/compiler"
	"github.com/roach88/flowledger/internal/ir"
	"github.com/roach88/flowledger/internal/queryir"
	"github.com/roach88/flowledger/internal/querysql"
)

// LoadScenario retrieves a stored scenario by content id.
// Returns sql.ErrNoRows if not found.
func (s *Store) LoadScenario(ctx context.Context, id string) (*ir.Scenario, error) {
	var body string
	err := s.db.QueryRowContext(ctx, `SELECT body FROM scenarios WHERE id = ?`, id).Scan(&body)
	if err != nil {
		return nil, fmt.Errorf("load scenario %s: %w", id, err)
	}
	sc, err := compiler.ParseJSON([]byte(body))
	if err != nil {
		return nil, fmt.Errorf("load scenario %s: %w", id, err)
	}
	return sc, nil
}

const executionColumns = `id, scenario_id, status, stop_reason, steps, now, ledger_size, engine_version, ledger_version`

// ReadExecution retrieves a single execution by id.
// Returns sql.ErrNoRows if not found.
func (s *Store) ReadExecution(ctx context.Context, id string) (Execution, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+executionColumns+` FROM executions WHERE id = ?`, id)
	exec, err := scanExecution(row)
	if err != nil {
		return Execution{}, fmt.Errorf("read execution %s: %w", id, err)
	}
	return exec, nil
}

// ListExecutions returns every execution ordered by id. UUIDv7 ids sort by
// creation time.
//
// Returns an empty slice (not nil) when none exist.
func (s *Store) ListExecutions(ctx context.Context) ([]Execution, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+executionColumns+`
		FROM executions
		ORDER BY id COLLATE BINARY ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query executions: %w", err)
	}
	defer rows.Close()

	execs := []Execution{}
	for rows.Next() {
		exec, err := scanExecution(rows)
		if err != nil {
			return nil, err
		}
		execs = append(execs, exec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate executions: %w", err)
	}
	return execs, nil
}

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanExecution(row rowScanner) (Execution, error) {
	var e Execution
	err := row.Scan(&e.ID, &e.ScenarioID, &e.Status, &e.StopReason, &e.Steps, &e.Now,
		&e.LedgerSize, &e.EngineVersion, &e.LedgerVersion)
	if err != nil {
		return Execution{}, err
	}
	return e, nil
}

// ReadActivities returns an execution's ledger up to and including uptoSeq,
// in seq order. uptoSeq <= 0 returns the whole ledger.
//
// Returns an empty slice (not nil) if no entries exist.
func (s *Store) ReadActivities(ctx context.Context, executionID string, uptoSeq int64) ([]ir.ActivityEntry, error) {
	if uptoSeq < 0 {
		uptoSeq = 0
	}
	return s.QueryActivities(ctx, executionID, queryir.Select{Filter: queryir.SeqRange{To: uptoSeq}})
}

// QueryActivities runs a ledger query scoped to one execution. Results are
// always in seq order.
func (s *Store) QueryActivities(ctx context.Context, executionID string, q queryir.Query) ([]ir.ActivityEntry, error) {
	sel, ok := asSelect(q)
	if !ok {
		return nil, fmt.Errorf("query activities: unsupported query type %T", q)
	}

	scoped := queryir.Equals{Field: queryir.ColExecutionID, Value: ir.IRString(executionID)}
	if sel.Filter == nil {
		sel.Filter = scoped
	} else {
		sel.Filter = queryir.And{Predicates: []queryir.Predicate{scoped, sel.Filter}}
	}

	query, params, err := querysql.NewSQLCompiler().Compile(sel)
	if err != nil {
		return nil, fmt.Errorf("query activities: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, query, params...)
	if err != nil {
		return nil, fmt.Errorf("query activities: %w", err)
	}
	defer rows.Close()

	entries := []ir.ActivityEntry{}
	for rows.Next() {
		e, err := scanActivity(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate activities: %w", err)
	}
	return entries, nil
}

func asSelect(q queryir.Query) (queryir.Select, bool) {
	switch sel := q.(type) {
	case queryir.Select:
		return sel, true
	case *queryir.Select:
		if sel == nil {
			return queryir.Select{}, false
		}
		return *sel, true
	default:
		return queryir.Select{}, false
	}
}

// scanActivity scans one row in querysql.ActivityColumns order.
func scanActivity(rows *sql.Rows) (ir.ActivityEntry, error) {
	var e ir.ActivityEntry
	var execID, action, value, sources, corr, dtl string
	err := rows.Scan(&execID, &e.Seq, &e.Step, &e.Timestamp, &e.NodeID, &action, &value,
		&e.TokenID, &sources, &corr, &e.EventID, &dtl)
	if err != nil {
		return ir.ActivityEntry{}, fmt.Errorf("scan activity: %w", err)
	}
	e.Action = ir.Action(action)

	if e.Value, err = unmarshalValue(value); err != nil {
		return ir.ActivityEntry{}, fmt.Errorf("activity %d: %w", e.Seq, err)
	}
	if e.SourceTokenIDs, err = unmarshalIDs(sources); err != nil {
		return ir.ActivityEntry{}, fmt.Errorf("activity %d: %w", e.Seq, err)
	}
	if e.CorrelationIDs, err = unmarshalIDs(corr); err != nil {
		return ir.ActivityEntry{}, fmt.Errorf("activity %d: %w", e.Seq, err)
	}
	if e.Detail, err = unmarshalDetail(dtl); err != nil {
		return ir.ActivityEntry{}, fmt.Errorf("activity %d: %w", e.Seq, err)
	}
	return e, nil
}

// ActivityHashes returns the stored leaf hashes of an execution's ledger in
// seq order.
func (s *Store) ActivityHashes(ctx context.Context, executionID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT hash FROM activities
		WHERE execution_id = ?
		ORDER BY seq ASC
	`, executionID)
	if err != nil {
		return nil, fmt.Errorf("query activity hashes: %w", err)
	}
	defer rows.Close()

	hashes := []string{}
	for rows.Next() {
		var h string
		if err := rows.Scan(&h); err != nil {
			return nil, fmt.Errorf("scan activity hash: %w", err)
		}
		hashes = append(hashes, h)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate activity hashes: %w", err)
	}
	return hashes, nil
}

// LastSeq returns the highest stored seq for an execution, or 0 when its
// ledger is empty.
func (s *Store) LastSeq(ctx context.Context, executionID string) (int64, error) {
	var seq sql.NullInt64
	err := s.db.QueryRowContext(ctx, `
		SELECT MAX(seq) FROM activities WHERE execution_id = ?
	`, executionID).Scan(&seq)
	if err != nil {
		return 0, fmt.Errorf("last seq: %w", err)
	}
	return seq.Int64, nil
}

// ReadClaim retrieves a stored claim by claim id.
// Returns sql.ErrNoRows if not found.
func (s *Store) ReadClaim(ctx context.Context, id string) (*claim.Claim, error) {
	var body string
	err := s.db.QueryRowContext(ctx, `SELECT body FROM claims WHERE id = ?`, id).Scan(&body)
	if err != nil {
		return nil, fmt.Errorf("read claim %s: %w", id, err)
	}
	return decodeClaim(body)
}

// ListClaims returns the claims made over an execution, ordered by sink then
// claim id.
func (s *Store) ListClaims(ctx context.Context, executionID string) ([]*claim.Claim, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT body FROM claims
		WHERE execution_id = ?
		ORDER BY sink_id COLLATE BINARY ASC, id COLLATE BINARY ASC
	`, executionID)
	if err != nil {
		return nil, fmt.Errorf("query claims: %w", err)
	}
	defer rows.Close()

	claims := []*claim.Claim{}
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return nil, fmt.Errorf("scan claim: %w", err)
		}
		c, err := decodeClaim(body)
		if err != nil {
			return nil, err
		}
		claims = append(claims, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate claims: %w", err)
	}
	return claims, nil
}

func decodeClaim(body string) (*claim.Claim, error) {
	var c claim.Claim
	dec := json.NewDecoder(strings.NewReader(body))
	if err := dec.Decode(&c); err != nil {
		return nil, fmt.Errorf("decode claim: %w", err)
	}
	return &c, nil
}
