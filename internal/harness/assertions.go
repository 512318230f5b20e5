package harness

import (
	"bytes"
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/roach88/flowledger/internal/claim"
	"github.com/roach88/flowledger/internal/engine"
	"github.com/roach88/flowledger/internal/formula"
	"github.com/roach88/flowledger/internal/ir"
	"github.com/roach88/flowledger/internal/lineage"
	"github.com/roach88/flowledger/internal/queryir"
	"github.com/roach88/flowledger/internal/store"
)

// AssertionContext carries what assertions need beyond the result.
type AssertionContext struct {
	Ctx        context.Context
	Store      *store.Store
	Suite      *Suite
	EngineOpts []engine.EngineOption
}

// AssertionError is returned when an assertion fails.
// It includes the ledger to help debug the failure.
type AssertionError struct {
	Type     string             // Assertion type for categorization
	Expected string             // Human-readable expected outcome
	Actual   string             // Human-readable actual outcome
	Ledger   []ir.ActivityEntry // Full ledger for debugging context
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	if len(e.Ledger) > 0 {
		fmt.Fprintf(&buf, "\nLedger:\n")
		for _, entry := range e.Ledger {
			value, err := ir.MarshalCanonical(entry.Value)
			if err != nil {
				value = []byte("?")
			}
			fmt.Fprintf(&buf, "  [%d] t=%d %s %s %s\n", entry.Seq, entry.Timestamp, nodeLabel(entry.NodeID), entry.Action, value)
		}
	}

	return buf.String()
}

func nodeLabel(id string) string {
	if id == "" {
		return "-"
	}
	return id
}

// EvaluateAssertions checks every assertion and returns one error per
// failure, in assertion order.
func EvaluateAssertions(result *Result, assertions []Assertion, actx *AssertionContext) []error {
	var errs []error
	for i, a := range assertions {
		if err := evaluateAssertion(result, a, actx); err != nil {
			errs = append(errs, fmt.Errorf("assertions[%d]: %w", i, err))
		}
	}
	return errs
}

func evaluateAssertion(result *Result, a Assertion, actx *AssertionContext) error {
	switch a.Type {
	case AssertStopReason:
		return assertStopReason(result, a)
	case AssertLedgerSize:
		return assertLedgerSize(result, a)
	case AssertActivityCount:
		return assertActivityCount(actx, result, a)
	case AssertActivityOrder:
		return assertActivityOrder(result, a)
	case AssertSinkAggregate:
		return assertSinkAggregate(actx, result, a)
	case AssertLineage:
		return assertLineage(result, a)
	case AssertClaimValid:
		return assertClaimValid(actx, result, a)
	case AssertDeterministic:
		return assertDeterministic(actx, a)
	case AssertReplayMatches:
		return assertReplayMatches(actx, result)
	default:
		return fmt.Errorf("unknown assertion type %q", a.Type)
	}
}

func assertStopReason(result *Result, a Assertion) error {
	if string(result.StopReason) != a.Reason {
		return &AssertionError{
			Type:     AssertStopReason,
			Expected: a.Reason,
			Actual:   string(result.StopReason),
		}
	}
	return nil
}

func assertLedgerSize(result *Result, a Assertion) error {
	if len(result.Ledger) != a.Count {
		return &AssertionError{
			Type:     AssertLedgerSize,
			Expected: fmt.Sprintf("%d entries", a.Count),
			Actual:   fmt.Sprintf("%d entries", len(result.Ledger)),
			Ledger:   result.Ledger,
		}
	}
	return nil
}

// assertActivityCount counts matching entries with a ledger query against
// the recorded execution.
func assertActivityCount(actx *AssertionContext, result *Result, a Assertion) error {
	q := activityQuery(a)
	got, err := actx.Store.QueryActivities(actx.Ctx, result.ExecutionID, q)
	if err != nil {
		return fmt.Errorf("activity_count query: %w", err)
	}

	if len(got) != a.Count {
		return &AssertionError{
			Type:     AssertActivityCount,
			Expected: fmt.Sprintf("%d entries matching %s", a.Count, describeFilter(a)),
			Actual:   fmt.Sprintf("%d entries", len(got)),
			Ledger:   result.Ledger,
		}
	}
	return nil
}

// activityQuery builds the ledger query for an activity_count assertion.
func activityQuery(a Assertion) queryir.Select {
	var preds []queryir.Predicate
	if a.Node != "" {
		preds = append(preds, queryir.Equals{Field: queryir.ColNodeID, Value: ir.IRString(a.Node)})
	}
	if a.Action != "" {
		preds = append(preds, queryir.Equals{Field: queryir.ColAction, Value: ir.IRString(a.Action)})
	}
	if a.CorrelationID != "" {
		preds = append(preds, queryir.Contains{Field: queryir.ColCorrelationIDs, Value: a.CorrelationID})
	}
	if len(preds) == 1 {
		return queryir.Select{Filter: preds[0]}
	}
	return queryir.Select{Filter: queryir.And{Predicates: preds}}
}

func describeFilter(a Assertion) string {
	var parts []string
	if a.Node != "" {
		parts = append(parts, "node="+a.Node)
	}
	if a.Action != "" {
		parts = append(parts, "action="+string(a.Action))
	}
	if a.CorrelationID != "" {
		parts = append(parts, "correlation_id="+a.CorrelationID)
	}
	return strings.Join(parts, " AND ")
}

// assertActivityOrder checks that activities first occur in the specified
// order. Activities don't need to be consecutive.
func assertActivityOrder(result *Result, a Assertion) error {
	positions := make(map[ActivityRef]int64)
	for _, entry := range result.Ledger {
		ref := ActivityRef{Node: entry.NodeID, Action: entry.Action}
		if _, seen := positions[ref]; !seen {
			positions[ref] = entry.Seq
		}
	}

	for _, ref := range a.Activities {
		if _, ok := positions[ref]; !ok {
			return &AssertionError{
				Type:     AssertActivityOrder,
				Expected: fmt.Sprintf("all activities present: %v", a.Activities),
				Actual:   fmt.Sprintf("missing activity: %s", ref),
				Ledger:   result.Ledger,
			}
		}
	}

	for i := 1; i < len(a.Activities); i++ {
		prev, curr := a.Activities[i-1], a.Activities[i]
		if positions[prev] >= positions[curr] {
			return &AssertionError{
				Type:     AssertActivityOrder,
				Expected: fmt.Sprintf("activities in order: %v", a.Activities),
				Actual: fmt.Sprintf("%s (seq %d) should be before %s (seq %d)",
					prev, positions[prev], curr, positions[curr]),
				Ledger: result.Ledger,
			}
		}
	}
	return nil
}

func assertSinkAggregate(actx *AssertionContext, result *Result, a Assertion) error {
	method := sinkMethod(actx.Suite.Scenario, a)
	got, err := lineage.SinkAggregate(result.Ledger, a.Sink, method, a.UptoSeq)
	if err != nil {
		return err
	}
	want, err := ir.FromGo(a.Value)
	if err != nil {
		return fmt.Errorf("sink_aggregate value: %w", err)
	}

	if !valuesEqual(want, got) {
		return &AssertionError{
			Type:     AssertSinkAggregate,
			Expected: fmt.Sprintf("%s of sink %s = %s", method, a.Sink, canonical(want)),
			Actual:   canonical(got),
			Ledger:   result.Ledger,
		}
	}
	return nil
}

// sinkMethod is the assertion's method, else the sink's configured
// aggregation, else sum.
func sinkMethod(sc *ir.Scenario, a Assertion) string {
	if a.Method != "" {
		return a.Method
	}
	if n := sc.Node(a.Sink); n != nil && n.Sink != nil && n.Sink.Aggregation != "" {
		return n.Sink.Aggregation
	}
	return formula.ReduceSum
}

func assertLineage(result *Result, a Assertion) error {
	res, err := lineage.Trace(result.Ledger, a.CorrelationID, lineage.Options{Mode: a.Mode})
	if err != nil {
		return err
	}
	if !slices.Equal(res.NodeIDs, a.Nodes) {
		return &AssertionError{
			Type:     AssertLineage,
			Expected: fmt.Sprintf("lineage of %s through %v", a.CorrelationID, a.Nodes),
			Actual:   fmt.Sprintf("%v", res.NodeIDs),
			Ledger:   result.Ledger,
		}
	}
	return nil
}

func assertClaimValid(actx *AssertionContext, result *Result, a Assertion) error {
	method := sinkMethod(actx.Suite.Scenario, a)
	agg, err := lineage.SinkAggregate(result.Ledger, a.Sink, method, 0)
	if err != nil {
		return err
	}

	c, err := claim.Tokenize(claim.Input{
		SinkID:      a.Sink,
		Aggregation: method,
		Aggregate:   agg,
	}, result.Ledger, lineage.SinkEntries(result.Ledger, a.Sink, 0), claim.Options{IncludeProofs: true})
	if err != nil {
		return fmt.Errorf("claim_valid: %w", err)
	}

	if err := actx.Store.SaveClaim(actx.Ctx, result.ExecutionID, c); err != nil {
		return fmt.Errorf("claim_valid: %w", err)
	}
	stored, err := actx.Store.ReadClaim(actx.Ctx, c.ClaimID)
	if err != nil {
		return fmt.Errorf("claim_valid: %w", err)
	}

	report := claim.VerifyAgainstLedger(stored, result.Ledger)
	if !report.Valid {
		return &AssertionError{
			Type:     AssertClaimValid,
			Expected: fmt.Sprintf("valid claim over sink %s", a.Sink),
			Actual:   strings.Join(report.Problems, "; "),
		}
	}
	return nil
}

func assertDeterministic(actx *AssertionContext, a Assertion) error {
	report, err := engine.VerifyDeterminism(actx.Ctx, actx.Suite.Scenario, a.Runs, actx.EngineOpts...)
	if err != nil {
		return fmt.Errorf("deterministic: %w", err)
	}
	if !report.Deterministic {
		return &AssertionError{
			Type:     AssertDeterministic,
			Expected: fmt.Sprintf("%d runs with one ledger root", report.Runs),
			Actual:   fmt.Sprintf("roots %v", report.Roots),
		}
	}
	return nil
}

func assertReplayMatches(actx *AssertionContext, result *Result) error {
	report, err := actx.Store.VerifyExecution(actx.Ctx, result.ExecutionID, actx.EngineOpts...)
	if err != nil {
		return fmt.Errorf("replay_matches: %w", err)
	}
	if !report.Matches {
		return &AssertionError{
			Type:     AssertReplayMatches,
			Expected: fmt.Sprintf("replay of %s reproduces %d entries", report.ExecutionID, report.StoredEntries),
			Actual:   fmt.Sprintf("first divergence at seq %d (%d replayed)", report.FirstDivergence, report.ReplayedEntries),
			Ledger:   result.Ledger,
		}
	}
	return nil
}

// valuesEqual compares numbers by value across int and float, everything
// else by canonical encoding.
func valuesEqual(want, got ir.IRValue) bool {
	if ir.IsNumeric(want) && ir.IsNumeric(got) {
		w, _ := ir.AsFloat(want)
		g, _ := ir.AsFloat(got)
		return w == g
	}
	wb, err1 := ir.MarshalCanonical(want)
	gb, err2 := ir.MarshalCanonical(got)
	return err1 == nil && err2 == nil && bytes.Equal(wb, gb)
}

func canonical(v ir.IRValue) string {
	b, err := ir.MarshalCanonical(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(b)
}
