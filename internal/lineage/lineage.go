// Package lineage answers provenance questions over an activity ledger.
//
// Two tracing modes exist:
//
//   - exact follows the SourceTokenIDs recorded on ledger entries, the
//     consumed-from edge every derived token carries. The result is the
//     precise ancestry of the traced id plus everything derived from it.
//   - heuristic reproduces the bounded backward search: for each emission
//     that carries the traced id it collects entries at the same node within
//     Lookback ticks before it and follows their correlation ids. It can
//     over-approximate joins and exists for comparison with older ledgers
//     that lack the consumed-from edge.
//
// All functions are pure over the ledger slice they are given.
package lineage

import (
	"fmt"
	"slices"

	"github.com/roach88/flowledger/internal/formula"
	"github.com/roach88/flowledger/internal/ir"
)

// Mode selects how ancestry is reconstructed.
type Mode string

const (
	ModeExact     Mode = "exact"
	ModeHeuristic Mode = "heuristic"
)

// DefaultLookback is the heuristic search window in ticks.
const DefaultLookback int64 = 1000

// Options configures Trace.
type Options struct {
	Mode     Mode
	Lookback int64
}

// Result is the lineage of one correlation id.
type Result struct {
	CorrelationID string `json:"correlation_id"`
	Mode          Mode   `json:"mode"`

	// Entries are the involved ledger entries in seq order.
	Entries []ir.ActivityEntry `json:"entries"`

	// NodeIDs lists involved nodes in order of first appearance.
	NodeIDs []string `json:"node_ids"`

	// CorrelationIDs is the sorted union of the entries' correlation ids.
	CorrelationIDs []string `json:"correlation_ids"`
}

// Contains reports whether the lineage reached the given correlation id.
func (r *Result) Contains(id string) bool {
	_, found := slices.BinarySearch(r.CorrelationIDs, id)
	return found
}

// Trace reconstructs the lineage of correlationID, which may be an external
// event id or a token id.
func Trace(ledger []ir.ActivityEntry, correlationID string, opts Options) (*Result, error) {
	if correlationID == "" {
		return nil, fmt.Errorf("correlation id is required")
	}

	mode := opts.Mode
	if mode == "" {
		mode = ModeExact
	}

	var picked map[int]bool
	switch mode {
	case ModeExact:
		picked = traceExact(ledger, correlationID)
	case ModeHeuristic:
		lookback := opts.Lookback
		if lookback <= 0 {
			lookback = DefaultLookback
		}
		picked = traceHeuristic(ledger, correlationID, lookback)
	default:
		return nil, fmt.Errorf("unknown lineage mode %q, must be %q or %q", mode, ModeExact, ModeHeuristic)
	}

	return collect(ledger, correlationID, mode, picked), nil
}

// traceExact selects every entry carrying id, then walks SourceTokenIDs
// backward from the origins of id: the entries where a token carrying id
// was created from inputs that did not carry it. Inputs joined in further
// downstream are co-inputs, not ancestors, and are left out.
func traceExact(ledger []ir.ActivityEntry, id string) map[int]bool {
	byToken := make(map[string][]int)
	carries := make(map[string]bool)
	for i, e := range ledger {
		if e.TokenID == "" {
			continue
		}
		byToken[e.TokenID] = append(byToken[e.TokenID], i)
		if e.TokenID == id || e.HasCorrelation(id) {
			carries[e.TokenID] = true
		}
	}

	picked := make(map[int]bool)
	var frontier []string
	for i, e := range ledger {
		if e.TokenID != id && !e.HasCorrelation(id) {
			continue
		}
		picked[i] = true
		if !slices.ContainsFunc(e.SourceTokenIDs, func(src string) bool { return carries[src] }) {
			frontier = append(frontier, e.SourceTokenIDs...)
		}
	}

	visited := make(map[string]bool)
	for len(frontier) > 0 {
		tok := frontier[len(frontier)-1]
		frontier = frontier[:len(frontier)-1]
		if visited[tok] {
			continue
		}
		visited[tok] = true

		for _, i := range byToken[tok] {
			picked[i] = true
			frontier = append(frontier, ledger[i].SourceTokenIDs...)
		}
	}
	return picked
}

// traceHeuristic selects entries carrying id and, for every emission among
// them, the entries at the same node within lookback ticks before it. The
// correlation ids found that way are traced in turn.
func traceHeuristic(ledger []ir.ActivityEntry, id string, lookback int64) map[int]bool {
	picked := make(map[int]bool)
	pending := []string{id}
	seen := map[string]bool{id: true}

	for len(pending) > 0 {
		cur := pending[0]
		pending = pending[1:]

		for i, e := range ledger {
			if e.TokenID != cur && !e.HasCorrelation(cur) {
				continue
			}
			picked[i] = true
			if e.Action != ir.ActionEmit {
				continue
			}

			for j := i - 1; j >= 0; j-- {
				prior := ledger[j]
				if prior.Timestamp < e.Timestamp-lookback {
					break
				}
				if prior.NodeID != e.NodeID || !consumes(prior.Action) {
					continue
				}
				picked[j] = true
				for _, c := range prior.CorrelationIDs {
					if !seen[c] {
						seen[c] = true
						pending = append(pending, c)
					}
				}
			}
		}
	}
	return picked
}

// consumes reports whether an action records a node taking in a token.
func consumes(a ir.Action) bool {
	switch a {
	case ir.ActionReceive, ir.ActionProcessStart, ir.ActionTransition, ir.ActionConsume:
		return true
	}
	return false
}

func collect(ledger []ir.ActivityEntry, id string, mode Mode, picked map[int]bool) *Result {
	idx := make([]int, 0, len(picked))
	for i := range picked {
		idx = append(idx, i)
	}
	slices.Sort(idx)

	res := &Result{
		CorrelationID:  id,
		Mode:           mode,
		Entries:        make([]ir.ActivityEntry, 0, len(idx)),
		NodeIDs:        []string{},
		CorrelationIDs: []string{},
	}

	nodes := make(map[string]bool)
	corr := make(map[string]bool)
	for _, i := range idx {
		e := ledger[i]
		res.Entries = append(res.Entries, e)
		if e.NodeID != "" && !nodes[e.NodeID] {
			nodes[e.NodeID] = true
			res.NodeIDs = append(res.NodeIDs, e.NodeID)
		}
		for _, c := range e.CorrelationIDs {
			corr[c] = true
		}
	}
	for c := range corr {
		res.CorrelationIDs = append(res.CorrelationIDs, c)
	}
	slices.Sort(res.CorrelationIDs)
	return res
}

var defaultFormulas = formula.NewEvaluator(formula.DefaultCacheSize)

// SinkAggregate reduces the values consumed by sinkID up to and including
// ledger position uptoSeq (0 means the whole ledger) with method, a reducer
// name or an expression over `values`.
func SinkAggregate(ledger []ir.ActivityEntry, sinkID, method string, uptoSeq int64) (ir.IRValue, error) {
	return SinkAggregateWith(defaultFormulas, ledger, sinkID, method, uptoSeq)
}

// SinkAggregateWith is SinkAggregate using a caller-supplied evaluator.
func SinkAggregateWith(ev *formula.Evaluator, ledger []ir.ActivityEntry, sinkID, method string, uptoSeq int64) (ir.IRValue, error) {
	values := ConsumedValues(ledger, sinkID, uptoSeq)
	v, err := ev.Reduce(method, values)
	if err != nil {
		return nil, fmt.Errorf("sink %s aggregate %q: %w", sinkID, method, err)
	}
	return v, nil
}

// ConsumedValues returns the values consumed by sinkID in seq order.
func ConsumedValues(ledger []ir.ActivityEntry, sinkID string, uptoSeq int64) []ir.IRValue {
	var values []ir.IRValue
	for _, e := range SinkEntries(ledger, sinkID, uptoSeq) {
		values = append(values, e.Value)
	}
	return values
}

// SinkEntries returns the consume entries of sinkID up to uptoSeq (0 means
// all). These are the events a claim over the sink commits to.
func SinkEntries(ledger []ir.ActivityEntry, sinkID string, uptoSeq int64) []ir.ActivityEntry {
	var out []ir.ActivityEntry
	for _, e := range ledger {
		if uptoSeq > 0 && e.Seq > uptoSeq {
			break
		}
		if e.NodeID == sinkID && e.Action == ir.ActionConsume {
			out = append(out, e)
		}
	}
	return out
}
