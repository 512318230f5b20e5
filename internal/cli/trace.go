package cli

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/flowledger/internal/ir"
	"github.com/roach88/flowledger/internal/queryir"
	"github.com/roach88/flowledger/internal/store"
)

// TraceOptions holds flags for the trace command.
type TraceOptions struct {
	*RootOptions
	Database    string
	ExecutionID string
	Node        string // optional - filter to one node
	Action      string // optional - filter to one action
	Correlation string // optional - filter to one correlation id
	FromSeq     int64
	ToSeq       int64
	Limit       int
}

// ProvenanceEdge links a token to a token derived from it at a node.
type ProvenanceEdge struct {
	FromToken string `json:"from_token"`
	Node      string `json:"node"`
	ToToken   string `json:"to_token"`
	Seq       int64  `json:"seq"`
}

// TraceResult holds the complete trace output.
type TraceResult struct {
	Execution  store.Execution    `json:"execution"`
	Filter     string             `json:"filter,omitempty"`
	Timeline   []ir.ActivityEntry `json:"timeline"`
	Provenance []ProvenanceEdge   `json:"provenance"`
	Stats      TraceStats         `json:"stats"`
}

// TraceStats holds summary statistics for the trace.
type TraceStats struct {
	Entries  int              `json:"entries"`
	Nodes    int              `json:"nodes"`
	Tokens   int              `json:"tokens"`
	ByAction map[string]int64 `json:"by_action"`
}

// NewTraceCommand creates the trace command.
func NewTraceCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TraceOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "trace",
		Short: "Query a recorded ledger",
		Long: `Query the ledger of a recorded execution.

Filters combine with AND and run as one SQL query over the stored ledger,
always in seq order.

The output includes:
- Timeline: the matching ledger entries
- Provenance: token derivations among the matching entries
- Stats: entry, node and token counts

Examples:
  flowledger trace --db ./flowledger.db --execution 01920c4e-...
  flowledger trace --db ./flowledger.db --execution 01920c4e-... --node snk
  flowledger trace --db ./flowledger.db --execution 01920c4e-... --correlation e2
  flowledger trace --db ./flowledger.db --execution 01920c4e-... --from 10 --to 20 --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTrace(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (default store.path)")
	cmd.Flags().StringVar(&opts.ExecutionID, "execution", "", "execution to trace (required)")
	_ = cmd.MarkFlagRequired("execution")
	cmd.Flags().StringVar(&opts.Node, "node", "", "filter to one node id")
	cmd.Flags().StringVar(&opts.Action, "action", "", "filter to one action")
	cmd.Flags().StringVar(&opts.Correlation, "correlation", "", "filter to entries carrying this correlation id")
	cmd.Flags().Int64Var(&opts.FromSeq, "from", 0, "first seq to include")
	cmd.Flags().Int64Var(&opts.ToSeq, "to", 0, "last seq to include")
	cmd.Flags().IntVar(&opts.Limit, "limit", 0, "maximum entries (0 = unlimited)")

	return cmd
}

func runTrace(opts *TraceOptions, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)
	ctx, cancel := commandContext(cmd)
	defer cancel()

	st, err := openStore(opts.RootOptions, opts.Database)
	if err != nil {
		return err
	}
	defer st.Close()

	exec, err := st.ReadExecution(ctx, opts.ExecutionID)
	if err != nil {
		return WrapExitError(ExitCommandError, fmt.Sprintf("failed to read execution %s", opts.ExecutionID), err)
	}

	q := traceQuery(opts)
	formatter.VerboseLog("Querying %s: %s", exec.ID, describeTrace(opts))
	entries, err := st.QueryActivities(ctx, exec.ID, q)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to query ledger", err)
	}
	if entries == nil {
		entries = []ir.ActivityEntry{}
	}

	result := TraceResult{
		Execution:  exec,
		Filter:     describeTrace(opts),
		Timeline:   entries,
		Provenance: buildProvenance(entries),
		Stats:      buildStats(entries),
	}

	if formatter.IsJSON() {
		return formatter.Success(result)
	}
	outputTraceText(formatter.Writer, result, opts.Verbose)
	return nil
}

// traceQuery builds the ledger query from the filter flags.
func traceQuery(opts *TraceOptions) queryir.Select {
	var preds []queryir.Predicate
	if opts.Node != "" {
		preds = append(preds, queryir.Equals{Field: queryir.ColNodeID, Value: ir.IRString(opts.Node)})
	}
	if opts.Action != "" {
		preds = append(preds, queryir.Equals{Field: queryir.ColAction, Value: ir.IRString(opts.Action)})
	}
	if opts.Correlation != "" {
		preds = append(preds, queryir.Contains{Field: queryir.ColCorrelationIDs, Value: opts.Correlation})
	}
	if opts.FromSeq > 0 || opts.ToSeq > 0 {
		preds = append(preds, queryir.SeqRange{From: opts.FromSeq, To: opts.ToSeq})
	}

	q := queryir.Select{Limit: opts.Limit}
	switch len(preds) {
	case 0:
	case 1:
		q.Filter = preds[0]
	default:
		q.Filter = queryir.And{Predicates: preds}
	}
	return q
}

func describeTrace(opts *TraceOptions) string {
	var parts []string
	if opts.Node != "" {
		parts = append(parts, "node="+opts.Node)
	}
	if opts.Action != "" {
		parts = append(parts, "action="+opts.Action)
	}
	if opts.Correlation != "" {
		parts = append(parts, "correlation="+opts.Correlation)
	}
	if opts.FromSeq > 0 || opts.ToSeq > 0 {
		parts = append(parts, fmt.Sprintf("seq %d..%d", opts.FromSeq, opts.ToSeq))
	}
	if opts.Limit > 0 {
		parts = append(parts, fmt.Sprintf("limit %d", opts.Limit))
	}
	return strings.Join(parts, " AND ")
}

// buildProvenance lists one edge per source token of every entry that
// carries a token.
func buildProvenance(entries []ir.ActivityEntry) []ProvenanceEdge {
	edges := []ProvenanceEdge{}
	for _, e := range entries {
		if e.TokenID == "" {
			continue
		}
		for _, src := range e.SourceTokenIDs {
			edges = append(edges, ProvenanceEdge{FromToken: src, Node: e.NodeID, ToToken: e.TokenID, Seq: e.Seq})
		}
	}
	return edges
}

func buildStats(entries []ir.ActivityEntry) TraceStats {
	stats := TraceStats{Entries: len(entries), ByAction: make(map[string]int64)}
	nodes := make(map[string]bool)
	tokens := make(map[string]bool)
	for _, e := range entries {
		stats.ByAction[string(e.Action)]++
		if e.NodeID != "" {
			nodes[e.NodeID] = true
		}
		if e.TokenID != "" {
			tokens[e.TokenID] = true
		}
	}
	stats.Nodes = len(nodes)
	stats.Tokens = len(tokens)
	return stats
}

// outputTraceText outputs the trace result as text.
func outputTraceText(w io.Writer, result TraceResult, verbose bool) {
	fmt.Fprintf(w, "Trace for Execution: %s\n", result.Execution.ID)
	fmt.Fprintf(w, "Status: %s (%s, %d steps, %d entries)\n",
		result.Execution.Status, result.Execution.StopReason, result.Execution.Steps, result.Execution.LedgerSize)
	if result.Filter != "" {
		fmt.Fprintf(w, "Filter: %s\n", result.Filter)
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, "=== Timeline ===")
	if len(result.Timeline) == 0 {
		fmt.Fprintln(w, "  (no entries)")
	} else {
		for _, e := range result.Timeline {
			formatTimelineEntry(w, e, verbose)
		}
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, "=== Provenance ===")
	if len(result.Provenance) == 0 {
		fmt.Fprintln(w, "  (no token derivations)")
	} else {
		for _, edge := range result.Provenance {
			fmt.Fprintf(w, "  %s -[%s]-> %s\n", truncateID(edge.FromToken), edge.Node, truncateID(edge.ToToken))
		}
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, "=== Stats ===")
	fmt.Fprintf(w, "  Entries: %d\n", result.Stats.Entries)
	fmt.Fprintf(w, "  Nodes:   %d\n", result.Stats.Nodes)
	fmt.Fprintf(w, "  Tokens:  %d\n", result.Stats.Tokens)
	actions := make([]string, 0, len(result.Stats.ByAction))
	for a := range result.Stats.ByAction {
		actions = append(actions, a)
	}
	sort.Strings(actions)
	for _, a := range actions {
		fmt.Fprintf(w, "  %-16s %d\n", a+":", result.Stats.ByAction[a])
	}
}

// formatTimelineEntry formats a single ledger entry for text output.
func formatTimelineEntry(w io.Writer, e ir.ActivityEntry, verbose bool) {
	fmt.Fprintf(w, "  [%d] t=%d %s %s %s\n", e.Seq, e.Timestamp, nodeLabel(e.NodeID), e.Action, formatValue(e.Value))
	if !verbose {
		return
	}
	if e.TokenID != "" {
		fmt.Fprintf(w, "       Token: %s\n", truncateID(e.TokenID))
	}
	if len(e.CorrelationIDs) > 0 {
		fmt.Fprintf(w, "       Correlation: %s\n", strings.Join(e.CorrelationIDs, ", "))
	}
	if len(e.Detail) > 0 {
		fmt.Fprintf(w, "       Detail: %s\n", formatValue(e.Detail))
	}
}

// truncateID truncates a long ID for display.
func truncateID(id string) string {
	if len(id) <= 16 {
		return id
	}
	return id[:8] + "..." + id[len(id)-8:]
}
