// Package queryir provides an abstract query representation over the
// activity ledger.
//
// QueryIR sits between callers that filter a ledger (the trace command,
// conformance assertions) and the storage backend that executes the filter:
//
//	[CLI flags / harness] → [Query IR] → [SQL backend]
//
// The IR only names ledger columns, never SQL. The SQL backend lives in
// internal/querysql and is the only place column names become SQL text.
//
// SEALED INTERFACES:
//
// Query and Predicate are sealed interfaces using the marker method pattern.
// Only types in this package can implement them, so backends can switch
// exhaustively:
//
//	switch p := pred.(type) {
//	case Equals:
//	case BoundEquals:
//	case And:
//	case SeqRange:
//	case Contains:
//	}
//
// COLUMNS:
//
// Scalar columns (usable with Equals and BoundEquals):
//
//	execution_id, seq, step, timestamp, node_id, action, token_id, event_id
//
// Array columns (usable with Contains):
//
//	correlation_ids, source_token_ids
//
// ORDERING:
//
// Every compiled query orders by seq ascending. Ledger order is the only
// order a query can return.
package queryir
