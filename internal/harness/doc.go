// Package harness runs YAML conformance suites against the simulation engine.
//
// A suite names a scenario, runs it to completion on a fresh engine, records
// the ledger in an in-memory store and evaluates assertions over the result.
//
// # Suite Format
//
//	name: batch_sum
//	description: "Pairs of readings are summed before reaching the sink"
//	scenario_file: ../scenarios/batch.yaml   # or an inline scenario: block
//	run:
//	  max_steps: 100
//	  max_ticks: 0
//	assertions:
//	  - type: stop_reason
//	    reason: exhausted
//	  - type: ledger_size
//	    count: 13
//	  - type: activity_count
//	    node: q
//	    action: emit
//	    count: 2
//	  - type: activity_order
//	    activities:
//	      - { node: src, action: emit }
//	      - { node: snk, action: consume }
//	  - type: sink_aggregate
//	    sink: snk
//	    value: 10
//	  - type: lineage
//	    correlation_id: e1
//	    nodes: [src, q, snk]
//	  - type: claim_valid
//	    sink: snk
//	  - type: deterministic
//	    runs: 3
//	  - type: replay_matches
//
// # Assertion Types
//
//   - stop_reason: the run stopped for the given reason
//   - ledger_size: the ledger holds exactly count entries
//   - activity_count: entries matching node, action and correlation_id (all
//     optional) number exactly count; evaluated as a ledger query
//   - activity_order: the first occurrences of the listed activities appear
//     in order, not necessarily adjacent
//   - sink_aggregate: the sink's aggregate up to upto_seq equals value
//   - lineage: tracing correlation_id reaches exactly nodes, in order
//   - claim_valid: a claim over the sink verifies against the ledger
//   - deterministic: independent runs produce the same ledger root
//   - replay_matches: replaying the stored execution reproduces every hash
//
// # Golden Ledgers
//
// RunWithGolden compares the ledger shape (seq, step, timestamp, node,
// action, value) with testdata/golden/{name}.golden. Regenerate with:
//
//	go test ./internal/harness -update
package harness
