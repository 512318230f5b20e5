// Package store provides SQLite-backed durable storage for flowledger.
//
// The store keeps:
//   - Scenarios: scenario documents keyed by content hash
//   - Executions: one record per engine run (UUIDv7 id, stop reason, size)
//   - Activities: the activity ledger of each execution, one row per entry
//   - Claims: exported claim documents keyed by claim id
//
// # Critical Patterns
//
// Idempotent writes
//   - Scenarios and claims are content-addressed; ON CONFLICT(id) DO NOTHING
//   - Activities use ON CONFLICT(execution_id, seq) DO NOTHING
//
// Ledger order
//   - All ledger reads ORDER BY seq ASC; timestamps never order rows
//   - Filtered reads go through queryir and querysql
//
// Stored hashes
//   - Every activity row carries its Merkle leaf hash, so a stored ledger can
//     be checked against a replay without re-serializing it
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
package store
