package ir

// Version constants for the ledger format and engine.
const (
	// LedgerVersion is the activity ledger schema version. It takes part in
	// claim ids so claims from incompatible ledgers never collide.
	LedgerVersion = "1"

	// EngineVersion is the flowledger engine version.
	EngineVersion = "0.1.0"
)
