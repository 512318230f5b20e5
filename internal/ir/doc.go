// Package ir provides the canonical data model for flowledger.
//
// This package contains type definitions and their canonical encoding only.
// All other internal packages import ir; ir imports nothing internal.
//
// Key design constraints:
//   - Values are the sealed IRValue set; floats must be finite
//   - All JSON tags use snake_case
//   - Simulated ticks and sequence numbers only, never wall-clock time
//   - Hashes are domain separated SHA-256 over RFC 8785 canonical JSON
package ir
