// Package engine implements the flowledger simulation engine.
//
// The engine drives a directed graph of typed nodes that exchange tokens
// over simulated time, and records everything that happens in an
// append-only activity ledger.
//
// ARCHITECTURE:
//
// Single-Writer Event Loop:
// One event is fully processed before the next is popped. This ensures:
// - Predictable ordering of node reactions
// - Byte-identical ledgers on replay
// - Simple reasoning about causality
//
// Event Processing Flow:
//  1. Events wait in a priority queue ordered by (timestamp, insertion seq)
//  2. Step() pops the earliest event and advances simulated time to it
//  3. The target node's Processor runs on a clone of the node's state
//  4. The returned state replaces the old one; staged tokens become
//     TokenArrival events on the node's outputs
//  5. Returned activities are appended to the ledger under consecutive seqs
//
// Time windows are modeled by scheduling a future event on the same queue.
// There are no background timers.
//
// ERROR HANDLING:
//
// An event a node type does not handle is logged and skipped; the step still
// succeeds. A failing user expression aborts its step only: the event is
// consumed, state and ledger stay as they were, and Run stops with reason
// "error". Calling Run again resumes with the next event.
//
// REPLAY:
//
// State "as of step N" is never reconstructed by rewinding. It is produced
// by a fresh engine that loads the same scenario, receives the same external
// events in the same order and steps N times. Every identifier the engine
// hands out (event ids, token ids, ledger seqs) comes from counters and
// content, never from wall-clock time or randomness.
//
// CRITICAL PATTERNS:
//
// Simulated Clock:
// Clock owns simulated time, ledger seqs and event ids. Time moves forward
// only when an event is popped; seqs come from Clock.NextSeq().
// NEVER use wall-clock timestamps for ordering.
//
// Deterministic Scheduling:
// Equal-timestamp events are processed in insertion order. Outputs are
// followed in declaration order. No randomness, no concurrency.
package engine
