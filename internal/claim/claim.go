// Package claim packages a sink's aggregate result together with Merkle
// commitments to the ledger that produced it.
//
// A claim carries two independent roots: one over the full ledger and one
// over the sink's own entries. Optional inclusion proofs bind every sink
// entry to the full-ledger root, proving the sink entries are a true subset
// of the ledger without disclosing the rest of it.
//
// Claims are never updated in place. Extend rebuilds both trees over the
// concatenated event set and returns a new claim.
package claim

import (
	"encoding/json"
	"fmt"
	"slices"

	"github.com/roach88/flowledger/internal/ir"
	"github.com/roach88/flowledger/internal/merkle"
)

// Input is what a claim asserts about its sink.
type Input struct {
	SinkID      string
	Aggregation string
	Aggregate   ir.IRValue
	Metadata    ir.IRObject
}

// Options controls claim construction.
type Options struct {
	// IncludeProofs adds one inclusion proof per sink entry.
	IncludeProofs bool
}

// Claim is the exported, independently verifiable claim document.
type Claim struct {
	ClaimID              string          `json:"claim_id"`
	FullLedgerMerkleRoot string          `json:"full_ledger_merkle_root"`
	FullLedgerEventCount int             `json:"full_ledger_event_count"`
	SinkMerkleRoot       string          `json:"sink_merkle_root"`
	SinkEventCount       int             `json:"sink_event_count"`
	SinkEventHashes      []string        `json:"sink_event_hashes"`
	InclusionProofs      []*merkle.Proof `json:"inclusion_proofs,omitempty"`
	Aggregate            ir.IRValue      `json:"aggregate"`
	Metadata             ir.IRObject     `json:"metadata"`
}

// UnmarshalJSON decodes a claim, restoring the aggregate as an IRValue.
func (c *Claim) UnmarshalJSON(data []byte) error {
	type plain Claim
	var raw struct {
		plain
		Aggregate json.RawMessage `json:"aggregate"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*c = Claim(raw.plain)

	c.Aggregate = ir.IRNull{}
	if len(raw.Aggregate) > 0 {
		v, err := ir.UnmarshalIRValue(raw.Aggregate)
		if err != nil {
			return fmt.Errorf("aggregate: %w", err)
		}
		c.Aggregate = v
	}
	return nil
}

// Tokenize builds a claim over sinkEvents, which must all appear in
// fullLedger. A sink entry missing from the ledger yields
// *merkle.TreeIntegrityError and no claim.
func Tokenize(in Input, fullLedger, sinkEvents []ir.ActivityEntry, opts Options) (*Claim, error) {
	full, err := merkle.BuildFromActivities(fullLedger)
	if err != nil {
		return nil, fmt.Errorf("full ledger tree: %w", err)
	}
	sinkHashes, err := merkle.LeafHashes(sinkEvents)
	if err != nil {
		return nil, fmt.Errorf("sink leaves: %w", err)
	}
	return assemble(in, full, sinkHashes, opts)
}

// Extend returns a new claim covering prev's sink entries followed by
// newSinkEvents, none of which may already be covered. fullLedger is the complete current ledger; its first
// prev.FullLedgerEventCount entries must reproduce prev's full-ledger root.
func Extend(prev *Claim, in Input, fullLedger, newSinkEvents []ir.ActivityEntry, opts Options) (*Claim, error) {
	if prev == nil {
		return nil, fmt.Errorf("extend: previous claim is nil")
	}
	if len(fullLedger) < prev.FullLedgerEventCount {
		return nil, fmt.Errorf("extend: ledger has %d entries, previous claim covers %d",
			len(fullLedger), prev.FullLedgerEventCount)
	}

	prefix, err := merkle.Root(fullLedger[:prev.FullLedgerEventCount])
	if err != nil {
		return nil, fmt.Errorf("extend: %w", err)
	}
	if prefix != prev.FullLedgerMerkleRoot {
		return nil, fmt.Errorf("extend: ledger does not extend claim %s: prefix root %s, claimed %s",
			prev.ClaimID, prefix, prev.FullLedgerMerkleRoot)
	}

	full, err := merkle.BuildFromActivities(fullLedger)
	if err != nil {
		return nil, fmt.Errorf("extend: full ledger tree: %w", err)
	}
	added, err := merkle.LeafHashes(newSinkEvents)
	if err != nil {
		return nil, fmt.Errorf("extend: sink leaves: %w", err)
	}
	seen := make(map[string]bool, len(prev.SinkEventHashes)+len(added))
	for _, h := range prev.SinkEventHashes {
		seen[h] = true
	}
	for i, h := range added {
		if seen[h] {
			return nil, fmt.Errorf("extend: sink entry %d (seq %d) is already covered", i, newSinkEvents[i].Seq)
		}
		seen[h] = true
	}

	meta := ir.IRObject{}
	for k, v := range in.Metadata {
		meta[k] = v
	}
	meta["extends"] = ir.IRString(prev.ClaimID)
	in.Metadata = meta

	hashes := append(slices.Clone(prev.SinkEventHashes), added...)
	return assemble(in, full, hashes, opts)
}

func assemble(in Input, full *merkle.Tree, sinkHashes []string, opts Options) (*Claim, error) {
	proofs := make([]*merkle.Proof, len(sinkHashes))
	for i, h := range sinkHashes {
		p, err := merkle.GenerateProof(full, h)
		if err != nil {
			return nil, fmt.Errorf("sink entry %d: %w", i, err)
		}
		proofs[i] = p
	}

	agg := in.Aggregate
	if agg == nil {
		agg = ir.IRNull{}
	}
	meta := ir.IRObject{}
	for k, v := range in.Metadata {
		meta[k] = v
	}
	if in.SinkID != "" {
		meta["sink_id"] = ir.IRString(in.SinkID)
	}
	if in.Aggregation != "" {
		meta["aggregation"] = ir.IRString(in.Aggregation)
	}

	c := &Claim{
		FullLedgerMerkleRoot: full.Root,
		FullLedgerEventCount: full.EventCount,
		SinkMerkleRoot:       merkle.Build(sinkHashes).Root,
		SinkEventCount:       len(sinkHashes),
		SinkEventHashes:      slices.Clone(sinkHashes),
		Aggregate:            agg,
		Metadata:             meta,
	}
	if c.SinkEventHashes == nil {
		c.SinkEventHashes = []string{}
	}
	if opts.IncludeProofs {
		c.InclusionProofs = proofs
	}

	id, err := computeID(c)
	if err != nil {
		return nil, err
	}
	c.ClaimID = id
	return c, nil
}

// body is the part of a claim its id commits to. Proofs are derivable from
// the roots and stay outside it, so a claim keeps its id with or without
// them.
func body(c *Claim) ir.IRObject {
	hashes := make(ir.IRArray, len(c.SinkEventHashes))
	for i, h := range c.SinkEventHashes {
		hashes[i] = ir.IRString(h)
	}
	agg := c.Aggregate
	if agg == nil {
		agg = ir.IRNull{}
	}
	meta := c.Metadata
	if meta == nil {
		meta = ir.IRObject{}
	}
	return ir.IRObject{
		"full_ledger_merkle_root": ir.IRString(c.FullLedgerMerkleRoot),
		"full_ledger_event_count": ir.IRInt(c.FullLedgerEventCount),
		"sink_merkle_root":        ir.IRString(c.SinkMerkleRoot),
		"sink_event_count":        ir.IRInt(c.SinkEventCount),
		"sink_event_hashes":       hashes,
		"aggregate":               agg,
		"metadata":                meta,
	}
}

func computeID(c *Claim) (string, error) {
	id, err := ir.ClaimID(body(c))
	if err != nil {
		return "", fmt.Errorf("claim id: %w", err)
	}
	return id, nil
}
