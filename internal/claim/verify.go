package claim

import (
	"fmt"

	"github.com/roach88/flowledger/internal/ir"
	"github.com/roach88/flowledger/internal/merkle"
)

// Report is the outcome of verifying a claim. Verification never fails
// with an error: a claim is either valid or it is not, with reasons.
type Report struct {
	ClaimID       string   `json:"claim_id"`
	Valid         bool     `json:"valid"`
	ProofsChecked int      `json:"proofs_checked"`
	LedgerChecked bool     `json:"ledger_checked"`
	Problems      []string `json:"problems,omitempty"`
}

func (r *Report) fail(format string, args ...any) {
	r.Valid = false
	r.Problems = append(r.Problems, fmt.Sprintf(format, args...))
}

// Verify checks a claim's internal consistency using nothing but the claim:
// the sink root is recomputed from the sink hashes, the claim id from the
// claim body, and every inclusion proof against the full-ledger root.
func Verify(c *Claim) *Report {
	r := &Report{Valid: true}
	if c == nil {
		r.fail("claim is nil")
		return r
	}
	r.ClaimID = c.ClaimID

	if c.SinkEventCount != len(c.SinkEventHashes) {
		r.fail("sink_event_count is %d but %d hashes are listed", c.SinkEventCount, len(c.SinkEventHashes))
	}
	if c.FullLedgerEventCount < c.SinkEventCount {
		r.fail("sink has %d events but the full ledger only %d", c.SinkEventCount, c.FullLedgerEventCount)
	}
	if root := merkle.Build(c.SinkEventHashes).Root; root != c.SinkMerkleRoot {
		r.fail("sink_merkle_root mismatch: recomputed %s", root)
	}
	if id, err := computeID(c); err != nil {
		r.fail("claim body: %v", err)
	} else if id != c.ClaimID {
		r.fail("claim_id mismatch: recomputed %s", id)
	}

	if c.InclusionProofs == nil {
		return r
	}
	if len(c.InclusionProofs) != len(c.SinkEventHashes) {
		r.fail("%d inclusion proofs for %d sink events", len(c.InclusionProofs), len(c.SinkEventHashes))
		return r
	}
	for i, p := range c.InclusionProofs {
		r.ProofsChecked++
		switch {
		case p == nil:
			r.fail("inclusion proof %d is missing", i)
		case p.EventHash != c.SinkEventHashes[i]:
			r.fail("inclusion proof %d is for %s, not sink event %s", i, p.EventHash, c.SinkEventHashes[i])
		case p.Root != c.FullLedgerMerkleRoot:
			r.fail("inclusion proof %d targets root %s, not the full ledger root", i, p.Root)
		case !merkle.VerifyProof(p):
			r.fail("inclusion proof %d does not verify", i)
		}
	}
	return r
}

// VerifyAgainstLedger runs Verify and additionally recomputes the full
// ledger root and checks that every sink hash is a ledger leaf.
func VerifyAgainstLedger(c *Claim, ledger []ir.ActivityEntry) *Report {
	r := Verify(c)
	if c == nil {
		return r
	}
	r.LedgerChecked = true

	tree, err := merkle.BuildFromActivities(ledger)
	if err != nil {
		r.fail("ledger: %v", err)
		return r
	}
	if tree.EventCount != c.FullLedgerEventCount {
		r.fail("full_ledger_event_count is %d, ledger has %d", c.FullLedgerEventCount, tree.EventCount)
	}
	if tree.Root != c.FullLedgerMerkleRoot {
		r.fail("full_ledger_merkle_root mismatch: recomputed %s", tree.Root)
	}
	for i, h := range c.SinkEventHashes {
		if tree.IndexOf(h) < 0 {
			r.fail("sink event %d (%s) is not in the ledger", i, h)
		}
	}
	return r
}
