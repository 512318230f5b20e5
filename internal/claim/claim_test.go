package claim

import (
	"encoding/json"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/flowledger/internal/ir"
	"github.com/roach88/flowledger/internal/merkle"
)

// ledger returns n entries where every third one is consumed by "snk".
func ledger(n int) []ir.ActivityEntry {
	out := make([]ir.ActivityEntry, n)
	for i := range out {
		e := ir.ActivityEntry{
			Seq:       int64(i + 1),
			Step:      int64(i + 1),
			Timestamp: int64(i * 10),
			NodeID:    "src",
			Action:    ir.ActionEmit,
			Value:     ir.IRInt(i),
			TokenID:   fmt.Sprintf("tok-%d", i),
			EventID:   fmt.Sprintf("evt-%06d", i+1),
		}
		if i%3 == 2 {
			e.NodeID = "snk"
			e.Action = ir.ActionConsume
		}
		out[i] = e
	}
	return out
}

func sinkOf(entries []ir.ActivityEntry) []ir.ActivityEntry {
	var out []ir.ActivityEntry
	for _, e := range entries {
		if e.NodeID == "snk" {
			out = append(out, e)
		}
	}
	return out
}

func input() Input {
	return Input{
		SinkID:      "snk",
		Aggregation: "sum",
		Aggregate:   ir.IRInt(42),
		Metadata:    ir.IRObject{"scenario": ir.IRString("demo")},
	}
}

func TestTokenize(t *testing.T) {
	full := ledger(10)
	sink := sinkOf(full)

	c, err := Tokenize(input(), full, sink, Options{IncludeProofs: true})
	require.NoError(t, err)

	wantFull, err := merkle.Root(full)
	require.NoError(t, err)
	wantSink, err := merkle.Root(sink)
	require.NoError(t, err)

	assert.Len(t, c.ClaimID, 64)
	assert.Equal(t, wantFull, c.FullLedgerMerkleRoot)
	assert.Equal(t, 10, c.FullLedgerEventCount)
	assert.Equal(t, wantSink, c.SinkMerkleRoot)
	assert.Equal(t, 3, c.SinkEventCount)
	assert.Len(t, c.SinkEventHashes, 3)
	assert.Len(t, c.InclusionProofs, 3)
	assert.Equal(t, ir.IRInt(42), c.Aggregate)
	assert.Equal(t, ir.IRString("snk"), c.Metadata["sink_id"])
	assert.Equal(t, ir.IRString("sum"), c.Metadata["aggregation"])
	assert.Equal(t, ir.IRString("demo"), c.Metadata["scenario"])

	for i, p := range c.InclusionProofs {
		assert.True(t, merkle.VerifyEntry(sink[i], p))
	}

	r := Verify(c)
	assert.True(t, r.Valid, r.Problems)
	assert.Equal(t, 3, r.ProofsChecked)
}

func TestTokenize_IDIndependentOfProofs(t *testing.T) {
	full := ledger(7)
	with, err := Tokenize(input(), full, sinkOf(full), Options{IncludeProofs: true})
	require.NoError(t, err)
	without, err := Tokenize(input(), full, sinkOf(full), Options{})
	require.NoError(t, err)

	assert.Equal(t, with.ClaimID, without.ClaimID)
	assert.Nil(t, without.InclusionProofs)
	assert.True(t, Verify(without).Valid)
}

func TestTokenize_Deterministic(t *testing.T) {
	a, err := Tokenize(input(), ledger(9), sinkOf(ledger(9)), Options{IncludeProofs: true})
	require.NoError(t, err)
	b, err := Tokenize(input(), ledger(9), sinkOf(ledger(9)), Options{IncludeProofs: true})
	require.NoError(t, err)

	ja, err := json.Marshal(a)
	require.NoError(t, err)
	jb, err := json.Marshal(b)
	require.NoError(t, err)
	assert.Equal(t, ja, jb)
}

func TestTokenize_SinkEventNotInLedger(t *testing.T) {
	full := ledger(6)
	stray := full[2]
	stray.Value = ir.IRInt(999)

	c, err := Tokenize(input(), full, []ir.ActivityEntry{stray}, Options{})
	assert.Nil(t, c)
	var tie *merkle.TreeIntegrityError
	require.ErrorAs(t, err, &tie)
	assert.Contains(t, err.Error(), "not found")
}

func TestTokenize_EmptySink(t *testing.T) {
	c, err := Tokenize(input(), ledger(4), nil, Options{IncludeProofs: true})
	require.NoError(t, err)

	assert.Equal(t, "", c.SinkMerkleRoot)
	assert.Equal(t, 0, c.SinkEventCount)
	assert.NotNil(t, c.SinkEventHashes)
	assert.True(t, Verify(c).Valid)
}

func TestVerify_DetectsTampering(t *testing.T) {
	full := ledger(12)
	good, err := Tokenize(input(), full, sinkOf(full), Options{IncludeProofs: true})
	require.NoError(t, err)

	roundTrip := func() *Claim {
		data, err := json.Marshal(good)
		require.NoError(t, err)
		var c Claim
		require.NoError(t, json.Unmarshal(data, &c))
		return &c
	}

	tests := map[string]func(*Claim){
		"aggregate":   func(c *Claim) { c.Aggregate = ir.IRInt(43) },
		"metadata":    func(c *Claim) { c.Metadata["scenario"] = ir.IRString("other") },
		"sink root":   func(c *Claim) { c.SinkMerkleRoot = c.FullLedgerMerkleRoot },
		"sink hash":   func(c *Claim) { c.SinkEventHashes[0] = c.SinkEventHashes[1] },
		"count":       func(c *Claim) { c.SinkEventCount++ },
		"full root":   func(c *Claim) { c.FullLedgerMerkleRoot = c.SinkMerkleRoot },
		"proof":       func(c *Claim) { c.InclusionProofs[1].Siblings[0] = c.SinkEventHashes[0] },
		"proof order": func(c *Claim) { c.InclusionProofs[0], c.InclusionProofs[1] = c.InclusionProofs[1], c.InclusionProofs[0] },
		"proof gone":  func(c *Claim) { c.InclusionProofs = c.InclusionProofs[:1] },
		"nil proof":   func(c *Claim) { c.InclusionProofs[2] = nil },
	}

	for name, mutate := range tests {
		t.Run(name, func(t *testing.T) {
			c := roundTrip()
			require.True(t, Verify(c).Valid, "round trip must verify")
			mutate(c)
			r := Verify(c)
			assert.False(t, r.Valid)
			assert.NotEmpty(t, r.Problems)
		})
	}

	assert.False(t, Verify(nil).Valid)
}

func TestVerifyAgainstLedger(t *testing.T) {
	full := ledger(8)
	c, err := Tokenize(input(), full, sinkOf(full), Options{})
	require.NoError(t, err)

	r := VerifyAgainstLedger(c, full)
	assert.True(t, r.Valid, r.Problems)
	assert.True(t, r.LedgerChecked)

	tampered := ledger(8)
	tampered[0].Value = ir.IRString("forged")
	r = VerifyAgainstLedger(c, tampered)
	assert.False(t, r.Valid)

	r = VerifyAgainstLedger(c, full[:7])
	assert.False(t, r.Valid)
}

func TestClaimJSONRoundTrip(t *testing.T) {
	in := input()
	in.Aggregate = ir.IRFloat(2.5)
	c, err := Tokenize(in, ledger(5), sinkOf(ledger(5)), Options{IncludeProofs: true})
	require.NoError(t, err)

	data, err := json.Marshal(c)
	require.NoError(t, err)

	var fields map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(data, &fields))
	for _, key := range []string{
		"claim_id", "full_ledger_merkle_root", "full_ledger_event_count",
		"sink_merkle_root", "sink_event_count", "sink_event_hashes",
		"inclusion_proofs", "aggregate", "metadata",
	} {
		assert.Contains(t, fields, key)
	}

	var decoded Claim
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, ir.IRFloat(2.5), decoded.Aggregate)
	assert.Equal(t, c.ClaimID, decoded.ClaimID)
	assert.True(t, Verify(&decoded).Valid)
}

func TestExtend(t *testing.T) {
	full := ledger(9)
	first, err := Tokenize(input(), full[:5], sinkOf(full[:5]), Options{})
	require.NoError(t, err)

	next := input()
	next.Aggregate = ir.IRInt(99)
	ext, err := Extend(first, next, full, sinkOf(full[5:]), Options{IncludeProofs: true})
	require.NoError(t, err)

	fresh, err := Tokenize(next, full, sinkOf(full), Options{})
	require.NoError(t, err)

	assert.Equal(t, fresh.SinkMerkleRoot, ext.SinkMerkleRoot)
	assert.Equal(t, fresh.FullLedgerMerkleRoot, ext.FullLedgerMerkleRoot)
	assert.Equal(t, 3, ext.SinkEventCount)
	assert.Equal(t, 9, ext.FullLedgerEventCount)
	assert.Equal(t, ir.IRString(first.ClaimID), ext.Metadata["extends"])
	assert.NotEqual(t, first.ClaimID, ext.ClaimID)
	assert.Nil(t, next.Metadata["extends"], "caller metadata is not modified")

	r := VerifyAgainstLedger(ext, full)
	assert.True(t, r.Valid, r.Problems)
	assert.Equal(t, 3, r.ProofsChecked)
}

func TestExtend_RejectsRewrittenHistory(t *testing.T) {
	full := ledger(9)
	first, err := Tokenize(input(), full[:5], sinkOf(full[:5]), Options{})
	require.NoError(t, err)

	rewritten := ledger(9)
	rewritten[1].Value = ir.IRInt(-1)
	_, err = Extend(first, input(), rewritten, nil, Options{})
	assert.ErrorContains(t, err, "does not extend")

	_, err = Extend(first, input(), full[:3], nil, Options{})
	assert.Error(t, err)

	_, err = Extend(nil, input(), full, nil, Options{})
	assert.Error(t, err)
}

func TestExtend_RejectsDuplicateSinkEntries(t *testing.T) {
	full := ledger(9)
	first, err := Tokenize(input(), full[:5], sinkOf(full[:5]), Options{})
	require.NoError(t, err)
	require.Equal(t, 1, first.SinkEventCount)

	// full[2] is already in the first claim.
	_, err = Extend(first, input(), full, sinkOf(full), Options{})
	assert.ErrorContains(t, err, "already covered")

	added := sinkOf(full[5:])
	_, err = Extend(first, input(), full, append(added, added[0]), Options{})
	assert.ErrorContains(t, err, "already covered")

	ext, err := Extend(first, input(), full, added, Options{})
	require.NoError(t, err)
	assert.Equal(t, 3, ext.SinkEventCount)
}
