package merkle

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/flowledger/internal/ir"
)

func entries(n int) []ir.ActivityEntry {
	out := make([]ir.ActivityEntry, n)
	for i := range out {
		out[i] = ir.ActivityEntry{
			Seq:       int64(i + 1),
			Step:      int64(i + 1),
			Timestamp: int64(i * 10),
			NodeID:    "sink",
			Action:    ir.ActionConsume,
			Value:     ir.IRInt(i),
			TokenID:   fmt.Sprintf("tok-%d", i),
			EventID:   fmt.Sprintf("evt-%06d", i+1),
		}
	}
	return out
}

func leaves(t *testing.T, n int) []string {
	t.Helper()
	ls, err := LeafHashes(entries(n))
	require.NoError(t, err)
	return ls
}

func TestBuildEmpty(t *testing.T) {
	tree := Build(nil)
	assert.Equal(t, "", tree.Root)
	assert.Equal(t, 0, tree.EventCount)
	assert.Equal(t, 0, tree.Depth)
}

func TestBuildSingleLeaf(t *testing.T) {
	ls := leaves(t, 1)
	tree := Build(ls)
	assert.Equal(t, ls[0], tree.Root)
	assert.Equal(t, 0, tree.Depth)
	assert.Equal(t, 1, tree.EventCount)
}

func TestBuildTwoLeaves(t *testing.T) {
	ls := leaves(t, 2)
	tree := Build(ls)
	assert.Equal(t, ir.MerkleNodeHash(ls[0], ls[1]), tree.Root)
	assert.Equal(t, 1, tree.Depth)
}

func TestBuildOddPairsWithItself(t *testing.T) {
	ls := leaves(t, 3)
	tree := Build(ls)

	left := ir.MerkleNodeHash(ls[0], ls[1])
	right := ir.MerkleNodeHash(ls[2], ls[2])
	assert.Equal(t, ir.MerkleNodeHash(left, right), tree.Root)
	assert.Equal(t, 2, tree.Depth)
	assert.Len(t, tree.Layers, 3)
}

func TestBuildCopiesInput(t *testing.T) {
	ls := leaves(t, 4)
	tree := Build(ls)
	root := tree.Root

	ls[0] = ls[1]
	assert.Equal(t, root, Build(tree.Leaves).Root)
}

func TestRootIsDeterministic(t *testing.T) {
	a, err := Root(entries(7))
	require.NoError(t, err)
	b, err := Root(entries(7))
	require.NoError(t, err)
	assert.Equal(t, a, b)
	assert.Len(t, a, 64)
}

func TestRootChangesWithAnyEntryField(t *testing.T) {
	base, err := Root(entries(5))
	require.NoError(t, err)

	mutations := map[string]func(*ir.ActivityEntry){
		"seq":       func(e *ir.ActivityEntry) { e.Seq = 99 },
		"timestamp": func(e *ir.ActivityEntry) { e.Timestamp++ },
		"node":      func(e *ir.ActivityEntry) { e.NodeID = "other" },
		"action":    func(e *ir.ActivityEntry) { e.Action = ir.ActionEmit },
		"value":     func(e *ir.ActivityEntry) { e.Value = ir.IRInt(1000) },
		"corr":      func(e *ir.ActivityEntry) { e.CorrelationIDs = []string{"x"} },
	}

	for name, mutate := range mutations {
		t.Run(name, func(t *testing.T) {
			es := entries(5)
			mutate(&es[2])
			root, err := Root(es)
			require.NoError(t, err)
			assert.NotEqual(t, base, root)
		})
	}
}

func TestProofRoundTripAllSizes(t *testing.T) {
	for n := 1; n <= 17; n++ {
		tree := Build(leaves(t, n))
		for i := 0; i < n; i++ {
			p, err := GenerateProofAt(tree, i)
			require.NoError(t, err, "n=%d i=%d", n, i)
			assert.Equal(t, tree.Root, p.Root)
			assert.Len(t, p.Siblings, tree.Depth)
			assert.True(t, VerifyProof(p), "n=%d i=%d", n, i)
		}
	}
}

func TestGenerateProofByHash(t *testing.T) {
	ls := leaves(t, 5)
	tree := Build(ls)

	p, err := GenerateProof(tree, ls[3])
	require.NoError(t, err)
	assert.Equal(t, 3, p.Index)
	assert.True(t, VerifyProof(p))
}

func TestGenerateProofMissingLeaf(t *testing.T) {
	tree := Build(leaves(t, 4))

	p, err := GenerateProof(tree, ir.HashWithDomain("other", nil))
	assert.Nil(t, p)
	var tie *TreeIntegrityError
	require.ErrorAs(t, err, &tie)
	assert.Contains(t, err.Error(), "not found")

	p, err = GenerateProofAt(tree, 4)
	assert.Nil(t, p)
	require.ErrorAs(t, err, &tie)
	assert.Contains(t, err.Error(), "out of range")

	_, err = GenerateProofAt(Build(nil), 0)
	require.ErrorAs(t, err, &tie)
}

func TestVerifyProofRejectsTampering(t *testing.T) {
	ls := leaves(t, 6)
	tree := Build(ls)
	good, err := GenerateProofAt(tree, 2)
	require.NoError(t, err)

	clone := func() *Proof {
		p := *good
		p.Siblings = append([]string(nil), good.Siblings...)
		p.Path = append([]Side(nil), good.Path...)
		return &p
	}

	tests := map[string]func(*Proof){
		"other leaf":      func(p *Proof) { p.EventHash = ls[3] },
		"other root":      func(p *Proof) { p.Root = ls[0] },
		"flipped side":    func(p *Proof) { p.Path[0] = Left },
		"bad side":        func(p *Proof) { p.Path[1] = "up" },
		"sibling swapped": func(p *Proof) { p.Siblings[0] = ls[5] },
		"short path":      func(p *Proof) { p.Path = p.Path[:1] },
		"not hex":         func(p *Proof) { p.Siblings[0] = "zz" },
		"upper hex":       func(p *Proof) { p.Root = "A" + p.Root[1:] },
		"empty":           func(p *Proof) { *p = Proof{} },
	}

	for name, mutate := range tests {
		t.Run(name, func(t *testing.T) {
			p := clone()
			mutate(p)
			assert.False(t, VerifyProof(p))
		})
	}

	assert.False(t, VerifyProof(nil))
	assert.True(t, VerifyProof(good), "original proof must be unaffected")
}

func TestVerifyEntry(t *testing.T) {
	es := entries(4)
	tree, err := BuildFromActivities(es)
	require.NoError(t, err)

	p, err := GenerateProofAt(tree, 1)
	require.NoError(t, err)
	assert.True(t, VerifyEntry(es[1], p))

	es[1].Value = ir.IRInt(-1)
	assert.False(t, VerifyEntry(es[1], p))
	assert.False(t, VerifyEntry(es[0], nil))
}

func TestConcurrentBuildAndVerify(t *testing.T) {
	ls := leaves(t, 32)
	want := Build(ls).Root

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			tree := Build(ls)
			assert.Equal(t, want, tree.Root)
			p, err := GenerateProofAt(tree, i)
			assert.NoError(t, err)
			assert.True(t, VerifyProof(p))
		}(i)
	}
	wg.Wait()
}
