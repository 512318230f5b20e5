// Package merkle builds binary Merkle trees over ledger entries and produces
// inclusion proofs for single entries.
//
// Leaves are the domain-separated hashes of canonical activity entries.
// Interior nodes hash the concatenation of their children's hex digests under
// the merkle-node domain. A layer with an odd number of nodes pairs its last
// node with itself. A tree with one leaf has that leaf as its root; an empty
// tree has an empty root.
//
// Everything here is a pure function of its inputs, so trees and proofs may
// be built and verified concurrently.
package merkle

import (
	"encoding/hex"
	"fmt"

	"github.com/roach88/flowledger/internal/ir"
)

// Side says on which side of the running hash a sibling sits.
type Side string

const (
	Left  Side = "left"
	Right Side = "right"
)

// Tree is a built Merkle tree. Layers[0] holds the leaves; the last layer
// holds the root.
type Tree struct {
	Root       string     `json:"root"`
	Leaves     []string   `json:"leaves"`
	Layers     [][]string `json:"layers"`
	Depth      int        `json:"depth"`
	EventCount int        `json:"event_count"`
}

// Proof shows that EventHash is included under Root.
type Proof struct {
	EventHash string   `json:"event_hash"`
	Index     int      `json:"index"`
	Siblings  []string `json:"siblings"`
	Path      []Side   `json:"path"`
	Root      string   `json:"root"`
}

// TreeIntegrityError reports a leaf that is not in the tree. No partial
// proof is ever returned alongside it.
type TreeIntegrityError struct {
	LeafHash string
	Index    int
	Size     int
}

// Error implements the error interface.
func (e *TreeIntegrityError) Error() string {
	if e.LeafHash != "" {
		return fmt.Sprintf("tree integrity: leaf %s not found among %d leaves", e.LeafHash, e.Size)
	}
	return fmt.Sprintf("tree integrity: leaf index %d out of range [0,%d)", e.Index, e.Size)
}

// LeafHash returns the leaf hash of a ledger entry.
func LeafHash(entry ir.ActivityEntry) (string, error) {
	return ir.ActivityHash(entry)
}

// LeafHashes hashes entries in order.
func LeafHashes(entries []ir.ActivityEntry) ([]string, error) {
	leaves := make([]string, len(entries))
	for i, e := range entries {
		h, err := LeafHash(e)
		if err != nil {
			return nil, err
		}
		leaves[i] = h
	}
	return leaves, nil
}

// Build constructs a tree over leaf hashes. The input slice is copied.
func Build(leaves []string) *Tree {
	t := &Tree{
		Leaves:     append([]string(nil), leaves...),
		EventCount: len(leaves),
	}
	if len(leaves) == 0 {
		t.Layers = [][]string{}
		return t
	}

	layer := t.Leaves
	t.Layers = append(t.Layers, layer)
	for len(layer) > 1 {
		next := make([]string, 0, (len(layer)+1)/2)
		for i := 0; i < len(layer); i += 2 {
			right := layer[i]
			if i+1 < len(layer) {
				right = layer[i+1]
			}
			next = append(next, ir.MerkleNodeHash(layer[i], right))
		}
		t.Layers = append(t.Layers, next)
		layer = next
	}

	t.Root = layer[0]
	t.Depth = len(t.Layers) - 1
	return t
}

// BuildFromActivities hashes entries and builds a tree over them.
func BuildFromActivities(entries []ir.ActivityEntry) (*Tree, error) {
	leaves, err := LeafHashes(entries)
	if err != nil {
		return nil, err
	}
	return Build(leaves), nil
}

// Root returns the root over entries without keeping the tree.
func Root(entries []ir.ActivityEntry) (string, error) {
	t, err := BuildFromActivities(entries)
	if err != nil {
		return "", err
	}
	return t.Root, nil
}

// IndexOf returns the position of the first leaf equal to leafHash, or -1.
func (t *Tree) IndexOf(leafHash string) int {
	for i, l := range t.Leaves {
		if l == leafHash {
			return i
		}
	}
	return -1
}

// GenerateProof returns the inclusion proof for the first leaf equal to
// leafHash, or *TreeIntegrityError when it is absent.
func GenerateProof(t *Tree, leafHash string) (*Proof, error) {
	i := t.IndexOf(leafHash)
	if i < 0 {
		return nil, &TreeIntegrityError{LeafHash: leafHash, Index: -1, Size: len(t.Leaves)}
	}
	return GenerateProofAt(t, i)
}

// GenerateProofAt returns the inclusion proof for the leaf at index.
func GenerateProofAt(t *Tree, index int) (*Proof, error) {
	if index < 0 || index >= len(t.Leaves) {
		return nil, &TreeIntegrityError{Index: index, Size: len(t.Leaves)}
	}

	p := &Proof{
		EventHash: t.Leaves[index],
		Index:     index,
		Siblings:  []string{},
		Path:      []Side{},
		Root:      t.Root,
	}

	pos := index
	for _, layer := range t.Layers[:len(t.Layers)-1] {
		if pos%2 == 0 {
			sib := layer[pos]
			if pos+1 < len(layer) {
				sib = layer[pos+1]
			}
			p.Siblings = append(p.Siblings, sib)
			p.Path = append(p.Path, Right)
		} else {
			p.Siblings = append(p.Siblings, layer[pos-1])
			p.Path = append(p.Path, Left)
		}
		pos /= 2
	}
	return p, nil
}

// VerifyProof recomputes the root from the proof and compares it with
// p.Root. It never panics: malformed input simply fails verification.
func VerifyProof(p *Proof) bool {
	if p == nil || len(p.Siblings) != len(p.Path) {
		return false
	}
	if !isDigest(p.EventHash) || !isDigest(p.Root) {
		return false
	}

	h := p.EventHash
	for i, sib := range p.Siblings {
		if !isDigest(sib) {
			return false
		}
		switch p.Path[i] {
		case Right:
			h = ir.MerkleNodeHash(h, sib)
		case Left:
			h = ir.MerkleNodeHash(sib, h)
		default:
			return false
		}
	}
	return h == p.Root
}

// VerifyEntry checks that entry is the leaf a proof speaks for, then
// verifies the proof.
func VerifyEntry(entry ir.ActivityEntry, p *Proof) bool {
	if p == nil {
		return false
	}
	h, err := LeafHash(entry)
	if err != nil || h != p.EventHash {
		return false
	}
	return VerifyProof(p)
}

// isDigest reports whether s is a lowercase hex SHA-256 digest.
func isDigest(s string) bool {
	if len(s) != 64 {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if !('0' <= c && c <= '9' || 'a' <= c && c <= 'f') {
			return false
		}
	}
	_, err := hex.DecodeString(s)
	return err == nil
}
