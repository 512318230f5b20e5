package ir

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Domain prefixes for content-addressed identity.
// Version suffix enables future algorithm migration.
const (
	DomainActivity   = "flowledger/activity/v1"
	DomainToken      = "flowledger/token/v1"
	DomainMerkleNode = "flowledger/merkle-node/v1"
	DomainClaim      = "flowledger/claim/v1"
)

// HashWithDomain computes SHA-256 hash with domain separation.
// Format: SHA256(domain + 0x00 + data)
// The null byte (0x00) separator prevents domain/data boundary ambiguity.
func HashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00}) // Null separator - CRITICAL for security
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// TokenID computes the content-addressed id of a token created by originNode
// while processing eventID. ordinal distinguishes several tokens created by
// the same node during one step.
func TokenID(originNode, eventID string, ordinal int) (string, error) {
	obj := IRObject{
		"origin_node_id": IRString(originNode),
		"event_id":       IRString(eventID),
		"ordinal":        IRInt(ordinal),
	}

	canonical, err := MarshalCanonical(obj)
	if err != nil {
		return "", fmt.Errorf("TokenID: failed to marshal: %w", err)
	}

	return HashWithDomain(DomainToken, canonical), nil
}

// ActivityHash computes the leaf hash of a ledger entry.
// Every field of the entry takes part, so mutating any byte of the entry
// changes the hash.
func ActivityHash(entry ActivityEntry) (string, error) {
	canonical, err := MarshalCanonical(entry.CanonicalObject())
	if err != nil {
		return "", fmt.Errorf("ActivityHash: failed to marshal seq %d: %w", entry.Seq, err)
	}

	return HashWithDomain(DomainActivity, canonical), nil
}

// MerkleNodeHash hashes two sibling hashes into their parent.
func MerkleNodeHash(left, right string) string {
	return HashWithDomain(DomainMerkleNode, []byte(left+right))
}

// ClaimID computes the content-addressed id of a claim body.
func ClaimID(body IRObject) (string, error) {
	canonical, err := MarshalCanonical(body)
	if err != nil {
		return "", fmt.Errorf("ClaimID: failed to marshal: %w", err)
	}

	return HashWithDomain(DomainClaim, canonical), nil
}

// MustTokenID is like TokenID but panics on error.
// Use only in tests or when inputs are known to be valid.
func MustTokenID(originNode, eventID string, ordinal int) string {
	id, err := TokenID(originNode, eventID, ordinal)
	if err != nil {
		panic(err)
	}
	return id
}

// MustActivityHash is like ActivityHash but panics on error.
// Use only in tests or when inputs are known to be valid.
func MustActivityHash(entry ActivityEntry) string {
	h, err := ActivityHash(entry)
	if err != nil {
		panic(err)
	}
	return h
}
