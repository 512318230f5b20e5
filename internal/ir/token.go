package ir

import "fmt"

// Hop records one node a token, or one of its ancestors, was created at.
type Hop struct {
	TokenID   string `json:"token_id"`
	NodeID    string `json:"node_id"`
	Timestamp int64  `json:"timestamp"`
}

// Token is an immutable value carrier flowing between nodes.
//
// CorrelationIDs only ever grow: a derived token carries every correlation
// id of the tokens it was made from, followed by its own id.
// SourceTokenIDs is the exact consumed-from edge used for lineage.
type Token struct {
	ID             string   `json:"id"`
	Value          IRValue  `json:"value"`
	CreatedAt      int64    `json:"created_at"`
	OriginNodeID   string   `json:"origin_node_id"`
	CorrelationIDs []string `json:"correlation_ids"`
	SourceTokenIDs []string `json:"source_token_ids,omitempty"`
	History        []Hop    `json:"history"`
}

// TokenSpec describes a token to create.
type TokenSpec struct {
	OriginNodeID string
	EventID      string
	Ordinal      int
	Value        IRValue
	CreatedAt    int64

	// Inputs are the tokens consumed to produce this one, in order.
	Inputs []*Token

	// Seed correlation ids placed ahead of the inputs' ids, typically the
	// correlation ids of the event that caused the creation.
	Seed []string
}

// NewToken builds a token from spec. Slices are freshly allocated, so the
// result shares no mutable state with its inputs.
func NewToken(spec TokenSpec) (*Token, error) {
	if spec.OriginNodeID == "" {
		return nil, fmt.Errorf("token origin node is required")
	}
	id, err := TokenID(spec.OriginNodeID, spec.EventID, spec.Ordinal)
	if err != nil {
		return nil, err
	}

	value := spec.Value
	if value == nil {
		value = IRNull{}
	}

	corr := newIDSet(len(spec.Seed) + len(spec.Inputs) + 1)
	corr.add(spec.Seed...)
	sources := newIDSet(len(spec.Inputs))
	var history []Hop
	seenHop := make(map[string]bool)
	for _, in := range spec.Inputs {
		if in == nil {
			continue
		}
		corr.add(in.CorrelationIDs...)
		sources.add(in.ID)
		for _, h := range in.History {
			if !seenHop[h.TokenID] {
				seenHop[h.TokenID] = true
				history = append(history, h)
			}
		}
	}
	corr.add(id)
	history = append(history, Hop{TokenID: id, NodeID: spec.OriginNodeID, Timestamp: spec.CreatedAt})

	return &Token{
		ID:             id,
		Value:          value,
		CreatedAt:      spec.CreatedAt,
		OriginNodeID:   spec.OriginNodeID,
		CorrelationIDs: corr.ids,
		SourceTokenIDs: sources.ids,
		History:        history,
	}, nil
}

// HasCorrelation reports whether the token carries the given correlation id.
func (t *Token) HasCorrelation(id string) bool {
	for _, c := range t.CorrelationIDs {
		if c == id {
			return true
		}
	}
	return false
}

// Values extracts the values of tokens in order.
func Values(tokens []*Token) []IRValue {
	out := make([]IRValue, len(tokens))
	for i, t := range tokens {
		out[i] = t.Value
	}
	return out
}

// idSet is an insertion-ordered set of ids.
type idSet struct {
	ids  []string
	seen map[string]bool
}

func newIDSet(capacity int) *idSet {
	return &idSet{seen: make(map[string]bool, capacity)}
}

func (s *idSet) add(items ...string) {
	for _, id := range items {
		if id == "" || s.seen[id] {
			continue
		}
		s.seen[id] = true
		s.ids = append(s.ids, id)
	}
}

// DedupIDs returns ids with duplicates and empty strings removed, keeping
// first-appearance order.
func DedupIDs(ids ...[]string) []string {
	s := newIDSet(0)
	for _, group := range ids {
		s.add(group...)
	}
	return s.ids
}
