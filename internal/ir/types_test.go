package ir

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestActivityEntryJSONFieldNaming(t *testing.T) {
	entry := ActivityEntry{
		Seq:            1,
		Step:           1,
		Timestamp:      10,
		NodeID:         "A",
		Action:         ActionEmit,
		Value:          IRInt(3),
		TokenID:        "t1",
		SourceTokenIDs: []string{"t0"},
		CorrelationIDs: []string{"t0", "t1"},
		EventID:        "evt-000001",
	}
	data, err := json.Marshal(entry)
	require.NoError(t, err)

	for _, key := range []string{`"node_id"`, `"token_id"`, `"source_token_ids"`, `"correlation_ids"`, `"event_id"`} {
		assert.Contains(t, string(data), key)
	}
	assert.NotContains(t, string(data), `"nodeId"`)
}

func TestActivityEntryJSONRoundTrip(t *testing.T) {
	entry := ActivityEntry{
		Seq:            7,
		Step:           3,
		Timestamp:      2000,
		NodeID:         "B",
		Action:         ActionEmit,
		Value:          IRFloat(4.5),
		TokenID:        "tok",
		SourceTokenIDs: []string{"a", "b"},
		CorrelationIDs: []string{"a", "b", "tok"},
		EventID:        "evt-000009",
		Detail:         IRObject{"method": IRString("average")},
	}

	data, err := json.Marshal(entry)
	require.NoError(t, err)

	var decoded ActivityEntry
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, entry, decoded)
	assert.Equal(t, MustActivityHash(entry), MustActivityHash(decoded))
}

func TestActivityEntryNilValueDecodesAsNull(t *testing.T) {
	var decoded ActivityEntry
	require.NoError(t, json.Unmarshal([]byte(`{"seq":1,"node_id":"A","action":"log","event_id":"e"}`), &decoded))
	assert.Equal(t, IRNull{}, decoded.Value)
}

func TestNewTokenSeedsCorrelation(t *testing.T) {
	tok, err := NewToken(TokenSpec{
		OriginNodeID: "A",
		EventID:      "evt-000002",
		Value:        IRInt(3),
		CreatedAt:    100,
		Seed:         []string{"ext-1"},
	})
	require.NoError(t, err)

	assert.Equal(t, MustTokenID("A", "evt-000002", 0), tok.ID)
	assert.Equal(t, []string{"ext-1", tok.ID}, tok.CorrelationIDs)
	assert.Nil(t, tok.SourceTokenIDs)
	assert.Equal(t, []Hop{{TokenID: tok.ID, NodeID: "A", Timestamp: 100}}, tok.History)
}

func TestNewTokenInheritsInputsAppendOnly(t *testing.T) {
	a, err := NewToken(TokenSpec{OriginNodeID: "A", EventID: "e1", Value: IRInt(1)})
	require.NoError(t, err)
	b, err := NewToken(TokenSpec{OriginNodeID: "B", EventID: "e2", Value: IRInt(2)})
	require.NoError(t, err)
	shared, err := NewToken(TokenSpec{OriginNodeID: "C", EventID: "e3", Value: IRInt(3), Inputs: []*Token{a, b}})
	require.NoError(t, err)

	out, err := NewToken(TokenSpec{
		OriginNodeID: "P",
		EventID:      "e9",
		Value:        IRInt(6),
		Inputs:       []*Token{shared, a},
	})
	require.NoError(t, err)

	// Every input correlation id survives, duplicates collapse, own id last.
	assert.Equal(t, []string{a.ID, b.ID, shared.ID, out.ID}, out.CorrelationIDs)
	assert.Equal(t, []string{shared.ID, a.ID}, out.SourceTokenIDs)
	assert.Len(t, out.History, 4)
	assert.Equal(t, out.ID, out.History[3].TokenID)

	// Inputs are not mutated.
	assert.Equal(t, []string{a.ID}, a.CorrelationIDs)
}

func TestNewTokenOrdinalDistinguishesIDs(t *testing.T) {
	t1, err := NewToken(TokenSpec{OriginNodeID: "M", EventID: "e", Ordinal: 0})
	require.NoError(t, err)
	t2, err := NewToken(TokenSpec{OriginNodeID: "M", EventID: "e", Ordinal: 1})
	require.NoError(t, err)

	assert.NotEqual(t, t1.ID, t2.ID)
	assert.Equal(t, IRNull{}, t1.Value)
}

func TestNewTokenRequiresOrigin(t *testing.T) {
	_, err := NewToken(TokenSpec{EventID: "e"})
	assert.Error(t, err)
}

func TestDedupIDs(t *testing.T) {
	assert.Equal(t, []string{"a", "b", "c"}, DedupIDs([]string{"a", "", "b"}, []string{"b", "c", "a"}))
	assert.Nil(t, DedupIDs())
}

func TestNodeStateCloneIsDeep(t *testing.T) {
	cfg := &NodeConfig{ID: "F", Type: NodeFSM, FSM: &FSMConfig{InitialState: "idle"}}
	st := NewNodeState(cfg)
	assert.Equal(t, "idle", st.CurrentState)

	tok := &Token{ID: "t1", Value: IRInt(1)}
	st.Enqueue("in", tok)
	st.Incr(CounterReceived)
	st.Consumed = append(st.Consumed, IRInt(1))

	clone := st.Clone()
	clone.Enqueue("in", &Token{ID: "t2"})
	clone.Incr(CounterReceived)
	clone.Consumed[0] = IRInt(99)
	clone.CurrentState = "busy"

	assert.Equal(t, 1, st.Buffered("in"))
	assert.Equal(t, int64(1), st.Counters[CounterReceived])
	assert.Equal(t, IRInt(1), st.Consumed[0])
	assert.Equal(t, "idle", st.CurrentState)
	assert.Equal(t, 2, clone.Buffered("in"))
}

func TestNodeStateTakeAndDrain(t *testing.T) {
	st := NewNodeState(&NodeConfig{ID: "Q", Type: NodeQueue})
	for i, input := range []string{"b", "a", "b", "a"} {
		st.Enqueue(input, &Token{ID: string(rune('0' + i))})
	}

	taken := st.Take("b", 5)
	require.Len(t, taken, 2)
	assert.Equal(t, "0", taken[0].ID)
	assert.Equal(t, "2", taken[1].ID)
	assert.Equal(t, 0, st.Buffered("b"))

	st.Enqueue("b", &Token{ID: "4"})
	drained := st.DrainAll()
	ids := make([]string, len(drained))
	for i, tok := range drained {
		ids[i] = tok.ID
	}
	assert.Equal(t, []string{"1", "3", "4"}, ids)
	assert.Equal(t, 0, st.TotalBuffered())
}

func TestScenarioNodeLookup(t *testing.T) {
	sc := Scenario{Nodes: []NodeConfig{{ID: "A", Type: NodeDataSource}, {ID: "B", Type: NodeSink}}}
	require.NotNil(t, sc.Node("B"))
	assert.Equal(t, NodeSink, sc.Node("B").Type)
	assert.Nil(t, sc.Node("Z"))
}

func TestExternalEventTarget(t *testing.T) {
	assert.Equal(t, "A", ExternalEvent{Source: "A"}.Target())
	assert.Equal(t, "B", ExternalEvent{Source: "A", TargetNodeID: "B"}.Target())
}
