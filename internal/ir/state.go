package ir

import (
	"maps"
	"slices"
)

// BufferedToken is a token waiting in an input buffer.
// Arrival orders tokens across the inputs of one node.
type BufferedToken struct {
	Token   *Token `json:"token"`
	Arrival int64  `json:"arrival"`
}

// StagedToken is a token waiting in a node's output buffer. An empty Output
// sends the token along every declared output.
type StagedToken struct {
	Output string `json:"output,omitempty"`
	Token  *Token `json:"token"`
}

// NodeState is the per-node mutable runtime state.
// The engine owns every NodeState; processors only ever see clones.
type NodeState struct {
	NodeID       string                     `json:"node_id"`
	Inputs       map[string][]BufferedToken `json:"inputs"`
	OutputBuffer []StagedToken              `json:"output_buffer,omitempty"`
	Arrivals     int64                      `json:"arrivals"`

	// FSM
	CurrentState string `json:"current_state,omitempty"`

	// ProcessNode
	Busy        bool              `json:"busy,omitempty"`
	CurrentUnit map[string]*Token `json:"current_unit,omitempty"`

	// Queue (time window)
	TriggerPending bool  `json:"trigger_pending,omitempty"`
	TriggerAt      int64 `json:"trigger_at,omitempty"`

	// Sink
	Aggregate IRValue   `json:"aggregate,omitempty"`
	Consumed  []IRValue `json:"consumed,omitempty"`

	Counters map[string]int64 `json:"counters"`
}

// NewNodeState returns the initial state for a node.
func NewNodeState(cfg *NodeConfig) *NodeState {
	st := &NodeState{
		NodeID:   cfg.ID,
		Inputs:   make(map[string][]BufferedToken),
		Counters: make(map[string]int64),
	}
	if cfg.Type == NodeFSM && cfg.FSM != nil {
		st.CurrentState = cfg.FSM.InitialState
	}
	return st
}

// Clone returns a deep copy. Tokens and IR values are immutable and shared.
func (s *NodeState) Clone() *NodeState {
	if s == nil {
		return nil
	}
	c := *s
	c.Inputs = make(map[string][]BufferedToken, len(s.Inputs))
	for name, buf := range s.Inputs {
		c.Inputs[name] = slices.Clone(buf)
	}
	c.OutputBuffer = slices.Clone(s.OutputBuffer)
	c.CurrentUnit = maps.Clone(s.CurrentUnit)
	c.Consumed = slices.Clone(s.Consumed)
	c.Counters = maps.Clone(s.Counters)
	if c.Counters == nil {
		c.Counters = make(map[string]int64)
	}
	return &c
}

// Enqueue appends a token to the named input buffer.
func (s *NodeState) Enqueue(input string, tok *Token) {
	s.Arrivals++
	s.Inputs[input] = append(s.Inputs[input], BufferedToken{Token: tok, Arrival: s.Arrivals})
}

// Take removes up to n tokens from the front of the named input buffer.
func (s *NodeState) Take(input string, n int) []*Token {
	buf := s.Inputs[input]
	n = min(n, len(buf))
	out := make([]*Token, n)
	for i := 0; i < n; i++ {
		out[i] = buf[i].Token
	}
	rest := buf[n:]
	if len(rest) == 0 {
		delete(s.Inputs, input)
	} else {
		s.Inputs[input] = slices.Clone(rest)
	}
	return out
}

// DrainAll removes every buffered token, ordered by arrival across inputs.
func (s *NodeState) DrainAll() []*Token {
	var all []BufferedToken
	for _, buf := range s.Inputs {
		all = append(all, buf...)
	}
	slices.SortFunc(all, func(a, b BufferedToken) int {
		switch {
		case a.Arrival < b.Arrival:
			return -1
		case a.Arrival > b.Arrival:
			return 1
		}
		return 0
	})
	clear(s.Inputs)
	out := make([]*Token, len(all))
	for i, b := range all {
		out[i] = b.Token
	}
	return out
}

// Buffered returns the number of tokens waiting on the named input.
func (s *NodeState) Buffered(input string) int {
	return len(s.Inputs[input])
}

// TotalBuffered returns the number of tokens waiting across all inputs.
func (s *NodeState) TotalBuffered() int {
	n := 0
	for _, buf := range s.Inputs {
		n += len(buf)
	}
	return n
}

// Stage places a token in the output buffer.
func (s *NodeState) Stage(output string, tok *Token) {
	s.OutputBuffer = append(s.OutputBuffer, StagedToken{Output: output, Token: tok})
}

// Incr bumps a named counter.
func (s *NodeState) Incr(name string) {
	s.Counters[name]++
}

// Counter names shared by processors.
const (
	CounterReceived = "received"
	CounterEmitted  = "emitted"
	CounterConsumed = "consumed"
	CounterDropped  = "dropped"
	CounterRouted   = "routed"
)
