package ir

import (
	"encoding/json"
	"fmt"
)

// EventType names the kinds of events the engine schedules.
type EventType string

const (
	EventSimulationStart    EventType = "SimulationStart"
	EventDataEmit           EventType = "DataEmit"
	EventTokenArrival       EventType = "TokenArrival"
	EventProcessComplete    EventType = "ProcessComplete"
	EventAggregationTrigger EventType = "AggregationTrigger"
)

// ValidEventTypes defines the closed set of event types.
var ValidEventTypes = map[EventType]bool{
	EventSimulationStart:    true,
	EventDataEmit:           true,
	EventTokenArrival:       true,
	EventProcessComplete:    true,
	EventAggregationTrigger: true,
}

// Event is a unit of scheduled work on the engine's queue.
// ID is assigned by the engine when the event is enqueued.
type Event struct {
	ID             string    `json:"id"`
	Type           EventType `json:"type"`
	SourceNodeID   string    `json:"source_node_id,omitempty"`
	TargetNodeID   string    `json:"target_node_id,omitempty"`
	InputName      string    `json:"input_name,omitempty"`
	Timestamp      int64     `json:"timestamp"`
	Data           IRValue   `json:"data,omitempty"`
	Token          *Token    `json:"token,omitempty"`
	ParentEventID  string    `json:"parent_event_id,omitempty"`
	CorrelationIDs []string  `json:"correlation_ids,omitempty"`
}

// Action names a ledger activity.
type Action string

const (
	ActionStart          Action = "start"
	ActionEmit           Action = "emit"
	ActionReceive        Action = "receive"
	ActionAggregateEmpty Action = "aggregate_empty"
	ActionProcessStart   Action = "process_start"
	ActionTransition     Action = "transition"
	ActionLog            Action = "log"
	ActionConsume        Action = "consume"
	ActionRoute          Action = "route"
	ActionDrop           Action = "drop"
)

// ActivityEntry is one record in the append-only activity ledger.
//
// Seq defines the ledger's total order and is assigned by the engine.
// Step is the number of the engine step that produced the entry; one step
// can produce several entries.
type ActivityEntry struct {
	Seq            int64    `json:"seq"`
	Step           int64    `json:"step"`
	Timestamp      int64    `json:"timestamp"`
	NodeID         string   `json:"node_id"`
	Action         Action   `json:"action"`
	Value          IRValue  `json:"value"`
	TokenID        string   `json:"token_id,omitempty"`
	SourceTokenIDs []string `json:"source_token_ids,omitempty"`
	CorrelationIDs []string `json:"correlation_ids,omitempty"`
	EventID        string   `json:"event_id"`
	Detail         IRObject `json:"detail,omitempty"`
}

// CanonicalObject returns the entry as an IRObject with every field present.
// This is the form hashed into Merkle leaves.
func (e ActivityEntry) CanonicalObject() IRObject {
	value := e.Value
	if value == nil {
		value = IRNull{}
	}
	detail := e.Detail
	if detail == nil {
		detail = IRObject{}
	}
	return IRObject{
		"seq":              IRInt(e.Seq),
		"step":             IRInt(e.Step),
		"timestamp":        IRInt(e.Timestamp),
		"node_id":          IRString(e.NodeID),
		"action":           IRString(e.Action),
		"value":            value,
		"token_id":         IRString(e.TokenID),
		"source_token_ids": stringsToIR(e.SourceTokenIDs),
		"correlation_ids":  stringsToIR(e.CorrelationIDs),
		"event_id":         IRString(e.EventID),
		"detail":           detail,
	}
}

// HasCorrelation reports whether the entry carries the given correlation id.
func (e ActivityEntry) HasCorrelation(id string) bool {
	for _, c := range e.CorrelationIDs {
		if c == id {
			return true
		}
	}
	return false
}

// MarshalJSON writes Value through MarshalIRValue so floats keep their
// canonical rendering.
func (e ActivityEntry) MarshalJSON() ([]byte, error) {
	type alias ActivityEntry
	value, err := MarshalIRValue(e.Value)
	if err != nil {
		return nil, fmt.Errorf("activity %d value: %w", e.Seq, err)
	}
	return json.Marshal(struct {
		alias
		Value json.RawMessage `json:"value"`
	}{alias: alias(e), Value: value})
}

// UnmarshalJSON implements json.Unmarshaler for ActivityEntry.
func (e *ActivityEntry) UnmarshalJSON(data []byte) error {
	type alias ActivityEntry
	aux := struct {
		*alias
		Value json.RawMessage `json:"value"`
	}{alias: (*alias)(e)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	if len(aux.Value) == 0 {
		e.Value = IRNull{}
		return nil
	}
	v, err := UnmarshalIRValue(aux.Value)
	if err != nil {
		return fmt.Errorf("activity %d value: %w", e.Seq, err)
	}
	e.Value = v
	return nil
}

func stringsToIR(ss []string) IRArray {
	arr := make(IRArray, len(ss))
	for i, s := range ss {
		arr[i] = IRString(s)
	}
	return arr
}

// CloneActivities returns a copy of the slice. Entries are values and share
// only immutable data.
func CloneActivities(entries []ActivityEntry) []ActivityEntry {
	if entries == nil {
		return nil
	}
	out := make([]ActivityEntry, len(entries))
	copy(out, entries)
	return out
}
