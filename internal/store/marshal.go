package store

import (
	"encoding/json"
	"fmt"

	"github.com/roach88/flowledger/internal/ir"
)

// marshalValue converts an IRValue to canonical JSON TEXT for storage.
// Uses RFC 8785 canonical JSON for deterministic serialization.
func marshalValue(v ir.IRValue) (string, error) {
	if v == nil {
		v = ir.IRNull{}
	}
	data, err := ir.MarshalCanonical(v)
	if err != nil {
		return "", fmt.Errorf("marshal value: %w", err)
	}
	return string(data), nil
}

// marshalDetail converts an entry's detail object to canonical JSON TEXT.
func marshalDetail(detail ir.IRObject) (string, error) {
	if detail == nil {
		detail = ir.IRObject{}
	}
	data, err := ir.MarshalCanonical(detail)
	if err != nil {
		return "", fmt.Errorf("marshal detail: %w", err)
	}
	return string(data), nil
}

// marshalIDs converts an id list to a JSON array. Nil becomes [] so
// json_each always sees an array.
func marshalIDs(ids []string) (string, error) {
	if ids == nil {
		ids = []string{}
	}
	data, err := json.Marshal(ids)
	if err != nil {
		return "", fmt.Errorf("marshal ids: %w", err)
	}
	return string(data), nil
}

// unmarshalValue parses canonical JSON TEXT to an IRValue.
// Large integers keep their precision.
func unmarshalValue(data string) (ir.IRValue, error) {
	if data == "" {
		return ir.IRNull{}, nil
	}
	v, err := ir.UnmarshalIRValue([]byte(data))
	if err != nil {
		return nil, fmt.Errorf("unmarshal value: %w", err)
	}
	return v, nil
}

// unmarshalDetail parses a stored detail object. Empty objects come back as
// nil to match entries produced by the engine.
func unmarshalDetail(data string) (ir.IRObject, error) {
	if data == "" || data == "{}" {
		return nil, nil
	}
	var obj ir.IRObject
	if err := json.Unmarshal([]byte(data), &obj); err != nil {
		return nil, fmt.Errorf("unmarshal detail: %w", err)
	}
	return obj, nil
}

// unmarshalIDs parses a stored id array. Empty arrays come back as nil.
func unmarshalIDs(data string) ([]string, error) {
	if data == "" || data == "[]" {
		return nil, nil
	}
	var ids []string
	if err := json.Unmarshal([]byte(data), &ids); err != nil {
		return nil, fmt.Errorf("unmarshal ids: %w", err)
	}
	return ids, nil
}
