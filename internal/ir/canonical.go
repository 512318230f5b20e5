package ir

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// MarshalCanonical produces RFC 8785 canonical JSON. Ledger leaf hashes,
// token ids and claim ids are computed over this encoding and nothing else.
//
// Compared to json.Marshal:
//  1. Object keys are sorted by UTF-16 code units, not UTF-8 bytes
//  2. <, >, & and U+2028/U+2029 are written literally
//  3. Strings and keys are NFC normalized
//  4. Numbers use ECMAScript shortest round-trip formatting
//  5. NaN and ±Inf are rejected
func MarshalCanonical(v any) ([]byte, error) {
	irVal, ok := v.(IRValue)
	if !ok {
		var err error
		if irVal, err = FromGo(v); err != nil {
			return nil, fmt.Errorf("canonical JSON: %w", err)
		}
	}

	var buf bytes.Buffer
	if err := writeValue(&buf, irVal, true); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// writeValue appends v to buf. Canonical output differs from plain output
// only in how strings are encoded.
func writeValue(buf *bytes.Buffer, v IRValue, canonical bool) error {
	switch val := v.(type) {
	case nil, IRNull:
		buf.WriteString("null")
	case IRString:
		return writeString(buf, string(val), canonical)
	case IRInt:
		buf.WriteString(strconv.FormatInt(int64(val), 10))
	case IRFloat:
		f, err := formatFloat(float64(val))
		if err != nil {
			return err
		}
		buf.Write(f)
	case IRBool:
		buf.WriteString(strconv.FormatBool(bool(val)))
	case IRArray:
		buf.WriteByte('[')
		for i, elem := range val {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := writeValue(buf, elem, canonical); err != nil {
				return fmt.Errorf("array[%d]: %w", i, err)
			}
		}
		buf.WriteByte(']')
	case IRObject:
		buf.WriteByte('{')
		for i, k := range val.SortedKeys() {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := writeString(buf, k, canonical); err != nil {
				return fmt.Errorf("key %q: %w", k, err)
			}
			buf.WriteByte(':')
			if err := writeValue(buf, val[k], canonical); err != nil {
				return fmt.Errorf("value for key %q: %w", k, err)
			}
		}
		buf.WriteByte('}')
	default:
		return fmt.Errorf("unsupported IRValue type: %T", v)
	}
	return nil
}

// formatFloat renders f the way ECMAScript Number.prototype.toString does,
// which is what RFC 8785 mandates for numbers.
func formatFloat(f float64) ([]byte, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nil, fmt.Errorf("non-finite float is forbidden in canonical JSON: %v", f)
	}
	if f == 0 {
		return []byte("0"), nil
	}

	abs := math.Abs(f)
	if abs >= 1e-6 && abs < 1e21 {
		return []byte(strconv.FormatFloat(f, 'f', -1, 64)), nil
	}

	// Exponent form: Go writes "1.5e-07", ECMAScript writes "1.5e-7".
	s := strconv.FormatFloat(f, 'e', -1, 64)
	mantissa, exp, _ := strings.Cut(s, "e")
	sign := exp[0]
	digits := strings.TrimLeft(exp[1:], "0")
	if digits == "" {
		digits = "0"
	}
	return []byte(mantissa + "e" + string(sign) + digits), nil
}

// writeString appends s as a JSON string. Canonical strings are NFC
// normalized and escape only quote, backslash and control characters.
func writeString(buf *bytes.Buffer, s string, canonical bool) error {
	if !canonical {
		b, err := json.Marshal(s)
		if err != nil {
			return err
		}
		buf.Write(b)
		return nil
	}

	var tmp bytes.Buffer
	enc := json.NewEncoder(&tmp)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(norm.NFC.String(s)); err != nil {
		return err
	}
	buf.Write(unescapeLineSeparators(bytes.TrimSuffix(tmp.Bytes(), []byte{'\n'})))
	return nil
}

// unescapeLineSeparators turns the \u2028 and \u2029 escapes that encoding/json
// emits back into literal characters. An escape preceded by an odd number of
// backslashes is literal text ("\\u2028") and stays untouched.
func unescapeLineSeparators(data []byte) []byte {
	if !bytes.Contains(data, []byte(`\u202`)) {
		return data
	}

	out := make([]byte, 0, len(data))
	for i := 0; i < len(data); i++ {
		if data[i] == '\\' && i+5 < len(data) && string(data[i+1:i+5]) == "u202" &&
			(data[i+5] == '8' || data[i+5] == '9') && trailingBackslashes(out)%2 == 0 {
			if data[i+5] == '8' {
				out = append(out, "\u2028"...)
			} else {
				out = append(out, "\u2029"...)
			}
			i += 5
			continue
		}
		out = append(out, data[i])
	}
	return out
}

func trailingBackslashes(b []byte) int {
	n := 0
	for j := len(b) - 1; j >= 0 && b[j] == '\\'; j-- {
		n++
	}
	return n
}
