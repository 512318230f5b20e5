package compiler

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"
	"gopkg.in/yaml.v3"

	"github.com/roach88/flowledger/internal/ir"
)

// ScenarioField is the top-level CUE field holding a scenario. A file without
// it is decoded from its root.
const ScenarioField = "scenario"

// CompileScenario decodes a CUE value into a Scenario.
// Uses the CUE SDK's Go API directly (not CLI subprocess).
//
// The value must be concrete. Numbers keep their exact text, so integers stay
// integers in event payloads.
//
//	ctx := cuecontext.New()
//	v := ctx.CompileString(`scenario: { name: "demo", nodes: [...] }`)
//	s, err := CompileScenario(v.LookupPath(cue.ParsePath("scenario")))
func CompileScenario(v cue.Value) (*ir.Scenario, error) {
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}
	if !v.Exists() {
		return nil, &CompileError{Field: ScenarioField, Message: "scenario not found"}
	}
	if err := v.Validate(cue.Concrete(true)); err != nil {
		return nil, formatCUEError(err)
	}

	data, err := v.MarshalJSON()
	if err != nil {
		return nil, formatCUEError(err)
	}

	s, err := ParseJSON(data)
	if err != nil {
		return nil, &CompileError{Field: ScenarioField, Message: err.Error(), Pos: v.Pos()}
	}

	// Default the name from the struct label (the path selector).
	if s.Name == "" {
		if labels := v.Path().Selectors(); len(labels) > 0 {
			if label := labels[len(labels)-1].String(); label != ScenarioField {
				s.Name = label
			}
		}
	}
	return s, nil
}

// ParseJSON decodes a JSON scenario. Unknown fields are rejected.
func ParseJSON(data []byte) (*ir.Scenario, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	dec.DisallowUnknownFields()

	var s ir.Scenario
	if err := dec.Decode(&s); err != nil {
		return nil, fmt.Errorf("decode scenario: %w", err)
	}
	return &s, nil
}

// ParseYAML decodes a YAML scenario. Unknown fields are rejected.
func ParseYAML(data []byte) (*ir.Scenario, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var s ir.Scenario
	if err := dec.Decode(&s); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("decode scenario: empty document")
		}
		return nil, fmt.Errorf("decode scenario: %w", err)
	}
	return &s, nil
}

// ParseCUE compiles CUE source and decodes the scenario it defines.
func ParseCUE(filename string, data []byte) (*ir.Scenario, error) {
	ctx := cuecontext.New()
	v := ctx.CompileBytes(data, cue.Filename(filename))
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}
	if sv := v.LookupPath(cue.ParsePath(ScenarioField)); sv.Exists() {
		v = sv
	}
	return CompileScenario(v)
}

// LoadFile reads a scenario from a .cue, .yaml, .yml or .json file. A
// scenario without a name is named after the file.
func LoadFile(path string) (*ir.Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read scenario: %w", err)
	}

	var s *ir.Scenario
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".cue":
		s, err = ParseCUE(path, data)
	case ".yaml", ".yml":
		s, err = ParseYAML(data)
	case ".json":
		s, err = ParseJSON(data)
	default:
		return nil, fmt.Errorf("unsupported scenario format %q (want .cue, .yaml, .yml or .json)", ext)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	if s.Name == "" {
		s.Name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	return s, nil
}

// CompileError represents a compilation error with source position.
type CompileError struct {
	Field   string
	Message string
	Pos     token.Pos
}

func (e *CompileError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s",
			e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(),
			e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// formatCUEError extracts position info from CUE errors.
func formatCUEError(err error) error {
	if err == nil {
		return nil
	}

	// CUE errors may contain multiple errors
	errs := cueerrors.Errors(err)
	if len(errs) == 0 {
		return err
	}

	// Return first error with position info
	firstErr := errs[0]
	positions := cueerrors.Positions(firstErr)
	if len(positions) > 0 {
		return &CompileError{
			Field:   "cue",
			Message: firstErr.Error(),
			Pos:     positions[0],
		}
	}

	return err
}
