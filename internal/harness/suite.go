package harness

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/roach88/flowledger/internal/compiler"
	"github.com/roach88/flowledger/internal/engine"
	"github.com/roach88/flowledger/internal/ir"
	"github.com/roach88/flowledger/internal/lineage"
)

// Suite defines a conformance suite: one scenario and the assertions its
// run must satisfy.
type Suite struct {
	// Name uniquely identifies this suite. It also names the golden file.
	Name string `yaml:"name"`

	// Description explains what this suite validates.
	Description string `yaml:"description"`

	// ScenarioFile is a .cue, .yaml, .yml or .json scenario, resolved
	// relative to the suite file. Exclusive with Scenario.
	ScenarioFile string `yaml:"scenario_file,omitempty"`

	// Scenario is an inline scenario. Exclusive with ScenarioFile.
	Scenario *ir.Scenario `yaml:"scenario,omitempty"`

	// Run bounds the run. Zero values mean unbounded.
	Run RunBounds `yaml:"run,omitempty"`

	// Assertions validate the finished run.
	Assertions []Assertion `yaml:"assertions"`
}

// RunBounds mirrors engine.RunOptions.
type RunBounds struct {
	MaxSteps int64 `yaml:"max_steps,omitempty"`
	MaxTicks int64 `yaml:"max_ticks,omitempty"`
}

// RunOptions converts the bounds for the engine.
func (b RunBounds) RunOptions() engine.RunOptions {
	return engine.RunOptions{MaxSteps: b.MaxSteps, MaxTicks: b.MaxTicks}
}

// ActivityRef identifies an activity by node and action.
type ActivityRef struct {
	Node   string    `yaml:"node"`
	Action ir.Action `yaml:"action"`
}

func (a ActivityRef) String() string {
	return a.Node + "." + string(a.Action)
}

// Assertion validates one property of a finished run. Which fields apply
// depends on Type; see the package documentation.
type Assertion struct {
	Type string `yaml:"type"`

	Node          string    `yaml:"node,omitempty"`
	Action        ir.Action `yaml:"action,omitempty"`
	CorrelationID string    `yaml:"correlation_id,omitempty"`
	Count         int       `yaml:"count,omitempty"`

	Activities []ActivityRef `yaml:"activities,omitempty"`

	Sink    string `yaml:"sink,omitempty"`
	Method  string `yaml:"method,omitempty"`
	UptoSeq int64  `yaml:"upto_seq,omitempty"`
	Value   any    `yaml:"value,omitempty"`

	Mode  lineage.Mode `yaml:"mode,omitempty"`
	Nodes []string     `yaml:"nodes,omitempty"`

	Runs   int    `yaml:"runs,omitempty"`
	Reason string `yaml:"reason,omitempty"`
}

// Assertion type constants.
const (
	AssertStopReason    = "stop_reason"
	AssertLedgerSize    = "ledger_size"
	AssertActivityCount = "activity_count"
	AssertActivityOrder = "activity_order"
	AssertSinkAggregate = "sink_aggregate"
	AssertLineage       = "lineage"
	AssertClaimValid    = "claim_valid"
	AssertDeterministic = "deterministic"
	AssertReplayMatches = "replay_matches"
)

// LoadSuite reads and parses a suite YAML file and resolves its scenario.
// Returns an error if the file doesn't exist, is malformed, contains
// unknown fields (typos), or is missing required fields.
func LoadSuite(path string) (*Suite, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read suite file: %w", err)
	}
	return ParseSuite(data, filepath.Dir(path))
}

// ParseSuite parses suite YAML. A scenario_file is resolved against baseDir.
func ParseSuite(data []byte, baseDir string) (*Suite, error) {
	var suite Suite
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&suite); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("failed to parse YAML: empty document")
		}
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	switch {
	case suite.ScenarioFile != "" && suite.Scenario != nil:
		return nil, fmt.Errorf("invalid suite: scenario and scenario_file are exclusive")
	case suite.ScenarioFile != "":
		scenarioPath := suite.ScenarioFile
		if !filepath.IsAbs(scenarioPath) && baseDir != "" {
			scenarioPath = filepath.Join(baseDir, scenarioPath)
		}
		sc, err := compiler.LoadFile(scenarioPath)
		if err != nil {
			return nil, fmt.Errorf("invalid suite: %w", err)
		}
		suite.Scenario = sc
	case suite.Scenario != nil && suite.Scenario.Name == "":
		suite.Scenario.Name = suite.Name
	}

	if err := validateSuite(&suite); err != nil {
		return nil, fmt.Errorf("invalid suite: %w", err)
	}
	return &suite, nil
}

// validateSuite checks that required fields are present and valid.
func validateSuite(s *Suite) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if s.Scenario == nil {
		return fmt.Errorf("scenario or scenario_file is required")
	}
	if s.Run.MaxSteps < 0 || s.Run.MaxTicks < 0 {
		return fmt.Errorf("run bounds must be non-negative")
	}
	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}

	if errs := compiler.Errors(compiler.Validate(s.Scenario)); len(errs) > 0 {
		return fmt.Errorf("scenario %s: %w", s.Scenario.Name, errs[0])
	}

	for i := range s.Assertions {
		if err := validateAssertion(i, &s.Assertions[i]); err != nil {
			return err
		}
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}
	if a.Count < 0 {
		return fmt.Errorf("assertions[%d]: count must be non-negative", index)
	}

	switch a.Type {
	case AssertStopReason:
		if a.Reason == "" {
			return fmt.Errorf("assertions[%d]: reason is required for stop_reason", index)
		}
	case AssertLedgerSize, AssertReplayMatches:
	case AssertActivityCount:
		if a.Node == "" && a.Action == "" && a.CorrelationID == "" {
			return fmt.Errorf("assertions[%d]: node, action or correlation_id is required for activity_count", index)
		}
	case AssertActivityOrder:
		if len(a.Activities) < 2 {
			return fmt.Errorf("assertions[%d]: at least two activities are required for activity_order", index)
		}
	case AssertSinkAggregate:
		if a.Sink == "" {
			return fmt.Errorf("assertions[%d]: sink is required for sink_aggregate", index)
		}
		if a.Value == nil {
			return fmt.Errorf("assertions[%d]: value is required for sink_aggregate", index)
		}
		if a.UptoSeq < 0 {
			return fmt.Errorf("assertions[%d]: upto_seq must be non-negative", index)
		}
	case AssertLineage:
		if a.CorrelationID == "" {
			return fmt.Errorf("assertions[%d]: correlation_id is required for lineage", index)
		}
		if len(a.Nodes) == 0 {
			return fmt.Errorf("assertions[%d]: nodes list is required for lineage", index)
		}
		if a.Mode != "" && a.Mode != lineage.ModeExact && a.Mode != lineage.ModeHeuristic {
			return fmt.Errorf("assertions[%d]: unknown lineage mode %q", index, a.Mode)
		}
	case AssertClaimValid:
		if a.Sink == "" {
			return fmt.Errorf("assertions[%d]: sink is required for claim_valid", index)
		}
	case AssertDeterministic:
		if a.Runs < 0 {
			return fmt.Errorf("assertions[%d]: runs must be non-negative", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}
