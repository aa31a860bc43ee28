package harness

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/roach88/bizcursor/internal/config"
)

// Scenario is a test case loaded from YAML.
type Scenario struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`

	// Setup is run in order on the fresh database before the graph is
	// built. It is not traced.
	Setup []string `yaml:"setup,omitempty"`

	// Objects declares the graph, in the shape of a config file's objects
	// section.
	Objects []config.Object `yaml:"objects"`

	// Root names the object the steps default to. It may be any object in
	// Objects; only it and its descendants are built. Defaults to the first
	// top-level object.
	Root string `yaml:"root,omitempty"`

	Steps      []Step      `yaml:"steps"`
	Assertions []Assertion `yaml:"assertions"`
}

// Step is one operation on an object of the graph.
type Step struct {
	Op string `yaml:"op"`

	// Object is the object to operate on. Defaults to the root.
	Object string `yaml:"object,omitempty"`

	// Field and Value are used by set.
	Field string `yaml:"field,omitempty"`
	Value any    `yaml:"value,omitempty"`

	// Row is used by goto.
	Row int `yaml:"row,omitempty"`

	// Key is used by move_to_pk.
	Key any `yaml:"key,omitempty"`

	// Advance is used by wait, as a duration such as 90s.
	Advance string `yaml:"advance,omitempty"`

	// ExpectError, when set, requires the step to fail with an error whose
	// message contains it.
	ExpectError string `yaml:"expect_error,omitempty"`
}

// Step operations.
const (
	OpRequery           = "requery"
	OpRequeryChildren   = "requery_children"
	OpFirst             = "first"
	OpPrior             = "prior"
	OpNext              = "next"
	OpLast              = "last"
	OpGoto              = "goto"
	OpMoveToPK          = "move_to_pk"
	OpNew               = "new"
	OpSet               = "set"
	OpSave              = "save"
	OpSaveAll           = "save_all"
	OpCancel            = "cancel"
	OpCancelAll         = "cancel_all"
	OpDelete            = "delete"
	OpDeleteAll         = "delete_all"
	OpDeleteAllChildren = "delete_all_children"
	OpWait              = "wait"
)

var validOps = map[string]bool{
	OpRequery: true, OpRequeryChildren: true,
	OpFirst: true, OpPrior: true, OpNext: true, OpLast: true, OpGoto: true, OpMoveToPK: true,
	OpNew: true, OpSet: true,
	OpSave: true, OpSaveAll: true, OpCancel: true, OpCancelAll: true,
	OpDelete: true, OpDeleteAll: true, OpDeleteAllChildren: true,
	OpWait: true,
}

// Assertion validates the trace or the final state.
type Assertion struct {
	// Type specifies the assertion type:
	// - "statement_count": statements starting with Keyword, optionally
	//   only those on Table, occur exactly Count times
	// - "field_value": Field of Object's current row equals Expect
	// - "row_count": Object's current context holds Count rows
	// - "changed": Object has unsaved changes exactly when Expect is true
	// - "final_state": a row of Table matching Where has the fields in Expect
	Type string `yaml:"type"`

	Keyword string `yaml:"keyword,omitempty"`
	Table   string `yaml:"table,omitempty"`
	Count   int    `yaml:"count,omitempty"`

	Object string `yaml:"object,omitempty"`
	Field  string `yaml:"field,omitempty"`

	// Expect is a scalar for field_value, a bool for changed and a map of
	// column values for final_state.
	Expect any `yaml:"expect,omitempty"`

	Where map[string]any `yaml:"where,omitempty"`
}

// Assertion type constants.
const (
	AssertStatementCount = "statement_count"
	AssertFieldValue     = "field_value"
	AssertRowCount       = "row_count"
	AssertChanged        = "changed"
	AssertFinalState     = "final_state"
)

// LoadScenario reads and parses a scenario YAML file. Unknown keys are an
// error.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses and validates a scenario document.
func ParseScenario(data []byte) (*Scenario, error) {
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// rootName returns the object the scenario is built from.
func (s *Scenario) rootName() string {
	if s.Root != "" {
		return s.Root
	}
	return s.Objects[0].DisplayName()
}

func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if len(s.Objects) == 0 {
		return fmt.Errorf("objects list is required and must be non-empty")
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}
	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}

	cfg := config.Config{Objects: s.Objects}
	if _, ok := cfg.Find(s.rootName()); !ok {
		return fmt.Errorf("root: no object named %q", s.rootName())
	}

	for i, step := range s.Steps {
		if !validOps[step.Op] {
			return fmt.Errorf("steps[%d]: unknown op %q", i, step.Op)
		}
		switch step.Op {
		case OpSet:
			if step.Field == "" {
				return fmt.Errorf("steps[%d]: field is required for set", i)
			}
		case OpMoveToPK:
			if step.Key == nil {
				return fmt.Errorf("steps[%d]: key is required for move_to_pk", i)
			}
		case OpWait:
			if step.Advance == "" {
				return fmt.Errorf("steps[%d]: advance is required for wait", i)
			}
		}
	}

	for i := range s.Assertions {
		if err := validateAssertion(i, &s.Assertions[i]); err != nil {
			return err
		}
	}
	return nil
}

func validateAssertion(index int, a *Assertion) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}

	switch a.Type {
	case AssertStatementCount:
		if a.Keyword == "" {
			return fmt.Errorf("assertions[%d]: keyword is required for statement_count", index)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for statement_count", index)
		}
	case AssertFieldValue:
		if a.Field == "" {
			return fmt.Errorf("assertions[%d]: field is required for field_value", index)
		}
	case AssertRowCount:
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for row_count", index)
		}
	case AssertChanged:
		if _, ok := a.Expect.(bool); !ok {
			return fmt.Errorf("assertions[%d]: expect must be true or false for changed", index)
		}
	case AssertFinalState:
		if a.Table == "" {
			return fmt.Errorf("assertions[%d]: table is required for final_state", index)
		}
		if m, ok := a.Expect.(map[string]any); !ok || len(m) == 0 {
			return fmt.Errorf("assertions[%d]: expect is required for final_state", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}
