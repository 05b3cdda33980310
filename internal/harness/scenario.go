package harness

import (
	"bytes"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/roach88/toursync/internal/action"
)

// Scenario defines a replay conformance scenario.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Policy overrides the replay policy.
	Policy *PolicySpec `yaml:"policy,omitempty"`

	// Steps run in order.
	Steps []Step `yaml:"steps"`

	// Assertions validate the applier log and final queue state.
	Assertions []Assertion `yaml:"assertions"`
}

// PolicySpec overrides replay.Policy fields.
type PolicySpec struct {
	MaxAttempts int           `yaml:"max_attempts,omitempty"`
	BackoffCap  time.Duration `yaml:"backoff_cap,omitempty"`
}

// Step is one scenario operation. Exactly one field is set.
type Step struct {
	Enqueue       *EnqueueStep  `yaml:"enqueue,omitempty"`
	Fail          *FailStep     `yaml:"fail,omitempty"`
	Heal          string        `yaml:"heal,omitempty"`
	Replay        *ReplayStep   `yaml:"replay,omitempty"`
	Advance       time.Duration `yaml:"advance,omitempty"`
	Requeue       string        `yaml:"requeue,omitempty"`
	Remove        string        `yaml:"remove,omitempty"`
	Recover       bool          `yaml:"recover,omitempty"`
	MarkProcessed string        `yaml:"mark_processed,omitempty"`
	MarkSyncing   string        `yaml:"mark_syncing,omitempty"`
}

// EnqueueStep adds an action.
type EnqueueStep struct {
	ID     string `yaml:"id"`
	Type   string `yaml:"type"`
	Entity string `yaml:"entity"`

	// At offsets createdAt from the scenario epoch.
	At time.Duration `yaml:"at"`

	Payload map[string]any `yaml:"payload,omitempty"`
}

// FailStep scripts applier failures for one id.
type FailStep struct {
	ID    string `yaml:"id"`
	Error string `yaml:"error"`
	// Times is the number of calls to fail; 0 fails every call.
	Times int `yaml:"times,omitempty"`
}

// ReplayStep runs one pass.
type ReplayStep struct {
	// Without lists action types that have no applier for this pass.
	Without []string `yaml:"without,omitempty"`

	// Expect checks pass counters: synced, failed, terminal, duplicates,
	// skipped_failed, skipped_backoff, skipped (0 or 1).
	Expect map[string]int `yaml:"expect,omitempty"`
}

// Assertion validates the applier log or final state.
type Assertion struct {
	Type string `yaml:"type"`

	// ID is the action id (apply_count, action_state, action_absent).
	ID string `yaml:"id,omitempty"`

	// IDs is the expected apply order (apply_order).
	IDs []string `yaml:"ids,omitempty"`

	// Count is the expected number of applier calls (apply_count).
	Count int `yaml:"count,omitempty"`

	// Expect holds expected field values (action_state, stats).
	Expect map[string]any `yaml:"expect,omitempty"`

	// Advanced is whether the watermark must be set (watermark).
	Advanced *bool `yaml:"advanced,omitempty"`
}

// Assertion type constants.
const (
	AssertApplyOrder   = "apply_order"
	AssertApplyCount   = "apply_count"
	AssertActionState  = "action_state"
	AssertActionAbsent = "action_absent"
	AssertStats        = "stats"
	AssertWatermark    = "watermark"
)

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses scenario YAML.
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

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}
	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}

	for i, step := range s.Steps {
		if err := validateStep(i, &step); err != nil {
			return err
		}
	}
	for i, assertion := range s.Assertions {
		if err := validateAssertion(i, &assertion); err != nil {
			return err
		}
	}
	return nil
}

func validateStep(index int, s *Step) error {
	set := 0
	for _, on := range []bool{
		s.Enqueue != nil, s.Fail != nil, s.Heal != "", s.Replay != nil,
		s.Advance != 0, s.Requeue != "", s.Remove != "", s.Recover,
		s.MarkProcessed != "", s.MarkSyncing != "",
	} {
		if on {
			set++
		}
	}
	if set != 1 {
		return fmt.Errorf("steps[%d]: exactly one operation is required, got %d", index, set)
	}

	if s.Advance < 0 {
		return fmt.Errorf("steps[%d]: advance must be positive", index)
	}
	if e := s.Enqueue; e != nil {
		if e.ID == "" || e.Type == "" || e.Entity == "" {
			return fmt.Errorf("steps[%d].enqueue: id, type and entity are required", index)
		}
	}
	if f := s.Fail; f != nil {
		if f.ID == "" || f.Error == "" {
			return fmt.Errorf("steps[%d].fail: id and error are required", index)
		}
		if f.Times < 0 {
			return fmt.Errorf("steps[%d].fail: times must be non-negative", index)
		}
	}
	if r := s.Replay; r != nil {
		for _, typ := range r.Without {
			if !knownType(typ) {
				return fmt.Errorf("steps[%d].replay: unknown action type %q", index, typ)
			}
		}
		for key := range r.Expect {
			if _, ok := passCounters[key]; !ok {
				return fmt.Errorf("steps[%d].replay: unknown counter %q", index, key)
			}
		}
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}

	switch a.Type {
	case AssertApplyOrder:
		if len(a.IDs) == 0 {
			return fmt.Errorf("assertions[%d]: ids list is required for apply_order", index)
		}
	case AssertApplyCount:
		if a.ID == "" {
			return fmt.Errorf("assertions[%d]: id is required for apply_count", index)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for apply_count", index)
		}
	case AssertActionState:
		if a.ID == "" || len(a.Expect) == 0 {
			return fmt.Errorf("assertions[%d]: id and expect are required for action_state", index)
		}
	case AssertActionAbsent:
		if a.ID == "" {
			return fmt.Errorf("assertions[%d]: id is required for action_absent", index)
		}
	case AssertStats:
		if len(a.Expect) == 0 {
			return fmt.Errorf("assertions[%d]: expect is required for stats", index)
		}
	case AssertWatermark:
		if a.Advanced == nil {
			return fmt.Errorf("assertions[%d]: advanced is required for watermark", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}

func knownType(t string) bool {
	for _, k := range action.KnownTypes() {
		if string(k) == t {
			return true
		}
	}
	return false
}
