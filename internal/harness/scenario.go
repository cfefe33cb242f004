package harness

import (
	"bytes"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/roach88/protoengine/internal/execution"
	"github.com/roach88/protoengine/internal/ir"
)

// Scenario defines a protocol scenario.
// A scenario drives one engine through a list of steps and asserts on the
// resulting action trace and final run state.
type Scenario struct {
	// Name uniquely identifies this scenario. It also names the golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Config adjusts the engine settings for this run.
	Config ScenarioConfig `yaml:"config,omitempty"`

	// Steps are applied in order. Each step waits for the engine to accept
	// it before the next one is applied.
	Steps []Step `yaml:"steps"`

	// Assertions validate the final trace and state.
	Assertions []Assertion `yaml:"assertions"`

	// Timeout bounds every wait in the scenario. Zero means DefaultTimeout.
	Timeout time.Duration `yaml:"timeout,omitempty"`
}

// ScenarioConfig is the subset of engine settings a scenario may change.
type ScenarioConfig struct {
	BlockOnDoorOpen bool `yaml:"block_on_door_open,omitempty"`
	MaxCommands     int  `yaml:"max_commands,omitempty"`
	NeverRecover    bool `yaml:"never_recover,omitempty"`
}

// DefaultTimeout bounds scenario waits when the scenario sets none.
const DefaultTimeout = 10 * time.Second

// Step is one scenario step. Exactly one field is set.
type Step struct {
	// Enqueue appends a command to its lane.
	Enqueue *ir.CommandRequest `yaml:"enqueue,omitempty"`

	// InsertAt splices a command at a queue index.
	InsertAt *InsertStep `yaml:"insert_at,omitempty"`

	// Control is one of play, pause or stop.
	Control string `yaml:"control,omitempty"`

	// Resume leaves awaiting-recovery.
	Resume *ResumeStep `yaml:"resume,omitempty"`

	// WaitFor blocks until the run reaches the named status.
	WaitFor ir.RunStatus `yaml:"wait_for,omitempty"`

	// FailNext makes the next backend call of a method fail.
	FailNext *FaultStep `yaml:"fail_next,omitempty"`

	// Door sets the simulated door switch (open or closed).
	Door execution.DoorState `yaml:"door,omitempty"`

	// Estop sets the simulated E-stop switch (engaged or disengaged).
	Estop execution.EstopState `yaml:"estop,omitempty"`

	// ExpectError makes the step pass only when the engine rejects it with
	// this runtime error code.
	ExpectError string `yaml:"expect_error,omitempty"`
}

// InsertStep is a command placed at Index in the queue.
type InsertStep struct {
	Index   int               `yaml:"index"`
	Command ir.CommandRequest `yaml:"command"`
}

// ResumeStep selects the recovery options.
type ResumeStep struct {
	RetryFailed bool `yaml:"retry_failed,omitempty"`
}

// FaultStep describes an injected hardware failure.
type FaultStep struct {
	// Method is the backend method: PickUpTip, Aspirate, Dispense, MoveTo,
	// MoveLabware or Home.
	Method string `yaml:"method"`

	// Error is tip_pick_up, communication, timeout or stall.
	Error string `yaml:"error"`
}

// Control step values.
const (
	ControlPlay  = "play"
	ControlPause = "pause"
	ControlStop  = "stop"
)

// Fault kinds accepted by FaultStep.Error.
var faultKinds = map[string]execution.HardwareErrorKind{
	"tip_pick_up":   execution.HardwareTipPickUp,
	"communication": execution.HardwareCommunication,
	"timeout":       execution.HardwareTimeout,
	"stall":         execution.HardwareStall,
}

var faultMethods = map[string]bool{
	"PickUpTip":   true,
	"Aspirate":    true,
	"Dispense":    true,
	"MoveTo":      true,
	"MoveLabware": true,
	"Home":        true,
}

// kind names the step for error messages and logs.
func (s Step) kind() string {
	switch {
	case s.Enqueue != nil:
		return "enqueue"
	case s.InsertAt != nil:
		return "insert_at"
	case s.Control != "":
		return s.Control
	case s.Resume != nil:
		return "resume"
	case s.WaitFor != "":
		return "wait_for"
	case s.FailNext != nil:
		return "fail_next"
	case s.Door != "":
		return "door"
	case s.Estop != "":
		return "estop"
	default:
		return ""
	}
}

func (s Step) fieldCount() int {
	n := 0
	for _, set := range []bool{
		s.Enqueue != nil, s.InsertAt != nil, s.Control != "", s.Resume != nil,
		s.WaitFor != "", s.FailNext != nil, s.Door != "", s.Estop != "",
	} {
		if set {
			n++
		}
	}
	return n
}

// usesSwitches reports whether any step drives the door or E-stop, which
// needs the status poller running.
func (s *Scenario) usesSwitches() bool {
	for _, step := range s.Steps {
		if step.Door != "" || step.Estop != "" {
			return true
		}
	}
	return false
}

func (s *Scenario) timeout() time.Duration {
	if s.Timeout > 0 {
		return s.Timeout
	}
	return DefaultTimeout
}

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

// ParseScenario parses scenario YAML with strict field validation.
func ParseScenario(data []byte) (*Scenario, error) {
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true) // Reject unknown fields
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
		if err := validateStep(i, step); err != nil {
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

func validateStep(index int, s Step) error {
	switch s.fieldCount() {
	case 0:
		return fmt.Errorf("steps[%d]: no action given", index)
	case 1:
	default:
		return fmt.Errorf("steps[%d]: exactly one action per step", index)
	}

	switch {
	case s.Enqueue != nil:
		if s.Enqueue.Kind == "" {
			return fmt.Errorf("steps[%d]: command_type is required", index)
		}
	case s.InsertAt != nil:
		if s.InsertAt.Command.Kind == "" {
			return fmt.Errorf("steps[%d]: insert_at.command.command_type is required", index)
		}
	case s.Control != "":
		switch s.Control {
		case ControlPlay, ControlPause, ControlStop:
		default:
			return fmt.Errorf("steps[%d]: unknown control %q", index, s.Control)
		}
	case s.FailNext != nil:
		if !faultMethods[s.FailNext.Method] {
			return fmt.Errorf("steps[%d]: fail_next method %q is not supported", index, s.FailNext.Method)
		}
		if _, ok := faultKinds[s.FailNext.Error]; !ok {
			return fmt.Errorf("steps[%d]: unknown fail_next error %q", index, s.FailNext.Error)
		}
	case s.Door != "":
		if s.Door != execution.DoorOpen && s.Door != execution.DoorClosed {
			return fmt.Errorf("steps[%d]: door must be open or closed", index)
		}
	case s.Estop != "":
		if s.Estop != execution.EstopEngaged && s.Estop != execution.EstopDisengaged {
			return fmt.Errorf("steps[%d]: estop must be engaged or disengaged", index)
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
	case AssertRunStatus:
		if a.Status == "" {
			return fmt.Errorf("assertions[%d]: status is required for run_status", index)
		}
	case AssertCommandStatus:
		if a.Command == "" || a.Status == "" {
			return fmt.Errorf("assertions[%d]: command and status are required for command_status", index)
		}
	case AssertCommandOrder:
		if len(a.Commands) == 0 {
			return fmt.Errorf("assertions[%d]: commands list is required for command_order", index)
		}
	case AssertCommandCount:
		if a.Status == "" {
			return fmt.Errorf("assertions[%d]: status is required for command_count", index)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative", index)
		}
	case AssertTraceContains:
		if a.Action == "" {
			return fmt.Errorf("assertions[%d]: action is required for trace_contains", index)
		}
	case AssertTipState:
		if a.Pipette == "" || a.Tip == "" {
			return fmt.Errorf("assertions[%d]: pipette and tip are required for tip_state", index)
		}
	case AssertWellVolume:
		if a.Labware == "" || a.Well == "" || a.Volume == nil {
			return fmt.Errorf("assertions[%d]: labware, well and volume are required for well_volume", index)
		}
	case AssertLabwareLocation:
		if a.Labware == "" || (a.Slot == "" && a.Module == "" && !a.OffDeck) {
			return fmt.Errorf("assertions[%d]: labware and one of slot, module or off_deck are required for labware_location", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}
