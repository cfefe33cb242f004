package harness

import (
	"fmt"
	"math"
	"strings"

	"github.com/roach88/protoengine/internal/action"
	"github.com/roach88/protoengine/internal/ir"
	"github.com/roach88/protoengine/internal/state"
)

// Assertion validates the trace or the final state.
type Assertion struct {
	// Type specifies the assertion type:
	// - "run_status": the final run status equals Status
	// - "command_status": command Command ended in Status (and ErrorCode)
	// - "command_order": commands started in the listed order
	// - "command_count": exactly Count commands ended in Status
	// - "trace_contains": an action of type Action was dispatched
	// - "tip_state": pipette Pipette has tip status Tip
	// - "well_volume": well Well of labware Labware holds Volume
	// - "labware_location": labware Labware ended at Slot, Module or off-deck
	Type string `yaml:"type"`

	Status    string   `yaml:"status,omitempty"`
	Command   string   `yaml:"command,omitempty"`
	ErrorCode string   `yaml:"error_code,omitempty"`
	Commands  []string `yaml:"commands,omitempty"`
	Count     int      `yaml:"count,omitempty"`
	Action    string   `yaml:"action,omitempty"`
	Pipette   string   `yaml:"pipette,omitempty"`
	Tip       string   `yaml:"tip,omitempty"`
	Labware   string   `yaml:"labware,omitempty"`
	Well      string   `yaml:"well,omitempty"`
	Volume    *float64 `yaml:"volume,omitempty"`
	Slot      string   `yaml:"slot,omitempty"`
	Module    string   `yaml:"module,omitempty"`
	OffDeck   bool     `yaml:"off_deck,omitempty"`
}

// Assertion type constants.
const (
	AssertRunStatus       = "run_status"
	AssertCommandStatus   = "command_status"
	AssertCommandOrder    = "command_order"
	AssertCommandCount    = "command_count"
	AssertTraceContains   = "trace_contains"
	AssertTipState        = "tip_state"
	AssertWellVolume      = "well_volume"
	AssertLabwareLocation = "labware_location"
)

// volumeTolerance absorbs float noise in tracked volumes.
const volumeTolerance = 1e-6

// AssertionError is returned when an assertion fails.
// It includes detailed context to help debug the failure.
type AssertionError struct {
	Type     string       // Assertion type for categorization
	Expected string       // Human-readable expected outcome
	Actual   string       // Human-readable actual outcome
	Trace    []TraceEvent // Full trace for debugging context
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	if len(e.Trace) > 0 {
		fmt.Fprintf(&buf, "\nFull trace:\n")
		for _, event := range e.Trace {
			fmt.Fprintf(&buf, "  %s\n", event)
		}
	}

	return buf.String()
}

// EvaluateAssertions checks every assertion against the result and returns
// one message per failure.
func EvaluateAssertions(result *Result, assertions []Assertion) []string {
	var errs []string
	for i, a := range assertions {
		if err := evaluate(result, a); err != nil {
			errs = append(errs, fmt.Sprintf("assertion %d: %v", i, err))
		}
	}
	return errs
}

func evaluate(result *Result, a Assertion) error {
	switch a.Type {
	case AssertRunStatus:
		return assertRunStatus(result, a)
	case AssertCommandStatus:
		return assertCommandStatus(result, a)
	case AssertCommandOrder:
		return assertCommandOrder(result.Trace, a)
	case AssertCommandCount:
		return assertCommandCount(result.Snapshot, a)
	case AssertTraceContains:
		return assertTraceContains(result.Trace, a)
	case AssertTipState:
		return assertTipState(result.Snapshot, a)
	case AssertWellVolume:
		return assertWellVolume(result.Snapshot, a)
	case AssertLabwareLocation:
		return assertLabwareLocation(result.Snapshot, a)
	default:
		return fmt.Errorf("unknown assertion type: %s", a.Type)
	}
}

func assertRunStatus(result *Result, a Assertion) error {
	if got := result.Status(); string(got) != a.Status {
		return &AssertionError{
			Type:     AssertRunStatus,
			Expected: a.Status,
			Actual:   string(got),
			Trace:    result.Trace,
		}
	}
	return nil
}

func assertCommandStatus(result *Result, a Assertion) error {
	cmd, ok := commandStatus(result.Snapshot, a.Command)
	if !ok {
		return &AssertionError{
			Type:     AssertCommandStatus,
			Expected: fmt.Sprintf("command %s", a.Command),
			Actual:   "no such command",
		}
	}
	if string(cmd.Status) != a.Status {
		return &AssertionError{
			Type:     AssertCommandStatus,
			Expected: fmt.Sprintf("command %s %s", a.Command, a.Status),
			Actual:   string(cmd.Status),
			Trace:    result.Trace,
		}
	}
	if a.ErrorCode != "" {
		var got ir.ErrorCode
		if cmd.Error != nil {
			got = cmd.Error.Code
		}
		if string(got) != a.ErrorCode {
			return &AssertionError{
				Type:     AssertCommandStatus,
				Expected: fmt.Sprintf("command %s error %s", a.Command, a.ErrorCode),
				Actual:   fmt.Sprintf("error %q", got),
			}
		}
	}
	return nil
}

// assertCommandOrder checks commands started in the listed order.
// Commands don't need to be consecutive (intervening commands are allowed).
func assertCommandOrder(trace []TraceEvent, a Assertion) error {
	var started []string
	for _, event := range trace {
		if event.Type == action.TypeCommandStarted {
			started = append(started, event.CommandID)
		}
	}

	next := 0
	for _, id := range started {
		if next < len(a.Commands) && id == a.Commands[next] {
			next++
		}
	}
	if next == len(a.Commands) {
		return nil
	}
	return &AssertionError{
		Type:     AssertCommandOrder,
		Expected: strings.Join(a.Commands, " -> "),
		Actual:   strings.Join(started, " -> "),
		Trace:    trace,
	}
}

func assertCommandCount(s state.Snapshot, a Assertion) error {
	count := 0
	for _, cmd := range s.Commands {
		if string(cmd.Status) == a.Status {
			count++
		}
	}
	if count != a.Count {
		return &AssertionError{
			Type:     AssertCommandCount,
			Expected: fmt.Sprintf("%d commands %s", a.Count, a.Status),
			Actual:   fmt.Sprintf("%d commands %s", count, a.Status),
		}
	}
	return nil
}

// assertTraceContains checks the trace holds an action of the given type,
// optionally for one command or with one error code.
func assertTraceContains(trace []TraceEvent, a Assertion) error {
	for _, event := range trace {
		if string(event.Type) != a.Action {
			continue
		}
		if a.Command != "" && event.CommandID != a.Command {
			continue
		}
		if a.ErrorCode != "" && string(event.ErrorCode) != a.ErrorCode {
			continue
		}
		return nil
	}

	expected := a.Action
	if a.Command != "" {
		expected += " for " + a.Command
	}
	if a.ErrorCode != "" {
		expected += " with " + a.ErrorCode
	}
	return &AssertionError{
		Type:     AssertTraceContains,
		Expected: expected,
		Actual:   "not found in trace",
		Trace:    trace,
	}
}

func assertTipState(s state.Snapshot, a Assertion) error {
	for _, pip := range s.Pipettes {
		if pip.ID != a.Pipette {
			continue
		}
		if string(pip.Tip.Status) != a.Tip {
			return &AssertionError{
				Type:     AssertTipState,
				Expected: fmt.Sprintf("pipette %s tip %s", a.Pipette, a.Tip),
				Actual:   string(pip.Tip.Status),
			}
		}
		return nil
	}
	return &AssertionError{
		Type:     AssertTipState,
		Expected: fmt.Sprintf("pipette %s", a.Pipette),
		Actual:   "not loaded",
	}
}

func assertWellVolume(s state.Snapshot, a Assertion) error {
	for _, w := range s.Liquids {
		if w.LabwareID != a.Labware || w.WellName != a.Well {
			continue
		}
		if math.Abs(w.Volume-*a.Volume) > volumeTolerance {
			return &AssertionError{
				Type:     AssertWellVolume,
				Expected: fmt.Sprintf("%s/%s holds %g uL", a.Labware, a.Well, *a.Volume),
				Actual:   fmt.Sprintf("%g uL", w.Volume),
			}
		}
		return nil
	}
	return &AssertionError{
		Type:     AssertWellVolume,
		Expected: fmt.Sprintf("%s/%s holds %g uL", a.Labware, a.Well, *a.Volume),
		Actual:   "well is not tracked",
	}
}

func assertLabwareLocation(s state.Snapshot, a Assertion) error {
	want := ir.LabwareLocation{SlotName: a.Slot, ModuleID: a.Module, OffDeck: a.OffDeck}
	for _, lw := range s.Labware {
		if lw.ID != a.Labware {
			continue
		}
		if lw.Location != want {
			return &AssertionError{
				Type:     AssertLabwareLocation,
				Expected: fmt.Sprintf("labware %s at %s", a.Labware, want),
				Actual:   lw.Location.String(),
			}
		}
		return nil
	}
	return &AssertionError{
		Type:     AssertLabwareLocation,
		Expected: fmt.Sprintf("labware %s", a.Labware),
		Actual:   "not loaded",
	}
}
