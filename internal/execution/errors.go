package execution

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"time"

	"github.com/roach88/protoengine/internal/ir"
)

// HardwareErrorKind classifies errors raised by a Backend.
type HardwareErrorKind string

const (
	HardwareCommunication HardwareErrorKind = "communication"
	HardwareTimeout       HardwareErrorKind = "timeout"
	HardwareTipPickUp     HardwareErrorKind = "tip_pick_up"
	HardwareStall         HardwareErrorKind = "stall"
	HardwareEstop         HardwareErrorKind = "estop"
)

// HardwareError is returned by backends for hardware-side failures.
type HardwareError struct {
	Kind    HardwareErrorKind
	Message string
	Err     error
}

func (e *HardwareError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("hardware %s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("hardware %s: %s", e.Kind, e.Message)
}

func (e *HardwareError) Unwrap() error { return e.Err }

// CommandError is the typed failure of one command execution. It always
// names the command and the operation that failed.
type CommandError struct {
	Code        ir.ErrorCode
	Message     string
	CommandID   string
	Operation   string
	Recoverable bool
	Wrapped     error
	Info        map[string]string
}

func (e *CommandError) Error() string {
	msg := fmt.Sprintf("%s: %s (command=%s, operation=%s)", e.Code, e.Message, e.CommandID, e.Operation)
	if e.Wrapped != nil {
		msg += ": " + e.Wrapped.Error()
	}
	return msg
}

func (e *CommandError) Unwrap() error { return e.Wrapped }

// Cancelled reports whether the command was cancelled by a stop request.
func (e *CommandError) Cancelled() bool { return e.Code == ir.ErrCodeCommandCancelled }

// Occurrence converts the error into its recorded form.
func (e *CommandError) Occurrence(id string, at time.Time) ir.ErrorOccurrence {
	detail := e.Message
	if e.Wrapped != nil {
		detail += ": " + e.Wrapped.Error()
	}
	return ir.ErrorOccurrence{
		ID:          id,
		Code:        e.Code,
		Detail:      detail,
		CommandID:   e.CommandID,
		Operation:   e.Operation,
		Recoverable: e.Recoverable,
		CreatedAt:   at,
		Info:        maps.Clone(e.Info),
	}
}

// AsCancelled reports e as a cancellation. Backends that abort with an error
// of their own after a stop still leave the command cancelled; their error
// stays reachable through Unwrap.
func (e *CommandError) AsCancelled() *CommandError {
	if e.Cancelled() {
		return e
	}
	return &CommandError{
		Code:      ir.ErrCodeCommandCancelled,
		Message:   "command was cancelled",
		CommandID: e.CommandID,
		Operation: e.Operation,
		Wrapped:   e,
		Info:      maps.Clone(e.Info),
	}
}

// AsCommandError extracts a *CommandError from err.
func AsCommandError(err error) (*CommandError, bool) {
	var ce *CommandError
	ok := errors.As(err, &ce)
	return ce, ok
}

// nonResumable lists operations that leave liquid in an unknown state when
// interrupted, so even communication failures during them fail the run.
var nonResumable = map[string]bool{
	"aspirate": true,
	"dispense": true,
	"blowOut":  true,
}

// failure builds a non-recoverable command error for a validation problem.
func failure(cmd ir.Command, code ir.ErrorCode, format string, args ...any) *CommandError {
	return &CommandError{
		Code:      code,
		Message:   fmt.Sprintf(format, args...),
		CommandID: cmd.ID,
		Operation: string(cmd.Kind),
	}
}

// recoverable builds a command error the operator can fix on the deck, such
// as labware that is not where the protocol expects it.
func recoverable(cmd ir.Command, code ir.ErrorCode, format string, args ...any) *CommandError {
	ce := failure(cmd, code, format, args...)
	ce.Recoverable = true
	return ce
}

// wrapHardware maps a backend error onto the engine taxonomy.
func wrapHardware(cmd ir.Command, op string, err error) *CommandError {
	ce := &CommandError{
		CommandID: cmd.ID,
		Operation: op,
		Wrapped:   err,
	}

	if errors.Is(err, context.Canceled) {
		ce.Code = ir.ErrCodeCommandCancelled
		ce.Message = "command was cancelled"
		return ce
	}

	var hw *HardwareError
	if !errors.As(err, &hw) {
		ce.Code = ir.ErrCodeHardwareComm
		ce.Message = "hardware call failed"
		ce.Recoverable = !nonResumable[op]
		return ce
	}

	switch hw.Kind {
	case HardwareTipPickUp:
		ce.Code = ir.ErrCodeTipPickUpFailed
		ce.Message = "tip was not picked up"
		ce.Recoverable = true
	case HardwareEstop:
		ce.Code = ir.ErrCodeEstopActivated
		ce.Message = "emergency stop engaged"
	case HardwareStall:
		// A stall loses position but not liquid; homing clears it.
		ce.Code = ir.ErrCodeHardwareComm
		ce.Message = "motor stalled"
		ce.Recoverable = !nonResumable[op]
	default:
		ce.Code = ir.ErrCodeHardwareComm
		ce.Message = "hardware " + string(hw.Kind)
		ce.Recoverable = !nonResumable[op]
	}
	return ce
}
