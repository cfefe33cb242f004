package engine

import (
	"errors"
	"fmt"

	"github.com/roach88/protoengine/internal/ir"
)

// ErrEngineClosed is returned by calls made after Run has returned.
var ErrEngineClosed = errors.New("engine is closed")

// RuntimeError is a client-facing rejection of an engine call. It never
// changes run state: the call had no effect.
type RuntimeError struct {
	// Code identifies the error category.
	Code RuntimeErrorCode

	// Message is a human-readable description.
	Message string

	// CommandID identifies the affected command, if any.
	CommandID string

	// Status is the run status when the call was rejected.
	Status ir.RunStatus

	// Err is the underlying cause, if any.
	Err error
}

// RuntimeErrorCode categorizes runtime errors.
type RuntimeErrorCode string

const (
	// ErrCodeParamsInvalid means the command request failed schema validation.
	ErrCodeParamsInvalid RuntimeErrorCode = "COMMAND_PARAMS_INVALID"

	// ErrCodeNotAllowed means the command cannot be queued in the current
	// run status or at the requested position.
	ErrCodeNotAllowed RuntimeErrorCode = "COMMAND_NOT_ALLOWED_IN_STATE"

	// ErrCodeInvalidTransition means a control call is not valid in the
	// current run status.
	ErrCodeInvalidTransition RuntimeErrorCode = "INVALID_RUN_TRANSITION"

	// ErrCodeCommandNotFound means no command has the given id.
	ErrCodeCommandNotFound RuntimeErrorCode = "COMMAND_DOES_NOT_EXIST"
)

// Error implements the error interface.
func (e *RuntimeError) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Code, e.Message)
	if e.CommandID != "" {
		msg += fmt.Sprintf(" (command=%s)", e.CommandID)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *RuntimeError) Unwrap() error { return e.Err }

func hasCode(err error, code RuntimeErrorCode) bool {
	var re *RuntimeError
	if errors.As(err, &re) {
		return re.Code == code
	}
	return false
}

// IsParamsInvalid reports whether err is a params validation rejection.
func IsParamsInvalid(err error) bool { return hasCode(err, ErrCodeParamsInvalid) }

// IsNotAllowed reports whether err rejected a command for the run status or
// queue position.
func IsNotAllowed(err error) bool { return hasCode(err, ErrCodeNotAllowed) }

// IsInvalidTransition reports whether err rejected a control call.
func IsInvalidTransition(err error) bool { return hasCode(err, ErrCodeInvalidTransition) }

// IsCommandNotFound reports whether err names a missing command.
func IsCommandNotFound(err error) bool { return hasCode(err, ErrCodeCommandNotFound) }

func paramsInvalid(commandID string, err error) *RuntimeError {
	return &RuntimeError{
		Code:      ErrCodeParamsInvalid,
		Message:   "command params failed validation",
		CommandID: commandID,
		Err:       err,
	}
}

func notAllowed(status ir.RunStatus, commandID, format string, args ...any) *RuntimeError {
	return &RuntimeError{
		Code:      ErrCodeNotAllowed,
		Message:   fmt.Sprintf(format, args...),
		CommandID: commandID,
		Status:    status,
	}
}

func invalidTransition(status ir.RunStatus, err error) *RuntimeError {
	return &RuntimeError{
		Code:    ErrCodeInvalidTransition,
		Message: fmt.Sprintf("not allowed while run is %s", status),
		Status:  status,
		Err:     err,
	}
}
