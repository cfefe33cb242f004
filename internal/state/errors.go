package state

import (
	"errors"
	"fmt"
	"maps"
	"time"

	"github.com/roach88/protoengine/internal/action"
	"github.com/roach88/protoengine/internal/ir"
)

// FatalError reports an invariant violation found while reducing an action.
// It means an engine or protocol-authoring bug rather than a physical fault;
// the action is not applied and the run must fail.
type FatalError struct {
	Code      ir.ErrorCode
	Detail    string
	CommandID string
	Info      map[string]string
}

func (e *FatalError) Error() string {
	if e.CommandID != "" {
		return fmt.Sprintf("%s: %s (command=%s)", e.Code, e.Detail, e.CommandID)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Detail)
}

// Occurrence converts the error into its recorded form.
func (e *FatalError) Occurrence(id string, at time.Time) ir.ErrorOccurrence {
	return ir.ErrorOccurrence{
		ID:        id,
		Code:      e.Code,
		Detail:    e.Detail,
		CommandID: e.CommandID,
		Fatal:     true,
		CreatedAt: at,
		Info:      maps.Clone(e.Info),
	}
}

func fatalf(commandID, format string, args ...any) *FatalError {
	return &FatalError{
		Code:      ir.ErrCodeFatalEngine,
		Detail:    fmt.Sprintf(format, args...),
		CommandID: commandID,
	}
}

// IsFatal reports whether err is or wraps a *FatalError.
func IsFatal(err error) bool {
	var fe *FatalError
	return errors.As(err, &fe)
}

// TransitionError reports a control action the run status does not allow.
// Unlike FatalError it is an expected, client-facing rejection.
type TransitionError struct {
	From   ir.RunStatus
	Action action.Type
	Reason string
}

func (e *TransitionError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("cannot %s while run is %s: %s", e.Action, e.From, e.Reason)
	}
	return fmt.Sprintf("cannot %s while run is %s", e.Action, e.From)
}

// IsTransitionError reports whether err is or wraps a *TransitionError.
func IsTransitionError(err error) bool {
	var te *TransitionError
	return errors.As(err, &te)
}
