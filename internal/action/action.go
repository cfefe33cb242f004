// Package action defines the immutable Actions that drive every state
// change, the pipeline that applies them in a total order, and the bounded
// subscriptions through which observers see them.
package action

import (
	"time"

	"github.com/roach88/protoengine/internal/ir"
)

// Type discriminates the Action union.
type Type string

const (
	TypeQueueCommand         Type = "queue_command"
	TypeCommandStarted       Type = "command_started"
	TypeCommandSucceeded     Type = "command_succeeded"
	TypeCommandFailed        Type = "command_failed"
	TypePlay                 Type = "play"
	TypePause                Type = "pause"
	TypeStop                 Type = "stop"
	TypeResumeFromRecovery   Type = "resume_from_recovery"
	TypeFinish               Type = "finish"
	TypeHardwareEvent        Type = "hardware_event"
	TypeModuleStatus         Type = "module_status"
	TypeAddLabwareOffset     Type = "add_labware_offset"
	TypeSetRunTimeParameters Type = "set_run_time_parameters"
)

// Action is an immutable record of something that happened. Actions are
// values; every field they carry is owned by the action once dispatched.
type Action interface {
	Type() Type
}

// AppendIndex as QueueCommand.Index appends the command to the queue.
const AppendIndex = -1

// QueueCommand adds a QUEUED command at Index, or at the end when Index is
// AppendIndex.
type QueueCommand struct {
	Command ir.Command `json:"command"`
	Index   int        `json:"index"`
}

type CommandStarted struct {
	CommandID string    `json:"command_id"`
	StartedAt time.Time `json:"started_at"`
}

// CommandSucceeded carries the private result that reducers apply to the
// entity collections.
type CommandSucceeded struct {
	CommandID   string         `json:"command_id"`
	Kind        ir.CommandKind `json:"command_type"`
	Result      ir.Result      `json:"result"`
	CompletedAt time.Time      `json:"completed_at"`
}

// RecoveryType decides what a failed command does to the run.
type RecoveryType string

const (
	// FailRun leaves run status to the engine, which finishes the run as
	// FAILED for protocol commands and does nothing for setup commands.
	FailRun RecoveryType = "fail_run"
	// WaitForRecovery parks the run in AWAITING_RECOVERY.
	WaitForRecovery RecoveryType = "wait_for_recovery"
	// StopRun is used for cancellations; the engine dispatches Stop next.
	StopRun RecoveryType = "stop_run"
)

type CommandFailed struct {
	CommandID   string             `json:"command_id"`
	Error       ir.ErrorOccurrence `json:"error"`
	Recovery    RecoveryType       `json:"recovery"`
	CompletedAt time.Time          `json:"completed_at"`
}

type Play struct {
	At time.Time `json:"at"`
}

// PauseSource says who asked for a pause.
type PauseSource string

const (
	PauseFromClient   PauseSource = "client"
	PauseFromProtocol PauseSource = "protocol"
	PauseFromDoor     PauseSource = "door"
)

type Pause struct {
	Source PauseSource `json:"source"`
}

// Stop ends the run. An E-stop stop finishes the run as FAILED and carries
// the error that caused it.
type Stop struct {
	At        time.Time           `json:"at"`
	FromEstop bool                `json:"from_estop,omitempty"`
	Error     *ir.ErrorOccurrence `json:"error,omitempty"`
}

type ResumeFromRecovery struct {
	At time.Time `json:"at"`
}

// Finish ends a run as SUCCEEDED, or as FAILED when Error is set.
type Finish struct {
	At    time.Time           `json:"at"`
	Error *ir.ErrorOccurrence `json:"error,omitempty"`
}

// HardwareEventKind names an asynchronous hardware signal.
type HardwareEventKind string

const (
	DoorOpened    HardwareEventKind = "door_opened"
	DoorClosed    HardwareEventKind = "door_closed"
	EstopEngaged  HardwareEventKind = "estop_engaged"
	EstopReleased HardwareEventKind = "estop_released"
)

type HardwareEvent struct {
	Event HardwareEventKind `json:"event"`
	At    time.Time         `json:"at"`
}

// ModuleStatus refreshes the live sub-state of one module.
type ModuleStatus struct {
	ModuleID string          `json:"module_id"`
	Status   ir.ModuleStatus `json:"status"`
}

type AddLabwareOffset struct {
	Offset ir.LabwareOffset `json:"offset"`
}

type SetRunTimeParameters struct {
	Values map[string]any `json:"values"`
}

func (QueueCommand) Type() Type         { return TypeQueueCommand }
func (CommandStarted) Type() Type       { return TypeCommandStarted }
func (CommandSucceeded) Type() Type     { return TypeCommandSucceeded }
func (CommandFailed) Type() Type        { return TypeCommandFailed }
func (Play) Type() Type                 { return TypePlay }
func (Pause) Type() Type                { return TypePause }
func (Stop) Type() Type                 { return TypeStop }
func (ResumeFromRecovery) Type() Type   { return TypeResumeFromRecovery }
func (Finish) Type() Type               { return TypeFinish }
func (HardwareEvent) Type() Type        { return TypeHardwareEvent }
func (ModuleStatus) Type() Type         { return TypeModuleStatus }
func (AddLabwareOffset) Type() Type     { return TypeAddLabwareOffset }
func (SetRunTimeParameters) Type() Type { return TypeSetRunTimeParameters }

// Clone deep-copies the reference-typed fields of an action so that a
// subscriber holding it cannot observe or cause aliasing with state.
func Clone(a Action) Action {
	switch v := a.(type) {
	case QueueCommand:
		v.Command = v.Command.Clone()
		return v
	case CommandSucceeded:
		c := ir.Command{Kind: v.Kind, Result: v.Result}.Clone()
		v.Result = c.Result
		return v
	case CommandFailed:
		v.Error = v.Error.Clone()
		return v
	case Stop:
		v.Error = cloneOccurrence(v.Error)
		return v
	case Finish:
		v.Error = cloneOccurrence(v.Error)
		return v
	case ModuleStatus:
		v.Status = v.Status.Clone()
		return v
	case SetRunTimeParameters:
		v.Values = ir.CloneValues(v.Values)
		return v
	default:
		return a
	}
}

func cloneOccurrence(e *ir.ErrorOccurrence) *ir.ErrorOccurrence {
	if e == nil {
		return nil
	}
	c := e.Clone()
	return &c
}
