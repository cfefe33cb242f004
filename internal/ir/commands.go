package ir

import (
	"encoding/json"
	"fmt"
	"time"
)

// CommandKind discriminates the command union.
type CommandKind string

// Command kinds in declaration order. AllKinds returns this order.
const (
	KindLoadLabware          CommandKind = "loadLabware"
	KindLoadPipette          CommandKind = "loadPipette"
	KindLoadModule           CommandKind = "loadModule"
	KindLoadLiquid           CommandKind = "loadLiquid"
	KindPickUpTip            CommandKind = "pickUpTip"
	KindDropTip              CommandKind = "dropTip"
	KindAspirate             CommandKind = "aspirate"
	KindDispense             CommandKind = "dispense"
	KindBlowOut              CommandKind = "blowOut"
	KindTouchTip             CommandKind = "touchTip"
	KindMoveLabware          CommandKind = "moveLabware"
	KindMoveToCoordinates    CommandKind = "moveToCoordinates"
	KindMoveToWell           CommandKind = "moveToWell"
	KindHome                 CommandKind = "home"
	KindDelay                CommandKind = "delay"
	KindWaitForResume        CommandKind = "waitForResume"
	KindComment              CommandKind = "comment"
	KindCustom               CommandKind = "custom"
	KindSetTargetTemperature CommandKind = "setTargetTemperature"
	KindDeactivateModule     CommandKind = "deactivateModule"
)

// CommandStatus is the lifecycle state of a single command.
// Transitions only queued -> running -> {succeeded, failed}.
type CommandStatus string

const (
	CommandQueued    CommandStatus = "queued"
	CommandRunning   CommandStatus = "running"
	CommandSucceeded CommandStatus = "succeeded"
	CommandFailed    CommandStatus = "failed"
)

// IsTerminal reports whether the status can no longer change.
func (s CommandStatus) IsTerminal() bool {
	return s == CommandSucceeded || s == CommandFailed
}

// CommandIntent selects the lane a command executes in.
type CommandIntent string

const (
	// IntentProtocol commands run while the run is RUNNING.
	IntentProtocol CommandIntent = "protocol"
	// IntentSetup commands run before the run starts (status READY).
	IntentSetup CommandIntent = "setup"
)

// Params is the kind-specific, validated parameter payload of a command.
type Params interface {
	Kind() CommandKind
}

// Result is the kind-specific success payload of a command. It doubles as the
// "private result" consumed by the reducers.
type Result interface {
	isResult()
}

// CommandRequest is what a client submits to the engine.
// Params may be a typed Params value or any JSON-encodable map; the engine
// validates either against the kind's schema.
type CommandRequest struct {
	Kind   CommandKind   `json:"command_type" yaml:"command_type"`
	Params any           `json:"params" yaml:"params"`
	Key    string        `json:"key,omitempty" yaml:"key,omitempty"`
	Intent CommandIntent `json:"intent,omitempty" yaml:"intent,omitempty"`
	ID     string        `json:"id,omitempty" yaml:"id,omitempty"`
}

// Command is one atomic protocol operation with its lifecycle.
// Result and Error are mutually exclusive and only set on terminal status.
type Command struct {
	ID          string           `json:"id"`
	Key         string           `json:"key"`
	Kind        CommandKind      `json:"command_type"`
	Params      Params           `json:"params"`
	Status      CommandStatus    `json:"status"`
	Intent      CommandIntent    `json:"intent"`
	CreatedAt   time.Time        `json:"created_at"`
	StartedAt   *time.Time       `json:"started_at,omitempty"`
	CompletedAt *time.Time       `json:"completed_at,omitempty"`
	Result      Result           `json:"result,omitempty"`
	Error       *ErrorOccurrence `json:"error,omitempty"`
}

// Clone returns a deep copy of the command.
func (c Command) Clone() Command {
	out := c
	out.Params = cloneParams(c.Params)
	out.Result = cloneResult(c.Result)
	if c.StartedAt != nil {
		t := *c.StartedAt
		out.StartedAt = &t
	}
	if c.CompletedAt != nil {
		t := *c.CompletedAt
		out.CompletedAt = &t
	}
	if c.Error != nil {
		e := c.Error.Clone()
		out.Error = &e
	}
	return out
}

// UnmarshalJSON decodes a command, selecting params and result types by kind.
func (c *Command) UnmarshalJSON(data []byte) error {
	type alias Command
	var raw struct {
		alias
		Params json.RawMessage `json:"params"`
		Result json.RawMessage `json:"result,omitempty"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("decode command: %w", err)
	}
	*c = Command(raw.alias)

	params, err := DecodeParams(c.Kind, raw.Params)
	if err != nil {
		return fmt.Errorf("decode command %s: %w", c.ID, err)
	}
	c.Params = params

	if len(raw.Result) > 0 && string(raw.Result) != "null" {
		result, err := DecodeResult(c.Kind, raw.Result)
		if err != nil {
			return fmt.Errorf("decode command %s: %w", c.ID, err)
		}
		c.Result = result
	}
	return nil
}

type kindSpec struct {
	params func([]byte) (Params, error)
	result func([]byte) (Result, error)
}

// registry binds each kind to its params and result types.
// Every kind in kindOrder must have an entry.
var registry = map[CommandKind]kindSpec{
	KindLoadLabware:          {decodeParams[LoadLabwareParams], decodeResult[LoadLabwareResult]},
	KindLoadPipette:          {decodeParams[LoadPipetteParams], decodeResult[LoadPipetteResult]},
	KindLoadModule:           {decodeParams[LoadModuleParams], decodeResult[LoadModuleResult]},
	KindLoadLiquid:           {decodeParams[LoadLiquidParams], decodeResult[EmptyResult]},
	KindPickUpTip:            {decodeParams[PickUpTipParams], decodeResult[PickUpTipResult]},
	KindDropTip:              {decodeParams[DropTipParams], decodeResult[PositionResult]},
	KindAspirate:             {decodeParams[AspirateParams], decodeResult[LiquidHandlingResult]},
	KindDispense:             {decodeParams[DispenseParams], decodeResult[LiquidHandlingResult]},
	KindBlowOut:              {decodeParams[BlowOutParams], decodeResult[PositionResult]},
	KindTouchTip:             {decodeParams[TouchTipParams], decodeResult[PositionResult]},
	KindMoveLabware:          {decodeParams[MoveLabwareParams], decodeResult[MoveLabwareResult]},
	KindMoveToCoordinates:    {decodeParams[MoveToCoordinatesParams], decodeResult[PositionResult]},
	KindMoveToWell:           {decodeParams[MoveToWellParams], decodeResult[PositionResult]},
	KindHome:                 {decodeParams[HomeParams], decodeResult[EmptyResult]},
	KindDelay:                {decodeParams[DelayParams], decodeResult[EmptyResult]},
	KindWaitForResume:        {decodeParams[WaitForResumeParams], decodeResult[EmptyResult]},
	KindComment:              {decodeParams[CommentParams], decodeResult[EmptyResult]},
	KindCustom:               {decodeParams[CustomParams], decodeResult[CustomResult]},
	KindSetTargetTemperature: {decodeParams[SetTargetTemperatureParams], decodeResult[SetTargetTemperatureResult]},
	KindDeactivateModule:     {decodeParams[DeactivateModuleParams], decodeResult[EmptyResult]},
}

var kindOrder = []CommandKind{
	KindLoadLabware, KindLoadPipette, KindLoadModule, KindLoadLiquid,
	KindPickUpTip, KindDropTip, KindAspirate, KindDispense, KindBlowOut,
	KindTouchTip, KindMoveLabware, KindMoveToCoordinates, KindMoveToWell,
	KindHome, KindDelay, KindWaitForResume, KindComment, KindCustom,
	KindSetTargetTemperature, KindDeactivateModule,
}

// AllKinds returns every command kind in declaration order.
func AllKinds() []CommandKind {
	out := make([]CommandKind, len(kindOrder))
	copy(out, kindOrder)
	return out
}

// IsKnownKind reports whether k is a registered command kind.
func IsKnownKind(k CommandKind) bool {
	_, ok := registry[k]
	return ok
}

// DecodeParams decodes JSON params into the typed params for kind.
func DecodeParams(kind CommandKind, data []byte) (Params, error) {
	entry, ok := registry[kind]
	if !ok {
		return nil, fmt.Errorf("unknown command type %q", kind)
	}
	if len(data) == 0 || string(data) == "null" {
		data = []byte("{}")
	}
	return entry.params(data)
}

// DecodeResult decodes a JSON result into the typed result for kind.
func DecodeResult(kind CommandKind, data []byte) (Result, error) {
	entry, ok := registry[kind]
	if !ok {
		return nil, fmt.Errorf("unknown command type %q", kind)
	}
	return entry.result(data)
}

func decodeParams[T Params](data []byte) (Params, error) {
	var p T
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("decode params: %w", err)
	}
	return p, nil
}

func decodeResult[T Result](data []byte) (Result, error) {
	var r T
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("decode result: %w", err)
	}
	return r, nil
}
