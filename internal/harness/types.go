package harness

import (
	"fmt"
	"strings"

	"github.com/roach88/protoengine/internal/action"
	"github.com/roach88/protoengine/internal/ir"
	"github.com/roach88/protoengine/internal/state"
)

// TraceEvent is one dispatched action, reduced to the fields that are stable
// across runs. Timestamps and generated error ids are left out so traces can
// be compared byte for byte.
type TraceEvent struct {
	Seq         int64          `json:"seq"`
	Type        action.Type    `json:"type"`
	CommandID   string         `json:"command_id,omitempty"`
	CommandType ir.CommandKind `json:"command_type,omitempty"`
	ErrorCode   ir.ErrorCode   `json:"error_code,omitempty"`
	// Status is the run status after the action, set only when it changed.
	Status ir.RunStatus `json:"status,omitempty"`
}

// String renders the event as one timeline line:
// "[seq] type id (kind) error=CODE -> status".
func (e TraceEvent) String() string {
	var buf strings.Builder
	fmt.Fprintf(&buf, "[%d] %s", e.Seq, e.Type)
	if e.CommandID != "" {
		fmt.Fprintf(&buf, " %s (%s)", e.CommandID, e.CommandType)
	}
	if e.ErrorCode != "" {
		fmt.Fprintf(&buf, " error=%s", e.ErrorCode)
	}
	if e.Status != "" {
		fmt.Fprintf(&buf, " -> %s", e.Status)
	}
	return buf.String()
}

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass indicates overall scenario success.
	// True when every step was accepted as expected and every assertion held.
	Pass bool `json:"pass"`

	// Trace contains every dispatched action in seq order.
	Trace []TraceEvent `json:"trace"`

	// Errors contains step and assertion failure messages.
	// Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`

	// Snapshot is the final run state.
	Snapshot state.Snapshot `json:"-"`

	// Hash is the canonical hash of Snapshot.
	Hash string `json:"hash"`

	// Envelopes is the persisted action log, read back from the store.
	Envelopes []action.Envelope `json:"-"`

	// Calls lists backend calls when the scenario ran in ModeRecord.
	Calls []string `json:"calls,omitempty"`
}

// NewResult creates a new passing result.
// Used as the starting point for scenario execution.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Errors: []string{},
	}
}

// AddError adds a failure message and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// Status is the final run status.
func (r *Result) Status() ir.RunStatus { return r.Snapshot.Status() }

// BuildTrace folds the action log through the reducer so each event can
// carry the command type and the status change it caused.
func BuildTrace(cfg state.Config, envs []action.Envelope) ([]TraceEvent, error) {
	s := state.New(cfg)
	trace := make([]TraceEvent, 0, len(envs))
	for _, env := range envs {
		a, err := action.Decode(env)
		if err != nil {
			return nil, err
		}
		before := s.Status()
		event := TraceEvent{Seq: env.Seq, Type: env.Type}
		switch v := a.(type) {
		case action.QueueCommand:
			event.CommandID = v.Command.ID
			event.CommandType = v.Command.Kind
		case action.CommandStarted:
			event.CommandID = v.CommandID
		case action.CommandSucceeded:
			event.CommandID = v.CommandID
			event.CommandType = v.Kind
		case action.CommandFailed:
			event.CommandID = v.CommandID
			event.ErrorCode = v.Error.Code
		case action.Stop:
			if v.Error != nil {
				event.ErrorCode = v.Error.Code
			}
		case action.Finish:
			if v.Error != nil {
				event.ErrorCode = v.Error.Code
			}
		}
		if event.CommandType == "" && event.CommandID != "" {
			if cmd, ok := s.Command(event.CommandID); ok {
				event.CommandType = cmd.Kind
			}
		}

		next, err := state.Reduce(s, a)
		if err != nil {
			return nil, err
		}
		s = next
		if after := s.Status(); after != before {
			event.Status = after
		}
		trace = append(trace, event)
	}
	return trace, nil
}
