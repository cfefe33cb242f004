package engine

import (
	"context"
	"fmt"

	"github.com/roach88/protoengine/internal/action"
	"github.com/roach88/protoengine/internal/ir"
	"github.com/roach88/protoengine/internal/state"
)

// call runs fn on the loop goroutine and waits for its outcome.
func call[T any](ctx context.Context, e *Engine, name string, fn func() (T, error)) (T, error) {
	var zero T
	req := &request{
		name:  name,
		reply: make(chan reply, 1),
		fn: func() (any, error) {
			v, err := fn()
			return v, err
		},
	}
	if !e.queue.Enqueue(Event{Type: EventTypeRequest, Request: req}) {
		return zero, ErrEngineClosed
	}

	var r reply
	select {
	case r = <-req.reply:
	case <-ctx.Done():
		return zero, ctx.Err()
	case <-e.done:
		select {
		case r = <-req.reply:
		default:
			return zero, ErrEngineClosed
		}
	}
	if r.err != nil {
		return zero, r.err
	}
	return r.value.(T), nil
}

// Enqueue validates req and appends it to the queue. The returned command
// is QUEUED with its id and key assigned. Validation failures return a
// COMMAND_PARAMS_INVALID *RuntimeError and leave the queue untouched.
func (e *Engine) Enqueue(ctx context.Context, req ir.CommandRequest) (ir.Command, error) {
	return e.queueRequest(ctx, req, action.AppendIndex)
}

// InsertAt splices req into the queue at index, typically to retry or
// replace a failed command before resuming from recovery. The index must
// come after every command that has already started.
func (e *Engine) InsertAt(ctx context.Context, index int, req ir.CommandRequest) (ir.Command, error) {
	if index < 0 {
		return ir.Command{}, notAllowed("", req.ID, "insert index %d is negative", index)
	}
	return e.queueRequest(ctx, req, index)
}

func (e *Engine) queueRequest(ctx context.Context, req ir.CommandRequest, index int) (ir.Command, error) {
	params, err := e.validator.Validate(req.Kind, req.Params)
	if err != nil {
		return ir.Command{}, paramsInvalid(req.ID, err)
	}
	return call(ctx, e, "enqueue", func() (ir.Command, error) {
		return e.queueCommand(req, params, index)
	})
}

// queueCommand runs on the loop goroutine.
func (e *Engine) queueCommand(req ir.CommandRequest, params ir.Params, index int) (ir.Command, error) {
	s := e.store.Current()
	status := s.Status()
	intent := req.Intent
	if intent == "" {
		intent = ir.IntentProtocol
	}

	switch {
	case intent != ir.IntentSetup && intent != ir.IntentProtocol:
		return ir.Command{}, paramsInvalid(req.ID, fmt.Errorf("unknown intent %q", intent))
	case status.IsTerminal():
		return ir.Command{}, notAllowed(status, req.ID, "run has ended")
	case intent == ir.IntentSetup && status != ir.RunReady:
		return ir.Command{}, notAllowed(status, req.ID, "setup commands are only accepted before the run starts")
	case e.cfg.MaxCommands > 0 && s.CommandCount() >= e.cfg.MaxCommands:
		return ir.Command{}, notAllowed(status, req.ID, "queue already holds %d commands", s.CommandCount())
	}
	if index != action.AppendIndex && (index <= s.LastStartedIndex() || index > s.CommandCount()) {
		return ir.Command{}, notAllowed(status, req.ID, "insert index %d must be after position %d and at most %d",
			index, s.LastStartedIndex(), s.CommandCount())
	}

	id := req.ID
	if id == "" {
		id = e.ids.NewID("command")
	} else if _, exists := s.Command(id); exists {
		return ir.Command{}, notAllowed(status, id, "command id already exists")
	}

	key := req.Key
	if key == "" {
		k, err := ir.CommandKey(s.LastProtocolKey(), req.Kind, params)
		if err != nil {
			return ir.Command{}, paramsInvalid(id, err)
		}
		key = k
	}

	cmd := ir.Command{
		ID:        id,
		Key:       key,
		Kind:      req.Kind,
		Params:    params,
		Status:    ir.CommandQueued,
		Intent:    intent,
		CreatedAt: e.clock.Now(),
	}
	if err := e.dispatch(action.QueueCommand{Command: cmd, Index: index}); err != nil {
		return ir.Command{}, notAllowed(status, id, "%v", err)
	}

	e.logger.Debug("command queued",
		"command_id", id,
		"kind", cmd.Kind,
		"intent", intent,
		"index", index,
	)
	queued, _ := e.store.Current().Command(id)
	return queued, nil
}

// control dispatches a client control action, mapping reducer rejections
// onto INVALID_RUN_TRANSITION.
func (e *Engine) control(ctx context.Context, name string, build func() action.Action) error {
	_, err := call(ctx, e, name, func() (struct{}, error) {
		s := e.store.Current()
		if err := e.dispatch(build()); err != nil {
			return struct{}{}, invalidTransition(s.Status(), err)
		}
		return struct{}{}, nil
	})
	return err
}

// Play starts or resumes the run.
func (e *Engine) Play(ctx context.Context) error {
	return e.control(ctx, "play", func() action.Action {
		return action.Play{At: e.clock.Now()}
	})
}

// Pause takes effect before the next command starts; a running command
// is never interrupted.
func (e *Engine) Pause(ctx context.Context) error {
	return e.control(ctx, "pause", func() action.Action {
		return action.Pause{Source: action.PauseFromClient}
	})
}

// Stop ends the run as STOPPED. A running command is cancelled first and
// fails with COMMAND_CANCELLED; Stop returns without waiting for that.
func (e *Engine) Stop(ctx context.Context) error {
	_, err := call(ctx, e, "stop", func() (struct{}, error) {
		return struct{}{}, e.requestStop(action.Stop{At: e.clock.Now()})
	})
	return err
}

// RecoveryOptions selects what ResumeFromRecovery does before resuming.
type RecoveryOptions struct {
	// RetryFailed queues a copy of the failed command to run next.
	RetryFailed bool
}

// ResumeFromRecovery leaves AWAITING_RECOVERY. Replacement commands are
// usually spliced in with InsertAt first.
func (e *Engine) ResumeFromRecovery(ctx context.Context, opts RecoveryOptions) error {
	_, err := call(ctx, e, "resume_from_recovery", func() (struct{}, error) {
		s := e.store.Current()
		if st := s.Status(); st != ir.RunAwaitingRecovery && st != ir.RunAwaitingRecoveryPaused {
			return struct{}{}, invalidTransition(st, nil)
		}
		if opts.RetryFailed {
			if err := e.queueRetry(s); err != nil {
				return struct{}{}, err
			}
		}
		if err := e.dispatch(action.ResumeFromRecovery{At: e.clock.Now()}); err != nil {
			return struct{}{}, invalidTransition(s.Status(), err)
		}
		return struct{}{}, nil
	})
	return err
}

func (e *Engine) queueRetry(s *state.State) error {
	target := s.Run().RecoveryTargetCommandID
	failed, ok := s.Command(target)
	if !ok {
		return &RuntimeError{Code: ErrCodeCommandNotFound, Message: "no failed command to retry", CommandID: target, Status: s.Status()}
	}
	req := ir.CommandRequest{Kind: failed.Kind, Params: failed.Params, Key: failed.Key, Intent: failed.Intent}
	_, err := e.queueCommand(req, failed.Params, s.LastStartedIndex()+1)
	return err
}

// SetRunTimeParameters records protocol run-time parameter values. Only
// allowed before the run starts.
func (e *Engine) SetRunTimeParameters(ctx context.Context, values map[string]any) error {
	return e.control(ctx, "set_run_time_parameters", func() action.Action {
		return action.SetRunTimeParameters{Values: ir.CloneValues(values)}
	})
}

// AddLabwareOffset registers a calibration vector for labware of one
// definition at one location. Labware loaded or moved there afterwards
// uses it.
func (e *Engine) AddLabwareOffset(ctx context.Context, definitionURI string, loc ir.LabwareLocation, vector ir.Coordinates) (ir.LabwareOffset, error) {
	return call(ctx, e, "add_labware_offset", func() (ir.LabwareOffset, error) {
		off := ir.LabwareOffset{
			ID:            e.ids.NewID("offset"),
			DefinitionURI: definitionURI,
			Location:      loc,
			Vector:        vector,
			CreatedAt:     e.clock.Now(),
		}
		if err := e.dispatch(action.AddLabwareOffset{Offset: off}); err != nil {
			return ir.LabwareOffset{}, err
		}
		return off, nil
	})
}

// Command returns one command by id.
func (e *Engine) Command(id string) (ir.Command, error) {
	cmd, ok := e.store.Current().Command(id)
	if !ok {
		return ir.Command{}, &RuntimeError{Code: ErrCodeCommandNotFound, Message: "no such command", CommandID: id}
	}
	return cmd, nil
}

// State returns the current immutable run state. It never blocks.
func (e *Engine) State() *state.State { return e.store.Current() }

// Snapshot returns a deep copy of the current run state.
func (e *Engine) Snapshot() state.Snapshot { return e.store.Current().Snapshot() }

// Subscribe returns a bounded, drop-oldest feed of every action applied
// from now on.
func (e *Engine) Subscribe() *action.Subscription {
	return e.pipeline.Subscribe(e.cfg.SubscriberBuffer)
}

// Seq returns the sequence number of the last applied action.
func (e *Engine) Seq() int64 { return e.pipeline.Seq() }

// QueueLen returns the number of events waiting for the loop.
func (e *Engine) QueueLen() int { return e.queue.Len() }

// WaitFor blocks until cond holds for the current state, ctx is done or
// the engine closes.
func (e *Engine) WaitFor(ctx context.Context, cond func(*state.State) bool) (*state.State, error) {
	for {
		e.changedMu.Lock()
		changed := e.changed
		e.changedMu.Unlock()

		s := e.store.Current()
		if cond(s) {
			return s, nil
		}
		select {
		case <-changed:
		case <-ctx.Done():
			return s, ctx.Err()
		case <-e.done:
			if s := e.store.Current(); cond(s) {
				return s, nil
			}
			return s, ErrEngineClosed
		}
	}
}

// WaitUntilTerminal waits for the run to stop, succeed or fail.
func (e *Engine) WaitUntilTerminal(ctx context.Context) (*state.State, error) {
	return e.WaitFor(ctx, func(s *state.State) bool { return s.Status().IsTerminal() })
}

// WaitForStatus waits for the run to reach status.
func (e *Engine) WaitForStatus(ctx context.Context, status ir.RunStatus) (*state.State, error) {
	return e.WaitFor(ctx, func(s *state.State) bool { return s.Status() == status })
}
