package state

import (
	"fmt"
	"maps"
	"slices"

	"github.com/roach88/protoengine/internal/action"
	"github.com/roach88/protoengine/internal/ir"
)

// Reduce computes the state that follows s after a. It never mutates s.
// On error the returned state is nil and s remains current: a *FatalError
// for invariant violations, a *TransitionError for disallowed control
// actions.
func Reduce(s *State, a action.Action) (*State, error) {
	next := s.shallow()

	var err error
	switch act := a.(type) {
	case action.QueueCommand:
		err = next.queueCommand(act)
	case action.CommandStarted:
		err = next.startCommand(act)
	case action.CommandSucceeded:
		err = next.succeedCommand(act)
	case action.CommandFailed:
		err = next.failCommand(act)
	case action.Play:
		err = next.play(act)
	case action.Pause:
		err = next.pause(act)
	case action.Stop:
		err = next.stop(act)
	case action.ResumeFromRecovery:
		err = next.resumeFromRecovery(act)
	case action.Finish:
		err = next.finish(act)
	case action.HardwareEvent:
		next.hardwareEvent(act)
	case action.ModuleStatus:
		err = next.moduleStatus(act)
	case action.AddLabwareOffset:
		next.offsets = append(slices.Clip(next.offsets), act.Offset)
	case action.SetRunTimeParameters:
		err = next.setRunTimeParameters(act)
	default:
		err = fatalf("", "unknown action type %T", a)
	}
	if err != nil {
		return nil, err
	}
	return next, nil
}

// Replay folds actions over a fresh state.
func Replay(cfg Config, actions []action.Action) (*State, error) {
	s := New(cfg)
	for i, a := range actions {
		next, err := Reduce(s, a)
		if err != nil {
			return s, fmt.Errorf("replay action %d (%s): %w", i+1, a.Type(), err)
		}
		s = next
	}
	return s, nil
}

// mutateCommand replaces one command, copying the command map first.
func (s *State) mutateCommand(cmd ir.Command) {
	byID := maps.Clone(s.commands.byID)
	byID[cmd.ID] = cmd
	s.commands.byID = byID
}

func (s *State) queueCommand(a action.QueueCommand) error {
	cmd := a.Command
	if s.run.Status.IsTerminal() {
		return &TransitionError{From: s.run.Status, Action: a.Type()}
	}
	if cmd.ID == "" {
		return fatalf("", "queued command has no id")
	}
	if _, exists := s.commands.byID[cmd.ID]; exists {
		return fatalf(cmd.ID, "command id already in queue")
	}
	if cmd.Status != ir.CommandQueued || cmd.Result != nil || cmd.Error != nil {
		return fatalf(cmd.ID, "queued command must be QUEUED with no result or error")
	}

	order := s.commands.order
	index := a.Index
	if index == action.AppendIndex {
		index = len(order)
	}
	if index < 0 || index > len(order) || index <= s.lastNonQueuedIndex() {
		return fatalf(cmd.ID, "insert index %d not after the last started command", a.Index)
	}

	s.commands.order = slices.Insert(slices.Clone(order), index, cmd.ID)
	s.mutateCommand(cmd.Clone())
	if cmd.Intent == ir.IntentProtocol && a.Index == action.AppendIndex {
		s.commands.lastProtocolKey = cmd.Key
	}
	return nil
}

// lastNonQueuedIndex returns the queue position of the latest command that
// has left QUEUED, or -1.
func (s *State) lastNonQueuedIndex() int {
	for i := len(s.commands.order) - 1; i >= 0; i-- {
		if s.commands.byID[s.commands.order[i]].Status != ir.CommandQueued {
			return i
		}
	}
	return -1
}

func (s *State) startCommand(a action.CommandStarted) error {
	cmd, ok := s.commands.byID[a.CommandID]
	if !ok {
		return fatalf(a.CommandID, "started command does not exist")
	}
	if s.commands.running != "" {
		return fatalf(a.CommandID, "command %s is already running", s.commands.running)
	}
	if cmd.Status != ir.CommandQueued {
		return fatalf(a.CommandID, "cannot start command in status %s", cmd.Status)
	}
	for _, id := range s.commands.order {
		if id == cmd.ID {
			break
		}
		if prior := s.commands.byID[id]; prior.Intent == cmd.Intent && prior.Status == ir.CommandQueued {
			return fatalf(a.CommandID, "command %s is queued ahead of it", id)
		}
	}

	cmd = cmd.Clone()
	cmd.Status = ir.CommandRunning
	started := a.StartedAt
	cmd.StartedAt = &started
	s.mutateCommand(cmd)
	s.commands.running = cmd.ID
	return nil
}

func (s *State) runningCommand(id string) (ir.Command, error) {
	cmd, ok := s.commands.byID[id]
	if !ok {
		return ir.Command{}, fatalf(id, "command does not exist")
	}
	if cmd.Status != ir.CommandRunning || s.commands.running != id {
		return ir.Command{}, fatalf(id, "command is %s, not running", cmd.Status)
	}
	return cmd.Clone(), nil
}

func (s *State) succeedCommand(a action.CommandSucceeded) error {
	cmd, err := s.runningCommand(a.CommandID)
	if err != nil {
		return err
	}
	if a.Result == nil {
		return fatalf(cmd.ID, "succeeded command has no result")
	}

	// Entities first: if the private result violates an invariant, neither
	// the entities nor the command status change.
	if err := s.applyResult(cmd, a.Result); err != nil {
		return err
	}

	completed := a.CompletedAt
	cmd.Status = ir.CommandSucceeded
	cmd.Result = a.Result
	cmd.CompletedAt = &completed
	s.mutateCommand(cmd)
	s.commands.running = ""
	return nil
}

func (s *State) failCommand(a action.CommandFailed) error {
	cmd, err := s.runningCommand(a.CommandID)
	if err != nil {
		return err
	}

	occ := a.Error.Clone()
	if occ.CommandID == "" {
		occ.CommandID = cmd.ID
	}
	completed := a.CompletedAt
	cmd.Status = ir.CommandFailed
	cmd.Error = &occ
	cmd.CompletedAt = &completed
	s.mutateCommand(cmd)
	s.commands.running = ""
	s.appendError(occ)

	if a.Recovery == action.WaitForRecovery && cmd.Intent == ir.IntentProtocol {
		switch s.run.Status {
		case ir.RunRunning:
			s.setStatus(ir.RunAwaitingRecovery, completed)
			s.run.RecoveryTargetCommandID = cmd.ID
		case ir.RunPaused:
			s.setStatus(ir.RunAwaitingRecoveryPaused, completed)
			s.run.RecoveryTargetCommandID = cmd.ID
		}
	}
	return nil
}

func (s *State) appendError(occ ir.ErrorOccurrence) {
	for _, existing := range s.errors {
		if existing.ID == occ.ID {
			return
		}
	}
	s.errors = append(slices.Clip(s.errors), occ.Clone())
}

func (s *State) moduleStatus(a action.ModuleStatus) error {
	mod, ok := s.modules[a.ModuleID]
	if !ok {
		return fatalf("", "status for unknown module %s", a.ModuleID)
	}
	mod.Status = a.Status.Clone()
	modules := maps.Clone(s.modules)
	modules[mod.ID] = mod
	s.modules = modules
	return nil
}

func (s *State) setRunTimeParameters(a action.SetRunTimeParameters) error {
	if s.run.Status != ir.RunReady || s.run.StartedAt != nil {
		return &TransitionError{From: s.run.Status, Action: a.Type(), Reason: "run-time parameters are fixed once the run starts"}
	}
	s.rtp = ir.CloneValues(a.Values)
	return nil
}
