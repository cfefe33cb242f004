package state

import (
	"time"

	"github.com/roach88/protoengine/internal/action"
	"github.com/roach88/protoengine/internal/ir"
)

// Run status transitions:
//
//	READY --play--> RUNNING
//	RUNNING --pause--> PAUSED --play--> RUNNING
//	RUNNING --recoverable failure--> AWAITING_RECOVERY --resume--> RUNNING
//	AWAITING_RECOVERY --pause/door--> AWAITING_RECOVERY_PAUSED --play--> AWAITING_RECOVERY
//	RUNNING --finish--> SUCCEEDED | FAILED
//	any non-terminal --stop--> STOPPED (FAILED for an E-stop)

func (s *State) setStatus(to ir.RunStatus, at time.Time) {
	s.run = s.run.clone()
	s.run.Status = to
	if to.IsTerminal() && s.run.CompletedAt == nil {
		s.run.CompletedAt = &at
	}
	if to != ir.RunPaused && to != ir.RunAwaitingRecoveryPaused {
		s.run.PauseSource = ""
	}
}

func (s *State) denied(t action.Type, reason string) *TransitionError {
	return &TransitionError{From: s.run.Status, Action: t, Reason: reason}
}

func (s *State) play(a action.Play) error {
	if s.run.DoorBlocking {
		return s.denied(a.Type(), "deck door is open")
	}
	switch s.run.Status {
	case ir.RunReady, ir.RunPaused:
		s.setStatus(ir.RunRunning, a.At)
		if s.run.StartedAt == nil {
			s.run.StartedAt = &a.At
		}
	case ir.RunAwaitingRecoveryPaused:
		s.setStatus(ir.RunAwaitingRecovery, a.At)
	case ir.RunRunning, ir.RunAwaitingRecovery:
	default:
		return s.denied(a.Type(), "")
	}
	return nil
}

func (s *State) pause(a action.Pause) error {
	switch s.run.Status {
	case ir.RunRunning:
		s.setStatus(ir.RunPaused, time.Time{})
	case ir.RunAwaitingRecovery:
		s.setStatus(ir.RunAwaitingRecoveryPaused, time.Time{})
	case ir.RunPaused, ir.RunAwaitingRecoveryPaused:
		return nil
	default:
		return s.denied(a.Type(), "")
	}
	s.run.PauseSource = string(a.Source)
	return nil
}

func (s *State) stop(a action.Stop) error {
	if s.run.Status.IsTerminal() {
		return s.denied(a.Type(), "")
	}
	if a.Error != nil {
		s.appendError(*a.Error)
	}
	to := ir.RunStopped
	if a.FromEstop {
		to = ir.RunFailed
	}
	s.setStatus(to, a.At)
	s.run.StoppedByEstop = a.FromEstop
	s.run.RecoveryTargetCommandID = ""
	return nil
}

func (s *State) resumeFromRecovery(a action.ResumeFromRecovery) error {
	switch s.run.Status {
	case ir.RunAwaitingRecovery:
		s.setStatus(ir.RunRunning, a.At)
	case ir.RunAwaitingRecoveryPaused:
		s.setStatus(ir.RunPaused, a.At)
	default:
		return s.denied(a.Type(), "run is not awaiting recovery")
	}
	s.run.RecoveryTargetCommandID = ""
	return nil
}

func (s *State) finish(a action.Finish) error {
	if s.run.Status.IsTerminal() {
		return s.denied(a.Type(), "")
	}
	if s.commands.running != "" {
		return fatalf(s.commands.running, "cannot finish run while a command is running")
	}
	to := ir.RunSucceeded
	if a.Error != nil {
		s.appendError(*a.Error)
		to = ir.RunFailed
	}
	s.setStatus(to, a.At)
	s.run.RecoveryTargetCommandID = ""
	return nil
}

func (s *State) hardwareEvent(a action.HardwareEvent) {
	switch a.Event {
	case action.DoorOpened:
		if !s.cfg.BlockOnDoorOpen {
			return
		}
		switch s.run.Status {
		case ir.RunRunning:
			s.setStatus(ir.RunPaused, a.At)
			s.run.PauseSource = string(action.PauseFromDoor)
		case ir.RunAwaitingRecovery:
			s.setStatus(ir.RunAwaitingRecoveryPaused, a.At)
			s.run.PauseSource = string(action.PauseFromDoor)
		}
		if !s.run.Status.IsTerminal() {
			s.run = s.run.clone()
			s.run.DoorBlocking = true
		}
	case action.DoorClosed:
		if s.run.DoorBlocking {
			s.run = s.run.clone()
			s.run.DoorBlocking = false
		}
	}
}
