package store

import (
	"context"
	"fmt"

	"github.com/roach88/protoengine/internal/action"
	"github.com/roach88/protoengine/internal/ir"
	"github.com/roach88/protoengine/internal/state"
)

// RunState summarizes a stored run for crash recovery and inspection.
type RunState struct {
	RunID    string
	LastSeq  int64
	Actions  int
	Status   ir.RunStatus
	Commands map[ir.CommandStatus]int
	State    *state.State
}

// IsComplete reports whether the stored log reached a terminal status.
func (r RunState) IsComplete() bool { return r.Status.IsTerminal() }

// GetRunState replays a run's stored log with the config the run was
// created with.
func (s *Store) GetRunState(ctx context.Context, runID string) (RunState, error) {
	rec, err := s.GetRun(ctx, runID)
	if err != nil {
		return RunState{}, fmt.Errorf("get run state: %w", err)
	}
	envs, err := s.ReadActions(ctx, runID)
	if err != nil {
		return RunState{}, fmt.Errorf("get run state: %w", err)
	}

	actions := make([]action.Action, 0, len(envs))
	for i, env := range envs {
		if want := int64(i + 1); env.Seq != want {
			return RunState{}, fmt.Errorf("get run state: missing action %d", want)
		}
		a, err := action.Decode(env)
		if err != nil {
			return RunState{}, fmt.Errorf("get run state: %w", err)
		}
		actions = append(actions, a)
	}

	st, err := state.Replay(rec.Config, actions)
	if err != nil {
		return RunState{}, fmt.Errorf("get run state: %w", err)
	}

	rs := RunState{
		RunID:    runID,
		Actions:  len(envs),
		Status:   st.Status(),
		Commands: map[ir.CommandStatus]int{},
		State:    st,
	}
	if len(envs) > 0 {
		rs.LastSeq = envs[len(envs)-1].Seq
	}
	for _, cmd := range st.AllCommands() {
		rs.Commands[cmd.Status]++
	}
	return rs, nil
}
