package engine

// # Replay
//
// Run state is a pure fold of the action log: every change the engine makes
// goes through the pipeline, and the reducers read nothing but the action.
// Replaying a recorded log through fresh reducers therefore rebuilds the
// same state, and the canonical snapshot hash of that state is identical
// on every replay. VerifyReplay checks exactly that.

import (
	"errors"
	"fmt"

	"github.com/roach88/protoengine/internal/action"
	"github.com/roach88/protoengine/internal/state"
)

// ErrNonDeterministic is returned when two replays of one log disagree.
var ErrNonDeterministic = errors.New("replay is not deterministic")

// Replay decodes envs and folds them over a fresh state. Envelopes must be
// in sequence order with no gaps.
func Replay(cfg Config, envs []action.Envelope) (*state.State, error) {
	actions := make([]action.Action, 0, len(envs))
	for i, env := range envs {
		if want := int64(i + 1); env.Seq != want {
			return nil, fmt.Errorf("replay: action %d has seq %d, want %d", i+1, env.Seq, want)
		}
		a, err := action.Decode(env)
		if err != nil {
			return nil, fmt.Errorf("replay: %w", err)
		}
		actions = append(actions, a)
	}
	return state.Replay(cfg.StateConfig(), actions)
}

// VerifyReplay replays envs twice and compares snapshot hashes. It returns
// the hash when both replays agree.
func VerifyReplay(cfg Config, envs []action.Envelope) (string, error) {
	first, err := replayHash(cfg, envs)
	if err != nil {
		return "", err
	}
	second, err := replayHash(cfg, envs)
	if err != nil {
		return "", err
	}
	if first != second {
		return "", fmt.Errorf("%w: %s != %s", ErrNonDeterministic, first, second)
	}
	return first, nil
}

func replayHash(cfg Config, envs []action.Envelope) (string, error) {
	s, err := Replay(cfg, envs)
	if err != nil {
		return "", err
	}
	return s.Snapshot().Hash()
}
