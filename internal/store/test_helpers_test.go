package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/roach88/protoengine/internal/action"
	"github.com/roach88/protoengine/internal/ir"
	"github.com/roach88/protoengine/internal/state"
)

var testTime = time.Date(2026, time.January, 1, 12, 0, 0, 0, time.UTC)

// createTestStore creates a new store in a temp dir for testing.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// createTestRun creates a run record with the zero config.
func createTestRun(t *testing.T, s *Store, id string) {
	t.Helper()
	if err := s.CreateRun(context.Background(), id, state.Config{}, testTime); err != nil {
		t.Fatalf("CreateRun() failed: %v", err)
	}
}

// commentRun returns the actions of a run that executes one comment.
func commentRun() []action.Action {
	cmd := ir.Command{
		ID:        "cmd-1",
		Key:       "key-1",
		Kind:      ir.KindComment,
		Params:    ir.CommentParams{Message: "hello"},
		Status:    ir.CommandQueued,
		Intent:    ir.IntentProtocol,
		CreatedAt: testTime,
	}
	return []action.Action{
		action.QueueCommand{Command: cmd, Index: action.AppendIndex},
		action.Play{At: testTime.Add(time.Second)},
		action.CommandStarted{CommandID: "cmd-1", StartedAt: testTime.Add(2 * time.Second)},
		action.CommandSucceeded{CommandID: "cmd-1", Kind: ir.KindComment, Result: ir.EmptyResult{}, CompletedAt: testTime.Add(3 * time.Second)},
		action.Finish{At: testTime.Add(4 * time.Second)},
	}
}

// encodeAll wraps actions in envelopes numbered from 1.
func encodeAll(t *testing.T, actions []action.Action) []action.Envelope {
	t.Helper()
	envs := make([]action.Envelope, 0, len(actions))
	for i, a := range actions {
		env, err := action.Encode(int64(i+1), a)
		if err != nil {
			t.Fatalf("Encode(%s) failed: %v", a.Type(), err)
		}
		envs = append(envs, env)
	}
	return envs
}
