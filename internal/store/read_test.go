package store

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/roach88/protoengine/internal/ir"
)

func TestReadActions_Ordered(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	createTestRun(t, s, "run-1")

	envs := encodeAll(t, commentRun())
	// Write out of order; reads still come back by seq.
	for i := len(envs) - 1; i >= 0; i-- {
		if err := s.WriteAction(ctx, "run-1", envs[i]); err != nil {
			t.Fatalf("WriteAction() failed: %v", err)
		}
	}

	got, err := s.ReadActions(ctx, "run-1")
	if err != nil {
		t.Fatalf("ReadActions() failed: %v", err)
	}
	if len(got) != len(envs) {
		t.Fatalf("read %d actions, want %d", len(got), len(envs))
	}
	for i := range envs {
		if got[i].Seq != envs[i].Seq || got[i].Type != envs[i].Type {
			t.Errorf("action %d = (%d, %s), want (%d, %s)", i, got[i].Seq, got[i].Type, envs[i].Seq, envs[i].Type)
		}
		if !bytes.Equal(got[i].Payload, envs[i].Payload) {
			t.Errorf("action %d payload changed in storage", i)
		}
	}

	after, err := s.ReadActionsAfter(ctx, "run-1", 3)
	if err != nil {
		t.Fatalf("ReadActionsAfter() failed: %v", err)
	}
	if len(after) != 2 || after[0].Seq != 4 {
		t.Errorf("ReadActionsAfter(3) returned %d actions starting at %d", len(after), after[0].Seq)
	}
}

func TestReadActions_EmptyNotNil(t *testing.T) {
	s := createTestStore(t)
	got, err := s.ReadActions(context.Background(), "nothing")
	if err != nil {
		t.Fatalf("ReadActions() failed: %v", err)
	}
	if got == nil {
		t.Error("ReadActions() = nil, want empty slice")
	}

	seq, err := s.LastSeq(context.Background(), "nothing")
	if err != nil {
		t.Fatalf("LastSeq() failed: %v", err)
	}
	if seq != 0 {
		t.Errorf("LastSeq() = %d, want 0", seq)
	}
}

func TestListRuns_SortedByID(t *testing.T) {
	s := createTestStore(t)
	for _, id := range []string{"run-b", "run-a", "run-c"} {
		createTestRun(t, s, id)
	}

	runs, err := s.ListRuns(context.Background())
	if err != nil {
		t.Fatalf("ListRuns() failed: %v", err)
	}
	var ids []string
	for _, r := range runs {
		ids = append(ids, r.ID)
	}
	want := []string{"run-a", "run-b", "run-c"}
	if len(ids) != len(want) {
		t.Fatalf("ListRuns() = %v, want %v", ids, want)
	}
	for i := range want {
		if ids[i] != want[i] {
			t.Errorf("ListRuns()[%d] = %q, want %q", i, ids[i], want[i])
		}
	}
}

func TestGetRun_NotFound(t *testing.T) {
	s := createTestStore(t)
	_, err := s.GetRun(context.Background(), "missing")
	if !errors.Is(err, ErrRunNotFound) {
		t.Errorf("GetRun(missing) = %v, want ErrRunNotFound", err)
	}
}

func TestGetRunState_Replays(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	createTestRun(t, s, "run-1")
	for _, env := range encodeAll(t, commentRun()) {
		if err := s.WriteAction(ctx, "run-1", env); err != nil {
			t.Fatalf("WriteAction() failed: %v", err)
		}
	}

	rs, err := s.GetRunState(ctx, "run-1")
	if err != nil {
		t.Fatalf("GetRunState() failed: %v", err)
	}
	if rs.Status != ir.RunSucceeded || !rs.IsComplete() {
		t.Errorf("status = %q, want %q", rs.Status, ir.RunSucceeded)
	}
	if rs.LastSeq != 5 || rs.Actions != 5 {
		t.Errorf("last seq = %d, actions = %d, want 5 and 5", rs.LastSeq, rs.Actions)
	}
	if rs.Commands[ir.CommandSucceeded] != 1 {
		t.Errorf("succeeded commands = %d, want 1", rs.Commands[ir.CommandSucceeded])
	}
}

func TestGetRunState_PartialLog(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	createTestRun(t, s, "run-1")
	// A crash after the command started leaves it running.
	for _, env := range encodeAll(t, commentRun()[:3]) {
		if err := s.WriteAction(ctx, "run-1", env); err != nil {
			t.Fatalf("WriteAction() failed: %v", err)
		}
	}

	rs, err := s.GetRunState(ctx, "run-1")
	if err != nil {
		t.Fatalf("GetRunState() failed: %v", err)
	}
	if rs.IsComplete() {
		t.Error("partial log reported complete")
	}
	if rs.Status != ir.RunRunning {
		t.Errorf("status = %q, want %q", rs.Status, ir.RunRunning)
	}
	if rs.Commands[ir.CommandRunning] != 1 {
		t.Errorf("running commands = %d, want 1", rs.Commands[ir.CommandRunning])
	}
}

func TestGetRunState_Gap(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	createTestRun(t, s, "run-1")
	envs := encodeAll(t, commentRun())
	for _, env := range []int{0, 2} {
		if err := s.WriteAction(ctx, "run-1", envs[env]); err != nil {
			t.Fatalf("WriteAction() failed: %v", err)
		}
	}

	if _, err := s.GetRunState(ctx, "run-1"); err == nil {
		t.Error("GetRunState() with a gap succeeded")
	}
}
