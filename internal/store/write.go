package store

import (
	"context"
	"fmt"
	"time"

	"github.com/roach88/protoengine/internal/action"
	"github.com/roach88/protoengine/internal/ir"
	"github.com/roach88/protoengine/internal/state"
)

// CreateRun inserts a run record. Uses ON CONFLICT(id) DO NOTHING for
// idempotency - reopening an existing run is not an error.
func (s *Store) CreateRun(ctx context.Context, id string, cfg state.Config, createdAt time.Time) error {
	cfgJSON, err := marshalConfig(cfg)
	if err != nil {
		return fmt.Errorf("create run: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO runs (id, created_at, config, status)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`, id, formatTime(createdAt), cfgJSON, string(ir.RunReady))
	if err != nil {
		return fmt.Errorf("create run: %w", err)
	}
	return nil
}

// SetRunStatus records the latest known status of a run.
func (s *Store) SetRunStatus(ctx context.Context, id string, status ir.RunStatus) error {
	res, err := s.db.ExecContext(ctx, `UPDATE runs SET status = ? WHERE id = ?`, string(status), id)
	if err != nil {
		return fmt.Errorf("set run status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("set run status: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("set run status: %w: %s", ErrRunNotFound, id)
	}
	return nil
}

// WriteAction appends one envelope to a run's log.
// Uses ON CONFLICT DO NOTHING for idempotency - a duplicate (run, seq) is
// silently ignored.
//
// Note: The run referenced by runID must exist (foreign key constraint).
func (s *Store) WriteAction(ctx context.Context, runID string, env action.Envelope) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO actions (run_id, seq, type, payload)
		VALUES (?, ?, ?, ?)
		ON CONFLICT DO NOTHING
	`, runID, env.Seq, string(env.Type), string(env.Payload))
	if err != nil {
		return fmt.Errorf("write action %d: %w", env.Seq, err)
	}
	return nil
}

// RunLog is an action.Sink appending to one run.
type RunLog struct {
	store *Store
	runID string
}

// Log returns a sink for runID. The run must have been created.
func (s *Store) Log(runID string) *RunLog {
	return &RunLog{store: s, runID: runID}
}

// WriteAction implements action.Sink.
func (l *RunLog) WriteAction(env action.Envelope) error {
	return l.store.WriteAction(context.Background(), l.runID, env)
}

// RunID returns the run this log appends to.
func (l *RunLog) RunID() string { return l.runID }
