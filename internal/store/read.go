package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/roach88/protoengine/internal/action"
	"github.com/roach88/protoengine/internal/ir"
	"github.com/roach88/protoengine/internal/state"
)

// ErrRunNotFound is returned for an unknown run id.
var ErrRunNotFound = errors.New("run not found")

// RunRecord is a stored run.
type RunRecord struct {
	ID        string
	CreatedAt time.Time
	Config    state.Config
	Status    ir.RunStatus
}

// GetRun returns one run record.
func (s *Store) GetRun(ctx context.Context, id string) (RunRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, created_at, config, status FROM runs WHERE id = ?
	`, id)
	rec, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return RunRecord{}, fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	return rec, err
}

// ListRuns returns every run ordered deterministically by id.
//
// Returns an empty slice (not nil) if no runs exist.
func (s *Store) ListRuns(ctx context.Context) ([]RunRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, created_at, config, status FROM runs
		ORDER BY id COLLATE BINARY ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	runs := []RunRecord{}
	for rows.Next() {
		rec, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}
	return runs, nil
}

// ReadActions returns a run's log in seq order.
//
// Returns an empty slice (not nil) if the run has no actions.
func (s *Store) ReadActions(ctx context.Context, runID string) ([]action.Envelope, error) {
	return s.ReadActionsAfter(ctx, runID, 0)
}

// ReadActionsAfter returns the envelopes of a run with seq > after.
func (s *Store) ReadActionsAfter(ctx context.Context, runID string, after int64) ([]action.Envelope, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT seq, type, payload FROM actions
		WHERE run_id = ? AND seq > ?
		ORDER BY seq ASC
	`, runID, after)
	if err != nil {
		return nil, fmt.Errorf("query actions: %w", err)
	}
	defer rows.Close()

	envs := []action.Envelope{}
	for rows.Next() {
		var env action.Envelope
		var typ, payload string
		if err := rows.Scan(&env.Seq, &typ, &payload); err != nil {
			return nil, fmt.Errorf("scan action: %w", err)
		}
		env.Type = action.Type(typ)
		env.Payload = json.RawMessage(payload)
		envs = append(envs, env)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate actions: %w", err)
	}
	return envs, nil
}

// LastSeq returns the highest stored seq of a run, or 0.
func (s *Store) LastSeq(ctx context.Context, runID string) (int64, error) {
	var seq sql.NullInt64
	err := s.db.QueryRowContext(ctx, `SELECT MAX(seq) FROM actions WHERE run_id = ?`, runID).Scan(&seq)
	if err != nil {
		return 0, fmt.Errorf("last seq: %w", err)
	}
	return seq.Int64, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (RunRecord, error) {
	var rec RunRecord
	var createdAt, cfgJSON, status string
	if err := row.Scan(&rec.ID, &createdAt, &cfgJSON, &status); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return rec, err
		}
		return rec, fmt.Errorf("scan run: %w", err)
	}
	t, err := parseTime(createdAt)
	if err != nil {
		return rec, err
	}
	cfg, err := unmarshalConfig(cfgJSON)
	if err != nil {
		return rec, err
	}
	rec.CreatedAt = t
	rec.Config = cfg
	rec.Status = ir.RunStatus(status)
	return rec, nil
}
