package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/protoengine/internal/action"
	"github.com/roach88/protoengine/internal/ir"
	"github.com/roach88/protoengine/internal/state"
	"github.com/roach88/protoengine/internal/store"
	"github.com/roach88/protoengine/internal/testutil"
)

// recordRun runs a protocol into a fresh database and returns its path.
func recordRun(t *testing.T, runID, protocol string) string {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "runs.db")
	_, _ = executeRun(t, &RunOptions{Database: dbPath, RunID: runID}, protocol)
	return dbPath
}

func executeReplay(t *testing.T, format string, args ...string) (string, error) {
	t.Helper()
	buf := &bytes.Buffer{}
	cmd := NewReplayCommand(&RootOptions{Format: format})
	cmd.SetOut(buf)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)
	err := cmd.Execute()
	return buf.String(), err
}

func TestReplayMissingDatabaseFlag(t *testing.T) {
	_, err := executeReplay(t, "text")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "required flag")
}

func TestReplayEmptyDatabase(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "runs.db")
	st, err := store.Open(dbPath)
	require.NoError(t, err)
	require.NoError(t, st.Close())

	out, err := executeReplay(t, "text", "--db", dbPath)
	require.NoError(t, err)
	assert.Contains(t, out, "No runs found")
}

func TestReplayRecordedRun(t *testing.T) {
	dbPath := recordRun(t, "r1", "testdata/protocols/transfer.yaml")

	out, err := executeReplay(t, "text", "--db", dbPath)
	require.NoError(t, err)
	assert.Contains(t, out, "✓ Run: r1")
	assert.Contains(t, out, "Status: succeeded")
	assert.Contains(t, out, "Commands: 8 (8 succeeded, 0 failed)")
	assert.Contains(t, out, "Complete: yes")
	assert.Contains(t, out, "All runs replayed deterministically.")
}

func TestReplayFailedRunJSON(t *testing.T) {
	dbPath := recordRun(t, "r-fail", "testdata/protocols/over_aspirate.yaml")

	out, err := executeReplay(t, "json", "--db", dbPath, "--run", "r-fail")
	require.NoError(t, err)

	var resp struct {
		Status string       `json:"status"`
		Data   ReplayResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	require.Len(t, resp.Data.Runs, 1)

	run := resp.Data.Runs[0]
	assert.True(t, resp.Data.AllDeterministic)
	assert.True(t, run.Deterministic)
	assert.Equal(t, ir.RunFailed, run.Status)
	assert.Equal(t, ir.RunFailed, run.StoredStatus)
	assert.Equal(t, 1, run.Failed)
	assert.Equal(t, 7, run.Commands)
	assert.NotEmpty(t, run.Hash)
}

func TestReplayUnknownRun(t *testing.T) {
	dbPath := recordRun(t, "r1", "testdata/protocols/pause.yaml")

	_, err := executeReplay(t, "text", "--db", dbPath, "--run", "missing")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "run missing not found")
}

func TestReplayBrokenLog(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "runs.db")
	ctx := context.Background()

	st, err := store.Open(dbPath)
	require.NoError(t, err)
	require.NoError(t, st.CreateRun(ctx, "gap", state.Config{}, testutil.Epoch))
	env, err := action.Encode(2, action.Play{At: testutil.Epoch})
	require.NoError(t, err)
	require.NoError(t, st.WriteAction(ctx, "gap", env))
	require.NoError(t, st.Close())

	out, err := executeReplay(t, "text", "--db", dbPath)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "✗ Run: gap")
	assert.Contains(t, out, "Error: replay: action 1 has seq 2, want 1")
	assert.Contains(t, out, "Determinism verification FAILED")
}
