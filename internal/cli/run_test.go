package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/protoengine/internal/engine"
	"github.com/roach88/protoengine/internal/ir"
	"github.com/roach88/protoengine/internal/store"
	"github.com/roach88/protoengine/internal/testutil"
)

// executeRun runs a protocol with options the flags cannot set.
func executeRun(t *testing.T, opts *RunOptions, path string) (string, error) {
	t.Helper()
	if opts.RootOptions == nil {
		opts.RootOptions = &RootOptions{Format: "text"}
	}
	if opts.IDs == nil {
		opts.IDs = engine.NewSequenceGenerator()
	}
	out := &bytes.Buffer{}
	cmd := &cobra.Command{}
	cmd.SetOut(out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetContext(context.Background())
	err := runProtocol(opts, path, cmd)
	return out.String(), err
}

func writeProtocol(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "protocol.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestRunTransferSucceeds(t *testing.T) {
	out, err := executeRun(t, &RunOptions{RunID: "r1"}, "testdata/protocols/transfer.yaml")
	require.NoError(t, err)

	assert.Contains(t, out, "✓ transfer (r1): succeeded")
	assert.Contains(t, out, "commands: 8 succeeded, 0 failed, 0 queued")
	assert.Contains(t, out, "hash: ")
}

func TestRunPauseAutoResumes(t *testing.T) {
	out, err := executeRun(t, &RunOptions{}, "testdata/protocols/pause.yaml")
	require.NoError(t, err)
	assert.Contains(t, out, "commands: 3 succeeded, 0 failed, 0 queued")
}

func TestRunFatalErrorFailsRun(t *testing.T) {
	out, err := executeRun(t, &RunOptions{}, "testdata/protocols/over_aspirate.yaml")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, err.Error(), "run failed")

	assert.Contains(t, out, "✗ over_aspirate")
	assert.Contains(t, out, "commands: 5 succeeded, 1 failed, 1 queued")
	assert.Contains(t, out, string(ir.ErrCodeFatalEngine))
}

func TestRunRecoverableErrorFailsRun(t *testing.T) {
	hw := testutil.NewFaultyBackend()
	hw.FailNext("PickUpTip", testutil.TipPickUpError())

	out, err := executeRun(t, &RunOptions{Backend: hw}, "testdata/protocols/transfer.yaml")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, string(ir.ErrCodeTipPickUpFailed))
	assert.Contains(t, out, "4 succeeded, 1 failed, 3 queued")
}

func TestRunTimeoutStopsRun(t *testing.T) {
	path := writeProtocol(t, `
name: slow
commands:
  - command_type: delay
    params: {seconds: 60}
  - command_type: comment
    params: {message: never}
`)
	hw := testutil.NewBlockingBackend()

	out, err := executeRun(t, &RunOptions{Backend: hw, Timeout: 50 * time.Millisecond}, path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "run stopped")
	assert.Contains(t, out, "stopped")
	assert.Contains(t, out, "1 failed, 1 queued")
}

func TestRunJSONOutput(t *testing.T) {
	opts := &RunOptions{RootOptions: &RootOptions{Format: "json"}, RunID: "r-json"}
	out, err := executeRun(t, opts, "testdata/protocols/pause.yaml")
	require.NoError(t, err)

	var resp struct {
		Status string    `json:"status"`
		RunID  string    `json:"run_id"`
		Data   RunResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, "r-json", resp.RunID)
	assert.Equal(t, ir.RunSucceeded, resp.Data.Status)
	assert.Equal(t, 3, resp.Data.Succeeded)
	assert.NotEmpty(t, resp.Data.Hash)
}

func TestRunJSONOutputReportsFailedRun(t *testing.T) {
	opts := &RunOptions{RootOptions: &RootOptions{Format: "json"}, RunID: "r-fail"}
	out, err := executeRun(t, opts, "testdata/protocols/over_aspirate.yaml")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))

	var resp struct {
		Status    string       `json:"status"`
		RunStatus ir.RunStatus `json:"run_status"`
		Error     *CLIError    `json:"error"`
		Data      RunResult    `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "error", resp.Status)
	assert.Equal(t, ir.RunFailed, resp.RunStatus)
	require.NotNil(t, resp.Error)
	assert.Equal(t, ErrCodeRunFailed, resp.Error.Code)
	assert.Equal(t, 1, resp.Data.Failed)
}

func TestRunPersistsActionLog(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "runs.db")
	opts := &RunOptions{Database: dbPath, RunID: "r-db"}
	_, err := executeRun(t, opts, "testdata/protocols/transfer.yaml")
	require.NoError(t, err)

	st, err := store.Open(dbPath)
	require.NoError(t, err)
	defer st.Close()

	rec, err := st.GetRun(context.Background(), "r-db")
	require.NoError(t, err)
	assert.Equal(t, ir.RunSucceeded, rec.Status)

	rs, err := st.GetRunState(context.Background(), "r-db")
	require.NoError(t, err)
	assert.Equal(t, ir.RunSucceeded, rs.Status)
	assert.Equal(t, 8, rs.Commands[ir.CommandSucceeded])
	assert.Len(t, rs.State.Snapshot().LabwareOffsets, 1)
	assert.EqualValues(t, 1, rs.State.RunTimeParameters()["sample_count"])
}

func TestRunWithMetricsServer(t *testing.T) {
	opts := &RunOptions{MetricsAddr: "127.0.0.1:0"}
	_, err := executeRun(t, opts, "testdata/protocols/pause.yaml")
	require.NoError(t, err)
}

func TestRunInvalidProtocol(t *testing.T) {
	_, err := executeRun(t, &RunOptions{}, "testdata/protocols/invalid.yaml")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "invalid protocol")
}

func TestRunMissingProtocol(t *testing.T) {
	_, err := executeRun(t, &RunOptions{}, "/nonexistent/protocol.yaml")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), ErrCodeNotFound)
}

func TestRunBadConfig(t *testing.T) {
	cfgPath := filepath.Join(t.TempDir(), "engine.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("subscriber_buffer: -1\n"), 0o644))

	opts := &RunOptions{RootOptions: &RootOptions{Format: "text", Config: cfgPath}}
	_, err := executeRun(t, opts, "testdata/protocols/pause.yaml")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "failed to load config")
}

func TestRunHelpText(t *testing.T) {
	buf := &bytes.Buffer{}
	cmd := NewRunCommand(&RootOptions{Format: "text"})
	cmd.SetOut(buf)
	cmd.SetArgs([]string{"--help"})

	require.NoError(t, cmd.Execute())

	output := buf.String()
	assert.Contains(t, output, "Run a protocol file through the protocol engine")
	assert.Contains(t, output, "--db")
	assert.Contains(t, output, "protocol.yaml")
}
