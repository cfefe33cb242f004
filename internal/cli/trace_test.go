package cli

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/protoengine/internal/action"
	"github.com/roach88/protoengine/internal/harness"
	"github.com/roach88/protoengine/internal/ir"
)

func executeTrace(t *testing.T, opts *RootOptions, args ...string) (string, error) {
	t.Helper()
	buf := &bytes.Buffer{}
	cmd := NewTraceCommand(opts)
	cmd.SetOut(buf)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)
	err := cmd.Execute()
	return buf.String(), err
}

func TestTraceMissingFlags(t *testing.T) {
	_, err := executeTrace(t, &RootOptions{Format: "text"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "required flag")
}

func TestTraceTimeline(t *testing.T) {
	dbPath := recordRun(t, "r1", "testdata/protocols/pause.yaml")

	out, err := executeTrace(t, &RootOptions{Format: "text"}, "--db", dbPath, "--run", "r1")
	require.NoError(t, err)

	assert.Contains(t, out, "Run: r1 (succeeded)")
	assert.Contains(t, out, "[1] queue_command command-1 (comment)")
	assert.Contains(t, out, "play -> running")
	assert.Contains(t, out, "(waitForResume)")
	assert.Contains(t, out, "pause -> paused")
	assert.Contains(t, out, "finish -> succeeded")
	assert.Contains(t, out, "Commands succeeded: 3")
	assert.Contains(t, out, "Complete: yes")
}

func TestTraceFilterByType(t *testing.T) {
	dbPath := recordRun(t, "r1", "testdata/protocols/over_aspirate.yaml")

	out, err := executeTrace(t, &RootOptions{Format: "json"},
		"--db", dbPath, "--run", "r1", "--type", string(action.TypeCommandFailed))
	require.NoError(t, err)

	var resp struct {
		RunID string      `json:"run_id"`
		Data  TraceResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "r1", resp.RunID)
	require.Len(t, resp.Data.Timeline, 1)

	failed := resp.Data.Timeline[0]
	assert.Equal(t, "command-6", failed.CommandID)
	assert.Equal(t, ir.KindAspirate, failed.CommandType)
	assert.Equal(t, ir.ErrCodeFatalEngine, failed.ErrorCode)

	assert.Equal(t, ir.RunFailed, resp.Data.Stats.Status)
	assert.Equal(t, 7, resp.Data.Stats.ByType[action.TypeQueueCommand])
	assert.Equal(t, 1, resp.Data.Stats.Commands[ir.CommandQueued])
	assert.Greater(t, resp.Data.Stats.TotalActions, len(resp.Data.Timeline))
}

func TestTraceFilterByCommand(t *testing.T) {
	dbPath := recordRun(t, "r1", "testdata/protocols/pause.yaml")

	out, err := executeTrace(t, &RootOptions{Format: "text", Verbose: true},
		"--db", dbPath, "--run", "r1", "--command", "command-2")
	require.NoError(t, err)

	assert.Contains(t, out, "queue_command command-2 (waitForResume)")
	assert.Contains(t, out, "command_succeeded command-2 (waitForResume)")
	assert.NotContains(t, out, "command-1")
	assert.Contains(t, out, "    pause: 1")
}

func TestTraceUnknownType(t *testing.T) {
	_, err := executeTrace(t, &RootOptions{Format: "text"}, "--db", "unused.db", "--run", "r1", "--type", "teleport")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), `unknown action type "teleport"`)
}

func TestTraceUnknownRun(t *testing.T) {
	dbPath := recordRun(t, "r1", "testdata/protocols/pause.yaml")

	_, err := executeTrace(t, &RootOptions{Format: "text"}, "--db", dbPath, "--run", "nope")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "run nope not found")
}

func TestFilterTimeline(t *testing.T) {
	trace := []harness.TraceEvent{
		{Seq: 1, Type: action.TypeQueueCommand, CommandID: "a"},
		{Seq: 2, Type: action.TypeQueueCommand, CommandID: "b"},
		{Seq: 3, Type: action.TypePlay},
		{Seq: 4, Type: action.TypeCommandStarted, CommandID: "a"},
	}

	assert.Len(t, filterTimeline(trace, "", ""), 4)
	assert.Len(t, filterTimeline(trace, action.TypeQueueCommand, ""), 2)
	assert.Len(t, filterTimeline(trace, "", "a"), 2)

	both := filterTimeline(trace, action.TypeCommandStarted, "a")
	require.Len(t, both, 1)
	assert.Equal(t, int64(4), both[0].Seq)
}
