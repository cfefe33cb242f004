package cli

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/roach88/protoengine/internal/action"
	"github.com/roach88/protoengine/internal/harness"
	"github.com/roach88/protoengine/internal/ir"
	"github.com/roach88/protoengine/internal/store"
)

// TraceOptions holds flags for the trace command.
type TraceOptions struct {
	*RootOptions
	Database string
	RunID    string
	Type     string // optional - filter to one action type
	Command  string // optional - filter to one command id
}

// TraceResult holds the complete trace output.
type TraceResult struct {
	RunID    string               `json:"run_id"`
	Timeline []harness.TraceEvent `json:"timeline"`
	Stats    TraceStats           `json:"stats"`
}

// TraceStats holds summary statistics for the run.
type TraceStats struct {
	TotalActions int                      `json:"total_actions"`
	ByType       map[action.Type]int      `json:"by_type"`
	Commands     map[ir.CommandStatus]int `json:"commands"`
	Status       ir.RunStatus             `json:"status"`
	IsComplete   bool                     `json:"is_complete"`
}

// NewTraceCommand creates the trace command.
func NewTraceCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TraceOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "trace",
		Short: "Show the action timeline of a run",
		Long: `Show the action timeline of a stored run.

Each line is one dispatched action with the command it concerns, the error
code it carried, and the run status it moved to.

Examples:
  protoengine trace --db ./runs.db --run 0190c2e4-...
  protoengine trace --db ./runs.db --run 0190c2e4-... --type command_failed
  protoengine trace --db ./runs.db --run 0190c2e4-... --command command-3 --format json`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTrace(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (required)")
	_ = cmd.MarkFlagRequired("db")
	cmd.Flags().StringVar(&opts.RunID, "run", "", "run id to trace (required)")
	_ = cmd.MarkFlagRequired("run")
	cmd.Flags().StringVar(&opts.Type, "type", "", "filter to one action type")
	cmd.Flags().StringVar(&opts.Command, "command", "", "filter to one command id")

	return cmd
}

func runTrace(opts *TraceOptions, cmd *cobra.Command) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	if opts.Type != "" && !isActionType(action.Type(opts.Type)) {
		return NewExitError(ExitCommandError, fmt.Sprintf("unknown action type %q", opts.Type))
	}

	st, err := store.Open(opts.Database)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open database", err)
	}
	defer st.Close()

	rs, err := st.GetRunState(ctx, opts.RunID)
	if err != nil {
		if errors.Is(err, store.ErrRunNotFound) {
			return WrapExitError(ExitCommandError, fmt.Sprintf("run %s not found", opts.RunID), err)
		}
		return WrapExitError(ExitCommandError, "failed to get run state", err)
	}

	envs, err := st.ReadActions(ctx, opts.RunID)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read actions", err)
	}
	trace, err := harness.BuildTrace(rs.State.Config(), envs)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to build trace", err)
	}

	result := TraceResult{
		RunID:    opts.RunID,
		Timeline: filterTimeline(trace, action.Type(opts.Type), opts.Command),
		Stats: TraceStats{
			TotalActions: len(trace),
			ByType:       countByType(trace),
			Commands:     rs.Commands,
			Status:       rs.Status,
			IsComplete:   rs.IsComplete(),
		},
	}

	if opts.Format == "json" {
		return outputTraceJSON(cmd, result)
	}
	return outputTraceText(cmd, result, opts.Verbose)
}

// filterTimeline keeps the events matching both filters. Empty filters
// match everything.
func filterTimeline(trace []harness.TraceEvent, typ action.Type, commandID string) []harness.TraceEvent {
	timeline := make([]harness.TraceEvent, 0, len(trace))
	for _, ev := range trace {
		if typ != "" && ev.Type != typ {
			continue
		}
		if commandID != "" && ev.CommandID != commandID {
			continue
		}
		timeline = append(timeline, ev)
	}
	return timeline
}

func countByType(trace []harness.TraceEvent) map[action.Type]int {
	counts := make(map[action.Type]int)
	for _, ev := range trace {
		counts[ev.Type]++
	}
	return counts
}

func isActionType(t action.Type) bool {
	switch t {
	case action.TypeQueueCommand, action.TypeCommandStarted, action.TypeCommandSucceeded,
		action.TypeCommandFailed, action.TypePlay, action.TypePause, action.TypeStop,
		action.TypeResumeFromRecovery, action.TypeFinish, action.TypeHardwareEvent,
		action.TypeModuleStatus, action.TypeAddLabwareOffset, action.TypeSetRunTimeParameters:
		return true
	}
	return false
}

// outputTraceJSON outputs trace result as JSON.
func outputTraceJSON(cmd *cobra.Command, result TraceResult) error {
	return jsonOutput(cmd).Encode(CLIResponse{
		Status:    "ok",
		RunID:     result.RunID,
		RunStatus: result.Stats.Status,
		Data:      result,
	})
}

// outputTraceText outputs trace result in human-readable format.
func outputTraceText(cmd *cobra.Command, result TraceResult, verbose bool) error {
	out := cmd.OutOrStdout()

	fmt.Fprintf(out, "Run: %s (%s)\n\n", result.RunID, result.Stats.Status)

	if len(result.Timeline) == 0 {
		fmt.Fprintln(out, "No matching actions.")
	} else {
		fmt.Fprintln(out, "Timeline:")
		for _, ev := range result.Timeline {
			fmt.Fprintf(out, "  %s\n", ev)
		}
	}
	fmt.Fprintln(out)

	fmt.Fprintln(out, "Stats:")
	fmt.Fprintf(out, "  Total actions: %d\n", result.Stats.TotalActions)
	if verbose {
		types := make([]string, 0, len(result.Stats.ByType))
		for t := range result.Stats.ByType {
			types = append(types, string(t))
		}
		sort.Strings(types)
		for _, t := range types {
			fmt.Fprintf(out, "    %s: %d\n", t, result.Stats.ByType[action.Type(t)])
		}
	}
	for _, status := range []ir.CommandStatus{ir.CommandSucceeded, ir.CommandFailed, ir.CommandQueued, ir.CommandRunning} {
		if n := result.Stats.Commands[status]; n > 0 {
			fmt.Fprintf(out, "  Commands %s: %d\n", status, n)
		}
	}
	complete := "no"
	if result.Stats.IsComplete {
		complete = "yes"
	}
	fmt.Fprintf(out, "  Complete: %s\n", complete)

	return nil
}
