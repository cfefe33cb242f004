package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/protoengine/internal/engine"
	"github.com/roach88/protoengine/internal/ir"
	"github.com/roach88/protoengine/internal/state"
	"github.com/roach88/protoengine/internal/store"
)

// ReplayOptions holds flags for the replay command.
type ReplayOptions struct {
	*RootOptions
	Database string
	RunID    string // optional - specific run only
}

// ReplayRunResult holds the replay result for a single run.
type ReplayRunResult struct {
	RunID         string       `json:"run_id"`
	Actions       int          `json:"actions"`
	Status        ir.RunStatus `json:"status"`
	StoredStatus  ir.RunStatus `json:"stored_status"`
	Commands      int          `json:"commands"`
	Succeeded     int          `json:"succeeded"`
	Failed        int          `json:"failed"`
	IsComplete    bool         `json:"is_complete"`
	Hash          string       `json:"hash,omitempty"`
	Deterministic bool         `json:"deterministic"`
	Error         string       `json:"error,omitempty"`
}

// ReplayResult holds the overall replay result.
type ReplayResult struct {
	Runs             []ReplayRunResult `json:"runs"`
	TotalRuns        int               `json:"total_runs"`
	AllDeterministic bool              `json:"all_deterministic"`
}

// NewReplayCommand creates the replay command.
func NewReplayCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ReplayOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Replay action logs and verify determinism",
		Long: `Replay stored action logs to verify determinism and report run statistics.

Each run's actions are folded through fresh reducers twice. The run is
deterministic when both replays produce the same state hash and that hash
matches the state rebuilt from the store.

Exit codes:
  0 - All runs are deterministic
  1 - Determinism verification failed (differences detected)
  2 - Command error (database not found, etc.)

Examples:
  protoengine replay --db ./runs.db
  protoengine replay --db ./runs.db --run 0190c2e4-...
  protoengine replay --db ./runs.db --format json`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReplay(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (required)")
	_ = cmd.MarkFlagRequired("db")
	cmd.Flags().StringVar(&opts.RunID, "run", "", "replay specific run only")

	return cmd
}

func runReplay(opts *ReplayOptions, cmd *cobra.Command) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	st, err := store.Open(opts.Database)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open database", err)
	}
	defer st.Close()

	var runIDs []string
	if opts.RunID != "" {
		if _, err := st.GetRun(ctx, opts.RunID); err != nil {
			if errors.Is(err, store.ErrRunNotFound) {
				return WrapExitError(ExitCommandError, fmt.Sprintf("run %s not found", opts.RunID), err)
			}
			return WrapExitError(ExitCommandError, "failed to read run", err)
		}
		runIDs = []string{opts.RunID}
	} else {
		runs, err := st.ListRuns(ctx)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to list runs", err)
		}
		for _, r := range runs {
			runIDs = append(runIDs, r.ID)
		}
	}

	result := ReplayResult{
		Runs:             make([]ReplayRunResult, 0, len(runIDs)),
		TotalRuns:        len(runIDs),
		AllDeterministic: true,
	}
	if len(runIDs) == 0 {
		if opts.Format == "json" {
			return outputReplayJSON(cmd, result)
		}
		fmt.Fprintln(cmd.OutOrStdout(), "No runs found in database.")
		return nil
	}

	for _, id := range runIDs {
		runResult, err := replayAndVerifyRun(ctx, st, id)
		if err != nil {
			return WrapExitError(ExitCommandError, fmt.Sprintf("failed to replay run %s", id), err)
		}
		result.Runs = append(result.Runs, runResult)
		if !runResult.Deterministic {
			result.AllDeterministic = false
		}
	}

	if opts.Format == "json" {
		if err := outputReplayJSON(cmd, result); err != nil {
			return err
		}
	} else {
		outputReplayText(cmd, result, opts.Verbose)
	}

	if !result.AllDeterministic {
		return NewExitError(ExitFailure, "determinism verification failed")
	}
	return nil
}

// replayAndVerifyRun replays a single run twice and checks the result
// against the state rebuilt by the store.
func replayAndVerifyRun(ctx context.Context, st *store.Store, runID string) (ReplayRunResult, error) {
	rec, err := st.GetRun(ctx, runID)
	if err != nil {
		return ReplayRunResult{}, err
	}
	envs, err := st.ReadActions(ctx, runID)
	if err != nil {
		return ReplayRunResult{}, err
	}

	out := ReplayRunResult{
		RunID:        runID,
		Actions:      len(envs),
		StoredStatus: rec.Status,
	}

	hash, err := engine.VerifyReplay(replayConfig(rec.Config), envs)
	if err != nil {
		// A log that cannot be replayed is reported, not fatal to the command.
		out.Error = err.Error()
		return out, nil
	}
	out.Hash = hash

	rs, err := st.GetRunState(ctx, runID)
	if err != nil {
		out.Error = err.Error()
		return out, nil
	}
	stored, err := rs.State.Snapshot().Hash()
	if err != nil {
		return ReplayRunResult{}, err
	}

	out.Status = rs.Status
	out.IsComplete = rs.IsComplete()
	out.Succeeded = rs.Commands[ir.CommandSucceeded]
	out.Failed = rs.Commands[ir.CommandFailed]
	for _, n := range rs.Commands {
		out.Commands += n
	}
	out.Deterministic = stored == hash
	if !out.Deterministic {
		out.Error = fmt.Sprintf("store state hash %s != replay hash %s", stored, hash)
	}
	return out, nil
}

// outputReplayJSON outputs replay results as JSON.
func outputReplayJSON(cmd *cobra.Command, result ReplayResult) error {
	return jsonOutput(cmd).Encode(CLIResponse{Status: "ok", Data: result})
}

// outputReplayText outputs replay results in human-readable format.
func outputReplayText(cmd *cobra.Command, result ReplayResult, verbose bool) {
	out := cmd.OutOrStdout()

	fmt.Fprintf(out, "Replaying %d run(s)...\n\n", result.TotalRuns)

	for _, r := range result.Runs {
		status := "✓"
		if !r.Deterministic {
			status = "✗"
		}
		fmt.Fprintf(out, "%s Run: %s\n", status, r.RunID)
		fmt.Fprintf(out, "  Actions: %d\n", r.Actions)
		if r.Error != "" {
			fmt.Fprintf(out, "  Error: %s\n", r.Error)
			fmt.Fprintln(out)
			continue
		}
		fmt.Fprintf(out, "  Status: %s\n", r.Status)
		fmt.Fprintf(out, "  Commands: %d (%d succeeded, %d failed)\n", r.Commands, r.Succeeded, r.Failed)
		if r.StoredStatus != "" && r.StoredStatus != r.Status {
			fmt.Fprintf(out, "  Stored status: %s\n", r.StoredStatus)
		}
		if verbose {
			fmt.Fprintf(out, "  Hash: %s\n", r.Hash)
		}
		complete := "no"
		if r.IsComplete {
			complete = "yes"
		}
		fmt.Fprintf(out, "  Complete: %s\n", complete)
		fmt.Fprintln(out)
	}

	if result.AllDeterministic {
		fmt.Fprintln(out, "All runs replayed deterministically.")
	} else {
		fmt.Fprintln(out, "Determinism verification FAILED for one or more runs.")
	}
}

// replayConfig rebuilds the engine settings a run was recorded with. Runs
// stored without deck slots replay without them rather than against the
// standard deck.
func replayConfig(cfg state.Config) engine.Config {
	slots := cfg.DeckSlots
	if slots == nil {
		slots = []string{}
	}
	return engine.Config{BlockOnDoorOpen: cfg.BlockOnDoorOpen, DeckSlots: slots}
}
