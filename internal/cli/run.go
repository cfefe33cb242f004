package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/roach88/protoengine/internal/engine"
	"github.com/roach88/protoengine/internal/execution"
	"github.com/roach88/protoengine/internal/ir"
	"github.com/roach88/protoengine/internal/state"
	"github.com/roach88/protoengine/internal/store"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	Database    string
	RunID       string
	MetricsAddr string
	Timeout     time.Duration

	// Backend overrides the hardware backend (for testing).
	// If nil, defaults to the simulator.
	Backend execution.Backend

	// IDs overrides the id generator (for testing).
	// If nil, defaults to UUIDv7Generator.
	IDs engine.IDGenerator
}

// RunResult is the summary printed when a run ends.
type RunResult struct {
	RunID     string               `json:"run_id"`
	Name      string               `json:"name,omitempty"`
	Status    ir.RunStatus         `json:"status"`
	Commands  int                  `json:"commands"`
	Succeeded int                  `json:"succeeded"`
	Failed    int                  `json:"failed"`
	Queued    int                  `json:"queued"`
	Seq       int64                `json:"seq"`
	Hash      string               `json:"hash"`
	Errors    []ir.ErrorOccurrence `json:"errors,omitempty"`
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run <protocol.yaml>",
		Short: "Run a protocol against the simulator",
		Long: `Run a protocol file through the protocol engine.

Run-time parameters and labware offsets are applied first, then every
command is queued and the run is started. Pauses requested by the protocol
are resumed automatically. A recoverable command failure fails the run,
because there is no operator to choose a recovery.

With --db, every action is persisted so the run can be replayed.

Example:
  protoengine run ./protocol.yaml
  protoengine run --db ./runs.db --metrics-addr :9090 ./protocol.yaml`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runProtocol(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database for the action log")
	cmd.Flags().StringVar(&opts.RunID, "run-id", "", "run id (default: random UUID)")
	cmd.Flags().StringVar(&opts.MetricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address while running")
	cmd.Flags().DurationVar(&opts.Timeout, "timeout", 0, "stop the run after this long (0 = no limit)")

	return cmd
}

func runProtocol(opts *RunOptions, path string, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	logger, closeLog, err := newLogger(opts.RootOptions, cmd.ErrOrStderr())
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to set up logging", err)
	}
	defer func() { _ = closeLog() }()

	cfg, err := loadConfig(opts.Config)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load config", err)
	}

	protocol, loadErrors := LoadProtocol(path, LoadModeFailFast)
	if len(loadErrors) > 0 {
		return WrapExitError(ExitCommandError, "invalid protocol", loadErrors[0])
	}

	runID := opts.RunID
	if runID == "" {
		runID = uuid.NewString()
	}

	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, stopSignals := signal.NotifyContext(parentCtx, os.Interrupt, syscall.SIGTERM)
	defer stopSignals()

	registry := prometheus.NewRegistry()
	engineOpts := []engine.EngineOption{
		engine.WithConfig(cfg),
		engine.WithLogger(logger),
		engine.WithMetrics(registry),
		engine.WithRecoveryPolicy(engine.NeverRecover),
	}
	if opts.IDs != nil {
		engineOpts = append(engineOpts, engine.WithIDs(opts.IDs))
	}

	var st *store.Store
	if opts.Database != "" {
		logger.Debug("opening database", "path", opts.Database)
		st, err = store.Open(opts.Database)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to open database", err)
		}
		defer func() {
			if closeErr := st.Close(); closeErr != nil {
				logger.Error("error closing database", "error", closeErr)
			}
		}()
		if err := st.CreateRun(ctx, runID, cfg.StateConfig(), time.Now().UTC()); err != nil {
			return WrapExitError(ExitCommandError, "failed to create run", err)
		}
		engineOpts = append(engineOpts, engine.WithActionLog(st.Log(runID)))
	}

	hw := opts.Backend
	if hw == nil {
		hw = execution.NewSimulator()
	}
	eng, err := engine.New(hw, engineOpts...)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to create engine", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := eng.Run(gctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})

	var metricsSrv *http.Server
	if opts.MetricsAddr != "" {
		metricsSrv, err = serveMetrics(g, opts.MetricsAddr, registry, logger)
		if err != nil {
			eng.Close()
			_ = g.Wait()
			return WrapExitError(ExitCommandError, "failed to start metrics server", err)
		}
	}

	logger.Info("run starting", "run_id", runID, "protocol", protocol.Name, "commands", len(protocol.Commands))
	driveErr := drive(ctx, eng, protocol, opts.Timeout, logger)

	final := eng.Snapshot()
	eng.Close()
	if metricsSrv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		_ = metricsSrv.Shutdown(shutdownCtx)
		cancel()
	}
	if err := g.Wait(); err != nil {
		return WrapExitError(ExitFailure, "engine error", err)
	}

	if st != nil {
		if err := st.SetRunStatus(context.Background(), runID, final.Status()); err != nil {
			logger.Error("failed to record run status", "run_id", runID, "error", err)
		}
	}
	if driveErr != nil {
		return WrapExitError(ExitFailure, "run aborted", driveErr)
	}

	result, err := summarize(runID, protocol.Name, eng.Seq(), final)
	if err != nil {
		return WrapExitError(ExitFailure, "failed to hash final state", err)
	}
	if err := outputRunResult(formatter, result); err != nil {
		return err
	}
	return RunExitError(result.Status)
}

// drive applies the protocol's setup, queues its commands and plays the
// run to a terminal status. The run is stopped when ctx is cancelled or
// the timeout expires.
func drive(ctx context.Context, eng *engine.Engine, p *Protocol, timeout time.Duration, logger *slog.Logger) error {
	if len(p.RunTimeParameters) > 0 {
		if err := eng.SetRunTimeParameters(ctx, p.RunTimeParameters); err != nil {
			return fmt.Errorf("set run-time parameters: %w", err)
		}
	}
	for _, off := range p.LabwareOffsets {
		if _, err := eng.AddLabwareOffset(ctx, off.DefinitionURI, off.Location(), off.Vector); err != nil {
			return fmt.Errorf("add labware offset for %s: %w", off.DefinitionURI, err)
		}
	}
	for i, req := range p.Commands {
		if _, err := eng.Enqueue(ctx, req); err != nil {
			return fmt.Errorf("commands[%d]: %w", i, err)
		}
	}

	runCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	if err := eng.Play(runCtx); err != nil {
		return fmt.Errorf("play: %w", err)
	}

	for {
		s, err := eng.WaitFor(runCtx, resumable)
		if err != nil {
			if runCtx.Err() == nil {
				return err
			}
			logger.Warn("stopping run", "reason", runCtx.Err())
			stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := eng.Stop(stopCtx); err != nil && !engine.IsInvalidTransition(err) {
				return fmt.Errorf("stop: %w", err)
			}
			_, err := eng.WaitUntilTerminal(stopCtx)
			return err
		}
		if s.Status().IsTerminal() {
			return nil
		}
		logger.Info("resuming paused run", "pause_source", s.Run().PauseSource)
		if err := eng.Play(runCtx); err != nil && !engine.IsInvalidTransition(err) {
			return fmt.Errorf("play: %w", err)
		}
	}
}

// resumable matches a terminal run or one paused by the protocol itself.
func resumable(s *state.State) bool {
	if s.Status().IsTerminal() {
		return true
	}
	return s.Status() == ir.RunPaused && !s.Run().DoorBlocking
}

func serveMetrics(g *errgroup.Group, addr string, reg *prometheus.Registry, logger *slog.Logger) (*http.Server, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	logger.Info("serving metrics", "addr", ln.Addr().String())
	g.Go(func() error {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	return srv, nil
}

func summarize(runID, name string, seq int64, snap state.Snapshot) (RunResult, error) {
	hash, err := snap.Hash()
	if err != nil {
		return RunResult{}, err
	}
	result := RunResult{
		RunID:    runID,
		Name:     name,
		Status:   snap.Status(),
		Commands: len(snap.Commands),
		Seq:      seq,
		Hash:     hash,
		Errors:   snap.Errors,
	}
	for _, c := range snap.Commands {
		switch c.Status {
		case ir.CommandSucceeded:
			result.Succeeded++
		case ir.CommandFailed:
			result.Failed++
		case ir.CommandQueued:
			result.Queued++
		}
	}
	return result, nil
}

func outputRunResult(f *OutputFormatter, r RunResult) error {
	if f.Format == "json" {
		return f.Run(r.RunID, r.Status, r)
	}
	writeRunText(f.Writer, r)
	return nil
}

func writeRunText(w io.Writer, r RunResult) {
	mark := "✓"
	if r.Status != ir.RunSucceeded {
		mark = "✗"
	}
	fmt.Fprintf(w, "%s %s (%s): %s\n", mark, displayName(r.Name), r.RunID, r.Status)
	fmt.Fprintf(w, "  commands: %d succeeded, %d failed, %d queued\n", r.Succeeded, r.Failed, r.Queued)
	for _, e := range r.Errors {
		if e.CommandID != "" {
			fmt.Fprintf(w, "  error: %s (%s) %s\n", e.Code, e.CommandID, e.Detail)
		} else {
			fmt.Fprintf(w, "  error: %s %s\n", e.Code, e.Detail)
		}
	}
	fmt.Fprintf(w, "  actions: %d\n", r.Seq)
	fmt.Fprintf(w, "  hash: %s\n", r.Hash)
}
