package harness

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/roach88/protoengine/internal/action"
	"github.com/roach88/protoengine/internal/engine"
	"github.com/roach88/protoengine/internal/execution"
	"github.com/roach88/protoengine/internal/ir"
	"github.com/roach88/protoengine/internal/state"
	"github.com/roach88/protoengine/internal/store"
	"github.com/roach88/protoengine/internal/testutil"
)

// Mode selects the backend a scenario runs against.
type Mode string

const (
	// ModeSimulate runs against the simulator.
	ModeSimulate Mode = "simulate"
	// ModeRecord runs against a recording backend standing in for a robot
	// and reports every hardware call in Result.Calls.
	ModeRecord Mode = "record"
)

// Harness runs one scenario with a deterministic clock and id sequence.
type Harness struct {
	engine  *engine.Engine
	backend *testutil.FaultyBackend
	store   *store.Store
	runID   string
	events  *eventCounter
	logger  *slog.Logger
	timeout time.Duration
	result  *Result
}

// Option configures a scenario run.
type Option func(*options)

type options struct {
	mode   Mode
	logger *slog.Logger
	dbPath string
}

// WithMode selects the backend. The default is ModeSimulate.
func WithMode(m Mode) Option {
	return func(o *options) { o.mode = m }
}

// WithLogger sets the logger passed to the engine. The default discards.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithDatabase persists the action log to the SQLite file at path instead
// of an in-memory database.
func WithDatabase(path string) Option {
	return func(o *options) { o.dbPath = path }
}

// Run executes a scenario and returns the result.
func Run(scenario *Scenario, opts ...Option) (*Result, error) {
	return RunContext(context.Background(), scenario, opts...)
}

// RunContext executes a scenario and returns the result.
//
// Each scenario runs in a fresh engine and store for isolation.
// Execution flow:
// 1. Create the store and register the run
// 2. Start the engine over a faulty simulator (wrapped for ModeRecord)
// 3. Apply each step, waiting for the engine to accept it
// 4. Close the engine and read the action log back from the store
// 5. Build the trace, verify replay and evaluate assertions
//
// A step the engine rejects unexpectedly, or a wait that times out, is
// recorded in Result.Errors and ends the step list. The returned error is
// reserved for infrastructure failures.
func RunContext(ctx context.Context, scenario *Scenario, opts ...Option) (*Result, error) {
	o := options{
		mode:   ModeSimulate,
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)), // Suppress logs in tests
		dbPath: ":memory:",
	}
	for _, opt := range opts {
		opt(&o)
	}

	st, err := store.Open(o.dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}
	defer st.Close()

	cfg := engineConfig(scenario)
	clock := testutil.NewStepClock(time.Millisecond)
	runID := scenario.Name
	if err := st.CreateRun(ctx, runID, cfg.StateConfig(), testutil.Epoch); err != nil {
		return nil, fmt.Errorf("failed to create run: %w", err)
	}

	faulty := testutil.NewFaultyBackend()
	var hw execution.Backend = faulty
	var recorder *testutil.RecordingBackend
	switch o.mode {
	case ModeSimulate:
	case ModeRecord:
		recorder = testutil.NewRecordingBackend(faulty)
		hw = recorder
	default:
		return nil, fmt.Errorf("unknown mode %q", o.mode)
	}

	events := &eventCounter{counts: map[action.HardwareEventKind]int{}}
	engineOpts := []engine.EngineOption{
		engine.WithConfig(cfg),
		engine.WithLogger(o.logger),
		engine.WithClock(clock),
		engine.WithIDs(engine.NewSequenceGenerator()),
		engine.WithActionLog(st.Log(runID)),
		engine.WithActionLog(events),
	}
	if scenario.Config.NeverRecover {
		engineOpts = append(engineOpts, engine.WithRecoveryPolicy(engine.NeverRecover))
	}
	eng, err := engine.New(hw, engineOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create engine: %w", err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	runErr := make(chan error, 1)
	go func() { runErr <- eng.Run(runCtx) }()

	h := &Harness{
		engine:  eng,
		backend: faulty,
		store:   st,
		runID:   runID,
		events:  events,
		logger:  o.logger,
		timeout: scenario.timeout(),
		result:  NewResult(),
	}

	for i, step := range scenario.Steps {
		if err := h.executeStep(ctx, step); err != nil {
			h.result.AddError(fmt.Sprintf("step %d (%s): %v", i, step.kind(), err))
			break
		}
	}

	eng.Close()
	if err := <-runErr; err != nil && !errors.Is(err, context.Canceled) {
		return nil, fmt.Errorf("engine stopped: %w", err)
	}

	if err := h.collect(ctx, cfg); err != nil {
		return nil, err
	}
	if recorder != nil {
		h.result.Calls = recorder.Calls()
	}

	for _, errMsg := range EvaluateAssertions(h.result, scenario.Assertions) {
		h.result.AddError(errMsg)
	}
	return h.result, nil
}

func engineConfig(s *Scenario) engine.Config {
	cfg := engine.DefaultConfig()
	cfg.ModulePollInterval = 0
	if s.usesSwitches() {
		cfg.ModulePollInterval = 2 * time.Millisecond
	}
	cfg.BlockOnDoorOpen = s.Config.BlockOnDoorOpen
	cfg.MaxCommands = s.Config.MaxCommands
	return cfg
}

// executeStep applies one step. A rejection matching ExpectError passes.
func (h *Harness) executeStep(ctx context.Context, step Step) error {
	err := h.apply(ctx, step)
	if step.ExpectError == "" {
		return err
	}

	var rtErr *engine.RuntimeError
	switch {
	case err == nil:
		return fmt.Errorf("expected %s, step was accepted", step.ExpectError)
	case !errors.As(err, &rtErr):
		return fmt.Errorf("expected %s, got %w", step.ExpectError, err)
	case string(rtErr.Code) != step.ExpectError:
		return fmt.Errorf("expected %s, got %s", step.ExpectError, rtErr.Code)
	}
	h.logger.Debug("step rejected as expected", "step", step.kind(), "code", rtErr.Code)
	return nil
}

func (h *Harness) apply(ctx context.Context, step Step) error {
	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	e := h.engine
	switch {
	case step.Enqueue != nil:
		_, err := e.Enqueue(ctx, *step.Enqueue)
		return err
	case step.InsertAt != nil:
		_, err := e.InsertAt(ctx, step.InsertAt.Index, step.InsertAt.Command)
		return err
	case step.Control == ControlPlay:
		return e.Play(ctx)
	case step.Control == ControlPause:
		return e.Pause(ctx)
	case step.Control == ControlStop:
		return e.Stop(ctx)
	case step.Resume != nil:
		return e.ResumeFromRecovery(ctx, engine.RecoveryOptions{RetryFailed: step.Resume.RetryFailed})
	case step.WaitFor != "":
		if _, err := e.WaitForStatus(ctx, step.WaitFor); err != nil {
			return fmt.Errorf("waiting for %s (run is %s): %w", step.WaitFor, e.State().Status(), err)
		}
		return nil
	case step.FailNext != nil:
		h.backend.FailNext(step.FailNext.Method, &execution.HardwareError{
			Kind:    faultKinds[step.FailNext.Error],
			Message: "injected " + step.FailNext.Error + " failure",
		})
		return nil
	case step.Door != "":
		kind := action.DoorClosed
		if step.Door == execution.DoorOpen {
			kind = action.DoorOpened
		}
		seen := h.events.count(kind)
		h.backend.SetDoor(step.Door)
		return h.waitEvent(ctx, kind, seen)
	case step.Estop != "":
		kind := action.EstopReleased
		if step.Estop == execution.EstopEngaged {
			kind = action.EstopEngaged
		}
		seen := h.events.count(kind)
		h.backend.SetEstop(step.Estop)
		return h.waitEvent(ctx, kind, seen)
	}
	return fmt.Errorf("empty step")
}

// waitEvent blocks until the poller has reported kind more than seen times.
func (h *Harness) waitEvent(ctx context.Context, kind action.HardwareEventKind, seen int) error {
	_, err := h.engine.WaitFor(ctx, func(*state.State) bool {
		return h.events.count(kind) > seen
	})
	if err != nil {
		return fmt.Errorf("waiting for %s: %w", kind, err)
	}
	return nil
}

// collect reads the persisted log, builds the trace and checks that
// replaying the log reproduces the live state.
func (h *Harness) collect(ctx context.Context, cfg engine.Config) error {
	snap := h.engine.Snapshot()
	hash, err := snap.Hash()
	if err != nil {
		return fmt.Errorf("failed to hash snapshot: %w", err)
	}
	h.result.Snapshot = snap
	h.result.Hash = hash

	if err := h.store.SetRunStatus(ctx, h.runID, snap.Status()); err != nil {
		return fmt.Errorf("failed to record run status: %w", err)
	}
	envs, err := h.store.ReadActions(ctx, h.runID)
	if err != nil {
		return fmt.Errorf("failed to read action log: %w", err)
	}
	h.result.Envelopes = envs

	trace, err := BuildTrace(cfg.StateConfig(), envs)
	if err != nil {
		return fmt.Errorf("failed to build trace: %w", err)
	}
	h.result.Trace = trace

	replayed, err := engine.VerifyReplay(cfg, envs)
	switch {
	case err != nil:
		h.result.AddError(fmt.Sprintf("replay: %v", err))
	case replayed != hash:
		h.result.AddError(fmt.Sprintf("replay: hash %s differs from live state %s", replayed, hash))
	}
	return nil
}

// eventCounter is an action sink counting hardware events by kind.
type eventCounter struct {
	mu     sync.Mutex
	counts map[action.HardwareEventKind]int
}

func (c *eventCounter) WriteAction(env action.Envelope) error {
	if env.Type != action.TypeHardwareEvent {
		return nil
	}
	a, err := action.Decode(env)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.counts[a.(action.HardwareEvent).Event]++
	return nil
}

func (c *eventCounter) count(kind action.HardwareEventKind) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.counts[kind]
}

// commandStatus returns a command's status from the final snapshot.
func commandStatus(s state.Snapshot, id string) (ir.Command, bool) {
	for _, cmd := range s.Commands {
		if cmd.ID == id {
			return cmd, true
		}
	}
	return ir.Command{}, false
}
