package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/roach88/protoengine/internal/action"
	"github.com/roach88/protoengine/internal/definitions"
	"github.com/roach88/protoengine/internal/execution"
	"github.com/roach88/protoengine/internal/ir"
	"github.com/roach88/protoengine/internal/schema"
	"github.com/roach88/protoengine/internal/state"
)

// Engine is the single-writer protocol engine event loop.
//
// Every action is dispatched from the Run loop goroutine, so dispatches are
// totally ordered and never overlap. Client calls are turned into request
// events and answered once the loop has processed them. Command execution
// runs on its own goroutine and reports back with a completion event, which
// keeps the loop free to accept Stop while hardware is moving.
//
// Thread-safety model:
//   - Enqueue, Play, Pause, Stop, ...: safe from any goroutine
//   - State, Snapshot, WaitFor, Subscribe: safe from any goroutine, never block the loop
//   - Run: must be called exactly once
//
// INVARIANTS:
//   - At most one command is executing (inflight != nil)
//   - A pending stop is dispatched right after the in-flight command completes
type Engine struct {
	cfg        Config
	logger     *slog.Logger
	clock      Clock
	ids        IDGenerator
	defs       definitions.Provider
	policy     RecoveryPolicy
	sinks      []action.Sink
	registerer prometheus.Registerer
	metrics    *engineMetrics

	hw        execution.Backend
	validator *schema.Validator
	executor  *execution.Executor
	store     *state.Store
	pipeline  *action.Pipeline
	queue     *eventQueue

	// Owned by the loop goroutine.
	inflight    *inflight
	pendingStop *action.Stop

	started   atomic.Bool
	changedMu sync.Mutex
	changed   chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

type inflight struct {
	command ir.Command
	cancel  context.CancelFunc
	started time.Time
}

// New creates an engine driving hw. Use execution.NewSimulator() for a
// simulated run.
func New(hw execution.Backend, opts ...EngineOption) (*Engine, error) {
	e := &Engine{
		cfg:     DefaultConfig(),
		logger:  slog.Default(),
		clock:   SystemClock{},
		ids:     UUIDv7Generator{},
		defs:    definitions.Builtin(),
		policy:  DefaultRecoveryPolicy,
		hw:      hw,
		queue:   newEventQueue(),
		changed: make(chan struct{}),
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(e)
	}

	metrics, err := newEngineMetrics(e.registerer)
	if err != nil {
		return nil, fmt.Errorf("register metrics: %w", err)
	}
	e.metrics = metrics

	if e.cfg.DefinitionCacheSize > 0 {
		cached, err := definitions.NewCached(e.defs, e.cfg.DefinitionCacheSize)
		if err != nil {
			return nil, fmt.Errorf("definition cache: %w", err)
		}
		e.defs = cached
	}

	deck, err := execution.NewDeck(e.cfg.DeckSlots)
	if err != nil {
		return nil, fmt.Errorf("deck: %w", err)
	}
	validator, err := schema.New()
	if err != nil {
		return nil, fmt.Errorf("command schema: %w", err)
	}
	e.validator = validator
	e.executor = execution.NewExecutor(hw, e.defs, deck, e.ids)
	e.store = state.NewStore(e.cfg.StateConfig())

	pipelineOpts := []action.PipelineOption{action.WithPipelineLogger(e.logger)}
	for _, s := range e.sinks {
		pipelineOpts = append(pipelineOpts, action.WithSink(s))
	}
	e.pipeline = action.NewPipeline(e.store, pipelineOpts...)
	return e, nil
}

// Run starts the event loop and, when configured, the hardware poller.
// It blocks until ctx is cancelled (returning ctx.Err()) or Close is called
// (returning nil).
//
// ERROR HANDLING: an action the reducers reject is logged with its context
// and the loop continues; fatal rejections fail the run.
func (e *Engine) Run(ctx context.Context) error {
	if !e.started.CompareAndSwap(false, true) {
		return errors.New("engine is already running")
	}
	defer e.shutdown()

	e.logger.Info("engine starting",
		"block_on_door_open", e.cfg.BlockOnDoorOpen,
		"module_poll_interval", e.cfg.ModulePollInterval,
	)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(runCtx)
	g.Go(func() error {
		defer cancel()
		return e.loop(gctx, ctx)
	})
	if e.cfg.ModulePollInterval > 0 {
		g.Go(func() error {
			e.poll(gctx)
			return nil
		})
	}
	return g.Wait()
}

// Close stops the engine. Run returns nil once the loop has exited.
func (e *Engine) Close() {
	for _, ev := range e.queue.Close() {
		if ev.Request != nil {
			ev.Request.reply <- reply{err: ErrEngineClosed}
		}
	}
	if !e.started.Load() {
		e.shutdown()
	}
}

func (e *Engine) shutdown() {
	e.closeOnce.Do(func() {
		e.queue.Close()
		if e.inflight != nil {
			e.inflight.cancel()
		}
		e.pipeline.CloseSubscriptions()
		close(e.done)
		e.logger.Info("engine stopped", "run_status", e.store.Current().Status(), "seq", e.pipeline.Seq())
	})
}

// loop is the single writer. parent distinguishes cancellation by the
// caller from the loop's own exit.
func (e *Engine) loop(ctx, parent context.Context) error {
	for {
		if ev, ok := e.queue.TryDequeue(); ok {
			e.process(ctx, ev)
			e.advance(ctx)
			continue
		}

		select {
		case <-ctx.Done():
			if parent.Err() != nil {
				e.logger.Info("engine stopping: context cancelled")
				return parent.Err()
			}
			return nil
		case _, ok := <-e.queue.Wait():
			if !ok && e.queue.Len() == 0 {
				e.logger.Info("engine stopping: closed")
				return nil
			}
		}
	}
}

func (e *Engine) process(ctx context.Context, ev Event) {
	switch ev.Type {
	case EventTypeRequest:
		v, err := ev.Request.fn()
		ev.Request.reply <- reply{value: v, err: err}
	case EventTypeCompletion:
		e.complete(ev.Completion)
	case EventTypeHardware:
		e.hardware(ev.Hardware)
	default:
		e.logger.Error("unknown event type", "event_type", ev.Type)
	}
}

// dispatch applies a through the pipeline and wakes waiters.
func (e *Engine) dispatch(a action.Action) error {
	before := e.store.Current().Status()
	if err := e.pipeline.Dispatch(a); err != nil {
		return err
	}
	e.metrics.recordAction(a)
	cur := e.store.Current()
	if after := cur.Status(); after != before {
		e.logger.Info("run status changed", "from", before, "to", after, "action", a.Type())
		if after.IsTerminal() {
			e.metrics.recordRun(after)
		}
	}
	e.metrics.setQueued(cur.QueuedCount(ir.IntentProtocol) + cur.QueuedCount(ir.IntentSetup))
	e.notify()
	return nil
}

// dispatchLogged dispatches an action the engine itself derived. A
// rejection here is an engine bug; fatal rejections fail the run.
func (e *Engine) dispatchLogged(a action.Action) {
	err := e.dispatch(a)
	if err == nil {
		return
	}
	e.logger.Error("action rejected", "action", a.Type(), "error", err)
	if state.IsFatal(err) && !e.store.Current().Status().IsTerminal() {
		occ := e.fatalOccurrence(err)
		if ferr := e.dispatch(action.Finish{At: occ.CreatedAt, Error: &occ}); ferr != nil {
			e.logger.Error("could not fail run after fatal error", "error", ferr)
		}
	}
}

func (e *Engine) notify() {
	e.changedMu.Lock()
	close(e.changed)
	e.changed = make(chan struct{})
	e.changedMu.Unlock()
}

func (e *Engine) fatalOccurrence(err error) ir.ErrorOccurrence {
	id := e.ids.NewID("error")
	at := e.clock.Now()
	e.metrics.recordError(ir.ErrCodeFatalEngine)
	var fe *state.FatalError
	if errors.As(err, &fe) {
		return fe.Occurrence(id, at)
	}
	return ir.ErrorOccurrence{ID: id, Code: ir.ErrCodeFatalEngine, Detail: err.Error(), Fatal: true, CreatedAt: at}
}

// advance starts the next command when the engine is idle, or finishes a
// running protocol whose queue has drained.
func (e *Engine) advance(ctx context.Context) {
	if e.inflight != nil || ctx.Err() != nil {
		return
	}

	s := e.store.Current()
	var next ir.Command
	var ok bool
	switch s.Status() {
	case ir.RunReady:
		next, ok = s.NextQueuedCommand(ir.IntentSetup)
	case ir.RunRunning:
		next, ok = s.NextQueuedCommand(ir.IntentSetup)
		if !ok {
			next, ok = s.NextQueuedCommand(ir.IntentProtocol)
		}
		if !ok {
			e.logger.Info("queue drained, finishing run")
			e.dispatchLogged(action.Finish{At: e.clock.Now()})
			return
		}
	default:
		// Paused, awaiting recovery or terminal: nothing starts.
		return
	}
	if !ok {
		return
	}
	e.start(ctx, next)
}

func (e *Engine) start(ctx context.Context, cmd ir.Command) {
	at := e.clock.Now()
	if err := e.dispatch(action.CommandStarted{CommandID: cmd.ID, StartedAt: at}); err != nil {
		e.logger.Error("command start rejected", "command_id", cmd.ID, "error", err)
		e.dispatchLogged(action.Finish{At: at, Error: ptr(e.fatalOccurrence(err))})
		return
	}

	view := e.store.Current()
	running, _ := view.Command(cmd.ID)
	execCtx, cancel := context.WithCancel(ctx)
	e.inflight = &inflight{command: running, cancel: cancel, started: at}

	e.logger.Debug("command started",
		"command_id", cmd.ID,
		"kind", cmd.Kind,
		"intent", cmd.Intent,
		"seq", e.pipeline.Seq(),
	)

	go func() {
		result, err := e.executor.Execute(execCtx, view, running)
		e.queue.Enqueue(Event{
			Type:       EventTypeCompletion,
			Completion: &completion{command: running, result: result, err: err},
		})
	}()
}

// complete turns the outcome of the in-flight command into actions.
func (e *Engine) complete(c *completion) {
	fl := e.inflight
	if fl == nil || fl.command.ID != c.command.ID {
		e.logger.Error("completion for a command that is not running", "command_id", c.command.ID)
		return
	}
	e.inflight = nil
	fl.cancel()
	stop := e.pendingStop
	e.pendingStop = nil

	cmd := c.command
	at := e.clock.Now()
	defer e.recordCommand(cmd.ID, at.Sub(fl.started))

	if c.err == nil {
		e.succeed(cmd, c.result, at, stop)
		return
	}

	ce, ok := execution.AsCommandError(c.err)
	if !ok {
		ce = &execution.CommandError{
			Code:      ir.ErrCodeUnexpected,
			Message:   "executor returned an untyped error",
			CommandID: cmd.ID,
			Operation: string(cmd.Kind),
			Wrapped:   c.err,
		}
	}
	if stop != nil {
		ce = ce.AsCancelled()
	}
	occ := ce.Occurrence(e.ids.NewID("error"), at)
	e.metrics.recordError(occ.Code)
	e.logger.Info("command failed",
		"command_id", cmd.ID,
		"kind", cmd.Kind,
		"code", occ.Code,
		"recoverable", occ.Recoverable,
		"error", ce.Message,
	)

	failed := func(r action.RecoveryType) {
		e.dispatchLogged(action.CommandFailed{CommandID: cmd.ID, Error: occ, Recovery: r, CompletedAt: at})
	}

	switch {
	case stop != nil || ce.Cancelled():
		failed(action.StopRun)
		if stop == nil {
			stop = &action.Stop{At: at}
		}
		e.dispatchLogged(*stop)
	case occ.Code == ir.ErrCodeEstopActivated:
		failed(action.StopRun)
		e.dispatchLogged(action.Stop{At: at, FromEstop: true, Error: &occ})
	case cmd.Intent == ir.IntentSetup:
		failed(action.FailRun)
	default:
		recovery := e.policy(cmd, ce)
		failed(recovery)
		switch recovery {
		case action.WaitForRecovery:
		case action.StopRun:
			e.dispatchLogged(action.Stop{At: at})
		default:
			e.dispatchLogged(action.Finish{At: at, Error: &occ})
		}
	}
}

func (e *Engine) succeed(cmd ir.Command, result ir.Result, at time.Time, stop *action.Stop) {
	err := e.dispatch(action.CommandSucceeded{CommandID: cmd.ID, Kind: cmd.Kind, Result: result, CompletedAt: at})
	if err != nil {
		// The reducers refused the result: an invariant violation.
		occ := e.fatalOccurrence(err)
		e.logger.Error("fatal engine error",
			"command_id", cmd.ID,
			"kind", cmd.Kind,
			"error", err,
		)
		e.dispatchLogged(action.CommandFailed{CommandID: cmd.ID, Error: occ, Recovery: action.FailRun, CompletedAt: at})
		if stop != nil {
			e.dispatchLogged(*stop)
			return
		}
		e.dispatchLogged(action.Finish{At: at, Error: &occ})
		return
	}

	e.logger.Debug("command succeeded", "command_id", cmd.ID, "kind", cmd.Kind)
	if stop != nil {
		e.dispatchLogged(*stop)
		return
	}
	if _, ok := cmd.Params.(ir.WaitForResumeParams); ok && cmd.Intent == ir.IntentProtocol &&
		e.store.Current().Status() == ir.RunRunning {
		e.dispatchLogged(action.Pause{Source: action.PauseFromProtocol})
	}
}

func (e *Engine) recordCommand(id string, d time.Duration) {
	if cmd, ok := e.store.Current().Command(id); ok {
		e.metrics.recordCommand(cmd, d)
	}
}

// requestStop stops the run now, or after the in-flight command has been
// cancelled and reported.
func (e *Engine) requestStop(stop action.Stop) error {
	s := e.store.Current()
	if s.Status().IsTerminal() {
		return invalidTransition(s.Status(), nil)
	}
	if e.inflight != nil {
		if e.pendingStop == nil || stop.FromEstop {
			e.pendingStop = &stop
		}
		e.logger.Info("stop requested, cancelling command", "command_id", e.inflight.command.ID, "estop", stop.FromEstop)
		e.inflight.cancel()
		return nil
	}
	if err := e.dispatch(stop); err != nil {
		return invalidTransition(s.Status(), err)
	}
	return nil
}

// hardware applies an observation from the poller.
func (e *Engine) hardware(a action.Action) {
	switch act := a.(type) {
	case action.ModuleStatus:
		if err := e.dispatch(act); err != nil {
			e.logger.Debug("module status ignored", "module_id", act.ModuleID, "error", err)
		}
	case action.HardwareEvent:
		e.dispatchLogged(act)
		if act.Event == action.EstopEngaged && !e.store.Current().Status().IsTerminal() {
			occ := ir.ErrorOccurrence{
				ID:        e.ids.NewID("error"),
				Code:      ir.ErrCodeEstopActivated,
				Detail:    "emergency stop engaged",
				CreatedAt: act.At,
			}
			e.metrics.recordError(occ.Code)
			if err := e.requestStop(action.Stop{At: act.At, FromEstop: true, Error: &occ}); err != nil {
				e.logger.Error("estop stop rejected", "error", err)
			}
		}
	default:
		e.logger.Error("unexpected hardware event", "action", a.Type())
	}
}

func ptr[T any](v T) *T { return &v }
