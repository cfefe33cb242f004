package engine

import (
	"context"
	"reflect"
	"time"

	"github.com/roach88/protoengine/internal/action"
	"github.com/roach88/protoengine/internal/execution"
	"github.com/roach88/protoengine/internal/ir"
)

// poll reads module, E-stop and door status every ModulePollInterval and
// posts the changes to the loop. Reads that fail are logged and retried on
// the next tick.
func (e *Engine) poll(ctx context.Context) {
	ticker := time.NewTicker(e.cfg.ModulePollInterval)
	defer ticker.Stop()

	p := &poller{e: e, modules: map[string]ir.ModuleStatus{}}
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.tick(ctx)
		}
	}
}

// poller remembers the last observation so only changes become actions.
type poller struct {
	e       *Engine
	estop   execution.EstopState
	door    execution.DoorState
	modules map[string]ir.ModuleStatus
}

func (p *poller) tick(ctx context.Context) {
	e := p.e
	if e.store.Current().Status().IsTerminal() {
		return
	}

	if st, err := e.hw.EstopStatus(ctx); err != nil {
		e.logger.Warn("estop status read failed", "error", err)
	} else if st != p.estop {
		prev := p.estop
		p.estop = st
		switch {
		case st == execution.EstopEngaged:
			p.post(action.HardwareEvent{Event: action.EstopEngaged, At: e.clock.Now()})
		case prev == execution.EstopEngaged:
			p.post(action.HardwareEvent{Event: action.EstopReleased, At: e.clock.Now()})
		}
	}

	if st, err := e.hw.DoorStatus(ctx); err != nil {
		e.logger.Warn("door status read failed", "error", err)
	} else if st != p.door {
		first := p.door == ""
		p.door = st
		switch {
		case st == execution.DoorOpen:
			p.post(action.HardwareEvent{Event: action.DoorOpened, At: e.clock.Now()})
		case !first:
			p.post(action.HardwareEvent{Event: action.DoorClosed, At: e.clock.Now()})
		}
	}

	for _, mod := range e.store.Current().AllModules() {
		status, err := e.hw.ReadModuleStatus(ctx, mod.ID)
		if err != nil {
			e.logger.Warn("module status read failed", "module_id", mod.ID, "error", err)
			continue
		}
		if last, ok := p.modules[mod.ID]; ok && reflect.DeepEqual(last, status) {
			continue
		}
		p.modules[mod.ID] = status
		if reflect.DeepEqual(mod.Status, status) {
			continue
		}
		p.post(action.ModuleStatus{ModuleID: mod.ID, Status: status})
	}
}

func (p *poller) post(a action.Action) {
	p.e.queue.Enqueue(Event{Type: EventTypeHardware, Hardware: a})
}
