package testutil

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/roach88/protoengine/internal/execution"
	"github.com/roach88/protoengine/internal/ir"
)

// BlockingBackend is a simulator whose Delay blocks until Release is
// called or ctx is done. Started receives once per Delay call, after the
// call has begun blocking.
type BlockingBackend struct {
	*execution.Simulator

	Started chan string
	release chan struct{}
}

// NewBlockingBackend creates a blocking backend over a fresh simulator.
func NewBlockingBackend() *BlockingBackend {
	return &BlockingBackend{
		Simulator: execution.NewSimulator(),
		Started:   make(chan string, 16),
		release:   make(chan struct{}),
	}
}

// Delay implements execution.Backend.
func (b *BlockingBackend) Delay(ctx context.Context, d time.Duration) error {
	b.Started <- d.String()
	select {
	case <-b.release:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("delay interrupted: %w", ctx.Err())
	}
}

// Release lets one blocked Delay return.
func (b *BlockingBackend) Release() {
	b.release <- struct{}{}
}

// FaultyBackend is a simulator that fails chosen calls. Failures are
// consumed in the order they were queued.
type FaultyBackend struct {
	*execution.Simulator

	mu       sync.Mutex
	failures map[string][]error
}

// NewFaultyBackend creates a faulty backend over a fresh simulator.
func NewFaultyBackend() *FaultyBackend {
	return &FaultyBackend{
		Simulator: execution.NewSimulator(),
		failures:  map[string][]error{},
	}
}

// FailNext makes the next call of method return err. Supported methods
// are PickUpTip, Aspirate, Dispense, MoveTo, MoveLabware and Home.
func (b *FaultyBackend) FailNext(method string, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures[method] = append(b.failures[method], err)
}

func (b *FaultyBackend) next(method string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	queued := b.failures[method]
	if len(queued) == 0 {
		return nil
	}
	b.failures[method] = queued[1:]
	return queued[0]
}

func (b *FaultyBackend) PickUpTip(ctx context.Context, pipetteID string, well ir.WellRef, tipLength float64) error {
	if err := b.next("PickUpTip"); err != nil {
		return err
	}
	return b.Simulator.PickUpTip(ctx, pipetteID, well, tipLength)
}

func (b *FaultyBackend) Aspirate(ctx context.Context, pipetteID string, well ir.WellRef, volume, flowRate float64) error {
	if err := b.next("Aspirate"); err != nil {
		return err
	}
	return b.Simulator.Aspirate(ctx, pipetteID, well, volume, flowRate)
}

func (b *FaultyBackend) Dispense(ctx context.Context, pipetteID string, well ir.WellRef, volume, flowRate float64) error {
	if err := b.next("Dispense"); err != nil {
		return err
	}
	return b.Simulator.Dispense(ctx, pipetteID, well, volume, flowRate)
}

func (b *FaultyBackend) MoveTo(ctx context.Context, pipetteID string, mount ir.MountType, point ir.Coordinates) error {
	if err := b.next("MoveTo"); err != nil {
		return err
	}
	return b.Simulator.MoveTo(ctx, pipetteID, mount, point)
}

func (b *FaultyBackend) MoveLabware(ctx context.Context, labwareID string, from, to ir.Coordinates) error {
	if err := b.next("MoveLabware"); err != nil {
		return err
	}
	return b.Simulator.MoveLabware(ctx, labwareID, from, to)
}

func (b *FaultyBackend) Home(ctx context.Context) error {
	if err := b.next("Home"); err != nil {
		return err
	}
	return b.Simulator.Home(ctx)
}

// TipPickUpError is the hardware error a missed tip pick-up reports.
func TipPickUpError() error {
	return &execution.HardwareError{Kind: execution.HardwareTipPickUp, Message: "no tip detected"}
}

// CommunicationError is the hardware error a lost link reports.
func CommunicationError() error {
	return &execution.HardwareError{Kind: execution.HardwareCommunication, Message: "no response from controller"}
}

// RecordingBackend forwards to another backend and records every motion
// and liquid-handling call. It stands in for a real robot when comparing a
// run against a simulation.
type RecordingBackend struct {
	execution.Backend

	mu    sync.Mutex
	calls []string
}

// NewRecordingBackend wraps inner.
func NewRecordingBackend(inner execution.Backend) *RecordingBackend {
	return &RecordingBackend{Backend: inner}
}

// Calls returns the recorded calls in order.
func (b *RecordingBackend) Calls() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, len(b.calls))
	copy(out, b.calls)
	return out
}

func (b *RecordingBackend) record(format string, args ...any) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls = append(b.calls, fmt.Sprintf(format, args...))
}

func (b *RecordingBackend) MoveTo(ctx context.Context, pipetteID string, mount ir.MountType, point ir.Coordinates) error {
	b.record("moveTo %s %s (%.2f, %.2f, %.2f)", pipetteID, mount, point.X, point.Y, point.Z)
	return b.Backend.MoveTo(ctx, pipetteID, mount, point)
}

func (b *RecordingBackend) Aspirate(ctx context.Context, pipetteID string, well ir.WellRef, volume, flowRate float64) error {
	b.record("aspirate %s %s/%s %.2f @ %.2f", pipetteID, well.LabwareID, well.WellName, volume, flowRate)
	return b.Backend.Aspirate(ctx, pipetteID, well, volume, flowRate)
}

func (b *RecordingBackend) Dispense(ctx context.Context, pipetteID string, well ir.WellRef, volume, flowRate float64) error {
	b.record("dispense %s %s/%s %.2f @ %.2f", pipetteID, well.LabwareID, well.WellName, volume, flowRate)
	return b.Backend.Dispense(ctx, pipetteID, well, volume, flowRate)
}

func (b *RecordingBackend) BlowOut(ctx context.Context, pipetteID string, flowRate float64) error {
	b.record("blowOut %s @ %.2f", pipetteID, flowRate)
	return b.Backend.BlowOut(ctx, pipetteID, flowRate)
}

func (b *RecordingBackend) PickUpTip(ctx context.Context, pipetteID string, well ir.WellRef, tipLength float64) error {
	b.record("pickUpTip %s %s/%s", pipetteID, well.LabwareID, well.WellName)
	return b.Backend.PickUpTip(ctx, pipetteID, well, tipLength)
}

func (b *RecordingBackend) DropTip(ctx context.Context, pipetteID string) error {
	b.record("dropTip %s", pipetteID)
	return b.Backend.DropTip(ctx, pipetteID)
}

func (b *RecordingBackend) MoveLabware(ctx context.Context, labwareID string, from, to ir.Coordinates) error {
	b.record("moveLabware %s", labwareID)
	return b.Backend.MoveLabware(ctx, labwareID, from, to)
}

func (b *RecordingBackend) Home(ctx context.Context) error {
	b.record("home")
	return b.Backend.Home(ctx)
}

func (b *RecordingBackend) SetModuleTemperature(ctx context.Context, moduleID string, celsius float64) error {
	b.record("setTemperature %s %.1f", moduleID, celsius)
	return b.Backend.SetModuleTemperature(ctx, moduleID, celsius)
}
