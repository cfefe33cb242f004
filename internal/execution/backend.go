// Package execution performs the side effects of running commands against
// a hardware backend. It reads engine state but never changes it: the
// Executor returns a result or a *CommandError and the engine turns that
// into an action.
package execution

import (
	"context"
	"time"

	"github.com/roach88/protoengine/internal/ir"
)

// Backend is the hardware capability the engine drives. Every call honours
// ctx cancellation: a cancelled in-flight call returns an error wrapping
// context.Canceled.
type Backend interface {
	MoveTo(ctx context.Context, pipetteID string, mount ir.MountType, point ir.Coordinates) error
	Aspirate(ctx context.Context, pipetteID string, well ir.WellRef, volume, flowRate float64) error
	Dispense(ctx context.Context, pipetteID string, well ir.WellRef, volume, flowRate float64) error
	BlowOut(ctx context.Context, pipetteID string, flowRate float64) error
	PickUpTip(ctx context.Context, pipetteID string, well ir.WellRef, tipLength float64) error
	DropTip(ctx context.Context, pipetteID string) error
	MoveLabware(ctx context.Context, labwareID string, from, to ir.Coordinates) error
	Home(ctx context.Context) error
	Delay(ctx context.Context, d time.Duration) error

	ConnectModule(ctx context.Context, moduleID string, model ir.ModuleModel) (ModuleInfo, error)
	ReadModuleStatus(ctx context.Context, moduleID string) (ir.ModuleStatus, error)
	SetModuleTemperature(ctx context.Context, moduleID string, celsius float64) error
	DeactivateModule(ctx context.Context, moduleID string) error

	EstopStatus(ctx context.Context) (EstopState, error)
	DoorStatus(ctx context.Context) (DoorState, error)
}

// ModuleInfo is what the backend reports when a module is first loaded.
type ModuleInfo struct {
	SerialNumber string
	Status       ir.ModuleStatus
}

// EstopState is the emergency stop switch position.
type EstopState string

const (
	EstopDisengaged EstopState = "disengaged"
	EstopEngaged    EstopState = "engaged"
	EstopNotPresent EstopState = "not_present"
)

// DoorState is the deck door switch position.
type DoorState string

const (
	DoorClosed DoorState = "closed"
	DoorOpen   DoorState = "open"
)
