package execution

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/roach88/protoengine/internal/ir"
)

// Simulator is a virtual Backend. Every call succeeds immediately unless
// ctx is done; no wall-clock time passes, so a simulated run produces the
// same actions and state as a real one without waiting on motion.
type Simulator struct {
	mu        sync.Mutex
	positions map[string]ir.Coordinates
	tips      map[string]bool
	modules   map[string]*simModule
	estop     EstopState
	door      DoorState
	serials   int
}

type simModule struct {
	model  ir.ModuleModel
	status ir.ModuleStatus
}

// NewSimulator returns a simulator with the door closed and no E-stop fitted.
func NewSimulator() *Simulator {
	return &Simulator{
		positions: map[string]ir.Coordinates{},
		tips:      map[string]bool{},
		modules:   map[string]*simModule{},
		estop:     EstopNotPresent,
		door:      DoorClosed,
	}
}

// SetEstop changes the simulated E-stop switch.
func (s *Simulator) SetEstop(state EstopState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.estop = state
}

// SetDoor changes the simulated door switch.
func (s *Simulator) SetDoor(state DoorState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.door = state
}

// Position returns the last point a pipette was moved to.
func (s *Simulator) Position(pipetteID string) (ir.Coordinates, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.positions[pipetteID]
	return c, ok
}

func (s *Simulator) MoveTo(ctx context.Context, pipetteID string, _ ir.MountType, point ir.Coordinates) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.positions[pipetteID] = point
	return nil
}

func (s *Simulator) Aspirate(ctx context.Context, _ string, _ ir.WellRef, _, _ float64) error {
	return ctx.Err()
}

func (s *Simulator) Dispense(ctx context.Context, _ string, _ ir.WellRef, _, _ float64) error {
	return ctx.Err()
}

func (s *Simulator) BlowOut(ctx context.Context, _ string, _ float64) error {
	return ctx.Err()
}

func (s *Simulator) PickUpTip(ctx context.Context, pipetteID string, _ ir.WellRef, _ float64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tips[pipetteID] = true
	return nil
}

func (s *Simulator) DropTip(ctx context.Context, pipetteID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.tips, pipetteID)
	return nil
}

func (s *Simulator) MoveLabware(ctx context.Context, _ string, _, _ ir.Coordinates) error {
	return ctx.Err()
}

func (s *Simulator) Home(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	clear(s.positions)
	return nil
}

func (s *Simulator) Delay(ctx context.Context, _ time.Duration) error {
	return ctx.Err()
}

func (s *Simulator) ConnectModule(ctx context.Context, moduleID string, model ir.ModuleModel) (ModuleInfo, error) {
	if err := ctx.Err(); err != nil {
		return ModuleInfo{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.serials++
	m := &simModule{model: model, status: ir.ModuleStatus{State: "idle"}}
	s.modules[moduleID] = m
	return ModuleInfo{
		SerialNumber: fmt.Sprintf("SIM-%s-%03d", model, s.serials),
		Status:       m.status.Clone(),
	}, nil
}

// ReadModuleStatus reports a simulated module. Temperature modules reach
// their target instantly.
func (s *Simulator) ReadModuleStatus(ctx context.Context, moduleID string) (ir.ModuleStatus, error) {
	if err := ctx.Err(); err != nil {
		return ir.ModuleStatus{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.modules[moduleID]
	if !ok {
		return ir.ModuleStatus{}, &HardwareError{Kind: HardwareCommunication, Message: "module " + moduleID + " not connected"}
	}
	return m.status.Clone(), nil
}

func (s *Simulator) SetModuleTemperature(ctx context.Context, moduleID string, celsius float64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.modules[moduleID]
	if !ok {
		return &HardwareError{Kind: HardwareCommunication, Message: "module " + moduleID + " not connected"}
	}
	target, current := celsius, celsius
	m.status = ir.ModuleStatus{State: "holding", TargetCelsius: &target, CurrentCelsius: &current}
	return nil
}

func (s *Simulator) DeactivateModule(ctx context.Context, moduleID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.modules[moduleID]
	if !ok {
		return &HardwareError{Kind: HardwareCommunication, Message: "module " + moduleID + " not connected"}
	}
	m.status = ir.ModuleStatus{State: "idle"}
	return nil
}

func (s *Simulator) EstopStatus(ctx context.Context) (EstopState, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.estop, nil
}

func (s *Simulator) DoorStatus(ctx context.Context) (DoorState, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.door, nil
}
