package execution

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/roach88/protoengine/internal/definitions"
	"github.com/roach88/protoengine/internal/ir"
	"github.com/roach88/protoengine/internal/state"
)

// IDSource names entities created by load commands that did not request an
// id of their own.
type IDSource interface {
	NewID(prefix string) string
}

// Executor runs one command at a time against a Backend. It holds no engine
// state; each call reads the state it is given.
type Executor struct {
	hw   Backend
	defs definitions.Provider
	deck Deck
	ids  IDSource
}

// NewExecutor creates an executor.
func NewExecutor(hw Backend, defs definitions.Provider, deck Deck, ids IDSource) *Executor {
	return &Executor{hw: hw, defs: defs, deck: deck, ids: ids}
}

// Backend returns the hardware the executor drives.
func (x *Executor) Backend() Backend { return x.hw }

// Execute performs cmd using view as the current state. The error, when
// non-nil, is always a *CommandError carrying cmd's id. A panicking backend
// is reported as an unexpected error rather than crashing the engine.
func (x *Executor) Execute(ctx context.Context, view *state.State, cmd ir.Command) (result ir.Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			result = nil
			err = &CommandError{
				Code:      ir.ErrCodeUnexpected,
				Message:   fmt.Sprintf("backend panicked: %v", r),
				CommandID: cmd.ID,
				Operation: string(cmd.Kind),
			}
		}
	}()

	run := &execution{x: x, ctx: ctx, cmd: cmd, view: view, geo: geometry{deck: x.deck, defs: x.defs, view: view}}
	r, cerr := run.dispatch()
	if cerr != nil {
		return nil, cerr
	}
	return r, nil
}

// execution carries the context of a single Execute call.
type execution struct {
	x    *Executor
	ctx  context.Context
	cmd  ir.Command
	view *state.State
	geo  geometry
}

func (e *execution) fail(code ir.ErrorCode, format string, args ...any) *CommandError {
	return failure(e.cmd, code, format, args...)
}

func (e *execution) recoverable(code ir.ErrorCode, format string, args ...any) *CommandError {
	return recoverable(e.cmd, code, format, args...)
}

func (e *execution) hardware(op string, err error) *CommandError {
	if err == nil {
		return nil
	}
	return wrapHardware(e.cmd, op, err)
}

func (e *execution) dispatch() (ir.Result, *CommandError) {
	switch p := e.cmd.Params.(type) {
	case ir.LoadLabwareParams:
		return e.loadLabware(p)
	case ir.LoadPipetteParams:
		return e.loadPipette(p)
	case ir.LoadModuleParams:
		return e.loadModule(p)
	case ir.LoadLiquidParams:
		return e.loadLiquid(p)
	case ir.PickUpTipParams:
		return e.pickUpTip(p)
	case ir.DropTipParams:
		return e.dropTip(p)
	case ir.AspirateParams:
		return e.aspirate(p)
	case ir.DispenseParams:
		return e.dispense(p)
	case ir.BlowOutParams:
		return e.blowOut(p)
	case ir.TouchTipParams:
		return e.touchTip(p)
	case ir.MoveLabwareParams:
		return e.moveLabware(p)
	case ir.MoveToCoordinatesParams:
		return e.moveToCoordinates(p)
	case ir.MoveToWellParams:
		return e.moveToWell(p)
	case ir.HomeParams:
		if cerr := e.hardware("home", e.x.hw.Home(e.ctx)); cerr != nil {
			return nil, cerr
		}
		return ir.EmptyResult{}, nil
	case ir.DelayParams:
		d := time.Duration(p.Seconds * float64(time.Second))
		if cerr := e.hardware("delay", e.x.hw.Delay(e.ctx, d)); cerr != nil {
			return nil, cerr
		}
		return ir.EmptyResult{}, nil
	case ir.WaitForResumeParams, ir.CommentParams:
		return ir.EmptyResult{}, nil
	case ir.CustomParams:
		return ir.CustomResult{Data: ir.CloneValues(p.Data)}, nil
	case ir.SetTargetTemperatureParams:
		return e.setTargetTemperature(p)
	case ir.DeactivateModuleParams:
		return e.deactivateModule(p)
	default:
		return nil, e.fail(ir.ErrCodeUnexpected, "no executor for command type %s", e.cmd.Kind)
	}
}

// validLocation checks that loc exists and is free for new labware or a
// module. Off-deck is always free.
func (e *execution) validLocation(loc ir.LabwareLocation, ignore string) *CommandError {
	switch {
	case loc.OffDeck:
		return nil
	case loc.SlotName != "":
		if _, ok := e.x.deck.Slot(loc.SlotName); !ok {
			return e.fail(ir.ErrCodeInvalidLocation, "slot %s is not on this deck", loc.SlotName)
		}
		if mod, ok := e.view.ModuleInSlot(loc.SlotName); ok {
			return e.fail(ir.ErrCodeLocationOccupied, "slot %s holds module %s", loc.SlotName, mod.ID)
		}
	case loc.ModuleID != "":
		if _, ok := e.view.Module(loc.ModuleID); !ok {
			return e.fail(ir.ErrCodeModuleNotLoaded, "module %s is not loaded", loc.ModuleID)
		}
	case loc.LabwareID != "":
		if _, ok := e.view.Labware(loc.LabwareID); !ok {
			return e.fail(ir.ErrCodeLabwareNotLoaded, "labware %s is not loaded", loc.LabwareID)
		}
		if loc.LabwareID == ignore {
			return e.fail(ir.ErrCodeInvalidLocation, "labware cannot be stacked on itself")
		}
	default:
		return e.fail(ir.ErrCodeInvalidLocation, "location is empty")
	}
	if occupant, ok := e.view.LabwareAt(loc); ok && occupant.ID != ignore {
		return e.fail(ir.ErrCodeLocationOccupied, "%s is occupied by %s", loc, occupant.ID)
	}
	return nil
}

func (e *execution) loadLabware(p ir.LoadLabwareParams) (ir.Result, *CommandError) {
	ns, version := p.Namespace, p.Version
	if ns == "" {
		ns = definitions.DefaultNamespace
	}
	if version == 0 {
		version = 1
	}
	def, err := e.x.defs.LabwareDefinition(p.LoadName, ns, version)
	if err != nil {
		return nil, e.fail(ir.ErrCodeDefinitionNotFound, "%v", err)
	}
	if cerr := e.validLocation(p.Location, ""); cerr != nil {
		return nil, cerr
	}

	id := p.LabwareID
	if id == "" {
		id = e.x.ids.NewID("labware")
	} else if _, exists := e.view.Labware(id); exists {
		return nil, e.fail(ir.ErrCodeParamsInvalid, "labware id %s is already in use", id)
	}

	result := ir.LoadLabwareResult{LabwareID: id, DefinitionURI: def.URI(), LoadName: def.LoadName}
	if off, ok := e.view.LabwareOffset(def.URI(), p.Location); ok {
		result.OffsetID = off.ID
	}
	return result, nil
}

func (e *execution) loadPipette(p ir.LoadPipetteParams) (ir.Result, *CommandError) {
	def, err := e.x.defs.PipetteDefinition(p.PipetteName)
	if err != nil {
		return nil, e.fail(ir.ErrCodeDefinitionNotFound, "%v", err)
	}
	if existing, ok := e.view.PipetteOnMount(p.Mount); ok {
		return nil, e.fail(ir.ErrCodeMountOccupied, "%s mount already holds pipette %s", p.Mount, existing.ID)
	}

	id := p.PipetteID
	if id == "" {
		id = e.x.ids.NewID("pipette")
	} else if _, exists := e.view.Pipette(id); exists {
		return nil, e.fail(ir.ErrCodeParamsInvalid, "pipette id %s is already in use", id)
	}
	return ir.LoadPipetteResult{PipetteID: id, MaxVolume: def.MaxVolume, Channels: def.Channels}, nil
}

func (e *execution) loadModule(p ir.LoadModuleParams) (ir.Result, *CommandError) {
	if _, err := e.x.defs.ModuleDefinition(p.Model); err != nil {
		return nil, e.fail(ir.ErrCodeDefinitionNotFound, "%v", err)
	}
	if cerr := e.validLocation(p.Location, ""); cerr != nil {
		return nil, cerr
	}

	id := p.ModuleID
	if id == "" {
		id = e.x.ids.NewID("module")
	} else if _, exists := e.view.Module(id); exists {
		return nil, e.fail(ir.ErrCodeParamsInvalid, "module id %s is already in use", id)
	}

	info, err := e.x.hw.ConnectModule(e.ctx, id, p.Model)
	if cerr := e.hardware("connectModule", err); cerr != nil {
		return nil, cerr
	}
	return ir.LoadModuleResult{ModuleID: id, Model: p.Model, SerialNumber: info.SerialNumber, Status: info.Status}, nil
}

func (e *execution) loadLiquid(p ir.LoadLiquidParams) (ir.Result, *CommandError) {
	lw, def, cerr := e.labware(p.LabwareID)
	if cerr != nil {
		return nil, cerr
	}
	for well, volume := range p.VolumeByWell {
		w, ok := def.Well(well)
		if !ok {
			return nil, e.fail(ir.ErrCodeWellDoesNotExist, "well %s does not exist in %s", well, lw.ID)
		}
		if w.Capacity > 0 && volume > w.Capacity {
			return nil, e.fail(ir.ErrCodeParamsInvalid, "%.1f uL exceeds the %.1f uL capacity of %s", volume, w.Capacity, well)
		}
	}
	return ir.EmptyResult{}, nil
}

func (e *execution) labware(id string) (ir.Labware, definitions.LabwareDefinition, *CommandError) {
	lw, ok := e.view.Labware(id)
	if !ok {
		return ir.Labware{}, definitions.LabwareDefinition{}, e.fail(ir.ErrCodeLabwareNotLoaded, "labware %s is not loaded", id)
	}
	def, err := e.geo.definitionOf(lw)
	if err != nil {
		return ir.Labware{}, definitions.LabwareDefinition{}, e.fail(ir.ErrCodeDefinitionNotFound, "%v", err)
	}
	return lw, def, nil
}

// well resolves a well to an absolute position. Labware off deck cannot be
// reached by a pipette.
func (e *execution) well(labwareID, wellName string) (wellPoint, *CommandError) {
	lw, def, cerr := e.labware(labwareID)
	if cerr != nil {
		return wellPoint{}, cerr
	}
	w, ok := def.Well(wellName)
	if !ok {
		return wellPoint{}, e.fail(ir.ErrCodeWellDoesNotExist, "well %s does not exist in %s", wellName, labwareID)
	}
	if lw.Location.OffDeck {
		return wellPoint{}, e.recoverable(ir.ErrCodeLabwareNotFound, "labware %s is off deck", labwareID)
	}
	origin, err := e.geo.labwareOrigin(lw, 0)
	if err != nil {
		return wellPoint{}, e.recoverable(ir.ErrCodeLabwareNotFound, "%v", err)
	}
	return wellPoint{labware: lw, def: def, well: w, origin: origin}, nil
}

func (e *execution) pipette(id string) (ir.Pipette, definitions.PipetteDefinition, *CommandError) {
	pip, ok := e.view.Pipette(id)
	if !ok {
		return ir.Pipette{}, definitions.PipetteDefinition{}, e.fail(ir.ErrCodePipetteNotLoaded, "pipette %s is not loaded", id)
	}
	def, err := e.x.defs.PipetteDefinition(pip.PipetteName)
	if err != nil {
		return ir.Pipette{}, definitions.PipetteDefinition{}, e.fail(ir.ErrCodeDefinitionNotFound, "%v", err)
	}
	return pip, def, nil
}

// pipetteWithTip returns a loaded pipette that holds a tip.
func (e *execution) pipetteWithTip(id string) (ir.Pipette, definitions.PipetteDefinition, *CommandError) {
	pip, def, cerr := e.pipette(id)
	if cerr != nil {
		return pip, def, cerr
	}
	if pip.Tip.Status != ir.TipAttached {
		return pip, def, e.fail(ir.ErrCodeTipNotAttached, "pipette %s has no tip", id)
	}
	return pip, def, nil
}

func (e *execution) moveTo(pip ir.Pipette, point ir.Coordinates) *CommandError {
	return e.hardware("moveTo", e.x.hw.MoveTo(e.ctx, pip.ID, pip.Mount, point))
}

func (e *execution) pickUpTip(p ir.PickUpTipParams) (ir.Result, *CommandError) {
	pip, pipDef, cerr := e.pipette(p.PipetteID)
	if cerr != nil {
		return nil, cerr
	}
	if pip.Tip.Status == ir.TipAttached {
		return nil, e.fail(ir.ErrCodeTipAlreadyAttached, "pipette %s already has a tip", pip.ID)
	}
	wp, cerr := e.well(p.LabwareID, p.WellName)
	if cerr != nil {
		return nil, cerr
	}
	if !wp.def.IsTiprack {
		return nil, e.fail(ir.ErrCodeNotTiprack, "labware %s is not a tip rack", p.LabwareID)
	}
	if !pipDef.AcceptsTip(wp.def.TipVolume) {
		return nil, e.fail(ir.ErrCodeParamsInvalid, "%s does not accept %.0f uL tips", pip.PipetteName, wp.def.TipVolume)
	}
	if e.view.IsTipUsed(p.LabwareID, p.WellName) {
		return nil, e.fail(ir.ErrCodeTipAlreadyUsed, "tip %s of %s was already picked up", p.WellName, p.LabwareID)
	}

	point := wp.top(0)
	if cerr := e.moveTo(pip, point); cerr != nil {
		return nil, cerr
	}
	ref := ir.WellRef{LabwareID: p.LabwareID, WellName: p.WellName}
	if cerr := e.hardware("pickUpTip", e.x.hw.PickUpTip(e.ctx, pip.ID, ref, wp.def.TipLength)); cerr != nil {
		return nil, cerr
	}
	return ir.PickUpTipResult{TipVolume: wp.def.TipVolume, TipLength: wp.def.TipLength, Position: point}, nil
}

func (e *execution) dropTip(p ir.DropTipParams) (ir.Result, *CommandError) {
	pip, _, cerr := e.pipetteWithTip(p.PipetteID)
	if cerr != nil {
		return nil, cerr
	}

	point := e.x.deck.Trash()
	if p.LabwareID != "" {
		wp, cerr := e.well(p.LabwareID, p.WellName)
		if cerr != nil {
			return nil, cerr
		}
		point = wp.top(0)
	}
	if cerr := e.moveTo(pip, point); cerr != nil {
		return nil, cerr
	}
	if cerr := e.hardware("dropTip", e.x.hw.DropTip(e.ctx, pip.ID)); cerr != nil {
		return nil, cerr
	}
	return ir.PositionResult{Position: point}, nil
}

func (e *execution) aspirate(p ir.AspirateParams) (ir.Result, *CommandError) {
	pip, def, cerr := e.pipetteWithTip(p.PipetteID)
	if cerr != nil {
		return nil, cerr
	}
	capacity := def.MaxVolume
	if pip.Tip.Volume > 0 {
		capacity = math.Min(capacity, pip.Tip.Volume)
	}
	if pip.CurrentVolume+p.Volume > capacity {
		return nil, e.fail(ir.ErrCodeVolumeExceeded, "aspirating %.2f uL onto %.2f uL exceeds %.2f uL", p.Volume, pip.CurrentVolume, capacity)
	}
	wp, cerr := e.well(p.LabwareID, p.WellName)
	if cerr != nil {
		return nil, cerr
	}

	rate := p.FlowRate
	if rate == 0 {
		rate = def.AspirateFlowRate
	}
	point := wp.bottom(wellBottomClearance)
	if cerr := e.moveTo(pip, point); cerr != nil {
		return nil, cerr
	}
	ref := ir.WellRef{LabwareID: p.LabwareID, WellName: p.WellName}
	if cerr := e.hardware("aspirate", e.x.hw.Aspirate(e.ctx, pip.ID, ref, p.Volume, rate)); cerr != nil {
		return nil, cerr
	}
	return ir.LiquidHandlingResult{Volume: p.Volume, Position: point}, nil
}

func (e *execution) dispense(p ir.DispenseParams) (ir.Result, *CommandError) {
	pip, def, cerr := e.pipetteWithTip(p.PipetteID)
	if cerr != nil {
		return nil, cerr
	}
	if p.Volume > pip.CurrentVolume+1e-9 {
		return nil, e.fail(ir.ErrCodeInvalidDispense, "cannot dispense %.2f uL holding %.2f uL", p.Volume, pip.CurrentVolume)
	}
	wp, cerr := e.well(p.LabwareID, p.WellName)
	if cerr != nil {
		return nil, cerr
	}

	rate := p.FlowRate
	if rate == 0 {
		rate = def.DispenseFlowRate
	}
	point := wp.bottom(wellBottomClearance)
	if cerr := e.moveTo(pip, point); cerr != nil {
		return nil, cerr
	}
	ref := ir.WellRef{LabwareID: p.LabwareID, WellName: p.WellName}
	if cerr := e.hardware("dispense", e.x.hw.Dispense(e.ctx, pip.ID, ref, p.Volume, rate)); cerr != nil {
		return nil, cerr
	}
	return ir.LiquidHandlingResult{Volume: p.Volume, Position: point}, nil
}

func (e *execution) blowOut(p ir.BlowOutParams) (ir.Result, *CommandError) {
	pip, def, cerr := e.pipetteWithTip(p.PipetteID)
	if cerr != nil {
		return nil, cerr
	}
	wp, cerr := e.well(p.LabwareID, p.WellName)
	if cerr != nil {
		return nil, cerr
	}

	rate := p.FlowRate
	if rate == 0 {
		rate = def.BlowOutFlowRate
	}
	point := wp.top(0)
	if cerr := e.moveTo(pip, point); cerr != nil {
		return nil, cerr
	}
	if cerr := e.hardware("blowOut", e.x.hw.BlowOut(e.ctx, pip.ID, rate)); cerr != nil {
		return nil, cerr
	}
	return ir.PositionResult{Position: point}, nil
}

// touchTip touches the four sides of the well at radius times the well
// radius and returns to the centre.
func (e *execution) touchTip(p ir.TouchTipParams) (ir.Result, *CommandError) {
	pip, _, cerr := e.pipetteWithTip(p.PipetteID)
	if cerr != nil {
		return nil, cerr
	}
	wp, cerr := e.well(p.LabwareID, p.WellName)
	if cerr != nil {
		return nil, cerr
	}
	if wp.def.IsTiprack {
		return nil, e.fail(ir.ErrCodeParamsInvalid, "cannot touch tip on tip rack %s", p.LabwareID)
	}

	center := wp.top(p.VOffset)
	reach := wp.well.Diameter / 2 * p.Radius
	points := []ir.Coordinates{
		center,
		center.Add(ir.Coordinates{X: reach}),
		center.Add(ir.Coordinates{X: -reach}),
		center.Add(ir.Coordinates{Y: reach}),
		center.Add(ir.Coordinates{Y: -reach}),
		center,
	}
	for _, pt := range points {
		if cerr := e.moveTo(pip, pt); cerr != nil {
			return nil, cerr
		}
	}
	return ir.PositionResult{Position: center}, nil
}

func (e *execution) moveLabware(p ir.MoveLabwareParams) (ir.Result, *CommandError) {
	lw, _, cerr := e.labware(p.LabwareID)
	if cerr != nil {
		return nil, cerr
	}
	if cerr := e.validLocation(p.NewLocation, lw.ID); cerr != nil {
		return nil, cerr
	}

	if p.Strategy == ir.MoveWithGripper {
		if lw.Location.OffDeck || p.NewLocation.OffDeck {
			return nil, e.fail(ir.ErrCodeInvalidLocation, "the gripper cannot reach off-deck labware")
		}
		from, err := e.geo.labwareOrigin(lw, 0)
		if err != nil {
			return nil, e.recoverable(ir.ErrCodeLabwareNotFound, "%v", err)
		}
		to, err := e.geo.locationOrigin(p.NewLocation, 0)
		if err != nil {
			return nil, e.fail(ir.ErrCodeInvalidLocation, "%v", err)
		}
		if cerr := e.hardware("moveLabware", e.x.hw.MoveLabware(e.ctx, lw.ID, from, to)); cerr != nil {
			return nil, cerr
		}
	}

	var result ir.MoveLabwareResult
	if off, ok := e.view.LabwareOffset(lw.DefinitionURI, p.NewLocation); ok {
		result.OffsetID = off.ID
	}
	return result, nil
}

func (e *execution) moveToCoordinates(p ir.MoveToCoordinatesParams) (ir.Result, *CommandError) {
	pip, _, cerr := e.pipette(p.PipetteID)
	if cerr != nil {
		return nil, cerr
	}
	if cerr := e.moveTo(pip, p.Coordinates); cerr != nil {
		return nil, cerr
	}
	return ir.PositionResult{Position: p.Coordinates}, nil
}

func (e *execution) moveToWell(p ir.MoveToWellParams) (ir.Result, *CommandError) {
	pip, _, cerr := e.pipette(p.PipetteID)
	if cerr != nil {
		return nil, cerr
	}
	wp, cerr := e.well(p.LabwareID, p.WellName)
	if cerr != nil {
		return nil, cerr
	}
	point := wp.top(0)
	if cerr := e.moveTo(pip, point); cerr != nil {
		return nil, cerr
	}
	return ir.PositionResult{Position: point}, nil
}

func (e *execution) module(id string) (ir.Module, definitions.ModuleDefinition, *CommandError) {
	mod, ok := e.view.Module(id)
	if !ok {
		return ir.Module{}, definitions.ModuleDefinition{}, e.fail(ir.ErrCodeModuleNotLoaded, "module %s is not loaded", id)
	}
	def, err := e.x.defs.ModuleDefinition(mod.Model)
	if err != nil {
		return ir.Module{}, definitions.ModuleDefinition{}, e.fail(ir.ErrCodeDefinitionNotFound, "%v", err)
	}
	return mod, def, nil
}

func (e *execution) setTargetTemperature(p ir.SetTargetTemperatureParams) (ir.Result, *CommandError) {
	mod, def, cerr := e.module(p.ModuleID)
	if cerr != nil {
		return nil, cerr
	}
	if !def.HasTemperature {
		return nil, e.fail(ir.ErrCodeModuleNotSupported, "%s has no temperature control", mod.Model)
	}
	if !def.SupportsTemperature(p.Celsius) {
		return nil, e.fail(ir.ErrCodeParamsInvalid, "%.1f C is outside %.0f-%.0f C for %s", p.Celsius, def.MinCelsius, def.MaxCelsius, mod.Model)
	}
	if cerr := e.hardware("setModuleTemperature", e.x.hw.SetModuleTemperature(e.ctx, mod.ID, p.Celsius)); cerr != nil {
		return nil, cerr
	}
	return ir.SetTargetTemperatureResult{TargetCelsius: p.Celsius}, nil
}

func (e *execution) deactivateModule(p ir.DeactivateModuleParams) (ir.Result, *CommandError) {
	mod, def, cerr := e.module(p.ModuleID)
	if cerr != nil {
		return nil, cerr
	}
	if !def.HasTemperature {
		return nil, e.fail(ir.ErrCodeModuleNotSupported, "%s cannot be deactivated", mod.Model)
	}
	if cerr := e.hardware("deactivateModule", e.x.hw.DeactivateModule(e.ctx, mod.ID)); cerr != nil {
		return nil, cerr
	}
	return ir.EmptyResult{}, nil
}
