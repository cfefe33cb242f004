package state

import (
	"maps"
	"slices"

	"github.com/roach88/protoengine/internal/ir"
)

// volumeTolerance absorbs floating point noise in volume arithmetic.
const volumeTolerance = 1e-9

// applyResult applies a succeeded command's private result to the entity
// collections. Every command kind must be handled here.
func (s *State) applyResult(cmd ir.Command, result ir.Result) error {
	switch p := cmd.Params.(type) {
	case ir.LoadLabwareParams:
		r, err := resultAs[ir.LoadLabwareResult](cmd, result)
		if err != nil {
			return err
		}
		if err := s.addLabware(ir.Labware{
			ID:            r.LabwareID,
			LoadName:      r.LoadName,
			DefinitionURI: r.DefinitionURI,
			Location:      p.Location,
			OffsetID:      r.OffsetID,
			DisplayName:   p.DisplayName,
		}); err != nil {
			return err
		}
		s.useArea(p.Location.SlotName)
		return nil

	case ir.LoadPipetteParams:
		r, err := resultAs[ir.LoadPipetteResult](cmd, result)
		if err != nil {
			return err
		}
		if _, exists := s.pipettes[r.PipetteID]; exists {
			return fatalf(cmd.ID, "pipette %s already loaded", r.PipetteID)
		}
		s.putPipette(ir.Pipette{
			ID:          r.PipetteID,
			PipetteName: p.PipetteName,
			Mount:       p.Mount,
			MaxVolume:   r.MaxVolume,
			Channels:    r.Channels,
			Tip:         ir.TipState{Status: ir.TipNone},
		})
		s.pipetteOrder = append(slices.Clip(s.pipetteOrder), r.PipetteID)
		return nil

	case ir.LoadModuleParams:
		r, err := resultAs[ir.LoadModuleResult](cmd, result)
		if err != nil {
			return err
		}
		if _, exists := s.modules[r.ModuleID]; exists {
			return fatalf(cmd.ID, "module %s already loaded", r.ModuleID)
		}
		modules := maps.Clone(s.modules)
		modules[r.ModuleID] = ir.Module{
			ID:           r.ModuleID,
			Model:        r.Model,
			Location:     p.Location,
			SerialNumber: r.SerialNumber,
			Status:       r.Status.Clone(),
		}
		s.modules = modules
		s.moduleOrder = append(slices.Clip(s.moduleOrder), r.ModuleID)
		s.useArea(p.Location.SlotName)
		return nil

	case ir.LoadLiquidParams:
		if _, ok := s.labware[p.LabwareID]; !ok {
			return fatalf(cmd.ID, "liquid loaded into unknown labware %s", p.LabwareID)
		}
		liquids := maps.Clone(s.liquids)
		for well, volume := range p.VolumeByWell {
			liquids[WellKey{p.LabwareID, well}] = ir.WellLiquid{
				LabwareID: p.LabwareID,
				WellName:  well,
				LiquidID:  p.LiquidID,
				Volume:    volume,
			}
		}
		s.liquids = liquids
		return nil

	case ir.PickUpTipParams:
		r, err := resultAs[ir.PickUpTipResult](cmd, result)
		if err != nil {
			return err
		}
		if _, ok := s.labware[p.LabwareID]; !ok {
			return fatalf(cmd.ID, "tip picked up from unknown labware %s", p.LabwareID)
		}
		s.useTip(p.LabwareID, p.WellName)
		return s.updatePipette(cmd.ID, p.PipetteID, func(pip *ir.Pipette) error {
			pip.Tip = ir.TipState{Status: ir.TipAttached, Volume: r.TipVolume, Length: r.TipLength}
			pip.CurrentVolume = 0
			setPosition(pip, r.Position, &ir.WellRef{LabwareID: p.LabwareID, WellName: p.WellName})
			return nil
		})

	case ir.DropTipParams:
		r, err := resultAs[ir.PositionResult](cmd, result)
		if err != nil {
			return err
		}
		return s.updatePipette(cmd.ID, p.PipetteID, func(pip *ir.Pipette) error {
			pip.Tip = ir.TipState{Status: ir.TipNone}
			pip.CurrentVolume = 0
			var well *ir.WellRef
			if p.LabwareID != "" {
				well = &ir.WellRef{LabwareID: p.LabwareID, WellName: p.WellName}
			} else {
				s.useArea(ir.FixedTrashArea)
			}
			setPosition(pip, r.Position, well)
			return nil
		})

	case ir.AspirateParams:
		r, err := resultAs[ir.LiquidHandlingResult](cmd, result)
		if err != nil {
			return err
		}
		if err := s.adjustWell(cmd.ID, p.LabwareID, p.WellName, -r.Volume); err != nil {
			return err
		}
		return s.updatePipette(cmd.ID, p.PipetteID, func(pip *ir.Pipette) error {
			pip.CurrentVolume += r.Volume
			setPosition(pip, r.Position, &ir.WellRef{LabwareID: p.LabwareID, WellName: p.WellName})
			return nil
		})

	case ir.DispenseParams:
		r, err := resultAs[ir.LiquidHandlingResult](cmd, result)
		if err != nil {
			return err
		}
		if err := s.adjustWell(cmd.ID, p.LabwareID, p.WellName, r.Volume); err != nil {
			return err
		}
		return s.updatePipette(cmd.ID, p.PipetteID, func(pip *ir.Pipette) error {
			remaining := pip.CurrentVolume - r.Volume
			if remaining < -volumeTolerance {
				return fatalf(cmd.ID, "pipette %s would hold %.3f uL", pip.ID, remaining)
			}
			pip.CurrentVolume = max(remaining, 0)
			setPosition(pip, r.Position, &ir.WellRef{LabwareID: p.LabwareID, WellName: p.WellName})
			return nil
		})

	case ir.BlowOutParams:
		r, err := resultAs[ir.PositionResult](cmd, result)
		if err != nil {
			return err
		}
		return s.updatePipette(cmd.ID, p.PipetteID, func(pip *ir.Pipette) error {
			pip.CurrentVolume = 0
			setPosition(pip, r.Position, &ir.WellRef{LabwareID: p.LabwareID, WellName: p.WellName})
			return nil
		})

	case ir.TouchTipParams:
		r, err := resultAs[ir.PositionResult](cmd, result)
		if err != nil {
			return err
		}
		return s.updatePipette(cmd.ID, p.PipetteID, func(pip *ir.Pipette) error {
			setPosition(pip, r.Position, &ir.WellRef{LabwareID: p.LabwareID, WellName: p.WellName})
			return nil
		})

	case ir.MoveToWellParams:
		r, err := resultAs[ir.PositionResult](cmd, result)
		if err != nil {
			return err
		}
		return s.updatePipette(cmd.ID, p.PipetteID, func(pip *ir.Pipette) error {
			setPosition(pip, r.Position, &ir.WellRef{LabwareID: p.LabwareID, WellName: p.WellName})
			return nil
		})

	case ir.MoveToCoordinatesParams:
		r, err := resultAs[ir.PositionResult](cmd, result)
		if err != nil {
			return err
		}
		return s.updatePipette(cmd.ID, p.PipetteID, func(pip *ir.Pipette) error {
			setPosition(pip, r.Position, nil)
			return nil
		})

	case ir.MoveLabwareParams:
		r, err := resultAs[ir.MoveLabwareResult](cmd, result)
		if err != nil {
			return err
		}
		lw, ok := s.labware[p.LabwareID]
		if !ok {
			return fatalf(cmd.ID, "moved unknown labware %s", p.LabwareID)
		}
		lw.Location = p.NewLocation
		lw.OffsetID = r.OffsetID
		labware := maps.Clone(s.labware)
		labware[lw.ID] = lw
		s.labware = labware
		s.useArea(p.NewLocation.SlotName)
		return nil

	case ir.HomeParams:
		pipettes := make(map[string]ir.Pipette, len(s.pipettes))
		for id, pip := range s.pipettes {
			pip = pip.Clone()
			pip.Position = nil
			pip.CurrentWell = nil
			pipettes[id] = pip
		}
		s.pipettes = pipettes
		return nil

	case ir.SetTargetTemperatureParams:
		r, err := resultAs[ir.SetTargetTemperatureResult](cmd, result)
		if err != nil {
			return err
		}
		return s.updateModule(cmd.ID, p.ModuleID, func(m *ir.Module) {
			target := r.TargetCelsius
			m.Status.TargetCelsius = &target
			m.Status.State = "holding"
		})

	case ir.DeactivateModuleParams:
		return s.updateModule(cmd.ID, p.ModuleID, func(m *ir.Module) {
			m.Status.TargetCelsius = nil
			m.Status.State = "idle"
		})

	case ir.DelayParams, ir.WaitForResumeParams, ir.CommentParams, ir.CustomParams:
		return nil

	default:
		return fatalf(cmd.ID, "no reducer for command type %s", cmd.Kind)
	}
}

func resultAs[T ir.Result](cmd ir.Command, result ir.Result) (T, error) {
	r, ok := result.(T)
	if !ok {
		var zero T
		return zero, fatalf(cmd.ID, "%s result has type %T, want %T", cmd.Kind, result, zero)
	}
	return r, nil
}

func setPosition(pip *ir.Pipette, pos ir.Coordinates, well *ir.WellRef) {
	pip.Position = &pos
	pip.CurrentWell = well
}

func (s *State) addLabware(lw ir.Labware) error {
	if _, exists := s.labware[lw.ID]; exists {
		return fatalf("", "labware %s already loaded", lw.ID)
	}
	labware := maps.Clone(s.labware)
	labware[lw.ID] = lw
	s.labware = labware
	s.labwareOrder = append(slices.Clip(s.labwareOrder), lw.ID)
	return nil
}

// useArea records that a command placed something in an addressable area.
// Locations that are not slots (modules, stacks, off deck) use no area.
func (s *State) useArea(name string) {
	if name == "" || s.areasUsed[name] {
		return
	}
	used := maps.Clone(s.areasUsed)
	used[name] = true
	s.areasUsed = used
}

// useTip marks a tip rack well as emptied.
func (s *State) useTip(labwareID, wellName string) {
	if s.usedTips[labwareID][wellName] {
		return
	}
	wells := maps.Clone(s.usedTips[labwareID])
	if wells == nil {
		wells = map[string]bool{}
	}
	wells[wellName] = true
	usedTips := maps.Clone(s.usedTips)
	usedTips[labwareID] = wells
	s.usedTips = usedTips
}

func (s *State) putPipette(pip ir.Pipette) {
	pipettes := maps.Clone(s.pipettes)
	pipettes[pip.ID] = pip
	s.pipettes = pipettes
}

func (s *State) updatePipette(commandID, pipetteID string, fn func(*ir.Pipette) error) error {
	pip, ok := s.pipettes[pipetteID]
	if !ok {
		return fatalf(commandID, "unknown pipette %s", pipetteID)
	}
	pip = pip.Clone()
	if err := fn(&pip); err != nil {
		return err
	}
	s.putPipette(pip)
	return nil
}

func (s *State) updateModule(commandID, moduleID string, fn func(*ir.Module)) error {
	mod, ok := s.modules[moduleID]
	if !ok {
		return fatalf(commandID, "unknown module %s", moduleID)
	}
	mod.Status = mod.Status.Clone()
	fn(&mod)
	modules := maps.Clone(s.modules)
	modules[mod.ID] = mod
	s.modules = modules
	return nil
}

// adjustWell changes the tracked volume of a well. Wells without tracked
// liquid are left untracked. A tracked volume may never go negative.
func (s *State) adjustWell(commandID, labwareID, wellName string, delta float64) error {
	key := WellKey{labwareID, wellName}
	liquid, tracked := s.liquids[key]
	if !tracked {
		return nil
	}

	volume := liquid.Volume + delta
	if volume < -volumeTolerance {
		return &FatalError{
			Code:      ir.ErrCodeFatalEngine,
			Detail:    "aspirate would drive tracked well volume negative",
			CommandID: commandID,
			Info: map[string]string{
				"labware_id": labwareID,
				"well_name":  wellName,
				"volume":     formatVolume(liquid.Volume),
				"requested":  formatVolume(-delta),
			},
		}
	}
	liquid.Volume = max(volume, 0)

	liquids := maps.Clone(s.liquids)
	liquids[key] = liquid
	s.liquids = liquids
	return nil
}
