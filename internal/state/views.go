package state

import (
	"maps"
	"slices"
	"strconv"

	"github.com/roach88/protoengine/internal/ir"
)

// The query surface. Every method reads a published, immutable State and
// returns copies; none of them block or dispatch.

func (s *State) Config() Config {
	cfg := s.cfg
	cfg.DeckSlots = slices.Clone(cfg.DeckSlots)
	return cfg
}

func (s *State) Status() ir.RunStatus { return s.run.Status }

func (s *State) Run() Run { return s.run.clone() }

// Command returns the command with the given id.
func (s *State) Command(id string) (ir.Command, bool) {
	cmd, ok := s.commands.byID[id]
	if !ok {
		return ir.Command{}, false
	}
	return cmd.Clone(), true
}

// AllCommands returns every command in queue order.
func (s *State) AllCommands() []ir.Command {
	out := make([]ir.Command, 0, len(s.commands.order))
	for _, id := range s.commands.order {
		out = append(out, s.commands.byID[id].Clone())
	}
	return out
}

// CommandCount returns the number of commands in the queue.
func (s *State) CommandCount() int { return len(s.commands.order) }

// CommandIndex returns the queue position of a command, or -1.
func (s *State) CommandIndex(id string) int {
	return slices.Index(s.commands.order, id)
}

// LastStartedIndex returns the queue position of the latest command that
// has left QUEUED, or -1. Inserts must land after it.
func (s *State) LastStartedIndex() int { return s.lastNonQueuedIndex() }

// RunningCommand returns the RUNNING command, if any.
func (s *State) RunningCommand() (ir.Command, bool) {
	if s.commands.running == "" {
		return ir.Command{}, false
	}
	return s.Command(s.commands.running)
}

// NextQueuedCommand returns the first QUEUED command of the given lane.
func (s *State) NextQueuedCommand(intent ir.CommandIntent) (ir.Command, bool) {
	for _, id := range s.commands.order {
		cmd := s.commands.byID[id]
		if cmd.Status == ir.CommandQueued && cmd.Intent == intent {
			return cmd.Clone(), true
		}
	}
	return ir.Command{}, false
}

// QueuedCount returns how many commands of the lane are still QUEUED.
func (s *State) QueuedCount(intent ir.CommandIntent) int {
	n := 0
	for _, id := range s.commands.order {
		if cmd := s.commands.byID[id]; cmd.Status == ir.CommandQueued && cmd.Intent == intent {
			n++
		}
	}
	return n
}

// LastProtocolKey returns the key of the most recently appended protocol
// command, which seeds the next command key in the chain.
func (s *State) LastProtocolKey() string { return s.commands.lastProtocolKey }

func (s *State) Labware(id string) (ir.Labware, bool) {
	lw, ok := s.labware[id]
	return lw, ok
}

// LabwareLocation returns where a labware currently is.
func (s *State) LabwareLocation(id string) (ir.LabwareLocation, bool) {
	lw, ok := s.labware[id]
	return lw.Location, ok
}

// AllLabware returns labware in load order.
func (s *State) AllLabware() []ir.Labware {
	out := make([]ir.Labware, 0, len(s.labwareOrder))
	for _, id := range s.labwareOrder {
		out = append(out, s.labware[id])
	}
	return out
}

// LabwareAt returns the labware occupying a location. Off-deck holds any
// number of labware and is never reported as occupied.
func (s *State) LabwareAt(loc ir.LabwareLocation) (ir.Labware, bool) {
	if loc.OffDeck {
		return ir.Labware{}, false
	}
	for _, id := range s.labwareOrder {
		if lw := s.labware[id]; lw.Location == loc {
			return lw, true
		}
	}
	return ir.Labware{}, false
}

// ModuleInSlot returns the module mounted in a slot.
func (s *State) ModuleInSlot(slot string) (ir.Module, bool) {
	for _, id := range s.moduleOrder {
		if m := s.modules[id]; m.Location.SlotName == slot {
			return m.Clone(), true
		}
	}
	return ir.Module{}, false
}

func (s *State) Pipette(id string) (ir.Pipette, bool) {
	pip, ok := s.pipettes[id]
	return pip.Clone(), ok
}

// PipetteTipState returns the tip state of a pipette.
func (s *State) PipetteTipState(id string) (ir.TipState, bool) {
	pip, ok := s.pipettes[id]
	return pip.Tip, ok
}

// PipetteOnMount returns the pipette attached to a mount.
func (s *State) PipetteOnMount(mount ir.MountType) (ir.Pipette, bool) {
	for _, id := range s.pipetteOrder {
		if pip := s.pipettes[id]; pip.Mount == mount {
			return pip.Clone(), true
		}
	}
	return ir.Pipette{}, false
}

// AllPipettes returns pipettes in load order.
func (s *State) AllPipettes() []ir.Pipette {
	out := make([]ir.Pipette, 0, len(s.pipetteOrder))
	for _, id := range s.pipetteOrder {
		out = append(out, s.pipettes[id].Clone())
	}
	return out
}

func (s *State) Module(id string) (ir.Module, bool) {
	m, ok := s.modules[id]
	return m.Clone(), ok
}

// AllModules returns modules in load order.
func (s *State) AllModules() []ir.Module {
	out := make([]ir.Module, 0, len(s.moduleOrder))
	for _, id := range s.moduleOrder {
		out = append(out, s.modules[id].Clone())
	}
	return out
}

// WellLiquid returns the tracked liquid of a well.
func (s *State) WellLiquid(labwareID, wellName string) (ir.WellLiquid, bool) {
	l, ok := s.liquids[WellKey{labwareID, wellName}]
	return l, ok
}

// AllLiquids returns tracked wells sorted by labware id then well name.
func (s *State) AllLiquids() []ir.WellLiquid {
	out := slices.Collect(maps.Values(s.liquids))
	slices.SortFunc(out, func(a, b ir.WellLiquid) int {
		if a.LabwareID != b.LabwareID {
			if a.LabwareID < b.LabwareID {
				return -1
			}
			return 1
		}
		return compareWellNames(a.WellName, b.WellName)
	})
	return out
}

// compareWellNames orders A2 before A10.
func compareWellNames(a, b string) int {
	if len(a) > 0 && len(b) > 0 && a[0] != b[0] {
		return int(a[0]) - int(b[0])
	}
	na, errA := strconv.Atoi(a[min(1, len(a)):])
	nb, errB := strconv.Atoi(b[min(1, len(b)):])
	if errA == nil && errB == nil && na != nb {
		return na - nb
	}
	if a < b {
		return -1
	}
	if a > b {
		return 1
	}
	return 0
}

// AddressableAreas returns the configured deck slots followed by the fixed
// trash. Slots used by a command but missing from the configuration are
// appended in name order.
func (s *State) AddressableAreas() []ir.AddressableArea {
	out := make([]ir.AddressableArea, 0, len(s.cfg.DeckSlots)+1)
	seen := make(map[string]bool, len(s.cfg.DeckSlots))
	for _, slot := range s.cfg.DeckSlots {
		seen[slot] = true
		out = append(out, ir.AddressableArea{Name: slot, Kind: ir.AreaSlot, Used: s.areasUsed[slot]})
	}
	var extra []string
	for name := range s.areasUsed {
		if !seen[name] && name != ir.FixedTrashArea {
			extra = append(extra, name)
		}
	}
	slices.Sort(extra)
	for _, name := range extra {
		out = append(out, ir.AddressableArea{Name: name, Kind: ir.AreaSlot, Used: true})
	}
	return append(out, ir.AddressableArea{Name: ir.FixedTrashArea, Kind: ir.AreaTrash, Used: s.areasUsed[ir.FixedTrashArea]})
}

// AddressableAreaUsed reports whether anything was ever placed in an area.
func (s *State) AddressableAreaUsed(name string) bool { return s.areasUsed[name] }

// IsTipUsed reports whether the tip in a tip rack well has been picked up.
func (s *State) IsTipUsed(labwareID, wellName string) bool {
	return s.usedTips[labwareID][wellName]
}

// UsedTips returns the emptied wells of a tip rack in well order.
func (s *State) UsedTips(labwareID string) []string {
	wells := slices.Collect(maps.Keys(s.usedTips[labwareID]))
	slices.SortFunc(wells, compareWellNames)
	return wells
}

// allUsedTips returns the emptied wells of every tip rack.
func (s *State) allUsedTips() map[string][]string {
	if len(s.usedTips) == 0 {
		return nil
	}
	out := make(map[string][]string, len(s.usedTips))
	for id := range s.usedTips {
		out[id] = s.UsedTips(id)
	}
	return out
}

// LabwareOffset finds the latest offset registered for a definition at a
// location.
func (s *State) LabwareOffset(definitionURI string, loc ir.LabwareLocation) (ir.LabwareOffset, bool) {
	for i := len(s.offsets) - 1; i >= 0; i-- {
		if o := s.offsets[i]; o.DefinitionURI == definitionURI && o.Location == loc {
			return o, true
		}
	}
	return ir.LabwareOffset{}, false
}

// LabwareOffsetByID returns a registered offset.
func (s *State) LabwareOffsetByID(id string) (ir.LabwareOffset, bool) {
	for _, o := range s.offsets {
		if o.ID == id {
			return o, true
		}
	}
	return ir.LabwareOffset{}, false
}

// Errors returns every recorded error in order.
func (s *State) Errors() []ir.ErrorOccurrence {
	out := make([]ir.ErrorOccurrence, len(s.errors))
	for i, e := range s.errors {
		out[i] = e.Clone()
	}
	return out
}

// RunTimeParameters returns a copy of the run-time parameters.
func (s *State) RunTimeParameters() map[string]any { return ir.CloneValues(s.rtp) }

func formatVolume(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
