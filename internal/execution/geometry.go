package execution

import (
	"fmt"
	"slices"

	"github.com/roach88/protoengine/internal/definitions"
	"github.com/roach88/protoengine/internal/ir"
	"github.com/roach88/protoengine/internal/state"
)

// Deck maps slot names to the front-left-bottom corner of each slot.
type Deck struct {
	slots map[string]ir.Coordinates
	trash ir.Coordinates
}

const (
	slotPitchX = 164.0
	slotPitchY = 107.0
)

// wellBottomClearance is how far above the well bottom liquid handling
// happens.
const wellBottomClearance = 1.0

// StandardSlots lists the slots of a four-row, three-column deck plus the
// staging column.
var StandardSlots = []string{
	"A1", "A2", "A3", "B1", "B2", "B3", "C1", "C2", "C3", "D1", "D2", "D3",
	"A4", "B4", "C4", "D4",
}

// NewDeck builds a deck restricted to the given slots; nil means all
// standard slots. Row D is at the front (y = 0), column 1 on the left.
func NewDeck(allowed []string) (Deck, error) {
	if allowed == nil {
		allowed = StandardSlots
	}
	d := Deck{
		slots: make(map[string]ir.Coordinates, len(allowed)),
		trash: ir.Coordinates{X: 2*slotPitchX + 64, Y: 3*slotPitchY + 43, Z: 40},
	}
	for _, name := range allowed {
		if !slices.Contains(StandardSlots, name) {
			return Deck{}, fmt.Errorf("unknown deck slot %q", name)
		}
		row := int('D' - name[0])
		col := int(name[1] - '1')
		d.slots[name] = ir.Coordinates{X: float64(col) * slotPitchX, Y: float64(row) * slotPitchY}
	}
	return d, nil
}

// Slot returns the origin of a slot.
func (d Deck) Slot(name string) (ir.Coordinates, bool) {
	c, ok := d.slots[name]
	return c, ok
}

// Trash returns the drop point of the fixed trash.
func (d Deck) Trash() ir.Coordinates { return d.trash }

// geometry resolves labware and well positions from current state.
type geometry struct {
	deck Deck
	defs definitions.Provider
	view *state.State
}

// locationOrigin returns where labware placed at loc has its origin.
func (g geometry) locationOrigin(loc ir.LabwareLocation, depth int) (ir.Coordinates, error) {
	if depth > 8 {
		return ir.Coordinates{}, fmt.Errorf("labware stack too deep")
	}
	switch {
	case loc.SlotName != "":
		origin, ok := g.deck.Slot(loc.SlotName)
		if !ok {
			return ir.Coordinates{}, fmt.Errorf("slot %s is not on this deck", loc.SlotName)
		}
		return origin, nil
	case loc.ModuleID != "":
		mod, ok := g.view.Module(loc.ModuleID)
		if !ok {
			return ir.Coordinates{}, fmt.Errorf("module %s is not loaded", loc.ModuleID)
		}
		origin, err := g.locationOrigin(mod.Location, depth+1)
		if err != nil {
			return ir.Coordinates{}, err
		}
		def, err := g.defs.ModuleDefinition(mod.Model)
		if err != nil {
			return ir.Coordinates{}, err
		}
		return origin.Add(def.LabwareOffset), nil
	case loc.LabwareID != "":
		below, ok := g.view.Labware(loc.LabwareID)
		if !ok {
			return ir.Coordinates{}, fmt.Errorf("labware %s is not loaded", loc.LabwareID)
		}
		origin, err := g.labwareOrigin(below, depth+1)
		if err != nil {
			return ir.Coordinates{}, err
		}
		def, err := g.definitionOf(below)
		if err != nil {
			return ir.Coordinates{}, err
		}
		return origin.Add(ir.Coordinates{Z: def.Height}), nil
	default:
		return ir.Coordinates{}, fmt.Errorf("labware at %s has no deck position", loc)
	}
}

func (g geometry) labwareOrigin(lw ir.Labware, depth int) (ir.Coordinates, error) {
	origin, err := g.locationOrigin(lw.Location, depth)
	if err != nil {
		return ir.Coordinates{}, err
	}
	if lw.OffsetID != "" {
		if off, ok := g.view.LabwareOffsetByID(lw.OffsetID); ok {
			origin = origin.Add(off.Vector)
		}
	}
	return origin, nil
}

func (g geometry) definitionOf(lw ir.Labware) (definitions.LabwareDefinition, error) {
	ns, name, version, err := definitions.ParseURI(lw.DefinitionURI)
	if err != nil {
		return definitions.LabwareDefinition{}, err
	}
	return g.defs.LabwareDefinition(name, ns, version)
}

// wellPoint is a resolved well: its definition and absolute position.
type wellPoint struct {
	labware ir.Labware
	def     definitions.LabwareDefinition
	well    definitions.WellDefinition
	origin  ir.Coordinates
}

func (w wellPoint) top(zOffset float64) ir.Coordinates {
	return w.origin.Add(w.well.Top()).Add(ir.Coordinates{Z: zOffset})
}

func (w wellPoint) bottom(zOffset float64) ir.Coordinates {
	return w.origin.Add(w.well.Bottom()).Add(ir.Coordinates{Z: zOffset})
}
