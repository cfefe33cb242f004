package state

import "github.com/roach88/protoengine/internal/ir"

// Snapshot is a deep, detached copy of a State for external readers.
type Snapshot struct {
	Run               Run                  `json:"run"`
	Commands          []ir.Command         `json:"commands"`
	Labware           []ir.Labware         `json:"labware"`
	Pipettes          []ir.Pipette         `json:"pipettes"`
	Modules           []ir.Module          `json:"modules"`
	Liquids           []ir.WellLiquid      `json:"liquids"`
	AddressableAreas  []ir.AddressableArea `json:"addressable_areas"`
	UsedTips          map[string][]string  `json:"used_tips,omitempty"`
	LabwareOffsets    []ir.LabwareOffset   `json:"labware_offsets"`
	Errors            []ir.ErrorOccurrence `json:"errors"`
	RunTimeParameters map[string]any       `json:"run_time_parameters,omitempty"`
}

// Snapshot copies the state.
func (s *State) Snapshot() Snapshot {
	offsets := make([]ir.LabwareOffset, len(s.offsets))
	copy(offsets, s.offsets)
	return Snapshot{
		Run:               s.Run(),
		Commands:          s.AllCommands(),
		Labware:           s.AllLabware(),
		Pipettes:          s.AllPipettes(),
		Modules:           s.AllModules(),
		Liquids:           s.AllLiquids(),
		AddressableAreas:  s.AddressableAreas(),
		UsedTips:          s.allUsedTips(),
		LabwareOffsets:    offsets,
		Errors:            s.Errors(),
		RunTimeParameters: s.RunTimeParameters(),
	}
}

// Status is shorthand for the run status.
func (s Snapshot) Status() ir.RunStatus { return s.Run.Status }

// Hash returns the canonical hash of the snapshot.
func (s Snapshot) Hash() (string, error) { return ir.SnapshotHash(s) }

// Derived is the physical part of a snapshot: what is where. Runs that
// perform the same commands have equal Derived values whatever backend
// executed them.
type Derived struct {
	Labware  []ir.Labware        `json:"labware"`
	Pipettes []ir.Pipette        `json:"pipettes"`
	Modules  []ir.Module         `json:"modules"`
	Liquids  []ir.WellLiquid     `json:"liquids"`
	UsedTips map[string][]string `json:"used_tips,omitempty"`
}

// Derived returns the entity collections of the snapshot.
func (s Snapshot) Derived() Derived {
	return Derived{Labware: s.Labware, Pipettes: s.Pipettes, Modules: s.Modules, Liquids: s.Liquids, UsedTips: s.UsedTips}
}
