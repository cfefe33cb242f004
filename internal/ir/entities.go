package ir

import "time"

// Labware is a physical container instance on (or off) the deck.
// Created by LoadLabware, relocated only by MoveLabware, never deleted.
type Labware struct {
	ID            string          `json:"id"`
	LoadName      string          `json:"load_name"`
	DefinitionURI string          `json:"definition_uri"`
	Location      LabwareLocation `json:"location"`
	OffsetID      string          `json:"offset_id,omitempty"`
	DisplayName   string          `json:"display_name,omitempty"`
}

// TipStatus says whether a pipette holds a tip.
type TipStatus string

const (
	TipNone     TipStatus = "none"
	TipAttached TipStatus = "attached"
)

// TipState describes the tip on a pipette. Volume and Length are zero when
// Status is TipNone.
type TipState struct {
	Status TipStatus `json:"status"`
	Volume float64   `json:"volume,omitempty"`
	Length float64   `json:"length,omitempty"`
}

// Pipette is a mounted instrument.
type Pipette struct {
	ID            string       `json:"id"`
	PipetteName   string       `json:"pipette_name"`
	Mount         MountType    `json:"mount"`
	MaxVolume     float64      `json:"max_volume"`
	Channels      int          `json:"channels"`
	CurrentVolume float64      `json:"current_volume"`
	Tip           TipState     `json:"tip"`
	Position      *Coordinates `json:"position,omitempty"`
	CurrentWell   *WellRef     `json:"current_well,omitempty"`
}

// Clone returns a deep copy of the pipette.
func (p Pipette) Clone() Pipette {
	out := p
	if p.Position != nil {
		pos := *p.Position
		out.Position = &pos
	}
	if p.CurrentWell != nil {
		w := *p.CurrentWell
		out.CurrentWell = &w
	}
	return out
}

// ModuleStatus is the live sub-state of a module. It is refreshed from the
// hardware, not only derived from commands.
type ModuleStatus struct {
	State          string   `json:"state"`
	TargetCelsius  *float64 `json:"target_celsius,omitempty"`
	CurrentCelsius *float64 `json:"current_celsius,omitempty"`
}

// Clone returns a deep copy of the status.
func (s ModuleStatus) Clone() ModuleStatus {
	out := s
	if s.TargetCelsius != nil {
		v := *s.TargetCelsius
		out.TargetCelsius = &v
	}
	if s.CurrentCelsius != nil {
		v := *s.CurrentCelsius
		out.CurrentCelsius = &v
	}
	return out
}

// Module is a mounted auxiliary device.
type Module struct {
	ID           string          `json:"id"`
	Model        ModuleModel     `json:"model"`
	Location     LabwareLocation `json:"location"`
	SerialNumber string          `json:"serial_number"`
	Status       ModuleStatus    `json:"status"`
}

// WellLiquid is the tracked liquid of one well.
type WellLiquid struct {
	LabwareID string  `json:"labware_id"`
	WellName  string  `json:"well_name"`
	LiquidID  string  `json:"liquid_id"`
	Volume    float64 `json:"volume"`
}

// LabwareOffset is a calibration vector applied to labware of one definition
// at one location.
type LabwareOffset struct {
	ID            string          `json:"id"`
	DefinitionURI string          `json:"definition_uri"`
	Location      LabwareLocation `json:"location"`
	Vector        Coordinates     `json:"vector"`
	CreatedAt     time.Time       `json:"created_at"`
}

// RunStatus is the top-level engine status.
type RunStatus string

const (
	RunReady                  RunStatus = "ready"
	RunRunning                RunStatus = "running"
	RunPaused                 RunStatus = "paused"
	RunAwaitingRecovery       RunStatus = "awaiting-recovery"
	RunAwaitingRecoveryPaused RunStatus = "awaiting-recovery-paused"
	RunStopped                RunStatus = "stopped"
	RunSucceeded              RunStatus = "succeeded"
	RunFailed                 RunStatus = "failed"
)

// IsTerminal reports whether the run can no longer change status.
func (s RunStatus) IsTerminal() bool {
	return s == RunStopped || s == RunSucceeded || s == RunFailed
}

// Clone returns a deep copy of the module.
func (m Module) Clone() Module {
	out := m
	out.Status = m.Status.Clone()
	return out
}

// FixedTrashArea is the addressable area tips are dropped into when no
// labware is named.
const FixedTrashArea = "fixedTrash"

// AreaKind classifies addressable areas.
type AreaKind string

const (
	AreaSlot  AreaKind = "slot"
	AreaTrash AreaKind = "trash"
)

// AddressableArea is a named place on the deck that commands can address.
// Used is set once a command has loaded, moved or dropped anything there.
type AddressableArea struct {
	Name string   `json:"name"`
	Kind AreaKind `json:"kind"`
	Used bool     `json:"used"`
}
