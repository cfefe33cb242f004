package ir

import "maps"

// MountType identifies where a pipette is attached.
type MountType string

const (
	MountLeft      MountType = "left"
	MountRight     MountType = "right"
	MountExtension MountType = "extension"
)

// LabwareMovementStrategy selects how MoveLabware relocates labware.
type LabwareMovementStrategy string

const (
	// MoveManually relocates labware by operator action; no hardware motion.
	MoveManually LabwareMovementStrategy = "manualMoveWithPause"
	// MoveWithGripper relocates labware using the gripper.
	MoveWithGripper LabwareMovementStrategy = "usingGripper"
)

// ModuleModel names a supported auxiliary module.
type ModuleModel string

const (
	TemperatureModuleV2 ModuleModel = "temperatureModuleV2"
	HeaterShakerV1      ModuleModel = "heaterShakerModuleV1"
	ThermocyclerV2      ModuleModel = "thermocyclerModuleV2"
	MagneticBlockV1     ModuleModel = "magneticBlockV1"
)

// Coordinates is a point in deck space, in millimetres.
type Coordinates struct {
	X float64 `json:"x" yaml:"x"`
	Y float64 `json:"y" yaml:"y"`
	Z float64 `json:"z" yaml:"z"`
}

// Add returns c translated by o.
func (c Coordinates) Add(o Coordinates) Coordinates {
	return Coordinates{X: c.X + o.X, Y: c.Y + o.Y, Z: c.Z + o.Z}
}

// LabwareLocation is where labware (or a module) sits. Exactly one field is set.
type LabwareLocation struct {
	SlotName  string `json:"slot_name,omitempty"`
	ModuleID  string `json:"module_id,omitempty"`
	LabwareID string `json:"labware_id,omitempty"`
	OffDeck   bool   `json:"off_deck,omitempty"`
}

// OffDeckLocation is the location of labware that has left the deck.
var OffDeckLocation = LabwareLocation{OffDeck: true}

// String renders the location for logs and error messages.
func (l LabwareLocation) String() string {
	switch {
	case l.SlotName != "":
		return "slot " + l.SlotName
	case l.ModuleID != "":
		return "module " + l.ModuleID
	case l.LabwareID != "":
		return "labware " + l.LabwareID
	case l.OffDeck:
		return "off-deck"
	default:
		return "unknown"
	}
}

// WellRef addresses one well of one labware.
type WellRef struct {
	LabwareID string `json:"labware_id"`
	WellName  string `json:"well_name"`
}

type LoadLabwareParams struct {
	LoadName    string          `json:"load_name"`
	Namespace   string          `json:"namespace,omitempty"`
	Version     int             `json:"version,omitempty"`
	Location    LabwareLocation `json:"location"`
	LabwareID   string          `json:"labware_id,omitempty"`
	DisplayName string          `json:"display_name,omitempty"`
}

type LoadPipetteParams struct {
	PipetteName string    `json:"pipette_name"`
	Mount       MountType `json:"mount"`
	PipetteID   string    `json:"pipette_id,omitempty"`
}

type LoadModuleParams struct {
	Model    ModuleModel     `json:"model"`
	Location LabwareLocation `json:"location"`
	ModuleID string          `json:"module_id,omitempty"`
}

// LoadLiquidParams seeds the tracked liquid of a labware's wells.
type LoadLiquidParams struct {
	LabwareID    string             `json:"labware_id"`
	LiquidID     string             `json:"liquid_id"`
	VolumeByWell map[string]float64 `json:"volume_by_well"`
}

type PickUpTipParams struct {
	PipetteID string `json:"pipette_id"`
	LabwareID string `json:"labware_id"`
	WellName  string `json:"well_name"`
}

// DropTipParams drops into the given well, or into the trash when LabwareID is empty.
type DropTipParams struct {
	PipetteID string `json:"pipette_id"`
	LabwareID string `json:"labware_id,omitempty"`
	WellName  string `json:"well_name,omitempty"`
}

type AspirateParams struct {
	PipetteID string  `json:"pipette_id"`
	LabwareID string  `json:"labware_id"`
	WellName  string  `json:"well_name"`
	Volume    float64 `json:"volume"`
	FlowRate  float64 `json:"flow_rate,omitempty"`
}

type DispenseParams struct {
	PipetteID string  `json:"pipette_id"`
	LabwareID string  `json:"labware_id"`
	WellName  string  `json:"well_name"`
	Volume    float64 `json:"volume"`
	FlowRate  float64 `json:"flow_rate,omitempty"`
}

type BlowOutParams struct {
	PipetteID string  `json:"pipette_id"`
	LabwareID string  `json:"labware_id"`
	WellName  string  `json:"well_name"`
	FlowRate  float64 `json:"flow_rate,omitempty"`
}

type TouchTipParams struct {
	PipetteID string  `json:"pipette_id"`
	LabwareID string  `json:"labware_id"`
	WellName  string  `json:"well_name"`
	Radius    float64 `json:"radius,omitempty"`
	VOffset   float64 `json:"v_offset,omitempty"`
}

type MoveLabwareParams struct {
	LabwareID   string                  `json:"labware_id"`
	NewLocation LabwareLocation         `json:"new_location"`
	Strategy    LabwareMovementStrategy `json:"strategy,omitempty"`
}

type MoveToCoordinatesParams struct {
	PipetteID   string      `json:"pipette_id"`
	Coordinates Coordinates `json:"coordinates"`
}

type MoveToWellParams struct {
	PipetteID string `json:"pipette_id"`
	LabwareID string `json:"labware_id"`
	WellName  string `json:"well_name"`
}

type HomeParams struct{}

type DelayParams struct {
	Seconds float64 `json:"seconds"`
	Message string  `json:"message,omitempty"`
}

// WaitForResumeParams pauses the run after the command succeeds.
type WaitForResumeParams struct {
	Message string `json:"message,omitempty"`
}

type CommentParams struct {
	Message string `json:"message"`
}

// CustomParams carries opaque client data; the engine only records it.
type CustomParams struct {
	Data map[string]any `json:"data,omitempty"`
}

type SetTargetTemperatureParams struct {
	ModuleID string  `json:"module_id"`
	Celsius  float64 `json:"celsius"`
}

type DeactivateModuleParams struct {
	ModuleID string `json:"module_id"`
}

func (LoadLabwareParams) Kind() CommandKind          { return KindLoadLabware }
func (LoadPipetteParams) Kind() CommandKind          { return KindLoadPipette }
func (LoadModuleParams) Kind() CommandKind           { return KindLoadModule }
func (LoadLiquidParams) Kind() CommandKind           { return KindLoadLiquid }
func (PickUpTipParams) Kind() CommandKind            { return KindPickUpTip }
func (DropTipParams) Kind() CommandKind              { return KindDropTip }
func (AspirateParams) Kind() CommandKind             { return KindAspirate }
func (DispenseParams) Kind() CommandKind             { return KindDispense }
func (BlowOutParams) Kind() CommandKind              { return KindBlowOut }
func (TouchTipParams) Kind() CommandKind             { return KindTouchTip }
func (MoveLabwareParams) Kind() CommandKind          { return KindMoveLabware }
func (MoveToCoordinatesParams) Kind() CommandKind    { return KindMoveToCoordinates }
func (MoveToWellParams) Kind() CommandKind           { return KindMoveToWell }
func (HomeParams) Kind() CommandKind                 { return KindHome }
func (DelayParams) Kind() CommandKind                { return KindDelay }
func (WaitForResumeParams) Kind() CommandKind        { return KindWaitForResume }
func (CommentParams) Kind() CommandKind              { return KindComment }
func (CustomParams) Kind() CommandKind               { return KindCustom }
func (SetTargetTemperatureParams) Kind() CommandKind { return KindSetTargetTemperature }
func (DeactivateModuleParams) Kind() CommandKind     { return KindDeactivateModule }

// cloneParams copies the params kinds that carry reference types.
func cloneParams(p Params) Params {
	switch v := p.(type) {
	case LoadLiquidParams:
		v.VolumeByWell = maps.Clone(v.VolumeByWell)
		return v
	case CustomParams:
		v.Data = cloneAnyMap(v.Data)
		return v
	default:
		return p
	}
}

func cloneAnyMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = cloneAny(v)
	}
	return out
}

func cloneAny(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return cloneAnyMap(val)
	case []any:
		out := make([]any, len(val))
		for i, elem := range val {
			out[i] = cloneAny(elem)
		}
		return out
	default:
		return v
	}
}

// CloneValues deep-copies a JSON-shaped value map.
func CloneValues(m map[string]any) map[string]any {
	return cloneAnyMap(m)
}
