package ir

// EmptyResult is the result of commands with no success payload.
type EmptyResult struct{}

// PositionResult reports where the pipette ended up.
type PositionResult struct {
	Position Coordinates `json:"position"`
}

type LoadLabwareResult struct {
	LabwareID     string `json:"labware_id"`
	DefinitionURI string `json:"definition_uri"`
	LoadName      string `json:"load_name"`
	OffsetID      string `json:"offset_id,omitempty"`
}

type LoadPipetteResult struct {
	PipetteID string  `json:"pipette_id"`
	MaxVolume float64 `json:"max_volume"`
	Channels  int     `json:"channels"`
}

type LoadModuleResult struct {
	ModuleID     string       `json:"module_id"`
	Model        ModuleModel  `json:"model"`
	SerialNumber string       `json:"serial_number"`
	Status       ModuleStatus `json:"status"`
}

type PickUpTipResult struct {
	TipVolume float64     `json:"tip_volume"`
	TipLength float64     `json:"tip_length"`
	Position  Coordinates `json:"position"`
}

// LiquidHandlingResult is the result of aspirate and dispense.
type LiquidHandlingResult struct {
	Volume   float64     `json:"volume"`
	Position Coordinates `json:"position"`
}

type MoveLabwareResult struct {
	OffsetID string `json:"offset_id,omitempty"`
}

type CustomResult struct {
	Data map[string]any `json:"data"`
}

type SetTargetTemperatureResult struct {
	TargetCelsius float64 `json:"target_celsius"`
}

func (EmptyResult) isResult()                {}
func (PositionResult) isResult()             {}
func (LoadLabwareResult) isResult()          {}
func (LoadPipetteResult) isResult()          {}
func (LoadModuleResult) isResult()           {}
func (PickUpTipResult) isResult()            {}
func (LiquidHandlingResult) isResult()       {}
func (MoveLabwareResult) isResult()          {}
func (CustomResult) isResult()               {}
func (SetTargetTemperatureResult) isResult() {}

func cloneResult(r Result) Result {
	switch v := r.(type) {
	case CustomResult:
		v.Data = cloneAnyMap(v.Data)
		return v
	case LoadModuleResult:
		v.Status = v.Status.Clone()
		return v
	default:
		return r
	}
}
