// Package definitions provides read-only labware, pipette and module
// definitions. The engine consumes them through Provider; the built-in
// catalog is a YAML document embedded in the binary.
package definitions

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/roach88/protoengine/internal/ir"
)

// ErrNotFound is wrapped by every lookup miss.
var ErrNotFound = errors.New("definition not found")

// Provider looks up static definitions. Implementations must be safe for
// concurrent use and must not block on I/O for long; lookups happen on the
// command execution path.
type Provider interface {
	LabwareDefinition(loadName, namespace string, version int) (LabwareDefinition, error)
	PipetteDefinition(pipetteName string) (PipetteDefinition, error)
	ModuleDefinition(model ir.ModuleModel) (ModuleDefinition, error)
}

// WellDefinition locates one well relative to the labware origin. Z is the
// well bottom.
type WellDefinition struct {
	X        float64 `json:"x" yaml:"x"`
	Y        float64 `json:"y" yaml:"y"`
	Z        float64 `json:"z" yaml:"z"`
	Depth    float64 `json:"depth" yaml:"depth"`
	Diameter float64 `json:"diameter,omitempty" yaml:"diameter,omitempty"`
	Capacity float64 `json:"capacity" yaml:"capacity"`
}

// Top returns the point at the centre of the well opening.
func (w WellDefinition) Top() ir.Coordinates {
	return ir.Coordinates{X: w.X, Y: w.Y, Z: w.Z + w.Depth}
}

// Bottom returns the point at the centre of the well bottom.
func (w WellDefinition) Bottom() ir.Coordinates {
	return ir.Coordinates{X: w.X, Y: w.Y, Z: w.Z}
}

// LabwareDefinition is the geometry of one labware type.
type LabwareDefinition struct {
	LoadName    string                    `json:"load_name" yaml:"load_name"`
	Namespace   string                    `json:"namespace" yaml:"namespace"`
	Version     int                       `json:"version" yaml:"version"`
	DisplayName string                    `json:"display_name" yaml:"display_name"`
	IsTiprack   bool                      `json:"is_tiprack" yaml:"is_tiprack"`
	TipLength   float64                   `json:"tip_length,omitempty" yaml:"tip_length,omitempty"`
	TipVolume   float64                   `json:"tip_volume,omitempty" yaml:"tip_volume,omitempty"`
	Height      float64                   `json:"height" yaml:"height"`
	Wells       map[string]WellDefinition `json:"wells" yaml:"wells"`
}

// URI returns the namespace/load_name/version identifier.
func (d LabwareDefinition) URI() string {
	return URI(d.Namespace, d.LoadName, d.Version)
}

// Well returns the named well.
func (d LabwareDefinition) Well(name string) (WellDefinition, bool) {
	w, ok := d.Wells[name]
	return w, ok
}

// DefaultNamespace is assumed for labware loaded without a namespace.
const DefaultNamespace = "opentrons"

// URI formats a labware definition URI.
func URI(namespace, loadName string, version int) string {
	return fmt.Sprintf("%s/%s/%d", namespace, loadName, version)
}

// PipetteDefinition describes a pipette model.
type PipetteDefinition struct {
	PipetteName         string         `json:"pipette_name" yaml:"pipette_name"`
	DisplayName         string         `json:"display_name" yaml:"display_name"`
	Channels            int            `json:"channels" yaml:"channels"`
	MinVolume           float64        `json:"min_volume" yaml:"min_volume"`
	MaxVolume           float64        `json:"max_volume" yaml:"max_volume"`
	AspirateFlowRate    float64        `json:"aspirate_flow_rate" yaml:"aspirate_flow_rate"`
	DispenseFlowRate    float64        `json:"dispense_flow_rate" yaml:"dispense_flow_rate"`
	BlowOutFlowRate     float64        `json:"blow_out_flow_rate" yaml:"blow_out_flow_rate"`
	NozzleOffset        ir.Coordinates `json:"nozzle_offset" yaml:"nozzle_offset"`
	CompatibleTipVolume []float64      `json:"compatible_tip_volumes" yaml:"compatible_tip_volumes"`
}

// AcceptsTip reports whether the pipette can pick up a tip of the given volume.
// An empty compatibility list accepts any tip.
func (d PipetteDefinition) AcceptsTip(volume float64) bool {
	if len(d.CompatibleTipVolume) == 0 {
		return true
	}
	for _, v := range d.CompatibleTipVolume {
		if v == volume {
			return true
		}
	}
	return false
}

// ModuleDefinition describes a module model.
type ModuleDefinition struct {
	Model          ir.ModuleModel `json:"model" yaml:"model"`
	DisplayName    string         `json:"display_name" yaml:"display_name"`
	LabwareOffset  ir.Coordinates `json:"labware_offset" yaml:"labware_offset"`
	HasTemperature bool           `json:"has_temperature" yaml:"has_temperature"`
	MinCelsius     float64        `json:"min_celsius,omitempty" yaml:"min_celsius,omitempty"`
	MaxCelsius     float64        `json:"max_celsius,omitempty" yaml:"max_celsius,omitempty"`
}

// SupportsTemperature reports whether celsius is a valid target for the module.
func (d ModuleDefinition) SupportsTemperature(celsius float64) bool {
	return d.HasTemperature && celsius >= d.MinCelsius && celsius <= d.MaxCelsius
}

// ParseURI splits a namespace/load_name/version URI.
func ParseURI(uri string) (namespace, loadName string, version int, err error) {
	parts := strings.Split(uri, "/")
	if len(parts) != 3 {
		return "", "", 0, fmt.Errorf("malformed definition uri %q", uri)
	}
	version, err = strconv.Atoi(parts[2])
	if err != nil {
		return "", "", 0, fmt.Errorf("malformed definition uri %q: %w", uri, err)
	}
	return parts[0], parts[1], version, nil
}
