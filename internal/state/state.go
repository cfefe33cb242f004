// Package state holds the derived run state and the pure reducers that
// compute it from actions.
//
// A *State is immutable once returned by Reduce: reducers copy every
// collection they change, so a published State can be read from any
// goroutine without locks while newer states are being computed.
package state

import (
	"time"

	"github.com/roach88/protoengine/internal/ir"
)

// Config holds the reducer settings fixed for the life of a run.
type Config struct {
	// BlockOnDoorOpen pauses a running run when the deck door opens and
	// refuses Play until it closes.
	BlockOnDoorOpen bool `json:"block_on_door_open" yaml:"block_on_door_open"`

	// DeckSlots are the slot areas of the deck. The fixed trash is always
	// present as well.
	DeckSlots []string `json:"deck_slots,omitempty" yaml:"deck_slots,omitempty"`
}

// Run is the top-level run status and its bookkeeping.
type Run struct {
	Status                  ir.RunStatus `json:"status"`
	StartedAt               *time.Time   `json:"started_at,omitempty"`
	CompletedAt             *time.Time   `json:"completed_at,omitempty"`
	DoorBlocking            bool         `json:"door_blocking,omitempty"`
	StoppedByEstop          bool         `json:"stopped_by_estop,omitempty"`
	RecoveryTargetCommandID string       `json:"recovery_target_command_id,omitempty"`
	PauseSource             string       `json:"pause_source,omitempty"`
}

func (r Run) clone() Run {
	out := r
	if r.StartedAt != nil {
		t := *r.StartedAt
		out.StartedAt = &t
	}
	if r.CompletedAt != nil {
		t := *r.CompletedAt
		out.CompletedAt = &t
	}
	return out
}

// WellKey addresses one well.
type WellKey struct {
	LabwareID string
	WellName  string
}

type commandState struct {
	order           []string
	byID            map[string]ir.Command
	running         string
	lastProtocolKey string
}

// State is the aggregate root of a run.
type State struct {
	cfg Config
	run Run

	commands commandState

	labware      map[string]ir.Labware
	labwareOrder []string
	pipettes     map[string]ir.Pipette
	pipetteOrder []string
	modules      map[string]ir.Module
	moduleOrder  []string
	liquids      map[WellKey]ir.WellLiquid
	areasUsed    map[string]bool
	usedTips     map[string]map[string]bool
	offsets      []ir.LabwareOffset
	errors       []ir.ErrorOccurrence
	rtp          map[string]any
}

// New returns the initial READY state.
func New(cfg Config) *State {
	return &State{
		cfg: cfg,
		run: Run{Status: ir.RunReady},
		commands: commandState{
			byID: map[string]ir.Command{},
		},
		labware:   map[string]ir.Labware{},
		pipettes:  map[string]ir.Pipette{},
		modules:   map[string]ir.Module{},
		liquids:   map[WellKey]ir.WellLiquid{},
		areasUsed: map[string]bool{},
		usedTips:  map[string]map[string]bool{},
	}
}

// shallow returns a copy sharing every collection with s. Reducers replace
// the collections they modify.
func (s *State) shallow() *State {
	out := *s
	return &out
}
