package state

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/roach88/protoengine/internal/action"
	"github.com/roach88/protoengine/internal/ir"
)

var t0 = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func at(sec int) time.Time { return t0.Add(time.Duration(sec) * time.Second) }

func queue(id string, p ir.Params) action.QueueCommand {
	return action.QueueCommand{
		Command: ir.Command{
			ID:        id,
			Kind:      p.Kind(),
			Params:    p,
			Status:    ir.CommandQueued,
			Intent:    ir.IntentProtocol,
			CreatedAt: t0,
		},
		Index: action.AppendIndex,
	}
}

func succeed(id string, kind ir.CommandKind, r ir.Result) []action.Action {
	return []action.Action{
		action.CommandStarted{CommandID: id, StartedAt: t0},
		action.CommandSucceeded{CommandID: id, Kind: kind, Result: r, CompletedAt: t0},
	}
}

// apply reduces every action and fails the test on the first rejection.
func apply(t *testing.T, s *State, actions ...action.Action) *State {
	t.Helper()
	for _, a := range actions {
		next, err := Reduce(s, a)
		require.NoError(t, err, "action %s", a.Type())
		s = next
	}
	return s
}

// deckWithTips returns a running state with a tip rack, a plate holding
// 100 uL of water in A1, and a p1000 that has a tip attached.
func deckWithTips(t *testing.T) *State {
	t.Helper()
	s := New(Config{})
	s = apply(t, s, action.Play{At: t0})

	s = apply(t, s, queue("c1", ir.LoadLabwareParams{LoadName: "tiprack_200ul", Location: ir.LabwareLocation{SlotName: "B2"}}))
	s = apply(t, s, succeed("c1", ir.KindLoadLabware, ir.LoadLabwareResult{LabwareID: "tips", LoadName: "tiprack_200ul", DefinitionURI: "opentrons/tiprack_200ul/1"})...)

	s = apply(t, s, queue("c2", ir.LoadLabwareParams{LoadName: "plate_96", Location: ir.LabwareLocation{SlotName: "C2"}}))
	s = apply(t, s, succeed("c2", ir.KindLoadLabware, ir.LoadLabwareResult{LabwareID: "plate", LoadName: "plate_96", DefinitionURI: "opentrons/plate_96/1"})...)

	s = apply(t, s, queue("c3", ir.LoadPipetteParams{PipetteName: "p1000_single", Mount: ir.MountLeft}))
	s = apply(t, s, succeed("c3", ir.KindLoadPipette, ir.LoadPipetteResult{PipetteID: "pip", MaxVolume: 1000, Channels: 1})...)

	s = apply(t, s, queue("c4", ir.LoadLiquidParams{LabwareID: "plate", LiquidID: "water", VolumeByWell: map[string]float64{"A1": 100}}))
	s = apply(t, s, succeed("c4", ir.KindLoadLiquid, ir.EmptyResult{})...)

	s = apply(t, s, queue("c5", ir.PickUpTipParams{PipetteID: "pip", LabwareID: "tips", WellName: "A1"}))
	s = apply(t, s, succeed("c5", ir.KindPickUpTip, ir.PickUpTipResult{TipVolume: 200, TipLength: 58.35})...)
	return s
}
