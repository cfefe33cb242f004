package state

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/protoengine/internal/action"
	"github.com/roach88/protoengine/internal/ir"
)

func TestLoadAndPickUpTip(t *testing.T) {
	s := deckWithTips(t)

	tip, ok := s.PipetteTipState("pip")
	require.True(t, ok)
	assert.Equal(t, ir.TipAttached, tip.Status)
	assert.Equal(t, 58.35, tip.Length)

	loc, ok := s.LabwareLocation("tips")
	require.True(t, ok)
	assert.Equal(t, "B2", loc.SlotName)

	pip, _ := s.Pipette("pip")
	require.NotNil(t, pip.CurrentWell)
	assert.Equal(t, "A1", pip.CurrentWell.WellName)

	for _, cmd := range s.AllCommands() {
		assert.Equal(t, ir.CommandSucceeded, cmd.Status)
		assert.NotNil(t, cmd.Result)
		assert.Nil(t, cmd.Error)
	}
}

func TestAspirateDispenseTracksVolume(t *testing.T) {
	s := deckWithTips(t)

	s = apply(t, s, queue("a", ir.AspirateParams{PipetteID: "pip", LabwareID: "plate", WellName: "A1", Volume: 40}))
	s = apply(t, s, succeed("a", ir.KindAspirate, ir.LiquidHandlingResult{Volume: 40})...)
	s = apply(t, s, queue("d", ir.DispenseParams{PipetteID: "pip", LabwareID: "plate", WellName: "B1", Volume: 15}))
	s = apply(t, s, succeed("d", ir.KindDispense, ir.LiquidHandlingResult{Volume: 15})...)

	well, ok := s.WellLiquid("plate", "A1")
	require.True(t, ok)
	assert.InDelta(t, 60.0, well.Volume, 1e-9)

	_, tracked := s.WellLiquid("plate", "B1")
	assert.False(t, tracked, "dispensing into an untracked well does not start tracking it")

	pip, _ := s.Pipette("pip")
	assert.InDelta(t, 25.0, pip.CurrentVolume, 1e-9)
}

func TestAspirateBelowZeroIsFatal(t *testing.T) {
	s := deckWithTips(t)
	s = apply(t, s,
		queue("a", ir.AspirateParams{PipetteID: "pip", LabwareID: "plate", WellName: "A1", Volume: 150}),
		action.CommandStarted{CommandID: "a", StartedAt: t0},
	)

	next, err := Reduce(s, action.CommandSucceeded{CommandID: "a", Kind: ir.KindAspirate, Result: ir.LiquidHandlingResult{Volume: 150}})
	require.Error(t, err)
	assert.Nil(t, next)
	assert.True(t, IsFatal(err))

	var fe *FatalError
	require.True(t, errors.As(err, &fe))
	assert.Equal(t, "a", fe.CommandID)
	assert.Equal(t, "A1", fe.Info["well_name"])

	// Nothing was applied.
	well, _ := s.WellLiquid("plate", "A1")
	assert.Equal(t, 100.0, well.Volume)
	running, ok := s.RunningCommand()
	require.True(t, ok)
	assert.Equal(t, "a", running.ID)
}

func TestAspirateUntrackedWell(t *testing.T) {
	s := deckWithTips(t)
	s = apply(t, s, queue("a", ir.AspirateParams{PipetteID: "pip", LabwareID: "plate", WellName: "H12", Volume: 150}))
	s = apply(t, s, succeed("a", ir.KindAspirate, ir.LiquidHandlingResult{Volume: 150})...)

	_, tracked := s.WellLiquid("plate", "H12")
	assert.False(t, tracked)
}

func TestSingleRunningCommand(t *testing.T) {
	s := New(Config{})
	s = apply(t, s,
		queue("a", ir.CommentParams{Message: "a"}),
		queue("b", ir.CommentParams{Message: "b"}),
		action.CommandStarted{CommandID: "a"},
	)

	_, err := Reduce(s, action.CommandStarted{CommandID: "b"})
	assert.True(t, IsFatal(err))
}

func TestStartMustBeFirstQueuedInLane(t *testing.T) {
	s := New(Config{})
	s = apply(t, s,
		queue("a", ir.CommentParams{Message: "a"}),
		queue("b", ir.CommentParams{Message: "b"}),
	)

	_, err := Reduce(s, action.CommandStarted{CommandID: "b"})
	assert.True(t, IsFatal(err))

	setup := queue("s", ir.HomeParams{})
	setup.Command.Intent = ir.IntentSetup
	s = apply(t, s, setup, action.CommandStarted{CommandID: "s"})
	running, _ := s.RunningCommand()
	assert.Equal(t, "s", running.ID, "setup lane is independent of queued protocol commands")
}

func TestStatusNeverReverses(t *testing.T) {
	s := New(Config{})
	s = apply(t, s, queue("a", ir.CommentParams{}))
	s = apply(t, s, succeed("a", ir.KindComment, ir.EmptyResult{})...)

	_, err := Reduce(s, action.CommandStarted{CommandID: "a"})
	assert.True(t, IsFatal(err))
	_, err = Reduce(s, action.CommandFailed{CommandID: "a"})
	assert.True(t, IsFatal(err))
}

func TestFailedCommandRecordsErrorOnly(t *testing.T) {
	s := deckWithTips(t)
	before := s.Snapshot().Derived()

	s = apply(t, s,
		queue("drop", ir.DropTipParams{PipetteID: "pip"}),
		action.CommandStarted{CommandID: "drop", StartedAt: at(1)},
		action.CommandFailed{
			CommandID:   "drop",
			Error:       ir.ErrorOccurrence{ID: "e1", Code: ir.ErrCodeHardwareComm, Recoverable: true, CreatedAt: at(2)},
			Recovery:    action.WaitForRecovery,
			CompletedAt: at(2),
		},
	)

	assert.Equal(t, before, s.Snapshot().Derived(), "failures never mutate entities")

	cmd, _ := s.Command("drop")
	assert.Equal(t, ir.CommandFailed, cmd.Status)
	assert.Nil(t, cmd.Result)
	require.NotNil(t, cmd.Error)
	assert.Equal(t, "drop", cmd.Error.CommandID)

	require.Len(t, s.Errors(), 1)
	assert.Equal(t, "drop", s.Errors()[0].CommandID)
	assert.Equal(t, ir.RunAwaitingRecovery, s.Status())
	assert.Equal(t, "drop", s.Run().RecoveryTargetCommandID)
}

func TestInsertAtRules(t *testing.T) {
	s := New(Config{})
	s = apply(t, s,
		action.Play{At: t0},
		queue("a", ir.CommentParams{}),
		queue("b", ir.CommentParams{}),
		queue("c", ir.CommentParams{}),
		action.CommandStarted{CommandID: "a"},
		action.CommandSucceeded{CommandID: "a", Kind: ir.KindComment, Result: ir.EmptyResult{}},
		action.CommandStarted{CommandID: "b"},
	)

	before := queue("x", ir.CommentParams{})
	before.Index = 1
	_, err := Reduce(s, before)
	assert.True(t, IsFatal(err), "cannot insert before the running command")

	retry := queue("r", ir.CommentParams{Message: "retry"})
	retry.Index = 2
	s = apply(t, s, retry)

	var ids []string
	for _, c := range s.AllCommands() {
		ids = append(ids, c.ID)
	}
	assert.Equal(t, []string{"a", "b", "r", "c"}, ids)

	tooFar := queue("y", ir.CommentParams{})
	tooFar.Index = 10
	_, err = Reduce(s, tooFar)
	assert.True(t, IsFatal(err))
}

func TestDuplicateCommandID(t *testing.T) {
	s := apply(t, New(Config{}), queue("a", ir.CommentParams{}))
	_, err := Reduce(s, queue("a", ir.CommentParams{}))
	assert.True(t, IsFatal(err))
}

func TestReduceDoesNotMutateInput(t *testing.T) {
	s := deckWithTips(t)
	hash := mustHash(t, s)

	next := apply(t, s,
		queue("a", ir.AspirateParams{PipetteID: "pip", LabwareID: "plate", WellName: "A1", Volume: 10}),
		action.CommandStarted{CommandID: "a", StartedAt: at(5)},
		action.CommandSucceeded{CommandID: "a", Kind: ir.KindAspirate, Result: ir.LiquidHandlingResult{Volume: 10}, CompletedAt: at(6)},
		action.Pause{Source: action.PauseFromClient},
	)

	assert.Equal(t, hash, mustHash(t, s))
	assert.NotEqual(t, hash, mustHash(t, next))
}

func TestSnapshotIsDetached(t *testing.T) {
	s := deckWithTips(t)
	snap := s.Snapshot()

	snap.Pipettes[0].Tip.Status = ir.TipNone
	snap.Commands[3].Params.(ir.LoadLiquidParams).VolumeByWell["A1"] = 0

	tip, _ := s.PipetteTipState("pip")
	assert.Equal(t, ir.TipAttached, tip.Status)
	cmd, _ := s.Command("c4")
	assert.Equal(t, 100.0, cmd.Params.(ir.LoadLiquidParams).VolumeByWell["A1"])
}

func TestModuleStatusAndTemperature(t *testing.T) {
	s := New(Config{})
	s = apply(t, s, queue("m", ir.LoadModuleParams{Model: ir.TemperatureModuleV2, Location: ir.LabwareLocation{SlotName: "D1"}}))
	s = apply(t, s, succeed("m", ir.KindLoadModule, ir.LoadModuleResult{ModuleID: "mod", Model: ir.TemperatureModuleV2, Status: ir.ModuleStatus{State: "idle"}})...)
	s = apply(t, s, queue("t", ir.SetTargetTemperatureParams{ModuleID: "mod", Celsius: 37}))
	s = apply(t, s, succeed("t", ir.KindSetTargetTemperature, ir.SetTargetTemperatureResult{TargetCelsius: 37})...)

	current := 25.5
	s = apply(t, s, action.ModuleStatus{ModuleID: "mod", Status: ir.ModuleStatus{State: "heating", TargetCelsius: ptr(37.0), CurrentCelsius: &current}})

	mod, ok := s.Module("mod")
	require.True(t, ok)
	assert.Equal(t, "heating", mod.Status.State)
	assert.Equal(t, 25.5, *mod.Status.CurrentCelsius)

	inSlot, ok := s.ModuleInSlot("D1")
	require.True(t, ok)
	assert.Equal(t, "mod", inSlot.ID)

	_, err := Reduce(s, action.ModuleStatus{ModuleID: "ghost"})
	assert.True(t, IsFatal(err))
}

func TestMoveLabwareAndOffsets(t *testing.T) {
	s := deckWithTips(t)
	s = apply(t, s, action.AddLabwareOffset{Offset: ir.LabwareOffset{ID: "off-1", DefinitionURI: "opentrons/plate_96/1", Location: ir.LabwareLocation{SlotName: "D2"}, Vector: ir.Coordinates{X: 0.5}}})

	off, ok := s.LabwareOffset("opentrons/plate_96/1", ir.LabwareLocation{SlotName: "D2"})
	require.True(t, ok)
	assert.Equal(t, "off-1", off.ID)

	s = apply(t, s, queue("mv", ir.MoveLabwareParams{LabwareID: "plate", NewLocation: ir.LabwareLocation{SlotName: "D2"}}))
	s = apply(t, s, succeed("mv", ir.KindMoveLabware, ir.MoveLabwareResult{OffsetID: "off-1"})...)

	lw, _ := s.Labware("plate")
	assert.Equal(t, "D2", lw.Location.SlotName)
	assert.Equal(t, "off-1", lw.OffsetID)

	occupant, ok := s.LabwareAt(ir.LabwareLocation{SlotName: "D2"})
	require.True(t, ok)
	assert.Equal(t, "plate", occupant.ID)
	_, ok = s.LabwareAt(ir.LabwareLocation{SlotName: "C2"})
	assert.False(t, ok)
}

func TestPickUpTipMarksWellUsed(t *testing.T) {
	s := deckWithTips(t)

	assert.True(t, s.IsTipUsed("tips", "A1"))
	assert.False(t, s.IsTipUsed("tips", "B1"))
	assert.False(t, s.IsTipUsed("plate", "A1"))

	s = apply(t, s, queue("drop", ir.DropTipParams{PipetteID: "pip"}))
	s = apply(t, s, succeed("drop", ir.KindDropTip, ir.PositionResult{})...)
	before := s
	s = apply(t, s, queue("p2", ir.PickUpTipParams{PipetteID: "pip", LabwareID: "tips", WellName: "A10"}))
	s = apply(t, s, succeed("p2", ir.KindPickUpTip, ir.PickUpTipResult{TipVolume: 200, TipLength: 58.35})...)
	s = apply(t, s, queue("p3", ir.PickUpTipParams{PipetteID: "pip", LabwareID: "tips", WellName: "A2"}))
	s = apply(t, s, succeed("p3", ir.KindPickUpTip, ir.PickUpTipResult{TipVolume: 200, TipLength: 58.35})...)

	assert.Equal(t, []string{"A1", "A2", "A10"}, s.UsedTips("tips"))
	assert.Equal(t, []string{"A1"}, before.UsedTips("tips"), "earlier states are not mutated")
	assert.Empty(t, s.UsedTips("plate"))
	assert.Equal(t, map[string][]string{"tips": {"A1", "A2", "A10"}}, s.Snapshot().UsedTips)
}

func TestFailedPickUpLeavesTipUnused(t *testing.T) {
	s := deckWithTips(t)
	s = apply(t, s,
		queue("p", ir.PickUpTipParams{PipetteID: "pip", LabwareID: "tips", WellName: "B1"}),
		action.CommandStarted{CommandID: "p", StartedAt: t0},
		action.CommandFailed{CommandID: "p", Error: ir.ErrorOccurrence{ID: "e", Code: ir.ErrCodeTipPickUpFailed}, Recovery: action.WaitForRecovery, CompletedAt: t0},
	)
	assert.False(t, s.IsTipUsed("tips", "B1"))
}

func TestAddressableAreaUsage(t *testing.T) {
	s := New(Config{DeckSlots: []string{"B2", "C2", "D1"}})
	s = apply(t, s, action.Play{At: t0})
	s = apply(t, s, queue("tips", ir.LoadLabwareParams{LoadName: "tiprack_200ul", Location: ir.LabwareLocation{SlotName: "B2"}}))
	s = apply(t, s, succeed("tips", ir.KindLoadLabware, ir.LoadLabwareResult{LabwareID: "tips", LoadName: "tiprack_200ul"})...)
	s = apply(t, s, queue("mod", ir.LoadModuleParams{Model: ir.TemperatureModuleV2, Location: ir.LabwareLocation{SlotName: "D1"}}))
	s = apply(t, s, succeed("mod", ir.KindLoadModule, ir.LoadModuleResult{ModuleID: "temp", Model: ir.TemperatureModuleV2})...)
	s = apply(t, s, queue("plate", ir.LoadLabwareParams{LoadName: "plate_96", Location: ir.LabwareLocation{ModuleID: "temp"}}))
	s = apply(t, s, succeed("plate", ir.KindLoadLabware, ir.LoadLabwareResult{LabwareID: "plate", LoadName: "plate_96"})...)

	assert.True(t, s.AddressableAreaUsed("B2"))
	assert.True(t, s.AddressableAreaUsed("D1"))
	assert.False(t, s.AddressableAreaUsed("C2"), "labware on a module uses the module's slot only")
	assert.False(t, s.AddressableAreaUsed(ir.FixedTrashArea))

	s = apply(t, s, queue("pip", ir.LoadPipetteParams{PipetteName: "p1000_single", Mount: ir.MountLeft}))
	s = apply(t, s, succeed("pip", ir.KindLoadPipette, ir.LoadPipetteResult{PipetteID: "pip", MaxVolume: 1000, Channels: 1})...)
	s = apply(t, s, queue("pick", ir.PickUpTipParams{PipetteID: "pip", LabwareID: "tips", WellName: "A1"}))
	s = apply(t, s, succeed("pick", ir.KindPickUpTip, ir.PickUpTipResult{TipVolume: 200})...)
	s = apply(t, s, queue("drop", ir.DropTipParams{PipetteID: "pip"}))
	s = apply(t, s, succeed("drop", ir.KindDropTip, ir.PositionResult{})...)
	s = apply(t, s, queue("mv", ir.MoveLabwareParams{LabwareID: "tips", NewLocation: ir.LabwareLocation{SlotName: "A3"}}))
	s = apply(t, s, succeed("mv", ir.KindMoveLabware, ir.MoveLabwareResult{})...)

	assert.Equal(t, []ir.AddressableArea{
		{Name: "B2", Kind: ir.AreaSlot, Used: true},
		{Name: "C2", Kind: ir.AreaSlot},
		{Name: "D1", Kind: ir.AreaSlot, Used: true},
		{Name: "A3", Kind: ir.AreaSlot, Used: true},
		{Name: ir.FixedTrashArea, Kind: ir.AreaTrash, Used: true},
	}, s.AddressableAreas())
	assert.Equal(t, s.AddressableAreas(), s.Snapshot().AddressableAreas)
}

func TestHomeClearsPositions(t *testing.T) {
	s := deckWithTips(t)
	s = apply(t, s, queue("h", ir.HomeParams{}))
	s = apply(t, s, succeed("h", ir.KindHome, ir.EmptyResult{})...)

	pip, _ := s.Pipette("pip")
	assert.Nil(t, pip.Position)
	assert.Nil(t, pip.CurrentWell)
	assert.Equal(t, ir.TipAttached, pip.Tip.Status)
}

func TestResultTypeMismatchIsFatal(t *testing.T) {
	s := apply(t, New(Config{}), queue("p", ir.LoadPipetteParams{PipetteName: "p1000_single", Mount: ir.MountLeft}), action.CommandStarted{CommandID: "p"})
	_, err := Reduce(s, action.CommandSucceeded{CommandID: "p", Kind: ir.KindLoadPipette, Result: ir.EmptyResult{}})
	assert.True(t, IsFatal(err))
}

func TestWellNameOrdering(t *testing.T) {
	assert.Negative(t, compareWellNames("A2", "A10"))
	assert.Negative(t, compareWellNames("A12", "B1"))
	assert.Zero(t, compareWellNames("C3", "C3"))
}

func ptr[T any](v T) *T { return &v }

func mustHash(t *testing.T, s *State) string {
	t.Helper()
	h, err := s.Snapshot().Hash()
	require.NoError(t, err)
	return h
}
