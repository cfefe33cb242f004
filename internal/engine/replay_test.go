package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/protoengine/internal/action"
	"github.com/roach88/protoengine/internal/execution"
	"github.com/roach88/protoengine/internal/ir"
	"github.com/roach88/protoengine/internal/testutil"
)

// transfer enqueues a full tip-to-trash transfer.
func transfer(t *testing.T, e *Engine) {
	t.Helper()
	tipSetup(t, e)
	enqueue(t, e, ir.LoadLabwareParams{LoadName: "plate_96", Location: slot("C2"), LabwareID: "plate"})
	enqueue(t, e, ir.LoadLiquidParams{LabwareID: "plate", LiquidID: "water", VolumeByWell: map[string]float64{"A1": 150}})
	enqueue(t, e, ir.PickUpTipParams{PipetteID: "pip", LabwareID: "tips", WellName: "A1"})
	enqueue(t, e, ir.AspirateParams{PipetteID: "pip", LabwareID: "plate", WellName: "A1", Volume: 100})
	enqueue(t, e, ir.DispenseParams{PipetteID: "pip", LabwareID: "plate", WellName: "B1", Volume: 100})
	enqueue(t, e, ir.BlowOutParams{PipetteID: "pip", LabwareID: "plate", WellName: "B1"})
	enqueue(t, e, ir.MoveLabwareParams{LabwareID: "plate", NewLocation: slot("D2"), Strategy: ir.MoveWithGripper})
	enqueue(t, e, ir.DropTipParams{PipetteID: "pip"})
}

func runTransfer(t *testing.T, hw execution.Backend, opts ...EngineOption) *Engine {
	t.Helper()
	e := startEngine(t, hw, opts...)
	transfer(t, e)
	require.NoError(t, e.Play(testContext(t)))
	waitStatus(t, e, ir.RunSucceeded)
	return e
}

func TestReplay_RebuildsState(t *testing.T) {
	log := &memoryLog{}
	e := runTransfer(t, execution.NewSimulator(), WithActionLog(log))

	envs := log.Envelopes()
	require.Len(t, envs, int(e.Seq()))

	s, err := Replay(testConfig(), envs)
	require.NoError(t, err)

	want, err := e.Snapshot().Hash()
	require.NoError(t, err)
	got, err := s.Snapshot().Hash()
	require.NoError(t, err)
	assert.Equal(t, want, got)
	assert.Equal(t, ir.RunSucceeded, s.Status())

	liquid, ok := s.WellLiquid("plate", "A1")
	require.True(t, ok)
	assert.Equal(t, 50.0, liquid.Volume)
}

func TestReplay_VerifyDeterministic(t *testing.T) {
	log := &memoryLog{}
	e := runTransfer(t, execution.NewSimulator(), WithActionLog(log))

	hash, err := VerifyReplay(testConfig(), log.Envelopes())
	require.NoError(t, err)
	want, err := e.Snapshot().Hash()
	require.NoError(t, err)
	assert.Equal(t, want, hash)
}

func TestReplay_RoundTripsThroughJSON(t *testing.T) {
	log := &memoryLog{}
	runTransfer(t, execution.NewSimulator(), WithActionLog(log))

	data, err := action.MarshalEnvelopes(log.Envelopes())
	require.NoError(t, err)
	envs, err := action.UnmarshalEnvelopes(data)
	require.NoError(t, err)

	a, err := VerifyReplay(testConfig(), log.Envelopes())
	require.NoError(t, err)
	b, err := VerifyReplay(testConfig(), envs)
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestReplay_RejectsGaps(t *testing.T) {
	log := &memoryLog{}
	runTransfer(t, execution.NewSimulator(), WithActionLog(log))

	envs := log.Envelopes()
	gapped := append(envs[:2:2], envs[3:]...)
	_, err := Replay(testConfig(), gapped)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "want 3")
}

func TestReplay_Empty(t *testing.T) {
	s, err := Replay(testConfig(), nil)
	require.NoError(t, err)
	assert.Equal(t, ir.RunReady, s.Status())
}

// Running the same commands on the simulator and on a recording stand-in
// for real hardware yields the same outcome; only the hardware calls differ.
func TestEngine_SimulationMatchesHardware(t *testing.T) {
	sim := runTransfer(t, execution.NewSimulator())
	real := testutil.NewRecordingBackend(execution.NewSimulator())
	hw := runTransfer(t, real)

	succeeded := func(e *Engine) []string {
		var ids []string
		for _, cmd := range e.State().AllCommands() {
			if cmd.Status == ir.CommandSucceeded {
				ids = append(ids, cmd.ID)
			}
		}
		return ids
	}
	assert.Equal(t, succeeded(sim), succeeded(hw))
	assert.Len(t, succeeded(sim), 10)
	assert.Equal(t, sim.Snapshot().Derived(), hw.Snapshot().Derived())

	simHash, err := sim.Snapshot().Hash()
	require.NoError(t, err)
	hwHash, err := hw.Snapshot().Hash()
	require.NoError(t, err)
	assert.Equal(t, simHash, hwHash, "same clock and ids give identical state")

	calls := real.Calls()
	require.NotEmpty(t, calls)
	assert.Contains(t, calls, "pickUpTip pip tips/A1")
	assert.Contains(t, calls, "moveLabware plate")
	assert.Contains(t, calls, "dropTip pip")
}
