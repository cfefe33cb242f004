package ir

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryCoversAllKinds(t *testing.T) {
	for _, k := range AllKinds() {
		assert.True(t, IsKnownKind(k), "kind %s missing from registry", k)

		p, err := DecodeParams(k, []byte(`{}`))
		require.NoError(t, err, "kind %s", k)
		assert.Equal(t, k, p.Kind(), "params type for %s reports wrong kind", k)
	}
	assert.Len(t, registry, len(AllKinds()))
}

func TestDecodeParamsUnknownKind(t *testing.T) {
	_, err := DecodeParams("teleport", []byte(`{}`))
	assert.Error(t, err)
}

func TestCommandUnmarshalSelectsTypes(t *testing.T) {
	started := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	cmd := Command{
		ID:        "cmd-1",
		Key:       "k",
		Kind:      KindAspirate,
		Params:    AspirateParams{PipetteID: "p", LabwareID: "l", WellName: "A1", Volume: 10},
		Status:    CommandSucceeded,
		Intent:    IntentProtocol,
		CreatedAt: started,
		StartedAt: &started,
		Result:    LiquidHandlingResult{Volume: 10},
	}

	data, err := json.Marshal(cmd)
	require.NoError(t, err)

	var decoded Command
	require.NoError(t, json.Unmarshal(data, &decoded))

	assert.IsType(t, AspirateParams{}, decoded.Params)
	assert.IsType(t, LiquidHandlingResult{}, decoded.Result)
	assert.Equal(t, cmd.Params, decoded.Params)
	assert.Nil(t, decoded.Error)
	assert.True(t, decoded.StartedAt.Equal(started))
}

func TestCommandCloneIsDeep(t *testing.T) {
	now := time.Now()
	cmd := Command{
		ID:        "cmd-1",
		Kind:      KindLoadLiquid,
		Params:    LoadLiquidParams{LabwareID: "plate", VolumeByWell: map[string]float64{"A1": 100}},
		StartedAt: &now,
		Error:     &ErrorOccurrence{ID: "e", Info: map[string]string{"a": "b"}},
	}

	clone := cmd.Clone()
	clone.Params.(LoadLiquidParams).VolumeByWell["A1"] = 5
	clone.Error.Info["a"] = "changed"
	*clone.StartedAt = now.Add(time.Hour)

	assert.Equal(t, 100.0, cmd.Params.(LoadLiquidParams).VolumeByWell["A1"])
	assert.Equal(t, "b", cmd.Error.Info["a"])
	assert.True(t, cmd.StartedAt.Equal(now))
}

func TestStatusTerminal(t *testing.T) {
	assert.False(t, CommandQueued.IsTerminal())
	assert.False(t, CommandRunning.IsTerminal())
	assert.True(t, CommandSucceeded.IsTerminal())
	assert.True(t, CommandFailed.IsTerminal())

	assert.False(t, RunAwaitingRecovery.IsTerminal())
	assert.True(t, RunStopped.IsTerminal())
}
