package schema

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/protoengine/internal/ir"
)

func TestNewCoversEveryKind(t *testing.T) {
	v, err := New()
	require.NoError(t, err)
	for _, k := range ir.AllKinds() {
		assert.Contains(t, v.defs, k)
	}
}

func TestValidateAppliesDefaults(t *testing.T) {
	v := MustNew()

	p, err := v.Validate(ir.KindLoadLabware, map[string]any{
		"load_name": "tiprack_200ul",
		"location":  map[string]any{"slot_name": "B2"},
	})
	require.NoError(t, err)

	params, ok := p.(ir.LoadLabwareParams)
	require.True(t, ok, "expected LoadLabwareParams, got %T", p)
	assert.Equal(t, "tiprack_200ul", params.LoadName)
	assert.Equal(t, "opentrons", params.Namespace)
	assert.Equal(t, 1, params.Version)
	assert.Equal(t, "B2", params.Location.SlotName)
}

func TestValidateTypedParams(t *testing.T) {
	v := MustNew()

	p, err := v.Validate(ir.KindMoveLabware, ir.MoveLabwareParams{
		LabwareID:   "lw-1",
		NewLocation: ir.OffDeckLocation,
	})
	require.NoError(t, err)

	params := p.(ir.MoveLabwareParams)
	assert.Equal(t, ir.MoveManually, params.Strategy)
	assert.True(t, params.NewLocation.OffDeck)
}

func TestValidateNilParams(t *testing.T) {
	v := MustNew()

	p, err := v.Validate(ir.KindHome, nil)
	require.NoError(t, err)
	assert.Equal(t, ir.HomeParams{}, p)

	p, err = v.Validate(ir.KindCustom, nil)
	require.NoError(t, err)
	assert.IsType(t, ir.CustomParams{}, p)
}

func TestValidateYAMLMaps(t *testing.T) {
	v := MustNew()

	p, err := v.Validate(ir.KindLoadLiquid, map[string]any{
		"labware_id":     "plate",
		"liquid_id":      "water",
		"volume_by_well": map[any]any{"A1": 100, "B1": 50.5},
	})
	require.NoError(t, err)

	params := p.(ir.LoadLiquidParams)
	assert.Equal(t, 100.0, params.VolumeByWell["A1"])
	assert.Equal(t, 50.5, params.VolumeByWell["B1"])
}

func TestValidateRejects(t *testing.T) {
	v := MustNew()

	tests := []struct {
		name   string
		kind   ir.CommandKind
		params any
		field  string
	}{
		{
			name:   "missing required field",
			kind:   ir.KindLoadPipette,
			params: map[string]any{"mount": "left"},
		},
		{
			name:   "bad mount enum",
			kind:   ir.KindLoadPipette,
			params: map[string]any{"pipette_name": "p1000_single", "mount": "top"},
			field:  "mount",
		},
		{
			name:   "unknown field",
			kind:   ir.KindComment,
			params: map[string]any{"message": "hi", "colour": "red"},
		},
		{
			name:   "non-positive volume",
			kind:   ir.KindAspirate,
			params: ir.AspirateParams{PipetteID: "p", LabwareID: "l", WellName: "A1", Volume: 0},
		},
		{
			name:   "empty location",
			kind:   ir.KindLoadLabware,
			params: map[string]any{"load_name": "plate_96", "location": map[string]any{}},
		},
		{
			name:   "temperature out of range",
			kind:   ir.KindSetTargetTemperature,
			params: map[string]any{"module_id": "m1", "celsius": 120},
			field:  "celsius",
		},
		{
			name:   "wrong typed params",
			kind:   ir.KindDispense,
			params: ir.AspirateParams{PipetteID: "p", LabwareID: "l", WellName: "A1", Volume: 5},
		},
		{
			name:   "unknown kind",
			kind:   "teleport",
			params: map[string]any{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := v.Validate(tt.kind, tt.params)
			require.Error(t, err)

			var verr *ValidationError
			require.True(t, errors.As(err, &verr), "expected ValidationError, got %T", err)
			assert.Equal(t, tt.kind, verr.Kind)
			if tt.field != "" {
				assert.Contains(t, verr.Error(), tt.field)
			}
		})
	}
}

func TestValidateConcurrentUse(t *testing.T) {
	v := MustNew()
	done := make(chan error, 8)
	for i := 0; i < 8; i++ {
		go func() {
			_, err := v.Validate(ir.KindComment, map[string]any{"message": "x"})
			done <- err
		}()
	}
	for i := 0; i < 8; i++ {
		assert.NoError(t, <-done)
	}
}
