package ir

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCommandKeyDeterminism(t *testing.T) {
	params := PickUpTipParams{PipetteID: "pipette-1", LabwareID: "labware-1", WellName: "A1"}

	k1, err := CommandKey("", KindPickUpTip, params)
	require.NoError(t, err)
	k2, err := CommandKey("", KindPickUpTip, params)
	require.NoError(t, err)

	assert.Equal(t, k1, k2, "CommandKey must be deterministic")
	assert.Len(t, k1, 64, "SHA-256 hex is 64 characters")
}

func TestCommandKeyChains(t *testing.T) {
	params := CommentParams{Message: "hello"}

	first := mustCommandKey(t, "", params)
	second := mustCommandKey(t, first, params)

	assert.NotEqual(t, first, second, "same params at a different chain position must differ")
}

func TestCommandKeyChangesWithParams(t *testing.T) {
	a := mustCommandKey(t, "", CommentParams{Message: "a"})
	b := mustCommandKey(t, "", CommentParams{Message: "b"})
	assert.NotEqual(t, a, b)
}

func TestSnapshotHashIgnoresMapOrder(t *testing.T) {
	a := map[string]any{"x": 1, "y": 2}
	b := map[string]any{"y": 2, "x": 1}
	assert.Equal(t, MustSnapshotHash(a), MustSnapshotHash(b))
}

func mustCommandKey(t *testing.T, prev string, p Params) string {
	t.Helper()
	k, err := CommandKey(prev, p.Kind(), p)
	require.NoError(t, err)
	return k
}
