package testutil

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/protoengine/internal/execution"
	"github.com/roach88/protoengine/internal/ir"
)

func TestBlockingBackend_ReleaseAndCancel(t *testing.T) {
	b := NewBlockingBackend()

	done := make(chan error, 1)
	go func() { done <- b.Delay(context.Background(), time.Second) }()
	assert.Equal(t, "1s", <-b.Started)
	b.Release()
	require.NoError(t, <-done)

	ctx, cancel := context.WithCancel(context.Background())
	go func() { done <- b.Delay(ctx, time.Second) }()
	<-b.Started
	cancel()
	err := <-done
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestFaultyBackend_FailsInOrder(t *testing.T) {
	b := NewFaultyBackend()
	first := TipPickUpError()
	b.FailNext("PickUpTip", first)
	b.FailNext("PickUpTip", CommunicationError())

	well := ir.WellRef{LabwareID: "tips", WellName: "A1"}
	err := b.PickUpTip(context.Background(), "pip", well, 50)
	assert.Same(t, first, err)

	err = b.PickUpTip(context.Background(), "pip", well, 50)
	var hw *execution.HardwareError
	require.ErrorAs(t, err, &hw)
	assert.Equal(t, execution.HardwareCommunication, hw.Kind)

	assert.NoError(t, b.PickUpTip(context.Background(), "pip", well, 50))
}

func TestRecordingBackend_RecordsCalls(t *testing.T) {
	b := NewRecordingBackend(execution.NewSimulator())
	ctx := context.Background()

	require.NoError(t, b.Home(ctx))
	require.NoError(t, b.MoveTo(ctx, "pip", ir.MountLeft, ir.Coordinates{X: 1, Y: 2, Z: 3}))
	require.NoError(t, b.Aspirate(ctx, "pip", ir.WellRef{LabwareID: "plate", WellName: "A1"}, 20, 92.86))

	assert.Equal(t, []string{
		"home",
		"moveTo pip left (1.00, 2.00, 3.00)",
		"aspirate pip plate/A1 20.00 @ 92.86",
	}, b.Calls())
}
