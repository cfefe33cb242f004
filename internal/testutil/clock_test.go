package testutil

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStepClock_StartsAtEpoch(t *testing.T) {
	clock := NewStepClock(time.Second)
	assert.Equal(t, int64(0), clock.Ticks())
	assert.Equal(t, Epoch, clock.Now())
}

func TestStepClock_AdvancesByStep(t *testing.T) {
	clock := NewStepClock(time.Second)

	assert.Equal(t, Epoch, clock.Now())
	assert.Equal(t, Epoch.Add(time.Second), clock.Now())
	assert.Equal(t, Epoch.Add(2*time.Second), clock.Now())
	assert.Equal(t, int64(3), clock.Ticks())
}

func TestStepClock_DefaultStep(t *testing.T) {
	clock := NewStepClock(0)
	clock.Now()
	assert.Equal(t, Epoch.Add(time.Millisecond), clock.Now())
}

func TestStepClock_Reset(t *testing.T) {
	clock := NewStepClock(time.Second)
	clock.Now()
	clock.Now()

	clock.Reset()
	assert.Equal(t, int64(0), clock.Ticks())
	assert.Equal(t, Epoch, clock.Now())
}

func TestStepClock_ThreadSafe(t *testing.T) {
	clock := NewStepClock(time.Millisecond)
	const numGoroutines = 50
	const callsPerGoroutine = 100

	var mu sync.Mutex
	seen := make(map[time.Time]bool)

	var wg sync.WaitGroup
	wg.Add(numGoroutines)
	for i := 0; i < numGoroutines; i++ {
		go func() {
			defer wg.Done()
			for j := 0; j < callsPerGoroutine; j++ {
				now := clock.Now()
				mu.Lock()
				seen[now] = true
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	require.Len(t, seen, numGoroutines*callsPerGoroutine, "every instant is handed out once")
	assert.True(t, seen[Epoch])
	assert.True(t, seen[Epoch.Add(time.Duration(numGoroutines*callsPerGoroutine-1)*time.Millisecond)])
}

func TestStepClock_Deterministic(t *testing.T) {
	clock1 := NewStepClock(time.Second)
	clock2 := NewStepClock(time.Second)

	for i := 0; i < 100; i++ {
		assert.Equal(t, clock1.Now(), clock2.Now())
	}
}
