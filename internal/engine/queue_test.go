package engine

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/protoengine/internal/action"
	"github.com/roach88/protoengine/internal/ir"
)

func completionEvent(id string) Event {
	return Event{Type: EventTypeCompletion, Completion: &completion{command: ir.Command{ID: id}}}
}

func TestEventQueue_EnqueueDequeue(t *testing.T) {
	q := newEventQueue()

	ok := q.Enqueue(completionEvent("cmd-1"))
	require.True(t, ok, "enqueue should succeed")

	got, ok := q.TryDequeue()
	require.True(t, ok, "dequeue should succeed")
	assert.Equal(t, EventTypeCompletion, got.Type)
	assert.Equal(t, "cmd-1", got.Completion.command.ID)
}

func TestEventQueue_FIFO(t *testing.T) {
	q := newEventQueue()

	for _, id := range []string{"A", "B", "C"} {
		q.Enqueue(completionEvent(id))
	}

	for _, want := range []string{"A", "B", "C"} {
		e, ok := q.TryDequeue()
		require.True(t, ok)
		assert.Equal(t, want, e.Completion.command.ID)
	}
}

func TestEventQueue_TryDequeue_Empty(t *testing.T) {
	q := newEventQueue()

	_, ok := q.TryDequeue()
	assert.False(t, ok, "dequeue from empty queue should return false")
}

func TestEventQueue_WaitSignals(t *testing.T) {
	q := newEventQueue()

	go func() {
		time.Sleep(10 * time.Millisecond)
		q.Enqueue(Event{Type: EventTypeHardware, Hardware: action.HardwareEvent{Event: action.DoorOpened}})
	}()

	select {
	case <-q.Wait():
	case <-time.After(time.Second):
		t.Fatal("wait did not signal")
	}
	e, ok := q.TryDequeue()
	require.True(t, ok)
	assert.Equal(t, EventTypeHardware, e.Type)
}

func TestEventQueue_Close_ReturnsPending(t *testing.T) {
	q := newEventQueue()
	q.Enqueue(completionEvent("1"))
	q.Enqueue(completionEvent("2"))

	pending := q.Close()
	assert.Len(t, pending, 2)
	assert.Equal(t, 0, q.Len())
	assert.Nil(t, q.Close(), "second close returns nothing")

	// The signal buffered by Enqueue is still delivered before the close.
	_, open := <-q.Wait()
	assert.True(t, open)
	_, open = <-q.Wait()
	assert.False(t, open, "close unblocks waiters")
}

func TestEventQueue_Close_UnblocksIdleWaiter(t *testing.T) {
	q := newEventQueue()
	done := make(chan bool)
	go func() {
		_, open := <-q.Wait()
		done <- open
	}()

	q.Close()
	select {
	case open := <-done:
		assert.False(t, open)
	case <-time.After(time.Second):
		t.Fatal("waiter still blocked after close")
	}
}

func TestEventQueue_Enqueue_AfterClose(t *testing.T) {
	q := newEventQueue()
	q.Close()

	ok := q.Enqueue(completionEvent("after-close"))
	assert.False(t, ok, "enqueue after close should return false")
}

func TestEventQueue_Len(t *testing.T) {
	q := newEventQueue()

	assert.Equal(t, 0, q.Len())

	q.Enqueue(completionEvent("1"))
	assert.Equal(t, 1, q.Len())

	q.Enqueue(completionEvent("2"))
	assert.Equal(t, 2, q.Len())

	q.TryDequeue()
	assert.Equal(t, 1, q.Len())

	q.TryDequeue()
	assert.Equal(t, 0, q.Len())
}

func TestEventQueue_ThreadSafe(t *testing.T) {
	q := newEventQueue()

	const producers = 10
	const eventsPerProducer = 100

	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < eventsPerProducer; i++ {
				q.Enqueue(completionEvent("x"))
			}
		}()
	}
	wg.Wait()

	received := 0
	for {
		if _, ok := q.TryDequeue(); !ok {
			break
		}
		received++
	}
	assert.Equal(t, producers*eventsPerProducer, received)
}
