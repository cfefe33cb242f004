package engine

import (
	"sync"

	"github.com/roach88/protoengine/internal/action"
	"github.com/roach88/protoengine/internal/ir"
)

// EventType distinguishes between event kinds.
type EventType int

const (
	// EventTypeRequest is a client call to run on the loop goroutine.
	EventTypeRequest EventType = iota + 1
	// EventTypeCompletion is the outcome of an executed command.
	EventTypeCompletion
	// EventTypeHardware is an observation from the hardware poller.
	EventTypeHardware
)

// Event wraps everything the Run loop reacts to.
type Event struct {
	Type       EventType
	Request    *request
	Completion *completion
	Hardware   action.Action
}

// request runs fn on the loop goroutine and sends its outcome to reply.
type request struct {
	name  string
	fn    func() (any, error)
	reply chan reply
}

type reply struct {
	value any
	err   error
}

// completion is what an execution goroutine reports back.
type completion struct {
	command ir.Command
	result  ir.Result
	err     error
}

// eventQueue is a thread-safe FIFO queue for events.
//
// The queue is unbounded so that client calls and execution goroutines never
// block on the loop. The signal channel enables context-aware waiting in the
// Run loop.
type eventQueue struct {
	mu     sync.Mutex
	events []Event
	closed bool
	signal chan struct{} // Signals event availability (buffered, size 1)
}

func newEventQueue() *eventQueue {
	return &eventQueue{
		events: make([]Event, 0, 64),
		signal: make(chan struct{}, 1),
	}
}

// Enqueue adds an event to the back of the queue.
// Returns false if the queue is closed.
func (q *eventQueue) Enqueue(e Event) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}

	q.events = append(q.events, e)

	// Buffer of 1 coalesces multiple signals.
	select {
	case q.signal <- struct{}{}:
	default:
	}

	return true
}

// TryDequeue attempts to dequeue without blocking.
func (q *eventQueue) TryDequeue() (Event, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.events) == 0 {
		return Event{}, false
	}

	e := q.events[0]
	// Nil out the slot so the backing array does not pin the event.
	q.events[0] = Event{}
	if len(q.events) == 1 {
		q.events = q.events[:0]
	} else {
		q.events = q.events[1:]
	}
	return e, true
}

// Wait returns a channel that signals when events may be available.
func (q *eventQueue) Wait() <-chan struct{} {
	return q.signal
}

// Len returns the current queue length.
func (q *eventQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.events)
}

// Close stops accepting events and returns those still queued.
func (q *eventQueue) Close() []Event {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return nil
	}
	q.closed = true
	close(q.signal)
	pending := q.events
	q.events = nil
	return pending
}
