package action

import (
	"context"
	"errors"
	"sync"
)

// ErrClosed is returned by Next once a closed subscription is drained.
var ErrClosed = errors.New("subscription closed")

// Subscription is a bounded FIFO of dispatched actions with a drop-oldest
// policy. A slow reader never blocks dispatch; it loses the oldest actions
// instead and can see how many through Dropped.
//
// The signal channel has a buffer of one, so many pushes coalesce into a
// single wake-up for the reader.
type Subscription struct {
	mu      sync.Mutex
	items   []Dispatched
	limit   int
	dropped int64
	closed  bool
	signal  chan struct{}
	release func(*Subscription)
}

// DefaultBuffer is used when Subscribe is given a non-positive size.
const DefaultBuffer = 256

func newSubscription(limit int, release func(*Subscription)) *Subscription {
	if limit <= 0 {
		limit = DefaultBuffer
	}
	return &Subscription{
		items:   make([]Dispatched, 0, min(limit, 64)),
		limit:   limit,
		signal:  make(chan struct{}, 1),
		release: release,
	}
}

func (s *Subscription) push(d Dispatched) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	if len(s.items) == s.limit {
		s.items[0] = Dispatched{}
		s.items = s.items[1:]
		s.dropped++
	}
	s.items = append(s.items, d)

	select {
	case s.signal <- struct{}{}:
	default:
	}
}

// TryNext returns the oldest undelivered action without blocking.
func (s *Subscription) TryNext() (Dispatched, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.items) == 0 {
		return Dispatched{}, false
	}
	d := s.items[0]
	s.items[0] = Dispatched{}
	if len(s.items) == 1 {
		s.items = s.items[:0]
	} else {
		s.items = s.items[1:]
	}
	return d, true
}

// Next blocks until an action is available, the subscription is closed and
// drained (ErrClosed), or ctx is done.
func (s *Subscription) Next(ctx context.Context) (Dispatched, error) {
	for {
		if d, ok := s.TryNext(); ok {
			return d, nil
		}

		s.mu.Lock()
		closed := s.closed
		s.mu.Unlock()
		if closed {
			return Dispatched{}, ErrClosed
		}

		select {
		case <-ctx.Done():
			return Dispatched{}, ctx.Err()
		case <-s.signal:
		}
	}
}

// Len returns the number of undelivered actions.
func (s *Subscription) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items)
}

// Dropped returns how many actions were discarded because the buffer was full.
func (s *Subscription) Dropped() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropped
}

// Close unsubscribes. Actions already buffered can still be read.
func (s *Subscription) Close() {
	if s.release != nil {
		s.release(s)
	}
	s.close()
}

func (s *Subscription) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.signal)
}
