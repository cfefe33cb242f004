package state

import (
	"sync/atomic"

	"github.com/roach88/protoengine/internal/action"
)

// Store owns the current State and is the action.Reducer of the engine's
// pipeline. Apply calls are serialized by the pipeline; Current may be
// called from any goroutine and never blocks.
type Store struct {
	cur atomic.Pointer[State]
}

// NewStore returns a store holding the initial state.
func NewStore(cfg Config) *Store {
	s := &Store{}
	s.cur.Store(New(cfg))
	return s
}

// Apply reduces a into the current state. On error the state is unchanged.
func (s *Store) Apply(a action.Action) error {
	next, err := Reduce(s.cur.Load(), a)
	if err != nil {
		return err
	}
	s.cur.Store(next)
	return nil
}

// Current returns the latest published state.
func (s *Store) Current() *State {
	return s.cur.Load()
}
