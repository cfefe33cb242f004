package action

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
)

// ErrReentrantDispatch is returned when Dispatch is called while another
// dispatch is still in progress, including from inside a reducer or sink.
var ErrReentrantDispatch = errors.New("action dispatched while another dispatch is in progress")

// Reducer applies one action to derived state. A non-nil error means the
// action was rejected and state is unchanged.
type Reducer interface {
	Apply(a Action) error
}

// Sink receives every applied action after its reduction, for example a
// durable action log. Sink errors are logged and do not undo the action.
type Sink interface {
	WriteAction(env Envelope) error
}

// Dispatched is an action as seen by subscribers.
type Dispatched struct {
	Seq    int64
	Action Action
}

// Pipeline totally orders actions. Each action is applied to the reducer
// first; only if the reducer accepts it is a sequence number assigned and the
// action fanned out to sinks and subscribers, in that order.
//
// Thread-safety model:
//   - Dispatch(): callers serialize; overlapping calls fail fast
//   - Subscribe()/Unsubscribe(): safe from any goroutine
//   - Seq(): safe from any goroutine
type Pipeline struct {
	reducer     Reducer
	sinks       []Sink
	logger      *slog.Logger
	dispatching atomic.Bool
	seq         atomic.Int64

	mu   sync.Mutex
	subs []*Subscription
}

// PipelineOption configures a Pipeline.
type PipelineOption func(*Pipeline)

// WithSink adds a sink. Sinks run in the order they were added.
func WithSink(s Sink) PipelineOption {
	return func(p *Pipeline) {
		p.sinks = append(p.sinks, s)
	}
}

// WithPipelineLogger sets the logger used for sink failures.
func WithPipelineLogger(l *slog.Logger) PipelineOption {
	return func(p *Pipeline) {
		p.logger = l
	}
}

// NewPipeline creates a pipeline feeding r.
func NewPipeline(r Reducer, opts ...PipelineOption) *Pipeline {
	p := &Pipeline{reducer: r, logger: slog.Default()}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Dispatch applies a and fans it out. It returns the reducer's error, if
// any, in which case nothing else observes the action.
func (p *Pipeline) Dispatch(a Action) error {
	if !p.dispatching.CompareAndSwap(false, true) {
		return fmt.Errorf("dispatch %s: %w", a.Type(), ErrReentrantDispatch)
	}
	defer p.dispatching.Store(false)

	if err := p.reducer.Apply(a); err != nil {
		return err
	}
	seq := p.seq.Add(1)

	if len(p.sinks) > 0 {
		env, err := Encode(seq, a)
		if err != nil {
			p.logger.Error("action encode failed", "seq", seq, "type", a.Type(), "error", err)
		} else {
			for _, s := range p.sinks {
				if err := s.WriteAction(env); err != nil {
					p.logger.Error("action sink failed", "seq", seq, "type", a.Type(), "error", err)
				}
			}
		}
	}

	p.mu.Lock()
	subs := p.subs
	p.mu.Unlock()
	for _, s := range subs {
		s.push(Dispatched{Seq: seq, Action: Clone(a)})
	}
	return nil
}

// Seq returns the sequence number of the last applied action.
func (p *Pipeline) Seq() int64 {
	return p.seq.Load()
}

// Subscribe registers a subscription holding at most buffer undelivered
// actions. When full, the oldest undelivered action is dropped.
func (p *Pipeline) Subscribe(buffer int) *Subscription {
	s := newSubscription(buffer, p.unsubscribe)
	p.mu.Lock()
	defer p.mu.Unlock()
	// Copy on write so Dispatch can range over a stable slice without the lock.
	subs := make([]*Subscription, len(p.subs), len(p.subs)+1)
	copy(subs, p.subs)
	p.subs = append(subs, s)
	return s
}

func (p *Pipeline) unsubscribe(s *Subscription) {
	p.mu.Lock()
	defer p.mu.Unlock()
	subs := make([]*Subscription, 0, len(p.subs))
	for _, existing := range p.subs {
		if existing != s {
			subs = append(subs, existing)
		}
	}
	p.subs = subs
}

// CloseSubscriptions closes every subscription. Pending actions remain
// readable; Next returns ErrClosed once they are drained.
func (p *Pipeline) CloseSubscriptions() {
	p.mu.Lock()
	subs := p.subs
	p.subs = nil
	p.mu.Unlock()
	for _, s := range subs {
		s.close()
	}
}
