package engine

import (
	"log/slog"
	"slices"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/roach88/protoengine/internal/action"
	"github.com/roach88/protoengine/internal/definitions"
	"github.com/roach88/protoengine/internal/execution"
	"github.com/roach88/protoengine/internal/ir"
	"github.com/roach88/protoengine/internal/state"
)

// Config holds the engine settings fixed for the life of a run.
type Config struct {
	// BlockOnDoorOpen pauses a running protocol when the deck door opens.
	BlockOnDoorOpen bool `yaml:"block_on_door_open" json:"block_on_door_open"`

	// ModulePollInterval is how often module, E-stop and door status are
	// read from the backend. Zero disables polling.
	ModulePollInterval time.Duration `yaml:"module_poll_interval" json:"module_poll_interval"`

	// SubscriberBuffer bounds each subscription; older actions are dropped.
	SubscriberBuffer int `yaml:"subscriber_buffer" json:"subscriber_buffer"`

	// DeckSlots restricts the deck. Nil means every standard slot.
	DeckSlots []string `yaml:"deck_slots" json:"deck_slots,omitempty"`

	// MaxCommands caps the queue length. Zero means unlimited.
	MaxCommands int `yaml:"max_commands" json:"max_commands"`

	// DefinitionCacheSize sizes the LRU in front of the definition
	// provider. Zero disables caching.
	DefinitionCacheSize int `yaml:"definition_cache_size" json:"definition_cache_size"`
}

// DefaultConfig returns the settings used when none are given.
func DefaultConfig() Config {
	return Config{
		ModulePollInterval:  time.Second,
		SubscriberBuffer:    action.DefaultBuffer,
		DefinitionCacheSize: 128,
	}
}

// StateConfig returns the reducer settings for runs under c. The deck slots
// are resolved, so a stored run replays against the deck it ran on.
func (c Config) StateConfig() state.Config {
	slots := c.DeckSlots
	if slots == nil {
		slots = execution.StandardSlots
	}
	return state.Config{BlockOnDoorOpen: c.BlockOnDoorOpen, DeckSlots: slices.Clone(slots)}
}

// EngineOption allows configuration of engine parameters.
type EngineOption func(*Engine)

// WithConfig replaces the default config.
func WithConfig(cfg Config) EngineOption {
	return func(e *Engine) {
		e.cfg = cfg
	}
}

// WithLogger sets the structured logger. Default: slog.Default().
func WithLogger(l *slog.Logger) EngineOption {
	return func(e *Engine) {
		e.logger = l
	}
}

// WithClock sets the timestamp source. Default: SystemClock.
func WithClock(c Clock) EngineOption {
	return func(e *Engine) {
		e.clock = c
	}
}

// WithIDs sets the id generator. Default: UUIDv7Generator.
func WithIDs(g IDGenerator) EngineOption {
	return func(e *Engine) {
		e.ids = g
	}
}

// WithDefinitions sets the definition provider. Default: the built-in
// catalog.
func WithDefinitions(p definitions.Provider) EngineOption {
	return func(e *Engine) {
		e.defs = p
	}
}

// WithMetrics registers engine metrics with reg.
func WithMetrics(reg prometheus.Registerer) EngineOption {
	return func(e *Engine) {
		e.registerer = reg
	}
}

// WithRecoveryPolicy decides what a failed protocol command does to the
// run. Default: DefaultRecoveryPolicy.
func WithRecoveryPolicy(p RecoveryPolicy) EngineOption {
	return func(e *Engine) {
		e.policy = p
	}
}

// WithActionLog adds a sink that receives every applied action, typically
// a durable store.
func WithActionLog(s action.Sink) EngineOption {
	return func(e *Engine) {
		e.sinks = append(e.sinks, s)
	}
}

// RecoveryPolicy maps a failed protocol command to a recovery type. It is
// called on the loop goroutine and must not block.
type RecoveryPolicy func(cmd ir.Command, err *execution.CommandError) action.RecoveryType

// DefaultRecoveryPolicy waits for recovery after recoverable errors and
// fails the run otherwise.
func DefaultRecoveryPolicy(_ ir.Command, err *execution.CommandError) action.RecoveryType {
	if err.Recoverable {
		return action.WaitForRecovery
	}
	return action.FailRun
}

// NeverRecover fails the run on any command error.
func NeverRecover(ir.Command, *execution.CommandError) action.RecoveryType {
	return action.FailRun
}
