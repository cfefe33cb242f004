package engine

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// IDGenerator names commands, errors and loaded entities. The prefix says
// what is being named; generators may ignore it.
type IDGenerator interface {
	NewID(prefix string) string
}

// UUIDv7Generator generates time-sortable UUIDv7 ids, so ids assigned at
// enqueue increase with enqueue order.
//
// Thread-safety: UUIDv7Generator is stateless and safe for concurrent use.
type UUIDv7Generator struct{}

// NewID ignores prefix and returns a hyphenated UUIDv7.
// Panics if UUID generation fails (should never happen in practice).
func (UUIDv7Generator) NewID(string) string {
	return uuid.Must(uuid.NewV7()).String()
}

// SequenceGenerator returns "<prefix>-<n>" with an independent counter per
// prefix. Two engines fed the same calls produce the same ids, which makes
// runs comparable byte for byte.
type SequenceGenerator struct {
	mu     sync.Mutex
	counts map[string]int
}

// NewSequenceGenerator creates a generator with every counter at zero.
func NewSequenceGenerator() *SequenceGenerator {
	return &SequenceGenerator{counts: map[string]int{}}
}

func (g *SequenceGenerator) NewID(prefix string) string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.counts[prefix]++
	return fmt.Sprintf("%s-%d", prefix, g.counts[prefix])
}
