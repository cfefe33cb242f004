package testutil

import (
	"fmt"
	"sync"
)

// ScriptedIDs hands out a fixed list of ids in order, then falls back to
// "prefix-N" per prefix. It lets a test pin the ids it asserts on.
//
// Implements engine.IDGenerator and execution.IDSource.
type ScriptedIDs struct {
	mu     sync.Mutex
	script []string
	counts map[string]int
}

// NewScriptedIDs creates a generator returning ids first.
func NewScriptedIDs(ids ...string) *ScriptedIDs {
	return &ScriptedIDs{script: ids, counts: map[string]int{}}
}

// NewID returns the next scripted id, or prefix-N once the script is spent.
func (g *ScriptedIDs) NewID(prefix string) string {
	g.mu.Lock()
	defer g.mu.Unlock()
	if len(g.script) > 0 {
		id := g.script[0]
		g.script = g.script[1:]
		return id
	}
	g.counts[prefix]++
	return fmt.Sprintf("%s-%d", prefix, g.counts[prefix])
}
