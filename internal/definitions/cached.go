package definitions

import (
	"fmt"
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/roach88/protoengine/internal/ir"
)

// Cached memoizes labware and pipette lookups of a slower Provider, such as
// one backed by files or a remote catalog. Misses are not cached.
type Cached struct {
	next     Provider
	labware  *lru.Cache[string, LabwareDefinition]
	pipettes *lru.Cache[string, PipetteDefinition]
	modules  *lru.Cache[ir.ModuleModel, ModuleDefinition]

	hits   atomic.Int64
	misses atomic.Int64
}

// NewCached wraps next with caches holding up to size entries each.
func NewCached(next Provider, size int) (*Cached, error) {
	labware, err := lru.New[string, LabwareDefinition](size)
	if err != nil {
		return nil, fmt.Errorf("labware cache: %w", err)
	}
	pipettes, err := lru.New[string, PipetteDefinition](size)
	if err != nil {
		return nil, fmt.Errorf("pipette cache: %w", err)
	}
	modules, err := lru.New[ir.ModuleModel, ModuleDefinition](size)
	if err != nil {
		return nil, fmt.Errorf("module cache: %w", err)
	}
	return &Cached{next: next, labware: labware, pipettes: pipettes, modules: modules}, nil
}

func (c *Cached) LabwareDefinition(loadName, namespace string, version int) (LabwareDefinition, error) {
	key := URI(namespace, loadName, version)
	if def, ok := c.labware.Get(key); ok {
		c.hits.Add(1)
		return def, nil
	}
	c.misses.Add(1)
	def, err := c.next.LabwareDefinition(loadName, namespace, version)
	if err != nil {
		return LabwareDefinition{}, err
	}
	c.labware.Add(key, def)
	return def, nil
}

func (c *Cached) PipetteDefinition(pipetteName string) (PipetteDefinition, error) {
	if def, ok := c.pipettes.Get(pipetteName); ok {
		c.hits.Add(1)
		return def, nil
	}
	c.misses.Add(1)
	def, err := c.next.PipetteDefinition(pipetteName)
	if err != nil {
		return PipetteDefinition{}, err
	}
	c.pipettes.Add(pipetteName, def)
	return def, nil
}

func (c *Cached) ModuleDefinition(model ir.ModuleModel) (ModuleDefinition, error) {
	if def, ok := c.modules.Get(model); ok {
		c.hits.Add(1)
		return def, nil
	}
	c.misses.Add(1)
	def, err := c.next.ModuleDefinition(model)
	if err != nil {
		return ModuleDefinition{}, err
	}
	c.modules.Add(model, def)
	return def, nil
}

// Stats returns the number of cache hits and misses so far.
func (c *Cached) Stats() (hits, misses int64) {
	return c.hits.Load(), c.misses.Load()
}
