package forecasting

import (
	"fmt"
	"sort"
	"sync"
)

// Factory creates a fresh, untrained model.
type Factory func() Model

// Catalog maps variant identifiers to factories. Variants that are configured but not
// registered are reported as unavailable.
type Catalog struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewCatalog creates an empty catalog.
func NewCatalog() *Catalog {
	return &Catalog{factories: make(map[string]Factory)}
}

// DefaultCatalog registers the ensemble and decomposition variants.
func DefaultCatalog(ensemble EnsembleConfig, decomposition DecompositionConfig) *Catalog {
	c := NewCatalog()
	c.Register(VariantEnsemble, func() Model { return NewEnsembleModel(ensemble) })
	c.Register(VariantDecomposition, func() Model { return NewDecompositionModel(decomposition) })
	return c
}

// Register adds or replaces a variant.
func (c *Catalog) Register(variant string, f Factory) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.factories[variant] = f
}

// Unregister removes a variant, making it unavailable.
func (c *Catalog) Unregister(variant string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.factories, variant)
}

// New creates a model for variant, or returns ErrModelUnavailable.
func (c *Catalog) New(variant string) (Model, error) {
	c.mu.RLock()
	f, ok := c.factories[variant]
	c.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrModelUnavailable, variant)
	}
	return f(), nil
}

// Variants returns the registered variant identifiers in sorted order.
func (c *Catalog) Variants() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, 0, len(c.factories))
	for v := range c.factories {
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}
