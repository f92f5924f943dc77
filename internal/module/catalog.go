package module

import (
	"fmt"
	"sort"
	"sync"
)

// Catalog maps driver names to factories.
type Catalog struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewCatalog creates an empty catalog.
func NewCatalog() *Catalog {
	return &Catalog{factories: make(map[string]Factory)}
}

// Register adds a factory under driver.
func (c *Catalog) Register(driver string, factory Factory) error {
	if driver == "" || factory == nil {
		return fmt.Errorf("%w: empty driver name or nil factory", ErrUnknownDriver)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.factories[driver]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateDriver, driver)
	}
	c.factories[driver] = factory
	return nil
}

// Lookup returns the factory registered under driver.
func (c *Catalog) Lookup(driver string) (Factory, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	f, ok := c.factories[driver]
	return f, ok
}

// Drivers returns the registered driver names, sorted.
func (c *Catalog) Drivers() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	names := make([]string, 0, len(c.factories))
	for name := range c.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
