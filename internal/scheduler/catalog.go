package scheduler

import (
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/mzalewski/stockwatch/internal/monitor"
	"github.com/mzalewski/stockwatch/internal/store"
)

// Catalog holds the decoded product list and compiled store profiles for the
// duration of check cycles. It replaces process-wide caches with an explicit
// object refreshed by Reload.
type Catalog struct {
	mu       sync.RWMutex
	store    *store.Store
	products []monitor.Product
	profiles map[string]*monitor.CompiledProfile
	logger   *zap.Logger
}

// NewCatalog builds an empty catalog; call Reload before the first cycle.
func NewCatalog(st *store.Store, logger *zap.Logger) *Catalog {
	return &Catalog{
		store:    st,
		profiles: map[string]*monitor.CompiledProfile{},
		logger:   logger,
	}
}

// Reload re-reads products and profiles from disk and recompiles selectors.
// A profile that fails to compile is dropped with a warning; its products
// fall back to the keyword-scan extraction path.
func (c *Catalog) Reload() error {
	products, err := c.store.LoadProducts()
	if err != nil {
		return fmt.Errorf("load products: %w", err)
	}
	raw, err := c.store.LoadProfiles()
	if err != nil {
		return fmt.Errorf("load profiles: %w", err)
	}

	profiles := make(map[string]*monitor.CompiledProfile, len(raw))
	for name, profile := range raw {
		compiled, err := monitor.Compile(profile)
		if err != nil {
			c.logger.Warn("store profile failed to compile, skipping",
				zap.String("store", name),
				zap.Error(err),
			)
			continue
		}
		profiles[name] = compiled
	}

	c.mu.Lock()
	c.products = products
	c.profiles = profiles
	c.mu.Unlock()
	return nil
}

// Products returns the current product list.
func (c *Catalog) Products() []monitor.Product {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.products
}

// Profile returns the compiled profile for a store, or an empty profile when
// the store has none configured.
func (c *Catalog) Profile(storeName string) *monitor.CompiledProfile {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if p, ok := c.profiles[storeName]; ok {
		return p
	}
	return &monitor.CompiledProfile{Store: storeName}
}

// Cohorts splits the catalog by fetch strategy: plain HTTP versus automated
// browser, per the product's store profile.
func (c *Catalog) Cohorts() (httpProducts, browserProducts []monitor.Product) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, p := range c.products {
		profile, ok := c.profiles[p.Store]
		if ok && profile.UseBrowser {
			browserProducts = append(browserProducts, p)
			continue
		}
		httpProducts = append(httpProducts, p)
	}
	return httpProducts, browserProducts
}
