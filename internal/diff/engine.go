// Package diff implements the per-product state machine that turns new
// observations into state transitions, history entries and notifications.
package diff

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/mzalewski/stockwatch/internal/monitor"
)

// HistoryAppender records confirmed price changes durably.
type HistoryAppender interface {
	AppendHistory(entry monitor.PriceHistoryEntry) error
}

// Engine owns the monitor state map. It is the only component allowed to
// mutate it; Apply must be called from a single goroutine, while Snapshot and
// Dirty are safe to call concurrently.
type Engine struct {
	mu      sync.RWMutex
	states  monitor.StateMap
	saved   monitor.StateMap
	targets map[string]decimal.Decimal
	history HistoryAppender
	clock   monitor.Clock
	logger  *zap.Logger
}

// New builds an Engine seeded with the persisted state and catalog.
func New(states monitor.StateMap, products []monitor.Product, history HistoryAppender, clock monitor.Clock, logger *zap.Logger) *Engine {
	if states == nil {
		states = monitor.StateMap{}
	}
	e := &Engine{
		states:  states,
		saved:   states.Clone(),
		history: history,
		clock:   clock,
		logger:  logger,
	}
	e.SetCatalog(products)
	return e
}

// SetCatalog rebuilds the grouped target-price map after a catalog reload.
// The group's effective target is the first non-nil target among siblings
// sharing a product_id.
func (e *Engine) SetCatalog(products []monitor.Product) {
	targets := make(map[string]decimal.Decimal)
	for _, p := range products {
		if p.ProductID == "" || p.TargetPrice == nil {
			continue
		}
		if _, seen := targets[p.ProductID]; !seen {
			targets[p.ProductID] = *p.TargetPrice
		}
	}
	e.mu.Lock()
	e.targets = targets
	e.mu.Unlock()
}

// Apply computes the state transition for one observation and returns the
// notifications to emit. Unresolvable or availability-unknown observations
// change nothing.
func (e *Engine) Apply(product monitor.Product, obs monitor.Observation) []monitor.Event {
	if obs.Availability == monitor.AvailabilityUnknown {
		return nil
	}

	key := product.Key()
	e.mu.Lock()
	defer e.mu.Unlock()

	prev, seen := e.states[key]
	now := e.clock.Now()
	available := obs.Availability == monitor.AvailabilityInStock

	switch {
	case available && (!seen || !prev.Available):
		e.states[key] = monitor.ProductState{Available: true, Price: obs.Price, LastChecked: now}
		var events []monitor.Event
		if e.withinTarget(product, obs.Price) {
			events = append(events, monitor.Event{
				Kind:     monitor.EventBackInStock,
				Product:  product,
				NewPrice: obs.Price,
			})
		}
		if seen && prev.Price != nil && obs.Price != nil && !prev.Price.Equal(*obs.Price) {
			e.appendHistory(product, *prev.Price, *obs.Price, now)
		}
		return events

	case !available && (!seen || prev.Available):
		e.states[key] = monitor.ProductState{Available: false, Price: obs.Price, LastChecked: now}
		return []monitor.Event{{
			Kind:     monitor.EventOutOfStock,
			Product:  product,
			OldPrice: prev.Price,
		}}

	case available && prev.Available && priceChanged(prev.Price, obs.Price):
		oldPrice := *prev.Price
		newPrice := *obs.Price
		e.states[key] = monitor.ProductState{Available: true, Price: obs.Price, LastChecked: now}
		e.appendHistory(product, oldPrice, newPrice, now)

		switch {
		case newPrice.LessThan(oldPrice):
			if e.withinTarget(product, obs.Price) {
				return []monitor.Event{{
					Kind:     monitor.EventPriceDrop,
					Product:  product,
					OldPrice: &oldPrice,
					NewPrice: &newPrice,
				}}
			}
		case newPrice.GreaterThan(oldPrice):
			// An increase that still exceeds a configured target is noise
			// relative to the user's goal.
			if e.withinTarget(product, obs.Price) {
				return []monitor.Event{{
					Kind:     monitor.EventPriceRise,
					Product:  product,
					OldPrice: &oldPrice,
					NewPrice: &newPrice,
				}}
			}
		}
		return nil

	default:
		return nil
	}
}

// Dirty reports whether the state diverged from the last persisted snapshot.
func (e *Engine) Dirty() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return !e.states.Equal(e.saved)
}

// Snapshot returns a value copy of the current state map.
func (e *Engine) Snapshot() monitor.StateMap {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.states.Clone()
}

// MarkSaved records that the current state was persisted.
func (e *Engine) MarkSaved() {
	e.mu.Lock()
	e.saved = e.states.Clone()
	e.mu.Unlock()
}

// Size returns the number of tracked product keys.
func (e *Engine) Size() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.states)
}

// withinTarget gates price-sensitive notifications: true when no target is
// set or when the price meets the (possibly group-shared) target.
func (e *Engine) withinTarget(product monitor.Product, price *decimal.Decimal) bool {
	target := product.TargetPrice
	if target == nil && product.ProductID != "" {
		if grouped, ok := e.targets[product.ProductID]; ok {
			target = &grouped
		}
	}
	if target == nil {
		return true
	}
	return price != nil && price.LessThanOrEqual(*target)
}

func (e *Engine) appendHistory(product monitor.Product, oldPrice, newPrice decimal.Decimal, now time.Time) {
	entry := monitor.PriceHistoryEntry{
		Timestamp:   now,
		ProductName: product.Name,
		OldPrice:    oldPrice,
		NewPrice:    newPrice,
		URL:         product.URL,
	}
	if err := e.history.AppendHistory(entry); err != nil {
		e.logger.Warn("price history append failed",
			zap.String("product", product.Name),
			zap.Error(err),
		)
	}
}

func priceChanged(oldPrice, newPrice *decimal.Decimal) bool {
	return oldPrice != nil && newPrice != nil && !oldPrice.Equal(*newPrice)
}
