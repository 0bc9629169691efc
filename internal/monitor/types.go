// Package monitor defines core types shared across subsystems.
package monitor

import (
	"time"

	"github.com/shopspring/decimal"
)

// Availability is the tri-state result of reading a product page.
type Availability int

// Availability values produced by the extractor.
const (
	AvailabilityUnknown Availability = iota
	AvailabilityOutOfStock
	AvailabilityInStock
)

func (a Availability) String() string {
	switch a {
	case AvailabilityInStock:
		return "in_stock"
	case AvailabilityOutOfStock:
		return "out_of_stock"
	default:
		return "unknown"
	}
}

// Product is one monitored listing. Products are authored by the external
// admin surface and read-only to the monitoring engine.
type Product struct {
	Name        string           `json:"name"`
	URL         string           `json:"url"`
	Store       string           `json:"store"`
	TargetPrice *decimal.Decimal `json:"target_price,omitempty"`
	ProductID   string           `json:"product_id,omitempty"`
}

// Key identifies one logical monitored entity. Listings sharing a product_id
// collapse onto one key so target-price gating covers all store variants.
func (p Product) Key() string {
	switch {
	case p.ProductID != "":
		return p.ProductID
	case p.URL != "":
		return p.URL
	default:
		return p.Name
	}
}

// StoreProfile holds the raw per-store markup-query configuration as persisted
// on disk. Selector strings are compiled once at load time, see Compile.
type StoreProfile struct {
	Store                   string `json:"store"`
	PriceSelector           string `json:"price"`
	DiscountedPriceSelector string `json:"price_discounted"`
	AvailabilitySelector    string `json:"availability"`
	UnavailabilitySelector  string `json:"unavailability"`
	UseBrowser              bool   `json:"use_browser_automation"`
}

// CompiledProfile is a StoreProfile with every selector parsed into its
// tagged variant. A nil selector means "not configured, cannot evaluate".
type CompiledProfile struct {
	Store           string
	Price           *Selector
	DiscountedPrice *Selector
	Availability    *Selector
	Unavailability  *Selector
	UseBrowser      bool
}

// Compile parses all selector strings of the profile. An empty selector
// string compiles to nil rather than an error.
func Compile(p StoreProfile) (*CompiledProfile, error) {
	cp := &CompiledProfile{Store: p.Store, UseBrowser: p.UseBrowser}
	for _, item := range []struct {
		raw string
		dst **Selector
	}{
		{p.PriceSelector, &cp.Price},
		{p.DiscountedPriceSelector, &cp.DiscountedPrice},
		{p.AvailabilitySelector, &cp.Availability},
		{p.UnavailabilitySelector, &cp.Unavailability},
	} {
		sel, err := ParseSelector(item.raw)
		if err != nil {
			return nil, err
		}
		*item.dst = sel
	}
	return cp, nil
}

// Observation is one check's raw availability/price reading. An unknown
// availability together with a nil price signals an unresolvable page and
// must never overwrite persisted state.
type Observation struct {
	Availability Availability
	Price        *decimal.Decimal
	RawPriceText string
}

// Unresolvable reports whether the observation carries no usable signal.
func (o Observation) Unresolvable() bool {
	return o.Availability == AvailabilityUnknown && o.Price == nil
}

// ProductState is the last known resolvable reading for one product key.
type ProductState struct {
	Available   bool             `json:"available"`
	Price       *decimal.Decimal `json:"price,omitempty"`
	LastChecked time.Time        `json:"last_checked"`
}

// Equal compares two states by value, treating prices numerically.
func (s ProductState) Equal(other ProductState) bool {
	if s.Available != other.Available {
		return false
	}
	if (s.Price == nil) != (other.Price == nil) {
		return false
	}
	if s.Price != nil && !s.Price.Equal(*other.Price) {
		return false
	}
	return s.LastChecked.Equal(other.LastChecked)
}

// StateMap is the monitor state keyed by product key.
type StateMap map[string]ProductState

// Clone returns a shallow value copy of the map.
func (m StateMap) Clone() StateMap {
	out := make(StateMap, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// Equal compares two state maps by value.
func (m StateMap) Equal(other StateMap) bool {
	if len(m) != len(other) {
		return false
	}
	for k, v := range m {
		ov, ok := other[k]
		if !ok || !v.Equal(ov) {
			return false
		}
	}
	return true
}

// PriceHistoryEntry is one confirmed price change, appended to the durable
// history log and never mutated.
type PriceHistoryEntry struct {
	Timestamp   time.Time
	ProductName string
	OldPrice    decimal.Decimal
	NewPrice    decimal.Decimal
	URL         string
}

// EventKind names a notification-worthy state transition.
type EventKind string

// Event kinds emitted by the state-diff engine.
const (
	EventBackInStock EventKind = "back_in_stock"
	EventOutOfStock  EventKind = "out_of_stock"
	EventPriceDrop   EventKind = "price_drop"
	EventPriceRise   EventKind = "price_rise"
)

// Event is a notification-worthy transition for one product.
type Event struct {
	Kind     EventKind
	Product  Product
	OldPrice *decimal.Decimal
	NewPrice *decimal.Decimal
}
