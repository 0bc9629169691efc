package diff

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mzalewski/stockwatch/internal/monitor"
)

type fakeHistory struct {
	entries []monitor.PriceHistoryEntry
	err     error
}

func (f *fakeHistory) AppendHistory(entry monitor.PriceHistoryEntry) error {
	if f.err != nil {
		return f.err
	}
	f.entries = append(f.entries, entry)
	return nil
}

type fakeClock struct {
	now time.Time
}

func (f *fakeClock) Now() time.Time { return f.now }

func price(s string) *decimal.Decimal {
	d := decimal.RequireFromString(s)
	return &d
}

func inStock(p *decimal.Decimal) monitor.Observation {
	return monitor.Observation{Availability: monitor.AvailabilityInStock, Price: p}
}

func outOfStock() monitor.Observation {
	return monitor.Observation{Availability: monitor.AvailabilityOutOfStock}
}

func newTestEngine(t *testing.T, states monitor.StateMap, products []monitor.Product) (*Engine, *fakeHistory) {
	t.Helper()
	history := &fakeHistory{}
	clock := &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	return New(states, products, history, clock, zap.NewNop()), history
}

func TestApplyBackInStockWithinTarget(t *testing.T) {
	t.Parallel()

	product := monitor.Product{Name: "RTX 4080", URL: "https://shop/a", TargetPrice: price("120.00")}
	engine, history := newTestEngine(t, monitor.StateMap{
		product.Key(): {Available: false},
	}, nil)

	events := engine.Apply(product, inStock(price("100.00")))
	require.Len(t, events, 1)
	require.Equal(t, monitor.EventBackInStock, events[0].Kind)
	require.True(t, events[0].NewPrice.Equal(decimal.RequireFromString("100.00")))
	require.Empty(t, history.entries)

	state := engine.Snapshot()[product.Key()]
	require.True(t, state.Available)
	require.True(t, state.Price.Equal(decimal.RequireFromString("100.00")))
}

func TestApplyBackInStockAboveTargetSuppressed(t *testing.T) {
	t.Parallel()

	product := monitor.Product{Name: "RTX 4080", URL: "https://shop/a", TargetPrice: price("80.00")}
	engine, _ := newTestEngine(t, monitor.StateMap{
		product.Key(): {Available: false},
	}, nil)

	events := engine.Apply(product, inStock(price("100.00")))
	require.Empty(t, events)
	// State still advances even when the notification is gated.
	require.True(t, engine.Snapshot()[product.Key()].Available)
}

func TestApplyFirstSeenUnavailableEmitsOutOfStock(t *testing.T) {
	t.Parallel()

	product := monitor.Product{Name: "PS5", URL: "https://shop/ps5"}
	engine, history := newTestEngine(t, nil, nil)

	events := engine.Apply(product, outOfStock())
	require.Len(t, events, 1)
	require.Equal(t, monitor.EventOutOfStock, events[0].Kind)
	require.Empty(t, history.entries)

	// A repeat reading is a no-op.
	require.Empty(t, engine.Apply(product, outOfStock()))
}

func TestApplyWentOutOfStockCarriesOldPrice(t *testing.T) {
	t.Parallel()

	product := monitor.Product{Name: "PS5", URL: "https://shop/ps5"}
	engine, _ := newTestEngine(t, monitor.StateMap{
		product.Key(): {Available: true, Price: price("499.00")},
	}, nil)

	events := engine.Apply(product, outOfStock())
	require.Len(t, events, 1)
	require.Equal(t, monitor.EventOutOfStock, events[0].Kind)
	require.True(t, events[0].OldPrice.Equal(decimal.RequireFromString("499.00")))
}

func TestApplyPriceDropWithinTarget(t *testing.T) {
	t.Parallel()

	product := monitor.Product{Name: "SSD", URL: "https://shop/ssd", TargetPrice: price("95.00")}
	engine, history := newTestEngine(t, monitor.StateMap{
		product.Key(): {Available: true, Price: price("100.00")},
	}, nil)

	events := engine.Apply(product, inStock(price("90.00")))
	require.Len(t, events, 1)
	require.Equal(t, monitor.EventPriceDrop, events[0].Kind)
	require.True(t, events[0].OldPrice.Equal(decimal.RequireFromString("100.00")))
	require.True(t, events[0].NewPrice.Equal(decimal.RequireFromString("90.00")))

	require.Len(t, history.entries, 1)
	require.Equal(t, "SSD", history.entries[0].ProductName)
	require.True(t, history.entries[0].OldPrice.Equal(decimal.RequireFromString("100.00")))
	require.True(t, history.entries[0].NewPrice.Equal(decimal.RequireFromString("90.00")))
}

func TestApplyPriceDropAboveTargetRecordsHistoryOnly(t *testing.T) {
	t.Parallel()

	product := monitor.Product{Name: "SSD", URL: "https://shop/ssd", TargetPrice: price("50.00")}
	engine, history := newTestEngine(t, monitor.StateMap{
		product.Key(): {Available: true, Price: price("100.00")},
	}, nil)

	events := engine.Apply(product, inStock(price("90.00")))
	require.Empty(t, events)
	require.Len(t, history.entries, 1)
}

func TestApplyPriceRiseSuppressedAboveTarget(t *testing.T) {
	t.Parallel()

	product := monitor.Product{Name: "SSD", URL: "https://shop/ssd", TargetPrice: price("105.00")}
	engine, history := newTestEngine(t, monitor.StateMap{
		product.Key(): {Available: true, Price: price("100.00")},
	}, nil)

	events := engine.Apply(product, inStock(price("110.00")))
	require.Empty(t, events)
	// The change is still durable history even when no notification fires.
	require.Len(t, history.entries, 1)
}

func TestApplyPriceRiseEmittedWithoutTarget(t *testing.T) {
	t.Parallel()

	product := monitor.Product{Name: "SSD", URL: "https://shop/ssd"}
	engine, _ := newTestEngine(t, monitor.StateMap{
		product.Key(): {Available: true, Price: price("100.00")},
	}, nil)

	events := engine.Apply(product, inStock(price("110.00")))
	require.Len(t, events, 1)
	require.Equal(t, monitor.EventPriceRise, events[0].Kind)
}

func TestApplyUnknownAvailabilityChangesNothing(t *testing.T) {
	t.Parallel()

	product := monitor.Product{Name: "SSD", URL: "https://shop/ssd"}
	seed := monitor.StateMap{product.Key(): {Available: true, Price: price("100.00")}}
	engine, history := newTestEngine(t, seed.Clone(), nil)

	events := engine.Apply(product, monitor.Observation{Availability: monitor.AvailabilityUnknown, Price: price("1.00")})
	require.Empty(t, events)
	require.Empty(t, history.entries)
	require.False(t, engine.Dirty())
}

func TestApplyBecameAvailableWithChangedPriceAppendsHistory(t *testing.T) {
	t.Parallel()

	product := monitor.Product{Name: "SSD", URL: "https://shop/ssd"}
	engine, history := newTestEngine(t, monitor.StateMap{
		product.Key(): {Available: false, Price: price("120.00")},
	}, nil)

	events := engine.Apply(product, inStock(price("100.00")))
	require.Len(t, events, 1)
	require.Equal(t, monitor.EventBackInStock, events[0].Kind)
	require.Len(t, history.entries, 1)
}

func TestGroupedTargetGatesSiblings(t *testing.T) {
	t.Parallel()

	catalog := []monitor.Product{
		{Name: "GPU shop A", URL: "https://a/gpu", ProductID: "X", TargetPrice: price("50.00")},
		{Name: "GPU shop B", URL: "https://b/gpu", ProductID: "X"},
	}
	// The sibling without its own target inherits the group target of 50.
	engine, _ := newTestEngine(t, nil, catalog)
	events := engine.Apply(catalog[1], inStock(price("60.00")))
	require.Empty(t, events)

	engine, _ = newTestEngine(t, nil, catalog)
	events = engine.Apply(catalog[1], inStock(price("45.00")))
	require.Len(t, events, 1)
	require.Equal(t, monitor.EventBackInStock, events[0].Kind)
}

func TestSetCatalogReplacesTargets(t *testing.T) {
	t.Parallel()

	sibling := monitor.Product{Name: "GPU", URL: "https://a/gpu", ProductID: "X"}
	engine, _ := newTestEngine(t, nil, []monitor.Product{
		{Name: "GPU", URL: "https://b/gpu", ProductID: "X", TargetPrice: price("50.00")},
	})

	require.Empty(t, engine.Apply(sibling, inStock(price("60.00"))))

	engine.SetCatalog(nil)
	// Without any target the gate is open again.
	events := engine.Apply(sibling, inStock(price("55.00")))
	require.Len(t, events, 1)
	require.Equal(t, monitor.EventPriceDrop, events[0].Kind)
}

func TestDirtyAndMarkSaved(t *testing.T) {
	t.Parallel()

	product := monitor.Product{Name: "SSD", URL: "https://shop/ssd"}
	engine, _ := newTestEngine(t, nil, nil)
	require.False(t, engine.Dirty())
	require.Zero(t, engine.Size())

	engine.Apply(product, inStock(price("100.00")))
	require.True(t, engine.Dirty())
	require.Equal(t, 1, engine.Size())

	engine.MarkSaved()
	require.False(t, engine.Dirty())
}

func TestApplyHistoryAppendFailureIsNonFatal(t *testing.T) {
	t.Parallel()

	product := monitor.Product{Name: "SSD", URL: "https://shop/ssd"}
	history := &fakeHistory{err: errors.New("disk full")}
	clock := &fakeClock{now: time.Now()}
	engine := New(monitor.StateMap{
		product.Key(): {Available: true, Price: price("100.00")},
	}, nil, history, clock, zap.NewNop())

	events := engine.Apply(product, inStock(price("90.00")))
	require.Len(t, events, 1)
	require.True(t, engine.Snapshot()[product.Key()].Price.Equal(decimal.RequireFromString("90.00")))
}
