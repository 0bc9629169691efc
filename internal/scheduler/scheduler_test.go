package scheduler

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mzalewski/stockwatch/internal/diff"
	"github.com/mzalewski/stockwatch/internal/extract"
	"github.com/mzalewski/stockwatch/internal/monitor"
	"github.com/mzalewski/stockwatch/internal/notify"
	"github.com/mzalewski/stockwatch/internal/store"
)

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// mapFetcher serves canned HTML bodies keyed by URL.
type mapFetcher struct {
	mu    sync.Mutex
	pages map[string]string
	errs  map[string]error
	calls map[string]int
}

func newMapFetcher() *mapFetcher {
	return &mapFetcher{pages: map[string]string{}, errs: map[string]error{}, calls: map[string]int{}}
}

func (f *mapFetcher) Fetch(ctx context.Context, url string) (monitor.Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[url]++
	if err, ok := f.errs[url]; ok {
		return monitor.Document{}, err
	}
	page, ok := f.pages[url]
	if !ok {
		return monitor.Document{}, fmt.Errorf("no canned page for %s", url)
	}
	return monitor.Document{Body: []byte(page), StatusCode: 200}, nil
}

func (f *mapFetcher) callCount(url string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[url]
}

type captureChannel struct {
	mu       sync.Mutex
	messages []string
}

func (c *captureChannel) Name() string { return "capture" }

func (c *captureChannel) Send(ctx context.Context, text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.messages = append(c.messages, text)
	return nil
}

func (c *captureChannel) sent() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.messages...)
}

type fixture struct {
	scheduler *Scheduler
	store     *store.Store
	engine    *diff.Engine
	notifier  *notify.Notifier
	channel   *captureChannel
	http      *mapFetcher
	browser   *mapFetcher
}

func newFixture(t *testing.T, cfg Config, productsJSON, profilesJSON string) *fixture {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "products.json"), []byte(productsJSON), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "profiles.json"), []byte(profilesJSON), 0o600))

	st, err := store.New(dir, zap.NewNop())
	require.NoError(t, err)
	catalog := NewCatalog(st, zap.NewNop())
	require.NoError(t, catalog.Reload())

	clock := realClock{}
	engine := diff.New(nil, catalog.Products(), st, clock, zap.NewNop())
	channel := &captureChannel{}
	notifier := notify.New([]monitor.Channel{channel}, time.Second, zap.NewNop())
	httpFetcher := newMapFetcher()
	browserFetcher := newMapFetcher()

	return &fixture{
		scheduler: New(cfg, catalog, httpFetcher, browserFetcher,
			extract.New(extract.DefaultPhrases()), engine, st, notifier, clock, zap.NewNop()),
		store:    st,
		engine:   engine,
		notifier: notifier,
		channel:  channel,
		http:     httpFetcher,
		browser:  browserFetcher,
	}
}

const inStockPage = `<html><body><span class="price">99,90 zł</span><button>Dodaj do koszyka</button></body></html>`
const outOfStockPage = `<html><body><p>Brak w magazynie</p></body></html>`

func TestRunCohortAppliesObservations(t *testing.T) {
	t.Parallel()

	fx := newFixture(t, Config{}, `[
		{"name": "A", "url": "https://shop/a", "store": "shop"},
		{"name": "B", "url": "https://shop/b", "store": "shop"}
	]`, `{"shop": {"store": "shop", "price": ".price"}}`)
	fx.http.pages["https://shop/a"] = inStockPage
	fx.http.pages["https://shop/b"] = outOfStockPage

	products, _ := fx.scheduler.catalog.Cohorts()
	fx.scheduler.runCohort(context.Background(), zap.NewNop(), "http", products, fx.http, 2)
	fx.notifier.Close()

	states := fx.engine.Snapshot()
	require.Len(t, states, 2)
	require.True(t, states["https://shop/a"].Available)
	require.NotNil(t, states["https://shop/a"].Price)
	require.False(t, states["https://shop/b"].Available)

	// One back-in-stock and one out-of-stock notification.
	require.Len(t, fx.channel.sent(), 2)
}

func TestRunCohortNotFoundLeavesNoState(t *testing.T) {
	t.Parallel()

	fx := newFixture(t, Config{},
		`[{"name": "A", "url": "https://shop/gone", "store": "shop"}]`,
		`{"shop": {"store": "shop"}}`)
	fx.http.errs["https://shop/gone"] = monitor.ErrNotFound

	products, _ := fx.scheduler.catalog.Cohorts()
	fx.scheduler.runCohort(context.Background(), zap.NewNop(), "http", products, fx.http, 1)
	fx.notifier.Close()

	require.Empty(t, fx.engine.Snapshot())
	require.Empty(t, fx.channel.sent())
}

func TestRunCohortFetchFailureDegradesToUnavailable(t *testing.T) {
	t.Parallel()

	fx := newFixture(t, Config{},
		`[{"name": "A", "url": "https://shop/flaky", "store": "shop"}]`,
		`{"shop": {"store": "shop"}}`)
	fx.http.errs["https://shop/flaky"] = errors.New("connection reset")

	products, _ := fx.scheduler.catalog.Cohorts()
	fx.scheduler.runCohort(context.Background(), zap.NewNop(), "http", products, fx.http, 1)
	fx.notifier.Close()

	states := fx.engine.Snapshot()
	require.Len(t, states, 1)
	require.False(t, states["https://shop/flaky"].Available)
}

func TestRunCohortUnknownAvailabilityLeavesStateAlone(t *testing.T) {
	t.Parallel()

	fx := newFixture(t, Config{},
		`[{"name": "A", "url": "https://shop/a", "store": "shop"}]`,
		`{"shop": {"store": "shop"}}`)
	fx.http.pages["https://shop/a"] = `<html><body><p>lorem ipsum</p></body></html>`

	products, _ := fx.scheduler.catalog.Cohorts()
	fx.scheduler.runCohort(context.Background(), zap.NewNop(), "http", products, fx.http, 1)
	fx.notifier.Close()

	require.Empty(t, fx.engine.Snapshot())
}

func TestRunRoutesCohortsAndPersists(t *testing.T) {
	t.Parallel()

	fx := newFixture(t, Config{Interval: 20 * time.Millisecond, BrowserEvery: 1000}, `[
		{"name": "Light", "url": "https://light/a", "store": "light"},
		{"name": "Heavy", "url": "https://heavy/b", "store": "heavy"}
	]`, `{
		"light": {"store": "light", "price": ".price"},
		"heavy": {"store": "heavy", "price": ".price", "use_browser_automation": true}
	}`)
	fx.http.pages["https://light/a"] = inStockPage
	fx.browser.pages["https://heavy/b"] = inStockPage

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	require.NoError(t, fx.scheduler.Run(ctx))
	fx.notifier.Close()

	// The browser cohort ran only on cycle zero; HTTP ran every cycle.
	require.Equal(t, 1, fx.browser.callCount("https://heavy/b"))
	require.GreaterOrEqual(t, fx.http.callCount("https://light/a"), 2)

	// State survived to disk.
	states, err := fx.store.LoadState()
	require.NoError(t, err)
	require.Len(t, states, 2)
	require.True(t, states["https://light/a"].Available)
	require.True(t, states["https://heavy/b"].Available)
}

func TestRunStopsPromptlyOnCancel(t *testing.T) {
	t.Parallel()

	fx := newFixture(t, Config{Interval: time.Hour},
		`[{"name": "A", "url": "https://shop/a", "store": "shop"}]`,
		`{"shop": {"store": "shop", "price": ".price"}}`)
	fx.http.pages["https://shop/a"] = inStockPage

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	done := make(chan error, 1)
	go func() { done <- fx.scheduler.Run(ctx) }()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("scheduler did not stop after cancellation")
	}
}

// stepClock advances by a fixed step on every reading, simulating cycles that
// take longer than the configured interval.
type stepClock struct {
	mu   sync.Mutex
	now  time.Time
	step time.Duration
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(c.step)
	return c.now
}

func TestRunOverrunSkipsSleep(t *testing.T) {
	t.Parallel()

	fx := newFixture(t, Config{Interval: time.Hour, BrowserEvery: 1000},
		`[{"name": "A", "url": "https://shop/a", "store": "shop"}]`,
		`{"shop": {"store": "shop", "price": ".price"}}`)
	fx.http.pages["https://shop/a"] = inStockPage
	fx.scheduler.clock = &stepClock{
		now:  time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		step: 2 * time.Hour,
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- fx.scheduler.Run(ctx) }()

	// With every cycle overrunning the one hour interval, several cycles
	// complete immediately instead of one per hour.
	require.Eventually(t, func() bool {
		return fx.http.callCount("https://shop/a") >= 3
	}, 5*time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("scheduler did not stop after cancellation")
	}
	fx.notifier.Close()
}

func TestDescribe(t *testing.T) {
	t.Parallel()

	fx := newFixture(t, Config{Interval: 2 * time.Minute},
		`[{"name": "A", "url": "https://shop/a", "store": "shop"}]`,
		`{"shop": {"store": "shop"}}`)
	require.Equal(t, "http=1 browser=0 interval=2m0s", fx.scheduler.Describe())
}
