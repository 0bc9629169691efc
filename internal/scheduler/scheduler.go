// Package scheduler runs the top-level monitoring loop: it partitions the
// catalog into fetch-strategy cohorts, fans checks out over bounded worker
// pools on two independent cadences, and feeds results through the
// state-diff engine.
package scheduler

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/mzalewski/stockwatch/internal/diff"
	"github.com/mzalewski/stockwatch/internal/extract"
	"github.com/mzalewski/stockwatch/internal/metrics"
	"github.com/mzalewski/stockwatch/internal/monitor"
	"github.com/mzalewski/stockwatch/internal/notify"
	"github.com/mzalewski/stockwatch/internal/store"
)

// Cohort names used in logs and metrics.
const (
	cohortHTTP    = "http"
	cohortBrowser = "browser"
)

// Config controls cadences and pool sizes.
type Config struct {
	// Interval is the fast-cohort check period.
	Interval time.Duration
	// BrowserEvery runs the browser cohort once per this many cycles.
	BrowserEvery int
	// HTTPConcurrency bounds the fast-cohort worker pool.
	HTTPConcurrency int
	// BrowserConcurrency bounds the browser pool; each worker holds an
	// expensive exclusive session.
	BrowserConcurrency int
}

func (c Config) withDefaults() Config {
	if c.Interval <= 0 {
		c.Interval = 120 * time.Second
	}
	if c.BrowserEvery <= 0 {
		c.BrowserEvery = 3
	}
	if c.HTTPConcurrency <= 0 {
		c.HTTPConcurrency = 3
	}
	if c.BrowserConcurrency <= 0 {
		c.BrowserConcurrency = 1
	}
	return c
}

// Scheduler owns the cycle loop.
type Scheduler struct {
	cfg            Config
	catalog        *Catalog
	httpFetcher    monitor.Fetcher
	browserFetcher monitor.Fetcher
	extractor      *extract.Extractor
	engine         *diff.Engine
	store          *store.Store
	notifier       *notify.Notifier
	clock          monitor.Clock
	logger         *zap.Logger
}

// New constructs a Scheduler.
func New(
	cfg Config,
	catalog *Catalog,
	httpFetcher monitor.Fetcher,
	browserFetcher monitor.Fetcher,
	extractor *extract.Extractor,
	engine *diff.Engine,
	st *store.Store,
	notifier *notify.Notifier,
	clock monitor.Clock,
	logger *zap.Logger,
) *Scheduler {
	return &Scheduler{
		cfg:            cfg.withDefaults(),
		catalog:        catalog,
		httpFetcher:    httpFetcher,
		browserFetcher: browserFetcher,
		extractor:      extractor,
		engine:         engine,
		store:          st,
		notifier:       notifier,
		clock:          clock,
		logger:         logger,
	}
}

// Run blocks until the context is canceled, executing check cycles. In-flight
// checks drain before it returns; a final dirty state is persisted.
func (s *Scheduler) Run(ctx context.Context) error {
	s.logger.Info("scheduler started",
		zap.Duration("interval", s.cfg.Interval),
		zap.Int("browser_every", s.cfg.BrowserEvery),
	)

	for cycle := 0; ; cycle++ {
		start := s.clock.Now()
		cycleID := uuid.NewString()[:8]
		log := s.logger.With(zap.String("cycle", cycleID))

		if err := s.catalog.Reload(); err != nil {
			log.Warn("catalog reload failed, keeping previous catalog", zap.Error(err))
		}
		s.engine.SetCatalog(s.catalog.Products())

		httpProducts, browserProducts := s.catalog.Cohorts()
		s.runCohort(ctx, log, cohortHTTP, httpProducts, s.httpFetcher, s.cfg.HTTPConcurrency)
		if len(browserProducts) > 0 && cycle%s.cfg.BrowserEvery == 0 {
			s.runCohort(ctx, log, cohortBrowser, browserProducts, s.browserFetcher, s.cfg.BrowserConcurrency)
		}

		s.persistIfChanged(log)
		metrics.SetStateEntries(s.engine.Size())

		if ctx.Err() != nil {
			log.Info("scheduler stopping")
			return nil
		}

		elapsed := s.clock.Now().Sub(start)
		if elapsed >= s.cfg.Interval {
			log.Warn("cycle overran interval, starting next cycle immediately",
				zap.Duration("elapsed", elapsed),
			)
			continue
		}
		select {
		case <-ctx.Done():
			log.Info("scheduler stopping")
			return nil
		case <-time.After(s.cfg.Interval - elapsed):
		}
	}
}

type checkResult struct {
	product monitor.Product
	obs     monitor.Observation
	skipped bool
	failed  bool
}

// runCohort fans product checks out to a bounded pool. Workers only fetch
// and extract; results funnel into a single collector goroutine that owns
// all state mutation, so writes are serialized by construction.
func (s *Scheduler) runCohort(
	ctx context.Context,
	log *zap.Logger,
	cohort string,
	products []monitor.Product,
	fetcher monitor.Fetcher,
	concurrency int,
) {
	if len(products) == 0 {
		return
	}
	start := s.clock.Now()
	log.Info("cohort cycle starting",
		zap.String("cohort", cohort),
		zap.Int("products", len(products)),
	)

	results := make(chan checkResult)
	collectorDone := make(chan struct{})
	go func() {
		defer close(collectorDone)
		for res := range results {
			s.collect(ctx, log, cohort, res)
		}
	}()

	g := &errgroup.Group{}
	g.SetLimit(concurrency)
	for _, product := range products {
		product := product
		g.Go(func() error {
			results <- s.check(ctx, log, product, fetcher)
			return nil
		})
	}
	_ = g.Wait() // workers never return errors
	close(results)
	<-collectorDone

	metrics.CycleObserved(cohort, s.clock.Now().Sub(start))
}

// check fetches and extracts one product. All failure classes degrade to an
// observation or a skip; nothing escapes to abort the cycle.
func (s *Scheduler) check(ctx context.Context, log *zap.Logger, product monitor.Product, fetcher monitor.Fetcher) (res checkResult) {
	res.product = product
	defer func() {
		if r := recover(); r != nil {
			log.Error("panic during product check",
				zap.String("product", product.Name),
				zap.Any("panic", r),
			)
			res.skipped = true
			res.failed = true
		}
	}()

	doc, err := fetcher.Fetch(ctx, product.URL)
	switch {
	case errors.Is(err, monitor.ErrNotFound):
		// Temporarily unresolvable, not unavailable.
		log.Warn("product page not found", zap.String("product", product.Name), zap.String("url", product.URL))
		res.skipped = true
		return res
	case errors.Is(err, context.Canceled):
		res.skipped = true
		return res
	case err != nil:
		// Conservative terminal fallback after retries.
		log.Warn("check degraded to unavailable after fetch failure",
			zap.String("product", product.Name),
			zap.Error(err),
		)
		res.obs = monitor.Observation{Availability: monitor.AvailabilityOutOfStock}
		res.failed = true
		return res
	}

	parsed, err := goquery.NewDocumentFromReader(bytes.NewReader(doc.Body))
	if err != nil {
		log.Warn("document parse failed",
			zap.String("product", product.Name),
			zap.Error(err),
		)
		res.obs = monitor.Observation{Availability: monitor.AvailabilityOutOfStock}
		res.failed = true
		return res
	}

	res.obs = s.extractor.Extract(parsed, s.catalog.Profile(product.Store))
	return res
}

// collect applies one result through the diff engine and emits notifications.
// Runs on the single collector goroutine only.
func (s *Scheduler) collect(ctx context.Context, log *zap.Logger, cohort string, res checkResult) {
	switch {
	case res.skipped:
		metrics.CheckCompleted(cohort, "unresolvable")
		return
	case res.obs.Availability == monitor.AvailabilityUnknown:
		metrics.CheckCompleted(cohort, "unknown")
		log.Debug("availability unknown, state unchanged",
			zap.String("product", res.product.Name),
		)
		return
	}

	result := "ok"
	if res.failed {
		result = "degraded"
	}
	metrics.CheckCompleted(cohort, result)

	for _, event := range s.engine.Apply(res.product, res.obs) {
		s.notifier.Notify(ctx, event)
	}
}

// persistIfChanged writes the state map back only when at least one key
// changed this cycle.
func (s *Scheduler) persistIfChanged(log *zap.Logger) {
	if !s.engine.Dirty() {
		return
	}
	if err := s.store.SaveState(s.engine.Snapshot()); err != nil {
		log.Error("state persistence failed", zap.Error(err))
		return
	}
	s.engine.MarkSaved()
	log.Info("monitor state persisted", zap.Int("entries", s.engine.Size()))
}

// Describe returns a short status line for logs and diagnostics.
func (s *Scheduler) Describe() string {
	httpProducts, browserProducts := s.catalog.Cohorts()
	return fmt.Sprintf("http=%d browser=%d interval=%s", len(httpProducts), len(browserProducts), s.cfg.Interval)
}
