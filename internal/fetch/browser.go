package fetch

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/mzalewski/stockwatch/internal/browser"
	"github.com/mzalewski/stockwatch/internal/monitor"
)

// BrowserConfig controls the automated-browser strategy.
type BrowserConfig struct {
	// NavTimeout bounds the full navigation including network settling.
	NavTimeout time.Duration
	// DOMTimeout bounds the fallback wait for DOM content when the full
	// navigation times out on a chatty page.
	DOMTimeout time.Duration
	// Settle is the fixed delay before snapshotting the rendered DOM, to
	// tolerate client-rendered pages.
	Settle time.Duration
}

// BrowserFetcher retrieves rendered DOMs through the session pool. A runtime
// navigation error discards the session and surfaces as a retryable error.
type BrowserFetcher struct {
	pool   *browser.Pool
	cfg    BrowserConfig
	logger *zap.Logger
}

// NewBrowser builds the browser strategy on top of a session pool.
func NewBrowser(pool *browser.Pool, cfg BrowserConfig, logger *zap.Logger) *BrowserFetcher {
	if cfg.NavTimeout <= 0 {
		cfg.NavTimeout = 12 * time.Second
	}
	if cfg.DOMTimeout <= 0 {
		cfg.DOMTimeout = 9 * time.Second
	}
	if cfg.Settle <= 0 {
		cfg.Settle = 1200 * time.Millisecond
	}
	return &BrowserFetcher{pool: pool, cfg: cfg, logger: logger}
}

// Fetch navigates the worker's session to the URL and returns the rendered
// document.
func (f *BrowserFetcher) Fetch(ctx context.Context, url string) (monitor.Document, error) {
	session, err := f.pool.Acquire(ctx)
	if err != nil {
		return monitor.Document{}, err
	}

	doc, err := f.navigate(ctx, session, url)
	if err != nil {
		f.pool.Discard(session)
		return monitor.Document{}, err
	}
	f.pool.Release(session)

	if doc.StatusCode == http.StatusNotFound {
		return monitor.Document{}, monitor.ErrNotFound
	}
	return doc, nil
}

// navigate loads the page waiting for the network to go idle, falling back to
// a plain DOM wait when a chatty page never settles within NavTimeout.
func (f *BrowserFetcher) navigate(ctx context.Context, session *browser.Session, url string) (monitor.Document, error) {
	navCtx, cancel := context.WithTimeout(session.Context(), f.cfg.NavTimeout)
	defer cancel()
	stop := forwardCancel(ctx, cancel)
	defer stop()

	watch := newNavWatcher()
	chromedp.ListenTarget(navCtx, watch.handle)

	err := chromedp.Run(navCtx,
		network.Enable(),
		page.SetLifecycleEventsEnabled(true),
		chromedp.Navigate(url),
		chromedp.ActionFunc(func(actionCtx context.Context) error {
			select {
			case <-watch.networkIdle():
				return nil
			case <-actionCtx.Done():
				return actionCtx.Err()
			}
		}),
	)
	if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
		// The page never went quiet; settle for DOM content loaded.
		f.logger.Debug("network never went idle, falling back to DOM wait", zap.String("url", url))
		domCtx, domCancel := context.WithTimeout(session.Context(), f.cfg.DOMTimeout)
		defer domCancel()
		err = chromedp.Run(domCtx, chromedp.WaitReady("body", chromedp.ByQuery))
	}
	if err != nil {
		return monitor.Document{}, fmt.Errorf("browser navigate %s: %w", url, err)
	}

	var html string
	snapCtx, snapCancel := context.WithTimeout(session.Context(), f.cfg.DOMTimeout+f.cfg.Settle)
	defer snapCancel()
	if err := chromedp.Run(snapCtx,
		chromedp.Sleep(f.cfg.Settle),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	); err != nil {
		return monitor.Document{}, fmt.Errorf("browser snapshot %s: %w", url, err)
	}

	status := watch.status()
	if status == 0 {
		status = http.StatusOK
	}
	return monitor.Document{Body: []byte(html), StatusCode: status}, nil
}

// navWatcher tracks one navigation from CDP events: the top document's HTTP
// status and the networkIdle lifecycle signal. Lifecycle events seen before
// this navigation's document response (such as the state replay when
// lifecycle events are enabled on an already-loaded frame) do not count.
type navWatcher struct {
	mu         sync.Mutex
	statusCode int
	idle       chan struct{}
	idleClosed bool
}

func newNavWatcher() *navWatcher {
	return &navWatcher{idle: make(chan struct{})}
}

func (w *navWatcher) handle(ev any) {
	switch e := ev.(type) {
	case *network.EventResponseReceived:
		if e.Type != network.ResourceTypeDocument || e.Response == nil {
			return
		}
		w.mu.Lock()
		if w.statusCode == 0 {
			w.statusCode = int(e.Response.Status)
		}
		w.mu.Unlock()
	case *page.EventLifecycleEvent:
		if e.Name != "networkIdle" {
			return
		}
		w.mu.Lock()
		if w.statusCode != 0 && !w.idleClosed {
			w.idleClosed = true
			close(w.idle)
		}
		w.mu.Unlock()
	}
}

// networkIdle is closed once the navigated document's network goes idle.
func (w *navWatcher) networkIdle() <-chan struct{} {
	return w.idle
}

func (w *navWatcher) status() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.statusCode
}

// forwardCancel propagates an outer cancellation into a chromedp action
// context without tying their lifetimes together.
func forwardCancel(parent context.Context, cancel context.CancelFunc) func() {
	done := make(chan struct{})
	go func() {
		select {
		case <-parent.Done():
			cancel()
		case <-done:
		}
	}()
	return func() { close(done) }
}
