// Package browser manages long-lived automated-browser sessions. Each
// concurrent browser worker owns exactly one session at a time; sessions are
// never shared between workers.
package browser

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/mzalewski/stockwatch/internal/monitor"
)

// Session is one headless browser instance with a single page context.
// It is not safe for concurrent use; the pool hands it to one worker at a
// time.
type Session struct {
	browserCtx    context.Context
	browserCancel context.CancelFunc
	allocCancel   context.CancelFunc
}

// Context returns the tab context used to run navigation actions.
func (s *Session) Context() context.Context {
	return s.browserCtx
}

// close tears the session down page-first: tab context, then the browser
// allocator. Individual close errors are swallowed, teardown is best-effort.
func (s *Session) close() {
	if s.browserCancel != nil {
		s.browserCancel()
	}
	if s.allocCancel != nil {
		s.allocCancel()
	}
}

// launchFunc starts a fresh session. Overridable in tests to avoid spawning
// real browser processes.
type launchFunc func(userAgent string) (*Session, error)

// Config controls pool behavior.
type Config struct {
	UserAgent       string
	MaxInitFailures int
	BackoffBase     float64
}

// Pool hands out exclusive browser sessions, reinitializing failed ones with
// a failure ceiling and exponential backoff so a crash-looping browser launch
// cannot starve the process.
type Pool struct {
	mu          sync.Mutex
	idle        []*Session
	cfg         Config
	failures    int
	lastAttempt time.Time
	launch      launchFunc
	clock       monitor.Clock
	logger      *zap.Logger
	closed      bool
	onInitFail  func()
}

// New builds a Pool. Sessions are created lazily on first Acquire.
func New(cfg Config, clock monitor.Clock, logger *zap.Logger) *Pool {
	if cfg.MaxInitFailures <= 0 {
		cfg.MaxInitFailures = 5
	}
	if cfg.BackoffBase <= 1 {
		cfg.BackoffBase = 2
	}
	return &Pool{
		cfg:    cfg,
		launch: launchChromedp,
		clock:  clock,
		logger: logger,
	}
}

// OnInitFailure registers a hook invoked on every failed initialization.
func (p *Pool) OnInitFailure(hook func()) {
	p.onInitFail = hook
}

// Acquire returns the worker's session: a healthy idle one if available,
// otherwise a freshly initialized one. Once the failure counter exceeds the
// ceiling, initialization is rate-limited with exponential backoff and
// Acquire fails fast with monitor.ErrSessionBackoff.
func (p *Pool) Acquire(ctx context.Context) (*Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("acquire session: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil, fmt.Errorf("session pool is closed")
	}
	if n := len(p.idle); n > 0 {
		s := p.idle[n-1]
		p.idle = p.idle[:n-1]
		return s, nil
	}

	now := p.clock.Now()
	if p.failures >= p.cfg.MaxInitFailures {
		backoff := time.Duration(math.Pow(p.cfg.BackoffBase, float64(p.failures-p.cfg.MaxInitFailures+1))) * time.Second
		nextAllowed := p.lastAttempt.Add(backoff)
		if now.Before(nextAllowed) {
			return nil, fmt.Errorf("%w: retry in %s", monitor.ErrSessionBackoff, nextAllowed.Sub(now).Round(time.Second))
		}
	}

	session, err := p.launch(p.cfg.UserAgent)
	p.lastAttempt = p.clock.Now()
	if err != nil {
		p.failures++
		if p.onInitFail != nil {
			p.onInitFail()
		}
		p.logger.Warn("browser session init failed",
			zap.Int("failures", p.failures),
			zap.Error(err),
		)
		return nil, fmt.Errorf("init browser session: %w", err)
	}
	p.failures = 0
	p.logger.Info("browser session initialized")
	return session, nil
}

// Release returns a healthy session to the pool for reuse.
func (p *Pool) Release(s *Session) {
	if s == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		s.close()
		return
	}
	p.idle = append(p.idle, s)
}

// Discard tears down a session judged unhealthy after a runtime error. The
// next Acquire initializes a replacement.
func (p *Pool) Discard(s *Session) {
	if s == nil {
		return
	}
	p.logger.Warn("discarding unhealthy browser session")
	s.close()
}

// Close tears down all idle sessions. Sessions still held by workers are the
// holders' responsibility to Release or Discard first.
func (p *Pool) Close() {
	p.mu.Lock()
	idle := p.idle
	p.idle = nil
	p.closed = true
	p.mu.Unlock()
	for _, s := range idle {
		s.close()
	}
	p.logger.Info("browser session pool closed")
}

// launchChromedp starts a headless Chrome and warms up one page context.
func launchChromedp(userAgent string) (*Session, error) {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", "new"),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("hide-scrollbars", true),
	)
	if userAgent != "" {
		opts = append(opts, chromedp.UserAgent(userAgent))
	}
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)
	if err := chromedp.Run(browserCtx); err != nil {
		browserCancel()
		allocCancel()
		return nil, fmt.Errorf("chromedp warmup: %w", err)
	}
	return &Session{
		browserCtx:    browserCtx,
		browserCancel: browserCancel,
		allocCancel:   allocCancel,
	}, nil
}
