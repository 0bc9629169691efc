// Package fetch implements the two document-retrieval strategies: a
// lightweight HTTP fetch and automated-browser navigation.
package fetch

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/mzalewski/stockwatch/internal/monitor"
)

// HTTPConfig controls the plain HTTP strategy.
type HTTPConfig struct {
	UserAgent string
	Timeout   time.Duration
}

// HTTPFetcher retrieves documents with a single colly GET per check.
type HTTPFetcher struct {
	cfg           HTTPConfig
	baseCollector *colly.Collector
	logger        *zap.Logger
}

// NewHTTP builds the HTTP strategy.
func NewHTTP(cfg HTTPConfig, logger *zap.Logger) *HTTPFetcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	// colly v2.1.0's Async option ignores its argument and always enables
	// async mode; synchronous is the default, so omit the option entirely.
	c := colly.NewCollector(colly.IgnoreRobotsTxt())
	c.WithTransport(newHTTPTransport())
	return &HTTPFetcher{cfg: cfg, baseCollector: c, logger: logger}
}

// Fetch executes a single HTTP GET. A 404 resolves to monitor.ErrNotFound so
// the whole check short-circuits without touching state.
func (f *HTTPFetcher) Fetch(ctx context.Context, url string) (monitor.Document, error) {
	var (
		doc      monitor.Document
		fetchErr error
	)

	collector := f.baseCollector.Clone()
	if f.cfg.UserAgent != "" {
		collector.UserAgent = f.cfg.UserAgent
	}
	collector.SetRequestTimeout(f.cfg.Timeout)

	collector.OnResponse(func(r *colly.Response) {
		doc = monitor.Document{
			Body:       append([]byte(nil), r.Body...),
			StatusCode: r.StatusCode,
		}
	})
	collector.OnError(func(r *colly.Response, err error) {
		if r != nil && r.StatusCode == http.StatusNotFound {
			fetchErr = monitor.ErrNotFound
			return
		}
		fetchErr = err
	})

	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(url)
	}()

	select {
	case <-ctx.Done():
		return monitor.Document{}, fmt.Errorf("http fetch canceled: %w", ctx.Err())
	case err := <-done:
		if fetchErr != nil {
			if fetchErr == monitor.ErrNotFound {
				return monitor.Document{}, monitor.ErrNotFound
			}
			return monitor.Document{}, fmt.Errorf("http fetch %s: %w", url, fetchErr)
		}
		if err != nil {
			return monitor.Document{}, fmt.Errorf("http visit %s: %w", url, err)
		}
		return doc, nil
	}
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
