package fetch

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/mzalewski/stockwatch/internal/monitor"
)

// RetryingFetcher applies the central retry policy uniformly over an inner
// strategy. 404s and cancellations pass through immediately; everything else
// is retried up to the policy's budget with its fixed delay.
type RetryingFetcher struct {
	inner  monitor.Fetcher
	policy *monitor.FixedRetryPolicy
	logger *zap.Logger
}

// NewRetrying wraps a strategy with the retry policy.
func NewRetrying(inner monitor.Fetcher, policy *monitor.FixedRetryPolicy, logger *zap.Logger) *RetryingFetcher {
	return &RetryingFetcher{inner: inner, policy: policy, logger: logger}
}

// Fetch implements monitor.Fetcher.
func (f *RetryingFetcher) Fetch(ctx context.Context, url string) (monitor.Document, error) {
	for attempt := 1; ; attempt++ {
		doc, err := f.inner.Fetch(ctx, url)
		if err == nil {
			return doc, nil
		}
		// Per-request timeouts look like context.DeadlineExceeded too; only
		// the caller's own deadline or cancellation ends the loop early.
		if ctx.Err() != nil {
			return monitor.Document{}, err
		}
		if !f.policy.ShouldRetry(err, attempt) {
			return monitor.Document{}, err
		}
		f.logger.Warn("fetch attempt failed, retrying",
			zap.String("url", url),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
		select {
		case <-ctx.Done():
			return monitor.Document{}, fmt.Errorf("fetch retry canceled: %w", ctx.Err())
		case <-time.After(f.policy.Delay()):
		}
	}
}
