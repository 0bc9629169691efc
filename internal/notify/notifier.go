// Package notify fans monitor events out to external channels. Delivery is
// best-effort: a failing or unconfigured channel is logged and skipped, never
// blocks a check, and is never retried. The price history log is the durable
// record, not these messages.
package notify

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/mzalewski/stockwatch/internal/monitor"
)

// Notifier dispatches events to all configured channels concurrently.
type Notifier struct {
	channels []monitor.Channel
	timeout  time.Duration
	logger   *zap.Logger
	wg       sync.WaitGroup
	onSent   func(kind monitor.EventKind, channel string)
}

// New builds a Notifier. The timeout bounds every individual send.
func New(channels []monitor.Channel, timeout time.Duration, logger *zap.Logger) *Notifier {
	if timeout <= 0 {
		timeout = 8 * time.Second
	}
	return &Notifier{channels: channels, timeout: timeout, logger: logger}
}

// OnSent registers a hook invoked after each successful delivery.
func (n *Notifier) OnSent(hook func(kind monitor.EventKind, channel string)) {
	n.onSent = hook
}

// Notify formats the event and sends it on every channel without waiting for
// delivery. The calling check is never blocked on a slow transport.
func (n *Notifier) Notify(ctx context.Context, event monitor.Event) {
	text := FormatMessage(event)
	n.logger.Info("notification",
		zap.String("kind", string(event.Kind)),
		zap.String("product", event.Product.Name),
	)
	for _, ch := range n.channels {
		n.wg.Add(1)
		go func(ch monitor.Channel) {
			defer n.wg.Done()
			sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), n.timeout)
			defer cancel()
			if err := ch.Send(sendCtx, text); err != nil {
				n.logger.Warn("notification send failed",
					zap.String("channel", ch.Name()),
					zap.String("kind", string(event.Kind)),
					zap.Error(err),
				)
				return
			}
			if n.onSent != nil {
				n.onSent(event.Kind, ch.Name())
			}
		}(ch)
	}
}

// Close waits for in-flight sends to finish.
func (n *Notifier) Close() {
	n.wg.Wait()
}

// FormatMessage renders the outbound text for one event.
func FormatMessage(event monitor.Event) string {
	p := event.Product
	switch event.Kind {
	case monitor.EventBackInStock:
		price := "unknown price"
		if event.NewPrice != nil {
			price = event.NewPrice.StringFixed(2)
		}
		return fmt.Sprintf("✅ %s is back in stock at %s!\n🔗 %s", p.Name, price, p.URL)
	case monitor.EventOutOfStock:
		return fmt.Sprintf("❌ %s is out of stock.\n🔗 %s", p.Name, p.URL)
	case monitor.EventPriceDrop:
		return fmt.Sprintf("💸 Price DROP for %s: %s → %s\n🔗 %s",
			p.Name, event.OldPrice.StringFixed(2), event.NewPrice.StringFixed(2), p.URL)
	case monitor.EventPriceRise:
		return fmt.Sprintf("🔺 Price ROSE for %s: %s → %s\n🔗 %s",
			p.Name, event.OldPrice.StringFixed(2), event.NewPrice.StringFixed(2), p.URL)
	default:
		return fmt.Sprintf("%s: %s\n%s", event.Kind, p.Name, p.URL)
	}
}
