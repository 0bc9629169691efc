package notify

import (
	"context"
	"fmt"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"github.com/mzalewski/stockwatch/internal/monitor"
)

// ChannelConfig carries credentials for the outbound transports. Any channel
// with missing credentials is silently not constructed.
type ChannelConfig struct {
	WebhookURL       string
	TelegramToken    string
	TelegramChatID   string
	TwilioAccountSID string
	TwilioAuthToken  string
	TwilioFrom       string
	TwilioTo         string
}

// Channels builds every transport the config has credentials for.
func Channels(cfg ChannelConfig, logger *zap.Logger) []monitor.Channel {
	var out []monitor.Channel
	if cfg.WebhookURL != "" {
		out = append(out, NewWebhook(cfg.WebhookURL))
	}
	if cfg.TelegramToken != "" && cfg.TelegramChatID != "" {
		out = append(out, NewTelegram(cfg.TelegramToken, cfg.TelegramChatID))
	}
	if cfg.TwilioAccountSID != "" && cfg.TwilioAuthToken != "" && cfg.TwilioFrom != "" && cfg.TwilioTo != "" {
		out = append(out, NewTwilio(cfg.TwilioAccountSID, cfg.TwilioAuthToken, cfg.TwilioFrom, cfg.TwilioTo))
	}
	names := make([]string, 0, len(out))
	for _, ch := range out {
		names = append(names, ch.Name())
	}
	logger.Info("notification channels configured", zap.Strings("channels", names))
	return out
}

// WebhookChannel posts the message to a chat webhook (Discord-compatible
// payload shape).
type WebhookChannel struct {
	client *resty.Client
	url    string
}

// NewWebhook builds a webhook channel.
func NewWebhook(url string) *WebhookChannel {
	return &WebhookChannel{client: resty.New(), url: url}
}

// Name implements monitor.Channel.
func (c *WebhookChannel) Name() string { return "webhook" }

// Send implements monitor.Channel.
func (c *WebhookChannel) Send(ctx context.Context, text string) error {
	resp, err := c.client.R().
		SetContext(ctx).
		SetBody(map[string]string{"content": text}).
		Post(c.url)
	if err != nil {
		return fmt.Errorf("post webhook: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("webhook responded %s", resp.Status())
	}
	return nil
}

// TelegramChannel sends the message through the Telegram bot API.
type TelegramChannel struct {
	client *resty.Client
	token  string
	chatID string
	// baseURL is overridable in tests.
	baseURL string
}

// NewTelegram builds a Telegram channel.
func NewTelegram(token, chatID string) *TelegramChannel {
	return &TelegramChannel{
		client:  resty.New(),
		token:   token,
		chatID:  chatID,
		baseURL: "https://api.telegram.org",
	}
}

// Name implements monitor.Channel.
func (c *TelegramChannel) Name() string { return "telegram" }

// Send implements monitor.Channel.
func (c *TelegramChannel) Send(ctx context.Context, text string) error {
	resp, err := c.client.R().
		SetContext(ctx).
		SetFormData(map[string]string{
			"chat_id": c.chatID,
			"text":    text,
		}).
		Post(fmt.Sprintf("%s/bot%s/sendMessage", c.baseURL, c.token))
	if err != nil {
		return fmt.Errorf("post telegram message: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("telegram responded %s", resp.Status())
	}
	return nil
}

// TwilioChannel sends the message as an SMS through the Twilio REST API.
type TwilioChannel struct {
	client     *resty.Client
	accountSID string
	authToken  string
	from       string
	to         string
	baseURL    string
}

// NewTwilio builds a Twilio SMS channel.
func NewTwilio(accountSID, authToken, from, to string) *TwilioChannel {
	return &TwilioChannel{
		client:     resty.New(),
		accountSID: accountSID,
		authToken:  authToken,
		from:       from,
		to:         to,
		baseURL:    "https://api.twilio.com",
	}
}

// Name implements monitor.Channel.
func (c *TwilioChannel) Name() string { return "sms" }

// Send implements monitor.Channel.
func (c *TwilioChannel) Send(ctx context.Context, text string) error {
	resp, err := c.client.R().
		SetContext(ctx).
		SetBasicAuth(c.accountSID, c.authToken).
		SetFormData(map[string]string{
			"From": c.from,
			"To":   c.to,
			"Body": text,
		}).
		Post(fmt.Sprintf("%s/2010-04-01/Accounts/%s/Messages.json", c.baseURL, c.accountSID))
	if err != nil {
		return fmt.Errorf("post twilio message: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("twilio responded %s", resp.Status())
	}
	return nil
}
