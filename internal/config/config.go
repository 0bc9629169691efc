// Package config loads and validates monitor configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Monitor MonitorConfig `mapstructure:"monitor"`
	HTTP    HTTPConfig    `mapstructure:"http"`
	Browser BrowserConfig `mapstructure:"browser"`
	Notify  NotifyConfig  `mapstructure:"notify"`
	Server  ServerConfig  `mapstructure:"server"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// MonitorConfig governs cadences, pool sizes and the data directory.
type MonitorConfig struct {
	CheckIntervalSeconds int    `mapstructure:"check_interval_seconds"`
	BrowserMultiplier    int    `mapstructure:"browser_multiplier"`
	HTTPConcurrency      int    `mapstructure:"http_concurrency"`
	BrowserConcurrency   int    `mapstructure:"browser_concurrency"`
	DataDir              string `mapstructure:"data_dir"`
}

// HTTPConfig configures the plain HTTP fetch strategy and retry policy.
type HTTPConfig struct {
	TimeoutSeconds    int    `mapstructure:"timeout_seconds"`
	MaxRetries        int    `mapstructure:"max_retries"`
	RetryDelaySeconds int    `mapstructure:"retry_delay_seconds"`
	UserAgent         string `mapstructure:"user_agent"`
}

// BrowserConfig configures the automated-browser strategy and session pool.
type BrowserConfig struct {
	NavTimeoutSeconds int `mapstructure:"nav_timeout_seconds"`
	DOMTimeoutSeconds int `mapstructure:"dom_timeout_seconds"`
	SettleMs          int `mapstructure:"settle_ms"`
	MaxInitFailures   int `mapstructure:"max_init_failures"`
}

// NotifyConfig carries channel credentials; empty credentials disable the
// channel silently.
type NotifyConfig struct {
	WebhookURL         string `mapstructure:"webhook_url"`
	TelegramToken      string `mapstructure:"telegram_token"`
	TelegramChatID     string `mapstructure:"telegram_chat_id"`
	TwilioAccountSID   string `mapstructure:"twilio_account_sid"`
	TwilioAuthToken    string `mapstructure:"twilio_auth_token"`
	TwilioFrom         string `mapstructure:"twilio_from"`
	TwilioTo           string `mapstructure:"twilio_to"`
	SendTimeoutSeconds int    `mapstructure:"send_timeout_seconds"`
}

// ServerConfig controls the read-only ops HTTP server.
type ServerConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("MONITOR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("monitor.check_interval_seconds", 120)
	v.SetDefault("monitor.browser_multiplier", 3)
	v.SetDefault("monitor.http_concurrency", 3)
	v.SetDefault("monitor.browser_concurrency", 1)
	v.SetDefault("monitor.data_dir", "data")
	v.SetDefault("http.timeout_seconds", 10)
	v.SetDefault("http.max_retries", 3)
	v.SetDefault("http.retry_delay_seconds", 3)
	v.SetDefault("http.user_agent",
		"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36")
	v.SetDefault("browser.nav_timeout_seconds", 12)
	v.SetDefault("browser.dom_timeout_seconds", 9)
	v.SetDefault("browser.settle_ms", 1200)
	v.SetDefault("browser.max_init_failures", 5)
	v.SetDefault("notify.send_timeout_seconds", 8)
	v.SetDefault("server.enabled", true)
	v.SetDefault("server.port", 8080)
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Monitor.CheckIntervalSeconds <= 0 {
		return fmt.Errorf("monitor.check_interval_seconds must be > 0")
	}
	if c.Monitor.BrowserMultiplier <= 0 {
		return fmt.Errorf("monitor.browser_multiplier must be > 0")
	}
	if c.Monitor.HTTPConcurrency <= 0 || c.Monitor.BrowserConcurrency <= 0 {
		return fmt.Errorf("monitor concurrency limits must be > 0")
	}
	if c.Monitor.DataDir == "" {
		return fmt.Errorf("monitor.data_dir must be set")
	}
	if c.HTTP.TimeoutSeconds <= 0 {
		return fmt.Errorf("http.timeout_seconds must be > 0")
	}
	if c.HTTP.MaxRetries <= 0 {
		return fmt.Errorf("http.max_retries must be > 0")
	}
	if c.Server.Enabled && c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0 when the ops server is enabled")
	}
	return nil
}

// CheckInterval returns the fast-cohort period as a duration.
func (c Config) CheckInterval() time.Duration {
	return time.Duration(c.Monitor.CheckIntervalSeconds) * time.Second
}

// HTTPTimeout returns the per-request HTTP timeout.
func (c Config) HTTPTimeout() time.Duration {
	return time.Duration(c.HTTP.TimeoutSeconds) * time.Second
}

// RetryDelay returns the fixed inter-retry delay.
func (c Config) RetryDelay() time.Duration {
	return time.Duration(c.HTTP.RetryDelaySeconds) * time.Second
}

// NavTimeout returns the browser navigation timeout.
func (c Config) NavTimeout() time.Duration {
	return time.Duration(c.Browser.NavTimeoutSeconds) * time.Second
}

// DOMTimeout returns the fallback DOM wait timeout.
func (c Config) DOMTimeout() time.Duration {
	return time.Duration(c.Browser.DOMTimeoutSeconds) * time.Second
}

// Settle returns the post-navigation settle delay.
func (c Config) Settle() time.Duration {
	return time.Duration(c.Browser.SettleMs) * time.Millisecond
}

// SendTimeout returns the per-channel notification send timeout.
func (c Config) SendTimeout() time.Duration {
	return time.Duration(c.Notify.SendTimeoutSeconds) * time.Second
}
