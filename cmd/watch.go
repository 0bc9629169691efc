package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/mzalewski/stockwatch/internal/api"
	"github.com/mzalewski/stockwatch/internal/browser"
	"github.com/mzalewski/stockwatch/internal/clock/system"
	"github.com/mzalewski/stockwatch/internal/config"
	"github.com/mzalewski/stockwatch/internal/diff"
	"github.com/mzalewski/stockwatch/internal/extract"
	"github.com/mzalewski/stockwatch/internal/fetch"
	"github.com/mzalewski/stockwatch/internal/logging"
	"github.com/mzalewski/stockwatch/internal/metrics"
	"github.com/mzalewski/stockwatch/internal/monitor"
	"github.com/mzalewski/stockwatch/internal/notify"
	"github.com/mzalewski/stockwatch/internal/scheduler"
	"github.com/mzalewski/stockwatch/internal/store"
)

func newWatchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Starts the monitoring loop",
		Long: `Loads the product catalog and store profiles, then checks every product
on its cohort's cadence until the process receives a termination signal.`,
		RunE: runWatchCommand,
	}
}

func runWatchCommand(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	metrics.Init()

	st, err := store.New(cfg.Monitor.DataDir, logger)
	if err != nil {
		return fmt.Errorf("init entity store: %w", err)
	}

	catalog := scheduler.NewCatalog(st, logger)
	if err := catalog.Reload(); err != nil {
		return fmt.Errorf("load catalog: %w", err)
	}
	products := catalog.Products()
	if len(products) == 0 {
		return fmt.Errorf("product catalog is empty; nothing to monitor")
	}
	logger.Info("catalog loaded", zap.Int("products", len(products)))

	states, err := st.LoadState()
	if err != nil {
		return fmt.Errorf("load monitor state: %w", err)
	}

	clk := system.New()
	engine := diff.New(states, products, st, clk, logger)

	notifier := notify.New(
		notify.Channels(notify.ChannelConfig{
			WebhookURL:       cfg.Notify.WebhookURL,
			TelegramToken:    cfg.Notify.TelegramToken,
			TelegramChatID:   cfg.Notify.TelegramChatID,
			TwilioAccountSID: cfg.Notify.TwilioAccountSID,
			TwilioAuthToken:  cfg.Notify.TwilioAuthToken,
			TwilioFrom:       cfg.Notify.TwilioFrom,
			TwilioTo:         cfg.Notify.TwilioTo,
		}, logger),
		cfg.SendTimeout(),
		logger,
	)
	notifier.OnSent(func(kind monitor.EventKind, channel string) {
		metrics.NotificationSent(string(kind), channel)
	})

	pool := browser.New(browser.Config{
		UserAgent:       cfg.HTTP.UserAgent,
		MaxInitFailures: cfg.Browser.MaxInitFailures,
	}, clk, logger)
	pool.OnInitFailure(metrics.BrowserInitFailure)

	retryPolicy := monitor.NewFixedRetryPolicy(cfg.HTTP.MaxRetries, cfg.RetryDelay())
	httpFetcher := fetch.NewRetrying(
		fetch.NewHTTP(fetch.HTTPConfig{UserAgent: cfg.HTTP.UserAgent, Timeout: cfg.HTTPTimeout()}, logger),
		retryPolicy, logger,
	)
	browserFetcher := fetch.NewRetrying(
		fetch.NewBrowser(pool, fetch.BrowserConfig{
			NavTimeout: cfg.NavTimeout(),
			DOMTimeout: cfg.DOMTimeout(),
			Settle:     cfg.Settle(),
		}, logger),
		retryPolicy, logger,
	)

	sched := scheduler.New(
		scheduler.Config{
			Interval:           cfg.CheckInterval(),
			BrowserEvery:       cfg.Monitor.BrowserMultiplier,
			HTTPConcurrency:    cfg.Monitor.HTTPConcurrency,
			BrowserConcurrency: cfg.Monitor.BrowserConcurrency,
		},
		catalog, httpFetcher, browserFetcher,
		extract.New(extract.DefaultPhrases()),
		engine, st, notifier, clk, logger,
	)

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var opsServer *api.Server
	if cfg.Server.Enabled {
		opsServer = api.New(cfg.Server.Port, engine, logger)
		go func() {
			if err := opsServer.Start(); err != nil {
				logger.Error("ops server failed", zap.Error(err))
			}
		}()
	}

	runErr := sched.Run(ctx)

	// Ordered teardown: drain notifications, release browser sessions,
	// stop the ops server.
	notifier.Close()
	pool.Close()
	if opsServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := opsServer.Shutdown(shutdownCtx); err != nil {
			logger.Warn("ops server shutdown failed", zap.Error(err))
		}
	}

	if runErr != nil {
		return fmt.Errorf("run monitor: %w", runErr)
	}
	logger.Info("monitor stopped cleanly")
	return nil
}
