package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/troika-tech/creditsync/internal/api"
	"github.com/troika-tech/creditsync/internal/backoff"
	"github.com/troika-tech/creditsync/internal/balance"
	"github.com/troika-tech/creditsync/internal/config"
	"github.com/troika-tech/creditsync/internal/connection"
	"github.com/troika-tech/creditsync/internal/database"
	"github.com/troika-tech/creditsync/internal/poller"
	"github.com/troika-tech/creditsync/internal/version"
	"github.com/troika-tech/creditsync/internal/writer"
)

func main() {
	configPath := flag.String("config", "configs/creditwatch.local.yaml", "path to config file")
	flag.Parse()

	// Load configuration
	cfg, err := config.LoadAndValidate(*configPath)
	if err != nil {
		slog.Error("failed to load config", "error", err, "config", *configPath)
		os.Exit(1)
	}

	logger := newLogger(cfg.Log, os.Stdout)
	slog.SetDefault(logger)

	logger.Info("starting creditwatch",
		"version", version.Version,
		"commit", version.Commit,
		"config", *configPath,
	)

	if err := run(cfg, logger); err != nil {
		logger.Error("creditwatch failed", "error", err)
		os.Exit(1)
	}
	logger.Info("creditwatch stopped")
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	apiClient := api.NewClient(
		cfg.API.RestURL,
		cfg.API.Token,
		api.WithLogger(logger),
		api.WithTimeout(cfg.API.Timeout),
		api.WithRetries(cfg.API.MaxRetries, time.Second),
	)

	tracker := balance.NewTracker(
		balance.Config{
			ReconcileMinInterval: cfg.Balance.ReconcileMinInterval,
			QueueLength:          cfg.Balance.QueueLength,
		},
		balance.WithLogger(logger),
		balance.WithSource(apiClient),
	)

	components := map[string]statsFunc{
		"balance": trackerStats(tracker),
	}

	// Optional ledger, subscribed before the tracker starts publishing
	if cfg.Ledger.Enabled {
		logger.Info("connecting to ledger database",
			"host", cfg.Ledger.Database.Host,
			"port", cfg.Ledger.Database.Port,
			"database", cfg.Ledger.Database.Name,
		)
		pool, err := database.Connect(ctx, cfg.Ledger.Database)
		if err != nil {
			return fmt.Errorf("connect ledger: %w", err)
		}
		defer pool.Close()

		if err := database.EnsureSchema(ctx, pool); err != nil {
			return err
		}

		listener := tracker.Subscribe()
		ledger := writer.NewCreditWriter(
			writer.WriterConfig{
				BatchSize:     cfg.Ledger.BatchSize,
				FlushInterval: cfg.Ledger.FlushInterval,
			},
			cfg.Subscription.SubscriberID,
			listener.C,
			pool,
			logger.With("component", "ledger"),
		)
		if err := ledger.Start(ctx); err != nil {
			return fmt.Errorf("start ledger: %w", err)
		}
		components["ledger"] = ledgerStats(ledger)
		defer func() {
			stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			ledger.Stop(stopCtx)
		}()
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return tracker.Run(ctx) })

	sub := connection.NewManager(
		connectionConfig(cfg),
		cfg.Subscription.SubscriberID,
		tracker.Apply,
		connection.WithLogger(logger),
		connection.WithStateObserver(func(old, new connection.Status) {
			logger.Info("credit stream status",
				"indicator", new.Indicator(),
				"state", new.State,
				"error", new.Error,
			)
			tracker.HandleStatus(old, new)
		}),
	)
	sub.Connect()
	components["stream"] = managerStats(sub)
	if cfg.Subscription.SubscriberID == "" {
		logger.Warn("subscription.subscriber_id is empty, live updates are disabled")
	}

	fallback := poller.New(
		poller.Config{
			Interval: cfg.Balance.PollInterval,
			Timeout:  cfg.Balance.PollTimeout,
		},
		tracker,
		sub.Connected,
		logger.With("component", "poller"),
	)
	if err := fallback.Start(ctx); err != nil {
		return fmt.Errorf("start poller: %w", err)
	}
	components["poller"] = pollerStats(fallback)

	healthServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Health.Port),
		Handler:           newHealthHandler(sub, tracker, components),
		ReadHeaderTimeout: 5 * time.Second,
	}
	g.Go(func() error {
		logger.Info("starting health server", "port", cfg.Health.Port)
		if err := healthServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("health server: %w", err)
		}
		return nil
	})

	logger.Info("creditwatch running",
		"subscriber_id", cfg.Subscription.SubscriberID,
		"health_url", fmt.Sprintf("http://localhost:%d/health", cfg.Health.Port),
	)

	// Wait for shutdown
	<-ctx.Done()
	logger.Info("shutting down...")

	sub.Disconnect()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	fallback.Stop(shutdownCtx)
	healthServer.Shutdown(shutdownCtx)

	return g.Wait()
}

// connectionConfig maps the file config onto the stream settings.
func connectionConfig(cfg *config.Config) connection.ManagerConfig {
	mc := connection.DefaultManagerConfig()
	mc.WSBase = cfg.API.WSURL
	mc.Token = cfg.API.Token
	mc.HeartbeatInterval = cfg.Heartbeat.Interval
	mc.PongTimeout = cfg.Heartbeat.PongTimeout
	mc.Backoff = backoff.Scheduler{
		Base:        cfg.Reconnect.BaseDelay,
		Max:         cfg.Reconnect.MaxDelay,
		MaxAttempts: cfg.Reconnect.MaxAttempts,
	}
	return mc
}
