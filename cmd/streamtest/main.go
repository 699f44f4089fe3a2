// streamtest connects to the credit stream and prints every update and
// status change to the console.
// Usage: go run ./cmd/streamtest --config configs/creditwatch.local.yaml
//
// With -history N it first prints the N most recent ledger transactions, so
// the live updates can be compared against what the server has recorded.
//
// The subscriber id and token come from the config file, usually through
// ${CREDITSYNC_SUBSCRIBER_ID} and ${CREDITSYNC_TOKEN}.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/troika-tech/creditsync/internal/api"
	"github.com/troika-tech/creditsync/internal/backoff"
	"github.com/troika-tech/creditsync/internal/config"
	"github.com/troika-tech/creditsync/internal/connection"
	"github.com/troika-tech/creditsync/internal/router"
)

func main() {
	configPath := flag.String("config", "configs/creditwatch.example.yaml", "path to config file")
	subscriberID := flag.String("subscriber", "", "override subscription.subscriber_id")
	verbose := flag.Bool("verbose", false, "print full event JSON")
	history := flag.Int("history", 0, "print the N most recent transactions before streaming")
	flag.Parse()

	// Setup logger
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))

	// Load config
	cfg, err := config.LoadWithDefaults(*configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	if *subscriberID != "" {
		cfg.Subscription.SubscriberID = *subscriberID
	}
	if cfg.Subscription.SubscriberID == "" {
		logger.Error("subscriber id required", "hint", "set subscription.subscriber_id or pass -subscriber")
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if *history > 0 {
		client := api.NewClient(cfg.API.RestURL, cfg.API.Token,
			api.WithLogger(logger),
			api.WithTimeout(cfg.API.Timeout),
		)
		if err := printHistory(ctx, os.Stdout, client, *history); err != nil {
			logger.Warn("failed to fetch transaction history", "error", err)
		}
	}

	connCfg := connection.DefaultManagerConfig()
	connCfg.WSBase = cfg.API.WSURL
	connCfg.Token = cfg.API.Token
	connCfg.HeartbeatInterval = cfg.Heartbeat.Interval
	connCfg.PongTimeout = cfg.Heartbeat.PongTimeout
	connCfg.Backoff = backoff.Scheduler{
		Base:        cfg.Reconnect.BaseDelay,
		Max:         cfg.Reconnect.MaxDelay,
		MaxAttempts: cfg.Reconnect.MaxAttempts,
	}

	sub := connection.Subscribe(connCfg, cfg.Subscription.SubscriberID,
		func(e router.CreditUpdateEvent) { printEvent(e, *verbose) },
		connection.WithLogger(logger),
		connection.WithStateObserver(func(old, new connection.Status) {
			fmt.Printf("[STATUS] %s -> %s indicator=%s attempt=%d error=%q\n",
				old.State, new.State, new.Indicator(), new.Attempt, new.Error)
		}),
	)

	logger.Info("streaming started - press Ctrl+C to stop",
		"subscriber_id", cfg.Subscription.SubscriberID,
		"ws_url", cfg.API.WSURL,
	)

	<-ctx.Done()

	logger.Info("shutting down...")
	sub.Disconnect()
	logger.Info("shutdown complete")
}

func printEvent(e router.CreditUpdateEvent, verbose bool) {
	if verbose {
		data, _ := json.MarshalIndent(e, "", "  ")
		fmt.Printf("[CREDIT] %s\n", data)
		return
	}
	fmt.Printf("[CREDIT] type=%s amount=%v new_balance=%v\n", e.Type, e.Amount, e.NewBalance)
}

func printHistory(ctx context.Context, w io.Writer, client *api.Client, n int) error {
	page, err := client.GetTransactions(ctx, api.TransactionQuery{Limit: n})
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "[HISTORY] showing %d of %d transactions\n", len(page.Transactions), page.Total)
	for _, tx := range page.Transactions {
		fmt.Fprintf(w, "[HISTORY] %s type=%s amount=%v balance=%v reason=%q\n",
			tx.CreatedAt.Format(time.RFC3339), tx.Type, tx.Amount, tx.Balance, tx.Reason)
	}
	return nil
}
