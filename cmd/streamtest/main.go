// streamtest connects to the market data socket (or, with --socket trading,
// the trading socket), subscribes to quotes and prints push traffic to the
// console. With a database configured, every push
// is also recorded to the push_events table.
//
// Usage: go run ./cmd/streamtest --config configs/streamtest.example.yaml
//
// Required environment variables (referenced from the example config):
//
//	TRADOVATE_MD_TOKEN - market data access token
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/sync/errgroup"

	"github.com/rickgao/tradovate-stream/internal/auth"
	"github.com/rickgao/tradovate-stream/internal/config"
	"github.com/rickgao/tradovate-stream/internal/connection"
	"github.com/rickgao/tradovate-stream/internal/database"
	"github.com/rickgao/tradovate-stream/internal/recorder"
	"github.com/rickgao/tradovate-stream/internal/version"
)

func main() {
	configPath := flag.String("config", "configs/streamtest.example.yaml", "path to config file")
	verbose := flag.Bool("verbose", false, "print full push JSON and debug logs")
	socket := flag.String("socket", config.SocketMarketData, "socket to stream from: md or trading")
	flag.Parse()

	// Setup logger
	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	}))

	logger.Info("streamtest starting", "version", version.String())

	// Load config
	cfg, err := config.LoadAndValidate(*configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	url, err := cfg.API.SocketURL(*socket)
	if err != nil {
		logger.Error("invalid socket", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("received shutdown signal")
		cancel()
	}()

	// Optional recorder
	var (
		pool *pgxpool.Pool
		rec  *recorder.Recorder
	)
	if cfg.Database.Enabled() {
		pool, err = database.Connect(ctx, cfg.Database)
		if err != nil {
			logger.Error("failed to connect database", "error", err)
			os.Exit(1)
		}
		defer pool.Close()

		if err := database.EnsureSchema(ctx, pool); err != nil {
			logger.Error("failed to apply schema", "error", err)
			os.Exit(1)
		}

		rec = recorder.New(recorder.Config{
			BatchSize:     cfg.Recorder.BatchSize,
			FlushInterval: cfg.Recorder.FlushInterval,
			BufferSize:    cfg.Recorder.BufferSize,
		}, pool, logger)
		if err := rec.Start(ctx); err != nil {
			logger.Error("failed to start recorder", "error", err)
			os.Exit(1)
		}
	}

	// Connect and authorize
	client := connection.NewClient(cfg.Connection.ClientConfig(), logger.With("component", *socket))
	if err := client.ConnectWith(ctx, url, authenticator(cfg.API)); err != nil {
		logger.Error("failed to connect", "url", url, "error", err)
		os.Exit(1)
	}

	// Every push reaches every listener, so print and record once.
	client.AddListener(printer(*verbose))
	if rec != nil {
		client.AddListener(rec.Listener(*socket))
	}

	// Subscribe to quotes concurrently
	var (
		subsMu sync.Mutex
		subs   []*connection.Subscription
	)
	g, gctx := errgroup.WithContext(ctx)
	for _, symbol := range cfg.Subscriptions.Quotes {
		g.Go(func() error {
			sub, err := client.Subscribe(gctx, cfg.Subscriptions.QuoteEndpoint,
				map[string]string{"symbol": symbol}, nil)
			if err != nil {
				return fmt.Errorf("subscribe %s: %w", symbol, err)
			}
			subsMu.Lock()
			subs = append(subs, sub)
			subsMu.Unlock()
			logger.Info("subscribed", "symbol", symbol, "token", sub.Token())
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		logger.Error("subscription failed", "error", err)
		client.Close()
		os.Exit(1)
	}

	// Stats printer
	go func() {
		ticker := time.NewTicker(10 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-client.Done():
				return
			case <-ticker.C:
				cs := client.Stats()
				attrs := []any{
					"state", cs.State,
					"pending", cs.Pending,
					"subscriptions", cs.Subscriptions,
					"listeners", cs.Listeners,
				}
				if rec != nil {
					rs := rec.Stats()
					attrs = append(attrs,
						"recorded", rs.Inserts,
						"dropped", rs.Dropped,
						"record_errors", rs.Errors,
					)
				}
				logger.Info("stats", attrs...)
			}
		}
	}()

	logger.Info("streaming started - press Ctrl+C to stop", "quotes", len(subs))

	// Wait for shutdown or connection loss
	select {
	case <-ctx.Done():
	case <-client.Done():
		logger.Error("connection lost", "error", client.Err())
	}

	// Graceful shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	logger.Info("shutting down...")
	for _, sub := range subs {
		if err := sub.Unsubscribe(shutdownCtx); err != nil {
			logger.Warn("unsubscribe failed", "endpoint", sub.UnsubscribeEndpoint(), "error", err)
		}
	}
	client.Close()
	if rec != nil {
		rec.Stop(shutdownCtx)
	}

	logger.Info("shutdown complete")
}

// authenticator prefers an inline token over a token file.
func authenticator(cfg config.APIConfig) auth.Authenticator {
	if cfg.Token != "" {
		return auth.NewStatic(cfg.Token, time.Time{})
	}
	return auth.NewFile(cfg.TokenFile, cfg.MarketData)
}

// printer returns a listener that prints every push.
func printer(verbose bool) connection.Listener {
	return func(p json.RawMessage) {
		if verbose {
			fmt.Printf("[PUSH] %s\n", p)
			return
		}
		fmt.Printf("[PUSH] %d bytes\n", len(p))
	}
}
