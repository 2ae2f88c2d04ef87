// Package main provides the unified trading server:
// - Market core: bonding-curve pricing, share ledger, liquidity pool
// - Indexer (continuous): mirrors trades to PostgreSQL and ClickHouse
// - Feed: WebSocket stream of executed trades
// - HTTP API: trading, quotes, identity binding, admin operations
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"shares-market/internal/domain"
	"shares-market/internal/feed"
	"shares-market/internal/indexer"
	"shares-market/internal/market"
	"shares-market/internal/signature"
	"shares-market/internal/storage"
	chstore "shares-market/internal/storage/clickhouse"
	"shares-market/internal/storage/memory"
	"shares-market/internal/storage/migrations"
	pgstore "shares-market/internal/storage/postgres"
)

// allStores holds all storage implementations.
type allStores struct {
	holdings  storage.HoldingStore
	events    storage.TradeEventStore
	users     storage.UserMappingStore
	progress  storage.SyncProgressStore
	analytics storage.TradeAnalyticsStore
}

func main() {
	// Load .env file if exists
	loadEnvFile()

	// Parse flags (env vars as defaults)
	listenAddr := flag.String("listen-addr", envOr("LISTEN_ADDR", ":8080"), "HTTP listen address")
	postgresDSN := flag.String("postgres-dsn", os.Getenv("POSTGRES_DSN"), "PostgreSQL connection string")
	clickhouseDSN := flag.String("clickhouse-dsn", os.Getenv("CLICKHOUSE_DSN"), "ClickHouse connection string")
	useMemory := flag.Bool("use-memory", false, "Use in-memory storage instead of PostgreSQL/ClickHouse")
	feeDestination := flag.String("fee-destination", os.Getenv("FEE_DESTINATION"), "Address receiving protocol fee withdrawals")
	adminToken := flag.String("admin-token", os.Getenv("ADMIN_TOKEN"), "Bearer token for admin endpoints")
	runMigrations := flag.Bool("migrate", true, "Run database migrations on startup")
	flushInterval := flag.Duration("flush-interval", 5*time.Second, "Analytics batch flush interval")
	batchSize := flag.Int("batch-size", 100, "Analytics batch size")

	flag.Parse()

	// Setup logger
	logger := log.New(os.Stdout, "[server] ", log.LstdFlags|log.Lshortfile)

	// Validate required flags
	if *feeDestination == "" {
		logger.Fatal("--fee-destination is required")
	}
	feeDest, err := domain.ParseAddress(*feeDestination)
	if err != nil {
		logger.Fatalf("Invalid --fee-destination: %v", err)
	}
	if !*useMemory && (*postgresDSN == "" || *clickhouseDSN == "") {
		logger.Fatal("--postgres-dsn and --clickhouse-dsn are required (use --use-memory for in-memory storage)")
	}
	if *adminToken == "" {
		logger.Println("No --admin-token set, admin endpoints are disabled")
	}

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Create stores
	stores, cleanup, err := createStores(ctx, *postgresDSN, *clickhouseDSN, *useMemory, *runMigrations)
	if err != nil {
		logger.Fatalf("Failed to create stores: %v", err)
	}
	defer cleanup()

	// Create indexer
	ix := indexer.New(indexer.Options{
		Holdings:  stores.holdings,
		Events:    stores.events,
		Progress:  stores.progress,
		Analytics: stores.analytics,
		BatchSize: *batchSize,
		Logger:    log.New(os.Stdout, "[indexer] ", log.LstdFlags),
	})
	if err := ix.Start(ctx); err != nil {
		logger.Fatalf("Failed to start indexer: %v", err)
	}
	runner := indexer.NewRunner(ix, indexer.RunnerOptions{
		FlushInterval: *flushInterval,
		Logger:        log.New(os.Stdout, "[indexer] ", log.LstdFlags),
	})

	// Create feed hub
	hub := feed.NewHub(nil, log.New(os.Stdout, "[feed] ", log.LstdFlags))

	// Create market. Payouts are logged; fund delivery belongs to the
	// hosting environment, not this process.
	mkt, authority := market.New(market.Options{
		FeeDestination: feeDest,
		Trades: market.MultiSink{
			market.TradeSinkFunc(runner.Enqueue),
			market.TradeSinkFunc(hub.Broadcast),
		},
		Payouts: market.PayoutSinkFunc(func(to domain.Address, amount uint64) {
			logger.Printf("Payout %d to %s", amount, to)
		}),
	})

	// Create signature verifier
	verifier := signature.NewVerifier(signature.Options{
		Users:  stores.users,
		Logger: log.New(os.Stdout, "[signature] ", log.LstdFlags),
	})

	server := NewServer(ServerOptions{
		Market:     mkt,
		Authority:  authority,
		Verifier:   verifier,
		Hub:        hub,
		Stores:     stores,
		AdminToken: *adminToken,
		Logger:     logger,
	})

	httpServer := &http.Server{
		Addr:         *listenAddr,
		Handler:      server.Routes(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	// Channel to signal completion
	done := make(chan struct{})

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		logger.Printf("Received signal %v, initiating graceful shutdown...", sig)

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer shutdownCancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Printf("HTTP shutdown: %v", err)
		}
		hub.Close()
		cancel()

		// Wait for second signal for immediate shutdown
		select {
		case sig := <-sigCh:
			logger.Printf("Received second signal %v, forcing immediate shutdown", sig)
			os.Exit(1)
		case <-time.After(30 * time.Second):
			logger.Println("Graceful shutdown timed out after 30s, forcing exit")
			os.Exit(1)
		case <-done:
			// Normal shutdown completed
		}
	}()

	// Start indexer runner in background
	runnerDone := make(chan error, 1)
	go func() {
		runnerDone <- runner.Run(ctx)
	}()

	logger.Printf("Listening on %s", *listenAddr)
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatalf("HTTP server error: %v", err)
	}

	// Wait for the indexer to drain before exiting
	if err := <-runnerDone; err != nil && err != context.Canceled {
		logger.Printf("Indexer runner error: %v", err)
	}
	close(done)

	logger.Println("Shutdown complete")
}

// createStores creates all required stores, running migrations when
// asked to.
func createStores(ctx context.Context, postgresDSN, clickhouseDSN string, useMemory, migrate bool) (*allStores, func(), error) {
	if useMemory {
		stores := &allStores{
			holdings:  memory.NewHoldingStore(),
			events:    memory.NewTradeEventStore(),
			users:     memory.NewUserMappingStore(),
			progress:  memory.NewSyncProgressStore(),
			analytics: memory.NewTradeAnalyticsStore(),
		}
		return stores, func() {}, nil
	}

	// PostgreSQL
	pool, err := pgstore.NewPool(ctx, postgresDSN)
	if err != nil {
		return nil, nil, fmt.Errorf("connect to postgres: %w", err)
	}

	// ClickHouse
	chConn, err := chstore.NewConn(ctx, clickhouseDSN)
	if err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("connect to clickhouse: %w", err)
	}

	if migrate {
		if err := migrations.RunPostgresMigrations(ctx, pool); err != nil {
			chConn.Close()
			pool.Close()
			return nil, nil, fmt.Errorf("postgres migrations: %w", err)
		}
		if err := migrations.RunClickhouseMigrations(ctx, chConn); err != nil {
			chConn.Close()
			pool.Close()
			return nil, nil, fmt.Errorf("clickhouse migrations: %w", err)
		}
	}

	stores := &allStores{
		// PostgreSQL stores (ledger mirror + identities)
		holdings: pgstore.NewHoldingStore(pool),
		events:   pgstore.NewTradeEventStore(pool),
		users:    pgstore.NewUserMappingStore(pool),
		progress: pgstore.NewSyncProgressStore(pool),

		// ClickHouse store (analytics)
		analytics: chstore.NewTradeAnalyticsStore(chConn),
	}

	cleanup := func() {
		chConn.Close()
		pool.Close()
	}

	return stores, cleanup, nil
}

// envOr returns the environment variable value or a fallback.
func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// loadEnvFile loads environment variables from .env file if it exists.
func loadEnvFile() {
	data, err := os.ReadFile(".env")
	if err != nil {
		return // File doesn't exist, use system env vars
	}

	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}

		key := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])

		// Don't override existing env vars
		if os.Getenv(key) == "" {
			os.Setenv(key, value)
		}
	}
}
