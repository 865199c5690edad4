// Command dcaink runs the DCA execution engine: an HTTP service whose cron
// trigger matches due on-chain DCA sessions, routes swaps through the Relay
// aggregator and submits runDCA transactions, persisting attempt telemetry
// to Postgres.
//
// Usage:
//
//	dcaink --config config.yaml
//
// Required environment variables:
//
//	OPERATOR_PRIVATE_KEY  hex key of the transaction-submitting account
//	DATABASE_URL          Postgres connection string
//	CRON_SCHEDULE_SECRET  shared secret expected in the cron trigger header
package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/dcaonink/dcaink/config"
	"github.com/dcaonink/dcaink/internal/clients"
	"github.com/dcaonink/dcaink/internal/server"
	"github.com/dcaonink/dcaink/internal/services/executor"
	"github.com/dcaonink/dcaink/internal/services/matcher"
	"github.com/dcaonink/dcaink/internal/services/routing"
	"github.com/dcaonink/dcaink/internal/storage"
)

func main() {
	// best-effort: production sets real env vars
	_ = godotenv.Load()

	cfg, err := config.Get()
	if err != nil {
		log.Fatal(err)
	}

	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatal(err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := storage.New(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Fatal("failed to connect to postgres", zap.Error(err))
	}
	defer store.Close()

	if err := store.EnsureSchema(ctx); err != nil {
		logger.Fatal("failed to ensure schema", zap.Error(err))
	}

	eth, err := clients.NewEthClient(ctx, cfg.RPCURL, cfg.ContractAddress, cfg.OperatorKey, logger)
	if err != nil {
		logger.Fatal("failed to create eth client", zap.Error(err))
	}
	defer eth.Close()

	router := routing.NewRelayRouter(cfg.RelayAPIURL, cfg.RelayChainID, nil, logger)
	stream := server.NewBroadcaster(logger)

	exec := executor.New(
		common.HexToAddress(cfg.ContractAddress),
		eth,
		eth,
		router,
		store.Attempts(),
		store.Stats(),
		logger,
		executor.WithRetryDelay(cfg.RetryDelay),
		executor.WithMaxRetries(cfg.MaxRetries),
		executor.WithPublisher(stream),
	)

	match := matcher.New(eth, nil, logger)

	srv := server.New(
		cfg.ListenAddr,
		cfg.CronSecret,
		match,
		exec,
		store.Attempts(),
		store.Stats(),
		store.Users(),
		store.PurchaseCache(),
		stream,
		logger,
	)

	logger.Info("starting dca engine",
		zap.String("contract", cfg.ContractAddress),
		zap.String("listen_addr", cfg.ListenAddr))

	if err := srv.Start(ctx); err != nil {
		logger.Fatal("http server failed", zap.Error(err))
	}
}
