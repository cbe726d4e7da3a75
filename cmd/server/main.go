package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"bridge-backend/internal/chain"
	"bridge-backend/internal/clients"
	"bridge-backend/internal/config"
	"bridge-backend/internal/db"
	"bridge-backend/internal/handlers"
	"bridge-backend/internal/repository"
	"bridge-backend/internal/router"
	"bridge-backend/internal/services"
	"bridge-backend/internal/signer"

	"github.com/sirupsen/logrus"
)

func main() {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{TimestampFormat: time.RFC3339})
	if level, err := logrus.ParseLevel(os.Getenv("LOG_LEVEL")); err == nil {
		logger.SetLevel(level)
	}

	cfg, err := config.Load(os.Getenv("CONFIG_PATH"))
	if err != nil {
		logger.WithError(err).Fatal("failed to load configuration")
	}

	database, err := db.Connect(cfg.Database.DSN, logger)
	if err != nil {
		logger.WithError(err).Fatal("failed to connect database")
	}

	var publisher clients.EventPublisher
	if cfg.NATS.URL != "" {
		natsClient, err := clients.NewNATSClient(cfg.NATS, logger)
		if err != nil {
			logger.WithError(err).Fatal("failed to connect NATS")
		}
		defer natsClient.Close()
		publisher = natsClient
	} else {
		logger.Warn("NATS URL not configured, audit events and alerts disabled")
	}

	opsSigner, err := signer.New(cfg.Signer, logger)
	if err != nil {
		logger.WithError(err).Fatal("failed to initialize operations signer")
	}

	registry, err := chain.NewRegistry(cfg.Chains, cfg.Signer.PrivateKey, logger)
	if err != nil {
		logger.WithError(err).Fatal("failed to initialize chain registry")
	}
	defer registry.Close()
	logger.WithField("chain_ids", registry.ChainIDs()).Info("chain registry ready")

	webhookEvents := repository.NewWebhookEventRepository(database)
	mintReceipts := repository.NewMintReceiptRepository(database)
	redeemRequests := repository.NewRedeemRequestRepository(database)
	rateWindows := repository.NewRateWindowRepository(database)
	reserveSnapshots := repository.NewReserveSnapshotRepository(database)

	pusher := services.NewStatusPushService(logger)
	guard := services.NewRateLimitService(rateWindows, logger)
	mintService := services.NewMintService(mintReceipts, guard, opsSigner, registry, publisher, pusher, cfg.Mint, logger)
	redeemService := services.NewRedeemService(redeemRequests, opsSigner, registry, clients.NewPayoutClient(cfg.Payout), publisher, pusher, cfg.Redeem, logger)
	webhookService := services.NewWebhookService(webhookEvents, mintService, cfg.Providers, publisher, logger)
	reserveService := services.NewReserveService(reserveSnapshots, mintReceipts, redeemRequests, clients.NewHTTPReserveAccountClient(), publisher, pusher, cfg.Reserve, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go reserveService.Run(ctx)
	go pruneRateWindows(ctx, guard, logger)

	engine := router.SetupRouter(cfg, router.Handlers{
		Webhook: handlers.NewWebhookHandler(webhookService, logger),
		Redeem:  handlers.NewRedeemHandler(redeemService, logger),
		Reserve: handlers.NewReserveHandler(reserveService, logger),
		Admin:   handlers.NewAdminHandler(mintService, logger),
	}, pusher, logger)

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	server := &http.Server{
		Addr:              addr,
		Handler:           engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.WithField("addr", addr).Info("server listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Fatal("server failed")
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("graceful shutdown failed")
	}
	logger.Info("server stopped")
}

// pruneRateWindows deletes stale rate windows hourly so the table does
// not grow unbounded.
func pruneRateWindows(ctx context.Context, guard *services.RateLimitService, logger *logrus.Logger) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			deleted, err := guard.PruneExpired(ctx, 48*time.Hour)
			if err != nil {
				logger.WithError(err).Warn("rate window prune failed")
				continue
			}
			if deleted > 0 {
				logger.WithField("deleted", deleted).Debug("rate windows pruned")
			}
		}
	}
}
