package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/Guizzs26/siglus-sync/internal/cache"
	"github.com/Guizzs26/siglus-sync/internal/cdc"
	"github.com/Guizzs26/siglus-sync/internal/config"
	"github.com/Guizzs26/siglus-sync/internal/db"
	"github.com/Guizzs26/siglus-sync/internal/publisher"
	"github.com/Guizzs26/siglus-sync/internal/service"
	"github.com/Guizzs26/siglus-sync/pkg/infra"
)

func main() {
	cfg := config.Load()
	logger := infra.SetupLogger(cfg)
	slog.SetDefault(logger)
	defer infra.CloseLogger()

	logger.Info("Initializing master-data CDC collector", "facility_id", cfg.FacilityID)

	// Cancelled on SIGINT (Ctrl+C) or SIGTERM (docker stop)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	postgres, err := db.NewPostgresRepository(ctx, cfg.DatabaseURL, logger)
	if err != nil {
		logger.Error("FATAL: Failed to connect to Postgres", "error", err)
		os.Exit(1)
	}
	defer postgres.Close()

	snapshots := snapshotCache(ctx, cfg, logger)

	events := publisher.NewEventPublisher(postgres, postgres, postgres, cfg.FacilityID, logger)
	emitter := cdc.NewMasterDataEventEmitter(events, snapshots, logger)
	logger.Info("Capturing master-data tables", "count", len(emitter.AcceptedTables()))

	go infra.StartObservabilityServer(ctx, cfg.MetricsPort, "COLLECTOR", nil, logger)

	collector := service.NewCollectorService(postgres, emitter, cfg.BatchSize, logger)

	// Blocks until ctx is canceled
	collector.Run(ctx, cfg.PollInterval)

	logger.Info("Collector service shut down successfully")
}

// snapshotCache uses Redis when REDIS_URL is set and the process memory otherwise
func snapshotCache(ctx context.Context, cfg *config.Config, logger *slog.Logger) cache.SnapshotCache {
	if cfg.RedisURL == "" {
		logger.Warn("REDIS_URL not set, master-data snapshots are cached in memory")
		return cache.NewMemorySnapshotCache()
	}
	client, err := cache.NewRedisClient(ctx, cfg.RedisURL)
	if err != nil {
		logger.Error("FATAL: Failed to connect to Redis", "error", err)
		os.Exit(1)
	}
	context.AfterFunc(ctx, func() { _ = client.Close() })
	return cache.NewRedisSnapshotCache(client)
}
