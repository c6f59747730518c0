package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Guizzs26/siglus-sync/internal/agent"
	"github.com/Guizzs26/siglus-sync/internal/broker"
	"github.com/Guizzs26/siglus-sync/internal/config"
	"github.com/Guizzs26/siglus-sync/internal/db"
	"github.com/Guizzs26/siglus-sync/internal/domain"
	"github.com/Guizzs26/siglus-sync/internal/mapper"
	"github.com/Guizzs26/siglus-sync/internal/notification"
	"github.com/Guizzs26/siglus-sync/internal/processor"
	"github.com/Guizzs26/siglus-sync/internal/replay"
	"github.com/Guizzs26/siglus-sync/internal/service"
	"github.com/Guizzs26/siglus-sync/pkg/infra"
	"github.com/google/uuid"
)

func main() {
	cfg := config.Load()
	logger := infra.SetupLogger(cfg)
	slog.SetDefault(logger)
	defer infra.CloseLogger()

	if cfg.FacilityID == uuid.Nil {
		logger.Error("CRITICAL: FACILITY_ID environment variable is missing")
		os.Exit(1)
	}
	domain.SetCurrencyUnit(cfg.CurrencyCode)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("Consumer initializing", "facility_id", cfg.FacilityID, "machine_id", cfg.MachineID, "sink_driver", cfg.SinkDriver)

	postgres, err := db.NewPostgresRepository(ctx, cfg.DatabaseURL, logger)
	if err != nil {
		logger.Error("CRITICAL: Postgres connection failed", "error", err)
		os.Exit(1)
	}
	defer postgres.Close()

	sinkDB, err := db.OpenSinkDB(ctx, cfg.SinkDriver, cfg.SinkDatabaseURL, logger)
	if err != nil {
		logger.Error("CRITICAL: sink database connection failed", "error", err)
		os.Exit(1)
	}
	defer sinkDB.Close()

	dialect, err := mapper.DialectFor(cfg.SinkDriver)
	if err != nil {
		logger.Error("CRITICAL: unsupported sink driver", "driver", cfg.SinkDriver, "error", err)
		os.Exit(1)
	}
	builder := mapper.NewSQLBuilder(dialect)
	reader := processor.NewLocalReader(sinkDB, builder)

	// a sink on the node database writes inside the replay transaction; any other sink commits on
	// its own and relies on idempotent upserts when a replay is redelivered
	var sinker replay.TableSinker = processor.NewJdbcSinker(sinkDB, builder, logger)
	if cfg.SinkDriver == config.SinkDriverPostgres && cfg.SinkDatabaseURL == cfg.DatabaseURL {
		sinker = processor.NewTxSinker(postgres, builder, logger)
	}

	dispatcher, rights, err := buildDispatcher(ctx, cfg, postgres, sinker, reader, logger)
	if err != nil {
		logger.Error("CRITICAL: replayer registry is inconsistent", "error", err)
		os.Exit(1)
	}
	defer rights.Wait()

	verifier := agent.NewService(postgres, cfg.TokenTTL, logger)

	go infra.StartObservabilityServer(ctx, cfg.MetricsPort, "CONSUMER", nil, logger)

	connBackoff := infra.NewBackoff(1*time.Second, 60*time.Second, 2.0)
	for ctx.Err() == nil {
		consumer, err := broker.NewRabbitMQConsumer(cfg.RabbitMQURL, cfg.FacilityID, dispatcher, verifier, cfg.MaxReplayAttempts, logger)
		if err != nil {
			wait := connBackoff.Next()
			logger.Error("RabbitMQ connection failed, retrying", "wait_duration", wait, "error", err)
			select {
			case <-ctx.Done():
			case <-time.After(wait):
			}
			continue
		}

		connBackoff.Reset()
		logger.Info("Connected to broker, listening for events")
		if err := consumer.Listen(ctx); err != nil {
			logger.Error("Consumer connection lost", "error", err)
		}
		consumer.Close()
	}
	logger.Info("Consumer shut down")
}

func buildDispatcher(ctx context.Context, cfg *config.Config, postgres *db.PostgresRepository, sinker replay.TableSinker, reader replay.LocalColumnReader, logger *slog.Logger) (*replay.Dispatcher, *service.RightAssignmentService, error) {
	notifier := notification.NewService(postgres, logger)
	rights := service.NewRightAssignmentService(ctx, postgres, logger)

	store := replay.Requisitions{
		Requisitions: postgres.Requisitions(),
		Extensions:   postgres.Extensions(),
		Usages:       postgres.Usages(),
	}

	registry, err := replay.NewRegistry(
		replay.NewRequisitionInternalApproveReplayer(store, notifier, logger),
		replay.NewRequisitionReleaseReplayer(store, notifier, logger),
		replay.NewRequisitionRejectReplayer(store, notifier, logger),
		replay.NewAndroidRequisitionSyncedReplayer(store, notifier, logger),
		replay.NewProofOfDeliveryConfirmedReplayer(postgres.ProofsOfDelivery(), notifier, logger),
		replay.NewMasterDataEventReplayer(sinker, reader, postgres, postgres, rights, cfg.FacilityID, logger),
	)
	if err != nil {
		return nil, nil, err
	}
	logger.Info("Replayers registered", "types", registry.Types())

	recorder := service.NewErrorRecorder(postgres, logger)
	return replay.NewDispatcher(registry, postgres, postgres, recorder, logger), rights, nil
}
