package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/Guizzs26/siglus-sync/internal/agent"
	"github.com/Guizzs26/siglus-sync/internal/broker"
	"github.com/Guizzs26/siglus-sync/internal/config"
	"github.com/Guizzs26/siglus-sync/internal/db"
	"github.com/Guizzs26/siglus-sync/internal/service"
	"github.com/Guizzs26/siglus-sync/pkg/infra"
)

const staleProcessingMinutes = 10

func main() {
	cfg := config.Load()
	logger := infra.SetupLogger(cfg)
	slog.SetDefault(logger)
	defer infra.CloseLogger()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	postgres, err := db.NewPostgresRepository(ctx, cfg.DatabaseURL, logger)
	if err != nil {
		slog.Error("Fatal error connecting to Postgres", "error", err)
		os.Exit(1)
	}
	defer postgres.Close()

	// local machines sign what they send, the online web does not
	var tokens broker.TokenIssuer
	if cfg.IsLocalMachine() {
		tokens = agent.NewService(postgres, cfg.TokenTTL, logger)
	}

	var brokerHealthy atomic.Bool
	go infra.StartObservabilityServer(ctx, cfg.MetricsPort, "RELAY", brokerHealthy.Load, logger)

	maintenanceDone := make(chan struct{})
	go runMaintenance(ctx, postgres, cfg, maintenanceDone)

	feedbackDone := make(chan struct{})
	go runFeedback(ctx, postgres, cfg, feedbackDone)

	slog.Info("Outbox relay started", "pid", os.Getpid(), "facility_id", cfg.FacilityID, "batch_size", cfg.BatchSize)

	runMainLoop(ctx, postgres, cfg, tokens, &brokerHealthy)

	<-maintenanceDone
	<-feedbackDone
	slog.Info("Shutdown complete")
}

func runMainLoop(ctx context.Context, repo *db.PostgresRepository, cfg *config.Config, tokens broker.TokenIssuer, healthy *atomic.Bool) {
	backoff := infra.NewBackoff(1*time.Second, 60*time.Second, 2.0)
	var rabbitmq *broker.RabbitMQClient
	var syncService *service.SyncService

	defer func() {
		if rabbitmq != nil {
			rabbitmq.Close()
		}
	}()

	for {
		if ctx.Err() != nil {
			slog.Info("Shutting down main loop")
			return
		}

		if rabbitmq == nil || !rabbitmq.IsHealthy() {
			healthy.Store(false)
			if rabbitmq != nil {
				rabbitmq.Close()
			}

			newRabbit, err := broker.NewRabbitMQClient(cfg.RabbitMQURL, cfg.FacilityID, cfg.MachineID, tokens, slog.Default())
			if err != nil {
				wait := backoff.Next()
				slog.Error("RabbitMQ link failure, retrying", "wait", wait, "error", err)
				if !sleep(ctx, wait) {
					return
				}
				continue
			}

			slog.Info("RabbitMQ link established")
			rabbitmq = newRabbit
			healthy.Store(true)
			backoff.Reset()
			syncService = service.NewSyncService(repo, rabbitmq, slog.Default())
		}

		if err := syncService.ProcessNextBatch(ctx, cfg.BatchSize); err != nil {
			wait := backoff.Next()
			slog.Error("Batch processing error", "retry_in", wait, "error", err)
			if !sleep(ctx, wait) {
				return
			}
			continue
		}
		backoff.Reset()

		// a NOTIFY from an emitting transaction cuts the poll interval short
		if _, err := repo.WaitForOutbox(ctx, cfg.PollInterval); err != nil && ctx.Err() == nil {
			slog.Warn("Outbox listener failed, falling back to polling", "error", err)
			if !sleep(ctx, cfg.PollInterval) {
				return
			}
		}
	}
}

func runMaintenance(ctx context.Context, repo *db.PostgresRepository, cfg *config.Config, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(cfg.MaintenanceInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			slog.Info("Janitor: starting outbox health checks")

			affected, err := repo.ResetStaleMessages(ctx, staleProcessingMinutes, cfg.MaxAttempts)
			if err != nil {
				slog.Error("Janitor: failed to reset stale events", "error", err)
			} else if affected > 0 {
				slog.Warn("Janitor: rescued stuck events", "count", affected)
			}

			if err := repo.MoveToDLQ(ctx, cfg.MaxAttempts); err != nil {
				slog.Error("Janitor: DLQ maintenance failure", "error", err)
			}

		case <-ctx.Done():
			slog.Info("Janitor: stopping maintenance goroutine")
			return
		}
	}
}

// runFeedback consumes the dead letters of events this node sent
func runFeedback(ctx context.Context, repo *db.PostgresRepository, cfg *config.Config, done chan struct{}) {
	defer close(done)
	feedback := service.NewFeedbackService(repo, slog.Default())
	backoff := infra.NewBackoff(1*time.Second, 60*time.Second, 2.0)

	for ctx.Err() == nil {
		consumer, err := broker.NewDeadLetterConsumer(cfg.RabbitMQURL, cfg.FacilityID, feedback, slog.Default())
		if err != nil {
			wait := backoff.Next()
			slog.Error("Dead letter consumer connection failed", "wait", wait, "error", err)
			sleep(ctx, wait)
			continue
		}
		backoff.Reset()
		if err := consumer.Listen(ctx); err != nil {
			slog.Error("Dead letter consumer connection lost", "error", err)
		}
		consumer.Close()
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	select {
	case <-time.After(d):
		return true
	case <-ctx.Done():
		return false
	}
}
