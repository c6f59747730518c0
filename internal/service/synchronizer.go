package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/Guizzs26/siglus-sync/internal/models"
	"github.com/Guizzs26/siglus-sync/internal/routing"
	"github.com/Guizzs26/siglus-sync/pkg/metrics"
)

const MaxBatchMemoryThresholdMB = 20

// Repository is the relay side of the outbox
type Repository interface {
	FetchAndClaim(ctx context.Context, batchSize int) ([]models.OutboxEntry, error)
	MarkAsSent(ctx context.Context, id int64) error
	MarkAsError(ctx context.Context, id int64, errLog string) error
	MarkManyAsPending(ctx context.Context, ids []int64, note string, strategy models.RevertStrategy) error
}

// BrokerClient publishes one outbox entry and returns once the broker confirmed it
type BrokerClient interface {
	Publish(ctx context.Context, routingKey string, entry models.OutboxEntry) error
}

// SyncService relays committed outbox events to the broker in outbox order
type SyncService struct {
	repo   Repository
	broker BrokerClient
	logger *slog.Logger
}

func NewSyncService(r Repository, b BrokerClient, l *slog.Logger) *SyncService {
	return &SyncService{
		repo:   r,
		broker: b,
		logger: l,
	}
}

// ProcessNextBatch claims a batch and publishes it entry by entry. On shutdown or broker failure the
// unpublished rest of the batch goes back to pending so its order is kept for the next cycle
func (s *SyncService) ProcessNextBatch(ctx context.Context, batchSize int) error {
	start := time.Now()

	entries, err := s.repo.FetchAndClaim(ctx, batchSize)
	if err != nil {
		return fmt.Errorf("fetch failure: %w", err)
	}
	if len(entries) == 0 {
		return nil
	}

	metrics.BatchSize.Observe(float64(len(entries)))
	defer func() {
		metrics.BatchDuration.Observe(time.Since(start).Seconds())
		s.logger.Info("Batch cycle telemetry",
			"count", len(entries),
			"duration_ms", time.Since(start).Milliseconds(),
		)
	}()

	var batchBytes int
	for _, e := range entries {
		batchBytes += e.EstimateBytes()
	}
	if batchMB := batchBytes / (1024 * 1024); batchMB > MaxBatchMemoryThresholdMB {
		s.logger.Warn("Heavy batch detected: memory pressure risk",
			"size_mb", batchMB,
			"threshold_mb", MaxBatchMemoryThresholdMB,
			"count", len(entries),
		)
	}

	for i, e := range entries {
		select {
		case <-ctx.Done():
			s.logger.Warn("Shutdown signal received. Reverting remaining events.")
			s.revert(entries[i:], "graceful_shutdown", models.StrategyInfraFailure)
			return ctx.Err()
		default:
		}

		receiver, category := receiverLabel(e), strings.ToLower(e.Category)
		l := s.logger.With("event_id", e.EventID, "type", e.EventType, "group_id", e.GroupID)

		if reason := invalidEnvelope(e); reason != "" {
			l.Error("Refusing to relay malformed outbox entry", "reason", reason)
			if err := s.repo.MarkAsError(ctx, e.ID, reason); err != nil {
				l.Error("Failed to flag malformed outbox entry", "error", err)
			}
			metrics.MessagesProcessed.WithLabelValues(models.StatusError, receiver, category).Inc()
			continue
		}

		routingKey := routing.RoutingKey(e)
		if err := s.broker.Publish(ctx, routingKey, e); err != nil {
			l.Error("Broker publish failed, aborting batch", "routing_key", routingKey, "error", err)
			s.revert(entries[i:], "broker_offline", models.StrategyInfraFailure)
			metrics.MessagesProcessed.WithLabelValues(models.StatusError, receiver, category).Inc()
			return fmt.Errorf("broker failure: %w", err)
		}

		if err := s.repo.MarkAsSent(ctx, e.ID); err != nil {
			// the event is already on the broker; receivers drop the duplicate when it is relayed again
			l.Error("Event sent but failed to update status in DB", "error", err)
			s.revert(entries[i+1:], "db_checkpoint_failure", models.StrategyBusinessFailure)
			metrics.MessagesProcessed.WithLabelValues(models.StatusError, receiver, category).Inc()
			return fmt.Errorf("db checkpoint failure: %w", err)
		}

		metrics.MessagesProcessed.WithLabelValues(models.StatusSent, receiver, category).Inc()
	}

	return nil
}

func (s *SyncService) revert(rest []models.OutboxEntry, note string, strategy models.RevertStrategy) {
	if len(rest) == 0 {
		return
	}
	ids := make([]int64, 0, len(rest))
	for _, e := range rest {
		ids = append(ids, e.ID)
	}

	cleanupCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.repo.MarkManyAsPending(cleanupCtx, ids, note, strategy); err != nil {
		s.logger.Error("CRITICAL: Failed to revert claimed events", "note", note, "count", len(ids), "error", err)
	}
}

func invalidEnvelope(e models.OutboxEntry) string {
	switch {
	case len(e.Payload) == 0:
		return "empty_payload"
	case e.EventType == "":
		return "missing_event_type"
	case e.Category == "":
		return "missing_category"
	case e.GroupID != "" && e.GroupSequence < 1:
		return "missing_group_sequence"
	}
	return ""
}

func receiverLabel(e models.OutboxEntry) string {
	if e.IsBroadcast() {
		return "broadcast"
	}
	return e.ReceiverFacilityID.String()
}
