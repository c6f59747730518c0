package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/Guizzs26/siglus-sync/internal/cdc"
	"github.com/Guizzs26/siglus-sync/internal/models"
)

// CollectorRepository reads and trims the trigger-filled change log
type CollectorRepository interface {
	FetchChangeLog(ctx context.Context, limit int) ([]models.ChangeLogRecord, error)
	DeleteChangeLog(ctx context.Context, ids []int64) error
}

// RowChangeHandler is the master-data emitter fed by the collector
type RowChangeHandler interface {
	On(ctx context.Context, records []cdc.RowChange) error
}

// CollectorService drains the change log into master-data events, oldest first
type CollectorService struct {
	repo      CollectorRepository
	handler   RowChangeHandler
	batchSize int
	logger    *slog.Logger
}

func NewCollectorService(repo CollectorRepository, handler RowChangeHandler, batchSize int, logger *slog.Logger) *CollectorService {
	return &CollectorService{
		repo:      repo,
		handler:   handler,
		batchSize: batchSize,
		logger:    logger,
	}
}

// Run polls the change log until ctx is canceled
func (s *CollectorService) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.logger.Info("CDC collector started", "interval", interval, "batch_size", s.batchSize)

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("CDC collector shutting down")
			return
		case <-ticker.C:
			for {
				n, err := s.ProcessBatch(ctx)
				if err != nil {
					s.logger.Error("Collector batch cycle failed", "error", err)
					break
				}
				// keep draining while the log is backed up
				if n < s.batchSize || ctx.Err() != nil {
					break
				}
			}
		}
	}
}

// ProcessBatch hands one batch to the emitter and deletes it once emitted. A failure leaves the
// whole batch in place so the next cycle retries it in the same order
func (s *CollectorService) ProcessBatch(ctx context.Context) (int, error) {
	records, err := s.repo.FetchChangeLog(ctx, s.batchSize)
	if err != nil {
		return 0, fmt.Errorf("failed to fetch change log: %w", err)
	}
	if len(records) == 0 {
		return 0, nil
	}

	changes := make([]cdc.RowChange, 0, len(records))
	ids := make([]int64, 0, len(records))
	for _, rec := range records {
		ids = append(ids, rec.ID)
		change, err := toRowChange(rec)
		if err != nil {
			// an unreadable image can never be emitted; skip it rather than block the log
			s.logger.Error("Dropping undecodable change log record", "id", rec.ID, "table", rec.TableName, "error", err)
			continue
		}
		changes = append(changes, change)
	}

	if len(changes) > 0 {
		if err := s.handler.On(ctx, changes); err != nil {
			return 0, fmt.Errorf("emit %d row changes: %w", len(changes), err)
		}
	}

	if err := s.repo.DeleteChangeLog(ctx, ids); err != nil {
		// the batch is emitted again next cycle and the sinker upserts are idempotent
		return 0, fmt.Errorf("failed to delete consumed change log rows: %w", err)
	}

	s.logger.Debug("Change log batch emitted", "count", len(records), "emitted", len(changes))
	return len(records), nil
}

func toRowChange(rec models.ChangeLogRecord) (cdc.RowChange, error) {
	newData, err := decodeImage(rec.NewData)
	if err != nil {
		return cdc.RowChange{}, fmt.Errorf("new image: %w", err)
	}
	oldData, err := decodeImage(rec.OldData)
	if err != nil {
		return cdc.RowChange{}, fmt.Errorf("old image: %w", err)
	}
	return cdc.RowChange{
		SchemaName: rec.SchemaName,
		TableName:  rec.TableName,
		Operation:  rec.Operation,
		NewData:    newData,
		OldData:    oldData,
	}, nil
}

func decodeImage(raw json.RawMessage) (map[string]any, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var image map[string]any
	if err := dec.Decode(&image); err != nil {
		return nil, err
	}
	return image, nil
}
