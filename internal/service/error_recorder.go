package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/Guizzs26/siglus-sync/internal/event"
	"github.com/Guizzs26/siglus-sync/internal/models"
	"github.com/Guizzs26/siglus-sync/pkg/metrics"
	"github.com/google/uuid"
)

// ErrorRecordStore persists error records on its own connection, never in the caller's transaction
type ErrorRecordStore interface {
	SaveErrorRecord(ctx context.Context, rec *models.ErrorRecord) error
}

type messageKeyer interface {
	MessageKey() string
}

// ErrorRecorder turns a failed replay into an ErrorRecord with its ErrorPayload
type ErrorRecorder struct {
	store  ErrorRecordStore
	logger *slog.Logger
	now    func() time.Time
}

func NewErrorRecorder(store ErrorRecordStore, logger *slog.Logger) *ErrorRecorder {
	return &ErrorRecorder{store: store, logger: logger, now: func() time.Time { return time.Now().UTC() }}
}

func (r *ErrorRecorder) Record(ctx context.Context, evt event.Event, errType models.ErrorType, cause error) error {
	rec := &models.ErrorRecord{
		ID:           uuid.New(),
		Type:         errType,
		OccurredTime: r.now(),
		EventID:      evt.ID,
		Payload:      NewErrorPayload(cause),
	}
	if err := r.store.SaveErrorRecord(ctx, rec); err != nil {
		return fmt.Errorf("save error record of event %s: %w", evt.ID, err)
	}
	metrics.ReplayErrors.WithLabelValues(string(errType)).Inc()
	r.logger.Warn("Error record stored",
		"event_id", evt.ID,
		"error_type", errType,
		"error_name", rec.Payload.ErrorName,
		"message_key", rec.Payload.MessageKey,
	)
	return nil
}

// NewErrorPayload describes err: its innermost type, the first message key found in the chain and
// every wrapped message, outermost first
func NewErrorPayload(err error) *models.ErrorPayload {
	p := &models.ErrorPayload{ID: uuid.New()}
	if err == nil {
		return p
	}
	p.DetailMessage = err.Error()

	var keyed messageKeyer
	if errors.As(err, &keyed) {
		p.MessageKey = keyed.MessageKey()
	}

	var chain []string
	root := err
	for e := err; e != nil; e = errors.Unwrap(e) {
		chain = append(chain, fmt.Sprintf("%T: %s", e, e.Error()))
		root = e
	}
	p.ErrorName = fmt.Sprintf("%T", root)
	p.RootStackTrace = strings.Join(chain, "\n")
	return p
}
