package replay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Guizzs26/siglus-sync/internal/codec"
	"github.com/Guizzs26/siglus-sync/internal/domain"
	"github.com/Guizzs26/siglus-sync/internal/event"
	"github.com/Guizzs26/siglus-sync/internal/models"
	"github.com/Guizzs26/siglus-sync/pkg/metrics"
	"github.com/google/uuid"
)

var (
	ErrUnknownEventType = errors.New("no replayer registered for event type")
	ErrOutOfOrder       = errors.New("event arrived before its predecessor in group")
	ErrSink             = errors.New("master data sink failed")
)

// State is the lifecycle of one event at the receiver
type State string

const (
	StateReceived  State = "RECEIVED"
	StateApplying  State = "APPLYING"
	StateCommitted State = "COMMITTED"
	StateFailed    State = "FAILED"
)

// ReceivedEventStore tracks what this node already applied. Calls join the transaction in ctx.
// Group sequences are counted per sender: a sender numbers each group separately for every receiver
type ReceivedEventStore interface {
	IsProcessed(ctx context.Context, eventID uuid.UUID) (bool, error)
	MarkAsProcessed(ctx context.Context, evt event.Event) error
	LastGroupSequence(ctx context.Context, groupID string, senderID uuid.UUID) (int64, error)
	AdvanceGroupSequence(ctx context.Context, groupID string, senderID uuid.UUID, seq int64) error
}

// ErrorRecorder durably stores a replay failure, independently of the failed transaction
type ErrorRecorder interface {
	Record(ctx context.Context, evt event.Event, errType models.ErrorType, cause error) error
}

type Dispatcher struct {
	registry *Registry
	tx       domain.TxManager
	received ReceivedEventStore
	errors   ErrorRecorder
	logger   *slog.Logger
}

func NewDispatcher(registry *Registry, tx domain.TxManager, received ReceivedEventStore, recorder ErrorRecorder, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{registry: registry, tx: tx, received: received, errors: recorder, logger: logger}
}

// ReplayRaw decodes a delivered envelope and replays it
func (d *Dispatcher) ReplayRaw(ctx context.Context, body []byte) error {
	evt, err := codec.DecodeEvent(body)
	if err != nil {
		d.logger.Error("Dropping undecodable event", "event_id", evt.ID, "error", err)
		d.record(ctx, evt, models.ErrorTypeDeserialize, err)
		return err
	}
	return d.Replay(ctx, evt)
}

// Replay applies evt in one transaction. On failure the error is recorded and returned so the
// caller can redeliver; on success the replayer's after-commit hooks run best-effort
func (d *Dispatcher) Replay(ctx context.Context, evt event.Event) (err error) {
	start := time.Now()
	l := d.logger.With(
		"event_id", evt.ID,
		"type", evt.Type,
		"group_id", evt.GroupID,
		"group_sequence", evt.GroupSequence,
	)
	state := StateReceived
	outcome := "committed"
	defer func() {
		metrics.ReplayDuration.WithLabelValues(outcome, string(evt.Type)).Observe(time.Since(start).Seconds())
	}()

	replayer, ok := d.registry.Lookup(evt.Type)
	if !ok {
		outcome = "failed"
		err = fmt.Errorf("%w: %s", ErrUnknownEventType, evt.Type)
		l.Error("Replay failed", "state", StateFailed, "error", err)
		d.record(ctx, evt, models.ErrorTypeUnknownEvent, err)
		return err
	}

	rc := NewReplayContext(evt)
	duplicate := false
	state = StateApplying
	l.Debug("Replaying event", "state", state)

	err = d.tx.WithinTx(ctx, func(ctx context.Context) error {
		processed, err := d.received.IsProcessed(ctx, evt.ID)
		if err != nil {
			return fmt.Errorf("idempotency check failed: %w", err)
		}
		if processed {
			duplicate = true
			return nil
		}

		if evt.IsGrouped() {
			last, err := d.received.LastGroupSequence(ctx, evt.GroupID, evt.SenderFacilityID)
			if err != nil {
				return fmt.Errorf("read group sequence: %w", err)
			}
			switch {
			case evt.GroupSequence <= last:
				duplicate = true
				return nil
			case evt.GroupSequence > last+1:
				return fmt.Errorf("%w: group %s from %s expects %d, got %d", ErrOutOfOrder, evt.GroupID, evt.SenderFacilityID, last+1, evt.GroupSequence)
			}
		}

		if err := replayer.Replay(ctx, rc); err != nil {
			return err
		}

		if evt.IsGrouped() {
			if err := d.received.AdvanceGroupSequence(ctx, evt.GroupID, evt.SenderFacilityID, evt.GroupSequence); err != nil {
				return fmt.Errorf("advance group sequence: %w", err)
			}
		}
		if err := d.received.MarkAsProcessed(ctx, evt); err != nil {
			return fmt.Errorf("mark event processed: %w", err)
		}
		return nil
	})
	if err != nil {
		state = StateFailed
		outcome = "failed"
		l.Error("Replay failed", "state", state, "error", err)
		d.record(ctx, evt, classify(err), err)
		return err
	}

	state = StateCommitted
	if duplicate {
		outcome = "skipped"
		l.Info("Event already applied, skipping", "state", state)
		return nil
	}
	l.Info("Event replayed", "state", state, "duration_ms", time.Since(start).Milliseconds())

	for _, h := range rc.hooks {
		if herr := runHook(ctx, h); herr != nil {
			metrics.NotificationFailures.Inc()
			l.Warn("After-commit side effect failed", "hook", h.name, "error", herr)
		}
	}
	return nil
}

// runHook turns a panicking side effect into an error; the replay already committed
func runHook(ctx context.Context, h hook) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("hook %s panicked: %v", h.name, r)
		}
	}()
	return h.fn(ctx)
}

func (d *Dispatcher) record(ctx context.Context, evt event.Event, errType models.ErrorType, cause error) {
	// The event's own transaction is gone; the record must outlive a cancelled delivery too
	if rerr := d.errors.Record(context.WithoutCancel(ctx), evt, errType, cause); rerr != nil {
		d.logger.Error("CRITICAL: failed to persist error record", "event_id", evt.ID, "error", rerr, "cause", cause)
	}
}

func classify(err error) models.ErrorType {
	switch {
	case errors.Is(err, ErrOutOfOrder):
		return models.ErrorTypeOutOfOrder
	case errors.Is(err, ErrUnknownEventType):
		return models.ErrorTypeUnknownEvent
	case errors.Is(err, codec.ErrMalformedEvent):
		return models.ErrorTypeDeserialize
	case errors.Is(err, ErrSink):
		return models.ErrorTypeSink
	default:
		return models.ErrorTypeReplay
	}
}

// IsPermanent reports failures that redelivery cannot fix
func IsPermanent(err error) bool {
	return errors.Is(err, ErrUnknownEventType) || errors.Is(err, codec.ErrMalformedEvent)
}
