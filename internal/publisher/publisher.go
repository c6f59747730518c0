// Package publisher persists domain events to the outbox and signals their delivery
package publisher

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/Guizzs26/siglus-sync/internal/codec"
	"github.com/Guizzs26/siglus-sync/internal/domain"
	"github.com/Guizzs26/siglus-sync/internal/event"
	"github.com/Guizzs26/siglus-sync/internal/models"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

// OutboxStore is the durable local outbox
type OutboxStore interface {
	// NextGroupSequence reserves the next sequence number of groupID towards receiverID, starting
	// at 1 for every receiver
	NextGroupSequence(ctx context.Context, groupID string, receiverID uuid.UUID) (int64, error)
	Append(ctx context.Context, entry *models.OutboxEntry) error
}

// DeliveryNotifier wakes the relay once the emitting transaction commits
type DeliveryNotifier interface {
	NotifyOutbox(ctx context.Context, eventID uuid.UUID) error
}

type groupEmission struct {
	GroupID    string         `validate:"required,max=255"`
	ReceiverID uuid.UUID      `validate:"required"`
	Type       event.Type     `validate:"required"`
	Category   event.Category `validate:"required"`
}

type broadcastEmission struct {
	Type     event.Type     `validate:"required"`
	Category event.Category `validate:"required"`
}

// EventPublisher is the single entry point emitters use
type EventPublisher struct {
	store            OutboxStore
	tx               domain.TxManager
	notifier         DeliveryNotifier
	senderFacilityID uuid.UUID
	validate         *validator.Validate
	logger           *slog.Logger
	now              func() time.Time
}

func NewEventPublisher(store OutboxStore, tx domain.TxManager, notifier DeliveryNotifier, senderFacilityID uuid.UUID, logger *slog.Logger) *EventPublisher {
	return &EventPublisher{
		store:            store,
		tx:               tx,
		notifier:         notifier,
		senderFacilityID: senderFacilityID,
		validate:         validator.New(validator.WithRequiredStructEnabled()),
		logger:           logger,
		now:              func() time.Time { return time.Now().UTC() },
	}
}

// EmitGroupEvent appends a causally ordered event addressed to one facility
func (p *EventPublisher) EmitGroupEvent(ctx context.Context, groupID string, receiverFacilityID uuid.UUID, payload event.Payload, category event.Category) (event.Event, error) {
	req := groupEmission{GroupID: groupID, ReceiverID: receiverFacilityID, Type: payload.EventType(), Category: category}
	if err := p.validate.Struct(req); err != nil {
		return event.Event{}, fmt.Errorf("%w: emit %s: %v", domain.ErrIllegalState, payload.EventType(), err)
	}
	if err := p.validate.Struct(payload); err != nil {
		return event.Event{}, fmt.Errorf("%w: emit %s: %v", domain.ErrIllegalState, payload.EventType(), err)
	}
	return p.emit(ctx, groupID, receiverFacilityID, payload, category)
}

// EmitMasterDataEvent appends an ungrouped event broadcast to every facility
func (p *EventPublisher) EmitMasterDataEvent(ctx context.Context, payload event.Payload, category event.Category) (event.Event, error) {
	if err := p.validate.Struct(broadcastEmission{Type: payload.EventType(), Category: category}); err != nil {
		return event.Event{}, fmt.Errorf("%w: emit %s: %v", domain.ErrIllegalState, payload.EventType(), err)
	}
	return p.emit(ctx, "", uuid.Nil, payload, category)
}

func (p *EventPublisher) emit(ctx context.Context, groupID string, receiver uuid.UUID, payload event.Payload, category event.Category) (event.Event, error) {
	body, err := codec.Marshal(payload)
	if err != nil {
		return event.Event{}, fmt.Errorf("serialize %s: %w", payload.EventType(), err)
	}

	evt := event.Event{
		ID:                 uuid.New(),
		Type:               payload.EventType(),
		Category:           category,
		GroupID:            groupID,
		SenderFacilityID:   p.senderFacilityID,
		ReceiverFacilityID: receiver,
		EmittedAt:          p.now(),
		Payload:            body,
	}

	err = p.tx.WithinTx(ctx, func(ctx context.Context) error {
		if groupID != "" {
			seq, err := p.store.NextGroupSequence(ctx, groupID, receiver)
			if err != nil {
				return fmt.Errorf("reserve sequence of group %s for %s: %w", groupID, receiver, err)
			}
			evt.GroupSequence = seq
		}

		envelope, err := codec.EncodeEvent(evt)
		if err != nil {
			return err
		}

		entry := &models.OutboxEntry{
			EventID:            evt.ID,
			GroupID:            evt.GroupID,
			GroupSequence:      evt.GroupSequence,
			ReceiverFacilityID: evt.ReceiverFacilityID,
			EventType:          string(evt.Type),
			Category:           string(evt.Category),
			Payload:            envelope,
			Status:             models.StatusPending,
			CreatedAt:          evt.EmittedAt,
		}
		if err := p.store.Append(ctx, entry); err != nil {
			return fmt.Errorf("append event %s to outbox: %w", evt.ID, err)
		}

		if p.notifier != nil {
			if err := p.notifier.NotifyOutbox(ctx, evt.ID); err != nil {
				return fmt.Errorf("notify outbox: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return event.Event{}, err
	}

	p.logger.Debug("Event stored in outbox",
		"event_id", evt.ID,
		"type", evt.Type,
		"group_id", evt.GroupID,
		"group_sequence", evt.GroupSequence,
		"receiver", evt.ReceiverFacilityID,
	)
	return evt, nil
}
