package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/Guizzs26/siglus-sync/internal/codec"
	"github.com/google/uuid"
)

type FeedbackRepository interface {
	MarkAsErrorByEventID(ctx context.Context, eventID uuid.UUID, errLog string) error
}

// FeedbackService closes the loop on events a receiver gave up on
type FeedbackService struct {
	repo   FeedbackRepository
	logger *slog.Logger
}

func NewFeedbackService(r FeedbackRepository, l *slog.Logger) *FeedbackService {
	return &FeedbackService{repo: r, logger: l}
}

// HandleDeadLetter flags the outbox row of a dead-lettered event envelope as error
func (s *FeedbackService) HandleDeadLetter(ctx context.Context, body []byte, reason string) error {
	evt, err := codec.DecodeEvent(body)
	if err != nil {
		if evt.ID == uuid.Nil {
			s.logger.Error("Feedback: failed to decode dead letter", "error", err)
			return err
		}
		// the receiver rejected it for this very reason; the id is enough to flag the row
		s.logger.Warn("Feedback: dead letter is malformed, flagging by id", "event_id", evt.ID, "error", err)
	}

	s.logger.Warn("Feedback: caught dead letter, updating outbox",
		"event_id", evt.ID,
		"type", evt.Type,
		"receiver", evt.ReceiverFacilityID,
		"reason", reason,
	)

	if reason == "" {
		reason = "rejected by receiver"
	}
	if err := s.repo.MarkAsErrorByEventID(ctx, evt.ID, "dead letter: "+reason); err != nil {
		s.logger.Error("Feedback: failed to update outbox", "event_id", evt.ID, "error", err)
		return fmt.Errorf("mark event %s as error: %w", evt.ID, err)
	}
	return nil
}
