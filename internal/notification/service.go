// Package notification derives the to-do and update notifications users see from replayed events
package notification

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/Guizzs26/siglus-sync/internal/domain"
	"github.com/Guizzs26/siglus-sync/internal/models"
	"github.com/google/uuid"
)

type Store interface {
	// MarkProcessedByRefID closes every pending notification about refID
	MarkProcessedByRefID(ctx context.Context, refID uuid.UUID) error
	SaveNotification(ctx context.Context, n *models.Notification) error
}

type Service struct {
	store  Store
	logger *slog.Logger
	now    func() time.Time
}

func NewService(store Store, logger *slog.Logger) *Service {
	return &Service{store: store, logger: logger, now: func() time.Time { return time.Now().UTC() }}
}

// PostInternalApproval asks the supervising facility to approve the requisition
func (s *Service) PostInternalApproval(ctx context.Context, userID uuid.UUID, req *domain.Requisition, supervisingFacilityID uuid.UUID) error {
	return s.replace(ctx, userID, req, supervisingFacilityID, models.NotificationInApproval, models.NotificationTodo)
}

// PostReject asks the requesting facility to redo a rejected requisition
func (s *Service) PostReject(ctx context.Context, userID uuid.UUID, req *domain.Requisition) error {
	return s.replace(ctx, userID, req, req.FacilityID, models.NotificationRejected, models.NotificationTodo)
}

// PostRelease tells the requesting facility its requisition became an order
func (s *Service) PostRelease(ctx context.Context, userID uuid.UUID, req *domain.Requisition) error {
	return s.replace(ctx, userID, req, req.FacilityID, models.NotificationReleased, models.NotificationUpdate)
}

// PostAuthorize asks the facility to act on a requisition authorized from an android device
func (s *Service) PostAuthorize(ctx context.Context, userID uuid.UUID, req *domain.Requisition) error {
	return s.replace(ctx, userID, req, req.FacilityID, models.NotificationAuthorized, models.NotificationTodo)
}

// PostConfirmPod tells the supplying facility the delivery was received
func (s *Service) PostConfirmPod(ctx context.Context, userID uuid.UUID, pod *domain.ProofOfDelivery) error {
	if err := s.store.MarkProcessedByRefID(ctx, pod.ID); err != nil {
		return fmt.Errorf("close notifications of pod %s: %w", pod.ID, err)
	}
	return s.save(ctx, &models.Notification{
		RefID:                pod.ID,
		FacilityID:           pod.SupplyingFacilityID,
		ProgramID:            pod.ProgramID,
		ProcessingPeriodID:   pod.ProcessingPeriodID,
		RequestingFacilityID: pod.RequestingFacilityID,
		Status:               models.NotificationReceived,
		Type:                 models.NotificationUpdate,
		CreatedBy:            userID,
	})
}

func (s *Service) replace(ctx context.Context, userID uuid.UUID, req *domain.Requisition, notifyFacilityID uuid.UUID, status models.NotificationStatus, typ models.NotificationType) error {
	if err := s.store.MarkProcessedByRefID(ctx, req.ID); err != nil {
		return fmt.Errorf("close notifications of requisition %s: %w", req.ID, err)
	}
	return s.save(ctx, &models.Notification{
		RefID:                req.ID,
		FacilityID:           notifyFacilityID,
		ProgramID:            req.ProgramID,
		ProcessingPeriodID:   req.ProcessingPeriodID,
		RequestingFacilityID: req.FacilityID,
		Status:               status,
		Type:                 typ,
		Emergency:            req.Emergency,
		CreatedBy:            userID,
	})
}

func (s *Service) save(ctx context.Context, n *models.Notification) error {
	n.ID = uuid.New()
	n.CreatedAt = s.now()
	if err := s.store.SaveNotification(ctx, n); err != nil {
		return fmt.Errorf("save notification for %s: %w", n.RefID, err)
	}
	s.logger.Debug("Notification posted", "ref_id", n.RefID, "status", n.Status, "facility", n.FacilityID)
	return nil
}
