// Package routing resolves where an event goes and which causal chain it belongs to
package routing

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/Guizzs26/siglus-sync/internal/domain"
	"github.com/google/uuid"
)

// EventCommonService is the routing helper shared by every emitter
type EventCommonService struct {
	supervision domain.SupervisionRepository
	extensions  domain.RequisitionExtensionRepository
}

func NewEventCommonService(supervision domain.SupervisionRepository, extensions domain.RequisitionExtensionRepository) *EventCommonService {
	return &EventCommonService{supervision: supervision, extensions: extensions}
}

// GetReceiverID returns the facility supervising facilityID for programID
func (s *EventCommonService) GetReceiverID(ctx context.Context, facilityID, programID uuid.UUID) (uuid.UUID, error) {
	ids, err := s.supervision.FindSupervisingFacilityIDs(ctx, facilityID, programID)
	if err != nil {
		return uuid.Nil, fmt.Errorf("find supervising facility of %s: %w", facilityID, err)
	}
	ids = slices.DeleteFunc(ids, func(id uuid.UUID) bool { return id == uuid.Nil })
	if len(ids) == 0 {
		return uuid.Nil, fmt.Errorf("%w: no parent facility found for facility %s program %s", domain.ErrIllegalState, facilityID, programID)
	}
	slices.SortFunc(ids, func(a, b uuid.UUID) int { return bytes.Compare(a[:], b[:]) })
	return ids[0], nil
}

// GetGroupID returns the stable key ordering every event of one requisition's lifecycle
func (s *EventCommonService) GetGroupID(ctx context.Context, requisitionID uuid.UUID) (string, error) {
	ext, err := s.extensions.FindByRequisitionID(ctx, requisitionID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return "", fmt.Errorf("%w: requisition %s has no extension", domain.ErrIllegalState, requisitionID)
		}
		return "", fmt.Errorf("find extension of requisition %s: %w", requisitionID, err)
	}
	return ext.RealRequisitionNumber(), nil
}
