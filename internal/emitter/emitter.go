// Package emitter turns committed business transitions into outbound sync events. Each emitter
// reloads the aggregate so the event captures the state that was just written
package emitter

import (
	"context"
	"fmt"
	"time"

	"github.com/Guizzs26/siglus-sync/internal/domain"
	"github.com/Guizzs26/siglus-sync/internal/event"
	"github.com/google/uuid"
)

type Publisher interface {
	EmitGroupEvent(ctx context.Context, groupID string, receiverFacilityID uuid.UUID, payload event.Payload, category event.Category) (event.Event, error)
}

// Router resolves receivers and group ids
type Router interface {
	GetReceiverID(ctx context.Context, facilityID, programID uuid.UUID) (uuid.UUID, error)
	GetGroupID(ctx context.Context, requisitionID uuid.UUID) (string, error)
}

type base struct {
	publisher    Publisher
	router       Router
	requisitions domain.RequisitionRepository
	extensions   domain.RequisitionExtensionRepository
	now          func() time.Time
}

func newBase(publisher Publisher, router Router, requisitions domain.RequisitionRepository, extensions domain.RequisitionExtensionRepository) base {
	return base{
		publisher:    publisher,
		router:       router,
		requisitions: requisitions,
		extensions:   extensions,
		now:          func() time.Time { return time.Now().UTC() },
	}
}

func (b base) load(ctx context.Context, requisitionID uuid.UUID) (*domain.Requisition, *domain.RequisitionExtension, error) {
	req, err := b.requisitions.FindOne(ctx, requisitionID)
	if err != nil {
		return nil, nil, fmt.Errorf("load requisition %s: %w", requisitionID, err)
	}
	ext, err := b.extensions.FindByRequisitionID(ctx, requisitionID)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: requisition %s has no extension: %v", domain.ErrIllegalState, requisitionID, err)
	}
	return req, ext, nil
}

// statusTime returns when the requisition last entered status, or now
func (b base) statusTime(req *domain.Requisition, status domain.RequisitionStatus) time.Time {
	for i := len(req.StatusChanges) - 1; i >= 0; i-- {
		if req.StatusChanges[i].Status == status {
			return req.StatusChanges[i].CreatedDate
		}
	}
	return b.now()
}

type RequisitionInternalApproveEmitter struct {
	base
	usages []domain.UsageLineItemRepository
}

func NewRequisitionInternalApproveEmitter(publisher Publisher, router Router, requisitions domain.RequisitionRepository, extensions domain.RequisitionExtensionRepository, usages []domain.UsageLineItemRepository) *RequisitionInternalApproveEmitter {
	return &RequisitionInternalApproveEmitter{base: newBase(publisher, router, requisitions, extensions), usages: usages}
}

// Emit sends the internally approved requisition, with all its usage sections, to the facility
// supervising it
func (e *RequisitionInternalApproveEmitter) Emit(ctx context.Context, requisitionID, userID uuid.UUID) (event.Event, error) {
	req, ext, err := e.load(ctx, requisitionID)
	if err != nil {
		return event.Event{}, err
	}
	receiver, err := e.router.GetReceiverID(ctx, req.FacilityID, req.ProgramID)
	if err != nil {
		return event.Event{}, err
	}

	usages := make(map[domain.UsageKind][]domain.UsageLineItem, len(domain.UsageKinds))
	for _, kind := range domain.UsageKinds {
		usages[kind] = []domain.UsageLineItem{}
	}
	for _, repo := range e.usages {
		items, err := repo.FindByRequisitionID(ctx, requisitionID)
		if err != nil {
			return event.Event{}, fmt.Errorf("load %s usage of %s: %w", repo.Kind(), requisitionID, err)
		}
		if items != nil {
			usages[repo.Kind()] = items
		}
	}

	number := ext.RealRequisitionNumber()
	payload := event.RequisitionInternalApprovedEvent{
		RequisitionNumber: number,
		UserID:            userID,
		Requisition:       *req.Clone(),
		Extension:         *ext,
		UsageLineItems:    usages,
	}
	return e.publisher.EmitGroupEvent(ctx, number, receiver, payload, event.CategoryRequisition)
}

type RequisitionReleaseEmitter struct {
	base
}

func NewRequisitionReleaseEmitter(publisher Publisher, router Router, requisitions domain.RequisitionRepository, extensions domain.RequisitionExtensionRepository) *RequisitionReleaseEmitter {
	return &RequisitionReleaseEmitter{base: newBase(publisher, router, requisitions, extensions)}
}

// Emit tells the requesting facility its requisition was released to supplyingFacilityID
func (e *RequisitionReleaseEmitter) Emit(ctx context.Context, requisitionID, userID, supplyingFacilityID uuid.UUID) (event.Event, error) {
	req, ext, err := e.load(ctx, requisitionID)
	if err != nil {
		return event.Event{}, err
	}
	number := ext.RealRequisitionNumber()
	payload := event.RequisitionReleasedEvent{
		RequisitionNumber:   number,
		UserID:              userID,
		SupplyingFacilityID: supplyingFacilityID,
		ReleasedAt:          e.statusTime(req, domain.StatusReleased),
	}
	return e.publisher.EmitGroupEvent(ctx, number, req.FacilityID, payload, event.CategoryRequisition)
}

type RequisitionRejectEmitter struct {
	base
}

func NewRequisitionRejectEmitter(publisher Publisher, router Router, requisitions domain.RequisitionRepository, extensions domain.RequisitionExtensionRepository) *RequisitionRejectEmitter {
	return &RequisitionRejectEmitter{base: newBase(publisher, router, requisitions, extensions)}
}

// Emit sends the rejection back to the requesting facility
func (e *RequisitionRejectEmitter) Emit(ctx context.Context, requisitionID, userID uuid.UUID) (event.Event, error) {
	req, ext, err := e.load(ctx, requisitionID)
	if err != nil {
		return event.Event{}, err
	}
	number := ext.RealRequisitionNumber()
	payload := event.RequisitionRejectEvent{
		RequisitionNumber: number,
		UserID:            userID,
		RejectedAt:        e.statusTime(req, domain.StatusRejected),
	}
	return e.publisher.EmitGroupEvent(ctx, number, req.FacilityID, payload, event.CategoryRequisition)
}

type AndroidRequisitionSyncedEmitter struct {
	base
}

func NewAndroidRequisitionSyncedEmitter(publisher Publisher, router Router, requisitions domain.RequisitionRepository, extensions domain.RequisitionExtensionRepository) *AndroidRequisitionSyncedEmitter {
	return &AndroidRequisitionSyncedEmitter{base: newBase(publisher, router, requisitions, extensions)}
}

// Emit forwards a requisition submitted from an android device to the local machine of its facility
func (e *AndroidRequisitionSyncedEmitter) Emit(ctx context.Context, requisitionID, userID uuid.UUID, request domain.AndroidRequisitionRequest) (event.Event, error) {
	req, ext, err := e.load(ctx, requisitionID)
	if err != nil {
		return event.Event{}, err
	}
	number := ext.RealRequisitionNumber()
	payload := event.AndroidRequisitionSyncedEvent{
		RequisitionNumber: number,
		FacilityID:        req.FacilityID,
		UserID:            userID,
		RequisitionID:     req.ID,
		Extension:         *ext,
		Request:           request,
	}
	return e.publisher.EmitGroupEvent(ctx, number, req.FacilityID, payload, event.CategoryRequisition)
}

type ProofOfDeliveryConfirmedEmitter struct {
	publisher Publisher
	router    Router
	pods      domain.ProofOfDeliveryRepository
	now       func() time.Time
}

func NewProofOfDeliveryConfirmedEmitter(publisher Publisher, router Router, pods domain.ProofOfDeliveryRepository) *ProofOfDeliveryConfirmedEmitter {
	return &ProofOfDeliveryConfirmedEmitter{
		publisher: publisher,
		router:    router,
		pods:      pods,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Emit tells the supplying facility the delivery was confirmed. The group is the requisition the
// shipment fulfils
func (e *ProofOfDeliveryConfirmedEmitter) Emit(ctx context.Context, podID, userID uuid.UUID) (event.Event, error) {
	pod, err := e.pods.FindOne(ctx, podID)
	if err != nil {
		return event.Event{}, fmt.Errorf("load proof of delivery %s: %w", podID, err)
	}
	if pod.Status != domain.PodConfirmed {
		return event.Event{}, fmt.Errorf("%w: proof of delivery %s is %s", domain.ErrIllegalState, podID, pod.Status)
	}
	groupID, err := e.router.GetGroupID(ctx, pod.RequisitionID)
	if err != nil {
		return event.Event{}, err
	}

	received := e.now()
	if pod.ReceivedDate != nil {
		received = *pod.ReceivedDate
	}
	payload := event.ProofOfDeliveryConfirmedEvent{
		PodID:             pod.ID,
		RequisitionNumber: groupID,
		UserID:            userID,
		ReceivedBy:        pod.ReceivedBy,
		DeliveredBy:       pod.DeliveredBy,
		ReceivedDate:      received,
		LineItems:         pod.LineItems,
	}
	return e.publisher.EmitGroupEvent(ctx, groupID, pod.SupplyingFacilityID, payload, event.CategoryProofOfDelivery)
}
