package event

import (
	"time"

	"github.com/Guizzs26/siglus-sync/internal/domain"
	"github.com/google/uuid"
)

// RequisitionInternalApprovedEvent carries everything the supervising node needs to rebuild an
// internally approved requisition without reading the emitter's mutable state
type RequisitionInternalApprovedEvent struct {
	RequisitionNumber string                                      `json:"requisitionNumber" validate:"required"`
	UserID            uuid.UUID                                   `json:"userId"`
	Requisition       domain.Requisition                          `json:"requisition"`
	Extension         domain.RequisitionExtension                 `json:"requisitionExtension"`
	UsageLineItems    map[domain.UsageKind][]domain.UsageLineItem `json:"usageLineItems"`
}

func (RequisitionInternalApprovedEvent) EventType() Type { return TypeRequisitionInternalApproved }

type RequisitionReleasedEvent struct {
	RequisitionNumber   string    `json:"requisitionNumber" validate:"required"`
	UserID              uuid.UUID `json:"userId"`
	SupplyingFacilityID uuid.UUID `json:"supplyingFacilityId"`
	ReleasedAt          time.Time `json:"releasedAt"`
}

func (RequisitionReleasedEvent) EventType() Type { return TypeRequisitionReleased }

type RequisitionRejectEvent struct {
	RequisitionNumber string    `json:"requisitionNumber" validate:"required"`
	UserID            uuid.UUID `json:"userId"`
	RejectedAt        time.Time `json:"rejectedAt"`
}

func (RequisitionRejectEvent) EventType() Type { return TypeRequisitionRejected }

type ProofOfDeliveryConfirmedEvent struct {
	PodID             uuid.UUID            `json:"podId"`
	RequisitionNumber string               `json:"requisitionNumber"`
	UserID            uuid.UUID            `json:"userId"`
	ReceivedBy        string               `json:"receivedBy"`
	DeliveredBy       string               `json:"deliveredBy"`
	ReceivedDate      time.Time            `json:"receivedDate"`
	LineItems         []domain.PodLineItem `json:"lineItems"`
}

func (ProofOfDeliveryConfirmedEvent) EventType() Type { return TypeProofOfDeliveryConfirmed }

type AndroidRequisitionSyncedEvent struct {
	RequisitionNumber string                           `json:"requisitionNumber" validate:"required"`
	FacilityID        uuid.UUID                        `json:"facilityId"`
	UserID            uuid.UUID                        `json:"userId"`
	RequisitionID     uuid.UUID                        `json:"requisitionId"`
	Extension         domain.RequisitionExtension      `json:"requisitionExtension"`
	Request           domain.AndroidRequisitionRequest `json:"request"`
}

func (AndroidRequisitionSyncedEvent) EventType() Type { return TypeAndroidRequisitionSynced }
