package domain

import (
	"slices"
	"time"

	"github.com/google/uuid"
)

type PodStatus string

const (
	PodInitiated PodStatus = "INITIATED"
	PodConfirmed PodStatus = "CONFIRMED"
)

type PodLineItem struct {
	ID               uuid.UUID  `json:"id"`
	OrderableID      uuid.UUID  `json:"orderableId"`
	LotID            *uuid.UUID `json:"lotId,omitempty"`
	QuantityAccepted int        `json:"quantityAccepted"`
	QuantityRejected int        `json:"quantityRejected"`
	RejectionReason  *uuid.UUID `json:"rejectionReasonId,omitempty"`
	Notes            string     `json:"notes,omitempty"`
}

// ProofOfDelivery is identified by the same ID on every node
type ProofOfDelivery struct {
	ID                   uuid.UUID     `json:"id"`
	ShipmentID           uuid.UUID     `json:"shipmentId"`
	RequisitionID        uuid.UUID     `json:"requisitionId"`
	OrderCode            string        `json:"orderCode"`
	SupplyingFacilityID  uuid.UUID     `json:"supplyingFacilityId"`
	RequestingFacilityID uuid.UUID     `json:"requestingFacilityId"`
	ProgramID            uuid.UUID     `json:"programId"`
	ProcessingPeriodID   uuid.UUID     `json:"processingPeriodId"`
	Status               PodStatus     `json:"status"`
	ReceivedBy           string        `json:"receivedBy,omitempty"`
	DeliveredBy          string        `json:"deliveredBy,omitempty"`
	ReceivedDate         *time.Time    `json:"receivedDate,omitempty"`
	LineItems            []PodLineItem `json:"lineItems"`
}

func (p *ProofOfDelivery) Clone() *ProofOfDelivery {
	c := *p
	c.LineItems = slices.Clone(p.LineItems)
	if p.ReceivedDate != nil {
		d := *p.ReceivedDate
		c.ReceivedDate = &d
	}
	return &c
}

// Confirm records the receipt. Confirming twice is a no-op and reports false
func (p *ProofOfDelivery) Confirm(receivedBy, deliveredBy string, receivedDate time.Time, lines []PodLineItem) (bool, error) {
	if p.Status == PodConfirmed {
		return false, nil
	}
	if p.Status != PodInitiated {
		return false, NewError(KeyPodInvalidStatus, "proof of delivery %s cannot be confirmed in status %s", p.ID, p.Status)
	}
	p.Status = PodConfirmed
	p.ReceivedBy = receivedBy
	p.DeliveredBy = deliveredBy
	d := receivedDate
	p.ReceivedDate = &d
	p.LineItems = slices.Clone(lines)
	return true, nil
}
