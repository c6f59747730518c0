package domain

import (
	"encoding/json"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"
)

type RequisitionStatus string

const (
	StatusInitiated  RequisitionStatus = "INITIATED"
	StatusSubmitted  RequisitionStatus = "SUBMITTED"
	StatusAuthorized RequisitionStatus = "AUTHORIZED"
	StatusInApproval RequisitionStatus = "IN_APPROVAL"
	StatusApproved   RequisitionStatus = "APPROVED"
	StatusReleased   RequisitionStatus = "RELEASED"
	StatusRejected   RequisitionStatus = "REJECTED"
	StatusSkipped    RequisitionStatus = "SKIPPED"
)

// IsTerminal reports statuses after which no approval transition applies
func (s RequisitionStatus) IsTerminal() bool {
	return s == StatusReleased || s == StatusSkipped
}

type StatusChange struct {
	Status            RequisitionStatus `json:"status"`
	AuthorID          uuid.UUID         `json:"authorId"`
	SupervisoryNodeID *uuid.UUID        `json:"supervisoryNodeId,omitempty"`
	CreatedDate       time.Time         `json:"createdDate"`
}

type RequisitionLineItem struct {
	ID                    uuid.UUID `json:"id"`
	OrderableID           uuid.UUID `json:"orderableId"`
	RequestedQuantity     int       `json:"requestedQuantity"`
	ApprovedQuantity      int       `json:"approvedQuantity"`
	StockOnHand           int       `json:"stockOnHand"`
	TotalConsumedQuantity int       `json:"totalConsumedQuantity"`
	PricePerPack          Money     `json:"pricePerPack"`
	TotalCost             Money     `json:"totalCost"`
	Skipped               bool      `json:"skipped"`
}

// Requisition is the aggregate replayed across nodes. Its ID is local to each node; the stable
// identity is the requisition number held by RequisitionExtension
type Requisition struct {
	ID                 uuid.UUID             `json:"id"`
	FacilityID         uuid.UUID             `json:"facilityId"`
	ProgramID          uuid.UUID             `json:"programId"`
	ProcessingPeriodID uuid.UUID             `json:"processingPeriodId"`
	TemplateID         uuid.UUID             `json:"templateId"`
	Emergency          bool                  `json:"emergency"`
	Status             RequisitionStatus     `json:"status"`
	SupervisoryNodeID  *uuid.UUID            `json:"supervisoryNodeId,omitempty"`
	DraftStatusMessage string                `json:"draftStatusMessage,omitempty"`
	StatusChanges      []StatusChange        `json:"statusChanges"`
	LineItems          []RequisitionLineItem `json:"lineItems"`
	CreatedDate        time.Time             `json:"createdDate"`
	ModifiedDate       time.Time             `json:"modifiedDate"`
}

// Clone returns a deep copy
func (r *Requisition) Clone() *Requisition {
	c := *r
	c.SupervisoryNodeID = cloneID(r.SupervisoryNodeID)
	c.StatusChanges = make([]StatusChange, len(r.StatusChanges))
	for i, sc := range r.StatusChanges {
		sc.SupervisoryNodeID = cloneID(sc.SupervisoryNodeID)
		c.StatusChanges[i] = sc
	}
	c.LineItems = slices.Clone(r.LineItems)
	if c.LineItems == nil {
		c.LineItems = []RequisitionLineItem{}
	}
	return &c
}

// Reject sends an approvable requisition back to its facility. Rejecting an already rejected
// requisition is a no-op and reports false
func (r *Requisition) Reject(userID uuid.UUID, at time.Time) (bool, error) {
	switch r.Status {
	case StatusRejected:
		return false, nil
	case StatusAuthorized, StatusInApproval:
	default:
		return false, NewError(KeyRequisitionInvalidStatus,
			"requisition %s cannot be rejected in status %s", r.ID, r.Status)
	}
	r.transition(StatusRejected, userID, at)
	r.DraftStatusMessage = ""
	return true, nil
}

// ResetSupervisoryNode detaches the requisition from its approval chain
func (r *Requisition) ResetSupervisoryNode() {
	r.SupervisoryNodeID = nil
}

// Release converts an approved requisition into an order
func (r *Requisition) Release(userID uuid.UUID, at time.Time) (bool, error) {
	switch r.Status {
	case StatusReleased:
		return false, nil
	case StatusApproved:
	default:
		return false, NewError(KeyRequisitionInvalidStatus,
			"requisition %s cannot be released in status %s", r.ID, r.Status)
	}
	r.transition(StatusReleased, userID, at)
	return true, nil
}

// ApplyInternalApproval copies the approved state of a remote snapshot onto r, keeping r's own ID
func (r *Requisition) ApplyInternalApproval(snapshot *Requisition) (bool, error) {
	if r.Status == snapshot.Status && r.ModifiedDate.Equal(snapshot.ModifiedDate) {
		return false, nil
	}
	if r.Status.IsTerminal() {
		return false, NewError(KeyRequisitionInvalidStatus,
			"requisition %s is already %s", r.ID, r.Status)
	}
	id := r.ID
	*r = *snapshot.Clone()
	r.ID = id
	return true, nil
}

func (r *Requisition) transition(status RequisitionStatus, userID uuid.UUID, at time.Time) {
	r.Status = status
	r.StatusChanges = append(r.StatusChanges, StatusChange{
		Status:            status,
		AuthorID:          userID,
		SupervisoryNodeID: cloneID(r.SupervisoryNodeID),
		CreatedDate:       at,
	})
	r.ModifiedDate = at
}

// LatestAuthor returns the author of the most recent status change with the given status
func (r *Requisition) LatestAuthor(status RequisitionStatus) (uuid.UUID, bool) {
	for i := len(r.StatusChanges) - 1; i >= 0; i-- {
		if r.StatusChanges[i].Status == status {
			return r.StatusChanges[i].AuthorID, true
		}
	}
	return uuid.Nil, false
}

// RequisitionExtension holds the SIGLUS requisition number, stable across nodes
type RequisitionExtension struct {
	ID                      uuid.UUID `json:"id"`
	RequisitionID           uuid.UUID `json:"requisitionId"`
	RequisitionNumberPrefix string    `json:"requisitionNumberPrefix"`
	RequisitionNumber       int       `json:"requisitionNumber"`
	IsApprovedByInternal    bool      `json:"isApprovedByInternal"`
	FacilityID              uuid.UUID `json:"facilityId"`
	CreatedByFacilityID     uuid.UUID `json:"createdByFacilityId"`
}

// RealRequisitionNumber is the formatted number shared by every node, e.g. RNR-NO01050119-001
func (e RequisitionExtension) RealRequisitionNumber() string {
	return fmt.Sprintf("%s%02d", e.RequisitionNumberPrefix, e.RequisitionNumber)
}

type UsageKind string

const (
	UsageAgeGroup           UsageKind = "AGE_GROUP"
	UsageConsultationNumber UsageKind = "CONSULTATION_NUMBER"
	UsagePatient            UsageKind = "PATIENT"
	UsageTestConsumption    UsageKind = "TEST_CONSUMPTION"
	UsageRegimen            UsageKind = "REGIMEN"
	UsageKitUsage           UsageKind = "KIT_USAGE"
)

// UsageKinds lists every usage collection attached to an internally approved requisition
var UsageKinds = []UsageKind{
	UsageAgeGroup,
	UsageConsultationNumber,
	UsagePatient,
	UsageTestConsumption,
	UsageRegimen,
	UsageKitUsage,
}

// UsageLineItem is a row of one of the usage sections. Values keeps the section specific columns
type UsageLineItem struct {
	ID            uuid.UUID       `json:"id"`
	RequisitionID uuid.UUID       `json:"requisitionId"`
	Values        json.RawMessage `json:"values"`
}

func cloneID(id *uuid.UUID) *uuid.UUID {
	if id == nil {
		return nil
	}
	c := *id
	return &c
}
