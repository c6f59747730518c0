package domain

import (
	"time"

	"github.com/google/uuid"
)

type AndroidProduct struct {
	OrderableID           uuid.UUID `json:"orderableId"`
	RequestedQuantity     int       `json:"requestedQuantity"`
	AuthorizedQuantity    int       `json:"authorizedQuantity"`
	StockOnHand           int       `json:"stockOnHand"`
	TotalConsumedQuantity int       `json:"totalConsumedQuantity"`
}

// AndroidRequisitionRequest is the requisition submitted by the android app of a facility
type AndroidRequisitionRequest struct {
	ProgramID           uuid.UUID        `json:"programId"`
	ProcessingPeriodID  uuid.UUID        `json:"processingPeriodId"`
	TemplateID          uuid.UUID        `json:"templateId"`
	Emergency           bool             `json:"emergency"`
	ActualStartDate     time.Time        `json:"actualStartDate"`
	ActualEndDate       time.Time        `json:"actualEndDate"`
	ClientSubmittedTime time.Time        `json:"clientSubmittedTime"`
	Products            []AndroidProduct `json:"products"`
}

// BuildAndroidRequisition creates the authorized requisition that an android submission produces
func BuildAndroidRequisition(id, facilityID, userID uuid.UUID, req AndroidRequisitionRequest, at time.Time) *Requisition {
	r := &Requisition{
		ID:                 id,
		FacilityID:         facilityID,
		ProgramID:          req.ProgramID,
		ProcessingPeriodID: req.ProcessingPeriodID,
		TemplateID:         req.TemplateID,
		Emergency:          req.Emergency,
		Status:             StatusInitiated,
		StatusChanges:      []StatusChange{},
		LineItems:          make([]RequisitionLineItem, 0, len(req.Products)),
		CreatedDate:        req.ClientSubmittedTime,
	}
	for _, p := range req.Products {
		r.LineItems = append(r.LineItems, RequisitionLineItem{
			ID:                    uuid.New(),
			OrderableID:           p.OrderableID,
			RequestedQuantity:     p.RequestedQuantity,
			ApprovedQuantity:      p.AuthorizedQuantity,
			StockOnHand:           p.StockOnHand,
			TotalConsumedQuantity: p.TotalConsumedQuantity,
			PricePerPack:          Money{Currency: CurrencyUnit()},
			TotalCost:             Money{Currency: CurrencyUnit()},
		})
	}
	for _, s := range []RequisitionStatus{StatusInitiated, StatusSubmitted, StatusAuthorized} {
		r.transition(s, userID, at)
	}
	return r
}
