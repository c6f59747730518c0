// Package event defines the envelopes exchanged between the online web and local machines
package event

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Category groups events for routing and reporting
type Category string

const (
	CategoryRequisition     Category = "REQUISITION"
	CategoryProofOfDelivery Category = "POD"
	CategoryMasterData      Category = "MASTER_DATA"
)

// Type is the tag a receiver uses to pick the replayer of an event
type Type string

const (
	TypeRequisitionInternalApproved Type = "RequisitionInternalApprovedEvent"
	TypeRequisitionReleased         Type = "RequisitionReleasedEvent"
	TypeRequisitionRejected         Type = "RequisitionRejectedEvent"
	TypeProofOfDeliveryConfirmed    Type = "ProofOfDeliveryConfirmedEvent"
	TypeAndroidRequisitionSynced    Type = "AndroidRequisitionSyncedEvent"
	TypeMasterDataTableChange       Type = "MasterDataTableChangeEvent"
)

// Event is the immutable envelope persisted in the outbox and delivered to receivers.
// Events sharing a GroupID must be applied in GroupSequence order
type Event struct {
	ID                 uuid.UUID       `json:"id"`
	Type               Type            `json:"type"`
	Category           Category        `json:"category"`
	GroupID            string          `json:"groupId,omitempty"`
	GroupSequence      int64           `json:"groupSequence,omitempty"`
	SenderFacilityID   uuid.UUID       `json:"senderFacilityId"`
	ReceiverFacilityID uuid.UUID       `json:"receiverFacilityId"`
	EmittedAt          time.Time       `json:"emittedAt"`
	Payload            json.RawMessage `json:"payload"`
}

// IsGrouped reports whether the event takes part in a causal chain
func (e Event) IsGrouped() bool {
	return e.GroupID != ""
}

// IsBroadcast reports whether the event is addressed to every facility
func (e Event) IsBroadcast() bool {
	return e.ReceiverFacilityID == uuid.Nil
}

// Payload is implemented by every typed event body
type Payload interface {
	EventType() Type
}
