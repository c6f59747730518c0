package models

import (
	"time"

	"github.com/google/uuid"
)

type NotificationType string

const (
	NotificationTodo   NotificationType = "TODO"
	NotificationUpdate NotificationType = "UPDATE"
)

type NotificationStatus string

const (
	NotificationAuthorized NotificationStatus = "AUTHORIZED"
	NotificationInApproval NotificationStatus = "IN_APPROVAL"
	NotificationApproved   NotificationStatus = "APPROVED"
	NotificationRejected   NotificationStatus = "REJECTED"
	NotificationReleased   NotificationStatus = "RELEASED"
	NotificationReceived   NotificationStatus = "RECEIVED"
	NotificationSynced     NotificationStatus = "SYNCED"
)

// Notification is the read model behind the user to-do list
type Notification struct {
	ID                   uuid.UUID          `db:"id"`
	RefID                uuid.UUID          `db:"refid"`
	FacilityID           uuid.UUID          `db:"facilityid"`
	ProgramID            uuid.UUID          `db:"programid"`
	ProcessingPeriodID   uuid.UUID          `db:"processingperiodid"`
	RequestingFacilityID uuid.UUID          `db:"requestingfacilityid"`
	Status               NotificationStatus `db:"status"`
	Type                 NotificationType   `db:"type"`
	Emergency            bool               `db:"emergency"`
	Processed            bool               `db:"processed"`
	CreatedBy            uuid.UUID          `db:"createdby"`
	CreatedAt            time.Time          `db:"createdate"`
}
