package models

import (
	"time"

	"github.com/google/uuid"
)

type ErrorType string

const (
	ErrorTypeReplay       ErrorType = "REPLAY"
	ErrorTypeOutOfOrder   ErrorType = "OUT_OF_ORDER"
	ErrorTypeUnknownEvent ErrorType = "UNKNOWN_EVENT"
	ErrorTypeDeserialize  ErrorType = "DESERIALIZE"
	ErrorTypeSink         ErrorType = "SINK"
)

// ErrorRecord is created when a replay fails. It is never deleted automatically
type ErrorRecord struct {
	ID           uuid.UUID     `db:"id"`
	Type         ErrorType     `db:"type"`
	OccurredTime time.Time     `db:"occurredtime"`
	EventID      uuid.UUID     `db:"eventid"`
	Payload      *ErrorPayload `db:"-"`
}

// ErrorPayload holds the details of one ErrorRecord
type ErrorPayload struct {
	ID             uuid.UUID `db:"id"`
	ErrorName      string    `db:"errorname"`
	MessageKey     string    `db:"messagekey"`
	DetailMessage  string    `db:"detailmessage"`
	RootStackTrace string    `db:"rootstacktrace"`
}
