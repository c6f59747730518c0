package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Outbox row statuses
const (
	StatusPending    = "pending"
	StatusProcessing = "processing"
	StatusSent       = "sent"
	StatusError      = "error"
	StatusDead       = "dead"
)

// RevertStrategy decides whether reverting a claimed row back to pending consumes an attempt
type RevertStrategy int

const (
	// StrategyInfraFailure keeps the attempt counter: the event never reached the broker
	StrategyInfraFailure RevertStrategy = iota
	// StrategyBusinessFailure counts the attempt
	StrategyBusinessFailure
)

// OutboxEntry is a row of localmachine.sync_outbox. Payload holds the serialized event envelope
type OutboxEntry struct {
	ID                 int64           `db:"id"`
	EventID            uuid.UUID       `db:"event_id"`
	GroupID            string          `db:"group_id"`
	GroupSequence      int64           `db:"group_sequence"`
	ReceiverFacilityID uuid.UUID       `db:"receiver_facility_id"`
	EventType          string          `db:"event_type"`
	Category           string          `db:"category"`
	Payload            json.RawMessage `db:"payload"`
	Status             string          `db:"status"`
	Attempts           int             `db:"attempts"`
	CreatedAt          time.Time       `db:"created_at"`
}

// EstimateBytes returns the approximate memory footprint of the entry
func (e OutboxEntry) EstimateBytes() int {
	return len(e.Payload) + len(e.GroupID) + len(e.EventType) + len(e.Category) + 96
}

// IsBroadcast reports whether the entry is addressed to every facility
func (e OutboxEntry) IsBroadcast() bool {
	return e.ReceiverFacilityID == uuid.Nil
}
