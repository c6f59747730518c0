// Package codec is the wire format of sync events: JSON with RFC 3339 times, Money amounts as plain
// decimal strings and numbers kept as json.Number. Unknown fields are ignored so older readers
// accept events from newer writers.
package codec

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/Guizzs26/siglus-sync/internal/event"
)

var ErrMalformedEvent = errors.New("malformed event")

func Marshal(v any) ([]byte, error) {
	return json.Marshal(v)
}

func Unmarshal(data []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(v); err != nil {
		return err
	}
	return nil
}

// EncodeEvent serializes an envelope
func EncodeEvent(e event.Event) ([]byte, error) {
	data, err := Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("encode event %s: %w", e.ID, err)
	}
	return data, nil
}

// DecodeEvent parses an envelope and checks the fields every receiver depends on. On error the
// returned envelope holds whatever could be read, so failures can still be traced to an event id
func DecodeEvent(data []byte) (event.Event, error) {
	var e event.Event
	if err := Unmarshal(data, &e); err != nil {
		return partialEnvelope(data), fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	if e.Type == "" || len(e.Payload) == 0 {
		return e, fmt.Errorf("%w: event %s has no type or payload", ErrMalformedEvent, e.ID)
	}
	if e.GroupID != "" && e.GroupSequence < 1 {
		return e, fmt.Errorf("%w: grouped event %s without sequence", ErrMalformedEvent, e.ID)
	}
	return e, nil
}

// partialEnvelope reads the identifying fields one by one, skipping any that do not parse
func partialEnvelope(data []byte) event.Event {
	var e event.Event
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return e
	}
	_ = json.Unmarshal(fields["id"], &e.ID)
	_ = json.Unmarshal(fields["type"], &e.Type)
	_ = json.Unmarshal(fields["groupId"], &e.GroupID)
	_ = json.Unmarshal(fields["senderFacilityId"], &e.SenderFacilityID)
	_ = json.Unmarshal(fields["receiverFacilityId"], &e.ReceiverFacilityID)
	return e
}

// DecodePayload parses the typed body of an envelope
func DecodePayload[T any](e event.Event) (T, error) {
	var p T
	if err := Unmarshal(e.Payload, &p); err != nil {
		return p, fmt.Errorf("%w: payload of %s %s: %v", ErrMalformedEvent, e.Type, e.ID, err)
	}
	return p, nil
}
