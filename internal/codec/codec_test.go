package codec

import (
	"encoding/json"
	"testing"

	"github.com/Guizzs26/siglus-sync/internal/event"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeEvent_IgnoresUnknownFields(t *testing.T) {
	id := uuid.New()
	data := []byte(`{"id":"` + id.String() + `","type":"RequisitionRejectedEvent","category":"REQUISITION",
		"groupId":"RNR-001","groupSequence":2,"introducedLater":{"x":1},
		"payload":{"requisitionNumber":"RNR-001","futureField":true}}`)

	e, err := DecodeEvent(data)
	require.NoError(t, err)
	assert.Equal(t, id, e.ID)
	assert.Equal(t, int64(2), e.GroupSequence)

	p, err := DecodePayload[event.RequisitionRejectEvent](e)
	require.NoError(t, err)
	assert.Equal(t, "RNR-001", p.RequisitionNumber)
}

func TestDecodeEvent_Malformed(t *testing.T) {
	cases := map[string]string{
		"not json":            `{`,
		"no type":             `{"payload":{}}`,
		"grouped without seq": `{"type":"X","groupId":"g","payload":{}}`,
	}
	for name, data := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := DecodeEvent([]byte(data))
			assert.ErrorIs(t, err, ErrMalformedEvent)
		})
	}
}

func TestDecodeEvent_MalformedKeepsEventID(t *testing.T) {
	id := uuid.New()
	sender := uuid.New()
	cases := map[string]string{
		"bad sequence type": `{"id":"` + id.String() + `","type":"X","senderFacilityId":"` + sender.String() + `","groupSequence":"two","payload":{}}`,
		"no payload":        `{"id":"` + id.String() + `","type":"X","senderFacilityId":"` + sender.String() + `"}`,
	}
	for name, data := range cases {
		t.Run(name, func(t *testing.T) {
			e, err := DecodeEvent([]byte(data))
			require.ErrorIs(t, err, ErrMalformedEvent)
			assert.Equal(t, id, e.ID)
			assert.Equal(t, sender, e.SenderFacilityID)
			assert.Equal(t, event.Type("X"), e.Type)
		})
	}
}

func TestDecodeEvent_NotJSONHasNoID(t *testing.T) {
	e, err := DecodeEvent([]byte(`not an envelope`))
	require.ErrorIs(t, err, ErrMalformedEvent)
	assert.Equal(t, uuid.Nil, e.ID)
}

func TestUnmarshal_KeepsNumbers(t *testing.T) {
	var v []any
	require.NoError(t, Unmarshal([]byte(`[1, 2.50, "a"]`), &v))
	assert.Equal(t, []any{json.Number("1"), json.Number("2.50"), "a"}, v)
}
