package service

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/Guizzs26/siglus-sync/internal/codec"
	"github.com/Guizzs26/siglus-sync/internal/event"
	"github.com/Guizzs26/siglus-sync/internal/models"
	"github.com/Guizzs26/siglus-sync/internal/store/memory"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHandleDeadLetter_MarksOutboxRow(t *testing.T) {
	store := memory.NewStore()
	evt := event.Event{
		ID:                 uuid.New(),
		Type:               event.TypeRequisitionRejected,
		Category:           event.CategoryRequisition,
		GroupID:            "G",
		GroupSequence:      1,
		ReceiverFacilityID: uuid.New(),
		EmittedAt:          time.Now().UTC(),
		Payload:            json.RawMessage(`{}`),
	}
	body, err := codec.EncodeEvent(evt)
	require.NoError(t, err)
	require.NoError(t, store.Append(context.Background(), &models.OutboxEntry{EventID: evt.ID, Status: models.StatusSent, Payload: body}))

	require.NoError(t, NewFeedbackService(store, discardLogger()).HandleDeadLetter(context.Background(), body, "delivery limit"))
	assert.Equal(t, models.StatusError, store.Outbox()[0].Status)
}

func TestHandleDeadLetter_Garbage(t *testing.T) {
	err := NewFeedbackService(memory.NewStore(), discardLogger()).HandleDeadLetter(context.Background(), []byte("nope"), "")
	assert.ErrorIs(t, err, codec.ErrMalformedEvent)
}

func TestHandleDeadLetter_MalformedEnvelopeWithIDMarksRow(t *testing.T) {
	store := memory.NewStore()
	id := uuid.New()
	body := []byte(`{"id":"` + id.String() + `","type":"RequisitionRejectedEvent"}`)
	require.NoError(t, store.Append(context.Background(), &models.OutboxEntry{EventID: id, Status: models.StatusSent, Payload: body}))

	require.NoError(t, NewFeedbackService(store, discardLogger()).HandleDeadLetter(context.Background(), body, "malformed"))
	assert.Equal(t, models.StatusError, store.Outbox()[0].Status)
}
