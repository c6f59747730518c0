package service

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/Guizzs26/siglus-sync/internal/models"
	"github.com/Guizzs26/siglus-sync/internal/store/memory"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeBroker struct {
	keys   []string
	failAt int // 1-based publish call that fails, 0 never
	calls  int
}

func (b *fakeBroker) Publish(_ context.Context, routingKey string, _ models.OutboxEntry) error {
	b.calls++
	if b.failAt != 0 && b.calls == b.failAt {
		return errors.New("connection reset")
	}
	b.keys = append(b.keys, routingKey)
	return nil
}

func appendEntry(t *testing.T, store *memory.Store, receiver uuid.UUID, category string, seq int64) {
	t.Helper()
	group := ""
	if seq > 0 {
		group = "RNR-PLN-01K210-201908-0"
	}
	require.NoError(t, store.Append(context.Background(), &models.OutboxEntry{
		EventID:            uuid.New(),
		GroupID:            group,
		GroupSequence:      seq,
		ReceiverFacilityID: receiver,
		EventType:          "RequisitionRejectedEvent",
		Category:           category,
		Payload:            json.RawMessage(`{"id":"x"}`),
		Status:             models.StatusPending,
	}))
}

func TestProcessNextBatch_PublishesInOrder(t *testing.T) {
	store := memory.NewStore()
	receiver := uuid.MustParse("0b4a7e2c-0c39-4d36-9a8a-0d0b1c7c2f11")
	appendEntry(t, store, receiver, "REQUISITION", 1)
	appendEntry(t, store, receiver, "REQUISITION", 2)
	appendEntry(t, store, uuid.Nil, "MASTER_DATA", 0)

	broker := &fakeBroker{}
	svc := NewSyncService(store, broker, discardLogger())

	require.NoError(t, svc.ProcessNextBatch(context.Background(), 10))

	assert.Equal(t, []string{
		"facility.0b4a7e2c-0c39-4d36-9a8a-0d0b1c7c2f11.requisition",
		"facility.0b4a7e2c-0c39-4d36-9a8a-0d0b1c7c2f11.requisition",
		"broadcast.master_data",
	}, broker.keys)
	for _, e := range store.Outbox() {
		assert.Equal(t, models.StatusSent, e.Status)
	}
}

func TestProcessNextBatch_BrokerFailureRevertsRemaining(t *testing.T) {
	store := memory.NewStore()
	receiver := uuid.New()
	for seq := int64(1); seq <= 3; seq++ {
		appendEntry(t, store, receiver, "REQUISITION", seq)
	}

	svc := NewSyncService(store, &fakeBroker{failAt: 2}, discardLogger())
	err := svc.ProcessNextBatch(context.Background(), 10)
	require.Error(t, err)

	outbox := store.Outbox()
	assert.Equal(t, models.StatusSent, outbox[0].Status)
	assert.Equal(t, models.StatusPending, outbox[1].Status)
	assert.Equal(t, models.StatusPending, outbox[2].Status)
	// infra failures do not consume attempts
	assert.Zero(t, outbox[1].Attempts)

	// the next cycle resumes where the batch stopped
	broker := &fakeBroker{}
	require.NoError(t, NewSyncService(store, broker, discardLogger()).ProcessNextBatch(context.Background(), 10))
	assert.Len(t, broker.keys, 2)
}

func TestProcessNextBatch_MalformedEntryFlagged(t *testing.T) {
	store := memory.NewStore()
	require.NoError(t, store.Append(context.Background(), &models.OutboxEntry{
		EventID:  uuid.New(),
		GroupID:  "G",
		Category: "REQUISITION",
		Payload:  json.RawMessage(`{}`),
		Status:   models.StatusPending,
	}))
	appendEntry(t, store, uuid.New(), "POD", 0)

	broker := &fakeBroker{}
	require.NoError(t, NewSyncService(store, broker, discardLogger()).ProcessNextBatch(context.Background(), 10))

	outbox := store.Outbox()
	assert.Equal(t, models.StatusError, outbox[0].Status)
	assert.Equal(t, models.StatusSent, outbox[1].Status)
	assert.Len(t, broker.keys, 1)
}

func TestProcessNextBatch_CanceledContextRevertsBatch(t *testing.T) {
	store := memory.NewStore()
	appendEntry(t, store, uuid.New(), "REQUISITION", 1)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	broker := &fakeBroker{}
	err := NewSyncService(store, broker, discardLogger()).ProcessNextBatch(ctx, 10)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, broker.keys)
	assert.Equal(t, models.StatusPending, store.Outbox()[0].Status)
}

func TestInvalidEnvelope(t *testing.T) {
	valid := models.OutboxEntry{EventType: "T", Category: "C", Payload: json.RawMessage(`{}`)}
	assert.Empty(t, invalidEnvelope(valid))

	grouped := valid
	grouped.GroupID = "G"
	assert.Equal(t, "missing_group_sequence", invalidEnvelope(grouped))

	noPayload := valid
	noPayload.Payload = nil
	assert.Equal(t, "empty_payload", invalidEnvelope(noPayload))
}
