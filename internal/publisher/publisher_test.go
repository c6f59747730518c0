package publisher

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/Guizzs26/siglus-sync/internal/codec"
	"github.com/Guizzs26/siglus-sync/internal/domain"
	"github.com/Guizzs26/siglus-sync/internal/event"
	"github.com/Guizzs26/siglus-sync/internal/models"
	"github.com/Guizzs26/siglus-sync/internal/store/memory"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var sender = uuid.MustParse("00000000-0000-0000-0000-000000000001")

func newPublisher(store *memory.Store) *EventPublisher {
	return NewEventPublisher(store, store, store, sender, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func rejectPayload(number string) event.RequisitionRejectEvent {
	return event.RequisitionRejectEvent{RequisitionNumber: number, UserID: uuid.New()}
}

func TestEmitGroupEvent_SequencesPerGroup(t *testing.T) {
	store := memory.NewStore()
	p := newPublisher(store)
	receiver := uuid.New()
	ctx := context.Background()

	a1, err := p.EmitGroupEvent(ctx, "A", receiver, rejectPayload("A"), event.CategoryRequisition)
	require.NoError(t, err)
	b1, err := p.EmitGroupEvent(ctx, "B", receiver, rejectPayload("B"), event.CategoryRequisition)
	require.NoError(t, err)
	a2, err := p.EmitGroupEvent(ctx, "A", receiver, rejectPayload("A"), event.CategoryRequisition)
	require.NoError(t, err)

	assert.Equal(t, int64(1), a1.GroupSequence)
	assert.Equal(t, int64(1), b1.GroupSequence)
	assert.Equal(t, int64(2), a2.GroupSequence)

	outbox := store.Outbox()
	require.Len(t, outbox, 3)
	for _, entry := range outbox {
		assert.Equal(t, models.StatusPending, entry.Status)
		evt, err := codec.DecodeEvent(entry.Payload)
		require.NoError(t, err)
		assert.Equal(t, entry.EventID, evt.ID)
		assert.Equal(t, entry.GroupSequence, evt.GroupSequence)
		assert.Equal(t, sender, evt.SenderFacilityID)
	}
	assert.Len(t, store.Notified(), 3)
}

func TestEmitGroupEvent_SequencesPerReceiver(t *testing.T) {
	store := memory.NewStore()
	p := newPublisher(store)
	supervisor, supplier := uuid.New(), uuid.New()
	ctx := context.Background()

	approve, err := p.EmitGroupEvent(ctx, "RNR-NO010112-01", supervisor, rejectPayload("RNR-NO010112-01"), event.CategoryRequisition)
	require.NoError(t, err)
	pod, err := p.EmitGroupEvent(ctx, "RNR-NO010112-01", supplier, rejectPayload("RNR-NO010112-01"), event.CategoryProofOfDelivery)
	require.NoError(t, err)
	release, err := p.EmitGroupEvent(ctx, "RNR-NO010112-01", supervisor, rejectPayload("RNR-NO010112-01"), event.CategoryRequisition)
	require.NoError(t, err)

	assert.Equal(t, int64(1), approve.GroupSequence)
	assert.Equal(t, int64(1), pod.GroupSequence)
	assert.Equal(t, int64(2), release.GroupSequence)
}

func TestEmitGroupEvent_RejectsMissingRouting(t *testing.T) {
	store := memory.NewStore()
	p := newPublisher(store)

	_, err := p.EmitGroupEvent(context.Background(), "", uuid.New(), rejectPayload("A"), event.CategoryRequisition)
	assert.ErrorIs(t, err, domain.ErrIllegalState)

	_, err = p.EmitGroupEvent(context.Background(), "A", uuid.Nil, rejectPayload("A"), event.CategoryRequisition)
	assert.ErrorIs(t, err, domain.ErrIllegalState)

	_, err = p.EmitGroupEvent(context.Background(), strings.Repeat("x", 256), uuid.New(), rejectPayload("A"), event.CategoryRequisition)
	assert.ErrorIs(t, err, domain.ErrIllegalState)

	_, err = p.EmitGroupEvent(context.Background(), "A", uuid.New(), rejectPayload(""), event.CategoryRequisition)
	assert.ErrorIs(t, err, domain.ErrIllegalState)

	assert.Empty(t, store.Outbox())
}

func TestEmitMasterDataEvent_IsUngroupedBroadcast(t *testing.T) {
	store := memory.NewStore()
	p := newPublisher(store)

	evt, err := p.EmitMasterDataEvent(context.Background(), event.MasterDataTableChangeEvent{}, event.CategoryMasterData)
	require.NoError(t, err)

	assert.False(t, evt.IsGrouped())
	assert.True(t, evt.IsBroadcast())
	outbox := store.Outbox()
	require.Len(t, outbox, 1)
	assert.True(t, outbox[0].IsBroadcast())
}

func TestEmit_JoinsCallerTransaction(t *testing.T) {
	store := memory.NewStore()
	p := newPublisher(store)
	boom := errors.New("business write failed")

	err := store.WithinTx(context.Background(), func(ctx context.Context) error {
		if _, err := p.EmitGroupEvent(ctx, "A", uuid.New(), rejectPayload("A"), event.CategoryRequisition); err != nil {
			return err
		}
		return boom
	})

	require.ErrorIs(t, err, boom)
	assert.Empty(t, store.Outbox())

	evt, err := p.EmitGroupEvent(context.Background(), "A", uuid.New(), rejectPayload("A"), event.CategoryRequisition)
	require.NoError(t, err)
	assert.Equal(t, int64(1), evt.GroupSequence)
}
