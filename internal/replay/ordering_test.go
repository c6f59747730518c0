package replay

import (
	"context"
	"testing"

	"github.com/Guizzs26/siglus-sync/internal/codec"
	"github.com/Guizzs26/siglus-sync/internal/event"
	"github.com/Guizzs26/siglus-sync/internal/models"
	"github.com/Guizzs26/siglus-sync/internal/publisher"
	"github.com/Guizzs26/siglus-sync/internal/service"
	"github.com/Guizzs26/siglus-sync/internal/store/memory"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stepPayload struct {
	Step string `json:"step"`
}

func (stepPayload) EventType() event.Type { return "StepEvent" }

type stepReplayer struct {
	applied []string
	hook    func(context.Context) error
}

func (*stepReplayer) Type() event.Type { return "StepEvent" }

func (r *stepReplayer) Replay(_ context.Context, rc *ReplayContext) error {
	p, err := codec.DecodePayload[stepPayload](rc.Event)
	if err != nil {
		return err
	}
	r.applied = append(r.applied, p.Step)
	if r.hook != nil {
		rc.AfterCommit("step", r.hook)
	}
	return nil
}

type node struct {
	store    *memory.Store
	replayer *stepReplayer
	d        *Dispatcher
}

func newNode(t *testing.T) *node {
	t.Helper()
	store := memory.NewStore()
	rp := &stepReplayer{}
	registry, err := NewRegistry(rp)
	require.NoError(t, err)
	logger := discardLogger()
	return &node{store: store, replayer: rp, d: NewDispatcher(registry, store, store, service.NewErrorRecorder(store, logger), logger)}
}

// deliver replays every outbox row of sender addressed to receiver, in outbox order
func deliver(t *testing.T, sender *memory.Store, receiverID uuid.UUID, to *node) {
	t.Helper()
	for _, entry := range sender.Outbox() {
		if entry.ReceiverFacilityID != receiverID {
			continue
		}
		require.NoError(t, to.d.ReplayRaw(context.Background(), entry.Payload))
	}
}

func TestReplay_ReceiverJoiningGroupMidChainStartsAtOne(t *testing.T) {
	facilityA, supervisorID, supplierID := uuid.New(), uuid.New(), uuid.New()
	outbox := memory.NewStore()
	pub := publisher.NewEventPublisher(outbox, outbox, outbox, facilityA, discardLogger())
	ctx := context.Background()

	_, err := pub.EmitGroupEvent(ctx, requisitionNumber, supervisorID, stepPayload{Step: "approve"}, event.CategoryRequisition)
	require.NoError(t, err)
	_, err = pub.EmitGroupEvent(ctx, requisitionNumber, supplierID, stepPayload{Step: "pod"}, event.CategoryProofOfDelivery)
	require.NoError(t, err)
	_, err = pub.EmitGroupEvent(ctx, requisitionNumber, supervisorID, stepPayload{Step: "release"}, event.CategoryRequisition)
	require.NoError(t, err)

	supervisor, supplier := newNode(t), newNode(t)
	deliver(t, outbox, supervisorID, supervisor)
	deliver(t, outbox, supplierID, supplier)

	assert.Equal(t, []string{"approve", "release"}, supervisor.replayer.applied)
	assert.Equal(t, []string{"pod"}, supplier.replayer.applied)
	assert.Empty(t, supplier.store.ErrorRecords())
	assert.Empty(t, supervisor.store.ErrorRecords())
}

func TestReplay_SequencesAreTrackedPerSender(t *testing.T) {
	receiver := newNode(t)
	ctx := context.Background()

	fromA := newEvent(t, stepPayload{Step: "a1"}, requisitionNumber, 1)
	fromB := newEvent(t, stepPayload{Step: "b1"}, requisitionNumber, 1)
	fromB.SenderFacilityID = uuid.New()

	require.NoError(t, receiver.d.Replay(ctx, fromA))
	require.NoError(t, receiver.d.Replay(ctx, fromB))

	assert.Equal(t, []string{"a1", "b1"}, receiver.replayer.applied)

	gap := newEvent(t, stepPayload{Step: "b3"}, requisitionNumber, 3)
	gap.SenderFacilityID = fromB.SenderFacilityID
	require.ErrorIs(t, receiver.d.Replay(ctx, gap), ErrOutOfOrder)
	records := receiver.store.ErrorRecords()
	require.Len(t, records, 1)
	assert.Equal(t, models.ErrorTypeOutOfOrder, records[0].Type)
}

func TestReplay_PanickingHookDoesNotFailCommittedReplay(t *testing.T) {
	receiver := newNode(t)
	receiver.replayer.hook = func(context.Context) error { panic("notifier exploded") }
	evt := newEvent(t, stepPayload{Step: "x"}, requisitionNumber, 1)

	require.NotPanics(t, func() {
		require.NoError(t, receiver.d.Replay(context.Background(), evt))
	})

	processed, err := receiver.store.IsProcessed(context.Background(), evt.ID)
	require.NoError(t, err)
	assert.True(t, processed)
	assert.Empty(t, receiver.store.ErrorRecords())
}
