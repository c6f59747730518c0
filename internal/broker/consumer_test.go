package broker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"

	"github.com/Guizzs26/siglus-sync/internal/agent"
	"github.com/Guizzs26/siglus-sync/internal/codec"
	"github.com/Guizzs26/siglus-sync/internal/models"
	"github.com/Guizzs26/siglus-sync/internal/replay"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	amqp "github.com/rabbitmq/amqp091-go"
)

type stubHandler struct {
	err   error
	calls int
}

func (h *stubHandler) ReplayRaw(context.Context, []byte) error {
	h.calls++
	return h.err
}

type stubVerifier struct{ err error }

func (v stubVerifier) Verify(context.Context, string) (models.AgentInfo, error) {
	return models.AgentInfo{MachineID: uuid.New()}, v.err
}

func newTestConsumer(h Handler, v TokenVerifier) *RabbitMQConsumer {
	return &RabbitMQConsumer{
		handler:     h,
		verifier:    v,
		logger:      slog.New(slog.NewTextHandler(io.Discard, nil)),
		maxAttempts: 3,
	}
}

func TestHandle_AcksOnSuccess(t *testing.T) {
	h := &stubHandler{}
	assert.Equal(t, ack, newTestConsumer(h, nil).handle(context.Background(), amqp.Delivery{Body: []byte("{}")}))
	assert.Equal(t, 1, h.calls)
}

func TestHandle_PermanentFailureIsDeadLettered(t *testing.T) {
	for _, err := range []error{
		fmt.Errorf("decode: %w", codec.ErrMalformedEvent),
		fmt.Errorf("lookup: %w", replay.ErrUnknownEventType),
	} {
		c := newTestConsumer(&stubHandler{err: err}, nil)
		assert.Equal(t, reject, c.handle(context.Background(), amqp.Delivery{}), err.Error())
	}
}

func TestHandle_TransientFailureRequeuedUntilLimit(t *testing.T) {
	c := newTestConsumer(&stubHandler{err: errors.New("deadlock")}, nil)

	first := amqp.Delivery{}
	assert.Equal(t, requeue, c.handle(context.Background(), first))

	second := amqp.Delivery{Headers: amqp.Table{"x-delivery-count": int64(1)}}
	assert.Equal(t, requeue, c.handle(context.Background(), second))

	last := amqp.Delivery{Headers: amqp.Table{"x-delivery-count": int64(2)}}
	assert.Equal(t, reject, c.handle(context.Background(), last))
}

func TestHandle_InvalidTokenRejectedBeforeReplay(t *testing.T) {
	h := &stubHandler{}
	c := newTestConsumer(h, stubVerifier{err: agent.ErrInvalidToken})

	d := amqp.Delivery{Headers: amqp.Table{agent.HeaderName: "forged"}}
	assert.Equal(t, reject, c.handle(context.Background(), d))
	assert.Zero(t, h.calls)
}

func TestHandle_UnsignedDeliveryAccepted(t *testing.T) {
	h := &stubHandler{}
	c := newTestConsumer(h, stubVerifier{err: agent.ErrInvalidToken})
	assert.Equal(t, ack, c.handle(context.Background(), amqp.Delivery{}))
}

func TestDeathReason(t *testing.T) {
	d := amqp.Delivery{Headers: amqp.Table{"x-death": []any{amqp.Table{"reason": "delivery_limit"}}}}
	assert.Equal(t, "delivery_limit", deathReason(d))
	assert.Empty(t, deathReason(amqp.Delivery{}))
}

func TestPublishHeaders(t *testing.T) {
	sender := uuid.New()
	r := &RabbitMQClient{senderID: sender}

	h := r.headers(models.OutboxEntry{GroupID: "G", GroupSequence: 4})
	assert.Equal(t, sender.String(), h[HeaderSender])
	assert.Equal(t, "G", h[HeaderGroupID])
	assert.Equal(t, "4", h[HeaderGroupSeq])

	broadcast := r.headers(models.OutboxEntry{})
	assert.NotContains(t, broadcast, HeaderGroupID)
}
