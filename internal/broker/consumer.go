package broker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/Guizzs26/siglus-sync/internal/agent"
	"github.com/Guizzs26/siglus-sync/internal/models"
	"github.com/Guizzs26/siglus-sync/internal/replay"
	"github.com/Guizzs26/siglus-sync/internal/routing"
	"github.com/Guizzs26/siglus-sync/pkg/infra"
	"github.com/google/uuid"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Handler applies one raw event envelope
type Handler interface {
	ReplayRaw(ctx context.Context, body []byte) error
}

// TokenVerifier checks the agent token of a delivery
type TokenVerifier interface {
	Verify(ctx context.Context, token string) (models.AgentInfo, error)
}

type verdict int

const (
	ack verdict = iota
	requeue
	reject // dead-letters the delivery
)

// RabbitMQConsumer feeds the facility queue, one delivery at a time, to the replay dispatcher
type RabbitMQConsumer struct {
	conn        *amqp.Connection
	channel     *amqp.Channel
	handler     Handler
	verifier    TokenVerifier
	logger      *slog.Logger
	facilityID  uuid.UUID
	maxAttempts int
	backoff     *infra.Backoff
}

// NewRabbitMQConsumer connects for facilityID. verifier may be nil to accept unsigned deliveries
func NewRabbitMQConsumer(url string, facilityID uuid.UUID, handler Handler, verifier TokenVerifier, maxAttempts int, logger *slog.Logger) (*RabbitMQConsumer, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open a channel: %w", err)
	}

	// Prefetch 1 keeps deliveries of one queue strictly ordered
	if err := ch.Qos(1, 0, false); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("failed to set QoS: %w", err)
	}

	if err := declareExchanges(ch); err != nil {
		ch.Close()
		conn.Close()
		return nil, err
	}

	return &RabbitMQConsumer{
		conn:        conn,
		channel:     ch,
		handler:     handler,
		verifier:    verifier,
		logger:      logger,
		facilityID:  facilityID,
		maxAttempts: maxAttempts,
		backoff:     infra.NewBackoff(500*time.Millisecond, 30*time.Second, 2.0),
	}, nil
}

// Listen declares the facility queue and consumes it until ctx is canceled or the channel closes
func (c *RabbitMQConsumer) Listen(ctx context.Context) error {
	queueName := routing.FacilityQueue(c.facilityID)

	q, err := c.channel.QueueDeclare(queueName, true, false, false, false, amqp.Table{
		"x-queue-type":           "quorum",
		"x-dead-letter-exchange": DeadLetterExchange,
		// safety net; handle() dead-letters first
		"x-delivery-limit": int32(c.maxAttempts + 1),
	})
	if err != nil {
		return fmt.Errorf("failed to declare queue: %w", err)
	}

	bindings := routing.FacilityBindings(c.facilityID)
	for _, key := range bindings {
		if err := c.channel.QueueBind(q.Name, key, routing.Exchange, false, nil); err != nil {
			return fmt.Errorf("failed to bind queue to %s: %w", key, err)
		}
	}

	msgs, err := c.channel.Consume(q.Name, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("failed to register consumer: %w", err)
	}

	c.logger.Info("Consumer is online and waiting for events", "queue", q.Name, "bindings", bindings)

	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-msgs:
			if !ok {
				return fmt.Errorf("delivery channel closed")
			}
			c.settle(ctx, d, c.handle(ctx, d))
		}
	}
}

func (c *RabbitMQConsumer) settle(ctx context.Context, d amqp.Delivery, v verdict) {
	l := c.logger.With("message_id", d.MessageId, "type", d.Type)
	switch v {
	case ack:
		c.backoff.Reset()
		if err := d.Ack(false); err != nil {
			l.Error("Failed to Ack delivery", "error", err)
		}
	case requeue:
		// throttle so a failing head of queue does not spin
		select {
		case <-time.After(c.backoff.Next()):
		case <-ctx.Done():
		}
		if err := d.Nack(false, true); err != nil {
			l.Error("Failed to requeue delivery", "error", err)
		}
	case reject:
		c.backoff.Reset()
		if err := d.Nack(false, false); err != nil {
			l.Error("Failed to dead-letter delivery", "error", err)
		}
	}
}

// handle decides the fate of one delivery. Permanent failures and deliveries past the attempt
// limit are dead-lettered, everything else is retried in place to keep the queue order
func (c *RabbitMQConsumer) handle(ctx context.Context, d amqp.Delivery) verdict {
	l := c.logger.With("message_id", d.MessageId, "type", d.Type)

	if c.verifier != nil {
		if token, ok := d.Headers[agent.HeaderName].(string); ok && token != "" {
			info, err := c.verifier.Verify(ctx, token)
			if err != nil {
				l.Error("Rejecting delivery with invalid agent token", "error", err)
				return reject
			}
			l = l.With("machine_id", info.MachineID)
		}
	}

	err := c.handler.ReplayRaw(ctx, d.Body)
	if err == nil {
		return ack
	}

	if replay.IsPermanent(err) {
		l.Error("Replay failed permanently, dead-lettering", "error", err)
		return reject
	}

	attempt := deliveryCount(d) + 1
	if c.maxAttempts > 0 && attempt >= c.maxAttempts {
		l.Error("Replay attempts exhausted, dead-lettering", "attempt", attempt, "error", err)
		return reject
	}

	l.Warn("Replay failed, requeueing", "attempt", attempt, "max_attempts", c.maxAttempts, "error", err)
	return requeue
}

// deliveryCount reads the quorum queue redelivery counter
func deliveryCount(d amqp.Delivery) int {
	switch v := d.Headers["x-delivery-count"].(type) {
	case int64:
		return int(v)
	case int32:
		return int(v)
	case int:
		return v
	}
	if d.Redelivered {
		return 1
	}
	return 0
}

// Close gracefully terminates RabbitMQ resources
func (c *RabbitMQConsumer) Close() {
	c.logger.Info("Shutting down RabbitMQ consumer")
	c.channel.Close()
	c.conn.Close()
}
