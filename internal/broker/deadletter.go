package broker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/Guizzs26/siglus-sync/internal/codec"
	"github.com/google/uuid"

	amqp "github.com/rabbitmq/amqp091-go"
)

// DeadLetterHandler is told about every event a receiver gave up on
type DeadLetterHandler interface {
	HandleDeadLetter(ctx context.Context, body []byte, reason string) error
}

// DeadLetterConsumer drains the dead letters of events this node sent
type DeadLetterConsumer struct {
	conn     *amqp.Connection
	channel  *amqp.Channel
	handler  DeadLetterHandler
	senderID uuid.UUID
	logger   *slog.Logger
}

func NewDeadLetterConsumer(url string, senderID uuid.UUID, handler DeadLetterHandler, logger *slog.Logger) (*DeadLetterConsumer, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open a channel: %w", err)
	}
	if err := declareExchanges(ch); err != nil {
		ch.Close()
		conn.Close()
		return nil, err
	}
	return &DeadLetterConsumer{conn: conn, channel: ch, handler: handler, senderID: senderID, logger: logger}, nil
}

// Listen binds the sender's dead letter queue by header and consumes it until ctx is canceled
func (c *DeadLetterConsumer) Listen(ctx context.Context) error {
	queueName := DeadLetterExchange + "." + c.senderID.String()
	q, err := c.channel.QueueDeclare(queueName, true, false, false, false, amqp.Table{"x-queue-type": "quorum"})
	if err != nil {
		return fmt.Errorf("failed to declare dead letter queue: %w", err)
	}
	if err := c.channel.QueueBind(q.Name, "", DeadLetterExchange, false, amqp.Table{
		"x-match":    "all",
		HeaderSender: c.senderID.String(),
	}); err != nil {
		return fmt.Errorf("failed to bind dead letter queue: %w", err)
	}

	msgs, err := c.channel.Consume(q.Name, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("failed to register dead letter consumer: %w", err)
	}
	c.logger.Info("Dead letter consumer online", "queue", q.Name)

	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-msgs:
			if !ok {
				return fmt.Errorf("dead letter channel closed")
			}
			if err := c.handler.HandleDeadLetter(ctx, d.Body, deathReason(d)); err != nil {
				// undecodable letters are dropped, storage failures retried
				requeue := !errors.Is(err, codec.ErrMalformedEvent)
				c.logger.Error("Dead letter feedback failed", "message_id", d.MessageId, "requeue", requeue, "error", err)
				if err := d.Nack(false, requeue); err != nil {
					c.logger.Error("Failed to Nack dead letter", "message_id", d.MessageId, "error", err)
				}
				continue
			}
			if err := d.Ack(false); err != nil {
				c.logger.Error("Failed to Ack dead letter", "message_id", d.MessageId, "error", err)
			}
		}
	}
}

// deathReason extracts the reason of the latest x-death entry (rejected, delivery_limit, ...)
func deathReason(d amqp.Delivery) string {
	deaths, ok := d.Headers["x-death"].([]any)
	if !ok || len(deaths) == 0 {
		return ""
	}
	if t, ok := deaths[0].(amqp.Table); ok {
		if reason, ok := t["reason"].(string); ok {
			return reason
		}
	}
	return ""
}

func (c *DeadLetterConsumer) Close() {
	c.logger.Info("Shutting down dead letter consumer")
	c.channel.Close()
	c.conn.Close()
}
