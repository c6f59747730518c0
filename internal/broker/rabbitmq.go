package broker

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Guizzs26/siglus-sync/internal/agent"
	"github.com/Guizzs26/siglus-sync/internal/models"
	"github.com/Guizzs26/siglus-sync/internal/routing"
	"github.com/Guizzs26/siglus-sync/pkg/metrics"
	"github.com/google/uuid"

	amqp "github.com/rabbitmq/amqp091-go"
)

const (
	// DeadLetterExchange routes rejected deliveries back to their sender by header
	DeadLetterExchange = "siglus.sync.dlx"
	HeaderSender       = "x-sender-facility"
	HeaderGroupID      = "x-group-id"
	HeaderGroupSeq     = "x-group-sequence"

	confirmTimeout = 10 * time.Second
)

// TokenIssuer signs the agent token attached to every published event
type TokenIssuer interface {
	IssueToken(ctx context.Context, machineID uuid.UUID) (string, error)
}

// RabbitMQClient publishes outbox entries with publisher confirms
type RabbitMQClient struct {
	conn       *amqp.Connection
	channel    *amqp.Channel
	logger     *slog.Logger
	senderID   uuid.UUID
	machineID  uuid.UUID
	tokens     TokenIssuer
	connClosed chan *amqp.Error
	chanClosed chan *amqp.Error
	closeOnce  sync.Once
	healthy    atomic.Bool
	ctx        context.Context
	cancel     context.CancelFunc
}

// NewRabbitMQClient connects, declares the sync topology and enables publisher confirms. tokens may
// be nil on nodes that are not activated agents
func NewRabbitMQClient(url string, senderID, machineID uuid.UUID, tokens TokenIssuer, l *slog.Logger) (*RabbitMQClient, error) {
	c, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	ch, err := c.Channel()
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("failed to open RabbitMQ channel: %w", err)
	}

	if err := declareExchanges(ch); err != nil {
		ch.Close()
		c.Close()
		return nil, err
	}

	if err := ch.Confirm(false); err != nil {
		ch.Close()
		c.Close()
		return nil, fmt.Errorf("failed to activate Publisher Confirms: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	client := &RabbitMQClient{
		conn:       c,
		channel:    ch,
		logger:     l,
		senderID:   senderID,
		machineID:  machineID,
		tokens:     tokens,
		connClosed: make(chan *amqp.Error, 1),
		chanClosed: make(chan *amqp.Error, 1),
		ctx:        ctx,
		cancel:     cancel,
	}

	client.healthy.Store(true)
	metrics.HealthStatus.Set(1)

	client.conn.NotifyClose(client.connClosed)
	client.channel.NotifyClose(client.chanClosed)

	go func() {
		select {
		case err := <-client.connClosed:
			client.markUnhealthy("RabbitMQ connection closed", err)
		case err := <-client.chanClosed:
			client.markUnhealthy("RabbitMQ channel closed", err)
		case <-client.ctx.Done():
			return
		}
	}()
	l.Info("Successfully connected to RabbitMQ and monitors established", "exchange", routing.Exchange)
	return client, nil
}

func (r *RabbitMQClient) markUnhealthy(msg string, err *amqp.Error) {
	r.healthy.Store(false)
	metrics.HealthStatus.Set(0)
	r.logger.Warn(msg, "error", err)
}

// declareExchanges is idempotent; publishers and consumers both call it
func declareExchanges(ch *amqp.Channel) error {
	if err := ch.ExchangeDeclare(routing.Exchange, amqp.ExchangeTopic, true, false, false, false, nil); err != nil {
		return fmt.Errorf("failed to declare topic exchange: %w", err)
	}
	if err := ch.ExchangeDeclare(DeadLetterExchange, amqp.ExchangeHeaders, true, false, false, false, nil); err != nil {
		return fmt.Errorf("failed to declare dead letter exchange: %w", err)
	}
	return nil
}

// Publish sends the event envelope held by entry and blocks until the broker confirms it
func (r *RabbitMQClient) Publish(ctx context.Context, routingKey string, entry models.OutboxEntry) error {
	if !r.IsHealthy() {
		return fmt.Errorf("broker connection is closed")
	}

	l := r.logger.With("event_id", entry.EventID, "routing_key", routingKey)

	msg := amqp.Publishing{
		Headers:      r.headers(entry),
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    entry.EventID.String(),
		Type:         entry.EventType,
		Timestamp:    entry.CreatedAt,
		Body:         entry.Payload,
	}
	if r.tokens != nil {
		token, err := r.tokens.IssueToken(ctx, r.machineID)
		if err != nil {
			return fmt.Errorf("sign agent token: %w", err)
		}
		msg.Headers[agent.HeaderName] = token
	}

	deferred, err := r.channel.PublishWithDeferredConfirmWithContext(ctx, routing.Exchange, routingKey, false, false, msg)
	if err != nil {
		l.Error("failed to publish message to exchange", "error", err)
		return fmt.Errorf("publish call failed: %w", err)
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-deferred.Done():
		if !deferred.Acked() {
			return fmt.Errorf("RabbitMQ NACK received: message not persisted")
		}
		return nil
	case <-time.After(confirmTimeout):
		return fmt.Errorf("publisher confirm timeout")
	}
}

func (r *RabbitMQClient) headers(entry models.OutboxEntry) amqp.Table {
	h := amqp.Table{HeaderSender: r.senderID.String()}
	if entry.GroupID != "" {
		h[HeaderGroupID] = entry.GroupID
		h[HeaderGroupSeq] = strconv.FormatInt(entry.GroupSequence, 10)
	}
	return h
}

// Close gracefully shuts down the RabbitMQ resources
func (r *RabbitMQClient) Close() error {
	r.closeOnce.Do(func() {
		r.logger.Info("Terminating RabbitMQ client")
		r.cancel()
		if r.channel != nil {
			r.channel.Close()
		}
		if r.conn != nil {
			r.conn.Close()
		}
	})
	return nil
}

// IsHealthy returns true if the connection and channel are active
func (r *RabbitMQClient) IsHealthy() bool {
	return r.healthy.Load()
}
