package services

import (
	"context"
	"encoding/json"
	"errors"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"reservo_app_echo/internal/models"
)

const (
	RoutingKeyPaymentStatusChanged = "payment.status_changed"
	RoutingKeyReceiptIssued        = "receipt.issued"
)

// PaymentStatusChangedEvent is published only when a stored status actually changes
type PaymentStatusChangedEvent struct {
	PaymentID     uint                 `json:"payment_id"`
	BusinessID    uint                 `json:"business_id"`
	TransactionID string               `json:"transaction_id"`
	FromStatus    models.PaymentStatus `json:"from_status,omitempty"`
	ToStatus      models.PaymentStatus `json:"to_status"`
	Scenario      models.Scenario      `json:"scenario,omitempty"`
	Recurring     bool                 `json:"recurring"`
	Timestamp     time.Time            `json:"timestamp"`
}

type ReceiptIssuedEvent struct {
	ReceiptID      uint              `json:"receipt_id"`
	BusinessID     uint              `json:"business_id"`
	ReceiptNumber  string            `json:"receipt_number"`
	SequenceNumber int64             `json:"sequence_number"`
	SourceType     models.SourceType `json:"source_type"`
	SourceID       uint              `json:"source_id"`
	Total          int64             `json:"total"`
	Timestamp      time.Time         `json:"timestamp"`
}

// Publisher is implemented by types that can publish domain events
type Publisher interface {
	Publish(ctx context.Context, routingKey string, body interface{}) error
	Close()
}

// NoopPublisher is used when RabbitMQ is not configured or unavailable at startup
type NoopPublisher struct {
	logger *zap.Logger
}

func NewNoopPublisher(logger *zap.Logger) *NoopPublisher {
	return &NoopPublisher{logger: logger}
}

func (p *NoopPublisher) Publish(ctx context.Context, routingKey string, body interface{}) error {
	p.logger.Debug("event publish skipped", zap.String("routing_key", routingKey))
	return nil
}

func (p *NoopPublisher) Close() {}

// EventProducer publishes JSON events to a durable topic exchange
type EventProducer struct {
	mu       sync.Mutex
	conn     *amqp091.Connection
	channel  *amqp091.Channel
	exchange string
	logger   *zap.Logger
}

func sanitizeAMQPURL(raw string) (string, error) {
	clean := strings.Trim(strings.TrimSpace(raw), "\"'")
	u, err := url.Parse(clean)
	if err != nil {
		return "", err
	}
	if u.Scheme != "amqp" && u.Scheme != "amqps" {
		return "", errors.New("AMQP scheme must be either 'amqp://' or 'amqps://'")
	}
	return clean, nil
}

// NewEventProducer dials RabbitMQ and declares the exchange
func NewEventProducer(amqpURL, exchange string, logger *zap.Logger) (*EventProducer, error) {
	cleanURL, err := sanitizeAMQPURL(amqpURL)
	if err != nil {
		return nil, err
	}

	conn, err := amqp091.DialConfig(cleanURL, amqp091.Config{Dial: amqp091.DefaultDial(10 * time.Second)})
	if err != nil {
		return nil, err
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, err
	}

	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, err
	}

	return &EventProducer{conn: conn, channel: ch, exchange: exchange, logger: logger}, nil
}

func (p *EventProducer) Publish(ctx context.Context, routingKey string, body interface{}) error {
	jsonBody, err := json.Marshal(body)
	if err != nil {
		return err
	}

	msg := amqp091.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp091.Persistent,
		Timestamp:    time.Now(),
		Body:         jsonBody,
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	err = p.channel.PublishWithContext(ctx, p.exchange, routingKey, false, false, msg)
	if err == nil {
		return nil
	}

	p.logger.Warn("publish failed; reopening channel", zap.String("routing_key", routingKey), zap.Error(err))
	ch, chErr := p.conn.Channel()
	if chErr != nil {
		return chErr
	}
	p.channel = ch
	return p.channel.PublishWithContext(ctx, p.exchange, routingKey, false, false, msg)
}

func (p *EventProducer) Close() {
	if p.channel != nil {
		p.channel.Close()
	}
	if p.conn != nil {
		p.conn.Close()
	}
}

// NewPublisher returns an EventProducer, or a NoopPublisher when amqpURL is empty or unreachable
func NewPublisher(amqpURL, exchange string, logger *zap.Logger) Publisher {
	if amqpURL == "" {
		logger.Warn("RABBITMQ_URL not set; events will not be published")
		return NewNoopPublisher(logger)
	}
	producer, err := NewEventProducer(amqpURL, exchange, logger)
	if err != nil {
		logger.Warn("rabbitmq unavailable; events will not be published", zap.Error(err))
		return NewNoopPublisher(logger)
	}
	return producer
}

// publishBestEffort logs and swallows publish failures
func publishBestEffort(ctx context.Context, pub Publisher, logger *zap.Logger, routingKey string, body interface{}) {
	if pub == nil {
		return
	}
	if err := pub.Publish(ctx, routingKey, body); err != nil {
		logger.Warn("failed to publish event", zap.String("routing_key", routingKey), zap.Error(err))
	}
}
