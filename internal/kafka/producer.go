package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"ms-checkout/internal/models"

	"github.com/segmentio/kafka-go"
)

// Topics for order lifecycle events.
const (
	TopicOrderCreated   = "checkout.order.created"
	TopicOrderPaid      = "checkout.order.paid"
	TopicOrderCancelled = "checkout.order.cancelled"
)

type OrderEventMessage struct {
	Type      string       `json:"type"`
	Order     models.Order `json:"order"`
	Timestamp time.Time    `json:"timestamp"`
}

type Producer struct {
	Writer *kafka.Writer
}

func NewProducer(brokers []string) *Producer {
	writer := &kafka.Writer{
		Addr:     kafka.TCP(brokers...),
		Balancer: &kafka.LeastBytes{},
	}
	return &Producer{Writer: writer}
}

// Publish writes one message to the given topic, keyed for per-order ordering.
func (p *Producer) Publish(topic, key string, value []byte) error {
	return p.Writer.WriteMessages(context.Background(),
		kafka.Message{
			Topic: topic,
			Key:   []byte(key),
			Value: value,
		},
	)
}

func (p *Producer) publishOrderEvent(topic, eventType string, order models.Order) error {
	msg := OrderEventMessage{
		Type:      eventType,
		Order:     order,
		Timestamp: time.Now().UTC(),
	}
	value, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal %s event: %w", eventType, err)
	}
	return p.Publish(topic, order.ID, value)
}

// PublishOrderCreated streams the order creation event.
func (p *Producer) PublishOrderCreated(order models.Order) error {
	return p.publishOrderEvent(TopicOrderCreated, "order.created", order)
}

// PublishOrderPaid streams the successful payment event.
func (p *Producer) PublishOrderPaid(order models.Order) error {
	return p.publishOrderEvent(TopicOrderPaid, "order.paid", order)
}

// PublishOrderCancelled streams the cancellation event.
func (p *Producer) PublishOrderCancelled(order models.Order) error {
	return p.publishOrderEvent(TopicOrderCancelled, "order.cancelled", order)
}

func (p *Producer) Close() error {
	return p.Writer.Close()
}

// NoopPublisher satisfies the order service's publisher interface when Kafka
// is disabled (local development, tests).
type NoopPublisher struct{}

func (NoopPublisher) PublishOrderCreated(models.Order) error   { return nil }
func (NoopPublisher) PublishOrderPaid(models.Order) error      { return nil }
func (NoopPublisher) PublishOrderCancelled(models.Order) error { return nil }
