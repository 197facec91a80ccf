package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/briefly60/payment-service/internal/domain"
	"github.com/briefly60/payment-service/pkg/logger"
)

// Topics for subscription lifecycle events consumed by the rest of the platform
const (
	TopicSubscriptionActivated = "subscription_activated"
	TopicPaymentFailed         = "subscription_payment_failed"
)

// SubscriptionEvent is the message body published on lifecycle transitions
type SubscriptionEvent struct {
	SubscriptionID string     `json:"subscription_id"`
	UserID         string     `json:"user_id"`
	PlanID         string     `json:"plan_id"`
	PlanName       string     `json:"plan_name"`
	TransactionID  string     `json:"transaction_id"`
	Amount         float64    `json:"amount"`
	Currency       string     `json:"currency"`
	PaymentStatus  string     `json:"payment_status"`
	StartDate      *time.Time `json:"start_date,omitempty"`
	EndDate        *time.Time `json:"end_date,omitempty"`
	ErrorMessage   string     `json:"error_message,omitempty"`
	OccurredAt     time.Time  `json:"occurred_at"`
}

// Producer publishes subscription lifecycle events to Kafka
type Producer interface {
	PublishSubscriptionActivated(ctx context.Context, subscription domain.Subscription) error
	PublishPaymentFailed(ctx context.Context, subscription domain.Subscription) error
	Close() error
}

type kafkaProducer struct {
	writer *kafka.Writer
	log    *logger.Logger
}

// NewProducer creates a Kafka producer over the given brokers
func NewProducer(brokers []string, log *logger.Logger) (Producer, error) {
	if len(brokers) == 0 {
		return nil, errors.New("kafka brokers are not configured")
	}

	writer := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Balancer:     &kafka.LeastBytes{},
		RequiredAcks: kafka.RequireOne,
		BatchSize:    100,
		BatchTimeout: 10 * time.Millisecond,
		WriteTimeout: 10 * time.Second,
		ReadTimeout:  10 * time.Second,
	}

	log.Infow("Kafka producer initialized", "brokers", brokers)
	return &kafkaProducer{
		writer: writer,
		log:    log,
	}, nil
}

// PublishSubscriptionActivated emits an event after a payment completes
func (k *kafkaProducer) PublishSubscriptionActivated(ctx context.Context, subscription domain.Subscription) error {
	return k.publish(ctx, TopicSubscriptionActivated, subscription)
}

// PublishPaymentFailed emits an event after a payment fails or is cancelled
func (k *kafkaProducer) PublishPaymentFailed(ctx context.Context, subscription domain.Subscription) error {
	return k.publish(ctx, TopicPaymentFailed, subscription)
}

func (k *kafkaProducer) publish(ctx context.Context, topic string, subscription domain.Subscription) error {
	event := SubscriptionEvent{
		SubscriptionID: subscription.ID.String(),
		UserID:         subscription.UserID,
		PlanID:         subscription.PlanSnapshot.PlanID,
		PlanName:       subscription.PlanSnapshot.Name,
		TransactionID:  subscription.PaymentInfo.TransactionID,
		Amount:         subscription.PaymentInfo.AmountPaid,
		Currency:       subscription.PaymentInfo.Currency,
		PaymentStatus:  string(subscription.PaymentInfo.PaymentStatus),
		StartDate:      subscription.StartDate,
		EndDate:        subscription.EndDate,
		ErrorMessage:   subscription.PaymentInfo.ErrorMessage,
		OccurredAt:     time.Now(),
	}

	value, err := json.Marshal(event)
	if err != nil {
		k.log.Errorw("Failed to marshal subscription event", "error", err, "topic", topic, "transactionID", event.TransactionID)
		return fmt.Errorf("kafka: failed to marshal event: %w", err)
	}

	// Keyed by transaction id so all events for one payment land in the
	// same partition and keep their order.
	message := kafka.Message{
		Topic: topic,
		Key:   []byte(event.TransactionID),
		Value: value,
		Time:  time.Now(),
	}

	writeCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	if err := k.writer.WriteMessages(writeCtx, message); err != nil {
		k.log.Errorw("Failed to publish subscription event", "error", err, "topic", topic, "transactionID", event.TransactionID)
		return fmt.Errorf("kafka: failed to publish event: %w", err)
	}

	k.log.Debugw("Subscription event published", "topic", topic, "transactionID", event.TransactionID)
	return nil
}

// Close flushes and closes the underlying writer
func (k *kafkaProducer) Close() error {
	return k.writer.Close()
}
