package submit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/noah-isme/fuua/internal/order"
	"github.com/noah-isme/fuua/internal/resilience"
)

// MessageWriter is satisfied by *kafka.Writer.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

// Kafka publishes the ticket to an order topic keyed by session.
type Kafka struct {
	Writer  MessageWriter
	Breaker *resilience.Breaker
}

// NewKafkaWriter returns a synchronous writer for topic.
func NewKafkaWriter(brokers []string, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: 10 * time.Millisecond,
		RequiredAcks: kafka.RequireAll,
		Async:        false,
	}
}

// Submit implements order.Submitter.
func (k Kafka) Submit(ctx context.Context, wraps []order.ConfirmedWrap) error {
	if k.Writer == nil {
		return errors.New("submit: kafka writer not configured")
	}
	t := TicketFor(ctx, wraps)
	value, err := t.Encode()
	if err != nil {
		return fmt.Errorf("submit: encode ticket: %w", err)
	}
	key := t.SessionID
	if key == "" {
		key = t.ID
	}
	msg := kafka.Message{
		Key:   []byte(key),
		Value: value,
		Headers: []kafka.Header{
			{Key: "ticket-id", Value: []byte(t.ID)},
			{Key: "content-type", Value: []byte("application/json")},
		},
		Time: t.SubmittedAt,
	}
	write := func(ctx context.Context) error { return k.Writer.WriteMessages(ctx, msg) }
	if k.Breaker != nil {
		err = k.Breaker.Execute(ctx, write)
	} else {
		err = write(ctx)
	}
	if err != nil {
		return fmt.Errorf("submit: kafka publish: %w", err)
	}
	return nil
}
