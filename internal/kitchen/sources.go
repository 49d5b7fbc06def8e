package kitchen

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"github.com/segmentio/kafka-go"

	"github.com/noah-isme/fuua/internal/queue"
	"github.com/noah-isme/fuua/internal/submit"
)

// Ticket sources.
const (
	SourceQueue = "queue"
	SourceAsynq = "asynq"
	SourceKafka = "kafka"
)

// QueueHandler adapts the kitchen to queue.Worker.
func (k *Kitchen) QueueHandler() func(context.Context, queue.Task) error {
	return func(ctx context.Context, task queue.Task) error {
		return k.Handle(ctx, SourceQueue, task.Payload)
	}
}

// AsynqHandler adapts the kitchen to an asynq mux. Invalid tickets are not retried.
func (k *Kitchen) AsynqHandler() asynq.HandlerFunc {
	return func(ctx context.Context, task *asynq.Task) error {
		err := k.Handle(ctx, SourceAsynq, task.Payload())
		if errors.Is(err, ErrInvalidTicket) {
			return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
		}
		return err
	}
}

// NewAsynqMux routes kitchen ticket tasks.
func (k *Kitchen) NewAsynqMux() *asynq.ServeMux {
	mux := asynq.NewServeMux()
	mux.Handle(submit.AsynqTaskType, k.AsynqHandler())
	return mux
}

// MessageReader is satisfied by *kafka.Reader.
type MessageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
}

// NewKafkaReader returns a consumer-group reader for the order topic.
func NewKafkaReader(brokers []string, topic, group string) *kafka.Reader {
	return kafka.NewReader(kafka.ReaderConfig{
		Brokers:        brokers,
		GroupID:        group,
		Topic:          topic,
		MinBytes:       1,
		MaxBytes:       1 << 20,
		MaxWait:        time.Second,
		CommitInterval: 0,
	})
}

// ConsumeKafka handles messages until ctx ends. Messages are committed after
// they are handled; invalid ones are committed too so they do not block the
// partition.
func (k *Kitchen) ConsumeKafka(ctx context.Context, r MessageReader) error {
	for {
		msg, err := r.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			k.logger().Error().Err(err).Msg("kafka fetch failed")
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(time.Second):
			}
			continue
		}
		if err := k.Handle(ctx, SourceKafka, msg.Value); err != nil && !errors.Is(err, ErrInvalidTicket) {
			continue
		}
		if err := r.CommitMessages(ctx, msg); err != nil && ctx.Err() == nil {
			k.logger().Error().Err(err).Int64("offset", msg.Offset).Msg("kafka commit failed")
		}
	}
}
