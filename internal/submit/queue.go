package submit

import (
	"context"
	"fmt"

	"github.com/noah-isme/fuua/internal/order"
	"github.com/noah-isme/fuua/internal/queue"
)

// Enqueuer is the subset of queue.Enqueuer used here.
type Enqueuer interface {
	Enqueue(ctx context.Context, t queue.Task) error
}

// Queue pushes the ticket onto the Redis job queue for the kitchen worker.
type Queue struct {
	Enqueuer    Enqueuer
	MaxAttempts int
}

// Submit implements order.Submitter. The ticket id is the dedup key.
func (q Queue) Submit(ctx context.Context, wraps []order.ConfirmedWrap) error {
	if q.Enqueuer == nil {
		return fmt.Errorf("submit: queue not configured")
	}
	t := TicketFor(ctx, wraps)
	payload, err := t.Encode()
	if err != nil {
		return fmt.Errorf("submit: encode ticket: %w", err)
	}
	if err := q.Enqueuer.Enqueue(ctx, queue.Task{
		Kind:           QueueKind,
		Payload:        payload,
		IdempotencyKey: t.ID,
		MaxAttempts:    q.MaxAttempts,
	}); err != nil {
		return fmt.Errorf("submit: enqueue ticket: %w", err)
	}
	return nil
}
