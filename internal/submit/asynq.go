package submit

import (
	"context"
	"errors"
	"fmt"

	"github.com/hibiken/asynq"

	"github.com/noah-isme/fuua/internal/order"
)

// TaskEnqueuer is satisfied by *asynq.Client.
type TaskEnqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// Asynq enqueues the ticket as an asynq task.
type Asynq struct {
	Client   TaskEnqueuer
	Queue    string
	MaxRetry int
}

// NewAsynqTask wraps a ticket in an asynq task.
func NewAsynqTask(t Ticket) (*asynq.Task, error) {
	payload, err := t.Encode()
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(AsynqTaskType, payload), nil
}

// Submit implements order.Submitter. A ticket already enqueued is not an error.
func (a Asynq) Submit(ctx context.Context, wraps []order.ConfirmedWrap) error {
	if a.Client == nil {
		return errors.New("submit: asynq client not configured")
	}
	t := TicketFor(ctx, wraps)
	task, err := NewAsynqTask(t)
	if err != nil {
		return fmt.Errorf("submit: encode ticket: %w", err)
	}
	queue := a.Queue
	if queue == "" {
		queue = AsynqQueueName
	}
	opts := []asynq.Option{asynq.Queue(queue), asynq.TaskID(t.ID)}
	if a.MaxRetry > 0 {
		opts = append(opts, asynq.MaxRetry(a.MaxRetry))
	}
	if _, err := a.Client.EnqueueContext(ctx, task, opts...); err != nil {
		if errors.Is(err, asynq.ErrTaskIDConflict) {
			return nil
		}
		return fmt.Errorf("submit: asynq enqueue: %w", err)
	}
	return nil
}
