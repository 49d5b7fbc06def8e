package queue_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/fuua/internal/queue"
)

func newClient(t *testing.T) *redis.Client {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestEnqueueDequeue(t *testing.T) {
	client := newClient(t)
	enq := queue.Enqueuer{R: client, Prefix: "test"}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, enq.Enqueue(ctx, queue.Task{Kind: "kitchen-ticket", Payload: []byte("payload"), IdempotencyKey: "1"}))

	processed := make(chan queue.Task, 1)
	worker := queue.Worker{
		R:                 client,
		Prefix:            "test",
		Kind:              "kitchen-ticket",
		Concurrency:       1,
		VisibilityTimeout: time.Second,
		RetryBase:         10 * time.Millisecond,
		PollInterval:      5 * time.Millisecond,
		Handler: func(ctx context.Context, task queue.Task) error {
			processed <- task
			cancel()
			return nil
		},
	}
	go func() { _ = worker.Run(ctx) }()

	select {
	case task := <-processed:
		require.Equal(t, []byte("payload"), task.Payload)
		require.Equal(t, 1, task.Attempt)
		require.Equal(t, "1", task.IdempotencyKey)
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for payload")
	}
}

func TestEnqueueDeduplicates(t *testing.T) {
	client := newClient(t)
	enq := queue.Enqueuer{R: client, Prefix: "dedup", DedupTTL: time.Minute}
	ctx := context.Background()

	require.NoError(t, enq.Enqueue(ctx, queue.Task{Kind: "kitchen-ticket", Payload: []byte("a"), IdempotencyKey: "order-1"}))
	require.NoError(t, enq.Enqueue(ctx, queue.Task{Kind: "kitchen-ticket", Payload: []byte("a"), IdempotencyKey: "order-1"}))
	require.NoError(t, enq.Enqueue(ctx, queue.Task{Kind: "kitchen-ticket", Payload: []byte("b")}))

	depth, err := client.ZCard(ctx, "dedup:queue:kitchen-ticket").Result()
	require.NoError(t, err)
	require.EqualValues(t, 2, depth)
}

func TestEnqueueRejectsBadKind(t *testing.T) {
	enq := queue.Enqueuer{R: newClient(t)}
	require.Error(t, enq.Enqueue(context.Background(), queue.Task{Kind: "Kitchen Ticket"}))
	require.Error(t, enq.Enqueue(context.Background(), queue.Task{}))
	require.Error(t, queue.Enqueuer{}.Enqueue(context.Background(), queue.Task{Kind: "x"}))
}

func TestWorkerRetries(t *testing.T) {
	client := newClient(t)
	enq := queue.Enqueuer{R: client, Prefix: "retry"}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, enq.Enqueue(ctx, queue.Task{Kind: "kitchen-ticket", Payload: []byte("retry"), IdempotencyKey: "r1", MaxAttempts: 3}))

	var attempts atomic.Int32
	worker := queue.Worker{
		R:                 client,
		Prefix:            "retry",
		Kind:              "kitchen-ticket",
		Concurrency:       1,
		VisibilityTimeout: time.Second,
		RetryBase:         5 * time.Millisecond,
		RetryJitter:       0.1,
		PollInterval:      5 * time.Millisecond,
		Handler: func(ctx context.Context, task queue.Task) error {
			if attempts.Add(1) == 1 {
				return errors.New("fail first")
			}
			cancel()
			return nil
		},
	}
	go func() { _ = worker.Run(ctx) }()

	select {
	case <-ctx.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not retry in time")
	}
	require.GreaterOrEqual(t, attempts.Load(), int32(2))
}
