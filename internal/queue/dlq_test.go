package queue_test

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/fuua/internal/queue"
)

func TestMoveToDLQAfterMaxAttempts(t *testing.T) {
	client := newClient(t)
	store := queue.NewRedisStore(client, "dlq")
	enq := queue.Enqueuer{R: client, Prefix: "dlq", MaxAttempts: 2}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	log := zerolog.New(io.Discard)
	worker := queue.Worker{
		R:                 client,
		Prefix:            "dlq",
		Kind:              "kitchen-ticket",
		Concurrency:       1,
		VisibilityTimeout: 120 * time.Millisecond,
		RetryBase:         20 * time.Millisecond,
		PollInterval:      5 * time.Millisecond,
		Store:             store,
		Logger:            &log,
		Handler: func(context.Context, queue.Task) error {
			return errors.New("printer jammed")
		},
	}

	done := make(chan struct{})
	go func() {
		_ = worker.Run(ctx)
		close(done)
	}()

	require.NoError(t, enq.Enqueue(context.Background(), queue.Task{Kind: "kitchen-ticket", Payload: []byte(`{"id":"o1"}`), IdempotencyKey: "dlq1"}))

	require.Eventually(t, func() bool {
		count, err := store.CountQueueDlq(context.Background(), "kitchen-ticket")
		return err == nil && count == 1
	}, 2*time.Second, 20*time.Millisecond)

	entries, err := store.ListQueueDlq(context.Background(), "", 10, 0)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	entry := entries[0]
	require.Equal(t, "kitchen-ticket", entry.Kind)
	require.Equal(t, "dlq1", entry.IdempotencyKey)
	require.Equal(t, 2, entry.Attempts)
	require.NotNil(t, entry.LastError)
	require.Equal(t, "printer jammed", *entry.LastError)

	sizes, err := store.QueueDlqSizeByKind(context.Background())
	require.NoError(t, err)
	require.Equal(t, map[string]int64{"kitchen-ticket": 1}, sizes)

	cancel()
	<-done
}

func TestRedisStoreGetDelete(t *testing.T) {
	store := queue.NewRedisStore(newClient(t), "s")
	ctx := context.Background()

	id, err := store.InsertQueueDlq(ctx, queue.DLQEntry{Kind: "kitchen-ticket", Payload: []byte("{}"), Attempts: 3})
	require.NoError(t, err)

	got, err := store.GetQueueDlq(ctx, id)
	require.NoError(t, err)
	require.Equal(t, 3, got.Attempts)
	require.False(t, got.CreatedAt.IsZero())

	require.NoError(t, store.DeleteQueueDlq(ctx, id))
	_, err = store.GetQueueDlq(ctx, id)
	require.ErrorIs(t, err, queue.ErrDLQEntryNotFound)

	n, err := store.CountQueueDlq(ctx, "kitchen-ticket")
	require.NoError(t, err)
	require.Zero(t, n)
}
