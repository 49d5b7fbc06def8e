package kitchen_test

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/fuua/internal/kitchen"
	"github.com/noah-isme/fuua/internal/menu"
	"github.com/noah-isme/fuua/internal/obs"
	"github.com/noah-isme/fuua/internal/order"
	"github.com/noah-isme/fuua/internal/queue"
	"github.com/noah-isme/fuua/internal/submit"
)

func ticketPayload(t *testing.T) (submit.Ticket, []byte) {
	t.Helper()
	m := menu.Default()
	vegan, _ := m.WrapType("vegan")
	bbq, _ := m.Find(menu.Sauces, "bbq")
	ticket := submit.NewTicket(obs.WithSessionID(context.Background(), "sess-7"), []order.ConfirmedWrap{
		{ID: "w-000001", Type: vegan, Items: []menu.Item{bbq}, Total: 674},
	})
	raw, err := ticket.Encode()
	require.NoError(t, err)
	return ticket, raw
}

func newRedis(t *testing.T) *redis.Client {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestPrintTicket(t *testing.T) {
	ticket, _ := ticketPayload(t)
	var out bytes.Buffer
	kitchen.PrintTicket(&out, ticket)
	text := out.String()
	require.True(t, strings.HasPrefix(text, "=== ticket "+ticket.ID+" (session sess-7) ===\n"))
	require.Contains(t, text, "w-000001  Vegan Wrap  $5.99\n")
	require.Contains(t, text, "BBQ")
	require.True(t, strings.HasSuffix(text, "TOTAL $6.74\n"))
}

func TestHandlePrintsOnce(t *testing.T) {
	obs.MustRegisterDomainMetrics("fuua_test", prometheus.NewRegistry())
	client := newRedis(t)
	var out bytes.Buffer
	k := &kitchen.Kitchen{R: client, Out: &out}
	_, raw := ticketPayload(t)

	printedBefore := testutil.ToFloat64(obs.KitchenTicketsTotal.WithLabelValues(kitchen.SourceQueue, kitchen.ResultPrinted))
	dupBefore := testutil.ToFloat64(obs.KitchenTicketsTotal.WithLabelValues(kitchen.SourceAsynq, kitchen.ResultDuplicate))

	require.NoError(t, k.Handle(context.Background(), kitchen.SourceQueue, raw))
	require.NoError(t, k.Handle(context.Background(), kitchen.SourceAsynq, raw))
	require.Equal(t, 1, strings.Count(out.String(), "=== ticket"))

	require.Equal(t, printedBefore+1, testutil.ToFloat64(obs.KitchenTicketsTotal.WithLabelValues(kitchen.SourceQueue, kitchen.ResultPrinted)))
	require.Equal(t, dupBefore+1, testutil.ToFloat64(obs.KitchenTicketsTotal.WithLabelValues(kitchen.SourceAsynq, kitchen.ResultDuplicate)))
}

func TestHandleConcurrentDeliveries(t *testing.T) {
	client := newRedis(t)
	var out syncBuffer
	k := &kitchen.Kitchen{R: client, Out: &out}
	_, raw := ticketPayload(t)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = k.Handle(context.Background(), kitchen.SourceKafka, raw)
		}()
	}
	wg.Wait()
	require.Equal(t, 1, strings.Count(out.String(), "=== ticket"))
}

// failSeenOnce fails the first write of a seen marker.
type failSeenOnce struct {
	mu     sync.Mutex
	failed bool
}

func (h *failSeenOnce) DialHook(next redis.DialHook) redis.DialHook { return next }

func (h *failSeenOnce) ProcessHook(next redis.ProcessHook) redis.ProcessHook {
	return func(ctx context.Context, cmd redis.Cmder) error {
		if strings.Contains(fmt.Sprint(cmd.Args()...), "seen:") {
			h.mu.Lock()
			first := !h.failed
			h.failed = true
			h.mu.Unlock()
			if first {
				err := errors.New("connection reset")
				cmd.SetErr(err)
				return err
			}
		}
		return next(ctx, cmd)
	}
}

func (h *failSeenOnce) ProcessPipelineHook(next redis.ProcessPipelineHook) redis.ProcessPipelineHook {
	return next
}

func TestHandleRedisFailureDoesNotPrint(t *testing.T) {
	client := newRedis(t)
	client.AddHook(&failSeenOnce{})
	var out bytes.Buffer
	k := &kitchen.Kitchen{R: client, Out: &out}
	_, raw := ticketPayload(t)

	require.Error(t, k.Handle(context.Background(), kitchen.SourceQueue, raw))
	require.Empty(t, out.String())

	require.NoError(t, k.Handle(context.Background(), kitchen.SourceQueue, raw))
	require.NoError(t, k.Handle(context.Background(), kitchen.SourceQueue, raw))
	require.Equal(t, 1, strings.Count(out.String(), "=== ticket"))
}

func TestHandleWithoutRedisAlwaysPrints(t *testing.T) {
	var out bytes.Buffer
	k := &kitchen.Kitchen{Out: &out}
	_, raw := ticketPayload(t)
	require.NoError(t, k.Handle(context.Background(), kitchen.SourceQueue, raw))
	require.NoError(t, k.Handle(context.Background(), kitchen.SourceQueue, raw))
	require.Equal(t, 2, strings.Count(out.String(), "=== ticket"))
}

func TestHandleInvalidPayload(t *testing.T) {
	k := &kitchen.Kitchen{Out: io.Discard}
	require.ErrorIs(t, k.Handle(context.Background(), kitchen.SourceQueue, []byte("not json")), kitchen.ErrInvalidTicket)
	require.ErrorIs(t, k.Handle(context.Background(), kitchen.SourceQueue, []byte(`{"wraps":[]}`)), kitchen.ErrInvalidTicket)

	err := k.AsynqHandler()(context.Background(), asynq.NewTask(submit.AsynqTaskType, []byte("{")))
	require.ErrorIs(t, err, asynq.SkipRetry)
}

func TestQueueWorkerDeliversToKitchen(t *testing.T) {
	client := newRedis(t)
	var out syncBuffer
	k := &kitchen.Kitchen{R: client, Out: &out}

	sub := submit.Queue{Enqueuer: queue.Enqueuer{R: client, Prefix: "fuua"}}
	m := menu.Default()
	meat, _ := m.WrapType("meat")
	egg, _ := m.Find(menu.Toppings, "egg")
	require.NoError(t, sub.Submit(context.Background(), []order.ConfirmedWrap{{ID: "w-000003", Type: meat, Items: []menu.Item{egg}, Total: 799}}))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	handler := k.QueueHandler()
	worker := queue.Worker{
		R:            client,
		Prefix:       "fuua",
		Kind:         submit.QueueKind,
		Concurrency:  1,
		PollInterval: 5 * time.Millisecond,
		Handler: func(ctx context.Context, task queue.Task) error {
			defer cancel()
			return handler(ctx, task)
		},
	}
	_ = worker.Run(ctx)
	require.Contains(t, out.String(), "w-000003  Meat Wrap  $6.99")
}

type fakeReader struct {
	msgs      []kafka.Message
	committed []int64
	cancel    context.CancelFunc
}

func (f *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	if len(f.msgs) == 0 {
		f.cancel()
		<-ctx.Done()
		return kafka.Message{}, ctx.Err()
	}
	msg := f.msgs[0]
	f.msgs = f.msgs[1:]
	return msg, nil
}

func (f *fakeReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	for _, m := range msgs {
		f.committed = append(f.committed, m.Offset)
	}
	return nil
}

func TestConsumeKafkaCommitsHandledAndInvalid(t *testing.T) {
	client := newRedis(t)
	var out bytes.Buffer
	k := &kitchen.Kitchen{R: client, Out: &out}
	_, raw := ticketPayload(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	reader := &fakeReader{
		msgs: []kafka.Message{
			{Offset: 1, Value: raw},
			{Offset: 2, Value: []byte("garbage")},
			{Offset: 3, Value: raw},
		},
		cancel: cancel,
	}
	require.NoError(t, k.ConsumeKafka(ctx, reader))
	require.Equal(t, []int64{1, 2, 3}, reader.committed)
	require.Equal(t, 1, strings.Count(out.String(), "=== ticket"))
}

func TestConsumeKafkaSkipsCommitOnFailure(t *testing.T) {
	client := newRedis(t)
	require.NoError(t, client.Close())
	k := &kitchen.Kitchen{R: client, Out: io.Discard}
	_, raw := ticketPayload(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	reader := &fakeReader{msgs: []kafka.Message{{Offset: 1, Value: raw}}, cancel: cancel}
	require.NoError(t, k.ConsumeKafka(ctx, reader))
	require.Empty(t, reader.committed)
	require.True(t, errors.Is(ctx.Err(), context.Canceled))
}

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (s *syncBuffer) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buf.Write(p)
}

func (s *syncBuffer) String() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buf.String()
}
