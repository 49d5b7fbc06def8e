package submit_test

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/fuua/internal/menu"
	"github.com/noah-isme/fuua/internal/obs"
	"github.com/noah-isme/fuua/internal/order"
	"github.com/noah-isme/fuua/internal/queue"
	"github.com/noah-isme/fuua/internal/resilience"
	"github.com/noah-isme/fuua/internal/submit"
)

func sampleWraps() []order.ConfirmedWrap {
	m := menu.Default()
	meat, _ := m.WrapType("meat")
	lettuce, _ := m.Find(menu.Vegetables, "lettuce")
	cheese, _ := m.Find(menu.Toppings, "cheese")
	return []order.ConfirmedWrap{{ID: "w-000001", Type: meat, Items: []menu.Item{lettuce, cheese}, Total: 849}}
}

func TestTicketCarriesSessionAndTotal(t *testing.T) {
	ctx := obs.WithSessionID(context.Background(), "sess-1")
	ticket := submit.NewTicket(ctx, sampleWraps())
	require.NotEmpty(t, ticket.ID)
	require.Equal(t, "sess-1", ticket.SessionID)
	require.EqualValues(t, 849, ticket.Total)

	raw, err := ticket.Encode()
	require.NoError(t, err)
	decoded, err := submit.DecodeTicket(raw)
	require.NoError(t, err)
	require.Equal(t, ticket.ID, decoded.ID)
	require.Equal(t, "Lettuce", decoded.Wraps[0].Items[0].Name)

	empty := submit.NewTicket(context.Background(), nil)
	require.NotNil(t, empty.Wraps)
	require.Zero(t, empty.Total)
}

func TestLogSubmitterPrintsSendingOrder(t *testing.T) {
	var out, logs bytes.Buffer
	logger := zerolog.New(&logs)
	err := submit.Log{Out: &out, Logger: &logger}.Submit(context.Background(), sampleWraps())
	require.NoError(t, err)
	require.Equal(t, "Sending order: Meat Wrap [Lettuce, Cheese] $8.49\n", out.String())
	require.Contains(t, logs.String(), `"message":"Sending order"`)
	require.Contains(t, logs.String(), `"component":"submit.log"`)

	require.Equal(t, "(empty)", submit.Summary(nil))
}

func TestWebhookSignsTicket(t *testing.T) {
	var (
		mu       sync.Mutex
		body     []byte
		captured http.Header
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		body, _ = io.ReadAll(r.Body)
		captured = r.Header.Clone()
		w.WriteHeader(http.StatusAccepted)
	}))
	t.Cleanup(srv.Close)

	wh := submit.Webhook{
		URL:    srv.URL,
		Secret: "s3cret",
		Client: resilience.HTTPClient{Client: srv.Client(), MaxAttempts: 1},
	}
	require.NoError(t, wh.Submit(context.Background(), sampleWraps()))

	mu.Lock()
	defer mu.Unlock()
	ticket, err := submit.DecodeTicket(body)
	require.NoError(t, err)
	require.Equal(t, ticket.ID, captured.Get("X-Ticket-ID"))
	ts, err := strconv.ParseInt(captured.Get("X-Timestamp"), 10, 64)
	require.NoError(t, err)
	require.Equal(t, submit.ComputeSignature("s3cret", ts, ticket.ID, body), captured.Get("X-Signature"))
	require.Equal(t, "application/json", captured.Get("Content-Type"))
}

func TestWebhookRejectedStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	t.Cleanup(srv.Close)

	wh := submit.Webhook{URL: srv.URL, Client: resilience.HTTPClient{Client: srv.Client(), MaxAttempts: 1}}
	err := wh.Submit(context.Background(), sampleWraps())
	var statusErr *resilience.StatusError
	require.ErrorAs(t, err, &statusErr)
	require.Equal(t, http.StatusBadRequest, statusErr.StatusCode)

	require.Error(t, submit.Webhook{}.Submit(context.Background(), nil))
}

func TestQueueSubmitterEnqueuesOnce(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	q := submit.Queue{Enqueuer: queue.Enqueuer{R: client, Prefix: "t"}}
	ctx := submit.WithTicket(context.Background(), submit.NewTicket(context.Background(), sampleWraps()))
	require.NoError(t, q.Submit(ctx, sampleWraps()))
	require.NoError(t, q.Submit(ctx, sampleWraps()))

	n, err := client.ZCard(context.Background(), "t:queue:"+submit.QueueKind).Result()
	require.NoError(t, err)
	require.EqualValues(t, 1, n)
}

type fakeAsynq struct {
	tasks []*asynq.Task
	opts  [][]asynq.Option
	err   error
}

func (f *fakeAsynq) EnqueueContext(_ context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error) {
	f.tasks = append(f.tasks, task)
	f.opts = append(f.opts, opts)
	return &asynq.TaskInfo{}, f.err
}

func TestAsynqSubmitter(t *testing.T) {
	fake := &fakeAsynq{}
	require.NoError(t, submit.Asynq{Client: fake, MaxRetry: 3}.Submit(context.Background(), sampleWraps()))
	require.Len(t, fake.tasks, 1)
	require.Equal(t, submit.AsynqTaskType, fake.tasks[0].Type())
	require.Len(t, fake.opts[0], 3)

	ticket, err := submit.DecodeTicket(fake.tasks[0].Payload())
	require.NoError(t, err)
	require.Len(t, ticket.Wraps, 1)

	fake.err = asynq.ErrTaskIDConflict
	require.NoError(t, submit.Asynq{Client: fake}.Submit(context.Background(), sampleWraps()))

	fake.err = errors.New("redis down")
	require.ErrorContains(t, submit.Asynq{Client: fake}.Submit(context.Background(), sampleWraps()), "redis down")
}

type fakeWriter struct {
	msgs []kafka.Message
	err  error
}

func (f *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if f.err != nil {
		return f.err
	}
	f.msgs = append(f.msgs, msgs...)
	return nil
}

func TestKafkaSubmitterKeysBySession(t *testing.T) {
	w := &fakeWriter{}
	ctx := obs.WithSessionID(context.Background(), "sess-9")
	require.NoError(t, submit.Kafka{Writer: w}.Submit(ctx, sampleWraps()))
	require.Len(t, w.msgs, 1)
	require.Equal(t, "sess-9", string(w.msgs[0].Key))

	ticket, err := submit.DecodeTicket(w.msgs[0].Value)
	require.NoError(t, err)
	require.Equal(t, ticket.ID, string(w.msgs[0].Headers[0].Value))
}

func TestKafkaSubmitterTripsBreaker(t *testing.T) {
	w := &fakeWriter{err: errors.New("broker unreachable")}
	breaker := resilience.NewBreaker(1, 0.5, 0)
	k := submit.Kafka{Writer: w, Breaker: breaker}
	require.Error(t, k.Submit(context.Background(), sampleWraps()))
	require.ErrorIs(t, k.Submit(context.Background(), sampleWraps()), resilience.ErrOpenCircuit)
}

type countingSubmitter struct {
	tickets []string
	err     error
}

func (c *countingSubmitter) Submit(ctx context.Context, wraps []order.ConfirmedWrap) error {
	c.tickets = append(c.tickets, submit.TicketFor(ctx, wraps).ID)
	return c.err
}

func TestMultiSharesTicketAndJoinsErrors(t *testing.T) {
	a := &countingSubmitter{}
	b := &countingSubmitter{err: errors.New("offline")}
	c := &countingSubmitter{}
	err := submit.Multi{{Name: "a", Submitter: a}, {Name: "b", Submitter: b}, {Name: "c", Submitter: c}}.Submit(context.Background(), sampleWraps())
	require.ErrorContains(t, err, "b: offline")
	require.Len(t, c.tickets, 1)
	require.Equal(t, a.tickets[0], b.tickets[0])
	require.Equal(t, a.tickets[0], c.tickets[0])
}
