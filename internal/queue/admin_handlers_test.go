package queue_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/fuua/internal/queue"
)

func TestDLQReplay(t *testing.T) {
	client := newClient(t)
	store := queue.NewRedisStore(client, "adm")
	handler := &queue.AdminHandler{
		Store:             store,
		Queue:             queue.Enqueuer{R: client, Prefix: "adm", DedupTTL: time.Minute, MaxAttempts: 5},
		PageSize:          10,
		VisibilityTimeout: 60 * time.Second,
	}
	router := chi.NewRouter()
	router.Route("/admin/queue", handler.Routes)

	raw, err := json.Marshal(map[string]any{
		"kind":         "kitchen-ticket",
		"key":          "dlq1",
		"payload":      []byte(`{"id":"o1"}`),
		"attempt":      3,
		"max_attempts": 3,
		"available_at": time.Now().UnixNano(),
	})
	require.NoError(t, err)
	id, err := store.InsertQueueDlq(context.Background(), queue.DLQEntry{
		Kind:           "kitchen-ticket",
		IdempotencyKey: "dlq1",
		Payload:        raw,
		Attempts:       3,
	})
	require.NoError(t, err)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/admin/queue/dlq?kind=kitchen-ticket", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	var list struct {
		Data []struct {
			ID      string          `json:"id"`
			Payload json.RawMessage `json:"payload"`
		} `json:"data"`
		Total int `json:"total"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &list))
	require.Equal(t, 1, list.Total)
	require.JSONEq(t, `{"id":"o1"}`, string(list.Data[0].Payload))

	body := bytes.NewBufferString(`{"ids":["` + id.String() + `","nope"]}`)
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/admin/queue/dlq/replay", body))
	require.Equal(t, http.StatusOK, rr.Code)

	var resp struct {
		Replayed []string          `json:"replayed"`
		Failed   map[string]string `json:"failed"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	require.Contains(t, resp.Replayed, id.String())
	require.Equal(t, "invalid uuid", resp.Failed["nope"])

	depth, err := client.ZCard(context.Background(), "adm:queue:kitchen-ticket").Result()
	require.NoError(t, err)
	require.EqualValues(t, 1, depth)

	_, err = store.GetQueueDlq(context.Background(), id)
	require.ErrorIs(t, err, queue.ErrDLQEntryNotFound)

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/admin/queue/stats?kind=kitchen-ticket", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	require.Contains(t, rr.Body.String(), `"ready":1`)
}

func TestDLQReplayRequiresSelector(t *testing.T) {
	client := newClient(t)
	handler := &queue.AdminHandler{Store: queue.NewRedisStore(client, "x"), Queue: queue.Enqueuer{R: client, Prefix: "x"}}
	rr := httptest.NewRecorder()
	handler.ReplayDLQ(rr, httptest.NewRequest(http.MethodPost, "/", bytes.NewBufferString(`{}`)))
	require.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestStatsDefaultKind(t *testing.T) {
	client := newClient(t)
	enq := queue.Enqueuer{R: client, Prefix: "st", DedupTTL: time.Minute}
	require.NoError(t, enq.Enqueue(context.Background(), queue.Task{Kind: "kitchen-ticket", Payload: []byte(`{}`), IdempotencyKey: "t1"}))

	handler := &queue.AdminHandler{Store: queue.NewRedisStore(client, "st"), Queue: enq}
	rr := httptest.NewRecorder()
	handler.Stats(rr, httptest.NewRequest(http.MethodGet, "/stats", nil))
	require.Equal(t, http.StatusBadRequest, rr.Code)

	handler.DefaultKind = "kitchen-ticket"
	rr = httptest.NewRecorder()
	handler.Stats(rr, httptest.NewRequest(http.MethodGet, "/stats", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	var stats struct {
		Kind       string `json:"kind"`
		Ready      int64  `json:"ready"`
		Processing int64  `json:"processing"`
		DLQ        int64  `json:"dlq"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &stats))
	require.Equal(t, "kitchen-ticket", stats.Kind)
	require.EqualValues(t, 1, stats.Ready)
	require.Zero(t, stats.Processing)
	require.Zero(t, stats.DLQ)
}
