package health_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/fuua/internal/health"
)

func stubProbe(name string, err error) health.Probe {
	return health.Probe{Name: name, Check: func(context.Context) error { return err }}
}

func readyStatus(t *testing.T, h health.Handler) (int, map[string]string) {
	t.Helper()
	rr := httptest.NewRecorder()
	h.Ready(rr, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	var status map[string]string
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &status))
	return rr.Code, status
}

func TestLive(t *testing.T) {
	rr := httptest.NewRecorder()
	health.Handler{}.Live(rr, httptest.NewRequest(http.MethodGet, "/health/live", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, "ok", rr.Body.String())
}

func TestReadySuccess(t *testing.T) {
	code, status := readyStatus(t, health.Handler{Probes: []health.Probe{stubProbe("menu", nil)}})
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, "ok", status["menu"])
}

func TestReadyFailure(t *testing.T) {
	code, status := readyStatus(t, health.Handler{Probes: []health.Probe{
		stubProbe("menu", nil),
		stubProbe("redis", errors.New("redis down")),
	}})
	require.Equal(t, http.StatusServiceUnavailable, code)
	require.Equal(t, "redis down", status["redis"])
}

func TestProbeTimeout(t *testing.T) {
	slow := health.Probe{Name: "slow", Timeout: 10 * time.Millisecond, Check: func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}}
	code, status := readyStatus(t, health.Handler{Probes: []health.Probe{slow}})
	require.Equal(t, http.StatusServiceUnavailable, code)
	require.Equal(t, context.DeadlineExceeded.Error(), status["slow"])
}

func TestRedisProbe(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	code, _ := readyStatus(t, health.Handler{Probes: []health.Probe{health.RedisProbe(client, time.Second)}})
	require.Equal(t, http.StatusOK, code)

	mr.Close()
	code, status := readyStatus(t, health.Handler{Probes: []health.Probe{health.RedisProbe(client, time.Second)}})
	require.Equal(t, http.StatusServiceUnavailable, code)
	require.NotEqual(t, "ok", status["redis"])
}

func TestKafkaProbeWithoutBrokers(t *testing.T) {
	code, status := readyStatus(t, health.Handler{Probes: []health.Probe{health.KafkaProbe(nil, 0)}})
	require.Equal(t, http.StatusServiceUnavailable, code)
	require.Equal(t, "no kafka brokers configured", status["kafka"])
}
