package ratelimit

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	limiter "github.com/ulule/limiter/v3"
	"github.com/ulule/limiter/v3/drivers/store/memory"
	limiterredis "github.com/ulule/limiter/v3/drivers/store/redis"
)

// Ulule adapts a github.com/ulule/limiter store to the Limiter interface. It
// counts fixed windows, which is enough for a single API process without Redis.
type Ulule struct {
	Store limiter.Store
}

// NewMemory returns a limiter keeping counters in process memory.
func NewMemory(prefix string) Ulule {
	return Ulule{Store: memory.NewStoreWithOptions(limiter.StoreOptions{Prefix: prefix, CleanUpInterval: time.Minute})}
}

// NewUluleRedis returns a fixed-window limiter sharing counters through Redis.
func NewUluleRedis(client *redis.Client, prefix string) (Ulule, error) {
	store, err := limiterredis.NewStoreWithOptions(client, limiter.StoreOptions{Prefix: prefix})
	if err != nil {
		return Ulule{}, err
	}
	return Ulule{Store: store}, nil
}

// Allow implements Limiter.
func (u Ulule) Allow(ctx context.Context, key string, window time.Duration, max int) (Decision, error) {
	if u.Store == nil || max <= 0 || window <= 0 {
		return Decision{Allowed: true, Remaining: max, ResetAt: time.Now().Add(window)}, nil
	}
	l := limiter.New(u.Store, limiter.Rate{Period: window, Limit: int64(max)})
	res, err := l.Get(ctx, key)
	if err != nil {
		return Decision{ResetAt: time.Now().Add(window)}, err
	}
	return Decision{
		Allowed:   !res.Reached,
		Remaining: int(res.Remaining),
		ResetAt:   time.Unix(res.Reset, 0),
	}, nil
}
