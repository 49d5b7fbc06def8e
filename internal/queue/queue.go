// Package queue is a small Redis-backed delayed job queue: tasks sit in a
// sorted set scored by their due time, in-flight tasks are leased in a
// processing set, and tasks that exhaust their attempts land in a DLQ store.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/noah-isme/fuua/internal/resilience"
)

var nopLogger = zerolog.Nop()

// Task represents a job to be processed asynchronously.
type Task struct {
	Kind           string
	Payload        []byte
	IdempotencyKey string
	MaxAttempts    int
	Delay          time.Duration
	// Attempt is the 1-based delivery count seen by handlers.
	Attempt int
}

// Enqueuer publishes tasks to Redis backed queues.
type Enqueuer struct {
	R           *redis.Client
	Prefix      string
	DedupTTL    time.Duration
	MaxAttempts int
}

// Enqueue inserts the task into the queue. If an idempotency key is supplied the
// task is only enqueued once within the configured deduplication window.
func (e Enqueuer) Enqueue(ctx context.Context, t Task) error {
	if e.R == nil {
		return errors.New("queue: redis client not configured")
	}
	kind := sanitizeKind(t.Kind)
	if kind == "" {
		return fmt.Errorf("queue: invalid task kind %q", t.Kind)
	}
	msg := taskMessage{
		Kind:        kind,
		Key:         t.IdempotencyKey,
		Payload:     t.Payload,
		Attempt:     t.Attempt,
		MaxAttempts: t.MaxAttempts,
		AvailableAt: time.Now().Add(t.Delay).UnixNano(),
	}
	if msg.MaxAttempts <= 0 {
		msg.MaxAttempts = e.MaxAttempts
	}
	if msg.MaxAttempts <= 0 {
		msg.MaxAttempts = 10
	}

	if msg.Key != "" {
		ttl := e.DedupTTL
		if ttl <= 0 {
			ttl = 24 * time.Hour
		}
		ok, err := e.R.SetNX(ctx, keys(e.Prefix).dedup(kind, msg.Key), "1", ttl).Result()
		if err != nil {
			return fmt.Errorf("queue: dedup: %w", err)
		}
		if !ok {
			return nil
		}
	}

	raw, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	if err := e.R.ZAdd(ctx, keys(e.Prefix).queue(kind), redis.Z{Score: float64(msg.AvailableAt), Member: raw}).Err(); err != nil {
		return fmt.Errorf("queue: enqueue: %w", err)
	}
	observeDepth(ctx, e.R, e.Prefix, kind)
	return nil
}

// Worker consumes tasks for a specific kind.
type Worker struct {
	R                 *redis.Client
	Prefix            string
	Kind              string
	Concurrency       int
	VisibilityTimeout time.Duration
	// SoftDeadline bounds a single handler call. Defaults to VisibilityTimeout.
	SoftDeadline time.Duration
	Handler      func(context.Context, Task) error
	RetryBase    time.Duration
	RetryJitter  float64
	Store        Store
	Logger       *zerolog.Logger
	PollInterval time.Duration
}

// Run processes tasks until the context is cancelled. Leases that outlive the
// visibility timeout are put back on the queue.
func (w Worker) Run(ctx context.Context) error {
	if w.R == nil {
		return errors.New("queue: worker redis client not configured")
	}
	if w.Handler == nil {
		return errors.New("queue: worker handler not configured")
	}
	kind := sanitizeKind(w.Kind)
	if kind == "" {
		return fmt.Errorf("queue: invalid worker kind %q", w.Kind)
	}
	concurrency := w.Concurrency
	if concurrency <= 0 {
		concurrency = 1
	}
	visibility := w.VisibilityTimeout
	if visibility <= 0 {
		visibility = 30 * time.Second
	}
	deadline := w.SoftDeadline
	if deadline <= 0 || deadline > visibility {
		deadline = visibility
	}
	poll := w.PollInterval
	if poll <= 0 {
		poll = 100 * time.Millisecond
	}
	k := keys(w.Prefix)
	logger := w.logger().With().Str("kind", kind).Logger()

	sem := make(chan struct{}, concurrency)
	var wg sync.WaitGroup
	defer wg.Wait()

	requeueTicker := time.NewTicker(visibility / 2)
	defer requeueTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-requeueTicker.C:
			if err := w.requeueExpired(ctx, k.processing(kind), k.queue(kind)); err != nil && ctx.Err() == nil {
				logger.Error().Err(err).Msg("queue_requeue_failed")
			}
			continue
		default:
		}

		msg, raw, ok, err := w.lease(ctx, kind, visibility)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		if !ok {
			sleep(ctx, poll)
			continue
		}

		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
			return nil
		}
		wg.Add(1)
		go func(raw string, m taskMessage) {
			defer func() { <-sem }()
			defer wg.Done()
			jobCtx, cancel := context.WithTimeout(ctx, deadline)
			defer cancel()
			jobCtx = logger.WithContext(jobCtx)
			err := w.Handler(jobCtx, Task{Kind: kind, Payload: m.Payload, IdempotencyKey: m.Key, MaxAttempts: m.MaxAttempts, Attempt: m.Attempt})
			// the lease bookkeeping must survive a cancelled job context
			bg := context.WithoutCancel(ctx)
			if err != nil {
				w.handleFailure(bg, &logger, raw, m, err)
				return
			}
			w.ack(bg, raw, m)
		}(raw, msg)
	}
}

// lease pops the earliest due task and records it in the processing set.
func (w Worker) lease(ctx context.Context, kind string, visibility time.Duration) (taskMessage, string, bool, error) {
	k := keys(w.Prefix)
	res, err := w.R.ZPopMin(ctx, k.queue(kind), 1).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return taskMessage{}, "", false, nil
		}
		return taskMessage{}, "", false, err
	}
	if len(res) == 0 {
		return taskMessage{}, "", false, nil
	}
	member, ok := res[0].Member.(string)
	if !ok {
		return taskMessage{}, "", false, nil
	}
	msg, err := decodeMessage(member)
	if err != nil {
		w.logger().Error().Err(err).Str("kind", kind).Msg("queue_drop_undecodable")
		return taskMessage{}, "", false, nil
	}
	if msg.AvailableAt > time.Now().UnixNano() {
		// not due yet
		if err := w.R.ZAdd(ctx, k.queue(kind), redis.Z{Score: float64(msg.AvailableAt), Member: member}).Err(); err != nil {
			return taskMessage{}, "", false, err
		}
		return taskMessage{}, "", false, nil
	}

	msg.Attempt++
	rawBytes, err := json.Marshal(msg)
	if err != nil {
		return taskMessage{}, "", false, err
	}
	raw := string(rawBytes)
	leaseUntil := time.Now().Add(visibility).UnixNano()
	if err := w.R.ZAdd(ctx, k.processing(kind), redis.Z{Score: float64(leaseUntil), Member: raw}).Err(); err != nil {
		return taskMessage{}, "", false, err
	}
	return msg, raw, true, nil
}

func (w Worker) handleFailure(ctx context.Context, logger *zerolog.Logger, raw string, msg taskMessage, cause error) {
	k := keys(w.Prefix)
	removed, _ := w.R.ZRem(ctx, k.processing(msg.Kind), raw).Result()
	if removed == 0 {
		// lease expired and the task was already requeued
		return
	}
	if msg.MaxAttempts > 0 && msg.Attempt >= msg.MaxAttempts {
		w.deadLetter(ctx, logger, msg, cause)
		return
	}
	base := w.RetryBase
	if base <= 0 {
		base = 200 * time.Millisecond
	}
	delay := resilience.Backoff(base, msg.Attempt, w.RetryJitter)
	msg.AvailableAt = time.Now().Add(delay).UnixNano()
	rawBytes, err := json.Marshal(msg)
	if err != nil {
		return
	}
	_ = w.R.ZAdd(ctx, k.queue(msg.Kind), redis.Z{Score: float64(msg.AvailableAt), Member: string(rawBytes)}).Err()
	observeProcessed(msg.Kind, "retry")
	logger.Warn().Err(cause).Int("attempt", msg.Attempt).Dur("backoff", delay).Msg("queue_task_retry")
}

func (w Worker) deadLetter(ctx context.Context, logger *zerolog.Logger, msg taskMessage, cause error) {
	rawBytes, err := json.Marshal(msg)
	if err != nil {
		return
	}
	lastErr := cause.Error()
	entry := DLQEntry{
		Kind:           msg.Kind,
		IdempotencyKey: msg.Key,
		Payload:        rawBytes,
		Attempts:       msg.Attempt,
		LastError:      &lastErr,
		CreatedAt:      time.Now().UTC(),
	}
	store := w.Store
	if store == nil {
		store = NewRedisStore(w.R, w.Prefix)
	}
	if _, err := store.InsertQueueDlq(ctx, entry); err != nil {
		logger.Error().Err(err).Msg("queue_dlq_insert_failed")
		return
	}
	if msg.Key != "" {
		_ = w.R.Del(ctx, keys(w.Prefix).dedup(msg.Kind, msg.Key)).Err()
	}
	observeProcessed(msg.Kind, "dead")
	observeDLQ(ctx, store, msg.Kind)
	logger.Error().Err(cause).Int("attempts", msg.Attempt).Str("idempotency_key", msg.Key).Msg("queue_task_dead_lettered")
}

func (w Worker) ack(ctx context.Context, raw string, msg taskMessage) {
	k := keys(w.Prefix)
	_ = w.R.ZRem(ctx, k.processing(msg.Kind), raw).Err()
	if msg.Key != "" {
		_ = w.R.Del(ctx, k.dedup(msg.Kind, msg.Key)).Err()
	}
	observeProcessed(msg.Kind, "ok")
	observeDepth(ctx, w.R, w.Prefix, msg.Kind)
}

func (w Worker) requeueExpired(ctx context.Context, processingKey, queueKey string) error {
	now := float64(time.Now().UnixNano())
	due, err := w.R.ZRangeByScore(ctx, processingKey, &redis.ZRangeBy{Min: "-inf", Max: fmt.Sprintf("%f", now)}).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return err
	}
	for _, raw := range due {
		msg, err := decodeMessage(raw)
		if err != nil {
			continue
		}
		removed, err := w.R.ZRem(ctx, processingKey, raw).Result()
		if err != nil || removed == 0 {
			continue
		}
		msg.AvailableAt = time.Now().UnixNano()
		encoded, err := json.Marshal(msg)
		if err != nil {
			continue
		}
		_ = w.R.ZAdd(ctx, queueKey, redis.Z{Score: float64(msg.AvailableAt), Member: encoded}).Err()
		observeProcessed(msg.Kind, "expired")
	}
	return nil
}

func (w Worker) logger() *zerolog.Logger {
	if w.Logger != nil {
		return w.Logger
	}
	return &nopLogger
}

func sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

// keys builds the Redis key layout for a prefix.
type keys string

func (k keys) base() string {
	if k == "" {
		return "queue"
	}
	return string(k)
}

func (k keys) queue(kind string) string      { return k.base() + ":queue:" + kind }
func (k keys) processing(kind string) string { return k.base() + ":" + kind + ":processing" }
func (k keys) dedup(kind, key string) string { return k.base() + ":dedup:" + kind + ":" + key }
func (k keys) dlqIndex(kind string) string   { return k.base() + ":" + kind + ":dlq" }
func (k keys) dlqEntry(id string) string     { return k.base() + ":dlq:entry:" + id }
func (k keys) dlqKinds() string              { return k.base() + ":dlq:kinds" }

func sanitizeKind(kind string) string {
	if kind == "" {
		return ""
	}
	for i := 0; i < len(kind); i++ {
		c := kind[i]
		switch {
		case c >= 'a' && c <= 'z', c >= '0' && c <= '9', c == '-', c == '_', c == '.':
		default:
			return ""
		}
	}
	return kind
}

func decodeMessage(raw string) (taskMessage, error) {
	var msg taskMessage
	if err := json.Unmarshal([]byte(raw), &msg); err != nil {
		return taskMessage{}, err
	}
	return msg, nil
}

type taskMessage struct {
	Kind        string `json:"kind"`
	Key         string `json:"key,omitempty"`
	Payload     []byte `json:"payload"`
	Attempt     int    `json:"attempt"`
	MaxAttempts int    `json:"max_attempts"`
	AvailableAt int64  `json:"available_at"`
}
