// Package app assembles the services shared by the fuua binaries.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	validator "github.com/go-playground/validator/v10"
	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/extra/redisotel/v9"
	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"

	"github.com/noah-isme/fuua/internal/config"
	"github.com/noah-isme/fuua/internal/events"
	"github.com/noah-isme/fuua/internal/health"
	"github.com/noah-isme/fuua/internal/menu"
	"github.com/noah-isme/fuua/internal/obs"
	"github.com/noah-isme/fuua/internal/order"
	"github.com/noah-isme/fuua/internal/queue"
	"github.com/noah-isme/fuua/internal/ratelimit"
	"github.com/noah-isme/fuua/internal/resilience"
	"github.com/noah-isme/fuua/internal/session"
	"github.com/noah-isme/fuua/internal/submit"
)

const redisPingTimeout = 5 * time.Second

// Dependencies enumerates the services shared by the api and worker binaries.
type Dependencies struct {
	Config      *config.Config
	Logger      zerolog.Logger
	Redis       *redis.Client
	Validator   *validator.Validate
	Limiter     ratelimit.Limiter
	TaskClient  *asynq.Client
	KafkaWriter *kafka.Writer
	Menu        *menu.Menu
	Journal     *events.Journal
	Bus         *events.Bus
	Submitter   order.Submitter
	Sessions    *session.Registry

	closers []func() error
}

// Build connects backing services and assembles the ordering stack. Order
// confirmations from the log submitter are written to out.
func Build(ctx context.Context, cfg *config.Config, logger zerolog.Logger, out io.Writer) (*Dependencies, error) {
	if cfg == nil {
		return nil, errors.New("app: config required")
	}
	if out == nil {
		out = os.Stdout
	}
	d := &Dependencies{
		Config:    cfg,
		Logger:    logger,
		Validator: validator.New(validator.WithRequiredStructEnabled()),
	}

	m, err := LoadMenu(cfg.MenuFile)
	if err != nil {
		return nil, err
	}
	d.Menu = m

	rdb, err := NewRedis(ctx, cfg.RedisURL, logger, cfg.Obs.EnablePrometheus)
	if err != nil {
		return nil, err
	}
	if rdb != nil {
		d.Redis = rdb
		d.closers = append(d.closers, rdb.Close)
	}

	if d.Limiter, err = NewLimiter(cfg, rdb); err != nil {
		return nil, errors.Join(err, d.Close())
	}

	if d.Submitter, err = d.buildSubmitter(out); err != nil {
		return nil, errors.Join(err, d.Close())
	}

	d.Journal = &events.Journal{Size: events.DefaultJournalSize}
	d.Bus = &events.Bus{
		Store:     d.Journal,
		Notifiers: []events.Notifier{logNotifier(&d.Logger), d.Journal},
	}

	d.Sessions = session.NewRegistry(d.Menu, d.Submitter, cfg.SessionIdleTTL, cfg.SessionMax)
	d.Sessions.Events = d.Bus
	d.Sessions.Logger = &d.Logger
	return d, nil
}

// LoadMenu reads the menu file when one is configured, otherwise the built-in menu.
func LoadMenu(path string) (*menu.Menu, error) {
	if path == "" {
		return menu.Default(), nil
	}
	m, err := menu.LoadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load menu %s: %w", path, err)
	}
	return m, nil
}

// NewRedis parses url and returns an instrumented client. An empty url yields nil.
func NewRedis(ctx context.Context, url string, logger zerolog.Logger, metrics bool) (*redis.Client, error) {
	if url == "" {
		return nil, nil
	}
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := redisotel.InstrumentTracing(client); err != nil {
		logger.Error().Err(err).Msg("instrument redis tracing")
	}
	if metrics {
		if err := redisotel.InstrumentMetrics(client); err != nil {
			logger.Error().Err(err).Msg("instrument redis metrics")
		}
	}
	pingCtx, cancel := context.WithTimeout(ctx, redisPingTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

// NewLimiter picks the rate limiter for RATE_LIMIT_STRATEGY.
func NewLimiter(cfg *config.Config, rdb *redis.Client) (ratelimit.Limiter, error) {
	switch cfg.RateLimitStrategy {
	case config.RateLimitSliding:
		if rdb == nil {
			return nil, errors.New("app: sliding rate limiter needs redis")
		}
		return ratelimit.SlidingRedis{Client: rdb, Prefix: "fuua:rl:"}, nil
	default:
		if rdb == nil {
			return ratelimit.NewMemory("fuua:rl"), nil
		}
		return ratelimit.NewUluleRedis(rdb, "fuua:rl")
	}
}

// RegisterMetrics registers every prometheus collector the binaries expose.
func RegisterMetrics(namespace string, reg prometheus.Registerer) {
	obs.MustRegisterDomainMetrics(namespace, reg)
	queue.MustRegisterMetrics(namespace, reg)
	resilience.MustRegisterMetrics(namespace, reg)
}

// Probes lists readiness checks for the configured backends.
func (d *Dependencies) Probes() []health.Probe {
	var probes []health.Probe
	if d.Redis != nil {
		probes = append(probes, health.RedisProbe(d.Redis, 300*time.Millisecond))
	}
	if d.Config != nil && d.Config.UsesSubmitter(config.SubmitterKafka) {
		probes = append(probes, health.KafkaProbe(d.Config.KafkaBrokers, 500*time.Millisecond))
	}
	return probes
}

// Close releases connections in reverse order of creation.
func (d *Dependencies) Close() error {
	var errs []error
	for i := len(d.closers) - 1; i >= 0; i-- {
		if err := d.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	d.closers = nil
	return errors.Join(errs...)
}

func (d *Dependencies) buildSubmitter(out io.Writer) (order.Submitter, error) {
	cfg := d.Config
	var named submit.Multi
	for _, name := range cfg.OrderSubmitters {
		s, err := d.newSubmitter(name, out)
		if err != nil {
			return nil, err
		}
		named = append(named, submit.Named{Name: name, Submitter: s})
	}
	switch len(named) {
	case 0:
		return submit.Log{Out: out, Logger: &d.Logger}, nil
	case 1:
		return named[0].Submitter, nil
	default:
		return named, nil
	}
}

func (d *Dependencies) newSubmitter(name string, out io.Writer) (order.Submitter, error) {
	cfg := d.Config
	switch name {
	case config.SubmitterLog:
		return submit.Log{Out: out, Logger: &d.Logger}, nil
	case config.SubmitterWebhook:
		return submit.Webhook{
			URL:    cfg.OrderWebhookURL,
			Secret: cfg.OrderWebhookSecret,
			Client: resilience.HTTPClient{
				Client:      submit.NewHTTPClient(cfg.OrderWebhookTimeout),
				Breaker:     d.newBreaker("order-webhook"),
				BaseBackoff: cfg.RetryBase,
				MaxAttempts: cfg.RetryMaxAttempts,
				Jitter:      cfg.RetryJitterPercent,
				Timeout:     cfg.OutboundTimeout,
				Target:      "order-webhook",
				Logger:      &d.Logger,
			},
			UserAgent: "fuua/" + cfg.Version,
			Logger:    &d.Logger,
		}, nil
	case config.SubmitterQueue:
		if d.Redis == nil {
			return nil, errors.New("app: queue submitter needs redis")
		}
		return submit.Queue{
			Enqueuer: queue.Enqueuer{
				R:           d.Redis,
				Prefix:      cfg.QueuePrefix,
				DedupTTL:    cfg.IdempotencyTTL,
				MaxAttempts: cfg.QueueMaxAttempts,
			},
			MaxAttempts: cfg.QueueMaxAttempts,
		}, nil
	case config.SubmitterAsynq:
		if d.TaskClient == nil {
			opt, err := asynq.ParseRedisURI(cfg.RedisURL)
			if err != nil {
				return nil, fmt.Errorf("parse asynq redis uri: %w", err)
			}
			d.TaskClient = asynq.NewClient(opt)
			d.closers = append(d.closers, d.TaskClient.Close)
		}
		return submit.Asynq{Client: d.TaskClient, Queue: submit.AsynqQueueName, MaxRetry: cfg.QueueMaxAttempts}, nil
	case config.SubmitterKafka:
		if d.KafkaWriter == nil {
			d.KafkaWriter = submit.NewKafkaWriter(cfg.KafkaBrokers, cfg.KafkaOrderTopic)
			d.closers = append(d.closers, d.KafkaWriter.Close)
		}
		return submit.Kafka{Writer: d.KafkaWriter, Breaker: d.newBreaker("kafka")}, nil
	default:
		return nil, fmt.Errorf("app: unknown submitter %q", name)
	}
}

func (d *Dependencies) newBreaker(target string) *resilience.Breaker {
	cfg := d.Config
	return resilience.NewBreaker(cfg.CircuitMinRequests, cfg.CircuitFailureRate, cfg.CircuitOpenFor).
		WithTarget(target).
		WithLogger(d.Logger)
}

func logNotifier(logger *zerolog.Logger) events.Notifier {
	return events.NotifierFunc(func(_ context.Context, ev events.Event) error {
		logger.Debug().
			Str("topic", ev.Topic).
			Str("session_id", ev.AggregateID).
			Str("event_id", ev.ID).
			Msg("event emitted")
		return nil
	})
}
